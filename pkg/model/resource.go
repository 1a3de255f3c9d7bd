package model

// Resource is an opaque cpu/memory shape. MilliCPU is in thousandths of
// a core, Memory in bytes.
type Resource struct {
	MilliCPU int64 `json:"milli_cpu" yaml:"milliCPU"`
	Memory   int64 `json:"memory" yaml:"memory"`
}

// Fits reports whether r can be placed inside capacity.
func (r Resource) Fits(capacity Resource) bool {
	return r.MilliCPU <= capacity.MilliCPU && r.Memory <= capacity.Memory
}

// Add returns the element-wise sum.
func (r Resource) Add(other Resource) Resource {
	return Resource{MilliCPU: r.MilliCPU + other.MilliCPU, Memory: r.Memory + other.Memory}
}

// Sub returns the element-wise difference.
func (r Resource) Sub(other Resource) Resource {
	return Resource{MilliCPU: r.MilliCPU - other.MilliCPU, Memory: r.Memory - other.Memory}
}

func (r Resource) IsZero() bool {
	return r.MilliCPU == 0 && r.Memory == 0
}
