package model

import (
	"fmt"
	"time"
)

// JobHandle is the opaque id a gateway hands back for one submission.
type JobHandle string

// BackoffStrategy selects how the retry delay grows between attempts.
type BackoffStrategy string

const (
	BackoffFixed       BackoffStrategy = "fixed"
	BackoffExponential BackoffStrategy = "exponential"
)

// RetryPolicy controls resubmission after a remote failure.
type RetryPolicy struct {
	MaxAttempts int             `json:"max_attempts" yaml:"maxAttempts"`
	Backoff     time.Duration   `json:"backoff" yaml:"backoff"`
	Strategy    BackoffStrategy `json:"strategy,omitempty" yaml:"strategy,omitempty"`
	MaxBackoff  time.Duration   `json:"max_backoff,omitempty" yaml:"maxBackoff,omitempty"`
}

// Attempts returns the effective attempt budget, never less than one.
func (p RetryPolicy) Attempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

// Delay returns the minimum wait before the attempt that follows
// the given (1-based) failed attempt.
func (p RetryPolicy) Delay(failedAttempt int) time.Duration {
	if p.Backoff <= 0 {
		return 0
	}
	if p.Strategy != BackoffExponential || failedAttempt <= 1 {
		return p.capped(p.Backoff)
	}

	d := p.Backoff
	for i := 1; i < failedAttempt; i++ {
		d *= 2
		// overflow or cap reached
		if d <= 0 || (p.MaxBackoff > 0 && d >= p.MaxBackoff) {
			return p.capped(p.MaxBackoff)
		}
	}
	return p.capped(d)
}

func (p RetryPolicy) capped(d time.Duration) time.Duration {
	if p.MaxBackoff > 0 && d > p.MaxBackoff {
		return p.MaxBackoff
	}
	return d
}

// JobSpec is the immutable description of one unit of remote work.
// Name is the identity other specs refer to in DependsOn.
type JobSpec struct {
	Name       string            `json:"name" yaml:"name"`
	Image      string            `json:"image,omitempty" yaml:"image,omitempty"`
	Command    []string          `json:"command,omitempty" yaml:"command,omitempty"`
	Resources  Resource          `json:"resources" yaml:"resources"`
	Retry      RetryPolicy       `json:"retry" yaml:"retry"`
	Timeout    time.Duration     `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	DependsOn  []string          `json:"depends_on,omitempty" yaml:"dependsOn,omitempty"`
	Parameters map[string]string `json:"parameters,omitempty" yaml:"parameters,omitempty"`
}

// NewJobSpec copies the mutable parts of s so the caller can keep
// editing its own slices and maps.
func NewJobSpec(s JobSpec) JobSpec {
	out := s
	out.Command = append([]string(nil), s.Command...)
	out.DependsOn = append([]string(nil), s.DependsOn...)
	if s.Parameters != nil {
		out.Parameters = make(map[string]string, len(s.Parameters))
		for k, v := range s.Parameters {
			out.Parameters[k] = v
		}
	}
	return out
}

func (s JobSpec) String() string {
	return fmt.Sprintf("%s(%s)", s.Name, s.Image)
}
