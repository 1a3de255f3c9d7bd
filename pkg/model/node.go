package model

// NodeStatus is the health of a cluster worker.
type NodeStatus string

const (
	NodeReady   NodeStatus = "READY"
	NodeOffline NodeStatus = "OFFLINE" // heartbeat lease expired
)

// Node is a worker as seen by the cluster scheduler.
// Free capacity is TotalCap - Allocated.
type Node struct {
	ID      string `json:"id"`
	IP      string `json:"ip"`
	Version string `json:"version"`

	TotalCap  Resource `json:"total_cap"`
	Allocated Resource `json:"allocated"`

	Status        NodeStatus `json:"status"`
	LastHeartbeat int64      `json:"last_heartbeat"`
}

// Free returns the capacity not yet allocated on the node.
func (n *Node) Free() Resource {
	return n.TotalCap.Sub(n.Allocated)
}
