package model

import "time"

// RemoteState is the state of a job stored for the cluster backend.
type RemoteState int

const (
	RemotePending   RemoteState = iota // waiting for a node
	RemoteScheduled                    // bound to a node, not started
	RemoteRunning                      // running on its node
	RemoteSuccess                      // exited 0
	RemoteFailed                       // non-zero exit or executor error
	RemoteCancelled                    // terminated by the tracker
)

func (s RemoteState) String() string {
	switch s {
	case RemotePending:
		return "PENDING"
	case RemoteScheduled:
		return "SCHEDULED"
	case RemoteRunning:
		return "RUNNING"
	case RemoteSuccess:
		return "SUCCESS"
	case RemoteFailed:
		return "FAILED"
	case RemoteCancelled:
		return "CANCELLED"
	}
	return "UNKNOWN"
}

// Final reports whether the worker is done with the job.
func (s RemoteState) Final() bool {
	return s >= RemoteSuccess
}

// Status maps the remote state onto the tracker lifecycle.
func (s RemoteState) Status() Status {
	switch s {
	case RemoteRunning:
		return StatusRunning
	case RemoteSuccess:
		return StatusSucceeded
	case RemoteFailed, RemoteCancelled:
		return StatusFailed
	}
	return StatusSubmitted
}

// RemoteStatus is the scheduling/execution block of a RemoteJob.
type RemoteStatus struct {
	State     RemoteState `json:"state"`
	NodeID    string      `json:"node_id,omitempty"`
	ExitCode  int         `json:"exit_code"`
	Error     string      `json:"error,omitempty"`
	StartTime time.Time   `json:"start_time"`
	EndTime   time.Time   `json:"end_time"`
}

// RemoteJob is one submission of a JobSpec to the cluster backend.
// The scheduler fills NodeID, the worker agent fills the rest of Status.
type RemoteJob struct {
	Handle    JobHandle     `json:"handle"`
	Session   string        `json:"session,omitempty"`
	Name      string        `json:"name"`
	Image     string        `json:"image,omitempty"`
	Command   []string      `json:"command"`
	Envs      []string      `json:"envs"`
	ResReq    Resource      `json:"res_req"`
	Timeout   time.Duration `json:"timeout,omitempty"`
	CreatedAt time.Time     `json:"created_at"`

	Status RemoteStatus `json:"status"`
}
