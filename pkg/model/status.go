package model

import "fmt"

// Status is the lifecycle state of a tracked job.
// Within one attempt it only ever moves forward:
// Pending -> Submitted -> Running -> {Succeeded | Failed}.
// TimedOut and Cancelled are imposed by the tracker, never by a backend.
type Status int

const (
	StatusPending Status = iota
	StatusSubmitted
	StatusRunning
	StatusSucceeded
	StatusFailed
	StatusTimedOut
	StatusCancelled
)

var statusNames = map[Status]string{
	StatusPending:   "PENDING",
	StatusSubmitted: "SUBMITTED",
	StatusRunning:   "RUNNING",
	StatusSucceeded: "SUCCEEDED",
	StatusFailed:    "FAILED",
	StatusTimedOut:  "TIMED_OUT",
	StatusCancelled: "CANCELLED",
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("Status(%d)", int(s))
}

// IsTerminal reports whether no further transition can happen.
func (s Status) IsTerminal() bool {
	return s >= StatusSucceeded
}

// InFlight reports whether a remote handle is outstanding.
func (s Status) InFlight() bool {
	return s == StatusSubmitted || s == StatusRunning
}

// Advances reports whether moving from s to next is a forward step.
func (s Status) Advances(next Status) bool {
	if s.IsTerminal() {
		return false
	}
	return next > s
}

func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Status) UnmarshalText(text []byte) error {
	for k, v := range statusNames {
		if v == string(text) {
			*s = k
			return nil
		}
	}
	return fmt.Errorf("unknown status %q", string(text))
}
