// Package gateway defines the contract between the tracker and a remote
// job execution backend.
//
// A backend accepts a JobSpec and hands back an opaque JobHandle, then moves
// the job through its lifecycle on its own. The tracker only ever asks for
// the current status of a set of handles.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"

	"jobwatch/pkg/model"
)

// Gateway is implemented by every execution backend.
type Gateway interface {
	// Submit starts one execution of spec. Rejections must be returned
	// as (or wrap) *SubmissionError.
	Submit(ctx context.Context, spec model.JobSpec) (model.JobHandle, error)

	// Poll returns the current status of the given handles. It must not
	// change remote state. Handles absent from the result are treated as
	// unknown for this cycle.
	Poll(ctx context.Context, handles []model.JobHandle) (map[model.JobHandle]RemoteStatus, error)
}

// Terminator is implemented by backends that can stop a running execution.
type Terminator interface {
	Terminate(ctx context.Context, handle model.JobHandle) error
}

// RemoteStatus is what a backend reports for one handle.
type RemoteStatus struct {
	Status    model.Status
	StartedAt *time.Time
	EndedAt   *time.Time
	Message   string
}

// SubmissionError is returned when a backend rejects a spec.
type SubmissionError struct {
	Job string
	Err error
}

func (e *SubmissionError) Error() string {
	return fmt.Sprintf("submit %s: %v", e.Job, e.Err)
}

func (e *SubmissionError) Unwrap() error {
	return e.Err
}

// Rejected wraps err as a SubmissionError for job unless it already is one.
func Rejected(job string, err error) error {
	var se *SubmissionError
	if errors.As(err, &se) {
		return err
	}
	return &SubmissionError{Job: job, Err: err}
}

// TimePtr returns nil for the zero time.
func TimePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
