package tracker

import (
	"errors"
	"fmt"
	"strings"

	"go.uber.org/multierr"

	"jobwatch/pkg/model"
)

// ErrInvalidGraph is matched by every graph validation failure.
var ErrInvalidGraph = errors.New("invalid job graph")

// InvalidGraphError lists every problem found in a job set.
type InvalidGraphError struct {
	Err error // multierr combination of the individual problems
}

func (e *InvalidGraphError) Error() string {
	return fmt.Sprintf("%v: %v", ErrInvalidGraph, e.Err)
}

func (e *InvalidGraphError) Is(target error) bool {
	return target == ErrInvalidGraph
}

func (e *InvalidGraphError) Unwrap() error {
	return e.Err
}

// Problems returns the individual validation failures.
func (e *InvalidGraphError) Problems() []error {
	return multierr.Errors(e.Err)
}

// CycleError names the jobs forming a dependency cycle.
type CycleError struct {
	Path []string
}

func (e *CycleError) Error() string {
	return "cycle detected: " + strings.Join(e.Path, " -> ")
}

// PollError marks a handle whose status could not be read this cycle.
type PollError struct {
	Handle model.JobHandle
	Err    error
}

func (e *PollError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("poll %s: no status returned", e.Handle)
	}
	return fmt.Sprintf("poll %s: %v", e.Handle, e.Err)
}

func (e *PollError) Unwrap() error {
	return e.Err
}
