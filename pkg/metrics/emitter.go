// Package metrics receives aggregate reports at the end of a tracking
// session. Emitters are best-effort: the tracker logs their errors and
// carries on.
package metrics

import (
	"context"

	"go.uber.org/multierr"

	"jobwatch/pkg/model"
)

// Emitter is a sink for session reports.
type Emitter interface {
	Emit(ctx context.Context, report *model.AggregateReport) error
}

// EmitterFunc adapts a function to Emitter.
type EmitterFunc func(ctx context.Context, report *model.AggregateReport) error

func (f EmitterFunc) Emit(ctx context.Context, report *model.AggregateReport) error {
	return f(ctx, report)
}

// Nop discards reports.
type Nop struct{}

func (Nop) Emit(context.Context, *model.AggregateReport) error { return nil }

// Multi fans a report out to every emitter, even when some fail.
type Multi []Emitter

func (m Multi) Emit(ctx context.Context, report *model.AggregateReport) error {
	var errs error
	for _, e := range m {
		if e == nil {
			continue
		}
		errs = multierr.Append(errs, e.Emit(ctx, report))
	}
	return errs
}
