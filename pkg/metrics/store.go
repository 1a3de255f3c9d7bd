package metrics

import (
	"context"

	"jobwatch/pkg/model"
)

// ReportSaver is the part of a store that keeps session reports.
type ReportSaver interface {
	SaveReport(ctx context.Context, report *model.AggregateReport) error
}

// StoreEmitter saves reports so `jobwatch report` and the HTTP API can
// read them back after the session ended.
type StoreEmitter struct {
	store ReportSaver
}

func NewStoreEmitter(s ReportSaver) *StoreEmitter {
	return &StoreEmitter{store: s}
}

func (e *StoreEmitter) Emit(ctx context.Context, r *model.AggregateReport) error {
	return e.store.SaveReport(ctx, r)
}
