package metrics

import (
	"context"

	"go.uber.org/zap"

	"jobwatch/pkg/model"
)

// LogEmitter writes a session summary line followed by one line per job.
type LogEmitter struct {
	logger *zap.Logger
}

func NewLogEmitter(logger *zap.Logger) *LogEmitter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogEmitter{logger: logger.Named("metrics")}
}

func (e *LogEmitter) Emit(_ context.Context, r *model.AggregateReport) error {
	log := e.logger.With(zap.String("session", r.Session))
	log.Info("session report",
		zap.Duration("duration", r.Duration),
		zap.Int("total", r.Counts.Total),
		zap.Int("submitted", r.Counts.Submitted),
		zap.Int("succeeded", r.Counts.Succeeded),
		zap.Int("failed", r.Counts.Failed),
		zap.Int("timed_out", r.Counts.TimedOut),
		zap.Int("cancelled", r.Counts.Cancelled),
		zap.Bool("session_timed_out", r.TimedOut),
		zap.Bool("session_cancelled", r.Cancelled))

	for _, rec := range r.Records {
		fields := []zap.Field{
			zap.String("job", rec.Name),
			zap.Stringer("status", rec.Status),
			zap.Int("attempts", rec.Attempts),
			zap.Duration("duration", rec.Duration),
		}
		if rec.Handle != "" {
			fields = append(fields, zap.String("handle", string(rec.Handle)))
		}
		if rec.Note != "" {
			fields = append(fields, zap.String("note", rec.Note))
		}
		log.Info("job report", fields...)
	}
	return nil
}
