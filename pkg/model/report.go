package model

import "time"

// Counts aggregates terminal outcomes of a session.
type Counts struct {
	Total     int `json:"total" yaml:"total"`
	Submitted int `json:"submitted" yaml:"submitted"`
	Succeeded int `json:"succeeded" yaml:"succeeded"`
	Failed    int `json:"failed" yaml:"failed"`
	TimedOut  int `json:"timed_out" yaml:"timedOut"`
	Cancelled int `json:"cancelled" yaml:"cancelled"`
}

// RecordSummary is the serialized form of one JobRecord.
type RecordSummary struct {
	Name        string        `json:"name" yaml:"name"`
	Status      Status        `json:"status" yaml:"status"`
	Attempts    int           `json:"attempts" yaml:"attempts"`
	Duration    time.Duration `json:"duration" yaml:"duration"`
	Handle      JobHandle     `json:"handle,omitempty" yaml:"handle,omitempty"`
	SubmittedAt *time.Time    `json:"submitted_at,omitempty" yaml:"submittedAt,omitempty"`
	StartedAt   *time.Time    `json:"started_at,omitempty" yaml:"startedAt,omitempty"`
	EndedAt     *time.Time    `json:"ended_at,omitempty" yaml:"endedAt,omitempty"`
	Note        string        `json:"note,omitempty" yaml:"note,omitempty"`
}

// AggregateReport is the read-only result of one tracking session.
type AggregateReport struct {
	Session   string          `json:"session" yaml:"session"`
	StartedAt time.Time       `json:"started_at" yaml:"startedAt"`
	EndedAt   time.Time       `json:"ended_at" yaml:"endedAt"`
	Duration  time.Duration   `json:"duration" yaml:"duration"`
	TimedOut  bool            `json:"timed_out" yaml:"timedOut"`
	Cancelled bool            `json:"cancelled" yaml:"cancelled"`
	Counts    Counts          `json:"counts" yaml:"counts"`
	Records   []RecordSummary `json:"records" yaml:"records"`
}

// Succeeded reports whether every job of the session succeeded.
func (r *AggregateReport) Succeeded() bool {
	return r.Counts.Succeeded == r.Counts.Total
}

// BuildReport summarises records in the order given. It has no side
// effects and returns equal reports for equal inputs.
func BuildReport(session string, records []*JobRecord, startedAt, endedAt time.Time) *AggregateReport {
	report := &AggregateReport{
		Session:   session,
		StartedAt: startedAt,
		EndedAt:   endedAt,
		Records:   make([]RecordSummary, 0, len(records)),
	}
	if endedAt.After(startedAt) {
		report.Duration = endedAt.Sub(startedAt)
	}

	for _, rec := range records {
		report.Counts.Total++
		if rec.Attempts > 0 {
			report.Counts.Submitted++
		}
		switch rec.Status {
		case StatusSucceeded:
			report.Counts.Succeeded++
		case StatusFailed:
			report.Counts.Failed++
		case StatusTimedOut:
			report.Counts.TimedOut++
			report.TimedOut = true
		case StatusCancelled:
			report.Counts.Cancelled++
			report.Cancelled = true
		}

		report.Records = append(report.Records, RecordSummary{
			Name:        rec.Name(),
			Status:      rec.Status,
			Attempts:    rec.Attempts,
			Duration:    rec.Duration(),
			Handle:      rec.Handle,
			SubmittedAt: timePtr(rec.SubmittedAt),
			StartedAt:   timePtr(rec.StartedAt),
			EndedAt:     timePtr(rec.EndedAt),
			Note:        rec.Note,
		})
	}
	return report
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
