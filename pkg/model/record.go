package model

import "time"

// JobRecord is the tracker's mutable view of one JobSpec.
// Attempts counts successful submissions; a spec the gateway rejected
// up front ends Failed with zero attempts.
type JobRecord struct {
	Spec        *JobSpec
	Handle      JobHandle
	Status      Status
	Attempts    int
	SubmittedAt time.Time // first successful submission
	StartedAt   time.Time // running observed for the current attempt
	EndedAt     time.Time
	Note        string
}

// NewJobRecord returns a Pending record for spec.
func NewJobRecord(spec *JobSpec) *JobRecord {
	return &JobRecord{Spec: spec, Status: StatusPending}
}

// Name is shorthand for r.Spec.Name.
func (r *JobRecord) Name() string {
	return r.Spec.Name
}

// Duration is the wall time from first submission to the end of the
// record. Records that were never submitted report zero.
func (r *JobRecord) Duration() time.Duration {
	if r.SubmittedAt.IsZero() || r.EndedAt.IsZero() || r.EndedAt.Before(r.SubmittedAt) {
		return 0
	}
	return r.EndedAt.Sub(r.SubmittedAt)
}

// Finish moves r to a terminal status. Handle keeps the last
// submission so its logs can still be looked up.
func (r *JobRecord) Finish(status Status, at time.Time, note string) {
	r.Status = status
	r.EndedAt = at
	if note != "" {
		r.Note = note
	}
}
