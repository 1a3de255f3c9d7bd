// Package store persists cluster-backend jobs, worker nodes, job logs and
// session reports.
package store

import (
	"context"
	"errors"
	"time"

	"jobwatch/pkg/model"
)

// ErrNotFound is returned when a key does not exist.
var ErrNotFound = errors.New("not found")

// JobEventType is the kind of change seen on a remote job.
type JobEventType int

const (
	JobCreate JobEventType = iota
	JobUpdate
	JobDelete
)

// JobEvent is delivered by WatchJobs. The scheduler and worker agents act
// on these instead of polling the store.
type JobEvent struct {
	Type JobEventType
	Job  *model.RemoteJob
}

// Store is everything the cluster backend, scheduler, workers and report
// sinks need from storage.
type Store interface {
	// --- remote jobs ---

	CreateJob(ctx context.Context, job *model.RemoteJob) error
	GetJob(ctx context.Context, handle model.JobHandle) (*model.RemoteJob, error)
	// GetJobs reads many jobs in one round trip. Unknown handles are
	// absent from the result.
	GetJobs(ctx context.Context, handles []model.JobHandle) (map[model.JobHandle]*model.RemoteJob, error)
	UpdateJob(ctx context.Context, job *model.RemoteJob) error
	ListJobs(ctx context.Context) ([]*model.RemoteJob, error)
	// WatchJobs streams job changes until ctx is done, then closes the channel.
	WatchJobs(ctx context.Context) <-chan JobEvent

	SaveJobLog(ctx context.Context, handle model.JobHandle, logs string) error
	GetJobLog(ctx context.Context, handle model.JobHandle) (string, error)

	// --- nodes ---

	// RegisterNode stores node for ttl. Workers call it on every heartbeat.
	RegisterNode(ctx context.Context, node *model.Node, ttl time.Duration) error
	ListNodes(ctx context.Context) ([]*model.Node, error)

	// --- reports ---

	SaveReport(ctx context.Context, report *model.AggregateReport) error
	GetReport(ctx context.Context, session string) (*model.AggregateReport, error)
	ListReports(ctx context.Context) ([]*model.AggregateReport, error)

	Close() error
}
