// Package cluster is the backend that queues jobs in the Store for the
// jobwatch scheduler and worker agents to run.
package cluster

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"jobwatch/pkg/gateway"
	"jobwatch/pkg/model"
	"jobwatch/pkg/store"
)

type Option func(*Gateway)

// WithSession tags every stored job with the tracking session id.
func WithSession(id string) Option {
	return func(g *Gateway) { g.session = id }
}

func WithLogger(l *zap.Logger) Option {
	return func(g *Gateway) {
		if l != nil {
			g.logger = l
		}
	}
}

type Gateway struct {
	store   store.Store
	session string
	logger  *zap.Logger
	now     func() time.Time
}

var (
	_ gateway.Gateway    = (*Gateway)(nil)
	_ gateway.Terminator = (*Gateway)(nil)
)

func New(s store.Store, opts ...Option) *Gateway {
	g := &Gateway{store: s, logger: zap.NewNop(), now: time.Now}
	for _, opt := range opts {
		opt(g)
	}
	g.logger = g.logger.Named("cluster-gateway")
	return g
}

// Submit stores a Pending remote job. The handle is unique per attempt.
func (g *Gateway) Submit(ctx context.Context, spec model.JobSpec) (model.JobHandle, error) {
	if len(spec.Command) == 0 && spec.Image == "" {
		return "", gateway.Rejected(spec.Name, errors.New("job needs an image or a command"))
	}

	handle := model.JobHandle(fmt.Sprintf("%s-%s", spec.Name, uuid.NewString()[:8]))
	job := &model.RemoteJob{
		Handle:    handle,
		Session:   g.session,
		Name:      spec.Name,
		Image:     spec.Image,
		Command:   append([]string(nil), spec.Command...),
		Envs:      model.Env(spec.Parameters),
		ResReq:    spec.Resources,
		Timeout:   spec.Timeout,
		CreatedAt: g.now(),
		Status:    model.RemoteStatus{State: model.RemotePending},
	}
	if err := g.store.CreateJob(ctx, job); err != nil {
		return "", gateway.Rejected(spec.Name, err)
	}
	g.logger.Debug("queued remote job", zap.String("job", spec.Name), zap.String("handle", string(handle)))
	return handle, nil
}

// Poll reads every handle in one batched store read.
func (g *Gateway) Poll(ctx context.Context, handles []model.JobHandle) (map[model.JobHandle]gateway.RemoteStatus, error) {
	jobs, err := g.store.GetJobs(ctx, handles)
	if err != nil {
		return nil, err
	}

	out := make(map[model.JobHandle]gateway.RemoteStatus, len(jobs))
	for h, job := range jobs {
		out[h] = remoteStatus(job)
	}
	return out, nil
}

// Terminate marks the job Cancelled; the worker running it stops the container.
func (g *Gateway) Terminate(ctx context.Context, handle model.JobHandle) error {
	job, err := g.store.GetJob(ctx, handle)
	if err != nil {
		return err
	}
	if job.Status.State.Final() {
		return nil
	}
	job.Status.State = model.RemoteCancelled
	job.Status.Error = "terminated by tracker"
	job.Status.EndTime = g.now()
	return g.store.UpdateJob(ctx, job)
}

func remoteStatus(job *model.RemoteJob) gateway.RemoteStatus {
	st := job.Status
	rs := gateway.RemoteStatus{Status: st.State.Status()}

	if st.State >= model.RemoteRunning {
		rs.StartedAt = gateway.TimePtr(st.StartTime)
	}
	if st.State.Final() {
		rs.EndedAt = gateway.TimePtr(st.EndTime)
	}

	switch st.State {
	case model.RemoteFailed:
		rs.Message = st.Error
		if rs.Message == "" {
			rs.Message = fmt.Sprintf("exit code %d", st.ExitCode)
		}
	case model.RemoteCancelled:
		rs.Message = "cancelled: " + st.Error
	case model.RemoteScheduled:
		rs.Message = "scheduled on " + st.NodeID
	}
	return rs
}
