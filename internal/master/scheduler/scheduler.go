// Package scheduler places Pending cluster jobs onto worker nodes.
package scheduler

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"jobwatch/pkg/model"
	"jobwatch/pkg/store"
)

const DefaultResync = 5 * time.Second

// Scheduler binds jobs to nodes in three steps: filter, score, bind.
type Scheduler struct {
	store  store.Store
	logger *zap.Logger
	resync time.Duration

	mu sync.Mutex // one placement pass at a time
}

type Option func(*Scheduler)

func WithLogger(l *zap.Logger) Option {
	return func(s *Scheduler) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithResync sets how often Pending jobs are retried when no event arrives.
func WithResync(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.resync = d
		}
	}
}

func NewScheduler(s store.Store, opts ...Option) *Scheduler {
	sched := &Scheduler{store: s, logger: zap.NewNop(), resync: DefaultResync}
	for _, opt := range opts {
		opt(sched)
	}
	sched.logger = sched.logger.Named("scheduler")
	return sched
}

// Run reacts to new Pending jobs until ctx is done. Jobs that found no
// node are retried every resync period.
func (s *Scheduler) Run(ctx context.Context) {
	events := s.store.WatchJobs(ctx)
	ticker := time.NewTicker(s.resync)
	defer ticker.Stop()

	s.logger.Info("started, watching for new jobs")
	s.Schedule(ctx)

	for {
		select {
		case event, ok := <-events:
			if !ok {
				s.logger.Info("job watch closed")
				return
			}
			if event.Type != store.JobDelete && event.Job.Status.State == model.RemotePending {
				s.logger.Debug("detected pending job", zap.String("handle", string(event.Job.Handle)))
				s.Schedule(ctx)
			}
		case <-ticker.C:
			s.Schedule(ctx)
		case <-ctx.Done():
			s.logger.Info("stopped")
			return
		}
	}
}

// Schedule runs one placement pass over every Pending job, oldest first,
// and returns how many were bound.
func (s *Scheduler) Schedule(ctx context.Context) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	nodes, err := s.store.ListNodes(ctx)
	if err != nil {
		s.logger.Error("failed to list nodes", zap.Error(err))
		return 0
	}
	jobs, err := s.store.ListJobs(ctx)
	if err != nil {
		s.logger.Error("failed to list jobs", zap.Error(err))
		return 0
	}

	// Allocation is derived from jobs already placed, not from the
	// node's own report, so binds within this pass are accounted for.
	byID := make(map[string]*model.Node, len(nodes))
	for _, n := range nodes {
		n.Allocated = model.Resource{}
		byID[n.ID] = n
	}
	var pending []*model.RemoteJob
	for _, job := range jobs {
		switch job.Status.State {
		case model.RemotePending:
			pending = append(pending, job)
		case model.RemoteScheduled, model.RemoteRunning:
			if n, ok := byID[job.Status.NodeID]; ok {
				n.Allocated = n.Allocated.Add(job.ResReq)
			}
		}
	}
	sort.SliceStable(pending, func(i, j int) bool {
		return pending[i].CreatedAt.Before(pending[j].CreatedAt)
	})

	bound := 0
	for _, job := range pending {
		if s.scheduleOne(ctx, job, nodes) {
			bound++
		}
	}
	return bound
}

func (s *Scheduler) scheduleOne(ctx context.Context, job *model.RemoteJob, nodes []*model.Node) bool {
	candidates := s.filterNodes(job, nodes)
	if len(candidates) == 0 {
		s.logger.Debug("job pending: no suitable nodes", zap.String("handle", string(job.Handle)))
		return false
	}

	best := s.scoreNodes(job, candidates)
	if err := s.bind(ctx, job, best.ID); err != nil {
		s.logger.Error("failed to bind job",
			zap.String("handle", string(job.Handle)),
			zap.String("node", best.ID),
			zap.Error(err))
		return false
	}
	best.Allocated = best.Allocated.Add(job.ResReq)
	s.logger.Info("scheduled job", zap.String("handle", string(job.Handle)), zap.String("node", best.ID))
	return true
}

// bind persists the placement decision.
func (s *Scheduler) bind(ctx context.Context, job *model.RemoteJob, nodeID string) error {
	job.Status.State = model.RemoteScheduled
	job.Status.NodeID = nodeID
	return s.store.UpdateJob(ctx, job)
}
