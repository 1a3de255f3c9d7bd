// Package worker runs cluster jobs bound to this node.
package worker

import (
	"context"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"jobwatch/pkg/model"
	"jobwatch/pkg/store"
)

const DefaultHeartbeat = 3 * time.Second

// Result is what an executor observed for one job.
type Result struct {
	Output   string
	ExitCode int
}

// Executor runs one job to completion. A non-zero exit is a Result, not an
// error; errors mean the job could not be run at all.
type Executor interface {
	Run(ctx context.Context, job *model.RemoteJob) (Result, error)
}

type Agent struct {
	ID string

	store     store.Store
	executor  Executor
	capacity  model.Resource
	address   string
	version   string
	heartbeat time.Duration
	logger    *zap.Logger

	mu      sync.Mutex
	running map[model.JobHandle]*execution
	wg      sync.WaitGroup
}

type execution struct {
	job    *model.RemoteJob
	cancel context.CancelFunc
}

type Option func(*Agent)

func WithID(id string) Option {
	return func(a *Agent) {
		if id != "" {
			a.ID = id
		}
	}
}

func WithCapacity(r model.Resource) Option {
	return func(a *Agent) { a.capacity = r }
}

func WithAddress(addr string) Option {
	return func(a *Agent) { a.address = addr }
}

func WithHeartbeat(d time.Duration) Option {
	return func(a *Agent) {
		if d > 0 {
			a.heartbeat = d
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(a *Agent) {
		if l != nil {
			a.logger = l
		}
	}
}

// NewAgent defaults its id to the hostname.
func NewAgent(s store.Store, exec Executor, opts ...Option) *Agent {
	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "worker-node-01"
	}

	a := &Agent{
		ID:        hostname,
		store:     s,
		executor:  exec,
		capacity:  model.Resource{MilliCPU: 4000, Memory: 8 << 30},
		address:   "127.0.0.1",
		version:   "v1",
		heartbeat: DefaultHeartbeat,
		logger:    zap.NewNop(),
		running:   make(map[model.JobHandle]*execution),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.logger = a.logger.Named("worker").With(zap.String("node", a.ID))
	return a
}

// Run heartbeats and executes jobs until ctx is done, then waits for
// running jobs to wind down.
func (a *Agent) Run(ctx context.Context) {
	var hb sync.WaitGroup
	hb.Add(1)
	go func() {
		defer hb.Done()
		a.startHeartbeat(ctx)
	}()

	a.logger.Info("waiting for jobs")
	a.watchJobs(ctx)

	a.wg.Wait()
	hb.Wait()
}

func (a *Agent) startHeartbeat(ctx context.Context) {
	ticker := time.NewTicker(a.heartbeat)
	defer ticker.Stop()

	a.register(ctx)
	for {
		select {
		case <-ticker.C:
			a.register(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (a *Agent) watchJobs(ctx context.Context) {
	events := a.store.WatchJobs(ctx)

	// pick up work bound before the watch started
	if jobs, err := a.store.ListJobs(ctx); err != nil {
		a.logger.Warn("failed to list jobs", zap.Error(err))
	} else {
		for _, job := range jobs {
			if job.Status.NodeID == a.ID && job.Status.State == model.RemoteScheduled {
				a.start(ctx, job)
			}
		}
	}

	for event := range events {
		job := event.Job
		if event.Type == store.JobDelete || job.Status.NodeID != a.ID {
			continue
		}
		switch job.Status.State {
		case model.RemoteScheduled:
			a.start(ctx, job)
		case model.RemoteCancelled:
			a.stop(job.Handle)
		}
	}
}

func (a *Agent) start(ctx context.Context, job *model.RemoteJob) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, dup := a.running[job.Handle]; dup {
		return
	}

	var (
		runCtx context.Context
		cancel context.CancelFunc
	)
	if job.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, job.Timeout)
	} else {
		runCtx, cancel = context.WithCancel(ctx)
	}
	a.running[job.Handle] = &execution{job: job, cancel: cancel}

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		defer a.finished(job.Handle)
		a.executeJob(ctx, runCtx, job)
	}()
}

func (a *Agent) stop(handle model.JobHandle) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if exec, ok := a.running[handle]; ok {
		a.logger.Info("cancelling job", zap.String("handle", string(handle)))
		exec.cancel()
	}
}

func (a *Agent) finished(handle model.JobHandle) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if exec, ok := a.running[handle]; ok {
		exec.cancel()
		delete(a.running, handle)
	}
}

// executeJob marks the job Running, executes it and records the outcome.
// A job cancelled meanwhile keeps its Cancelled state.
func (a *Agent) executeJob(ctx, runCtx context.Context, job *model.RemoteJob) {
	log := a.logger.With(zap.String("handle", string(job.Handle)), zap.String("job", job.Name))
	// duplicate deliveries find the job already taken
	current, err := a.store.GetJob(ctx, job.Handle)
	if err != nil || current.Status.State != model.RemoteScheduled || current.Status.NodeID != a.ID {
		return
	}
	job = current
	log.Info("received job")

	job.Status.State = model.RemoteRunning
	job.Status.StartTime = time.Now()
	if err := a.store.UpdateJob(ctx, job); err != nil {
		log.Error("failed to mark job running", zap.Error(err))
	}

	res, err := a.executor.Run(runCtx, job)

	if current, gerr := a.store.GetJob(ctx, job.Handle); gerr == nil && current.Status.State == model.RemoteCancelled {
		log.Info("job was cancelled")
		a.saveLog(ctx, log, job.Handle, res.Output)
		return
	}

	job.Status.ExitCode = res.ExitCode
	switch {
	case err != nil:
		log.Warn("job failed", zap.Error(err))
		job.Status.State = model.RemoteFailed
		job.Status.Error = err.Error()
	case res.ExitCode != 0:
		log.Warn("job exited non-zero", zap.Int("exit_code", res.ExitCode))
		job.Status.State = model.RemoteFailed
	default:
		log.Info("job finished")
		job.Status.State = model.RemoteSuccess
	}
	job.Status.EndTime = time.Now()
	if err := a.store.UpdateJob(ctx, job); err != nil {
		log.Error("failed to record job outcome", zap.Error(err))
	}

	a.saveLog(ctx, log, job.Handle, res.Output)
}

// saveLog uploads output whatever the outcome.
func (a *Agent) saveLog(ctx context.Context, log *zap.Logger, handle model.JobHandle, output string) {
	if output == "" {
		return
	}
	if err := a.store.SaveJobLog(ctx, handle, output); err != nil {
		log.Warn("failed to save job log", zap.Error(err))
		return
	}
	log.Debug("logs saved")
}

func (a *Agent) allocated() model.Resource {
	a.mu.Lock()
	defer a.mu.Unlock()
	var r model.Resource
	for _, exec := range a.running {
		r = r.Add(exec.job.ResReq)
	}
	return r
}

func (a *Agent) register(ctx context.Context) {
	node := &model.Node{
		ID:            a.ID,
		IP:            a.address,
		Version:       a.version,
		Status:        model.NodeReady,
		TotalCap:      a.capacity,
		Allocated:     a.allocated(),
		LastHeartbeat: time.Now().Unix(),
	}
	if err := a.store.RegisterNode(ctx, node, 3*a.heartbeat); err != nil && ctx.Err() == nil {
		a.logger.Warn("heartbeat failed", zap.Error(err))
	}
}
