// Package tracker drives a set of job specs through a gateway until every
// one of them reaches a terminal outcome.
//
// One control loop owns all tracking state. Each cycle it:
//  1. honours caller cancellation and the global deadline,
//  2. submits eligible specs up to the concurrency limit,
//  3. polls every in-flight handle,
//  4. applies statuses, retries, per-attempt timeouts and failure cascades.
//
// When the loop exits the aggregate report is handed to the metrics emitter
// and returned.
package tracker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"k8s.io/utils/clock"

	"jobwatch/pkg/gateway"
	"jobwatch/pkg/metrics"
	"jobwatch/pkg/model"
)

const (
	DefaultPollInterval  = 10 * time.Second
	DefaultMaxPollErrors = 3
)

// Config is the per-session tuning of a Tracker.
type Config struct {
	Concurrency   int           // max records in Submitted/Running, at least 1
	PollInterval  time.Duration // sleep between cycles
	Timeout       time.Duration // global deadline, 0 = none
	MaxPollErrors int           // consecutive poll failures before a record is failed
	PollPageSize  int           // handles per gateway Poll call
	SubmitRate    float64       // submissions per second, 0 = unlimited
	Session       string        // session id, generated when empty
}

// Option customises a Tracker.
type Option func(*Tracker)

// WithLogger sets the logger. Defaults to a no-op logger.
func WithLogger(l *zap.Logger) Option {
	return func(t *Tracker) {
		if l != nil {
			t.logger = l
		}
	}
}

// WithClock replaces the wall clock, mainly for tests.
func WithClock(c Clock) Option {
	return func(t *Tracker) {
		if c != nil {
			t.clock = c
		}
	}
}

// Tracker runs tracking sessions against one gateway. Sessions started
// from the same Tracker share no state.
type Tracker struct {
	gw      gateway.Gateway
	poller  *Poller
	emitter metrics.Emitter
	cfg     Config
	clock   Clock
	logger  *zap.Logger
}

// New returns a Tracker. A nil emitter discards reports.
func New(gw gateway.Gateway, emitter metrics.Emitter, cfg Config, opts ...Option) *Tracker {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.MaxPollErrors <= 0 {
		cfg.MaxPollErrors = DefaultMaxPollErrors
	}
	if emitter == nil {
		emitter = metrics.Nop{}
	}

	t := &Tracker{
		gw:      gw,
		poller:  NewPoller(gw, cfg.PollPageSize),
		emitter: emitter,
		cfg:     cfg,
		clock:   clock.RealClock{},
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(t)
	}
	t.logger = t.logger.Named("tracker")
	return t
}

// Start tracks specs to completion and returns the session report.
// The only error is a rejected configuration or job graph, returned
// before anything is submitted.
func (t *Tracker) Start(ctx context.Context, specs []model.JobSpec) (*model.AggregateReport, error) {
	if t.cfg.Concurrency < 1 {
		return nil, fmt.Errorf("concurrency limit must be at least 1, got %d", t.cfg.Concurrency)
	}
	graph, err := buildGraph(specs)
	if err != nil {
		return nil, err
	}

	s := t.newSession(specs, graph)
	s.logger.Info("session started",
		zap.Int("jobs", len(specs)),
		zap.Int("concurrency", t.cfg.Concurrency),
		zap.Duration("poll_interval", t.cfg.PollInterval),
		zap.Duration("timeout", t.cfg.Timeout))

	report := s.run(ctx)

	s.logger.Info("session finished",
		zap.Duration("duration", report.Duration),
		zap.Int("succeeded", report.Counts.Succeeded),
		zap.Int("failed", report.Counts.Failed),
		zap.Int("timed_out", report.Counts.TimedOut),
		zap.Int("cancelled", report.Counts.Cancelled))

	t.emit(ctx, s.logger, report)
	return report, nil
}

func (t *Tracker) emit(ctx context.Context, logger *zap.Logger, report *model.AggregateReport) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("metrics emitter panicked", zap.Any("panic", r))
		}
	}()
	if err := t.emitter.Emit(context.WithoutCancel(ctx), report); err != nil {
		logger.Warn("metrics emit failed", zap.Error(err))
	}
}

// entry is a record plus the loop's private bookkeeping for it.
type entry struct {
	idx          int
	rec          *model.JobRecord
	retryAt      time.Time // earliest resubmission after a failed attempt
	attemptStart time.Time
	pollErrors   int
}

type session struct {
	*Tracker
	id       string
	graph    *jobGraph
	entries  []*entry
	records  []*model.JobRecord
	limiter  *rate.Limiter // nil when submissions are unlimited
	deadline time.Time     // zero when there is no global timeout
	// nextToken is when a submission held back by the limiter this cycle
	// may go out; zero when none was held back.
	nextToken time.Time
	logger    *zap.Logger
}

func (t *Tracker) newSession(specs []model.JobSpec, graph *jobGraph) *session {
	id := t.cfg.Session
	if id == "" {
		id = uuid.NewString()
	}

	s := &session{
		Tracker: t,
		id:      id,
		graph:   graph,
		entries: make([]*entry, len(specs)),
		records: make([]*model.JobRecord, len(specs)),
		logger:  t.logger.With(zap.String("session", id)),
	}
	if t.cfg.SubmitRate > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(t.cfg.SubmitRate), 1)
	}

	for i := range specs {
		spec := model.NewJobSpec(specs[i])
		rec := model.NewJobRecord(&spec)
		s.entries[i] = &entry{idx: i, rec: rec}
		s.records[i] = rec
	}
	return s
}

func (s *session) run(ctx context.Context) *model.AggregateReport {
	startedAt := s.clock.Now()
	if s.cfg.Timeout > 0 {
		s.deadline = startedAt.Add(s.cfg.Timeout)
	}

	for cycle := 1; ; cycle++ {
		if ctx.Err() != nil {
			s.sweep(model.StatusCancelled, "session cancelled")
			break
		}
		if s.expired() {
			s.sweep(model.StatusTimedOut, "session timeout reached")
			break
		}

		s.submitEligible(ctx)
		if s.expired() {
			continue
		}
		s.pollInFlight(ctx)

		if s.allTerminal() {
			break
		}

		now := s.clock.Now()
		wait := s.cfg.PollInterval
		if !s.nextToken.IsZero() {
			if d := s.nextToken.Sub(now); d < wait {
				wait = d
			}
		}
		if !s.deadline.IsZero() {
			if remaining := s.deadline.Sub(now); remaining < wait {
				wait = remaining
			}
		}
		s.logger.Debug("cycle complete", zap.Int("cycle", cycle), zap.Int("in_flight", s.inFlight()))
		if wait > 0 {
			select {
			case <-ctx.Done():
			case <-s.clock.After(wait):
			}
		}
	}

	return model.BuildReport(s.id, s.records, startedAt, s.clock.Now())
}

// expired reports whether the global deadline has passed.
func (s *session) expired() bool {
	return !s.deadline.IsZero() && !s.clock.Now().Before(s.deadline)
}

// remoteCtx bounds gateway calls by what is left of the global timeout.
// The deadline is taken from the session clock and converted to a wall
// clock timeout.
func (s *session) remoteCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.deadline.IsZero() {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.deadline.Sub(s.clock.Now()))
}

// admit takes a submission token from the limiter at now. When none is
// available it puts the reservation back and remembers when one will be.
func (s *session) admit(now time.Time) bool {
	if s.limiter == nil {
		return true
	}
	r := s.limiter.ReserveN(now, 1)
	if !r.OK() {
		return false
	}
	if d := r.DelayFrom(now); d > 0 {
		r.CancelAt(now)
		s.nextToken = now.Add(d)
		return false
	}
	return true
}

func (s *session) inFlight() int {
	n := 0
	for _, e := range s.entries {
		if e.rec.Status.InFlight() {
			n++
		}
	}
	return n
}

func (s *session) allTerminal() bool {
	for _, e := range s.entries {
		if !e.rec.Status.IsTerminal() {
			return false
		}
	}
	return true
}

// eligible: Pending, backoff elapsed, every dependency Succeeded.
func (s *session) eligible(e *entry, now time.Time) bool {
	if e.rec.Status != model.StatusPending || now.Before(e.retryAt) {
		return false
	}
	for _, dep := range s.graph.deps[e.idx] {
		if s.entries[dep].rec.Status != model.StatusSucceeded {
			return false
		}
	}
	return true
}

type submitResult struct {
	handle model.JobHandle
	err    error
}

// submitEligible fills the concurrency window in insertion order, as far
// as the submission rate allows. The gateway calls of one cycle run
// concurrently; results are applied after all of them returned.
func (s *session) submitEligible(ctx context.Context) {
	s.nextToken = time.Time{}
	slots := s.cfg.Concurrency - s.inFlight()
	if slots <= 0 {
		return
	}

	now := s.clock.Now()
	batch := make([]*entry, 0, slots)
	for _, e := range s.entries {
		if len(batch) == slots {
			break
		}
		if !s.eligible(e, now) {
			continue
		}
		if !s.admit(now) {
			break
		}
		batch = append(batch, e)
	}
	if len(batch) == 0 {
		return
	}

	rctx, cancel := s.remoteCtx(ctx)
	defer cancel()

	results := make([]submitResult, len(batch))
	var wg sync.WaitGroup
	wg.Add(len(batch))
	for i, e := range batch {
		go func(i int, spec model.JobSpec) {
			defer wg.Done()
			h, err := s.gw.Submit(rctx, spec)
			results[i] = submitResult{handle: h, err: err}
		}(i, *e.rec.Spec)
	}
	wg.Wait()

	now = s.clock.Now()
	// cancellation or the global deadline leaves unsent work Pending for
	// the sweep
	if rctx.Err() != nil {
		for i, e := range batch {
			if results[i].err == nil {
				s.accept(e, results[i].handle, now)
			}
		}
		return
	}

	for i, e := range batch {
		res := results[i]
		if res.err != nil {
			s.reject(e, res.err, now)
			continue
		}
		s.accept(e, res.handle, now)
	}
}

func (s *session) accept(e *entry, h model.JobHandle, now time.Time) {
	rec := e.rec
	rec.Handle = h
	rec.Attempts++
	rec.Status = model.StatusSubmitted
	rec.StartedAt = time.Time{}
	if rec.SubmittedAt.IsZero() {
		rec.SubmittedAt = now
	}
	e.attemptStart = now
	e.pollErrors = 0

	s.logger.Info("job submitted",
		zap.String("job", rec.Name()),
		zap.String("handle", string(h)),
		zap.Int("attempt", rec.Attempts))
}

// reject handles a gateway refusal. It never consumes retry budget.
func (s *session) reject(e *entry, err error, now time.Time) {
	rec := e.rec
	note := "submission rejected: " + err.Error()
	if rec.Attempts > 0 {
		note = fmt.Sprintf("resubmission after attempt %d rejected: %v", rec.Attempts, err)
	}
	s.logger.Warn("job submission rejected", zap.String("job", rec.Name()), zap.Error(err))
	rec.Finish(model.StatusFailed, now, note)
	s.cascade(e, now)
}

func (s *session) pollInFlight(ctx context.Context) {
	var (
		polled  []*entry
		handles []model.JobHandle
	)
	for _, e := range s.entries {
		if e.rec.Status.InFlight() {
			polled = append(polled, e)
			handles = append(handles, e.rec.Handle)
		}
	}
	if len(handles) == 0 {
		return
	}

	rctx, cancel := s.remoteCtx(ctx)
	defer cancel()

	results := s.poller.Poll(rctx, handles)
	if rctx.Err() != nil {
		return
	}

	now := s.clock.Now()
	for _, e := range polled {
		res := results[e.rec.Handle]
		if res.Err != nil {
			s.pollFailed(e, res.Err, now)
		} else {
			e.pollErrors = 0
			s.observe(e, res.Status, now)
		}

		if e.rec.Status.InFlight() {
			s.checkAttemptTimeout(rctx, e, now)
		}
	}
}

func (s *session) pollFailed(e *entry, err error, now time.Time) {
	e.pollErrors++
	s.logger.Warn("job status unavailable",
		zap.String("job", e.rec.Name()),
		zap.Int("consecutive", e.pollErrors),
		zap.Error(err))

	if e.pollErrors < s.cfg.MaxPollErrors {
		return
	}
	e.rec.Finish(model.StatusFailed, now,
		fmt.Sprintf("status unavailable after %d consecutive poll errors: %v", e.pollErrors, err))
	s.cascade(e, now)
}

// observe applies one remote status, moving the record forward only.
func (s *session) observe(e *entry, st gateway.RemoteStatus, now time.Time) {
	rec := e.rec
	switch {
	case st.Status == model.StatusSucceeded:
		if rec.StartedAt.IsZero() {
			rec.StartedAt = timeOr(st.StartedAt, now)
		}
		rec.Finish(model.StatusSucceeded, timeOr(st.EndedAt, now), "")
		s.logger.Info("job succeeded", zap.String("job", rec.Name()), zap.Int("attempt", rec.Attempts))

	case st.Status.IsTerminal():
		if rec.StartedAt.IsZero() {
			rec.StartedAt = timeOr(st.StartedAt, now)
		}
		reason := st.Message
		if reason == "" {
			reason = "remote status " + st.Status.String()
		}
		s.attemptFailed(e, timeOr(st.EndedAt, now), reason)

	case rec.Status.Advances(st.Status):
		rec.Status = st.Status
		if st.Status == model.StatusRunning && rec.StartedAt.IsZero() {
			rec.StartedAt = timeOr(st.StartedAt, now)
		}
	}
}

// attemptFailed retries while budget remains, otherwise fails the record
// for good and releases its dependents as Failed.
func (s *session) attemptFailed(e *entry, at time.Time, reason string) {
	rec := e.rec
	note := fmt.Sprintf("attempt %d failed: %s", rec.Attempts, reason)

	if rec.Attempts < rec.Spec.Retry.Attempts() {
		delay := rec.Spec.Retry.Delay(rec.Attempts)
		e.retryAt = s.clock.Now().Add(delay)
		rec.Status = model.StatusPending
		rec.Note = note
		s.logger.Info("job attempt failed, retrying",
			zap.String("job", rec.Name()),
			zap.Int("attempt", rec.Attempts),
			zap.Duration("backoff", delay),
			zap.String("reason", reason))
		return
	}

	s.logger.Warn("job failed", zap.String("job", rec.Name()), zap.Int("attempts", rec.Attempts), zap.String("reason", reason))
	rec.Finish(model.StatusFailed, at, note)
	s.cascade(e, at)
}

func (s *session) checkAttemptTimeout(ctx context.Context, e *entry, now time.Time) {
	limit := e.rec.Spec.Timeout
	if limit <= 0 || now.Sub(e.attemptStart) < limit {
		return
	}

	if term, ok := s.gw.(gateway.Terminator); ok {
		if err := term.Terminate(ctx, e.rec.Handle); err != nil {
			s.logger.Warn("terminate failed", zap.String("job", e.rec.Name()), zap.Error(err))
		}
	}
	s.attemptFailed(e, now, fmt.Sprintf("exceeded timeout %s", limit))
}

// cascade fails every transitive dependent of e. Those records are still
// Pending and never reach the gateway.
func (s *session) cascade(e *entry, now time.Time) {
	queue := append([]int(nil), s.graph.dependents[e.idx]...)
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]

		dep := s.entries[n]
		if dep.rec.Status.IsTerminal() {
			continue
		}
		dep.rec.Finish(model.StatusFailed, now,
			fmt.Sprintf("blocked: dependency %s ended %s", e.rec.Name(), e.rec.Status))
		s.logger.Info("job blocked by failed dependency",
			zap.String("job", dep.rec.Name()),
			zap.String("dependency", e.rec.Name()))
		queue = append(queue, s.graph.dependents[n]...)
	}
}

// sweep forces every non-terminal record to status without any further
// gateway call.
func (s *session) sweep(status model.Status, reason string) {
	now := s.clock.Now()
	n := 0
	for _, e := range s.entries {
		if e.rec.Status.IsTerminal() {
			continue
		}
		e.rec.Finish(status, now, fmt.Sprintf("%s while %s", reason, e.rec.Status))
		n++
	}
	if n > 0 {
		s.logger.Warn(reason, zap.Int("jobs", n), zap.Stringer("outcome", status))
	}
}

func timeOr(t *time.Time, fallback time.Time) time.Time {
	if t == nil || t.IsZero() {
		return fallback
	}
	return *t
}
