// Package api serves tracking sessions over HTTP.
package api

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"jobwatch/internal/jobset"
	"jobwatch/internal/tracker"
	"jobwatch/pkg/gateway"
	"jobwatch/pkg/metrics"
	"jobwatch/pkg/model"
	"jobwatch/pkg/store"
)

// Session states reported by the API.
const (
	StateRunning   = "running"
	StateSucceeded = "succeeded"
	StateFailed    = "failed"
)

// ErrUnknownSession is returned for ids the manager has never seen.
var ErrUnknownSession = errors.New("unknown session")

// GatewayFactory returns the gateway for a new session.
type GatewayFactory func(session string) (gateway.Gateway, error)

// ReportSource looks up reports of sessions this process no longer holds.
type ReportSource interface {
	GetReport(ctx context.Context, session string) (*model.AggregateReport, error)
}

// SessionInfo is the API view of one session.
type SessionInfo struct {
	Session   string                 `json:"session"`
	Name      string                 `json:"name,omitempty"`
	State     string                 `json:"state"`
	StartedAt time.Time              `json:"started_at"`
	Report    *model.AggregateReport `json:"report,omitempty"`
}

type session struct {
	id        string
	name      string
	startedAt time.Time
	cancel    context.CancelFunc
	done      chan struct{}
	report    *model.AggregateReport
}

func (s *session) info() SessionInfo {
	info := SessionInfo{Session: s.id, Name: s.name, State: StateRunning, StartedAt: s.startedAt}
	select {
	case <-s.done:
		info.State = reportState(s.report)
		info.Report = s.report
	default:
	}
	return info
}

func reportState(r *model.AggregateReport) string {
	if r != nil && r.Succeeded() {
		return StateSucceeded
	}
	return StateFailed
}

// Manager runs sessions in the background, one tracker each.
type Manager struct {
	factory GatewayFactory
	emitter metrics.Emitter
	reports ReportSource
	logger  *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.RWMutex
	sessions map[string]*session
}

type ManagerOption func(*Manager)

func WithEmitter(e metrics.Emitter) ManagerOption {
	return func(m *Manager) {
		if e != nil {
			m.emitter = e
		}
	}
}

// WithReports sets where finished sessions unknown to this process are
// looked up.
func WithReports(r ReportSource) ManagerOption {
	return func(m *Manager) { m.reports = r }
}

func WithLogger(l *zap.Logger) ManagerOption {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

func NewManager(factory GatewayFactory, opts ...ManagerOption) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		factory:  factory,
		emitter:  metrics.Nop{},
		logger:   zap.NewNop(),
		ctx:      ctx,
		cancel:   cancel,
		sessions: make(map[string]*session),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.Named("sessions")
	return m
}

// Submit parses a job-set document and starts tracking it. Content
// errors wrap jobset.ErrInvalid or tracker.ErrInvalidGraph.
func (m *Manager) Submit(doc []byte) (string, error) {
	set, err := jobset.Parse(doc)
	if err != nil {
		return "", err
	}
	if err := m.ctx.Err(); err != nil {
		return "", errors.New("manager is shutting down")
	}

	id := uuid.NewString()
	gw, err := m.factory(id)
	if err != nil {
		return "", fmt.Errorf("failed to create gateway: %w", err)
	}

	cfg := set.Config
	cfg.Session = id
	tr := tracker.New(gw, m.emitter, cfg, tracker.WithLogger(m.logger))

	ctx, cancel := context.WithCancel(m.ctx)
	s := &session{
		id:        id,
		name:      set.Name,
		startedAt: time.Now(),
		cancel:    cancel,
		done:      make(chan struct{}),
	}

	m.mu.Lock()
	m.sessions[id] = s
	m.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer cancel()
		defer close(s.done)

		report, err := tr.Start(ctx, set.Jobs)
		if err != nil {
			// the graph was validated by Parse
			m.logger.Error("session rejected", zap.String("session", id), zap.Error(err))
			return
		}
		m.mu.Lock()
		s.report = report
		m.mu.Unlock()
	}()

	m.logger.Info("session submitted", zap.String("session", id), zap.String("name", set.Name), zap.Int("jobs", len(set.Jobs)))
	return id, nil
}

// Get returns the session, falling back to the report source.
func (m *Manager) Get(ctx context.Context, id string) (SessionInfo, error) {
	m.mu.RLock()
	s, ok := m.sessions[id]
	var info SessionInfo
	if ok {
		info = s.info()
	}
	m.mu.RUnlock()
	if ok {
		return info, nil
	}

	if m.reports == nil {
		return SessionInfo{}, ErrUnknownSession
	}
	report, err := m.reports.GetReport(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return SessionInfo{}, ErrUnknownSession
	}
	if err != nil {
		return SessionInfo{}, err
	}
	return SessionInfo{
		Session:   id,
		State:     reportState(report),
		StartedAt: report.StartedAt,
		Report:    report,
	}, nil
}

// List returns the sessions of this process, oldest first. Reports are
// left out.
func (m *Manager) List() []SessionInfo {
	m.mu.RLock()
	out := make([]SessionInfo, 0, len(m.sessions))
	for _, s := range m.sessions {
		info := s.info()
		info.Report = nil
		out = append(out, info)
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].StartedAt.Before(out[j].StartedAt)
		}
		return out[i].Session < out[j].Session
	})
	return out
}

// Cancel stops a running session. Its records end Cancelled.
func (m *Manager) Cancel(id string) error {
	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return ErrUnknownSession
	}
	s.cancel()
	return nil
}

// Wait blocks until the session has finished or ctx is done.
func (m *Manager) Wait(ctx context.Context, id string) error {
	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return ErrUnknownSession
	}
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown cancels every running session and waits for their reports
// to be emitted.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.cancel()
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
