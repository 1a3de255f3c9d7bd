package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"jobwatch/pkg/model"
)

// Memory is a single-process Store. Values are kept JSON encoded, the same
// as in etcd, so callers never share memory with the store.
type Memory struct {
	mu       sync.RWMutex
	jobs     map[model.JobHandle][]byte
	order    []model.JobHandle
	logs     map[model.JobHandle]string
	nodes    map[string]memNode
	reports  map[string][]byte
	watchers map[*watcher]struct{}
	now      func() time.Time
}

type memNode struct {
	data    []byte
	expires time.Time
}

var _ Store = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{
		jobs:     make(map[model.JobHandle][]byte),
		logs:     make(map[model.JobHandle]string),
		nodes:    make(map[string]memNode),
		reports:  make(map[string][]byte),
		watchers: make(map[*watcher]struct{}),
		now:      time.Now,
	}
}

func (m *Memory) CreateJob(ctx context.Context, job *model.RemoteJob) error {
	data, err := json.Marshal(job)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.jobs[job.Handle]; exists {
		return fmt.Errorf("create job %s: handle already exists", job.Handle)
	}
	m.jobs[job.Handle] = data
	m.order = append(m.order, job.Handle)
	m.notifyLocked(JobCreate, data)
	return nil
}

func (m *Memory) GetJob(ctx context.Context, handle model.JobHandle) (*model.RemoteJob, error) {
	m.mu.RLock()
	data, ok := m.jobs[handle]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("get job %s: %w", handle, ErrNotFound)
	}
	return decodeJob(data)
}

func (m *Memory) GetJobs(ctx context.Context, handles []model.JobHandle) (map[model.JobHandle]*model.RemoteJob, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[model.JobHandle]*model.RemoteJob, len(handles))
	for _, h := range handles {
		data, ok := m.jobs[h]
		if !ok {
			continue
		}
		job, err := decodeJob(data)
		if err != nil {
			return nil, err
		}
		out[h] = job
	}
	return out, nil
}

func (m *Memory) UpdateJob(ctx context.Context, job *model.RemoteJob) error {
	data, err := json.Marshal(job)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	event := JobUpdate
	if _, exists := m.jobs[job.Handle]; !exists {
		event = JobCreate
		m.order = append(m.order, job.Handle)
	}
	m.jobs[job.Handle] = data
	m.notifyLocked(event, data)
	return nil
}

// ListJobs returns jobs in creation order.
func (m *Memory) ListJobs(ctx context.Context) ([]*model.RemoteJob, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	jobs := make([]*model.RemoteJob, 0, len(m.order))
	for _, h := range m.order {
		job, err := decodeJob(m.jobs[h])
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

func (m *Memory) WatchJobs(ctx context.Context) <-chan JobEvent {
	w := newWatcher()

	m.mu.Lock()
	m.watchers[w] = struct{}{}
	m.mu.Unlock()

	out := make(chan JobEvent)
	go func() {
		defer close(out)
		defer func() {
			m.mu.Lock()
			delete(m.watchers, w)
			m.mu.Unlock()
		}()
		w.pump(ctx, out)
	}()
	return out
}

func (m *Memory) notifyLocked(t JobEventType, data []byte) {
	if len(m.watchers) == 0 {
		return
	}
	for w := range m.watchers {
		// every watcher decodes its own copy
		job, err := decodeJob(data)
		if err != nil {
			continue
		}
		w.push(JobEvent{Type: t, Job: job})
	}
}

func (m *Memory) SaveJobLog(ctx context.Context, handle model.JobHandle, logs string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logs[handle] = logs
	return nil
}

func (m *Memory) GetJobLog(ctx context.Context, handle model.JobHandle) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	logs, ok := m.logs[handle]
	if !ok {
		return "", fmt.Errorf("log for job %s: %w", handle, ErrNotFound)
	}
	return logs, nil
}

func (m *Memory) RegisterNode(ctx context.Context, node *model.Node, ttl time.Duration) error {
	data, err := json.Marshal(node)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nodes[node.ID] = memNode{data: data, expires: m.now().Add(ttl)}
	return nil
}

// ListNodes returns live nodes sorted by id; expired ones are dropped.
func (m *Memory) ListNodes(ctx context.Context) ([]*model.Node, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	ids := make([]string, 0, len(m.nodes))
	for id, n := range m.nodes {
		if !now.Before(n.expires) {
			delete(m.nodes, id)
			continue
		}
		ids = append(ids, id)
	}
	sort.Strings(ids)

	nodes := make([]*model.Node, 0, len(ids))
	for _, id := range ids {
		var node model.Node
		if err := json.Unmarshal(m.nodes[id].data, &node); err != nil {
			return nil, err
		}
		nodes = append(nodes, &node)
	}
	return nodes, nil
}

func (m *Memory) SaveReport(ctx context.Context, report *model.AggregateReport) error {
	data, err := json.Marshal(report)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reports[report.Session] = data
	return nil
}

func (m *Memory) GetReport(ctx context.Context, session string) (*model.AggregateReport, error) {
	m.mu.RLock()
	data, ok := m.reports[session]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("get report %s: %w", session, ErrNotFound)
	}
	var r model.AggregateReport
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// ListReports returns reports sorted by session id, like an etcd prefix read.
func (m *Memory) ListReports(ctx context.Context) ([]*model.AggregateReport, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, 0, len(m.reports))
	for id := range m.reports {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	reports := make([]*model.AggregateReport, 0, len(ids))
	for _, id := range ids {
		var r model.AggregateReport
		if err := json.Unmarshal(m.reports[id], &r); err != nil {
			return nil, err
		}
		reports = append(reports, &r)
	}
	return reports, nil
}

func (m *Memory) Close() error { return nil }

func decodeJob(data []byte) (*model.RemoteJob, error) {
	var job model.RemoteJob
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// watcher queues events without bound so a slow consumer never blocks
// writers and never misses an event.
type watcher struct {
	mu     sync.Mutex
	queue  []JobEvent
	signal chan struct{}
}

func newWatcher() *watcher {
	return &watcher{signal: make(chan struct{}, 1)}
}

func (w *watcher) push(ev JobEvent) {
	w.mu.Lock()
	w.queue = append(w.queue, ev)
	w.mu.Unlock()

	select {
	case w.signal <- struct{}{}:
	default:
	}
}

func (w *watcher) pump(ctx context.Context, out chan<- JobEvent) {
	for {
		w.mu.Lock()
		pending := w.queue
		w.queue = nil
		w.mu.Unlock()

		for _, ev := range pending {
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}

		select {
		case <-w.signal:
		case <-ctx.Done():
			return
		}
	}
}
