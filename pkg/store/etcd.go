package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"

	"jobwatch/pkg/model"
)

// Key layout.
const (
	JobKeyPrefix    = "/jobwatch/jobs/"
	NodeKeyPrefix   = "/jobwatch/nodes/"
	LogKeyPrefix    = "/jobwatch/logs/"
	ReportKeyPrefix = "/jobwatch/reports/"
)

// etcd rejects transactions with more operations than --max-txn-ops (128 by default).
const maxTxnOps = 128

type EtcdManager struct {
	client *clientv3.Client
	logger *zap.Logger

	mu     sync.Mutex
	leases map[string]clientv3.LeaseID // node id -> heartbeat lease
}

var _ Store = (*EtcdManager)(nil)

// NewEtcdManager connects to etcd. The client logs through logger.
func NewEtcdManager(endpoints []string, logger *zap.Logger) (*EtcdManager, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	cli, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: 5 * time.Second,
		Logger:      logger.Named("etcd-client"),
	})
	if err != nil {
		return nil, fmt.Errorf("connect etcd %v: %w", endpoints, err)
	}
	return &EtcdManager{
		client: cli,
		logger: logger.Named("store"),
		leases: make(map[string]clientv3.LeaseID),
	}, nil
}

func jobKey(h model.JobHandle) string { return JobKeyPrefix + string(h) }

// ---------------------------------------------------------
// jobs
// ---------------------------------------------------------

func (e *EtcdManager) CreateJob(ctx context.Context, job *model.RemoteJob) error {
	data, err := json.Marshal(job)
	if err != nil {
		return err
	}
	key := jobKey(job.Handle)
	// create only if absent
	resp, err := e.client.Txn(ctx).
		If(clientv3.Compare(clientv3.CreateRevision(key), "=", 0)).
		Then(clientv3.OpPut(key, string(data))).
		Commit()
	if err != nil {
		return fmt.Errorf("create job %s: %w", job.Handle, err)
	}
	if !resp.Succeeded {
		return fmt.Errorf("create job %s: handle already exists", job.Handle)
	}
	return nil
}

func (e *EtcdManager) GetJob(ctx context.Context, handle model.JobHandle) (*model.RemoteJob, error) {
	var job model.RemoteJob
	if err := e.getValue(ctx, jobKey(handle), &job); err != nil {
		return nil, fmt.Errorf("get job %s: %w", handle, err)
	}
	return &job, nil
}

// GetJobs issues one Txn of OpGets per maxTxnOps handles.
func (e *EtcdManager) GetJobs(ctx context.Context, handles []model.JobHandle) (map[model.JobHandle]*model.RemoteJob, error) {
	out := make(map[model.JobHandle]*model.RemoteJob, len(handles))

	for start := 0; start < len(handles); start += maxTxnOps {
		end := start + maxTxnOps
		if end > len(handles) {
			end = len(handles)
		}
		ops := make([]clientv3.Op, 0, end-start)
		for _, h := range handles[start:end] {
			ops = append(ops, clientv3.OpGet(jobKey(h)))
		}

		resp, err := e.client.Txn(ctx).Then(ops...).Commit()
		if err != nil {
			return nil, fmt.Errorf("batch get %d jobs: %w", len(ops), err)
		}
		for _, r := range resp.Responses {
			for _, kv := range r.GetResponseRange().Kvs {
				var job model.RemoteJob
				if err := json.Unmarshal(kv.Value, &job); err != nil {
					e.logger.Warn("skipping undecodable job", zap.ByteString("key", kv.Key), zap.Error(err))
					continue
				}
				out[job.Handle] = &job
			}
		}
	}
	return out, nil
}

func (e *EtcdManager) UpdateJob(ctx context.Context, job *model.RemoteJob) error {
	return e.putValue(ctx, jobKey(job.Handle), job)
}

func (e *EtcdManager) ListJobs(ctx context.Context) ([]*model.RemoteJob, error) {
	resp, err := e.client.Get(ctx, JobKeyPrefix, clientv3.WithPrefix())
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	jobs := make([]*model.RemoteJob, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		var job model.RemoteJob
		if err := json.Unmarshal(kv.Value, &job); err != nil {
			e.logger.Warn("skipping undecodable job", zap.ByteString("key", kv.Key), zap.Error(err))
			continue
		}
		jobs = append(jobs, &job)
	}
	return jobs, nil
}

// WatchJobs turns the etcd watch on the job prefix into typed events.
func (e *EtcdManager) WatchJobs(ctx context.Context) <-chan JobEvent {
	events := make(chan JobEvent)

	go func() {
		defer close(events)
		watchChan := e.client.Watch(ctx, JobKeyPrefix, clientv3.WithPrefix())

		for watchResp := range watchChan {
			if err := watchResp.Err(); err != nil {
				e.logger.Warn("job watch error", zap.Error(err))
				continue
			}
			for _, ev := range watchResp.Events {
				event := JobEvent{Type: JobUpdate}
				switch {
				case ev.Type == clientv3.EventTypeDelete:
					event.Type = JobDelete
					handle := model.JobHandle(strings.TrimPrefix(string(ev.Kv.Key), JobKeyPrefix))
					event.Job = &model.RemoteJob{Handle: handle}
				default:
					if ev.IsCreate() {
						event.Type = JobCreate
					}
					var job model.RemoteJob
					if err := json.Unmarshal(ev.Kv.Value, &job); err != nil {
						e.logger.Warn("failed to unmarshal job", zap.ByteString("key", ev.Kv.Key), zap.Error(err))
						continue
					}
					event.Job = &job
				}

				select {
				case events <- event:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return events
}

func (e *EtcdManager) SaveJobLog(ctx context.Context, handle model.JobHandle, logs string) error {
	_, err := e.client.Put(ctx, LogKeyPrefix+string(handle), logs)
	return err
}

func (e *EtcdManager) GetJobLog(ctx context.Context, handle model.JobHandle) (string, error) {
	resp, err := e.client.Get(ctx, LogKeyPrefix+string(handle))
	if err != nil {
		return "", err
	}
	if len(resp.Kvs) == 0 {
		return "", fmt.Errorf("log for job %s: %w", handle, ErrNotFound)
	}
	return string(resp.Kvs[0].Value), nil
}

// ---------------------------------------------------------
// nodes
// ---------------------------------------------------------

// RegisterNode keeps the node key alive on a lease; a worker that stops
// heartbeating disappears after ttl.
func (e *EtcdManager) RegisterNode(ctx context.Context, node *model.Node, ttl time.Duration) error {
	key := NodeKeyPrefix + node.ID

	e.mu.Lock()
	lease, ok := e.leases[node.ID]
	e.mu.Unlock()

	if ok {
		if _, err := e.client.KeepAliveOnce(ctx, lease); err == nil {
			return e.putValue(ctx, key, node, clientv3.WithLease(lease))
		}
		e.logger.Debug("node lease lost, granting a new one", zap.String("node", node.ID))
	}

	secs := int64(ttl / time.Second)
	if secs < 1 {
		secs = 1
	}
	grant, err := e.client.Grant(ctx, secs)
	if err != nil {
		return fmt.Errorf("grant lease for node %s: %w", node.ID, err)
	}

	e.mu.Lock()
	e.leases[node.ID] = grant.ID
	e.mu.Unlock()

	return e.putValue(ctx, key, node, clientv3.WithLease(grant.ID))
}

func (e *EtcdManager) ListNodes(ctx context.Context) ([]*model.Node, error) {
	resp, err := e.client.Get(ctx, NodeKeyPrefix, clientv3.WithPrefix())
	if err != nil {
		return nil, err
	}

	nodes := make([]*model.Node, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		var node model.Node
		if err := json.Unmarshal(kv.Value, &node); err != nil {
			e.logger.Warn("failed to unmarshal node", zap.ByteString("key", kv.Key), zap.Error(err))
			continue
		}
		nodes = append(nodes, &node)
	}
	return nodes, nil
}

// ---------------------------------------------------------
// reports
// ---------------------------------------------------------

func (e *EtcdManager) SaveReport(ctx context.Context, report *model.AggregateReport) error {
	return e.putValue(ctx, ReportKeyPrefix+report.Session, report)
}

func (e *EtcdManager) GetReport(ctx context.Context, session string) (*model.AggregateReport, error) {
	var report model.AggregateReport
	if err := e.getValue(ctx, ReportKeyPrefix+session, &report); err != nil {
		return nil, fmt.Errorf("get report %s: %w", session, err)
	}
	return &report, nil
}

func (e *EtcdManager) ListReports(ctx context.Context) ([]*model.AggregateReport, error) {
	resp, err := e.client.Get(ctx, ReportKeyPrefix, clientv3.WithPrefix())
	if err != nil {
		return nil, err
	}
	reports := make([]*model.AggregateReport, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		var r model.AggregateReport
		if err := json.Unmarshal(kv.Value, &r); err != nil {
			e.logger.Warn("failed to unmarshal report", zap.ByteString("key", kv.Key), zap.Error(err))
			continue
		}
		reports = append(reports, &r)
	}
	return reports, nil
}

func (e *EtcdManager) Close() error {
	return e.client.Close()
}

// ---------------------------------------------------------
// helpers
// ---------------------------------------------------------

// putValue marshals val to JSON and puts it under key.
func (e *EtcdManager) putValue(ctx context.Context, key string, val any, opts ...clientv3.OpOption) error {
	data, err := json.Marshal(val)
	if err != nil {
		return err
	}
	_, err = e.client.Put(ctx, key, string(data), opts...)
	return err
}

func (e *EtcdManager) getValue(ctx context.Context, key string, val any) error {
	resp, err := e.client.Get(ctx, key)
	if err != nil {
		return err
	}
	if len(resp.Kvs) == 0 {
		return ErrNotFound
	}
	return json.Unmarshal(resp.Kvs[0].Value, val)
}
