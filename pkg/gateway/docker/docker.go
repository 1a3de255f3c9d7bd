// Package docker runs each job attempt as a container on a docker daemon.
// The container id is the job handle.
package docker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/client"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"jobwatch/pkg/gateway"
	"jobwatch/pkg/model"
)

// Labels put on every container.
const (
	LabelManaged = "jobwatch.managed"
	LabelJob     = "jobwatch.job"
	LabelSession = "jobwatch.session"
)

type Gateway struct {
	cli     client.APIClient
	session string
	logger  *zap.Logger
}

var (
	_ gateway.Gateway    = (*Gateway)(nil)
	_ gateway.Terminator = (*Gateway)(nil)
)

type Option func(*Gateway)

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

func New(cli client.APIClient, opts ...Option) *Gateway {
	g := &Gateway{cli: cli, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(g)
	}
	g.logger = g.logger.Named("docker-gateway")
	return g
}

func (g *Gateway) Submit(ctx context.Context, spec model.JobSpec) (model.JobHandle, error) {
	if spec.Image == "" {
		return "", gateway.Rejected(spec.Name, errors.New("docker backend needs an image"))
	}

	labels := map[string]string{LabelManaged: "true", LabelJob: spec.Name}
	if g.session != "" {
		labels[LabelSession] = g.session
	}

	resp, err := g.cli.ContainerCreate(ctx, &container.Config{
		Image:  spec.Image,
		Cmd:    spec.Command,
		Env:    model.Env(spec.Parameters),
		Labels: labels,
	}, &container.HostConfig{
		Resources: container.Resources{
			NanoCPUs: spec.Resources.MilliCPU * 1_000_000,
			Memory:   spec.Resources.Memory,
		},
	}, nil, nil, "")
	if err != nil {
		return "", gateway.Rejected(spec.Name, fmt.Errorf("create container: %w", err))
	}

	if err := g.cli.ContainerStart(ctx, resp.ID, types.ContainerStartOptions{}); err != nil {
		rmErr := g.cli.ContainerRemove(context.WithoutCancel(ctx), resp.ID, types.ContainerRemoveOptions{Force: true})
		return "", gateway.Rejected(spec.Name, multierr.Append(fmt.Errorf("start container: %w", err), rmErr))
	}

	g.logger.Debug("container started", zap.String("job", spec.Name), zap.String("container", resp.ID))
	return model.JobHandle(resp.ID), nil
}

// Poll lists the requested containers in one call and inspects only the
// ones that exited, for their exit code and timestamps.
func (g *Gateway) Poll(ctx context.Context, handles []model.JobHandle) (map[model.JobHandle]gateway.RemoteStatus, error) {
	if len(handles) == 0 {
		return map[model.JobHandle]gateway.RemoteStatus{}, nil
	}

	args := filters.NewArgs()
	wanted := make(map[string]bool, len(handles))
	for _, h := range handles {
		args.Add("id", string(h))
		wanted[string(h)] = true
	}
	list, err := g.cli.ContainerList(ctx, types.ContainerListOptions{All: true, Filters: args})
	if err != nil {
		return nil, fmt.Errorf("list containers: %w", err)
	}

	out := make(map[model.JobHandle]gateway.RemoteStatus, len(list))
	for _, c := range list {
		if !wanted[c.ID] {
			continue
		}
		switch c.State {
		case "created":
			out[model.JobHandle(c.ID)] = gateway.RemoteStatus{Status: model.StatusSubmitted}
		case "running", "paused", "restarting":
			out[model.JobHandle(c.ID)] = gateway.RemoteStatus{Status: model.StatusRunning}
		case "exited", "dead":
			st, err := g.inspect(ctx, c.ID)
			if err != nil {
				// left out: unknown this cycle
				g.logger.Warn("inspect failed", zap.String("container", c.ID), zap.Error(err))
				continue
			}
			out[model.JobHandle(c.ID)] = st
		}
	}
	return out, nil
}

func (g *Gateway) inspect(ctx context.Context, id string) (gateway.RemoteStatus, error) {
	info, err := g.cli.ContainerInspect(ctx, id)
	if err != nil {
		return gateway.RemoteStatus{}, err
	}
	if info.ContainerJSONBase == nil || info.State == nil {
		return gateway.RemoteStatus{}, fmt.Errorf("container %s: no state", id)
	}

	state := info.State
	rs := gateway.RemoteStatus{
		StartedAt: parseTime(state.StartedAt),
		EndedAt:   parseTime(state.FinishedAt),
	}
	switch {
	case state.ExitCode == 0 && !state.OOMKilled:
		rs.Status = model.StatusSucceeded
	case state.OOMKilled:
		rs.Status = model.StatusFailed
		rs.Message = "out of memory"
	default:
		rs.Status = model.StatusFailed
		rs.Message = fmt.Sprintf("exit code %d", state.ExitCode)
		if state.Error != "" {
			rs.Message += ": " + state.Error
		}
	}
	return rs, nil
}

// Terminate kills the container; it then reports exited with code 137.
func (g *Gateway) Terminate(ctx context.Context, handle model.JobHandle) error {
	return g.cli.ContainerKill(ctx, string(handle), "SIGKILL")
}

// Cleanup removes the finished containers of this gateway's session.
func (g *Gateway) Cleanup(ctx context.Context) error {
	args := filters.NewArgs(filters.Arg("label", LabelManaged+"=true"), filters.Arg("status", "exited"))
	if g.session != "" {
		args.Add("label", LabelSession+"="+g.session)
	}
	list, err := g.cli.ContainerList(ctx, types.ContainerListOptions{All: true, Filters: args})
	if err != nil {
		return err
	}

	var errs error
	for _, c := range list {
		if c.State != "exited" && c.State != "dead" {
			continue
		}
		errs = multierr.Append(errs, g.cli.ContainerRemove(ctx, c.ID, types.ContainerRemoveOptions{}))
	}
	return errs
}

// parseTime reads docker's RFC 3339 timestamps; the zero value
// "0001-01-01T00:00:00Z" means unset.
func parseTime(s string) *time.Time {
	if s == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return nil
	}
	return gateway.TimePtr(t)
}
