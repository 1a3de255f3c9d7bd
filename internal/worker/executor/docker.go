// Package executor runs cluster jobs in local docker containers.
package executor

import (
	"bytes"
	"context"
	"fmt"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"go.uber.org/zap"

	"jobwatch/internal/worker"
	"jobwatch/pkg/model"
)

const DefaultImage = "alpine:latest"

type DockerExecutor struct {
	cli    client.APIClient
	logger *zap.Logger
}

var _ worker.Executor = (*DockerExecutor)(nil)

// NewDockerExecutor connects to the daemon from the environment
// (DOCKER_HOST and friends) or the default socket.
func NewDockerExecutor(logger *zap.Logger, opts ...client.Opt) (*DockerExecutor, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if len(opts) == 0 {
		opts = []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
	}
	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, err
	}
	return &DockerExecutor{cli: cli, logger: logger.Named("docker-executor")}, nil
}

// Run creates, starts and waits for the container, collects its output
// and removes it. Images are expected to be present on the node.
func (e *DockerExecutor) Run(ctx context.Context, job *model.RemoteJob) (worker.Result, error) {
	image := job.Image
	if image == "" {
		image = DefaultImage
	}
	log := e.logger.With(zap.String("handle", string(job.Handle)), zap.String("image", image))

	resp, err := e.cli.ContainerCreate(ctx, &container.Config{
		Image:  image,
		Cmd:    job.Command,
		Env:    job.Envs,
		Tty:    false,
		Labels: map[string]string{"jobwatch.handle": string(job.Handle)},
	}, &container.HostConfig{
		Resources: container.Resources{
			NanoCPUs: job.ResReq.MilliCPU * 1_000_000,
			Memory:   job.ResReq.Memory,
		},
	}, nil, nil, "")
	if err != nil {
		return worker.Result{}, fmt.Errorf("create container: %w", err)
	}
	containerID := resp.ID
	log = log.With(zap.String("container", shortID(containerID)))
	log.Debug("container created")

	// removal must outlive a cancelled job
	defer func() {
		rmCtx := context.WithoutCancel(ctx)
		if err := e.cli.ContainerRemove(rmCtx, containerID, types.ContainerRemoveOptions{Force: true}); err != nil {
			log.Warn("failed to remove container", zap.Error(err))
		}
	}()

	if err := e.cli.ContainerStart(ctx, containerID, types.ContainerStartOptions{}); err != nil {
		return worker.Result{}, fmt.Errorf("start container: %w", err)
	}
	log.Debug("container started")

	var res worker.Result
	statusCh, errCh := e.cli.ContainerWait(ctx, containerID, container.WaitConditionNotRunning)
	select {
	case err := <-errCh:
		if err != nil {
			res.Output = e.logs(context.WithoutCancel(ctx), containerID, log)
			return res, fmt.Errorf("wait container: %w", err)
		}
	case status := <-statusCh:
		res.ExitCode = int(status.StatusCode)
		if status.Error != nil && status.Error.Message != "" {
			res.Output = e.logs(ctx, containerID, log)
			return res, fmt.Errorf("container: %s", status.Error.Message)
		}
	}

	res.Output = e.logs(ctx, containerID, log)
	log.Info("container exited", zap.Int("exit_code", res.ExitCode))
	return res, nil
}

// logs demultiplexes stdout and stderr into one buffer.
func (e *DockerExecutor) logs(ctx context.Context, containerID string, log *zap.Logger) string {
	out, err := e.cli.ContainerLogs(ctx, containerID, types.ContainerLogsOptions{ShowStdout: true, ShowStderr: true})
	if err != nil {
		log.Warn("failed to read container logs", zap.Error(err))
		return ""
	}
	defer out.Close()

	var buf bytes.Buffer
	if _, err := stdcopy.StdCopy(&buf, &buf, out); err != nil {
		log.Warn("failed to demultiplex container logs", zap.Error(err))
	}
	return buf.String()
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
