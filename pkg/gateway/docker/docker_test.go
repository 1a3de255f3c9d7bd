package docker

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap/zaptest"
	"gotest.tools/v3/assert"
	is "gotest.tools/v3/assert/cmp"

	"jobwatch/pkg/gateway"
	"jobwatch/pkg/gateway/docker/dockertest"
	"jobwatch/pkg/model"
)

func newGateway(t *testing.T) (*Gateway, *dockertest.Server) {
	srv := dockertest.New(t)
	return New(srv.Client(t), WithSession("s-1"), WithLogger(zaptest.NewLogger(t))), srv
}

func TestSubmitCreatesContainer(t *testing.T) {
	g, srv := newGateway(t)

	h, err := g.Submit(context.Background(), model.JobSpec{
		Name:       "extract",
		Image:      "alpine:3.20",
		Command:    []string{"sh", "-c", "echo hi"},
		Resources:  model.Resource{MilliCPU: 500, Memory: 64 << 20},
		Parameters: map[string]string{"B": "2", "A": "1"},
	})
	assert.NilError(t, err)

	c, ok := srv.Container(string(h))
	assert.Assert(t, ok)
	assert.Equal(t, c.State, "running")
	assert.DeepEqual(t, []string(c.Config.Cmd), []string{"sh", "-c", "echo hi"})
	assert.DeepEqual(t, c.Config.Env, []string{"A=1", "B=2"})
	assert.Equal(t, c.Config.Labels[LabelJob], "extract")
	assert.Equal(t, c.Config.Labels[LabelSession], "s-1")
	assert.Equal(t, c.HostConfig.NanoCPUs, int64(500_000_000))
	assert.Equal(t, c.HostConfig.Memory, int64(64<<20))
}

func TestSubmitRejected(t *testing.T) {
	g, srv := newGateway(t)
	ctx := context.Background()

	_, err := g.Submit(ctx, model.JobSpec{Name: "no-image"})
	var se *gateway.SubmissionError
	assert.Assert(t, errors.As(err, &se))

	_, err = g.Submit(ctx, model.JobSpec{Name: "bad-image", Image: "missing/image"})
	assert.Assert(t, errors.As(err, &se))
	assert.ErrorContains(t, err, "No such image")
	assert.Check(t, is.Len(srv.IDs(), 0))
}

func TestPollBatchesAndInspectsExited(t *testing.T) {
	g, srv := newGateway(t)
	ctx := context.Background()

	var handles []model.JobHandle
	for _, name := range []string{"ok", "bad", "busy"} {
		h, err := g.Submit(ctx, model.JobSpec{Name: name, Image: "alpine"})
		assert.NilError(t, err)
		handles = append(handles, h)
	}
	srv.Exit(string(handles[0]), 0, "done\n")
	srv.Exit(string(handles[1]), 3, "")

	out, err := g.Poll(ctx, append(handles, "0000unknown"))
	assert.NilError(t, err)
	assert.Equal(t, srv.ListCalls(), 1)
	assert.Equal(t, srv.InspectCalls(), 2)
	assert.Check(t, is.Len(out, 3))

	assert.Equal(t, out[handles[0]].Status, model.StatusSucceeded)
	assert.Assert(t, out[handles[0]].EndedAt != nil)
	assert.Equal(t, out[handles[1]].Status, model.StatusFailed)
	assert.Equal(t, out[handles[1]].Message, "exit code 3")
	assert.Equal(t, out[handles[2]].Status, model.StatusRunning)
}

func TestTerminateAndCleanup(t *testing.T) {
	g, srv := newGateway(t)
	ctx := context.Background()

	h, err := g.Submit(ctx, model.JobSpec{Name: "sleepy", Image: "alpine", Command: []string{"sleep", "600"}})
	assert.NilError(t, err)
	assert.NilError(t, g.Terminate(ctx, h))

	c, _ := srv.Container(string(h))
	assert.Check(t, c.Killed)

	out, err := g.Poll(ctx, []model.JobHandle{h})
	assert.NilError(t, err)
	assert.Equal(t, out[h].Status, model.StatusFailed)
	assert.Equal(t, out[h].Message, "exit code 137")

	assert.NilError(t, g.Cleanup(ctx))
	assert.Check(t, is.Len(srv.IDs(), 0))
}
