package sim

import (
	"context"
	"errors"
	"testing"

	"gotest.tools/v3/assert"

	"jobwatch/pkg/gateway"
	"jobwatch/pkg/model"
)

func TestScriptedLifecycle(t *testing.T) {
	ctx := context.Background()
	g := New(Behavior{Polls: 2}).Script("flaky", Behavior{Polls: 1, FailAttempts: 1})

	h, err := g.Submit(ctx, model.JobSpec{Name: "steady"})
	assert.NilError(t, err)

	st, err := g.Poll(ctx, []model.JobHandle{h})
	assert.NilError(t, err)
	assert.Equal(t, st[h].Status, model.StatusRunning)

	st, err = g.Poll(ctx, []model.JobHandle{h})
	assert.NilError(t, err)
	assert.Equal(t, st[h].Status, model.StatusSucceeded)

	f1, err := g.Submit(ctx, model.JobSpec{Name: "flaky"})
	assert.NilError(t, err)
	st, _ = g.Poll(ctx, []model.JobHandle{f1})
	assert.Equal(t, st[f1].Status, model.StatusFailed)

	f2, err := g.Submit(ctx, model.JobSpec{Name: "flaky"})
	assert.NilError(t, err)
	assert.Check(t, f1 != f2)
	st, _ = g.Poll(ctx, []model.JobHandle{f2})
	assert.Equal(t, st[f2].Status, model.StatusSucceeded)

	assert.DeepEqual(t, g.Submissions(), []string{"steady", "flaky", "flaky"})
	assert.Equal(t, g.MaxInFlight(), 1)
}

func TestRejectFromParameters(t *testing.T) {
	g := New(Behavior{})
	_, err := g.Submit(context.Background(), model.JobSpec{
		Name:       "d",
		Parameters: map[string]string{ParamReject: "true"},
	})

	var se *gateway.SubmissionError
	assert.Check(t, errors.As(err, &se))
	assert.Equal(t, se.Job, "d")
	assert.Check(t, errors.Is(err, ErrRejected))

	_, err = g.Submit(context.Background(), model.JobSpec{
		Name:       "e",
		Parameters: map[string]string{ParamPolls: "many"},
	})
	assert.ErrorContains(t, err, ParamPolls)
}

func TestPollErrors(t *testing.T) {
	ctx := context.Background()
	g := New(Behavior{Polls: 1}).Script("quiet", Behavior{Polls: 1, PollErrors: 2})

	h, err := g.Submit(ctx, model.JobSpec{Name: "quiet"})
	assert.NilError(t, err)

	for i := 0; i < 2; i++ {
		st, err := g.Poll(ctx, []model.JobHandle{h})
		assert.NilError(t, err)
		_, ok := st[h]
		assert.Check(t, !ok)
	}
	st, err := g.Poll(ctx, []model.JobHandle{h})
	assert.NilError(t, err)
	assert.Equal(t, st[h].Status, model.StatusSucceeded)

	g.FailNextPolls(1)
	_, err = g.Poll(ctx, []model.JobHandle{h})
	assert.ErrorContains(t, err, "simulated")
	assert.Equal(t, g.PollCalls(), 4)
}

func TestTerminate(t *testing.T) {
	ctx := context.Background()
	g := New(Behavior{Polls: 10})

	h, err := g.Submit(ctx, model.JobSpec{Name: "long"})
	assert.NilError(t, err)
	assert.NilError(t, g.Terminate(ctx, h))

	st, err := g.Poll(ctx, []model.JobHandle{h})
	assert.NilError(t, err)
	assert.Equal(t, st[h].Status, model.StatusFailed)
	assert.Equal(t, st[h].Message, "terminated")
	assert.ErrorContains(t, g.Terminate(ctx, "nope"), "unknown handle")
}
