package tracker

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"
	"gotest.tools/v3/assert"
	is "gotest.tools/v3/assert/cmp"
	"k8s.io/utils/clock"

	"jobwatch/pkg/gateway"
	"jobwatch/pkg/gateway/sim"
	"jobwatch/pkg/metrics"
	"jobwatch/pkg/model"
)

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// stepClock jumps forward on every After call, so a session runs
// without real sleeps and every cycle is exactly one wait apart.
type stepClock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps int
}

func newStepClock() *stepClock {
	return &stepClock{now: epoch}
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *stepClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	c.sleeps++
	ch := make(chan time.Time, 1)
	ch <- c.now
	return ch
}

func (c *stepClock) cycles() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sleeps + 1
}

// checkingGateway wraps the simulator and fails the test when a job is
// submitted before every one of its dependencies was reported Succeeded.
type checkingGateway struct {
	*sim.Gateway
	t         *testing.T
	deps      map[string][]string
	mu        sync.Mutex
	jobs      map[model.JobHandle]string
	succeeded map[string]bool
}

func newCheckingGateway(t *testing.T, g *sim.Gateway, specs []model.JobSpec) *checkingGateway {
	deps := make(map[string][]string, len(specs))
	for _, s := range specs {
		deps[s.Name] = s.DependsOn
	}
	return &checkingGateway{
		Gateway:   g,
		t:         t,
		deps:      deps,
		jobs:      make(map[model.JobHandle]string),
		succeeded: make(map[string]bool),
	}
}

func (g *checkingGateway) Submit(ctx context.Context, spec model.JobSpec) (model.JobHandle, error) {
	g.mu.Lock()
	for _, dep := range g.deps[spec.Name] {
		if !g.succeeded[dep] {
			g.t.Errorf("%s submitted before dependency %s succeeded", spec.Name, dep)
		}
	}
	g.mu.Unlock()

	h, err := g.Gateway.Submit(ctx, spec)
	if err == nil {
		g.mu.Lock()
		g.jobs[h] = spec.Name
		g.mu.Unlock()
	}
	return h, err
}

func (g *checkingGateway) Poll(ctx context.Context, handles []model.JobHandle) (map[model.JobHandle]gateway.RemoteStatus, error) {
	out, err := g.Gateway.Poll(ctx, handles)
	g.mu.Lock()
	defer g.mu.Unlock()
	for h, st := range out {
		if st.Status == model.StatusSucceeded {
			g.succeeded[g.jobs[h]] = true
		}
	}
	return out, err
}

func newTestTracker(t *testing.T, gw gateway.Gateway, cfg Config, clk Clock, emitter metrics.Emitter) *Tracker {
	if cfg.PollInterval == 0 {
		cfg.PollInterval = time.Second
	}
	return New(gw, emitter, cfg, WithClock(clk), WithLogger(zaptest.NewLogger(t)))
}

func recordOf(t *testing.T, report *model.AggregateReport, name string) model.RecordSummary {
	t.Helper()
	for _, r := range report.Records {
		if r.Name == name {
			return r
		}
	}
	t.Fatalf("no record %q in report", name)
	return model.RecordSummary{}
}

func TestDependentsWaitForParent(t *testing.T) {
	specs := []model.JobSpec{
		{Name: "A"},
		{Name: "B", DependsOn: []string{"A"}},
		{Name: "C", DependsOn: []string{"A"}},
	}
	simGw := sim.New(sim.Behavior{Polls: 1})
	gw := newCheckingGateway(t, simGw, specs)
	clk := newStepClock()

	report, err := newTestTracker(t, gw, Config{Concurrency: 4}, clk, nil).Start(context.Background(), specs)
	assert.NilError(t, err)

	// B and C go out together in the second cycle, in either order
	subs := simGw.Submissions()
	assert.Equal(t, len(subs), 3)
	assert.Equal(t, subs[0], "A")
	sort.Strings(subs[1:])
	assert.DeepEqual(t, subs[1:], []string{"B", "C"})
	assert.Equal(t, report.Counts.Succeeded, 3)
	assert.Check(t, report.Succeeded())
	assert.Equal(t, clk.cycles(), 2)
	for _, r := range report.Records {
		assert.Equal(t, r.Attempts, 1)
	}
}

func TestConcurrencyLimit(t *testing.T) {
	var specs []model.JobSpec
	for _, n := range []string{"j1", "j2", "j3", "j4", "j5"} {
		specs = append(specs, model.JobSpec{Name: n})
	}
	gw := sim.New(sim.Behavior{Polls: 2})
	clk := newStepClock()

	report, err := newTestTracker(t, gw, Config{Concurrency: 2}, clk, nil).Start(context.Background(), specs)
	assert.NilError(t, err)

	assert.Equal(t, gw.MaxInFlight(), 2)
	subs := gw.Submissions()
	sort.Strings(subs[0:2])
	sort.Strings(subs[2:4])
	assert.DeepEqual(t, subs, []string{"j1", "j2", "j3", "j4", "j5"})
	assert.Equal(t, report.Counts.Succeeded, 5)
	// ceil(5/2) waves of two cycles each
	assert.Equal(t, clk.cycles(), 6)
	assert.Equal(t, report.Duration, 5*time.Second)
}

func TestGlobalTimeout(t *testing.T) {
	specs := []model.JobSpec{{Name: "a"}, {Name: "b"}, {Name: "c"}, {Name: "d"}}
	gw := sim.New(sim.Behavior{Polls: 1}).
		Script("b", sim.Behavior{Polls: 1, FailAttempts: 1}).
		Script("c", sim.Behavior{Polls: 100}).
		Script("d", sim.Behavior{Polls: 100})

	report, err := newTestTracker(t, gw, Config{Concurrency: 4, Timeout: 5 * time.Second}, newStepClock(), nil).
		Start(context.Background(), specs)
	assert.NilError(t, err)

	assert.Equal(t, recordOf(t, report, "a").Status, model.StatusSucceeded)
	assert.Equal(t, recordOf(t, report, "b").Status, model.StatusFailed)
	assert.Equal(t, recordOf(t, report, "c").Status, model.StatusTimedOut)
	assert.Equal(t, recordOf(t, report, "d").Status, model.StatusTimedOut)
	assert.Check(t, is.Contains(recordOf(t, report, "c").Note, "timeout"))
	assert.Check(t, report.TimedOut)
	assert.Equal(t, report.Duration, 5*time.Second)
	// polled at t=0..4, never again once the deadline hit
	assert.Equal(t, gw.PollCalls(), 5)
}

func TestSubmissionErrorCascades(t *testing.T) {
	specs := []model.JobSpec{
		{Name: "D", Retry: model.RetryPolicy{MaxAttempts: 5}},
		{Name: "E", DependsOn: []string{"D"}},
		{Name: "F", DependsOn: []string{"E"}},
		{Name: "G"},
	}
	gw := sim.New(sim.Behavior{Polls: 1}).Script("D", sim.Behavior{Reject: true})

	report, err := newTestTracker(t, gw, Config{Concurrency: 4}, newStepClock(), nil).Start(context.Background(), specs)
	assert.NilError(t, err)

	d := recordOf(t, report, "D")
	assert.Equal(t, d.Status, model.StatusFailed)
	assert.Equal(t, d.Attempts, 0)
	assert.Check(t, is.Contains(d.Note, "submission rejected"))

	for _, name := range []string{"E", "F"} {
		r := recordOf(t, report, name)
		assert.Equal(t, r.Status, model.StatusFailed)
		assert.Equal(t, r.Attempts, 0)
		assert.Check(t, is.Contains(r.Note, "blocked"))
	}
	assert.Equal(t, recordOf(t, report, "G").Status, model.StatusSucceeded)
	assert.DeepEqual(t, gw.Submissions(), []string{"G"})
	assert.Equal(t, report.Counts.Submitted, 1)
}

func TestRetryPolicy(t *testing.T) {
	specs := []model.JobSpec{
		{Name: "flaky", Retry: model.RetryPolicy{MaxAttempts: 3}},
		{Name: "doomed", Retry: model.RetryPolicy{MaxAttempts: 2}},
		{Name: "after-doomed", DependsOn: []string{"doomed"}},
	}
	gw := sim.New(sim.Behavior{Polls: 1}).
		Script("flaky", sim.Behavior{Polls: 1, FailAttempts: 2}).
		Script("doomed", sim.Behavior{Polls: 1, FailAttempts: 10})

	report, err := newTestTracker(t, gw, Config{Concurrency: 4}, newStepClock(), nil).Start(context.Background(), specs)
	assert.NilError(t, err)

	flaky := recordOf(t, report, "flaky")
	assert.Equal(t, flaky.Status, model.StatusSucceeded)
	assert.Equal(t, flaky.Attempts, 3)

	doomed := recordOf(t, report, "doomed")
	assert.Equal(t, doomed.Status, model.StatusFailed)
	assert.Equal(t, doomed.Attempts, 2)
	assert.Check(t, is.Contains(doomed.Note, "attempt 2 failed"))

	after := recordOf(t, report, "after-doomed")
	assert.Equal(t, after.Status, model.StatusFailed)
	assert.Equal(t, after.Attempts, 0)

	count := map[string]int{}
	for _, n := range gw.Submissions() {
		count[n]++
	}
	assert.DeepEqual(t, count, map[string]int{"flaky": 3, "doomed": 2})
}

func TestRetryBackoff(t *testing.T) {
	specs := []model.JobSpec{{
		Name:  "slow-retry",
		Retry: model.RetryPolicy{MaxAttempts: 3, Backoff: 3 * time.Second, Strategy: model.BackoffExponential},
	}}
	gw := sim.New(sim.Behavior{Polls: 1, FailAttempts: 2})

	report, err := newTestTracker(t, gw, Config{Concurrency: 1}, newStepClock(), nil).Start(context.Background(), specs)
	assert.NilError(t, err)

	r := recordOf(t, report, "slow-retry")
	assert.Equal(t, r.Status, model.StatusSucceeded)
	assert.Equal(t, r.Attempts, 3)
	// fails at t=0, resubmitted at t=3, fails, resubmitted at t=3+6
	assert.Equal(t, report.Duration, 9*time.Second)
	assert.Equal(t, r.Duration, 9*time.Second)
}

func TestInvalidGraphRejectedBeforeSubmission(t *testing.T) {
	gw := sim.New(sim.Behavior{Polls: 1})
	tr := newTestTracker(t, gw, Config{Concurrency: 2}, newStepClock(), nil)

	_, err := tr.Start(context.Background(), []model.JobSpec{
		{Name: "a", DependsOn: []string{"c"}},
		{Name: "b", DependsOn: []string{"a"}},
		{Name: "c", DependsOn: []string{"b"}},
		{Name: "free"},
	})
	assert.Check(t, errors.Is(err, ErrInvalidGraph))
	assert.Check(t, IsCycle(err))
	assert.ErrorContains(t, err, "a -> c -> b -> a")

	_, err = tr.Start(context.Background(), []model.JobSpec{
		{Name: "a", DependsOn: []string{"ghost"}},
		{Name: "a"},
		{Name: ""},
	})
	var ige *InvalidGraphError
	assert.Assert(t, errors.As(err, &ige))
	assert.Equal(t, len(ige.Problems()), 3)
	assert.Check(t, !IsCycle(err))

	_, err = tr.Start(context.Background(), []model.JobSpec{{Name: "self", DependsOn: []string{"self"}}})
	assert.Check(t, IsCycle(err))

	assert.Equal(t, len(gw.Submissions()), 0)
}

func TestConcurrencyMustBePositive(t *testing.T) {
	tr := newTestTracker(t, sim.New(sim.Behavior{}), Config{Concurrency: 0}, newStepClock(), nil)
	_, err := tr.Start(context.Background(), []model.JobSpec{{Name: "a"}})
	assert.ErrorContains(t, err, "concurrency limit")
}

func TestPollErrors(t *testing.T) {
	specs := []model.JobSpec{{Name: "quiet"}, {Name: "hiccup"}}
	gw := sim.New(sim.Behavior{Polls: 1}).
		Script("quiet", sim.Behavior{Polls: 1, PollErrors: 10}).
		Script("hiccup", sim.Behavior{Polls: 1, PollErrors: 2})

	report, err := newTestTracker(t, gw, Config{Concurrency: 2, MaxPollErrors: 3}, newStepClock(), nil).
		Start(context.Background(), specs)
	assert.NilError(t, err)

	quiet := recordOf(t, report, "quiet")
	assert.Equal(t, quiet.Status, model.StatusFailed)
	assert.Check(t, is.Contains(quiet.Note, "status unavailable after 3 consecutive poll errors"))
	assert.Equal(t, recordOf(t, report, "hiccup").Status, model.StatusSucceeded)
}

func TestWholePollFailureCountsPerHandle(t *testing.T) {
	gw := sim.New(sim.Behavior{Polls: 1})
	gw.FailNextPolls(2)

	report, err := newTestTracker(t, gw, Config{Concurrency: 1}, newStepClock(), nil).
		Start(context.Background(), []model.JobSpec{{Name: "a"}})
	assert.NilError(t, err)
	assert.Equal(t, recordOf(t, report, "a").Status, model.StatusSucceeded)
	assert.Equal(t, gw.PollCalls(), 3)

	gw = sim.New(sim.Behavior{Polls: 1})
	gw.FailNextPolls(3)

	report, err = newTestTracker(t, gw, Config{Concurrency: 1}, newStepClock(), nil).
		Start(context.Background(), []model.JobSpec{{Name: "a"}})
	assert.NilError(t, err)
	a := recordOf(t, report, "a")
	assert.Equal(t, a.Status, model.StatusFailed)
	assert.Check(t, is.Contains(a.Note, "status unavailable after 3 consecutive poll errors"))
	assert.Equal(t, gw.PollCalls(), 3)
}

func TestSubmitRateFollowsSessionClock(t *testing.T) {
	specs := []model.JobSpec{{Name: "j1"}, {Name: "j2"}, {Name: "j3"}, {Name: "j4"}, {Name: "j5"}}
	gw := sim.New(sim.Behavior{Polls: 1000})
	clk := newStepClock()

	cfg := Config{Concurrency: 5, SubmitRate: 1, PollInterval: 10 * time.Second, Timeout: 3500 * time.Millisecond}
	report, err := newTestTracker(t, gw, cfg, clk, nil).Start(context.Background(), specs)
	assert.NilError(t, err)

	assert.DeepEqual(t, gw.Submissions(), []string{"j1", "j2", "j3", "j4"})
	for i, name := range []string{"j1", "j2", "j3", "j4"} {
		r := recordOf(t, report, name)
		assert.Assert(t, r.SubmittedAt != nil, name)
		assert.Equal(t, *r.SubmittedAt, epoch.Add(time.Duration(i)*time.Second), name)
		assert.Equal(t, r.Status, model.StatusTimedOut, name)
	}
	j5 := recordOf(t, report, "j5")
	assert.Equal(t, j5.Status, model.StatusTimedOut)
	assert.Equal(t, j5.Attempts, 0)
	assert.Check(t, is.Contains(j5.Note, "while PENDING"))
	assert.Check(t, report.TimedOut)
	assert.Equal(t, report.Duration, 3500*time.Millisecond)
}

// stallingGateway never answers Submit or Poll until the call's context ends.
type stallingGateway struct {
	*sim.Gateway
	submit, poll bool
}

func (g *stallingGateway) Submit(ctx context.Context, spec model.JobSpec) (model.JobHandle, error) {
	if g.submit {
		<-ctx.Done()
		return "", gateway.Rejected(spec.Name, ctx.Err())
	}
	return g.Gateway.Submit(ctx, spec)
}

func (g *stallingGateway) Poll(ctx context.Context, handles []model.JobHandle) (map[model.JobHandle]gateway.RemoteStatus, error) {
	if g.poll {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return g.Gateway.Poll(ctx, handles)
}

func TestTimeoutBoundsGatewayCalls(t *testing.T) {
	tests := []struct {
		name   string
		gw     *stallingGateway
		status string
	}{
		{name: "submit", gw: &stallingGateway{Gateway: sim.New(sim.Behavior{Polls: 1}), submit: true}, status: "PENDING"},
		{name: "poll", gw: &stallingGateway{Gateway: sim.New(sim.Behavior{Polls: 1}), poll: true}, status: "SUBMITTED"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Config{Concurrency: 1, Timeout: 200 * time.Millisecond}
			start := time.Now()
			report, err := newTestTracker(t, tc.gw, cfg, clock.RealClock{}, nil).
				Start(context.Background(), []model.JobSpec{{Name: "a"}})
			assert.NilError(t, err)
			assert.Check(t, time.Since(start) < 2*time.Second, "took %s", time.Since(start))

			a := recordOf(t, report, "a")
			assert.Equal(t, a.Status, model.StatusTimedOut)
			assert.Check(t, is.Contains(a.Note, "session timeout reached while "+tc.status))
			assert.Equal(t, report.Counts.Failed, 0)
			assert.Check(t, report.TimedOut)
		})
	}
}

func TestAttemptTimeout(t *testing.T) {
	specs := []model.JobSpec{{
		Name:    "stuck",
		Timeout: 2 * time.Second,
		Retry:   model.RetryPolicy{MaxAttempts: 2},
	}}
	gw := sim.New(sim.Behavior{Polls: 1000})

	report, err := newTestTracker(t, gw, Config{Concurrency: 1}, newStepClock(), nil).Start(context.Background(), specs)
	assert.NilError(t, err)

	r := recordOf(t, report, "stuck")
	assert.Equal(t, r.Status, model.StatusFailed)
	assert.Equal(t, r.Attempts, 2)
	assert.Check(t, is.Contains(r.Note, "exceeded timeout 2s"))
	assert.Equal(t, gw.MaxInFlight(), 1)
}

// cancellingGateway cancels the session from inside its n-th poll.
type cancellingGateway struct {
	*sim.Gateway
	cancel context.CancelFunc
	after  int
	calls  int
}

func (g *cancellingGateway) Poll(ctx context.Context, handles []model.JobHandle) (map[model.JobHandle]gateway.RemoteStatus, error) {
	g.calls++
	out, err := g.Gateway.Poll(ctx, handles)
	if g.calls == g.after {
		g.cancel()
	}
	return out, err
}

func TestCallerCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	specs := []model.JobSpec{
		{Name: "quick"},
		{Name: "long"},
		{Name: "waiting", DependsOn: []string{"long"}},
	}
	gw := &cancellingGateway{
		Gateway: sim.New(sim.Behavior{Polls: 1}).Script("long", sim.Behavior{Polls: 50}),
		cancel:  cancel,
		after:   2,
	}

	var emitted *model.AggregateReport
	emitter := metrics.EmitterFunc(func(ctx context.Context, r *model.AggregateReport) error {
		assert.NilError(t, ctx.Err())
		emitted = r
		return nil
	})

	report, err := newTestTracker(t, gw, Config{Concurrency: 2}, newStepClock(), emitter).Start(ctx, specs)
	assert.NilError(t, err)

	assert.Equal(t, recordOf(t, report, "quick").Status, model.StatusSucceeded)
	assert.Equal(t, recordOf(t, report, "long").Status, model.StatusCancelled)
	assert.Equal(t, recordOf(t, report, "waiting").Status, model.StatusCancelled)
	assert.Check(t, report.Cancelled)
	assert.Check(t, !report.TimedOut)
	assert.Equal(t, emitted, report)
}

// slowCancelGateway spends time on the session clock inside Submit and
// cancels the session before returning.
type slowCancelGateway struct {
	*sim.Gateway
	clk    *stepClock
	cancel context.CancelFunc
}

func (g *slowCancelGateway) Submit(ctx context.Context, spec model.JobSpec) (model.JobHandle, error) {
	h, err := g.Gateway.Submit(ctx, spec)
	g.clk.After(2 * time.Second)
	g.cancel()
	return h, err
}

func TestCancelledBatchStampsReturnTime(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	clk := newStepClock()
	gw := &slowCancelGateway{Gateway: sim.New(sim.Behavior{Polls: 5}), clk: clk, cancel: cancel}

	report, err := newTestTracker(t, gw, Config{Concurrency: 1}, clk, nil).
		Start(ctx, []model.JobSpec{{Name: "a"}})
	assert.NilError(t, err)

	a := recordOf(t, report, "a")
	assert.Equal(t, a.Status, model.StatusCancelled)
	assert.Assert(t, a.SubmittedAt != nil)
	assert.Equal(t, *a.SubmittedAt, epoch.Add(2*time.Second))
	assert.Check(t, report.Cancelled)
}

func TestEmitterFailuresAreSwallowed(t *testing.T) {
	specs := []model.JobSpec{{Name: "a"}}

	failing := metrics.EmitterFunc(func(context.Context, *model.AggregateReport) error {
		return errors.New("sink down")
	})
	report, err := newTestTracker(t, sim.New(sim.Behavior{Polls: 1}), Config{Concurrency: 1}, newStepClock(), failing).
		Start(context.Background(), specs)
	assert.NilError(t, err)
	assert.Equal(t, report.Counts.Succeeded, 1)

	panicking := metrics.EmitterFunc(func(context.Context, *model.AggregateReport) error {
		panic("boom")
	})
	report, err = newTestTracker(t, sim.New(sim.Behavior{Polls: 1}), Config{Concurrency: 1}, newStepClock(), panicking).
		Start(context.Background(), specs)
	assert.NilError(t, err)
	assert.Equal(t, report.Counts.Succeeded, 1)
}

func TestSessionID(t *testing.T) {
	tr := newTestTracker(t, sim.New(sim.Behavior{Polls: 1}), Config{Concurrency: 1, Session: "nightly"}, newStepClock(), nil)
	report, err := tr.Start(context.Background(), []model.JobSpec{{Name: "a"}})
	assert.NilError(t, err)
	assert.Equal(t, report.Session, "nightly")

	tr = newTestTracker(t, sim.New(sim.Behavior{Polls: 1}), Config{Concurrency: 1}, newStepClock(), nil)
	report, err = tr.Start(context.Background(), []model.JobSpec{{Name: "a"}})
	assert.NilError(t, err)
	assert.Check(t, report.Session != "")
}

// TestRandomGraphs checks the session invariants over generated DAGs.
func TestRandomGraphs(t *testing.T) {
	for seed := int64(1); seed <= 25; seed++ {
		t.Run(fmt.Sprintf("seed-%d", seed), func(t *testing.T) {
			rng := rand.New(rand.NewSource(seed))
			n := 4 + rng.Intn(12)
			concurrency := 1 + rng.Intn(4)

			specs := make([]model.JobSpec, n)
			simGw := sim.New(sim.Behavior{Polls: 1})
			for i := range specs {
				name := fmt.Sprintf("job-%02d", i)
				specs[i] = model.JobSpec{Name: name, Retry: model.RetryPolicy{MaxAttempts: 1 + rng.Intn(3)}}
				for j := 0; j < i; j++ {
					if rng.Intn(4) == 0 {
						specs[i].DependsOn = append(specs[i].DependsOn, specs[j].Name)
					}
				}
				simGw.Script(name, sim.Behavior{
					Polls:        1 + rng.Intn(3),
					FailAttempts: rng.Intn(3),
					Reject:       rng.Intn(10) == 0,
				})
			}
			gw := newCheckingGateway(t, simGw, specs)

			report, err := newTestTracker(t, gw, Config{Concurrency: concurrency}, newStepClock(), nil).
				Start(context.Background(), specs)
			assert.NilError(t, err)

			assert.Check(t, simGw.MaxInFlight() <= concurrency)
			assert.Equal(t, len(report.Records), n)

			byName := map[string]model.RecordSummary{}
			for _, r := range report.Records {
				byName[r.Name] = r
				assert.Check(t, r.Status == model.StatusSucceeded || r.Status == model.StatusFailed, "%s ended %s", r.Name, r.Status)
				assert.Check(t, r.Attempts <= specs[indexOf(specs, r.Name)].Retry.Attempts())
			}
			for _, s := range specs {
				for _, dep := range s.DependsOn {
					if byName[dep].Status != model.StatusSucceeded {
						assert.Equal(t, byName[s.Name].Status, model.StatusFailed)
						assert.Equal(t, byName[s.Name].Attempts, 0)
					}
				}
			}
		})
	}
}

func indexOf(specs []model.JobSpec, name string) int {
	for i, s := range specs {
		if s.Name == name {
			return i
		}
	}
	return -1
}
