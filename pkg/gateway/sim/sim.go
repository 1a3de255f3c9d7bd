// Package sim is an in-process backend whose jobs follow a script.
// It backs dry runs and tests of the tracker.
package sim

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"jobwatch/pkg/gateway"
	"jobwatch/pkg/model"
)

// Parameter keys that override the script of a single job.
const (
	ParamPolls        = "sim.polls"
	ParamFailAttempts = "sim.failAttempts"
	ParamReject       = "sim.reject"
	ParamPollErrors   = "sim.pollErrors"
)

// ErrRejected is returned by Submit for jobs scripted to be rejected.
var ErrRejected = errors.New("rejected by simulator")

// Behavior scripts one job.
type Behavior struct {
	Polls        int  // polls per attempt until it ends; the last one reports the outcome
	FailAttempts int  // the first N attempts end Failed
	Reject       bool // Submit fails
	PollErrors   int  // the first N polls leave the handle out of the answer
}

type execution struct {
	handle     model.JobHandle
	job        string
	attempt    int
	polls      int
	terminated bool
	done       bool
}

// Gateway is a scripted gateway.Gateway. Safe for concurrent use.
type Gateway struct {
	mu          sync.Mutex
	defaults    Behavior
	scripts     map[string]Behavior
	attempts    map[string]int
	pollErrors  map[string]int
	executions  map[model.JobHandle]*execution
	submissions []string
	inFlight    int
	maxInFlight int
	pollCalls   int
	failPolls   int
}

// New returns a simulator whose unscripted jobs follow defaults.
func New(defaults Behavior) *Gateway {
	return &Gateway{
		defaults:   defaults,
		scripts:    make(map[string]Behavior),
		attempts:   make(map[string]int),
		pollErrors: make(map[string]int),
		executions: make(map[model.JobHandle]*execution),
	}
}

// Script sets the behavior of one job by name.
func (g *Gateway) Script(job string, b Behavior) *Gateway {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.scripts[job] = b
	return g
}

// FailNextPolls makes the next n Poll calls fail as a whole.
func (g *Gateway) FailNextPolls(n int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failPolls = n
}

func (g *Gateway) Submit(ctx context.Context, spec model.JobSpec) (model.JobHandle, error) {
	if err := ctx.Err(); err != nil {
		return "", gateway.Rejected(spec.Name, err)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	b, err := g.behaviorLocked(spec)
	if err != nil {
		return "", gateway.Rejected(spec.Name, err)
	}
	if b.Reject {
		return "", gateway.Rejected(spec.Name, ErrRejected)
	}

	if _, seen := g.attempts[spec.Name]; !seen {
		g.pollErrors[spec.Name] = b.PollErrors
	}
	g.attempts[spec.Name]++
	attempt := g.attempts[spec.Name]
	handle := model.JobHandle(fmt.Sprintf("sim-%s-%d", spec.Name, attempt))

	g.executions[handle] = &execution{handle: handle, job: spec.Name, attempt: attempt}
	g.submissions = append(g.submissions, spec.Name)
	g.inFlight++
	if g.inFlight > g.maxInFlight {
		g.maxInFlight = g.inFlight
	}
	return handle, nil
}

func (g *Gateway) Poll(ctx context.Context, handles []model.JobHandle) (map[model.JobHandle]gateway.RemoteStatus, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	g.pollCalls++
	if g.failPolls > 0 {
		g.failPolls--
		return nil, errors.New("simulated poll failure")
	}

	out := make(map[model.JobHandle]gateway.RemoteStatus, len(handles))
	for _, h := range handles {
		exec, ok := g.executions[h]
		if !ok {
			continue
		}
		if g.pollErrors[exec.job] > 0 {
			g.pollErrors[exec.job]--
			continue
		}
		out[h] = g.advanceLocked(exec)
	}
	return out, nil
}

// Terminate ends an execution; the next poll reports it Failed.
func (g *Gateway) Terminate(ctx context.Context, handle model.JobHandle) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	exec, ok := g.executions[handle]
	if !ok {
		return fmt.Errorf("unknown handle %s", handle)
	}
	exec.terminated = true
	g.finishLocked(exec)
	return nil
}

func (g *Gateway) advanceLocked(exec *execution) gateway.RemoteStatus {
	if exec.done {
		return g.outcomeLocked(exec)
	}

	b := g.scriptLocked(exec.job)
	polls := b.Polls
	if polls < 1 {
		polls = 1
	}

	exec.polls++
	if exec.polls < polls {
		return gateway.RemoteStatus{Status: model.StatusRunning}
	}
	g.finishLocked(exec)
	return g.outcomeLocked(exec)
}

func (g *Gateway) finishLocked(exec *execution) {
	if exec.done {
		return
	}
	exec.done = true
	g.inFlight--
}

func (g *Gateway) outcomeLocked(exec *execution) gateway.RemoteStatus {
	if exec.terminated {
		return gateway.RemoteStatus{Status: model.StatusFailed, Message: "terminated"}
	}
	if exec.attempt <= g.scriptLocked(exec.job).FailAttempts {
		return gateway.RemoteStatus{Status: model.StatusFailed, Message: fmt.Sprintf("attempt %d failed", exec.attempt)}
	}
	return gateway.RemoteStatus{Status: model.StatusSucceeded}
}

func (g *Gateway) scriptLocked(job string) Behavior {
	if b, ok := g.scripts[job]; ok {
		return b
	}
	return g.defaults
}

// behaviorLocked resolves the script for spec, letting sim.* parameters
// override it. The result is remembered for later polls.
func (g *Gateway) behaviorLocked(spec model.JobSpec) (Behavior, error) {
	b := g.scriptLocked(spec.Name)
	if len(spec.Parameters) == 0 {
		return b, nil
	}

	var err error
	if v, ok := spec.Parameters[ParamPolls]; ok {
		if b.Polls, err = strconv.Atoi(v); err != nil {
			return b, fmt.Errorf("%s: %w", ParamPolls, err)
		}
	}
	if v, ok := spec.Parameters[ParamFailAttempts]; ok {
		if b.FailAttempts, err = strconv.Atoi(v); err != nil {
			return b, fmt.Errorf("%s: %w", ParamFailAttempts, err)
		}
	}
	if v, ok := spec.Parameters[ParamPollErrors]; ok {
		if b.PollErrors, err = strconv.Atoi(v); err != nil {
			return b, fmt.Errorf("%s: %w", ParamPollErrors, err)
		}
	}
	if v, ok := spec.Parameters[ParamReject]; ok {
		if b.Reject, err = strconv.ParseBool(v); err != nil {
			return b, fmt.Errorf("%s: %w", ParamReject, err)
		}
	}
	g.scripts[spec.Name] = b
	return b, nil
}

// Submissions returns job names in the order they were accepted.
func (g *Gateway) Submissions() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.submissions...)
}

// MaxInFlight is the highest number of unfinished executions seen at once.
func (g *Gateway) MaxInFlight() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.maxInFlight
}

// PollCalls counts Poll invocations.
func (g *Gateway) PollCalls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.pollCalls
}
