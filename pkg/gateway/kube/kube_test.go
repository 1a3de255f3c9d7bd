package kube

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"
	"gotest.tools/v3/assert"
	is "gotest.tools/v3/assert/cmp"
	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/client-go/kubernetes/fake"
	k8stesting "k8s.io/client-go/testing"

	"jobwatch/pkg/gateway"
	"jobwatch/pkg/model"
)

const ns = "batch"

func newGateway(t *testing.T) (*Gateway, *fake.Clientset) {
	cs := fake.NewSimpleClientset()
	return New(cs, WithNamespace(ns), WithInstance("run-1"), WithLogger(zaptest.NewLogger(t))), cs
}

func setStatus(t *testing.T, cs *fake.Clientset, name string, status batchv1.JobStatus) {
	t.Helper()
	ctx := context.Background()
	job, err := cs.BatchV1().Jobs(ns).Get(ctx, name, metav1.GetOptions{})
	assert.NilError(t, err)
	job.Status = status
	_, err = cs.BatchV1().Jobs(ns).UpdateStatus(ctx, job, metav1.UpdateOptions{})
	assert.NilError(t, err)
}

func TestSubmitBuildsJob(t *testing.T) {
	g, cs := newGateway(t)

	h, err := g.Submit(context.Background(), model.JobSpec{
		Name:       "Nightly_ETL",
		Image:      "alpine:3.20",
		Command:    []string{"sh", "-c", "true"},
		Resources:  model.Resource{MilliCPU: 500, Memory: 256 << 20},
		Timeout:    90 * time.Second,
		Parameters: map[string]string{"STAGE": "load"},
	})
	assert.NilError(t, err)
	assert.Check(t, strings.HasPrefix(string(h), "nightly-etl-"))

	job, err := cs.BatchV1().Jobs(ns).Get(context.Background(), string(h), metav1.GetOptions{})
	assert.NilError(t, err)
	assert.Equal(t, *job.Spec.BackoffLimit, int32(0))
	assert.Equal(t, *job.Spec.ActiveDeadlineSeconds, int64(90))
	assert.Equal(t, job.Labels[LabelInstance], "run-1")
	assert.Equal(t, job.Annotations["jobwatch.io/name"], "Nightly_ETL")

	c := job.Spec.Template.Spec.Containers[0]
	assert.DeepEqual(t, c.Command, []string{"sh", "-c", "true"})
	assert.DeepEqual(t, c.Env, []corev1.EnvVar{{Name: "STAGE", Value: "load"}})
	assert.Equal(t, c.Resources.Limits.Cpu().String(), "500m")
	assert.Equal(t, c.Resources.Requests.Memory().String(), "256Mi")
	assert.Equal(t, job.Spec.Template.Spec.RestartPolicy, corev1.RestartPolicyNever)
}

func TestSubmitRejected(t *testing.T) {
	g, cs := newGateway(t)
	var se *gateway.SubmissionError

	_, err := g.Submit(context.Background(), model.JobSpec{Name: "no-image"})
	assert.Assert(t, errors.As(err, &se))

	cs.PrependReactor("create", "jobs", func(k8stesting.Action) (bool, runtime.Object, error) {
		return true, nil, apierrors.NewForbidden(schema.GroupResource{Group: "batch", Resource: "jobs"}, "x", errors.New("quota exceeded"))
	})
	_, err = g.Submit(context.Background(), model.JobSpec{Name: "denied", Image: "alpine"})
	assert.Assert(t, errors.As(err, &se))
	assert.ErrorContains(t, err, "quota exceeded")
}

func TestPollMapsJobStatus(t *testing.T) {
	g, cs := newGateway(t)
	ctx := context.Background()

	submit := func(name string) model.JobHandle {
		h, err := g.Submit(ctx, model.JobSpec{Name: name, Image: "alpine"})
		assert.NilError(t, err)
		return h
	}
	done, failed, active, queued := submit("done"), submit("failed"), submit("active"), submit("queued")

	start := metav1.NewTime(time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC))
	end := metav1.NewTime(start.Add(time.Minute))
	setStatus(t, cs, string(done), batchv1.JobStatus{
		StartTime: &start, CompletionTime: &end, Succeeded: 1,
		Conditions: []batchv1.JobCondition{{Type: batchv1.JobComplete, Status: corev1.ConditionTrue, LastTransitionTime: end}},
	})
	setStatus(t, cs, string(failed), batchv1.JobStatus{
		StartTime: &start, Failed: 1,
		Conditions: []batchv1.JobCondition{{
			Type: batchv1.JobFailed, Status: corev1.ConditionTrue, LastTransitionTime: end,
			Reason: "DeadlineExceeded", Message: "Job was active longer than specified deadline",
		}},
	})
	setStatus(t, cs, string(active), batchv1.JobStatus{StartTime: &start, Active: 1})

	// a Job of another tracker in the same namespace is never reported
	other := New(cs, WithNamespace(ns), WithInstance("run-2"))
	foreign, err := other.Submit(ctx, model.JobSpec{Name: "foreign", Image: "alpine"})
	assert.NilError(t, err)

	out, err := g.Poll(ctx, []model.JobHandle{done, failed, active, queued, foreign})
	assert.NilError(t, err)
	assert.Check(t, is.Len(out, 4))

	assert.Equal(t, out[done].Status, model.StatusSucceeded)
	assert.Equal(t, *out[done].EndedAt, end.Time)
	assert.Equal(t, out[failed].Status, model.StatusFailed)
	assert.Check(t, is.Contains(out[failed].Message, "DeadlineExceeded"))
	assert.Equal(t, out[active].Status, model.StatusRunning)
	assert.Equal(t, *out[active].StartedAt, start.Time)
	assert.Equal(t, out[queued].Status, model.StatusSubmitted)
}

func TestTerminateDeletesJob(t *testing.T) {
	g, cs := newGateway(t)
	ctx := context.Background()

	h, err := g.Submit(ctx, model.JobSpec{Name: "sleepy", Image: "alpine"})
	assert.NilError(t, err)
	assert.NilError(t, g.Terminate(ctx, h))

	_, err = cs.BatchV1().Jobs(ns).Get(ctx, string(h), metav1.GetOptions{})
	assert.Check(t, apierrors.IsNotFound(err))

	out, err := g.Poll(ctx, []model.JobHandle{h})
	assert.NilError(t, err)
	assert.Check(t, is.Len(out, 0))
}

func TestDNSName(t *testing.T) {
	assert.Equal(t, dnsName("Extract_Stage.1"), "extract-stage-1")
	assert.Equal(t, dnsName("__"), "job")
	assert.Equal(t, len(dnsName(strings.Repeat("a", 100))), maxNameLen)
}
