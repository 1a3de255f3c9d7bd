// Package kube runs each job attempt as a batch/v1 Job. The Job name is
// the handle.
package kube

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/labels"
	"k8s.io/client-go/kubernetes"
	"k8s.io/utils/ptr"

	"jobwatch/pkg/gateway"
	"jobwatch/pkg/model"
)

const (
	LabelManagedBy = "app.kubernetes.io/managed-by"
	LabelInstance  = "jobwatch.io/instance"
	LabelJob       = "jobwatch.io/job"

	managedBy          = "jobwatch"
	jobCreationTimeout = 30 * time.Second
	defaultPageSize    = 100
	maxNameLen         = 63 - 9 // room for "-" and an 8 char suffix
)

type Gateway struct {
	clientset kubernetes.Interface
	namespace string
	instance  string
	pageSize  int64
	logger    *zap.Logger
}

var (
	_ gateway.Gateway    = (*Gateway)(nil)
	_ gateway.Terminator = (*Gateway)(nil)
)

type Option func(*Gateway)

func WithNamespace(ns string) Option {
	return func(g *Gateway) {
		if ns != "" {
			g.namespace = ns
		}
	}
}

// WithInstance sets the label value that scopes Poll to this gateway's Jobs.
func WithInstance(id string) Option {
	return func(g *Gateway) {
		if id != "" {
			g.instance = id
		}
	}
}

// WithPageSize bounds the number of Jobs per List call.
func WithPageSize(n int64) Option {
	return func(g *Gateway) {
		if n > 0 {
			g.pageSize = n
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(g *Gateway) {
		if l != nil {
			g.logger = l
		}
	}
}

func New(clientset kubernetes.Interface, opts ...Option) *Gateway {
	g := &Gateway{
		clientset: clientset,
		namespace: "default",
		instance:  uuid.NewString()[:8],
		pageSize:  defaultPageSize,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(g)
	}
	g.logger = g.logger.Named("kube-gateway")
	return g
}

func (g *Gateway) Submit(ctx context.Context, spec model.JobSpec) (model.JobHandle, error) {
	if spec.Image == "" {
		return "", gateway.Rejected(spec.Name, errors.New("kubernetes backend needs an image"))
	}

	job := g.buildJob(spec)
	createCtx, cancel := context.WithTimeout(ctx, jobCreationTimeout)
	defer cancel()

	created, err := g.clientset.BatchV1().Jobs(g.namespace).Create(createCtx, job, metav1.CreateOptions{})
	if err != nil {
		return "", gateway.Rejected(spec.Name, fmt.Errorf("create job: %w", err))
	}
	g.logger.Debug("job created", zap.String("job", spec.Name), zap.String("name", created.Name))
	return model.JobHandle(created.Name), nil
}

func (g *Gateway) buildJob(spec model.JobSpec) *batchv1.Job {
	name := fmt.Sprintf("%s-%s", dnsName(spec.Name), uuid.NewString()[:8])
	lbls := map[string]string{
		LabelManagedBy: managedBy,
		LabelInstance:  g.instance,
		LabelJob:       dnsName(spec.Name),
	}

	container := corev1.Container{
		Name:      "job",
		Image:     spec.Image,
		Command:   spec.Command,
		Env:       envVars(spec.Parameters),
		Resources: resourceRequirements(spec.Resources),
	}

	job := &batchv1.Job{
		ObjectMeta: metav1.ObjectMeta{
			Name:      name,
			Namespace: g.namespace,
			Labels:    lbls,
			Annotations: map[string]string{
				"jobwatch.io/name": spec.Name,
			},
		},
		Spec: batchv1.JobSpec{
			// retries belong to the tracker
			BackoffLimit: ptr.To[int32](0),
			Template: corev1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{Labels: lbls},
				Spec: corev1.PodSpec{
					RestartPolicy: corev1.RestartPolicyNever,
					Containers:    []corev1.Container{container},
				},
			},
		},
	}
	if spec.Timeout > 0 {
		secs := int64(spec.Timeout / time.Second)
		if secs < 1 {
			secs = 1
		}
		job.Spec.ActiveDeadlineSeconds = ptr.To(secs)
	}
	return job
}

// Poll walks the gateway's Jobs in pages of pageSize and picks the
// requested handles out of them.
func (g *Gateway) Poll(ctx context.Context, handles []model.JobHandle) (map[model.JobHandle]gateway.RemoteStatus, error) {
	wanted := make(map[string]bool, len(handles))
	for _, h := range handles {
		wanted[string(h)] = true
	}

	opts := metav1.ListOptions{
		LabelSelector: labels.SelectorFromSet(labels.Set{LabelInstance: g.instance}).String(),
		Limit:         g.pageSize,
	}
	out := make(map[model.JobHandle]gateway.RemoteStatus, len(handles))
	for {
		list, err := g.clientset.BatchV1().Jobs(g.namespace).List(ctx, opts)
		if err != nil {
			return nil, fmt.Errorf("list jobs: %w", err)
		}
		for i := range list.Items {
			job := &list.Items[i]
			if wanted[job.Name] {
				out[model.JobHandle(job.Name)] = jobStatus(job)
			}
		}
		if list.Continue == "" || len(out) == len(wanted) {
			return out, nil
		}
		opts.Continue = list.Continue
	}
}

// Terminate deletes the Job and, in the background, its pods.
func (g *Gateway) Terminate(ctx context.Context, handle model.JobHandle) error {
	return g.clientset.BatchV1().Jobs(g.namespace).Delete(ctx, string(handle), metav1.DeleteOptions{
		PropagationPolicy: ptr.To(metav1.DeletePropagationBackground),
	})
}

func jobStatus(job *batchv1.Job) gateway.RemoteStatus {
	st := job.Status
	rs := gateway.RemoteStatus{Status: model.StatusSubmitted}
	if st.StartTime != nil {
		rs.StartedAt = ptr.To(st.StartTime.Time)
	}

	for _, c := range st.Conditions {
		if c.Status != corev1.ConditionTrue {
			continue
		}
		switch c.Type {
		case batchv1.JobComplete:
			rs.Status = model.StatusSucceeded
			rs.EndedAt = completion(st.CompletionTime, c.LastTransitionTime)
			return rs
		case batchv1.JobFailed:
			rs.Status = model.StatusFailed
			rs.EndedAt = completion(nil, c.LastTransitionTime)
			rs.Message = strings.TrimSpace(c.Reason + ": " + c.Message)
			return rs
		}
	}

	switch {
	case st.Succeeded > 0:
		rs.Status = model.StatusSucceeded
		rs.EndedAt = completion(st.CompletionTime, metav1.Time{})
	case st.Failed > 0:
		rs.Status = model.StatusFailed
		rs.Message = fmt.Sprintf("%d pod(s) failed", st.Failed)
	case st.Active > 0:
		rs.Status = model.StatusRunning
	}
	return rs
}

func completion(t *metav1.Time, fallback metav1.Time) *time.Time {
	if t != nil && !t.IsZero() {
		return ptr.To(t.Time)
	}
	if !fallback.IsZero() {
		return ptr.To(fallback.Time)
	}
	return nil
}

func envVars(params map[string]string) []corev1.EnvVar {
	if len(params) == 0 {
		return nil
	}
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	env := make([]corev1.EnvVar, 0, len(keys))
	for _, k := range keys {
		env = append(env, corev1.EnvVar{Name: k, Value: params[k]})
	}
	return env
}

// resourceRequirements sets requests equal to limits.
func resourceRequirements(r model.Resource) corev1.ResourceRequirements {
	if r.IsZero() {
		return corev1.ResourceRequirements{}
	}
	list := corev1.ResourceList{}
	if r.MilliCPU > 0 {
		list[corev1.ResourceCPU] = *resource.NewMilliQuantity(r.MilliCPU, resource.DecimalSI)
	}
	if r.Memory > 0 {
		list[corev1.ResourceMemory] = *resource.NewQuantity(r.Memory, resource.BinarySI)
	}
	return corev1.ResourceRequirements{Requests: list, Limits: list.DeepCopy()}
}

// dnsName maps a job name onto a DNS-1123 label prefix.
func dnsName(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteByte('-')
		}
	}
	s := strings.Trim(b.String(), "-")
	if len(s) > maxNameLen {
		s = strings.TrimRight(s[:maxNameLen], "-")
	}
	if s == "" {
		s = "job"
	}
	return s
}
