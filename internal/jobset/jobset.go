// Package jobset loads job-set documents: a list of job specs plus the
// tracker settings for running them.
package jobset

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"
	"k8s.io/apimachinery/pkg/api/resource"

	"jobwatch/internal/tracker"
	"jobwatch/pkg/model"
)

const (
	APIVersion = "jobwatch.io/v1"
	Kind       = "JobSet"

	DefaultConcurrency  = 4
	DefaultPollInterval = 10 * time.Second
	DefaultTimeout      = time.Hour

	schemaURL = "https://jobwatch.io/schemas/jobset.json"
)

// ErrInvalid matches every error caused by the document's content.
var ErrInvalid = errors.New("invalid job set")

//go:embed schema.yaml
var schemaYAML []byte

var compiled *jsonschema.Schema

func init() {
	s, err := compileSchema(schemaYAML)
	if err != nil {
		panic(fmt.Sprintf("jobset: embedded schema: %v", err))
	}
	compiled = s
}

// compileSchema converts the YAML schema to JSON for the compiler.
func compileSchema(data []byte) (*jsonschema.Schema, error) {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse schema: %w", err)
	}
	jsonData, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal schema: %w", err)
	}

	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	if err := c.AddResource(schemaURL, bytes.NewReader(jsonData)); err != nil {
		return nil, err
	}
	return c.Compile(schemaURL)
}

// Document is the on-disk form.
type Document struct {
	APIVersion string   `yaml:"apiVersion" json:"apiVersion"`
	Kind       string   `yaml:"kind" json:"kind"`
	Metadata   Metadata `yaml:"metadata,omitempty" json:"metadata,omitempty"`
	Tracker    Tracker  `yaml:"tracker,omitempty" json:"tracker,omitempty"`
	Jobs       []Job    `yaml:"jobs" json:"jobs"`
}

type Metadata struct {
	Name        string            `yaml:"name,omitempty" json:"name,omitempty"`
	Description string            `yaml:"description,omitempty" json:"description,omitempty"`
	Labels      map[string]string `yaml:"labels,omitempty" json:"labels,omitempty"`
}

type Tracker struct {
	Concurrency   int     `yaml:"concurrency,omitempty" json:"concurrency,omitempty"`
	PollInterval  string  `yaml:"pollInterval,omitempty" json:"pollInterval,omitempty"`
	Timeout       string  `yaml:"timeout,omitempty" json:"timeout,omitempty"`
	MaxPollErrors int     `yaml:"maxPollErrors,omitempty" json:"maxPollErrors,omitempty"`
	PollPageSize  int     `yaml:"pollPageSize,omitempty" json:"pollPageSize,omitempty"`
	SubmitRate    float64 `yaml:"submitRate,omitempty" json:"submitRate,omitempty"`
}

type Job struct {
	Name       string            `yaml:"name" json:"name"`
	Image      string            `yaml:"image,omitempty" json:"image,omitempty"`
	Command    Command           `yaml:"command,omitempty" json:"command,omitempty"`
	Resources  Resources         `yaml:"resources,omitempty" json:"resources,omitempty"`
	Retry      Retry             `yaml:"retry,omitempty" json:"retry,omitempty"`
	Timeout    string            `yaml:"timeout,omitempty" json:"timeout,omitempty"`
	DependsOn  []string          `yaml:"dependsOn,omitempty" json:"dependsOn,omitempty"`
	Parameters map[string]string `yaml:"parameters,omitempty" json:"parameters,omitempty"`
}

type Resources struct {
	CPU    string `yaml:"cpu,omitempty" json:"cpu,omitempty"`
	Memory string `yaml:"memory,omitempty" json:"memory,omitempty"`
}

type Retry struct {
	MaxAttempts int    `yaml:"maxAttempts,omitempty" json:"maxAttempts,omitempty"`
	Backoff     string `yaml:"backoff,omitempty" json:"backoff,omitempty"`
	Strategy    string `yaml:"strategy,omitempty" json:"strategy,omitempty"`
	MaxBackoff  string `yaml:"maxBackoff,omitempty" json:"maxBackoff,omitempty"`
}

// Command accepts either a list or a single shell line, run as sh -c.
type Command []string

func (c *Command) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		*c = Command{"sh", "-c", value.Value}
		return nil
	}
	var list []string
	if err := value.Decode(&list); err != nil {
		return err
	}
	*c = list
	return nil
}

// JobSet is a parsed and validated document, ready for the tracker.
type JobSet struct {
	Name   string
	Config tracker.Config
	Jobs   []model.JobSpec
}

// Load reads and parses the document at path.
func Load(path string) (*JobSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read job set: %w", err)
	}
	set, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return set, nil
}

// Parse validates data (YAML or JSON) against the schema, converts it and
// checks the dependency graph. Content errors wrap ErrInvalid or
// tracker.ErrInvalidGraph.
func Parse(data []byte) (*JobSet, error) {
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if err := validateSchema(raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	set, err := doc.Convert()
	if err != nil {
		return nil, err
	}
	if err := tracker.Validate(set.Jobs); err != nil {
		return nil, err
	}
	return set, nil
}

// validateSchema round-trips the YAML value through JSON so numbers and
// maps have the shapes the validator expects.
func validateSchema(raw any) error {
	buf, err := json.Marshal(raw)
	if err != nil {
		return err
	}
	dec := json.NewDecoder(bytes.NewReader(buf))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return err
	}
	return compiled.Validate(v)
}

// Convert turns the document into tracker input, applying defaults.
// Every bad field is reported.
func (d *Document) Convert() (*JobSet, error) {
	set := &JobSet{
		Name: d.Metadata.Name,
		Config: tracker.Config{
			Concurrency:   d.Tracker.Concurrency,
			MaxPollErrors: d.Tracker.MaxPollErrors,
			PollPageSize:  d.Tracker.PollPageSize,
			SubmitRate:    d.Tracker.SubmitRate,
			PollInterval:  DefaultPollInterval,
			Timeout:       DefaultTimeout,
		},
		Jobs: make([]model.JobSpec, 0, len(d.Jobs)),
	}
	if set.Config.Concurrency == 0 {
		set.Config.Concurrency = DefaultConcurrency
	}

	var errs error
	field := func(name string, out *time.Duration, s string) {
		if s == "" {
			return
		}
		v, err := time.ParseDuration(s)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", name, err))
			return
		}
		*out = v
	}
	field("tracker.pollInterval", &set.Config.PollInterval, d.Tracker.PollInterval)
	field("tracker.timeout", &set.Config.Timeout, d.Tracker.Timeout)

	for i, j := range d.Jobs {
		spec := model.JobSpec{
			Name:       j.Name,
			Image:      j.Image,
			Command:    []string(j.Command),
			DependsOn:  j.DependsOn,
			Parameters: j.Parameters,
			Retry: model.RetryPolicy{
				MaxAttempts: j.Retry.MaxAttempts,
				Strategy:    model.BackoffStrategy(j.Retry.Strategy),
			},
		}
		prefix := fmt.Sprintf("jobs[%d] (%s)", i, j.Name)
		field(prefix+".timeout", &spec.Timeout, j.Timeout)
		field(prefix+".retry.backoff", &spec.Retry.Backoff, j.Retry.Backoff)
		field(prefix+".retry.maxBackoff", &spec.Retry.MaxBackoff, j.Retry.MaxBackoff)

		res, err := parseResources(j.Resources)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s.resources: %w", prefix, err))
		}
		spec.Resources = res
		set.Jobs = append(set.Jobs, spec)
	}

	if errs != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, errs)
	}
	return set, nil
}

// parseResources reads Kubernetes quantities: cpu "500m" or "0.5",
// memory "256Mi".
func parseResources(r Resources) (model.Resource, error) {
	var out model.Resource
	var errs error
	if s := strings.TrimSpace(r.CPU); s != "" {
		q, err := resource.ParseQuantity(s)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("cpu %q: %w", s, err))
		} else {
			out.MilliCPU = q.MilliValue()
		}
	}
	if s := strings.TrimSpace(r.Memory); s != "" {
		q, err := resource.ParseQuantity(s)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("memory %q: %w", s, err))
		} else {
			out.Memory = q.Value()
		}
	}
	return out, errs
}

// Marshal renders a document back to YAML.
func (d *Document) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(d); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
