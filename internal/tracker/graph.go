package tracker

import (
	"errors"
	"fmt"

	"go.uber.org/multierr"

	"jobwatch/pkg/model"
)

// jobGraph is the validated dependency DAG of one session.
// Nodes are indexes into specs, so every walk follows
// insertion order.
type jobGraph struct {
	index      map[string]int
	deps       [][]int // node -> nodes it depends on
	dependents [][]int // node -> nodes that depend on it
}

// buildGraph validates specs and returns their DAG. Every problem found
// is reported in one *InvalidGraphError.
func buildGraph(specs []model.JobSpec) (*jobGraph, error) {
	g := &jobGraph{
		index:      make(map[string]int, len(specs)),
		deps:       make([][]int, len(specs)),
		dependents: make([][]int, len(specs)),
	}

	var errs error
	for i, spec := range specs {
		if spec.Name == "" {
			errs = multierr.Append(errs, fmt.Errorf("job #%d has no name", i))
			continue
		}
		if _, dup := g.index[spec.Name]; dup {
			errs = multierr.Append(errs, fmt.Errorf("duplicate job name %q", spec.Name))
			continue
		}
		g.index[spec.Name] = i
	}

	for i, spec := range specs {
		seen := make(map[int]bool, len(spec.DependsOn))
		for _, dep := range spec.DependsOn {
			j, ok := g.index[dep]
			if !ok {
				errs = multierr.Append(errs, fmt.Errorf("job %q depends on unknown job %q", spec.Name, dep))
				continue
			}
			if seen[j] {
				continue
			}
			seen[j] = true
			g.deps[i] = append(g.deps[i], j)
			g.dependents[j] = append(g.dependents[j], i)
		}
	}

	if errs == nil {
		if path := g.findCycle(specs); path != nil {
			errs = &CycleError{Path: path}
		}
	}
	if errs != nil {
		return nil, &InvalidGraphError{Err: errs}
	}
	return g, nil
}

// findCycle performs DFS cycle detection and returns the first cycle
// found as a closed path of job names.
func (g *jobGraph) findCycle(specs []model.JobSpec) []string {
	const (
		unvisited = iota
		onStack
		done
	)
	state := make([]int, len(specs))
	stack := make([]int, 0, len(specs))

	var visit func(n int) []string
	visit = func(n int) []string {
		state[n] = onStack
		stack = append(stack, n)

		for _, dep := range g.deps[n] {
			switch state[dep] {
			case unvisited:
				if path := visit(dep); path != nil {
					return path
				}
			case onStack:
				// cut the stack back to where the cycle starts
				start := 0
				for k, v := range stack {
					if v == dep {
						start = k
						break
					}
				}
				path := make([]string, 0, len(stack)-start+1)
				for _, v := range stack[start:] {
					path = append(path, specs[v].Name)
				}
				return append(path, specs[dep].Name)
			}
		}

		stack = stack[:len(stack)-1]
		state[n] = done
		return nil
	}

	for n := range specs {
		if state[n] == unvisited {
			if path := visit(n); path != nil {
				return path
			}
		}
	}
	return nil
}

// Validate checks that specs form a DAG over their names.
func Validate(specs []model.JobSpec) error {
	_, err := buildGraph(specs)
	return err
}

// IsCycle reports whether err is (or wraps) a dependency cycle.
func IsCycle(err error) bool {
	var ce *CycleError
	return errors.As(err, &ce)
}
