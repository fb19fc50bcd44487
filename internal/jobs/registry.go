package jobs

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"rustci/internal/engine"
)

// ErrJobNotFound is matched by every NotFoundError.
var ErrJobNotFound = errors.New("job not found")

// NotFoundError reports a name absent from the registry.
type NotFoundError struct {
	Name string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("job not found: %s", e.Name)
}

func (e *NotFoundError) Is(target error) bool {
	return target == ErrJobNotFound
}

// Job binds a name to its definition.
type Job struct {
	Name        Name
	Description string
	Define      func(Options) JobSpec
}

// Spec returns the job definition for opts.
func (j Job) Spec(opts Options) JobSpec {
	return j.Define(opts)
}

// Run executes the job against src.
func (j Job) Run(ctx context.Context, client engine.Client, src engine.Directory, opts Options) (Result, error) {
	return Execute(ctx, client, j.Spec(opts), src)
}

// Registry is an immutable, ordered set of jobs.
type Registry struct {
	jobs  []Job
	index map[string]int
}

// NewRegistry builds a registry from jobs. Duplicate names are rejected.
func NewRegistry(jobs ...Job) (*Registry, error) {
	r := &Registry{jobs: slices.Clone(jobs), index: make(map[string]int, len(jobs))}
	for i, j := range jobs {
		if j.Name == "" || j.Define == nil {
			return nil, fmt.Errorf("job %d: name and definition are required", i)
		}
		if _, dup := r.index[string(j.Name)]; dup {
			return nil, fmt.Errorf("duplicate job %q", j.Name)
		}
		r.index[string(j.Name)] = i
	}
	return r, nil
}

var defaultRegistry = mustRegistry(
	Job{Name: Clippy, Description: "Run clippy", Define: ClippySpec},
	Job{Name: Test, Description: "Run tests", Define: TestSpec},
	Job{Name: Build, Description: "Build the project", Define: BuildSpec},
	Job{Name: LLVMCov, Description: "Generate llvm coverage report", Define: LLVMCovSpec},
)

func mustRegistry(jobs ...Job) *Registry {
	r, err := NewRegistry(jobs...)
	if err != nil {
		panic(err)
	}
	return r
}

// Default returns the registry of the built-in jobs.
func Default() *Registry {
	return defaultRegistry
}

// Lookup finds a job by exact, case-sensitive name.
func (r *Registry) Lookup(name string) (Job, error) {
	i, ok := r.index[name]
	if !ok {
		return Job{}, &NotFoundError{Name: name}
	}
	return r.jobs[i], nil
}

// Describe returns the description of a job.
func (r *Registry) Describe(name string) (string, error) {
	j, err := r.Lookup(name)
	if err != nil {
		return "", err
	}
	return j.Description, nil
}

// Names lists the registered names in registration order.
func (r *Registry) Names() []string {
	names := make([]string, len(r.jobs))
	for i, j := range r.jobs {
		names[i] = string(j.Name)
	}
	return names
}

// Descriptions maps every registered name to its description.
func (r *Registry) Descriptions() map[string]string {
	out := make(map[string]string, len(r.jobs))
	for _, j := range r.jobs {
		out[string(j.Name)] = j.Description
	}
	return out
}
