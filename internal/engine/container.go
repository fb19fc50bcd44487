package engine

import "slices"

// OpKind identifies a step of a container plan.
type OpKind int

const (
	OpExec OpKind = iota
	OpDirectory
	OpMountCache
	OpWorkdir
)

func (k OpKind) String() string {
	switch k {
	case OpExec:
		return "exec"
	case OpDirectory:
		return "directory"
	case OpMountCache:
		return "cache"
	case OpWorkdir:
		return "workdir"
	}
	return "unknown"
}

// Op is a single declarative step.
type Op struct {
	Kind OpKind

	// Args is the command vector of an exec.
	Args []string

	// Path is the container path of a directory, cache mount or workdir.
	Path string

	// Source and Exclude describe a directory projection.
	Source  Directory
	Exclude []string

	// Cache is the name of a persistent cache volume.
	Cache string
}

// Container is an immutable container plan. Every With* method returns a
// new plan and leaves the receiver untouched.
type Container struct {
	Pipeline string
	Image    string
	Ops      []Op
}

// NewContainer starts an empty plan labelled with a pipeline name.
func NewContainer(pipeline string) Container {
	return Container{Pipeline: pipeline}
}

// From sets the base image.
func (c Container) From(image string) Container {
	c.Image = image
	return c
}

// WithExec appends a command.
func (c Container) WithExec(args ...string) Container {
	return c.with(Op{Kind: OpExec, Args: slices.Clone(args)})
}

// WithDirectory projects dir into the container at path, minus the
// dockerignore-style exclude patterns.
func (c Container) WithDirectory(path string, dir Directory, exclude []string) Container {
	return c.with(Op{Kind: OpDirectory, Path: path, Source: dir, Exclude: slices.Clone(exclude)})
}

// WithMountedCache mounts the named persistent cache at path.
func (c Container) WithMountedCache(path, name string) Container {
	return c.with(Op{Kind: OpMountCache, Path: path, Cache: name})
}

// WithWorkdir sets the working directory of subsequent execs.
func (c Container) WithWorkdir(path string) Container {
	return c.with(Op{Kind: OpWorkdir, Path: path})
}

func (c Container) with(op Op) Container {
	ops := make([]Op, len(c.Ops), len(c.Ops)+1)
	copy(ops, c.Ops)
	c.Ops = append(ops, op)
	return c
}

// Execs returns the command vectors of the plan in order.
func (c Container) Execs() [][]string {
	var out [][]string
	for _, op := range c.Ops {
		if op.Kind == OpExec {
			out = append(out, op.Args)
		}
	}
	return out
}

// Caches returns the cache mounts of the plan in order.
func (c Container) Caches() []Op {
	var out []Op
	for _, op := range c.Ops {
		if op.Kind == OpMountCache {
			out = append(out, op)
		}
	}
	return out
}
