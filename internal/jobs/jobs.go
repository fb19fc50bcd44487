// Package jobs declares the CI jobs and the registry used to dispatch them by name.
package jobs

import (
	"context"
	"fmt"

	"rustci/internal/engine"
)

// Name identifies a registered job.
type Name string

const (
	Clippy  Name = "clippy"
	Test    Name = "test"
	Build   Name = "build"
	LLVMCov Name = "llvm_cov"
)

// DefaultTarget is the platform triple used by build when none is given.
const DefaultTarget = "x86_64-unknown-linux-gnu"

// Exclude lists paths never projected into a job container.
var Exclude = []string{"target", ".git", ".devbox", ".fluentci"}

// OutputKind is what a job yields.
type OutputKind string

const (
	OutputStdout    OutputKind = "stdout"
	OutputFile      OutputKind = "file"
	OutputDirectory OutputKind = "directory"
)

// Output describes the artifact of a job.
type Output struct {
	Kind OutputKind

	// Path is the container path of a File or Directory output.
	Path string

	// Export, when set, is the host path the artifact is copied to.
	Export string
}

// CacheMount is a named persistent cache mounted at Path.
type CacheMount struct {
	Path string
	Name string
}

// Projection maps the resolved source into the container.
type Projection struct {
	Path    string
	Exclude []string
}

// JobSpec is a pure description of one pipeline stage.
type JobSpec struct {
	Name          Name
	Description   string
	BaseImage     string
	SetupCommands [][]string
	Projection    Projection
	CacheMounts   []CacheMount
	Workdir       string
	FinalCommand  []string

	// Collect runs after FinalCommand to gather the artifact, if needed.
	Collect []string

	Output Output
}

// Options are the caller-supplied parameters of a job invocation.
type Options struct {
	// Args are appended to the final command of test and build.
	Args []string

	// PackageName scopes build to one workspace member.
	PackageName string

	// Target is the build platform triple; DefaultTarget when empty.
	Target string

	// ExportPath overrides where the artifact is exported on the host.
	ExportPath string

	// NoExport keeps the artifact in the snapshot store only; the result
	// still carries its identifier.
	NoExport bool
}

// Container composes the engine plan of the job against src. The order is
// fixed: image, setup commands, projection, caches, workdir, final command.
func (s JobSpec) Container(src engine.Directory) engine.Container {
	ctr := engine.NewContainer(string(s.Name)).From(s.BaseImage)
	for _, cmd := range s.SetupCommands {
		ctr = ctr.WithExec(cmd...)
	}
	ctr = ctr.WithDirectory(s.Projection.Path, src, s.Projection.Exclude)
	for _, m := range s.CacheMounts {
		ctr = ctr.WithMountedCache(m.Path, m.Name)
	}
	ctr = ctr.WithWorkdir(s.Workdir).WithExec(s.FinalCommand...)
	if len(s.Collect) > 0 {
		ctr = ctr.WithExec(s.Collect...)
	}
	return ctr
}

// Result is the outcome of a job.
type Result struct {
	Job       Name
	Kind      OutputKind
	Stdout    string
	File      engine.FileID
	Directory engine.DirectoryID
}

// Value returns the captured stdout or the artifact identifier.
func (r Result) Value() string {
	switch r.Kind {
	case OutputFile:
		return string(r.File)
	case OutputDirectory:
		return string(r.Directory)
	}
	return r.Stdout
}

// Execute runs spec against src and materialises its output. A failing
// command returns the engine error and no artifact.
func Execute(ctx context.Context, client engine.Client, spec JobSpec, src engine.Directory) (Result, error) {
	run, err := client.Run(ctx, spec.Container(src))
	if err != nil {
		return Result{}, err
	}
	defer run.Close(context.WithoutCancel(ctx))

	res := Result{Job: spec.Name, Kind: spec.Output.Kind, Stdout: run.Stdout()}

	switch spec.Output.Kind {
	case OutputFile:
		id, err := run.File(ctx, spec.Output.Path)
		if err != nil {
			return Result{}, fmt.Errorf("failed to read %s: %w", spec.Output.Path, err)
		}
		if spec.Output.Export != "" {
			if err := client.ExportFile(ctx, id, spec.Output.Export); err != nil {
				return Result{}, err
			}
		}
		res.File = id
	case OutputDirectory:
		id, err := run.Directory(ctx, spec.Output.Path)
		if err != nil {
			return Result{}, fmt.Errorf("failed to read %s: %w", spec.Output.Path, err)
		}
		if spec.Output.Export != "" {
			if err := client.ExportDirectory(ctx, id, spec.Output.Export); err != nil {
				return Result{}, err
			}
		}
		res.Directory = id
	}
	return res, nil
}
