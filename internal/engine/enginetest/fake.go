// Package enginetest provides an in-memory engine.Client for tests.
package enginetest

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"rustci/internal/engine"
)

// Fake records every plan it is asked to run. Nothing is executed.
type Fake struct {
	mu sync.Mutex

	// Dirs holds the directory snapshots LoadDirectory can find.
	Dirs map[engine.DirectoryID]engine.Directory

	// HostErr, when set, is returned by HostDirectory.
	HostErr error

	// FailExec returns a non-nil error to make the exec fail.
	FailExec func(pipeline string, args []string) error

	// StdoutFunc produces the stdout of a run. Defaults to "<pipeline> ok".
	StdoutFunc func(ctr engine.Container) string

	// Runs are the evaluated plans in order.
	Runs []engine.Container

	// Exports are the export destinations in order, keyed by identifier.
	Exports []Export

	Closed bool
}

// Export records an ExportFile or ExportDirectory call.
type Export struct {
	ID   string
	Path string
}

// New creates an empty fake engine.
func New() *Fake {
	return &Fake{Dirs: make(map[engine.DirectoryID]engine.Directory)}
}

// FailOn makes any exec whose command line contains substr fail with exit
// code 101.
func (f *Fake) FailOn(substr string) {
	f.FailExec = func(pipeline string, args []string) error {
		if strings.Contains(strings.Join(args, " "), substr) {
			return &engine.ExecError{Args: args, ExitCode: 101, Stderr: "injected failure"}
		}
		return nil
	}
}

// Pipelines returns the pipeline labels of the evaluated plans.
func (f *Fake) Pipelines() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, r := range f.Runs {
		out = append(out, r.Pipeline)
	}
	return out
}

func (f *Fake) HostDirectory(ctx context.Context, path string) (engine.Directory, error) {
	if f.HostErr != nil {
		return engine.Directory{}, f.HostErr
	}
	return engine.Directory{Path: path}, nil
}

func (f *Fake) LoadDirectory(ctx context.Context, id engine.DirectoryID) (engine.Directory, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	dir, ok := f.Dirs[id]
	if !ok {
		return engine.Directory{}, fmt.Errorf("%w: %s", engine.ErrUnknownID, id)
	}
	return dir, nil
}

func (f *Fake) DirectoryID(ctx context.Context, dir engine.Directory, exclude ...string) (engine.DirectoryID, error) {
	if dir.ID != "" {
		return dir.ID, nil
	}
	id := engine.DirectoryID("core.Directory:fake:" + dir.Path)
	f.mu.Lock()
	f.Dirs[id] = engine.Directory{ID: id, Path: dir.Path}
	f.mu.Unlock()
	return id, nil
}

func (f *Fake) Run(ctx context.Context, ctr engine.Container) (engine.Run, error) {
	f.mu.Lock()
	f.Runs = append(f.Runs, ctr)
	f.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if f.FailExec != nil {
		for _, args := range ctr.Execs() {
			if err := f.FailExec(ctr.Pipeline, args); err != nil {
				return nil, err
			}
		}
	}

	stdout := ctr.Pipeline + " ok"
	if f.StdoutFunc != nil {
		stdout = f.StdoutFunc(ctr)
	}
	return &fakeRun{pipeline: ctr.Pipeline, stdout: stdout}, nil
}

func (f *Fake) ExportFile(ctx context.Context, id engine.FileID, hostPath string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Exports = append(f.Exports, Export{ID: string(id), Path: hostPath})
	return nil
}

func (f *Fake) ExportDirectory(ctx context.Context, id engine.DirectoryID, hostPath string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Exports = append(f.Exports, Export{ID: string(id), Path: hostPath})
	return nil
}

func (f *Fake) Close() error {
	f.Closed = true
	return nil
}

type fakeRun struct {
	pipeline string
	stdout   string
}

func (r *fakeRun) Stdout() string {
	return r.stdout
}

func (r *fakeRun) File(ctx context.Context, path string) (engine.FileID, error) {
	return engine.FileID("core.File:fake:" + r.pipeline + ":" + path), nil
}

func (r *fakeRun) Directory(ctx context.Context, path string) (engine.DirectoryID, error) {
	return engine.DirectoryID("core.Directory:fake:" + r.pipeline + ":" + path), nil
}

func (r *fakeRun) Close(ctx context.Context) error {
	return nil
}
