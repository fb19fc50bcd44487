package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/google/uuid"
)

// LocalConfig configures the local engine.
type LocalConfig struct {
	// WorkDir holds one scratch root per run.
	WorkDir string

	// CacheDir holds the persistent cache volumes.
	CacheDir string

	LogOutput io.Writer
	Logger    *slog.Logger
}

// LocalEngine implements Client using raw OS processes.
// Container paths are mapped below a per-run scratch root and the image is
// ignored. This is primarily used for development/testing.
type LocalEngine struct {
	snapshotClient
	WorkDir   string
	CacheDir  string
	logOutput io.Writer
	logger    *slog.Logger
}

// NewLocalEngine creates a process-based engine.
func NewLocalEngine(snaps *Snapshots, cfg LocalConfig) *LocalEngine {
	if cfg.WorkDir == "" {
		cfg.WorkDir = filepath.Join(os.TempDir(), "rustci", "runner")
	}
	if cfg.CacheDir == "" {
		cfg.CacheDir = filepath.Join(os.TempDir(), "rustci", "volumes")
	}
	if cfg.LogOutput == nil {
		cfg.LogOutput = io.Discard
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &LocalEngine{
		snapshotClient: snapshotClient{snaps: snaps},
		WorkDir:        cfg.WorkDir,
		CacheDir:       cfg.CacheDir,
		logOutput:      cfg.LogOutput,
		logger:         cfg.Logger,
	}
}

// Run implements Client.Run by replaying the plan on the host.
func (e *LocalEngine) Run(ctx context.Context, ctr Container) (Run, error) {
	if len(ctr.Execs()) == 0 {
		return nil, fmt.Errorf("container plan %q: command is required", ctr.Pipeline)
	}
	if ctr.Image != "" {
		e.logger.Debug("local engine ignores image", "pipeline", ctr.Pipeline, "image", ctr.Image)
	}

	root := filepath.Join(e.WorkDir, uuid.NewString())
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create run root: %w", err)
	}
	run := &localRun{engine: e, root: root}

	if err := run.replay(ctx, ctr); err != nil {
		run.Close(context.Background())
		return nil, err
	}
	return run, nil
}

func (e *LocalEngine) Close() error {
	return nil
}

type localRun struct {
	engine *LocalEngine
	root   string
	stdout string
}

// hostPath maps a container path below the run root.
func (r *localRun) hostPath(p string) string {
	return filepath.Join(r.root, filepath.Clean("/"+filepath.FromSlash(p)))
}

func (r *localRun) replay(ctx context.Context, ctr Container) error {
	workdir := "/"
	for _, op := range ctr.Ops {
		switch op.Kind {
		case OpDirectory:
			if err := CopyTree(op.Source.Path, r.hostPath(op.Path), op.Exclude); err != nil {
				return err
			}
		case OpMountCache:
			if err := r.mountCache(op); err != nil {
				return err
			}
		case OpWorkdir:
			workdir = op.Path
			if err := os.MkdirAll(r.hostPath(workdir), 0o755); err != nil {
				return err
			}
		case OpExec:
			stdout, err := r.exec(ctx, workdir, op.Args)
			if err != nil {
				return err
			}
			r.stdout = stdout
		}
	}
	return nil
}

func (r *localRun) mountCache(op Op) error {
	volume := filepath.Join(r.engine.CacheDir, op.Cache)
	if err := os.MkdirAll(volume, 0o755); err != nil {
		return fmt.Errorf("failed to create cache %s: %w", op.Cache, err)
	}
	target := r.hostPath(op.Path)
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	if err := os.RemoveAll(target); err != nil {
		return err
	}
	if err := os.Symlink(volume, target); err != nil {
		return fmt.Errorf("failed to mount cache %s at %s: %w", op.Cache, op.Path, err)
	}
	return nil
}

func (r *localRun) exec(ctx context.Context, workdir string, args []string) (string, error) {
	if len(args) == 0 {
		return "", errors.New("command is required")
	}
	r.engine.logger.Debug("exec", "args", args, "workdir", workdir)

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Dir = r.hostPath(workdir)
	cmd.Env = append(os.Environ(), "RUSTCI_ROOT="+r.root)
	cmd.Stdout = io.MultiWriter(&stdout, r.engine.logOutput)
	cmd.Stderr = io.MultiWriter(&stderr, r.engine.logOutput)

	err := cmd.Run()
	if ctx.Err() != nil {
		return "", ctx.Err()
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return "", &ExecError{Args: args, ExitCode: exitErr.ExitCode(), Stderr: stderr.String()}
	}
	if err != nil {
		return "", fmt.Errorf("failed to start %q: %w", args[0], err)
	}
	return stdout.String(), nil
}

func (r *localRun) Stdout() string {
	return r.stdout
}

func (r *localRun) File(ctx context.Context, path string) (FileID, error) {
	return r.engine.snaps.PutFile(r.hostPath(path))
}

func (r *localRun) Directory(ctx context.Context, path string) (DirectoryID, error) {
	src, err := filepath.EvalSymlinks(r.hostPath(path))
	if err != nil {
		return "", err
	}
	return r.engine.snaps.PutDirectory(src, nil)
}

func (r *localRun) Close(ctx context.Context) error {
	return os.RemoveAll(r.root)
}
