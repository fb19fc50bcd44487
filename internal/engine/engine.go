package engine

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
)

// Options selects and configures an engine backend.
type Options struct {
	// Backend is "docker" or "local".
	Backend string

	// CacheDir holds snapshots and, for the local backend, cache volumes.
	CacheDir string

	// WorkDir is the scratch root of the local backend.
	WorkDir string

	// VolumePrefix namespaces Docker cache volumes.
	VolumePrefix string

	// LogOutput receives command output while it runs. Defaults to io.Discard.
	LogOutput io.Writer

	Logger *slog.Logger
}

// Open creates the engine client described by opts.
func Open(ctx context.Context, opts Options) (Client, error) {
	if opts.LogOutput == nil {
		opts.LogOutput = io.Discard
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if opts.CacheDir == "" {
		dir, err := os.UserCacheDir()
		if err != nil {
			return nil, fmt.Errorf("failed to determine cache dir: %w", err)
		}
		opts.CacheDir = filepath.Join(dir, "rustci")
	}

	snaps, err := NewSnapshots(filepath.Join(opts.CacheDir, "snapshots"))
	if err != nil {
		return nil, err
	}

	switch opts.Backend {
	case "local":
		return NewLocalEngine(snaps, LocalConfig{
			WorkDir:   opts.WorkDir,
			CacheDir:  filepath.Join(opts.CacheDir, "volumes"),
			LogOutput: opts.LogOutput,
			Logger:    opts.Logger,
		}), nil
	case "docker", "":
		return NewDockerEngine(ctx, snaps, DockerConfig{
			VolumePrefix: opts.VolumePrefix,
			LogOutput:    opts.LogOutput,
			Logger:       opts.Logger,
		})
	default:
		return nil, fmt.Errorf("unknown engine backend %q", opts.Backend)
	}
}

// snapshotClient implements the snapshot half of Client shared by all
// backends.
type snapshotClient struct {
	snaps *Snapshots
}

func (c *snapshotClient) HostDirectory(ctx context.Context, path string) (Directory, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return Directory{}, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return Directory{}, fmt.Errorf("host directory %s: %w", path, err)
	}
	if !info.IsDir() {
		return Directory{}, fmt.Errorf("host directory %s: not a directory", path)
	}
	return Directory{Path: abs}, nil
}

func (c *snapshotClient) LoadDirectory(ctx context.Context, id DirectoryID) (Directory, error) {
	path, err := c.snaps.Directory(id)
	if err != nil {
		return Directory{}, err
	}
	return Directory{ID: id, Path: path}, nil
}

func (c *snapshotClient) DirectoryID(ctx context.Context, dir Directory, exclude ...string) (DirectoryID, error) {
	if dir.ID != "" && len(exclude) == 0 {
		return dir.ID, nil
	}
	return c.snaps.PutDirectory(dir.Path, exclude)
}

func (c *snapshotClient) ExportFile(ctx context.Context, id FileID, hostPath string) error {
	if err := c.snaps.ExportFile(id, hostPath); err != nil {
		return fmt.Errorf("failed to export %s: %w", id, err)
	}
	return nil
}

func (c *snapshotClient) ExportDirectory(ctx context.Context, id DirectoryID, hostPath string) error {
	if err := c.snaps.ExportDirectory(id, hostPath); err != nil {
		return fmt.Errorf("failed to export %s: %w", id, err)
	}
	return nil
}
