package engine

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
)

// DockerConfig configures the Docker engine.
type DockerConfig struct {
	// VolumePrefix is prepended to cache names to form volume names.
	VolumePrefix string

	LogOutput io.Writer
	Logger    *slog.Logger
}

// DockerEngine implements Client using the Docker SDK.
// Each plan is evaluated in one long-lived container; execs run inside it
// in plan order.
type DockerEngine struct {
	snapshotClient
	client       *client.Client
	volumePrefix string
	logOutput    io.Writer
	logger       *slog.Logger
}

// DockerRun represents an evaluated plan backed by a running container.
type DockerRun struct {
	engine      *DockerEngine
	containerID string
	stdout      string
}

// NewDockerEngine creates a new Docker-based engine.
func NewDockerEngine(ctx context.Context, snaps *Snapshots, cfg DockerConfig) (*DockerEngine, error) {
	// Initializes client from standard environment variables (DOCKER_HOST, etc.)
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create Docker client: %w", err)
	}
	if cfg.VolumePrefix == "" {
		cfg.VolumePrefix = "rustci-"
	}
	if cfg.LogOutput == nil {
		cfg.LogOutput = io.Discard
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &DockerEngine{
		snapshotClient: snapshotClient{snaps: snaps},
		client:         cli,
		volumePrefix:   cfg.VolumePrefix,
		logOutput:      cfg.LogOutput,
		logger:         cfg.Logger,
	}, nil
}

// VolumeName returns the Docker volume backing a named cache.
func (d *DockerEngine) VolumeName(cache string) string {
	return d.volumePrefix + cache
}

// mounts translates cache ops into named volume mounts.
func (d *DockerEngine) mounts(ctr Container) []mount.Mount {
	var mounts []mount.Mount
	for _, op := range ctr.Caches() {
		mounts = append(mounts, mount.Mount{
			Type:   mount.TypeVolume,
			Source: d.VolumeName(op.Cache),
			Target: op.Path,
		})
	}
	return mounts
}

// Run implements Client.Run using a Docker container.
func (d *DockerEngine) Run(ctx context.Context, ctr Container) (Run, error) {
	if ctr.Image == "" {
		return nil, fmt.Errorf("container plan %q: image is required", ctr.Pipeline)
	}
	if err := d.ensureImage(ctx, ctr.Image); err != nil {
		return nil, err
	}

	// Cache volumes have to exist at create time, so they are mounted for
	// the whole life of the container.
	containerConfig := &container.Config{
		Image:      ctr.Image,
		Entrypoint: []string{"sleep"},
		Cmd:        []string{"infinity"},
		Labels: map[string]string{
			"rustci.pipeline": ctr.Pipeline,
		},
	}
	hostConfig := &container.HostConfig{Mounts: d.mounts(ctr)}

	resp, err := d.client.ContainerCreate(ctx, containerConfig, hostConfig, nil, nil, "")
	if err != nil {
		return nil, fmt.Errorf("failed to create container: %w", err)
	}
	run := &DockerRun{engine: d, containerID: resp.ID}

	if err := d.client.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		run.Close(context.Background())
		return nil, fmt.Errorf("failed to start container: %w", err)
	}

	if err := run.replay(ctx, ctr); err != nil {
		run.Close(context.Background())
		return nil, err
	}
	return run, nil
}

func (d *DockerEngine) ensureImage(ctx context.Context, ref string) error {
	// Check if it exists locally first to save time.
	if _, _, err := d.client.ImageInspectWithRaw(ctx, ref); err == nil {
		return nil
	}

	d.logger.Info("pulling image", "image", ref)
	reader, err := d.client.ImagePull(ctx, ref, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("failed to pull image %s: %w", ref, err)
	}
	defer reader.Close()
	if _, err := io.Copy(io.Discard, reader); err != nil {
		return fmt.Errorf("failed to pull image %s: %w", ref, err)
	}
	return nil
}

// Close closes the Docker client.
func (d *DockerEngine) Close() error {
	return d.client.Close()
}

func (r *DockerRun) replay(ctx context.Context, ctr Container) error {
	workdir := "/"
	for _, op := range ctr.Ops {
		switch op.Kind {
		case OpDirectory:
			if err := r.copyIn(ctx, op); err != nil {
				return err
			}
		case OpMountCache:
			r.engine.logger.Debug("cache mounted", "cache", op.Cache, "path", op.Path)
		case OpWorkdir:
			workdir = op.Path
			if _, err := r.exec(ctx, "/", []string{"mkdir", "-p", workdir}); err != nil {
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

func (r *DockerRun) copyIn(ctx context.Context, op Op) error {
	if _, err := r.exec(ctx, "/", []string{"mkdir", "-p", op.Path}); err != nil {
		return err
	}

	tar, err := TarDirectory(op.Source.Path, op.Exclude)
	if err != nil {
		return err
	}
	defer tar.Close()

	err = r.engine.client.CopyToContainer(ctx, r.containerID, op.Path, tar, container.CopyToContainerOptions{})
	if err != nil {
		return fmt.Errorf("failed to copy directory to %s: %w", op.Path, err)
	}
	return nil
}

func (r *DockerRun) exec(ctx context.Context, workdir string, args []string) (string, error) {
	cli := r.engine.client
	r.engine.logger.Debug("exec", "args", args, "workdir", workdir)

	created, err := cli.ContainerExecCreate(ctx, r.containerID, container.ExecOptions{
		Cmd:          args,
		WorkingDir:   workdir,
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		return "", fmt.Errorf("failed to create exec: %w", err)
	}

	attach, err := cli.ContainerExecAttach(ctx, created.ID, container.ExecAttachOptions{})
	if err != nil {
		return "", fmt.Errorf("failed to attach exec: %w", err)
	}
	defer attach.Close()

	var stdout, stderr bytes.Buffer
	_, err = stdcopy.StdCopy(
		io.MultiWriter(&stdout, r.engine.logOutput),
		io.MultiWriter(&stderr, r.engine.logOutput),
		attach.Reader,
	)
	if err != nil {
		return "", fmt.Errorf("failed to read exec output: %w", err)
	}

	for {
		inspect, err := cli.ContainerExecInspect(ctx, created.ID)
		if err != nil {
			return "", fmt.Errorf("failed to inspect exec: %w", err)
		}
		if !inspect.Running {
			if inspect.ExitCode != 0 {
				return "", &ExecError{Args: args, ExitCode: inspect.ExitCode, Stderr: stderr.String()}
			}
			return stdout.String(), nil
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(50 * time.Millisecond):
		}
	}
}

func (r *DockerRun) Stdout() string {
	return r.stdout
}

// copyOut extracts path from the container into a scratch directory and
// returns the local location of the extracted entry.
func (r *DockerRun) copyOut(ctx context.Context, path string) (string, func(), error) {
	rc, _, err := r.engine.client.CopyFromContainer(ctx, r.containerID, path)
	if err != nil {
		return "", nil, fmt.Errorf("failed to copy %s from container: %w", path, err)
	}
	defer rc.Close()

	tmp, err := os.MkdirTemp(filepath.Join(r.engine.snaps.Root, "tmp"), "copy-")
	if err != nil {
		return "", nil, err
	}
	cleanup := func() { os.RemoveAll(tmp) }

	if err := Untar(rc, tmp); err != nil {
		cleanup()
		return "", nil, fmt.Errorf("failed to extract %s: %w", path, err)
	}
	return filepath.Join(tmp, filepath.Base(path)), cleanup, nil
}

func (r *DockerRun) File(ctx context.Context, path string) (FileID, error) {
	local, cleanup, err := r.copyOut(ctx, path)
	if err != nil {
		return "", err
	}
	defer cleanup()
	return r.engine.snaps.PutFile(local)
}

func (r *DockerRun) Directory(ctx context.Context, path string) (DirectoryID, error) {
	local, cleanup, err := r.copyOut(ctx, path)
	if err != nil {
		return "", err
	}
	defer cleanup()
	return r.engine.snaps.PutDirectory(local, nil)
}

// Close forcefully removes the container.
func (r *DockerRun) Close(ctx context.Context) error {
	return r.engine.client.ContainerRemove(ctx, r.containerID, container.RemoveOptions{Force: true})
}
