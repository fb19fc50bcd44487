// Package engine provides the container execution engine used by rustci jobs.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Client defines the interface for evaluating container plans.
// Implementations include Docker and raw process execution.
type Client interface {
	// HostDirectory returns a handle to a directory on the engine host.
	HostDirectory(ctx context.Context, path string) (Directory, error)

	// LoadDirectory returns the directory snapshot previously issued under id.
	LoadDirectory(ctx context.Context, id DirectoryID) (Directory, error)

	// DirectoryID snapshots dir and returns its content identifier.
	DirectoryID(ctx context.Context, dir Directory, exclude ...string) (DirectoryID, error)

	// Run evaluates a container plan. Any exec exiting non-zero fails the run.
	Run(ctx context.Context, ctr Container) (Run, error)

	// ExportFile copies a file snapshot to hostPath.
	ExportFile(ctx context.Context, id FileID, hostPath string) error

	// ExportDirectory copies a directory snapshot to hostPath.
	ExportDirectory(ctx context.Context, id DirectoryID, hostPath string) error

	Close() error
}

// Run represents an evaluated container.
type Run interface {
	// Stdout returns the standard output of the last exec.
	Stdout() string

	// File snapshots the file at path inside the container.
	File(ctx context.Context, path string) (FileID, error)

	// Directory snapshots the directory at path inside the container.
	Directory(ctx context.Context, path string) (DirectoryID, error)

	// Close releases the container.
	Close(ctx context.Context) error
}

// Directory is a resolved directory handle.
// Path is where the engine reads the tree from; ID is empty until the tree
// has been snapshotted.
type Directory struct {
	ID   DirectoryID
	Path string
}

const (
	directoryIDPrefix = "core.Directory:"
	fileIDPrefix      = "core.File:"
)

// DirectoryID is the content identifier of a directory snapshot.
type DirectoryID string

// FileID is the content identifier of a file snapshot.
type FileID string

// IsDirectoryID reports whether s looks like a directory identifier.
func IsDirectoryID(s string) bool {
	return strings.HasPrefix(s, directoryIDPrefix)
}

// IsFileID reports whether s looks like a file identifier.
func IsFileID(s string) bool {
	return strings.HasPrefix(s, fileIDPrefix)
}

var (
	// ErrInvalidID is returned for identifiers that cannot be parsed.
	ErrInvalidID = errors.New("invalid content identifier")

	// ErrUnknownID is returned when no snapshot exists for an identifier.
	ErrUnknownID = errors.New("unknown content identifier")
)

// ExecError is returned when a command in a container plan exits non-zero.
type ExecError struct {
	Args     []string
	ExitCode int
	Stderr   string
}

func (e *ExecError) Error() string {
	msg := fmt.Sprintf("exec %q exited with code %d", strings.Join(e.Args, " "), e.ExitCode)
	if tail := lastLines(e.Stderr, 10); tail != "" {
		msg += ":\n" + tail
	}
	return msg
}

func lastLines(s string, n int) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}
