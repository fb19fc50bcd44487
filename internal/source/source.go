// Package source resolves source context references into directory handles.
package source

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"

	"rustci/internal/engine"
)

// Ref is a reference to a directory to operate on. Exactly one of
// PathRef, ContentIDRef or HandleRef.
type Ref interface {
	isRef()
	String() string
}

// PathRef is a filesystem path relative to the resolver's base directory.
type PathRef string

// ContentIDRef is an identifier previously issued by the engine.
type ContentIDRef string

// HandleRef is an already resolved directory.
type HandleRef struct {
	Dir engine.Directory
}

func (PathRef) isRef()      {}
func (ContentIDRef) isRef() {}
func (HandleRef) isRef()    {}

func (r PathRef) String() string      { return string(r) }
func (r ContentIDRef) String() string { return string(r) }
func (r HandleRef) String() string {
	if r.Dir.ID != "" {
		return string(r.Dir.ID)
	}
	return r.Dir.Path
}

// Parse maps user input to a Ref. Strings carrying the directory identifier
// prefix become ContentIDRef, anything else a PathRef. Empty input means ".".
func Parse(s string) Ref {
	if s == "" {
		return PathRef(".")
	}
	if engine.IsDirectoryID(s) {
		return ContentIDRef(s)
	}
	return PathRef(s)
}

// ResolutionError is returned when a reference cannot be interpreted as a
// content identifier nor as a path.
type ResolutionError struct {
	Ref       Ref
	LookupErr error
	PathErr   error
}

func (e *ResolutionError) Error() string {
	if e.LookupErr != nil {
		return fmt.Sprintf("cannot resolve source %q: content id lookup: %v; path: %v", e.Ref, e.LookupErr, e.PathErr)
	}
	return fmt.Sprintf("cannot resolve source %q: %v", e.Ref, e.PathErr)
}

func (e *ResolutionError) Unwrap() []error {
	var errs []error
	if e.LookupErr != nil {
		errs = append(errs, e.LookupErr)
	}
	if e.PathErr != nil {
		errs = append(errs, e.PathErr)
	}
	return errs
}

// Resolver turns references into directory handles.
type Resolver struct {
	Client engine.Client

	// BaseDir anchors relative paths: the invocation directory for the CLI,
	// the configured source root for the server.
	BaseDir string

	Logger *slog.Logger
}

// NewResolver creates a resolver anchored at baseDir.
func NewResolver(client engine.Client, baseDir string, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Resolver{Client: client, BaseDir: baseDir, Logger: logger}
}

// Resolve returns the directory handle for ref. It never retries.
func (r *Resolver) Resolve(ctx context.Context, ref Ref) (engine.Directory, error) {
	switch ref := ref.(type) {
	case HandleRef:
		return ref.Dir, nil
	case ContentIDRef:
		dir, lookupErr := r.lookupContentID(ctx, engine.DirectoryID(ref))
		if lookupErr == nil {
			return dir, nil
		}
		r.Logger.DebugContext(ctx, "content id lookup failed, resolving as path",
			"ref", string(ref), "error", lookupErr)
		dir, pathErr := r.resolvePath(ctx, string(ref))
		if pathErr != nil {
			return engine.Directory{}, &ResolutionError{Ref: ref, LookupErr: lookupErr, PathErr: pathErr}
		}
		return dir, nil
	case PathRef:
		dir, err := r.resolvePath(ctx, string(ref))
		if err != nil {
			return engine.Directory{}, &ResolutionError{Ref: ref, PathErr: err}
		}
		return dir, nil
	case nil:
		return r.Resolve(ctx, PathRef("."))
	default:
		return engine.Directory{}, fmt.Errorf("unsupported source reference %T", ref)
	}
}

// lookupContentID loads a snapshot and confirms the identifier round-trips.
func (r *Resolver) lookupContentID(ctx context.Context, id engine.DirectoryID) (engine.Directory, error) {
	dir, err := r.Client.LoadDirectory(ctx, id)
	if err != nil {
		return engine.Directory{}, err
	}
	if dir.ID != id {
		return engine.Directory{}, fmt.Errorf("engine returned %q for %q", dir.ID, id)
	}
	return dir, nil
}

// resolvePath is the fallback interpretation of a reference as a host path.
func (r *Resolver) resolvePath(ctx context.Context, p string) (engine.Directory, error) {
	if p == "" {
		p = "."
	}
	if !filepath.IsAbs(p) && r.BaseDir != "" {
		p = filepath.Join(r.BaseDir, p)
	}
	return r.Client.HostDirectory(ctx, p)
}
