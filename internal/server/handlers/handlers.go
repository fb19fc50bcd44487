// Package handlers contains HTTP handlers for the rustci API.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"strconv"
	"time"

	"rustci/internal/engine"
	"rustci/internal/jobs"
	"rustci/internal/logger"
	"rustci/internal/pipeline"
	"rustci/internal/source"
	"rustci/internal/store"
	"rustci/pkg/api"
)

// DefaultMaxUploadBytes bounds the size of a session upload.
const DefaultMaxUploadBytes = 1 << 30

// Pinger reports the health of a dependency.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Config holds the handler dependencies.
type Config struct {
	Driver *pipeline.Driver
	Client engine.Client

	// Runs serves GET /runs/{id}; nil when run history is disabled.
	Runs store.RunStore

	// DB is checked by the readiness probe when set.
	DB Pinger

	Logger         *slog.Logger
	MaxUploadBytes int64
}

// Handlers holds all HTTP handlers and their dependencies.
type Handlers struct {
	driver         *pipeline.Driver
	client         engine.Client
	runs           store.RunStore
	db             Pinger
	logger         *slog.Logger
	maxUploadBytes int64
}

// New creates a new Handlers instance.
func New(cfg Config) *Handlers {
	if cfg.Logger == nil {
		cfg.Logger = logger.Discard()
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = DefaultMaxUploadBytes
	}
	return &Handlers{
		driver:         cfg.Driver,
		client:         cfg.Client,
		runs:           cfg.Runs,
		db:             cfg.DB,
		logger:         cfg.Logger,
		maxUploadBytes: cfg.MaxUploadBytes,
	}
}

// A helper function to write standard JSON responses.
func (h *Handlers) respondJson(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload != nil {
		json.NewEncoder(w).Encode(payload)
	}
}

// A helper function to return consistent error messages.
func (h *Handlers) httpError(w http.ResponseWriter, message string, code int) {
	h.respondJson(w, code, api.ErrorResponse{
		Error: message,
		Code:  strconv.Itoa(code),
	})
}

// statusFor maps job and pipeline errors to HTTP status codes.
func statusFor(err error) int {
	var resErr *source.ResolutionError
	var execErr *engine.ExecError
	switch {
	case errors.Is(err, jobs.ErrJobNotFound):
		return http.StatusNotFound
	case errors.As(err, &resErr), errors.Is(err, errInvalidSource):
		return http.StatusBadRequest
	case errors.As(err, &execErr):
		return http.StatusUnprocessableEntity
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

var errInvalidSource = errors.New("src must be a directory id or a path inside the source root")

// parseSource rejects paths escaping the server source root. A directory id
// must be well formed, and since a failed lookup falls back to the same
// string as a path, that path must stay inside the root too.
func parseSource(src string) (source.Ref, error) {
	ref := source.Parse(src)
	switch ref := ref.(type) {
	case source.PathRef:
		if !filepath.IsLocal(string(ref)) {
			return nil, fmt.Errorf("%w: %q", errInvalidSource, src)
		}
	case source.ContentIDRef:
		if err := engine.ValidateDirectoryID(engine.DirectoryID(ref)); err != nil || !filepath.IsLocal(string(ref)) {
			return nil, fmt.Errorf("%w: %q", errInvalidSource, src)
		}
	}
	return ref, nil
}

func toJobResult(name string, res jobs.Result, err error, d time.Duration) api.JobResult {
	out := api.JobResult{
		Job:        name,
		Status:     string(store.RunStatusSucceeded),
		DurationMS: d.Milliseconds(),
	}
	if err != nil {
		msg := err.Error()
		out.Status = string(store.RunStatusFailed)
		out.Error = &msg
		return out
	}
	out.Kind = string(res.Kind)
	out.Output = res.Value()
	return out
}
