// Package server exposes the job invocation surface over HTTP.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"rustci/internal/server/handlers"
	"rustci/internal/server/middleware"
)

// Config holds the server settings.
type Config struct {
	Addr string

	// APIToken enables bearer authentication when set.
	APIToken string

	// RateLimit is requests per second per client; 0 disables it.
	RateLimit      float64
	RateLimitBurst int

	// Metrics serves GET /metrics when set.
	Metrics http.Handler

	Logger *slog.Logger
}

// Server is the HTTP server for the rustci API.
type Server struct {
	httpServer *http.Server
}

// New creates a new server.
func New(cfg Config, h *handlers.Handlers) *Server {
	return &Server{
		httpServer: &http.Server{
			Addr:              cfg.Addr,
			Handler:           Routes(cfg, h),
			ReadHeaderTimeout: 10 * time.Second,
			// Jobs run synchronously and may take minutes, so there is no
			// write timeout.
		},
	}
}

// Routes builds the API handler.
func Routes(cfg Config, h *handlers.Handlers) http.Handler {
	auth := middleware.BearerAuth(cfg.APIToken)
	limit := middleware.NewRateLimiter(cfg.RateLimit, cfg.RateLimitBurst).Middleware()
	protected := func(fn http.HandlerFunc) http.Handler {
		return limit(auth(fn))
	}

	mux := http.NewServeMux()

	// Probes
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
	if cfg.Metrics != nil {
		mux.Handle("GET /metrics", cfg.Metrics)
	}

	mux.Handle("GET /jobs", protected(h.ListJobs))
	mux.Handle("POST /jobs/{name}", protected(h.RunJob))
	mux.Handle("POST /pipelines", protected(h.RunPipeline))
	mux.Handle("GET /runs/{id}", protected(h.GetRun))
	mux.Handle("POST /uploads", protected(h.Upload))

	if cfg.Logger == nil {
		return mux
	}
	return middleware.RequestID(cfg.Logger)(mux)
}

// Run starts the HTTP server. It blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	serverErr := make(chan error, 1)

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		return err
	case <-ctx.Done():
		shutDownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		return s.Shutdown(shutDownCtx)
	}
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
