// Package cmd implements the rustci command tree.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"rustci/internal/config"
	"rustci/internal/engine"
	"rustci/internal/logger"
	"rustci/internal/observability"
	"rustci/internal/pipeline"
	"rustci/internal/session"
	"rustci/internal/source"
	"rustci/internal/store/postgres"

	"github.com/spf13/cobra"
)

// openEngine is replaced in tests.
var openEngine = engine.Open

// NewRootCmd builds the rustci command tree.
func NewRootCmd() *cobra.Command {
	var cfgFile string

	root := &cobra.Command{
		Use:   "rustci",
		Short: "rustci runs CI jobs for Rust projects in containers",
		Long: `rustci runs the clippy, test, build and llvm_cov jobs of a Rust workspace
in containers, alone or as a pipeline.

Common workflows:

  Run the default pipeline (test, then build):
    rustci run

  Run selected jobs in the given order:
    rustci run clippy test

  Run a single job:
    rustci test -- --nocapture
    rustci build --package cli --target aarch64-unknown-linux-gnu

  List the available jobs:
    rustci jobs

Configuration:
  Settings come from rustci.yaml in the working directory (or --config),
  RUSTCI_* environment variables and flags, e.g.
    RUSTCI_ENGINE       docker (default) or local
    RUSTCI_CACHE_DIR    snapshot and cache directory
    RUSTCI_SESSION_URL  remote rustci-server the source is uploaded to`,
		SilenceUsage: true,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "config file (default is ./rustci.yaml)")
	pf.String("engine", "docker", "execution engine: docker or local")
	pf.String("cache-dir", "", "snapshot and cache directory")
	pf.String("work-dir", "", "scratch directory of the local engine")
	pf.String("log-level", "info", "log level: debug, info, warn, error")
	pf.String("log-format", "json", "log format: json or text")
	pf.String("session-url", "", "remote rustci-server to upload the source to before a pipeline")
	pf.String("session-token", "", "bearer token of the remote session")
	pf.String("database-url", "", "PostgreSQL URL for run history")

	root.AddCommand(
		newRunCmd(&cfgFile),
		newJobsCmd(),
		newSnapshotCmd(&cfgFile),
		newExportCmd(&cfgFile),
		newHashTokenCmd(),
	)
	for _, c := range newJobCmds(&cfgFile) {
		root.AddCommand(c)
	}
	return root
}

// Execute runs the command tree under ctx, which is cancelled on interrupt.
// cobra prints the triggering error.
func Execute(ctx context.Context) error {
	return NewRootCmd().ExecuteContext(ctx)
}

// app holds everything a command needs to run jobs.
type app struct {
	cfg     *config.Config
	log     *slog.Logger
	client  engine.Client
	driver  *pipeline.Driver
	closers []func(context.Context) error
}

// setup loads configuration and opens the engine and optional integrations.
func setup(cmd *cobra.Command, cfgFile string) (*app, error) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return nil, err
	}
	log, err := logger.New(logger.Options{Level: cfg.LogLevel, Format: cfg.LogFormat, Output: cmd.ErrOrStderr()})
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, log: log}

	a.client, err = openEngine(ctx, engine.Options{
		Backend:      cfg.Engine,
		CacheDir:     cfg.CacheDir,
		WorkDir:      cfg.WorkDir,
		VolumePrefix: cfg.VolumePrefix,
		LogOutput:    cmd.ErrOrStderr(),
		Logger:       log,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open %s engine: %w", cfg.Engine, err)
	}
	a.closers = append(a.closers, func(context.Context) error { return a.client.Close() })

	if cfg.OTELEndpoint != "" {
		shutdown, err := observability.InitTracer(ctx, "rustci", cfg.OTELEndpoint)
		if err != nil {
			a.close(ctx)
			return nil, err
		}
		a.closers = append(a.closers, shutdown)
	}

	dcfg := pipeline.Config{Logger: log}
	if cfg.SessionURL != "" {
		dcfg.Uploader = session.NewHTTPUploader(cfg.SessionURL, cfg.SessionToken)
	}
	if cfg.DatabaseURL != "" {
		st, err := postgres.New(ctx, cfg.DatabaseURL)
		if err != nil {
			a.close(ctx)
			return nil, err
		}
		dcfg.Recorder = st
		a.closers = append(a.closers, func(context.Context) error { return st.Close() })
	}

	wd, err := os.Getwd()
	if err != nil {
		a.close(ctx)
		return nil, err
	}
	a.driver, err = pipeline.New(a.client, source.NewResolver(a.client, wd, log), dcfg)
	if err != nil {
		a.close(ctx)
		return nil, err
	}
	return a, nil
}

func (a *app) close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i](context.WithoutCancel(ctx)))
	}
	return errors.Join(errs...)
}
