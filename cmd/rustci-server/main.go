// Package main is the entry point for rustci-server, which runs jobs and
// pipelines on request and accepts source uploads from remote sessions.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"rustci/internal/config"
	"rustci/internal/engine"
	"rustci/internal/logger"
	"rustci/internal/observability"
	"rustci/internal/pipeline"
	"rustci/internal/server"
	"rustci/internal/server/handlers"
	"rustci/internal/source"
	"rustci/internal/store/postgres"
)

const serviceName = "rustci-server"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "rustci-server: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "Path to config file (default: rustci.yaml in current directory)")
	flag.Parse()

	cfg, err := config.Load(*configPath, nil)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log, err := logger.New(logger.Options{Level: cfg.LogLevel, Format: cfg.LogFormat, Output: os.Stderr})
	if err != nil {
		return err
	}
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Metrics and tracing
	metricsHandler, shutdownTelemetry, err := observability.Setup(ctx, serviceName, cfg.OTELEndpoint)
	if err != nil {
		return fmt.Errorf("failed to init telemetry: %w", err)
	}
	defer func() {
		if err := shutdownTelemetry(context.Background()); err != nil {
			log.Error("failed to shutdown telemetry", "error", err)
		}
	}()

	client, err := engine.Open(ctx, engine.Options{
		Backend:      cfg.Engine,
		CacheDir:     cfg.CacheDir,
		WorkDir:      cfg.WorkDir,
		VolumePrefix: cfg.VolumePrefix,
		LogOutput:    os.Stderr,
		Logger:       log,
	})
	if err != nil {
		return fmt.Errorf("failed to open %s engine: %w", cfg.Engine, err)
	}
	defer client.Close()

	sourceRoot, err := filepath.Abs(cfg.SourceRoot)
	if err != nil {
		return err
	}

	hcfg := handlers.Config{Client: client, Logger: log}
	dcfg := pipeline.Config{Logger: log}

	// Run history is optional.
	if cfg.DatabaseURL != "" {
		st, err := postgres.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("failed to connect to DB: %w", err)
		}
		defer st.Close()
		dcfg.Recorder = st
		hcfg.Runs = st
		hcfg.DB = st
	} else {
		log.Info("run history disabled, no database_url configured")
	}

	driver, err := pipeline.New(client, source.NewResolver(client, sourceRoot, log), dcfg)
	if err != nil {
		return err
	}
	hcfg.Driver = driver

	addr := fmt.Sprintf(":%d", cfg.HTTPPort)
	srv := server.New(server.Config{
		Addr:           addr,
		APIToken:       cfg.APIToken,
		RateLimit:      cfg.RateLimit,
		RateLimitBurst: cfg.RateLimitBurst,
		Metrics:        metricsHandler,
		Logger:         log,
	}, handlers.New(hcfg))

	log.Info("rustci-server starting", "addr", addr, "engine", cfg.Engine, "source_root", sourceRoot)
	if err := srv.Run(ctx); err != nil {
		return fmt.Errorf("server stopped: %w", err)
	}
	log.Info("server exited properly")
	return nil
}
