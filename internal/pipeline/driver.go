// Package pipeline runs the default pipeline or a caller-ordered selection of
// registered jobs against one resolved source context.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"rustci/internal/engine"
	"rustci/internal/jobs"
	"rustci/internal/logger"
	"rustci/internal/source"
	"rustci/internal/store"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "rustci/internal/pipeline"

// Mode is the entry decision of a run.
type Mode string

const (
	ModeDefault   Mode = "default"
	ModeSelective Mode = "selective"
)

// DefaultJobs is the fixed order of a Default-Run.
var DefaultJobs = []jobs.Name{jobs.Test, jobs.Build}

// Request describes one pipeline invocation.
type Request struct {
	// Source defaults to the resolver's base directory.
	Source source.Ref

	// Jobs selects jobs in order. Empty means Default-Run.
	Jobs []string

	// Options are keyed by job name.
	Options map[string]jobs.Options
}

// Outcome is the result of one executed job.
type Outcome struct {
	Job      string
	Result   jobs.Result
	Err      error
	Started  time.Time
	Duration time.Duration
}

// Succeeded reports whether the job completed without error.
func (o Outcome) Succeeded() bool {
	return o.Err == nil
}

// Report summarises a run. It is returned even when the run fails and then
// lists the jobs executed up to and including the failing one.
type Report struct {
	RunID    uuid.UUID
	Mode     Mode
	Source   engine.Directory
	UploadID engine.DirectoryID
	Outcomes []Outcome
}

// Failed returns the failing outcome, if any.
func (r *Report) Failed() (Outcome, bool) {
	for _, o := range r.Outcomes {
		if !o.Succeeded() {
			return o, true
		}
	}
	return Outcome{}, false
}

// JobError reports the failure of one job.
type JobError struct {
	Job string
	Err error
}

func (e *JobError) Error() string {
	return fmt.Sprintf("job %s failed: %v", e.Job, e.Err)
}

func (e *JobError) Unwrap() error {
	return e.Err
}

// Uploader ships the local source tree to a remote session.
type Uploader interface {
	Upload(ctx context.Context, dir engine.Directory) (engine.DirectoryID, error)
}

// Recorder persists run history. Failures are logged and never fail a run.
type Recorder interface {
	CreateRun(ctx context.Context, run *store.Run) error
	AddJobResult(ctx context.Context, result *store.JobResult) error
	FinishRun(ctx context.Context, runID uuid.UUID, status store.RunStatus, errMsg *string) error
}

// Config wires the collaborators of a Driver.
type Config struct {
	// Registry defaults to jobs.Default().
	Registry *jobs.Registry

	// Uploader is set when a remote session is configured.
	Uploader Uploader

	// Recorder is set when run history is enabled.
	Recorder Recorder

	Logger *slog.Logger
}

// Driver executes pipeline requests. Jobs of one run execute sequentially.
type Driver struct {
	client   engine.Client
	resolver *source.Resolver
	registry *jobs.Registry
	uploader Uploader
	recorder Recorder
	logger   *slog.Logger

	tracer      trace.Tracer
	jobsTotal   metric.Int64Counter
	jobDuration metric.Float64Histogram
}

// New creates a driver. Instruments come from the global otel providers.
func New(client engine.Client, resolver *source.Resolver, cfg Config) (*Driver, error) {
	if cfg.Registry == nil {
		cfg.Registry = jobs.Default()
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.Discard()
	}

	meter := otel.Meter(instrumentationName)
	jobsTotal, err := meter.Int64Counter("rustci.jobs.total",
		metric.WithDescription("Jobs executed, by job and status"))
	if err != nil {
		return nil, fmt.Errorf("failed to create jobs counter: %w", err)
	}
	jobDuration, err := meter.Float64Histogram("rustci.job.duration",
		metric.WithDescription("Job execution time"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, fmt.Errorf("failed to create duration histogram: %w", err)
	}

	return &Driver{
		client:      client,
		resolver:    resolver,
		registry:    cfg.Registry,
		uploader:    cfg.Uploader,
		recorder:    cfg.Recorder,
		logger:      cfg.Logger,
		tracer:      otel.Tracer(instrumentationName),
		jobsTotal:   jobsTotal,
		jobDuration: jobDuration,
	}, nil
}

// Registry returns the registry jobs are looked up in.
func (d *Driver) Registry() *jobs.Registry {
	return d.registry
}

// Resolve resolves a source reference with the driver's resolver.
func (d *Driver) Resolve(ctx context.Context, ref source.Ref) (engine.Directory, error) {
	return d.resolver.Resolve(ctx, ref)
}

// Run executes req. The source is resolved once and shared by every job.
// The first failing job, or the first unknown name in a Selective-Run, ends
// the run; jobs already executed keep their side effects.
func (d *Driver) Run(ctx context.Context, req Request) (*Report, error) {
	report := &Report{RunID: uuid.New(), Mode: ModeDefault}
	names := make([]string, 0, len(DefaultJobs))
	for _, n := range DefaultJobs {
		names = append(names, string(n))
	}
	if len(req.Jobs) > 0 {
		report.Mode = ModeSelective
		names = req.Jobs
	}

	ctx = logger.WithRunID(ctx, report.RunID.String())
	log := logger.FromContext(ctx, d.logger)

	ctx, span := d.tracer.Start(ctx, "pipeline.run", trace.WithAttributes(
		attribute.String("rustci.run_id", report.RunID.String()),
		attribute.String("rustci.mode", string(report.Mode)),
		attribute.StringSlice("rustci.jobs", names),
	))
	defer span.End()

	err := d.run(ctx, log, req, names, report)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		log.Error("pipeline failed", "mode", report.Mode, "error", err)
	} else {
		log.Info("pipeline succeeded", "mode", report.Mode, "jobs", len(report.Outcomes))
	}
	d.finish(ctx, log, report, err)
	return report, err
}

// RunJob invokes a single registered job outside of a pipeline run. It is the
// job invocation surface of the CLI and the server; nothing is uploaded or
// recorded.
func (d *Driver) RunJob(ctx context.Context, name string, ref source.Ref, opts jobs.Options) (jobs.Result, error) {
	job, err := d.registry.Lookup(name)
	if err != nil {
		return jobs.Result{}, err
	}
	src, err := d.resolver.Resolve(ctx, ref)
	if err != nil {
		return jobs.Result{}, err
	}
	o := d.execute(ctx, logger.FromContext(ctx, d.logger), uuid.Nil, job, src, opts)
	if o.Err != nil {
		return jobs.Result{}, &JobError{Job: name, Err: o.Err}
	}
	return o.Result, nil
}

func (d *Driver) run(ctx context.Context, log *slog.Logger, req Request, names []string, report *Report) error {
	src, err := d.resolver.Resolve(ctx, req.Source)
	if err != nil {
		return err
	}
	report.Source = src
	log.Info("pipeline started", "mode", report.Mode, "jobs", names, "source", src.Path)

	d.start(ctx, log, report, req, names)

	if d.uploader != nil {
		id, err := d.uploader.Upload(ctx, src)
		if err != nil {
			return fmt.Errorf("failed to upload source to session: %w", err)
		}
		report.UploadID = id
		log.Info("source uploaded to session", "directory_id", id)
	}

	for _, name := range names {
		job, err := d.registry.Lookup(name)
		if err != nil {
			return err
		}
		outcome := d.execute(ctx, log, report.RunID, job, src, req.Options[name])
		report.Outcomes = append(report.Outcomes, outcome)
		if outcome.Err != nil {
			return &JobError{Job: name, Err: outcome.Err}
		}
	}
	return nil
}

func (d *Driver) execute(ctx context.Context, log *slog.Logger, runID uuid.UUID, job jobs.Job, src engine.Directory, opts jobs.Options) Outcome {
	name := string(job.Name)
	ctx, span := d.tracer.Start(ctx, "job."+name, trace.WithAttributes(
		attribute.String("rustci.job", name),
	))
	defer span.End()

	log.Info("job started", "job", name)
	started := time.Now()
	res, err := job.Run(ctx, d.client, src, opts)
	outcome := Outcome{Job: name, Result: res, Err: err, Started: started, Duration: time.Since(started)}

	status := store.RunStatusSucceeded
	if err != nil {
		status = store.RunStatusFailed
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		log.Error("job failed", "job", name, "duration", outcome.Duration, "error", err)
	} else {
		span.SetAttributes(attribute.String("rustci.output", res.Value()))
		log.Info("job succeeded", "job", name, "duration", outcome.Duration)
	}

	attrs := metric.WithAttributes(
		attribute.String("job", name),
		attribute.String("status", string(status)),
	)
	d.jobsTotal.Add(ctx, 1, attrs)
	d.jobDuration.Record(ctx, outcome.Duration.Seconds(), attrs)

	d.recordJob(ctx, log, runID, outcome, status)
	return outcome
}

func (d *Driver) start(ctx context.Context, log *slog.Logger, report *Report, req Request, names []string) {
	if d.recorder == nil {
		return
	}
	src := report.Source.Path
	if req.Source != nil {
		src = req.Source.String()
	}
	run := &store.Run{
		ID:        report.RunID,
		Mode:      string(report.Mode),
		Source:    src,
		Jobs:      names,
		Status:    store.RunStatusRunning,
		StartedAt: time.Now().UTC(),
	}
	if err := d.recorder.CreateRun(ctx, run); err != nil {
		log.Warn("failed to record run", "error", err)
	}
}

func (d *Driver) recordJob(ctx context.Context, log *slog.Logger, runID uuid.UUID, o Outcome, status store.RunStatus) {
	if d.recorder == nil || runID == uuid.Nil {
		return
	}
	result := &store.JobResult{
		RunID:     runID,
		Job:       o.Job,
		Status:    status,
		Output:    o.Result.Value(),
		Duration:  o.Duration,
		StartedAt: o.Started.UTC(),
	}
	if o.Err != nil {
		msg := o.Err.Error()
		result.ErrorMessage = &msg
	}
	if err := d.recorder.AddJobResult(ctx, result); err != nil {
		log.Warn("failed to record job result", "job", o.Job, "error", err)
	}
}

func (d *Driver) finish(ctx context.Context, log *slog.Logger, report *Report, runErr error) {
	if d.recorder == nil {
		return
	}
	// Runs are created after resolution; a run that never resolved was never recorded.
	if report.Source == (engine.Directory{}) {
		return
	}
	status := store.RunStatusSucceeded
	var msg *string
	if runErr != nil {
		status = store.RunStatusFailed
		s := runErr.Error()
		msg = &s
	}
	if err := d.recorder.FinishRun(context.WithoutCancel(ctx), report.RunID, status, msg); err != nil {
		log.Warn("failed to record run status", "error", err)
	}
}
