package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"

	"rustci/internal/engine"
	"rustci/internal/engine/enginetest"
	"rustci/internal/jobs"
	"rustci/internal/source"
	"rustci/internal/store"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeUploader struct {
	calls []engine.Directory
	err   error
}

func (u *fakeUploader) Upload(ctx context.Context, dir engine.Directory) (engine.DirectoryID, error) {
	u.calls = append(u.calls, dir)
	if u.err != nil {
		return "", u.err
	}
	return "core.Directory:sha256:uploaded", nil
}

type fakeRecorder struct {
	mu       sync.Mutex
	runs     []*store.Run
	results  []*store.JobResult
	finished map[uuid.UUID]store.RunStatus
	err      error
}

func newFakeRecorder() *fakeRecorder {
	return &fakeRecorder{finished: make(map[uuid.UUID]store.RunStatus)}
}

func (r *fakeRecorder) CreateRun(ctx context.Context, run *store.Run) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs = append(r.runs, run)
	return r.err
}

func (r *fakeRecorder) AddJobResult(ctx context.Context, result *store.JobResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results = append(r.results, result)
	return r.err
}

func (r *fakeRecorder) FinishRun(ctx context.Context, runID uuid.UUID, status store.RunStatus, errMsg *string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finished[runID] = status
	return r.err
}

func newDriver(t *testing.T, fake *enginetest.Fake, cfg Config) *Driver {
	t.Helper()
	d, err := New(fake, source.NewResolver(fake, "/work", nil), cfg)
	require.NoError(t, err)
	return d
}

func TestRun_DefaultRunsTestThenBuild(t *testing.T) {
	fake := enginetest.New()
	d := newDriver(t, fake, Config{})

	report, err := d.Run(context.Background(), Request{})

	require.NoError(t, err)
	assert.Equal(t, ModeDefault, report.Mode)
	if diff := cmp.Diff([]string{"test", "build"}, fake.Pipelines()); diff != "" {
		t.Errorf("job order mismatch (-want +got):\n%s", diff)
	}
	require.Len(t, report.Outcomes, 2)
	assert.Equal(t, "test ok", report.Outcomes[0].Result.Stdout)
	assert.Equal(t, jobs.OutputDirectory, report.Outcomes[1].Result.Kind)
	assert.Equal(t, "/work", report.Source.Path)
}

func TestRun_DefaultStopsWhenTestFails(t *testing.T) {
	fake := enginetest.New()
	fake.FailOn("cargo test")
	d := newDriver(t, fake, Config{})

	report, err := d.Run(context.Background(), Request{})

	var jobErr *JobError
	require.ErrorAs(t, err, &jobErr)
	assert.Equal(t, "test", jobErr.Job)
	var execErr *engine.ExecError
	assert.ErrorAs(t, err, &execErr)

	assert.Equal(t, []string{"test"}, fake.Pipelines(), "build must never run after a failed test")
	failed, ok := report.Failed()
	require.True(t, ok)
	assert.Equal(t, "test", failed.Job)
}

func TestRun_SelectiveFollowsCallerOrder(t *testing.T) {
	fake := enginetest.New()
	d := newDriver(t, fake, Config{})

	report, err := d.Run(context.Background(), Request{Jobs: []string{"build", "test"}})

	require.NoError(t, err)
	assert.Equal(t, ModeSelective, report.Mode)
	assert.Equal(t, []string{"build", "test"}, fake.Pipelines())
}

func TestRun_SelectiveAbortsOnUnknownJob(t *testing.T) {
	fake := enginetest.New()
	d := newDriver(t, fake, Config{})

	report, err := d.Run(context.Background(), Request{Jobs: []string{"test", "does-not-exist", "build"}})

	require.ErrorIs(t, err, jobs.ErrJobNotFound)
	assert.Contains(t, err.Error(), "does-not-exist")
	assert.Equal(t, []string{"test"}, fake.Pipelines())
	require.Len(t, report.Outcomes, 1)
	assert.True(t, report.Outcomes[0].Succeeded())
}

func TestRun_SelectiveExecutionFailureStopsRun(t *testing.T) {
	fake := enginetest.New()
	fake.FailOn("cargo clippy")
	d := newDriver(t, fake, Config{})

	_, err := d.Run(context.Background(), Request{Jobs: []string{"test", "clippy", "build"}})

	var jobErr *JobError
	require.ErrorAs(t, err, &jobErr)
	assert.Equal(t, "clippy", jobErr.Job)
	assert.Equal(t, []string{"test", "clippy"}, fake.Pipelines())
}

func TestRun_ResolvesContextOnce(t *testing.T) {
	fake := enginetest.New()
	id := engine.DirectoryID("core.Directory:sha256:src")
	fake.Dirs[id] = engine.Directory{ID: id, Path: "/snap/src"}
	d := newDriver(t, fake, Config{})

	_, err := d.Run(context.Background(), Request{Source: source.ContentIDRef(id), Jobs: []string{"test", "clippy"}})

	require.NoError(t, err)
	require.Len(t, fake.Runs, 2)
	for _, ctr := range fake.Runs {
		for _, op := range ctr.Ops {
			if op.Kind == engine.OpDirectory {
				assert.Equal(t, id, op.Source.ID)
			}
		}
	}
}

func TestRun_ResolutionErrorRunsNothing(t *testing.T) {
	fake := enginetest.New()
	fake.HostErr = errors.New("no such directory")
	rec := newFakeRecorder()
	d := newDriver(t, fake, Config{Recorder: rec})

	_, err := d.Run(context.Background(), Request{Source: source.PathRef("missing")})

	var resErr *source.ResolutionError
	require.ErrorAs(t, err, &resErr)
	assert.Empty(t, fake.Runs)
	assert.Empty(t, rec.runs)
	assert.Empty(t, rec.finished)
}

func TestRun_PassesJobOptions(t *testing.T) {
	fake := enginetest.New()
	d := newDriver(t, fake, Config{})

	_, err := d.Run(context.Background(), Request{
		Jobs: []string{"build"},
		Options: map[string]jobs.Options{
			"build": {PackageName: "core", Args: []string{"--locked"}},
		},
	})

	require.NoError(t, err)
	execs := fake.Runs[0].Execs()
	want := []string{"cargo", "build", "--release", "-p", "core", "--target", jobs.DefaultTarget, "--locked"}
	assert.Contains(t, execs, want)
}

func TestRun_UploadsOnceBeforeJobs(t *testing.T) {
	fake := enginetest.New()
	up := &fakeUploader{}
	d := newDriver(t, fake, Config{Uploader: up})

	report, err := d.Run(context.Background(), Request{})

	require.NoError(t, err)
	require.Len(t, up.calls, 1)
	assert.Equal(t, "/work", up.calls[0].Path)
	assert.Equal(t, engine.DirectoryID("core.Directory:sha256:uploaded"), report.UploadID)
}

func TestRun_UploadFailureAborts(t *testing.T) {
	fake := enginetest.New()
	d := newDriver(t, fake, Config{Uploader: &fakeUploader{err: errors.New("session gone")}})

	_, err := d.Run(context.Background(), Request{})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "session gone")
	assert.Empty(t, fake.Runs)
}

func TestRun_RecordsHistory(t *testing.T) {
	fake := enginetest.New()
	fake.FailOn("cargo build")
	rec := newFakeRecorder()
	d := newDriver(t, fake, Config{Recorder: rec})

	report, err := d.Run(context.Background(), Request{})
	require.Error(t, err)

	require.Len(t, rec.runs, 1)
	assert.Equal(t, report.RunID, rec.runs[0].ID)
	assert.Equal(t, []string{"test", "build"}, rec.runs[0].Jobs)

	require.Len(t, rec.results, 2)
	assert.Equal(t, store.RunStatusSucceeded, rec.results[0].Status)
	assert.Equal(t, "test ok", rec.results[0].Output)
	assert.Equal(t, store.RunStatusFailed, rec.results[1].Status)
	require.NotNil(t, rec.results[1].ErrorMessage)

	assert.Equal(t, store.RunStatusFailed, rec.finished[report.RunID])
}

func TestRun_RecorderFailureDoesNotFailRun(t *testing.T) {
	fake := enginetest.New()
	rec := newFakeRecorder()
	rec.err = errors.New("database down")
	d := newDriver(t, fake, Config{Recorder: rec})

	_, err := d.Run(context.Background(), Request{Jobs: []string{"test"}})

	require.NoError(t, err)
	assert.Equal(t, []string{"test"}, fake.Pipelines())
}

func TestRun_CancelledContext(t *testing.T) {
	fake := enginetest.New()
	d := newDriver(t, fake, Config{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := d.Run(ctx, Request{})

	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []string{"test"}, fake.Pipelines())
}

func TestRunJob(t *testing.T) {
	fake := enginetest.New()
	rec := newFakeRecorder()
	d := newDriver(t, fake, Config{Recorder: rec})

	res, err := d.RunJob(context.Background(), "llvm_cov", nil, jobs.Options{})

	require.NoError(t, err)
	assert.Equal(t, engine.FileID("core.File:fake:llvm_cov:/app/lcov.info"), res.File)
	assert.Equal(t, []string{"llvm_cov"}, fake.Pipelines())
	assert.Empty(t, rec.results, "single jobs are not recorded")
}

func TestRunJob_Errors(t *testing.T) {
	fake := enginetest.New()
	d := newDriver(t, fake, Config{})

	_, err := d.RunJob(context.Background(), "lint", nil, jobs.Options{})
	require.ErrorIs(t, err, jobs.ErrJobNotFound)
	assert.Empty(t, fake.Runs)

	fake.FailOn("cargo test")
	_, err = d.RunJob(context.Background(), "test", nil, jobs.Options{})
	var execErr *engine.ExecError
	require.ErrorAs(t, err, &execErr)
}
