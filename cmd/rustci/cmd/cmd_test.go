package cmd

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"rustci/internal/auth"
	"rustci/internal/engine"
	"rustci/internal/engine/enginetest"

	"gopkg.in/yaml.v3"
)

// useFake makes every command run against an in-memory engine from an empty
// working directory.
func useFake(t *testing.T) *enginetest.Fake {
	t.Helper()
	fake := enginetest.New()
	orig := openEngine
	openEngine = func(ctx context.Context, opts engine.Options) (engine.Client, error) {
		return fake, nil
	}
	t.Cleanup(func() { openEngine = orig })

	wd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(t.TempDir()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Chdir(wd) })

	t.Setenv("RUSTCI_SESSION_URL", "")
	t.Setenv("RUSTCI_DATABASE_URL", "")
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	return fake
}

func execute(args ...string) (string, error) {
	return executeContext(context.Background(), args...)
}

func executeContext(ctx context.Context, args ...string) (string, error) {
	root := NewRootCmd()
	buf := new(bytes.Buffer)
	root.SetOut(buf)
	root.SetErr(new(bytes.Buffer))
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	return buf.String(), err
}

func TestRunCommand_Default(t *testing.T) {
	fake := useFake(t)

	out, err := execute("run")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got := strings.Join(fake.Pipelines(), ","); got != "test,build" {
		t.Errorf("expected test,build, got %s", got)
	}
	if !strings.Contains(out, "test ok") {
		t.Errorf("expected test stdout, got %q", out)
	}
	if !strings.Contains(out, "build: core.Directory:fake:build:/app/dist") {
		t.Errorf("expected build directory id, got %q", out)
	}
	if !fake.Closed {
		t.Error("expected engine to be closed")
	}
}

func TestRunCommand_SelectiveOrder(t *testing.T) {
	fake := useFake(t)

	if _, err := execute("run", "clippy", "build", "test"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got := strings.Join(fake.Pipelines(), ","); got != "clippy,build,test" {
		t.Errorf("expected caller order, got %s", got)
	}
}

func TestRunCommand_UnknownJobAborts(t *testing.T) {
	fake := useFake(t)

	_, err := execute("run", "test", "does-not-exist", "build")
	if err == nil {
		t.Fatal("expected error for unknown job")
	}
	if !strings.Contains(err.Error(), "job not found: does-not-exist") {
		t.Errorf("unexpected error: %v", err)
	}
	if got := strings.Join(fake.Pipelines(), ","); got != "test" {
		t.Errorf("expected only test to run, got %s", got)
	}
}

func TestRunCommand_BuildFlags(t *testing.T) {
	fake := useFake(t)

	_, err := execute("run", "build", "--package", "cli", "--target", "aarch64-unknown-linux-gnu", "--build-arg=--locked")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := "cargo build --release -p cli --target aarch64-unknown-linux-gnu --locked"
	found := false
	for _, args := range fake.Runs[0].Execs() {
		if strings.Join(args, " ") == want {
			found = true
		}
	}
	if !found {
		t.Errorf("expected exec %q, got %v", want, fake.Runs[0].Execs())
	}
}

func TestRunCommand_Report(t *testing.T) {
	fake := useFake(t)
	fake.FailOn("cargo build")
	path := filepath.Join(t.TempDir(), "report.yaml")

	_, err := execute("run", "--report", path)
	if err == nil {
		t.Fatal("expected build failure")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("expected report file: %v", err)
	}
	var report reportFile
	if err := yaml.Unmarshal(data, &report); err != nil {
		t.Fatalf("failed to decode report: %v", err)
	}
	if report.Mode != "default" || report.Status != "FAILED" {
		t.Errorf("unexpected report header %+v", report)
	}
	if len(report.Jobs) != 2 {
		t.Fatalf("expected 2 jobs in report, got %d", len(report.Jobs))
	}
	if report.Jobs[0].Status != "SUCCEEDED" || report.Jobs[0].Output != "test ok" {
		t.Errorf("unexpected test entry %+v", report.Jobs[0])
	}
	if report.Jobs[1].Status != "FAILED" || report.Jobs[1].Error == "" {
		t.Errorf("unexpected build entry %+v", report.Jobs[1])
	}
}

func TestJobCommands(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		pipeline string
		want     string
	}{
		{"test passes args", []string{"test", "--", "--lib"}, "test", "test ok"},
		{"clippy yields file", []string{"clippy"}, "clippy", "core.File:fake:clippy:/app/rust-clippy-results.sarif"},
		{"llvm-cov yields file", []string{"llvm-cov"}, "llvm_cov", "core.File:fake:llvm_cov:/app/lcov.info"},
		{"llvm_cov alias", []string{"llvm_cov"}, "llvm_cov", "core.File:fake:llvm_cov:/app/lcov.info"},
		{"build yields directory", []string{"build", "--package", "core"}, "build", "core.Directory:fake:build:/app/dist"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := useFake(t)

			out, err := execute(tt.args...)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if strings.TrimSpace(out) != tt.want {
				t.Errorf("expected output %q, got %q", tt.want, out)
			}
			if got := fake.Pipelines(); len(got) != 1 || got[0] != tt.pipeline {
				t.Errorf("expected single %s run, got %v", tt.pipeline, got)
			}
		})
	}
}

func TestTestCommand_ForwardsCargoArgs(t *testing.T) {
	fake := useFake(t)

	if _, err := execute("test", "--", "--lib", "--nocapture"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	execs := fake.Runs[0].Execs()
	if got := strings.Join(execs[len(execs)-1], " "); got != "cargo test --lib --nocapture" {
		t.Errorf("unexpected final command %q", got)
	}
}

func TestJobCommand_Fails(t *testing.T) {
	fake := useFake(t)
	fake.FailOn("cargo clippy")

	_, err := execute("clippy")
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "exited with code 101") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestJobsCommand(t *testing.T) {
	out, err := execute("jobs")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 5 {
		t.Fatalf("expected header and 4 jobs, got %q", out)
	}
	for i, name := range []string{"clippy", "test", "build", "llvm_cov"} {
		if !strings.HasPrefix(lines[i+1], name) {
			t.Errorf("line %d: expected %s, got %q", i+1, name, lines[i+1])
		}
	}
	if !strings.Contains(out, "Generate llvm coverage report") {
		t.Errorf("expected descriptions, got %q", out)
	}
}

func TestJobsCommand_YAML(t *testing.T) {
	out, err := execute("jobs", "-o", "yaml")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var entries []jobEntry
	if err := yaml.Unmarshal([]byte(out), &entries); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if len(entries) != 4 || entries[2].Name != "build" || entries[2].Description != "Build the project" {
		t.Errorf("unexpected entries %+v", entries)
	}

	if _, err := execute("jobs", "-o", "json"); err == nil {
		t.Error("expected error for unknown format")
	}
}

func TestSnapshotCommand(t *testing.T) {
	useFake(t)

	out, err := execute("snapshot", "crates/core")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.HasPrefix(out, "core.Directory:fake:") || !strings.HasSuffix(strings.TrimSpace(out), "crates/core") {
		t.Errorf("unexpected identifier %q", out)
	}
}

func TestExportCommand(t *testing.T) {
	fake := useFake(t)

	if _, err := execute("export", "core.File:fake:clippy:/app/x.sarif", "out.sarif"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := execute("export", "core.Directory:fake:build:/app/dist", "dist"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(fake.Exports) != 2 || fake.Exports[0].Path != "out.sarif" || fake.Exports[1].Path != "dist" {
		t.Errorf("unexpected exports %+v", fake.Exports)
	}

	_, err := execute("export", "not-an-id", "x")
	if err == nil || !strings.Contains(err.Error(), "invalid content identifier") {
		t.Errorf("expected invalid id error, got %v", err)
	}
}

func TestRootCommand_InvalidEngine(t *testing.T) {
	useFake(t)

	_, err := execute("--engine", "podman", "test")
	if err == nil || !strings.Contains(err.Error(), "engine must be docker or local") {
		t.Errorf("expected engine validation error, got %v", err)
	}
}

func TestCommands_StopOnCancelledContext(t *testing.T) {
	for _, args := range [][]string{{"run"}, {"test"}, {"run", "build", "clippy"}} {
		t.Run(strings.Join(args, " "), func(t *testing.T) {
			fake := useFake(t)
			ctx, cancel := context.WithCancel(context.Background())
			cancel()

			_, err := executeContext(ctx, args...)

			if !errors.Is(err, context.Canceled) {
				t.Fatalf("expected context.Canceled, got %v", err)
			}
			if len(fake.Runs) > 1 {
				t.Errorf("expected no job after cancellation, got %v", fake.Pipelines())
			}
			if !fake.Closed {
				t.Error("expected engine to be closed")
			}
		})
	}
}

func TestHashTokenCommand(t *testing.T) {
	tests := []struct {
		name  string
		args  []string
		stdin string
	}{
		{"argument", []string{"hash-token", "ci-token"}, ""},
		{"stdin", []string{"hash-token"}, "ci-token\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := NewRootCmd()
			buf := new(bytes.Buffer)
			root.SetOut(buf)
			root.SetErr(new(bytes.Buffer))
			root.SetIn(strings.NewReader(tt.stdin))
			root.SetArgs(tt.args)
			if err := root.Execute(); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			hashed := strings.TrimSpace(buf.String())
			if !strings.HasPrefix(hashed, auth.HashPrefix) {
				t.Fatalf("expected %s prefix, got %q", auth.HashPrefix, hashed)
			}
			v, err := auth.NewVerifier(hashed)
			if err != nil {
				t.Fatalf("printed value is not a valid api token: %v", err)
			}
			if !v.Verify("ci-token") || v.Verify("other") {
				t.Error("printed hash does not verify the original token")
			}
		})
	}

	if _, err := execute("hash-token", "  "); err == nil {
		t.Error("expected error for empty token")
	}
}
