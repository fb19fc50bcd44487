package jobs

import (
	"path"
	"slices"
)

const (
	appDir       = "/app"
	lintImage    = "rust:1.73-bookworm"
	defaultImage = "rust:latest"

	llvmCovURL     = "https://github.com/taiki-e/cargo-llvm-cov/releases/download/v0.5.36/cargo-llvm-cov-x86_64-unknown-linux-gnu.tar.gz"
	llvmCovArchive = "cargo-llvm-cov-x86_64-unknown-linux-gnu.tar.gz"

	clippyReport = "rust-clippy-results.sarif"
	lcovReport   = "lcov.info"
)

var caches = []CacheMount{
	{Path: "/app/target", Name: "target"},
	{Path: "/root/cargo/registry", Name: "registry"},
}

// base fills in the parts every job shares.
func base(name Name, description, image string) JobSpec {
	return JobSpec{
		Name:        name,
		Description: description,
		BaseImage:   image,
		Projection:  Projection{Path: appDir, Exclude: slices.Clone(Exclude)},
		CacheMounts: slices.Clone(caches),
		Workdir:     appDir,
	}
}

func exportOr(opts Options, fallback string) string {
	if opts.NoExport {
		return ""
	}
	if opts.ExportPath != "" {
		return opts.ExportPath
	}
	return fallback
}

// ClippySpec lints the workspace and exports a SARIF report.
func ClippySpec(opts Options) JobSpec {
	s := base(Clippy, "Run clippy", lintImage)
	s.SetupCommands = [][]string{
		{"apt-get", "update"},
		{"apt-get", "install", "-y", "build-essential", "pkg-config"},
		{"rustup", "component", "add", "clippy"},
		{"cargo", "install", "clippy-sarif", "--version", "0.3.0"},
		{"cargo", "install", "sarif-fmt", "--version", "0.3.0"},
	}
	s.FinalCommand = []string{
		"sh", "-c",
		"cargo clippy --all-features --message-format=json | clippy-sarif | tee " + clippyReport + " | sarif-fmt",
	}
	s.Output = Output{Kind: OutputFile, Path: appDir + "/" + clippyReport, Export: exportOr(opts, "./"+clippyReport)}
	return s
}

// TestSpec runs cargo test and captures its output.
func TestSpec(opts Options) JobSpec {
	s := base(Test, "Run tests", defaultImage)
	s.FinalCommand = append([]string{"cargo", "test"}, opts.Args...)
	s.Output = Output{Kind: OutputStdout}
	return s
}

// BuildSpec compiles a release build for a target triple and exports the
// top-level artifacts of the release directory.
func BuildSpec(opts Options) JobSpec {
	target := opts.Target
	if target == "" {
		target = DefaultTarget
	}

	s := base(Build, "Build the project", defaultImage)
	s.SetupCommands = [][]string{
		{"rustup", "target", "add", target},
	}

	cmd := []string{"cargo", "build", "--release"}
	if opts.PackageName != "" {
		cmd = append(cmd, "-p", opts.PackageName)
	}
	cmd = append(cmd, "--target", target)
	s.FinalCommand = append(cmd, opts.Args...)

	// The release directory is passed as $1 so the triple is never parsed by the shell.
	s.Collect = []string{
		"sh", "-c",
		`mkdir -p dist && find "$1" -maxdepth 1 -type f -exec cp {} dist/ \;`,
		"sh", path.Join("target", target, "release"),
	}
	s.Output = Output{Kind: OutputDirectory, Path: appDir + "/dist", Export: exportOr(opts, "")}
	return s
}

// LLVMCovSpec produces an lcov coverage report for the workspace.
func LLVMCovSpec(opts Options) JobSpec {
	s := base(LLVMCov, "Generate llvm coverage report", lintImage)
	s.SetupCommands = [][]string{
		{"apt-get", "update"},
		{"apt-get", "install", "-y", "build-essential", "wget", "pkg-config"},
		{"rustup", "component", "add", "llvm-tools"},
		{"wget", llvmCovURL},
		{"tar", "xvf", llvmCovArchive},
		{"mv", "cargo-llvm-cov", "/usr/local/bin"},
	}
	s.FinalCommand = []string{
		"sh", "-c",
		"cargo llvm-cov --all-features --lib --workspace --lcov --output-path " + lcovReport,
	}
	s.Output = Output{Kind: OutputFile, Path: appDir + "/" + lcovReport, Export: exportOr(opts, "./"+lcovReport)}
	return s
}
