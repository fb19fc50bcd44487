package cmd

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"rustci/internal/jobs"
	"rustci/internal/pipeline"
	"rustci/internal/source"
	"rustci/internal/store"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

type runFlags struct {
	src        string
	pkg        string
	target     string
	testArgs   []string
	buildArgs  []string
	exportPath string
	report     string
}

func newRunCmd(cfgFile *string) *cobra.Command {
	var f runFlags

	c := &cobra.Command{
		Use:   "run [job...]",
		Short: "Run the default pipeline or the named jobs in order",
		Long: `Run without arguments executes test and then build. With arguments, the
named jobs run in the given order; an unknown name aborts the run before
any later job starts.`,
		Example: `  rustci run
  rustci run clippy test build
  rustci run --src ./crates/core --test-arg=--lib`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(cmd, *cfgFile)
			if err != nil {
				return err
			}
			defer a.close(cmd.Context())

			report, runErr := a.driver.Run(cmd.Context(), pipeline.Request{
				Source:  source.Parse(f.src),
				Jobs:    args,
				Options: f.options(),
			})
			if report != nil {
				printOutcomes(cmd.OutOrStdout(), report)
				if f.report != "" {
					if err := writeReport(f.report, report, runErr); err != nil {
						return err
					}
				}
			}
			return runErr
		},
	}

	c.Flags().StringVar(&f.src, "src", "", "source directory or directory identifier (default is the working directory)")
	c.Flags().StringVar(&f.pkg, "package", "", "cargo package to build")
	c.Flags().StringVar(&f.target, "target", "", "build target triple (default "+jobs.DefaultTarget+")")
	c.Flags().StringArrayVar(&f.testArgs, "test-arg", nil, "extra argument for cargo test, repeatable")
	c.Flags().StringArrayVar(&f.buildArgs, "build-arg", nil, "extra argument for cargo build, repeatable")
	c.Flags().StringVar(&f.exportPath, "export", "", "host directory the build artifacts are exported to")
	c.Flags().StringVar(&f.report, "report", "", "write a YAML run report to this file")
	return c
}

func (f runFlags) options() map[string]jobs.Options {
	return map[string]jobs.Options{
		string(jobs.Test): {Args: f.testArgs},
		string(jobs.Build): {
			Args:        f.buildArgs,
			PackageName: f.pkg,
			Target:      f.target,
			ExportPath:  f.exportPath,
		},
	}
}

func printOutcomes(w io.Writer, report *pipeline.Report) {
	for _, o := range report.Outcomes {
		if !o.Succeeded() {
			fmt.Fprintf(w, "%s: failed after %s\n", o.Job, o.Duration.Round(time.Millisecond))
			continue
		}
		if o.Result.Kind == jobs.OutputStdout {
			fmt.Fprint(w, o.Result.Stdout)
			if !strings.HasSuffix(o.Result.Stdout, "\n") {
				fmt.Fprintln(w)
			}
			continue
		}
		fmt.Fprintf(w, "%s: %s\n", o.Job, o.Result.Value())
	}
}

type reportFile struct {
	RunID    string      `yaml:"run_id"`
	Mode     string      `yaml:"mode"`
	Source   string      `yaml:"source,omitempty"`
	UploadID string      `yaml:"upload_id,omitempty"`
	Status   string      `yaml:"status"`
	Error    string      `yaml:"error,omitempty"`
	Jobs     []jobReport `yaml:"jobs"`
}

type jobReport struct {
	Name       string `yaml:"name"`
	Status     string `yaml:"status"`
	Kind       string `yaml:"kind,omitempty"`
	Output     string `yaml:"output,omitempty"`
	Error      string `yaml:"error,omitempty"`
	DurationMS int64  `yaml:"duration_ms"`
}

func writeReport(path string, report *pipeline.Report, runErr error) error {
	out := reportFile{
		RunID:    report.RunID.String(),
		Mode:     string(report.Mode),
		Source:   string(report.Source.ID),
		UploadID: string(report.UploadID),
		Status:   string(store.RunStatusSucceeded),
		Jobs:     []jobReport{},
	}
	if out.Source == "" {
		out.Source = report.Source.Path
	}
	if runErr != nil {
		out.Status = string(store.RunStatusFailed)
		out.Error = runErr.Error()
	}
	for _, o := range report.Outcomes {
		jr := jobReport{Name: o.Job, Status: string(store.RunStatusSucceeded), DurationMS: o.Duration.Milliseconds()}
		if o.Succeeded() {
			jr.Kind = string(o.Result.Kind)
			jr.Output = o.Result.Value()
		} else {
			jr.Status = string(store.RunStatusFailed)
			jr.Error = o.Err.Error()
		}
		out.Jobs = append(out.Jobs, jr)
	}

	data, err := yaml.Marshal(out)
	if err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	return nil
}
