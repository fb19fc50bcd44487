package cmd

import (
	"fmt"
	"strings"

	"rustci/internal/jobs"
	"rustci/internal/source"

	"github.com/spf13/cobra"
)

// newJobCmds returns one command per registered job. Positional arguments are
// passed through to cargo for jobs that accept them.
func newJobCmds(cfgFile *string) []*cobra.Command {
	reg := jobs.Default()
	var cmds []*cobra.Command
	for _, name := range reg.Names() {
		desc, _ := reg.Describe(name)
		cmds = append(cmds, newJobCmd(cfgFile, jobs.Name(name), desc))
	}
	return cmds
}

func newJobCmd(cfgFile *string, name jobs.Name, desc string) *cobra.Command {
	var (
		src  string
		opts jobs.Options
	)

	c := &cobra.Command{
		Use:   strings.ReplaceAll(string(name), "_", "-"),
		Short: desc,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(cmd, *cfgFile)
			if err != nil {
				return err
			}
			defer a.close(cmd.Context())

			opts.Args = args
			res, err := a.driver.RunJob(cmd.Context(), string(name), source.Parse(src), opts)
			if err != nil {
				return err
			}
			out := res.Value()
			if !strings.HasSuffix(out, "\n") {
				out += "\n"
			}
			fmt.Fprint(cmd.OutOrStdout(), out)
			return nil
		},
	}
	if name == jobs.LLVMCov {
		c.Aliases = []string{string(name)}
	}

	c.Flags().StringVar(&src, "src", "", "source directory or directory identifier (default is the working directory)")
	c.Flags().StringVar(&opts.ExportPath, "export", "", "host path the artifact is exported to")

	switch name {
	case jobs.Test:
		c.Use += " [-- cargo-test-args...]"
	case jobs.Build:
		c.Use += " [-- cargo-build-args...]"
		c.Flags().StringVar(&opts.PackageName, "package", "", "cargo package to build")
		c.Flags().StringVar(&opts.Target, "target", "", "build target triple (default "+jobs.DefaultTarget+")")
	default:
		c.Args = cobra.NoArgs
	}
	return c
}
