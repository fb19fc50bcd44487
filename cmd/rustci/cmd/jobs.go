package cmd

import (
	"fmt"
	"text/tabwriter"

	"rustci/internal/jobs"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

type jobEntry struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
}

func newJobsCmd() *cobra.Command {
	var output string

	c := &cobra.Command{
		Use:   "jobs",
		Short: "List the available jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			reg := jobs.Default()
			var entries []jobEntry
			for _, name := range reg.Names() {
				desc, _ := reg.Describe(name)
				entries = append(entries, jobEntry{Name: name, Description: desc})
			}

			switch output {
			case "yaml":
				enc := yaml.NewEncoder(cmd.OutOrStdout())
				if err := enc.Encode(entries); err != nil {
					return err
				}
				return enc.Close()
			case "text", "":
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "NAME\tDESCRIPTION")
				for _, e := range entries {
					fmt.Fprintf(w, "%s\t%s\n", e.Name, e.Description)
				}
				return w.Flush()
			default:
				return fmt.Errorf("unknown output format %q: must be text or yaml", output)
			}
		},
	}
	c.Flags().StringVarP(&output, "output", "o", "text", "output format: text or yaml")
	return c
}
