package cmd

import (
	"fmt"

	"rustci/internal/engine"
	"rustci/internal/jobs"
	"rustci/internal/source"

	"github.com/spf13/cobra"
)

func newSnapshotCmd(cfgFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "snapshot [path]",
		Short: "Snapshot a source directory and print its identifier",
		Long: `Snapshot stores the directory, minus the paths jobs never see, and prints
its identifier. The identifier can be passed as --src to later runs.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "."
			if len(args) == 1 {
				path = args[0]
			}

			a, err := setup(cmd, *cfgFile)
			if err != nil {
				return err
			}
			defer a.close(cmd.Context())

			dir, err := a.driver.Resolve(cmd.Context(), source.PathRef(path))
			if err != nil {
				return err
			}
			id, err := a.client.DirectoryID(cmd.Context(), engine.Directory{Path: dir.Path}, jobs.Exclude...)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), id)
			return nil
		},
	}
}
