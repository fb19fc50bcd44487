package cmd

import (
	"fmt"

	"rustci/internal/engine"

	"github.com/spf13/cobra"
)

func newExportCmd(cfgFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "export <id> <dest>",
		Short: "Copy a file or directory snapshot to the host",
		Example: `  rustci export core.File:sha256:9f86d0... ./lcov.info
  rustci export core.Directory:sha256:2c26b4... ./dist`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, dest := args[0], args[1]
			if !engine.IsFileID(id) && !engine.IsDirectoryID(id) {
				return fmt.Errorf("%w: %s", engine.ErrInvalidID, id)
			}

			a, err := setup(cmd, *cfgFile)
			if err != nil {
				return err
			}
			defer a.close(cmd.Context())

			if engine.IsFileID(id) {
				err = a.client.ExportFile(cmd.Context(), engine.FileID(id), dest)
			} else {
				err = a.client.ExportDirectory(cmd.Context(), engine.DirectoryID(id), dest)
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "exported %s to %s\n", id, dest)
			return nil
		},
	}
}
