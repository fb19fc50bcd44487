package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"strings"

	"rustci/internal/auth"

	"github.com/spf13/cobra"
)

func newHashTokenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-token [token]",
		Short: "Print the hashed form of an API token for rustci-server",
		Long: `Print the value to set as api_token (or RUSTCI_API_TOKEN) on rustci-server
so the clear token never has to be stored there. Without an argument the
token is read from the first line of stdin.`,
		Example: `  rustci hash-token "$CI_TOKEN"
  echo "$CI_TOKEN" | rustci hash-token`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var token string
			if len(args) == 1 {
				token = args[0]
			} else {
				line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if err != nil && line == "" {
					return fmt.Errorf("failed to read token from stdin: %w", err)
				}
				token = line
			}
			if strings.TrimSpace(token) == "" {
				return errors.New("token must not be empty")
			}
			fmt.Fprintln(cmd.OutOrStdout(), auth.HashPrefix+auth.HashKey(token))
			return nil
		},
	}
}
