package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/54b3r/ragindex/internal/version"
)

// NewVersionCmd constructs the `ragindex version` subcommand. Values are
// injected at build time via -ldflags.
func NewVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the ragindex version, git commit, and build date",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.String())
		},
	}
}
