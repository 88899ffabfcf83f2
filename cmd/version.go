package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// newVersionCmd builds the version subcommand, which prints the build
// version injected at link time.
func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version number of deapi-mcp",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "deapi-mcp version %s\n", rootCmd.Version)
		},
	}
}
