package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

// rootCmd is the top-level deapi-mcp command. Running it without a
// subcommand only prints help; the server itself lives under serve.
var rootCmd = &cobra.Command{
	Use:   "deapi-mcp",
	Short: "MCP server for the deAPI AI inference platform",
	Long: `deapi-mcp exposes the deAPI image, audio, video and embedding
generation endpoints as MCP tools, so LLM agents can run inference jobs
through a single authenticated server.

The server issues its own OAuth access tokens that wrap the upstream deAPI
key, and converts asynchronous inference jobs into synchronous tool results
by polling on the caller's behalf.`,
	// Runtime errors are reported by the commands themselves, so the
	// usage text would only add noise.
	SilenceUsage: true,
}

// SetVersion records the build version on the root command. main calls
// this before Execute so subcommands see the linked-in version.
func SetVersion(v string) {
	rootCmd.Version = v
}

// GetVersion reports the version previously set via SetVersion.
func GetVersion() string {
	return rootCmd.Version
}

// Execute runs the CLI and exits non-zero when a command fails.
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "deapi-mcp version %s\n" .Version}}`)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(newVersionCmd())
}
