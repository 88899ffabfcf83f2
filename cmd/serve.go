package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"deapi-mcp/internal/app"
)

// serveConfigPath points at an optional YAML configuration file. Environment
// variables still override values from the file.
var serveConfigPath string

// serveDebug enables verbose logging across the application.
var serveDebug bool

// serveHost and servePort override the configured listen address.
var (
	serveHost string
	servePort int
)

// serveCmd starts the MCP server. This is the main command of deapi-mcp.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the deapi-mcp server",
	Long: `Starts the HTTP server that exposes the deAPI inference endpoints as
MCP tools over the streamable HTTP transport.

The MCP endpoint lives at /mcp and requires a bearer token: either a deAPI
key passed through directly, or an access token obtained from the built-in
OAuth authorization server at /authorize and /token.

Configuration is read from defaults, then the optional --config file, then
environment variables (DEAPI_API_BASE_URL, DEAPI_JWT_SECRET_KEY,
PUBLIC_BASE_URL, MCP_HOST, MCP_PORT).`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	application, err := app.NewApplication(app.Options{
		ConfigPath: serveConfigPath,
		Debug:      serveDebug,
		Host:       serveHost,
		Port:       servePort,
	}, GetVersion())
	if err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return application.Run(ctx)
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveConfigPath, "config", "", "Path to a YAML configuration file")
	serveCmd.Flags().BoolVar(&serveDebug, "debug", false, "Enable debug logging")
	serveCmd.Flags().StringVar(&serveHost, "host", "", "Listen host (overrides configuration)")
	serveCmd.Flags().IntVar(&servePort, "port", 0, "Listen port (overrides configuration)")
}
