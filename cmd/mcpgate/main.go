package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

func main() {
	if err := buildRoot().Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// GlobalFlags holds persistent flags shared by all commands.
type GlobalFlags struct {
	ConfigPath string
}

// APIFlags holds daemon connection flags for client commands.
type APIFlags struct {
	URL     string
	Key     string
	Timeout time.Duration
}

func buildRoot() *cobra.Command {
	globalFlags := &GlobalFlags{}
	apiFlags := &APIFlags{}

	root := &cobra.Command{
		Use:   "mcpgate",
		Short: "Reverse proxy and supervisor for MCP stdio servers",
		Long: `mcpgate supervises MCP servers speaking JSON-RPC over stdio and exposes
them over HTTP and WebSocket, with per-service rate limiting, response
caching, and a key-protected management API.

Examples:
  mcpgate serve --config=mcpgate.toml
  mcpgate service list --api-key=mgk_...
  mcpgate key create --name=ci --api-key=mgk_...`,
	}
	root.PersistentFlags().StringVar(&globalFlags.ConfigPath, "config", "", "path to TOML config file (optional)")

	root.AddCommand(
		createServeCommand(globalFlags),
		createServiceCommand(apiFlags),
		createKeyCommand(apiFlags),
	)
	return root
}

func addAPIFlags(cmd *cobra.Command, flags *APIFlags) {
	cmd.PersistentFlags().StringVar(&flags.URL, "api-url", "http://localhost:8080", "daemon URL")
	cmd.PersistentFlags().StringVar(&flags.Key, "api-key", "", "management API key")
	cmd.PersistentFlags().DurationVar(&flags.Timeout, "api-timeout", 10*time.Second, "request timeout")
}
