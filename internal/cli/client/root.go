// Package client implements the agentkb command line client.
package client

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

// RootCmd builds the agentkb command tree.
func RootCmd(version string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "agentkb",
		Short: "agentkb CLI - ask the agent documentation assistant",
		Long: `agentkb talks to an agentkbd server.

Environment variables:
  AGENTKB_API_KEY   API key for authentication
  AGENTKB_API_URL   API base URL (default: http://localhost:8080)`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().Bool("output", false, "Output as JSON")
	rootCmd.PersistentFlags().String("api-key", "", "API key for authentication (overrides env and config)")
	rootCmd.PersistentFlags().String("api-url", "", "API base URL (overrides env and config)")

	rootCmd.AddCommand(InitCmd())
	rootCmd.AddCommand(AskCmd())
	rootCmd.AddCommand(HistoryCmd())
	rootCmd.AddCommand(ResetCmd())
	rootCmd.AddCommand(CacheCmd())
	rootCmd.AddCommand(IndexCmd())
	return rootCmd
}

func printJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}
