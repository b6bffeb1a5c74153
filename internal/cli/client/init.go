package client

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
)

func InitCmd() *cobra.Command {
	var skipVerify bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Save API credentials for agentkb",
		Long:  "Verifies the API key against the server and stores it with the API URL in the user config directory.",
		RunE: func(cmd *cobra.Command, args []string) error {
			apiKey, _ := cmd.Flags().GetString("api-key")
			apiURL, _ := cmd.Flags().GetString("api-url")
			outputJSON, _ := cmd.Flags().GetBool("output")
			return runInit(cmd.Context(), cmd.InOrStdin(), cmd.OutOrStdout(), cmd.ErrOrStderr(), apiKey, apiURL, skipVerify, outputJSON)
		},
	}

	cmd.Flags().BoolVar(&skipVerify, "skip-verify", false, "Save credentials without contacting the server")
	return cmd
}

func runInit(ctx context.Context, in io.Reader, out, errOut io.Writer, apiKey, apiURL string, skipVerify, outputJSON bool) error {
	existing, err := LoadGlobalConfig()
	if err != nil {
		return err
	}
	if existing == nil {
		existing = &GlobalConfig{}
	}

	if apiKey == "" {
		fmt.Fprint(out, "Enter API key: ")
		line, err := bufio.NewReader(in).ReadString('\n')
		if err != nil && line == "" {
			return fmt.Errorf("failed to read API key: %w", err)
		}
		apiKey = strings.TrimSpace(line)
	}
	if apiKey == "" {
		return fmt.Errorf("API key is required")
	}
	if !IsValidAPIKey(apiKey) {
		fmt.Fprintln(errOut, "warning: API key does not look like an agentkb key (akb_ + 32 hex chars)")
	}

	if apiURL == "" {
		apiURL = existing.APIURL
	}
	if apiURL == "" {
		apiURL = defaultAPIURL
	}

	if !skipVerify {
		api := NewAPIClientWithConfig(apiKey, apiURL)
		if _, err := api.Get(ctx, "/admin/index/stats"); err != nil {
			return fmt.Errorf("failed to verify credentials: %w", err)
		}
	}

	cfg := &GlobalConfig{APIKey: apiKey, APIURL: strings.TrimRight(apiURL, "/")}
	if err := SaveGlobalConfig(cfg); err != nil {
		return err
	}
	path, _ := GetConfigPath()

	if outputJSON {
		return printJSON(out, map[string]any{
			"success": true,
			"api_url": cfg.APIURL,
			"config":  path,
		})
	}
	fmt.Fprintf(out, "Credentials saved to %s\n", path)
	fmt.Fprintf(out, "API URL: %s\n", cfg.APIURL)
	return nil
}
