package client

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/spf13/cobra"

	"github.com/cloo-solutions/agentkb/internal/domain"
)

type historyResponse struct {
	SessionID string                    `json:"session_id"`
	Turns     []domain.ConversationTurn `json:"turns"`
}

// resolveSession picks the explicit argument or the saved session.
func resolveSession(args []string) (string, error) {
	if len(args) > 0 && args[0] != "" {
		return args[0], nil
	}
	cfg, err := LoadGlobalConfig()
	if err != nil {
		return "", err
	}
	if cfg == nil || cfg.Session == "" {
		return "", fmt.Errorf("no session given and none saved (pass a session ID)")
	}
	return cfg.Session, nil
}

// HistoryCmd creates the history command.
func HistoryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "history [session-id]",
		Short: "Show a session's conversation",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			outputJSON, _ := cmd.Flags().GetBool("output")

			sessionID, err := resolveSession(args)
			if err != nil {
				return err
			}
			api, err := NewAPIClientWithCmd(cmd)
			if err != nil {
				return err
			}

			resp, err := api.Get(cmd.Context(), "/sessions/"+url.PathEscape(sessionID)+"/history")
			if err != nil {
				return fmt.Errorf("history failed: %w", err)
			}
			var hist historyResponse
			if err := resp.Decode(&hist); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if outputJSON {
				return printJSON(out, hist)
			}
			if len(hist.Turns) == 0 {
				fmt.Fprintf(out, "Session %s has no turns.\n", hist.SessionID)
				return nil
			}
			for i, turn := range hist.Turns {
				fmt.Fprintf(out, "[%s] Q: %s\n", turn.Timestamp.Format("15:04:05"), turn.Query)
				fmt.Fprintf(out, "A: %s\n", turn.Reply)
				if i < len(hist.Turns)-1 {
					fmt.Fprintln(out, strings.Repeat("-", 40))
				}
			}
			return nil
		},
	}
}

// ResetCmd creates the reset command.
func ResetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reset [session-id]",
		Short: "Forget a session's conversation",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sessionID, err := resolveSession(args)
			if err != nil {
				return err
			}
			api, err := NewAPIClientWithCmd(cmd)
			if err != nil {
				return err
			}
			if _, err := api.Delete(cmd.Context(), "/sessions/"+url.PathEscape(sessionID)); err != nil {
				return fmt.Errorf("reset failed: %w", err)
			}

			cfg, err := LoadGlobalConfig()
			if err == nil && cfg != nil && cfg.Session == sessionID {
				cfg.Session = ""
				_ = SaveGlobalConfig(cfg)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Session %s reset.\n", sessionID)
			return nil
		},
	}
}
