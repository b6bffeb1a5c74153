package client

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/cloo-solutions/agentkb/internal/domain"
)

type chatRequest struct {
	Message       string              `json:"message"`
	SessionID     string              `json:"session_id,omitempty"`
	AgentContext  domain.AgentContext `json:"agent_context"`
	ModelOverride string              `json:"model_override,omitempty"`
}

// AskCmd creates the ask command.
func AskCmd() *cobra.Command {
	var (
		sessionID string
		agentType string
		pageID    string
		model     string
		newSess   bool
	)

	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Ask a question",
		Long: `Sends a question to the chat endpoint and prints the answer with its sources.

Without --session the last session saved by 'agentkb init' is continued;
--new starts a fresh one.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			outputJSON, _ := cmd.Flags().GetBool("output")

			api, err := NewAPIClientWithCmd(cmd)
			if err != nil {
				return err
			}

			saved, err := LoadGlobalConfig()
			if err != nil {
				return err
			}
			if sessionID == "" && !newSess && saved != nil {
				sessionID = saved.Session
			}

			req := chatRequest{
				Message:       strings.Join(args, " "),
				SessionID:     sessionID,
				AgentContext:  domain.AgentContext{AgentType: agentType, PageID: pageID},
				ModelOverride: model,
			}
			resp, err := api.Post(cmd.Context(), "/chat", req)
			if err != nil {
				return fmt.Errorf("ask failed: %w", err)
			}

			var answer domain.Response
			if err := resp.Decode(&answer); err != nil {
				return err
			}

			if saved != nil && answer.SessionID != "" && answer.SessionID != saved.Session {
				saved.Session = answer.SessionID
				if err := SaveGlobalConfig(saved); err != nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "warning: %v\n", err)
				}
			}

			if outputJSON {
				return printJSON(cmd.OutOrStdout(), answer)
			}
			printAnswer(cmd.OutOrStdout(), &answer)
			return nil
		},
	}

	cmd.Flags().StringVarP(&sessionID, "session", "s", "", "Session ID to continue")
	cmd.Flags().BoolVar(&newSess, "new", false, "Start a new session")
	cmd.Flags().StringVarP(&agentType, "agent-type", "a", "", "Agent type the question is about")
	cmd.Flags().StringVar(&pageID, "page", "", "Page the question was asked from")
	cmd.Flags().StringVarP(&model, "model", "m", "", "Chat model override")

	return cmd
}

func printAnswer(w io.Writer, r *domain.Response) {
	fmt.Fprintln(w, r.Reply)
	if len(r.Sources) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Sources:")
		for i, src := range r.Sources {
			fmt.Fprintf(w, "  %d. %s (%.2f, %s)\n", i+1, src.Title, src.Score, src.Method)
		}
	}

	flags := []string{string(r.ConfidenceTier)}
	if r.Cached {
		flags = append(flags, "cached")
	}
	if r.Degraded {
		flags = append(flags, "degraded: "+r.DegradeReason)
	}
	fmt.Fprintf(w, "\n[%s] session %s, %dms\n", strings.Join(flags, ", "), r.SessionID, r.Timing.TotalMS)
}
