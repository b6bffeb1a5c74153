package client

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
)

type flushResponse struct {
	Flushed int `json:"flushed"`
}

type indexStats struct {
	Vector struct {
		Chunks     int       `json:"chunks"`
		Indexed    int       `json:"indexed"`
		Generation uint64    `json:"generation"`
		BuiltAt    time.Time `json:"built_at"`
		Stale      bool      `json:"stale"`
		LastError  string    `json:"last_error,omitempty"`
	} `json:"vector"`
	Lexical struct {
		Documents int       `json:"documents"`
		Terms     int       `json:"terms"`
		BuiltAt   time.Time `json:"built_at"`
	} `json:"lexical"`
	CacheEntries int `json:"cache_entries"`
}

// CacheCmd groups response cache commands.
func CacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage the server's response cache",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "flush",
		Short: "Drop every cached response",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			outputJSON, _ := cmd.Flags().GetBool("output")
			api, err := NewAPIClientWithCmd(cmd)
			if err != nil {
				return err
			}
			resp, err := api.Post(cmd.Context(), "/admin/cache/flush", nil)
			if err != nil {
				return fmt.Errorf("cache flush failed: %w", err)
			}
			var flushed flushResponse
			if err := resp.Decode(&flushed); err != nil {
				return err
			}
			if outputJSON {
				return printJSON(cmd.OutOrStdout(), flushed)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Flushed %d cached responses.\n", flushed.Flushed)
			return nil
		},
	})
	return cmd
}

// IndexCmd groups index commands.
func IndexCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "index",
		Short: "Inspect or refresh the server's document index",
	}
	cmd.AddCommand(indexActionCmd("stats", "Show index and cache state", false))
	cmd.AddCommand(indexActionCmd("refresh", "Re-embed the corpus and swap in a new index", true))
	return cmd
}

func indexActionCmd(use, short string, refresh bool) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			outputJSON, _ := cmd.Flags().GetBool("output")
			api, err := NewAPIClientWithCmd(cmd)
			if err != nil {
				return err
			}

			var resp *APIResponse
			if refresh {
				resp, err = api.Post(cmd.Context(), "/admin/index/refresh", nil)
			} else {
				resp, err = api.Get(cmd.Context(), "/admin/index/stats")
			}
			if err != nil {
				return fmt.Errorf("index %s failed: %w", use, err)
			}

			var stats indexStats
			if err := resp.Decode(&stats); err != nil {
				return err
			}
			if outputJSON {
				return printJSON(cmd.OutOrStdout(), stats)
			}
			printIndexStats(cmd.OutOrStdout(), stats)
			return nil
		},
	}
}

func printIndexStats(w io.Writer, st indexStats) {
	fmt.Fprintf(w, "Vector:  %d/%d chunks embedded, generation %d", st.Vector.Indexed, st.Vector.Chunks, st.Vector.Generation)
	if st.Vector.Stale {
		fmt.Fprint(w, " (stale)")
	}
	fmt.Fprintln(w)
	if !st.Vector.BuiltAt.IsZero() {
		fmt.Fprintf(w, "         built %s\n", st.Vector.BuiltAt.Format(time.RFC3339))
	}
	if st.Vector.LastError != "" {
		fmt.Fprintf(w, "         last error: %s\n", st.Vector.LastError)
	}
	fmt.Fprintf(w, "Lexical: %d documents, %d terms\n", st.Lexical.Documents, st.Lexical.Terms)
	fmt.Fprintf(w, "Cache:   %d entries\n", st.CacheEntries)
}
