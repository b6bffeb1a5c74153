package admin

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/cloo-solutions/agentkb/internal/config"
	"github.com/cloo-solutions/agentkb/internal/database"
	"github.com/cloo-solutions/agentkb/internal/domain"
	"github.com/cloo-solutions/agentkb/internal/repository"
	"github.com/cloo-solutions/agentkb/internal/service"
	"github.com/cloo-solutions/agentkb/internal/storage"
)

const (
	exportPostgres = "postgres"
	exportS3       = "s3"
)

func IndexCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "index",
		Short: "Build the indices once and report on them",
		Long: `Load the configured corpus, embed it, build the vector and TF-IDF indices
and print their stats. Optionally run a question through the engine or export
the embedded chunks to Postgres or an S3 snapshot for faster startups.`,
		Args: cobra.NoArgs,
		RunE: runIndex,
	}

	cmd.Flags().StringP("query", "q", "", "Ask a question against the freshly built indices")
	cmd.Flags().String("agent-type", "", "Agent type context for --query")
	cmd.Flags().String("export", "", "Export embedded chunks (postgres or s3)")
	cmd.Flags().StringP("output", "o", "text", "Output format (text or json)")

	return cmd
}

func runIndex(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer logger.Sync()

	eng, err := buildEngine(ctx, cfg, logger, nil)
	if err != nil {
		return err
	}
	defer eng.Close()

	_ = eng.loader.Warm(ctx)
	if err := eng.indexes.RefreshIndex(ctx); err != nil {
		return fmt.Errorf("failed to build index: %w", err)
	}

	out := cmd.OutOrStdout()
	format, _ := cmd.Flags().GetString("output")

	stats := eng.indexes.Stats()
	var answer *domain.Response
	if q, _ := cmd.Flags().GetString("query"); q != "" {
		agentType, _ := cmd.Flags().GetString("agent-type")
		answer, err = eng.chat.Chat(ctx, service.ChatInput{
			Message:      q,
			AgentContext: domain.AgentContext{AgentType: agentType},
		})
		if err != nil {
			return err
		}
		// the query may trigger a lazy TF-IDF build
		stats = eng.indexes.Stats()
	}

	if target, _ := cmd.Flags().GetString("export"); target != "" {
		n, err := exportChunks(ctx, cfg, eng, target)
		if err != nil {
			return err
		}
		if format != "json" {
			fmt.Fprintf(out, "Exported %d chunks to %s\n", n, target)
		}
	}

	if format == "json" {
		payload := map[string]interface{}{"stats": stats}
		if answer != nil {
			payload["response"] = answer
		}
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(payload)
	}

	printStats(out, stats)
	if answer != nil {
		printAnswer(out, answer)
	}
	return nil
}

func exportChunks(ctx context.Context, cfg *config.Config, eng *engine, target string) (int, error) {
	chunks := eng.vector.EmbeddedChunks()

	switch target {
	case exportPostgres:
		if cfg.DatabaseURL == "" {
			return 0, fmt.Errorf("AGENTKB_DATABASE_URL is required to export to postgres")
		}
		pool, err := database.NewPool(ctx, database.Config{URL: cfg.DatabaseURL})
		if err != nil {
			return 0, err
		}
		defer pool.Close()
		if _, err := repository.SyncChunks(ctx, pool, chunks); err != nil {
			return 0, err
		}
	case exportS3:
		if !cfg.HasS3() {
			return 0, fmt.Errorf("S3 credentials are required to export to s3")
		}
		client, err := storage.NewS3Client(ctx, storage.S3ClientConfig{
			Endpoint:        cfg.S3Endpoint,
			Region:          cfg.S3Region,
			AccessKeyID:     cfg.S3AccessKey,
			SecretAccessKey: cfg.S3SecretKey,
			Bucket:          cfg.S3Bucket,
			UsePathStyle:    true,
		})
		if err != nil {
			return 0, err
		}
		if err := client.EnsureBucket(ctx); err != nil {
			return 0, err
		}
		if err := storage.NewSnapshotSource(client, cfg.S3CorpusKey).Write(ctx, chunks); err != nil {
			return 0, err
		}
	default:
		return 0, fmt.Errorf("unknown export target %q (expected postgres or s3)", target)
	}
	return len(chunks), nil
}

func printStats(w io.Writer, st service.IndexStats) {
	fmt.Fprintf(w, "Vector index:  %d chunks, %d embedded, generation %d\n",
		st.Vector.Chunks, st.Vector.Indexed, st.Vector.Generation)
	if st.Vector.LastError != "" {
		fmt.Fprintf(w, "  last error: %s\n", st.Vector.LastError)
	}
	fmt.Fprintf(w, "TF-IDF index:  %d documents, %d terms\n", st.Lexical.Documents, st.Lexical.Terms)
}

func printAnswer(w io.Writer, resp *domain.Response) {
	fmt.Fprintf(w, "\nConfidence: %s (method %s)\n\n%s\n", resp.ConfidenceTier, resp.Method, resp.Reply)
	if len(resp.Sources) > 0 {
		fmt.Fprintln(w, "\nSources:")
		for _, s := range resp.Sources {
			fmt.Fprintf(w, "  %.2f  %s (%s)\n", s.Score, s.Title, s.ChunkID)
		}
	}
}
