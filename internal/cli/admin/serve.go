package admin

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/cloo-solutions/agentkb/internal/api/handlers"
	"github.com/cloo-solutions/agentkb/internal/api/middleware"
	"github.com/cloo-solutions/agentkb/internal/config"
	"github.com/cloo-solutions/agentkb/internal/corpus"
	"github.com/cloo-solutions/agentkb/internal/database"
	"github.com/cloo-solutions/agentkb/internal/jobs"
	"github.com/cloo-solutions/agentkb/internal/logging"
	"github.com/cloo-solutions/agentkb/internal/server"
	"github.com/cloo-solutions/agentkb/internal/telemetry"
)

// ServeCmd returns the serve command
func ServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the chat API server",
		Long:  "Start the agentkb chat API server on the specified port",
		RunE:  runServe,
	}

	cmd.Flags().StringP("port", "p", "", "Port to listen on (overrides AGENTKB_PORT)")
	cmd.Flags().Bool("no-migrate", false, "Skip automatic database migrations on startup")
	cmd.Flags().String("migrations", "migrations", "Migrations directory")

	return cmd
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	return logging.New(logging.Config{Debug: cfg.Debug})
}

func initSentry(cfg *config.Config, logger *zap.Logger) func() {
	// 10% sampling in production, everything in development
	sampleRate := 0.1
	if cfg.Environment == "development" {
		sampleRate = 1.0
	}
	shutdown, _ := telemetry.Init(telemetry.Config{
		DSN:              cfg.SentryDSN,
		Environment:      cfg.Environment,
		TracesSampleRate: sampleRate,
		Debug:            cfg.Debug,
	}, logger)
	return shutdown
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if port, _ := cmd.Flags().GetString("port"); port != "" {
		cfg.Port = port
	}

	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer logger.Sync()

	defer initSentry(cfg, logger)()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.CorpusSource == config.CorpusPostgres {
		if noMigrate, _ := cmd.Flags().GetBool("no-migrate"); !noMigrate {
			dir, _ := cmd.Flags().GetString("migrations")
			if err := database.Migrate(cfg.DatabaseURL, dir, logger); err != nil {
				return err
			}
		}
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := telemetry.NewMetrics(reg)

	eng, err := buildEngine(ctx, cfg, logger, metrics)
	if err != nil {
		return err
	}
	defer eng.Close()
	eng.start(ctx, logger)

	refresher := jobs.NewWorker("index_refresh", jobs.NewRefreshJob(eng.indexes, logger), cfg.VectorCacheTTL, logger)
	go refresher.Start(ctx)
	defer refresher.Stop()

	var sessions jobs.SessionSweeper
	if eng.memory != nil {
		sessions = eng.memory
	}
	sweeper := jobs.NewWorker("sweep", jobs.NewSweepJob(eng.cache, sessions, metrics, logger), cfg.SweepInterval, logger)
	go sweeper.Start(ctx)
	defer sweeper.Stop()

	if cfg.CorpusSource == config.CorpusDir && cfg.CorpusWatch {
		watcher := corpus.NewWatcher(cfg.CorpusDir, 0, eng.indexes.RefreshIndex, logger)
		go func() {
			if err := watcher.Run(ctx); err != nil {
				logger.Warn("corpus watcher stopped", zap.Error(err))
			}
		}()
	}

	router := server.NewRouter(server.RouterConfig{
		Keys:         middleware.NewStaticKeys(cfg.APIKeys),
		Logger:       logger,
		Gatherer:     reg,
		ChatHandler:  handlers.NewChatHandler(eng.chat),
		AdminHandler: handlers.NewAdminHandler(eng.chat, eng.indexes),
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      cfg.HTTPWriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting server", zap.String("port", cfg.Port), zap.Bool("auth", cfg.HasAuth()))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	logger.Info("server exited")
	return nil
}
