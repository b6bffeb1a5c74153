package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/cloo-solutions/agentkb/internal/api"
	"github.com/cloo-solutions/agentkb/internal/api/handlers"
	"github.com/cloo-solutions/agentkb/internal/api/middleware"
)

const defaultMaxBodyBytes int64 = 1 << 20

type RouterConfig struct {
	Keys         *middleware.StaticKeys
	Logger       *zap.Logger
	Gatherer     prometheus.Gatherer
	MaxBodyBytes int64
	ChatHandler  *handlers.ChatHandler
	AdminHandler *handlers.AdminHandler
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	maxBody := cfg.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = defaultMaxBodyBytes
	}

	r.Use(middleware.RequestID)
	r.Use(middleware.SentryMiddleware)
	r.Use(middleware.AccessLog(cfg.Logger))
	r.Use(middleware.MaxBodyBytes(maxBody))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		api.Success(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	if cfg.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Group(func(r chi.Router) {
		r.Use(middleware.APIKeyAuth(cfg.Keys))

		r.Post("/chat", cfg.ChatHandler.Chat)

		r.Route("/sessions/{id}", func(r chi.Router) {
			r.Get("/history", cfg.ChatHandler.History)
			r.Delete("/", cfg.ChatHandler.Reset)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Post("/cache/flush", cfg.AdminHandler.FlushCache)
			r.Post("/index/refresh", cfg.AdminHandler.RefreshIndex)
			r.Get("/index/stats", cfg.AdminHandler.IndexStats)
		})
	})

	return r
}
