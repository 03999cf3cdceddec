// Package api exposes runs, configuration, history and statistics over HTTP.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/spherical/ocr-bench/internal/cache"
	"github.com/spherical/ocr-bench/internal/domain"
	"github.com/spherical/ocr-bench/internal/observability"
	"github.com/spherical/ocr-bench/internal/orchestrator"
	"github.com/spherical/ocr-bench/internal/provider"
)

// Deps are the services the handlers read from and drive.
type Deps struct {
	Logger       *observability.Logger
	Orchestrator *orchestrator.Orchestrator
	Jobs         *orchestrator.Jobs
	Registry     *provider.Registry
	Config       domain.ConfigStore
	Tasks        domain.TaskStore
	History      domain.HistoryStore
	Statistics   domain.StatisticsStore
	Cache        cache.Client

	// Metrics serves MetricsPath when non-nil
	Metrics        http.Handler
	MetricsPath    string
	RequestTimeout time.Duration
}

// NewRouter creates the API router with all routes configured.
func NewRouter(deps Deps) http.Handler {
	if deps.Logger == nil {
		deps.Logger = observability.Nop()
	}
	if deps.Registry == nil {
		deps.Registry = provider.NewRegistry()
	}
	if deps.RequestTimeout <= 0 {
		deps.RequestTimeout = 30 * time.Second
	}
	if deps.MetricsPath == "" {
		deps.MetricsPath = "/metrics"
	}

	h := &Handler{deps: deps, logger: deps.Logger.WithComponent("api")}

	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(deps.RequestTimeout))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"healthy","service":"ocr-bench"}`))
	})

	if deps.Metrics != nil {
		r.Method(http.MethodGet, deps.MetricsPath, deps.Metrics)
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/config", h.GetConfig)
		r.Put("/config", h.PutConfig)

		r.Route("/runs", func(r chi.Router) {
			r.Post("/", h.SubmitRun)
			r.Get("/{runID}", h.GetRun)
			r.Delete("/{runID}", h.CancelRun)
			r.Get("/{runID}/statistics", h.GetRunStatistics)
		})

		r.Get("/statistics", h.GetStatistics)
		r.Post("/statistics/recompute", h.RecomputeStatistics)

		r.Get("/history", h.ListHistory)
		r.Get("/history/{runID}", h.GetHistory)
	})

	return r
}
