package http

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/iho/eventledger/internal/adapter/http/handler"
	"github.com/iho/eventledger/internal/adapter/http/middleware"
	"github.com/iho/eventledger/internal/infrastructure/metrics"
	"github.com/iho/eventledger/internal/usecase"
)

// RouterConfig holds dependencies for the router.
type RouterConfig struct {
	AccountHandler *handler.AccountHandler
	BalanceHandler *handler.BalanceHandler
	HealthHandler  *handler.HealthHandler

	// IdempotencyStore enables Idempotency-Key replay when set.
	IdempotencyStore usecase.IdempotencyStore
	IdempotencyTTL   time.Duration
	// RateLimiter is applied to the API routes when set.
	RateLimiter *middleware.RateLimiter

	Logger   zerolog.Logger
	Metrics  *metrics.Metrics
	Gatherer prometheus.Gatherer
}

// NewRouter creates a new HTTP router.
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.NewLoggingMiddleware(cfg.Logger).Wrap)
	r.Use(middleware.Recovery(cfg.Logger))
	if cfg.Metrics != nil {
		r.Use(middleware.Metrics(cfg.Metrics))
	}

	r.Get("/health", cfg.HealthHandler.Liveness)
	r.Get("/ready", cfg.HealthHandler.Readiness)
	if cfg.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1", func(r chi.Router) {
		if cfg.RateLimiter != nil {
			r.Use(cfg.RateLimiter.Limit)
		}
		if cfg.IdempotencyStore != nil {
			r.Use(middleware.NewIdempotencyMiddleware(cfg.IdempotencyStore, cfg.IdempotencyTTL, cfg.Logger).Wrap)
		}

		r.Route("/accounts", func(r chi.Router) {
			r.Post("/", cfg.AccountHandler.Open)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/balance", cfg.BalanceHandler.Get)
				r.Get("/reconciliation", cfg.BalanceHandler.Reconcile)
				r.Post("/close", cfg.AccountHandler.Close)
				r.Post("/credits", cfg.AccountHandler.Credit)
				r.Post("/debits", cfg.AccountHandler.Debit)
				r.Post("/reservations", cfg.AccountHandler.Reserve)
				r.Post("/reservations/{rid}/capture", cfg.AccountHandler.Capture)
				r.Post("/reservations/{rid}/cancel", cfg.AccountHandler.Cancel)
			})
		})
	})

	return r
}
