package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/lalithlochan/seatwatch/internal/metrics"
)

// NewRouter mounts the ops routes. limiter may be nil.
func NewRouter(h *Handler, limiter Limiter, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware)
	r.Use(RequestLogger(logger))

	r.Get("/health", h.Health)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Get("/breakers", h.ListBreakers)
		if h.runner != nil {
			r.With(RateLimitMiddleware(limiter, logger, ClientKey)).Post("/runs", h.TriggerRun)
		}
	})

	return r
}
