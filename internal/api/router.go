package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/sumaris-net/sumaris-pod-sub009/internal/middleware"
)

// RouterConfig configures NewRouter.
type RouterConfig struct {
	Logger *slog.Logger
	// TriggerLimiter, when set, rate limits the refresh and update triggers.
	TriggerLimiter *middleware.RateLimiter
	// AllowedOrigins enables CORS for these origins. Empty disables CORS.
	AllowedOrigins []string
}

// NewRouter mounts the handler routes.
func NewRouter(h *Handler, cfg RouterConfig) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.AccessLog(cfg.Logger))
	r.Use(chimw.Recoverer)
	if len(cfg.AllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: cfg.AllowedOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
			AllowedHeaders: []string{"Accept", "Content-Type", middleware.RequestIDHeader},
			ExposedHeaders: []string{middleware.RequestIDHeader, "Retry-After"},
			MaxAge:         300,
		}))
	}

	r.Get("/healthz", h.Health)

	r.Route("/v1", func(r chi.Router) {
		r.Get("/cache/stats", h.CacheStats)
		r.Delete("/cache", h.ClearAllCaches)
		r.Delete("/cache/{name}", h.ClearCache)

		r.Get("/products/{id}/sheets/{sheet}", h.ReadSheet)

		r.Group(func(r chi.Router) {
			if cfg.TriggerLimiter != nil {
				r.Use(cfg.TriggerLimiter.Handler)
			}
			r.Post("/refresh/{frequency}", h.Refresh)
			r.Post("/products/{id}/update", h.UpdateProduct)
		})
	})
	return r
}
