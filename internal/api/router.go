package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/fictures/ai-gateway/internal/auth"
	"github.com/fictures/ai-gateway/internal/metrics"
	"github.com/fictures/ai-gateway/internal/middleware"
)

// maxRequestBody bounds request bodies. Prompts and schemas fit comfortably;
// nothing on this surface uploads content.
const maxRequestBody = 1 << 20

// RouterConfig selects which route groups get mounted.
type RouterConfig struct {
	TextEnabled  bool
	ImageEnabled bool
}

// NewRouter creates a Chi router with the gateway's endpoints. Generation
// routes are scope-protected through the verifier; health endpoints are not.
func NewRouter(handler *Handler, health *HealthHandler, verifier *auth.Verifier, cfg RouterConfig, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(metrics.Middleware)
	r.Use(middleware.MaxBodySize(maxRequestBody))
	// Log with a body allowlist: prompts and generated output stay out of
	// the logs, shape fields stay in.
	r.Use(middleware.HTTPLogging(logger, []string{
		"model", "tokens_used", "finish_reason", "is_valid",
		"attempts_used", "attempt_budgets", "width", "height", "seed",
		"max_tokens", "num_inference_steps", "error",
	}))

	r.Get("/", health.HandleBanner)
	r.Get("/health", health.HandleHealth)
	r.Get("/ready", health.HandleReady)

	r.Route("/api/v1", func(r chi.Router) {
		if cfg.TextEnabled {
			r.Group(func(r chi.Router) {
				r.Use(auth.RequireScope(verifier, auth.ScopeStoriesWrite))
				r.Post("/text/generate", handler.HandleTextGenerate)
				r.Post("/text/structured", handler.HandleStructuredGenerate)
			})
			r.Group(func(r chi.Router) {
				r.Use(auth.RequireScope(verifier, auth.ScopeStoriesRead))
				r.Get("/text/models", handler.HandleTextModels)
			})
		}

		if cfg.ImageEnabled {
			r.Group(func(r chi.Router) {
				r.Use(auth.RequireScope(verifier, auth.ScopeImagesWrite))
				r.Post("/images/generate", handler.HandleImageGenerate)
			})
		}

		r.Group(func(r chi.Router) {
			r.Use(auth.RequireScope(verifier, auth.ScopeStoriesRead))
			r.Get("/models", handler.HandleModels)
		})
	})

	return r
}
