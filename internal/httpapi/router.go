package httpapi

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// RouterConfig holds the settings main.go pulls from the environment,
// grounded on a RouterConfig{BackendAPIKey, CorsAllowedOrigins} shape common across the pack.
type RouterConfig struct {
	BackendAPIKey      string
	CorsAllowedOrigins string
	RateLimitPerMinute int

	// MetricsHandler, when set, is mounted at GET /metrics, outside auth
	// and rate limiting: Prometheus scrapes it rather than an operator
	// calling it.
	MetricsHandler http.Handler
}

func NewRouter(h *Handler, cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(RateLimit(cfg.RateLimitPerMinute))

	allowedOrigins := []string{"*"}
	if cfg.CorsAllowedOrigins != "" {
		origins := strings.Split(cfg.CorsAllowedOrigins, ",")
		trimmed := make([]string, 0, len(origins))
		for _, o := range origins {
			if s := strings.TrimSpace(o); s != "" {
				trimmed = append(trimmed, s)
			}
		}
		if len(trimmed) > 0 {
			allowedOrigins = trimmed
		}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-API-Key"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", h.Health)
	if cfg.MetricsHandler != nil {
		r.Handle("/metrics", cfg.MetricsHandler)
	}

	r.Route("/", func(r chi.Router) {
		if cfg.BackendAPIKey != "" {
			r.Use(APIKeyAuth(cfg.BackendAPIKey))
		}
		r.Post("/plan", h.Plan)
		r.Post("/generate/images", h.GenerateImages)
		r.Post("/generate/videos", h.GenerateVideos)
		r.Post("/generate/assemble", h.GenerateAssemble)
		r.Post("/remix", h.Remix)
		r.Get("/status/{project_id}", h.Status)
		r.Post("/cancel/{project_id}", h.Cancel)
		r.Post("/reset/{project_id}", h.Reset)
		r.Get("/assets/*", h.Assets)
	})

	return r
}
