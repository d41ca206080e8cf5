package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"agent-inbox/internal/middleware"
)

const maxBodyBytes = 64 * 1024

// RouterConfig carries the cross-cutting pieces of the HTTP surface.
// Limiter and Tokens are optional.
type RouterConfig struct {
	Logger      zerolog.Logger
	CORSOrigins []string
	Limiter     middleware.Counter
	Tokens      middleware.TokenVerifier
}

// NewRouter creates and configures the HTTP router. Every route is also
// served under /api.
func NewRouter(h *Handler, cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Metrics)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.MaxBodySize(maxBodyBytes))

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.Logger(cfg.Logger))
	r.Use(chimw.Recoverer)

	origins := cfg.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-Id", "X-Correlation-Id"},
		ExposedHeaders:   []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "Retry-After"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Handle("/metrics", promhttp.Handler())

	routes := func(r chi.Router) {
		r.Get("/health", h.Health)

		r.Group(func(r chi.Router) {
			if cfg.Tokens != nil {
				r.Use(middleware.OptionalBearer(cfg.Tokens))
			}
			if cfg.Limiter != nil {
				r.Use(middleware.RateLimit(cfg.Limiter, cfg.Logger))
			}

			r.Post("/auth/signup", h.Signup)
			r.Post("/auth/login", h.Login)
			r.Post("/auth/google", h.GoogleLogin)

			r.Get("/messages", h.ListMessages)
			r.Post("/messages/send", h.SendMessage)
			r.Delete("/messages/clear", h.ClearMessages)
		})
	}
	r.Group(routes)
	r.Route("/api", routes)

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		h.Error(w, http.StatusNotFound, "route not found", "NOT_FOUND")
	})
	return r
}
