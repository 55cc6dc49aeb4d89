package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"codepods/internal/config"
	"codepods/internal/handler"
	"codepods/internal/metrics"
	"codepods/internal/middleware"
)

type Handlers struct {
	Auth    *handler.AuthHandler
	GitHub  *handler.GitHubHandler
	Roadmap *handler.RoadmapHandler
	Health  *handler.HealthHandler
	Docs    *handler.DocsHandler
}

func New(cfg *config.Config, authMiddleware *middleware.AuthMiddleware, h Handlers, m *metrics.Metrics) http.Handler {
	r := chi.NewRouter()
	rateLimitMiddleware := middleware.NewRateLimitMiddleware(cfg.RateLimitRPM, cfg.AuthRateLimitRPM, cfg.RoadmapRateLimitRPM)

	r.Use(middleware.Recovery)
	r.Use(middleware.Logging)
	r.Use(middleware.Metrics(m))
	r.Use(middleware.CORS(cfg.CORSOrigins))
	r.Use(middleware.SecurityHeaders)
	r.Use(rateLimitMiddleware.Handler)

	r.Get("/health", h.Health.Health)
	r.Method(http.MethodGet, "/metrics", m.Handler())
	r.Get("/openapi.yaml", h.Docs.OpenAPI)
	r.Get("/docs", h.Docs.SwaggerUI)

	r.Route("/api", func(api chi.Router) {
		api.Group(func(identity chi.Router) {
			identity.Use(middleware.Timeout(cfg.RequestTimeout))

			identity.Post("/users/signup", h.Auth.Signup)
			identity.Post("/users/login", h.Auth.Login)
			identity.Post("/users/auth/github", h.Auth.GitHubCode)
			identity.With(authMiddleware.RequireAuth).Get("/users/me", h.Auth.Me)

			identity.Get("/auth/github", h.GitHub.Start)
			identity.Get("/auth/github/callback", h.GitHub.Callback)
		})

		roadmapAuth := authMiddleware.OptionalAuth
		if cfg.RequireAuthForRoadmap {
			roadmapAuth = authMiddleware.RequireAuth
		}
		api.With(middleware.Timeout(cfg.RoadmapTimeout), roadmapAuth).Post("/roadmap", h.Roadmap.Generate)
	})

	return r
}
