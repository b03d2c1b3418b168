package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/nikhilbhutani/promptvault/internal/api/handlers"
	"github.com/nikhilbhutani/promptvault/internal/api/middleware"
	"github.com/nikhilbhutani/promptvault/internal/audit"
	"github.com/nikhilbhutani/promptvault/internal/auth"
	"github.com/nikhilbhutani/promptvault/internal/config"
	"github.com/nikhilbhutani/promptvault/internal/llm"
	"github.com/nikhilbhutani/promptvault/internal/prompt"
	"github.com/nikhilbhutani/promptvault/internal/webhook"
)

// Deps are the services behind the API. Audit and Webhooks are nil when the
// server runs without Postgres; their routes are then not mounted.
type Deps struct {
	Prompts  *prompt.Service
	Audit    *audit.Service
	Webhooks *webhook.Service
	Gateway  llm.Gateway
	Health   map[string]handlers.Pinger
	Limiter  *middleware.RateLimiter
}

type Router struct {
	mux  *chi.Mux
	cfg  *config.Config
	deps Deps
	jwt  *auth.JWTMiddleware
}

func NewRouter(cfg *config.Config, deps Deps) *Router {
	if deps.Limiter == nil {
		deps.Limiter = middleware.NewRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst)
	}
	return &Router{
		mux:  chi.NewRouter(),
		cfg:  cfg,
		deps: deps,
		jwt:  auth.NewJWTMiddleware(cfg.Auth.JWTSecret, cfg.Auth.Issuer),
	}
}

func (rt *Router) Setup() http.Handler {
	r := rt.mux

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS(rt.cfg.CORS.AllowedOrigins))
	r.Use(rt.deps.Limiter.Limit)

	// Health endpoints (no auth)
	health := handlers.NewHealthHandler(rt.deps.Health)
	r.Get("/healthz", health.Healthz)
	r.Get("/readyz", health.Readyz)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(rt.jwt.Authenticate)

		promptH := handlers.NewPromptHandler(rt.deps.Prompts)
		versionH := handlers.NewVersionHandler(rt.deps.Prompts)
		r.Route("/prompts", func(r chi.Router) {
			r.Post("/", promptH.Create)
			r.Get("/", promptH.List)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", promptH.Get)
				r.Patch("/", promptH.Update)
				r.Delete("/", promptH.Delete)
				r.Post("/trash", promptH.Trash)
				r.Post("/restore", promptH.Restore)
				r.Post("/render", promptH.Render)
				r.Post("/run", promptH.Run)

				r.Route("/versions", func(r chi.Router) {
					r.Get("/", versionH.List)
					r.Post("/", versionH.Create)
					r.Get("/trash", versionH.ListDeleted)
					r.Route("/{versionID}", func(r chi.Router) {
						r.Get("/", versionH.Get)
						r.Delete("/", versionH.Delete)
						r.Get("/diff", versionH.Diff)
						r.Post("/restore", versionH.Restore)
						r.Post("/undelete", versionH.Undelete)
						r.Delete("/permanent", versionH.PermanentDelete)
					})
				})
			})
		})

		if rt.deps.Gateway != nil {
			modelsH := handlers.NewModelsHandler(rt.deps.Gateway)
			r.Get("/models", modelsH.List)
		}

		if rt.deps.Webhooks != nil {
			webhookH := handlers.NewWebhookHandler(rt.deps.Webhooks)
			r.Route("/webhooks", func(r chi.Router) {
				r.Post("/", webhookH.Create)
				r.Get("/", webhookH.List)
				r.Delete("/{id}", webhookH.Delete)
			})
		}

		if rt.deps.Audit != nil {
			adminH := handlers.NewAdminHandler(rt.deps.Audit)
			r.Get("/audit", adminH.AuditLogs)
			r.Get("/usage", adminH.Usage)
		}
	})

	return r
}
