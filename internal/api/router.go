package api

import (
	"net/http"

	"github.com/izik-adio/zik-back-sub000/internal/api/handlers"
	"github.com/izik-adio/zik-back-sub000/internal/api/middleware"
	"github.com/izik-adio/zik-back-sub000/pkg/contracts"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates the HTTP router with all API routes. User routes go
// through the auth chain; the roadmap callback is verified by signature.
func NewRouter(h *handlers.Handlers, chain contracts.AuthProviderChain, requireAuth bool) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimw.RequestID)
	r.Use(middleware.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Compress(5))
	r.Use(middleware.Logger)
	r.Use(middleware.Telemetry)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PATCH", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-Id", "X-Quest-User"},
		ExposedHeaders:   []string{"X-Request-Id", "X-Trace-Id"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health & info
	r.Get("/health", h.Health)
	r.Get("/version", h.VersionInfo)

	authn := middleware.NewAuthMiddleware(chain, requireAuth)

	// API v1
	r.Route("/api/v1", func(r chi.Router) {
		// Generation pipeline callback (HMAC-signed, no user token)
		r.Post("/epics/{epicId}/roadmap", h.InstallRoadmap)

		r.Group(func(r chi.Router) {
			r.Use(authn.Handler)

			r.Post("/chat", h.SubmitChat)
			r.Patch("/tasks/{taskId}/status", h.UpdateTaskStatus)
			r.Get("/epics/{epicId}/milestones", h.ListMilestones)
		})
	})

	return r
}
