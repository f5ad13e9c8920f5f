package api

import (
	"log/slog"

	"github.com/go-chi/chi/v5"

	"github.com/iammorganparry/agentmem/internal/memory"
)

// NewRouter creates the Chi router with all routes and middleware.
func NewRouter(mgr *memory.Manager, apiKey string, logger *slog.Logger) *chi.Mux {
	r := chi.NewRouter()

	// Global middleware (runs on ALL routes including /health)
	r.Use(CORS)
	r.Use(RequestID(logger))
	r.Use(Logger)
	r.Use(Recovery)

	healthH := NewHealthHandler(mgr)
	memoryH := NewMemoryHandler(mgr)

	// Unauthenticated routes
	r.Get("/health", healthH.Health)

	// Authenticated routes
	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(apiKey))

		r.Get("/stats", healthH.Stats)

		r.Route("/memories", func(r chi.Router) {
			r.Post("/", memoryH.Add)
			r.Get("/search", memoryH.SearchQuery)
			r.Post("/search", memoryH.Search)
			r.Post("/episodic", memoryH.Episodic)
			r.Post("/timeline", memoryH.Timeline)
			r.Get("/{id}", memoryH.Get)
			r.Patch("/{id}", memoryH.Update)
			r.Put("/{id}", memoryH.Update)
			r.Delete("/{id}", memoryH.Delete)
		})

		r.Route("/agents/{agentID}/memories", func(r chi.Router) {
			r.Get("/", memoryH.ListAgent)
			r.Post("/", memoryH.AddForAgent)
		})
	})

	return r
}
