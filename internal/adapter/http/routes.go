package http

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
)

// readTimeout bounds the quick read-only endpoints. Task submission has its
// own limit since it waits for the whole pipeline.
const readTimeout = 30 * time.Second

// MountRoutes registers all API routes on the given chi router.
func MountRoutes(r chi.Router, h *Handlers) {
	r.Get("/health", h.Health)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"version":"0.1.0"}`))
		})

		// Tasks
		r.Post("/tasks", h.SubmitTask)

		r.Group(func(r chi.Router) {
			r.Use(chimw.Timeout(readTimeout))

			// Agents & router
			r.Get("/agents", h.ListAgents)
			r.Get("/router/health", h.RouterHealth)
			r.Get("/router/stats", h.RouterStats)
			r.Get("/router/history", h.RouterHistory)

			// Messages
			r.Post("/messages/validate", h.ValidateMessage)

			// LLM
			r.Get("/llm/stats", h.LLMStats)
			r.Get("/llm/health", h.LLMHealth)
		})
	})
}
