package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RouterConfig bundles the handlers mounted by NewRouter.
type RouterConfig struct {
	Tasks    *TaskHandler
	Webhooks *WebhookHandler
	Events   *EventsHandler

	// HealthCheck reports readiness of downstream dependencies. Optional.
	HealthCheck func(r *http.Request) error
}

// NewRouter assembles the HTTP surface: task submission and lifecycle,
// webhook ingestion, SSE event streams, health, and metrics.
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
		if cfg.HealthCheck != nil {
			if err := cfg.HealthCheck(req); err != nil {
				RespondWithJSON(w, req, http.StatusServiceUnavailable, map[string]string{
					"status": "unavailable",
				})
				return
			}
		}
		RespondWithJSON(w, req, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		// SSE streams outlive the request timeout, so they mount outside
		// the timed group.
		r.Get("/tasks/{id}/events", cfg.Events.StreamTask)
		r.Get("/users/{id}/events", cfg.Events.StreamUser)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(30 * time.Second))

			r.Post("/tasks", cfg.Tasks.Submit)
			r.Get("/tasks/active", cfg.Tasks.Active)
			r.Get("/tasks/{id}", cfg.Tasks.GetStatus)
			r.Delete("/tasks/{id}", cfg.Tasks.Cancel)
		})
	})

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(30 * time.Second))
		r.Post("/webhooks/{source}", cfg.Webhooks.Receive)
	})

	return r
}
