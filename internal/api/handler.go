// Package api is the sandbox backend served by `thumbforge serve`: the
// generation job API, project CRUD with a server-sent-events stream, and
// analytics ingestion, all over the local SQLite store.
package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/kalambet/thumbforge/internal/storage"
)

const maxRequestBodySize = 1 << 20 // 1MB

// AppDeps are the sandbox handler's dependencies.
type AppDeps struct {
	Store *storage.Store
	Hub   *Hub
	Token string
	// Heartbeat is the interval of keep-alive comments on the project
	// stream. Zero uses 15s.
	Heartbeat time.Duration
	Logger    *slog.Logger
}

// NewAppHandler returns the sandbox router. /health is unauthenticated;
// everything under /v1 requires the bearer token.
func NewAppHandler(deps AppDeps) http.Handler {
	if deps.Hub == nil {
		deps.Hub = NewHub()
	}
	if deps.Heartbeat <= 0 {
		deps.Heartbeat = 15 * time.Second
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/health", handleHealth)

	r.Route("/v1", func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))

		r.Post("/jobs", handleStartJob(deps))
		r.Get("/jobs/{id}", handleGetJob(deps))

		r.Get("/projects", handleListProjects(deps))
		r.Post("/projects", handleCreateProject(deps))
		r.Get("/projects/stream", handleProjectStream(deps))
		r.Patch("/projects/{id}", handleUpdateProject(deps))
		r.Delete("/projects/{id}", handleDeleteProject(deps))

		r.Post("/events", handleEvents(deps))
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}
