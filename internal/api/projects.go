package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/kalambet/thumbforge/internal/projectapi"
	"github.com/kalambet/thumbforge/internal/storage"
)

const maxProjectNameLen = 120

func toWire(p storage.Project) projectapi.Project {
	return projectapi.Project{
		ID:        p.ID,
		OwnerID:   p.OwnerID,
		Name:      p.Name,
		IsPublic:  p.IsPublic,
		CreatedAt: p.CreatedAt,
		UpdatedAt: p.UpdatedAt,
	}
}

func listWire(store *storage.Store, ownerID string) ([]projectapi.Project, error) {
	rows, err := store.ListProjects(ownerID)
	if err != nil {
		return nil, err
	}
	out := make([]projectapi.Project, len(rows))
	for i, p := range rows {
		out[i] = toWire(p)
	}
	return out, nil
}

func validName(name string) (string, bool) {
	name = strings.TrimSpace(name)
	return name, name != "" && len(name) <= maxProjectNameLen
}

func handleListProjects(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		owner := r.URL.Query().Get("owner")
		if owner == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "owner is required")
			return
		}

		projects, err := listWire(deps.Store, owner)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list projects: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, projects)
	}
}

func handleCreateProject(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req projectapi.CreateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.OwnerID == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "ownerId is required")
			return
		}
		name, ok := validName(req.Name)
		if !ok {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "name must be 1-%d characters", maxProjectNameLen)
			return
		}

		p, err := deps.Store.CreateProject(storage.Project{
			ID:       uuid.New().String(),
			OwnerID:  req.OwnerID,
			Name:     name,
			IsPublic: req.IsPublic,
		})
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to create project: %v", err)
			return
		}
		deps.Hub.Publish(p.OwnerID)

		writeJSON(w, http.StatusCreated, toWire(p))
	}
}

func handleUpdateProject(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var patch projectapi.Patch
		if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if patch.Name != nil {
			name, ok := validName(*patch.Name)
			if !ok {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "name must be 1-%d characters", maxProjectNameLen)
				return
			}
			patch.Name = &name
		}

		p, err := deps.Store.UpdateProject(id, storage.ProjectPatch{Name: patch.Name, IsPublic: patch.IsPublic})
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "project not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to update project: %v", err)
			return
		}
		if !patch.Empty() {
			deps.Hub.Publish(p.OwnerID)
		}

		writeJSON(w, http.StatusOK, toWire(p))
	}
}

func handleDeleteProject(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		owner, err := deps.Store.DeleteProject(id)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "project not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to delete project: %v", err)
			return
		}
		deps.Hub.Publish(owner)

		w.WriteHeader(http.StatusNoContent)
	}
}
