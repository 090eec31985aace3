package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/kalambet/thumbforge/internal/genapi"
	"github.com/kalambet/thumbforge/internal/storage"
)

func handleStartJob(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req genapi.StartRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if !req.Kind.Valid() {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "unknown job kind %q", req.Kind)
			return
		}

		payload, err := json.Marshal(req)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to create job payload: %v", err)
			return
		}
		job := storage.Job{
			ID:            uuid.New().String(),
			Type:          string(req.Kind),
			PayloadJSON:   string(payload),
			StatusMessage: "Queued",
		}
		if err := deps.Store.EnqueueJob(job); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to enqueue job: %v", err)
			return
		}
		deps.Logger.Debug("job queued", "job_id", job.ID, "kind", req.Kind)

		writeJSON(w, http.StatusAccepted, genapi.JobHandle{JobID: job.ID, PollURL: "/v1/jobs/" + job.ID})
	}
}

func handleGetJob(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		job, err := deps.Store.GetJob(id)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "job not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get job: %v", err)
			return
		}

		writeJSON(w, http.StatusOK, jobStatus(job))
	}
}

// jobStatus maps a queue entry to the wire status the poller consumes.
func jobStatus(j storage.Job) genapi.JobStatus {
	st := genapi.JobStatus{
		StatusCode: genapi.StatusCode(j.Stage),
		Status:     j.StatusMessage,
		Progress:   j.Progress,
	}
	switch j.Status {
	case storage.JobCompleted:
		st.StatusCode = genapi.StatusComplete
		st.IsComplete = true
		st.Progress = 100
		if j.ResultJSON != "" {
			st.Result = json.RawMessage(j.ResultJSON)
		}
	case storage.JobFailed:
		st.StatusCode = genapi.StatusFailed
		st.IsFailed = true
		st.Error = j.LastError
		if j.ErrorCode != "" || j.Suggestion != "" {
			st.ErrorDetails = &genapi.ErrorDetails{Code: j.ErrorCode, Suggestion: j.Suggestion}
		}
	}
	if st.Status == "" {
		st.Status = string(st.StatusCode)
	}
	return st
}
