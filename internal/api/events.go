package api

import (
	"encoding/json"
	"net/http"

	"github.com/kalambet/thumbforge/internal/analytics"
)

const maxEventBatch = 500

// handleEvents accepts analytics batches. The sandbox only logs them.
func handleEvents(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var batch analytics.Batch
		if err := json.NewDecoder(r.Body).Decode(&batch); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if len(batch.Events) > maxEventBatch {
			httpError(w, http.StatusRequestEntityTooLarge, "invalid_request_error", "at most %d events per batch", maxEventBatch)
			return
		}

		for _, ev := range batch.Events {
			deps.Logger.Info("analytics event", "name", ev.Name, "id", ev.ID, "time", ev.Time, "props", ev.Props)
		}
		writeJSON(w, http.StatusAccepted, map[string]int{"accepted": len(batch.Events)})
	}
}
