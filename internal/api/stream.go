package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// handleProjectStream serves the owner's collection as server-sent events.
// The current collection is sent on connect and again after every change;
// each "snapshot" event carries the full collection as a JSON array.
func handleProjectStream(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		owner := r.URL.Query().Get("owner")
		if owner == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "owner is required")
			return
		}
		flusher, ok := w.(http.Flusher)
		if !ok {
			httpError(w, http.StatusInternalServerError, "api_error", "streaming not supported")
			return
		}

		// Subscribe before the first read so no change between the two is lost.
		changes, unsubscribe := deps.Hub.Subscribe(owner)
		defer unsubscribe()

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.WriteHeader(http.StatusOK)

		send := func() error {
			projects, err := listWire(deps.Store, owner)
			if err != nil {
				return err
			}
			data, err := json.Marshal(projects)
			if err != nil {
				return err
			}
			if _, err := fmt.Fprintf(w, "event: snapshot\ndata: %s\n\n", data); err != nil {
				return err
			}
			flusher.Flush()
			return nil
		}

		log := deps.Logger.With("owner", owner)
		if err := send(); err != nil {
			log.Warn("project stream write failed", "error", err)
			return
		}
		log.Debug("project stream opened")

		heartbeat := time.NewTicker(deps.Heartbeat)
		defer heartbeat.Stop()

		for {
			select {
			case <-r.Context().Done():
				log.Debug("project stream closed")
				return
			case _, ok := <-changes:
				if !ok {
					return
				}
				if err := send(); err != nil {
					log.Warn("project stream write failed", "error", err)
					return
				}
			case <-heartbeat.C:
				if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
					return
				}
				flusher.Flush()
			}
		}
	}
}
