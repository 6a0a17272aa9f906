package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"cloudstash/internal/models"

	"github.com/gorilla/mux"
)

// streamNames accepts both the full stream names and short aliases.
var streamNames = map[string]models.ProgressStream{
	string(models.StreamUpload):   models.StreamUpload,
	string(models.StreamDownload): models.StreamDownload,
	"upload":                      models.StreamUpload,
	"download":                    models.StreamDownload,
}

// StreamProgress relays one progress stream as server-sent events until the
// client goes away.
func (h *Handlers) StreamProgress(w http.ResponseWriter, r *http.Request) {
	stream, ok := streamNames[mux.Vars(r)["stream"]]
	if !ok {
		h.writeError(w, http.StatusNotFound, "unknown progress stream", nil)
		return
	}
	if h.progress == nil {
		h.writeError(w, http.StatusServiceUnavailable, "progress streams not available", nil)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		h.writeError(w, http.StatusInternalServerError, "streaming not supported", nil)
		return
	}

	events, unsubscribe := h.progress.Subscribe(stream)
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	slog.Debug("progress subscriber connected", "stream", stream, "remote", r.RemoteAddr)

	for {
		select {
		case <-r.Context().Done():
			slog.Debug("progress subscriber disconnected", "stream", stream, "remote", r.RemoteAddr)
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			payload, err := json.Marshal(ev)
			if err != nil {
				slog.Error("failed to encode progress event", "error", err)
				continue
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", stream, payload); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
