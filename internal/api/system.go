package api

import (
	"net/http"
	"time"
)

var startTime = time.Now()

// Version is set at build time.
var Version = "dev"

func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	health := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"uptime":    time.Since(startTime).String(),
		"version":   Version,
		"available": h.engine.CheckAvailability(),
	}

	if h.gatekeeper != nil {
		if root, ok := h.engine.DefaultContainerPath(); ok {
			health["resources"] = h.gatekeeper.GetResourceStatus(root)
		}
	}

	h.writeSuccess(w, http.StatusOK, health, "Service is healthy")
}

func (h *Handlers) GetStatus(w http.ResponseWriter, r *http.Request) {
	status := map[string]interface{}{
		"service":   "cloudstash",
		"version":   Version,
		"timestamp": time.Now().UTC(),
		"uptime":    time.Since(startTime).String(),
	}

	if root, ok := h.engine.DefaultContainerPath(); ok {
		status["container"] = root
	}

	if summary, err := h.engine.TransferSummary(); err == nil {
		status["transfers"] = summary
	}

	if h.gatekeeper != nil {
		if dir := r.URL.Query().Get("path"); dir != "" {
			status["resources"] = h.gatekeeper.GetResourceStatus(dir)
		}
	}

	h.writeSuccess(w, http.StatusOK, status, "")
}
