package api

import (
	"context"
	"net/http"
	"strconv"

	"cloudstash/internal/models"

	"github.com/gorilla/mux"
)

type UploadRequest struct {
	Destination string `json:"destination"`
	LocalPath   string `json:"local_path"`
}

type UploadBatchRequest struct {
	Destination string   `json:"destination"`
	LocalPaths  []string `json:"local_paths"`
}

type DownloadRequest struct {
	CloudPath   string `json:"cloud_path"`
	Destination string `json:"destination"`
}

type DownloadBatchRequest struct {
	CloudPaths  []string `json:"cloud_paths"`
	Destination string   `json:"destination"`
}

// transferContext detaches a transfer from the request so a dropped client
// does not abandon work the platform has already accepted.
func transferContext(r *http.Request) context.Context {
	return context.WithoutCancel(r.Context())
}

func (h *Handlers) UploadFile(w http.ResponseWriter, r *http.Request) {
	var req UploadRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.Destination == "" || req.LocalPath == "" {
		h.writeError(w, http.StatusBadRequest, "destination and local_path are required", nil)
		return
	}

	p, err := h.engine.UploadOne(transferContext(r), req.Destination, req.LocalPath)
	if err != nil {
		h.writeStorageError(w, err)
		return
	}

	h.writeSuccess(w, http.StatusOK, map[string]string{"path": p}, "Upload completed")
}

func (h *Handlers) UploadFiles(w http.ResponseWriter, r *http.Request) {
	var req UploadBatchRequest
	if !h.decode(w, r, &req) {
		return
	}

	results, err := h.engine.UploadMany(transferContext(r), req.Destination, req.LocalPaths)
	if err != nil {
		h.writeStorageError(w, err)
		return
	}

	h.writeSuccess(w, http.StatusOK, results, "")
}

func (h *Handlers) DownloadFile(w http.ResponseWriter, r *http.Request) {
	var req DownloadRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.CloudPath == "" || req.Destination == "" {
		h.writeError(w, http.StatusBadRequest, "cloud_path and destination are required", nil)
		return
	}

	p, err := h.engine.DownloadOne(transferContext(r), req.CloudPath, req.Destination)
	if err != nil {
		h.writeStorageError(w, err)
		return
	}

	h.writeSuccess(w, http.StatusOK, map[string]string{"path": p}, "Download completed")
}

func (h *Handlers) DownloadFiles(w http.ResponseWriter, r *http.Request) {
	var req DownloadBatchRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.Destination == "" {
		h.writeError(w, http.StatusBadRequest, "destination is required", nil)
		return
	}

	results, err := h.engine.DownloadMany(transferContext(r), req.CloudPaths, req.Destination)
	if err != nil {
		h.writeStorageError(w, err)
		return
	}

	h.writeSuccess(w, http.StatusOK, results, "")
}

func (h *Handlers) GetTransfers(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	filter := models.TransferFilter{
		BatchID:   query.Get("batch_id"),
		Direction: models.Direction(query.Get("direction")),
	}

	if statusStr := query.Get("status"); statusStr != "" {
		filter.Status = []models.TransferStatus{models.TransferStatus(statusStr)}
	}

	// Parse pagination
	filter.Limit = 50
	if limitStr := query.Get("limit"); limitStr != "" {
		if limit, err := strconv.Atoi(limitStr); err == nil && limit > 0 && limit <= 1000 {
			filter.Limit = limit
		}
	}
	if offsetStr := query.Get("offset"); offsetStr != "" {
		if offset, err := strconv.Atoi(offsetStr); err == nil && offset >= 0 {
			filter.Offset = offset
		}
	}

	transfers, err := h.engine.Transfers(filter)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "Failed to get transfers", err)
		return
	}

	h.writeSuccess(w, http.StatusOK, transfers, "")
}

func (h *Handlers) GetTransfer(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	job, err := h.engine.Transfer(id)
	if err != nil {
		h.writeStorageError(w, err)
		return
	}

	h.writeSuccess(w, http.StatusOK, job, "")
}

func (h *Handlers) GetTransferSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := h.engine.TransferSummary()
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "Failed to get transfer summary", err)
		return
	}

	h.writeSuccess(w, http.StatusOK, summary, "")
}
