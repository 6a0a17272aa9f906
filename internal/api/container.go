package api

import (
	"net/http"
	"strconv"
)

type CreateDirectoryRequest struct {
	Path string `json:"path"`
}

func (h *Handlers) GetAvailability(w http.ResponseWriter, r *http.Request) {
	h.writeSuccess(w, http.StatusOK, map[string]bool{
		"available": h.engine.CheckAvailability(),
	}, "")
}

func (h *Handlers) GetContainer(w http.ResponseWriter, r *http.Request) {
	root, ok := h.engine.DefaultContainerPath()
	if !ok {
		h.writeSuccess(w, http.StatusOK, map[string]interface{}{"path": nil}, "No cloud identity available")
		return
	}
	h.writeSuccess(w, http.StatusOK, map[string]interface{}{"path": root}, "")
}

func (h *Handlers) GetExists(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	p := query.Get("path")
	if p == "" {
		h.writeError(w, http.StatusBadRequest, "path is required", nil)
		return
	}
	isDir, _ := strconv.ParseBool(query.Get("dir"))

	exists, err := h.engine.Exists(p, isDir)
	if err != nil {
		h.writeStorageError(w, err)
		return
	}

	h.writeSuccess(w, http.StatusOK, map[string]bool{"exists": exists}, "")
}

func (h *Handlers) ListDirectory(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	full, _ := strconv.ParseBool(query.Get("full"))

	entries, err := h.engine.List(query.Get("path"), full)
	if err != nil {
		h.writeStorageError(w, err)
		return
	}

	h.writeSuccess(w, http.StatusOK, entries, "")
}

func (h *Handlers) CreateDirectory(w http.ResponseWriter, r *http.Request) {
	var req CreateDirectoryRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.Path == "" {
		h.writeError(w, http.StatusBadRequest, "path is required", nil)
		return
	}

	if err := h.engine.CreateDirectory(req.Path); err != nil {
		h.writeStorageError(w, err)
		return
	}

	h.writeSuccess(w, http.StatusCreated, nil, "Directory created successfully")
}

func (h *Handlers) RemoveItem(w http.ResponseWriter, r *http.Request) {
	p := r.URL.Query().Get("path")
	if p == "" {
		h.writeError(w, http.StatusBadRequest, "path is required", nil)
		return
	}

	if err := h.engine.Remove(r.Context(), p); err != nil {
		h.writeStorageError(w, err)
		return
	}

	h.writeSuccess(w, http.StatusOK, nil, "Item removed successfully")
}
