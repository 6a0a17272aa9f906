package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"cloudstash/internal/config"
	"cloudstash/internal/gatekeeper"
	"cloudstash/internal/models"

	"github.com/gorilla/mux"
)

// StorageEngine is the engine surface exposed over HTTP.
type StorageEngine interface {
	CheckAvailability() bool
	DefaultContainerPath() (string, bool)
	Exists(p string, isDirectory bool) (bool, error)
	CreateDirectory(p string) error
	List(p string, fullPaths bool) ([]string, error)
	Remove(ctx context.Context, p string) error

	UploadOne(ctx context.Context, destPath, localPath string) (string, error)
	UploadMany(ctx context.Context, destDir string, localPaths []string) ([]models.TransferResult, error)
	DownloadOne(ctx context.Context, cloudPath, destDir string) (string, error)
	DownloadMany(ctx context.Context, cloudPaths []string, destDir string) ([]models.TransferResult, error)

	Transfers(filter models.TransferFilter) ([]*models.TransferJob, error)
	Transfer(id string) (*models.TransferJob, error)
	TransferSummary() (*models.TransferSummary, error)
}

type ResourceReporter interface {
	GetResourceStatus(path string) gatekeeper.ResourceStatus
}

// ProgressSource hands out subscriptions to a progress stream.
type ProgressSource interface {
	Subscribe(stream models.ProgressStream) (<-chan models.ProgressEvent, func())
}

type Handlers struct {
	engine     StorageEngine
	gatekeeper ResourceReporter
	progress   ProgressSource
	config     *config.Config
}

type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Code    string      `json:"code,omitempty"`
	Message string      `json:"message,omitempty"`
}

func NewHandlers(engine StorageEngine, gk ResourceReporter, progress ProgressSource, cfg *config.Config) *Handlers {
	return &Handlers{
		engine:     engine,
		gatekeeper: gk,
		progress:   progress,
		config:     cfg,
	}
}

func (h *Handlers) RegisterRoutes(r *mux.Router) {
	api := r.PathPrefix("/api/v1").Subrouter()

	// Container endpoints
	api.HandleFunc("/availability", h.GetAvailability).Methods("GET")
	api.HandleFunc("/container", h.GetContainer).Methods("GET")
	api.HandleFunc("/exists", h.GetExists).Methods("GET")
	api.HandleFunc("/dirs", h.ListDirectory).Methods("GET")
	api.HandleFunc("/dirs", h.CreateDirectory).Methods("POST")
	api.HandleFunc("/items", h.RemoveItem).Methods("DELETE")

	// Transfer endpoints
	api.HandleFunc("/uploads", h.UploadFile).Methods("POST")
	api.HandleFunc("/uploads/batch", h.UploadFiles).Methods("POST")
	api.HandleFunc("/downloads", h.DownloadFile).Methods("POST")
	api.HandleFunc("/downloads/batch", h.DownloadFiles).Methods("POST")
	api.HandleFunc("/transfers", h.GetTransfers).Methods("GET")
	api.HandleFunc("/transfers/summary", h.GetTransferSummary).Methods("GET")
	api.HandleFunc("/transfers/{id}", h.GetTransfer).Methods("GET")

	// Progress streams
	api.HandleFunc("/events/{stream}", h.StreamProgress).Methods("GET")

	// System endpoints
	api.HandleFunc("/health", h.HealthCheck).Methods("GET")
	api.HandleFunc("/status", h.GetStatus).Methods("GET")

	// Preflight for every route above. mux only runs middleware on a
	// matched route, so OPTIONS needs one for corsMiddleware to answer it.
	api.Methods(http.MethodOptions).HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	api.Use(corsMiddleware)
	api.Use(loggingMiddleware)
	api.Use(jsonContentTypeMiddleware)
}

func (h *Handlers) writeSuccess(w http.ResponseWriter, statusCode int, data interface{}, message string) {
	w.WriteHeader(statusCode)
	response := APIResponse{
		Success: true,
		Data:    data,
		Message: message,
	}

	if err := json.NewEncoder(w).Encode(response); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func (h *Handlers) writeError(w http.ResponseWriter, statusCode int, message string, err error) {
	h.writeErrorCode(w, statusCode, "", message, err)
}

func (h *Handlers) writeErrorCode(w http.ResponseWriter, statusCode int, code models.ErrorCode, message string, err error) {
	w.WriteHeader(statusCode)
	response := APIResponse{
		Success: false,
		Error:   message,
		Code:    string(code),
	}

	if err != nil {
		slog.Error("API error", "message", message, "code", code, "error", err)
	} else {
		slog.Warn("API error", "message", message, "code", code)
	}

	if jsonErr := json.NewEncoder(w).Encode(response); jsonErr != nil {
		slog.Error("failed to encode error response", "error", jsonErr)
	}
}

// writeStorageError maps an engine error onto its HTTP status.
func (h *Handlers) writeStorageError(w http.ResponseWriter, err error) {
	code := models.CodeOf(err)

	message := err.Error()
	var se *models.StorageError
	if errors.As(err, &se) && se.Message != "" {
		message = se.Message
	}

	h.writeErrorCode(w, statusFor(code), code, message, err)
}

func statusFor(code models.ErrorCode) int {
	switch code {
	case models.CodeNotFound:
		return http.StatusNotFound
	case models.CodePreconditionFailed:
		return http.StatusPreconditionFailed
	case models.CodeUnavailable:
		return http.StatusServiceUnavailable
	case models.CodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handlers) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid JSON payload", err)
		return false
	}
	return true
}
