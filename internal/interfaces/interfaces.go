package interfaces

import (
	"context"

	"cloudstash/internal/models"
)

// QueryNotification mirrors the notifications a metadata query posts.
type QueryNotification string

const (
	DidStartGathering  QueryNotification = "did_start_gathering"
	DidFinishGathering QueryNotification = "did_finish_gathering"
	DidUpdate          QueryNotification = "did_update"
)

// MetadataQuery observes the items matching one predicate. Notifications is
// closed once the query is stopped.
type MetadataQuery interface {
	Start(ctx context.Context) error
	Notifications() <-chan QueryNotification
	Results() []models.ItemAttributes
	Stop()
}

// Platform is the host component that owns the cloud container, moves bytes
// and answers metadata queries.
type Platform interface {
	// IdentityToken returns "" when no cloud identity is signed in.
	IdentityToken() string
	// SetUbiquitous moves the local file into the container at destination
	// (container-relative) and hands it to the platform for upload.
	SetUbiquitous(ctx context.Context, localPath, destination string) error
	// StartDownloading asks the platform to materialize a container item locally.
	StartDownloading(ctx context.Context, relPath string) error
	// Forget drops the platform's metadata for a removed item.
	Forget(ctx context.Context, relPath string) error
	NewQuery(predicate models.Predicate, scopes []models.SearchScope) MetadataQuery
}

// ItemIndex provides database access for the platform's item metadata
type ItemIndex interface {
	UpsertItem(item *models.ItemAttributes) error
	GetItem(path string) (*models.ItemAttributes, error)
	FindItems(names []string, scopes []models.SearchScope) ([]models.ItemAttributes, error)
	DeleteItem(path string) error
}

// TransferRepository provides database access for transfer history
type TransferRepository interface {
	CreateTransfer(job *models.TransferJob) error
	UpdateTransfer(job *models.TransferJob) error
	GetTransfer(id string) (*models.TransferJob, error)
	GetTransfers(filter models.TransferFilter) ([]*models.TransferJob, error)
	GetTransferSummary() (*models.TransferSummary, error)
}

// DiskChecker reports free bytes on the filesystem holding path.
type DiskChecker interface {
	FreeBytes(path string) (uint64, error)
}

// ProgressEmitter publishes progress events to named streams.
type ProgressEmitter interface {
	Emit(stream models.ProgressStream, value float64)
}

// GateDecision represents whether an operation can proceed
type GateDecision struct {
	Allowed bool
	Reason  string
	Details map[string]interface{}
}
