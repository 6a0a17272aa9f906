package testutil

import (
	"cloudstash/internal/config"
	"cloudstash/internal/models"
	"time"

	"github.com/google/uuid"
)

const (
	ContainerRoot = "/container"
	RemoteRoot    = "/remote"
)

// TestConfig returns a configuration with small chunks and a fast query
// interval so transfers finish quickly.
func TestConfig() *config.Config {
	cfg := config.Default()
	cfg.Container.Root = ContainerRoot
	cfg.Container.IdentityToken = "test-token"
	cfg.Platform.RemoteRoot = RemoteRoot
	cfg.Platform.Workers = 2
	cfg.Platform.ChunkSize = 64
	cfg.Platform.QueryInterval = 10 * time.Millisecond
	cfg.Database.Path = ":memory:"
	return cfg
}

// CreateTestTransfer creates a test transfer with default values
func CreateTestTransfer(overrides ...func(*models.TransferJob)) *models.TransferJob {
	job := &models.TransferJob{
		ID:        uuid.NewString(),
		BatchID:   "test-batch",
		Direction: models.DirectionUpload,
		LocalPath: "/local/file.txt",
		CloudPath: ContainerRoot + "/Documents/file.txt",
		SizeBytes: 100,
		Status:    models.TransferStatusPending,
	}

	for _, override := range overrides {
		override(job)
	}

	return job
}
