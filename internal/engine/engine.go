// Package engine is the public surface of cloudstash: availability, the
// boundary file operations on the container, and single and batch
// transfers with aggregated progress.
package engine

import (
	"context"
	"log/slog"
	"os"
	"path"
	"sort"
	"time"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"

	"cloudstash/internal/config"
	"cloudstash/internal/container"
	"cloudstash/internal/interfaces"
	"cloudstash/internal/models"
	"cloudstash/internal/transfer"
)

// DownloadGate decides whether a download batch may start.
type DownloadGate interface {
	CanStartDownload(destDir string, size int64) interfaces.GateDecision
}

type Options struct {
	Config    *config.Config
	Container *container.Container
	Platform  interfaces.Platform
	// Local is the filesystem upload sources are read from and downloads
	// are written to.
	Local billy.Filesystem

	// Optional collaborators
	Repo    interfaces.TransferRepository
	Emitter interfaces.ProgressEmitter
	Gate    DownloadGate
}

type Engine struct {
	config    *config.Config
	container *container.Container
	platform  interfaces.Platform
	local     billy.Filesystem
	repo      interfaces.TransferRepository
	emitter   interfaces.ProgressEmitter
	gate      DownloadGate
	runner    *transfer.Runner
}

type discardEmitter struct{}

func (discardEmitter) Emit(models.ProgressStream, float64) {}

func New(opts Options) *Engine {
	emitter := opts.Emitter
	if emitter == nil {
		emitter = discardEmitter{}
	}

	cfg := opts.Config
	return &Engine{
		config:    cfg,
		container: opts.Container,
		platform:  opts.Platform,
		local:     opts.Local,
		repo:      opts.Repo,
		emitter:   emitter,
		gate:      opts.Gate,
		runner: transfer.NewRunner(transfer.RunnerOptions{
			Platform:  opts.Platform,
			Container: opts.Container,
			Local:     opts.Local,
			Timeout: func() time.Duration {
				return cfg.GetTransfers().Timeout
			},
		}),
	}
}

// CheckAvailability reports whether a cloud identity is signed in and the
// container is reachable. It never fails.
func (e *Engine) CheckAvailability() bool {
	if e.platform.IdentityToken() == "" {
		return false
	}
	ok, err := e.container.Exists(container.DocumentsDir, true)
	if err != nil {
		slog.Warn("container is not reachable", "root", e.container.Root(), "error", err)
		return false
	}
	return ok
}

// DefaultContainerPath returns the container root, or false when no cloud
// identity is available.
func (e *Engine) DefaultContainerPath() (string, bool) {
	if !e.CheckAvailability() {
		return "", false
	}
	return e.container.Root(), true
}

func (e *Engine) requireAvailable() error {
	if !e.CheckAvailability() {
		return models.ErrUnavailable()
	}
	return nil
}

// Exists reports whether p exists; with isDirectory it must be a directory.
func (e *Engine) Exists(p string, isDirectory bool) (bool, error) {
	if err := e.requireAvailable(); err != nil {
		return false, err
	}
	rel, err := e.container.Resolve(p)
	if err != nil {
		return false, err
	}
	ok, err := e.container.Exists(rel, isDirectory)
	if err != nil {
		return false, models.WrapError(models.CodeIOFailure, err, "failed to check %s", p)
	}
	return ok, nil
}

// CreateDirectory creates p and any missing parents.
func (e *Engine) CreateDirectory(p string) error {
	if err := e.requireAvailable(); err != nil {
		return err
	}
	rel, err := e.container.Resolve(p)
	if err != nil {
		return err
	}
	if err := e.container.FS().MkdirAll(rel, 0755); err != nil {
		return models.WrapError(models.CodeIOFailure, err, "failed to create directory %s", p)
	}
	slog.Debug("directory created", "path", rel)
	return nil
}

// List returns the entries of p sorted by name, as absolute paths when
// fullPaths is set. An unreadable directory lists as empty.
func (e *Engine) List(p string, fullPaths bool) ([]string, error) {
	if err := e.requireAvailable(); err != nil {
		return nil, err
	}
	rel, err := e.container.Resolve(p)
	if err != nil {
		return nil, err
	}

	entries, err := e.container.FS().ReadDir(rel)
	if err != nil {
		slog.Debug("directory not readable", "path", rel, "error", err)
		return []string{}, nil
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if fullPaths {
			names = append(names, e.container.Abs(path.Join(rel, entry.Name())))
		} else {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// Remove deletes p, which must be an absolute path strictly inside the
// container, together with everything below it.
func (e *Engine) Remove(ctx context.Context, p string) error {
	if err := e.requireAvailable(); err != nil {
		return err
	}
	rel, err := e.container.Rel(p)
	if err != nil {
		return err
	}

	fs := e.container.FS()
	if _, err := fs.Stat(rel); err != nil {
		if os.IsNotExist(err) {
			return models.ErrNotFound(p)
		}
		return models.WrapError(models.CodeIOFailure, err, "failed to stat %s", p)
	}

	if err := util.RemoveAll(fs, rel); err != nil {
		return models.WrapError(models.CodeIOFailure, err, "failed to remove %s", p)
	}

	if err := e.platform.Forget(ctx, rel); err != nil {
		slog.Warn("failed to drop item metadata", "path", rel, "error", err)
	}

	slog.Info("item removed", "path", rel)
	return nil
}

// Transfers returns recorded transfer jobs.
func (e *Engine) Transfers(filter models.TransferFilter) ([]*models.TransferJob, error) {
	if e.repo == nil {
		return []*models.TransferJob{}, nil
	}
	return e.repo.GetTransfers(filter)
}

func (e *Engine) Transfer(id string) (*models.TransferJob, error) {
	if e.repo == nil {
		return nil, models.NewError(models.CodeNotFound, "transfer not found: "+id)
	}
	return e.repo.GetTransfer(id)
}

func (e *Engine) TransferSummary() (*models.TransferSummary, error) {
	if e.repo == nil {
		return &models.TransferSummary{}, nil
	}
	return e.repo.GetTransferSummary()
}
