package platform

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/go-git/go-billy/v5"

	"cloudstash/internal/models"
)

type taskKind string

const (
	taskUpload   taskKind = "upload"
	taskDownload taskKind = "download"
)

const downloadSuffix = ".cloudstash-download"

type task struct {
	kind taskKind
	path string
}

// daemon is the worker pool that moves item bytes between the container and
// the remote store, reporting progress through the item index.
type daemon struct {
	platform *Local

	mu      sync.RWMutex
	running bool
	tasks   chan task
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func newDaemon(platform *Local) *daemon {
	return &daemon{
		platform: platform,
		tasks:    make(chan task, 1000),
	}
}

func (d *daemon) start(ctx context.Context, workers int) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.running {
		return
	}
	if workers <= 0 {
		workers = 1
	}

	d.ctx, d.cancel = context.WithCancel(ctx)
	d.running = true

	for i := 0; i < workers; i++ {
		d.wg.Add(1)
		go d.worker(i)
	}

	slog.Info("platform daemon started", "workers", workers)
}

func (d *daemon) stop() {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return
	}
	d.running = false
	d.cancel()
	d.mu.Unlock()

	d.wg.Wait()
	slog.Info("platform daemon stopped")
}

func (d *daemon) enqueue(ctx context.Context, t task) error {
	d.mu.RLock()
	running := d.running
	daemonCtx := d.ctx
	d.mu.RUnlock()

	if !running {
		return models.NewError(models.CodeUnavailable, "platform daemon is not running")
	}

	select {
	case d.tasks <- t:
		slog.Debug("platform task queued", "kind", t.kind, "path", t.path)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-daemonCtx.Done():
		return models.NewError(models.CodeUnavailable, "platform daemon is shutting down")
	}
}

func (d *daemon) worker(id int) {
	defer d.wg.Done()

	for {
		select {
		case <-d.ctx.Done():
			return
		case t := <-d.tasks:
			var err error
			switch t.kind {
			case taskUpload:
				err = d.upload(d.ctx, t.path)
			case taskDownload:
				err = d.download(d.ctx, t.path)
			}
			if err != nil && !errors.Is(err, context.Canceled) {
				slog.Warn("platform task failed", "worker", id, "kind", t.kind, "path", t.path, "error", err)
			}
		}
	}
}

func (d *daemon) upload(ctx context.Context, rel string) error {
	err := d.pushToRemote(ctx, rel)
	if err == nil {
		return d.updateItem(rel, func(item *models.ItemAttributes) {
			item.PercentUploaded = 100
			item.IsUploaded = true
			item.UploadError = ""
		})
	}
	if errors.Is(err, context.Canceled) {
		return err
	}

	if updateErr := d.updateItem(rel, func(item *models.ItemAttributes) {
		item.UploadError = err.Error()
	}); updateErr != nil {
		slog.Error("failed to record upload error", "path", rel, "error", updateErr)
	}
	return err
}

func (d *daemon) pushToRemote(ctx context.Context, rel string) error {
	local := d.platform.container.FS()
	remote := d.platform.remote

	in, err := local.Open(rel)
	if err != nil {
		return fmt.Errorf("failed to open container item: %w", err)
	}
	defer in.Close()

	info, err := local.Stat(rel)
	if err != nil {
		return fmt.Errorf("failed to stat container item: %w", err)
	}

	if err := remote.MkdirAll(path.Dir(rel), 0755); err != nil {
		return fmt.Errorf("failed to create remote directory: %w", err)
	}

	out, err := remote.Create(rel)
	if err != nil {
		return fmt.Errorf("failed to create remote item: %w", err)
	}

	err = d.copyChunks(ctx, out, in, info.Size(), func(percent float64) {
		d.reportProgress(rel, func(item *models.ItemAttributes) {
			item.PercentUploaded = percent
		})
	})
	if closeErr := out.Close(); err == nil && closeErr != nil {
		err = fmt.Errorf("failed to finalize remote item: %w", closeErr)
	}
	if err != nil {
		return err
	}

	slog.Debug("item uploaded", "path", rel, "size", humanize.IBytes(uint64(info.Size())))
	return nil
}

func (d *daemon) download(ctx context.Context, rel string) error {
	err := d.pullFromRemote(ctx, rel)
	if err == nil {
		return d.updateItem(rel, func(item *models.ItemAttributes) {
			item.PercentDownloaded = 100
			item.DownloadingStatus = models.DownloadingStatusCurrent
			item.DownloadError = ""
		})
	}
	if errors.Is(err, context.Canceled) {
		return err
	}

	if updateErr := d.updateItem(rel, func(item *models.ItemAttributes) {
		item.DownloadError = err.Error()
	}); updateErr != nil {
		slog.Error("failed to record download error", "path", rel, "error", updateErr)
	}
	return err
}

func (d *daemon) pullFromRemote(ctx context.Context, rel string) error {
	local := d.platform.container.FS()
	remote := d.platform.remote

	info, err := remote.Stat(rel)
	if err != nil {
		return fmt.Errorf("failed to stat remote item: %w", err)
	}

	in, err := remote.Open(rel)
	if err != nil {
		return fmt.Errorf("failed to open remote item: %w", err)
	}
	defer in.Close()

	if err := local.MkdirAll(path.Dir(rel), 0755); err != nil {
		return fmt.Errorf("failed to create container directory: %w", err)
	}

	partial := rel + downloadSuffix
	out, err := local.Create(partial)
	if err != nil {
		return fmt.Errorf("failed to create container item: %w", err)
	}

	err = d.copyChunks(ctx, out, in, info.Size(), func(percent float64) {
		d.reportProgress(rel, func(item *models.ItemAttributes) {
			item.PercentDownloaded = percent
			item.DownloadingStatus = models.DownloadingStatusNotDownloaded
		})
	})
	if closeErr := out.Close(); err == nil && closeErr != nil {
		err = closeErr
	}
	if err != nil {
		_ = local.Remove(partial)
		return err
	}

	if err := local.Rename(partial, rel); err != nil {
		_ = local.Remove(partial)
		return fmt.Errorf("failed to place downloaded item: %w", err)
	}

	slog.Debug("item downloaded", "path", rel, "size", humanize.IBytes(uint64(info.Size())))
	return nil
}

// copyChunks copies size bytes chunk by chunk, calling report with the
// completed percentage after every chunk. A zero-length source reports
// nothing; the caller marks it complete.
func (d *daemon) copyChunks(ctx context.Context, dst billy.File, src io.Reader, size int64, report func(float64)) error {
	cfg := d.platform.config.GetPlatform()
	chunk := cfg.ChunkSize
	if chunk <= 0 {
		chunk = 256 * 1024
	}

	buf := make([]byte, chunk)
	var written int64

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		n, readErr := src.Read(buf)
		if n > 0 {
			if _, err := dst.Write(buf[:n]); err != nil {
				return fmt.Errorf("write failed: %w", err)
			}
			written += int64(n)

			if size > 0 {
				percent := float64(written) / float64(size) * 100
				if percent > 100 {
					percent = 100
				}
				report(percent)
			}

			if cfg.ChunkDelay > 0 {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(cfg.ChunkDelay):
				}
			}
		}

		if readErr == io.EOF {
			return nil
		}
		if readErr != nil {
			return fmt.Errorf("read failed: %w", readErr)
		}
	}
}

func (d *daemon) reportProgress(rel string, fn func(*models.ItemAttributes)) {
	if err := d.updateItem(rel, fn); err != nil {
		slog.Debug("failed to record progress", "path", rel, "error", err)
	}
}

// updateItem applies fn to the indexed item and wakes queries. An item that
// was forgotten mid-transfer is left alone.
func (d *daemon) updateItem(rel string, fn func(*models.ItemAttributes)) error {
	item, err := d.platform.index.GetItem(rel)
	if err != nil {
		if models.IsCode(err, models.CodeNotFound) {
			return nil
		}
		return err
	}

	fn(item)

	if err := d.platform.index.UpsertItem(item); err != nil {
		return err
	}
	d.platform.notifier.notify()
	return nil
}
