// Package transfer runs single-file uploads and downloads against the
// platform and folds their progress into batch-wide values.
package transfer

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"time"

	"github.com/go-git/go-billy/v5"
	"github.com/google/uuid"

	"cloudstash/internal/container"
	"cloudstash/internal/interfaces"
	"cloudstash/internal/models"
	"cloudstash/internal/watcher"
)

// Runner executes TransferJobs. Local paths are resolved on the local
// filesystem; cloud paths are container-relative.
type Runner struct {
	platform  interfaces.Platform
	container *container.Container
	local     billy.Filesystem
	timeout   func() time.Duration
}

type RunnerOptions struct {
	Platform  interfaces.Platform
	Container *container.Container
	Local     billy.Filesystem
	// Timeout returns the current watch timeout; zero waits indefinitely.
	Timeout func() time.Duration
}

func NewRunner(opts RunnerOptions) *Runner {
	timeout := opts.Timeout
	if timeout == nil {
		timeout = func() time.Duration { return 0 }
	}
	return &Runner{
		platform:  opts.Platform,
		container: opts.Container,
		local:     opts.Local,
		timeout:   timeout,
	}
}

// Upload copies job.LocalPath to a temporary sibling, hands the copy to the
// platform for upload to dest and waits for the platform to report it
// uploaded. It returns the absolute cloud path.
func (r *Runner) Upload(ctx context.Context, job *models.TransferJob, dest string, onSnapshot func(models.Snapshot)) (string, error) {
	if parent := path.Dir(dest); parent != "." {
		ok, err := r.container.Exists(parent, true)
		if err != nil {
			return "", models.WrapError(models.CodeIOFailure, err, "failed to check destination directory")
		}
		if !ok {
			return "", models.ErrParentMissing(r.container.Abs(parent))
		}
	}

	temp := path.Join(path.Dir(job.LocalPath), uuid.NewString())
	if _, err := copyFile(r.local, job.LocalPath, r.local, temp); err != nil {
		_ = r.local.Remove(temp)
		return "", models.WrapError(models.CodeIOFailure, err, "failed to prepare %s for upload", job.LocalPath)
	}

	slog.Debug("handing file to platform", "job_id", job.ID, "temp", temp, "destination", dest)

	if err := r.platform.SetUbiquitous(ctx, temp, dest); err != nil {
		_ = r.local.Remove(temp)
		return "", asStorageError(err, "failed to hand %s to the platform", job.LocalPath)
	}

	// The platform moves the file; anything left behind is ours to clean up.
	if err := r.local.Remove(temp); err != nil && !os.IsNotExist(err) {
		slog.Warn("failed to remove temporary upload copy", "path", temp, "error", err)
	}

	w := watcher.New(r.platform.NewQuery(models.NameIn(container.DisplayName(dest)), models.AllScopes), watcher.Options{
		Direction:  models.DirectionUpload,
		Predicate:  models.NameIn(container.DisplayName(dest)),
		Scopes:     models.AllScopes,
		Path:       dest,
		Timeout:    r.timeout(),
		OnSnapshot: onSnapshot,
	})
	if err := w.Start(ctx); err != nil {
		return "", err
	}

	outcome := w.Wait(ctx)
	if outcome.Err != nil {
		return "", outcome.Err
	}
	return outcome.Path, nil
}

// Download materializes src (container-relative) and copies it into
// destDir on the local filesystem. An existing local file is left untouched
// and reported as success.
func (r *Runner) Download(ctx context.Context, job *models.TransferJob, src, destDir string, onSnapshot func(models.Snapshot)) (string, error) {
	name := container.DisplayName(src)
	dest := path.Join(destDir, name)

	if _, err := r.local.Stat(dest); err == nil {
		slog.Debug("download destination already exists", "job_id", job.ID, "path", dest)
		return dest, nil
	} else if !os.IsNotExist(err) {
		return "", models.WrapError(models.CodeIOFailure, err, "failed to check %s", dest)
	}

	if err := r.platform.StartDownloading(ctx, src); err != nil {
		return "", asStorageError(err, "failed to start downloading %s", src)
	}

	fs := r.container.FS()
	w := watcher.New(r.platform.NewQuery(models.NameIn(name), models.AllScopes), watcher.Options{
		Direction:  models.DirectionDownload,
		Predicate:  models.NameIn(name),
		Scopes:     models.AllScopes,
		Path:       src,
		Timeout:    r.timeout(),
		OnSnapshot: onSnapshot,
		Readable: func(item models.ItemAttributes) error {
			f, err := fs.Open(item.Path)
			if err != nil {
				return err
			}
			return f.Close()
		},
	})
	if err := w.Start(ctx); err != nil {
		return "", err
	}

	outcome := w.Wait(ctx)
	if outcome.Err != nil {
		return "", outcome.Err
	}

	if err := r.local.MkdirAll(destDir, 0755); err != nil {
		return "", models.WrapError(models.CodeIOFailure, err, "failed to create %s", destDir)
	}
	if _, err := copyFile(fs, src, r.local, dest); err != nil {
		_ = r.local.Remove(dest)
		return "", models.WrapError(models.CodeIOFailure, err, "failed to copy %s to %s", src, dest)
	}

	return dest, nil
}

func copyFile(srcFS billy.Filesystem, src string, dstFS billy.Filesystem, dst string) (int64, error) {
	in, err := srcFS.Open(src)
	if err != nil {
		return 0, err
	}
	defer in.Close()

	out, err := dstFS.Create(dst)
	if err != nil {
		return 0, err
	}

	n, err := io.Copy(out, in)
	if closeErr := out.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return 0, fmt.Errorf("copy failed: %w", err)
	}
	return n, nil
}

// asStorageError keeps a platform error's code and classifies anything
// untyped as an I/O failure.
func asStorageError(err error, format string, args ...any) error {
	if models.CodeOf(err) != models.CodeInternal {
		return err
	}
	return models.WrapError(models.CodeIOFailure, err, format, args...)
}
