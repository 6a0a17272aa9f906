// Package platform provides the local platform: an emulation of the OS
// component that owns a cloud container. Files handed to it are moved into
// the container and pushed to a remote store by a background daemon; items
// are materialized back from the remote store on request. Item state lives
// in a metadata index that MetadataQuery polls.
package platform

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"strings"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"

	"cloudstash/internal/config"
	"cloudstash/internal/container"
	"cloudstash/internal/interfaces"
	"cloudstash/internal/models"
)

type Options struct {
	Container *container.Container
	// Local is the non-synchronized filesystem callers upload from.
	Local billy.Filesystem
	// Remote is the server side of the container.
	Remote billy.Filesystem
	Index  interfaces.ItemIndex
	Config *config.Config
}

type Local struct {
	container *container.Container
	local     billy.Filesystem
	remote    billy.Filesystem
	index     interfaces.ItemIndex
	config    *config.Config

	daemon   *daemon
	notifier *notifier

	mu      sync.Mutex
	started bool
}

func NewLocal(opts Options) *Local {
	l := &Local{
		container: opts.Container,
		local:     opts.Local,
		remote:    opts.Remote,
		index:     opts.Index,
		config:    opts.Config,
		notifier:  newNotifier(),
	}
	l.daemon = newDaemon(l)
	return l
}

// Start launches the transfer daemon and indexes remote-only items.
func (l *Local) Start(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.started {
		return fmt.Errorf("platform already started")
	}

	if err := l.Refresh(); err != nil {
		return fmt.Errorf("failed to index remote store: %w", err)
	}

	l.daemon.start(ctx, l.config.GetPlatform().Workers)
	l.started = true

	slog.Info("local platform started", "container", l.container.Root())
	return nil
}

func (l *Local) Stop() {
	l.mu.Lock()
	if !l.started {
		l.mu.Unlock()
		return
	}
	l.started = false
	l.mu.Unlock()

	l.daemon.stop()
	slog.Info("local platform stopped")
}

func (l *Local) IdentityToken() string {
	return l.config.GetContainer().IdentityToken
}

func (l *Local) SetUbiquitous(ctx context.Context, localPath, destination string) error {
	if parent := path.Dir(destination); parent != "." {
		if ok, err := l.container.Exists(parent, true); err != nil {
			return err
		} else if !ok {
			return models.ErrParentMissing(parent)
		}
	}

	size, err := moveFile(l.local, localPath, l.container.FS(), destination)
	if err != nil {
		return models.WrapError(models.CodeIOFailure, err, "failed to move %s into container", localPath)
	}

	item := &models.ItemAttributes{
		Name:              container.DisplayName(destination),
		Path:              destination,
		Scope:             l.container.ScopeOf(destination),
		SizeBytes:         size,
		PercentDownloaded: 100,
		DownloadingStatus: models.DownloadingStatusCurrent,
	}
	if err := l.index.UpsertItem(item); err != nil {
		return fmt.Errorf("failed to index %s: %w", destination, err)
	}
	l.notifier.notify()

	slog.Debug("item handed to platform for upload", "path", destination, "size", humanize.IBytes(uint64(size)))
	return l.daemon.enqueue(ctx, task{kind: taskUpload, path: destination})
}

func (l *Local) StartDownloading(ctx context.Context, relPath string) error {
	item, err := l.index.GetItem(relPath)
	if err != nil {
		return err
	}

	if item.DownloadingStatus == models.DownloadingStatusCurrent {
		if ok, _ := l.container.Exists(relPath, false); ok {
			l.notifier.notify()
			return nil
		}
	}

	item.DownloadingStatus = models.DownloadingStatusNotDownloaded
	item.PercentDownloaded = 0
	item.DownloadError = ""
	if err := l.index.UpsertItem(item); err != nil {
		return fmt.Errorf("failed to reset %s: %w", relPath, err)
	}
	l.notifier.notify()

	return l.daemon.enqueue(ctx, task{kind: taskDownload, path: relPath})
}

func (l *Local) Forget(ctx context.Context, relPath string) error {
	if err := l.index.DeleteItem(relPath); err != nil {
		return err
	}
	if err := util.RemoveAll(l.remote, relPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove remote copy of %s: %w", relPath, err)
	}
	l.notifier.notify()
	return nil
}

func (l *Local) NewQuery(predicate models.Predicate, scopes []models.SearchScope) interfaces.MetadataQuery {
	return newQuery(l, predicate, scopes)
}

// Refresh indexes files that exist in the remote store but are unknown to
// the index. They appear as uploaded but not yet downloaded.
func (l *Local) Refresh() error {
	return walkFiles(l.remote, ".", func(p string, info os.FileInfo) error {
		if _, err := l.index.GetItem(p); err == nil {
			return nil
		} else if !models.IsCode(err, models.CodeNotFound) {
			return err
		}

		status := models.DownloadingStatusNotDownloaded
		percent := 0.0
		if ok, _ := l.container.Exists(p, false); ok {
			status = models.DownloadingStatusCurrent
			percent = 100
		}

		return l.index.UpsertItem(&models.ItemAttributes{
			Name:              path.Base(p),
			Path:              p,
			Scope:             l.container.ScopeOf(p),
			SizeBytes:         info.Size(),
			PercentUploaded:   100,
			PercentDownloaded: percent,
			IsUploaded:        true,
			DownloadingStatus: status,
		})
	})
}

// walkFiles calls fn for every regular file below dir, depth first. A
// missing dir has no files.
func walkFiles(fs billy.Filesystem, dir string, fn func(p string, info os.FileInfo) error) error {
	entries, err := fs.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	for _, entry := range entries {
		p := path.Join(dir, entry.Name())
		if entry.IsDir() {
			if err := walkFiles(fs, p, fn); err != nil {
				return err
			}
			continue
		}
		if strings.HasSuffix(p, downloadSuffix) {
			continue
		}
		if err := fn(p, entry); err != nil {
			return err
		}
	}
	return nil
}

// moveFile copies src on one filesystem to dst on another and removes src.
func moveFile(srcFS billy.Filesystem, src string, dstFS billy.Filesystem, dst string) (int64, error) {
	in, err := srcFS.Open(src)
	if err != nil {
		return 0, err
	}

	out, err := dstFS.Create(dst)
	if err != nil {
		in.Close()
		return 0, err
	}

	n, err := io.Copy(out, in)
	in.Close()
	if closeErr := out.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return 0, err
	}

	if err := srcFS.Remove(src); err != nil && !os.IsNotExist(err) {
		return 0, err
	}

	return n, nil
}
