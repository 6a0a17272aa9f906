package testutil

import (
	"context"
	"path"
	"testing"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-billy/v5/util"

	"cloudstash/internal/config"
	"cloudstash/internal/container"
	"cloudstash/internal/platform"
	"cloudstash/internal/repository"
)

// Env is a running local platform over in-memory filesystems.
type Env struct {
	Config    *config.Config
	Repo      *repository.Repository
	Container *container.Container
	Local     billy.Filesystem
	Remote    billy.Filesystem
	Platform  *platform.Local
}

// TempFS returns an OS-backed filesystem bound to a fresh temporary
// directory. Unlike memfs it is safe for the concurrent daemon and batch
// workers.
func TempFS(t *testing.T) billy.Filesystem {
	t.Helper()
	return osfs.New(t.TempDir(), osfs.WithBoundOS())
}

func NewEnv(t *testing.T) *Env {
	t.Helper()
	return NewEnvWithConfig(t, TestConfig())
}

func NewEnvWithConfig(t *testing.T, cfg *config.Config) *Env {
	t.Helper()

	containerFS := TempFS(t)
	if err := containerFS.MkdirAll(container.DocumentsDir, 0755); err != nil {
		t.Fatalf("failed to create Documents: %v", err)
	}

	env := &Env{
		Config:    cfg,
		Repo:      SetupTestDB(t),
		Container: container.New(cfg.Container.Root, containerFS),
		Local:     TempFS(t),
		Remote:    TempFS(t),
	}

	env.Platform = platform.NewLocal(platform.Options{
		Container: env.Container,
		Local:     env.Local,
		Remote:    env.Remote,
		Index:     env.Repo,
		Config:    cfg,
	})

	ctx, cancel := context.WithCancel(context.Background())
	if err := env.Platform.Start(ctx); err != nil {
		cancel()
		t.Fatalf("failed to start platform: %v", err)
	}

	t.Cleanup(func() {
		env.Platform.Stop()
		cancel()
	})

	return env
}

// WriteLocal creates a file on the local filesystem.
func (e *Env) WriteLocal(t *testing.T, p string, data []byte) {
	t.Helper()
	if err := e.Local.MkdirAll(path.Dir(p), 0755); err != nil {
		t.Fatalf("failed to create %s: %v", path.Dir(p), err)
	}
	if err := util.WriteFile(e.Local, p, data, 0644); err != nil {
		t.Fatalf("failed to write %s: %v", p, err)
	}
}

// PublishRemote places a file in the remote store only, as if another
// device had uploaded it, and indexes it.
func (e *Env) PublishRemote(t *testing.T, rel string, data []byte) {
	t.Helper()
	if err := e.Remote.MkdirAll(path.Dir(rel), 0755); err != nil {
		t.Fatalf("failed to create remote %s: %v", path.Dir(rel), err)
	}
	if err := util.WriteFile(e.Remote, rel, data, 0644); err != nil {
		t.Fatalf("failed to write remote %s: %v", rel, err)
	}
	if err := e.Platform.Refresh(); err != nil {
		t.Fatalf("failed to refresh index: %v", err)
	}
}

// MkdirCloud creates a directory inside the container.
func (e *Env) MkdirCloud(t *testing.T, rel string) {
	t.Helper()
	if err := e.Container.FS().MkdirAll(rel, 0755); err != nil {
		t.Fatalf("failed to create %s: %v", rel, err)
	}
}
