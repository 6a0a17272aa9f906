package platform_test

import (
	"bytes"
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cloudstash/internal/container"
	"cloudstash/internal/interfaces"
	"cloudstash/internal/models"
	"cloudstash/internal/platform"
	"cloudstash/internal/testutil"
)

func payload(n int) []byte {
	return bytes.Repeat([]byte("x"), n)
}

func waitItem(t *testing.T, env *testutil.Env, rel string, cond func(*models.ItemAttributes) bool) *models.ItemAttributes {
	t.Helper()
	var item *models.ItemAttributes
	require.Eventually(t, func() bool {
		got, err := env.Repo.GetItem(rel)
		if err != nil {
			return false
		}
		item = got
		return cond(got)
	}, 2*time.Second, 5*time.Millisecond)
	return item
}

func TestLocal_SetUbiquitous(t *testing.T) {
	env := testutil.NewEnv(t)
	data := payload(300)
	env.WriteLocal(t, "/tmp/a.txt", data)

	err := env.Platform.SetUbiquitous(context.Background(), "/tmp/a.txt", "Documents/a.txt")
	require.NoError(t, err)

	// The source is moved into the container
	_, err = env.Local.Stat("/tmp/a.txt")
	assert.True(t, os.IsNotExist(err))
	ok, err := env.Container.Exists("Documents/a.txt", false)
	require.NoError(t, err)
	assert.True(t, ok)

	item := waitItem(t, env, "Documents/a.txt", func(i *models.ItemAttributes) bool { return i.IsUploaded })
	assert.Equal(t, 100.0, item.PercentUploaded)
	assert.Equal(t, int64(300), item.SizeBytes)
	assert.Equal(t, models.ScopeDocuments, item.Scope)
	assert.Equal(t, models.DownloadingStatusCurrent, item.DownloadingStatus)
	assert.Empty(t, item.UploadError)

	remote, err := util.ReadFile(env.Remote, "Documents/a.txt")
	require.NoError(t, err)
	assert.Equal(t, data, remote)
}

func TestLocal_SetUbiquitous_ParentMissing(t *testing.T) {
	env := testutil.NewEnv(t)
	env.WriteLocal(t, "/tmp/a.txt", payload(10))

	err := env.Platform.SetUbiquitous(context.Background(), "/tmp/a.txt", "Documents/missing/a.txt")
	require.Error(t, err)
	assert.Equal(t, models.CodePreconditionFailed, models.CodeOf(err))

	_, err = env.Local.Stat("/tmp/a.txt")
	assert.NoError(t, err)
}

func TestLocal_SetUbiquitous_MissingSource(t *testing.T) {
	env := testutil.NewEnv(t)

	err := env.Platform.SetUbiquitous(context.Background(), "/tmp/none.txt", "Documents/none.txt")
	require.Error(t, err)
	assert.Equal(t, models.CodeIOFailure, models.CodeOf(err))
}

func TestLocal_StartDownloading(t *testing.T) {
	env := testutil.NewEnv(t)
	data := payload(500)
	env.PublishRemote(t, "Documents/r.txt", data)

	item, err := env.Repo.GetItem("Documents/r.txt")
	require.NoError(t, err)
	assert.True(t, item.IsUploaded)
	assert.Equal(t, models.DownloadingStatusNotDownloaded, item.DownloadingStatus)

	require.NoError(t, env.Platform.StartDownloading(context.Background(), "Documents/r.txt"))

	item = waitItem(t, env, "Documents/r.txt", func(i *models.ItemAttributes) bool {
		return i.DownloadingStatus == models.DownloadingStatusCurrent
	})
	assert.Equal(t, 100.0, item.PercentDownloaded)

	got, err := util.ReadFile(env.Container.FS(), "Documents/r.txt")
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestLocal_StartDownloading_AlreadyCurrent(t *testing.T) {
	env := testutil.NewEnv(t)
	env.WriteLocal(t, "/tmp/a.txt", payload(10))
	require.NoError(t, env.Platform.SetUbiquitous(context.Background(), "/tmp/a.txt", "Documents/a.txt"))
	waitItem(t, env, "Documents/a.txt", func(i *models.ItemAttributes) bool { return i.IsUploaded })

	require.NoError(t, env.Platform.StartDownloading(context.Background(), "Documents/a.txt"))

	item, err := env.Repo.GetItem("Documents/a.txt")
	require.NoError(t, err)
	assert.Equal(t, models.DownloadingStatusCurrent, item.DownloadingStatus)
}

func TestLocal_StartDownloading_Unknown(t *testing.T) {
	env := testutil.NewEnv(t)

	err := env.Platform.StartDownloading(context.Background(), "Documents/nope.txt")
	require.Error(t, err)
	assert.Equal(t, models.CodeNotFound, models.CodeOf(err))
}

func TestLocal_StartDownloading_RemoteMissing(t *testing.T) {
	env := testutil.NewEnv(t)
	require.NoError(t, env.Repo.UpsertItem(&models.ItemAttributes{
		Name:              "ghost.txt",
		Path:              "Documents/ghost.txt",
		Scope:             models.ScopeDocuments,
		IsUploaded:        true,
		DownloadingStatus: models.DownloadingStatusNotDownloaded,
	}))

	require.NoError(t, env.Platform.StartDownloading(context.Background(), "Documents/ghost.txt"))

	item := waitItem(t, env, "Documents/ghost.txt", func(i *models.ItemAttributes) bool { return i.DownloadError != "" })
	assert.Equal(t, models.DownloadingStatusNotDownloaded, item.DownloadingStatus)
}

type failingCreateFS struct {
	billy.Filesystem
}

func (f failingCreateFS) Create(filename string) (billy.File, error) {
	return nil, errors.New("remote store rejected the item")
}

func TestLocal_UploadError(t *testing.T) {
	cfg := testutil.TestConfig()
	containerFS := memfs.New()
	require.NoError(t, containerFS.MkdirAll(container.DocumentsDir, 0755))
	repo := testutil.SetupTestDB(t)
	local := memfs.New()
	require.NoError(t, util.WriteFile(local, "/tmp/a.txt", payload(10), 0644))

	p := platform.NewLocal(platform.Options{
		Container: container.New(cfg.Container.Root, containerFS),
		Local:     local,
		Remote:    failingCreateFS{memfs.New()},
		Index:     repo,
		Config:    cfg,
	})
	require.NoError(t, p.Start(context.Background()))
	defer p.Stop()

	require.NoError(t, p.SetUbiquitous(context.Background(), "/tmp/a.txt", "Documents/a.txt"))

	require.Eventually(t, func() bool {
		item, err := repo.GetItem("Documents/a.txt")
		return err == nil && item.UploadError != ""
	}, 2*time.Second, 5*time.Millisecond)

	item, err := repo.GetItem("Documents/a.txt")
	require.NoError(t, err)
	assert.False(t, item.IsUploaded)
	assert.Contains(t, item.UploadError, "rejected")
}

func TestLocal_NotStarted(t *testing.T) {
	cfg := testutil.TestConfig()
	containerFS := memfs.New()
	require.NoError(t, containerFS.MkdirAll(container.DocumentsDir, 0755))
	local := memfs.New()
	require.NoError(t, util.WriteFile(local, "/tmp/a.txt", payload(10), 0644))

	p := platform.NewLocal(platform.Options{
		Container: container.New(cfg.Container.Root, containerFS),
		Local:     local,
		Remote:    memfs.New(),
		Index:     testutil.SetupTestDB(t),
		Config:    cfg,
	})

	err := p.SetUbiquitous(context.Background(), "/tmp/a.txt", "Documents/a.txt")
	require.Error(t, err)
	assert.Equal(t, models.CodeUnavailable, models.CodeOf(err))

	p.Stop()
}

func TestLocal_StartTwice(t *testing.T) {
	env := testutil.NewEnv(t)
	assert.Error(t, env.Platform.Start(context.Background()))
}

func TestLocal_Forget(t *testing.T) {
	env := testutil.NewEnv(t)
	env.PublishRemote(t, "Documents/r.txt", payload(10))

	require.NoError(t, env.Platform.Forget(context.Background(), "Documents/r.txt"))

	_, err := env.Repo.GetItem("Documents/r.txt")
	assert.True(t, models.IsCode(err, models.CodeNotFound))
	_, err = env.Remote.Stat("Documents/r.txt")
	assert.True(t, os.IsNotExist(err))
}

func TestLocal_Refresh(t *testing.T) {
	env := testutil.NewEnv(t)
	env.PublishRemote(t, "Documents/sub/a.txt", payload(42))
	env.PublishRemote(t, "Library/settings.json", payload(7))

	item, err := env.Repo.GetItem("Documents/sub/a.txt")
	require.NoError(t, err)
	assert.Equal(t, "a.txt", item.Name)
	assert.Equal(t, models.ScopeDocuments, item.Scope)
	assert.Equal(t, int64(42), item.SizeBytes)

	item, err = env.Repo.GetItem("Library/settings.json")
	require.NoError(t, err)
	assert.Equal(t, models.ScopeData, item.Scope)
}

func TestLocal_IdentityToken(t *testing.T) {
	env := testutil.NewEnv(t)
	assert.Equal(t, "test-token", env.Platform.IdentityToken())
}

func nextNotification(t *testing.T, q interfaces.MetadataQuery) interfaces.QueryNotification {
	t.Helper()
	select {
	case n, ok := <-q.Notifications():
		require.True(t, ok, "notifications closed")
		return n
	case <-time.After(2 * time.Second):
		t.Fatal("no notification")
		return ""
	}
}

func TestQuery_Lifecycle(t *testing.T) {
	env := testutil.NewEnv(t)
	q := env.Platform.NewQuery(models.NameIn("a.txt"), models.AllScopes)

	require.NoError(t, q.Start(context.Background()))
	assert.Error(t, q.Start(context.Background()))

	assert.Equal(t, interfaces.DidStartGathering, nextNotification(t, q))
	assert.Equal(t, interfaces.DidFinishGathering, nextNotification(t, q))
	assert.Empty(t, q.Results())

	env.WriteLocal(t, "/tmp/a.txt", payload(200))
	require.NoError(t, env.Platform.SetUbiquitous(context.Background(), "/tmp/a.txt", "Documents/a.txt"))

	require.Eventually(t, func() bool {
		results := q.Results()
		return len(results) == 1 && results[0].IsUploaded
	}, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, interfaces.DidUpdate, nextNotification(t, q))
	results := q.Results()
	assert.Equal(t, "/container/Documents/a.txt", results[0].AbsPath)

	q.Stop()
	q.Stop()

	// Drain whatever was posted before the stop; the channel must close.
	for range q.Notifications() {
	}

	assert.Error(t, q.Start(context.Background()))
}

func TestQuery_StopWithoutStart(t *testing.T) {
	env := testutil.NewEnv(t)
	q := env.Platform.NewQuery(models.NameIn("a.txt"), nil)

	q.Stop()
	_, ok := <-q.Notifications()
	assert.False(t, ok)
}

func TestQuery_ScopeFilter(t *testing.T) {
	env := testutil.NewEnv(t)
	env.PublishRemote(t, "Documents/a.txt", payload(1))
	env.PublishRemote(t, "Library/a.txt", payload(1))

	q := env.Platform.NewQuery(models.NameIn("a.txt"), []models.SearchScope{models.ScopeDocuments})
	require.NoError(t, q.Start(context.Background()))
	defer q.Stop()

	nextNotification(t, q)
	nextNotification(t, q)

	results := q.Results()
	require.Len(t, results, 1)
	assert.Equal(t, "Documents/a.txt", results[0].Path)
}
