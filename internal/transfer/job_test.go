package transfer

import (
	"bytes"
	"context"
	"errors"
	"sync"
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
	"cloudstash/internal/testutil"
)

type snapshots struct {
	mu    sync.Mutex
	items []models.Snapshot
}

func (s *snapshots) record(snap models.Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = append(s.items, snap)
}

func (s *snapshots) fractions() []float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]float64, 0, len(s.items))
	for _, snap := range s.items {
		out = append(out, snap.Fraction)
	}
	return out
}

func newRunner(env *testutil.Env) *Runner {
	return NewRunner(RunnerOptions{
		Platform:  env.Platform,
		Container: env.Container,
		Local:     env.Local,
		Timeout:   func() time.Duration { return 5 * time.Second },
	})
}

func assertNonDecreasing(t *testing.T, values []float64) {
	t.Helper()
	for i := 1; i < len(values); i++ {
		assert.GreaterOrEqual(t, values[i], values[i-1], "fraction went backwards at %d: %v", i, values)
	}
}

func TestRunner_Upload(t *testing.T) {
	env := testutil.NewEnv(t)
	data := bytes.Repeat([]byte("u"), 1000)
	env.WriteLocal(t, "/tmp/a.txt", data)

	rec := &snapshots{}
	job := testutil.CreateTestTransfer(func(j *models.TransferJob) { j.LocalPath = "/tmp/a.txt" })

	path, err := newRunner(env).Upload(context.Background(), job, "Documents/a.txt", rec.record)
	require.NoError(t, err)
	assert.Equal(t, "/container/Documents/a.txt", path)

	fractions := rec.fractions()
	require.NotEmpty(t, fractions)
	assert.Equal(t, 100.0, fractions[len(fractions)-1])
	assertNonDecreasing(t, fractions)

	// The caller's file is untouched and no temporary copy is left behind
	entries, err := env.Local.ReadDir("/tmp")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "a.txt", entries[0].Name())

	remote, err := util.ReadFile(env.Remote, "Documents/a.txt")
	require.NoError(t, err)
	assert.Equal(t, data, remote)
}

func TestRunner_Upload_ParentMissing(t *testing.T) {
	env := testutil.NewEnv(t)
	env.WriteLocal(t, "/tmp/a.txt", []byte("data"))

	job := testutil.CreateTestTransfer(func(j *models.TransferJob) { j.LocalPath = "/tmp/a.txt" })
	_, err := newRunner(env).Upload(context.Background(), job, "Documents/nope/a.txt", nil)
	require.Error(t, err)
	assert.Equal(t, models.CodePreconditionFailed, models.CodeOf(err))

	entries, err := env.Local.ReadDir("/tmp")
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestRunner_Upload_MissingSource(t *testing.T) {
	env := testutil.NewEnv(t)
	require.NoError(t, env.Local.MkdirAll("/tmp", 0755))

	job := testutil.CreateTestTransfer(func(j *models.TransferJob) { j.LocalPath = "/tmp/none.txt" })
	_, err := newRunner(env).Upload(context.Background(), job, "Documents/none.txt", nil)
	require.Error(t, err)
	assert.Equal(t, models.CodeIOFailure, models.CodeOf(err))

	entries, err := env.Local.ReadDir("/tmp")
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestRunner_Download(t *testing.T) {
	env := testutil.NewEnv(t)
	data := bytes.Repeat([]byte("d"), 700)
	env.PublishRemote(t, "Documents/r.txt", data)

	rec := &snapshots{}
	job := testutil.CreateTestTransfer(func(j *models.TransferJob) { j.Direction = models.DirectionDownload })

	path, err := newRunner(env).Download(context.Background(), job, "Documents/r.txt", "/downloads", rec.record)
	require.NoError(t, err)
	assert.Equal(t, "/downloads/r.txt", path)

	got, err := util.ReadFile(env.Local, "/downloads/r.txt")
	require.NoError(t, err)
	assert.Equal(t, data, got)

	fractions := rec.fractions()
	require.NotEmpty(t, fractions)
	assertNonDecreasing(t, fractions)
}

func TestRunner_Download_ExistingDestination(t *testing.T) {
	env := testutil.NewEnv(t)
	env.PublishRemote(t, "Documents/r.txt", []byte("remote"))
	env.WriteLocal(t, "/downloads/r.txt", []byte("local"))

	before, err := env.Local.Stat("/downloads/r.txt")
	require.NoError(t, err)

	job := testutil.CreateTestTransfer(func(j *models.TransferJob) { j.Direction = models.DirectionDownload })
	path, err := newRunner(env).Download(context.Background(), job, "Documents/r.txt", "/downloads", nil)
	require.NoError(t, err)
	assert.Equal(t, "/downloads/r.txt", path)

	got, err := util.ReadFile(env.Local, "/downloads/r.txt")
	require.NoError(t, err)
	assert.Equal(t, []byte("local"), got)

	after, err := env.Local.Stat("/downloads/r.txt")
	require.NoError(t, err)
	assert.Equal(t, before.ModTime(), after.ModTime())

	// The platform was never asked to download
	item, err := env.Repo.GetItem("Documents/r.txt")
	require.NoError(t, err)
	assert.Equal(t, models.DownloadingStatusNotDownloaded, item.DownloadingStatus)
}

func TestRunner_Download_Unknown(t *testing.T) {
	env := testutil.NewEnv(t)

	job := testutil.CreateTestTransfer()
	_, err := newRunner(env).Download(context.Background(), job, "Documents/none.txt", "/downloads", nil)
	require.Error(t, err)
	assert.Equal(t, models.CodeNotFound, models.CodeOf(err))
}

// stubPlatform hands out scripted queries that never report completion.
type stubPlatform struct {
	setErr error
}

func (s *stubPlatform) IdentityToken() string { return "token" }

func (s *stubPlatform) SetUbiquitous(ctx context.Context, localPath, destination string) error {
	return s.setErr
}

func (s *stubPlatform) StartDownloading(ctx context.Context, relPath string) error { return nil }

func (s *stubPlatform) Forget(ctx context.Context, relPath string) error { return nil }

func (s *stubPlatform) NewQuery(models.Predicate, []models.SearchScope) interfaces.MetadataQuery {
	return testutil.NewScriptedQuery()
}

func newStubRunner(t *testing.T, p interfaces.Platform, timeout time.Duration) (*Runner, billy.Filesystem) {
	t.Helper()
	containerFS := memfs.New()
	require.NoError(t, containerFS.MkdirAll(container.DocumentsDir, 0755))
	local := memfs.New()
	require.NoError(t, util.WriteFile(local, "/tmp/a.txt", []byte("data"), 0644))

	return NewRunner(RunnerOptions{
		Platform:  p,
		Container: container.New(testutil.ContainerRoot, containerFS),
		Local:     local,
		Timeout:   func() time.Duration { return timeout },
	}), local
}

func TestRunner_Upload_Timeout(t *testing.T) {
	r, _ := newStubRunner(t, &stubPlatform{}, 20*time.Millisecond)

	job := testutil.CreateTestTransfer(func(j *models.TransferJob) { j.LocalPath = "/tmp/a.txt" })
	_, err := r.Upload(context.Background(), job, "Documents/a.txt", nil)
	require.Error(t, err)
	assert.Equal(t, models.CodeTimeout, models.CodeOf(err))
}

func TestRunner_Upload_HandOffFailure(t *testing.T) {
	r, local := newStubRunner(t, &stubPlatform{setErr: errors.New("daemon offline")}, time.Second)

	job := testutil.CreateTestTransfer(func(j *models.TransferJob) { j.LocalPath = "/tmp/a.txt" })
	_, err := r.Upload(context.Background(), job, "Documents/a.txt", nil)
	require.Error(t, err)
	assert.Equal(t, models.CodeIOFailure, models.CodeOf(err))
	assert.Contains(t, err.Error(), "daemon offline")

	entries, err := local.ReadDir("/tmp")
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}
