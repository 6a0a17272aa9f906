package transfer

import (
	"context"
	"testing"

	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cloudstash/internal/testutil"
)

func TestLocalSizes(t *testing.T) {
	fs := memfs.New()
	require.NoError(t, util.WriteFile(fs, "/src/a", make([]byte, 10), 0644))
	require.NoError(t, util.WriteFile(fs, "/src/b", make([]byte, 3), 0644))

	sizes, err := LocalSizes(context.Background(), fs, []string{"/src/b", "/src/missing", "/src/a"}, 2)
	require.NoError(t, err)
	assert.Equal(t, []int64{3, 0, 10}, sizes)
}

func TestLocalSizes_Cancelled(t *testing.T) {
	fs := memfs.New()
	require.NoError(t, util.WriteFile(fs, "/src/a", make([]byte, 10), 0644))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := LocalSizes(ctx, fs, []string{"/src/a"}, 0)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRemoteItems(t *testing.T) {
	env := testutil.NewEnv(t)
	env.PublishRemote(t, "Documents/a.txt", make([]byte, 4))
	env.PublishRemote(t, "Documents/other/a.txt", make([]byte, 9))
	env.PublishRemote(t, "Documents/b.txt", make([]byte, 2))

	found, err := RemoteItems(context.Background(), env.Platform, []string{"Documents/a.txt", "Documents/b.txt", "Documents/c.txt"})
	require.NoError(t, err)

	require.Len(t, found, 2)
	assert.Equal(t, int64(4), found["Documents/a.txt"].SizeBytes)
	assert.Equal(t, int64(2), found["Documents/b.txt"].SizeBytes)
	assert.NotContains(t, found, "Documents/c.txt")
}

func TestRemoteItems_Empty(t *testing.T) {
	env := testutil.NewEnv(t)

	found, err := RemoteItems(context.Background(), env.Platform, nil)
	require.NoError(t, err)
	assert.Empty(t, found)
}
