package bolt

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/twnesss/skunk/capture"
	"github.com/twnesss/skunk/model"

	"github.com/stretchr/testify/require"
)

func TestBlobStore(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "blobs", "blob.db")
	store, err := Open(path)
	require.NoError(t, err)

	content := []byte("hello world")
	hash := model.HashContent(content)
	stored, err := store.PutBlob(ctx, hash, content)
	require.NoError(t, err)
	require.True(t, stored)
	stored, err = store.PutBlob(ctx, hash, content)
	require.NoError(t, err)
	require.False(t, stored)

	_, err = store.PutBlob(ctx, hash, []byte("hello there"))
	require.True(t, errors.Is(err, capture.ErrHashCollision))

	has, err := store.HasBlob(ctx, hash)
	require.NoError(t, err)
	require.True(t, has)
	_, err = store.Blob(ctx, model.HashContent([]byte("missing")))
	require.ErrorIs(t, err, os.ErrNotExist)

	require.NoError(t, store.Close())
	store, err = Open(path)
	require.NoError(t, err)
	defer store.Close()
	blob, err := store.Blob(ctx, hash)
	require.NoError(t, err)
	require.Equal(t, content, blob)
}
