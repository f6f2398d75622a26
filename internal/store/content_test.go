package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestContentStore(t *testing.T) *ContentStore {
	t.Helper()
	meta, _ := newTestMetadata(t)
	return NewContentStore(filepath.Join(t.TempDir(), "content"), meta)
}

func TestContentStore_PutAndGet(t *testing.T) {
	cs := newTestContentStore(t)
	ctx := context.Background()

	data := []byte("# Hello\n\nSome markdown.")
	id, err := cs.Put(ctx, data, "text/markdown")
	require.NoError(t, err)

	sum := sha256.Sum256(data)
	assert.Equal(t, hex.EncodeToString(sum[:]), id, "content id is the sha256 hex")

	got, err := cs.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, data, got)

	path, err := cs.Path(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, ".md", filepath.Ext(path))
}

func TestContentStore_DetectsMIMEWhenEmpty(t *testing.T) {
	cs := newTestContentStore(t)

	id, err := cs.Put(context.Background(), []byte("plain text here"), "")
	require.NoError(t, err)

	blob, err := cs.meta.GetBlob(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, blob)
	assert.Contains(t, blob.MIME, "text/plain")
}

func TestContentStore_DeduplicatesByHash(t *testing.T) {
	cs := newTestContentStore(t)
	ctx := context.Background()

	data := []byte("same bytes")
	id1, err := cs.Put(ctx, data, "text/plain")
	require.NoError(t, err)
	id2, err := cs.Put(ctx, data, "text/plain")
	require.NoError(t, err)

	assert.Equal(t, id1, id2)

	entries, err := os.ReadDir(cs.dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "one file per unique hash")
}

func TestContentStore_UnrefDeletesAtZero(t *testing.T) {
	cs := newTestContentStore(t)
	ctx := context.Background()

	id, err := cs.Put(ctx, []byte("refcounted"), "text/plain")
	require.NoError(t, err)
	path, err := cs.Path(ctx, id)
	require.NoError(t, err)

	require.NoError(t, cs.Ref(ctx, id))
	require.NoError(t, cs.Ref(ctx, id))

	require.NoError(t, cs.Unref(ctx, id))
	_, err = os.Stat(path)
	assert.NoError(t, err, "still referenced")

	require.NoError(t, cs.Unref(ctx, id))
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err), "deleted at zero refcount")

	_, err = cs.Get(ctx, id)
	assert.Error(t, err)
}

func TestContentStore_GetMissing(t *testing.T) {
	cs := newTestContentStore(t)
	_, err := cs.Get(context.Background(), "deadbeef")
	assert.Error(t, err)
}
