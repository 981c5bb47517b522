package videocache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runBackendContract exercises the behavior every Backend must share.
func runBackendContract(t *testing.T, newBackend func(t *testing.T) Backend) {
	ctx := context.Background()
	cachedAt := time.Date(2024, 3, 5, 10, 0, 0, 123, time.UTC)

	t.Run("missing id", func(t *testing.T) {
		b := newBackend(t)
		_, err := b.Get(ctx, "nope")
		assert.ErrorIs(t, err, ErrNotFound)
		_, err = b.Stat(ctx, "nope")
		assert.ErrorIs(t, err, ErrNotFound)
		assert.NoError(t, b.Delete(ctx, "nope"))
	})

	t.Run("put get stat", func(t *testing.T) {
		b := newBackend(t)
		rec := &Record{ID: "promo/1", URL: "https://cdn.example.com/1.mp4", Size: 5, CachedAt: cachedAt, Blob: []byte("hello")}
		require.NoError(t, b.Put(ctx, rec))

		got, err := b.Get(ctx, "promo/1")
		require.NoError(t, err)
		assert.Equal(t, "promo/1", got.ID)
		assert.Equal(t, rec.URL, got.URL)
		assert.Equal(t, int64(5), got.Size)
		assert.True(t, cachedAt.Equal(got.CachedAt))
		assert.Equal(t, []byte("hello"), got.Blob)

		meta, err := b.Stat(ctx, "promo/1")
		require.NoError(t, err)
		assert.Nil(t, meta.Blob)
		assert.Equal(t, int64(5), meta.Size)
	})

	t.Run("put replaces", func(t *testing.T) {
		b := newBackend(t)
		require.NoError(t, b.Put(ctx, &Record{ID: "v", Size: 1, CachedAt: cachedAt, Blob: []byte("a")}))
		require.NoError(t, b.Put(ctx, &Record{ID: "v", Size: 2, CachedAt: cachedAt.Add(time.Second), Blob: []byte("bb")}))

		got, err := b.Get(ctx, "v")
		require.NoError(t, err)
		assert.Equal(t, []byte("bb"), got.Blob)
		list, err := b.List(ctx)
		require.NoError(t, err)
		assert.Len(t, list, 1)
	})

	t.Run("list delete clear", func(t *testing.T) {
		b := newBackend(t)
		for _, id := range []string{"b", "a", "c"} {
			require.NoError(t, b.Put(ctx, &Record{ID: id, Size: 3, CachedAt: cachedAt, Blob: []byte(id + id + id)}))
		}
		require.NoError(t, b.SetSchemaVersion(ctx, 7))

		list, err := b.List(ctx)
		require.NoError(t, err)
		require.Len(t, list, 3)
		assert.Equal(t, "a", list[0].ID)
		for _, r := range list {
			assert.Nil(t, r.Blob)
		}

		require.NoError(t, b.Delete(ctx, "b"))
		_, err = b.Stat(ctx, "b")
		assert.ErrorIs(t, err, ErrNotFound)

		require.NoError(t, b.Clear(ctx))
		list, err = b.List(ctx)
		require.NoError(t, err)
		assert.Empty(t, list)

		v, err := b.SchemaVersion(ctx)
		require.NoError(t, err)
		assert.Equal(t, 7, v)
	})

	t.Run("schema version unset", func(t *testing.T) {
		b := newBackend(t)
		v, err := b.SchemaVersion(ctx)
		require.NoError(t, err)
		assert.Zero(t, v)
	})
}

func TestMemoryBackend(t *testing.T) {
	runBackendContract(t, func(t *testing.T) Backend { return NewMemoryBackend() })
}

func TestFSBackend(t *testing.T) {
	runBackendContract(t, func(t *testing.T) Backend {
		b, err := NewFSBackend(t.TempDir())
		require.NoError(t, err)
		return b
	})
}

func TestFSBackend_PersistsAcrossInstances(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	first, err := NewFSBackend(dir)
	require.NoError(t, err)
	require.NoError(t, first.Put(ctx, &Record{ID: "v1", Size: 4, CachedAt: time.Now(), Blob: []byte("data")}))
	require.NoError(t, first.SetSchemaVersion(ctx, 1))

	second, err := NewFSBackend(dir)
	require.NoError(t, err)
	got, err := second.Get(ctx, "v1")
	require.NoError(t, err)
	assert.Equal(t, []byte("data"), got.Blob)
	v, err := second.SchemaVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, v)
}

func TestMemoryBackend_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	b := NewMemoryBackend()
	blob := []byte("abc")
	require.NoError(t, b.Put(ctx, &Record{ID: "v", Size: 3, Blob: blob}))
	blob[0] = 'x'

	got, err := b.Get(ctx, "v")
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), got.Blob)
	got.Blob[1] = 'y'

	again, err := b.Get(ctx, "v")
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), again.Blob)
}

func TestNewBackend(t *testing.T) {
	b, err := NewBackend(BackendConfig{Kind: KindFS, Dir: t.TempDir()})
	require.NoError(t, err)
	assert.IsType(t, &FSBackend{}, b)

	b, err = NewBackend(BackendConfig{Kind: KindMemory})
	require.NoError(t, err)
	assert.IsType(t, &MemoryBackend{}, b)

	_, err = NewBackend(BackendConfig{Kind: KindRedis})
	assert.Error(t, err)

	_, err = NewBackend(BackendConfig{Kind: "s3"})
	assert.Error(t, err)
}
