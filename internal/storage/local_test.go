package storage

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalStorage_PutGetDelete(t *testing.T) {
	store, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "snapshots/v1.json.sz", []byte("one")))

	exists, err := store.Exists(ctx, "snapshots/v1.json.sz")
	require.NoError(t, err)
	assert.True(t, exists)

	data, err := store.Get(ctx, "snapshots/v1.json.sz")
	require.NoError(t, err)
	assert.Equal(t, "one", string(data))

	// Put replaces
	require.NoError(t, store.Put(ctx, "snapshots/v1.json.sz", []byte("uno")))
	data, err = store.Get(ctx, "snapshots/v1.json.sz")
	require.NoError(t, err)
	assert.Equal(t, "uno", string(data))

	require.NoError(t, store.Delete(ctx, "snapshots/v1.json.sz"))
	exists, err = store.Exists(ctx, "snapshots/v1.json.sz")
	require.NoError(t, err)
	assert.False(t, exists)

	// deleting twice is fine
	assert.NoError(t, store.Delete(ctx, "snapshots/v1.json.sz"))
}

func TestLocalStorage_PutIfAbsent(t *testing.T) {
	store, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, store.PutIfAbsent(ctx, "a/b", []byte("first")))
	err = store.PutIfAbsent(ctx, "a/b", []byte("second"))
	assert.True(t, errors.Is(err, ErrPreconditionFailed))

	data, err := store.Get(ctx, "a/b")
	require.NoError(t, err)
	assert.Equal(t, "first", string(data))
}

func TestLocalStorage_GetNotFound(t *testing.T) {
	store, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	_, err = store.Get(context.Background(), "missing")
	assert.True(t, errors.Is(err, ErrObjectNotFound))
}

func TestLocalStorage_ListObjects(t *testing.T) {
	store, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	for _, p := range []string{"snapshots/v2.json.sz", "snapshots/v1.json.sz", "other/x"} {
		require.NoError(t, store.Put(ctx, p, []byte(p)))
	}

	objects, err := store.ListObjects(ctx, "snapshots")
	require.NoError(t, err)
	assert.Equal(t, []string{"snapshots/v1.json.sz", "snapshots/v2.json.sz"}, objects)

	objects, err = store.ListObjects(ctx, "nothing")
	require.NoError(t, err)
	assert.Empty(t, objects)
}

func TestLocalStorage_CancelledContext(t *testing.T) {
	store, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, store.Put(ctx, "x", nil), context.Canceled)
	_, err = store.Get(ctx, "x")
	assert.ErrorIs(t, err, context.Canceled)
}
