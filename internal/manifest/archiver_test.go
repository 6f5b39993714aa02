package manifest

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	rlerrors "github.com/arkilian/recordlayer/internal/errors"
	"github.com/arkilian/recordlayer/internal/keyexpr"
	"github.com/arkilian/recordlayer/internal/metadata"
	"github.com/arkilian/recordlayer/internal/storage"
)

func newArchiver(t *testing.T) (*Archiver, *storage.LocalStorage) {
	t.Helper()
	objects, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	return NewArchiver(objects, ""), objects
}

func TestArchiver_RoundTrip(t *testing.T) {
	a, _ := newArchiver(t)
	ctx := context.Background()
	md := mustBuild(t, userSchema(5))

	p, err := a.Archive(ctx, md)
	require.NoError(t, err)
	assert.Equal(t, "snapshots/v5.json.sz", p)

	// identical content archives again without error
	_, err = a.Archive(ctx, md)
	require.NoError(t, err)

	restored, err := a.Restore(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, md.String(), restored.String())
}

func TestArchiver_RejectsDifferentContentForVersion(t *testing.T) {
	a, _ := newArchiver(t)
	ctx := context.Background()

	_, err := a.Archive(ctx, mustBuild(t, userSchema(1)))
	require.NoError(t, err)
	_, err = a.Archive(ctx, mustBuild(t, userSchema(1).AddRecordType(metadata.NewRecordType("Order", keyexpr.Field("id")))))
	assert.True(t, errors.Is(err, rlerrors.ErrInvalidArgument))
}

func TestArchiver_RestoreErrors(t *testing.T) {
	a, objects := newArchiver(t)
	ctx := context.Background()

	_, err := a.Restore(ctx, 1)
	assert.True(t, errors.Is(err, rlerrors.ErrNotFound))

	require.NoError(t, objects.Put(ctx, "snapshots/v2.json.sz", []byte("not snappy")))
	_, err = a.Restore(ctx, 2)
	assert.True(t, errors.Is(err, rlerrors.ErrInternal))
}

func TestArchiver_VersionsIgnoresForeignObjects(t *testing.T) {
	a, objects := newArchiver(t)
	ctx := context.Background()

	for _, v := range []int{10, 2} {
		_, err := a.Archive(ctx, mustBuild(t, userSchema(v)))
		require.NoError(t, err)
	}
	require.NoError(t, objects.Put(ctx, "snapshots/README", []byte("x")))
	require.NoError(t, objects.Put(ctx, "snapshots/vX.json.sz", []byte("x")))

	versions, err := a.Versions(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 10}, versions)
}
