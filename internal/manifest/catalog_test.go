package manifest

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	rlerrors "github.com/arkilian/recordlayer/internal/errors"
	"github.com/arkilian/recordlayer/internal/evolution"
	"github.com/arkilian/recordlayer/internal/keyexpr"
	"github.com/arkilian/recordlayer/internal/metadata"
	"github.com/arkilian/recordlayer/internal/storage"
)

func newTestCatalog(t *testing.T, opts Options) *SQLiteCatalog {
	t.Helper()
	c, err := NewCatalog(filepath.Join(t.TempDir(), "manifest.db"), opts)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func userSchema(version int) *metadata.Builder {
	return metadata.NewBuilder().
		SetVersion(version).
		AddRecordType(metadata.NewRecordType("User", keyexpr.Field("id"))).
		AddIndex(metadata.NewValueIndex("user_email", keyexpr.Field("email"), "User")).
		AddIndex(metadata.NewValueIndex("user_name", keyexpr.Field("name"), "User"))
}

func mustBuild(t *testing.T, b *metadata.Builder) *metadata.MetaData {
	t.Helper()
	md, err := b.Build()
	require.NoError(t, err)
	return md
}

func TestCatalog_AdoptFirstAndEvolve(t *testing.T) {
	c := newTestCatalog(t, Options{})
	ctx := context.Background()

	_, err := c.Latest(ctx)
	assert.True(t, errors.Is(err, rlerrors.ErrNotFound))

	v1 := mustBuild(t, userSchema(1))
	a, err := c.Adopt(ctx, v1, evolution.Options{})
	require.NoError(t, err)
	assert.Equal(t, 0, a.PreviousVersion)
	assert.Equal(t, 1, a.Version)

	v2 := mustBuild(t, userSchema(2).AddRecordType(metadata.NewRecordType("Order", keyexpr.Field("id"))))
	a, err = c.Adopt(ctx, v2, evolution.Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, a.PreviousVersion)
	assert.False(t, a.Unchanged)

	latest, err := c.Latest(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, latest.Version)
	assert.True(t, latest.MetaData.HasRecordType("Order"))
	assert.Equal(t, 2, latest.RecordTypes)
	assert.Equal(t, 2, latest.Indexes)

	old, err := c.Get(ctx, 1)
	require.NoError(t, err)
	assert.False(t, old.MetaData.HasRecordType("Order"))

	_, err = c.Get(ctx, 7)
	assert.True(t, errors.Is(err, rlerrors.ErrNotFound))

	versions, err := c.ListVersions(ctx)
	require.NoError(t, err)
	require.Len(t, versions, 2)
	assert.Equal(t, 1, versions[0].Version)
	assert.Equal(t, 2, versions[1].Version)
}

func TestCatalog_AdoptIsIdempotent(t *testing.T) {
	c := newTestCatalog(t, Options{})
	ctx := context.Background()

	_, err := c.Adopt(ctx, mustBuild(t, userSchema(1)), evolution.Options{})
	require.NoError(t, err)
	a, err := c.Adopt(ctx, mustBuild(t, userSchema(1)), evolution.Options{})
	require.NoError(t, err)
	assert.True(t, a.Unchanged)

	// same version, different content
	_, err = c.Adopt(ctx, mustBuild(t, userSchema(1).AddRecordType(metadata.NewRecordType("X", keyexpr.Field("id")))), evolution.Options{})
	assert.True(t, errors.Is(err, rlerrors.ErrInvalidArgument))
}

func TestCatalog_RejectsUnsafeEvolution(t *testing.T) {
	c := newTestCatalog(t, Options{})
	ctx := context.Background()
	_, err := c.Adopt(ctx, mustBuild(t, userSchema(3)), evolution.Options{})
	require.NoError(t, err)

	// dropping an index without a tombstone
	dropped := mustBuild(t, metadata.NewBuilder().
		SetVersion(4).
		AddRecordType(metadata.NewRecordType("User", keyexpr.Field("id"))).
		AddIndex(metadata.NewValueIndex("user_email", keyexpr.Field("email"), "User")))
	_, err = c.Adopt(ctx, dropped, evolution.Options{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, rlerrors.ErrEvolutionValidationFailed))
	assert.Equal(t, rlerrors.ErrCategoryEvolution, rlerrors.GetCategory(err))

	// version going backwards
	_, err = c.Adopt(ctx, mustBuild(t, userSchema(2)), evolution.Options{})
	assert.True(t, errors.Is(err, rlerrors.ErrVersionDecreased))

	latest, err := c.Latest(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, latest.Version)

	res, err := c.Check(ctx, dropped, evolution.Options{})
	require.NoError(t, err)
	assert.False(t, res.Valid)
	assert.Len(t, res.ByKind(evolution.IndexRemovedWithoutFormer), 1)
}

func TestCatalog_CheckOnEmptyCatalog(t *testing.T) {
	c := newTestCatalog(t, Options{})
	res, err := c.Check(context.Background(), mustBuild(t, userSchema(1)), evolution.Options{})
	require.NoError(t, err)
	assert.True(t, res.Valid)

	_, err = c.Check(context.Background(), nil, evolution.Options{})
	assert.Error(t, err)
	_, err = c.Adopt(context.Background(), nil, evolution.Options{})
	assert.Error(t, err)
}

func TestCatalog_TombstonesArePermanent(t *testing.T) {
	c := newTestCatalog(t, Options{})
	ctx := context.Background()
	fixed := time.Unix(1_700_000_000, 0)
	c.now = func() time.Time { return fixed }

	v1 := mustBuild(t, userSchema(1))
	_, err := c.Adopt(ctx, v1, evolution.Options{})
	require.NoError(t, err)

	v2, err := v1.RemoveIndexAsFormer("user_name", 1, 2)
	require.NoError(t, err)
	_, err = c.Adopt(ctx, v2, evolution.Options{})
	require.NoError(t, err)

	formers, err := c.FormerIndexes(ctx)
	require.NoError(t, err)
	require.Len(t, formers, 1)
	assert.Equal(t, "user_name", formers[0].Name)
	assert.Equal(t, 1, formers[0].AddedVersion)
	assert.Equal(t, 2, formers[0].RemovedVersion)
	assert.Equal(t, fixed, formers[0].RecordedAt)

	// a snapshot that forgot the tombstone and reuses the name
	reuse := mustBuild(t, userSchema(3))
	_, err = c.Adopt(ctx, reuse, evolution.Options{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, rlerrors.ErrEvolutionValidationFailed))

	// adopting v2 again keeps a single tombstone row
	a, err := c.Adopt(ctx, v2, evolution.Options{})
	require.NoError(t, err)
	assert.True(t, a.Unchanged)
	formers, err = c.FormerIndexes(ctx)
	require.NoError(t, err)
	assert.Len(t, formers, 1)
}

func TestCatalog_ReopenKeepsHistory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "manifest.db")
	ctx := context.Background()

	c, err := NewCatalog(path, Options{})
	require.NoError(t, err)
	_, err = c.Adopt(ctx, mustBuild(t, userSchema(1)), evolution.Options{})
	require.NoError(t, err)
	require.NoError(t, c.Close())

	c, err = NewCatalog(path, Options{})
	require.NoError(t, err)
	defer c.Close()
	latest, err := c.Latest(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, latest.Version)
	assert.NotNil(t, latest.MetaData.IndexesForRecordType("User"))
}

func TestCatalog_ArchivesAdoptedSnapshots(t *testing.T) {
	objects, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	archiver := NewArchiver(objects, "prod")
	c := newTestCatalog(t, Options{Archiver: archiver})
	ctx := context.Background()

	a, err := c.Adopt(ctx, mustBuild(t, userSchema(1)), evolution.Options{})
	require.NoError(t, err)
	assert.Equal(t, "prod/snapshots/v1.json.sz", a.ArchivePath)

	_, err = c.Adopt(ctx, mustBuild(t, userSchema(2)), evolution.Options{})
	require.NoError(t, err)

	versions, err := archiver.Versions(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, versions)

	restored, err := archiver.Restore(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, restored.Version())
	assert.Len(t, restored.Indexes(), 2)
}
