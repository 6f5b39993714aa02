package statistics

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	rlerrors "github.com/arkilian/recordlayer/internal/errors"
	"github.com/arkilian/recordlayer/internal/keyexpr"
	"github.com/arkilian/recordlayer/internal/keyspace"
	"github.com/arkilian/recordlayer/internal/kv"
	"github.com/arkilian/recordlayer/internal/metadata"
	"github.com/arkilian/recordlayer/internal/query"
	"github.com/arkilian/recordlayer/internal/recordstore"
	"github.com/arkilian/recordlayer/pkg/types"
)

var colors = []string{"red", "red", "red", "red", "red", "blue", "green", "yellow", "black", "white"}

func newTestManager(t *testing.T) (*Manager, *recordstore.Store) {
	t.Helper()
	db, err := kv.Open(kv.Options{Path: filepath.Join(t.TempDir(), "stats.db"), NoSync: true})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	item := metadata.NewRecordType("Item", keyexpr.Field("id"))
	item.Fields = []types.FieldDescriptor{
		{Name: "id", Kind: types.FieldInt},
		{Name: "color", Kind: types.FieldString},
		{Name: "size", Kind: types.FieldInt},
	}
	pending := metadata.NewValueIndex("item_size", keyexpr.Field("size"), "Item")
	pending.State = metadata.StateWriteOnly

	md, err := metadata.NewBuilder().
		SetVersion(1).
		AddRecordType(item).
		AddRecordType(metadata.NewRecordType("Tag", keyexpr.Field("id"))).
		AddIndex(metadata.NewValueIndex("item_color", keyexpr.Field("color"), "Item")).
		AddIndex(pending).
		Build()
	require.NoError(t, err)

	store := recordstore.New(db, md, keyspace.NewSubspace([]byte{0x01}), nil)
	return NewManager(store, keyspace.NewSubspace([]byte{0x02}), DefaultOptions()), store
}

func saveItems(t *testing.T, store *recordstore.Store) {
	t.Helper()
	ctx := context.Background()
	for i, c := range colors {
		_, err := store.Save(ctx, types.NewMapRecord("Item", map[string]any{
			"id":    i + 1,
			"color": c,
			"size":  i + 1,
		}))
		require.NoError(t, err)
	}
}

func eq(field string, v any) *query.FieldPredicate {
	return &query.FieldPredicate{Field: []string{field}, Op: query.OpEq, Value: v}
}

func TestEstimateColdStart(t *testing.T) {
	m, store := newTestManager(t)
	saveItems(t, store)
	ctx := context.Background()

	assert.Equal(t, 0.5, m.EstimateSelectivity(ctx, eq("color", "red"), "Item"))
	assert.Equal(t, 1.0, m.EstimateSelectivity(ctx, nil, "Item"))
	assert.Equal(t, int64(1), m.Metrics().Snapshot().Fallbacks["cold_start"])

	_, err := m.TableStatistics(ctx, "Item")
	assert.True(t, errors.Is(err, rlerrors.ErrNotFound))
	_, err = m.IndexStatistics(ctx, "item_color")
	assert.True(t, errors.Is(err, rlerrors.ErrNotFound))
}

func TestEstimateFromTableStatistics(t *testing.T) {
	m, store := newTestManager(t)
	saveItems(t, store)
	ctx := context.Background()

	stats, err := m.CollectStatistics(ctx, "Item", 1.0)
	require.NoError(t, err)
	assert.Equal(t, int64(10), stats.SampledRows)
	assert.Equal(t, int64(10), stats.EstimatedRowCount)
	assert.Positive(t, stats.AvgPayloadBytes)
	assert.NotEmpty(t, stats.RunID)
	require.Contains(t, stats.Fields, "color")
	assert.Equal(t, int64(6), stats.Fields["color"].Distinct)
	assert.Equal(t, int64(10), stats.Fields["size"].NonNull)

	red := m.EstimateSelectivity(ctx, eq("color", "red"), "Item")
	assert.Greater(t, red, 0.4)
	assert.Less(t, red, 0.6)

	small := &query.FieldPredicate{Field: []string{"size"}, Op: query.OpLt, Value: 5.5}
	assert.InDelta(t, 0.5, m.EstimateSelectivity(ctx, small, "Item"), 1e-9)
	assert.InDelta(t, 0.25, m.EstimateSelectivity(ctx, &query.And{Children: []query.Component{eq("color", "red"), small}}, "Item"), 1e-9)
	assert.InDelta(t, 0.55, m.EstimateSelectivity(ctx, &query.Or{Children: []query.Component{eq("color", "red"), eq("color", "blue")}}, "Item"), 1e-9)
	assert.InDelta(t, 0.5, m.EstimateSelectivity(ctx, &query.Not{Child: eq("color", "red")}, "Item"), 1e-9)
	assert.InDelta(t, 0.6, m.EstimateSelectivity(ctx, &query.FieldPredicate{Field: []string{"color"}, Op: query.OpIn, Values: []any{"red", "blue", "red"}}, "Item"), 1e-9)
	assert.Zero(t, m.EstimateSelectivity(ctx, &query.FieldPredicate{Field: []string{"color"}, Op: query.OpIsNull}, "Item"))

	// fields without statistics use the defaults
	assert.Equal(t, 0.3, m.EstimateSelectivity(ctx, eq("weight", 3), "Item"))
	assert.Equal(t, 0.5, m.EstimateSelectivity(ctx, &query.FieldPredicate{Field: []string{"weight"}, Op: query.OpGe, Value: 3}, "Item"))
	assert.Positive(t, m.Metrics().Snapshot().Fallbacks["no_histogram"])
}

func TestEstimateFromIndexStatistics(t *testing.T) {
	m, store := newTestManager(t)
	saveItems(t, store)
	ctx := context.Background()

	stats, err := m.CollectIndexStatistics(ctx, "item_color", store.IndexSubspace("item_color"), 4, 100)
	require.NoError(t, err)
	assert.Equal(t, "color", stats.Column)
	assert.Equal(t, int64(10), stats.Entries)
	assert.Equal(t, int64(10), stats.SampledEntries)
	require.Len(t, stats.Histogram.Buckets, 4)

	red := m.EstimateSelectivity(ctx, eq("color", "red"), "Item")
	assert.InDelta(t, 0.45, red, 1e-9)

	loaded, err := m.IndexStatistics(ctx, "item_color")
	require.NoError(t, err)
	assert.Equal(t, stats.Histogram.Buckets, loaded.Histogram.Buckets)
	assert.Equal(t, stats.RunID, loaded.RunID)
	assert.Equal(t, 4, loaded.BucketCount)
	assert.True(t, stats.CollectedAt.Equal(loaded.CollectedAt))

	// recollecting with fewer buckets leaves no stale bucket keys
	_, err = m.CollectIndexStatistics(ctx, "item_color", store.IndexSubspace("item_color"), 2, 100)
	require.NoError(t, err)
	loaded, err = m.IndexStatistics(ctx, "item_color")
	require.NoError(t, err)
	assert.Len(t, loaded.Histogram.Buckets, 2)
}

func TestStaleIndexStatisticsFallBackToTable(t *testing.T) {
	m, store := newTestManager(t)
	saveItems(t, store)
	ctx := context.Background()

	_, err := m.CollectStatistics(ctx, "Item", 1.0)
	require.NoError(t, err)
	_, err = m.CollectIndexStatistics(ctx, "item_color", store.IndexSubspace("item_color"), 4, 100)
	require.NoError(t, err)
	assert.InDelta(t, 0.45, m.EstimateSelectivity(ctx, eq("color", "red"), "Item"), 1e-9)

	m.now = func() time.Time { return time.Now().Add(48 * time.Hour) }
	assert.InDelta(t, 0.5, m.EstimateSelectivity(ctx, eq("color", "red"), "Item"), 1e-9)
	assert.Equal(t, int64(1), m.Metrics().Snapshot().Fallbacks["stale"])
}

func TestCollectRejectsBadInput(t *testing.T) {
	m, store := newTestManager(t)
	ctx := context.Background()

	for _, r := range []float64{0, -0.1, 1.5} {
		_, err := m.CollectStatistics(ctx, "Item", r)
		assert.True(t, errors.Is(err, rlerrors.ErrInvalidArgument), "rate %v", r)
	}

	_, err := m.CollectStatistics(ctx, "Missing", 1.0)
	assert.True(t, errors.Is(err, rlerrors.ErrNotFound))

	_, err = m.CollectIndexStatistics(ctx, "item_size", store.IndexSubspace("item_size"), 4, 100)
	assert.True(t, errors.Is(err, rlerrors.ErrIndexNotReady))
	assert.Equal(t, rlerrors.ErrCategoryStatistics, rlerrors.GetCategory(err))

	_, err = m.CollectIndexStatistics(ctx, "item_color", store.IndexSubspace("item_color"), 0, 100)
	assert.True(t, errors.Is(err, rlerrors.ErrInvalidArgument))

	_, err = m.CollectIndexStatistics(ctx, "nope", store.IndexSubspace("nope"), 4, 100)
	assert.True(t, errors.Is(err, rlerrors.ErrNotFound))

	assert.Equal(t, int64(7), m.Metrics().Snapshot().CollectErrors)
}

func TestCollectSampled(t *testing.T) {
	m, store := newTestManager(t)
	ctx := context.Background()
	err := store.Database().Transact(ctx, func(tx *kv.Transaction) error {
		for i := 0; i < 400; i++ {
			rec := types.NewMapRecord("Item", map[string]any{"id": i, "color": fmt.Sprintf("c%d", i%7), "size": i})
			if _, err := store.SaveRecord(tx, rec); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)

	stats, err := m.CollectStatistics(ctx, "Item", 0.5)
	require.NoError(t, err)
	assert.Greater(t, stats.SampledRows, int64(120))
	assert.Less(t, stats.SampledRows, int64(280))
	assert.Equal(t, stats.SampledRows*2, stats.EstimatedRowCount)

	// sampling is a pure function of the primary key
	again, err := m.CollectStatistics(ctx, "Item", 0.5)
	require.NoError(t, err)
	assert.Equal(t, stats.SampledRows, again.SampledRows)
}

func TestCollectAll(t *testing.T) {
	m, store := newTestManager(t)
	saveItems(t, store)
	ctx := context.Background()
	_, err := store.Save(ctx, types.NewMapRecord("Tag", map[string]any{"id": "t1"}))
	require.NoError(t, err)

	out, err := m.CollectAll(ctx, []string{"Item", "Tag"}, 1.0)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, int64(10), out["Item"].SampledRows)
	assert.Equal(t, int64(1), out["Tag"].SampledRows)

	loaded, err := m.TableStatistics(ctx, "Tag")
	require.NoError(t, err)
	assert.Equal(t, out["Tag"].RunID, loaded.RunID)

	_, err = m.CollectAll(ctx, []string{"Item", "Missing"}, 1.0)
	assert.Error(t, err)
}
