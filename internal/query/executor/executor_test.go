package executor

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arkilian/recordlayer/internal/keyexpr"
	"github.com/arkilian/recordlayer/internal/keyspace"
	"github.com/arkilian/recordlayer/internal/kv"
	"github.com/arkilian/recordlayer/internal/metadata"
	"github.com/arkilian/recordlayer/internal/query"
	"github.com/arkilian/recordlayer/internal/query/parser"
	"github.com/arkilian/recordlayer/internal/query/planner"
	"github.com/arkilian/recordlayer/internal/recordstore"
	"github.com/arkilian/recordlayer/internal/statistics"
	"github.com/arkilian/recordlayer/pkg/types"
)

func newEventStore(t *testing.T) *recordstore.Store {
	t.Helper()
	db, err := kv.Open(kv.Options{Path: filepath.Join(t.TempDir(), "events.db"), NoSync: true})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	md, err := metadata.NewBuilder().
		SetVersion(1).
		AddRecordType(metadata.NewRecordType("Event", keyexpr.Field("id"))).
		AddIndex(metadata.NewValueIndex("event_start", keyexpr.RangeBound("period", keyexpr.BoundLower, types.BoundaryHalfOpen), "Event")).
		AddIndex(metadata.NewValueIndex("event_end", keyexpr.RangeBound("period", keyexpr.BoundUpper, types.BoundaryHalfOpen), "Event")).
		AddIndex(metadata.NewValueIndex("event_title", keyexpr.Field("title"), "Event")).
		Build()
	require.NoError(t, err)

	store := recordstore.New(db, md, keyspace.NewSubspace([]byte{0x01}), nil)
	ctx := context.Background()
	for _, values := range []map[string]any{
		{"id": 1, "period": types.NewRange(0, 100), "title": "a"},
		{"id": 2, "period": types.NewRange(50, 150), "title": "b"},
		{"id": 3, "period": types.NewRange(200, 300), "title": "c"},
		{"id": 4, "title": "d"},
		{"id": 5, "period": types.NewRange(400, 500)},
	} {
		_, err := store.Save(ctx, types.NewMapRecord("Event", values))
		require.NoError(t, err)
	}
	return store
}

func run(t *testing.T, e *Executor, q string) *Result {
	t.Helper()
	parsed, err := parser.Parse(q)
	require.NoError(t, err)
	res, err := e.Run(context.Background(), parsed)
	require.NoError(t, err)
	return res
}

func ids(res *Result) []int64 {
	out := make([]int64, 0, len(res.Records))
	for _, r := range res.Records {
		out = append(out, r.Record.Values["id"].(int64))
	}
	return out
}

func TestRunOverlapsViaIntersection(t *testing.T) {
	e := New(newEventStore(t), Config{})

	res := run(t, e, "FROM Event WHERE period OVERLAPS [25, 125)")
	inter, ok := res.Plan.(*planner.Intersection)
	require.True(t, ok, "got %s", res.Plan.Explain())
	assert.Len(t, inter.Children, 2)
	assert.Equal(t, []int64{1, 2}, ids(res))
	assert.Equal(t, int64(2), res.Stats.RecordsReturned)
	assert.Equal(t, int64(2), res.Stats.RecordsLoaded)

	// touching endpoints do not overlap a half-open range
	assert.Equal(t, []int64{2}, ids(run(t, e, "FROM Event WHERE period OVERLAPS [100, 200)")))
	assert.Equal(t, []int64{2, 3}, ids(run(t, e, "FROM Event WHERE period OVERLAPS [100, 200]")))
	assert.Empty(t, ids(run(t, e, "FROM Event WHERE period OVERLAPS [150, 200)")))
}

func TestRunFilterOverIndex(t *testing.T) {
	e := New(newEventStore(t), Config{})

	res := run(t, e, "FROM Event WHERE period OVERLAPS [0, 1000) AND title = 'b'")
	assert.IsType(t, &planner.Filter{}, res.Plan)
	assert.Equal(t, []int64{2}, ids(res))

	res = run(t, e, "FROM Event WHERE title = 'c'")
	assert.IsType(t, &planner.IndexScan{}, res.Plan)
	assert.Equal(t, []int64{3}, ids(res))
	assert.Equal(t, int64(1), res.Stats.EntriesScanned)
}

func TestRunRechecksPlaceholderEntries(t *testing.T) {
	e := New(newEventStore(t), Config{})

	// event 5 has no title and is indexed under the empty placeholder
	res := run(t, e, "FROM Event WHERE title = ''")
	assert.IsType(t, &planner.IndexScan{}, res.Plan)
	assert.Empty(t, res.Records)
	assert.Equal(t, int64(1), res.Stats.RecordsLoaded)
}

func TestRunFullScan(t *testing.T) {
	e := New(newEventStore(t), Config{})

	res := run(t, e, "FROM Event WHERE id >= 4")
	filter, ok := res.Plan.(*planner.Filter)
	require.True(t, ok)
	assert.IsType(t, &planner.FullScan{}, filter.Child)
	assert.Equal(t, []int64{4, 5}, ids(res))
	assert.Equal(t, int64(3), res.Stats.RecordsFiltered)

	res = run(t, e, "FROM Event LIMIT 2")
	assert.Equal(t, []int64{1, 2}, ids(res))

	res = run(t, e, "FROM Event WHERE title = 'a' OR title = 'd'")
	assert.Equal(t, []int64{1, 4}, ids(res))
}

func TestRunWithStatistics(t *testing.T) {
	store := newEventStore(t)
	ctx := context.Background()
	stats := statistics.NewManager(store, keyspace.NewSubspace([]byte{0x02}), statistics.DefaultOptions())
	_, err := stats.CollectStatistics(ctx, "Event", 1.0)
	require.NoError(t, err)

	e := New(store, Config{Statistics: stats})
	res := run(t, e, "FROM Event WHERE period OVERLAPS [25, 125) AND title = 'b'")
	assert.Equal(t, []int64{2}, ids(res))
	assert.Positive(t, stats.Metrics().Snapshot().Estimates)
}

func TestRunRejectsMalformedQuery(t *testing.T) {
	e := New(newEventStore(t), Config{})
	_, err := e.Run(context.Background(), &query.Query{RecordType: "Event", Filter: &query.Or{}})
	assert.Error(t, err)
	_, err = e.Run(context.Background(), &query.Query{RecordType: "Missing"})
	assert.Error(t, err)
}

func TestCursorStopsOnCancel(t *testing.T) {
	store := newEventStore(t)
	e := New(store, Config{})
	plan, err := e.Plan(context.Background(), &query.Query{RecordType: "Event"})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	err = store.Database().ReadTransact(context.Background(), func(tx *kv.Transaction) error {
		cur, err := e.Execute(ctx, tx, plan)
		require.NoError(t, err)
		require.True(t, cur.Next())
		cancel()
		assert.False(t, cur.Next())
		return cur.Err()
	})
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestRunOverlapsWithTimestamps(t *testing.T) {
	db, err := kv.Open(kv.Options{Path: filepath.Join(t.TempDir(), "dated.db"), NoSync: true})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	md, err := metadata.NewBuilder().
		SetVersion(1).
		AddRecordType(metadata.NewRecordType("Event", keyexpr.Field("id"))).
		AddIndex(metadata.NewValueIndex("event_start", keyexpr.RangeBound("period", keyexpr.BoundLower, types.BoundaryHalfOpen), "Event")).
		AddIndex(metadata.NewValueIndex("event_end", keyexpr.RangeBound("period", keyexpr.BoundUpper, types.BoundaryHalfOpen), "Event")).
		Build()
	require.NoError(t, err)
	store := recordstore.New(db, md, keyspace.NewSubspace([]byte{0x01}), nil)

	day := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	ctx := context.Background()
	for id, period := range []types.Range{
		types.NewRange(day, day.Add(2*time.Hour)),
		types.NewRange(day.Add(time.Hour), day.Add(3*time.Hour)),
		types.NewRange(day.Add(24*time.Hour), day.Add(26*time.Hour)),
	} {
		_, err := store.Save(ctx, types.NewMapRecord("Event", map[string]any{"id": id + 1, "period": period}))
		require.NoError(t, err)
	}

	e := New(store, Config{})
	res := run(t, e, "FROM Event WHERE period OVERLAPS [TIMESTAMP '2024-05-01T01:30:00Z', TIMESTAMP '2024-05-01T04:00:00Z')")
	assert.IsType(t, &planner.Intersection{}, res.Plan)
	assert.Equal(t, []int64{1, 2}, ids(res))

	stored, ok := res.Records[0].Record.Values["period"].(types.Range)
	require.True(t, ok)
	assert.True(t, day.Equal(stored.Lower.(time.Time)))

	// a half-open period ending exactly at the query start does not overlap
	q := &query.Query{
		RecordType: "Event",
		Filter:     &query.Overlaps{Field: []string{"period"}, Range: types.NewRange(day.Add(3*time.Hour), day.Add(5*time.Hour))},
	}
	res, err = e.Run(ctx, q)
	require.NoError(t, err)
	assert.Empty(t, res.Records)
}
