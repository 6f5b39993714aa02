package recordstore

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	rlerrors "github.com/arkilian/recordlayer/internal/errors"
	"github.com/arkilian/recordlayer/internal/keyexpr"
	"github.com/arkilian/recordlayer/internal/keyspace"
	"github.com/arkilian/recordlayer/internal/kv"
	"github.com/arkilian/recordlayer/internal/metadata"
	"github.com/arkilian/recordlayer/pkg/types"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := kv.Open(kv.Options{Path: filepath.Join(t.TempDir(), "records.db"), NoSync: true})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	email := metadata.NewValueIndex("user_email", keyexpr.Field("email"), "User")
	email.Unique = true
	md, err := metadata.NewBuilder().
		SetVersion(1).
		AddRecordType(metadata.NewRecordType("User", keyexpr.Field("id"))).
		AddIndex(email).
		AddIndex(metadata.NewValueIndex("user_city", keyexpr.Nest("address", keyexpr.Field("city")), "User")).
		AddIndex(metadata.Index{Name: "users_per_city", Kind: metadata.Kind(metadata.IndexCount), Root: keyexpr.Nest("address", keyexpr.Field("city"))}).
		AddIndex(metadata.Index{Name: "age_sum", Kind: metadata.Kind(metadata.IndexSum), Root: keyexpr.Field("age")}).
		AddIndex(metadata.Index{Name: "age_max", Kind: metadata.Kind(metadata.IndexMax), Root: keyexpr.Field("age")}).
		AddIndex(metadata.Index{Name: "changes", Kind: metadata.Kind(metadata.IndexVersion), Root: keyexpr.Empty()}).
		AddIndex(metadata.Index{Name: "embedding", Kind: metadata.VectorKind(3, metadata.MetricCosine), Root: keyexpr.Field("embedding")}).
		Build()
	require.NoError(t, err)

	return New(db, md, keyspace.NewSubspace([]byte{0x01}), nil)
}

func user(id int, email, city string, age int) *types.MapRecord {
	return types.NewMapRecord("User", map[string]any{
		"id":      id,
		"email":   email,
		"age":     age,
		"address": map[string]any{"city": city},
	})
}

func indexEntries(t *testing.T, s *Store, tx *kv.Transaction, name string) []IndexEntry {
	t.Helper()
	idx, err := s.MetaData().Index(name)
	require.NoError(t, err)
	begin, end := s.IndexSubspace(name).Range()
	cur, err := s.ScanIndex(tx, idx, begin, end, kv.RangeOptions{})
	require.NoError(t, err)
	var out []IndexEntry
	for cur.Next() {
		out = append(out, cur.Entry())
	}
	require.NoError(t, cur.Err())
	return out
}

func rawCount(t *testing.T, s *Store, tx *kv.Transaction, name string) int {
	t.Helper()
	begin, end := s.IndexSubspace(name).Range()
	kvs, err := tx.GetRange(begin, end, kv.RangeOptions{}).All()
	require.NoError(t, err)
	return len(kvs)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	pk, err := s.Save(ctx, user(1, "a@x.io", "Porto", 30))
	require.NoError(t, err)
	assert.Equal(t, keyspace.Tuple{int64(1)}, pk)

	require.NoError(t, s.Database().ReadTransact(ctx, func(tx *kv.Transaction) error {
		stored, err := s.LoadRecord(tx, "User", pk)
		require.NoError(t, err)
		v, _ := stored.Record.Field("email")
		assert.Equal(t, "a@x.io", v)
		assert.Greater(t, stored.Size, 0)

		_, err = s.LoadRecord(tx, "User", keyspace.Tuple{int64(99)})
		assert.True(t, errors.Is(err, rlerrors.ErrNotFound))
		return nil
	}))
}

func TestSaveMaintainsIndexes(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.Save(ctx, user(1, "a@x.io", "Porto", 30))
	require.NoError(t, err)
	_, err = s.Save(ctx, user(2, "b@x.io", "Lisbon", 40))
	require.NoError(t, err)
	// update moves user 1 to Lisbon
	_, err = s.Save(ctx, user(1, "a@x.io", "Lisbon", 35))
	require.NoError(t, err)

	require.NoError(t, s.Database().ReadTransact(ctx, func(tx *kv.Transaction) error {
		cities := indexEntries(t, s, tx, "user_city")
		require.Len(t, cities, 2)
		for _, e := range cities {
			assert.Equal(t, keyspace.Tuple{"Lisbon"}, e.Key)
			assert.Equal(t, "User", e.RecordType)
		}

		n, ok, err := s.AggregateValue(tx, "users_per_city", keyspace.Tuple{"Lisbon"})
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, int64(2), n)

		n, _, err = s.AggregateValue(tx, "users_per_city", keyspace.Tuple{"Porto"})
		require.NoError(t, err)
		assert.Equal(t, int64(0), n)

		sum, _, err := s.AggregateValue(tx, "age_sum", keyspace.Tuple{})
		require.NoError(t, err)
		assert.Equal(t, int64(75), sum)

		max, _, err := s.AggregateValue(tx, "age_max", keyspace.Tuple{})
		require.NoError(t, err)
		assert.Equal(t, int64(40), max)

		assert.Equal(t, 2, rawCount(t, s, tx, "changes"))

		count, err := s.Count(tx, "User")
		require.NoError(t, err)
		assert.Equal(t, int64(2), count)
		return nil
	}))
}

func TestUniqueIndexRejectsDuplicates(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.Save(ctx, user(1, "a@x.io", "Porto", 30))
	require.NoError(t, err)

	_, err = s.Save(ctx, user(2, "a@x.io", "Porto", 31))
	require.Error(t, err)
	assert.True(t, errors.Is(err, rlerrors.ErrInvalidArgument))

	// re-saving the owner of the value is fine
	_, err = s.Save(ctx, user(1, "a@x.io", "Faro", 30))
	assert.NoError(t, err)
}

func TestDeleteRecord(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	pk, err := s.Save(ctx, user(1, "a@x.io", "Porto", 30))
	require.NoError(t, err)

	require.NoError(t, s.Database().Transact(ctx, func(tx *kv.Transaction) error {
		deleted, err := s.DeleteRecord(tx, "User", pk)
		require.NoError(t, err)
		assert.True(t, deleted)

		deleted, err = s.DeleteRecord(tx, "User", pk)
		require.NoError(t, err)
		assert.False(t, deleted)
		return nil
	}))

	require.NoError(t, s.Database().ReadTransact(ctx, func(tx *kv.Transaction) error {
		assert.Empty(t, indexEntries(t, s, tx, "user_email"))
		assert.Zero(t, rawCount(t, s, tx, "changes"))
		count, err := s.Count(tx, "User")
		require.NoError(t, err)
		assert.Equal(t, int64(0), count)
		return nil
	}))
}

func TestScanRecordsInPrimaryKeyOrder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	for _, id := range []int{3, 1, 2} {
		_, err := s.Save(ctx, user(id, "u"+string(rune('0'+id))+"@x.io", "Porto", 20))
		require.NoError(t, err)
	}

	require.NoError(t, s.Database().ReadTransact(ctx, func(tx *kv.Transaction) error {
		cur := s.ScanRecords(tx, "User", kv.RangeOptions{})
		var ids []any
		for cur.Next() {
			ids = append(ids, cur.Record().PrimaryKey[0])
		}
		require.NoError(t, cur.Err())
		assert.Equal(t, []any{int64(1), int64(2), int64(3)}, ids)
		return nil
	}))
}

func TestSaveRejectsUnknownType(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Save(context.Background(), types.NewMapRecord("Ghost", map[string]any{"id": 1}))
	assert.True(t, errors.Is(err, rlerrors.ErrNotFound))
}

func TestScanIndexNotReady(t *testing.T) {
	s := newTestStore(t)
	md, err := s.MetaData().ToBuilder().
		SetVersion(2).
		AddIndex(metadata.Index{Name: "pending", Kind: metadata.Kind(metadata.IndexValue), Root: keyexpr.Field("age"), State: metadata.StateWriteOnly}).
		Build()
	require.NoError(t, err)
	s.SetMetaData(md)

	idx, err := md.Index("pending")
	require.NoError(t, err)
	require.NoError(t, s.Database().ReadTransact(context.Background(), func(tx *kv.Transaction) error {
		_, err := s.ScanIndex(tx, idx, nil, nil, kv.RangeOptions{})
		assert.True(t, errors.Is(err, rlerrors.ErrIndexNotReady))
		return nil
	}))
}
