package recordstore

import (
	"fmt"

	rlerrors "github.com/arkilian/recordlayer/internal/errors"
	"github.com/arkilian/recordlayer/internal/keyspace"
	"github.com/arkilian/recordlayer/internal/kv"
	"github.com/arkilian/recordlayer/internal/metadata"
	"github.com/arkilian/recordlayer/pkg/types"
)

// indexKey evaluates the index root for rec.
func indexKey(idx *metadata.Index, rec types.Record) (keyspace.Tuple, error) {
	values, err := idx.Root.EvaluateChecked(rec)
	if err != nil {
		return nil, fmt.Errorf("recordstore: index %s: %w", idx.Name, err)
	}
	return keyspace.Tuple(values), nil
}

// splitAggregate separates the grouping columns from the aggregated value.
// Count indexes group by every column.
func splitAggregate(idx *metadata.Index, key keyspace.Tuple) (keyspace.Tuple, int64, error) {
	if idx.Kind.Type == metadata.IndexCount {
		return key, 1, nil
	}
	if len(key) == 0 {
		return nil, 0, rlerrors.NewInternalError(fmt.Sprintf("aggregate index %s has no value column", idx.Name), nil)
	}
	last := types.NormalizeValue(key[len(key)-1])
	var v int64
	switch n := last.(type) {
	case int64:
		v = n
	case float64:
		v = int64(n)
	case string:
		if n != types.EmptyPlaceholder {
			return nil, 0, rlerrors.NewInternalError(fmt.Sprintf("aggregate index %s needs a numeric value, got %q", idx.Name, n), nil)
		}
	default:
		return nil, 0, rlerrors.NewInternalError(fmt.Sprintf("aggregate index %s needs a numeric value, got %T", idx.Name, last), nil)
	}
	return key[:len(key)-1], v, nil
}

func (s *Store) addIndexEntries(tx *kv.Transaction, indexes []*metadata.Index, recordType string, pk keyspace.Tuple, rec types.Record) error {
	for _, idx := range indexes {
		if !idx.Writable() {
			continue
		}
		sub := s.IndexSubspace(idx.Name)
		switch {
		case idx.Kind.Scannable():
			key, err := indexKey(idx, rec)
			if err != nil {
				return err
			}
			if idx.Unique {
				if err := s.checkUnique(tx, idx, sub, key, pk); err != nil {
					return err
				}
			}
			entry, err := sub.Pack(append(key, pk...))
			if err != nil {
				return rlerrors.NewInvalidArgument("index %s: unencodable key: %v", idx.Name, err)
			}
			if err := tx.Set(entry, []byte(recordType)); err != nil {
				return err
			}

		case idx.Kind.Aggregate():
			key, err := indexKey(idx, rec)
			if err != nil {
				return err
			}
			group, v, err := splitAggregate(idx, key)
			if err != nil {
				return err
			}
			groupKey, err := sub.Pack(group)
			if err != nil {
				return rlerrors.NewInvalidArgument("index %s: unencodable group: %v", idx.Name, err)
			}
			switch idx.Kind.Type {
			case metadata.IndexCount, metadata.IndexSum:
				err = tx.Add(groupKey, v)
			case metadata.IndexMin:
				err = tx.Min(groupKey, v)
			case metadata.IndexMax:
				err = tx.Max(groupKey, v)
			}
			if err != nil {
				return err
			}

		case idx.Kind.Type == metadata.IndexVersion:
			if err := s.writeVersion(tx, sub, recordType, pk); err != nil {
				return err
			}
		}
		// vector and spatial entries are maintained by their own key encoders
	}
	return nil
}

// removeIndexEntries undoes addIndexEntries for the previous version of a
// record. Min and max aggregates keep their extreme values.
func (s *Store) removeIndexEntries(tx *kv.Transaction, indexes []*metadata.Index, recordType string, pk keyspace.Tuple, old types.Record) error {
	for _, idx := range indexes {
		if !idx.Writable() {
			continue
		}
		sub := s.IndexSubspace(idx.Name)
		switch {
		case idx.Kind.Scannable():
			key, err := indexKey(idx, old)
			if err != nil {
				// the old record predates this index's shape; nothing to clear
				continue
			}
			entry, err := sub.Pack(append(key, pk...))
			if err != nil {
				continue
			}
			if err := tx.Clear(entry); err != nil {
				return err
			}

		case idx.Kind.Type == metadata.IndexCount || idx.Kind.Type == metadata.IndexSum:
			key, err := indexKey(idx, old)
			if err != nil {
				continue
			}
			group, v, err := splitAggregate(idx, key)
			if err != nil {
				continue
			}
			groupKey, err := sub.Pack(group)
			if err != nil {
				continue
			}
			if err := tx.Add(groupKey, -v); err != nil {
				return err
			}

		case idx.Kind.Type == metadata.IndexVersion:
			if err := s.clearVersion(tx, sub, recordType, pk); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *Store) checkUnique(tx *kv.Transaction, idx *metadata.Index, sub keyspace.Subspace, key, pk keyspace.Tuple) error {
	begin, end, err := sub.TupleRange(key)
	if err != nil {
		return rlerrors.NewInvalidArgument("index %s: unencodable key: %v", idx.Name, err)
	}
	it := tx.GetRange(begin, end, kv.RangeOptions{Limit: 2})
	for it.Next() {
		tup, err := sub.Unpack(it.Key())
		if err != nil {
			return rlerrors.NewInternalError("recordstore: malformed index key", err)
		}
		other := tup[len(key):]
		if !tuplesEqual(other, pk) {
			return rlerrors.NewInvalidArgument("unique index %s already holds %v", idx.Name, []any(key)).
				WithDetails(map[string]interface{}{"index": idx.Name})
		}
	}
	return it.Err()
}

func (s *Store) writeVersion(tx *kv.Transaction, sub keyspace.Subspace, recordType string, pk keyspace.Tuple) error {
	if err := s.clearVersion(tx, sub, recordType, pk); err != nil {
		return err
	}
	if err := tx.Add(s.sequence, 1); err != nil {
		return err
	}
	raw, err := tx.Get(s.sequence)
	if err != nil {
		return err
	}
	seq := kv.DecodeInt64(raw)
	entry, err := sub.Pack(append(keyspace.Tuple{seq}, pk...))
	if err != nil {
		return err
	}
	if err := tx.Set(entry, []byte(recordType)); err != nil {
		return err
	}
	pointer, err := s.versions.Pack(append(keyspace.Tuple{recordType}, pk...))
	if err != nil {
		return err
	}
	return tx.Set(pointer, kv.EncodeInt64(seq))
}

func (s *Store) clearVersion(tx *kv.Transaction, sub keyspace.Subspace, recordType string, pk keyspace.Tuple) error {
	pointer, err := s.versions.Pack(append(keyspace.Tuple{recordType}, pk...))
	if err != nil {
		return err
	}
	raw, err := tx.Get(pointer)
	if err != nil || raw == nil {
		return err
	}
	entry, err := sub.Pack(append(keyspace.Tuple{kv.DecodeInt64(raw)}, pk...))
	if err != nil {
		return err
	}
	if err := tx.Clear(entry); err != nil {
		return err
	}
	return tx.Clear(pointer)
}

// AggregateValue reads the aggregate of an aggregate index for one group.
func (s *Store) AggregateValue(tx *kv.Transaction, indexName string, group keyspace.Tuple) (int64, bool, error) {
	idx, err := s.MetaData().Index(indexName)
	if err != nil {
		return 0, false, err
	}
	if !idx.Kind.Aggregate() {
		return 0, false, rlerrors.NewInvalidArgument("index %s is a %s index, not an aggregate", idx.Name, idx.Kind)
	}
	if !idx.Readable() {
		return 0, false, rlerrors.NewIndexNotReady(rlerrors.ErrCategoryQuery, idx.Name, string(idx.State))
	}
	key, err := s.IndexSubspace(indexName).Pack(group)
	if err != nil {
		return 0, false, rlerrors.NewInvalidArgument("index %s: unencodable group: %v", indexName, err)
	}
	raw, err := tx.Get(key)
	if err != nil {
		return 0, false, err
	}
	return kv.DecodeInt64(raw), raw != nil, nil
}

// IndexEntry is one entry of a value or rank index.
type IndexEntry struct {
	// Key holds the index columns.
	Key keyspace.Tuple

	PrimaryKey keyspace.Tuple
	RecordType string
}

// ScanIndex returns a cursor over index entries in [begin, end). The bounds
// are raw keys inside IndexSubspace(idx.Name).
func (s *Store) ScanIndex(tx *kv.Transaction, idx *metadata.Index, begin, end []byte, opts kv.RangeOptions) (*IndexCursor, error) {
	if !idx.Kind.Scannable() {
		return nil, rlerrors.NewInvalidArgument("index %s of kind %s cannot be scanned", idx.Name, idx.Kind)
	}
	if !idx.Readable() {
		return nil, rlerrors.NewIndexNotReady(rlerrors.ErrCategoryQuery, idx.Name, string(idx.State))
	}
	return &IndexCursor{
		it:      tx.GetRange(begin, end, opts),
		sub:     s.IndexSubspace(idx.Name),
		columns: idx.Root.ColumnCount(),
	}, nil
}

// IndexCursor iterates index entries lazily.
type IndexCursor struct {
	it      *kv.Iterator
	sub     keyspace.Subspace
	columns int
	current IndexEntry
	err     error
}

// Next advances to the next entry.
func (c *IndexCursor) Next() bool {
	if c.err != nil || !c.it.Next() {
		return false
	}
	tup, err := c.sub.Unpack(c.it.Key())
	if err != nil || len(tup) < c.columns {
		c.err = rlerrors.NewInternalError("recordstore: malformed index entry", err)
		return false
	}
	c.current = IndexEntry{
		Key:        tup[:c.columns],
		PrimaryKey: tup[c.columns:],
		RecordType: string(c.it.Value()),
	}
	return true
}

// Entry returns the current entry.
func (c *IndexCursor) Entry() IndexEntry {
	return c.current
}

// Err returns the error that stopped iteration.
func (c *IndexCursor) Err() error {
	if c.err != nil {
		return c.err
	}
	return c.it.Err()
}

func tuplesEqual(a, b keyspace.Tuple) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !types.Equal(a[i], b[i]) {
			return false
		}
	}
	return true
}
