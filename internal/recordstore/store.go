// Package recordstore saves records into the key-value store and keeps their
// secondary indexes consistent with the active metadata snapshot.
package recordstore

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/golang/snappy"

	rlerrors "github.com/arkilian/recordlayer/internal/errors"
	"github.com/arkilian/recordlayer/internal/keyspace"
	"github.com/arkilian/recordlayer/internal/kv"
	"github.com/arkilian/recordlayer/internal/logging"
	"github.com/arkilian/recordlayer/internal/metadata"
	"github.com/arkilian/recordlayer/pkg/types"
)

// Store is a record store rooted at one subspace.
//
// Layout under the root:
//
//	r/<type>/<pk...>           snappy-compressed record payload
//	c/<type>                   record count (int64)
//	v/<type>/<pk...>           commit sequence of the record's last save
//	s                          commit sequence counter
//	i/<index>/<key...>/<pk...> value and rank index entries (value = record type)
//	i/<index>/<group...>       count, sum, min and max aggregates (int64)
//	b/<index>                  definition the index entries were built for
type Store struct {
	db       *kv.Database
	md       atomic.Pointer[metadata.MetaData]
	records  keyspace.Subspace
	counts   keyspace.Subspace
	versions keyspace.Subspace
	sequence []byte
	indexes  keyspace.Subspace
	builds   keyspace.Subspace
	logger   *logging.Logger

	activateMu sync.Mutex
}

// New creates a store over db rooted at root.
func New(db *kv.Database, md *metadata.MetaData, root keyspace.Subspace, logger *logging.Logger) *Store {
	s := &Store{
		db:       db,
		records:  root.MustSub("r"),
		counts:   root.MustSub("c"),
		versions: root.MustSub("v"),
		sequence: root.MustSub("s").Bytes(),
		indexes:  root.MustSub("i"),
		builds:   root.MustSub("b"),
		logger:   logging.OrNop(logger).WithComponent("recordstore"),
	}
	s.md.Store(md)
	return s
}

// Database returns the underlying store.
func (s *Store) Database() *kv.Database {
	return s.db
}

// MetaData returns the active metadata snapshot.
func (s *Store) MetaData() *metadata.MetaData {
	return s.md.Load()
}

// SetMetaData swaps in a new snapshot. Existing index entries are not rebuilt;
// use Activate when the snapshot may add or redefine indexes.
func (s *Store) SetMetaData(md *metadata.MetaData) {
	s.md.Store(md)
}

// IndexSubspace returns the subspace holding an index's entries.
func (s *Store) IndexSubspace(name string) keyspace.Subspace {
	return s.indexes.MustSub(name)
}

// StoredRecord is a record read back from the store.
type StoredRecord struct {
	RecordType string
	PrimaryKey keyspace.Tuple
	Record     *types.MapRecord

	// Size is the stored (compressed) payload size in bytes.
	Size int
}

// Save stores rec in its own transaction.
func (s *Store) Save(ctx context.Context, rec types.Record) (keyspace.Tuple, error) {
	var pk keyspace.Tuple
	err := s.db.Transact(ctx, func(tx *kv.Transaction) error {
		var err error
		pk, err = s.SaveRecord(tx, rec)
		return err
	})
	return pk, err
}

// SaveRecord writes rec, replacing any record with the same primary key, and
// updates every index that applies to its type. It returns the primary key.
func (s *Store) SaveRecord(tx *kv.Transaction, rec types.Record) (keyspace.Tuple, error) {
	md := s.MetaData()
	rt, err := md.RecordType(rec.RecordTypeName())
	if err != nil {
		return nil, err
	}
	pkValues, err := rt.PrimaryKey.EvaluateChecked(rec)
	if err != nil {
		return nil, fmt.Errorf("recordstore: primary key of %s: %w", rt.Name, err)
	}
	pk := keyspace.Tuple(pkValues)

	recKey, err := s.records.Pack(append(keyspace.Tuple{rt.Name}, pk...))
	if err != nil {
		return nil, rlerrors.NewInvalidArgument("record %s has an unencodable primary key: %v", rt.Name, err)
	}

	payload, err := types.MarshalRecord(rec)
	if err != nil {
		return nil, rlerrors.NewInvalidArgument("record %s cannot be encoded: %v", rt.Name, err)
	}

	existing, err := tx.Get(recKey)
	if err != nil {
		return nil, err
	}
	indexes := md.IndexesForRecordType(rt.Name)

	if existing != nil {
		old, err := decodePayload(existing)
		if err != nil {
			return nil, err
		}
		if err := s.removeIndexEntries(tx, indexes, rt.Name, pk, old); err != nil {
			return nil, err
		}
	} else if err := tx.Add(s.counts.MustSub(rt.Name).Bytes(), 1); err != nil {
		return nil, err
	}

	if err := tx.Set(recKey, snappy.Encode(nil, payload)); err != nil {
		return nil, err
	}
	if err := s.addIndexEntries(tx, indexes, rt.Name, pk, rec); err != nil {
		return nil, err
	}
	return pk, nil
}

// LoadRecord reads one record by primary key.
func (s *Store) LoadRecord(tx *kv.Transaction, recordType string, pk keyspace.Tuple) (*StoredRecord, error) {
	recKey, err := s.records.Pack(append(keyspace.Tuple{recordType}, pk...))
	if err != nil {
		return nil, rlerrors.NewInvalidArgument("invalid primary key for %s: %v", recordType, err)
	}
	raw, err := tx.Get(recKey)
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, rlerrors.NewNotFound("record", fmt.Sprintf("%s%v", recordType, []any(pk)))
	}
	rec, err := decodePayload(raw)
	if err != nil {
		return nil, err
	}
	return &StoredRecord{RecordType: recordType, PrimaryKey: pk, Record: rec, Size: len(raw)}, nil
}

// DeleteRecord removes a record and its index entries. It reports whether a
// record was present.
func (s *Store) DeleteRecord(tx *kv.Transaction, recordType string, pk keyspace.Tuple) (bool, error) {
	md := s.MetaData()
	if _, err := md.RecordType(recordType); err != nil {
		return false, err
	}
	stored, err := s.LoadRecord(tx, recordType, pk)
	if err != nil {
		if rlerrors.GetCode(err) == rlerrors.CodeNotFound {
			return false, nil
		}
		return false, err
	}
	if err := s.removeIndexEntries(tx, md.IndexesForRecordType(recordType), recordType, pk, stored.Record); err != nil {
		return false, err
	}
	recKey, _ := s.records.Pack(append(keyspace.Tuple{recordType}, pk...))
	if err := tx.Clear(recKey); err != nil {
		return false, err
	}
	if err := tx.Add(s.counts.MustSub(recordType).Bytes(), -1); err != nil {
		return false, err
	}
	return true, nil
}

// Count returns the number of stored records of a type.
func (s *Store) Count(tx *kv.Transaction, recordType string) (int64, error) {
	raw, err := tx.Get(s.counts.MustSub(recordType).Bytes())
	if err != nil {
		return 0, err
	}
	return kv.DecodeInt64(raw), nil
}

// ScanRecords returns a cursor over every record of a type in primary-key order.
func (s *Store) ScanRecords(tx *kv.Transaction, recordType string, opts kv.RangeOptions) *RecordCursor {
	sub := s.records.MustSub(recordType)
	begin, end := sub.Range()
	return &RecordCursor{it: tx.GetRange(begin, end, opts), sub: sub, recordType: recordType}
}

func decodePayload(raw []byte) (*types.MapRecord, error) {
	payload, err := snappy.Decode(nil, raw)
	if err != nil {
		return nil, rlerrors.NewInternalError("recordstore: corrupt record payload", err)
	}
	rec, err := types.UnmarshalRecord(payload)
	if err != nil {
		return nil, rlerrors.NewInternalError("recordstore: undecodable record payload", err)
	}
	return rec, nil
}

// RecordCursor iterates stored records lazily.
type RecordCursor struct {
	it         *kv.Iterator
	sub        keyspace.Subspace
	recordType string
	current    StoredRecord
	err        error
}

// Next advances to the next record.
func (c *RecordCursor) Next() bool {
	if c.err != nil || !c.it.Next() {
		return false
	}
	pk, err := c.sub.Unpack(c.it.Key())
	if err != nil {
		c.err = rlerrors.NewInternalError("recordstore: malformed record key", err)
		return false
	}
	rec, err := decodePayload(c.it.Value())
	if err != nil {
		c.err = err
		return false
	}
	c.current = StoredRecord{RecordType: c.recordType, PrimaryKey: pk, Record: rec, Size: len(c.it.Value())}
	return true
}

// Record returns the current record.
func (c *RecordCursor) Record() StoredRecord {
	return c.current
}

// Err returns the error that stopped iteration.
func (c *RecordCursor) Err() error {
	if c.err != nil {
		return c.err
	}
	return c.it.Err()
}
