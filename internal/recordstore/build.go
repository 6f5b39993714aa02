package recordstore

import (
	"bytes"
	"context"
	"encoding/json"

	rlerrors "github.com/arkilian/recordlayer/internal/errors"
	"github.com/arkilian/recordlayer/internal/keyexpr"
	"github.com/arkilian/recordlayer/internal/keyspace"
	"github.com/arkilian/recordlayer/internal/kv"
	"github.com/arkilian/recordlayer/internal/metadata"
)

// indexDefinition is the part of an index that decides what its entries look
// like. A change to any of it invalidates the stored entries.
type indexDefinition struct {
	Kind        metadata.IndexKind `json:"kind"`
	Root        keyexpr.Expression `json:"root"`
	RecordTypes []string           `json:"record_types,omitempty"`
}

func definitionOf(idx *metadata.Index) ([]byte, error) {
	return json.Marshal(indexDefinition{Kind: idx.Kind, Root: idx.Root, RecordTypes: idx.RecordTypes})
}

// Activate makes md the active snapshot. Indexes whose stored entries were not
// built for their current definition are rebuilt from the stored records
// first. During the rebuild they are write-only: saves maintain them and the
// planner skips them. Entries of indexes md no longer maintains are cleared.
// It returns the names of the rebuilt indexes.
//
// When the rebuild fails the rebuilt indexes stay write-only; the next
// Activate retries them.
func (s *Store) Activate(ctx context.Context, md *metadata.MetaData) ([]string, error) {
	s.activateMu.Lock()
	defer s.activateMu.Unlock()

	stale, dropped, err := s.staleIndexes(ctx, md)
	if err != nil {
		return nil, err
	}
	if len(stale) == 0 && len(dropped) == 0 {
		s.SetMetaData(md)
		return nil, nil
	}

	staged, err := md.WithIndexState(metadata.StateWriteOnly, stale...)
	if err != nil {
		return nil, err
	}
	s.SetMetaData(staged)

	err = s.db.Transact(ctx, func(tx *kv.Transaction) error {
		for _, name := range dropped {
			if err := s.clearIndex(tx, name); err != nil {
				return err
			}
		}
		for _, name := range stale {
			idx, err := md.Index(name)
			if err != nil {
				return err
			}
			if err := s.rebuildIndex(tx, md, idx); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		s.logger.Error("index build failed", "version", md.Version(), "indexes", stale, "error", err)
		return nil, err
	}

	s.SetMetaData(md)
	s.logger.Info("indexes built", "version", md.Version(), "rebuilt", stale, "cleared", dropped)
	return stale, nil
}

// staleIndexes compares md with the build markers. stale lists maintained
// indexes whose marker is missing or differs; dropped lists markers of indexes
// md removed or disabled.
func (s *Store) staleIndexes(ctx context.Context, md *metadata.MetaData) (stale, dropped []string, err error) {
	err = s.db.ReadTransact(ctx, func(tx *kv.Transaction) error {
		for _, idx := range md.Indexes() {
			if !idx.Writable() {
				continue
			}
			want, err := definitionOf(idx)
			if err != nil {
				return rlerrors.NewInternalError("recordstore: index definition", err)
			}
			key, err := s.builds.Pack(keyspace.Tuple{idx.Name})
			if err != nil {
				return rlerrors.NewInvalidArgument("index %s: unencodable name: %v", idx.Name, err)
			}
			have, err := tx.Get(key)
			if err != nil {
				return err
			}
			if !bytes.Equal(have, want) {
				stale = append(stale, idx.Name)
			}
		}

		begin, end := s.builds.Range()
		it := tx.GetRange(begin, end, kv.RangeOptions{})
		for it.Next() {
			tup, err := s.builds.Unpack(it.Key())
			if err != nil || len(tup) != 1 {
				return rlerrors.NewInternalError("recordstore: malformed build marker", err)
			}
			name, _ := tup[0].(string)
			if idx, err := md.Index(name); err != nil || !idx.Writable() {
				dropped = append(dropped, name)
			}
		}
		return it.Err()
	})
	return stale, dropped, err
}

func (s *Store) clearIndex(tx *kv.Transaction, name string) error {
	begin, end := s.IndexSubspace(name).Range()
	if err := tx.ClearRange(begin, end); err != nil {
		return err
	}
	key, err := s.builds.Pack(keyspace.Tuple{name})
	if err != nil {
		return err
	}
	return tx.Clear(key)
}

// rebuildIndex replaces every entry of idx with entries computed from the
// stored records of its owning types.
func (s *Store) rebuildIndex(tx *kv.Transaction, md *metadata.MetaData, idx *metadata.Index) error {
	if err := s.clearIndex(tx, idx.Name); err != nil {
		return err
	}

	owners := idx.RecordTypes
	if idx.IsUniversal() {
		for _, rt := range md.RecordTypes() {
			owners = append(owners, rt.Name)
		}
	}
	single := []*metadata.Index{idx}
	for _, recordType := range owners {
		// drain before writing; the cursor cannot outlive writes to the bucket
		var records []StoredRecord
		cur := s.ScanRecords(tx, recordType, kv.RangeOptions{})
		for cur.Next() {
			records = append(records, cur.Record())
		}
		if err := cur.Err(); err != nil {
			return err
		}
		for _, rec := range records {
			if err := s.addIndexEntries(tx, single, recordType, rec.PrimaryKey, rec.Record); err != nil {
				return err
			}
		}
	}

	def, err := definitionOf(idx)
	if err != nil {
		return rlerrors.NewInternalError("recordstore: index definition", err)
	}
	key, err := s.builds.Pack(keyspace.Tuple{idx.Name})
	if err != nil {
		return err
	}
	return tx.Set(key, def)
}
