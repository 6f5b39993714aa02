package statistics

import (
	"encoding/json"
	"fmt"

	"github.com/golang/snappy"

	rlerrors "github.com/arkilian/recordlayer/internal/errors"
	"github.com/arkilian/recordlayer/internal/kv"
)

// Layout under the statistics subspace:
//
//	table/<type>               snappy JSON TableStatistics
//	index/<name>/meta          snappy JSON IndexStatistics (without buckets)
//	index/<name>/bucket/<i>    snappy JSON Bucket

func (m *Manager) tableKey(recordType string) []byte {
	return m.sub.MustSub("table", recordType).Bytes()
}

func (m *Manager) indexMetaKey(index string) []byte {
	return m.sub.MustSub("index", index, "meta").Bytes()
}

func (m *Manager) bucketKey(index string, i int) []byte {
	return m.sub.MustSub("index", index, "bucket", int64(i)).Bytes()
}

func encode(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("statistics: encode: %w", err)
	}
	return snappy.Encode(nil, raw), nil
}

func decode(data []byte, v any) error {
	raw, err := snappy.Decode(nil, data)
	if err != nil {
		return rlerrors.NewInternalError("statistics: corrupt payload", err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return rlerrors.NewInternalError("statistics: undecodable payload", err)
	}
	return nil
}

func (m *Manager) writeTable(tx *kv.Transaction, s *TableStatistics) error {
	payload, err := encode(s)
	if err != nil {
		return err
	}
	return tx.Set(m.tableKey(s.RecordType), payload)
}

func (m *Manager) readTable(tx *kv.Transaction, recordType string) (*TableStatistics, error) {
	raw, err := tx.Get(m.tableKey(recordType))
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, rlerrors.NewNotFound("table statistics", recordType)
	}
	var s TableStatistics
	if err := decode(raw, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// writeIndex replaces every key of the index's statistics.
func (m *Manager) writeIndex(tx *kv.Transaction, s *IndexStatistics) error {
	begin, end := m.sub.MustSub("index", s.Index).Range()
	if err := tx.ClearRange(begin, end); err != nil {
		return err
	}
	meta, err := encode(s)
	if err != nil {
		return err
	}
	if err := tx.Set(m.indexMetaKey(s.Index), meta); err != nil {
		return err
	}
	for i, b := range s.Histogram.Buckets {
		payload, err := encode(b)
		if err != nil {
			return err
		}
		if err := tx.Set(m.bucketKey(s.Index, i), payload); err != nil {
			return err
		}
	}
	return nil
}

func (m *Manager) readIndex(tx *kv.Transaction, index string) (*IndexStatistics, error) {
	raw, err := tx.Get(m.indexMetaKey(index))
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, rlerrors.NewNotFound("index statistics", index)
	}
	var s IndexStatistics
	if err := decode(raw, &s); err != nil {
		return nil, err
	}

	h := &Histogram{Total: s.SampledEntries}
	begin, end := m.sub.MustSub("index", index, "bucket").Range()
	it := tx.GetRange(begin, end, kv.RangeOptions{Snapshot: true})
	for it.Next() {
		var b Bucket
		if err := decode(it.Value(), &b); err != nil {
			return nil, err
		}
		h.Buckets = append(h.Buckets, b)
	}
	if err := it.Err(); err != nil {
		return nil, err
	}
	s.Histogram = h
	return &s, nil
}
