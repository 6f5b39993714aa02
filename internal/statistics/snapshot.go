package statistics

import (
	"context"

	rlerrors "github.com/arkilian/recordlayer/internal/errors"
	"github.com/arkilian/recordlayer/internal/keyexpr"
	"github.com/arkilian/recordlayer/internal/kv"
	"github.com/arkilian/recordlayer/internal/observability"
	"github.com/arkilian/recordlayer/internal/query"
	"github.com/arkilian/recordlayer/pkg/types"
)

// Snapshot is an immutable, in-memory view of the statistics relevant to one
// record type. It estimates selectivities without I/O.
type Snapshot struct {
	recordType string
	table      *TableStatistics

	// byColumn maps a column key to the fresh statistics of the first
	// readable index leading with it.
	byColumn map[string]*IndexStatistics
	indexes  map[string]*IndexStatistics

	defaults Defaults
	metrics  *observability.StatisticsMetrics
}

// Snapshot loads the statistics of a record type and its indexes. Missing or
// unreadable entries are tallied and left out; it never fails.
func (m *Manager) Snapshot(ctx context.Context, recordType string) *Snapshot {
	s := &Snapshot{
		recordType: recordType,
		byColumn:   make(map[string]*IndexStatistics),
		indexes:    make(map[string]*IndexStatistics),
		defaults:   m.opts.Defaults,
		metrics:    m.metrics,
	}
	md := m.store.MetaData()
	now := m.now()

	err := m.store.Database().ReadTransact(ctx, func(tx *kv.Transaction) error {
		table, err := m.readTable(tx, recordType)
		switch {
		case err == nil:
			s.table = table
		case rlerrors.GetCode(err) != rlerrors.CodeNotFound:
			m.metrics.RecordFallback("load_failed", err)
		}

		for _, idx := range md.IndexesForRecordType(recordType) {
			if !idx.Kind.Scannable() {
				continue
			}
			if !idx.Readable() {
				m.metrics.RecordFallback("index_not_ready", rlerrors.NewIndexNotReady(rlerrors.ErrCategoryStatistics, idx.Name, string(idx.State)))
				continue
			}
			st, err := m.readIndex(tx, idx.Name)
			if err != nil {
				if rlerrors.GetCode(err) != rlerrors.CodeNotFound {
					m.metrics.RecordFallback("load_failed", err)
				}
				continue
			}
			s.indexes[idx.Name] = st
			if !st.Fresh(now, m.opts.MaxAge) {
				m.metrics.RecordFallback("stale", nil)
				continue
			}
			if _, taken := s.byColumn[st.Column]; !taken {
				s.byColumn[st.Column] = st
			}
		}
		return nil
	})
	if err != nil {
		m.metrics.RecordFallback("load_failed", err)
	}
	return s
}

// EstimateSelectivity estimates the fraction of a type's records matching
// filter. It never fails; missing data falls back to defaults.
func (m *Manager) EstimateSelectivity(ctx context.Context, filter query.Component, recordType string) float64 {
	return m.Snapshot(ctx, recordType).Selectivity(filter)
}

// DefaultsOnly returns a snapshot without collected data whose estimates all
// come from d. Unlike a cold snapshot it still distinguishes operators.
func DefaultsOnly(recordType string, d Defaults) *Snapshot {
	return &Snapshot{
		recordType: recordType,
		table:      &TableStatistics{RecordType: recordType},
		byColumn:   make(map[string]*IndexStatistics),
		indexes:    make(map[string]*IndexStatistics),
		defaults:   d.orBuiltin(),
	}
}

// RecordType returns the record type the snapshot describes.
func (s *Snapshot) RecordType() string {
	return s.recordType
}

// Table returns the table statistics, or nil.
func (s *Snapshot) Table() *TableStatistics {
	return s.table
}

// Index returns the loaded statistics of an index, or nil.
func (s *Snapshot) Index(name string) *IndexStatistics {
	return s.indexes[name]
}

// Cold reports whether nothing has been collected for the record type.
func (s *Snapshot) Cold() bool {
	return s.table == nil && len(s.indexes) == 0
}

// Selectivity estimates the fraction of records matching c, in [0, 1]. A nil
// filter matches everything.
func (s *Snapshot) Selectivity(c query.Component) float64 {
	if s.metrics != nil {
		s.metrics.RecordEstimate()
	}
	if c == nil {
		return 1
	}
	if s.Cold() {
		s.fallback("cold_start")
		return s.defaults.ColdStart
	}
	return clamp(s.estimate(c))
}

// ColumnSelectivity estimates one comparison against a column key such as
// "period@lower".
func (s *Snapshot) ColumnSelectivity(key string, op query.Op, v any) float64 {
	if s.metrics != nil {
		s.metrics.RecordEstimate()
	}
	if s.Cold() {
		s.fallback("cold_start")
		return s.defaults.ColdStart
	}
	return clamp(s.leaf(key, op, v, nil))
}

func (s *Snapshot) estimate(c query.Component) float64 {
	switch n := c.(type) {
	case *query.And:
		sel := 1.0
		for _, child := range n.Children {
			sel *= s.estimate(child)
		}
		return clamp(sel)
	case *query.Or:
		// independent events: 1 - Π(1 - s)
		miss := 1.0
		for _, child := range n.Children {
			miss *= 1 - s.estimate(child)
		}
		return clamp(1 - miss)
	case *query.Not:
		return clamp(1 - s.estimate(n.Child))
	case *query.Overlaps:
		lowerOp, upperOp := query.OpLt, query.OpGt
		if n.Range.UpperInclusive() {
			lowerOp = query.OpLe
		}
		if st := s.byColumn[keyexpr.ColumnKey(n.Field, keyexpr.BoundUpper)]; st != nil && st.Boundary == types.BoundaryClosed {
			upperOp = query.OpGe
		}
		lower := s.leaf(keyexpr.ColumnKey(n.Field, keyexpr.BoundLower), lowerOp, n.Range.Upper, nil)
		upper := s.leaf(keyexpr.ColumnKey(n.Field, keyexpr.BoundUpper), upperOp, n.Range.Lower, nil)
		return clamp(lower * upper)
	case *query.FieldPredicate:
		return s.leaf(keyexpr.ColumnKey(n.Field, ""), n.Op, n.Value, n.Values)
	}
	return s.defaults.Equality
}

// histogram picks the fresh index histogram for key, else the table one.
func (s *Snapshot) histogram(key string) (*Histogram, float64) {
	if st := s.byColumn[key]; st != nil && !st.Histogram.Empty() {
		return st.Histogram, 0
	}
	if s.table != nil {
		if f := s.table.Fields[key]; f != nil && !f.Histogram.Empty() {
			return f.Histogram, f.NullFraction(s.table.SampledRows)
		}
	}
	return nil, 0
}

func (s *Snapshot) leaf(key string, op query.Op, v any, values []any) float64 {
	h, nulls := s.histogram(key)
	if h == nil {
		s.fallback("no_histogram")
		return s.defaultFor(op)
	}
	present := 1 - nulls
	switch op {
	case query.OpEq:
		return clamp(present * h.EstimateEquality(v))
	case query.OpNe:
		return clamp(present * (1 - h.EstimateEquality(v)))
	case query.OpIn:
		var sel float64
		seen := make([]any, 0, len(values))
		for _, candidate := range values {
			if containsValue(seen, candidate) {
				continue
			}
			seen = append(seen, candidate)
			sel += h.EstimateEquality(candidate)
		}
		return clamp(present * sel)
	case query.OpLt, query.OpLe, query.OpGt, query.OpGe:
		return clamp(present * h.EstimateRange(op, v))
	case query.OpIsNull:
		return nulls
	case query.OpIsNotNull:
		return present
	}
	return s.defaults.Equality
}

func (s *Snapshot) defaultFor(op query.Op) float64 {
	switch op {
	case query.OpLt, query.OpLe, query.OpGt, query.OpGe:
		return s.defaults.Range
	case query.OpNe, query.OpIsNotNull:
		return 1 - s.defaults.Equality
	default:
		return s.defaults.Equality
	}
}

func (s *Snapshot) fallback(reason string) {
	if s.metrics != nil {
		s.metrics.RecordFallback(reason, nil)
	}
}

func containsValue(vs []any, v any) bool {
	for _, x := range vs {
		if types.Comparable(x, v) && types.Equal(x, v) {
			return true
		}
	}
	return false
}
