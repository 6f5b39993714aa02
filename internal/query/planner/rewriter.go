package planner

import (
	"github.com/arkilian/recordlayer/internal/keyexpr"
	"github.com/arkilian/recordlayer/internal/metadata"
	"github.com/arkilian/recordlayer/internal/query"
	"github.com/arkilian/recordlayer/pkg/types"
)

// rewriteOverlaps turns overlaps(field, r) into two boundary conditions,
//
//	field.lower <  r.upper   (<= when r is closed)
//	field.upper >  r.lower   (>= when the indexed ranges are closed)
//
// served by indexes whose leading column is the matching range boundary.
// With both indexes the overlap is proven by their intersection; with one,
// the overlap itself stays residual.
func rewriteOverlaps(recordType string, pos int, o *query.Overlaps, indexes []*metadata.Index, est Estimator) *accessPath {
	lowerKey := keyexpr.ColumnKey(o.Field, keyexpr.BoundLower)
	upperKey := keyexpr.ColumnKey(o.Field, keyexpr.BoundUpper)

	var (
		lowerIdx, upperIdx *metadata.Index
		upperBoundary      types.BoundaryKind
	)
	for _, idx := range indexes {
		cols := idx.Root.Columns()
		if len(cols) == 0 || cols[0].Kind != keyexpr.KindRange {
			continue
		}
		switch cols[0].Key() {
		case lowerKey:
			if lowerIdx == nil {
				lowerIdx = idx
			}
		case upperKey:
			if upperIdx == nil {
				upperIdx = idx
				upperBoundary = cols[0].Boundary
			}
		}
	}

	lowerOp, upperOp := query.OpLt, query.OpGt
	if o.Range.UpperInclusive() {
		lowerOp = query.OpLe
	}
	if upperBoundary == types.BoundaryClosed {
		upperOp = query.OpGe
	}

	var lowerScan, upperScan *IndexScan
	if lowerIdx != nil {
		lowerScan = &IndexScan{
			RecordType:  recordType,
			Index:       lowerIdx,
			Bounds:      ScanBounds{High: &Bound{Value: types.NormalizeValue(o.Range.Upper), Inclusive: lowerOp == query.OpLe}},
			Selectivity: columnSelectivity(est, lowerKey, lowerOp, o.Range.Upper, o),
		}
	}
	if upperIdx != nil {
		upperScan = &IndexScan{
			RecordType:  recordType,
			Index:       upperIdx,
			Bounds:      ScanBounds{Low: &Bound{Value: types.NormalizeValue(o.Range.Lower), Inclusive: upperOp == query.OpGe}},
			Selectivity: columnSelectivity(est, upperKey, upperOp, o.Range.Lower, o),
		}
	}

	switch {
	case lowerScan != nil && upperScan != nil:
		sel := est.Selectivity(o)
		return &accessPath{
			plan: &Intersection{
				Children:    []Plan{lowerScan, upperScan},
				Selectivity: sel,
				Covered:     o,
			},
			cost:     sel,
			consumed: map[int]bool{pos: true},
		}
	case lowerScan != nil:
		return &accessPath{plan: lowerScan, cost: lowerScan.Selectivity, consumed: map[int]bool{}}
	case upperScan != nil:
		return &accessPath{plan: upperScan, cost: upperScan.Selectivity, consumed: map[int]bool{}}
	}
	return nil
}

func columnSelectivity(est Estimator, key string, op query.Op, v any, whole *query.Overlaps) float64 {
	if ce, ok := est.(ColumnEstimator); ok {
		return ce.ColumnSelectivity(key, op, v)
	}
	return est.Selectivity(whole)
}
