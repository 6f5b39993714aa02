package planner

import (
	"github.com/arkilian/recordlayer/internal/keyexpr"
	"github.com/arkilian/recordlayer/internal/metadata"
	"github.com/arkilian/recordlayer/internal/query"
	"github.com/arkilian/recordlayer/pkg/types"
)

// matchIndex binds conjuncts to a prefix of the index's columns: equalities
// on the leading columns, then at most one range column. It returns nil when
// no predicate binds the first field column.
func matchIndex(recordType string, idx *metadata.Index, conjuncts []query.Component, est Estimator) *accessPath {
	var (
		bounds   ScanBounds
		used     []query.Component
		consumed = make(map[int]bool)
	)
	for _, col := range idx.Root.Columns() {
		if col.Kind == keyexpr.KindLiteral {
			bounds.Equal = append(bounds.Equal, col.Value)
			continue
		}
		if col.Kind != keyexpr.KindField {
			break
		}
		key := col.Key()
		if i, v, ok := findEquality(conjuncts, key, consumed); ok {
			bounds.Equal = append(bounds.Equal, v)
			consumed[i] = true
			used = append(used, conjuncts[i])
			continue
		}
		low, high, hits := mergeRange(conjuncts, key, consumed)
		bounds.Low, bounds.High = low, high
		for _, i := range hits {
			consumed[i] = true
			used = append(used, conjuncts[i])
		}
		break
	}
	if len(used) == 0 {
		return nil
	}
	covered := query.Conjoin(used)
	sel := est.Selectivity(covered)
	return &accessPath{
		plan: &IndexScan{
			RecordType:  recordType,
			Index:       idx,
			Bounds:      bounds,
			Selectivity: sel,
			Covered:     covered,
		},
		cost:     sel,
		consumed: consumed,
	}
}

// fieldPredicate returns c as a predicate on column key with a key-encodable
// operand.
func fieldPredicate(c query.Component, key string) (*query.FieldPredicate, bool) {
	p, ok := c.(*query.FieldPredicate)
	if !ok || keyexpr.ColumnKey(p.Field, "") != key || !keyValue(p.Value) {
		return nil, false
	}
	return p, true
}

func findEquality(conjuncts []query.Component, key string, consumed map[int]bool) (int, any, bool) {
	for i, c := range conjuncts {
		if consumed[i] {
			continue
		}
		if p, ok := fieldPredicate(c, key); ok && p.Op == query.OpEq {
			return i, types.NormalizeValue(p.Value), true
		}
	}
	return 0, nil, false
}

// mergeRange keeps the tightest lower and upper bound on a column. A bound
// whose kind cannot be ordered against the one already kept stays residual.
func mergeRange(conjuncts []query.Component, key string, consumed map[int]bool) (low, high *Bound, hits []int) {
	for i, c := range conjuncts {
		if consumed[i] {
			continue
		}
		p, ok := fieldPredicate(c, key)
		if !ok || !p.Op.IsRange() {
			continue
		}
		b := &Bound{Value: types.NormalizeValue(p.Value), Inclusive: p.Op == query.OpGe || p.Op == query.OpLe}
		switch p.Op {
		case query.OpGt, query.OpGe:
			if low != nil && !types.Comparable(low.Value, b.Value) {
				continue
			}
			if low == nil || tighterLow(b, low) {
				low = b
			}
		default:
			if high != nil && !types.Comparable(high.Value, b.Value) {
				continue
			}
			if high == nil || tighterHigh(b, high) {
				high = b
			}
		}
		hits = append(hits, i)
	}
	return low, high, hits
}

func tighterLow(b, than *Bound) bool {
	c := types.Compare(b.Value, than.Value)
	return c > 0 || (c == 0 && !b.Inclusive)
}

func tighterHigh(b, than *Bound) bool {
	c := types.Compare(b.Value, than.Value)
	return c < 0 || (c == 0 && !b.Inclusive)
}

func keyValue(v any) bool {
	return types.IsKeyValue(v)
}
