package planner

import (
	"strings"

	"github.com/arkilian/recordlayer/internal/keyspace"
	"github.com/arkilian/recordlayer/internal/metadata"
	"github.com/arkilian/recordlayer/internal/query"
	"github.com/arkilian/recordlayer/pkg/types"
)

// Bound is one end of a range over an index column.
type Bound struct {
	Value     any
	Inclusive bool
}

// ScanBounds restricts an index scan: Equal fixes the leading columns, and
// Low/High optionally bound the column right after them.
type ScanBounds struct {
	Equal []any
	Low   *Bound
	High  *Bound
}

// Empty reports whether the bounds restrict nothing.
func (b ScanBounds) Empty() bool {
	return len(b.Equal) == 0 && b.Low == nil && b.High == nil
}

// KeyRange returns the [begin, end) key range inside sub that holds every
// entry the bounds admit. It may hold entries of other kinds than the bound
// values; Admits rejects those.
func (b ScanBounds) KeyRange(sub keyspace.Subspace) (begin, end []byte, err error) {
	prefix := keyspace.Tuple(b.Equal)
	begin, end, err = sub.TupleRange(prefix)
	if err != nil {
		return nil, nil, err
	}
	if b.Low != nil {
		k, err := sub.Pack(append(prefix[:len(prefix):len(prefix)], b.Low.Value))
		if err != nil {
			return nil, nil, err
		}
		if b.Low.Inclusive {
			begin = k
		} else {
			begin = append(k, 0xFF)
		}
	}
	if b.High != nil {
		k, err := sub.Pack(append(prefix[:len(prefix):len(prefix)], b.High.Value))
		if err != nil {
			return nil, nil, err
		}
		if b.High.Inclusive {
			end = append(k, 0xFF)
		} else {
			end = k
		}
	}
	return begin, end, nil
}

// Admits reports whether an index key satisfies the bounds exactly.
func (b ScanBounds) Admits(key keyspace.Tuple) bool {
	if len(key) < len(b.Equal) {
		return false
	}
	for i, v := range b.Equal {
		if !types.Comparable(key[i], v) || !types.Equal(key[i], v) {
			return false
		}
	}
	if b.Low == nil && b.High == nil {
		return true
	}
	if len(key) <= len(b.Equal) {
		return false
	}
	v := key[len(b.Equal)]
	if b.Low != nil {
		if !types.Comparable(v, b.Low.Value) {
			return false
		}
		c := types.Compare(v, b.Low.Value)
		if c < 0 || (c == 0 && !b.Low.Inclusive) {
			return false
		}
	}
	if b.High != nil {
		if !types.Comparable(v, b.High.Value) {
			return false
		}
		c := types.Compare(v, b.High.Value)
		if c > 0 || (c == 0 && !b.High.Inclusive) {
			return false
		}
	}
	return true
}

// Describe renders the bounds against the index's column names, e.g.
// "[color = 'red', size >= 3]".
func (b ScanBounds) Describe(idx *metadata.Index) string {
	cols := idx.Root.Columns()
	name := func(i int) string {
		if i < len(cols) {
			return cols[i].Key()
		}
		return "?"
	}
	var parts []string
	for i, v := range b.Equal {
		parts = append(parts, name(i)+" = "+query.FormatValue(v))
	}
	col := name(len(b.Equal))
	if b.Low != nil {
		op := " > "
		if b.Low.Inclusive {
			op = " >= "
		}
		parts = append(parts, col+op+query.FormatValue(b.Low.Value))
	}
	if b.High != nil {
		op := " < "
		if b.High.Inclusive {
			op = " <= "
		}
		parts = append(parts, col+op+query.FormatValue(b.High.Value))
	}
	return "[" + strings.Join(parts, ", ") + "]"
}
