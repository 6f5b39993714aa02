package keyexpr

import (
	"fmt"
	"strings"

	rlerrors "github.com/arkilian/recordlayer/internal/errors"
	"github.com/arkilian/recordlayer/pkg/types"
)

// emptyRecord stands in for an absent nested structure.
type emptyRecord struct{}

func (emptyRecord) RecordTypeName() string   { return "" }
func (emptyRecord) Field(string) (any, bool) { return nil, false }

// Evaluate returns the key components of rec, in order. It never fails:
// absent fields, absent nested structures and range expressions applied to
// non-range values all yield types.EmptyPlaceholder.
func (e Expression) Evaluate(rec types.Record) []any {
	out := make([]any, 0, e.ColumnCount())
	out, _ = e.appendTo(out, rec, false)
	return out
}

// EvaluateChecked is Evaluate but reports an internal error when a Range
// expression meets a present value that is not a range, or a Field meets a
// nested structure that cannot be a key component.
func (e Expression) EvaluateChecked(rec types.Record) ([]any, error) {
	out := make([]any, 0, e.ColumnCount())
	return e.appendTo(out, rec, true)
}

func (e Expression) appendTo(out []any, rec types.Record, strict bool) ([]any, error) {
	if rec == nil {
		rec = emptyRecord{}
	}
	switch e.Kind {
	case KindField:
		v, ok := rec.Field(e.Field)
		if !ok || v == nil {
			return append(out, types.EmptyPlaceholder), nil
		}
		if _, nested := v.(types.Record); nested {
			if strict {
				return out, rlerrors.NewInternalError(fmt.Sprintf("field %q holds a nested structure, not a key value", e.Field), nil)
			}
			return append(out, types.EmptyPlaceholder), nil
		}
		return append(out, types.NormalizeValue(v)), nil

	case KindConcatenate:
		var err error
		for _, c := range e.Children {
			if out, err = c.appendTo(out, rec, strict); err != nil {
				return out, err
			}
		}
		return out, nil

	case KindNest:
		if e.Child == nil {
			return out, nil
		}
		v, ok := rec.Field(e.Field)
		nested, isRecord := v.(types.Record)
		if !ok || !isRecord {
			nested = emptyRecord{}
		}
		return e.Child.appendTo(out, nested, strict)

	case KindLiteral:
		return append(out, e.Value), nil

	case KindRange:
		v, ok := rec.Field(e.Field)
		if !ok || v == nil {
			return append(out, types.EmptyPlaceholder), nil
		}
		var r types.Range
		switch rv := v.(type) {
		case types.Range:
			r = rv
		case *types.Range:
			r = *rv
		default:
			if strict {
				return out, rlerrors.NewInternalError(fmt.Sprintf("field %q is not a range (got %T)", e.Field, v), nil)
			}
			return append(out, types.EmptyPlaceholder), nil
		}
		if e.Bound == BoundUpper {
			return append(out, types.NormalizeValue(r.Upper)), nil
		}
		return append(out, types.NormalizeValue(r.Lower)), nil

	default:
		return out, nil
	}
}

// Column is one flattened leaf of an expression: the component it produces
// and the field path it reads.
type Column struct {
	// Kind is KindField, KindRange or KindLiteral.
	Kind Kind

	// Path is the field path from the record root; empty for literals.
	Path []string

	Bound    Bound
	Boundary types.BoundaryKind
	Value    any
}

// FieldPath joins the path with dots, e.g. "address.city".
func (c Column) FieldPath() string {
	return strings.Join(c.Path, ".")
}

// Key identifies the value a column reads: the field path, suffixed with
// "@lower" or "@upper" for range boundaries.
func (c Column) Key() string {
	return ColumnKey(c.Path, c.Bound)
}

// ColumnKey builds the Key of a column reading path (and bound, for ranges).
func ColumnKey(path []string, bound Bound) string {
	if bound == "" {
		return strings.Join(path, ".")
	}
	return strings.Join(path, ".") + "@" + string(bound)
}

// Columns flattens the expression into its leaf columns in component order.
// len(Columns()) == ColumnCount().
func (e Expression) Columns() []Column {
	return e.appendColumns(nil, nil)
}

func (e Expression) appendColumns(out []Column, prefix []string) []Column {
	switch e.Kind {
	case KindField:
		return append(out, Column{Kind: KindField, Path: joinPath(prefix, e.Field)})
	case KindRange:
		return append(out, Column{
			Kind:     KindRange,
			Path:     joinPath(prefix, e.Field),
			Bound:    e.Bound,
			Boundary: e.Boundary,
		})
	case KindLiteral:
		return append(out, Column{Kind: KindLiteral, Value: e.Value})
	case KindConcatenate:
		for _, c := range e.Children {
			out = c.appendColumns(out, prefix)
		}
		return out
	case KindNest:
		if e.Child == nil {
			return out
		}
		return e.Child.appendColumns(out, joinPath(prefix, e.Field))
	default:
		return out
	}
}

// FieldNames returns the distinct top-level fields the expression reads.
func (e Expression) FieldNames() []string {
	seen := make(map[string]bool)
	var names []string
	for _, c := range e.Columns() {
		if len(c.Path) == 0 || seen[c.Path[0]] {
			continue
		}
		seen[c.Path[0]] = true
		names = append(names, c.Path[0])
	}
	return names
}

// ExtractPath walks a dotted field path through nested records.
func ExtractPath(rec types.Record, path []string) (any, bool) {
	if rec == nil || len(path) == 0 {
		return nil, false
	}
	v, ok := rec.Field(path[0])
	if !ok {
		return nil, false
	}
	if len(path) == 1 {
		return v, true
	}
	nested, isRecord := v.(types.Record)
	if !isRecord {
		return nil, false
	}
	return ExtractPath(nested, path[1:])
}

func joinPath(prefix []string, name string) []string {
	p := make([]string, len(prefix)+1)
	copy(p, prefix)
	p[len(prefix)] = name
	return p
}
