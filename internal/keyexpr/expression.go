// Package keyexpr implements key expressions: deterministic rules that turn a
// record into the ordered key components stored in an index or primary key.
//
// Expressions are a closed set of variants held in one discriminated struct so
// they serialise with metadata snapshots. Evaluation is total: absent fields
// and absent nested structures degrade to types.EmptyPlaceholder.
package keyexpr

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	rlerrors "github.com/arkilian/recordlayer/internal/errors"
	"github.com/arkilian/recordlayer/pkg/types"
)

// Kind identifies the expression variant.
type Kind string

const (
	KindField       Kind = "field"
	KindConcatenate Kind = "concatenate"
	KindNest        Kind = "nest"
	KindLiteral     Kind = "literal"
	KindEmpty       Kind = "empty"
	KindRange       Kind = "range"
)

// Bound selects which end of a range field a Range expression extracts.
type Bound string

const (
	BoundLower Bound = "lower"
	BoundUpper Bound = "upper"
)

// Expression is a key expression.
type Expression struct {
	Kind Kind `json:"kind"`

	// Field is the field name for Field and Range, and the parent field for Nest.
	Field string `json:"field,omitempty"`

	// Children holds the Concatenate operands in evaluation order.
	Children []Expression `json:"children,omitempty"`

	// Child is the expression evaluated against the nested structure of a Nest.
	Child *Expression `json:"child,omitempty"`

	// Value is the Literal constant.
	Value any `json:"value,omitempty"`

	// Bound and Boundary describe a Range expression.
	Bound    Bound              `json:"bound,omitempty"`
	Boundary types.BoundaryKind `json:"boundary,omitempty"`
}

// Field extracts a named field.
func Field(name string) Expression {
	return Expression{Kind: KindField, Field: name}
}

// Concat evaluates children in order and concatenates their components.
func Concat(children ...Expression) Expression {
	cp := make([]Expression, len(children))
	copy(cp, children)
	return Expression{Kind: KindConcatenate, Children: cp}
}

// Nest evaluates child against the nested structure stored in parent.
func Nest(parent string, child Expression) Expression {
	c := child
	return Expression{Kind: KindNest, Field: parent, Child: &c}
}

// Literal ignores the record and yields a fixed value.
func Literal(v any) Expression {
	return Expression{Kind: KindLiteral, Value: types.NormalizeValue(v)}
}

// Empty yields no components.
func Empty() Expression {
	return Expression{Kind: KindEmpty}
}

// RangeBound extracts one boundary of a range-typed field. The boundary kind
// tags how the field's ranges compare when the planner rewrites overlap
// predicates.
func RangeBound(field string, bound Bound, boundary types.BoundaryKind) Expression {
	return Expression{Kind: KindRange, Field: field, Bound: bound, Boundary: boundary}
}

// IsEmpty reports whether this is the zero value or an Empty expression.
func (e Expression) IsEmpty() bool {
	return e.Kind == "" || e.Kind == KindEmpty
}

// ColumnCount returns the number of components Evaluate produces. It depends
// only on the shape of the expression.
func (e Expression) ColumnCount() int {
	switch e.Kind {
	case KindField, KindLiteral, KindRange:
		return 1
	case KindConcatenate:
		n := 0
		for _, c := range e.Children {
			n += c.ColumnCount()
		}
		return n
	case KindNest:
		if e.Child == nil {
			return 0
		}
		return e.Child.ColumnCount()
	default:
		return 0
	}
}

// Validate checks the expression is well formed.
func (e Expression) Validate() error {
	switch e.Kind {
	case KindField:
		if e.Field == "" {
			return rlerrors.NewInvalidArgument("field expression requires a field name")
		}
	case KindConcatenate:
		for i, c := range e.Children {
			if err := c.Validate(); err != nil {
				return fmt.Errorf("concatenate child %d: %w", i, err)
			}
		}
	case KindNest:
		if e.Field == "" {
			return rlerrors.NewInvalidArgument("nest expression requires a parent field")
		}
		if e.Child == nil {
			return rlerrors.NewInvalidArgument("nest expression on %q requires a child", e.Field)
		}
		return e.Child.Validate()
	case KindRange:
		if e.Field == "" {
			return rlerrors.NewInvalidArgument("range expression requires a field name")
		}
		if e.Bound != BoundLower && e.Bound != BoundUpper {
			return rlerrors.NewInvalidArgument("range expression on %q has invalid bound %q", e.Field, e.Bound)
		}
		if e.Boundary != types.BoundaryHalfOpen && e.Boundary != types.BoundaryClosed {
			return rlerrors.NewInvalidArgument("range expression on %q has invalid boundary kind %q", e.Field, e.Boundary)
		}
	case KindLiteral, KindEmpty:
	default:
		return rlerrors.NewInvalidArgument("unknown key expression kind %q", e.Kind)
	}
	return nil
}

// Equal reports whether two expressions have the same shape.
func Equal(a, b Expression) bool {
	if a.IsEmpty() && b.IsEmpty() {
		return true
	}
	if a.Kind != b.Kind || a.Field != b.Field {
		return false
	}
	switch a.Kind {
	case KindConcatenate:
		if len(a.Children) != len(b.Children) {
			return false
		}
		for i := range a.Children {
			if !Equal(a.Children[i], b.Children[i]) {
				return false
			}
		}
		return true
	case KindNest:
		if a.Child == nil || b.Child == nil {
			return a.Child == b.Child
		}
		return Equal(*a.Child, *b.Child)
	case KindLiteral:
		return types.Equal(a.Value, b.Value)
	case KindRange:
		return a.Bound == b.Bound && a.Boundary == b.Boundary
	default:
		return true
	}
}

// String renders the expression compactly, e.g. concat(title, range(period, lower, half_open)).
func (e Expression) String() string {
	switch e.Kind {
	case KindField:
		return e.Field
	case KindConcatenate:
		parts := make([]string, len(e.Children))
		for i, c := range e.Children {
			parts[i] = c.String()
		}
		return "concat(" + strings.Join(parts, ", ") + ")"
	case KindNest:
		if e.Child == nil {
			return e.Field + ".?"
		}
		return e.Field + "." + e.Child.String()
	case KindLiteral:
		return fmt.Sprintf("literal(%v)", e.Value)
	case KindRange:
		return fmt.Sprintf("range(%s, %s, %s)", e.Field, e.Bound, e.Boundary)
	default:
		return "empty()"
	}
}

// UnmarshalJSON decodes an expression, keeping integer literals as int64.
func (e *Expression) UnmarshalJSON(data []byte) error {
	type plain Expression
	var p plain
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&p); err != nil {
		return err
	}
	if n, ok := p.Value.(json.Number); ok {
		if i, err := n.Int64(); err == nil {
			p.Value = i
		} else if f, err := n.Float64(); err == nil {
			p.Value = f
		}
	}
	*e = Expression(p)
	return nil
}
