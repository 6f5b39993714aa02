// Package query defines predicate queries over records: a closed set of
// filter components that can be evaluated in memory, planned and serialised.
package query

import (
	"fmt"
	"strings"
	"time"

	rlerrors "github.com/arkilian/recordlayer/internal/errors"
	"github.com/arkilian/recordlayer/internal/keyexpr"
	"github.com/arkilian/recordlayer/pkg/types"
)

// Op is a comparison operator.
type Op string

const (
	OpEq        Op = "="
	OpNe        Op = "!="
	OpLt        Op = "<"
	OpLe        Op = "<="
	OpGt        Op = ">"
	OpGe        Op = ">="
	OpIn        Op = "IN"
	OpIsNull    Op = "IS NULL"
	OpIsNotNull Op = "IS NOT NULL"
)

// IsRange reports whether the operator is an ordering comparison.
func (o Op) IsRange() bool {
	return o == OpLt || o == OpLe || o == OpGt || o == OpGe
}

// Component is a node of a filter tree.
type Component interface {
	componentNode()
	String() string

	// Matches evaluates the component against a record.
	Matches(rec types.Record) bool

	// Validate reports malformed components.
	Validate() error
}

// Query is a predicate query over one record type. A nil Filter matches
// every record.
type Query struct {
	RecordType string
	Filter     Component
	Limit      int
}

// Validate checks the query is well formed.
func (q *Query) Validate() error {
	if q == nil || q.RecordType == "" {
		return rlerrors.NewInvalidArgument("query requires a record type")
	}
	if q.Limit < 0 {
		return rlerrors.NewInvalidArgument("query limit must be non-negative")
	}
	if q.Filter == nil {
		return nil
	}
	return q.Filter.Validate()
}

// Matches reports whether rec satisfies the query.
func (q *Query) Matches(rec types.Record) bool {
	if rec.RecordTypeName() != q.RecordType {
		return false
	}
	return q.Filter == nil || q.Filter.Matches(rec)
}

// String renders the query in the filter language.
func (q *Query) String() string {
	var sb strings.Builder
	sb.WriteString("FROM ")
	sb.WriteString(q.RecordType)
	if q.Filter != nil {
		sb.WriteString(" WHERE ")
		sb.WriteString(q.Filter.String())
	}
	if q.Limit > 0 {
		fmt.Fprintf(&sb, " LIMIT %d", q.Limit)
	}
	return sb.String()
}

// FieldPredicate compares a field, addressed by its path, with a value.
type FieldPredicate struct {
	Field  []string
	Op     Op
	Value  any
	Values []any // IN operands
}

func (*FieldPredicate) componentNode() {}

// Path returns the dotted field path.
func (p *FieldPredicate) Path() string {
	return strings.Join(p.Field, ".")
}

// String renders the predicate.
func (p *FieldPredicate) String() string {
	switch p.Op {
	case OpIsNull, OpIsNotNull:
		return fmt.Sprintf("%s %s", p.Path(), p.Op)
	case OpIn:
		parts := make([]string, len(p.Values))
		for i, v := range p.Values {
			parts[i] = FormatValue(v)
		}
		return fmt.Sprintf("%s IN (%s)", p.Path(), strings.Join(parts, ", "))
	default:
		return fmt.Sprintf("%s %s %s", p.Path(), p.Op, FormatValue(p.Value))
	}
}

// Matches evaluates the predicate. Absent and null fields only satisfy IS NULL.
func (p *FieldPredicate) Matches(rec types.Record) bool {
	v, ok := keyexpr.ExtractPath(rec, p.Field)
	if !ok || v == nil {
		return p.Op == OpIsNull
	}
	switch p.Op {
	case OpIsNull:
		return false
	case OpIsNotNull:
		return true
	case OpIn:
		for _, candidate := range p.Values {
			if types.Comparable(v, candidate) && types.Equal(v, candidate) {
				return true
			}
		}
		return false
	}
	if !types.Comparable(v, p.Value) {
		return p.Op == OpNe
	}
	c := types.Compare(v, p.Value)
	switch p.Op {
	case OpEq:
		return c == 0
	case OpNe:
		return c != 0
	case OpLt:
		return c < 0
	case OpLe:
		return c <= 0
	case OpGt:
		return c > 0
	case OpGe:
		return c >= 0
	}
	return false
}

// Validate checks the path, operator and operands.
func (p *FieldPredicate) Validate() error {
	if len(p.Field) == 0 {
		return rlerrors.NewInvalidArgument("predicate requires a field")
	}
	for _, seg := range p.Field {
		if seg == "" {
			return rlerrors.NewInvalidArgument("predicate field %q has an empty path segment", p.Path())
		}
	}
	switch p.Op {
	case OpEq, OpNe, OpLt, OpLe, OpGt, OpGe:
		if !isKeyValue(p.Value) || p.Value == nil {
			return rlerrors.NewInvalidArgument("predicate on %s compares with unsupported value %v", p.Path(), p.Value)
		}
	case OpIn:
		if len(p.Values) == 0 {
			return rlerrors.NewInvalidArgument("IN predicate on %s requires at least one value", p.Path())
		}
		for _, v := range p.Values {
			if !isKeyValue(v) {
				return rlerrors.NewInvalidArgument("IN predicate on %s has unsupported value %v", p.Path(), v)
			}
		}
	case OpIsNull, OpIsNotNull:
	default:
		return rlerrors.NewInvalidArgument("unknown operator %q", p.Op)
	}
	return nil
}

// And is a conjunction.
type And struct {
	Children []Component
}

func (*And) componentNode() {}

func (a *And) String() string {
	return joinChildren(a.Children, " AND ")
}

func (a *And) Matches(rec types.Record) bool {
	for _, c := range a.Children {
		if !c.Matches(rec) {
			return false
		}
	}
	return true
}

func (a *And) Validate() error {
	return validateChildren("AND", a.Children)
}

// Or is a disjunction.
type Or struct {
	Children []Component
}

func (*Or) componentNode() {}

func (o *Or) String() string {
	return joinChildren(o.Children, " OR ")
}

func (o *Or) Matches(rec types.Record) bool {
	for _, c := range o.Children {
		if c.Matches(rec) {
			return true
		}
	}
	return false
}

func (o *Or) Validate() error {
	return validateChildren("OR", o.Children)
}

// Not negates its child.
type Not struct {
	Child Component
}

func (*Not) componentNode() {}

func (n *Not) String() string {
	return "NOT " + wrap(n.Child)
}

func (n *Not) Matches(rec types.Record) bool {
	return !n.Child.Matches(rec)
}

func (n *Not) Validate() error {
	if n.Child == nil {
		return rlerrors.NewInvalidArgument("NOT requires an operand")
	}
	return n.Child.Validate()
}

// Overlaps matches records whose range-typed field shares a point with Range.
type Overlaps struct {
	Field []string
	Range types.Range
}

func (*Overlaps) componentNode() {}

// Path returns the dotted field path.
func (o *Overlaps) Path() string {
	return strings.Join(o.Field, ".")
}

func (o *Overlaps) String() string {
	closing := ")"
	if o.Range.UpperInclusive() {
		closing = "]"
	}
	return fmt.Sprintf("%s OVERLAPS [%s, %s%s", o.Path(), FormatValue(o.Range.Lower), FormatValue(o.Range.Upper), closing)
}

func (o *Overlaps) Matches(rec types.Record) bool {
	v, ok := keyexpr.ExtractPath(rec, o.Field)
	if !ok {
		return false
	}
	var r types.Range
	switch rv := v.(type) {
	case types.Range:
		r = rv
	case *types.Range:
		r = *rv
	default:
		return false
	}
	if !types.Comparable(r.Lower, o.Range.Upper) || !types.Comparable(r.Upper, o.Range.Lower) {
		return false
	}
	return r.Overlaps(o.Range)
}

func (o *Overlaps) Validate() error {
	if len(o.Field) == 0 {
		return rlerrors.NewInvalidArgument("OVERLAPS requires a field")
	}
	if o.Range.Kind != types.BoundaryHalfOpen && o.Range.Kind != types.BoundaryClosed {
		return rlerrors.NewInvalidArgument("OVERLAPS on %s has unknown boundary kind %q", o.Path(), o.Range.Kind)
	}
	if !isKeyValue(o.Range.Lower) || !isKeyValue(o.Range.Upper) || o.Range.Lower == nil || o.Range.Upper == nil {
		return rlerrors.NewInvalidArgument("OVERLAPS on %s has unsupported bounds", o.Path())
	}
	if !types.Comparable(o.Range.Lower, o.Range.Upper) || !o.Range.Valid() {
		return rlerrors.NewInvalidArgument("OVERLAPS on %s has an empty or unordered range %s", o.Path(), o.Range)
	}
	return nil
}

// Conjuncts flattens nested conjunctions into their operands. A nil
// component has no conjuncts.
func Conjuncts(c Component) []Component {
	if c == nil {
		return nil
	}
	and, ok := c.(*And)
	if !ok {
		return []Component{c}
	}
	var out []Component
	for _, child := range and.Children {
		out = append(out, Conjuncts(child)...)
	}
	return out
}

// Conjoin builds the conjunction of parts, collapsing trivial cases.
func Conjoin(parts []Component) Component {
	switch len(parts) {
	case 0:
		return nil
	case 1:
		return parts[0]
	default:
		return &And{Children: parts}
	}
}

// FormatValue renders a literal in the filter language.
func FormatValue(v any) string {
	switch val := types.NormalizeValue(v).(type) {
	case nil:
		return "NULL"
	case string:
		return "'" + strings.ReplaceAll(val, "'", "''") + "'"
	case bool:
		if val {
			return "TRUE"
		}
		return "FALSE"
	case []byte:
		return fmt.Sprintf("X'%x'", val)
	case time.Time:
		return "TIMESTAMP '" + val.Format(time.RFC3339Nano) + "'"
	default:
		return fmt.Sprint(val)
	}
}

func isKeyValue(v any) bool {
	return v == nil || types.IsKeyValue(v)
}

func joinChildren(children []Component, sep string) string {
	parts := make([]string, len(children))
	for i, c := range children {
		parts[i] = wrap(c)
	}
	return strings.Join(parts, sep)
}

func wrap(c Component) string {
	switch c.(type) {
	case *And, *Or:
		return "(" + c.String() + ")"
	default:
		return c.String()
	}
}

func validateChildren(op string, children []Component) error {
	if len(children) == 0 {
		return rlerrors.NewInvalidArgument("%s requires at least one operand", op)
	}
	for _, c := range children {
		if c == nil {
			return rlerrors.NewInvalidArgument("%s has a nil operand", op)
		}
		if err := c.Validate(); err != nil {
			return err
		}
	}
	return nil
}
