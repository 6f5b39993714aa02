// Package planner turns predicate queries into executable plan trees. Planning
// is a pure function of the query, a metadata snapshot and a selectivity
// estimator; it performs no I/O.
package planner

import (
	"fmt"
	"strings"

	"github.com/arkilian/recordlayer/internal/metadata"
	"github.com/arkilian/recordlayer/internal/query"
)

// Plan kinds, as reported by Kind and recorded in metrics.
const (
	KindFullScan     = "FullScan"
	KindIndexScan    = "IndexScan"
	KindIntersection = "Intersection"
	KindFilter       = "Filter"
)

// Plan is a node of a plan tree.
type Plan interface {
	planNode()

	// Kind names the variant.
	Kind() string

	// Cost is the estimated fraction of the record type the node produces.
	Cost() float64

	// Explain renders the subtree, one node per line.
	Explain() string
}

// FullScan reads every record of a type.
type FullScan struct {
	RecordType string
}

// IndexScan reads the entries of one index inside Bounds and loads the
// records they point to.
type IndexScan struct {
	RecordType  string
	Index       *metadata.Index
	Bounds      ScanBounds
	Selectivity float64

	// Covered holds the predicates the bounds encode. Executors recheck it
	// on loaded records since absent fields index as an empty string.
	Covered query.Component
}

// Intersection yields the records every child yields, matched by primary key.
type Intersection struct {
	Children    []Plan
	Selectivity float64

	// Covered is the predicate the children jointly encode, rechecked like
	// IndexScan.Covered.
	Covered query.Component
}

// Filter re-applies Residual to every record its child yields.
type Filter struct {
	Child       Plan
	Residual    query.Component
	Selectivity float64
}

func (*FullScan) planNode()     {}
func (*IndexScan) planNode()    {}
func (*Intersection) planNode() {}
func (*Filter) planNode()       {}

func (*FullScan) Kind() string     { return KindFullScan }
func (*IndexScan) Kind() string    { return KindIndexScan }
func (*Intersection) Kind() string { return KindIntersection }
func (*Filter) Kind() string       { return KindFilter }

func (*FullScan) Cost() float64       { return 1 }
func (s *IndexScan) Cost() float64    { return s.Selectivity }
func (i *Intersection) Cost() float64 { return i.Selectivity }
func (f *Filter) Cost() float64       { return f.Selectivity }

func (s *FullScan) Explain() string {
	return fmt.Sprintf("FullScan(%s)", s.RecordType)
}

func (s *IndexScan) Explain() string {
	return fmt.Sprintf("IndexScan(%s %s)", s.Index.Name, s.Bounds.Describe(s.Index))
}

func (i *Intersection) Explain() string {
	var sb strings.Builder
	sb.WriteString("Intersection")
	for _, child := range i.Children {
		writeIndented(&sb, child.Explain())
	}
	return sb.String()
}

func (f *Filter) Explain() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Filter(%s)", f.Residual)
	writeIndented(&sb, f.Child.Explain())
	return sb.String()
}

func writeIndented(sb *strings.Builder, sub string) {
	for _, line := range strings.Split(sub, "\n") {
		sb.WriteString("\n  ")
		sb.WriteString(line)
	}
}

// Node is the serialisable form of a plan tree.
type Node struct {
	Kind       string  `json:"kind"`
	RecordType string  `json:"record_type,omitempty"`
	Index      string  `json:"index,omitempty"`
	Bounds     string  `json:"bounds,omitempty"`
	Residual   string  `json:"residual,omitempty"`
	Cost       float64 `json:"cost"`
	Children   []Node  `json:"children,omitempty"`
}

// Describe converts a plan into its serialisable form.
func Describe(p Plan) Node {
	n := Node{Kind: p.Kind(), Cost: p.Cost()}
	switch v := p.(type) {
	case *FullScan:
		n.RecordType = v.RecordType
	case *IndexScan:
		n.RecordType = v.RecordType
		n.Index = v.Index.Name
		n.Bounds = v.Bounds.Describe(v.Index)
	case *Intersection:
		for _, child := range v.Children {
			n.Children = append(n.Children, Describe(child))
		}
	case *Filter:
		n.Residual = v.Residual.String()
		n.Children = []Node{Describe(v.Child)}
	}
	return n
}

// Scans lists the index scans of a plan in depth-first order.
func Scans(p Plan) []*IndexScan {
	switch v := p.(type) {
	case *IndexScan:
		return []*IndexScan{v}
	case *Intersection:
		var out []*IndexScan
		for _, child := range v.Children {
			out = append(out, Scans(child)...)
		}
		return out
	case *Filter:
		return Scans(v.Child)
	}
	return nil
}
