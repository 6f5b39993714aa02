package query

import (
	"bytes"
	"encoding/json"
	"strings"

	rlerrors "github.com/arkilian/recordlayer/internal/errors"
	"github.com/arkilian/recordlayer/pkg/types"
)

// wireComponent is the JSON form of a Component.
type wireComponent struct {
	Type     string          `json:"type"`
	Field    string          `json:"field,omitempty"`
	Op       Op              `json:"op,omitempty"`
	Value    any             `json:"value,omitempty"`
	Values   []any           `json:"values,omitempty"`
	Children []wireComponent `json:"children,omitempty"`
	Range    *types.Range    `json:"range,omitempty"`
}

type wireQuery struct {
	RecordType string         `json:"record_type"`
	Filter     *wireComponent `json:"filter,omitempty"`
	Limit      int            `json:"limit,omitempty"`
}

// MarshalJSON encodes the query.
func (q *Query) MarshalJSON() ([]byte, error) {
	w := wireQuery{RecordType: q.RecordType, Limit: q.Limit}
	if q.Filter != nil {
		f, err := toWire(q.Filter)
		if err != nil {
			return nil, err
		}
		w.Filter = &f
	}
	return json.Marshal(w)
}

// UnmarshalJSON decodes a query. Integral numbers decode as int64.
func (q *Query) UnmarshalJSON(data []byte) error {
	var w wireQuery
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&w); err != nil {
		return rlerrors.NewInvalidArgument("malformed query: %v", err)
	}
	q.RecordType = w.RecordType
	q.Limit = w.Limit
	q.Filter = nil
	if w.Filter != nil {
		f, err := fromWire(*w.Filter)
		if err != nil {
			return err
		}
		q.Filter = f
	}
	return nil
}

// MarshalComponent encodes a filter tree.
func MarshalComponent(c Component) ([]byte, error) {
	w, err := toWire(c)
	if err != nil {
		return nil, err
	}
	return json.Marshal(w)
}

// UnmarshalComponent decodes a filter tree written by MarshalComponent.
func UnmarshalComponent(data []byte) (Component, error) {
	var w wireComponent
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&w); err != nil {
		return nil, rlerrors.NewInvalidArgument("malformed filter: %v", err)
	}
	return fromWire(w)
}

func toWire(c Component) (wireComponent, error) {
	switch n := c.(type) {
	case *FieldPredicate:
		w := wireComponent{Type: "field", Field: n.Path(), Op: n.Op}
		var err error
		if w.Value, err = types.EncodeValue(n.Value); err != nil {
			return wireComponent{}, rlerrors.NewInvalidArgument("filter on %s: %v", n.Path(), err)
		}
		for _, v := range n.Values {
			enc, err := types.EncodeValue(v)
			if err != nil {
				return wireComponent{}, rlerrors.NewInvalidArgument("filter on %s: %v", n.Path(), err)
			}
			w.Values = append(w.Values, enc)
		}
		return w, nil
	case *Overlaps:
		r := n.Range
		return wireComponent{Type: "overlaps", Field: n.Path(), Range: &r}, nil
	case *And:
		children, err := childrenToWire(n.Children)
		return wireComponent{Type: "and", Children: children}, err
	case *Or:
		children, err := childrenToWire(n.Children)
		return wireComponent{Type: "or", Children: children}, err
	case *Not:
		child, err := toWire(n.Child)
		return wireComponent{Type: "not", Children: []wireComponent{child}}, err
	default:
		return wireComponent{}, rlerrors.NewInvalidArgument("unsupported filter component %T", c)
	}
}

func childrenToWire(children []Component) ([]wireComponent, error) {
	out := make([]wireComponent, len(children))
	for i, c := range children {
		w, err := toWire(c)
		if err != nil {
			return nil, err
		}
		out[i] = w
	}
	return out, nil
}

func fromWire(w wireComponent) (Component, error) {
	switch w.Type {
	case "field":
		value, err := decodeLiteral(w.Field, w.Value)
		if err != nil {
			return nil, err
		}
		p := &FieldPredicate{Field: splitPath(w.Field), Op: w.Op, Value: value}
		for _, v := range w.Values {
			value, err := decodeLiteral(w.Field, v)
			if err != nil {
				return nil, err
			}
			p.Values = append(p.Values, value)
		}
		return p, nil
	case "overlaps":
		if w.Range == nil {
			return nil, rlerrors.NewInvalidArgument("overlaps filter on %s has no range", w.Field)
		}
		return &Overlaps{Field: splitPath(w.Field), Range: *w.Range}, nil
	case "and", "or":
		children := make([]Component, len(w.Children))
		for i, cw := range w.Children {
			c, err := fromWire(cw)
			if err != nil {
				return nil, err
			}
			children[i] = c
		}
		if w.Type == "and" {
			return &And{Children: children}, nil
		}
		return &Or{Children: children}, nil
	case "not":
		if len(w.Children) != 1 {
			return nil, rlerrors.NewInvalidArgument("not filter needs exactly one operand, got %d", len(w.Children))
		}
		child, err := fromWire(w.Children[0])
		if err != nil {
			return nil, err
		}
		return &Not{Child: child}, nil
	default:
		return nil, rlerrors.NewInvalidArgument("unknown filter type %q", w.Type)
	}
}

func splitPath(field string) []string {
	if field == "" {
		return nil
	}
	return strings.Split(field, ".")
}

func decodeLiteral(field string, v any) (any, error) {
	out, err := types.DecodeValue(v)
	if err != nil {
		return nil, rlerrors.NewInvalidArgument("filter on %s: %v", field, err)
	}
	return out, nil
}
