// Package types provides the record-facing data types shared by every layer of
// the record store: the reflection contract records implement, range values and
// the total ordering used for index keys.
package types

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// EmptyPlaceholder is the key component produced for an absent field.
const EmptyPlaceholder = ""

// Record is the reflection contract every stored record implements.
//
// Field returns the value of a top-level field. Values must be index-key
// compatible primitives (nil, bool, integers, floats, time.Time, string,
// []byte), a Range, or a nested Record.
type Record interface {
	RecordTypeName() string
	Field(name string) (any, bool)
}

// Describer is implemented by record types that can describe their declared shape.
type Describer interface {
	Describe() RecordDescriptor
}

// RecordDescriptor lists the declared fields and primary-key fields of a record type.
type RecordDescriptor struct {
	// Name is the record type name
	Name string `json:"name"`

	// Fields lists the declared fields in declaration order
	Fields []FieldDescriptor `json:"fields"`

	// PrimaryKey lists the fields forming the primary key, in key order
	PrimaryKey []string `json:"primary_key"`
}

// FieldKind is the declared kind of a record field.
type FieldKind string

const (
	FieldString FieldKind = "string"
	FieldInt    FieldKind = "int"
	FieldFloat  FieldKind = "float"
	FieldBool   FieldKind = "bool"
	FieldBytes  FieldKind = "bytes"
	FieldTime   FieldKind = "time"
	FieldRange  FieldKind = "range"
	FieldNested FieldKind = "nested"
)

// FieldDescriptor describes one declared field.
type FieldDescriptor struct {
	Name string    `json:"name"`
	Kind FieldKind `json:"kind"`
}

// FieldNames returns the declared field names in order.
func (d RecordDescriptor) FieldNames() []string {
	names := make([]string, len(d.Fields))
	for i, f := range d.Fields {
		names[i] = f.Name
	}
	return names
}

// MapRecord is a generic Record backed by a map. Nested maps are exposed as
// MapRecords so key expressions can descend into them.
type MapRecord struct {
	Type   string         `json:"type"`
	Values map[string]any `json:"values"`
}

// NewMapRecord creates a MapRecord of the given type.
func NewMapRecord(recordType string, values map[string]any) *MapRecord {
	if values == nil {
		values = make(map[string]any)
	}
	return &MapRecord{Type: recordType, Values: values}
}

// RecordTypeName returns the record type name.
func (r *MapRecord) RecordTypeName() string {
	return r.Type
}

// Field returns a field value; nested maps are wrapped as records.
func (r *MapRecord) Field(name string) (any, bool) {
	if r == nil || r.Values == nil {
		return nil, false
	}
	v, ok := r.Values[name]
	if !ok {
		return nil, false
	}
	if m, isMap := v.(map[string]any); isMap {
		return &MapRecord{Type: name, Values: m}, true
	}
	return v, true
}

// Set assigns a field value and returns the record for chaining.
func (r *MapRecord) Set(name string, value any) *MapRecord {
	r.Values[name] = value
	return r
}

// FieldNames returns the record's present field names, sorted.
func (r *MapRecord) FieldNames() []string {
	names := make([]string, 0, len(r.Values))
	for k := range r.Values {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// wireRecord is the JSON representation of a MapRecord. Ranges and timestamps
// are tagged so they survive a round trip:
//
//	{"$range": {"lower": ..., "upper": ..., "kind": "half_open"}}
//	{"$time": "2024-05-01T09:00:00Z"}
type wireRecord struct {
	Type   string                     `json:"type"`
	Values map[string]json.RawMessage `json:"values"`
}

type wireRange struct {
	Range *Range `json:"$range"`
}

type wireTime struct {
	Time string `json:"$time"`
}

// MarshalRecord encodes any Record into JSON using its descriptor or, for
// MapRecords, the present fields.
func MarshalRecord(rec Record) ([]byte, error) {
	var names []string
	switch r := rec.(type) {
	case *MapRecord:
		names = r.FieldNames()
	case Describer:
		names = r.Describe().FieldNames()
	default:
		return nil, fmt.Errorf("types: record type %s cannot be enumerated", rec.RecordTypeName())
	}

	values := make(map[string]any, len(names))
	for _, name := range names {
		v, ok := rec.Field(name)
		if !ok {
			continue
		}
		encoded, err := EncodeValue(v)
		if err != nil {
			return nil, fmt.Errorf("types: field %s: %w", name, err)
		}
		values[name] = encoded
	}
	return json.Marshal(map[string]any{"type": rec.RecordTypeName(), "values": values})
}

// EncodeValue converts a field value into its tagged JSON-ready form.
func EncodeValue(v any) (any, error) {
	switch val := v.(type) {
	case time.Time:
		return wireTime{Time: val.UTC().Format(time.RFC3339Nano)}, nil
	case *time.Time:
		if val == nil {
			return nil, nil
		}
		return wireTime{Time: val.UTC().Format(time.RFC3339Nano)}, nil
	case Range:
		return wireRange{Range: &val}, nil
	case *Range:
		return wireRange{Range: val}, nil
	case Record:
		nested := make(map[string]any)
		if m, ok := val.(*MapRecord); ok {
			for _, name := range m.FieldNames() {
				inner, err := EncodeValue(m.Values[name])
				if err != nil {
					return nil, err
				}
				nested[name] = inner
			}
			return nested, nil
		}
		return nil, fmt.Errorf("nested record %s is not a map record", val.RecordTypeName())
	case map[string]any:
		nested := make(map[string]any, len(val))
		for k, inner := range val {
			enc, err := EncodeValue(inner)
			if err != nil {
				return nil, err
			}
			nested[k] = enc
		}
		return nested, nil
	default:
		return NormalizeValue(v), nil
	}
}

// UnmarshalRecord decodes a payload produced by MarshalRecord into a MapRecord.
// Whole JSON numbers decode to int64, others to float64.
func UnmarshalRecord(data []byte) (*MapRecord, error) {
	var wire wireRecord
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, fmt.Errorf("types: failed to decode record: %w", err)
	}
	rec := NewMapRecord(wire.Type, nil)
	for name, raw := range wire.Values {
		v, err := decodeValue(raw)
		if err != nil {
			return nil, fmt.Errorf("types: field %s: %w", name, err)
		}
		rec.Values[name] = v
	}
	return rec, nil
}

func decodeValue(raw json.RawMessage) (any, error) {
	var generic any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&generic); err != nil {
		return nil, err
	}
	return DecodeValue(generic)
}

// DecodeValue turns a value decoded with json.Decoder.UseNumber back into a
// field value, resolving numbers and the $range and $time tags.
func DecodeValue(v any) (any, error) {
	return fromJSON(v)
}

func fromJSON(v any) (any, error) {
	switch val := v.(type) {
	case json.Number:
		if i, err := val.Int64(); err == nil {
			return i, nil
		}
		return val.Float64()
	case map[string]any:
		if t, ok := val["$time"]; ok && len(val) == 1 {
			str, ok := t.(string)
			if !ok {
				return nil, fmt.Errorf("malformed time value")
			}
			ts, err := time.Parse(time.RFC3339Nano, str)
			if err != nil {
				return nil, fmt.Errorf("malformed time value: %w", err)
			}
			return ts.UTC(), nil
		}
		if r, ok := val["$range"]; ok && len(val) == 1 {
			fields, ok := r.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("malformed range value")
			}
			lower, err := fromJSON(fields["lower"])
			if err != nil {
				return nil, err
			}
			upper, err := fromJSON(fields["upper"])
			if err != nil {
				return nil, err
			}
			kind, _ := fields["kind"].(string)
			return Range{Lower: lower, Upper: upper, Kind: BoundaryKind(kind)}, nil
		}
		out := make(map[string]any, len(val))
		for k, inner := range val {
			decoded, err := fromJSON(inner)
			if err != nil {
				return nil, err
			}
			out[k] = decoded
		}
		return out, nil
	case []any:
		out := make([]any, len(val))
		for i, inner := range val {
			decoded, err := fromJSON(inner)
			if err != nil {
				return nil, err
			}
			out[i] = decoded
		}
		return out, nil
	default:
		return val, nil
	}
}

type rangeJSON struct {
	Lower any          `json:"lower"`
	Upper any          `json:"upper"`
	Kind  BoundaryKind `json:"kind"`
}

// MarshalJSON encodes the bounds with EncodeValue so timestamp ranges keep
// their kind.
func (r Range) MarshalJSON() ([]byte, error) {
	lower, err := EncodeValue(r.Lower)
	if err != nil {
		return nil, err
	}
	upper, err := EncodeValue(r.Upper)
	if err != nil {
		return nil, err
	}
	return json.Marshal(rangeJSON{Lower: lower, Upper: upper, Kind: r.Kind})
}

// UnmarshalJSON decodes bounds written by MarshalJSON. Whole numbers decode
// to int64.
func (r *Range) UnmarshalJSON(data []byte) error {
	var w rangeJSON
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&w); err != nil {
		return err
	}
	lower, err := DecodeValue(w.Lower)
	if err != nil {
		return err
	}
	upper, err := DecodeValue(w.Upper)
	if err != nil {
		return err
	}
	*r = Range{Lower: lower, Upper: upper, Kind: w.Kind}
	return nil
}
