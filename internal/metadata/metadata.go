// Package metadata implements the versioned metadata model: record types,
// indexes and former-index tombstones. A MetaData value is an immutable
// snapshot; evolving a schema means building a new snapshot with a higher
// version and validating it against the previous one.
package metadata

import (
	"encoding/json"
	"fmt"
	"slices"

	rlerrors "github.com/arkilian/recordlayer/internal/errors"
	"github.com/arkilian/recordlayer/internal/keyexpr"
	"github.com/arkilian/recordlayer/pkg/types"
)

// RecordType describes one stored record type.
type RecordType struct {
	Name       string             `json:"name"`
	PrimaryKey keyexpr.Expression `json:"primary_key"`

	// SinceVersion is the schema version that introduced the type.
	SinceVersion int `json:"since_version,omitempty"`

	// RenamedFrom names the type this one replaces, if it is a rename.
	RenamedFrom string `json:"renamed_from,omitempty"`

	// Fields optionally declares the type's fields for statistics collection.
	Fields []types.FieldDescriptor `json:"fields,omitempty"`
}

// NewRecordType returns a record type keyed by the given primary key expression.
func NewRecordType(name string, primaryKey keyexpr.Expression) RecordType {
	return RecordType{Name: name, PrimaryKey: primaryKey}
}

// RecordTypeFromDescriptor builds a record type from a reflected descriptor,
// keyed by the concatenation of its primary-key fields.
func RecordTypeFromDescriptor(d types.RecordDescriptor) RecordType {
	parts := make([]keyexpr.Expression, len(d.PrimaryKey))
	for i, f := range d.PrimaryKey {
		parts[i] = keyexpr.Field(f)
	}
	pk := keyexpr.Concat(parts...)
	if len(parts) == 1 {
		pk = parts[0]
	}
	return RecordType{Name: d.Name, PrimaryKey: pk, Fields: slices.Clone(d.Fields)}
}

// MetaData is an immutable metadata snapshot. Values returned by its accessors
// are shared with the snapshot and must not be modified.
type MetaData struct {
	version int

	recordTypes  []*RecordType
	recordByName map[string]*RecordType

	indexes     []*Index
	indexByName map[string]*Index

	formerIndexes []*FormerIndex
	formerByName  map[string]*FormerIndex
}

// Version returns the snapshot's schema version.
func (m *MetaData) Version() int {
	return m.version
}

// RecordType looks up a record type by name.
func (m *MetaData) RecordType(name string) (*RecordType, error) {
	rt, ok := m.recordByName[name]
	if !ok {
		return nil, rlerrors.NewNotFound("record type", name)
	}
	return rt, nil
}

// HasRecordType reports whether the snapshot defines the record type.
func (m *MetaData) HasRecordType(name string) bool {
	_, ok := m.recordByName[name]
	return ok
}

// Index looks up an index by name.
func (m *MetaData) Index(name string) (*Index, error) {
	idx, ok := m.indexByName[name]
	if !ok {
		return nil, rlerrors.NewNotFound("index", name)
	}
	return idx, nil
}

// FormerIndex looks up a tombstone by name.
func (m *MetaData) FormerIndex(name string) (*FormerIndex, error) {
	f, ok := m.formerByName[name]
	if !ok {
		return nil, rlerrors.NewNotFound("former index", name)
	}
	return f, nil
}

// HasFormerIndex reports whether a tombstone exists for name.
func (m *MetaData) HasFormerIndex(name string) bool {
	_, ok := m.formerByName[name]
	return ok
}

// IndexesForRecordType returns the indexes explicitly scoped to the record type
// together with the universal indexes, in insertion order.
func (m *MetaData) IndexesForRecordType(name string) []*Index {
	var out []*Index
	for _, idx := range m.indexes {
		if idx.AppliesTo(name) {
			out = append(out, idx)
		}
	}
	return out
}

// RecordTypes returns the record types in insertion order.
func (m *MetaData) RecordTypes() []*RecordType {
	return slices.Clone(m.recordTypes)
}

// Indexes returns the indexes in insertion order.
func (m *MetaData) Indexes() []*Index {
	return slices.Clone(m.indexes)
}

// FormerIndexes returns the tombstones in insertion order.
func (m *MetaData) FormerIndexes() []*FormerIndex {
	return slices.Clone(m.formerIndexes)
}

// ToBuilder returns a builder seeded with this snapshot's contents and version.
func (m *MetaData) ToBuilder() *Builder {
	b := NewBuilder().SetVersion(m.version)
	for _, rt := range m.recordTypes {
		b.AddRecordType(*rt)
	}
	for _, idx := range m.indexes {
		b.AddIndex(*idx.clone())
	}
	for _, f := range m.formerIndexes {
		b.AddFormerIndex(*f)
	}
	return b
}

// WithIndexState returns a copy of the snapshot with the named indexes moved to
// state. Unknown names are ignored.
func (m *MetaData) WithIndexState(state IndexState, names ...string) (*MetaData, error) {
	b := m.ToBuilder()
	for i := range b.indexes {
		if slices.Contains(names, b.indexes[i].Name) {
			b.indexes[i].State = state
		}
	}
	return b.Build()
}

// RemoveIndexAsFormer returns a new snapshot without the named index and with
// its tombstone added. The new version is max(removedVersion, Version()+1).
func (m *MetaData) RemoveIndexAsFormer(name string, addedVersion, removedVersion int) (*MetaData, error) {
	version := m.version + 1
	if removedVersion > version {
		version = removedVersion
	}
	return m.ToBuilder().
		SetVersion(version).
		RemoveIndexAsFormer(name, addedVersion, removedVersion).
		Build()
}

// String summarises the snapshot.
func (m *MetaData) String() string {
	return fmt.Sprintf("metadata(v%d, %d record types, %d indexes, %d former indexes)",
		m.version, len(m.recordTypes), len(m.indexes), len(m.formerIndexes))
}

// snapshotJSON is the persisted form of a snapshot.
type snapshotJSON struct {
	Version       int           `json:"version"`
	RecordTypes   []RecordType  `json:"record_types"`
	Indexes       []Index       `json:"indexes"`
	FormerIndexes []FormerIndex `json:"former_indexes"`
}

// MarshalJSON encodes the snapshot.
func (m *MetaData) MarshalJSON() ([]byte, error) {
	s := snapshotJSON{
		Version:       m.version,
		RecordTypes:   make([]RecordType, 0, len(m.recordTypes)),
		Indexes:       make([]Index, 0, len(m.indexes)),
		FormerIndexes: make([]FormerIndex, 0, len(m.formerIndexes)),
	}
	for _, rt := range m.recordTypes {
		s.RecordTypes = append(s.RecordTypes, *rt)
	}
	for _, idx := range m.indexes {
		s.Indexes = append(s.Indexes, *idx)
	}
	for _, f := range m.formerIndexes {
		s.FormerIndexes = append(s.FormerIndexes, *f)
	}
	return json.Marshal(s)
}

// UnmarshalJSON decodes and re-validates a snapshot.
func (m *MetaData) UnmarshalJSON(data []byte) error {
	var s snapshotJSON
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("metadata: failed to decode snapshot: %w", err)
	}
	b := NewBuilder().SetVersion(s.Version)
	for _, rt := range s.RecordTypes {
		b.AddRecordType(rt)
	}
	for _, idx := range s.Indexes {
		b.AddIndex(idx)
	}
	for _, f := range s.FormerIndexes {
		b.AddFormerIndex(f)
	}
	built, err := b.Build()
	if err != nil {
		return err
	}
	*m = *built
	return nil
}

// Parse decodes a JSON snapshot.
func Parse(data []byte) (*MetaData, error) {
	md := &MetaData{}
	if err := json.Unmarshal(data, md); err != nil {
		return nil, err
	}
	return md, nil
}
