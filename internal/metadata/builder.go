package metadata

import (
	"fmt"
	"slices"

	rlerrors "github.com/arkilian/recordlayer/internal/errors"
)

// Builder accumulates record types, indexes and tombstones for a snapshot.
// Validation happens in Build; the first bookkeeping error encountered by a
// mutator is also reported there.
type Builder struct {
	version       int
	recordTypes   []RecordType
	indexes       []Index
	formerIndexes []FormerIndex
	err           error
}

// NewBuilder returns an empty builder at version 0.
func NewBuilder() *Builder {
	return &Builder{}
}

// SetVersion sets the snapshot version.
func (b *Builder) SetVersion(version int) *Builder {
	b.version = version
	return b
}

// Version returns the version the builder will produce.
func (b *Builder) Version() int {
	return b.version
}

// AddRecordType adds a record type. Duplicate names are rejected by Build.
func (b *Builder) AddRecordType(rt RecordType) *Builder {
	if rt.SinceVersion == 0 {
		rt.SinceVersion = b.version
	}
	rt.Fields = slices.Clone(rt.Fields)
	b.recordTypes = append(b.recordTypes, rt)
	return b
}

// RemoveRecordType drops a record type. Indexes still owned by it make Build fail.
func (b *Builder) RemoveRecordType(name string) *Builder {
	before := len(b.recordTypes)
	b.recordTypes = slices.DeleteFunc(b.recordTypes, func(rt RecordType) bool { return rt.Name == name })
	if len(b.recordTypes) == before {
		b.setErr(rlerrors.NewNotFound("record type", name))
	}
	return b
}

// AddIndex adds an index. Unset scope, state and added version default to
// partition, readable and the builder's version.
func (b *Builder) AddIndex(idx Index) *Builder {
	cp := *idx.clone()
	if cp.Scope == "" {
		cp.Scope = ScopePartition
	}
	if cp.State == "" {
		cp.State = StateReadable
	}
	if cp.AddedVersion == 0 {
		cp.AddedVersion = b.version
	}
	b.indexes = append(b.indexes, cp)
	return b
}

// AddFormerIndex adds a tombstone.
func (b *Builder) AddFormerIndex(f FormerIndex) *Builder {
	b.formerIndexes = append(b.formerIndexes, f)
	return b
}

// RemoveIndexAsFormer deletes the named index and records its tombstone in one
// step. It is the only supported way to retire an index.
func (b *Builder) RemoveIndexAsFormer(name string, addedVersion, removedVersion int) *Builder {
	pos := slices.IndexFunc(b.indexes, func(idx Index) bool { return idx.Name == name })
	if pos < 0 {
		b.setErr(rlerrors.NewNotFound("index", name))
		return b
	}
	b.indexes = slices.Delete(b.indexes, pos, pos+1)
	b.formerIndexes = append(b.formerIndexes, FormerIndex{
		Name:           name,
		AddedVersion:   addedVersion,
		RemovedVersion: removedVersion,
	})
	return b
}

func (b *Builder) setErr(err error) {
	if b.err == nil {
		b.err = err
	}
}

// Build validates the accumulated definitions and returns an immutable snapshot.
func (b *Builder) Build() (*MetaData, error) {
	if b.err != nil {
		return nil, b.err
	}
	if b.version < 0 {
		return nil, rlerrors.NewInvalidArgument("metadata version must be non-negative, got %d", b.version)
	}

	md := &MetaData{
		version:      b.version,
		recordByName: make(map[string]*RecordType, len(b.recordTypes)),
		indexByName:  make(map[string]*Index, len(b.indexes)),
		formerByName: make(map[string]*FormerIndex, len(b.formerIndexes)),
	}

	for i := range b.recordTypes {
		rt := b.recordTypes[i]
		if rt.Name == "" {
			return nil, rlerrors.NewInvalidArgument("record type name must not be empty")
		}
		if _, dup := md.recordByName[rt.Name]; dup {
			return nil, rlerrors.NewDuplicateRecordType(rt.Name)
		}
		if rt.PrimaryKey.IsEmpty() {
			return nil, rlerrors.NewInvalidArgument("record type %q requires a primary key", rt.Name)
		}
		if err := rt.PrimaryKey.Validate(); err != nil {
			return nil, fmt.Errorf("metadata: record type %s primary key: %w", rt.Name, err)
		}
		md.recordTypes = append(md.recordTypes, &rt)
		md.recordByName[rt.Name] = &rt
	}

	for i := range b.formerIndexes {
		f := b.formerIndexes[i]
		if f.Name == "" {
			return nil, rlerrors.NewInvalidArgument("former index name must not be empty")
		}
		if f.RemovedVersion < f.AddedVersion {
			return nil, rlerrors.NewInvalidArgument("former index %q removed at version %d before it was added at %d",
				f.Name, f.RemovedVersion, f.AddedVersion)
		}
		if _, dup := md.formerByName[f.Name]; dup {
			return nil, rlerrors.NewInvalidArgument("former index %q recorded more than once", f.Name)
		}
		md.formerIndexes = append(md.formerIndexes, &f)
		md.formerByName[f.Name] = &f
	}

	for i := range b.indexes {
		idx := b.indexes[i].clone()
		if idx.Name == "" {
			return nil, rlerrors.NewInvalidArgument("index name must not be empty")
		}
		if _, dup := md.indexByName[idx.Name]; dup {
			return nil, rlerrors.NewInvalidArgument("index %q defined more than once", idx.Name)
		}
		if _, retired := md.formerByName[idx.Name]; retired {
			return nil, rlerrors.NewInvalidArgument("index %q reuses the name of a former index", idx.Name)
		}
		if err := idx.Kind.validate(idx.Name); err != nil {
			return nil, err
		}
		if err := idx.Root.Validate(); err != nil {
			return nil, fmt.Errorf("metadata: index %s root: %w", idx.Name, err)
		}
		for _, owner := range idx.RecordTypes {
			if _, ok := md.recordByName[owner]; !ok {
				return nil, rlerrors.NewInvalidArgument("index %q names unknown record type %q", idx.Name, owner)
			}
		}
		md.indexes = append(md.indexes, idx)
		md.indexByName[idx.Name] = idx
	}

	return md, nil
}
