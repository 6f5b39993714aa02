package metadata

import (
	"slices"

	rlerrors "github.com/arkilian/recordlayer/internal/errors"
	"github.com/arkilian/recordlayer/internal/keyexpr"
)

// IndexType names an index kind variant.
type IndexType string

const (
	IndexValue   IndexType = "value"
	IndexRank    IndexType = "rank"
	IndexCount   IndexType = "count"
	IndexSum     IndexType = "sum"
	IndexMin     IndexType = "min"
	IndexMax     IndexType = "max"
	IndexVector  IndexType = "vector"
	IndexSpatial IndexType = "spatial"
	IndexVersion IndexType = "version"
)

// DistanceMetric is the similarity function of a vector index.
type DistanceMetric string

const (
	MetricCosine    DistanceMetric = "cosine"
	MetricEuclidean DistanceMetric = "euclidean"
	MetricDot       DistanceMetric = "dot"
)

// AltitudeRange bounds the altitude axis of a 3D spatial index.
type AltitudeRange struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// IndexKind is the closed set of index kinds. Vector and spatial kinds carry
// their parameters; the planner treats both as opaque.
type IndexKind struct {
	Type IndexType `json:"type"`

	// Vector parameters
	Dimensions int            `json:"dimensions,omitempty"`
	Metric     DistanceMetric `json:"metric,omitempty"`

	// Spatial parameters
	CoordinatePaths []string       `json:"coordinate_paths,omitempty"`
	Level           int            `json:"level,omitempty"`
	Altitude        *AltitudeRange `json:"altitude,omitempty"`
}

// Kind returns a parameterless index kind.
func Kind(t IndexType) IndexKind {
	return IndexKind{Type: t}
}

// VectorKind returns a vector index kind.
func VectorKind(dimensions int, metric DistanceMetric) IndexKind {
	return IndexKind{Type: IndexVector, Dimensions: dimensions, Metric: metric}
}

// SpatialKind returns a spatial index kind. altitude may be nil for 2D indexes.
func SpatialKind(coordinatePaths []string, level int, altitude *AltitudeRange) IndexKind {
	return IndexKind{
		Type:            IndexSpatial,
		CoordinatePaths: slices.Clone(coordinatePaths),
		Level:           level,
		Altitude:        altitude,
	}
}

// Scannable reports whether entries of this kind are ordered value keys that a
// range read can return, i.e. value and rank indexes.
func (k IndexKind) Scannable() bool {
	return k.Type == IndexValue || k.Type == IndexRank
}

// Aggregate reports whether the index maintains an atomic aggregate.
func (k IndexKind) Aggregate() bool {
	switch k.Type {
	case IndexCount, IndexSum, IndexMin, IndexMax:
		return true
	}
	return false
}

// Equal compares kind and parameters.
func (k IndexKind) Equal(other IndexKind) bool {
	if k.Type != other.Type || k.Dimensions != other.Dimensions || k.Metric != other.Metric || k.Level != other.Level {
		return false
	}
	if !slices.Equal(k.CoordinatePaths, other.CoordinatePaths) {
		return false
	}
	if (k.Altitude == nil) != (other.Altitude == nil) {
		return false
	}
	return k.Altitude == nil || *k.Altitude == *other.Altitude
}

// String returns the kind name.
func (k IndexKind) String() string {
	return string(k.Type)
}

func (k IndexKind) validate(index string) error {
	switch k.Type {
	case IndexValue, IndexRank, IndexCount, IndexSum, IndexMin, IndexMax, IndexVersion:
		return nil
	case IndexVector:
		if k.Dimensions <= 0 {
			return rlerrors.NewInvalidArgument("vector index %q requires a positive dimension count", index)
		}
		switch k.Metric {
		case MetricCosine, MetricEuclidean, MetricDot:
			return nil
		}
		return rlerrors.NewInvalidArgument("vector index %q has unknown metric %q", index, k.Metric)
	case IndexSpatial:
		if len(k.CoordinatePaths) < 2 {
			return rlerrors.NewInvalidArgument("spatial index %q requires at least two coordinate paths", index)
		}
		if k.Level <= 0 {
			return rlerrors.NewInvalidArgument("spatial index %q requires a positive curve level", index)
		}
		if k.Altitude != nil && k.Altitude.Min > k.Altitude.Max {
			return rlerrors.NewInvalidArgument("spatial index %q has an inverted altitude range", index)
		}
		return nil
	default:
		return rlerrors.NewInvalidArgument("index %q has unknown kind %q", index, k.Type)
	}
}

// Scope says whether index entries live with each partition or in one global region.
type Scope string

const (
	ScopePartition Scope = "partition"
	ScopeGlobal    Scope = "global"
)

// IndexState gates whether an index may serve reads.
type IndexState string

const (
	StateReadable  IndexState = "readable"
	StateWriteOnly IndexState = "write_only"
	StateDisabled  IndexState = "disabled"
)

// Index describes a secondary index.
type Index struct {
	Name   string             `json:"name"`
	Kind   IndexKind          `json:"kind"`
	Root   keyexpr.Expression `json:"root"`
	Unique bool               `json:"unique,omitempty"`

	// RecordTypes lists the owning record types; nil means universal.
	RecordTypes []string `json:"record_types,omitempty"`

	Scope        Scope      `json:"scope"`
	AddedVersion int        `json:"added_version"`
	State        IndexState `json:"state"`
}

// NewValueIndex returns a readable value index.
func NewValueIndex(name string, root keyexpr.Expression, recordTypes ...string) Index {
	return Index{
		Name:        name,
		Kind:        Kind(IndexValue),
		Root:        root,
		RecordTypes: recordTypes,
		Scope:       ScopePartition,
		State:       StateReadable,
	}
}

// IsUniversal reports whether the index applies to every record type.
func (i *Index) IsUniversal() bool {
	return len(i.RecordTypes) == 0
}

// AppliesTo reports whether records of the given type are indexed.
func (i *Index) AppliesTo(recordType string) bool {
	return i.IsUniversal() || slices.Contains(i.RecordTypes, recordType)
}

// Readable reports whether the index may serve scans and statistics.
func (i *Index) Readable() bool {
	return i.State == "" || i.State == StateReadable
}

// Writable reports whether record saves maintain the index.
func (i *Index) Writable() bool {
	return i.State != StateDisabled
}

func (i *Index) clone() *Index {
	cp := *i
	cp.RecordTypes = slices.Clone(i.RecordTypes)
	cp.Kind.CoordinatePaths = slices.Clone(i.Kind.CoordinatePaths)
	if i.Kind.Altitude != nil {
		alt := *i.Kind.Altitude
		cp.Kind.Altitude = &alt
	}
	return &cp
}

// FormerIndex is the permanent tombstone of a removed index.
type FormerIndex struct {
	Name           string `json:"name"`
	AddedVersion   int    `json:"added_version"`
	RemovedVersion int    `json:"removed_version"`
	FormerName     string `json:"former_name,omitempty"`
}

// Equal compares every field.
func (f FormerIndex) Equal(other FormerIndex) bool {
	return f == other
}
