// Package statistics collects per-record-type and per-index statistics,
// persists them in the key-value store and turns them into selectivity
// estimates for the query planner.
package statistics

import (
	"time"

	"github.com/arkilian/recordlayer/pkg/types"
)

// Defaults are the selectivities used when no histogram covers a predicate.
type Defaults struct {
	// Equality applies to =, IN and IS NULL on an uncovered field.
	Equality float64 `json:"equality" yaml:"equality"`

	// Range applies to <, <=, > and >= on an uncovered field.
	Range float64 `json:"range" yaml:"range"`

	// ColdStart is returned for any filter when nothing has been collected
	// for the record type yet.
	ColdStart float64 `json:"cold_start" yaml:"cold_start"`
}

// DefaultSelectivities returns the built-in defaults.
func DefaultSelectivities() Defaults {
	return Defaults{Equality: 0.3, Range: 0.5, ColdStart: 0.5}
}

func (d Defaults) orBuiltin() Defaults {
	b := DefaultSelectivities()
	if d.Equality <= 0 || d.Equality > 1 {
		d.Equality = b.Equality
	}
	if d.Range <= 0 || d.Range > 1 {
		d.Range = b.Range
	}
	if d.ColdStart <= 0 || d.ColdStart > 1 {
		d.ColdStart = b.ColdStart
	}
	return d
}

// FieldStatistics summarises the sampled values of one column. The key is a
// field path, with "@lower"/"@upper" appended for range boundaries.
type FieldStatistics struct {
	Key       string     `json:"key"`
	NonNull   int64      `json:"non_null"`
	Distinct  int64      `json:"distinct"`
	Histogram *Histogram `json:"histogram,omitempty"`
}

// NullFraction is the share of sampled records lacking the column.
func (f *FieldStatistics) NullFraction(sampled int64) float64 {
	if sampled <= 0 {
		return 0
	}
	return clamp(1 - float64(f.NonNull)/float64(sampled))
}

// TableStatistics describes the records of one type.
type TableStatistics struct {
	RecordType        string                      `json:"record_type"`
	SampleRate        float64                     `json:"sample_rate"`
	SampledRows       int64                       `json:"sampled_rows"`
	EstimatedRowCount int64                       `json:"estimated_row_count"`
	AvgPayloadBytes   float64                     `json:"avg_payload_bytes"`
	Fields            map[string]*FieldStatistics `json:"fields"`
	CollectedAt       time.Time                   `json:"collected_at"`
	RunID             string                      `json:"run_id"`
}

// IndexStatistics describes the leading column of a value or rank index.
// Buckets are persisted one key each; Histogram is rebuilt on load.
type IndexStatistics struct {
	Index          string             `json:"index"`
	Column         string             `json:"column"`
	Boundary       types.BoundaryKind `json:"boundary,omitempty"`
	Entries        int64              `json:"entries"`
	SampledEntries int64              `json:"sampled_entries"`
	BucketCount    int                `json:"bucket_count"`
	Histogram      *Histogram         `json:"-"`
	CollectedAt    time.Time          `json:"collected_at"`
	RunID          string             `json:"run_id"`
}

// Fresh reports whether the statistics are younger than maxAge. A
// non-positive maxAge never expires them.
func (s *IndexStatistics) Fresh(now time.Time, maxAge time.Duration) bool {
	return maxAge <= 0 || now.Sub(s.CollectedAt) <= maxAge
}
