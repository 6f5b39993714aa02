package statistics

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/arkilian/recordlayer/internal/keyspace"
	"github.com/arkilian/recordlayer/internal/query"
	"github.com/arkilian/recordlayer/pkg/types"
)

// Bucket is one bucket of an equi-depth histogram. Lower and Upper are the
// smallest and largest sampled values that fell into it.
type Bucket struct {
	Lower    any
	Upper    any
	Count    int64
	Distinct int64
}

// Contains reports whether v lies inside the bucket bounds.
func (b Bucket) Contains(v any) bool {
	return types.Compare(v, b.Lower) >= 0 && types.Compare(v, b.Upper) <= 0
}

// bounds are tuple-packed so every key value kind survives a JSON round trip
type wireBucket struct {
	Lower    []byte `json:"lower"`
	Upper    []byte `json:"upper"`
	Count    int64  `json:"count"`
	Distinct int64  `json:"distinct"`
}

// MarshalJSON encodes the bucket with tuple-packed bounds.
func (b Bucket) MarshalJSON() ([]byte, error) {
	lower, err := keyspace.Tuple{b.Lower}.Pack()
	if err != nil {
		return nil, fmt.Errorf("statistics: bucket lower bound: %w", err)
	}
	upper, err := keyspace.Tuple{b.Upper}.Pack()
	if err != nil {
		return nil, fmt.Errorf("statistics: bucket upper bound: %w", err)
	}
	return json.Marshal(wireBucket{Lower: lower, Upper: upper, Count: b.Count, Distinct: b.Distinct})
}

// UnmarshalJSON decodes a bucket written by MarshalJSON.
func (b *Bucket) UnmarshalJSON(data []byte) error {
	var w wireBucket
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	lower, err := unpackOne(w.Lower)
	if err != nil {
		return err
	}
	upper, err := unpackOne(w.Upper)
	if err != nil {
		return err
	}
	*b = Bucket{Lower: lower, Upper: upper, Count: w.Count, Distinct: w.Distinct}
	return nil
}

func unpackOne(b []byte) (any, error) {
	t, err := keyspace.Unpack(b)
	if err != nil {
		return nil, fmt.Errorf("statistics: bucket bound: %w", err)
	}
	if len(t) != 1 {
		return nil, fmt.Errorf("statistics: bucket bound holds %d values", len(t))
	}
	return t[0], nil
}

// Histogram is an equi-depth histogram: every bucket holds roughly the same
// number of sampled values.
type Histogram struct {
	Buckets []Bucket `json:"buckets"`
	Total   int64    `json:"total"`
}

// BuildHistogram sorts values and splits them into at most bucketCount
// buckets of near-equal size.
func BuildHistogram(values []any, bucketCount int) *Histogram {
	h := &Histogram{Total: int64(len(values))}
	if len(values) == 0 || bucketCount <= 0 {
		return h
	}
	sorted := make([]any, len(values))
	for i, v := range values {
		sorted[i] = types.NormalizeValue(v)
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		return types.Compare(sorted[i], sorted[j]) < 0
	})

	n := len(sorted)
	if bucketCount > n {
		bucketCount = n
	}
	h.Buckets = make([]Bucket, 0, bucketCount)
	for i := 0; i < bucketCount; i++ {
		chunk := sorted[i*n/bucketCount : (i+1)*n/bucketCount]
		if len(chunk) == 0 {
			continue
		}
		distinct := int64(1)
		for j := 1; j < len(chunk); j++ {
			if types.Compare(chunk[j-1], chunk[j]) != 0 {
				distinct++
			}
		}
		h.Buckets = append(h.Buckets, Bucket{
			Lower:    chunk[0],
			Upper:    chunk[len(chunk)-1],
			Count:    int64(len(chunk)),
			Distinct: distinct,
		})
	}
	return h
}

// Empty reports whether the histogram holds no samples.
func (h *Histogram) Empty() bool {
	return h == nil || h.Total == 0
}

// EstimateEquality estimates the fraction of values equal to v. Every bucket
// whose bounds contain v contributes its fraction divided by its distinct count.
func (h *Histogram) EstimateEquality(v any) float64 {
	if h.Empty() {
		return 0
	}
	var s float64
	for _, b := range h.Buckets {
		if !b.Contains(v) {
			continue
		}
		d := b.Distinct
		if d < 1 {
			d = 1
		}
		s += float64(b.Count) / float64(h.Total) / float64(d)
	}
	return clamp(s)
}

// fractionBelow estimates the fraction of values strictly less than v.
func (h *Histogram) fractionBelow(v any) float64 {
	if h.Empty() {
		return 0
	}
	var below float64
	for _, b := range h.Buckets {
		switch {
		case types.Compare(b.Upper, v) < 0:
			below += float64(b.Count)
		case types.Compare(b.Lower, v) >= 0:
		default:
			below += float64(b.Count) * interpolate(b, v)
		}
	}
	return clamp(below / float64(h.Total))
}

// interpolate estimates the share of a bucket below v, for Lower < v <= Upper.
// Non-numeric bounds split the bucket in half.
func interpolate(b Bucket, v any) float64 {
	lo, okLo := types.ToFloat(b.Lower)
	hi, okHi := types.ToFloat(b.Upper)
	x, okX := types.ToFloat(v)
	if !okLo || !okHi || !okX || hi <= lo {
		return 0.5
	}
	f := (x - lo) / (hi - lo)
	// values equal to Upper are not below v when v == Upper
	if f >= 1 && b.Distinct > 0 {
		f = 1 - 1/float64(b.Distinct)
	}
	return clamp(f)
}

// EstimateRange estimates the fraction of values satisfying "value op v" for
// an ordering operator.
func (h *Histogram) EstimateRange(op query.Op, v any) float64 {
	if h.Empty() {
		return 0
	}
	switch op {
	case query.OpLt:
		return h.fractionBelow(v)
	case query.OpLe:
		return clamp(h.fractionBelow(v) + h.EstimateEquality(v))
	case query.OpGt:
		return clamp(1 - h.fractionBelow(v) - h.EstimateEquality(v))
	case query.OpGe:
		return clamp(1 - h.fractionBelow(v))
	}
	return 0
}

func clamp(s float64) float64 {
	switch {
	case s < 0:
		return 0
	case s > 1:
		return 1
	default:
		return s
	}
}
