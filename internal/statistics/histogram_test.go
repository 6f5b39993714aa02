package statistics

import (
	"encoding/json"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arkilian/recordlayer/internal/query"
)

func words(vs ...string) []any {
	out := make([]any, len(vs))
	for i, v := range vs {
		out[i] = v
	}
	return out
}

func TestHistogramEqualityFiveOfTen(t *testing.T) {
	values := words("red", "red", "red", "red", "red", "blue", "green", "yellow", "black", "white")

	for _, buckets := range []int{3, 4, 5, 10, 32} {
		h := BuildHistogram(values, buckets)
		sel := h.EstimateEquality("red")
		assert.Greater(t, sel, 0.4, "buckets=%d", buckets)
		assert.Less(t, sel, 0.6, "buckets=%d", buckets)
	}
}

func TestHistogramShape(t *testing.T) {
	h := BuildHistogram([]any{5, 1, 3, 2, 4, 3}, 3)
	require.Len(t, h.Buckets, 3)
	assert.Equal(t, int64(6), h.Total)
	assert.Equal(t, Bucket{Lower: int64(1), Upper: int64(2), Count: 2, Distinct: 2}, h.Buckets[0])
	assert.Equal(t, Bucket{Lower: int64(3), Upper: int64(3), Count: 2, Distinct: 1}, h.Buckets[1])
	assert.Equal(t, Bucket{Lower: int64(4), Upper: int64(5), Count: 2, Distinct: 2}, h.Buckets[2])

	assert.True(t, BuildHistogram(nil, 4).Empty())
	assert.Zero(t, BuildHistogram(nil, 4).EstimateEquality(1))
}

func TestHistogramRange(t *testing.T) {
	var values []any
	for i := 1; i <= 10; i++ {
		values = append(values, i)
	}
	h := BuildHistogram(values, 10)

	assert.InDelta(t, 0.5, h.EstimateRange(query.OpLt, 5.5), 1e-9)
	assert.InDelta(t, 0.4, h.EstimateRange(query.OpLt, 5), 1e-9)
	assert.InDelta(t, 0.5, h.EstimateRange(query.OpLe, 5), 1e-9)
	assert.InDelta(t, 0.5, h.EstimateRange(query.OpGt, 5), 1e-9)
	assert.InDelta(t, 0.6, h.EstimateRange(query.OpGe, 5), 1e-9)
	assert.Zero(t, h.EstimateRange(query.OpLt, 0))
	assert.Equal(t, 1.0, h.EstimateRange(query.OpLe, 100))

	// interpolation inside a wide bucket
	wide := BuildHistogram([]any{0, 100}, 1)
	assert.InDelta(t, 0.25, wide.EstimateRange(query.OpLt, 25), 1e-9)
}

func TestBucketJSONKeepsKinds(t *testing.T) {
	h := BuildHistogram([]any{int64(1), 2.5, "x", []byte{0, 1}, true}, 5)
	data, err := json.Marshal(h)
	require.NoError(t, err)

	var back Histogram
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, h.Total, back.Total)
	require.Len(t, back.Buckets, len(h.Buckets))
	for i := range h.Buckets {
		assert.Equal(t, h.Buckets[i], back.Buckets[i])
	}
}

func TestReservoir(t *testing.T) {
	r := NewReservoir(10, 1)
	for i := 0; i < 5; i++ {
		r.Add(i)
	}
	assert.Len(t, r.Values(), 5)

	for i := 5; i < 10000; i++ {
		r.Add(i)
	}
	assert.Len(t, r.Values(), 10)
	assert.Equal(t, int64(10000), r.Seen())

	// same seed, same sample
	again := NewReservoir(10, 1)
	for i := 0; i < 10000; i++ {
		again.Add(i)
	}
	assert.Equal(t, r.Values(), again.Values())
}

func TestHistogramProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("buckets are equi-depth and cover every sample", prop.ForAll(
		func(values []int64, buckets int) bool {
			in := make([]any, len(values))
			for i, v := range values {
				in[i] = v
			}
			h := BuildHistogram(in, buckets)
			var total, lo, hi int64
			lo = int64(len(values))
			for _, b := range h.Buckets {
				total += b.Count
				if b.Count < lo {
					lo = b.Count
				}
				if b.Count > hi {
					hi = b.Count
				}
			}
			return total == int64(len(values)) && (len(h.Buckets) == 0 || hi-lo <= 1)
		},
		gen.SliceOf(gen.Int64Range(-50, 50)),
		gen.IntRange(1, 16),
	))

	properties.Property("estimates stay within [0, 1]", prop.ForAll(
		func(values []int64, at int64) bool {
			in := make([]any, len(values))
			for i, v := range values {
				in[i] = v
			}
			h := BuildHistogram(in, 8)
			for _, s := range []float64{
				h.EstimateEquality(at),
				h.EstimateRange(query.OpLt, at),
				h.EstimateRange(query.OpLe, at),
				h.EstimateRange(query.OpGt, at),
				h.EstimateRange(query.OpGe, at),
			} {
				if s < 0 || s > 1 {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.Int64Range(-20, 20)),
		gen.Int64Range(-25, 25),
	))

	properties.TestingRun(t)
}
