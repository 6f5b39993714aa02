package types

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRangeOverlaps(t *testing.T) {
	tests := []struct {
		name string
		a, b Range
		want bool
	}{
		{"disjoint", NewRange(0, 10), NewRange(20, 30), false},
		{"nested", NewRange(0, 100), NewRange(20, 30), true},
		{"partial", NewRange(0, 50), NewRange(25, 75), true},
		{"half-open touching", NewRange(0, 10), NewRange(10, 20), false},
		{"closed touching", NewClosedRange(0, 10), NewRange(10, 20), true},
		{"touching closed other", NewRange(10, 20), NewClosedRange(0, 10), true},
		{"closed both sides", NewClosedRange(0, 10), NewClosedRange(10, 20), true},
		{"int against float", NewRange(0, 10), NewRange(9.5, 12.0), true},
		{"timestamps", NewRange(ts(0), ts(2)), NewRange(ts(1), ts(3)), true},
		{"timestamps touching", NewRange(ts(0), ts(2)), NewRange(ts(2), ts(3)), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.a.Overlaps(tt.b))
			assert.Equal(t, tt.want, tt.b.Overlaps(tt.a), "overlap is symmetric")
		})
	}
}

func TestRangeValidAndContains(t *testing.T) {
	assert.True(t, NewRange(1, 2).Valid())
	assert.False(t, NewRange(2, 2).Valid(), "empty half-open range")
	assert.True(t, NewClosedRange(2, 2).Valid(), "single point closed range")
	assert.False(t, NewClosedRange(3, 2).Valid())
	assert.True(t, NewRange(ts(0), ts(1)).Valid())

	half := NewRange(0, 10)
	assert.True(t, half.Contains(0))
	assert.False(t, half.Contains(10))
	assert.True(t, NewClosedRange(0, 10).Contains(10))
	assert.False(t, half.Contains(-1))

	assert.Equal(t, "[0, 10)", half.String())
	assert.Equal(t, "[0, 10]", NewClosedRange(0, 10).String())
}

func TestCompareAcrossKinds(t *testing.T) {
	ordered := []any{nil, false, true, int64(-3), 2.5, int64(3), ts(0), "", "a", []byte{0x00}}
	for i := range ordered {
		for j := range ordered {
			want := 0
			switch {
			case i < j:
				want = -1
			case i > j:
				want = 1
			}
			assert.Equal(t, want, Compare(ordered[i], ordered[j]), "%v vs %v", ordered[i], ordered[j])
		}
	}
}

func TestCompareNumbersExactly(t *testing.T) {
	assert.Equal(t, 0, Compare(5, 5.0))
	assert.Equal(t, 0, Compare(uint8(7), int64(7)))
	// float64 cannot tell these integers apart
	assert.Equal(t, 1, Compare(int64(1<<53+1), float64(1<<53)))
	assert.Equal(t, -1, Compare(float64(1<<53), int64(1<<53+1)))
	assert.Equal(t, -1, Compare(int64(math.MaxInt64), float64(1<<63)))
	assert.Equal(t, 1, Compare(int64(math.MinInt64), math.Inf(-1)))
	assert.Equal(t, -1, Compare(int64(1), 1.5))
}

func TestCompareTimestamps(t *testing.T) {
	local := time.FixedZone("UTC+2", 2*3600)
	a := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	b := a.In(local)
	assert.Equal(t, 0, Compare(a, b), "same instant in another zone")
	assert.Equal(t, -1, Compare(a, a.Add(time.Nanosecond)))
	assert.True(t, Comparable(a, b))
	assert.False(t, Comparable(a, "2024-05-01"))

	assert.Equal(t, time.UTC, NormalizeValue(b).(time.Time).Location())
}

func TestIsKeyValue(t *testing.T) {
	for _, v := range []any{true, 1, int64(1), 1.5, "s", []byte("b"), ts(0)} {
		assert.True(t, IsKeyValue(v), "%T", v)
	}
	for _, v := range []any{nil, NewRange(1, 2), struct{}{}, map[string]any{}} {
		assert.False(t, IsKeyValue(v), "%T", v)
	}
}

func TestToFloat(t *testing.T) {
	f, ok := ToFloat(int32(4))
	assert.True(t, ok)
	assert.Equal(t, 4.0, f)

	f, ok = ToFloat(time.Unix(2, 500))
	assert.True(t, ok)
	assert.Equal(t, 2e9+500, f)

	_, ok = ToFloat("x")
	assert.False(t, ok)
}

func ts(hours int) time.Time {
	return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(hours) * time.Hour)
}
