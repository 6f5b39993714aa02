package types

import (
	"bytes"
	"fmt"
	"math"
	"strings"
	"time"
)

// BoundaryKind determines how the upper end of a range is compared.
type BoundaryKind string

const (
	// BoundaryHalfOpen is [lower, upper)
	BoundaryHalfOpen BoundaryKind = "half_open"
	// BoundaryClosed is [lower, upper]
	BoundaryClosed BoundaryKind = "closed"
)

// Range is a range-typed field value. Lower is always inclusive; Kind decides
// whether Upper is.
type Range struct {
	Lower any          `json:"lower"`
	Upper any          `json:"upper"`
	Kind  BoundaryKind `json:"kind"`
}

// NewRange returns a half-open range [lower, upper).
func NewRange(lower, upper any) Range {
	return Range{Lower: NormalizeValue(lower), Upper: NormalizeValue(upper), Kind: BoundaryHalfOpen}
}

// NewClosedRange returns a closed range [lower, upper].
func NewClosedRange(lower, upper any) Range {
	return Range{Lower: NormalizeValue(lower), Upper: NormalizeValue(upper), Kind: BoundaryClosed}
}

// UpperInclusive reports whether the upper bound belongs to the range.
func (r Range) UpperInclusive() bool {
	return r.Kind == BoundaryClosed
}

// Contains reports whether v lies inside the range.
func (r Range) Contains(v any) bool {
	if Compare(v, r.Lower) < 0 {
		return false
	}
	c := Compare(v, r.Upper)
	if r.UpperInclusive() {
		return c <= 0
	}
	return c < 0
}

// Overlaps reports whether the two ranges share at least one point.
func (r Range) Overlaps(other Range) bool {
	c := Compare(r.Lower, other.Upper)
	if other.UpperInclusive() {
		if c > 0 {
			return false
		}
	} else if c >= 0 {
		return false
	}
	c = Compare(r.Upper, other.Lower)
	if r.UpperInclusive() {
		return c >= 0
	}
	return c > 0
}

// Valid reports whether lower does not exceed upper.
func (r Range) Valid() bool {
	c := Compare(r.Lower, r.Upper)
	if r.UpperInclusive() {
		return c <= 0
	}
	return c < 0
}

// String renders the range in interval notation.
func (r Range) String() string {
	closing := ")"
	if r.UpperInclusive() {
		closing = "]"
	}
	return fmt.Sprintf("[%v, %v%s", r.Lower, r.Upper, closing)
}

// NormalizeValue maps Go primitives onto the canonical key value set:
// all signed and unsigned integers become int64, float32 becomes float64 and
// timestamps lose their location and monotonic reading.
func NormalizeValue(v any) any {
	switch val := v.(type) {
	case time.Time:
		return val.UTC()
	case *time.Time:
		if val == nil {
			return nil
		}
		return val.UTC()
	case int:
		return int64(val)
	case int8:
		return int64(val)
	case int16:
		return int64(val)
	case int32:
		return int64(val)
	case uint:
		return int64(val)
	case uint8:
		return int64(val)
	case uint16:
		return int64(val)
	case uint32:
		return int64(val)
	case uint64:
		if val > math.MaxInt64 {
			return float64(val)
		}
		return int64(val)
	case float32:
		return float64(val)
	default:
		return v
	}
}

const rankOther = 6

// typeRank orders values of different kinds: nil < bool < number < time <
// string < bytes < other.
func typeRank(v any) int {
	switch v.(type) {
	case nil:
		return 0
	case bool:
		return 1
	case int64, float64:
		return 2
	case time.Time:
		return 3
	case string:
		return 4
	case []byte:
		return 5
	default:
		return rankOther
	}
}

// IsKeyValue reports whether v is a non-nil value the key encoding accepts.
func IsKeyValue(v any) bool {
	switch NormalizeValue(v).(type) {
	case bool, int64, float64, time.Time, string, []byte:
		return true
	}
	return false
}

// Compare returns -1, 0 or 1 ordering a relative to b. The ordering is total
// over key-compatible values and consistent with the tuple encoding.
func Compare(a, b any) int {
	a = NormalizeValue(a)
	b = NormalizeValue(b)

	ra, rb := typeRank(a), typeRank(b)
	if ra != rb {
		if ra < rb {
			return -1
		}
		return 1
	}

	switch av := a.(type) {
	case nil:
		return 0
	case bool:
		bv := b.(bool)
		switch {
		case av == bv:
			return 0
		case !av:
			return -1
		default:
			return 1
		}
	case int64:
		switch bv := b.(type) {
		case int64:
			return compareInt(av, bv)
		case float64:
			return compareIntFloat(av, bv)
		}
	case float64:
		switch bv := b.(type) {
		case int64:
			return -compareIntFloat(bv, av)
		case float64:
			return compareFloat(av, bv)
		}
	case time.Time:
		return av.Compare(b.(time.Time))
	case string:
		return strings.Compare(av, b.(string))
	case []byte:
		return bytes.Compare(av, b.([]byte))
	}
	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
}

// Equal reports whether Compare(a, b) == 0.
func Equal(a, b any) bool {
	return Compare(a, b) == 0
}

// ToFloat converts numeric values to float64 for interpolation. Timestamps
// map to Unix nanoseconds.
func ToFloat(v any) (float64, bool) {
	switch val := NormalizeValue(v).(type) {
	case int64:
		return float64(val), true
	case float64:
		return val, true
	case time.Time:
		return float64(val.Unix())*1e9 + float64(val.Nanosecond()), true
	default:
		return 0, false
	}
}

func compareInt(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// compareIntFloat compares exactly; converting i to float64 would round
// integers beyond 2^53.
func compareIntFloat(i int64, f float64) int {
	switch {
	case math.IsNaN(f):
		return compareFloat(float64(i), f)
	case f >= twoTo63:
		return -1
	case f < -twoTo63:
		return 1
	case f == math.Trunc(f):
		return compareInt(i, int64(f))
	default:
		return compareFloat(float64(i), f)
	}
}

const twoTo63 = float64(1 << 63)

func compareFloat(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// Comparable reports whether a and b are of kinds that order meaningfully
// against each other: both numbers, or the same primitive kind.
func Comparable(a, b any) bool {
	ra, rb := typeRank(NormalizeValue(a)), typeRank(NormalizeValue(b))
	return ra == rb && ra != rankOther
}
