package statistics

import "math/rand/v2"

// Reservoir keeps a uniform sample of at most size values from a stream of
// unknown length (Algorithm R).
type Reservoir struct {
	size  int
	seen  int64
	items []any
	rng   *rand.Rand
}

// NewReservoir creates a reservoir. A fixed seed makes sampling reproducible.
func NewReservoir(size int, seed uint64) *Reservoir {
	return &Reservoir{
		size:  size,
		items: make([]any, 0, size),
		rng:   rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
	}
}

// Add offers one value to the reservoir.
func (r *Reservoir) Add(v any) {
	r.seen++
	if len(r.items) < r.size {
		r.items = append(r.items, v)
		return
	}
	if j := r.rng.Int64N(r.seen); j < int64(r.size) {
		r.items[j] = v
	}
}

// Seen returns how many values were offered.
func (r *Reservoir) Seen() int64 {
	return r.seen
}

// Values returns the current sample.
func (r *Reservoir) Values() []any {
	return r.items
}
