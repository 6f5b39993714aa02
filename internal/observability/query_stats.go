// Package observability provides planner and statistics counters and the
// predicate frequency tracker used to spot fields worth indexing.
package observability

import (
	"sort"
	"sync"
	"time"
)

// QueryStats tracks how often fields appear in planned predicates.
type QueryStats struct {
	mu            sync.RWMutex
	predicateFreq map[string]*FieldStats
	overlapFreq   map[string]*FieldStats
	window        time.Duration
}

// FieldStats holds statistics for one field path.
type FieldStats struct {
	Field     string         `json:"field"`
	Frequency int64          `json:"frequency"`
	LastSeen  time.Time      `json:"last_seen"`
	Operators map[string]int `json:"operators"` // operator → count (e.g., "=" → 5, "IN" → 2)
}

// NewQueryStats creates a new query statistics tracker.
// window: time duration for pruning old entries (e.g., 1 hour)
func NewQueryStats(window time.Duration) *QueryStats {
	return &QueryStats{
		predicateFreq: make(map[string]*FieldStats),
		overlapFreq:   make(map[string]*FieldStats),
		window:        window,
	}
}

// RecordPredicate records a comparison on a field path.
// This method is O(1) and thread-safe.
func (q *QueryStats) RecordPredicate(field, operator string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	record(q.predicateFreq, field, operator)
}

// RecordOverlaps records an overlap query on a range-typed field.
func (q *QueryStats) RecordOverlaps(field string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	record(q.overlapFreq, field, "OVERLAPS")
}

func record(freq map[string]*FieldStats, field, operator string) {
	stats, exists := freq[field]
	if !exists {
		stats = &FieldStats{
			Field:     field,
			Operators: make(map[string]int),
		}
		freq[field] = stats
	}
	stats.Frequency++
	stats.LastSeen = time.Now()
	stats.Operators[operator]++
}

// GetTopPredicates returns the top N predicate fields by frequency.
// Returns a copy of the stats sorted by frequency (descending).
func (q *QueryStats) GetTopPredicates(n int) []FieldStats {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return top(q.predicateFreq, n)
}

// GetTopOverlaps returns the top N range fields used in overlap queries.
func (q *QueryStats) GetTopOverlaps(n int) []FieldStats {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return top(q.overlapFreq, n)
}

func top(freq map[string]*FieldStats, n int) []FieldStats {
	if n <= 0 || len(freq) == 0 {
		return []FieldStats{}
	}

	stats := make([]FieldStats, 0, len(freq))
	for _, s := range freq {
		// Deep copy to prevent external modification
		statsCopy := FieldStats{
			Field:     s.Field,
			Frequency: s.Frequency,
			LastSeen:  s.LastSeen,
			Operators: make(map[string]int, len(s.Operators)),
		}
		for op, count := range s.Operators {
			statsCopy.Operators[op] = count
		}
		stats = append(stats, statsCopy)
	}

	sort.Slice(stats, func(i, j int) bool {
		if stats[i].Frequency != stats[j].Frequency {
			return stats[i].Frequency > stats[j].Frequency
		}
		return stats[i].Field < stats[j].Field
	})

	if n > len(stats) {
		n = len(stats)
	}
	return stats[:n]
}

// Window returns how long an entry survives without being seen.
func (q *QueryStats) Window() time.Duration {
	return q.window
}

// Prune removes entries not seen within the window and returns how many it
// removed. The server calls it on a ticker derived from the window.
func (q *QueryStats) Prune() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	removed := 0
	threshold := time.Now().Add(-q.window)
	for _, freq := range []map[string]*FieldStats{q.predicateFreq, q.overlapFreq} {
		for field, stats := range freq {
			if stats.LastSeen.Before(threshold) {
				delete(freq, field)
				removed++
			}
		}
	}
	return removed
}
