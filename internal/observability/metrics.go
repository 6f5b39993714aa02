package observability

import (
	"sync"
	"time"
)

// PlannerMetrics counts produced plans by root kind and accumulates planning
// time. One mutex guards every counter; no I/O happens under it.
type PlannerMetrics struct {
	mu        sync.Mutex
	plans     map[string]int64
	fullScans int64
	failures  int64
	total     time.Duration
	count     int64
}

// NewPlannerMetrics creates an empty metrics object.
func NewPlannerMetrics() *PlannerMetrics {
	return &PlannerMetrics{plans: make(map[string]int64)}
}

// RecordPlan records a successfully planned query.
func (m *PlannerMetrics) RecordPlan(kind string, fullScan bool, elapsed time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.plans[kind]++
	if fullScan {
		m.fullScans++
	}
	m.total += elapsed
	m.count++
}

// RecordFailure records a query that could not be planned.
func (m *PlannerMetrics) RecordFailure() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures++
}

// PlannerSnapshot is a point-in-time copy of PlannerMetrics.
type PlannerSnapshot struct {
	Plans       map[string]int64 `json:"plans"`
	FullScans   int64            `json:"full_scans"`
	Failures    int64            `json:"failures"`
	Planned     int64            `json:"planned"`
	AvgPlanTime time.Duration    `json:"avg_plan_time_ns"`
}

// Snapshot copies the counters.
func (m *PlannerMetrics) Snapshot() PlannerSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := PlannerSnapshot{
		Plans:     make(map[string]int64, len(m.plans)),
		FullScans: m.fullScans,
		Failures:  m.failures,
		Planned:   m.count,
	}
	for k, v := range m.plans {
		s.Plans[k] = v
	}
	if m.count > 0 {
		s.AvgPlanTime = m.total / time.Duration(m.count)
	}
	return s
}

// StatisticsMetrics tallies collection runs and estimation fallbacks.
type StatisticsMetrics struct {
	mu            sync.Mutex
	collections   int64
	collectErrors int64
	sampledRows   int64
	estimates     int64
	fallbacks     map[string]int64
	lastError     string
}

// NewStatisticsMetrics creates an empty metrics object.
func NewStatisticsMetrics() *StatisticsMetrics {
	return &StatisticsMetrics{fallbacks: make(map[string]int64)}
}

// RecordCollection records one collection run.
func (m *StatisticsMetrics) RecordCollection(sampled int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.collections++
	m.sampledRows += int64(sampled)
	if err != nil {
		m.collectErrors++
		m.lastError = err.Error()
	}
}

// RecordEstimate records one selectivity estimate.
func (m *StatisticsMetrics) RecordEstimate() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.estimates++
}

// RecordFallback records an estimate that used a default value. reason names
// why, e.g. "cold_start", "no_histogram" or "load_failed".
func (m *StatisticsMetrics) RecordFallback(reason string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fallbacks[reason]++
	if err != nil {
		m.lastError = err.Error()
	}
}

// StatisticsSnapshot is a point-in-time copy of StatisticsMetrics.
type StatisticsSnapshot struct {
	Collections   int64            `json:"collections"`
	CollectErrors int64            `json:"collect_errors"`
	SampledRows   int64            `json:"sampled_rows"`
	Estimates     int64            `json:"estimates"`
	Fallbacks     map[string]int64 `json:"fallbacks"`
	LastError     string           `json:"last_error,omitempty"`
}

// Snapshot copies the counters.
func (m *StatisticsMetrics) Snapshot() StatisticsSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := StatisticsSnapshot{
		Collections:   m.collections,
		CollectErrors: m.collectErrors,
		SampledRows:   m.sampledRows,
		Estimates:     m.estimates,
		Fallbacks:     make(map[string]int64, len(m.fallbacks)),
		LastError:     m.lastError,
	}
	for k, v := range m.fallbacks {
		s.Fallbacks[k] = v
	}
	return s
}
