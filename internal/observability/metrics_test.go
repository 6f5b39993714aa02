package observability

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPlannerMetrics(t *testing.T) {
	m := NewPlannerMetrics()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.RecordPlan("index_scan", false, 2*time.Millisecond)
			m.RecordPlan("full_scan", true, 4*time.Millisecond)
		}()
	}
	wg.Wait()
	m.RecordFailure()

	s := m.Snapshot()
	assert.Equal(t, int64(8), s.Plans["index_scan"])
	assert.Equal(t, int64(8), s.FullScans)
	assert.Equal(t, int64(16), s.Planned)
	assert.Equal(t, int64(1), s.Failures)
	assert.Equal(t, 3*time.Millisecond, s.AvgPlanTime)

	s.Plans["index_scan"] = 0
	assert.Equal(t, int64(8), m.Snapshot().Plans["index_scan"])
}

func TestStatisticsMetrics(t *testing.T) {
	m := NewStatisticsMetrics()
	m.RecordCollection(10, nil)
	m.RecordCollection(0, errors.New("disk gone"))
	m.RecordEstimate()
	m.RecordFallback("cold_start", nil)
	m.RecordFallback("cold_start", nil)

	s := m.Snapshot()
	assert.Equal(t, int64(2), s.Collections)
	assert.Equal(t, int64(1), s.CollectErrors)
	assert.Equal(t, int64(10), s.SampledRows)
	assert.Equal(t, int64(1), s.Estimates)
	assert.Equal(t, int64(2), s.Fallbacks["cold_start"])
	assert.Equal(t, "disk gone", s.LastError)
}
