package aggregate

import (
	"sort"
	"sync"
	"time"

	"github.com/xtxerr/vitals/internal/storage/types"
)

// Manager routes values to one aggregate per (series type, bucket).
type Manager struct {
	mu sync.Mutex

	bucketSize         time.Duration
	percentileEnabled  bool
	percentileAccuracy float64

	aggregates map[bucketKey]*StreamingAggregate
}

type bucketKey struct {
	seriesType types.SeriesType
	start      int64
}

// NewDailyManager creates a manager with one bucket per UTC day. A
// positive accuracy overrides the default percentile accuracy.
func NewDailyManager(percentileEnabled bool, accuracy float64) *Manager {
	m := &Manager{
		bucketSize:        24 * time.Hour,
		percentileEnabled: percentileEnabled,
		aggregates:        make(map[bucketKey]*StreamingAggregate),
	}
	if percentileEnabled && accuracy > 0 {
		m.percentileAccuracy = accuracy
	}
	return m
}

// Process adds a value to the aggregate of its series type and bucket.
// Values of unknown series types are skipped.
func (m *Manager) Process(seriesType types.SeriesType, at time.Time, value float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !seriesType.Known() {
		return
	}

	start, end := m.calculateBucket(at)
	key := bucketKey{seriesType: seriesType, start: start.UnixNano()}

	agg, exists := m.aggregates[key]
	if !exists {
		agg = m.createAggregate(seriesType, start, end)
		m.aggregates[key] = agg
	}

	agg.Add(value, at)
}

// FlushAll returns every non-empty aggregate ordered by bucket start and
// series type, and clears the manager.
func (m *Manager) FlushAll() []types.Distribution {
	m.mu.Lock()
	defer m.mu.Unlock()

	result := make([]types.Distribution, 0, len(m.aggregates))
	for _, agg := range m.aggregates {
		if !agg.IsEmpty() {
			result = append(result, agg.Result())
		}
	}
	m.aggregates = make(map[bucketKey]*StreamingAggregate)

	sort.Slice(result, func(i, j int) bool {
		if !result[i].BucketStart.Equal(result[j].BucketStart) {
			return result[i].BucketStart.Before(result[j].BucketStart)
		}
		return result[i].SeriesType < result[j].SeriesType
	})
	return result
}

// calculateBucket calculates the bucket start and end for a timestamp.
func (m *Manager) calculateBucket(at time.Time) (start, end time.Time) {
	start = at.UTC().Truncate(m.bucketSize)
	end = start.Add(m.bucketSize)
	return
}

func (m *Manager) createAggregate(seriesType types.SeriesType, start, end time.Time) *StreamingAggregate {
	if m.percentileEnabled && m.percentileAccuracy > 0 {
		return NewWithAccuracy(seriesType, start, end, m.percentileAccuracy)
	}
	return New(seriesType, start, end, m.percentileEnabled)
}
