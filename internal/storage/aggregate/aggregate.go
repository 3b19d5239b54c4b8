// Package aggregate computes streaming statistics over samples.
//
// A StreamingAggregate keeps count, sum, min, max and first/last timestamps
// for one series type over one time bucket, plus optional percentiles from a
// DDSketch. A Manager routes samples to per-day aggregates.
package aggregate

import (
	"math"
	"sync"
	"time"

	"github.com/DataDog/sketches-go/ddsketch"

	"github.com/xtxerr/vitals/config"
	"github.com/xtxerr/vitals/internal/storage/types"
)

// StreamingAggregate maintains running statistics for a single time bucket.
// It supports optional percentile calculation using DDSketch.
type StreamingAggregate struct {
	mu sync.Mutex

	seriesType types.SeriesType

	// Time bucket [bucketStart, bucketEnd)
	bucketStart time.Time
	bucketEnd   time.Time

	// Running statistics
	count   int64
	sum     float64
	min     float64
	max     float64
	firstAt time.Time
	lastAt  time.Time

	// DDSketch for percentiles (nil if disabled)
	sketch   *ddsketch.DDSketch
	accuracy float64
}

// New creates a new StreamingAggregate for the given bucket. Percentiles
// are tracked with the default relative accuracy when enablePercentile is set.
func New(seriesType types.SeriesType, bucketStart, bucketEnd time.Time, enablePercentile bool) *StreamingAggregate {
	agg := &StreamingAggregate{
		seriesType:  seriesType,
		bucketStart: bucketStart,
		bucketEnd:   bucketEnd,
		min:         math.MaxFloat64,
		max:         -math.MaxFloat64,
	}
	if enablePercentile {
		agg.accuracy = config.DefaultPercentileAccuracy
		agg.sketch = newSketch(agg.accuracy)
	}
	return agg
}

// NewWithAccuracy creates a new StreamingAggregate with custom percentile accuracy.
func NewWithAccuracy(seriesType types.SeriesType, bucketStart, bucketEnd time.Time, accuracy float64) *StreamingAggregate {
	agg := New(seriesType, bucketStart, bucketEnd, false)
	agg.accuracy = accuracy
	agg.sketch = newSketch(accuracy)
	return agg
}

func newSketch(accuracy float64) *ddsketch.DDSketch {
	sketch, err := ddsketch.NewDefaultDDSketch(accuracy)
	if err != nil {
		return nil
	}
	return sketch
}

// Add adds a value recorded at the given time.
func (a *StreamingAggregate) Add(value float64, at time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.count++
	a.sum += value

	if value < a.min {
		a.min = value
	}
	if value > a.max {
		a.max = value
	}

	if a.firstAt.IsZero() || at.Before(a.firstAt) {
		a.firstAt = at
	}
	if at.After(a.lastAt) {
		a.lastAt = at
	}

	if a.sketch != nil {
		_ = a.sketch.Add(value)
	}
}

// Count returns the number of samples added.
func (a *StreamingAggregate) Count() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.count
}

// IsEmpty returns true if no samples have been added.
func (a *StreamingAggregate) IsEmpty() bool {
	return a.Count() == 0
}

// Result returns the aggregation result.
func (a *StreamingAggregate) Result() types.Distribution {
	a.mu.Lock()
	defer a.mu.Unlock()

	result := types.Distribution{
		SeriesType:  a.seriesType,
		BucketStart: a.bucketStart,
		BucketEnd:   a.bucketEnd,
		Count:       a.count,
		Sum:         a.sum,
		FirstAt:     a.firstAt,
		LastAt:      a.lastAt,
	}

	if a.count > 0 {
		result.Avg = a.sum / float64(a.count)
		result.Min = a.min
		result.Max = a.max
	}

	if a.sketch != nil && a.count > 0 {
		p50, _ := a.sketch.GetValueAtQuantile(0.50)
		p90, _ := a.sketch.GetValueAtQuantile(0.90)
		p95, _ := a.sketch.GetValueAtQuantile(0.95)
		p99, _ := a.sketch.GetValueAtQuantile(0.99)
		result.SetPercentiles(p50, p90, p95, p99)
	}

	return result
}
