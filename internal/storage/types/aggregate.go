package types

import "time"

// Distribution represents aggregated statistics of one series type over a
// time bucket. Values are float64; exact decimals are kept for stored rows.
type Distribution struct {
	SeriesType SeriesType

	// Time bucket [BucketStart, BucketEnd)
	BucketStart time.Time
	BucketEnd   time.Time

	// Basic statistics (always present)
	Count int64
	Sum   float64
	Min   float64
	Max   float64
	Avg   float64

	// Percentiles (optional, nil if not enabled)
	P50 *float64
	P90 *float64
	P95 *float64
	P99 *float64

	// Timestamps of actual samples
	FirstAt time.Time
	LastAt  time.Time
}

// Duration returns the bucket duration.
func (d *Distribution) Duration() time.Duration {
	return d.BucketEnd.Sub(d.BucketStart)
}

// IsEmpty returns true if no samples were aggregated.
func (d *Distribution) IsEmpty() bool {
	return d.Count == 0
}

// HasPercentiles returns true if percentile data is available.
func (d *Distribution) HasPercentiles() bool {
	return d.P50 != nil
}

// SetPercentiles sets all percentile values.
func (d *Distribution) SetPercentiles(p50, p90, p95, p99 float64) {
	d.P50 = &p50
	d.P90 = &p90
	d.P95 = &p95
	d.P99 = &p99
}

// PeriodAggregate holds avg/min/max/count of one series type over a range.
// Avg, Min and Max are nil when Count is zero.
type PeriodAggregate struct {
	Avg   *float64
	Min   *float64
	Max   *float64
	Count int64
}
