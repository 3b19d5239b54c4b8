package query

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	verrors "github.com/xtxerr/vitals/internal/errors"
	"github.com/xtxerr/vitals/internal/storage/types"
)

// DailyValue is one series type's value on one UTC day.
type DailyValue struct {
	Date       time.Time
	SeriesType types.SeriesType
	Value      float64
	Count      int64
}

// DailyHeartRate summarizes one day of heart-rate samples.
type DailyHeartRate struct {
	Date  time.Time
	Avg   float64
	Min   float64
	Max   float64
	Count int64
}

// DailyMinutes counts qualifying minutes on one day.
type DailyMinutes struct {
	Date    time.Time
	Minutes int64
}

// IntensityZones holds the upper heart-rate bound of each zone. A minute
// belongs to the first zone whose bound its average heart rate does not
// exceed; minutes above VigorousMax are not counted.
type IntensityZones struct {
	LightMax    float64
	ModerateMax float64
	VigorousMax float64
}

// Validate checks that the bounds are positive and strictly increasing.
func (z IntensityZones) Validate() error {
	if z.LightMax <= 0 {
		return verrors.NewInvalidValue("light_max", z.LightMax, "must be positive")
	}
	if z.ModerateMax <= z.LightMax {
		return verrors.NewInvalidValue("moderate_max", z.ModerateMax, "must exceed light_max")
	}
	if z.VigorousMax <= z.ModerateMax {
		return verrors.NewInvalidValue("vigorous_max", z.VigorousMax, "must exceed moderate_max")
	}
	return nil
}

// DailyIntensity counts minutes per zone on one day.
type DailyIntensity struct {
	Date     time.Time
	Light    int64
	Moderate int64
	Vigorous int64
}

// Total returns the minutes across all zones.
func (d DailyIntensity) Total() int64 {
	return d.Light + d.Moderate + d.Vigorous
}

// GetDailyActivitySums returns the per-day sum of each series type over
// [start, end), summed across all of the user's sources.
func (s *Service) GetDailyActivitySums(ctx context.Context, userID uuid.UUID, seriesTypes []types.SeriesType, start, end time.Time) ([]DailyValue, error) {
	if err := checkTypesAndRange(userID, seriesTypes, start, end); err != nil {
		s.record(0, err)
		return nil, err
	}

	w := liveRange(userID, start, end)
	w.seriesTypes("s.series_type_id", seriesTypes)

	rows, err := s.store.QueryContext(ctx, `
		SELECT CAST(s.recorded_at AS DATE) AS day, s.series_type_id,
			CAST(SUM(s.value) AS DOUBLE), COUNT(*)
		FROM samples s
		JOIN data_sources ds ON ds.id = s.data_source_id
		WHERE `+w.String()+`
		GROUP BY day, s.series_type_id
		ORDER BY day, s.series_type_id
	`, w.args...)
	if err != nil {
		s.record(0, err)
		return nil, fmt.Errorf("query daily sums: %w", err)
	}
	defer rows.Close()

	var out []DailyValue
	for rows.Next() {
		var (
			dv DailyValue
			st int16
		)
		if err := rows.Scan(&dv.Date, &st, &dv.Value, &dv.Count); err != nil {
			s.record(0, err)
			return nil, fmt.Errorf("scan daily sum: %w", err)
		}
		dv.SeriesType = types.SeriesType(st)
		dv.Date = types.Day(dv.Date)
		out = append(out, dv)
	}
	s.record(len(out), rows.Err())
	return out, rows.Err()
}

// GetDailyHeartRate returns per-day heart-rate avg, min and max over
// [start, end).
func (s *Service) GetDailyHeartRate(ctx context.Context, userID uuid.UUID, start, end time.Time) ([]DailyHeartRate, error) {
	if err := checkTypesAndRange(userID, []types.SeriesType{types.SeriesHeartRate}, start, end); err != nil {
		s.record(0, err)
		return nil, err
	}

	w := liveRange(userID, start, end)
	w.add("s.series_type_id = ?", int16(types.SeriesHeartRate))

	rows, err := s.store.QueryContext(ctx, `
		SELECT CAST(s.recorded_at AS DATE) AS day,
			AVG(CAST(s.value AS DOUBLE)),
			CAST(MIN(s.value) AS DOUBLE),
			CAST(MAX(s.value) AS DOUBLE),
			COUNT(*)
		FROM samples s
		JOIN data_sources ds ON ds.id = s.data_source_id
		WHERE `+w.String()+`
		GROUP BY day
		ORDER BY day
	`, w.args...)
	if err != nil {
		s.record(0, err)
		return nil, fmt.Errorf("query daily heart rate: %w", err)
	}
	defer rows.Close()

	var out []DailyHeartRate
	for rows.Next() {
		var d DailyHeartRate
		if err := rows.Scan(&d.Date, &d.Avg, &d.Min, &d.Max, &d.Count); err != nil {
			s.record(0, err)
			return nil, fmt.Errorf("scan daily heart rate: %w", err)
		}
		d.Date = types.Day(d.Date)
		out = append(out, d)
	}
	s.record(len(out), rows.Err())
	return out, rows.Err()
}

// GetActiveMinutes counts, per day, the minutes whose summed step count
// reaches threshold. threshold <= 0 selects the configured default.
func (s *Service) GetActiveMinutes(ctx context.Context, userID uuid.UUID, start, end time.Time, threshold int) ([]DailyMinutes, error) {
	if err := checkTypesAndRange(userID, []types.SeriesType{types.SeriesSteps}, start, end); err != nil {
		s.record(0, err)
		return nil, err
	}
	if threshold <= 0 {
		threshold = s.opts.ActiveMinuteStepThreshold
	}

	w := liveRange(userID, start, end)
	w.add("s.series_type_id = ?", int16(types.SeriesSteps))

	rows, err := s.store.QueryContext(ctx, `
		WITH per_minute AS (
			SELECT date_trunc('minute', s.recorded_at) AS minute, SUM(s.value) AS steps
			FROM samples s
			JOIN data_sources ds ON ds.id = s.data_source_id
			WHERE `+w.String()+`
			GROUP BY minute
		)
		SELECT CAST(minute AS DATE) AS day, COUNT(*)
		FROM per_minute
		WHERE steps >= ?
		GROUP BY day
		ORDER BY day
	`, append(w.args, threshold)...)
	if err != nil {
		s.record(0, err)
		return nil, fmt.Errorf("query active minutes: %w", err)
	}
	defer rows.Close()

	var out []DailyMinutes
	for rows.Next() {
		var d DailyMinutes
		if err := rows.Scan(&d.Date, &d.Minutes); err != nil {
			s.record(0, err)
			return nil, fmt.Errorf("scan active minutes: %w", err)
		}
		d.Date = types.Day(d.Date)
		out = append(out, d)
	}
	s.record(len(out), rows.Err())
	return out, rows.Err()
}

// GetIntensityMinutes buckets each minute's average heart rate into the
// zones and counts minutes per zone and day.
func (s *Service) GetIntensityMinutes(ctx context.Context, userID uuid.UUID, start, end time.Time, zones IntensityZones) ([]DailyIntensity, error) {
	if err := checkTypesAndRange(userID, []types.SeriesType{types.SeriesHeartRate}, start, end); err != nil {
		s.record(0, err)
		return nil, err
	}
	if err := zones.Validate(); err != nil {
		s.record(0, err)
		return nil, err
	}

	w := liveRange(userID, start, end)
	w.add("s.series_type_id = ?", int16(types.SeriesHeartRate))

	args := append(w.args,
		zones.LightMax,
		zones.LightMax, zones.ModerateMax,
		zones.ModerateMax, zones.VigorousMax,
		zones.VigorousMax,
	)

	rows, err := s.store.QueryContext(ctx, `
		WITH per_minute AS (
			SELECT date_trunc('minute', s.recorded_at) AS minute, AVG(CAST(s.value AS DOUBLE)) AS hr
			FROM samples s
			JOIN data_sources ds ON ds.id = s.data_source_id
			WHERE `+w.String()+`
			GROUP BY minute
		)
		SELECT CAST(minute AS DATE) AS day,
			COUNT(*) FILTER (WHERE hr <= ?),
			COUNT(*) FILTER (WHERE hr > ? AND hr <= ?),
			COUNT(*) FILTER (WHERE hr > ? AND hr <= ?)
		FROM per_minute
		WHERE hr <= ?
		GROUP BY day
		ORDER BY day
	`, args...)
	if err != nil {
		s.record(0, err)
		return nil, fmt.Errorf("query intensity minutes: %w", err)
	}
	defer rows.Close()

	var out []DailyIntensity
	for rows.Next() {
		var d DailyIntensity
		if err := rows.Scan(&d.Date, &d.Light, &d.Moderate, &d.Vigorous); err != nil {
			s.record(0, err)
			return nil, fmt.Errorf("scan intensity minutes: %w", err)
		}
		d.Date = types.Day(d.Date)
		out = append(out, d)
	}
	s.record(len(out), rows.Err())
	return out, rows.Err()
}

// =============================================================================
// Archive equivalents
// =============================================================================

// GetArchivedDailyValues returns the per-day value of seriesType from the
// daily archive for dates in [startDate, endDate). Values of different
// sources are combined with the type's aggregation method: SUM adds, MAX
// takes the greatest and AVG weights each source by its sample count.
func (s *Service) GetArchivedDailyValues(ctx context.Context, userID uuid.UUID, seriesType types.SeriesType, startDate, endDate time.Time) ([]DailyValue, error) {
	if err := checkTypesAndRange(userID, []types.SeriesType{seriesType}, startDate, endDate); err != nil {
		s.record(0, err)
		return nil, err
	}

	var combine string
	switch seriesType.Method() {
	case types.MethodSum:
		combine = "CAST(SUM(a.value) AS DOUBLE)"
	case types.MethodMax:
		combine = "CAST(MAX(a.value) AS DOUBLE)"
	case types.MethodAvg:
		combine = "SUM(CAST(a.value AS DOUBLE) * a.sample_count) / SUM(a.sample_count)"
	default:
		err := fmt.Errorf("series type %s: %w", seriesType, verrors.ErrUnsupportedSeriesType)
		s.record(0, err)
		return nil, err
	}

	rows, err := s.store.QueryContext(ctx, `
		SELECT a.date, `+combine+`, SUM(a.sample_count)
		FROM archive_aggregates a
		JOIN data_sources ds ON ds.id = a.data_source_id
		WHERE ds.user_id = ?
		  AND a.series_type_id = ?
		  AND a.date >= CAST(CAST(? AS VARCHAR) AS DATE)
		  AND a.date < CAST(CAST(? AS VARCHAR) AS DATE)
		GROUP BY a.date
		ORDER BY a.date
	`, userID.String(), int16(seriesType),
		types.Day(startDate).Format(time.DateOnly), types.Day(endDate).Format(time.DateOnly))
	if err != nil {
		s.record(0, err)
		return nil, fmt.Errorf("query archived values: %w", err)
	}
	defer rows.Close()

	var out []DailyValue
	for rows.Next() {
		var (
			dv    DailyValue
			value sql.NullFloat64
		)
		if err := rows.Scan(&dv.Date, &value, &dv.Count); err != nil {
			s.record(0, err)
			return nil, fmt.Errorf("scan archived value: %w", err)
		}
		dv.Date = types.Day(dv.Date)
		dv.SeriesType = seriesType
		dv.Value = value.Float64
		out = append(out, dv)
	}
	s.record(len(out), rows.Err())
	return out, rows.Err()
}

// GetArchivedDailyActivitySums is GetDailyActivitySums over the daily
// archive. Series types that cannot be archived are rejected.
func (s *Service) GetArchivedDailyActivitySums(ctx context.Context, userID uuid.UUID, seriesTypes []types.SeriesType, startDate, endDate time.Time) ([]DailyValue, error) {
	if len(seriesTypes) == 0 {
		return nil, verrors.ErrEmptySeriesTypes
	}

	var out []DailyValue
	for _, st := range seriesTypes {
		values, err := s.GetArchivedDailyValues(ctx, userID, st, startDate, endDate)
		if err != nil {
			return nil, err
		}
		out = append(out, values...)
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.Before(out[j].Date)
		}
		return out[i].SeriesType < out[j].SeriesType
	})
	return out, nil
}

func liveRange(userID uuid.UUID, start, end time.Time) *whereBuilder {
	w := &whereBuilder{}
	w.add("ds.user_id = ?", userID.String())
	w.add("s.recorded_at >= CAST(? AS TIMESTAMP)", start.UTC())
	w.add("s.recorded_at < CAST(? AS TIMESTAMP)", end.UTC())
	return w
}
