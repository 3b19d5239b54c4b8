package query

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/xtxerr/vitals/internal/storage/aggregate"
	"github.com/xtxerr/vitals/internal/storage/types"
)

// GetDistribution returns count, sum, min, max, avg and, when enabled,
// percentiles of seriesType over [start, end).
func (s *Service) GetDistribution(ctx context.Context, userID uuid.UUID, seriesType types.SeriesType, start, end time.Time) (types.Distribution, error) {
	var agg *aggregate.StreamingAggregate
	if s.opts.PercentilesEnabled {
		agg = aggregate.NewWithAccuracy(seriesType, start.UTC(), end.UTC(), s.opts.PercentileAccuracy)
	} else {
		agg = aggregate.New(seriesType, start.UTC(), end.UTC(), false)
	}

	err := s.scanValues(ctx, userID, seriesType, start, end, agg.Add)
	if err != nil {
		return types.Distribution{}, err
	}
	return agg.Result(), nil
}

// GetDailyDistribution is GetDistribution per UTC day. Days without
// samples are omitted.
func (s *Service) GetDailyDistribution(ctx context.Context, userID uuid.UUID, seriesType types.SeriesType, start, end time.Time) ([]types.Distribution, error) {
	manager := aggregate.NewDailyManager(s.opts.PercentilesEnabled, s.opts.PercentileAccuracy)

	err := s.scanValues(ctx, userID, seriesType, start, end, func(v float64, at time.Time) {
		manager.Process(seriesType, at, v)
	})
	if err != nil {
		return nil, err
	}
	return manager.FlushAll(), nil
}

// scanValues streams the values of one series type to fn in time order.
func (s *Service) scanValues(ctx context.Context, userID uuid.UUID, seriesType types.SeriesType, start, end time.Time, fn func(float64, time.Time)) error {
	if err := checkTypesAndRange(userID, []types.SeriesType{seriesType}, start, end); err != nil {
		s.record(0, err)
		return err
	}

	w := liveRange(userID, start, end)
	w.add("s.series_type_id = ?", int16(seriesType))

	rows, err := s.store.QueryContext(ctx, `
		SELECT s.recorded_at, CAST(s.value AS DOUBLE)
		FROM samples s
		JOIN data_sources ds ON ds.id = s.data_source_id
		WHERE `+w.String()+`
		ORDER BY s.recorded_at
	`, w.args...)
	if err != nil {
		s.record(0, err)
		return fmt.Errorf("query values: %w", err)
	}
	defer rows.Close()

	n := 0
	for rows.Next() {
		var (
			at time.Time
			v  float64
		)
		if err := rows.Scan(&at, &v); err != nil {
			s.record(0, err)
			return fmt.Errorf("scan value: %w", err)
		}
		fn(v, at.UTC())
		n++
	}
	s.record(n, rows.Err())
	return rows.Err()
}
