// Package query serves reads over live samples and the daily archive.
//
// Sample listings use keyset pagination on (recorded_at, id). Aggregate,
// latest-value and bucketed queries are scoped to one user. Latest-value
// lookups resolve competing sources with the priority order of the
// priority package.
package query

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/xtxerr/vitals/config"
	verrors "github.com/xtxerr/vitals/internal/errors"
	"github.com/xtxerr/vitals/internal/logging"
	"github.com/xtxerr/vitals/internal/storage/priority"
	"github.com/xtxerr/vitals/internal/storage/types"
	"github.com/xtxerr/vitals/internal/store"
)

// Service provides query capabilities over stored data.
type Service struct {
	store  *store.Store
	opts   Options
	logger *slog.Logger

	stats Stats
}

// Options configures a Service.
type Options struct {
	DefaultPageSize           int
	MaxPageSize               int
	ActiveMinuteStepThreshold int
	PercentilesEnabled        bool
	PercentileAccuracy        float64
}

// DefaultOptions returns the compiled-in query options.
func DefaultOptions() Options {
	return Options{
		DefaultPageSize:           config.DefaultPageSize,
		MaxPageSize:               config.DefaultMaxPageSize,
		ActiveMinuteStepThreshold: config.DefaultActiveMinuteStepThreshold,
		PercentilesEnabled:        true,
		PercentileAccuracy:        config.DefaultPercentileAccuracy,
	}
}

// Stats holds query statistics.
type Stats struct {
	QueriesExecuted atomic.Int64
	RowsReturned    atomic.Int64
	Errors          atomic.Int64
}

// ServiceStats is a snapshot of Stats.
type ServiceStats struct {
	QueriesExecuted int64
	RowsReturned    int64
	Errors          int64
}

// New creates a new query service.
func New(st *store.Store, opts Options) *Service {
	defaults := DefaultOptions()
	if opts.DefaultPageSize <= 0 {
		opts.DefaultPageSize = defaults.DefaultPageSize
	}
	if opts.MaxPageSize <= 0 {
		opts.MaxPageSize = defaults.MaxPageSize
	}
	if opts.ActiveMinuteStepThreshold <= 0 {
		opts.ActiveMinuteStepThreshold = defaults.ActiveMinuteStepThreshold
	}
	if opts.PercentileAccuracy <= 0 {
		opts.PercentileAccuracy = defaults.PercentileAccuracy
	}

	return &Service{
		store:  st,
		opts:   opts,
		logger: logging.Component("query"),
	}
}

// Stats returns a snapshot of the query statistics.
func (s *Service) Stats() ServiceStats {
	return ServiceStats{
		QueriesExecuted: s.stats.QueriesExecuted.Load(),
		RowsReturned:    s.stats.RowsReturned.Load(),
		Errors:          s.stats.Errors.Load(),
	}
}

func (s *Service) record(rows int, err error) {
	s.stats.QueriesExecuted.Add(1)
	if err != nil {
		s.stats.Errors.Add(1)
		s.logger.Debug("query failed", "error", err)
		return
	}
	s.stats.RowsReturned.Add(int64(rows))
}

// =============================================================================
// Sample listing
// =============================================================================

// SampleFilter selects live samples. UserID is required; zero values of the
// other fields do not filter. The time range is [Start, End).
type SampleFilter struct {
	UserID       uuid.UUID
	DataSourceID uuid.UUID
	DeviceModel  string
	Source       string
	SeriesTypes  []types.SeriesType
	Start        time.Time
	End          time.Time
}

// Page is one page of a sample listing.
type Page struct {
	Samples []*types.Sample

	// TotalCount is the number of rows matching the filter, independent
	// of the cursor.
	TotalCount int64

	// HasMore reports whether another page exists in the direction of
	// the request.
	HasMore bool

	// NextCursor continues forward after the last row; PrevCursor
	// continues backward before the first row. Empty when there is
	// nothing in that direction.
	NextCursor string
	PrevCursor string
}

// GetSamples returns one page of samples matching filter. An empty cursor
// starts at the oldest row. limit <= 0 selects the default page size;
// larger values are capped.
func (s *Service) GetSamples(ctx context.Context, filter SampleFilter, cursor string, limit int) (*Page, error) {
	page, err := s.getSamples(ctx, filter, cursor, limit)
	if err != nil {
		s.record(0, err)
		return nil, err
	}
	s.record(len(page.Samples), nil)
	return page, nil
}

func (s *Service) getSamples(ctx context.Context, filter SampleFilter, cursor string, limit int) (*Page, error) {
	if filter.UserID == uuid.Nil {
		return nil, verrors.NewMissingField("user_id")
	}
	if err := checkRange(filter.Start, filter.End); err != nil {
		return nil, err
	}

	switch {
	case limit <= 0:
		limit = s.opts.DefaultPageSize
	case limit > s.opts.MaxPageSize:
		limit = s.opts.MaxPageSize
	}

	c := Cursor{Direction: Forward}
	hasCursor := cursor != ""
	if hasCursor {
		var err error
		if c, err = DecodeCursor(cursor); err != nil {
			return nil, err
		}
	}

	w := filter.where()

	page := &Page{}
	err := s.store.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM samples s JOIN data_sources ds ON ds.id = s.data_source_id WHERE `+w.String(),
		w.args...).Scan(&page.TotalCount)
	if err != nil {
		return nil, fmt.Errorf("count samples: %w", err)
	}

	order := "ASC"
	if hasCursor {
		if c.Direction == Forward {
			w.add(`(s.recorded_at > CAST(? AS TIMESTAMP) OR (s.recorded_at = CAST(? AS TIMESTAMP) AND s.id > ?))`,
				c.RecordedAt, c.RecordedAt, c.ID)
		} else {
			w.add(`(s.recorded_at < CAST(? AS TIMESTAMP) OR (s.recorded_at = CAST(? AS TIMESTAMP) AND s.id < ?))`,
				c.RecordedAt, c.RecordedAt, c.ID)
			order = "DESC"
		}
	}

	rows, err := s.store.QueryContext(ctx, `
		SELECT s.id, s.data_source_id, s.series_type_id, s.recorded_at, CAST(s.value AS VARCHAR), s.external_id
		FROM samples s
		JOIN data_sources ds ON ds.id = s.data_source_id
		WHERE `+w.String()+`
		ORDER BY s.recorded_at `+order+`, s.id `+order+`
		LIMIT ?
	`, append(w.args, limit+1)...)
	if err != nil {
		return nil, fmt.Errorf("query samples: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		sample, err := store.ScanSample(rows)
		if err != nil {
			return nil, fmt.Errorf("scan sample: %w", err)
		}
		page.Samples = append(page.Samples, sample)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(page.Samples) > limit {
		page.HasMore = true
		page.Samples = page.Samples[:limit]
	}

	if c.Direction == Backward {
		reverse(page.Samples)
	}

	if len(page.Samples) > 0 {
		first := page.Samples[0]
		last := page.Samples[len(page.Samples)-1]

		forwardMore := page.HasMore
		backwardMore := hasCursor
		if c.Direction == Backward {
			forwardMore, backwardMore = true, page.HasMore
		}

		if forwardMore {
			page.NextCursor = EncodeCursor(Cursor{RecordedAt: last.RecordedAt, ID: last.ID, Direction: Forward})
		}
		if backwardMore {
			page.PrevCursor = EncodeCursor(Cursor{RecordedAt: first.RecordedAt, ID: first.ID, Direction: Backward})
		}
	}

	return page, nil
}

func (f *SampleFilter) where() *whereBuilder {
	w := &whereBuilder{}
	w.add("ds.user_id = ?", f.UserID.String())
	if f.DataSourceID != uuid.Nil {
		w.add("s.data_source_id = ?", f.DataSourceID.String())
	}
	if f.DeviceModel != "" {
		w.add("ds.device_model = ?", f.DeviceModel)
	}
	if f.Source != "" {
		w.add("ds.source = ?", f.Source)
	}
	if len(f.SeriesTypes) > 0 {
		w.seriesTypes("s.series_type_id", f.SeriesTypes)
	}
	if !f.Start.IsZero() {
		w.add("s.recorded_at >= CAST(? AS TIMESTAMP)", f.Start.UTC())
	}
	if !f.End.IsZero() {
		w.add("s.recorded_at < CAST(? AS TIMESTAMP)", f.End.UTC())
	}
	return w
}

func reverse(samples []*types.Sample) {
	for i, j := 0, len(samples)-1; i < j; i, j = i+1, j-1 {
		samples[i], samples[j] = samples[j], samples[i]
	}
}

// =============================================================================
// Per-type aggregates
// =============================================================================

// GetAveragesForTimeRange returns the average value of each series type
// over [start, end). Every requested type is present in the result; types
// without samples map to nil.
func (s *Service) GetAveragesForTimeRange(ctx context.Context, userID uuid.UUID, seriesTypes []types.SeriesType, start, end time.Time) (map[types.SeriesType]*float64, error) {
	aggs, err := s.GetAggregatesForPeriod(ctx, userID, seriesTypes, start, end)
	if err != nil {
		return nil, err
	}

	out := make(map[types.SeriesType]*float64, len(aggs))
	for st, agg := range aggs {
		out[st] = agg.Avg
	}
	return out, nil
}

// GetAggregatesForPeriod returns avg, min, max and count of each series
// type over [start, end). Every requested type is present in the result.
func (s *Service) GetAggregatesForPeriod(ctx context.Context, userID uuid.UUID, seriesTypes []types.SeriesType, start, end time.Time) (map[types.SeriesType]types.PeriodAggregate, error) {
	if err := checkTypesAndRange(userID, seriesTypes, start, end); err != nil {
		s.record(0, err)
		return nil, err
	}

	w := &whereBuilder{}
	w.add("ds.user_id = ?", userID.String())
	w.seriesTypes("s.series_type_id", seriesTypes)
	w.add("s.recorded_at >= CAST(? AS TIMESTAMP)", start.UTC())
	w.add("s.recorded_at < CAST(? AS TIMESTAMP)", end.UTC())

	rows, err := s.store.QueryContext(ctx, `
		SELECT s.series_type_id,
			AVG(CAST(s.value AS DOUBLE)),
			CAST(MIN(s.value) AS DOUBLE),
			CAST(MAX(s.value) AS DOUBLE),
			COUNT(*)
		FROM samples s
		JOIN data_sources ds ON ds.id = s.data_source_id
		WHERE `+w.String()+`
		GROUP BY s.series_type_id
	`, w.args...)
	if err != nil {
		s.record(0, err)
		return nil, fmt.Errorf("query aggregates: %w", err)
	}
	defer rows.Close()

	out := make(map[types.SeriesType]types.PeriodAggregate, len(seriesTypes))
	for _, st := range seriesTypes {
		out[st] = types.PeriodAggregate{}
	}

	for rows.Next() {
		var (
			st                int16
			avg, lowest, peak sql.NullFloat64
			agg               types.PeriodAggregate
		)
		if err := rows.Scan(&st, &avg, &lowest, &peak, &agg.Count); err != nil {
			s.record(0, err)
			return nil, fmt.Errorf("scan aggregate: %w", err)
		}
		agg.Avg = nullFloat(avg)
		agg.Min = nullFloat(lowest)
		agg.Max = nullFloat(peak)
		out[types.SeriesType(st)] = agg
	}
	if err := rows.Err(); err != nil {
		s.record(0, err)
		return nil, err
	}

	s.record(len(out), nil)
	return out, nil
}

// =============================================================================
// Latest values
// =============================================================================

// GetLatestValuesForTypes returns, for each series type, the value at the
// most recent recorded_at strictly before before. When several sources
// reported that instant the priority order picks one. Types without
// samples are absent from the result.
func (s *Service) GetLatestValuesForTypes(ctx context.Context, userID uuid.UUID, seriesTypes []types.SeriesType, before time.Time) (map[types.SeriesType]types.LatestValue, error) {
	if err := checkTypes(userID, seriesTypes); err != nil {
		s.record(0, err)
		return nil, err
	}

	w := &whereBuilder{}
	w.add("ds.user_id = ?", userID.String())
	w.seriesTypes("s.series_type_id", seriesTypes)
	w.add("s.recorded_at < CAST(? AS TIMESTAMP)", before.UTC())

	// One max timestamp per type, then one ranked row per type at that
	// timestamp.
	query := `
		WITH latest AS (
			SELECT s.series_type_id, MAX(s.recorded_at) AS recorded_at
			FROM samples s
			JOIN data_sources ds ON ds.id = s.data_source_id
			WHERE ` + w.String() + `
			GROUP BY s.series_type_id
		),
		ranked AS (
			SELECT s.series_type_id, CAST(s.value AS VARCHAR) AS value, s.recorded_at,
				ds.source, ds.device_model, ds.provider,
				ROW_NUMBER() OVER (
					PARTITION BY s.series_type_id
					ORDER BY ` + priority.OrderClause + `
				) AS rn
			FROM samples s
			JOIN latest l ON l.series_type_id = s.series_type_id AND l.recorded_at = s.recorded_at
			JOIN data_sources ds ON ds.id = s.data_source_id` + priority.JoinClause + `
			WHERE ds.user_id = ?
		)
		SELECT series_type_id, value, recorded_at, source, device_model, provider
		FROM ranked
		WHERE rn = 1`

	rows, err := s.store.QueryContext(ctx, query, append(w.args, userID.String())...)
	if err != nil {
		s.record(0, err)
		return nil, fmt.Errorf("query latest values: %w", err)
	}
	defer rows.Close()

	out := make(map[types.SeriesType]types.LatestValue, len(seriesTypes))
	for rows.Next() {
		lv, err := scanLatestValue(rows)
		if err != nil {
			s.record(0, err)
			return nil, err
		}
		out[lv.SeriesType] = *lv
	}
	if err := rows.Err(); err != nil {
		s.record(0, err)
		return nil, err
	}

	s.record(len(out), nil)
	return out, nil
}

// GetLatestReadingWithinWindow returns the most recent reading of
// seriesType in [windowStart, windowEnd], or nil when the window holds
// none. Older readings outside the window are never returned.
func (s *Service) GetLatestReadingWithinWindow(ctx context.Context, userID uuid.UUID, seriesType types.SeriesType, windowStart, windowEnd time.Time) (*types.LatestValue, error) {
	if userID == uuid.Nil {
		return nil, verrors.NewMissingField("user_id")
	}
	if windowEnd.Before(windowStart) {
		return nil, fmt.Errorf("window end %s before start %s: %w",
			windowEnd.Format(time.RFC3339), windowStart.Format(time.RFC3339), verrors.ErrInvalidTimeRange)
	}

	row := s.store.QueryRowContext(ctx, `
		SELECT s.series_type_id, CAST(s.value AS VARCHAR), s.recorded_at,
			ds.source, ds.device_model, ds.provider
		FROM samples s
		JOIN data_sources ds ON ds.id = s.data_source_id`+priority.JoinClause+`
		WHERE ds.user_id = ?
		  AND s.series_type_id = ?
		  AND s.recorded_at >= CAST(? AS TIMESTAMP)
		  AND s.recorded_at <= CAST(? AS TIMESTAMP)
		ORDER BY s.recorded_at DESC, `+priority.OrderClause+`
		LIMIT 1
	`, userID.String(), int16(seriesType), windowStart.UTC(), windowEnd.UTC())

	lv, err := scanLatestValue(row)
	if errors.Is(err, sql.ErrNoRows) {
		s.record(0, nil)
		return nil, nil
	}
	if err != nil {
		s.record(0, err)
		return nil, err
	}
	s.record(1, nil)
	return lv, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLatestValue(row rowScanner) (*types.LatestValue, error) {
	var (
		st       int16
		value    string
		provider sql.NullString
		lv       types.LatestValue
	)
	if err := row.Scan(&st, &value, &lv.RecordedAt, &lv.Source, &lv.DeviceModel, &provider); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan latest value: %w", err)
	}

	v, err := decimal.NewFromString(value)
	if err != nil {
		return nil, fmt.Errorf("parse value %q: %w", value, err)
	}

	lv.SeriesType = types.SeriesType(st)
	lv.Value = v
	lv.RecordedAt = lv.RecordedAt.UTC()
	lv.Provider = types.Provider(provider.String)
	return &lv, nil
}

// =============================================================================
// Helpers
// =============================================================================

// whereBuilder accumulates AND-ed predicates and their arguments.
type whereBuilder struct {
	clauses []string
	args    []interface{}
}

func (w *whereBuilder) add(clause string, args ...interface{}) {
	w.clauses = append(w.clauses, clause)
	w.args = append(w.args, args...)
}

func (w *whereBuilder) seriesTypes(column string, seriesTypes []types.SeriesType) {
	marks := make([]string, len(seriesTypes))
	for i, st := range seriesTypes {
		marks[i] = "?"
		w.args = append(w.args, int16(st))
	}
	w.clauses = append(w.clauses, column+" IN ("+strings.Join(marks, ",")+")")
}

func (w *whereBuilder) String() string {
	if len(w.clauses) == 0 {
		return "TRUE"
	}
	return strings.Join(w.clauses, " AND ")
}

func checkRange(start, end time.Time) error {
	if !start.IsZero() && !end.IsZero() && !start.Before(end) {
		return fmt.Errorf("[%s, %s): %w",
			start.Format(time.RFC3339), end.Format(time.RFC3339), verrors.ErrInvalidTimeRange)
	}
	return nil
}

func checkTypes(userID uuid.UUID, seriesTypes []types.SeriesType) error {
	if len(seriesTypes) == 0 {
		return verrors.ErrEmptySeriesTypes
	}
	if userID == uuid.Nil {
		return verrors.NewMissingField("user_id")
	}
	return nil
}

func checkTypesAndRange(userID uuid.UUID, seriesTypes []types.SeriesType, start, end time.Time) error {
	if err := checkTypes(userID, seriesTypes); err != nil {
		return err
	}
	if start.IsZero() || end.IsZero() {
		return verrors.NewMissingField("start/end")
	}
	return checkRange(start, end)
}

func nullFloat(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}
