package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/xtxerr/vitals/internal/storage/types"
)

// maxSamplesPerInsert bounds the rows of one multi-row INSERT.
// 5 columns * 100 rows = 500 parameters per statement.
const maxSamplesPerInsert = 100

// decimalParam binds a decimal through its exact text form.
const decimalParam = "CAST(CAST(? AS VARCHAR) AS DECIMAL(18,6))"

// InsertSample inserts one sample and returns the stored row, with the
// timestamp and value as the column types keep them. A natural-key conflict
// is returned as an error; see IsUniqueViolation.
func (s *Store) InsertSample(ctx context.Context, q DBTX, sample *types.Sample) (*types.Sample, error) {
	row := q.QueryRowContext(ctx, `
		INSERT INTO samples (data_source_id, series_type_id, recorded_at, value, external_id)
		VALUES (?, ?, CAST(? AS TIMESTAMP), `+decimalParam+`, ?)
		RETURNING id, data_source_id, series_type_id, recorded_at, CAST(value AS VARCHAR), external_id
	`, sample.DataSourceID.String(), int16(sample.SeriesType), sample.RecordedAt.UTC(),
		sample.Value.String(), sample.ExternalID)
	return ScanSample(row)
}

// GetSampleByKey returns the sample with the given natural key.
func (s *Store) GetSampleByKey(ctx context.Context, q DBTX, dataSourceID uuid.UUID, seriesType types.SeriesType, recordedAt time.Time) (*types.Sample, error) {
	row := q.QueryRowContext(ctx, `
		SELECT id, data_source_id, series_type_id, recorded_at, CAST(value AS VARCHAR), external_id
		FROM samples
		WHERE data_source_id = ? AND series_type_id = ? AND recorded_at = CAST(? AS TIMESTAMP)
	`, dataSourceID.String(), int16(seriesType), recordedAt.UTC())

	sample, err := ScanSample(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s/%s/%s: %w", dataSourceID, seriesType, recordedAt.UTC().Format(time.RFC3339Nano), ErrSampleNotFound)
	}
	return sample, err
}

// InsertSamplesIgnore inserts samples with multi-row INSERT statements,
// skipping rows whose natural key already exists. It returns the number of
// rows actually inserted. Within samples the first occurrence of a key wins.
func (s *Store) InsertSamplesIgnore(ctx context.Context, q DBTX, samples []*types.Sample) (int64, error) {
	samples = uniqueSamples(samples)

	var inserted int64
	for i := 0; i < len(samples); i += maxSamplesPerInsert {
		if err := ctx.Err(); err != nil {
			return inserted, err
		}

		end := min(i+maxSamplesPerInsert, len(samples))
		query, args := buildMultiRowInsert(samples[i:end])

		res, err := q.ExecContext(ctx, query, args...)
		if err != nil {
			return inserted, fmt.Errorf("insert samples: %w", err)
		}
		if n, err := res.RowsAffected(); err == nil {
			inserted += n
		}
	}
	return inserted, nil
}

type sampleKey struct {
	dataSourceID uuid.UUID
	seriesType   types.SeriesType
	recordedAt   int64
}

// uniqueSamples drops repeated natural keys, keeping the first occurrence.
// A single INSERT may not touch the same conflict target twice.
func uniqueSamples(samples []*types.Sample) []*types.Sample {
	seen := make(map[sampleKey]struct{}, len(samples))
	out := samples[:0:0]
	for _, sample := range samples {
		key := sampleKey{sample.DataSourceID, sample.SeriesType, sample.RecordedAt.UTC().UnixMicro()}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, sample)
	}
	return out
}

// buildMultiRowInsert builds the multi-row INSERT statement.
func buildMultiRowInsert(samples []*types.Sample) (string, []interface{}) {
	const columnsPerRow = 5

	args := make([]interface{}, 0, len(samples)*columnsPerRow)

	var query strings.Builder
	query.Grow(200 + len(samples)*80)

	query.WriteString(`INSERT INTO samples (data_source_id, series_type_id, recorded_at,
		value, external_id) VALUES `)

	for i, sample := range samples {
		if i > 0 {
			query.WriteByte(',')
		}
		query.WriteString("(?,?,CAST(? AS TIMESTAMP)," + decimalParam + ",?)")

		args = append(args,
			sample.DataSourceID.String(),
			int16(sample.SeriesType),
			sample.RecordedAt.UTC(),
			sample.Value.String(),
			sample.ExternalID,
		)
	}
	query.WriteString(" ON CONFLICT DO NOTHING")

	return query.String(), args
}

// CountSamples returns the number of live samples.
func (s *Store) CountSamples(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM samples`).Scan(&n)
	return n, err
}

// DeleteSamplesBefore deletes up to limit live samples recorded strictly
// before cutoff, oldest first.
func (s *Store) DeleteSamplesBefore(ctx context.Context, cutoff time.Time, limit int) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM samples WHERE id IN (
			SELECT id FROM samples
			WHERE recorded_at < CAST(? AS TIMESTAMP)
			ORDER BY recorded_at, id
			LIMIT ?
		)
	`, cutoff.UTC(), limit)
	if err != nil {
		return 0, fmt.Errorf("delete samples: %w", err)
	}
	return res.RowsAffected()
}

// ScanSample scans id, data_source_id, series_type_id, recorded_at,
// CAST(value AS VARCHAR), external_id.
func ScanSample(row rowScanner) (*types.Sample, error) {
	var (
		sample     types.Sample
		dsID       string
		seriesType int16
		value      string
		externalID sql.NullString
		err        error
	)

	if err = row.Scan(&sample.ID, &dsID, &seriesType, &sample.RecordedAt, &value, &externalID); err != nil {
		return nil, err
	}

	if sample.DataSourceID, err = uuid.Parse(dsID); err != nil {
		return nil, fmt.Errorf("parse data source id %q: %w", dsID, err)
	}
	if sample.Value, err = decimal.NewFromString(value); err != nil {
		return nil, fmt.Errorf("parse value %q: %w", value, err)
	}
	sample.SeriesType = types.SeriesType(seriesType)
	sample.RecordedAt = sample.RecordedAt.UTC()
	if externalID.Valid {
		ext := externalID.String
		sample.ExternalID = &ext
	}
	return &sample, nil
}
