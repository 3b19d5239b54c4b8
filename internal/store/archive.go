package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/xtxerr/vitals/internal/storage/types"
)

// maxArchiveRowsPerUpsert bounds the rows of one archive upsert statement.
const maxArchiveRowsPerUpsert = 100

// ArchiveGroup holds the statistics of one (data source, series type, date)
// group of a staged archive batch.
type ArchiveGroup struct {
	DataSourceID uuid.UUID
	SeriesType   types.SeriesType
	Date         time.Time
	Sum          decimal.Decimal
	Min          decimal.Decimal
	Max          decimal.Decimal
	Count        int64
}

// Avg returns Sum/Count rounded to the stored scale.
func (g *ArchiveGroup) Avg() decimal.Decimal {
	if g.Count == 0 {
		return decimal.Zero
	}
	return g.Sum.DivRound(decimal.NewFromInt(g.Count), types.ValueScale)
}

// =============================================================================
// Archive batch staging
// =============================================================================

// StageArchiveBatch materializes the next archive batch into the temporary
// table archive_batch on tx's connection: live rows of the given series types
// recorded before cutoff, belonging to at most sourceLimit data sources,
// capped at rowLimit rows. It returns the number of staged rows.
//
// Values are inlined: cutoff is formatted from a time.Time and every other
// value is an integer.
func (s *Store) StageArchiveBatch(ctx context.Context, tx *sql.Tx, cutoff time.Time, seriesTypes []types.SeriesType, sourceLimit, rowLimit int) (int64, error) {
	if len(seriesTypes) == 0 {
		return 0, nil
	}

	ts := timestampLiteral(cutoff)
	in := seriesList(seriesTypes)

	query := fmt.Sprintf(`
		CREATE OR REPLACE TEMP TABLE archive_batch AS
		SELECT id, data_source_id, series_type_id, CAST(recorded_at AS DATE) AS date, value
		FROM samples
		WHERE recorded_at < %[1]s
		  AND series_type_id IN (%[2]s)
		  AND data_source_id IN (
			SELECT DISTINCT data_source_id FROM samples
			WHERE recorded_at < %[1]s AND series_type_id IN (%[2]s)
			ORDER BY data_source_id
			LIMIT %[3]d
		  )
		ORDER BY data_source_id, series_type_id, recorded_at, id
		LIMIT %[4]d
	`, ts, in, sourceLimit, rowLimit)

	if _, err := tx.ExecContext(ctx, query); err != nil {
		return 0, fmt.Errorf("stage archive batch: %w", err)
	}

	var n int64
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM archive_batch`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count archive batch: %w", err)
	}
	return n, nil
}

// ArchiveBatchGroups returns the per-day statistics of the staged batch.
func (s *Store) ArchiveBatchGroups(ctx context.Context, tx *sql.Tx) ([]*ArchiveGroup, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT data_source_id, series_type_id, date,
			CAST(SUM(value) AS VARCHAR), CAST(MIN(value) AS VARCHAR), CAST(MAX(value) AS VARCHAR),
			COUNT(*)
		FROM archive_batch
		GROUP BY data_source_id, series_type_id, date
		ORDER BY data_source_id, series_type_id, date
	`)
	if err != nil {
		return nil, fmt.Errorf("group archive batch: %w", err)
	}
	defer rows.Close()

	var groups []*ArchiveGroup
	for rows.Next() {
		var (
			g                         ArchiveGroup
			dsID                      string
			seriesType                int16
			sumText, minText, maxText string
		)
		if err := rows.Scan(&dsID, &seriesType, &g.Date, &sumText, &minText, &maxText, &g.Count); err != nil {
			return nil, err
		}
		if g.DataSourceID, err = uuid.Parse(dsID); err != nil {
			return nil, fmt.Errorf("parse data source id %q: %w", dsID, err)
		}
		g.SeriesType = types.SeriesType(seriesType)
		g.Date = types.Day(g.Date)
		if g.Sum, err = decimal.NewFromString(sumText); err != nil {
			return nil, fmt.Errorf("parse sum %q: %w", sumText, err)
		}
		if g.Min, err = decimal.NewFromString(minText); err != nil {
			return nil, fmt.Errorf("parse min %q: %w", minText, err)
		}
		if g.Max, err = decimal.NewFromString(maxText); err != nil {
			return nil, fmt.Errorf("parse max %q: %w", maxText, err)
		}
		groups = append(groups, &g)
	}
	return groups, rows.Err()
}

// DeleteArchivedSamples deletes the staged live rows of the given series
// types. Rows of other series types stay in place.
func (s *Store) DeleteArchivedSamples(ctx context.Context, tx *sql.Tx, seriesTypes []types.SeriesType) (int64, error) {
	if len(seriesTypes) == 0 {
		return 0, nil
	}

	res, err := tx.ExecContext(ctx, fmt.Sprintf(`
		DELETE FROM samples WHERE id IN (
			SELECT id FROM archive_batch WHERE series_type_id IN (%s)
		)
	`, seriesList(seriesTypes)))
	if err != nil {
		return 0, fmt.Errorf("delete archived samples: %w", err)
	}
	return res.RowsAffected()
}

// DropArchiveBatch removes the staging table.
func (s *Store) DropArchiveBatch(ctx context.Context, tx *sql.Tx) error {
	if _, err := tx.ExecContext(ctx, `DROP TABLE IF EXISTS archive_batch`); err != nil {
		return fmt.Errorf("drop archive batch: %w", err)
	}
	return nil
}

// CountSamplesExcluding counts live rows before cutoff whose series type is
// not in seriesTypes.
func (s *Store) CountSamplesExcluding(ctx context.Context, cutoff time.Time, seriesTypes []types.SeriesType) (int64, error) {
	query := `SELECT COUNT(*) FROM samples WHERE recorded_at < CAST(? AS TIMESTAMP)`
	if len(seriesTypes) > 0 {
		query += fmt.Sprintf(" AND series_type_id NOT IN (%s)", seriesList(seriesTypes))
	}

	var n int64
	if err := s.db.QueryRowContext(ctx, query, cutoff.UTC()).Scan(&n); err != nil {
		return 0, fmt.Errorf("count unarchivable samples: %w", err)
	}
	return n, nil
}

// =============================================================================
// Archive aggregates
// =============================================================================

const archiveColumns = `id, data_source_id, series_type_id, date, CAST(value AS VARCHAR),
	sample_count, updated_at`

// GetArchiveAggregates returns the archive rows with the given ids.
func (s *Store) GetArchiveAggregates(ctx context.Context, q DBTX, ids []uuid.UUID) (map[uuid.UUID]*types.ArchiveAggregate, error) {
	out := make(map[uuid.UUID]*types.ArchiveAggregate, len(ids))

	for i := 0; i < len(ids); i += maxArchiveRowsPerUpsert {
		end := min(i+maxArchiveRowsPerUpsert, len(ids))
		chunk := ids[i:end]

		args := make([]interface{}, len(chunk))
		for j, id := range chunk {
			args[j] = id.String()
		}

		rows, err := q.QueryContext(ctx, `
			SELECT `+archiveColumns+`
			FROM archive_aggregates
			WHERE id IN (`+placeholders(len(chunk))+`)
		`, args...)
		if err != nil {
			return nil, fmt.Errorf("get archive aggregates: %w", err)
		}

		for rows.Next() {
			a, err := scanArchiveAggregate(rows)
			if err != nil {
				rows.Close()
				return nil, err
			}
			out[a.ID] = a
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, err
		}
	}

	return out, nil
}

// UpsertArchiveAggregates writes archive rows, replacing value and
// sample_count of rows whose id already exists.
func (s *Store) UpsertArchiveAggregates(ctx context.Context, q DBTX, aggs []*types.ArchiveAggregate) error {
	for i := 0; i < len(aggs); i += maxArchiveRowsPerUpsert {
		end := min(i+maxArchiveRowsPerUpsert, len(aggs))
		chunk := aggs[i:end]

		var query strings.Builder
		args := make([]interface{}, 0, len(chunk)*6)

		query.WriteString(`INSERT INTO archive_aggregates
			(id, data_source_id, series_type_id, date, value, sample_count, updated_at) VALUES `)
		for j, a := range chunk {
			if j > 0 {
				query.WriteByte(',')
			}
			query.WriteString("(?,?,?,CAST(CAST(? AS VARCHAR) AS DATE)," + decimalParam + ",?,now())")
			args = append(args,
				a.ID.String(),
				a.DataSourceID.String(),
				int16(a.SeriesType),
				a.Date.UTC().Format(time.DateOnly),
				a.Value.String(),
				a.SampleCount,
			)
		}
		query.WriteString(` ON CONFLICT (id) DO UPDATE SET
			value = excluded.value,
			sample_count = excluded.sample_count,
			updated_at = excluded.updated_at`)

		if _, err := q.ExecContext(ctx, query.String(), args...); err != nil {
			return fmt.Errorf("upsert archive aggregates: %w", err)
		}
	}
	return nil
}

// GetArchiveAggregate returns one archive row by id.
func (s *Store) GetArchiveAggregate(ctx context.Context, id uuid.UUID) (*types.ArchiveAggregate, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+archiveColumns+` FROM archive_aggregates WHERE id = ?
	`, id.String())

	a, err := scanArchiveAggregate(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("archive aggregate %s: %w", id, ErrNotFound)
	}
	return a, err
}

// ListArchiveAggregates returns every archive row of a data source ordered
// by series type and date.
func (s *Store) ListArchiveAggregates(ctx context.Context, dataSourceID uuid.UUID) ([]*types.ArchiveAggregate, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+archiveColumns+`
		FROM archive_aggregates
		WHERE data_source_id = ?
		ORDER BY series_type_id, date
	`, dataSourceID.String())
	if err != nil {
		return nil, fmt.Errorf("list archive aggregates: %w", err)
	}
	defer rows.Close()

	var out []*types.ArchiveAggregate
	for rows.Next() {
		a, err := scanArchiveAggregate(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// CountArchiveAggregates returns the number of archive rows.
func (s *Store) CountArchiveAggregates(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM archive_aggregates`).Scan(&n)
	return n, err
}

// SelectArchiveBefore returns up to limit archive rows dated strictly
// before cutoff, oldest first.
func (s *Store) SelectArchiveBefore(ctx context.Context, q DBTX, cutoff time.Time, limit int) ([]*types.ArchiveAggregate, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT `+archiveColumns+`
		FROM archive_aggregates
		WHERE date < CAST(CAST(? AS VARCHAR) AS DATE)
		ORDER BY date, id
		LIMIT ?
	`, cutoff.UTC().Format(time.DateOnly), limit)
	if err != nil {
		return nil, fmt.Errorf("select archive rows: %w", err)
	}
	defer rows.Close()

	var out []*types.ArchiveAggregate
	for rows.Next() {
		a, err := scanArchiveAggregate(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// DeleteArchiveByIDs deletes the archive rows with the given ids.
func (s *Store) DeleteArchiveByIDs(ctx context.Context, q DBTX, ids []uuid.UUID) (int64, error) {
	var deleted int64
	for i := 0; i < len(ids); i += maxArchiveRowsPerUpsert {
		end := min(i+maxArchiveRowsPerUpsert, len(ids))
		chunk := ids[i:end]

		args := make([]interface{}, len(chunk))
		for j, id := range chunk {
			args[j] = id.String()
		}

		res, err := q.ExecContext(ctx, `
			DELETE FROM archive_aggregates WHERE id IN (`+placeholders(len(chunk))+`)
		`, args...)
		if err != nil {
			return deleted, fmt.Errorf("delete archive rows: %w", err)
		}
		if n, err := res.RowsAffected(); err == nil {
			deleted += n
		}
	}
	return deleted, nil
}

func scanArchiveAggregate(row rowScanner) (*types.ArchiveAggregate, error) {
	var (
		a          types.ArchiveAggregate
		id, dsID   string
		seriesType int16
		value      string
		updatedAt  sql.NullTime
		err        error
	)

	if err = row.Scan(&id, &dsID, &seriesType, &a.Date, &value, &a.SampleCount, &updatedAt); err != nil {
		return nil, err
	}
	if a.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("parse archive id %q: %w", id, err)
	}
	if a.DataSourceID, err = uuid.Parse(dsID); err != nil {
		return nil, fmt.Errorf("parse data source id %q: %w", dsID, err)
	}
	if a.Value, err = decimal.NewFromString(value); err != nil {
		return nil, fmt.Errorf("parse value %q: %w", value, err)
	}
	a.SeriesType = types.SeriesType(seriesType)
	a.Date = types.Day(a.Date)
	if updatedAt.Valid {
		a.UpdatedAt = updatedAt.Time.UTC()
	}
	return &a, nil
}

// =============================================================================
// SQL helpers
// =============================================================================

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.Repeat("?,", n-1) + "?"
}

func seriesList(seriesTypes []types.SeriesType) string {
	parts := make([]string, len(seriesTypes))
	for i, st := range seriesTypes {
		parts[i] = strconv.Itoa(int(st))
	}
	return strings.Join(parts, ",")
}

func timestampLiteral(t time.Time) string {
	return "TIMESTAMP '" + t.UTC().Format("2006-01-02 15:04:05.999999") + "'"
}
