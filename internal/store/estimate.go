package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Estimated bytes per row used when DuckDB reports no persistent blocks
// for a table (in-memory databases, data not yet checkpointed).
var estimatedRowWidth = map[string]int64{
	"samples":            56,
	"archive_aggregates": 72,
}

// TableStats describes the storage footprint of one table.
type TableStats struct {
	Table      string
	Exists     bool
	Rows       int64
	DataBytes  int64
	IndexBytes int64
}

// AvgBytesPerRow returns (data + index) bytes per row, or 0 for empty tables.
func (t TableStats) AvgBytesPerRow() float64 {
	if t.Rows == 0 {
		return 0
	}
	return float64(t.DataBytes+t.IndexBytes) / float64(t.Rows)
}

// GetTableStats measures a table. A missing table yields zero stats rather
// than an error; so do unavailable storage introspection functions.
func (s *Store) GetTableStats(ctx context.Context, table string) (TableStats, error) {
	stats := TableStats{Table: table}

	var n int64
	if err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM duckdb_tables() WHERE table_name = ? AND NOT temporary
	`, table).Scan(&n); err != nil {
		log.Debug("table lookup failed", "table", table, "error", err)
		return stats, nil
	}
	if n == 0 {
		return stats, nil
	}
	stats.Exists = true

	if err := s.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM %s`, table)).Scan(&stats.Rows); err != nil {
		return stats, fmt.Errorf("count %s: %w", table, err)
	}
	if stats.Rows == 0 {
		return stats, nil
	}

	stats.DataBytes = s.persistentBytes(ctx, table)
	if stats.DataBytes == 0 {
		stats.DataBytes = stats.Rows * estimatedRowWidth[table]
	}

	stats.IndexBytes = s.indexBytesShare(ctx, stats.Rows)
	return stats, nil
}

// persistentBytes counts the distinct blocks holding table data.
func (s *Store) persistentBytes(ctx context.Context, table string) int64 {
	var blockSize sql.NullInt64
	if err := s.db.QueryRowContext(ctx, `SELECT block_size FROM pragma_database_size() LIMIT 1`).Scan(&blockSize); err != nil {
		log.Debug("database size unavailable", "error", err)
		return 0
	}

	var blocks int64
	if err := s.db.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT COUNT(DISTINCT block_id) FROM pragma_storage_info('%s') WHERE block_id >= 0
	`, table)).Scan(&blocks); err != nil {
		log.Debug("storage info unavailable", "table", table, "error", err)
		return 0
	}
	return blocks * blockSize.Int64
}

// indexBytesShare splits DuckDB's total ART index memory by the table's
// share of all rows in the sample and archive tables.
func (s *Store) indexBytesShare(ctx context.Context, rows int64) int64 {
	var artBytes sql.NullInt64
	if err := s.db.QueryRowContext(ctx, `
		SELECT SUM(memory_usage_bytes) FROM duckdb_memory() WHERE tag = 'ART_INDEX'
	`).Scan(&artBytes); err != nil || !artBytes.Valid {
		return 0
	}

	var total int64
	if err := s.db.QueryRowContext(ctx, `
		SELECT (SELECT COUNT(*) FROM samples) + (SELECT COUNT(*) FROM archive_aggregates)
	`).Scan(&total); err != nil || total == 0 {
		return 0
	}
	return artBytes.Int64 * rows / total
}

// LiveDateSpan returns the earliest and latest recorded_at of live samples.
// ok is false when there are none.
func (s *Store) LiveDateSpan(ctx context.Context) (first, last time.Time, ok bool, err error) {
	var lo, hi sql.NullTime
	if err := s.db.QueryRowContext(ctx, `SELECT MIN(recorded_at), MAX(recorded_at) FROM samples`).Scan(&lo, &hi); err != nil {
		return time.Time{}, time.Time{}, false, fmt.Errorf("live date span: %w", err)
	}
	if !lo.Valid || !hi.Valid {
		return time.Time{}, time.Time{}, false, nil
	}
	return lo.Time.UTC(), hi.Time.UTC(), true, nil
}

// ArchiveDateSpan returns the earliest and latest archive dates.
// ok is false when the archive is empty.
func (s *Store) ArchiveDateSpan(ctx context.Context) (first, last time.Time, ok bool, err error) {
	var lo, hi sql.NullTime
	if err := s.db.QueryRowContext(ctx, `SELECT MIN(date), MAX(date) FROM archive_aggregates`).Scan(&lo, &hi); err != nil {
		return time.Time{}, time.Time{}, false, fmt.Errorf("archive date span: %w", err)
	}
	if !lo.Valid || !hi.Valid {
		return time.Time{}, time.Time{}, false, nil
	}
	return lo.Time.UTC(), hi.Time.UTC(), true, nil
}
