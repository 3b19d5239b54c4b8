// Package config provides configuration defaults and utilities
// for the vitals services.
//
// This package defines all configurable constants with documented defaults.
// Users can override these values via config.yaml or environment variables.
package config

import "time"

// =============================================================================
// Database Defaults
// =============================================================================

const (
	// DefaultDSN is the DuckDB database file.
	// Override via config: database.dsn
	DefaultDSN = "vitals.db"

	// DefaultMaxOpenConns caps concurrent DuckDB connections.
	// Override via config: database.max_open_conns
	DefaultMaxOpenConns = 16

	// DefaultMaxIdleConns is the idle connection pool size.
	// Override via config: database.max_idle_conns
	DefaultMaxIdleConns = 4

	// DefaultQueryTimeout bounds a single read or write call.
	// Override via config: database.query_timeout
	DefaultQueryTimeout = 30 * time.Second
)

// =============================================================================
// Ingestion Defaults
// =============================================================================

const (
	// DefaultMaxIdentityLength bounds device_model, source and software_version.
	// Override via config: ingestion.max_identity_length
	DefaultMaxIdentityLength = 255

	// DefaultRefetchAttempts is how often create re-reads a row that lost an
	// insert race before giving up. A concurrent writer may not have
	// committed yet when the conflict is reported.
	DefaultRefetchAttempts = 5

	// DefaultRefetchBackoff is the pause between refetch attempts.
	DefaultRefetchBackoff = 10 * time.Millisecond
)

// =============================================================================
// Query Defaults
// =============================================================================

const (
	// DefaultPageSize is used when a caller passes limit <= 0.
	// Override via config: query.default_page_size
	DefaultPageSize = 50

	// DefaultMaxPageSize caps the page size of get_samples.
	// Override via config: query.max_page_size
	DefaultMaxPageSize = 1000

	// DefaultActiveMinuteStepThreshold is the per-minute step count at or
	// above which a minute counts as active.
	DefaultActiveMinuteStepThreshold = 30

	// DefaultPercentileAccuracy is the DDSketch relative accuracy (1%).
	// Override via config: percentiles.accuracy
	DefaultPercentileAccuracy = 0.01
)

// =============================================================================
// Archival / Retention Defaults
// =============================================================================

const (
	// DefaultSourceBatchSize is the number of distinct data sources picked
	// per archival batch.
	// Override via config: archival.source_batch_size
	DefaultSourceBatchSize = 100

	// DefaultRowsPerBatch caps the live rows summarized in one transaction.
	// Override via config: archival.rows_per_batch
	DefaultRowsPerBatch = 50000

	// DefaultMaxRowsPerRun stops a run after this many rows were removed.
	// The next scheduled run resumes against the same cutoff.
	// Override via config: archival.max_rows_per_run
	DefaultMaxRowsPerRun = 5000000

	// DefaultMaxDurationPerRun stops a run after this much wall-clock time.
	// Override via config: archival.max_duration_per_run
	DefaultMaxDurationPerRun = 30 * time.Minute

	// DefaultDeleteBatchSize is the number of rows removed per delete statement.
	// Override via config: archival.delete_batch_size
	DefaultDeleteBatchSize = 10000

	// DefaultScheduleHour is the UTC hour of the daily archival run.
	// Override via config: archival.schedule_hour
	DefaultScheduleHour = 3
)

// =============================================================================
// Export Defaults
// =============================================================================

const (
	// DefaultExportDir receives Parquet files of archive rows removed by retention.
	// Override via config: export.dir
	DefaultExportDir = "/var/lib/vitals/cold"

	// DefaultExportCompression is the Parquet codec for exported files.
	// Override via config: export.compression
	DefaultExportCompression = "zstd"
)
