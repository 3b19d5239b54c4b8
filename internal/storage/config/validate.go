package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if err := c.Database.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("database: %w", err))
	}

	if err := c.Ingestion.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("ingestion: %w", err))
	}

	if err := c.Query.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("query: %w", err))
	}

	if err := c.Archival.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("archival: %w", err))
	}

	if err := c.Export.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("export: %w", err))
	}

	if err := c.Percentiles.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("percentiles: %w", err))
	}

	if err := c.Logging.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("logging: %w", err))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// Validate checks the database configuration.
func (c *DatabaseConfig) Validate() error {
	var errs []error

	if c.DSN == "" {
		errs = append(errs, errors.New("dsn is required"))
	}

	if c.MaxOpenConns < 0 {
		errs = append(errs, errors.New("max_open_conns must be non-negative"))
	}

	if c.MaxIdleConns < 0 {
		errs = append(errs, errors.New("max_idle_conns must be non-negative"))
	}

	if c.QueryTimeout < 0 {
		errs = append(errs, errors.New("query_timeout must be non-negative"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// Validate checks the ingestion configuration.
func (c *IngestionConfig) Validate() error {
	if c.MaxIdentityLength <= 0 {
		return errors.New("max_identity_length must be positive")
	}
	return nil
}

// Validate checks the query configuration.
func (c *QueryConfig) Validate() error {
	var errs []error

	if c.DefaultPageSize <= 0 {
		errs = append(errs, errors.New("default_page_size must be positive"))
	}

	if c.MaxPageSize < c.DefaultPageSize {
		errs = append(errs, errors.New("max_page_size must be >= default_page_size"))
	}

	if c.ActiveMinuteStepThreshold <= 0 {
		errs = append(errs, errors.New("active_minute_step_threshold must be positive"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// Validate checks the archival configuration.
func (c *ArchivalConfig) Validate() error {
	var errs []error

	if c.ScheduleHour < 0 || c.ScheduleHour > 23 {
		errs = append(errs, errors.New("schedule_hour must be between 0 and 23"))
	}

	if c.SourceBatchSize <= 0 {
		errs = append(errs, errors.New("source_batch_size must be positive"))
	}

	if c.RowsPerBatch <= 0 {
		errs = append(errs, errors.New("rows_per_batch must be positive"))
	}

	if c.DeleteBatchSize <= 0 {
		errs = append(errs, errors.New("delete_batch_size must be positive"))
	}

	if c.MaxRowsPerRun <= 0 {
		errs = append(errs, errors.New("max_rows_per_run must be positive"))
	}

	if c.MaxDurationPerRun <= 0 {
		errs = append(errs, errors.New("max_duration_per_run must be positive"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// Validate checks the export configuration.
func (c *ExportConfig) Validate() error {
	var errs []error

	if c.Enabled && c.Dir == "" {
		errs = append(errs, errors.New("dir is required when enabled"))
	}

	validAlgorithms := map[string]bool{
		"snappy": true,
		"zstd":   true,
		"lz4":    true,
		"gzip":   true,
		"none":   true,
		"":       true, // Empty means uncompressed
	}
	if !validAlgorithms[strings.ToLower(c.Compression)] {
		errs = append(errs, errors.New("compression must be one of: snappy, zstd, lz4, gzip, none"))
	}

	if c.Retention < 0 {
		errs = append(errs, errors.New("retention must not be negative"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// Validate checks the percentile configuration.
func (c *PercentileConfig) Validate() error {
	if c.Enabled && (c.Accuracy <= 0 || c.Accuracy >= 1) {
		return errors.New("accuracy must be between 0 and 1")
	}
	return nil
}

// Validate checks the logging configuration.
func (c *LoggingConfig) Validate() error {
	switch c.Level {
	case "", "debug", "info", "warn", "warning", "error":
		return nil
	default:
		return fmt.Errorf("unknown level %q", c.Level)
	}
}
