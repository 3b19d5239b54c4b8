package config

import (
	"fmt"
	"os"
	"time"

	"github.com/xtxerr/vitals/config"
	"gopkg.in/yaml.v3"
)

// Config represents the complete storage configuration.
type Config struct {
	// Database configures the DuckDB store.
	Database DatabaseConfig `yaml:"database"`

	// Ingestion configures the ingestion writer.
	Ingestion IngestionConfig `yaml:"ingestion"`

	// Query configures the query engine.
	Query QueryConfig `yaml:"query"`

	// Archival configures the scheduled archival and retention jobs.
	Archival ArchivalConfig `yaml:"archival"`

	// Export configures the cold export of archive rows.
	Export ExportConfig `yaml:"export"`

	// Percentiles configures DDSketch percentile calculation.
	Percentiles PercentileConfig `yaml:"percentiles"`

	// Logging configures the global logger.
	Logging LoggingConfig `yaml:"logging"`
}

// DatabaseConfig configures the DuckDB store.
type DatabaseConfig struct {
	// DSN is the DuckDB database path. ":memory:" opens an in-memory database.
	DSN string `yaml:"dsn"`

	// MaxOpenConns is the maximum number of open connections.
	MaxOpenConns int `yaml:"max_open_conns"`

	// MaxIdleConns is the maximum number of idle connections.
	MaxIdleConns int `yaml:"max_idle_conns"`

	// QueryTimeout bounds every read and write call.
	QueryTimeout time.Duration `yaml:"query_timeout"`

	// MemoryLimit is passed to DuckDB's memory_limit setting. Empty keeps the engine default.
	MemoryLimit string `yaml:"memory_limit"`
}

// IngestionConfig configures the ingestion writer.
type IngestionConfig struct {
	// MaxIdentityLength bounds device_model, source and software_version.
	MaxIdentityLength int `yaml:"max_identity_length"`
}

// QueryConfig configures the query engine.
type QueryConfig struct {
	// DefaultPageSize is used when a caller passes no limit.
	DefaultPageSize int `yaml:"default_page_size"`

	// MaxPageSize caps the page size of sample listings.
	MaxPageSize int `yaml:"max_page_size"`

	// ActiveMinuteStepThreshold is the default per-minute step threshold.
	ActiveMinuteStepThreshold int `yaml:"active_minute_step_threshold"`
}

// ArchivalConfig configures the scheduled archival and retention jobs.
type ArchivalConfig struct {
	// Enabled starts the daily scheduler with the service.
	Enabled bool `yaml:"enabled"`

	// ScheduleHour is the UTC hour of the daily run (0-23).
	ScheduleHour int `yaml:"schedule_hour"`

	// SourceBatchSize is the number of distinct data sources per batch.
	SourceBatchSize int `yaml:"source_batch_size"`

	// RowsPerBatch caps the live rows summarized in one transaction.
	RowsPerBatch int `yaml:"rows_per_batch"`

	// DeleteBatchSize is the number of rows removed per delete statement.
	DeleteBatchSize int `yaml:"delete_batch_size"`

	// MaxRowsPerRun stops a run after this many rows were removed.
	MaxRowsPerRun int64 `yaml:"max_rows_per_run"`

	// MaxDurationPerRun stops a run after this much wall-clock time.
	MaxDurationPerRun time.Duration `yaml:"max_duration_per_run"`
}

// ExportConfig configures the cold export of archive rows before deletion.
type ExportConfig struct {
	// Enabled writes Parquet files before the reaper deletes archive rows.
	Enabled bool `yaml:"enabled"`

	// Dir receives the exported files.
	Dir string `yaml:"dir"`

	// Compression is the Parquet codec: snappy, zstd, lz4, gzip, none.
	Compression string `yaml:"compression"`

	// Retention removes exported files older than this. Zero keeps them.
	Retention time.Duration `yaml:"retention"`
}

// PercentileConfig configures DDSketch percentile calculation.
type PercentileConfig struct {
	// Enabled enables percentile calculation in distribution queries.
	Enabled bool `yaml:"enabled"`

	// Accuracy is the relative accuracy (0.01 = 1% error).
	Accuracy float64 `yaml:"accuracy"`
}

// LoggingConfig configures the global logger.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level"`

	// JSON switches the handler to JSON output.
	JSON bool `yaml:"json"`
}

// Load loads configuration from a YAML file.
// Environment variables in the file are expanded before parsing.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	return Parse(data)
}

// Parse parses YAML configuration on top of DefaultConfig.
func Parse(data []byte) (*Config, error) {
	expanded := os.ExpandEnv(string(data))

	cfg := DefaultConfig()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			DSN:          config.DefaultDSN,
			MaxOpenConns: config.DefaultMaxOpenConns,
			MaxIdleConns: config.DefaultMaxIdleConns,
			QueryTimeout: config.DefaultQueryTimeout,
		},
		Ingestion: IngestionConfig{
			MaxIdentityLength: config.DefaultMaxIdentityLength,
		},
		Query: QueryConfig{
			DefaultPageSize:           config.DefaultPageSize,
			MaxPageSize:               config.DefaultMaxPageSize,
			ActiveMinuteStepThreshold: config.DefaultActiveMinuteStepThreshold,
		},
		Archival: ArchivalConfig{
			Enabled:           true,
			ScheduleHour:      config.DefaultScheduleHour,
			SourceBatchSize:   config.DefaultSourceBatchSize,
			RowsPerBatch:      config.DefaultRowsPerBatch,
			DeleteBatchSize:   config.DefaultDeleteBatchSize,
			MaxRowsPerRun:     config.DefaultMaxRowsPerRun,
			MaxDurationPerRun: config.DefaultMaxDurationPerRun,
		},
		Export: ExportConfig{
			Enabled:     false,
			Dir:         config.DefaultExportDir,
			Compression: config.DefaultExportCompression,
		},
		Percentiles: PercentileConfig{
			Enabled:  true,
			Accuracy: config.DefaultPercentileAccuracy,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// EnsureDirectories creates the directories the configuration refers to.
func (c *Config) EnsureDirectories() error {
	if !c.Export.Enabled {
		return nil
	}
	if err := os.MkdirAll(c.Export.Dir, 0755); err != nil {
		return fmt.Errorf("create export dir: %w", err)
	}
	return nil
}
