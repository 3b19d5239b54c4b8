package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should be valid: %v", err)
	}

	if cfg.Database.DSN != "vitals.db" {
		t.Errorf("expected dsn=vitals.db, got %s", cfg.Database.DSN)
	}

	if cfg.Query.DefaultPageSize != 50 {
		t.Errorf("expected default_page_size=50, got %d", cfg.Query.DefaultPageSize)
	}

	if !cfg.Archival.Enabled {
		t.Error("expected archival enabled by default")
	}

	if cfg.Export.Enabled {
		t.Error("expected export disabled by default")
	}
}

func TestConfigValidation(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Database.DSN = ""
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for empty dsn")
	}

	cfg = DefaultConfig()
	cfg.Export.Compression = "invalid"
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for invalid compression algorithm")
	}

	cfg = DefaultConfig()
	cfg.Export.Enabled = true
	cfg.Export.Dir = ""
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for enabled export without dir")
	}

	cfg = DefaultConfig()
	cfg.Logging.Level = "verbose"
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for unknown log level")
	}
}

func TestArchivalValidation(t *testing.T) {
	cfg := DefaultConfig()

	if err := cfg.Archival.Validate(); err != nil {
		t.Errorf("valid archival should pass: %v", err)
	}

	cfg.Archival.ScheduleHour = 24
	if err := cfg.Archival.Validate(); err == nil {
		t.Error("expected error for schedule_hour=24")
	}

	cfg = DefaultConfig()
	cfg.Archival.RowsPerBatch = 0
	cfg.Archival.MaxDurationPerRun = 0
	err := cfg.Archival.Validate()
	if err == nil {
		t.Fatal("expected error for zero batch and duration")
	}
}

func TestQueryValidation(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Query.MaxPageSize = 10
	cfg.Query.DefaultPageSize = 20
	if err := cfg.Query.Validate(); err == nil {
		t.Error("expected error when max_page_size < default_page_size")
	}
}

func TestPercentileValidation(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Percentiles.Accuracy = 1.5
	if err := cfg.Percentiles.Validate(); err == nil {
		t.Error("expected error for accuracy >= 1")
	}

	cfg.Percentiles.Enabled = false
	if err := cfg.Percentiles.Validate(); err != nil {
		t.Errorf("disabled percentiles should skip accuracy check: %v", err)
	}
}

func TestLoadConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "test.yaml")

	configContent := `
database:
  dsn: /tmp/vitals-test.db
  max_open_conns: 8
  query_timeout: 15s
query:
  default_page_size: 25
  max_page_size: 500
archival:
  enabled: false
  schedule_hour: 5
  rows_per_batch: 1000
  max_rows_per_run: 20000
  max_duration_per_run: 10m
export:
  enabled: true
  dir: /tmp/vitals-cold
  compression: snappy
percentiles:
  enabled: false
  accuracy: 0.02
logging:
  level: debug
  json: true
`

	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("write config file: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}

	if cfg.Database.DSN != "/tmp/vitals-test.db" {
		t.Errorf("expected dsn=/tmp/vitals-test.db, got %s", cfg.Database.DSN)
	}

	if cfg.Database.QueryTimeout != 15*time.Second {
		t.Errorf("expected query_timeout=15s, got %v", cfg.Database.QueryTimeout)
	}

	// Unset keys keep their defaults.
	if cfg.Database.MaxIdleConns != 4 {
		t.Errorf("expected max_idle_conns=4, got %d", cfg.Database.MaxIdleConns)
	}

	if cfg.Archival.Enabled {
		t.Error("expected archival disabled")
	}

	if cfg.Archival.MaxDurationPerRun != 10*time.Minute {
		t.Errorf("expected max_duration_per_run=10m, got %v", cfg.Archival.MaxDurationPerRun)
	}

	if cfg.Export.Compression != "snappy" {
		t.Errorf("expected compression=snappy, got %s", cfg.Export.Compression)
	}

	if !cfg.Logging.JSON || cfg.Logging.Level != "debug" {
		t.Errorf("unexpected logging config: %+v", cfg.Logging)
	}
}

func TestLoadConfigExpandsEnv(t *testing.T) {
	t.Setenv("VITALS_TEST_DSN", "/data/env.db")

	cfg, err := Parse([]byte("database:\n  dsn: ${VITALS_TEST_DSN}\n"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	if cfg.Database.DSN != "/data/env.db" {
		t.Errorf("expected dsn from env, got %s", cfg.Database.DSN)
	}
}

func TestLoadConfigInvalidFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("expected error for nonexistent file")
	}
}

func TestLoadConfigInvalidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "invalid.yaml")

	if err := os.WriteFile(configPath, []byte("invalid: yaml: content: ["), 0644); err != nil {
		t.Fatalf("write config file: %v", err)
	}

	_, err := Load(configPath)
	if err == nil {
		t.Error("expected error for invalid YAML")
	}
}

func TestEnsureDirectories(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Export.Enabled = true
	cfg.Export.Dir = filepath.Join(t.TempDir(), "cold", "nested")

	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure directories: %v", err)
	}

	if info, err := os.Stat(cfg.Export.Dir); err != nil || !info.IsDir() {
		t.Errorf("expected export dir to exist: %v", err)
	}
}
