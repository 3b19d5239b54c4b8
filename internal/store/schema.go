package store

import (
	"context"
	"fmt"
)

// =============================================================================
// Schema Migration
// =============================================================================

// Migrate creates the tables, sequences, seeds and indexes.
//
// This is idempotent - safe to run multiple times.
func (s *Store) Migrate(ctx context.Context) error {
	migrations := []struct {
		name string
		sql  string
	}{
		{
			name: "samples_id_seq",
			sql:  `CREATE SEQUENCE IF NOT EXISTS samples_id_seq START 1`,
		},

		// Data sources: one row per (user, device model, source).
		// device_model is '' rather than NULL so the unique key holds.
		{
			name: "data_sources",
			sql: `CREATE TABLE IF NOT EXISTS data_sources (
				id VARCHAR PRIMARY KEY,
				user_id VARCHAR NOT NULL,
				device_model VARCHAR NOT NULL DEFAULT '',
				source VARCHAR NOT NULL,
				provider VARCHAR,
				device_type VARCHAR NOT NULL DEFAULT 'unknown',
				software_version VARCHAR,
				user_connection_id VARCHAR,
				created_at TIMESTAMP DEFAULT now(),
				UNIQUE (user_id, device_model, source)
			)`,
		},

		// Live samples
		{
			name: "samples",
			sql: `CREATE TABLE IF NOT EXISTS samples (
				id BIGINT PRIMARY KEY DEFAULT nextval('samples_id_seq'),
				data_source_id VARCHAR NOT NULL REFERENCES data_sources(id),
				series_type_id SMALLINT NOT NULL,
				recorded_at TIMESTAMP NOT NULL,
				value DECIMAL(18,6) NOT NULL,
				external_id VARCHAR,
				UNIQUE (data_source_id, series_type_id, recorded_at)
			)`,
		},

		// Daily archive. id is derived from the natural key.
		{
			name: "archive_aggregates",
			sql: `CREATE TABLE IF NOT EXISTS archive_aggregates (
				id VARCHAR PRIMARY KEY,
				data_source_id VARCHAR NOT NULL REFERENCES data_sources(id),
				series_type_id SMALLINT NOT NULL,
				date DATE NOT NULL,
				value DECIMAL(18,6) NOT NULL,
				sample_count BIGINT NOT NULL,
				updated_at TIMESTAMP DEFAULT now(),
				UNIQUE (data_source_id, series_type_id, date)
			)`,
		},

		// Priority tables. Lower priority wins.
		{
			name: "provider_priorities",
			sql: `CREATE TABLE IF NOT EXISTS provider_priorities (
				provider VARCHAR PRIMARY KEY,
				priority INTEGER NOT NULL,
				updated_at TIMESTAMP DEFAULT now()
			)`,
		},
		{
			name: "provider_priorities.init",
			sql: `INSERT INTO provider_priorities (provider, priority) VALUES
				('apple', 1), ('garmin', 2), ('polar', 3), ('suunto', 4),
				('whoop', 5), ('oura', 6), ('coros', 7), ('fitbit', 8),
				('withings', 9), ('samsung', 10), ('google', 11), ('ultrahuman', 12)
				ON CONFLICT DO NOTHING`,
		},
		{
			name: "device_type_priorities",
			sql: `CREATE TABLE IF NOT EXISTS device_type_priorities (
				device_type VARCHAR PRIMARY KEY,
				priority INTEGER NOT NULL,
				updated_at TIMESTAMP DEFAULT now()
			)`,
		},
		{
			name: "device_type_priorities.init",
			sql: `INSERT INTO device_type_priorities (device_type, priority) VALUES
				('chest_strap', 1), ('watch', 2), ('band', 3), ('ring', 4),
				('scale', 5), ('phone', 6), ('other', 7)
				ON CONFLICT DO NOTHING`,
		},

		// Archival settings (singleton)
		{
			name: "archival_settings",
			sql: `CREATE TABLE IF NOT EXISTS archival_settings (
				id INTEGER PRIMARY KEY DEFAULT 1 CHECK (id = 1),
				archive_after_days INTEGER CHECK (archive_after_days IS NULL OR archive_after_days > 0),
				delete_after_days INTEGER CHECK (delete_after_days IS NULL OR delete_after_days > 0),
				updated_at TIMESTAMP DEFAULT now()
			)`,
		},
		{
			name: "archival_settings.init",
			sql:  `INSERT INTO archival_settings (id) VALUES (1) ON CONFLICT DO NOTHING`,
		},

		// Indices
		{
			name: "idx_data_sources_user",
			sql:  `CREATE INDEX IF NOT EXISTS idx_data_sources_user ON data_sources(user_id)`,
		},
		{
			name: "idx_samples_recorded_at",
			sql:  `CREATE INDEX IF NOT EXISTS idx_samples_recorded_at ON samples(recorded_at)`,
		},
		{
			name: "idx_samples_type_time",
			sql:  `CREATE INDEX IF NOT EXISTS idx_samples_type_time ON samples(series_type_id, recorded_at)`,
		},
		{
			name: "idx_archive_date",
			sql:  `CREATE INDEX IF NOT EXISTS idx_archive_date ON archive_aggregates(date)`,
		},
	}

	for _, m := range migrations {
		if _, err := s.db.ExecContext(ctx, m.sql); err != nil {
			return fmt.Errorf("migration %s: %w", m.name, err)
		}
		log.Debug("migration applied", "name", m.name)
	}

	log.Info("schema migration completed", "migrations", len(migrations))
	return nil
}
