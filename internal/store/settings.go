package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/xtxerr/vitals/internal/storage/types"
)

// GetArchivalSetting loads the archival settings singleton.
func (s *Store) GetArchivalSetting(ctx context.Context) (types.ArchivalSetting, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `
		SELECT archive_after_days, delete_after_days, updated_at
		FROM archival_settings
	`)
	if err != nil {
		return types.ArchivalSetting{}, fmt.Errorf("load archival settings: %w", err)
	}
	defer rows.Close()

	var (
		setting types.ArchivalSetting
		found   int
	)
	for rows.Next() {
		var archiveAfter, deleteAfter sql.NullInt64
		var updatedAt sql.NullTime
		if err := rows.Scan(&archiveAfter, &deleteAfter, &updatedAt); err != nil {
			return types.ArchivalSetting{}, err
		}
		found++

		setting = types.ArchivalSetting{}
		if archiveAfter.Valid {
			setting.ArchiveAfterDays = types.Days(int(archiveAfter.Int64))
		}
		if deleteAfter.Valid {
			setting.DeleteAfterDays = types.Days(int(deleteAfter.Int64))
		}
		if updatedAt.Valid {
			setting.UpdatedAt = updatedAt.Time.UTC()
		}
	}
	if err := rows.Err(); err != nil {
		return types.ArchivalSetting{}, err
	}

	switch found {
	case 0:
		return types.ArchivalSetting{}, ErrSettingsNotFound
	case 1:
		return setting, nil
	default:
		return types.ArchivalSetting{}, fmt.Errorf("%d archival_settings rows: %w", found, ErrSingletonViolation)
	}
}

// UpdateArchivalSetting replaces both day counts of the singleton. Nil
// fields are stored as NULL.
func (s *Store) UpdateArchivalSetting(ctx context.Context, setting types.ArchivalSetting) (types.ArchivalSetting, error) {
	if err := setting.Validate(); err != nil {
		return types.ArchivalSetting{}, err
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO archival_settings (id, archive_after_days, delete_after_days, updated_at)
		VALUES (1, ?, ?, now())
		ON CONFLICT (id) DO UPDATE SET
			archive_after_days = excluded.archive_after_days,
			delete_after_days = excluded.delete_after_days,
			updated_at = excluded.updated_at
	`, nullDays(setting.ArchiveAfterDays), nullDays(setting.DeleteAfterDays))
	if err != nil {
		return types.ArchivalSetting{}, fmt.Errorf("update archival settings: %w", err)
	}

	return s.GetArchivalSetting(ctx)
}

func nullDays(d *int) interface{} {
	if d == nil {
		return nil
	}
	return *d
}
