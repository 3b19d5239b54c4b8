package types

import (
	"fmt"
	"time"

	verrors "github.com/xtxerr/vitals/internal/errors"
)

// ArchivalSetting is the singleton archival/retention policy.
// A nil field means the step is disabled.
type ArchivalSetting struct {
	ArchiveAfterDays *int
	DeleteAfterDays  *int
	UpdatedAt        time.Time
}

// Validate checks that configured day counts are positive.
func (s ArchivalSetting) Validate() error {
	if s.ArchiveAfterDays != nil && *s.ArchiveAfterDays < 1 {
		return fmt.Errorf("archive_after_days must be >= 1, got %d: %w", *s.ArchiveAfterDays, verrors.ErrInvalidArgument)
	}
	if s.DeleteAfterDays != nil && *s.DeleteAfterDays < 1 {
		return fmt.Errorf("delete_after_days must be >= 1, got %d: %w", *s.DeleteAfterDays, verrors.ErrInvalidArgument)
	}
	return nil
}

// String formats the setting for logs and the CLI.
func (s ArchivalSetting) String() string {
	return fmt.Sprintf("archive_after_days=%s delete_after_days=%s", formatDays(s.ArchiveAfterDays), formatDays(s.DeleteAfterDays))
}

func formatDays(d *int) string {
	if d == nil {
		return "unset"
	}
	return fmt.Sprintf("%d", *d)
}

// Days returns a pointer to n, for building settings literals.
func Days(n int) *int {
	return &n
}
