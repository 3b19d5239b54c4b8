package types

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// archiveNamespace seeds archive ids. Changing it changes every archive id.
var archiveNamespace = uuid.MustParse("6f1c2a0e-3b8d-5e4a-9c71-0d2b8e4f5a63")

// ArchiveID derives the id of an archive row from its natural key.
// It is a name-based (SHA-1) UUID, so the same key always yields the same id.
func ArchiveID(dataSourceID uuid.UUID, seriesType SeriesType, date time.Time) uuid.UUID {
	name := fmt.Sprintf("%s:%d:%s", dataSourceID, int16(seriesType), date.UTC().Format(time.DateOnly))
	return uuid.NewSHA1(archiveNamespace, []byte(name))
}

// ArchiveAggregate is one daily summary of (data source, series type, date).
type ArchiveAggregate struct {
	ID           uuid.UUID
	DataSourceID uuid.UUID
	SeriesType   SeriesType
	Date         time.Time
	Value        decimal.Decimal
	SampleCount  int64
	UpdatedAt    time.Time
}

// Key returns the printable natural key of the row.
func (a *ArchiveAggregate) Key() string {
	return fmt.Sprintf("%s/%d/%s", a.DataSourceID, int16(a.SeriesType), a.Date.UTC().Format(time.DateOnly))
}

// Day truncates t to midnight UTC.
func Day(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
