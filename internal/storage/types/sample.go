package types

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Identity is the natural key of a data source.
type Identity struct {
	UserID      uuid.UUID
	DeviceModel string
	Source      string
}

// String returns a printable form of the identity.
func (i Identity) String() string {
	return i.UserID.String() + "/" + i.DeviceModel + "/" + i.Source
}

// DataSource identifies a reporting device or software context of one user.
// It is created once, on the first sample observed for its identity.
type DataSource struct {
	ID               uuid.UUID
	UserID           uuid.UUID
	DeviceModel      string
	Source           string
	Provider         Provider
	DeviceType       DeviceType
	SoftwareVersion  string
	UserConnectionID *uuid.UUID
	CreatedAt        time.Time
}

// Identity returns the natural key of the data source.
func (d *DataSource) Identity() Identity {
	return Identity{UserID: d.UserID, DeviceModel: d.DeviceModel, Source: d.Source}
}

// Sample is one stored time-series point.
// Unique on (DataSourceID, SeriesType, RecordedAt).
type Sample struct {
	ID           int64
	DataSourceID uuid.UUID
	SeriesType   SeriesType
	RecordedAt   time.Time
	Value        decimal.Decimal
	ExternalID   *string
}

// SampleInput is the normalized shape provider adapters hand to the writer.
type SampleInput struct {
	// Identity of the owning data source.
	UserID      uuid.UUID
	DeviceModel string
	Source      string

	// Provider is an explicit provider name. When empty or unparseable the
	// provider is inferred from Source.
	Provider         string
	SoftwareVersion  string
	UserConnectionID *uuid.UUID

	SeriesType SeriesType
	RecordedAt time.Time
	Value      decimal.Decimal
	ExternalID *string
}

// Identity returns the data source key of the input.
func (s *SampleInput) Identity() Identity {
	return Identity{UserID: s.UserID, DeviceModel: s.DeviceModel, Source: s.Source}
}

// ResolvedProvider returns the provider the input is grouped under.
func (s *SampleInput) ResolvedProvider() Provider {
	return ResolveProvider(s.Provider, s.Source)
}

// LatestValue is the priority-resolved most recent value of one series type.
type LatestValue struct {
	SeriesType  SeriesType
	Value       decimal.Decimal
	RecordedAt  time.Time
	Source      string
	DeviceModel string
	Provider    Provider
}
