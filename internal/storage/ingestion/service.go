// Package ingestion turns normalized samples into idempotent storage rows.
//
// Create is idempotent per natural key (data source, series type,
// recorded_at): a duplicate returns the stored row. BulkCreate writes many
// samples with multi-row inserts that skip existing keys.
package ingestion

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/xtxerr/vitals/config"
	verrors "github.com/xtxerr/vitals/internal/errors"
	"github.com/xtxerr/vitals/internal/logging"
	"github.com/xtxerr/vitals/internal/storage/source"
	"github.com/xtxerr/vitals/internal/storage/types"
	"github.com/xtxerr/vitals/internal/store"
)

// Service is the ingestion/dedup writer.
//
// Service is safe for concurrent use.
type Service struct {
	store    *store.Store
	resolver *source.Resolver
	logger   *slog.Logger

	refetchAttempts int
	refetchBackoff  time.Duration

	stats Stats
}

// Stats holds ingestion statistics.
type Stats struct {
	SamplesReceived   atomic.Int64
	SamplesInserted   atomic.Int64
	DuplicatesSkipped atomic.Int64
	BatchesProcessed  atomic.Int64
	Errors            atomic.Int64
}

// ServiceStats is a snapshot of Stats.
type ServiceStats struct {
	SamplesReceived   int64
	SamplesInserted   int64
	DuplicatesSkipped int64
	BatchesProcessed  int64
	Errors            int64
}

// New creates an ingestion service.
func New(st *store.Store, resolver *source.Resolver) *Service {
	return &Service{
		store:           st,
		resolver:        resolver,
		logger:          logging.Component("ingestion"),
		refetchAttempts: config.DefaultRefetchAttempts,
		refetchBackoff:  config.DefaultRefetchBackoff,
	}
}

// Create stores one sample. When a row with the same natural key exists,
// that row is returned instead and no error is raised.
func (s *Service) Create(ctx context.Context, in types.SampleInput) (*types.Sample, error) {
	s.stats.SamplesReceived.Add(1)

	if err := validateInput(&in); err != nil {
		s.stats.Errors.Add(1)
		return nil, err
	}

	ds, err := s.resolver.Ensure(ctx, source.EnsureRequest{
		UserID:           in.UserID,
		DeviceModel:      in.DeviceModel,
		Source:           in.Source,
		Provider:         in.Provider,
		SoftwareVersion:  in.SoftwareVersion,
		UserConnectionID: in.UserConnectionID,
	})
	if err != nil {
		s.stats.Errors.Add(1)
		return nil, fmt.Errorf("resolve data source: %w", err)
	}

	sample := &types.Sample{
		DataSourceID: ds.ID,
		SeriesType:   in.SeriesType,
		RecordedAt:   in.RecordedAt.UTC(),
		Value:        in.Value,
		ExternalID:   in.ExternalID,
	}

	var stored *types.Sample
	err = s.store.TransactionContext(ctx, func(tx *sql.Tx) error {
		var err error
		stored, err = s.store.InsertSample(ctx, tx, sample)
		return err
	})
	if err == nil {
		s.stats.SamplesInserted.Add(1)
		return stored, nil
	}
	if !store.IsUniqueViolation(err) {
		s.stats.Errors.Add(1)
		return nil, fmt.Errorf("insert sample: %w", err)
	}

	// The transaction was rolled back; return the stored row.
	s.stats.DuplicatesSkipped.Add(1)
	existing, err := s.refetch(ctx, sample)
	if err != nil {
		s.stats.Errors.Add(1)
		return nil, err
	}
	logging.ComponentContext(logging.ContextWithUserID(ctx, in.UserID.String()), "ingestion").Debug("duplicate sample returned",
		"data_source_id", sample.DataSourceID,
		"series_type", sample.SeriesType.String(),
		"sample_id", existing.ID)
	return existing, nil
}

// refetch reads the row that won an insert race. A concurrent writer may
// not have committed yet, so it retries briefly.
func (s *Service) refetch(ctx context.Context, sample *types.Sample) (*types.Sample, error) {
	var lastErr error
	for attempt := 0; attempt < s.refetchAttempts; attempt++ {
		existing, err := s.store.GetSampleByKey(ctx, s.store.DB(), sample.DataSourceID, sample.SeriesType, sample.RecordedAt)
		if err == nil {
			return existing, nil
		}
		lastErr = err
		if !errors.Is(err, store.ErrSampleNotFound) {
			return nil, err
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(s.refetchBackoff * time.Duration(attempt+1)):
		}
	}
	return nil, fmt.Errorf("refetch sample: %v: %w", lastErr, verrors.ErrConflict)
}

// providerGroup is the batch_ensure unit: one provider and connection.
type providerGroup struct {
	provider   types.Provider
	connection uuid.UUID
}

// BulkCreate stores many samples. Samples are grouped by provider, their
// data sources are resolved with one BatchEnsure per group, and the rows
// are written with multi-row inserts that silently skip natural keys that
// already exist, whether stored earlier or repeated within inputs.
//
// With a non-nil tx everything runs inside it and the caller commits, so
// several batches can share one transaction. A write race with another
// transaction is returned wrapped in ErrConflict and the caller retries.
// With a nil tx the batch commits on its own and a lost race reruns the
// whole transaction, which then skips the rows the winner committed.
func (s *Service) BulkCreate(ctx context.Context, tx *sql.Tx, inputs []types.SampleInput) error {
	if len(inputs) == 0 {
		return nil
	}
	s.stats.SamplesReceived.Add(int64(len(inputs)))

	for i := range inputs {
		if err := validateInput(&inputs[i]); err != nil {
			s.stats.Errors.Add(1)
			return fmt.Errorf("sample %d: %w", i, err)
		}
	}

	if tx != nil {
		res, err := s.bulkCreate(ctx, tx, inputs)
		if err != nil {
			s.stats.Errors.Add(1)
			if isWriteConflict(err) && !errors.Is(err, verrors.ErrConflict) {
				return fmt.Errorf("bulk create: %v: %w", err, verrors.ErrConflict)
			}
			return err
		}
		s.record(res)
		return nil
	}

	var lastErr error
	for attempt := 0; attempt < s.refetchAttempts; attempt++ {
		var res bulkResult
		err := s.store.TransactionContext(ctx, func(tx *sql.Tx) error {
			var err error
			res, err = s.bulkCreate(ctx, tx, inputs)
			return err
		})
		if err == nil {
			s.record(res)
			return nil
		}
		if !isWriteConflict(err) {
			s.stats.Errors.Add(1)
			return err
		}

		lastErr = err
		s.logger.Debug("bulk create conflict, retrying",
			"attempt", attempt+1,
			"samples", len(inputs),
			"error", err)

		select {
		case <-ctx.Done():
			s.stats.Errors.Add(1)
			return ctx.Err()
		case <-time.After(s.retryDelay(attempt)):
		}
	}

	s.stats.Errors.Add(1)
	return fmt.Errorf("bulk create: %d attempts: %v: %w", s.refetchAttempts, lastErr, verrors.ErrConflict)
}

// bulkResult counts what one batch wrote. It is recorded only once the
// batch is committed or handed back to the caller's transaction.
type bulkResult struct {
	rows     int64
	inserted int64
}

func (s *Service) record(res bulkResult) {
	s.stats.BatchesProcessed.Add(1)
	s.stats.SamplesInserted.Add(res.inserted)
	s.stats.DuplicatesSkipped.Add(res.rows - res.inserted)
}

// retryDelay grows linearly with the attempt and adds up to one backoff
// step of jitter so racing writers do not retry in lockstep.
func (s *Service) retryDelay(attempt int) time.Duration {
	d := s.refetchBackoff * time.Duration(attempt+1)
	if s.refetchBackoff > 0 {
		d += time.Duration(rand.Int63n(int64(s.refetchBackoff)))
	}
	return d
}

// isWriteConflict reports whether err came from losing an insert race to
// a concurrent transaction.
func isWriteConflict(err error) bool {
	return store.IsUniqueViolation(err) || errors.Is(err, verrors.ErrConflict)
}

func (s *Service) bulkCreate(ctx context.Context, tx *sql.Tx, inputs []types.SampleInput) (bulkResult, error) {
	groups := make(map[providerGroup][]int)
	var order []providerGroup
	for i := range inputs {
		key := providerGroup{provider: inputs[i].ResolvedProvider()}
		if inputs[i].UserConnectionID != nil {
			key.connection = *inputs[i].UserConnectionID
		}
		if _, ok := groups[key]; !ok {
			order = append(order, key)
		}
		groups[key] = append(groups[key], i)
	}

	rows := make([]*types.Sample, 0, len(inputs))
	for _, key := range order {
		idx := groups[key]

		identities := make([]types.Identity, len(idx))
		for j, i := range idx {
			identities[j] = inputs[i].Identity()
		}

		var conn *uuid.UUID
		if key.connection != uuid.Nil {
			c := key.connection
			conn = &c
		}

		ids, err := s.resolver.BatchEnsure(ctx, tx, identities, key.provider, conn)
		if err != nil {
			return bulkResult{}, fmt.Errorf("batch ensure %s: %w", key.provider, err)
		}

		for _, i := range idx {
			in := &inputs[i]
			rows = append(rows, &types.Sample{
				DataSourceID: ids[in.Identity()],
				SeriesType:   in.SeriesType,
				RecordedAt:   in.RecordedAt.UTC(),
				Value:        in.Value,
				ExternalID:   in.ExternalID,
			})
		}
	}

	inserted, err := s.store.InsertSamplesIgnore(ctx, tx, rows)
	if err != nil {
		return bulkResult{}, fmt.Errorf("bulk insert: %w", err)
	}

	s.logger.Debug("bulk create",
		"samples", len(rows),
		"inserted", inserted,
		"providers", len(order))
	return bulkResult{rows: int64(len(rows)), inserted: inserted}, nil
}

func validateInput(in *types.SampleInput) error {
	if !in.SeriesType.Known() {
		return fmt.Errorf("series type %d: %w", int16(in.SeriesType), verrors.ErrUnsupportedSeriesType)
	}
	if in.RecordedAt.IsZero() {
		return verrors.NewMissingField("recorded_at")
	}
	if in.UserID == uuid.Nil {
		return verrors.NewMissingField("user_id")
	}
	if in.Source == "" {
		return verrors.NewMissingField("source")
	}
	return nil
}

// Stats returns a snapshot of the ingestion statistics.
func (s *Service) Stats() ServiceStats {
	return ServiceStats{
		SamplesReceived:   s.stats.SamplesReceived.Load(),
		SamplesInserted:   s.stats.SamplesInserted.Load(),
		DuplicatesSkipped: s.stats.DuplicatesSkipped.Load(),
		BatchesProcessed:  s.stats.BatchesProcessed.Load(),
		Errors:            s.stats.Errors.Load(),
	}
}
