// Package source resolves (user, device model, source) identities to
// data sources, creating them on first use.
//
// Creation is race-safe without locks: the natural key is unique in the
// store, and a writer that loses an insert race re-reads the winner's row.
// Concurrent Ensure calls for one identity inside a process share a single
// lookup through singleflight.
package source

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/xtxerr/vitals/config"
	verrors "github.com/xtxerr/vitals/internal/errors"
	"github.com/xtxerr/vitals/internal/logging"
	"github.com/xtxerr/vitals/internal/storage/types"
	"github.com/xtxerr/vitals/internal/store"
	"github.com/xtxerr/vitals/internal/validation"
)

// EnsureRequest describes the data source a sample belongs to.
type EnsureRequest struct {
	UserID      uuid.UUID
	DeviceModel string
	Source      string

	// Provider is an explicit provider name; empty or unknown names fall
	// back to inference from Source.
	Provider         string
	SoftwareVersion  string
	UserConnectionID *uuid.UUID
}

// Identity returns the natural key of the request.
func (r EnsureRequest) Identity() types.Identity {
	return types.Identity{UserID: r.UserID, DeviceModel: r.DeviceModel, Source: r.Source}
}

// Resolver maps identities to data sources.
//
// Resolver is safe for concurrent use.
type Resolver struct {
	store           *store.Store
	refetchAttempts int
	refetchBackoff  time.Duration
	group           singleflight.Group
	logger          *slog.Logger
}

// NewResolver creates a resolver backed by st.
func NewResolver(st *store.Store) *Resolver {
	return &Resolver{
		store:           st,
		refetchAttempts: config.DefaultRefetchAttempts,
		refetchBackoff:  config.DefaultRefetchBackoff,
		logger:          logging.Component("source"),
	}
}

// Ensure returns the data source for the request's identity, creating it if
// it does not exist yet. The provider is taken from the request when it
// parses, otherwise inferred from the source string; unrecognized sources
// are stored with an unknown provider.
func (r *Resolver) Ensure(ctx context.Context, req EnsureRequest) (*types.DataSource, error) {
	if req.UserID == uuid.Nil {
		return nil, verrors.NewMissingField("user_id")
	}
	if err := validation.ValidateIdentity(req.DeviceModel, req.Source, req.SoftwareVersion); err != nil {
		return nil, err
	}

	key := req.Identity()
	v, err, shared := r.group.Do(key.String(), func() (interface{}, error) {
		return r.ensure(ctx, req)
	})
	if err != nil {
		return nil, err
	}
	if shared {
		r.logger.Debug("ensure shared", "identity", key.String())
	}

	ds := *v.(*types.DataSource)
	return &ds, nil
}

func (r *Resolver) ensure(ctx context.Context, req EnsureRequest) (*types.DataSource, error) {
	key := req.Identity()

	ds, err := r.store.GetDataSource(ctx, r.store.DB(), key)
	if err == nil {
		return ds, nil
	}
	if !errors.Is(err, store.ErrDataSourceNotFound) {
		return nil, fmt.Errorf("get data source: %w", err)
	}

	candidate := newDataSource(key, types.ResolveProvider(req.Provider, req.Source), req.SoftwareVersion, req.UserConnectionID)

	created, err := r.store.InsertDataSource(ctx, r.store.DB(), candidate)
	if err != nil && !store.IsUniqueViolation(err) {
		return nil, fmt.Errorf("insert data source: %w", err)
	}
	if created {
		r.logger.Info("data source created",
			"data_source_id", candidate.ID,
			"user_id", key.UserID,
			"provider", candidate.Provider.String(),
			"device_type", string(candidate.DeviceType))
		return r.store.GetDataSource(ctx, r.store.DB(), key)
	}

	// Lost the race: another writer owns the row.
	return r.refetch(ctx, key)
}

// refetch re-reads an identity that a concurrent writer created. The
// winner's transaction may not be visible yet, so it retries briefly.
func (r *Resolver) refetch(ctx context.Context, key types.Identity) (*types.DataSource, error) {
	var lastErr error
	for attempt := 0; attempt < r.refetchAttempts; attempt++ {
		ds, err := r.store.GetDataSource(ctx, r.store.DB(), key)
		if err == nil {
			return ds, nil
		}
		lastErr = err
		if !errors.Is(err, store.ErrDataSourceNotFound) {
			return nil, err
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(r.refetchBackoff * time.Duration(attempt+1)):
		}
	}
	return nil, fmt.Errorf("refetch %s: %v: %w", key, lastErr, verrors.ErrConflict)
}

// BatchEnsure resolves many identities in one pass: existing rows are
// fetched with one lookup, missing ones are inserted with one statement.
// Every identity is resolved under the same provider and user connection.
//
// With a nil tx the lookups run on the pool and insert races are retried.
// With a tx they run inside it, and a conflict aborts the caller's
// transaction with ErrConflict.
func (r *Resolver) BatchEnsure(ctx context.Context, tx *sql.Tx, identities []types.Identity, provider types.Provider, userConnectionID *uuid.UUID) (map[types.Identity]uuid.UUID, error) {
	unique := make([]types.Identity, 0, len(identities))
	seen := make(map[types.Identity]bool, len(identities))
	for _, key := range identities {
		if seen[key] {
			continue
		}
		seen[key] = true

		if key.UserID == uuid.Nil {
			return nil, verrors.NewMissingField("user_id")
		}
		if err := validation.ValidateIdentity(key.DeviceModel, key.Source, ""); err != nil {
			return nil, fmt.Errorf("%s: %w", key, err)
		}
		unique = append(unique, key)
	}
	if len(unique) == 0 {
		return map[types.Identity]uuid.UUID{}, nil
	}

	var q store.DBTX = r.store.DB()
	attempts := r.refetchAttempts
	if tx != nil {
		q = tx
		attempts = 1
	}

	ids, err := r.store.LookupDataSourceIDs(ctx, q, unique)
	if err != nil {
		return nil, err
	}

	for attempt := 0; attempt < attempts; attempt++ {
		missing := missingIdentities(unique, ids)
		if len(missing) == 0 {
			return ids, nil
		}

		candidates := make([]*types.DataSource, len(missing))
		for i, key := range missing {
			candidates[i] = newDataSource(key, provider, "", userConnectionID)
		}

		err := r.store.InsertDataSourcesIgnore(ctx, q, candidates)
		if err != nil {
			if !store.IsUniqueViolation(err) {
				return nil, err
			}
			if tx != nil {
				return nil, fmt.Errorf("batch ensure: %v: %w", err, verrors.ErrConflict)
			}
			r.logger.Debug("batch ensure conflict, retrying", "attempt", attempt+1, "error", err)
			time.Sleep(r.refetchBackoff * time.Duration(attempt+1))
		}

		found, err := r.store.LookupDataSourceIDs(ctx, q, missing)
		if err != nil {
			return nil, err
		}
		for key, id := range found {
			ids[key] = id
		}
	}

	if missing := missingIdentities(unique, ids); len(missing) > 0 {
		return nil, fmt.Errorf("batch ensure: %d identities unresolved: %w", len(missing), verrors.ErrConflict)
	}
	return ids, nil
}

func missingIdentities(all []types.Identity, resolved map[types.Identity]uuid.UUID) []types.Identity {
	var missing []types.Identity
	for _, key := range all {
		if _, ok := resolved[key]; !ok {
			missing = append(missing, key)
		}
	}
	return missing
}

func newDataSource(key types.Identity, provider types.Provider, softwareVersion string, userConnectionID *uuid.UUID) *types.DataSource {
	return &types.DataSource{
		ID:               uuid.New(),
		UserID:           key.UserID,
		DeviceModel:      key.DeviceModel,
		Source:           key.Source,
		Provider:         provider,
		DeviceType:       types.InferDeviceType(key.DeviceModel),
		SoftwareVersion:  softwareVersion,
		UserConnectionID: userConnectionID,
	}
}
