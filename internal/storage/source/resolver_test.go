package source

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/google/uuid"

	verrors "github.com/xtxerr/vitals/internal/errors"
	"github.com/xtxerr/vitals/internal/storage/types"
	"github.com/xtxerr/vitals/internal/store"
	testutil "github.com/xtxerr/vitals/internal/testing"
)

func TestEnsureCreatesOnce(t *testing.T) {
	st := testutil.NewMemoryStore(t)
	r := NewResolver(st)
	ctx := context.Background()

	req := EnsureRequest{
		UserID:          uuid.New(),
		DeviceModel:     "Apple Watch Series 9",
		Source:          "com.apple.health.8C1E",
		SoftwareVersion: "10.4",
	}

	first, err := r.Ensure(ctx, req)
	if err != nil {
		t.Fatalf("first ensure: %v", err)
	}
	if first.Provider != types.ProviderApple {
		t.Errorf("expected inferred apple provider, got %s", first.Provider)
	}
	if first.DeviceType != types.DeviceWatch {
		t.Errorf("expected watch device type, got %s", first.DeviceType)
	}
	if first.SoftwareVersion != "10.4" {
		t.Errorf("expected software version 10.4, got %q", first.SoftwareVersion)
	}

	second, err := r.Ensure(ctx, req)
	if err != nil {
		t.Fatalf("second ensure: %v", err)
	}
	if second.ID != first.ID {
		t.Errorf("expected same data source, got %s and %s", first.ID, second.ID)
	}

	sources, err := st.ListDataSources(ctx, req.UserID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(sources) != 1 {
		t.Errorf("expected 1 data source, got %d", len(sources))
	}
}

func TestEnsureProviderResolution(t *testing.T) {
	st := testutil.NewMemoryStore(t)
	r := NewResolver(st)
	ctx := context.Background()
	user := uuid.New()

	tests := []struct {
		name     string
		provider string
		source   string
		want     types.Provider
	}{
		{"explicit wins", "garmin", "com.apple.health", types.ProviderGarmin},
		{"unknown explicit falls back", "acme", "Polar Flow", types.ProviderPolar},
		{"unrecognized source", "", "home-made logger", types.ProviderUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ds, err := r.Ensure(ctx, EnsureRequest{UserID: user, Source: tt.source, Provider: tt.provider})
			if err != nil {
				t.Fatalf("ensure: %v", err)
			}
			if ds.Provider != tt.want {
				t.Errorf("expected provider %q, got %q", tt.want, ds.Provider)
			}
		})
	}
}

func TestEnsureValidation(t *testing.T) {
	st := testutil.NewMemoryStore(t)
	r := NewResolver(st)
	ctx := context.Background()

	_, err := r.Ensure(ctx, EnsureRequest{Source: "garmin"})
	if !errors.Is(err, verrors.ErrMissingField) {
		t.Errorf("expected missing user_id, got %v", err)
	}

	_, err = r.Ensure(ctx, EnsureRequest{UserID: uuid.New()})
	if !errors.Is(err, verrors.ErrMissingField) {
		t.Errorf("expected missing source, got %v", err)
	}

	_, err = r.Ensure(ctx, EnsureRequest{UserID: uuid.New(), Source: strings.Repeat("x", 300)})
	if !verrors.IsValidation(err) {
		t.Errorf("expected validation error for long source, got %v", err)
	}
}

func TestEnsureConcurrent(t *testing.T) {
	st := testutil.NewMemoryStore(t)
	ctx := context.Background()
	user := uuid.New()

	// Separate resolvers do not share a singleflight group, so they race
	// in the store.
	gt := testutil.NewGoroutineTest(t)
	ids := make(chan uuid.UUID, 16)
	for i := 0; i < 16; i++ {
		i := i
		r := NewResolver(st)
		gt.Go(func() error {
			ds, err := r.Ensure(gt.Context(), EnsureRequest{UserID: user, DeviceModel: "WHOOP 4.0", Source: "whoop"})
			if err != nil {
				return fmt.Errorf("ensure %d: %w", i, err)
			}
			ids <- ds.ID
			return nil
		})
	}
	gt.Wait()
	close(ids)

	var first uuid.UUID
	for id := range ids {
		if first == uuid.Nil {
			first = id
		}
		if id != first {
			t.Errorf("concurrent ensures returned different ids: %s vs %s", first, id)
		}
	}

	sources, err := st.ListDataSources(ctx, user)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(sources) != 1 {
		t.Errorf("expected exactly one data source, got %d", len(sources))
	}
}

func TestBatchEnsure(t *testing.T) {
	st := testutil.NewMemoryStore(t)
	r := NewResolver(st)
	ctx := context.Background()
	user := uuid.New()

	existing, err := r.Ensure(ctx, EnsureRequest{UserID: user, DeviceModel: "Forerunner 965", Source: "garmin connect"})
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}

	identities := []types.Identity{
		existing.Identity(),
		{UserID: user, DeviceModel: "Edge 540", Source: "garmin connect"},
		{UserID: user, DeviceModel: "Index S2", Source: "garmin connect"},
		{UserID: user, DeviceModel: "Edge 540", Source: "garmin connect"}, // duplicate
	}
	conn := uuid.New()

	ids, err := r.BatchEnsure(ctx, nil, identities, types.ProviderGarmin, &conn)
	if err != nil {
		t.Fatalf("batch ensure: %v", err)
	}
	if len(ids) != 3 {
		t.Fatalf("expected 3 resolved identities, got %d", len(ids))
	}
	if ids[existing.Identity()] != existing.ID {
		t.Error("existing identity should keep its id")
	}

	created, err := st.GetDataSource(ctx, st.DB(), identities[2])
	if err != nil {
		t.Fatalf("get created: %v", err)
	}
	if created.Provider != types.ProviderGarmin || created.DeviceType != types.DeviceScale {
		t.Errorf("unexpected created source: %+v", created)
	}
	if created.UserConnectionID == nil || *created.UserConnectionID != conn {
		t.Errorf("expected user connection %s, got %v", conn, created.UserConnectionID)
	}

	again, err := r.BatchEnsure(ctx, nil, identities, types.ProviderGarmin, nil)
	if err != nil {
		t.Fatalf("second batch ensure: %v", err)
	}
	for key, id := range ids {
		if again[key] != id {
			t.Errorf("identity %s changed id", key)
		}
	}
}

func TestBatchEnsureInTransaction(t *testing.T) {
	st := testutil.NewMemoryStore(t)
	r := NewResolver(st)
	ctx := context.Background()
	user := uuid.New()
	key := types.Identity{UserID: user, Source: "oura"}

	// Rolled back: the data source must not survive.
	wantErr := errors.New("abort")
	err := st.TransactionContext(ctx, func(tx *sql.Tx) error {
		if _, err := r.BatchEnsure(ctx, tx, []types.Identity{key}, types.ProviderOura, nil); err != nil {
			return err
		}
		return wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected abort, got %v", err)
	}

	if _, err := st.GetDataSource(ctx, st.DB(), key); !errors.Is(err, store.ErrDataSourceNotFound) {
		t.Errorf("expected rollback to discard data source, got %v", err)
	}
}

func TestBatchEnsureRejectsInvalid(t *testing.T) {
	st := testutil.NewMemoryStore(t)
	r := NewResolver(st)

	_, err := r.BatchEnsure(context.Background(), nil, []types.Identity{{Source: "garmin"}}, types.ProviderGarmin, nil)
	if !errors.Is(err, verrors.ErrMissingField) {
		t.Errorf("expected missing user_id, got %v", err)
	}

	ids, err := r.BatchEnsure(context.Background(), nil, nil, types.ProviderGarmin, nil)
	if err != nil || len(ids) != 0 {
		t.Errorf("expected empty result, got %v (%v)", ids, err)
	}
}
