// Package priority maintains the provider and device-type rank tables used
// to pick one value when several data sources report the same metric at the
// same instant.
//
// Lower priority wins. The full order is:
//  1. provider priority ascending, unranked providers last
//  2. device-type priority ascending, unranked device types last
//  3. highest sample id
package priority

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	verrors "github.com/xtxerr/vitals/internal/errors"
	"github.com/xtxerr/vitals/internal/logging"
	"github.com/xtxerr/vitals/internal/storage/types"
	"github.com/xtxerr/vitals/internal/store"
)

// SQL fragments implementing the order for queries that alias samples as
// s and data_sources as ds.
const (
	// JoinClause attaches both rank tables.
	JoinClause = `
		LEFT JOIN provider_priorities pp ON pp.provider = ds.provider
		LEFT JOIN device_type_priorities dp ON dp.device_type = ds.device_type`

	// OrderClause sorts candidates best first.
	OrderClause = `pp.priority ASC NULLS LAST, dp.priority ASC NULLS LAST, s.id DESC`
)

// Registry reads and updates the rank tables.
type Registry struct {
	store  *store.Store
	logger *slog.Logger
}

// NewRegistry creates a registry backed by st.
func NewRegistry(st *store.Store) *Registry {
	return &Registry{
		store:  st,
		logger: logging.Component("priority"),
	}
}

// Entry is one ranked key.
type Entry = store.PriorityEntry

// Providers returns provider ranks, best first.
func (r *Registry) Providers(ctx context.Context) ([]Entry, error) {
	return r.store.ListProviderPriorities(ctx)
}

// DeviceTypes returns device type ranks, best first.
func (r *Registry) DeviceTypes(ctx context.Context) ([]Entry, error) {
	return r.store.ListDeviceTypePriorities(ctx)
}

// SetProvider ranks a known provider.
func (r *Registry) SetProvider(ctx context.Context, name string, priority int) error {
	p, err := types.ParseProvider(name)
	if err != nil {
		return fmt.Errorf("%v: %w", err, verrors.ErrUnknownProvider)
	}
	if priority < 0 {
		return verrors.NewInvalidValue("priority", priority, "must be non-negative")
	}
	if err := r.store.SetProviderPriority(ctx, string(p), priority); err != nil {
		return err
	}
	r.logger.Info("provider priority set", "provider", string(p), "priority", priority)
	return nil
}

// RemoveProvider unranks a provider so it sorts after every ranked one.
func (r *Registry) RemoveProvider(ctx context.Context, name string) error {
	p, err := types.ParseProvider(name)
	if err != nil {
		return fmt.Errorf("%v: %w", err, verrors.ErrUnknownProvider)
	}
	removed, err := r.store.DeleteProviderPriority(ctx, string(p))
	if err != nil {
		return err
	}
	if !removed {
		return verrors.NewNotFound("provider priority", string(p))
	}
	r.logger.Info("provider priority removed", "provider", string(p))
	return nil
}

// SetDeviceType ranks a device type.
func (r *Registry) SetDeviceType(ctx context.Context, name string, priority int) error {
	d, err := types.ParseDeviceType(name)
	if err != nil {
		return verrors.NewValidation("device_type", err.Error())
	}
	if priority < 0 {
		return verrors.NewInvalidValue("priority", priority, "must be non-negative")
	}
	if err := r.store.SetDeviceTypePriority(ctx, string(d), priority); err != nil {
		return err
	}
	r.logger.Info("device type priority set", "device_type", string(d), "priority", priority)
	return nil
}

// RemoveDeviceType unranks a device type.
func (r *Registry) RemoveDeviceType(ctx context.Context, name string) error {
	d, err := types.ParseDeviceType(name)
	if err != nil {
		return verrors.NewValidation("device_type", err.Error())
	}
	removed, err := r.store.DeleteDeviceTypePriority(ctx, string(d))
	if err != nil {
		return err
	}
	if !removed {
		return verrors.NewNotFound("device type priority", string(d))
	}
	r.logger.Info("device type priority removed", "device_type", string(d))
	return nil
}

// Snapshot loads both tables into memory.
func (r *Registry) Snapshot(ctx context.Context) (*Ranking, error) {
	providers, err := r.Providers(ctx)
	if err != nil {
		return nil, err
	}
	devices, err := r.DeviceTypes(ctx)
	if err != nil {
		return nil, err
	}

	rk := &Ranking{
		providers: make(map[types.Provider]int, len(providers)),
		devices:   make(map[types.DeviceType]int, len(devices)),
	}
	for _, e := range providers {
		rk.providers[types.Provider(e.Key)] = e.Priority
	}
	for _, e := range devices {
		rk.devices[types.DeviceType(e.Key)] = e.Priority
	}
	return rk, nil
}

// Candidate is one competing reading.
type Candidate struct {
	SampleID   int64
	Provider   types.Provider
	DeviceType types.DeviceType
}

// Ranking is an in-memory copy of the rank tables.
type Ranking struct {
	providers map[types.Provider]int
	devices   map[types.DeviceType]int
}

// NewRanking builds a ranking from explicit maps.
func NewRanking(providers map[types.Provider]int, devices map[types.DeviceType]int) *Ranking {
	return &Ranking{providers: providers, devices: devices}
}

// Less reports whether a is preferred over b. It is the in-memory form of
// OrderClause.
func (rk *Ranking) Less(a, b Candidate) bool {
	pa, pb := rank(rk.providers, a.Provider), rank(rk.providers, b.Provider)
	if pa != pb {
		return pa < pb
	}
	da, db := rank(rk.devices, a.DeviceType), rank(rk.devices, b.DeviceType)
	if da != db {
		return da < db
	}
	return a.SampleID > b.SampleID
}

// Best returns the preferred candidate, or false for an empty slice.
func (rk *Ranking) Best(candidates []Candidate) (Candidate, bool) {
	if len(candidates) == 0 {
		return Candidate{}, false
	}
	best := candidates[0]
	for _, c := range candidates[1:] {
		if rk.Less(c, best) {
			best = c
		}
	}
	return best, true
}

func rank[K comparable](m map[K]int, k K) int {
	if p, ok := m[k]; ok {
		return p
	}
	return math.MaxInt
}
