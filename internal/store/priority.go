package store

import (
	"context"
	"fmt"
)

// PriorityEntry is one row of a priority table.
type PriorityEntry struct {
	Key      string
	Priority int
}

// priorityTable names a priority table and its key column.
type priorityTable struct {
	table  string
	column string
}

var (
	providerPriorityTable   = priorityTable{table: "provider_priorities", column: "provider"}
	deviceTypePriorityTable = priorityTable{table: "device_type_priorities", column: "device_type"}
)

// ListProviderPriorities returns provider priorities, best first.
func (s *Store) ListProviderPriorities(ctx context.Context) ([]PriorityEntry, error) {
	return s.listPriorities(ctx, providerPriorityTable)
}

// SetProviderPriority inserts or updates the priority of a provider.
func (s *Store) SetProviderPriority(ctx context.Context, provider string, priority int) error {
	return s.setPriority(ctx, providerPriorityTable, provider, priority)
}

// DeleteProviderPriority removes a provider's priority; it then sorts last.
func (s *Store) DeleteProviderPriority(ctx context.Context, provider string) (bool, error) {
	return s.deletePriority(ctx, providerPriorityTable, provider)
}

// ListDeviceTypePriorities returns device type priorities, best first.
func (s *Store) ListDeviceTypePriorities(ctx context.Context) ([]PriorityEntry, error) {
	return s.listPriorities(ctx, deviceTypePriorityTable)
}

// SetDeviceTypePriority inserts or updates the priority of a device type.
func (s *Store) SetDeviceTypePriority(ctx context.Context, deviceType string, priority int) error {
	return s.setPriority(ctx, deviceTypePriorityTable, deviceType, priority)
}

// DeleteDeviceTypePriority removes a device type's priority.
func (s *Store) DeleteDeviceTypePriority(ctx context.Context, deviceType string) (bool, error) {
	return s.deletePriority(ctx, deviceTypePriorityTable, deviceType)
}

func (s *Store) listPriorities(ctx context.Context, t priorityTable) ([]PriorityEntry, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT %s, priority FROM %s ORDER BY priority, %s
	`, t.column, t.table, t.column))
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", t.table, err)
	}
	defer rows.Close()

	var out []PriorityEntry
	for rows.Next() {
		var e PriorityEntry
		if err := rows.Scan(&e.Key, &e.Priority); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) setPriority(ctx context.Context, t priorityTable, key string, priority int) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	_, err := s.db.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO %s (%s, priority, updated_at) VALUES (?, ?, now())
		ON CONFLICT (%s) DO UPDATE SET
			priority = excluded.priority,
			updated_at = excluded.updated_at
	`, t.table, t.column, t.column), key, priority)
	if err != nil {
		return fmt.Errorf("set %s %q: %w", t.table, key, err)
	}
	return nil
}

func (s *Store) deletePriority(ctx context.Context, t priorityTable, key string) (bool, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	res, err := s.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE %s = ?`, t.table, t.column), key)
	if err != nil {
		return false, fmt.Errorf("delete %s %q: %w", t.table, key, err)
	}
	n, err := res.RowsAffected()
	return n > 0, err
}
