package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/xtxerr/vitals/internal/storage/types"
)

// maxIdentitiesPerQuery bounds the OR-chain of identity lookups.
const maxIdentitiesPerQuery = 100

const dataSourceColumns = `id, user_id, device_model, source, provider, device_type,
	software_version, user_connection_id, created_at`

// GetDataSource returns the data source with the given natural key.
func (s *Store) GetDataSource(ctx context.Context, q DBTX, key types.Identity) (*types.DataSource, error) {
	row := q.QueryRowContext(ctx, `
		SELECT `+dataSourceColumns+`
		FROM data_sources
		WHERE user_id = ? AND device_model = ? AND source = ?
	`, key.UserID.String(), key.DeviceModel, key.Source)

	ds, err := scanDataSource(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", key, ErrDataSourceNotFound)
	}
	return ds, err
}

// GetDataSourceByID returns a data source by id.
func (s *Store) GetDataSourceByID(ctx context.Context, id uuid.UUID) (*types.DataSource, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	row := s.db.QueryRowContext(ctx, `
		SELECT `+dataSourceColumns+`
		FROM data_sources WHERE id = ?
	`, id.String())

	ds, err := scanDataSource(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", id, ErrDataSourceNotFound)
	}
	return ds, err
}

// ListDataSources returns all data sources of a user ordered by creation.
func (s *Store) ListDataSources(ctx context.Context, userID uuid.UUID) ([]*types.DataSource, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+dataSourceColumns+`
		FROM data_sources WHERE user_id = ?
		ORDER BY created_at, id
	`, userID.String())
	if err != nil {
		return nil, fmt.Errorf("list data sources: %w", err)
	}
	defer rows.Close()

	var out []*types.DataSource
	for rows.Next() {
		ds, err := scanDataSource(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ds)
	}
	return out, rows.Err()
}

// InsertDataSource inserts ds unless its natural key already exists.
// It reports whether this call created the row.
func (s *Store) InsertDataSource(ctx context.Context, q DBTX, ds *types.DataSource) (bool, error) {
	query, args := buildDataSourceInsert([]*types.DataSource{ds})
	var id string
	err := q.QueryRowContext(ctx, query+" RETURNING id", args...).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// InsertDataSourcesIgnore inserts all data sources in one statement per
// chunk, skipping identities that already exist.
func (s *Store) InsertDataSourcesIgnore(ctx context.Context, q DBTX, sources []*types.DataSource) error {
	for i := 0; i < len(sources); i += maxIdentitiesPerQuery {
		end := min(i+maxIdentitiesPerQuery, len(sources))
		query, args := buildDataSourceInsert(sources[i:end])
		if _, err := q.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("insert data sources: %w", err)
		}
	}
	return nil
}

// LookupDataSourceIDs maps each existing identity to its data source id.
// Identities without a row are absent from the result.
func (s *Store) LookupDataSourceIDs(ctx context.Context, q DBTX, keys []types.Identity) (map[types.Identity]uuid.UUID, error) {
	out := make(map[types.Identity]uuid.UUID, len(keys))

	for i := 0; i < len(keys); i += maxIdentitiesPerQuery {
		end := min(i+maxIdentitiesPerQuery, len(keys))
		chunk := keys[i:end]

		var where strings.Builder
		args := make([]interface{}, 0, len(chunk)*3)
		for j, k := range chunk {
			if j > 0 {
				where.WriteString(" OR ")
			}
			where.WriteString("(user_id = ? AND device_model = ? AND source = ?)")
			args = append(args, k.UserID.String(), k.DeviceModel, k.Source)
		}

		rows, err := q.QueryContext(ctx, `
			SELECT id, user_id, device_model, source
			FROM data_sources WHERE `+where.String(), args...)
		if err != nil {
			return nil, fmt.Errorf("lookup data sources: %w", err)
		}

		for rows.Next() {
			var id, userID string
			var key types.Identity
			if err := rows.Scan(&id, &userID, &key.DeviceModel, &key.Source); err != nil {
				rows.Close()
				return nil, err
			}
			if key.UserID, err = uuid.Parse(userID); err != nil {
				rows.Close()
				return nil, fmt.Errorf("parse user_id %q: %w", userID, err)
			}
			dsID, err := uuid.Parse(id)
			if err != nil {
				rows.Close()
				return nil, fmt.Errorf("parse data source id %q: %w", id, err)
			}
			out[key] = dsID
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, err
		}
	}

	return out, nil
}

func buildDataSourceInsert(sources []*types.DataSource) (string, []interface{}) {
	const columnsPerRow = 7

	args := make([]interface{}, 0, len(sources)*columnsPerRow)

	var query strings.Builder
	query.Grow(200 + len(sources)*24)
	query.WriteString(`INSERT INTO data_sources (id, user_id, device_model, source,
		provider, device_type, software_version, user_connection_id) VALUES `)

	for i, ds := range sources {
		if i > 0 {
			query.WriteByte(',')
		}
		query.WriteString("(?,?,?,?,?,?,?,?)")

		var connID interface{}
		if ds.UserConnectionID != nil {
			connID = ds.UserConnectionID.String()
		}
		args = append(args,
			ds.ID.String(),
			ds.UserID.String(),
			ds.DeviceModel,
			ds.Source,
			nullString(string(ds.Provider)),
			string(ds.DeviceType),
			nullString(ds.SoftwareVersion),
			connID,
		)
	}
	query.WriteString(" ON CONFLICT DO NOTHING")

	return query.String(), args
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDataSource(row rowScanner) (*types.DataSource, error) {
	var (
		id, userID            string
		provider, softwareVer sql.NullString
		connID                sql.NullString
		deviceType            string
		createdAt             sql.NullTime
		ds                    types.DataSource
		err                   error
	)

	if err = row.Scan(&id, &userID, &ds.DeviceModel, &ds.Source, &provider, &deviceType,
		&softwareVer, &connID, &createdAt); err != nil {
		return nil, err
	}

	if ds.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("parse data source id %q: %w", id, err)
	}
	if ds.UserID, err = uuid.Parse(userID); err != nil {
		return nil, fmt.Errorf("parse user_id %q: %w", userID, err)
	}
	ds.Provider = types.Provider(provider.String)
	ds.DeviceType = types.DeviceType(deviceType)
	ds.SoftwareVersion = softwareVer.String
	if connID.Valid {
		cid, err := uuid.Parse(connID.String)
		if err != nil {
			return nil, fmt.Errorf("parse user_connection_id %q: %w", connID.String, err)
		}
		ds.UserConnectionID = &cid
	}
	if createdAt.Valid {
		ds.CreatedAt = createdAt.Time.UTC()
	}

	return &ds, nil
}

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
