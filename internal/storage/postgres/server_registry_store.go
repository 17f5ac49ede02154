package postgres

import (
	"context"
	"fmt"
	"time"

	"tdx-datafeed/internal/domain"
	"tdx-datafeed/internal/storage"
)

// ServerRegistryStore implements storage.ServerRegistryStore using Postgres.
type ServerRegistryStore struct {
	pool *Pool
}

// NewServerRegistryStore creates a new ServerRegistryStore.
func NewServerRegistryStore(pool *Pool) *ServerRegistryStore {
	return &ServerRegistryStore{pool: pool}
}

// Compile-time interface check.
var _ storage.ServerRegistryStore = (*ServerRegistryStore)(nil)

// Save upserts the record for (host, port).
func (s *ServerRegistryStore) Save(ctx context.Context, rec *domain.ServerRecord) error {
	if rec == nil || rec.Host == "" || rec.Port <= 0 {
		return storage.ErrInvalidInput
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO server_registry (
			host, port, status, response_time_ms, location, source, priority, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (host, port) DO UPDATE SET
			status = EXCLUDED.status,
			response_time_ms = EXCLUDED.response_time_ms,
			location = EXCLUDED.location,
			source = EXCLUDED.source,
			priority = EXCLUDED.priority,
			updated_at = EXCLUDED.updated_at
	`, rec.Host, rec.Port, rec.Status, rec.ResponseTime.Milliseconds(),
		rec.Location, rec.Source, rec.Priority, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("save server record: %w", err)
	}
	return nil
}

// List returns records ordered by priority then response time.
func (s *ServerRegistryStore) List(ctx context.Context, activeOnly bool) ([]*domain.ServerRecord, error) {
	query := `
		SELECT host, port, status, response_time_ms, location, source, priority, updated_at
		FROM server_registry
	`
	if activeOnly {
		query += ` WHERE status = 'active'`
	}
	query += ` ORDER BY priority ASC, response_time_ms ASC`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list server records: %w", err)
	}
	defer rows.Close()

	var out []*domain.ServerRecord
	for rows.Next() {
		var rec domain.ServerRecord
		var responseMs int64
		if err := rows.Scan(&rec.Host, &rec.Port, &rec.Status, &responseMs,
			&rec.Location, &rec.Source, &rec.Priority, &rec.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan server record: %w", err)
		}
		rec.ResponseTime = time.Duration(responseMs) * time.Millisecond
		out = append(out, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate server records: %w", err)
	}
	return out, nil
}

// Delete removes the record for (host, port).
func (s *ServerRegistryStore) Delete(ctx context.Context, host string, port int) error {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM server_registry WHERE host = $1 AND port = $2
	`, host, port)
	if err != nil {
		return fmt.Errorf("delete server record: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}
