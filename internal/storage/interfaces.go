package storage

import (
	"context"

	"tdx-datafeed/internal/domain"
)

// ServerRegistryStore persists last-known endpoint state keyed by host:port.
// The engine writes probe and usage results through it and may read a
// prioritized candidate list from it as an alternative to the built-in list.
type ServerRegistryStore interface {
	// Save upserts the record for (host, port).
	Save(ctx context.Context, rec *domain.ServerRecord) error

	// List returns records ordered by priority then response time. With
	// activeOnly set, inactive endpoints are excluded.
	List(ctx context.Context, activeOnly bool) ([]*domain.ServerRecord, error)

	// Delete removes the record for (host, port). Returns ErrNotFound if no
	// such record exists.
	Delete(ctx context.Context, host string, port int) error
}

// KlineArchiveStore persists normalized bars fetched from upstream so the
// surrounding application can re-read history without refetching.
type KlineArchiveStore interface {
	// InsertBulk stores bars for one symbol and period. Re-inserting the
	// same (symbol, period, timestamp) overwrites silently.
	InsertBulk(ctx context.Context, symbol string, period domain.Period, bars []domain.KlineBar) error

	// GetByRange returns bars for a symbol and period within [start, end]
	// (inclusive), ordered by timestamp ASC.
	GetByRange(ctx context.Context, symbol string, period domain.Period, start, end int64) ([]domain.KlineBar, error)
}
