package clickhouse

import (
	"context"
	"fmt"
	"time"

	"tdx-datafeed/internal/domain"
	"tdx-datafeed/internal/storage"
)

// KlineArchiveStore implements storage.KlineArchiveStore using ClickHouse.
// The backing table is a ReplacingMergeTree keyed by
// (symbol, period, timestamp_ms), so re-inserts overwrite silently.
type KlineArchiveStore struct {
	conn *Conn
}

// NewKlineArchiveStore creates a new KlineArchiveStore.
func NewKlineArchiveStore(conn *Conn) *KlineArchiveStore {
	return &KlineArchiveStore{conn: conn}
}

// Compile-time interface check.
var _ storage.KlineArchiveStore = (*KlineArchiveStore)(nil)

// InsertBulk stores bars for one symbol and period.
func (s *KlineArchiveStore) InsertBulk(ctx context.Context, symbol string, period domain.Period, bars []domain.KlineBar) error {
	if symbol == "" {
		return storage.ErrInvalidInput
	}
	if len(bars) == 0 {
		return nil
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO kline_archive (
			symbol, period, timestamp_ms, open, high, low, close, volume, amount
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, b := range bars {
		err = batch.Append(
			symbol, period.String(), b.Timestamp.UnixMilli(),
			b.Open, b.High, b.Low, b.Close, b.Volume, b.Amount,
		)
		if err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	return nil
}

// GetByRange returns bars within [start, end] milliseconds, ordered ASC.
func (s *KlineArchiveStore) GetByRange(ctx context.Context, symbol string, period domain.Period, start, end int64) ([]domain.KlineBar, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT timestamp_ms, open, high, low, close, volume, amount
		FROM kline_archive FINAL
		WHERE symbol = ? AND period = ? AND timestamp_ms BETWEEN ? AND ?
		ORDER BY timestamp_ms ASC
	`, symbol, period.String(), start, end)
	if err != nil {
		return nil, fmt.Errorf("query kline archive: %w", err)
	}
	defer rows.Close()

	var out []domain.KlineBar
	for rows.Next() {
		var tsMs int64
		var b domain.KlineBar
		if err := rows.Scan(&tsMs, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume, &b.Amount); err != nil {
			return nil, fmt.Errorf("scan kline row: %w", err)
		}
		b.Timestamp = time.UnixMilli(tsMs).UTC()
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate kline rows: %w", err)
	}
	return out, nil
}
