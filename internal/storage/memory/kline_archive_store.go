package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"tdx-datafeed/internal/domain"
	"tdx-datafeed/internal/storage"
)

// KlineArchiveStore is an in-memory implementation of
// storage.KlineArchiveStore.
type KlineArchiveStore struct {
	mu   sync.RWMutex
	data map[string]map[int64]domain.KlineBar // series key -> timestamp_ms -> bar
}

// NewKlineArchiveStore creates a new in-memory kline archive.
func NewKlineArchiveStore() *KlineArchiveStore {
	return &KlineArchiveStore{
		data: make(map[string]map[int64]domain.KlineBar),
	}
}

// Compile-time interface check.
var _ storage.KlineArchiveStore = (*KlineArchiveStore)(nil)

func seriesKey(symbol string, period domain.Period) string {
	return fmt.Sprintf("%s/%s", symbol, period)
}

// InsertBulk stores bars, overwriting duplicates by timestamp.
func (s *KlineArchiveStore) InsertBulk(_ context.Context, symbol string, period domain.Period, bars []domain.KlineBar) error {
	if symbol == "" {
		return storage.ErrInvalidInput
	}
	if len(bars) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := seriesKey(symbol, period)
	series, ok := s.data[key]
	if !ok {
		series = make(map[int64]domain.KlineBar)
		s.data[key] = series
	}
	for _, b := range bars {
		series[b.Timestamp.UnixMilli()] = b
	}
	return nil
}

// GetByRange returns bars within [start, end] milliseconds, ordered ASC.
func (s *KlineArchiveStore) GetByRange(_ context.Context, symbol string, period domain.Period, start, end int64) ([]domain.KlineBar, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	series := s.data[seriesKey(symbol, period)]
	var out []domain.KlineBar
	for tsMs, b := range series {
		if tsMs >= start && tsMs <= end {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out, nil
}
