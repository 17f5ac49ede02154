package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"tdx-datafeed/internal/domain"
	"tdx-datafeed/internal/storage"
)

// ServerRegistryStore is an in-memory implementation of
// storage.ServerRegistryStore.
type ServerRegistryStore struct {
	mu   sync.RWMutex
	data map[string]*domain.ServerRecord // keyed by host:port
}

// NewServerRegistryStore creates a new in-memory registry store.
func NewServerRegistryStore() *ServerRegistryStore {
	return &ServerRegistryStore{
		data: make(map[string]*domain.ServerRecord),
	}
}

// Compile-time interface check.
var _ storage.ServerRegistryStore = (*ServerRegistryStore)(nil)

// Save upserts the record for (host, port).
func (s *ServerRegistryStore) Save(_ context.Context, rec *domain.ServerRecord) error {
	if rec == nil || rec.Host == "" || rec.Port <= 0 {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Store a copy to prevent external mutation
	recCopy := *rec
	recCopy.UpdatedAt = time.Now().UTC()
	s.data[rec.Key()] = &recCopy
	return nil
}

// List returns records ordered by priority then response time.
func (s *ServerRegistryStore) List(_ context.Context, activeOnly bool) ([]*domain.ServerRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*domain.ServerRecord
	for _, rec := range s.data {
		if activeOnly && rec.Status != "active" {
			continue
		}
		recCopy := *rec
		out = append(out, &recCopy)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		return out[i].ResponseTime < out[j].ResponseTime
	})
	return out, nil
}

// Delete removes the record for (host, port).
func (s *ServerRegistryStore) Delete(_ context.Context, host string, port int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := domain.Endpoint{Host: host, Port: port}.Key()
	if _, exists := s.data[key]; !exists {
		return storage.ErrNotFound
	}
	delete(s.data, key)
	return nil
}
