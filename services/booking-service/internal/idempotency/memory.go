package idempotency

import (
	"context"
	"sync"
)

// MemoryStore is an in-process Store with first-write-wins semantics.
type MemoryStore struct {
	mu      sync.Mutex
	records map[[3]string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: map[[3]string][]byte{}}
}

func (m *MemoryStore) Get(_ context.Context, tenantID, operation, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	raw, ok := m.records[[3]string{tenantID, operation, key}]
	return raw, ok, nil
}

func (m *MemoryStore) Insert(_ context.Context, tenantID, operation, key string, response []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := [3]string{tenantID, operation, key}
	if _, exists := m.records[k]; !exists {
		m.records[k] = append([]byte(nil), response...)
	}
	return nil
}

func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}
