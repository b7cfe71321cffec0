package notify

import (
	"context"
	"sync"
)

// MemoryDedupStore is an in-memory dedup store for demo/development mode.
type MemoryDedupStore struct {
	seen map[string]struct{}
	mu   sync.Mutex
}

// NewMemoryDedupStore creates a new in-memory dedup store.
func NewMemoryDedupStore() *MemoryDedupStore {
	return &MemoryDedupStore{seen: make(map[string]struct{})}
}

func (m *MemoryDedupStore) Once(ctx context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.seen[key]; ok {
		return false, nil
	}
	m.seen[key] = struct{}{}
	return true, nil
}

// Compile-time assertion that MemoryDedupStore implements DedupStore.
var _ DedupStore = (*MemoryDedupStore)(nil)
