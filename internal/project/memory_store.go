package project

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/joseairosa/codesalvage/internal/fault"
)

// MemoryStore is an in-memory project store for demo/development mode.
type MemoryStore struct {
	projects map[string]*Project
	mu       sync.RWMutex
}

// NewMemoryStore creates a new in-memory project store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{projects: make(map[string]*Project)}
}

func (m *MemoryStore) Create(ctx context.Context, p *Project) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *p
	m.projects[p.ID] = &cp
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*Project, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.projects[id]
	if !ok {
		return nil, fault.New(fault.KindNotFound, "project not found")
	}
	cp := *p
	return &cp, nil
}

func (m *MemoryStore) Transition(ctx context.Context, id string, from, to Status) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.projects[id]
	if !ok {
		return false, fault.New(fault.KindNotFound, "project not found")
	}
	if p.Status != from {
		return false, nil
	}
	p.Status = to
	p.UpdatedAt = time.Now()
	return true, nil
}

func (m *MemoryStore) ListBySeller(ctx context.Context, sellerID string, limit int) ([]*Project, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []*Project
	for _, p := range m.projects {
		if p.SellerID == sellerID {
			cp := *p
			result = append(result, &cp)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// Compile-time assertion that MemoryStore implements Store.
var _ Store = (*MemoryStore)(nil)
