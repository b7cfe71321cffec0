package offer

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/joseairosa/codesalvage/internal/fault"
)

// MemoryStore is an in-memory offer store for demo/development mode.
type MemoryStore struct {
	offers map[string]*Offer
	mu     sync.Mutex
}

// NewMemoryStore creates a new in-memory offer store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{offers: make(map[string]*Offer)}
}

func (m *MemoryStore) Create(ctx context.Context, o *Offer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.offers {
		if existing.ProjectID == o.ProjectID && existing.BuyerID == o.BuyerID && existing.Active() {
			return fault.New(fault.KindValidation, "an active offer already exists for this project")
		}
	}
	cp := *o
	m.offers[o.ID] = &cp
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*Offer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.offers[id]
	if !ok {
		return nil, fault.New(fault.KindNotFound, "offer not found")
	}
	cp := *o
	return &cp, nil
}

func (m *MemoryStore) UpdateIf(ctx context.Context, o *Offer, expected Status) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.offers[o.ID]
	if !ok {
		return false, fault.New(fault.KindNotFound, "offer not found")
	}
	if stored.Status != expected {
		return false, nil
	}
	cp := *o
	m.offers[o.ID] = &cp
	return true, nil
}

func (m *MemoryStore) ListByProject(ctx context.Context, projectID string, limit int) ([]*Offer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []*Offer
	for _, o := range m.offers {
		if o.ProjectID == projectID {
			cp := *o
			result = append(result, &cp)
		}
	}
	return sortAndTrim(result, limit), nil
}

func (m *MemoryStore) ListByBuyer(ctx context.Context, buyerID string, limit int) ([]*Offer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []*Offer
	for _, o := range m.offers {
		if o.BuyerID == buyerID {
			cp := *o
			result = append(result, &cp)
		}
	}
	return sortAndTrim(result, limit), nil
}

func (m *MemoryStore) ListExpired(ctx context.Context, before time.Time, limit int) ([]*Offer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []*Offer
	for _, o := range m.offers {
		if o.Active() && o.ExpiresAt.Before(before) {
			cp := *o
			result = append(result, &cp)
		}
	}
	return sortAndTrim(result, limit), nil
}

func sortAndTrim(offers []*Offer, limit int) []*Offer {
	sort.Slice(offers, func(i, j int) bool {
		return offers[i].CreatedAt.After(offers[j].CreatedAt)
	})
	if len(offers) > limit {
		offers = offers[:limit]
	}
	return offers
}

// Compile-time assertion that MemoryStore implements Store.
var _ Store = (*MemoryStore)(nil)
