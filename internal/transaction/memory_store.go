package transaction

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/joseairosa/codesalvage/internal/fault"
)

// MemoryStore is an in-memory transaction store for demo/development mode.
type MemoryStore struct {
	transactions map[string]*Transaction
	mu           sync.Mutex
}

// NewMemoryStore creates a new in-memory transaction store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{transactions: make(map[string]*Transaction)}
}

func (m *MemoryStore) Create(ctx context.Context, t *Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.transactions {
		active := existing.PaymentStatus == PaymentPending || existing.PaymentStatus == PaymentSucceeded
		if !active {
			continue
		}
		if existing.ProjectID == t.ProjectID {
			return fault.New(fault.KindValidation, "project already has an active transaction")
		}
		if t.OfferID != "" && existing.OfferID == t.OfferID {
			return fault.New(fault.KindValidation, "offer has already been used for a checkout")
		}
	}
	cp := *t
	m.transactions[t.ID] = &cp
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.transactions[id]
	if !ok {
		return nil, fault.New(fault.KindNotFound, "transaction not found")
	}
	cp := *t
	return &cp, nil
}

func (m *MemoryStore) GetByProcessorRef(ctx context.Context, ref string) (*Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.transactions {
		if t.ProcessorRef == ref {
			cp := *t
			return &cp, nil
		}
	}
	return nil, fault.New(fault.KindNotFound, "transaction not found")
}

func (m *MemoryStore) UpdateIf(ctx context.Context, t *Transaction, expected Expected) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.transactions[t.ID]
	if !ok {
		return false, fault.New(fault.KindNotFound, "transaction not found")
	}
	if stored.PaymentStatus != expected.Payment || stored.EscrowStatus != expected.Escrow {
		return false, nil
	}
	cp := *t
	cp.ProcessorRef = stored.ProcessorRef     // ref is set once, not via CAS
	cp.DeliveryStatus = stored.DeliveryStatus // delivery moves only through SetDelivered
	m.transactions[t.ID] = &cp
	return true, nil
}

func (m *MemoryStore) SetDelivered(ctx context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.transactions[id]
	if !ok {
		return false, fault.New(fault.KindNotFound, "transaction not found")
	}
	if t.DeliveryStatus != DeliveryPending {
		return false, nil
	}
	t.DeliveryStatus = DeliveryDelivered
	t.UpdatedAt = time.Now()
	return true, nil
}

func (m *MemoryStore) SetProcessorRef(ctx context.Context, id, ref string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.transactions[id]
	if !ok {
		return fault.New(fault.KindNotFound, "transaction not found")
	}
	t.ProcessorRef = ref
	return nil
}

func (m *MemoryStore) ListByBuyer(ctx context.Context, buyerID string, limit int) ([]*Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []*Transaction
	for _, t := range m.transactions {
		if t.BuyerID == buyerID {
			cp := *t
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

func (m *MemoryStore) ListReleasable(ctx context.Context, now time.Time, limit int) ([]*Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []*Transaction
	for _, t := range m.transactions {
		if t.EscrowStatus == EscrowHeld && !t.ReleaseAt.After(now) {
			cp := *t
			result = append(result, &cp)
		}
	}
	return trimByReleaseDate(result, limit), nil
}

func (m *MemoryStore) ListReleasingWithin(ctx context.Context, now, horizon time.Time, limit int) ([]*Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []*Transaction
	for _, t := range m.transactions {
		if t.EscrowStatus == EscrowHeld && t.ReleaseAt.After(now) && !t.ReleaseAt.After(horizon) {
			cp := *t
			result = append(result, &cp)
		}
	}
	return trimByReleaseDate(result, limit), nil
}

func (m *MemoryStore) ListStalePending(ctx context.Context, before time.Time, limit int) ([]*Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []*Transaction
	for _, t := range m.transactions {
		if t.PaymentStatus == PaymentPending && t.CreatedAt.Before(before) {
			cp := *t
			result = append(result, &cp)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func trimByReleaseDate(ts []*Transaction, limit int) []*Transaction {
	sort.Slice(ts, func(i, j int) bool {
		return ts[i].ReleaseAt.Before(ts[j].ReleaseAt)
	})
	if len(ts) > limit {
		ts = ts[:limit]
	}
	return ts
}

// Compile-time assertion that MemoryStore implements Store.
var _ Store = (*MemoryStore)(nil)
