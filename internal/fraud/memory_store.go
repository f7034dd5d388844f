package fraud

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory decision store for development and tests.
type MemoryStore struct {
	mu      sync.RWMutex
	byTxID  map[string]*Decision
	ordered []*Decision // insertion order, oldest first
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byTxID: make(map[string]*Decision)}
}

func (m *MemoryStore) FindByTransactionID(_ context.Context, transactionID string) (*Decision, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.byTxID[transactionID]
	if !ok {
		return nil, ErrDecisionNotFound
	}
	cp := *d
	return &cp, nil
}

func (m *MemoryStore) Insert(_ context.Context, d *Decision) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.byTxID[d.TransactionID]; exists {
		return ErrDuplicateDecision
	}
	cp := *d
	m.byTxID[d.TransactionID] = &cp
	m.ordered = append(m.ordered, &cp)
	return nil
}

func (m *MemoryStore) ListRecent(_ context.Context, limit int) ([]*Decision, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if limit <= 0 || limit > len(m.ordered) {
		limit = len(m.ordered)
	}
	out := make([]*Decision, 0, limit)
	for i := len(m.ordered) - 1; i >= 0 && len(out) < limit; i-- {
		cp := *m.ordered[i]
		out = append(out, &cp)
	}
	return out, nil
}
