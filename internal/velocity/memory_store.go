package velocity

import (
	"context"
	"sync"
	"time"
)

type memberEntry struct {
	member   string
	tsMillis int64
}

type userState struct {
	entries  []memberEntry // ascending by tsMillis
	lastSeen int64
	hasLast  bool
}

// MemoryStore is an in-memory Store for tests and single-process runs.
// TTLs are ignored; PruneBefore bounds growth instead.
type MemoryStore struct {
	mu    sync.Mutex
	users map[string]*userState
}

// NewMemoryStore creates an in-memory velocity store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{users: make(map[string]*userState)}
}

func (s *MemoryStore) user(userID string) *userState {
	u, ok := s.users[userID]
	if !ok {
		u = &userState{}
		s.users[userID] = u
	}
	return u
}

func (s *MemoryStore) AddEvent(_ context.Context, userID, member string, tsMillis int64, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u := s.user(userID)
	entry := memberEntry{member: member, tsMillis: tsMillis}
	// Insert keeping ascending timestamp order; out-of-order arrivals are
	// rare but valid within a partition rebalance.
	i := len(u.entries)
	for i > 0 && u.entries[i-1].tsMillis > tsMillis {
		i--
	}
	u.entries = append(u.entries, memberEntry{})
	copy(u.entries[i+1:], u.entries[i:])
	u.entries[i] = entry
	return nil
}

func (s *MemoryStore) PruneBefore(_ context.Context, userID string, cutoffMillis int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u := s.user(userID)
	start := 0
	for start < len(u.entries) && u.entries[start].tsMillis < cutoffMillis {
		start++
	}
	if start > 0 {
		u.entries = u.entries[start:]
	}
	return nil
}

func (s *MemoryStore) CountRange(_ context.Context, userID string, fromMillis, toMillis int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u := s.user(userID)
	count := 0
	for _, e := range u.entries {
		if e.tsMillis >= fromMillis && e.tsMillis <= toMillis {
			count++
		}
	}
	return count, nil
}

func (s *MemoryStore) LastSeen(_ context.Context, userID string) (int64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u := s.user(userID)
	return u.lastSeen, u.hasLast, nil
}

func (s *MemoryStore) SetLastSeen(_ context.Context, userID string, tsMillis int64, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u := s.user(userID)
	u.lastSeen = tsMillis
	u.hasLast = true
	return nil
}
