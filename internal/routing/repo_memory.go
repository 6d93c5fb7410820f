package routing

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory Store for tests and seeding.
type MemoryStore struct {
	mu       sync.Mutex
	routings []InboundRouting
}

func NewMemoryStore() *MemoryStore { return &MemoryStore{} }

func (s *MemoryStore) Add(r InboundRouting) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.routings = append(s.routings, r)
}

func (s *MemoryStore) ListActive(ctx context.Context, dnis string) ([]InboundRouting, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []InboundRouting
	for _, r := range s.routings {
		if r.DNIS == dnis {
			out = append(out, r)
		}
	}
	return out, nil
}
