package queue

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory Store for tests and seeding.
type MemoryStore struct {
	mu        sync.Mutex
	queues    map[string]Queue
	transfers map[string][]TransferRouting
	hours     map[string][]Hours
	holidays  map[string][]Holiday
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		queues:    map[string]Queue{},
		transfers: map[string][]TransferRouting{},
		hours:     map[string][]Hours{},
		holidays:  map[string][]Holiday{},
	}
}

func (s *MemoryStore) PutQueue(q Queue) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queues[q.ID] = q
}

func (s *MemoryStore) AddTransferRouting(t TransferRouting) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transfers[t.QueueID] = append(s.transfers[t.QueueID], t)
}

func (s *MemoryStore) AddHours(h Hours) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hours[h.QueueID] = append(s.hours[h.QueueID], h)
}

func (s *MemoryStore) AddHoliday(h Holiday) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.holidays[h.QueueID] = append(s.holidays[h.QueueID], h)
}

func (s *MemoryStore) GetQueue(ctx context.Context, id string) (Queue, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	q, ok := s.queues[id]
	if !ok {
		return Queue{}, ErrNotFound
	}
	return q, nil
}

func (s *MemoryStore) ListTransferRoutings(ctx context.Context, queueID string) ([]TransferRouting, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]TransferRouting(nil), s.transfers[queueID]...), nil
}

func (s *MemoryStore) ListHours(ctx context.Context, queueID string) ([]Hours, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Hours(nil), s.hours[queueID]...), nil
}

func (s *MemoryStore) ListHolidays(ctx context.Context, queueID string) ([]Holiday, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Holiday(nil), s.holidays[queueID]...), nil
}
