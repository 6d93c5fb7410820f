package admincall

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-memory Store for tests.
type MemoryStore struct {
	mu        sync.Mutex
	users     map[string]AdminUser
	shortcuts map[string]ShortcutCode
	scheduled map[string]ScheduledCall
	calls     map[string]Call

	now func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:     map[string]AdminUser{},
		shortcuts: map[string]ShortcutCode{},
		scheduled: map[string]ScheduledCall{},
		calls:     map[string]Call{},
		now:       time.Now,
	}
}

func (s *MemoryStore) PutUser(u AdminUser) AdminUser {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	s.users[u.ID] = u
	return u
}

func (s *MemoryStore) PutShortcut(sc ShortcutCode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.shortcuts[sc.Code] = sc
}

func (s *MemoryStore) PutScheduledCall(sc ScheduledCall) ScheduledCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sc.ID == "" {
		sc.ID = uuid.NewString()
	}
	s.scheduled[sc.ID] = sc
	return sc
}

func (s *MemoryStore) FindUserByPhone(ctx context.Context, phone string) (AdminUser, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Phone == phone && u.Active {
			return u, true, nil
		}
	}
	return AdminUser{}, false, nil
}

func (s *MemoryStore) GetUser(ctx context.Context, id string) (AdminUser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return AdminUser{}, ErrNotFound
	}
	return u, nil
}

func (s *MemoryStore) FindShortcut(ctx context.Context, code string) (ShortcutCode, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sc, ok := s.shortcuts[code]
	return sc, ok, nil
}

func (s *MemoryStore) FindPendingScheduledCall(ctx context.Context, adminUserID string) (ScheduledCall, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var pending []ScheduledCall
	for _, sc := range s.scheduled {
		if sc.AdminUserID == adminUserID && sc.UsedAt == nil {
			pending = append(pending, sc)
		}
	}
	if len(pending) == 0 {
		return ScheduledCall{}, false, nil
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i].ID < pending[j].ID })
	return pending[0], true, nil
}

func (s *MemoryStore) ConsumeScheduledCall(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sc, ok := s.scheduled[id]
	if !ok {
		return ErrNotFound
	}
	now := s.now().UTC()
	sc.UsedAt = &now
	s.scheduled[id] = sc
	return nil
}

func (s *MemoryStore) CreateCall(ctx context.Context, c Call) (Call, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	c.CreatedAt = s.now().UTC()
	c.UpdatedAt = c.CreatedAt
	s.calls[c.ID] = c
	return c, nil
}

func (s *MemoryStore) GetCall(ctx context.Context, id string) (Call, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.calls[id]
	if !ok {
		return Call{}, ErrNotFound
	}
	return c, nil
}

func (s *MemoryStore) SaveCall(ctx context.Context, c Call) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.calls[c.ID]; !ok {
		return ErrNotFound
	}
	s.calls[c.ID] = c
	return nil
}
