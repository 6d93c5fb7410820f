package contact

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-memory Store for tests.
// It upholds the same invariants as the Postgres store.
type MemoryStore struct {
	mu       sync.Mutex
	contacts map[string]Contact
	legs     map[string]Leg
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		contacts: map[string]Contact{},
		legs:     map[string]Leg{},
	}
}

func (s *MemoryStore) GetOrCreate(ctx context.Context, c Contact) (Contact, error) {
	if c.System == "" || c.SystemContactID == "" {
		return Contact{}, ErrInvalidArgument
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.contacts {
		if existing.System == c.System && existing.SystemContactID == c.SystemContactID {
			return existing, nil
		}
	}
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	c.CreatedAt, c.UpdatedAt = now, now
	s.contacts[c.ID] = c
	return c, nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (Contact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.contacts[id]
	if !ok {
		return Contact{}, ErrNotFound
	}
	return c, nil
}

func (s *MemoryStore) SaveSession(ctx context.Context, contactID string, blob []byte, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.contacts[contactID]
	if !ok {
		return ErrNotFound
	}
	c.SessionBlob = blob
	c.UpdatedAt = now.UTC()
	s.contacts[contactID] = c
	return nil
}

func (s *MemoryStore) LinkAdminCall(ctx context.Context, contactID, adminCallID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.contacts[contactID]
	if !ok {
		return ErrNotFound
	}
	c.AdminCallID = adminCallID
	s.contacts[contactID] = c
	return nil
}

func (s *MemoryStore) Purge(ctx context.Context, contactID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.contacts[contactID]; !ok {
		return ErrNotFound
	}
	delete(s.contacts, contactID)
	for id, l := range s.legs {
		if l.ContactID == contactID {
			delete(s.legs, id)
		}
	}
	return nil
}

func (s *MemoryStore) OpenLeg(ctx context.Context, leg Leg) (Leg, error) {
	if leg.ContactID == "" || leg.System == "" || leg.SystemContactID == "" {
		return Leg{}, ErrInvalidArgument
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, l := range s.legs {
		if l.System == leg.System && l.SystemContactID == leg.SystemContactID && l.Open() {
			return Leg{}, ErrLegAlreadyOpen
		}
	}
	if leg.ID == "" {
		leg.ID = uuid.NewString()
	}
	if leg.StartedAt.IsZero() {
		leg.StartedAt = time.Now().UTC()
	}
	s.legs[leg.ID] = leg
	return leg, nil
}

func (s *MemoryStore) GetLeg(ctx context.Context, legID string) (Leg, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.legs[legID]
	if !ok {
		return Leg{}, ErrNotFound
	}
	return l, nil
}

func (s *MemoryStore) FindOpenLeg(ctx context.Context, system, systemContactID string) (Leg, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, l := range s.legs {
		if l.System == system && l.SystemContactID == systemContactID && l.Open() {
			return l, true, nil
		}
	}
	return Leg{}, false, nil
}

func (s *MemoryStore) CloseLeg(ctx context.Context, legID string, disp Disposition, endedAt time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.legs[legID]
	if !ok {
		return false, ErrNotFound
	}
	if !l.Open() {
		return false, nil
	}
	t := endedAt.UTC()
	l.EndedAt = &t
	l.DispositionType = disp.Type
	l.DispositionParams = disp.Params
	l.TransferRoutingID = disp.TransferRoutingID
	s.legs[legID] = l
	return true, nil
}
