package payment

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore keeps intents in process. One mutex guards all of them, which
// makes CreateSuperseding trivially atomic.
type MemoryStore struct {
	mu      sync.RWMutex
	intents map[uuid.UUID]Intent
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{intents: make(map[uuid.UUID]Intent)}
}

func (s *MemoryStore) CreateSuperseding(_ context.Context, intent Intent) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for id, other := range s.intents {
		if other.UserID != intent.UserID || other.Status != StatusInitiated {
			continue
		}
		resolve(&other, StatusExpired, intent.CreatedAt)
		s.intents[id] = other
		n++
	}
	s.intents[intent.ID] = intent
	return n, nil
}

func (s *MemoryStore) Get(_ context.Context, id uuid.UUID) (Intent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	in, ok := s.intents[id]
	if !ok {
		return Intent{}, ErrUnknownIntent
	}
	return in, nil
}

func (s *MemoryStore) GetByExternalRef(_ context.Context, provider, ref string) (Intent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, in := range s.intents {
		if in.Provider == provider && in.ExternalRef == ref && ref != "" {
			return in, nil
		}
	}
	return Intent{}, ErrUnknownIntent
}

func (s *MemoryStore) Transition(_ context.Context, id uuid.UUID, from, to Status, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	in, ok := s.intents[id]
	if !ok {
		return false, ErrUnknownIntent
	}
	if in.Status != from {
		return false, nil
	}
	resolve(&in, to, at)
	s.intents[id] = in
	return true, nil
}

func (s *MemoryStore) Pending(_ context.Context, userID uuid.UUID) (Intent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, in := range s.intents {
		if in.UserID == userID && in.Status == StatusInitiated {
			return in, nil
		}
	}
	return Intent{}, ErrNoPendingIntent
}

func (s *MemoryStore) ExpireStale(_ context.Context, cutoff, at time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for id, in := range s.intents {
		if in.Status == StatusInitiated && in.CreatedAt.Before(cutoff) {
			resolve(&in, StatusExpired, at)
			s.intents[id] = in
			n++
		}
	}
	return n, nil
}

func resolve(in *Intent, to Status, at time.Time) {
	in.Status = to
	in.UpdatedAt = at
	if to.Terminal() {
		t := at
		in.ResolvedAt = &t
	}
}
