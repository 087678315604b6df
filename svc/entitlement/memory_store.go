package entitlement

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/fincash/svc/plans"
)

// MemoryStore is an in-process Store. Each user has its own mutex so that
// UpdateSubscription of different users never block each other.
type MemoryStore struct {
	mu    sync.RWMutex
	users map[uuid.UUID]User
	subs  map[uuid.UUID]Subscription
	locks map[uuid.UUID]*sync.Mutex
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users: make(map[uuid.UUID]User),
		subs:  make(map[uuid.UUID]Subscription),
		locks: make(map[uuid.UUID]*sync.Mutex),
	}
}

func (s *MemoryStore) CreateUser(_ context.Context, user User, sub Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[user.ID]; ok {
		return ErrUserExists
	}
	s.users[user.ID] = user
	s.subs[user.ID] = sub
	s.locks[user.ID] = &sync.Mutex{}
	return nil
}

func (s *MemoryStore) GetUser(_ context.Context, userID uuid.UUID) (User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[userID]
	if !ok {
		return User{}, ErrUserNotFound
	}
	return u, nil
}

func (s *MemoryStore) GetSubscription(_ context.Context, userID uuid.UUID) (Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sub, ok := s.subs[userID]
	if !ok {
		return Subscription{}, ErrUserNotFound
	}
	return copySubscription(sub), nil
}

func (s *MemoryStore) UpdateSubscription(ctx context.Context, userID uuid.UUID, fn MutateFunc) (Subscription, error) {
	s.mu.RLock()
	lock, ok := s.locks[userID]
	s.mu.RUnlock()
	if !ok {
		return Subscription{}, ErrUserNotFound
	}

	lock.Lock()
	defer lock.Unlock()

	if err := ctx.Err(); err != nil {
		return Subscription{}, err
	}

	s.mu.RLock()
	sub := copySubscription(s.subs[userID])
	s.mu.RUnlock()

	changed, err := fn(ctx, &sub)
	if err != nil {
		return Subscription{}, err
	}
	if !changed {
		return s.GetSubscription(ctx, userID)
	}

	s.mu.Lock()
	s.subs[userID] = copySubscription(sub)
	s.mu.Unlock()
	return sub, nil
}

func (s *MemoryStore) ListAccounts(_ context.Context, filter AccountFilter) ([]Account, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	needle := fold(filter.Search)
	matches := make([]Account, 0, len(s.users))
	for id, u := range s.users {
		sub := s.subs[id]
		if filter.Plan != "" && sub.EffectivePlanAt(filter.At) != filter.Plan {
			continue
		}
		if needle != "" && !strings.Contains(fold(u.Username), needle) && !strings.Contains(fold(u.Email), needle) {
			continue
		}
		matches = append(matches, Account{User: u, Subscription: copySubscription(sub)})
	}

	sort.Slice(matches, func(i, j int) bool {
		a, b := matches[i].User, matches[j].User
		if a.CreatedAt.Equal(b.CreatedAt) {
			return a.ID.String() < b.ID.String()
		}
		return a.CreatedAt.After(b.CreatedAt)
	})

	total := len(matches)
	start := min(max(filter.Offset, 0), total)
	end := total
	if filter.Limit > 0 {
		end = min(start+filter.Limit, total)
	}
	return matches[start:end], total, nil
}

func (s *MemoryStore) PlanCounts(_ context.Context, now time.Time) (map[plans.ID]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[plans.ID]int)
	for _, sub := range s.subs {
		counts[sub.EffectivePlanAt(now)]++
	}
	return counts, nil
}

func copySubscription(sub Subscription) Subscription {
	sub.Start = copyTime(sub.Start)
	sub.End = copyTime(sub.End)
	sub.PlanChangedAt = copyTime(sub.PlanChangedAt)
	return sub
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
