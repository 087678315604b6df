package export

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// TicketStore persists export tickets.
type TicketStore interface {
	Create(ctx context.Context, t Ticket) error
	Get(ctx context.Context, id uuid.UUID) (Ticket, error)
	// Close moves an authorized ticket to a terminal status. It returns the
	// stored ticket and false when the ticket was already terminal.
	Close(ctx context.Context, id uuid.UUID, status TicketStatus, reason string, at time.Time) (Ticket, bool, error)
	// List returns tickets newest first and the total number of matches.
	List(ctx context.Context, filter TicketFilter) ([]Ticket, int, error)
}

type MemoryStore struct {
	mu      sync.RWMutex
	tickets map[uuid.UUID]Ticket
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tickets: make(map[uuid.UUID]Ticket)}
}

func (s *MemoryStore) Create(_ context.Context, t Ticket) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tickets[t.ID] = t
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id uuid.UUID) (Ticket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tickets[id]
	if !ok {
		return Ticket{}, ErrTicketNotFound
	}
	return t, nil
}

func (s *MemoryStore) Close(_ context.Context, id uuid.UUID, status TicketStatus, reason string, at time.Time) (Ticket, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tickets[id]
	if !ok {
		return Ticket{}, false, ErrTicketNotFound
	}
	if t.Status.Terminal() {
		return t, false, nil
	}
	t.Status = status
	t.Error = reason
	t.CompletedAt = &at
	s.tickets[id] = t
	return t, true, nil
}

func (s *MemoryStore) List(_ context.Context, filter TicketFilter) ([]Ticket, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Ticket, 0)
	for _, t := range s.tickets {
		if filter.UserID != uuid.Nil && t.UserID != filter.UserID {
			continue
		}
		if filter.Status != "" && t.Status != filter.Status {
			continue
		}
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID.String() < out[j].ID.String()
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})

	total := len(out)
	start := min(max(filter.Offset, 0), total)
	end := total
	if filter.Limit > 0 {
		end = min(start+filter.Limit, total)
	}
	return out[start:end], total, nil
}
