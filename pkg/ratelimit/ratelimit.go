// Package ratelimit counts requests per key in fixed windows.
//
// Counters live in a Store: MemoryStore for a single instance, RedisStore
// when several instances share the limit.
package ratelimit

import (
	"context"
	"errors"
	"time"
)

var (
	ErrLimitExceeded = errors.New("ratelimit: limit exceeded")
	ErrInvalidLimit  = errors.New("ratelimit: invalid limit")
	ErrKeyRequired   = errors.New("ratelimit: key is required")
	ErrStoreRequired = errors.New("ratelimit: store is required")
)

type Config struct {
	Requests int           `env:"RATE_LIMIT_REQUESTS" envDefault:"10"` // Requests allowed per key and window. Zero disables limiting.
	Window   time.Duration `env:"RATE_LIMIT_WINDOW" envDefault:"1m"`   // Window is the counting period.
}

// Result describes the state of a key after a call to Allow.
type Result struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// RetryAfter is how long a rejected caller should wait. It is zero for
// allowed calls.
func (r Result) RetryAfter(now time.Time) time.Duration {
	if r.Allowed {
		return 0
	}
	return max(r.ResetAt.Sub(now), 0)
}

// Store increments window counters.
type Store interface {
	// Increment adds n to the counter of key, starting a new window of the
	// given length when none is running, and returns the new count with the
	// time left in the window.
	Increment(ctx context.Context, key string, n int, window time.Duration) (count int64, ttl time.Duration, err error)
	Delete(ctx context.Context, key string) error
}

// Limiter allows up to limit requests per key in each window.
type Limiter struct {
	store  Store
	limit  int
	window time.Duration
	now    func() time.Time
}

type Option func(*Limiter)

func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		if now != nil {
			l.now = now
		}
	}
}

func New(store Store, limit int, window time.Duration, opts ...Option) (*Limiter, error) {
	if store == nil {
		return nil, ErrStoreRequired
	}
	if limit <= 0 || window <= 0 {
		return nil, ErrInvalidLimit
	}
	l := &Limiter{store: store, limit: limit, window: window, now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Allow counts one request for key.
func (l *Limiter) Allow(ctx context.Context, key string) (Result, error) {
	if key == "" {
		return Result{}, ErrKeyRequired
	}
	count, ttl, err := l.store.Increment(ctx, key, 1, l.window)
	if err != nil {
		return Result{}, err
	}
	if ttl <= 0 {
		ttl = l.window
	}
	return Result{
		Allowed:   count <= int64(l.limit),
		Limit:     l.limit,
		Remaining: max(l.limit-int(count), 0),
		ResetAt:   l.now().Add(ttl),
	}, nil
}

// Reset forgets the counter of key.
func (l *Limiter) Reset(ctx context.Context, key string) error {
	if key == "" {
		return ErrKeyRequired
	}
	return l.store.Delete(ctx, key)
}
