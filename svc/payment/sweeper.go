package payment

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/dmitrymomot/fincash/pkg/logger"
	"github.com/dmitrymomot/fincash/pkg/metrics"
)

// Sweeper persists the expiry of initiated intents that outlived their TTL.
// Confirmation treats stale intents as expired on its own; sweeping keeps
// the stored state and the pending-intent view in line with that.
type Sweeper struct {
	store   Store
	ttl     time.Duration
	now     func() time.Time
	metrics *metrics.Metrics
	log     *slog.Logger
}

type SweeperOption func(*Sweeper)

func WithSweeperLogger(l *slog.Logger) SweeperOption {
	return func(s *Sweeper) {
		if l != nil {
			s.log = l
		}
	}
}

func WithSweeperClock(now func() time.Time) SweeperOption {
	return func(s *Sweeper) {
		if now != nil {
			s.now = now
		}
	}
}

func WithSweeperMetrics(m *metrics.Metrics) SweeperOption {
	return func(s *Sweeper) { s.metrics = m }
}

func NewSweeper(store Store, ttl time.Duration, opts ...SweeperOption) *Sweeper {
	s := &Sweeper{
		store: store,
		ttl:   ttl,
		now:   func() time.Time { return time.Now().UTC() },
		log:   logger.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With(logger.Component("payment.sweeper"))
	return s
}

// Sweep expires stale intents once and returns how many changed.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	if s.ttl <= 0 {
		return 0, nil
	}
	now := s.now()
	n, err := s.store.ExpireStale(ctx, now.Add(-s.ttl), now)
	if err != nil {
		return 0, err
	}
	s.metrics.Swept(n)
	if n > 0 {
		s.log.LogAttrs(ctx, slog.LevelInfo, "stale payment intents expired", slog.Int("count", n))
	}
	return n, nil
}

// Run sweeps on the cron schedule until ctx is done.
func (s *Sweeper) Run(ctx context.Context, schedule string) error {
	c := cron.New()
	if _, err := c.AddFunc(schedule, func() {
		if _, err := s.Sweep(ctx); err != nil {
			s.log.LogAttrs(ctx, slog.LevelError, "sweep failed", logger.Error(err))
		}
	}); err != nil {
		return fmt.Errorf("payment: invalid sweep schedule %q: %w", schedule, err)
	}

	s.log.LogAttrs(ctx, slog.LevelInfo, "sweeper started", slog.String("schedule", schedule))
	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	s.log.LogAttrs(context.Background(), slog.LevelInfo, "sweeper stopped")
	return nil
}
