package entitlement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/fincash/pkg/logger"
	"github.com/dmitrymomot/fincash/pkg/metrics"
	"github.com/dmitrymomot/fincash/svc/plans"
)

// Tracker answers entitlement questions and applies the two mutations the
// rest of the service is allowed to make.
type Tracker struct {
	catalog *plans.Catalog
	store   Store
	cache   Cache
	metrics *metrics.Metrics
	log     *slog.Logger
	now     func() time.Time
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithLogger sets the logger; nil keeps the no-op default.
func WithLogger(l *slog.Logger) Option {
	return func(t *Tracker) {
		if l != nil {
			t.log = l
		}
	}
}

// WithClock replaces time.Now; tests use it to move across plan windows.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) {
		if now != nil {
			t.now = now
		}
	}
}

// WithCache enables the subscription cache. Reads fill it on a miss and
// every mutation writes its result through.
func WithCache(c Cache) Option {
	return func(t *Tracker) { t.cache = c }
}

// WithMetrics records export decisions on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(t *Tracker) { t.metrics = m }
}

// NewTracker returns a tracker evaluating subscriptions of store against catalog.
func NewTracker(catalog *plans.Catalog, store Store, opts ...Option) *Tracker {
	t := &Tracker{
		catalog: catalog,
		store:   store,
		log:     logger.Nop(),
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(t)
	}
	t.log = t.log.With(logger.Component("entitlement"))
	return t
}

// Now returns the tracker clock. Collaborators use it so that plan windows
// and staleness checks agree on the current time.
func (t *Tracker) Now() time.Time { return t.now() }

// Catalog returns the plan catalog the tracker evaluates against.
func (t *Tracker) Catalog() *plans.Catalog { return t.catalog }

// Register creates the demo subscription of a new user.
func (t *Tracker) Register(ctx context.Context, u User) (Subscription, error) {
	if u.ID == uuid.Nil {
		return Subscription{}, fmt.Errorf("%w: empty id", ErrInvalidUser)
	}
	now := t.now()
	if u.CreatedAt.IsZero() {
		u.CreatedAt = now
	}
	u.Username = strings.TrimSpace(u.Username)
	u.Email = strings.TrimSpace(u.Email)

	sub := Subscription{
		UserID:      u.ID,
		CurrentPlan: plans.Demo,
		UpdatedAt:   now,
	}
	if err := t.store.CreateUser(ctx, u, sub); err != nil {
		return Subscription{}, err
	}

	t.log.LogAttrs(ctx, slog.LevelInfo, "user registered",
		logger.UserID(u.ID),
		logger.Event("user.registered"),
	)
	return sub, nil
}

// GetUser returns the stored identity of the user.
func (t *Tracker) GetUser(ctx context.Context, userID uuid.UUID) (User, error) {
	return t.store.GetUser(ctx, userID)
}

// GetSubscription returns the subscription of the user, going through the
// cache when one is configured.
func (t *Tracker) GetSubscription(ctx context.Context, userID uuid.UUID) (Subscription, error) {
	if t.cache != nil {
		sub, ok, err := t.cache.Get(ctx, userID)
		if err != nil {
			t.log.LogAttrs(ctx, slog.LevelWarn, "subscription cache read failed",
				logger.UserID(userID), logger.Error(err))
		} else if ok {
			return sub, nil
		}
	}

	sub, err := t.store.GetSubscription(ctx, userID)
	if err != nil {
		return Subscription{}, err
	}

	// A mutation may have written through between the read and this fill;
	// Cache.Set keeps whichever copy has the later UpdatedAt.
	if t.cache != nil {
		if err := t.cache.Set(ctx, sub); err != nil {
			t.log.LogAttrs(ctx, slog.LevelWarn, "subscription cache write failed",
				logger.UserID(userID), logger.Error(err))
		}
	}
	return sub, nil
}

// LoadSubscription reads the subscription from the store, skipping the
// cache. Decisions that must not act on a stale copy use it.
func (t *Tracker) LoadSubscription(ctx context.Context, userID uuid.UUID) (Subscription, error) {
	return t.store.GetSubscription(ctx, userID)
}

// CanExport reports whether one more export would be authorized now.
// The answer is advisory; RecordExport performs the binding check.
func (t *Tracker) CanExport(ctx context.Context, userID uuid.UUID) (bool, error) {
	sub, err := t.GetSubscription(ctx, userID)
	if err != nil {
		return false, err
	}
	return t.canExport(sub, t.now()), nil
}

// RecordExport atomically checks the quota and consumes one free export.
// Users on an active plan without an export cap get their subscription back
// unchanged. ErrQuotaExceeded leaves the record untouched.
func (t *Tracker) RecordExport(ctx context.Context, userID uuid.UUID) (Subscription, error) {
	now := t.now()
	var effective plans.ID

	changed := false
	sub, err := t.store.UpdateSubscription(ctx, userID, func(_ context.Context, sub *Subscription) (bool, error) {
		plan := t.effectivePlan(*sub, now)
		effective = plan.ID
		if plan.UnlimitedExports() {
			return false, nil
		}
		if sub.FreeExportsUsed >= plan.ExportQuota {
			return false, ErrQuotaExceeded
		}
		sub.FreeExportsUsed++
		sub.UpdatedAt = nextStamp(now, sub.UpdatedAt)
		changed = true
		return true, nil
	})
	if errors.Is(err, ErrQuotaExceeded) {
		t.metrics.Export(effective.String(), false)
		return Subscription{}, err
	}
	if err != nil {
		return Subscription{}, err
	}

	if changed {
		t.writeThrough(ctx, sub)
	}
	t.metrics.Export(effective.String(), true)
	return sub, nil
}

// ApplyPlanChange switches the user to change.Plan for [Start, End] and
// resets the free export counter. A change whose EffectiveAt is not after
// the one already applied is ignored and the current state is returned.
// A lost Claim yields ErrChangeNotClaimed.
func (t *Tracker) ApplyPlanChange(ctx context.Context, change PlanChange) (Subscription, error) {
	plan, err := t.catalog.Get(change.Plan)
	if err != nil {
		return Subscription{}, errors.Join(ErrInvalidPlanChange, err)
	}
	if plan.IsPaid() && change.End.Before(change.Start) {
		return Subscription{}, fmt.Errorf("%w: end before start", ErrInvalidPlanChange)
	}
	if change.EffectiveAt.IsZero() {
		return Subscription{}, fmt.Errorf("%w: missing effective time", ErrInvalidPlanChange)
	}

	applied := false
	sub, err := t.store.UpdateSubscription(ctx, change.UserID, func(ctx context.Context, sub *Subscription) (bool, error) {
		if change.Claim != nil {
			ok, err := change.Claim(ctx)
			if err != nil {
				return false, err
			}
			if !ok {
				return false, ErrChangeNotClaimed
			}
		}
		if sub.PlanChangedAt != nil && !change.EffectiveAt.After(*sub.PlanChangedAt) {
			return false, nil
		}
		start, end, at := change.Start, change.End, change.EffectiveAt
		sub.CurrentPlan = plan.ID
		sub.FreeExportsUsed = 0
		sub.Start = &start
		sub.End = &end
		if !plan.IsPaid() {
			sub.Start, sub.End = nil, nil
		}
		sub.PlanChangedAt = &at
		sub.UpdatedAt = nextStamp(t.now(), sub.UpdatedAt)
		applied = true
		return true, nil
	})
	if err != nil {
		return Subscription{}, err
	}

	if !applied {
		t.log.LogAttrs(ctx, slog.LevelDebug, "plan change ignored, newer change already applied",
			logger.UserID(change.UserID), logger.PlanID(change.Plan))
		return sub, nil
	}

	t.writeThrough(ctx, sub)
	t.log.LogAttrs(ctx, slog.LevelInfo, "plan changed",
		logger.UserID(change.UserID),
		logger.PlanID(plan.ID),
		logger.Event("subscription.plan_changed"),
		slog.Time("end", change.End),
	)
	return sub, nil
}

// Status builds the subscription view shown to the user.
func (t *Tracker) Status(ctx context.Context, userID uuid.UUID) (Status, error) {
	sub, err := t.GetSubscription(ctx, userID)
	if err != nil {
		return Status{}, err
	}
	return t.StatusOf(sub), nil
}

// StatusOf evaluates sub at the tracker clock.
func (t *Tracker) StatusOf(sub Subscription) Status {
	now := t.now()
	plan := t.effectivePlan(sub, now)

	st := Status{
		CurrentPlan:       sub.CurrentPlan,
		EffectivePlan:     plan.ID,
		FreeExportsUsed:   sub.FreeExportsUsed,
		SubscriptionStart: sub.Start,
		SubscriptionEnd:   sub.End,
		IsActive:          sub.IsActiveAt(now),
		DaysRemaining:     sub.DaysRemainingAt(now),
		CanExport:         t.canExport(sub, now),
	}
	if !plan.UnlimitedExports() {
		remaining := max(plan.ExportQuota-sub.FreeExportsUsed, 0)
		st.FreeExportsRemaining = &remaining
	}
	return st
}

func (t *Tracker) canExport(sub Subscription, now time.Time) bool {
	plan := t.effectivePlan(sub, now)
	return plan.UnlimitedExports() || sub.FreeExportsUsed < plan.ExportQuota
}

func (t *Tracker) effectivePlan(sub Subscription, now time.Time) plans.Plan {
	plan, err := t.catalog.Get(sub.EffectivePlanAt(now))
	if err != nil {
		// plan removed from the catalog after it was sold
		return t.catalog.Demo()
	}
	return plan
}

// writeThrough replaces the cached copy with the freshly stored sub. If that
// fails the entry is dropped so the next read goes to the store.
func (t *Tracker) writeThrough(ctx context.Context, sub Subscription) {
	if t.cache == nil {
		return
	}
	err := t.cache.Set(ctx, sub)
	if err == nil {
		return
	}
	t.log.LogAttrs(ctx, slog.LevelWarn, "subscription cache write failed",
		logger.UserID(sub.UserID), logger.Error(err))
	if err := t.cache.Delete(ctx, sub.UserID); err != nil {
		t.log.LogAttrs(ctx, slog.LevelWarn, "subscription cache invalidation failed",
			logger.UserID(sub.UserID), logger.Error(err))
	}
}

// nextStamp returns the UpdatedAt of a new revision. It is strictly later
// than prev at the microsecond precision PostgreSQL keeps, so UpdatedAt
// orders the revisions of one user even when clocks disagree.
func nextStamp(now, prev time.Time) time.Time {
	now = now.Truncate(time.Microsecond)
	if !now.After(prev) {
		return prev.Truncate(time.Microsecond).Add(time.Microsecond)
	}
	return now
}
