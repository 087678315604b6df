package entitlement_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/fincash/svc/entitlement"
	"github.com/dmitrymomot/fincash/svc/plans"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *clock {
	return &clock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Add(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func setupTracker(t *testing.T, opts ...entitlement.Option) (*entitlement.Tracker, *clock, uuid.UUID) {
	t.Helper()

	clk := newClock()
	tracker := entitlement.NewTracker(
		plans.MustNewCatalog(plans.Default()...),
		entitlement.NewMemoryStore(),
		append([]entitlement.Option{entitlement.WithClock(clk.Now)}, opts...)...,
	)

	userID := uuid.New()
	_, err := tracker.Register(context.Background(), entitlement.User{ID: userID, Username: "awa", Email: "awa@example.com"})
	require.NoError(t, err)
	return tracker, clk, userID
}

func upgrade(t *testing.T, tracker *entitlement.Tracker, clk *clock, userID uuid.UUID, plan plans.ID) entitlement.Subscription {
	t.Helper()
	now := clk.Now()
	sub, err := tracker.ApplyPlanChange(context.Background(), entitlement.PlanChange{
		UserID:      userID,
		Plan:        plan,
		Start:       now,
		End:         plans.PeriodMonth.Advance(now),
		EffectiveAt: now,
	})
	require.NoError(t, err)
	return sub
}

func TestTracker_Register(t *testing.T) {
	t.Parallel()

	tracker, _, userID := setupTracker(t)
	ctx := context.Background()

	sub, err := tracker.GetSubscription(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, plans.Demo, sub.CurrentPlan)
	assert.Zero(t, sub.FreeExportsUsed)
	assert.Nil(t, sub.End)

	_, err = tracker.Register(ctx, entitlement.User{ID: userID})
	assert.ErrorIs(t, err, entitlement.ErrUserExists)

	_, err = tracker.Register(ctx, entitlement.User{})
	assert.ErrorIs(t, err, entitlement.ErrInvalidUser)

	_, err = tracker.GetSubscription(ctx, uuid.New())
	assert.ErrorIs(t, err, entitlement.ErrUserNotFound)

	u, err := tracker.GetUser(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, "awa@example.com", u.Email)
}

func TestTracker_RecordExport_DemoQuota(t *testing.T) {
	t.Parallel()

	tracker, _, userID := setupTracker(t)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		sub, err := tracker.RecordExport(ctx, userID)
		require.NoError(t, err)
		assert.Equal(t, i, sub.FreeExportsUsed)
	}

	_, err := tracker.RecordExport(ctx, userID)
	assert.ErrorIs(t, err, entitlement.ErrQuotaExceeded)

	sub, err := tracker.GetSubscription(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, 3, sub.FreeExportsUsed)

	ok, err := tracker.CanExport(ctx, userID)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestTracker_RecordExport_ConcurrentLastExport(t *testing.T) {
	t.Parallel()

	tracker, _, userID := setupTracker(t)
	ctx := context.Background()

	for range 2 {
		_, err := tracker.RecordExport(ctx, userID)
		require.NoError(t, err)
	}

	var granted, denied atomic.Int32
	var wg sync.WaitGroup
	for range 2 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := tracker.RecordExport(ctx, userID)
			switch {
			case err == nil:
				granted.Add(1)
			case assert.ErrorIs(t, err, entitlement.ErrQuotaExceeded):
				denied.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), granted.Load())
	assert.Equal(t, int32(1), denied.Load())

	sub, err := tracker.GetSubscription(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, 3, sub.FreeExportsUsed)
}

func TestTracker_RecordExport_NeverExceedsQuota(t *testing.T) {
	t.Parallel()

	tracker, _, userID := setupTracker(t)
	ctx := context.Background()

	const workers = 50
	var granted atomic.Int32
	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := tracker.RecordExport(ctx, userID); err == nil {
				granted.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(3), granted.Load())
	sub, err := tracker.GetSubscription(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, 3, sub.FreeExportsUsed)
}

func TestTracker_PaidPlan(t *testing.T) {
	t.Parallel()

	tracker, clk, userID := setupTracker(t)
	ctx := context.Background()

	for range 3 {
		_, err := tracker.RecordExport(ctx, userID)
		require.NoError(t, err)
	}

	sub := upgrade(t, tracker, clk, userID, plans.Monthly)
	assert.Equal(t, plans.Monthly, sub.CurrentPlan)
	assert.Zero(t, sub.FreeExportsUsed)
	require.NotNil(t, sub.End)

	for range 10 {
		got, err := tracker.RecordExport(ctx, userID)
		require.NoError(t, err)
		assert.Zero(t, got.FreeExportsUsed)
	}

	st, err := tracker.Status(ctx, userID)
	require.NoError(t, err)
	assert.True(t, st.IsActive)
	assert.True(t, st.CanExport)
	assert.Nil(t, st.FreeExportsRemaining)
	assert.Equal(t, plans.Monthly, st.EffectivePlan)
	assert.Equal(t, 31, st.DaysRemaining)
}

func TestTracker_ExpiredPaidPlanFallsBackToDemo(t *testing.T) {
	t.Parallel()

	tracker, clk, userID := setupTracker(t)
	ctx := context.Background()

	upgrade(t, tracker, clk, userID, plans.Monthly)
	clk.Add(40 * 24 * time.Hour)

	st, err := tracker.Status(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, plans.Monthly, st.CurrentPlan)
	assert.Equal(t, plans.Demo, st.EffectivePlan)
	assert.False(t, st.IsActive)
	assert.Zero(t, st.DaysRemaining)
	require.NotNil(t, st.FreeExportsRemaining)
	assert.Equal(t, 3, *st.FreeExportsRemaining)

	for range 3 {
		_, err := tracker.RecordExport(ctx, userID)
		require.NoError(t, err)
	}
	_, err = tracker.RecordExport(ctx, userID)
	assert.ErrorIs(t, err, entitlement.ErrQuotaExceeded)
}

func TestTracker_ApplyPlanChange_Idempotent(t *testing.T) {
	t.Parallel()

	tracker, clk, userID := setupTracker(t)
	ctx := context.Background()

	effectiveAt := clk.Now()
	first := entitlement.PlanChange{
		UserID:      userID,
		Plan:        plans.Monthly,
		Start:       clk.Now(),
		End:         plans.PeriodMonth.Advance(clk.Now()),
		EffectiveAt: effectiveAt,
	}
	applied, err := tracker.ApplyPlanChange(ctx, first)
	require.NoError(t, err)

	clk.Add(time.Hour)
	replay := first
	replay.Start = clk.Now()
	replay.End = plans.PeriodMonth.Advance(clk.Now())

	again, err := tracker.ApplyPlanChange(ctx, replay)
	require.NoError(t, err)
	assert.Equal(t, *applied.End, *again.End)

	older := first
	older.Plan = plans.Annual
	older.EffectiveAt = effectiveAt.Add(-time.Minute)
	got, err := tracker.ApplyPlanChange(ctx, older)
	require.NoError(t, err)
	assert.Equal(t, plans.Monthly, got.CurrentPlan)

	newer := first
	newer.Plan = plans.Annual
	newer.End = plans.PeriodYear.Advance(first.Start)
	newer.EffectiveAt = effectiveAt.Add(time.Minute)
	got, err = tracker.ApplyPlanChange(ctx, newer)
	require.NoError(t, err)
	assert.Equal(t, plans.Annual, got.CurrentPlan)
}

func TestTracker_ApplyPlanChange_Invalid(t *testing.T) {
	t.Parallel()

	tracker, clk, userID := setupTracker(t)
	ctx := context.Background()
	now := clk.Now()

	tests := []struct {
		name   string
		change entitlement.PlanChange
		err    error
	}{
		{
			name:   "unknown plan",
			change: entitlement.PlanChange{UserID: userID, Plan: "gold", Start: now, End: now, EffectiveAt: now},
			err:    entitlement.ErrInvalidPlanChange,
		},
		{
			name:   "end before start",
			change: entitlement.PlanChange{UserID: userID, Plan: plans.Monthly, Start: now, End: now.Add(-time.Hour), EffectiveAt: now},
			err:    entitlement.ErrInvalidPlanChange,
		},
		{
			name:   "missing effective time",
			change: entitlement.PlanChange{UserID: userID, Plan: plans.Monthly, Start: now, End: now.Add(time.Hour)},
			err:    entitlement.ErrInvalidPlanChange,
		},
		{
			name:   "unknown user",
			change: entitlement.PlanChange{UserID: uuid.New(), Plan: plans.Monthly, Start: now, End: now.Add(time.Hour), EffectiveAt: now},
			err:    entitlement.ErrUserNotFound,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tracker.ApplyPlanChange(ctx, tt.change)
			assert.ErrorIs(t, err, tt.err)
		})
	}
}

func TestTracker_ApplyPlanChange_Claim(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	tests := []struct {
		name  string
		claim func(context.Context) (bool, error)
		plan  plans.ID
		err   error
	}{
		{"won", func(context.Context) (bool, error) { return true, nil }, plans.Monthly, nil},
		{"lost", func(context.Context) (bool, error) { return false, nil }, plans.Demo, entitlement.ErrChangeNotClaimed},
		{"failed", func(context.Context) (bool, error) { return false, boom }, plans.Demo, boom},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			tracker, clk, userID := setupTracker(t)
			ctx := context.Background()
			now := clk.Now()

			_, err := tracker.ApplyPlanChange(ctx, entitlement.PlanChange{
				UserID:      userID,
				Plan:        plans.Monthly,
				Start:       now,
				End:         plans.PeriodMonth.Advance(now),
				EffectiveAt: now,
				Claim:       tt.claim,
			})
			if tt.err != nil {
				assert.ErrorIs(t, err, tt.err)
			} else {
				assert.NoError(t, err)
			}

			sub, err := tracker.LoadSubscription(ctx, userID)
			require.NoError(t, err)
			assert.Equal(t, tt.plan, sub.CurrentPlan)
		})
	}
}

func TestTracker_Status_Demo(t *testing.T) {
	t.Parallel()

	tracker, _, userID := setupTracker(t)
	ctx := context.Background()

	_, err := tracker.RecordExport(ctx, userID)
	require.NoError(t, err)

	st, err := tracker.Status(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, plans.Demo, st.CurrentPlan)
	assert.Equal(t, 1, st.FreeExportsUsed)
	require.NotNil(t, st.FreeExportsRemaining)
	assert.Equal(t, 2, *st.FreeExportsRemaining)
	assert.False(t, st.IsActive)
	assert.True(t, st.CanExport)
	assert.Nil(t, st.SubscriptionEnd)
}
