package entitlement_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/fincash/svc/entitlement"
	"github.com/dmitrymomot/fincash/svc/plans"
)

func newRedisCache(t *testing.T) (*entitlement.RedisCache, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return entitlement.NewRedisCache(client, time.Minute), mr
}

func TestRedisCache(t *testing.T) {
	t.Parallel()

	cache, mr := newRedisCache(t)
	ctx := context.Background()
	id := uuid.New()

	_, ok, err := cache.Get(ctx, id)
	require.NoError(t, err)
	assert.False(t, ok)

	end := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, cache.Set(ctx, entitlement.Subscription{UserID: id, CurrentPlan: plans.Monthly, End: &end}))
	assert.True(t, mr.Exists("fincash:subscription:"+id.String()))

	got, ok, err := cache.Get(ctx, id)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, plans.Monthly, got.CurrentPlan)
	assert.True(t, end.Equal(*got.End))

	mr.FastForward(2 * time.Minute)
	_, ok, err = cache.Get(ctx, id)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, cache.Set(ctx, got))
	require.NoError(t, cache.Delete(ctx, id))
	_, ok, err = cache.Get(ctx, id)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisCache_KeepsNewerCopy(t *testing.T) {
	t.Parallel()

	cache, _ := newRedisCache(t)
	ctx := context.Background()
	id := uuid.New()
	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	require.NoError(t, cache.Set(ctx, entitlement.Subscription{UserID: id, CurrentPlan: plans.Monthly, UpdatedAt: at}))
	require.NoError(t, cache.Set(ctx, entitlement.Subscription{UserID: id, CurrentPlan: plans.Demo, UpdatedAt: at.Add(-time.Second)}))

	got, ok, err := cache.Get(ctx, id)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, plans.Monthly, got.CurrentPlan, "an older copy never replaces a newer one")

	require.NoError(t, cache.Set(ctx, entitlement.Subscription{UserID: id, CurrentPlan: plans.Annual, UpdatedAt: at.Add(time.Second)}))
	got, _, err = cache.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, plans.Annual, got.CurrentPlan)
}

func TestTracker_CacheWrittenThroughOnMutation(t *testing.T) {
	t.Parallel()

	cache, mr := newRedisCache(t)
	tracker, clk, userID := setupTracker(t, entitlement.WithCache(cache))
	ctx := context.Background()
	key := "fincash:subscription:" + userID.String()

	_, err := tracker.GetSubscription(ctx, userID)
	require.NoError(t, err)
	assert.True(t, mr.Exists(key))

	_, err = tracker.RecordExport(ctx, userID)
	require.NoError(t, err)
	cached, ok, err := cache.Get(ctx, userID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 1, cached.FreeExportsUsed)

	sub, err := tracker.GetSubscription(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, 1, sub.FreeExportsUsed)

	upgrade(t, tracker, clk, userID, plans.Annual)
	cached, _, err = cache.Get(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, plans.Annual, cached.CurrentPlan)

	st, err := tracker.Status(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, plans.Annual, st.CurrentPlan)
}

// racingStore runs afterRead once, between the store read of
// GetSubscription and the moment the caller gets the result back.
type racingStore struct {
	*entitlement.MemoryStore
	once      sync.Once
	afterRead func()
}

func (s *racingStore) GetSubscription(ctx context.Context, userID uuid.UUID) (entitlement.Subscription, error) {
	sub, err := s.MemoryStore.GetSubscription(ctx, userID)
	if s.afterRead != nil {
		s.once.Do(s.afterRead)
	}
	return sub, err
}

func TestTracker_CacheFillDoesNotOverwriteNewerWrite(t *testing.T) {
	t.Parallel()

	cache, _ := newRedisCache(t)
	clk := newClock()
	store := &racingStore{MemoryStore: entitlement.NewMemoryStore()}
	tracker := entitlement.NewTracker(plans.MustNewCatalog(plans.Default()...), store,
		entitlement.WithClock(clk.Now),
		entitlement.WithCache(cache),
	)
	ctx := context.Background()
	userID := uuid.New()
	_, err := tracker.Register(ctx, entitlement.User{ID: userID, Username: "awa", Email: "awa@example.com"})
	require.NoError(t, err)

	store.afterRead = func() { upgrade(t, tracker, clk, userID, plans.Monthly) }

	stale, err := tracker.GetSubscription(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, plans.Demo, stale.CurrentPlan, "the read started before the upgrade")

	cached, ok, err := cache.Get(ctx, userID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, plans.Monthly, cached.CurrentPlan)

	sub, err := tracker.GetSubscription(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, plans.Monthly, sub.CurrentPlan)

	fresh, err := tracker.LoadSubscription(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, plans.Monthly, fresh.CurrentPlan)
}

func TestTracker_CacheFailureFallsBackToStore(t *testing.T) {
	t.Parallel()

	cache, mr := newRedisCache(t)
	tracker, _, userID := setupTracker(t, entitlement.WithCache(cache))
	mr.Close()

	sub, err := tracker.GetSubscription(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, plans.Demo, sub.CurrentPlan)

	_, err = tracker.RecordExport(context.Background(), userID)
	assert.NoError(t, err)
}
