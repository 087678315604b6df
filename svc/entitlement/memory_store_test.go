package entitlement_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/fincash/svc/entitlement"
	"github.com/dmitrymomot/fincash/svc/plans"
)

func seedAccounts(t *testing.T, store *entitlement.MemoryStore) time.Time {
	t.Helper()

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	end := base.AddDate(0, 1, 0)
	users := []struct {
		name, email string
		plan        plans.ID
	}{
		{"Émilie Koné", "emilie@fincash.app", plans.Demo},
		{"Moussa Diallo", "moussa@example.com", plans.Monthly},
		{"Aïcha Traoré", "aicha@example.com", plans.Annual},
		{"jean", "JEAN@EXAMPLE.COM", plans.Demo},
	}
	for i, u := range users {
		id := uuid.New()
		sub := entitlement.Subscription{UserID: id, CurrentPlan: u.plan}
		if u.plan != plans.Demo {
			start := base
			sub.Start, sub.End = &start, &end
		}
		require.NoError(t, store.CreateUser(context.Background(), entitlement.User{
			ID:        id,
			Username:  u.name,
			Email:     u.email,
			CreatedAt: base.Add(time.Duration(i) * time.Hour),
		}, sub))
	}
	return base
}

func TestMemoryStore_ListAccounts(t *testing.T) {
	t.Parallel()

	store := entitlement.NewMemoryStore()
	seedAccounts(t, store)
	ctx := context.Background()

	tests := []struct {
		name   string
		filter entitlement.AccountFilter
		want   []string
		total  int
	}{
		{name: "all newest first", filter: entitlement.AccountFilter{}, want: []string{"jean", "Aïcha Traoré", "Moussa Diallo", "Émilie Koné"}, total: 4},
		{name: "diacritics folded", filter: entitlement.AccountFilter{Search: "emilie"}, want: []string{"Émilie Koné"}, total: 1},
		{name: "accented query", filter: entitlement.AccountFilter{Search: "AÏCHA"}, want: []string{"Aïcha Traoré"}, total: 1},
		{name: "email case", filter: entitlement.AccountFilter{Search: "jean@example"}, want: []string{"jean"}, total: 1},
		{name: "plan filter", filter: entitlement.AccountFilter{Plan: plans.Demo}, want: []string{"jean", "Émilie Koné"}, total: 2},
		{name: "lapsed plans count as demo", filter: entitlement.AccountFilter{Plan: plans.Demo, At: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)}, want: []string{"jean", "Aïcha Traoré", "Moussa Diallo", "Émilie Koné"}, total: 4},
		{name: "lapsed plan not listed as paid", filter: entitlement.AccountFilter{Plan: plans.Monthly, At: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)}, want: []string{}, total: 0},
		{name: "page", filter: entitlement.AccountFilter{Offset: 1, Limit: 2}, want: []string{"Aïcha Traoré", "Moussa Diallo"}, total: 4},
		{name: "offset past end", filter: entitlement.AccountFilter{Offset: 10, Limit: 2}, want: []string{}, total: 4},
		{name: "no match", filter: entitlement.AccountFilter{Search: "zz"}, want: []string{}, total: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, total, err := store.ListAccounts(ctx, tt.filter)
			require.NoError(t, err)
			assert.Equal(t, tt.total, total)

			names := make([]string, 0, len(got))
			for _, a := range got {
				names = append(names, a.User.Username)
			}
			assert.Equal(t, tt.want, names)
		})
	}
}

func TestMemoryStore_PlanCounts(t *testing.T) {
	t.Parallel()

	store := entitlement.NewMemoryStore()
	base := seedAccounts(t, store)
	ctx := context.Background()

	counts, err := store.PlanCounts(ctx, base.AddDate(0, 0, 10))
	require.NoError(t, err)
	assert.Equal(t, map[plans.ID]int{plans.Demo: 2, plans.Monthly: 1, plans.Annual: 1}, counts)

	counts, err = store.PlanCounts(ctx, base.AddDate(0, 2, 0))
	require.NoError(t, err)
	assert.Equal(t, map[plans.ID]int{plans.Demo: 4}, counts)
}

func TestMemoryStore_UpdateSubscription(t *testing.T) {
	t.Parallel()

	store := entitlement.NewMemoryStore()
	ctx := context.Background()
	id := uuid.New()
	require.NoError(t, store.CreateUser(ctx, entitlement.User{ID: id}, entitlement.Subscription{UserID: id, CurrentPlan: plans.Demo}))

	boom := errors.New("boom")
	_, err := store.UpdateSubscription(ctx, id, func(_ context.Context, sub *entitlement.Subscription) (bool, error) {
		sub.FreeExportsUsed = 99
		return true, boom
	})
	assert.ErrorIs(t, err, boom)

	sub, err := store.GetSubscription(ctx, id)
	require.NoError(t, err)
	assert.Zero(t, sub.FreeExportsUsed)

	_, err = store.UpdateSubscription(ctx, uuid.New(), func(context.Context, *entitlement.Subscription) (bool, error) { return true, nil })
	assert.ErrorIs(t, err, entitlement.ErrUserNotFound)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = store.UpdateSubscription(cancelled, id, func(context.Context, *entitlement.Subscription) (bool, error) { return true, nil })
	assert.ErrorIs(t, err, context.Canceled)
}
