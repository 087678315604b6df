package payment_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/fincash/svc/payment"
)

func TestSweeper_Sweep(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := payment.NewMemoryStore()
	now := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)

	stale := payment.Intent{ID: uuid.New(), UserID: uuid.New(), Status: payment.StatusInitiated, CreatedAt: now.Add(-30 * time.Hour)}
	fresh := payment.Intent{ID: uuid.New(), UserID: uuid.New(), Status: payment.StatusInitiated, CreatedAt: now.Add(-time.Hour)}
	done := payment.Intent{ID: uuid.New(), UserID: uuid.New(), Status: payment.StatusConfirmed, CreatedAt: now.Add(-72 * time.Hour)}
	for _, in := range []payment.Intent{stale, fresh, done} {
		_, err := store.CreateSuperseding(ctx, in)
		require.NoError(t, err)
	}

	sweeper := payment.NewSweeper(store, 24*time.Hour, payment.WithSweeperClock(func() time.Time { return now }))
	n, err := sweeper.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := store.Get(ctx, stale.ID)
	require.NoError(t, err)
	assert.Equal(t, payment.StatusExpired, got.Status)

	got, err = store.Get(ctx, fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, payment.StatusInitiated, got.Status)

	got, err = store.Get(ctx, done.ID)
	require.NoError(t, err)
	assert.Equal(t, payment.StatusConfirmed, got.Status)

	n, err = sweeper.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSweeper_Run(t *testing.T) {
	t.Parallel()

	sweeper := payment.NewSweeper(payment.NewMemoryStore(), time.Hour)

	err := sweeper.Run(context.Background(), "every now and then")
	assert.Error(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sweeper.Run(ctx, "@every 1s") }()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("sweeper did not stop")
	}
}
