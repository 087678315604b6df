package payment_test

import (
	"context"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/fincash/pkg/webhook"
	"github.com/dmitrymomot/fincash/svc/entitlement"
	"github.com/dmitrymomot/fincash/svc/payment"
	"github.com/dmitrymomot/fincash/svc/plans"
)

const linkSecret = "whsec_test"

func newLinkProvider(t *testing.T) *payment.LinkProvider {
	t.Helper()
	p, err := payment.NewLinkProvider(payment.LinkConfig{
		Links: map[string]string{
			"monthly": "https://me.fedapay.com/fincashmonthly",
			"annual":  "https://me.fedapay.com/fincashannually?lang=fr",
		},
		WebhookSecret: linkSecret,
		MaxAge:        5 * time.Minute,
	})
	require.NoError(t, err)
	return p
}

func TestNewLinkProvider_Validation(t *testing.T) {
	t.Parallel()

	_, err := payment.NewLinkProvider(payment.LinkConfig{Links: map[string]string{"monthly": "https://x.test"}})
	assert.Error(t, err)

	_, err = payment.NewLinkProvider(payment.LinkConfig{WebhookSecret: "s", Links: map[string]string{"monthly": "not a url"}})
	assert.Error(t, err)
}

func TestLinkProvider_CreateCheckout(t *testing.T) {
	t.Parallel()

	p := newLinkProvider(t)
	catalog := plans.MustNewCatalog(plans.Default()...)
	annual, err := catalog.Get(plans.Annual)
	require.NoError(t, err)

	id := uuid.New()
	checkout, err := p.CreateCheckout(context.Background(), payment.CheckoutRequest{IntentID: id, Plan: annual, Email: "a@b.co"})
	require.NoError(t, err)

	u, err := url.Parse(checkout.URL)
	require.NoError(t, err)
	assert.Equal(t, "me.fedapay.com", u.Host)
	assert.Equal(t, "/fincashannually", u.Path)
	assert.Equal(t, id.String(), u.Query().Get("reference"))
	assert.Equal(t, "fr", u.Query().Get("lang"))
	assert.Equal(t, "a@b.co", u.Query().Get("email"))

	_, err = p.CreateCheckout(context.Background(), payment.CheckoutRequest{IntentID: id, Plan: catalog.Demo()})
	assert.Error(t, err)
}

func TestLinkProvider_ParseWebhook(t *testing.T) {
	t.Parallel()

	p := newLinkProvider(t)
	ctx := context.Background()
	id := uuid.New()

	tests := []struct {
		name    string
		event   string
		outcome payment.Outcome
		ignore  bool
	}{
		{name: "approved", event: "transaction.approved", outcome: payment.OutcomeSuccess},
		{name: "declined", event: "transaction.declined", outcome: payment.OutcomeFailure},
		{name: "canceled", event: "transaction.canceled", outcome: payment.OutcomeFailure},
		{name: "other", event: "transaction.created", ignore: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			payload, header, err := payment.SignLinkEvent(linkSecret, payment.LinkEvent{
				ID:    "evt_" + tt.name,
				Event: tt.event,
				Data:  payment.LinkEventData{Reference: id.String(), Amount: 30000, Currency: "XOF"},
			}, time.Now())
			require.NoError(t, err)

			n, err := p.ParseWebhook(ctx, payload, header)
			require.NoError(t, err)
			assert.Equal(t, tt.ignore, n.Ignore)
			assert.Equal(t, "evt_"+tt.name, n.EventID)
			if !tt.ignore {
				assert.Equal(t, tt.outcome, n.Outcome)
				assert.Equal(t, id, n.IntentID)
			}
		})
	}
}

func TestLinkProvider_ParseWebhook_Rejects(t *testing.T) {
	t.Parallel()

	p := newLinkProvider(t)
	ctx := context.Background()
	ev := payment.LinkEvent{ID: "evt", Event: "transaction.approved", Data: payment.LinkEventData{Reference: uuid.NewString()}}

	t.Run("wrong secret", func(t *testing.T) {
		t.Parallel()
		payload, header, err := payment.SignLinkEvent("other", ev, time.Now())
		require.NoError(t, err)
		_, err = p.ParseWebhook(ctx, payload, header)
		assert.ErrorIs(t, err, payment.ErrInvalidWebhook)
		assert.ErrorIs(t, err, webhook.ErrInvalidSignature)
	})

	t.Run("too old", func(t *testing.T) {
		t.Parallel()
		payload, header, err := payment.SignLinkEvent(linkSecret, ev, time.Now().Add(-time.Hour))
		require.NoError(t, err)
		_, err = p.ParseWebhook(ctx, payload, header)
		assert.ErrorIs(t, err, webhook.ErrExpiredSignature)
	})

	t.Run("unsigned", func(t *testing.T) {
		t.Parallel()
		_, err := p.ParseWebhook(ctx, []byte(`{"event":"transaction.approved"}`), http.Header{})
		assert.ErrorIs(t, err, webhook.ErrMissingSignature)
	})

	t.Run("tampered", func(t *testing.T) {
		t.Parallel()
		payload, header, err := payment.SignLinkEvent(linkSecret, ev, time.Now())
		require.NoError(t, err)
		payload[len(payload)-2] = ' '
		_, err = p.ParseWebhook(ctx, payload, header)
		assert.ErrorIs(t, err, payment.ErrInvalidWebhook)
	})

	t.Run("bad reference", func(t *testing.T) {
		t.Parallel()
		bad := ev
		bad.Data.Reference = "42"
		payload, header, err := payment.SignLinkEvent(linkSecret, bad, time.Now())
		require.NoError(t, err)
		_, err = p.ParseWebhook(ctx, payload, header)
		assert.ErrorIs(t, err, payment.ErrInvalidWebhook)
	})
}

func TestLinkProvider_EndToEnd(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	tracker := entitlement.NewTracker(plans.MustNewCatalog(plans.Default()...), entitlement.NewMemoryStore())
	userID := uuid.New()
	_, err := tracker.Register(ctx, entitlement.User{ID: userID, Email: "fatou@example.com"})
	require.NoError(t, err)

	svc := payment.NewService(tracker, payment.NewMemoryStore(), newLinkProvider(t))
	in, err := svc.Initiate(ctx, userID, plans.Monthly)
	require.NoError(t, err)
	assert.Contains(t, in.CheckoutURL, "reference="+in.ID.String())

	payload, header, err := payment.SignLinkEvent(linkSecret, payment.LinkEvent{
		ID:    "evt_1",
		Event: "transaction.approved",
		Data:  payment.LinkEventData{Reference: in.ID.String(), Amount: in.Amount, Currency: in.Currency},
	}, time.Now())
	require.NoError(t, err)

	require.NoError(t, svc.HandleWebhook(ctx, payload, header))
	require.NoError(t, svc.HandleWebhook(ctx, payload, header))

	ok, err := tracker.CanExport(ctx, userID)
	require.NoError(t, err)
	assert.True(t, ok)

	sub, err := tracker.GetSubscription(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, plans.Monthly, sub.CurrentPlan)
}
