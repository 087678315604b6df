package payment_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/fincash/pkg/email"
	"github.com/dmitrymomot/fincash/pkg/events"
	"github.com/dmitrymomot/fincash/svc/entitlement"
	"github.com/dmitrymomot/fincash/svc/payment"
	"github.com/dmitrymomot/fincash/svc/plans"
)

type mockPublisher struct {
	mock.Mock
}

func (m *mockPublisher) Publish(ctx context.Context, e events.Event) error {
	return m.Called(ctx, e).Error(0)
}

func (m *mockPublisher) Close() error { return nil }

type mockSender struct {
	mock.Mock
}

func (m *mockSender) Send(ctx context.Context, msg email.Message) error {
	return m.Called(ctx, msg).Error(0)
}

func activation(t *testing.T) payment.Activation {
	t.Helper()

	start := time.Date(2026, 5, 10, 12, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 1, 0)
	plan, err := plans.MustNewCatalog(plans.Default()...).Get(plans.Monthly)
	require.NoError(t, err)

	userID := uuid.New()
	return payment.Activation{
		User:         entitlement.User{ID: userID, Username: "Kofi", Email: "kofi@example.com"},
		Intent:       payment.Intent{ID: uuid.New(), UserID: userID, TargetPlan: plans.Monthly, Amount: 30000, Currency: "FCFA", Provider: "link"},
		Plan:         plan,
		Subscription: entitlement.Subscription{UserID: userID, CurrentPlan: plans.Monthly, Start: &start, End: &end},
	}
}

func TestEventNotifier_Activated(t *testing.T) {
	t.Parallel()

	a := activation(t)
	pub := &mockPublisher{}
	pub.On("Publish", mock.Anything, mock.MatchedBy(func(e events.Event) bool {
		return e.Type == events.TypeSubscriptionActivated && e.Key == a.User.ID.String()
	})).Return(nil).Once()

	sender := &mockSender{}
	sender.On("Send", mock.Anything, mock.MatchedBy(func(msg email.Message) bool {
		return msg.To == "kofi@example.com" && msg.Tag == "subscription-activated"
	})).Return(nil).Once()

	payment.NewEventNotifier(pub, sender, nil).Activated(context.Background(), a)

	pub.AssertExpectations(t)
	sender.AssertExpectations(t)
}

func TestEventNotifier_FailuresAreSwallowed(t *testing.T) {
	t.Parallel()

	a := activation(t)
	pub := &mockPublisher{}
	pub.On("Publish", mock.Anything, mock.Anything).Return(errors.New("broker down"))
	sender := &mockSender{}
	sender.On("Send", mock.Anything, mock.Anything).Return(email.ErrFailedToSendEmail)

	n := payment.NewEventNotifier(pub, sender, nil)
	assert.NotPanics(t, func() {
		n.Activated(context.Background(), a)
		n.PaymentFailed(context.Background(), a.Intent)
	})

	pub.AssertNumberOfCalls(t, "Publish", 2)
	sender.AssertNumberOfCalls(t, "Send", 1)
}

func TestEventNotifier_PaymentFailed(t *testing.T) {
	t.Parallel()

	a := activation(t)
	pub := &mockPublisher{}
	pub.On("Publish", mock.Anything, mock.MatchedBy(func(e events.Event) bool {
		return e.Type == events.TypePaymentFailed
	})).Return(nil).Once()

	payment.NewEventNotifier(pub, nil, nil).PaymentFailed(context.Background(), a.Intent)
	pub.AssertExpectations(t)
}
