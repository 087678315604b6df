package payment

import (
	"context"
	"log/slog"
	"time"

	"github.com/dmitrymomot/fincash/pkg/email"
	"github.com/dmitrymomot/fincash/pkg/events"
	"github.com/dmitrymomot/fincash/pkg/logger"
	"github.com/dmitrymomot/fincash/svc/entitlement"
	"github.com/dmitrymomot/fincash/svc/plans"
)

// Activation describes a confirmed upgrade.
type Activation struct {
	User         entitlement.User
	Intent       Intent
	Plan         plans.Plan
	Subscription entitlement.Subscription
}

// Notifier reacts to resolved intents. Implementations must not fail the
// confirmation: errors are theirs to log.
type Notifier interface {
	Activated(ctx context.Context, a Activation)
	PaymentFailed(ctx context.Context, in Intent)
}

type nopNotifier struct{}

func (nopNotifier) Activated(context.Context, Activation) {}
func (nopNotifier) PaymentFailed(context.Context, Intent) {}

// EventNotifier publishes lifecycle events and mails activation receipts.
type EventNotifier struct {
	publisher events.Publisher
	sender    email.Sender
	log       *slog.Logger
}

func NewEventNotifier(publisher events.Publisher, sender email.Sender, log *slog.Logger) *EventNotifier {
	if log == nil {
		log = logger.Nop()
	}
	return &EventNotifier{publisher: publisher, sender: sender, log: log.With(logger.Component("payment.notifier"))}
}

type activatedPayload struct {
	UserID   string `json:"user_id"`
	IntentID string `json:"intent_id"`
	Plan     string `json:"plan"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Provider string `json:"provider"`
	StartsAt string `json:"starts_at"`
	EndsAt   string `json:"ends_at,omitempty"`
}

type failedPayload struct {
	UserID   string `json:"user_id"`
	IntentID string `json:"intent_id"`
	Plan     string `json:"plan"`
	Provider string `json:"provider"`
}

func (n *EventNotifier) Activated(ctx context.Context, a Activation) {
	ctx = context.WithoutCancel(ctx)
	now := a.Intent.UpdatedAt
	if a.Subscription.Start != nil {
		now = *a.Subscription.Start
	}

	payload := activatedPayload{
		UserID:   a.User.ID.String(),
		IntentID: a.Intent.ID.String(),
		Plan:     a.Plan.ID.String(),
		Amount:   a.Intent.Amount,
		Currency: a.Intent.Currency,
		Provider: a.Intent.Provider,
		StartsAt: now.Format(time.RFC3339),
	}
	if a.Subscription.End != nil {
		payload.EndsAt = a.Subscription.End.Format(time.RFC3339)
	}
	n.publish(ctx, events.Event{
		Type:       events.TypeSubscriptionActivated,
		Key:        a.User.ID.String(),
		OccurredAt: now,
		Payload:    payload,
	})

	if n.sender == nil || a.User.Email == "" {
		return
	}
	end := now
	if a.Subscription.End != nil {
		end = *a.Subscription.End
	}
	msg, err := email.ActivationMessage(email.Activation{
		To:       a.User.Email,
		Name:     a.User.Username,
		PlanName: a.Plan.Name,
		Amount:   a.Intent.Amount,
		Currency: a.Intent.Currency,
		End:      end,
	})
	if err == nil {
		err = n.sender.Send(ctx, msg)
	}
	if err != nil {
		n.log.LogAttrs(ctx, slog.LevelWarn, "activation receipt not sent",
			logger.UserID(a.User.ID), logger.IntentID(a.Intent.ID), logger.Error(err))
	}
}

func (n *EventNotifier) PaymentFailed(ctx context.Context, in Intent) {
	n.publish(context.WithoutCancel(ctx), events.Event{
		Type:       events.TypePaymentFailed,
		Key:        in.UserID.String(),
		OccurredAt: in.UpdatedAt,
		Payload: failedPayload{
			UserID:   in.UserID.String(),
			IntentID: in.ID.String(),
			Plan:     in.TargetPlan.String(),
			Provider: in.Provider,
		},
	})
}

func (n *EventNotifier) publish(ctx context.Context, e events.Event) {
	if n.publisher == nil {
		return
	}
	if err := n.publisher.Publish(ctx, e); err != nil {
		n.log.LogAttrs(ctx, slog.LevelWarn, "event not published",
			logger.EventType(e.Type), logger.Error(err))
	}
}
