package payment

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/dmitrymomot/fincash/svc/plans"
)

// Provider is an external checkout system.
type Provider interface {
	// Name identifies the provider in stored intents and logs.
	Name() string

	// CreateCheckout returns the URL the user is redirected to.
	CreateCheckout(ctx context.Context, req CheckoutRequest) (Checkout, error)

	// ParseWebhook authenticates and decodes a provider notification.
	// Events the service does not act on come back with Ignore set.
	ParseWebhook(ctx context.Context, payload []byte, header http.Header) (Notification, error)
}

type CheckoutRequest struct {
	IntentID   uuid.UUID
	UserID     uuid.UUID
	Email      string
	Plan       plans.Plan
	SuccessURL string
	CancelURL  string
}

type Checkout struct {
	URL string
	// ExternalRef is the provider-side id of the checkout, when the
	// provider assigns one.
	ExternalRef string
}

// Notification is a decoded provider event. Either IntentID or ExternalRef
// identifies the intent.
type Notification struct {
	EventID     string
	EventType   string
	IntentID    uuid.UUID
	ExternalRef string
	Outcome     Outcome
	Ignore      bool
}
