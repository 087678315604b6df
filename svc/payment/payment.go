// Package payment runs the two phases of a plan upgrade.
//
// Initiate asks the configured provider for a checkout URL and records a
// payment intent. The user then leaves for the provider's page; nothing in
// memory waits for them. Confirmation arrives later and independently, from
// a provider webhook or an explicit call, and is applied as an idempotent
// transition of the intent: initiated -> confirmed | failed | expired.
// Terminal intents never change again, so replays are harmless.
package payment

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/fincash/svc/plans"
)

var (
	ErrInvalidPlan         = errors.New("payment: plan cannot be purchased")
	ErrAlreadyOnPlan       = errors.New("payment: user is already on this plan")
	ErrProviderUnavailable = errors.New("payment: provider unavailable")
	ErrUnknownIntent       = errors.New("payment: unknown payment intent")
	ErrInvalidWebhook      = errors.New("payment: invalid webhook")
	ErrNoPendingIntent     = errors.New("payment: no pending payment intent")
	ErrIntentConflict      = errors.New("payment: intent status changed concurrently")
)

// Status is the lifecycle state of an intent.
type Status string

const (
	StatusInitiated Status = "initiated"
	StatusConfirmed Status = "confirmed"
	StatusFailed    Status = "failed"
	StatusExpired   Status = "expired"
)

// Terminal reports whether s can no longer change.
func (s Status) Terminal() bool {
	return s != StatusInitiated
}

// Outcome is the result a provider reports for a checkout.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
)

// Intent records one attempt to buy a plan.
type Intent struct {
	ID          uuid.UUID  `json:"id"`
	UserID      uuid.UUID  `json:"user_id"`
	TargetPlan  plans.ID   `json:"target_plan"`
	Status      Status     `json:"status"`
	CheckoutURL string     `json:"payment_link"`
	Provider    string     `json:"provider"`
	ExternalRef string     `json:"external_ref,omitempty"`
	Amount      int64      `json:"amount"`
	Currency    string     `json:"currency"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	ResolvedAt  *time.Time `json:"resolved_at,omitempty"`
}

// StaleAt reports whether an initiated intent has outlived ttl at now.
func (i Intent) StaleAt(now time.Time, ttl time.Duration) bool {
	return i.Status == StatusInitiated && ttl > 0 && now.Sub(i.CreatedAt) > ttl
}
