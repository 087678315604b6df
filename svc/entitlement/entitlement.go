// Package entitlement tracks which plan every user is on and how many free
// exports they have consumed.
//
// The Tracker is the single source of truth for export rights. It is written
// by two components only: the payment confirmation flow (ApplyPlanChange) and
// the export gate (RecordExport). Both mutations run inside the per-user
// exclusive scope provided by Store.UpdateSubscription, so concurrent
// requests of one user never lose an update or overrun the demo quota.
//
// A paid subscription whose end date has passed is not rewritten; it is
// simply evaluated under the demo plan until a new confirmation arrives.
package entitlement

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/fincash/svc/plans"
)

var (
	ErrUserNotFound      = errors.New("entitlement: user not found")
	ErrUserExists        = errors.New("entitlement: user already exists")
	ErrQuotaExceeded     = errors.New("entitlement: export quota exceeded")
	ErrInvalidPlanChange = errors.New("entitlement: invalid plan change")
	ErrInvalidUser       = errors.New("entitlement: invalid user")
	ErrChangeNotClaimed  = errors.New("entitlement: plan change not claimed")
)

// User is the part of an account identity the service keeps for receipts and
// admin search. Credentials live with the auth collaborator.
type User struct {
	ID        uuid.UUID `json:"id"`
	Username  string    `json:"username"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
}

// Subscription is the per-user entitlement record.
type Subscription struct {
	UserID          uuid.UUID  `json:"user_id"`
	CurrentPlan     plans.ID   `json:"current_plan"`
	FreeExportsUsed int        `json:"free_exports_used"`
	Start           *time.Time `json:"subscription_start"`
	End             *time.Time `json:"subscription_end"`
	PlanChangedAt   *time.Time `json:"plan_changed_at,omitempty"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// IsActiveAt reports whether a paid plan covers now.
// Demo subscriptions are never "active" in this sense.
func (s Subscription) IsActiveAt(now time.Time) bool {
	if s.CurrentPlan == plans.Demo || s.End == nil {
		return false
	}
	return !now.After(*s.End)
}

// EffectivePlanAt returns the plan whose rules apply at now: the current
// plan while it is active, demo otherwise.
func (s Subscription) EffectivePlanAt(now time.Time) plans.ID {
	if s.IsActiveAt(now) {
		return s.CurrentPlan
	}
	return plans.Demo
}

// DaysRemainingAt returns the whole days left on an active paid plan.
func (s Subscription) DaysRemainingAt(now time.Time) int {
	if !s.IsActiveAt(now) {
		return 0
	}
	return int(s.End.Sub(now).Hours() / 24)
}

// PlanChange describes a confirmed switch to a plan.
// EffectiveAt orders competing changes: a change is applied only when it is
// strictly later than the one that produced the stored state.
//
// Claim, when set, runs inside the exclusive scope of the user before the
// record is touched. The change goes ahead only if Claim returns true;
// otherwise ApplyPlanChange fails with ErrChangeNotClaimed and nothing is
// written.
type PlanChange struct {
	UserID      uuid.UUID
	Plan        plans.ID
	Start       time.Time
	End         time.Time
	EffectiveAt time.Time
	Claim       func(ctx context.Context) (bool, error)
}

// Status is the user-facing view of a subscription.
// FreeExportsRemaining is nil when the effective plan has no export cap.
type Status struct {
	CurrentPlan          plans.ID   `json:"current_plan"`
	EffectivePlan        plans.ID   `json:"effective_plan"`
	FreeExportsUsed      int        `json:"free_exports_used"`
	FreeExportsRemaining *int       `json:"free_exports_remaining"`
	SubscriptionStart    *time.Time `json:"subscription_start"`
	SubscriptionEnd      *time.Time `json:"subscription_end"`
	IsActive             bool       `json:"is_active"`
	DaysRemaining        int        `json:"days_remaining"`
	CanExport            bool       `json:"can_export"`
}

// Account joins a user with its subscription for admin listings.
type Account struct {
	User         User         `json:"user"`
	Subscription Subscription `json:"subscription"`
}

// AccountFilter selects accounts for ListAccounts.
// Search matches username or email ignoring case and diacritics. Plan
// matches the effective plan at At, so a lapsed paid subscription is
// listed under demo.
type AccountFilter struct {
	Plan   plans.ID
	At     time.Time
	Search string
	Offset int
	Limit  int
}
