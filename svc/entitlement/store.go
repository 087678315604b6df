package entitlement

import (
	"context"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/dmitrymomot/fincash/svc/plans"
)

// MutateFunc edits a subscription in place. Returning false leaves the
// stored record untouched. ctx carries the exclusive scope of the user;
// work done through it commits or rolls back together with the record.
type MutateFunc func(ctx context.Context, sub *Subscription) (changed bool, err error)

// Store persists users and subscriptions.
type Store interface {
	// CreateUser stores the user together with its initial subscription.
	// Returns ErrUserExists when the id is taken.
	CreateUser(ctx context.Context, user User, sub Subscription) error
	GetUser(ctx context.Context, userID uuid.UUID) (User, error)
	GetSubscription(ctx context.Context, userID uuid.UUID) (Subscription, error)

	// UpdateSubscription runs fn while holding the exclusive scope of the
	// user and persists the result when fn reports a change. No other
	// UpdateSubscription of the same user runs concurrently with fn.
	UpdateSubscription(ctx context.Context, userID uuid.UUID, fn MutateFunc) (Subscription, error)

	// ListAccounts returns a page of accounts, newest users first, and the
	// total number of matches.
	ListAccounts(ctx context.Context, filter AccountFilter) ([]Account, int, error)

	// PlanCounts returns the number of users per effective plan at now.
	PlanCounts(ctx context.Context, now time.Time) (map[plans.ID]int, error)
}

// fold lowercases s and strips combining marks so "Émilie" matches "emilie".
func fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	return cases.Fold().String(strings.TrimSpace(out))
}
