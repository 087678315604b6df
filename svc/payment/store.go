package payment

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Store persists payment intents.
type Store interface {
	// CreateSuperseding stores intent and moves every other initiated
	// intent of the same user to expired, atomically. It returns the
	// number of intents it expired.
	CreateSuperseding(ctx context.Context, intent Intent) (superseded int, err error)

	Get(ctx context.Context, id uuid.UUID) (Intent, error)
	GetByExternalRef(ctx context.Context, provider, ref string) (Intent, error)

	// Transition moves the intent from one status to another and reports
	// whether it did. A false result with a nil error means the intent was
	// no longer in status from.
	Transition(ctx context.Context, id uuid.UUID, from, to Status, at time.Time) (bool, error)

	// Pending returns the initiated intent of the user, if any.
	Pending(ctx context.Context, userID uuid.UUID) (Intent, error)

	// ExpireStale expires initiated intents created before cutoff and
	// returns how many it changed.
	ExpireStale(ctx context.Context, cutoff, at time.Time) (int, error)
}
