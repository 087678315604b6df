package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dmitrymomot/fincash/pkg/pg"
	"github.com/dmitrymomot/fincash/svc/plans"
)

// PostgresStore keeps intents in the payment_intents table. Superseding
// runs under the same subscription row lock the entitlement store takes,
// and the partial unique index on initiated intents backs it up.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const intentColumns = `id, user_id, target_plan, status, checkout_url, provider, external_ref, amount, currency, created_at, updated_at, resolved_at`

func (s *PostgresStore) CreateSuperseding(ctx context.Context, in Intent) (int, error) {
	var superseded int
	err := pg.InTx(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT 1 FROM subscriptions WHERE user_id = $1 FOR UPDATE`, in.UserID); err != nil {
			return err
		}

		tag, err := tx.Exec(ctx, `
			UPDATE payment_intents
			SET status = $2, updated_at = $3, resolved_at = $3
			WHERE user_id = $1 AND status = $4`,
			in.UserID, string(StatusExpired), in.CreatedAt, string(StatusInitiated))
		if err != nil {
			return err
		}
		superseded = int(tag.RowsAffected())

		_, err = tx.Exec(ctx, `INSERT INTO payment_intents (`+intentColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), $8, $9, $10, $11, $12)`,
			in.ID, in.UserID, string(in.TargetPlan), string(in.Status), in.CheckoutURL, in.Provider,
			in.ExternalRef, in.Amount, in.Currency, in.CreatedAt, in.UpdatedAt, in.ResolvedAt)
		return err
	})
	if pg.IsDuplicateKeyError(err) {
		return 0, ErrIntentConflict
	}
	if err != nil {
		return 0, fmt.Errorf("payment: create intent: %w", err)
	}
	return superseded, nil
}

func (s *PostgresStore) Get(ctx context.Context, id uuid.UUID) (Intent, error) {
	return scanIntent(s.pool.QueryRow(ctx, `SELECT `+intentColumns+` FROM payment_intents WHERE id = $1`, id), ErrUnknownIntent)
}

func (s *PostgresStore) GetByExternalRef(ctx context.Context, provider, ref string) (Intent, error) {
	return scanIntent(s.pool.QueryRow(ctx,
		`SELECT `+intentColumns+` FROM payment_intents WHERE provider = $1 AND external_ref = $2`, provider, ref),
		ErrUnknownIntent)
}

// Transition joins the transaction bound to ctx, if any, so that a
// confirmation can be decided under the subscription row lock.
func (s *PostgresStore) Transition(ctx context.Context, id uuid.UUID, from, to Status, at time.Time) (bool, error) {
	db := pg.Conn(ctx, s.pool)
	tag, err := db.Exec(ctx, `
		UPDATE payment_intents
		SET status = $3, updated_at = $4, resolved_at = $4
		WHERE id = $1 AND status = $2`,
		id, string(from), string(to), at)
	if err != nil {
		return false, fmt.Errorf("payment: transition intent: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}

	var exists bool
	if err := db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM payment_intents WHERE id = $1)`, id).Scan(&exists); err != nil {
		return false, fmt.Errorf("payment: transition intent: %w", err)
	}
	if !exists {
		return false, ErrUnknownIntent
	}
	return false, nil
}

func (s *PostgresStore) Pending(ctx context.Context, userID uuid.UUID) (Intent, error) {
	return scanIntent(s.pool.QueryRow(ctx,
		`SELECT `+intentColumns+` FROM payment_intents WHERE user_id = $1 AND status = $2`,
		userID, string(StatusInitiated)), ErrNoPendingIntent)
}

func (s *PostgresStore) ExpireStale(ctx context.Context, cutoff, at time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE payment_intents
		SET status = $1, updated_at = $3, resolved_at = $3
		WHERE status = $2 AND created_at < $4`,
		string(StatusExpired), string(StatusInitiated), at, cutoff)
	if err != nil {
		return 0, fmt.Errorf("payment: expire stale intents: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func scanIntent(row pgx.Row, notFound error) (Intent, error) {
	var (
		in          Intent
		plan, state string
		ref         *string
	)
	err := row.Scan(&in.ID, &in.UserID, &plan, &state, &in.CheckoutURL, &in.Provider, &ref,
		&in.Amount, &in.Currency, &in.CreatedAt, &in.UpdatedAt, &in.ResolvedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Intent{}, notFound
	}
	if err != nil {
		return Intent{}, fmt.Errorf("payment: scan intent: %w", err)
	}
	in.TargetPlan = plans.ID(plan)
	in.Status = Status(state)
	if ref != nil {
		in.ExternalRef = *ref
	}
	return in, nil
}
