package entitlement

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dmitrymomot/fincash/pkg/pg"
	"github.com/dmitrymomot/fincash/svc/plans"
)

// PostgresStore keeps users and subscriptions in PostgreSQL.
// UpdateSubscription locks the subscription row with SELECT ... FOR UPDATE,
// which is also the per-user scope the payment intent store joins.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const subscriptionColumns = `user_id, current_plan, free_exports_used, subscription_start, subscription_end, plan_changed_at, updated_at`

func (s *PostgresStore) CreateUser(ctx context.Context, user User, sub Subscription) error {
	err := pg.InTx(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`INSERT INTO users (id, username, email, created_at) VALUES ($1, $2, $3, $4)`,
			user.ID, user.Username, user.Email, user.CreatedAt,
		); err != nil {
			return err
		}
		_, err := tx.Exec(ctx,
			`INSERT INTO subscriptions (`+subscriptionColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			sub.UserID, string(sub.CurrentPlan), sub.FreeExportsUsed, sub.Start, sub.End, sub.PlanChangedAt, sub.UpdatedAt,
		)
		return err
	})
	if pg.IsDuplicateKeyError(err) {
		return ErrUserExists
	}
	if err != nil {
		return fmt.Errorf("entitlement: create user: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetUser(ctx context.Context, userID uuid.UUID) (User, error) {
	var u User
	err := s.pool.QueryRow(ctx,
		`SELECT id, username, email, created_at FROM users WHERE id = $1`, userID,
	).Scan(&u.ID, &u.Username, &u.Email, &u.CreatedAt)
	if pg.IsNotFoundError(err) {
		return User{}, ErrUserNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("entitlement: get user: %w", err)
	}
	return u, nil
}

func (s *PostgresStore) GetSubscription(ctx context.Context, userID uuid.UUID) (Subscription, error) {
	sub, err := scanSubscription(s.pool.QueryRow(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE user_id = $1`, userID))
	if err != nil {
		return Subscription{}, err
	}
	return sub, nil
}

func (s *PostgresStore) UpdateSubscription(ctx context.Context, userID uuid.UUID, fn MutateFunc) (Subscription, error) {
	var out Subscription
	err := pg.InTx(ctx, s.pool, func(tx pgx.Tx) error {
		sub, err := scanSubscription(tx.QueryRow(ctx,
			`SELECT `+subscriptionColumns+` FROM subscriptions WHERE user_id = $1 FOR UPDATE`, userID))
		if err != nil {
			return err
		}

		changed, err := fn(pg.WithTx(ctx, tx), &sub)
		if err != nil {
			return err
		}
		out = sub
		if !changed {
			return nil
		}

		_, err = tx.Exec(ctx, `
			UPDATE subscriptions
			SET current_plan = $2, free_exports_used = $3, subscription_start = $4,
			    subscription_end = $5, plan_changed_at = $6, updated_at = $7
			WHERE user_id = $1`,
			userID, string(sub.CurrentPlan), sub.FreeExportsUsed, sub.Start, sub.End, sub.PlanChangedAt, sub.UpdatedAt,
		)
		return err
	})
	if err != nil {
		return Subscription{}, err
	}
	return out, nil
}

func (s *PostgresStore) ListAccounts(ctx context.Context, filter AccountFilter) ([]Account, int, error) {
	where := []string{"TRUE"}
	args := []any{}
	if filter.Plan != "" {
		args = append(args, string(filter.Plan), string(plans.Demo), filter.At)
		n := len(args)
		where = append(where, fmt.Sprintf(
			"(CASE WHEN s.current_plan <> $%[2]d AND s.subscription_end >= $%[3]d THEN s.current_plan ELSE $%[2]d END) = $%[1]d",
			n-2, n-1, n))
	}
	if q := strings.TrimSpace(filter.Search); q != "" {
		args = append(args, "%"+escapeLike(q)+"%")
		n := len(args)
		where = append(where, fmt.Sprintf("(unaccent(u.username) ILIKE unaccent($%d) OR unaccent(u.email) ILIKE unaccent($%d))", n, n))
	}
	cond := strings.Join(where, " AND ")

	var total int
	if err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM users u JOIN subscriptions s ON s.user_id = u.id WHERE `+cond, args...,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("entitlement: count accounts: %w", err)
	}

	limit := "ALL"
	if filter.Limit > 0 {
		limit = fmt.Sprint(filter.Limit)
	}
	args = append(args, max(filter.Offset, 0))
	rows, err := s.pool.Query(ctx, `
		SELECT u.id, u.username, u.email, u.created_at,
		       s.user_id, s.current_plan, s.free_exports_used, s.subscription_start,
		       s.subscription_end, s.plan_changed_at, s.updated_at
		FROM users u JOIN subscriptions s ON s.user_id = u.id
		WHERE `+cond+`
		ORDER BY u.created_at DESC, u.id
		LIMIT `+limit+fmt.Sprintf(` OFFSET $%d`, len(args)), args...)
	if err != nil {
		return nil, 0, fmt.Errorf("entitlement: list accounts: %w", err)
	}
	defer rows.Close()

	var out []Account
	for rows.Next() {
		var (
			a    Account
			plan string
		)
		if err := rows.Scan(
			&a.User.ID, &a.User.Username, &a.User.Email, &a.User.CreatedAt,
			&a.Subscription.UserID, &plan, &a.Subscription.FreeExportsUsed, &a.Subscription.Start,
			&a.Subscription.End, &a.Subscription.PlanChangedAt, &a.Subscription.UpdatedAt,
		); err != nil {
			return nil, 0, fmt.Errorf("entitlement: scan account: %w", err)
		}
		a.Subscription.CurrentPlan = plans.ID(plan)
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("entitlement: list accounts: %w", err)
	}
	return out, total, nil
}

func (s *PostgresStore) PlanCounts(ctx context.Context, now time.Time) (map[plans.ID]int, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT CASE WHEN current_plan <> $1 AND subscription_end >= $2 THEN current_plan ELSE $1 END AS plan,
		       count(*)
		FROM subscriptions
		GROUP BY 1`, string(plans.Demo), now)
	if err != nil {
		return nil, fmt.Errorf("entitlement: plan counts: %w", err)
	}
	defer rows.Close()

	counts := make(map[plans.ID]int)
	for rows.Next() {
		var (
			plan string
			n    int
		)
		if err := rows.Scan(&plan, &n); err != nil {
			return nil, fmt.Errorf("entitlement: plan counts: %w", err)
		}
		counts[plans.ID(plan)] = n
	}
	return counts, rows.Err()
}

func scanSubscription(row pgx.Row) (Subscription, error) {
	var (
		sub  Subscription
		plan string
	)
	err := row.Scan(&sub.UserID, &plan, &sub.FreeExportsUsed, &sub.Start, &sub.End, &sub.PlanChangedAt, &sub.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Subscription{}, ErrUserNotFound
	}
	if err != nil {
		return Subscription{}, fmt.Errorf("entitlement: scan subscription: %w", err)
	}
	sub.CurrentPlan = plans.ID(plan)
	return sub, nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string { return likeEscaper.Replace(s) }
