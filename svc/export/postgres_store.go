package export

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dmitrymomot/fincash/svc/plans"
)

type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const ticketColumns = `id, user_id, kind, resource, status, plan, free_exports_used, error, created_at, completed_at`

func (s *PostgresStore) Create(ctx context.Context, t Ticket) error {
	_, err := s.pool.Exec(ctx, `INSERT INTO export_tickets (`+ticketColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		t.ID, t.UserID, string(t.Kind), t.Resource, string(t.Status), string(t.Plan),
		t.FreeExportsUsed, t.Error, t.CreatedAt, t.CompletedAt)
	if err != nil {
		return fmt.Errorf("export: create ticket: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id uuid.UUID) (Ticket, error) {
	return scanTicket(s.pool.QueryRow(ctx, `SELECT `+ticketColumns+` FROM export_tickets WHERE id = $1`, id))
}

func (s *PostgresStore) Close(ctx context.Context, id uuid.UUID, status TicketStatus, reason string, at time.Time) (Ticket, bool, error) {
	t, err := scanTicket(s.pool.QueryRow(ctx, `
		UPDATE export_tickets
		SET status = $2, error = $3, completed_at = $4
		WHERE id = $1 AND status = $5
		RETURNING `+ticketColumns,
		id, string(status), reason, at, string(TicketAuthorized)))
	if err == nil {
		return t, true, nil
	}
	if !errors.Is(err, ErrTicketNotFound) {
		return Ticket{}, false, err
	}

	t, err = s.Get(ctx, id)
	if err != nil {
		return Ticket{}, false, err
	}
	return t, false, nil
}

func (s *PostgresStore) List(ctx context.Context, filter TicketFilter) ([]Ticket, int, error) {
	where := []string{"TRUE"}
	args := []any{}
	if filter.UserID != uuid.Nil {
		args = append(args, filter.UserID)
		where = append(where, fmt.Sprintf("user_id = $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	cond := strings.Join(where, " AND ")

	var total int
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM export_tickets WHERE `+cond, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("export: count tickets: %w", err)
	}

	limit := "ALL"
	if filter.Limit > 0 {
		limit = fmt.Sprint(filter.Limit)
	}
	args = append(args, max(filter.Offset, 0))
	rows, err := s.pool.Query(ctx, `SELECT `+ticketColumns+` FROM export_tickets WHERE `+cond+
		` ORDER BY created_at DESC, id LIMIT `+limit+fmt.Sprintf(` OFFSET $%d`, len(args)), args...)
	if err != nil {
		return nil, 0, fmt.Errorf("export: list tickets: %w", err)
	}
	defer rows.Close()

	var out []Ticket
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, t)
	}
	return out, total, rows.Err()
}

func scanTicket(row pgx.Row) (Ticket, error) {
	var (
		t                  Ticket
		kind, status, plan string
	)
	err := row.Scan(&t.ID, &t.UserID, &kind, &t.Resource, &status, &plan, &t.FreeExportsUsed, &t.Error, &t.CreatedAt, &t.CompletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Ticket{}, ErrTicketNotFound
	}
	if err != nil {
		return Ticket{}, fmt.Errorf("export: scan ticket: %w", err)
	}
	t.Kind = Kind(kind)
	t.Status = TicketStatus(status)
	t.Plan = plans.ID(plan)
	return t, nil
}
