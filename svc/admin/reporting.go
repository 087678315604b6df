package admin

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/fincash/pkg/logger"
	"github.com/dmitrymomot/fincash/svc/entitlement"
	"github.com/dmitrymomot/fincash/svc/export"
	"github.com/dmitrymomot/fincash/svc/plans"
)

const recentTasks = 10

// Reporting reads subscriber and export data. It never writes.
type Reporting struct {
	catalog *plans.Catalog
	users   entitlement.Store
	tickets export.TicketStore
	log     *slog.Logger
	now     func() time.Time
}

type Option func(*Reporting)

func WithLogger(l *slog.Logger) Option {
	return func(r *Reporting) {
		if l != nil {
			r.log = l
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(r *Reporting) {
		if now != nil {
			r.now = now
		}
	}
}

func NewReporting(catalog *plans.Catalog, users entitlement.Store, tickets export.TicketStore, opts ...Option) *Reporting {
	r := &Reporting{
		catalog: catalog,
		users:   users,
		tickets: tickets,
		log:     logger.Nop(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.log = r.log.With(logger.Component("admin"))
	return r
}

// ListSubscriptions pages through subscribers, newest first. An unknown
// plan in the filter is ignored.
func (r *Reporting) ListSubscriptions(ctx context.Context, f Filter) (Page[Subscriber], error) {
	p := newPager(f.Page, f.PerPage)
	now := r.now()
	filter := entitlement.AccountFilter{
		At:     now,
		Search: f.Search,
		Offset: p.offset(),
		Limit:  p.perPage,
	}
	if _, err := r.catalog.Get(f.Plan); err == nil {
		filter.Plan = f.Plan
	}

	accounts, total, err := r.users.ListAccounts(ctx, filter)
	if err != nil {
		return Page[Subscriber]{}, err
	}

	out := make([]Subscriber, 0, len(accounts))
	for _, a := range accounts {
		out = append(out, subscriber(a, now))
	}
	return newPage(out, p, total), nil
}

// AggregateStats counts users per effective plan and estimates revenue.
func (r *Reporting) AggregateStats(ctx context.Context) (Stats, error) {
	counts, err := r.users.PlanCounts(ctx, r.now())
	if err != nil {
		return Stats{}, err
	}

	st := Stats{
		ByPlan:       make(map[plans.ID]int, len(counts)),
		DemoUsers:    counts[plans.Demo],
		MonthlyUsers: counts[plans.Monthly],
		AnnualUsers:  counts[plans.Annual],
		Currency:     r.catalog.Demo().Currency,
	}
	for id, n := range counts {
		st.ByPlan[id] = n
		st.TotalUsers += n

		plan, err := r.catalog.Get(id)
		if err != nil {
			r.log.LogAttrs(ctx, slog.LevelWarn, "subscriptions on a plan missing from the catalog",
				logger.PlanID(id), slog.Int("count", n))
			continue
		}
		if plan.IsPaid() {
			st.ActivePaid += n
			st.TotalRevenueEstimate += plan.Price * int64(n)
			st.Currency = plan.Currency
		}
	}
	if st.TotalUsers > 0 {
		st.ConversionRate = math.Round(float64(st.ActivePaid)/float64(st.TotalUsers)*10000) / 100
	}

	st.Tasks, err = r.taskStats(ctx, uuid.Nil)
	if err != nil {
		return Stats{}, err
	}
	return st, nil
}

// ListTasks pages through export tickets, newest first, with the identity
// of their owner.
func (r *Reporting) ListTasks(ctx context.Context, f TaskFilter) (Page[Task], error) {
	p := newPager(f.Page, f.PerPage)
	tickets, total, err := r.tickets.List(ctx, export.TicketFilter{
		UserID: f.UserID,
		Status: f.Status,
		Offset: p.offset(),
		Limit:  p.perPage,
	})
	if err != nil {
		return Page[Task]{}, err
	}

	users := make(map[uuid.UUID]*TaskUser)
	out := make([]Task, 0, len(tickets))
	for _, t := range tickets {
		u, seen := users[t.UserID]
		if !seen {
			u, err = r.taskUser(ctx, t.UserID)
			if err != nil {
				return Page[Task]{}, err
			}
			users[t.UserID] = u
		}
		out = append(out, Task{Ticket: t, User: u})
	}
	return newPage(out, p, total), nil
}

// UserDetails returns one subscriber with their most recent export tickets.
func (r *Reporting) UserDetails(ctx context.Context, userID uuid.UUID) (UserDetails, error) {
	user, err := r.users.GetUser(ctx, userID)
	if err != nil {
		return UserDetails{}, err
	}
	sub, err := r.users.GetSubscription(ctx, userID)
	if err != nil {
		return UserDetails{}, err
	}
	recent, _, err := r.tickets.List(ctx, export.TicketFilter{UserID: userID, Limit: recentTasks})
	if err != nil {
		return UserDetails{}, err
	}
	if recent == nil {
		recent = []export.Ticket{}
	}
	stats, err := r.taskStats(ctx, userID)
	if err != nil {
		return UserDetails{}, err
	}

	return UserDetails{
		Subscriber:  subscriber(entitlement.Account{User: user, Subscription: sub}, r.now()),
		Tasks:       stats,
		RecentTasks: recent,
	}, nil
}

func (r *Reporting) taskStats(ctx context.Context, userID uuid.UUID) (TaskStats, error) {
	var st TaskStats
	for status, dst := range map[export.TicketStatus]*int{
		"":                      &st.Total,
		export.TicketAuthorized: &st.Authorized,
		export.TicketCompleted:  &st.Completed,
		export.TicketFailed:     &st.Failed,
	} {
		_, n, err := r.tickets.List(ctx, export.TicketFilter{UserID: userID, Status: status, Limit: 1})
		if err != nil {
			return TaskStats{}, err
		}
		*dst = n
	}
	return st, nil
}

func (r *Reporting) taskUser(ctx context.Context, userID uuid.UUID) (*TaskUser, error) {
	u, err := r.users.GetUser(ctx, userID)
	if errors.Is(err, entitlement.ErrUserNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &TaskUser{Username: u.Username, Email: u.Email}, nil
}

func subscriber(a entitlement.Account, now time.Time) Subscriber {
	return Subscriber{
		User:          a.User,
		Subscription:  a.Subscription,
		EffectivePlan: a.Subscription.EffectivePlanAt(now),
		IsActive:      a.Subscription.IsActiveAt(now),
		DaysRemaining: a.Subscription.DaysRemainingAt(now),
	}
}
