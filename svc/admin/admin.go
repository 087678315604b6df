// Package admin provides the read-only reporting views of the back office:
// subscriber listing, aggregate statistics and the export task log.
package admin

import (
	"github.com/google/uuid"

	"github.com/dmitrymomot/fincash/svc/entitlement"
	"github.com/dmitrymomot/fincash/svc/export"
	"github.com/dmitrymomot/fincash/svc/plans"
)

const (
	DefaultPerPage = 20
	MaxPerPage     = 100
)

// Pagination describes one page of a listing.
type Pagination struct {
	Page    int  `json:"page"`
	Pages   int  `json:"pages"`
	PerPage int  `json:"per_page"`
	Total   int  `json:"total"`
	HasNext bool `json:"has_next"`
	HasPrev bool `json:"has_prev"`
}

// Page is one page of a listing with its pagination metadata.
type Page[T any] struct {
	Items      []T        `json:"items"`
	Pagination Pagination `json:"pagination"`
}

func newPage[T any](items []T, p pager, total int) Page[T] {
	if items == nil {
		items = []T{}
	}
	pages := (total + p.perPage - 1) / p.perPage
	return Page[T]{
		Items: items,
		Pagination: Pagination{
			Page:    p.page,
			Pages:   pages,
			PerPage: p.perPage,
			Total:   total,
			HasNext: p.page < pages,
			HasPrev: p.page > 1,
		},
	}
}

type pager struct {
	page, perPage int
}

func newPager(page, perPage int) pager {
	if page < 1 {
		page = 1
	}
	switch {
	case perPage <= 0:
		perPage = DefaultPerPage
	case perPage > MaxPerPage:
		perPage = MaxPerPage
	}
	return pager{page: page, perPage: perPage}
}

func (p pager) offset() int { return (p.page - 1) * p.perPage }

// Filter selects subscribers. Search matches username or email ignoring
// case and accents. Plan matches the effective plan, the one AggregateStats
// counts, so lapsed paid subscribers are listed under demo.
type Filter struct {
	Plan    plans.ID
	Search  string
	Page    int
	PerPage int
}

// TaskFilter selects export tickets.
type TaskFilter struct {
	Status  export.TicketStatus
	UserID  uuid.UUID
	Page    int
	PerPage int
}

// Subscriber is an account as shown to administrators.
type Subscriber struct {
	entitlement.User
	Subscription  entitlement.Subscription `json:"subscription"`
	EffectivePlan plans.ID                 `json:"effective_plan"`
	IsActive      bool                     `json:"is_active"`
	DaysRemaining int                      `json:"days_remaining"`
}

// TaskUser is the identity attached to a task; nil when the user is gone.
type TaskUser struct {
	Username string `json:"username"`
	Email    string `json:"email"`
}

// Task is an export ticket joined with the identity of its user.
type Task struct {
	export.Ticket
	User *TaskUser `json:"user"`
}

type TaskStats struct {
	Total      int `json:"total"`
	Authorized int `json:"authorized"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
}

// Stats aggregates the subscriber base. Revenue is an estimate from the
// catalog prices of the active paid subscriptions, not a ledger.
type Stats struct {
	TotalUsers           int              `json:"total_users"`
	ActivePaid           int              `json:"active_paid"`
	DemoUsers            int              `json:"demo_users"`
	MonthlyUsers         int              `json:"monthly_users"`
	AnnualUsers          int              `json:"annual_users"`
	ByPlan               map[plans.ID]int `json:"by_plan"`
	ConversionRate       float64          `json:"conversion_rate"`
	TotalRevenueEstimate int64            `json:"total_revenue_estimate"`
	Currency             string           `json:"currency"`
	Tasks                TaskStats        `json:"tasks"`
}

// UserDetails is a single subscriber with their export history.
type UserDetails struct {
	Subscriber  Subscriber      `json:"user"`
	Tasks       TaskStats       `json:"statistics"`
	RecentTasks []export.Ticket `json:"recent_tasks"`
}
