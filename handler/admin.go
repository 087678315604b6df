package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/dmitrymomot/fincash/pkg/binder"
	"github.com/dmitrymomot/fincash/svc/admin"
	"github.com/dmitrymomot/fincash/svc/export"
	"github.com/dmitrymomot/fincash/svc/plans"
)

type adminRoutes struct {
	reporting *admin.Reporting
	onError   ErrorHandler
}

type usersRequest struct {
	Plan    plans.ID `query:"plan"`
	Search  string   `query:"search"`
	Page    int      `query:"page"`
	PerPage int      `query:"per_page"`
}

type tasksRequest struct {
	Status  export.TicketStatus `query:"status"`
	UserID  uuid.UUID           `query:"user_id"`
	Page    int                 `query:"page"`
	PerPage int                 `query:"per_page"`
}

type userRequest struct {
	UserID uuid.UUID `path:"userId"`
}

func (a *adminRoutes) users() http.HandlerFunc {
	return Wrap(func(r *http.Request, req usersRequest) Response {
		page, err := a.reporting.ListSubscriptions(r.Context(), admin.Filter{
			Plan:    req.Plan,
			Search:  req.Search,
			Page:    req.Page,
			PerPage: req.PerPage,
		})
		if err != nil {
			return Fail(err)
		}
		return JSON(map[string]any{"users": page.Items, "pagination": page.Pagination})
	},
		WithBinders[usersRequest](binder.Query()),
		WithErrorHandler[usersRequest](a.onError),
	)
}

func (a *adminRoutes) user() http.HandlerFunc {
	return Wrap(func(r *http.Request, req userRequest) Response {
		d, err := a.reporting.UserDetails(r.Context(), req.UserID)
		if err != nil {
			return Fail(err)
		}
		return JSON(d)
	},
		WithBinders[userRequest](binder.Path(chi.URLParam)),
		WithErrorHandler[userRequest](a.onError),
	)
}

func (a *adminRoutes) stats() http.HandlerFunc {
	return Wrap(func(r *http.Request, _ noRequest) Response {
		st, err := a.reporting.AggregateStats(r.Context())
		if err != nil {
			return Fail(err)
		}
		return JSON(st)
	}, WithErrorHandler[noRequest](a.onError))
}

func (a *adminRoutes) tasks() http.HandlerFunc {
	return Wrap(func(r *http.Request, req tasksRequest) Response {
		page, err := a.reporting.ListTasks(r.Context(), admin.TaskFilter{
			Status:  req.Status,
			UserID:  req.UserID,
			Page:    req.Page,
			PerPage: req.PerPage,
		})
		if err != nil {
			return Fail(err)
		}
		return JSON(map[string]any{"tasks": page.Items, "pagination": page.Pagination})
	},
		WithBinders[tasksRequest](binder.Query()),
		WithErrorHandler[tasksRequest](a.onError),
	)
}
