package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/dmitrymomot/fincash/pkg/binder"
	"github.com/dmitrymomot/fincash/svc/export"
)

type exportRoutes struct {
	gate    *export.Gate
	onError ErrorHandler
}

type exportRequest struct {
	Kind     export.Kind `path:"kind" query:"-"`
	Resource string      `path:"-" query:"resource"`
}

type completeRequest struct {
	TicketID uuid.UUID `path:"ticketId" json:"-"`
	OK       bool      `json:"ok"`
	Error    string    `json:"error"`
}

func (e *exportRoutes) request() http.HandlerFunc {
	return Wrap(func(r *http.Request, req exportRequest) Response {
		ticket, err := e.gate.RequestExport(r.Context(), caller(r).UserID, req.Kind, req.Resource)
		if err != nil {
			return Fail(err)
		}
		return Success(map[string]any{"ticket": ticket}, WithJSONStatus(http.StatusCreated))
	},
		WithBinders[exportRequest](binder.Path(chi.URLParam), binder.Query()),
		WithErrorHandler[exportRequest](e.onError),
	)
}

func (e *exportRoutes) complete() http.HandlerFunc {
	return Wrap(func(r *http.Request, req completeRequest) Response {
		ticket, err := e.gate.Complete(r.Context(), caller(r).UserID, req.TicketID, req.OK, req.Error)
		if err != nil {
			return Fail(err)
		}
		return Success(map[string]any{"ticket": ticket})
	},
		WithBinders[completeRequest](binder.Path(chi.URLParam), binder.JSON()),
		WithErrorHandler[completeRequest](e.onError),
	)
}

func (e *exportRoutes) status() http.HandlerFunc {
	return Wrap(func(r *http.Request, _ noRequest) Response {
		st, err := e.gate.Status(r.Context(), caller(r).UserID)
		if err != nil {
			return Fail(err)
		}
		return JSON(st)
	}, WithErrorHandler[noRequest](e.onError))
}
