package handler

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/dmitrymomot/fincash/pkg/binder"
	"github.com/dmitrymomot/fincash/svc/entitlement"
	"github.com/dmitrymomot/fincash/svc/payment"
	"github.com/dmitrymomot/fincash/svc/plans"
)

const maxWebhookSize = 1 << 20

type paymentRoutes struct {
	payments *payment.Service
	tracker  *entitlement.Tracker
	onError  ErrorHandler
}

type noRequest struct{}

type initiateRequest struct {
	PlanID plans.ID `path:"planId"`
}

type paymentData struct {
	PaymentLink string   `json:"payment_link"`
	IntentID    string   `json:"intent_id"`
	PlanType    plans.ID `json:"plan_type"`
	Price       int64    `json:"price"`
	Currency    string   `json:"currency"`
	ReturnURL   string   `json:"return_url"`
	CancelURL   string   `json:"cancel_url"`
}

func (p *paymentRoutes) plans() http.HandlerFunc {
	return Wrap(func(r *http.Request, _ noRequest) Response {
		return JSON(map[string]any{"plans": p.tracker.Catalog().List()})
	}, WithErrorHandler[noRequest](p.onError))
}

func (p *paymentRoutes) subscription() http.HandlerFunc {
	return Wrap(func(r *http.Request, _ noRequest) Response {
		st, err := p.tracker.Status(r.Context(), caller(r).UserID)
		if err != nil {
			return Fail(err)
		}
		return JSON(st)
	}, WithErrorHandler[noRequest](p.onError))
}

func (p *paymentRoutes) initiate() http.HandlerFunc {
	return Wrap(func(r *http.Request, req initiateRequest) Response {
		in, err := p.payments.Initiate(r.Context(), caller(r).UserID, req.PlanID)
		if err != nil {
			return Fail(err)
		}
		success, cancel := p.payments.ReturnURLs()
		return Success(map[string]any{
			"payment_data": paymentData{
				PaymentLink: in.CheckoutURL,
				IntentID:    in.ID.String(),
				PlanType:    in.TargetPlan,
				Price:       in.Amount,
				Currency:    in.Currency,
				ReturnURL:   success,
				CancelURL:   cancel,
			},
		})
	},
		WithBinders[initiateRequest](binder.Path(chi.URLParam)),
		WithErrorHandler[initiateRequest](p.onError),
	)
}

func (p *paymentRoutes) pendingIntent() http.HandlerFunc {
	return Wrap(func(r *http.Request, _ noRequest) Response {
		in, err := p.payments.PendingIntent(r.Context(), caller(r).UserID)
		if err != nil {
			return Fail(err)
		}
		return Success(map[string]any{"intent": in})
	}, WithErrorHandler[noRequest](p.onError))
}

func (p *paymentRoutes) upgradeInfo() http.HandlerFunc {
	return Wrap(func(r *http.Request, _ noRequest) Response {
		info, err := p.payments.UpgradeInfo(r.Context(), caller(r).UserID)
		if err != nil {
			return Fail(err)
		}
		return JSON(info)
	}, WithErrorHandler[noRequest](p.onError))
}

// returned is the landing page of the provider's success redirect. The
// redirect proves nothing: the plan changes only when the provider's
// notification arrives, so this reports the state as it is.
func (p *paymentRoutes) returned() http.HandlerFunc {
	return Wrap(func(r *http.Request, _ noRequest) Response {
		userID := caller(r).UserID
		st, err := p.tracker.Status(r.Context(), userID)
		if err != nil {
			return Fail(err)
		}

		var pending *payment.Intent
		in, err := p.payments.PendingIntent(r.Context(), userID)
		switch {
		case err == nil:
			pending = &in
		case !errors.Is(err, payment.ErrNoPendingIntent):
			return Fail(err)
		}

		return Success(map[string]any{
			"subscription": st,
			"pending":      pending,
			"confirmed":    pending == nil && st.IsActive,
		})
	}, WithErrorHandler[noRequest](p.onError))
}

func (p *paymentRoutes) cancelled() http.HandlerFunc {
	return Wrap(func(r *http.Request, _ noRequest) Response {
		return JSON(map[string]any{
			"success": false,
			"message": "Payment cancelled, your plan is unchanged",
		})
	}, WithErrorHandler[noRequest](p.onError))
}

// webhook answers 200 to every authenticated notification, including the
// ones it ignores, so the provider stops retrying.
func (p *paymentRoutes) webhook() http.HandlerFunc {
	return Wrap(func(r *http.Request, _ noRequest) Response {
		payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookSize+1))
		if err != nil {
			return Fail(errors.Join(ErrBadRequest, err))
		}
		if len(payload) > maxWebhookSize {
			return Fail(errors.Join(payment.ErrInvalidWebhook, fmt.Errorf("payload exceeds %d bytes", maxWebhookSize)))
		}
		if err := p.payments.HandleWebhook(r.Context(), payload, r.Header); err != nil {
			return Fail(err)
		}
		return JSON(map[string]any{"received": true})
	}, WithErrorHandler[noRequest](p.onError))
}
