package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/dmitrymomot/fincash/pkg/httpserver"
	"github.com/dmitrymomot/fincash/pkg/logger"
	"github.com/dmitrymomot/fincash/pkg/ratelimit"
	"github.com/dmitrymomot/fincash/pkg/requestid"
	"github.com/dmitrymomot/fincash/pkg/session"
	"github.com/dmitrymomot/fincash/svc/admin"
	"github.com/dmitrymomot/fincash/svc/entitlement"
	"github.com/dmitrymomot/fincash/svc/export"
	"github.com/dmitrymomot/fincash/svc/payment"
)

// Deps are the services behind the API. Metrics, ReadinessChecks and
// Limiter are optional.
type Deps struct {
	Tracker   *entitlement.Tracker
	Payments  *payment.Service
	Exports   *export.Gate
	Reporting *admin.Reporting
	Sessions  *session.Manager
	Logger    *slog.Logger

	Metrics         http.Handler
	ReadinessChecks []func(context.Context) error
	RequestTimeout  time.Duration

	// Limiter caps checkout and export requests per user.
	Limiter *ratelimit.Limiter
}

// Router builds the HTTP API.
func Router(d Deps) chi.Router {
	log := d.Logger
	if log == nil {
		log = logger.Nop()
	}
	onError := NewErrorHandler(log)
	deny := func(w http.ResponseWriter, r *http.Request, err error) { onError(w, r, err) }
	limited := func(r chi.Router) chi.Router { return r }
	if d.Limiter != nil {
		mw := ratelimit.Middleware(d.Limiter, userKey, deny)
		limited = func(r chi.Router) chi.Router { return r.With(mw) }
	}

	r := chi.NewRouter()
	r.Use(requestid.Middleware)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if d.RequestTimeout > 0 {
		r.Use(middleware.Timeout(d.RequestTimeout))
	}

	r.Get("/health/live", httpserver.HealthCheckHandler(log))
	r.Get("/health/ready", httpserver.HealthCheckHandler(log, d.ReadinessChecks...))
	if d.Metrics != nil {
		r.Handle("/metrics", d.Metrics)
	}

	p := &paymentRoutes{payments: d.Payments, tracker: d.Tracker, onError: onError}
	e := &exportRoutes{gate: d.Exports, onError: onError}
	a := &adminRoutes{reporting: d.Reporting, onError: onError}

	r.Group(func(r chi.Router) {
		r.Use(d.Sessions.Middleware)

		r.Get("/payment/plans", p.plans())
		r.Post("/payment/webhook", p.webhook())

		r.Group(func(r chi.Router) {
			r.Use(session.Require(session.RoleUser, deny))
			r.Use(Provision(d.Tracker, deny))

			r.Route("/payment", func(r chi.Router) {
				r.Get("/user/subscription", p.subscription())
				limited(r).Post("/initiate/{planId}", p.initiate())
				r.Get("/intent", p.pendingIntent())
				r.Get("/upgrade-info", p.upgradeInfo())
				r.Get("/success", p.returned())
				r.Get("/cancel", p.cancelled())
			})

			r.Route("/export", func(r chi.Router) {
				r.Get("/status", e.status())
				r.Post("/tickets/{ticketId}/complete", e.complete())
				limited(r).Post("/{kind}", e.request())
			})
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(session.Require(session.RoleAdmin, deny))
			r.Get("/users", a.users())
			r.Get("/users/{userId}", a.user())
			r.Get("/stats", a.stats())
			r.Get("/tasks", a.tasks())
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		_ = errorResponse{StatusCode: http.StatusNotFound, Code: "not_found", Message: "Route not found"}.Render(w, r)
	})
	return r
}

// Provision creates the demo subscription of a first-time user from the
// session identity. It must run after session.Require.
func Provision(tracker *entitlement.Tracker, deny ErrorHandler) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := session.FromContext(r.Context())
			if !ok {
				deny(w, r, session.ErrNoSession)
				return
			}

			_, err := tracker.GetUser(r.Context(), id.UserID)
			if errors.Is(err, entitlement.ErrUserNotFound) {
				_, err = tracker.Register(r.Context(), entitlement.User{
					ID:       id.UserID,
					Username: id.Name,
					Email:    id.Email,
				})
				if errors.Is(err, entitlement.ErrUserExists) {
					err = nil
				}
			}
			if err != nil {
				deny(w, r, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func userKey(r *http.Request) string {
	id, ok := session.FromContext(r.Context())
	if !ok {
		return ""
	}
	return id.UserID.String()
}

// caller returns the identity of an authenticated route.
func caller(r *http.Request) session.Identity {
	id, _ := session.FromContext(r.Context())
	return id
}
