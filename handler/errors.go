package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/dmitrymomot/fincash/pkg/logger"
	"github.com/dmitrymomot/fincash/pkg/ratelimit"
	"github.com/dmitrymomot/fincash/pkg/requestid"
	"github.com/dmitrymomot/fincash/pkg/session"
	"github.com/dmitrymomot/fincash/svc/entitlement"
	"github.com/dmitrymomot/fincash/svc/export"
	"github.com/dmitrymomot/fincash/svc/payment"
	"github.com/dmitrymomot/fincash/svc/plans"
)

var (
	ErrNilResponse = errors.New("handler returned nil response")
	ErrBadRequest  = errors.New("bad request")
)

// ErrorInfo is the client-facing classification of an error.
type ErrorInfo struct {
	StatusCode int
	Code       string
	Message    string
	LogLevel   slog.Level
}

type errorClass struct {
	target  error
	status  int
	code    string
	message string
}

// Order matters: ErrUpgradeRequired wraps ErrQuotaExceeded, and a bad
// request may wrap a domain error.
var errorClasses = []errorClass{
	{export.ErrUpgradeRequired, http.StatusPaymentRequired, "upgrade_required", "Free exports used up, upgrade to keep exporting"},
	{entitlement.ErrQuotaExceeded, http.StatusConflict, "quota_exceeded", "Export quota exceeded"},
	{payment.ErrAlreadyOnPlan, http.StatusConflict, "already_on_plan", "You are already on this plan"},
	{export.ErrTicketClosed, http.StatusConflict, "ticket_closed", "Export ticket already completed"},
	{payment.ErrIntentConflict, http.StatusConflict, "conflict", "Payment changed concurrently, retry"},
	{payment.ErrInvalidPlan, http.StatusBadRequest, "invalid_plan", "This plan cannot be purchased"},
	{export.ErrInvalidKind, http.StatusBadRequest, "invalid_kind", "Unknown export kind"},
	{payment.ErrInvalidWebhook, http.StatusBadRequest, "invalid_webhook", "Webhook rejected"},
	{entitlement.ErrInvalidUser, http.StatusBadRequest, "invalid_user", "Invalid user identity"},
	{ErrBadRequest, http.StatusBadRequest, "bad_request", "Malformed request"},
	{plans.ErrPlanNotFound, http.StatusNotFound, "not_found", "Plan not found"},
	{entitlement.ErrUserNotFound, http.StatusNotFound, "not_found", "User not found"},
	{export.ErrTicketNotFound, http.StatusNotFound, "not_found", "Export ticket not found"},
	{payment.ErrUnknownIntent, http.StatusNotFound, "not_found", "Payment not found"},
	{payment.ErrNoPendingIntent, http.StatusNotFound, "not_found", "No pending payment"},
	{session.ErrNoSession, http.StatusUnauthorized, "unauthorized", "Authentication required"},
	{session.ErrInvalid, http.StatusUnauthorized, "unauthorized", "Session invalid or expired"},
	{session.ErrForbidden, http.StatusForbidden, "forbidden", "Administrator access required"},
	{ratelimit.ErrLimitExceeded, http.StatusTooManyRequests, "rate_limited", "Too many requests, slow down"},
	{payment.ErrProviderUnavailable, http.StatusServiceUnavailable, "provider_unavailable", "Payment provider unavailable, try again later"},
}

func classifyError(err error) ErrorInfo {
	info := ErrorInfo{
		StatusCode: http.StatusInternalServerError,
		Code:       "internal_error",
		Message:    "An error occurred processing your request",
	}
	for _, c := range errorClasses {
		if errors.Is(err, c.target) {
			info.StatusCode, info.Code, info.Message = c.status, c.code, c.message
			break
		}
	}

	info.LogLevel = slog.LevelError
	if info.StatusCode < http.StatusInternalServerError {
		info.LogLevel = slog.LevelWarn
	}
	return info
}

// NewErrorHandler logs err, client errors at Warn and server errors at
// Error, and renders the JSON error envelope.
func NewErrorHandler(log *slog.Logger) ErrorHandler {
	if log == nil {
		log = logger.Nop()
	}
	log = log.With(logger.Component("error_handler"))

	return func(w http.ResponseWriter, r *http.Request, err error) {
		info := classifyError(err)
		log.LogAttrs(r.Context(), info.LogLevel, "request error",
			logger.RequestID(requestid.FromContext(r.Context())),
			logger.Error(err),
			slog.Int("status_code", info.StatusCode),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
		)
		if rerr := errorResponse(info).Render(w, r); rerr != nil {
			log.LogAttrs(r.Context(), slog.LevelError, "failed to render error", logger.Error(rerr))
		}
	}
}
