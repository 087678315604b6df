package logger

import (
	"fmt"
	"log/slog"
	"strconv"
)

// Group creates a slog group attribute from the provided attributes.
func Group(name string, attrs ...slog.Attr) slog.Attr {
	return slog.Attr{Key: name, Value: slog.GroupValue(attrs...)}
}

// Errors groups multiple non-nil errors under the key "errors".
// If all errors are nil, it returns an empty Attr.
func Errors(errs ...error) slog.Attr {
	as := make([]slog.Attr, 0, len(errs))
	for i, err := range errs {
		if err != nil {
			as = append(as, slog.Any(strconv.Itoa(i), err))
		}
	}
	if len(as) == 0 {
		return slog.Attr{}
	}
	return slog.Attr{Key: "errors", Value: slog.GroupValue(as...)}
}

// Error records err under the key "error".
// If err is nil, it returns an empty Attr.
func Error(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.Any("error", err)
}

// UserID records the user identifier under the key "user_id".
// If id is nil, it returns an empty Attr.
func UserID(id any) slog.Attr {
	return stringer("user_id", id)
}

// RequestID records the request identifier under the key "request_id".
func RequestID(id any) slog.Attr {
	return stringer("request_id", id)
}

// IntentID records a payment intent identifier under the key "intent_id".
func IntentID(id any) slog.Attr {
	return stringer("intent_id", id)
}

// TicketID records an export ticket identifier under the key "ticket_id".
func TicketID(id any) slog.Attr {
	return stringer("ticket_id", id)
}

// PlanID records a plan identifier under the key "plan_id".
func PlanID(id any) slog.Attr {
	return stringer("plan_id", id)
}

// Provider records the payment provider name under the key "provider".
func Provider(name string) slog.Attr {
	return slog.String("provider", name)
}

// EventType records the event type under the key "event_type".
func EventType(eventType string) slog.Attr {
	return slog.String("event_type", eventType)
}

// Duration records a duration under the key "duration".
func Duration(d any) slog.Attr {
	return slog.Any("duration", d)
}

// Component records the component name under the key "component".
func Component(name string) slog.Attr {
	return slog.String("component", name)
}

// Event records the event name under the key "event".
func Event(name string) slog.Attr {
	return slog.String("event", name)
}

// stringer renders ids through fmt so uuid.UUID and typed string ids
// produce the same textual value in every handler.
func stringer(key string, v any) slog.Attr {
	if v == nil {
		return slog.Attr{}
	}
	switch val := v.(type) {
	case string:
		if val == "" {
			return slog.Attr{}
		}
		return slog.String(key, val)
	case fmt.Stringer:
		return slog.String(key, val.String())
	default:
		return slog.Any(key, v)
	}
}
