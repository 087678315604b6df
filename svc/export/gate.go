package export

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/dmitrymomot/fincash/pkg/events"
	"github.com/dmitrymomot/fincash/pkg/logger"
	"github.com/dmitrymomot/fincash/svc/entitlement"
)

// Gate authorizes export actions against the entitlement tracker.
type Gate struct {
	tracker   *entitlement.Tracker
	store     TicketStore
	publisher events.Publisher
	log       *slog.Logger
}

// Option configures a Gate.
type Option func(*Gate)

func WithLogger(l *slog.Logger) Option {
	return func(g *Gate) {
		if l != nil {
			g.log = l
		}
	}
}

// WithPublisher announces every authorized export as an
// export.authorized event.
func WithPublisher(p events.Publisher) Option {
	return func(g *Gate) { g.publisher = p }
}

// NewGate returns a gate that records exports on tracker and tickets in store.
func NewGate(tracker *entitlement.Tracker, store TicketStore, opts ...Option) *Gate {
	g := &Gate{
		tracker: tracker,
		store:   store,
		log:     logger.Nop(),
	}
	for _, opt := range opts {
		opt(g)
	}
	g.log = g.log.With(logger.Component("export"))
	return g
}

// RequestExport consumes one export from the user's entitlement and issues
// an authorized ticket. Users out of free exports get ErrUpgradeRequired.
// resource names the exported object and may be empty.
func (g *Gate) RequestExport(ctx context.Context, userID uuid.UUID, kind Kind, resource string) (Ticket, error) {
	if _, err := ParseKind(string(kind)); err != nil {
		return Ticket{}, err
	}

	sub, err := g.tracker.RecordExport(ctx, userID)
	if errors.Is(err, entitlement.ErrQuotaExceeded) {
		g.log.LogAttrs(ctx, slog.LevelInfo, "export refused, upgrade required",
			logger.UserID(userID), slog.String("kind", string(kind)))
		return Ticket{}, errors.Join(ErrUpgradeRequired, err)
	}
	if err != nil {
		return Ticket{}, err
	}

	now := g.tracker.Now()
	t := Ticket{
		ID:              uuid.New(),
		UserID:          userID,
		Kind:            kind,
		Resource:        resource,
		Status:          TicketAuthorized,
		Plan:            sub.EffectivePlanAt(now),
		FreeExportsUsed: sub.FreeExportsUsed,
		CreatedAt:       now,
	}
	if err := g.store.Create(ctx, t); err != nil {
		// the export is already counted; it is not handed back
		g.log.LogAttrs(ctx, slog.LevelError, "export ticket not stored",
			logger.UserID(userID), logger.TicketID(t.ID), logger.Error(err))
		return Ticket{}, err
	}

	g.log.LogAttrs(ctx, slog.LevelInfo, "export authorized",
		logger.UserID(userID),
		logger.TicketID(t.ID),
		logger.PlanID(t.Plan),
		logger.Event(events.TypeExportAuthorized),
		slog.String("kind", string(kind)),
	)
	g.publish(ctx, t)
	return t, nil
}

// Complete records the outcome reported by the export engine. A ticket
// that is already terminal keeps its outcome: repeating the same outcome
// returns the ticket, a different one fails with ErrTicketClosed.
func (g *Gate) Complete(ctx context.Context, userID, ticketID uuid.UUID, ok bool, reason string) (Ticket, error) {
	t, err := g.store.Get(ctx, ticketID)
	if err != nil {
		return Ticket{}, err
	}
	if t.UserID != userID {
		return Ticket{}, ErrTicketNotFound
	}

	status := TicketCompleted
	if !ok {
		status = TicketFailed
	} else {
		reason = ""
	}

	t, changed, err := g.store.Close(ctx, ticketID, status, reason, g.tracker.Now())
	if err != nil {
		return Ticket{}, err
	}
	if !changed {
		if t.Status == status {
			return t, nil
		}
		return t, fmt.Errorf("%w: ticket is %s", ErrTicketClosed, t.Status)
	}

	level := slog.LevelInfo
	if !ok {
		level = slog.LevelWarn
	}
	g.log.LogAttrs(ctx, level, "export finished",
		logger.UserID(userID), logger.TicketID(ticketID), slog.String("status", string(status)))
	return t, nil
}

// Status reports whether the user may export right now.
func (g *Gate) Status(ctx context.Context, userID uuid.UUID) (Status, error) {
	st, err := g.tracker.Status(ctx, userID)
	if err != nil {
		return Status{}, err
	}
	return Status{
		AccountType:          st.EffectivePlan,
		CanExport:            st.CanExport,
		UpgradeRequired:      !st.CanExport,
		FreeExportsUsed:      st.FreeExportsUsed,
		FreeExportsRemaining: st.FreeExportsRemaining,
	}, nil
}

type authorizedPayload struct {
	TicketID string `json:"ticket_id"`
	UserID   string `json:"user_id"`
	Kind     string `json:"kind"`
	Resource string `json:"resource,omitempty"`
	Plan     string `json:"plan"`
}

func (g *Gate) publish(ctx context.Context, t Ticket) {
	if g.publisher == nil {
		return
	}
	err := g.publisher.Publish(context.WithoutCancel(ctx), events.Event{
		Type:       events.TypeExportAuthorized,
		Key:        t.UserID.String(),
		OccurredAt: t.CreatedAt,
		Payload: authorizedPayload{
			TicketID: t.ID.String(),
			UserID:   t.UserID.String(),
			Kind:     string(t.Kind),
			Resource: t.Resource,
			Plan:     t.Plan.String(),
		},
	})
	if err != nil {
		g.log.LogAttrs(ctx, slog.LevelWarn, "event not published",
			logger.EventType(events.TypeExportAuthorized), logger.Error(err))
	}
}
