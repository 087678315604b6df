package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/fincash/pkg/webhook"
	"github.com/dmitrymomot/fincash/svc/plans"
)

// LinkConfig configures hosted payment links: one static checkout page per
// plan, with callbacks signed by pkg/webhook.
type LinkConfig struct {
	Links         map[string]string `env:"LINK_URLS" envSeparator:"," envKeyValSeparator:"=" envDefault:"monthly=https://me.fedapay.com/fincashmonthly,annual=https://me.fedapay.com/fincashannually"`
	WebhookSecret string            `env:"LINK_WEBHOOK_SECRET"`
	MaxAge        time.Duration     `env:"LINK_WEBHOOK_MAX_AGE" envDefault:"5m"`
}

const (
	linkEventApproved = "transaction.approved"
	linkEventDeclined = "transaction.declined"
	linkEventCanceled = "transaction.canceled"
)

// LinkEvent is the callback body of a hosted link checkout.
type LinkEvent struct {
	ID    string        `json:"id"`
	Event string        `json:"event"`
	Data  LinkEventData `json:"data"`
}

type LinkEventData struct {
	Reference string `json:"reference"`
	Amount    int64  `json:"amount"`
	Currency  string `json:"currency"`
}

// LinkProvider appends the intent id as the reference query parameter of
// the plan's hosted page. The provider echoes it back in callbacks.
type LinkProvider struct {
	links  map[plans.ID]*url.URL
	secret string
	maxAge time.Duration
	now    func() time.Time
}

func NewLinkProvider(cfg LinkConfig) (*LinkProvider, error) {
	if cfg.WebhookSecret == "" {
		return nil, errors.New("payment: link webhook secret is required")
	}
	p := &LinkProvider{
		links:  make(map[plans.ID]*url.URL, len(cfg.Links)),
		secret: cfg.WebhookSecret,
		maxAge: cfg.MaxAge,
		now:    time.Now,
	}
	for plan, raw := range cfg.Links {
		u, err := url.Parse(raw)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return nil, fmt.Errorf("payment: invalid payment link for %q: %q", plan, raw)
		}
		p.links[plans.ID(plan)] = u
	}
	return p, nil
}

func (p *LinkProvider) Name() string { return "link" }

func (p *LinkProvider) CreateCheckout(ctx context.Context, req CheckoutRequest) (Checkout, error) {
	if err := ctx.Err(); err != nil {
		return Checkout{}, err
	}
	base, ok := p.links[req.Plan.ID]
	if !ok {
		return Checkout{}, fmt.Errorf("payment: no payment link for plan %q", req.Plan.ID)
	}

	u := *base
	q := u.Query()
	q.Set("reference", req.IntentID.String())
	if req.Email != "" {
		q.Set("email", req.Email)
	}
	u.RawQuery = q.Encode()
	return Checkout{URL: u.String()}, nil
}

func (p *LinkProvider) ParseWebhook(_ context.Context, payload []byte, header http.Header) (Notification, error) {
	sig, err := webhook.Parse(header)
	if err != nil {
		return Notification{}, errors.Join(ErrInvalidWebhook, err)
	}
	if err := webhook.Verify(p.secret, payload, sig, p.maxAge, p.now()); err != nil {
		return Notification{}, errors.Join(ErrInvalidWebhook, err)
	}

	var ev LinkEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return Notification{}, errors.Join(ErrInvalidWebhook, err)
	}

	n := Notification{EventID: ev.ID, EventType: ev.Event}
	switch ev.Event {
	case linkEventApproved:
		n.Outcome = OutcomeSuccess
	case linkEventDeclined, linkEventCanceled:
		n.Outcome = OutcomeFailure
	default:
		n.Ignore = true
		return n, nil
	}

	id, err := uuid.Parse(ev.Data.Reference)
	if err != nil {
		return Notification{}, errors.Join(ErrInvalidWebhook, fmt.Errorf("reference %q: %w", ev.Data.Reference, err))
	}
	n.IntentID = id
	return n, nil
}

// SignLinkEvent encodes and signs ev the way the hosted link provider does.
// It backs local tooling and tests that replay callbacks.
func SignLinkEvent(secret string, ev LinkEvent, at time.Time) ([]byte, http.Header, error) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return nil, nil, err
	}
	sig, err := webhook.Sign(secret, payload, at)
	if err != nil {
		return nil, nil, err
	}
	h := make(http.Header)
	sig.Apply(h)
	return payload, h, nil
}
