package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/checkout/session"
	"github.com/stripe/stripe-go/v79/webhook"
)

// StripeConfig holds configuration for Stripe Checkout.
type StripeConfig struct {
	SecretKey     string            `env:"STRIPE_SECRET_KEY"`
	WebhookSecret string            `env:"STRIPE_WEBHOOK_SECRET"`
	Currency      string            `env:"STRIPE_CURRENCY" envDefault:"xof"`
	PriceIDs      map[string]string `env:"STRIPE_PRICE_IDS" envSeparator:"," envKeyValSeparator:"="`
}

const stripeSignatureHeader = "Stripe-Signature"

// StripeProvider opens one-time payment Checkout Sessions. The intent id is
// the session's client reference.
type StripeProvider struct {
	sessions      session.Client
	webhookSecret string
	currency      string
	prices        map[string]string
}

func NewStripeProvider(cfg StripeConfig) (*StripeProvider, error) {
	if cfg.SecretKey == "" {
		return nil, errors.New("payment: stripe secret key is required")
	}
	if cfg.WebhookSecret == "" {
		return nil, errors.New("payment: stripe webhook secret is required")
	}
	return &StripeProvider{
		sessions:      session.Client{B: stripe.GetBackend(stripe.APIBackend), Key: cfg.SecretKey},
		webhookSecret: cfg.WebhookSecret,
		currency:      strings.ToLower(cfg.Currency),
		prices:        cfg.PriceIDs,
	}, nil
}

func (p *StripeProvider) Name() string { return "stripe" }

func (p *StripeProvider) CreateCheckout(ctx context.Context, req CheckoutRequest) (Checkout, error) {
	item := &stripe.CheckoutSessionLineItemParams{Quantity: stripe.Int64(1)}
	if price, ok := p.prices[req.Plan.ID.String()]; ok {
		item.Price = stripe.String(price)
	} else {
		// XOF is zero-decimal for Stripe, so the plan price is the unit amount.
		item.PriceData = &stripe.CheckoutSessionLineItemPriceDataParams{
			Currency:   stripe.String(p.currency),
			UnitAmount: stripe.Int64(req.Plan.Price),
			ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
				Name: stripe.String(req.Plan.Name),
			},
		}
	}

	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		LineItems:         []*stripe.CheckoutSessionLineItemParams{item},
		ClientReferenceID: stripe.String(req.IntentID.String()),
		SuccessURL:        stripe.String(req.SuccessURL),
		CancelURL:         stripe.String(req.CancelURL),
	}
	if req.Email != "" {
		params.CustomerEmail = stripe.String(req.Email)
	}
	params.AddMetadata("intent_id", req.IntentID.String())
	params.Context = ctx

	sess, err := p.sessions.New(params)
	if err != nil {
		return Checkout{}, fmt.Errorf("payment: create stripe checkout session: %w", err)
	}
	return Checkout{URL: sess.URL, ExternalRef: sess.ID}, nil
}

func (p *StripeProvider) ParseWebhook(_ context.Context, payload []byte, header http.Header) (Notification, error) {
	event, err := webhook.ConstructEventWithOptions(payload, header.Get(stripeSignatureHeader), p.webhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return Notification{}, errors.Join(ErrInvalidWebhook, err)
	}

	n := Notification{EventID: event.ID, EventType: string(event.Type)}
	var sess stripe.CheckoutSession
	switch event.Type {
	case "checkout.session.completed", "checkout.session.async_payment_succeeded",
		"checkout.session.expired", "checkout.session.async_payment_failed":
		if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
			return Notification{}, errors.Join(ErrInvalidWebhook, err)
		}
	default:
		n.Ignore = true
		return n, nil
	}

	switch event.Type {
	case "checkout.session.completed", "checkout.session.async_payment_succeeded":
		if sess.PaymentStatus != stripe.CheckoutSessionPaymentStatusPaid {
			// delayed payment methods settle later through async events
			n.Ignore = true
			return n, nil
		}
		n.Outcome = OutcomeSuccess
	default:
		n.Outcome = OutcomeFailure
	}

	n.ExternalRef = sess.ID
	if id, err := uuid.Parse(sess.ClientReferenceID); err == nil {
		n.IntentID = id
	}
	return n, nil
}
