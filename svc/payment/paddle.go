package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	paddle "github.com/PaddleHQ/paddle-go-sdk/v4"
	"github.com/google/uuid"

	"github.com/dmitrymomot/fincash/svc/plans"
)

// PaddleConfig holds configuration for Paddle Billing checkouts.
type PaddleConfig struct {
	APIKey        string            `env:"PADDLE_API_KEY"`
	WebhookSecret string            `env:"PADDLE_WEBHOOK_SECRET"`
	Environment   string            `env:"PADDLE_ENVIRONMENT" envDefault:"production"`
	PriceIDs      map[string]string `env:"PADDLE_PRICE_IDS" envSeparator:"," envKeyValSeparator:"="`
}

const paddleSignatureHeader = "Paddle-Signature"

// PaddleProvider creates one-off Paddle transactions carrying the intent id
// in custom data.
type PaddleProvider struct {
	client   *paddle.SDK
	verifier *paddle.WebhookVerifier
	prices   map[plans.ID]string
}

// NewPaddleProvider returns a provider for the Paddle environment of cfg.
func NewPaddleProvider(cfg PaddleConfig) (*PaddleProvider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("payment: paddle API key is required")
	}
	if cfg.WebhookSecret == "" {
		return nil, errors.New("payment: paddle webhook secret is required")
	}

	var (
		client *paddle.SDK
		err    error
	)
	switch strings.ToLower(cfg.Environment) {
	case "sandbox":
		client, err = paddle.NewSandbox(cfg.APIKey)
	case "production", "":
		client, err = paddle.New(cfg.APIKey)
	default:
		return nil, fmt.Errorf("payment: invalid paddle environment: %s", cfg.Environment)
	}
	if err != nil {
		return nil, fmt.Errorf("payment: create paddle client: %w", err)
	}

	prices := make(map[plans.ID]string, len(cfg.PriceIDs))
	for plan, price := range cfg.PriceIDs {
		prices[plans.ID(plan)] = price
	}

	return &PaddleProvider{
		client:   client,
		verifier: paddle.NewWebhookVerifier(cfg.WebhookSecret),
		prices:   prices,
	}, nil
}

func (p *PaddleProvider) Name() string { return "paddle" }

func (p *PaddleProvider) CreateCheckout(ctx context.Context, req CheckoutRequest) (Checkout, error) {
	priceID, ok := p.prices[req.Plan.ID]
	if !ok {
		return Checkout{}, fmt.Errorf("payment: no paddle price for plan %q", req.Plan.ID)
	}

	item := paddle.NewCreateTransactionItemsTransactionItemFromCatalog(&paddle.TransactionItemFromCatalog{
		PriceID:  priceID,
		Quantity: 1,
	})
	txReq := &paddle.CreateTransactionRequest{
		Items: []paddle.CreateTransactionItems{*item},
		CustomData: paddle.CustomData{
			"intent_id": req.IntentID.String(),
			"user_id":   req.UserID.String(),
		},
	}
	if req.SuccessURL != "" {
		txReq.Checkout = &paddle.TransactionCheckout{URL: paddle.PtrTo(req.SuccessURL)}
	}

	tx, err := p.client.TransactionsClient.CreateTransaction(ctx, txReq)
	if err != nil {
		return Checkout{}, fmt.Errorf("payment: create paddle transaction: %w", err)
	}
	if tx.Checkout == nil || tx.Checkout.URL == nil {
		return Checkout{}, errors.New("payment: paddle returned no checkout URL")
	}
	return Checkout{URL: *tx.Checkout.URL, ExternalRef: tx.ID}, nil
}

type paddleEvent struct {
	EventID   string `json:"event_id"`
	EventType string `json:"event_type"`
	Data      struct {
		ID         string         `json:"id"`
		Status     string         `json:"status"`
		CustomData map[string]any `json:"custom_data"`
	} `json:"data"`
}

func (p *PaddleProvider) ParseWebhook(ctx context.Context, payload []byte, header http.Header) (Notification, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "/payment/webhook", bytes.NewReader(payload))
	if err != nil {
		return Notification{}, errors.Join(ErrInvalidWebhook, err)
	}
	req.Header.Set(paddleSignatureHeader, header.Get(paddleSignatureHeader))

	valid, err := p.verifier.Verify(req)
	if err != nil {
		return Notification{}, errors.Join(ErrInvalidWebhook, err)
	}
	if !valid {
		return Notification{}, fmt.Errorf("%w: paddle signature verification failed", ErrInvalidWebhook)
	}

	var ev paddleEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return Notification{}, errors.Join(ErrInvalidWebhook, err)
	}

	n := Notification{EventID: ev.EventID, EventType: ev.EventType, ExternalRef: ev.Data.ID}
	// payment_failed reports one declined attempt; the customer may retry
	// on the same transaction, so only canceled ends the intent.
	switch ev.EventType {
	case "transaction.completed", "transaction.paid":
		n.Outcome = OutcomeSuccess
	case "transaction.canceled":
		n.Outcome = OutcomeFailure
	default:
		n.Ignore = true
		return n, nil
	}

	if raw, ok := ev.Data.CustomData["intent_id"].(string); ok {
		if id, err := uuid.Parse(raw); err == nil {
			n.IntentID = id
		}
	}
	return n, nil
}
