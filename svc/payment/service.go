package payment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/fincash/pkg/logger"
	"github.com/dmitrymomot/fincash/pkg/metrics"
	"github.com/dmitrymomot/fincash/svc/entitlement"
	"github.com/dmitrymomot/fincash/svc/plans"
)

// Service initiates and confirms plan purchases.
type Service struct {
	tracker  *entitlement.Tracker
	store    Store
	provider Provider
	notifier Notifier
	metrics  *metrics.Metrics
	log      *slog.Logger

	timeout    time.Duration
	ttl        time.Duration
	successURL string
	cancelURL  string
}

// Option configures a Service.
type Option func(*Service)

func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.log = l
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithNotifier sets who hears about activations and failed payments.
func WithNotifier(n Notifier) Option {
	return func(s *Service) {
		if n != nil {
			s.notifier = n
		}
	}
}

// WithProviderTimeout bounds every checkout creation call.
func WithProviderTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithIntentTTL sets how long an initiated intent may wait for its
// confirmation. Zero disables staleness.
func WithIntentTTL(d time.Duration) Option {
	return func(s *Service) { s.ttl = d }
}

// WithReturnURLs sets where the provider sends the user back to.
func WithReturnURLs(success, cancel string) Option {
	return func(s *Service) {
		s.successURL = success
		s.cancelURL = cancel
	}
}

// WithConfig applies the timeouts and return URLs of cfg.
func WithConfig(cfg Config) Option {
	return func(s *Service) {
		WithProviderTimeout(cfg.ProviderTimeout)(s)
		WithIntentTTL(cfg.IntentTTL)(s)
		WithReturnURLs(cfg.SuccessURL, cfg.CancelURL)(s)
	}
}

// NewService returns a service selling the paid plans of the tracker catalog through provider.
func NewService(tracker *entitlement.Tracker, store Store, provider Provider, opts ...Option) *Service {
	s := &Service{
		tracker:  tracker,
		store:    store,
		provider: provider,
		notifier: nopNotifier{},
		log:      logger.Nop(),
		timeout:  10 * time.Second,
		ttl:      24 * time.Hour,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With(logger.Component("payment"), logger.Provider(provider.Name()))
	return s
}

// Initiate starts the purchase of planID. The provider is called once,
// before anything is stored; on failure nothing is persisted. A successful
// initiation expires any older initiated intent of the user.
func (s *Service) Initiate(ctx context.Context, userID uuid.UUID, planID plans.ID) (Intent, error) {
	plan, err := s.tracker.Catalog().Get(planID)
	if err != nil || !plan.IsPaid() {
		return Intent{}, fmt.Errorf("%w: %q", ErrInvalidPlan, planID)
	}

	sub, err := s.tracker.LoadSubscription(ctx, userID)
	if err != nil {
		return Intent{}, err
	}
	if sub.EffectivePlanAt(s.tracker.Now()) == plan.ID {
		return Intent{}, ErrAlreadyOnPlan
	}

	user, err := s.tracker.GetUser(ctx, userID)
	if err != nil {
		return Intent{}, err
	}

	intentID := uuid.New()
	checkout, err := s.createCheckout(ctx, CheckoutRequest{
		IntentID:   intentID,
		UserID:     userID,
		Email:      user.Email,
		Plan:       plan,
		SuccessURL: s.successURL,
		CancelURL:  s.cancelURL,
	})
	if err != nil {
		s.log.LogAttrs(ctx, slog.LevelError, "checkout creation failed",
			logger.UserID(userID), logger.PlanID(plan.ID), logger.Error(err))
		return Intent{}, errors.Join(ErrProviderUnavailable, err)
	}

	now := s.tracker.Now()
	intent := Intent{
		ID:          intentID,
		UserID:      userID,
		TargetPlan:  plan.ID,
		Status:      StatusInitiated,
		CheckoutURL: checkout.URL,
		Provider:    s.provider.Name(),
		ExternalRef: checkout.ExternalRef,
		Amount:      plan.Price,
		Currency:    plan.Currency,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	superseded, err := s.store.CreateSuperseding(ctx, intent)
	if err != nil {
		return Intent{}, err
	}

	s.metrics.IntentCreated(plan.ID.String(), s.provider.Name(), superseded)
	s.log.LogAttrs(ctx, slog.LevelInfo, "payment initiated",
		logger.UserID(userID),
		logger.IntentID(intent.ID),
		logger.PlanID(plan.ID),
		slog.Int("superseded", superseded),
	)
	return intent, nil
}

// ReturnURLs reports where the provider sends the user after checkout.
func (s *Service) ReturnURLs() (success, cancel string) {
	return s.successURL, s.cancelURL
}

func (s *Service) createCheckout(ctx context.Context, req CheckoutRequest) (Checkout, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	started := time.Now()
	checkout, err := s.provider.CreateCheckout(ctx, req)
	if err == nil && checkout.URL == "" {
		err = errors.New("provider returned an empty checkout URL")
	}
	s.metrics.ProviderCall(s.provider.Name(), time.Since(started), err)
	return checkout, err
}

// PendingIntent returns the user's initiated intent that is still within
// its TTL.
func (s *Service) PendingIntent(ctx context.Context, userID uuid.UUID) (Intent, error) {
	in, err := s.store.Pending(ctx, userID)
	if err != nil {
		return Intent{}, err
	}
	if in.StaleAt(s.tracker.Now(), s.ttl) {
		return Intent{}, ErrNoPendingIntent
	}
	return in, nil
}

// Confirm applies outcome to the intent. Confirming an intent that is
// already terminal changes nothing and returns the current subscription.
func (s *Service) Confirm(ctx context.Context, intentID uuid.UUID, outcome Outcome) (entitlement.Subscription, error) {
	in, err := s.store.Get(ctx, intentID)
	if err != nil {
		return entitlement.Subscription{}, err
	}
	return s.resolve(ctx, in, outcome)
}

// ConfirmExternal is Confirm for notifications that only carry the
// provider-side reference of the checkout.
func (s *Service) ConfirmExternal(ctx context.Context, provider, externalRef string, outcome Outcome) (entitlement.Subscription, error) {
	in, err := s.store.GetByExternalRef(ctx, provider, externalRef)
	if err != nil {
		return entitlement.Subscription{}, err
	}
	return s.resolve(ctx, in, outcome)
}

// HandleWebhook authenticates a provider notification and applies it.
// Unknown intents and replays are absorbed so the provider stops retrying;
// only authentication failures and internal errors are returned.
func (s *Service) HandleWebhook(ctx context.Context, payload []byte, header http.Header) error {
	n, err := s.provider.ParseWebhook(ctx, payload, header)
	if err != nil {
		if !errors.Is(err, ErrInvalidWebhook) {
			err = errors.Join(ErrInvalidWebhook, err)
		}
		s.log.LogAttrs(ctx, slog.LevelWarn, "webhook rejected", logger.Error(err))
		return err
	}

	log := s.log.With(logger.EventType(n.EventType), slog.String("event_id", n.EventID))
	if n.Ignore {
		log.LogAttrs(ctx, slog.LevelDebug, "webhook event ignored")
		return nil
	}

	in, err := s.lookup(ctx, n)
	if errors.Is(err, ErrUnknownIntent) {
		s.metrics.Confirmation("unknown")
		log.LogAttrs(ctx, slog.LevelWarn, "webhook for unknown payment intent",
			logger.IntentID(n.IntentID), slog.String("external_ref", n.ExternalRef))
		return nil
	}
	if err != nil {
		return err
	}

	_, err = s.resolve(ctx, in, n.Outcome)
	return err
}

func (s *Service) lookup(ctx context.Context, n Notification) (Intent, error) {
	var (
		in  Intent
		err error
	)
	switch {
	case n.IntentID != uuid.Nil:
		in, err = s.store.Get(ctx, n.IntentID)
	case n.ExternalRef != "":
		in, err = s.store.GetByExternalRef(ctx, s.provider.Name(), n.ExternalRef)
	default:
		return Intent{}, ErrUnknownIntent
	}
	if err != nil {
		return Intent{}, err
	}
	if in.Provider != s.provider.Name() {
		return Intent{}, ErrUnknownIntent
	}
	return in, nil
}

func (s *Service) resolve(ctx context.Context, in Intent, outcome Outcome) (entitlement.Subscription, error) {
	log := s.log.With(logger.IntentID(in.ID), logger.UserID(in.UserID), logger.PlanID(in.TargetPlan))

	if in.Status.Terminal() {
		s.metrics.Confirmation("duplicate")
		log.LogAttrs(ctx, slog.LevelDebug, "payment intent already resolved", slog.String("status", string(in.Status)))
		return s.tracker.LoadSubscription(ctx, in.UserID)
	}

	now := s.tracker.Now()
	if in.StaleAt(now, s.ttl) {
		if _, err := s.store.Transition(ctx, in.ID, StatusInitiated, StatusExpired, now); err != nil {
			return entitlement.Subscription{}, err
		}
		s.metrics.Confirmation("expired")
		log.LogAttrs(ctx, slog.LevelWarn, "confirmation received for stale payment intent",
			slog.String("outcome", string(outcome)), slog.Time("created_at", in.CreatedAt))
		return s.tracker.LoadSubscription(ctx, in.UserID)
	}

	switch outcome {
	case OutcomeSuccess:
		return s.activate(ctx, log, in, now)
	case OutcomeFailure:
		ok, err := s.store.Transition(ctx, in.ID, StatusInitiated, StatusFailed, now)
		if err != nil {
			return entitlement.Subscription{}, err
		}
		if ok {
			in.Status, in.UpdatedAt = StatusFailed, now
			s.metrics.Confirmation("failed")
			log.LogAttrs(ctx, slog.LevelInfo, "payment failed", logger.Event("payment.failed"))
			s.notifier.PaymentFailed(ctx, in)
		}
		return s.tracker.LoadSubscription(ctx, in.UserID)
	default:
		return entitlement.Subscription{}, fmt.Errorf("payment: unknown outcome %q", outcome)
	}
}

func (s *Service) activate(ctx context.Context, log *slog.Logger, in Intent, now time.Time) (entitlement.Subscription, error) {
	plan, err := s.tracker.Catalog().Get(in.TargetPlan)
	if err != nil {
		return entitlement.Subscription{}, err
	}

	// The intent must move to confirmed inside the user's scope before the
	// plan changes; with PostgreSQL both writes share one transaction.
	sub, err := s.tracker.ApplyPlanChange(ctx, entitlement.PlanChange{
		UserID:      in.UserID,
		Plan:        plan.ID,
		Start:       now,
		End:         plan.Period.Advance(now),
		EffectiveAt: in.CreatedAt,
		Claim: func(ctx context.Context) (bool, error) {
			return s.store.Transition(ctx, in.ID, StatusInitiated, StatusConfirmed, now)
		},
	})
	if errors.Is(err, entitlement.ErrChangeNotClaimed) {
		// a concurrent delivery, decline or sweep resolved the intent first
		s.metrics.Confirmation("duplicate")
		log.LogAttrs(ctx, slog.LevelDebug, "payment intent resolved concurrently, plan left unchanged")
		return s.tracker.LoadSubscription(ctx, in.UserID)
	}
	if err != nil {
		return entitlement.Subscription{}, err
	}

	in.Status, in.UpdatedAt = StatusConfirmed, now
	s.metrics.Confirmation("confirmed")
	log.LogAttrs(ctx, slog.LevelInfo, "subscription activated",
		logger.Event("subscription.activated"), slog.Time("end", plan.Period.Advance(now)))

	user, err := s.tracker.GetUser(ctx, in.UserID)
	if err != nil {
		log.LogAttrs(ctx, slog.LevelWarn, "activation notice skipped", logger.Error(err))
		return sub, nil
	}
	s.notifier.Activated(ctx, Activation{User: user, Intent: in, Plan: plan, Subscription: sub})
	return sub, nil
}

// UpgradeInfo is the upsell view shown to demo users.
type UpgradeInfo struct {
	CurrentPlan          plans.ID     `json:"current_plan"`
	ExportsUsed          int          `json:"exports_used"`
	FreeExportsRemaining *int         `json:"free_exports_remaining"`
	ShouldUpgrade        bool         `json:"should_upgrade"`
	Benefits             []string     `json:"benefits"`
	Plans                []plans.Plan `json:"plans"`
}

// UpgradeInfo tells whether the user ran out of free exports and what the
// paid plans offer.
func (s *Service) UpgradeInfo(ctx context.Context, userID uuid.UUID) (UpgradeInfo, error) {
	st, err := s.tracker.Status(ctx, userID)
	if err != nil {
		return UpgradeInfo{}, err
	}

	paid := s.tracker.Catalog().Paid()
	info := UpgradeInfo{
		CurrentPlan:          st.EffectivePlan,
		ExportsUsed:          st.FreeExportsUsed,
		FreeExportsRemaining: st.FreeExportsRemaining,
		ShouldUpgrade:        !st.CanExport && st.EffectivePlan == plans.Demo,
		Benefits:             []string{},
		Plans:                paid,
	}
	for _, p := range paid {
		if p.Popular || len(info.Benefits) == 0 {
			info.Benefits = p.Features
		}
	}
	return info, nil
}
