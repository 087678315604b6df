package payment

import "time"

// Config controls the payment flow. Provider specific settings live in
// LinkConfig, PaddleConfig and StripeConfig.
type Config struct {
	Provider        string        `env:"PAYMENT_PROVIDER" envDefault:"link"`
	ProviderTimeout time.Duration `env:"PAYMENT_PROVIDER_TIMEOUT" envDefault:"10s"`
	IntentTTL       time.Duration `env:"PAYMENT_INTENT_TTL" envDefault:"24h"`
	SweepSchedule   string        `env:"PAYMENT_SWEEP_SCHEDULE" envDefault:"@every 10m"`
	SuccessURL      string        `env:"PAYMENT_SUCCESS_URL" envDefault:"http://localhost:8080/dashboard?payment=success"`
	CancelURL       string        `env:"PAYMENT_CANCEL_URL" envDefault:"http://localhost:8080/dashboard?payment=cancel"`
}
