// Package metrics declares the Prometheus collectors of the entitlement
// and payment flows. A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "fincash"

type Metrics struct {
	exports          *prometheus.CounterVec
	intents          *prometheus.CounterVec
	superseded       prometheus.Counter
	providerErrors   *prometheus.CounterVec
	providerDuration *prometheus.HistogramVec
	confirmations    *prometheus.CounterVec
	expired          prometheus.Counter
}

// New registers the collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		exports: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "export_requests_total",
			Help:      "Export requests by plan and result (granted, denied).",
		}, []string{"plan", "result"}),
		intents: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_intents_created_total",
			Help:      "Payment intents created by target plan and provider.",
		}, []string{"plan", "provider"}),
		superseded: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_intents_superseded_total",
			Help:      "Initiated payment intents expired by a newer initiation.",
		}),
		providerErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_provider_errors_total",
			Help:      "Failed or timed out checkout creations by provider.",
		}, []string{"provider"}),
		providerDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "payment_provider_request_seconds",
			Help:      "Checkout creation latency by provider.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 8),
		}, []string{"provider"}),
		confirmations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_confirmations_total",
			Help:      "Confirmation deliveries by result (confirmed, failed, duplicate, expired, unknown).",
		}, []string{"result"}),
		expired: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_intents_swept_total",
			Help:      "Stale initiated intents expired by the sweeper.",
		}),
	}
}

func (m *Metrics) Export(plan string, granted bool) {
	if m == nil {
		return
	}
	result := "denied"
	if granted {
		result = "granted"
	}
	m.exports.WithLabelValues(plan, result).Inc()
}

func (m *Metrics) IntentCreated(plan, provider string, superseded int) {
	if m == nil {
		return
	}
	m.intents.WithLabelValues(plan, provider).Inc()
	m.superseded.Add(float64(superseded))
}

func (m *Metrics) ProviderCall(provider string, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.providerDuration.WithLabelValues(provider).Observe(d.Seconds())
	if err != nil {
		m.providerErrors.WithLabelValues(provider).Inc()
	}
}

func (m *Metrics) Confirmation(result string) {
	if m == nil {
		return
	}
	m.confirmations.WithLabelValues(result).Inc()
}

func (m *Metrics) Swept(n int) {
	if m == nil {
		return
	}
	m.expired.Add(float64(n))
}

// Handler exposes the collectors of g in the Prometheus text format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
