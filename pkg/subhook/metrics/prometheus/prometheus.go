package prommetrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/mihaimyh/subhook/pkg/subhook"
)

// Metrics implements subhook.Metrics using Prometheus.
type Metrics struct {
	webhookEventsTotal        *prometheus.CounterVec
	webhookProcessingDuration *prometheus.HistogramVec
	webhookRejectedTotal      *prometheus.CounterVec
	claimsTotal               *prometheus.CounterVec
	profileUpdatesTotal       *prometheus.CounterVec
	apiCallsTotal             *prometheus.CounterVec
	apiCallDuration           *prometheus.HistogramVec
}

// NewMetrics creates a new Prometheus metrics implementation for the webhook processor.
func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		webhookEventsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "webhook",
			Name:      "events_total",
			Help:      "Total number of verified webhook events by outcome.",
		}, []string{"event_type", "status"}),

		webhookProcessingDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "webhook",
			Name:      "processing_duration_seconds",
			Help:      "Duration of webhook processing in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"event_type"}),

		webhookRejectedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "webhook",
			Name:      "rejected_total",
			Help:      "Total number of webhook requests rejected before verification.",
		}, []string{"reason"}),

		claimsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "webhook",
			Name:      "claims_total",
			Help:      "Total number of idempotency claims by outcome.",
		}, []string{"outcome"}),

		profileUpdatesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "profile",
			Name:      "updates_total",
			Help:      "Total number of applied profile updates.",
		}, []string{"status", "tier"}),

		apiCallsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stripe",
			Name:      "api_calls_total",
			Help:      "Total number of API calls to Stripe.",
		}, []string{"endpoint", "status"}),

		apiCallDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "stripe",
			Name:      "api_call_duration_seconds",
			Help:      "Duration of API calls to Stripe in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"endpoint"}),
	}
}

func (m *Metrics) RecordWebhookEvent(eventType, status string) {
	m.webhookEventsTotal.WithLabelValues(eventType, status).Inc()
}

func (m *Metrics) RecordWebhookProcessingDuration(eventType string, duration time.Duration) {
	m.webhookProcessingDuration.WithLabelValues(eventType).Observe(duration.Seconds())
}

func (m *Metrics) RecordWebhookRejected(reason string) {
	m.webhookRejectedTotal.WithLabelValues(reason).Inc()
}

func (m *Metrics) RecordClaim(outcome string) {
	m.claimsTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) RecordProfileUpdate(status subhook.SubscriptionStatus, tier subhook.Tier) {
	m.profileUpdatesTotal.WithLabelValues(labelOrUnchanged(string(status)), labelOrUnchanged(string(tier))).Inc()
}

func (m *Metrics) RecordAPICall(endpoint, status string) {
	m.apiCallsTotal.WithLabelValues(endpoint, status).Inc()
}

func (m *Metrics) RecordAPICallDuration(endpoint string, duration time.Duration) {
	m.apiCallDuration.WithLabelValues(endpoint).Observe(duration.Seconds())
}

// DefaultMetrics returns a Metrics implementation using the default Prometheus registerer.
func DefaultMetrics(namespace string) subhook.Metrics {
	return NewMetrics(prometheus.DefaultRegisterer, namespace)
}

func labelOrUnchanged(v string) string {
	if v == "" {
		return "unchanged"
	}
	return v
}
