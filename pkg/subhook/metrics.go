package subhook

import "time"

// Metrics defines the interface for tracking webhook processing.
// All methods are optional - callers substitute NoopMetrics when none is configured.
type Metrics interface {
	// RecordWebhookEvent records a verified webhook event.
	// status: "success", "ignored", "duplicate" or "error"
	RecordWebhookEvent(eventType, status string)

	// RecordWebhookProcessingDuration records how long it took to process a webhook.
	RecordWebhookProcessingDuration(eventType string, duration time.Duration)

	// RecordWebhookRejected records a request rejected before verification succeeded.
	// reason: "missing_signature", "invalid_signature", "payload_too_large", "invalid_payload"
	RecordWebhookRejected(reason string)

	// RecordClaim records the outcome of an idempotency claim
	// (see ClaimResult.String).
	RecordClaim(outcome string)

	// RecordProfileUpdate records an applied profile update.
	// Empty status or tier means the column was left untouched.
	RecordProfileUpdate(status SubscriptionStatus, tier Tier)

	// RecordAPICall records an API call to the payment provider.
	// status: "success" or "error"
	RecordAPICall(endpoint, status string)

	// RecordAPICallDuration records how long an API call took.
	RecordAPICallDuration(endpoint string, duration time.Duration)
}

// NoopMetrics is a no-op implementation of the Metrics interface.
type NoopMetrics struct{}

func (n *NoopMetrics) RecordWebhookEvent(_, _ string)                            {}
func (n *NoopMetrics) RecordWebhookProcessingDuration(_ string, _ time.Duration) {}
func (n *NoopMetrics) RecordWebhookRejected(_ string)                            {}
func (n *NoopMetrics) RecordClaim(_ string)                                      {}
func (n *NoopMetrics) RecordProfileUpdate(_ SubscriptionStatus, _ Tier)          {}
func (n *NoopMetrics) RecordAPICall(_, _ string)                                 {}
func (n *NoopMetrics) RecordAPICallDuration(_ string, _ time.Duration)           {}
