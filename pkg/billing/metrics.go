package billing

import "time"

// Metrics defines the interface for tracking webhook ingestion and provider calls.
// All methods are optional - callers should gracefully handle nil metrics.
type Metrics interface {
	// RecordWebhookEvent records a webhook request outcome.
	// status: "applied", "duplicate" or "error"
	RecordWebhookEvent(provider, status string)

	// RecordWebhookProcessingDuration records how long it took to process a webhook.
	RecordWebhookProcessingDuration(provider string, duration time.Duration)

	// RecordWebhookError records a rejected webhook.
	// errorType: e.g. "auth_failed", "invalid_json", "invalid_payload", "payload_too_large", "storage_error"
	RecordWebhookError(provider, errorType string)

	// RecordUserSync records a server-side restore from the provider.
	// status: "success" or "error"
	RecordUserSync(provider, status string)

	// RecordUserSyncDuration records how long a restore took.
	RecordUserSyncDuration(provider string, duration time.Duration)

	// RecordAPICall records an API call to the billing provider.
	// status: HTTP status code as string, or "error" for transport failures
	RecordAPICall(provider, endpoint, status string)

	// RecordAPICallDuration records how long an API call took.
	RecordAPICallDuration(provider, endpoint string, duration time.Duration)
}

// NoopMetrics is a no-op implementation of the Metrics interface.
type NoopMetrics struct{}

func (n *NoopMetrics) RecordWebhookEvent(_, _ string)                            {}
func (n *NoopMetrics) RecordWebhookProcessingDuration(_ string, _ time.Duration) {}
func (n *NoopMetrics) RecordWebhookError(_, _ string)                            {}
func (n *NoopMetrics) RecordUserSync(_, _ string)                                {}
func (n *NoopMetrics) RecordUserSyncDuration(_ string, _ time.Duration)          {}
func (n *NoopMetrics) RecordAPICall(_, _, _ string)                              {}
func (n *NoopMetrics) RecordAPICallDuration(_, _ string, _ time.Duration)        {}
