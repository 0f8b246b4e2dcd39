package billing

// WebhookEvent is the canonical record extracted from a provider payload.
// It is only ever built from a payload that yielded all of EventID, UserID
// and a pro status; Source is the configured provider name, never payload data.
type WebhookEvent struct {
	EventID string
	UserID  string
	IsPro   bool
	Source  string
}
