package billing

import (
	"context"
	"net/http"

	"github.com/mihaimyh/goentitle/pkg/entitlement"
)

// Provider is the interface a billing backend implements.
type Provider interface {
	// Name returns the provider name recorded as entitlement source (e.g. "revenuecat")
	Name() string

	// WebhookHandler returns the HTTP handler that ingests the provider's events.
	WebhookHandler() http.Handler

	// SyncUser asks the provider for the user's current state and commits it
	// through the reconciler. Used for "Restore Purchases".
	SyncUser(ctx context.Context, userID string) (*entitlement.Entitlement, error)
}
