package billing

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/mihaimyh/goentitle/pkg/entitlement"
)

const (
	// DefaultSignatureHeader carries the webhook token or signature.
	DefaultSignatureHeader = "Authorization"

	// DefaultProvider is the source recorded when no provider name is configured.
	DefaultProvider = "default"

	// DefaultProEntitlementID is the entitlement identifier that means pro.
	DefaultProEntitlementID = "pro"

	// DefaultMaxBodyBytes bounds webhook bodies (256KB).
	DefaultMaxBodyBytes int64 = 256 * 1024

	// DefaultRateLimit is the per-IP steady-state webhook rate (requests per second).
	DefaultRateLimit = 100
)

// AppliedCallback is invoked after a new (non-duplicate) event was committed.
type AppliedCallback func(ctx context.Context, ev *WebhookEvent, ent *entitlement.Entitlement)

// Config configures webhook ingestion and providers.
type Config struct {
	// Reconciler commits normalized events (required)
	Reconciler *entitlement.Reconciler

	// Provider is the name recorded as source for every webhook event (default: "default")
	Provider string

	// ProEntitlementID is matched against entitlement_id(s) in payloads (default: "pro")
	ProEntitlementID string

	// WebhookSecret is the shared secret. Empty disables verification (fail-open).
	WebhookSecret string

	// SignatureHeader names the request header with the token or signature (default: Authorization)
	SignatureHeader string

	// SignatureType selects bearer or hmac-sha256 verification (default: bearer)
	SignatureType SignatureType

	// APIKey is used for outbound API calls to the billing provider (restore).
	APIKey string

	// HTTPClient is an optional HTTP client for provider API calls.
	// If nil, a default client with 10s timeout will be used.
	HTTPClient *http.Client

	// MaxBodyBytes bounds the webhook body (default: 256KB)
	MaxBodyBytes int64

	// RateLimit is the per-IP webhook rate in requests per second.
	// 0 uses DefaultRateLimit, negative disables limiting.
	RateLimit float64

	// OnApplied is called after a new event has been committed (optional)
	OnApplied AppliedCallback

	// Metrics is an optional metrics collector (default: NoopMetrics)
	Metrics Metrics

	// Logger is an optional structured logger (default: NoopLogger)
	Logger entitlement.Logger
}

// withDefaults fills unset fields and validates the rest.
func (c Config) withDefaults() (Config, error) {
	if c.Reconciler == nil {
		return c, fmt.Errorf("%w: reconciler is required", ErrProviderNotConfigured)
	}
	if strings.TrimSpace(c.Provider) == "" {
		c.Provider = DefaultProvider
	}
	if c.ProEntitlementID == "" {
		c.ProEntitlementID = DefaultProEntitlementID
	}
	if strings.TrimSpace(c.SignatureHeader) == "" {
		c.SignatureHeader = DefaultSignatureHeader
	}
	if c.SignatureType == "" {
		c.SignatureType = SignatureBearer
	}
	st, err := ParseSignatureType(string(c.SignatureType))
	if err != nil {
		return c, err
	}
	c.SignatureType = st
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if c.RateLimit == 0 {
		c.RateLimit = DefaultRateLimit
	}
	if c.Metrics == nil {
		c.Metrics = &NoopMetrics{}
	}
	if c.Logger == nil {
		c.Logger = &entitlement.NoopLogger{}
	}
	return c, nil
}
