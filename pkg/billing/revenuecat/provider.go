// Package revenuecat wires RevenueCat into billing: its webhooks are ingested
// through billing.WebhookHandler and "Restore Purchases" reads the subscriber
// from the RevenueCat REST API.
package revenuecat

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/mihaimyh/goentitle/pkg/billing"
	"github.com/mihaimyh/goentitle/pkg/entitlement"
)

const (
	providerName         = "revenuecat"
	revenueCatAPIBaseURL = "https://api.revenuecat.com/v1"
	defaultHTTPTimeout   = 10 * time.Second
)

// Provider implements the billing.Provider interface for RevenueCat
type Provider struct {
	reconciler       *entitlement.Reconciler
	webhook          *billing.WebhookHandler
	httpClient       *http.Client
	baseURL          string
	apiKey           string
	proEntitlementID string
	metrics          billing.Metrics
	logger           entitlement.Logger
}

// Option customizes a Provider.
type Option func(*Provider)

// WithBaseURL points API calls at another host (tests, proxies).
func WithBaseURL(url string) Option {
	return func(p *Provider) {
		p.baseURL = strings.TrimRight(url, "/")
	}
}

// NewProvider creates a new RevenueCat billing provider. config.Provider
// defaults to "revenuecat" so events are tagged with that source.
func NewProvider(config billing.Config, opts ...Option) (*Provider, error) {
	if config.Reconciler == nil {
		return nil, billing.ErrProviderNotConfigured
	}
	if strings.TrimSpace(config.Provider) == "" {
		config.Provider = providerName
	}
	if config.ProEntitlementID == "" {
		config.ProEntitlementID = billing.DefaultProEntitlementID
	}

	webhook, err := billing.NewWebhookHandler(config)
	if err != nil {
		return nil, err
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultHTTPTimeout}
	}

	// accept the API key with or without a Bearer prefix
	apiKey := strings.TrimSpace(config.APIKey)
	if strings.HasPrefix(strings.ToLower(apiKey), "bearer ") {
		apiKey = strings.TrimSpace(apiKey[len("bearer "):])
	}

	metrics := config.Metrics
	if metrics == nil {
		metrics = &billing.NoopMetrics{}
	}
	logger := config.Logger
	if logger == nil {
		logger = &entitlement.NoopLogger{}
	}

	p := &Provider{
		reconciler:       config.Reconciler,
		webhook:          webhook,
		httpClient:       httpClient,
		baseURL:          revenueCatAPIBaseURL,
		apiKey:           apiKey,
		proEntitlementID: config.ProEntitlementID,
		metrics:          metrics,
		logger:           logger,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Name returns the provider name
func (p *Provider) Name() string {
	return providerName
}

// WebhookHandler returns the HTTP handler for RevenueCat webhooks
func (p *Provider) WebhookHandler() http.Handler {
	return p.webhook.Handler()
}

// Webhook exposes the underlying ingestion handler.
func (p *Provider) Webhook() *billing.WebhookHandler {
	return p.webhook
}

// SyncUser reads the subscriber from RevenueCat and commits the result
func (p *Provider) SyncUser(ctx context.Context, userID string) (*entitlement.Entitlement, error) {
	start := time.Now()
	ent, err := p.syncUserFromAPI(ctx, userID)
	status := "success"
	if err != nil {
		status = "error"
	}
	p.metrics.RecordUserSync(providerName, status)
	p.metrics.RecordUserSyncDuration(providerName, time.Since(start))
	return ent, err
}
