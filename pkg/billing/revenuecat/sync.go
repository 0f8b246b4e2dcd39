package revenuecat

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/mihaimyh/goentitle/pkg/billing"
	"github.com/mihaimyh/goentitle/pkg/entitlement"
)

const subscribersEndpoint = "/subscribers/{id}"

// revenueCatSubscriberResponse represents the RevenueCat API subscriber response
type revenueCatSubscriberResponse struct {
	Subscriber revenueCatSubscriber `json:"subscriber"`
}

type revenueCatSubscriber struct {
	Entitlements map[string]revenueCatEntitlement `json:"entitlements"`
}

type revenueCatEntitlement struct {
	ExpiresDate       *string `json:"expires_date"`
	ProductIdentifier string  `json:"product_identifier"`
	PurchaseDate      *string `json:"purchase_date"`
}

func (p *Provider) syncUserFromAPI(ctx context.Context, userID string) (*entitlement.Entitlement, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, entitlement.ErrInvalidUserID
	}
	if p.apiKey == "" {
		return nil, fmt.Errorf("%w: revenuecat API key not configured", billing.ErrProviderNotConfigured)
	}

	isPro, err := p.fetchIsPro(ctx, userID)
	if err != nil {
		return nil, err
	}

	ent, err := p.reconciler.Restore(ctx, userID, isPro, providerName)
	if err != nil {
		return nil, fmt.Errorf("failed to apply restored entitlement: %w", err)
	}
	p.logger.Info("restored entitlement from revenuecat",
		entitlement.Field{Key: "userId", Value: userID},
		entitlement.Field{Key: "isPro", Value: isPro},
	)
	return ent, nil
}

// fetchIsPro reports whether the subscriber holds an active pro entitlement.
// A subscriber unknown to RevenueCat is not pro.
func (p *Provider) fetchIsPro(ctx context.Context, userID string) (bool, error) {
	endpoint := fmt.Sprintf("%s/subscribers/%s", p.baseURL, url.PathEscape(userID))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, http.NoBody)
	if err != nil {
		return false, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+p.apiKey)
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	res, err := p.httpClient.Do(req)
	p.metrics.RecordAPICallDuration(providerName, subscribersEndpoint, time.Since(start))
	if err != nil {
		p.metrics.RecordAPICall(providerName, subscribersEndpoint, "error")
		return false, fmt.Errorf("%w: failed to fetch subscriber: %w", billing.ErrProviderAPIError, err)
	}
	defer res.Body.Close()
	p.metrics.RecordAPICall(providerName, subscribersEndpoint, strconv.Itoa(res.StatusCode))

	body, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return false, fmt.Errorf("%w: failed to read response: %w", billing.ErrProviderAPIError, err)
	}

	if res.StatusCode == http.StatusNotFound {
		return false, nil
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return false, fmt.Errorf("%w: status %d, body: %s", billing.ErrProviderAPIError, res.StatusCode, string(body))
	}

	var payload revenueCatSubscriberResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return false, fmt.Errorf("%w: failed to parse response: %w", billing.ErrProviderAPIError, err)
	}

	return p.hasActiveEntitlement(&payload.Subscriber, time.Now()), nil
}

// hasActiveEntitlement looks up the pro entitlement (case-insensitively) and
// treats a missing or future expiry as active.
func (p *Provider) hasActiveEntitlement(subscriber *revenueCatSubscriber, now time.Time) bool {
	ent, ok := subscriber.Entitlements[p.proEntitlementID]
	if !ok {
		for k, v := range subscriber.Entitlements {
			if strings.EqualFold(k, p.proEntitlementID) {
				ent, ok = v, true
				break
			}
		}
	}
	if !ok {
		return false
	}

	if ent.ExpiresDate == nil || strings.TrimSpace(*ent.ExpiresDate) == "" {
		return true // lifetime
	}
	expiresAt, err := parseRevenueCatTime(*ent.ExpiresDate)
	if err != nil {
		return false
	}
	return expiresAt.After(now)
}

// parseRevenueCatTime parses a RevenueCat timestamp string
func parseRevenueCatTime(value string) (time.Time, error) {
	v := strings.TrimSpace(value)
	if v == "" {
		return time.Time{}, fmt.Errorf("empty time")
	}
	if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
		return t, nil
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("unable to parse time: %s", v)
}
