package client

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/mihaimyh/goentitle/pkg/entitlement"
)

// SourceRevenueCat tags entitlement syncs pushed from the purchase SDK.
const SourceRevenueCat = "revenuecat"

// CustomerInfo is the purchase SDK's view of the signed-in customer.
type CustomerInfo struct {
	ActiveEntitlements []string
}

// HasEntitlement reports whether id is among the active entitlements.
func (ci CustomerInfo) HasEntitlement(id string) bool {
	for _, e := range ci.ActiveEntitlements {
		if strings.EqualFold(e, id) {
			return true
		}
	}
	return false
}

// PurchaseSDK is the in-app purchase SDK as seen by BillingSync.
type PurchaseSDK interface {
	CustomerInfo(ctx context.Context) (CustomerInfo, error)
	Subscribe(listener func(CustomerInfo)) (unsubscribe func())
}

// BillingSyncConfig configures a BillingSync.
type BillingSyncConfig struct {
	// Client talks to the entitlement service (required)
	Client *Client

	// SDK feeds customer info updates. Without it Start is a no-op.
	SDK PurchaseSDK

	// Cache holds the last-known snapshot (default: LRU)
	Cache entitlement.Cache

	// CacheKey names the snapshot in Cache (default: "self")
	CacheKey string

	// ProEntitlementID is the SDK entitlement that means pro (default: "pro")
	ProEntitlementID string

	Logger entitlement.Logger
}

// BillingSync keeps a local, never authoritative snapshot of the caller's
// entitlement in step with the server and the purchase SDK.
type BillingSync struct {
	client *Client
	sdk    PurchaseSDK
	cache  entitlement.Cache
	key    string
	proID  string
	logger entitlement.Logger

	mu          sync.Mutex
	unsubscribe func()
}

// NewBillingSync creates a BillingSync. A nil Cache gets an LRU cache.
func NewBillingSync(config BillingSyncConfig) (*BillingSync, error) {
	if config.Client == nil {
		return nil, errors.New("client is required")
	}
	if config.Cache == nil {
		config.Cache = entitlement.NewLRUCache(16)
	}
	if config.CacheKey == "" {
		config.CacheKey = "self"
	}
	if config.ProEntitlementID == "" {
		config.ProEntitlementID = "pro"
	}
	if config.Logger == nil {
		config.Logger = &entitlement.NoopLogger{}
	}
	return &BillingSync{
		client: config.Client,
		sdk:    config.SDK,
		cache:  config.Cache,
		key:    config.CacheKey,
		proID:  config.ProEntitlementID,
		logger: config.Logger,
	}, nil
}

// Snapshot returns the cached entitlement, or the not-pro default.
func (b *BillingSync) Snapshot() *entitlement.Entitlement {
	if ent, ok := b.cache.Get(b.key); ok {
		return ent
	}
	return entitlement.Default(b.key)
}

// IsPro reports the cached pro state.
func (b *BillingSync) IsPro() bool {
	return b.Snapshot().IsPro
}

func (b *BillingSync) store(isPro bool, source string) {
	b.cache.Set(b.key, &entitlement.Entitlement{UserID: b.key, IsPro: isPro, Source: source}, 0)
}

// Refresh fetches the server entitlement into the snapshot. On failure the
// previous snapshot is kept and the error returned.
func (b *BillingSync) Refresh(ctx context.Context) (*entitlement.Entitlement, error) {
	ents, err := b.client.FetchEntitlements(ctx)
	if err != nil {
		b.logger.Warn("entitlement refresh failed, keeping cached value", entitlement.Field{Key: "error", Value: err.Error()})
		return b.Snapshot(), err
	}
	source := ""
	if ents.Source != nil {
		source = *ents.Source
	}
	b.store(ents.IsPro, source)
	return b.Snapshot(), nil
}

// OnCustomerInfo applies an SDK snapshot locally and pushes it to the server.
// Sync failures are logged and otherwise ignored; the server's webhook path
// remains the authority.
func (b *BillingSync) OnCustomerInfo(ctx context.Context, info CustomerInfo) {
	isPro := info.HasEntitlement(b.proID)
	b.store(isPro, SourceRevenueCat)

	if _, err := b.client.SyncEntitlements(ctx, isPro, SourceRevenueCat); err != nil {
		b.logger.Debug("entitlement sync failed", entitlement.Field{Key: "error", Value: err.Error()})
	}
}

// Start reads the SDK's current customer info and subscribes to changes.
// Calling Start again replaces the previous subscription.
func (b *BillingSync) Start(ctx context.Context) error {
	if b.sdk == nil {
		return nil
	}

	info, err := b.sdk.CustomerInfo(ctx)
	if err != nil {
		return err
	}
	b.OnCustomerInfo(ctx, info)

	unsubscribe := b.sdk.Subscribe(func(info CustomerInfo) {
		b.OnCustomerInfo(ctx, info)
	})

	b.mu.Lock()
	prev := b.unsubscribe
	b.unsubscribe = unsubscribe
	b.mu.Unlock()
	if prev != nil {
		prev()
	}
	return nil
}

// Stop removes the SDK subscription.
func (b *BillingSync) Stop() {
	b.mu.Lock()
	unsubscribe := b.unsubscribe
	b.unsubscribe = nil
	b.mu.Unlock()
	if unsubscribe != nil {
		unsubscribe()
	}
}

// SignOut stops listening and resets the snapshot to not-pro.
func (b *BillingSync) SignOut() {
	b.Stop()
	b.cache.Invalidate(b.key)
	b.store(false, "")
}
