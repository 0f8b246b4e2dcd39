package entitlement

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"
)

// Reconciler is the only writer of entitlement state. Webhook events, client
// syncs and server-side restores all commit through it, and the rule between
// them is last writer wins: every accepted signal overwrites the stored row.
type Reconciler struct {
	storage  Storage
	config   Config
	cache    Cache
	cacheTTL time.Duration
	fallback *CacheFallbackStrategy
	metrics  Metrics
	logger   Logger
	reads    singleflight.Group
}

// NewReconciler creates a reconciler over storage with the given configuration
func NewReconciler(storage Storage, config Config) (*Reconciler, error) {
	if storage == nil {
		return nil, ErrStorageUnavailable
	}

	if config.SyncMode == "" {
		config.SyncMode = SyncModeClient
	}
	if !config.SyncMode.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidSyncMode, config.SyncMode)
	}
	if config.Metrics == nil {
		config.Metrics = &NoopMetrics{}
	}
	if config.Logger == nil {
		config.Logger = &NoopLogger{}
	}

	r := &Reconciler{
		storage: storage,
		config:  config,
		cache:   NewNoopCache(),
		metrics: config.Metrics,
		logger:  config.Logger,
	}

	if cc := config.CacheConfig; cc != nil && cc.Enabled {
		r.cache = NewLRUCache(cc.MaxEntries)
		r.cacheTTL = cc.TTL
		if r.cacheTTL <= 0 {
			r.cacheTTL = 30 * time.Second
		}
	}

	if cbc := config.CircuitBreakerConfig; cbc != nil && cbc.Enabled {
		cb := NewDefaultCircuitBreaker(cbc.FailureThreshold, cbc.ResetTimeout, func(state CircuitBreakerState) {
			r.metrics.RecordCircuitBreakerStateChange(string(state))
			r.logger.Warn("storage circuit breaker state changed", Field{"state", string(state)})
		})
		r.storage = NewCircuitBreakerStorage(storage, cb)
	}

	if fc := config.FallbackConfig; fc != nil && fc.Enabled {
		r.fallback = NewCacheFallbackStrategy(r.cache, r.metrics, r.logger)
	}

	return r, nil
}

// SyncMode returns the configured client sync mode
func (r *Reconciler) SyncMode() SyncMode {
	return r.config.SyncMode
}

// Storage returns the (possibly breaker-wrapped) storage in use
func (r *Reconciler) Storage() Storage {
	return r.storage
}

// Apply unconditionally overwrites the user's entitlement.
func (r *Reconciler) Apply(ctx context.Context, userID string, isPro bool, source string) (*Entitlement, error) {
	return r.apply(ctx, PathSync, userID, isPro, source)
}

// Sync applies client-observed purchase state. It is refused with
// ErrClientSyncDisabled when the reconciler runs in server mode.
// An empty source is recorded as SourceClient.
func (r *Reconciler) Sync(ctx context.Context, userID string, isPro bool, source string) (*Entitlement, error) {
	if err := r.CheckSync(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(source) == "" {
		source = SourceClient
	}
	return r.apply(ctx, PathSync, userID, isPro, source)
}

// CheckSync returns ErrClientSyncDisabled when client sync is refused, so
// callers can reject a request before reading its body.
func (r *Reconciler) CheckSync() error {
	if r.config.SyncMode != SyncModeClient {
		r.metrics.RecordSyncRejected()
		return ErrClientSyncDisabled
	}
	return nil
}

// Restore applies state fetched by the server from a billing provider.
// It is allowed in both sync modes.
func (r *Reconciler) Restore(ctx context.Context, userID string, isPro bool, source string) (*Entitlement, error) {
	return r.apply(ctx, PathRestore, userID, isPro, source)
}

func (r *Reconciler) apply(ctx context.Context, path, userID string, isPro bool,
	source string) (*Entitlement, error) {
	if userID == "" {
		return nil, ErrInvalidUserID
	}

	start := time.Now()
	stored, err := r.storage.SetEntitlement(ctx, &Entitlement{
		UserID: userID,
		IsPro:  isPro,
		Source: source,
	})
	r.metrics.RecordStorageOperation("set_entitlement", time.Since(start), err)
	if err != nil {
		r.logger.Error("entitlement write failed",
			Field{"userId", userID},
			Field{"path", path},
			Field{"error", err.Error()},
		)
		return nil, err
	}

	r.committed(ctx, path, stored)
	return stored, nil
}

// ApplyWebhookEvent records eventID in the ledger and overwrites the user's
// entitlement in one atomic step. A previously seen event id changes nothing
// and is reported with duplicate set.
func (r *Reconciler) ApplyWebhookEvent(ctx context.Context, eventID, userID string, isPro bool,
	source string) (ent *Entitlement, duplicate bool, err error) {
	if eventID == "" {
		return nil, false, ErrInvalidEventID
	}
	if userID == "" {
		return nil, false, ErrInvalidUserID
	}

	start := time.Now()
	applied, stored, err := r.storage.ApplyEvent(ctx,
		&ProcessedEvent{EventID: eventID, Provider: source},
		&Entitlement{UserID: userID, IsPro: isPro, Source: source},
	)
	r.metrics.RecordStorageOperation("apply_event", time.Since(start), err)
	if err != nil {
		r.logger.Error("webhook event apply failed",
			Field{"eventId", eventID},
			Field{"userId", userID},
			Field{"error", err.Error()},
		)
		return nil, false, err
	}

	if !applied {
		r.metrics.RecordDuplicateEvent(source)
		r.logger.Debug("duplicate webhook event ignored",
			Field{"eventId", eventID},
			Field{"provider", source},
		)
		return nil, true, nil
	}

	r.committed(ctx, PathWebhook, stored)
	return stored, false, nil
}

func (r *Reconciler) committed(ctx context.Context, path string, stored *Entitlement) {
	r.cache.Invalidate(stored.UserID)
	r.cache.Set(stored.UserID, stored, r.cacheTTL)
	r.metrics.RecordApply(path, stored.Source, stored.IsPro)
	r.logger.Info("entitlement updated",
		Field{"userId", stored.UserID},
		Field{"isPro", stored.IsPro},
		Field{"source", stored.Source},
		Field{"path", path},
	)
	if r.config.OnChange != nil {
		r.config.OnChange(ctx, stored.clone(), path)
	}
}

// GetOrCreate returns the user's entitlement, materializing the default
// {isPro:false, source:null} row on first access. Concurrent first reads for
// the same user share one storage round trip.
func (r *Reconciler) GetOrCreate(ctx context.Context, userID string) (*Entitlement, error) {
	if userID == "" {
		return nil, ErrInvalidUserID
	}

	if ent, ok := r.cache.Get(userID); ok {
		r.metrics.RecordCacheHit()
		return ent, nil
	}
	r.metrics.RecordCacheMiss()

	v, err, _ := r.reads.Do(userID, func() (interface{}, error) {
		start := time.Now()
		ent, err := r.storage.GetOrCreateEntitlement(ctx, userID)
		r.metrics.RecordStorageOperation("get_or_create_entitlement", time.Since(start), err)
		if err != nil {
			return nil, err
		}
		r.cache.Set(userID, ent, r.cacheTTL)
		return ent, nil
	})
	if err != nil {
		if r.fallback != nil && r.fallback.ShouldFallback(err) {
			if ent, ferr := r.fallback.GetFallbackEntitlement(ctx, userID); ferr == nil {
				return ent, nil
			}
		}
		return nil, err
	}

	return v.(*Entitlement).clone(), nil
}

// Ping checks the storage backend
func (r *Reconciler) Ping(ctx context.Context) error {
	return r.storage.Ping(ctx)
}

// PruneEvents drops ledger entries older than retention, when the backend
// supports it. Returns 0 otherwise.
func (r *Reconciler) PruneEvents(ctx context.Context, retention time.Duration) (int64, error) {
	pruner, ok := r.storage.(EventPruner)
	if !ok || retention <= 0 {
		return 0, nil
	}
	n, err := pruner.PruneEvents(ctx, time.Now().Add(-retention))
	if err != nil {
		return 0, err
	}
	if n > 0 {
		r.logger.Info("pruned webhook ledger", Field{"removed", n})
	}
	return n, nil
}
