package entitlement

import (
	"context"
	"time"
)

// SourceClient is the provenance tag recorded for client-reported state when
// the caller does not name one.
const SourceClient = "client"

// Entitlement is the durable, one-row-per-user pro flag.
// An empty Source means no signal has ever set the record.
type Entitlement struct {
	UserID    string
	IsPro     bool
	Source    string
	UpdatedAt time.Time
}

// Default returns the record materialized for a user that has never been seen.
func Default(userID string) *Entitlement {
	return &Entitlement{UserID: userID}
}

func (e *Entitlement) clone() *Entitlement {
	if e == nil {
		return nil
	}
	c := *e
	return &c
}

// ProcessedEvent is a ledger entry for a webhook event that has been applied.
// Entries are created once and never updated.
type ProcessedEvent struct {
	EventID     string
	Provider    string
	ProcessedAt time.Time
}

// SyncMode selects whether client-originated writes are accepted.
type SyncMode string

const (
	// SyncModeClient accepts entitlement pushes from authenticated clients.
	SyncModeClient SyncMode = "client"
	// SyncModeServer only accepts server-side signals (webhooks, restore).
	SyncModeServer SyncMode = "server"
)

// Valid reports whether m is a known sync mode.
func (m SyncMode) Valid() bool {
	return m == SyncModeClient || m == SyncModeServer
}

// CacheConfig holds read cache configuration
type CacheConfig struct {
	// Enabled determines if caching is active
	Enabled bool

	// TTL is how long a cached entitlement is served (default: 30 seconds)
	TTL time.Duration

	// MaxEntries is the maximum number of cached entitlements (default: 1000)
	MaxEntries int
}

// CircuitBreakerConfig holds circuit breaker configuration
type CircuitBreakerConfig struct {
	// Enabled determines if the circuit breaker is active
	Enabled bool

	// FailureThreshold is the number of consecutive failures before opening the circuit (default: 5)
	FailureThreshold int

	// ResetTimeout is the duration to wait before transitioning from Open to Half-Open (default: 30 seconds)
	ResetTimeout time.Duration
}

// FallbackConfig controls serving the last cached entitlement when storage is unreachable.
type FallbackConfig struct {
	Enabled bool
}

// Config configures a Reconciler.
type Config struct {
	// SyncMode gates Sync. Defaults to SyncModeClient.
	SyncMode SyncMode

	// CacheConfig configures the read cache (optional)
	CacheConfig *CacheConfig

	// CircuitBreakerConfig wraps storage in a breaker when enabled (optional)
	CircuitBreakerConfig *CircuitBreakerConfig

	// FallbackConfig serves cached entitlements on storage outage (optional, needs CacheConfig)
	FallbackConfig *FallbackConfig

	// Metrics is used for tracking reconciler operations (default: NoopMetrics)
	Metrics Metrics

	// Logger is used for structured logging (default: NoopLogger)
	Logger Logger

	// OnChange is invoked after every committed write (optional)
	OnChange ChangeHandler
}

// Entry paths that commit entitlement writes.
const (
	PathWebhook = "webhook"
	PathSync    = "sync"
	PathRestore = "restore"
)

// ChangeHandler receives every committed entitlement write with the path that made it.
type ChangeHandler func(ctx context.Context, ent *Entitlement, path string)
