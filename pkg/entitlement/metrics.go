package entitlement

import "time"

// Metrics defines the interface for tracking reconciler operations.
type Metrics interface {
	// RecordApply records a committed entitlement write by entry path ("webhook", "sync", "restore").
	RecordApply(path, source string, isPro bool)

	// RecordDuplicateEvent records a webhook event rejected by the ledger.
	RecordDuplicateEvent(provider string)

	// RecordSyncRejected records a client sync refused because of the sync mode.
	RecordSyncRejected()

	// RecordCacheHit records a read cache hit.
	RecordCacheHit()

	// RecordCacheMiss records a read cache miss.
	RecordCacheMiss()

	// RecordStorageOperation records the duration and status of a storage operation.
	RecordStorageOperation(operation string, duration time.Duration, err error)

	// RecordCircuitBreakerStateChange records a circuit breaker state change.
	RecordCircuitBreakerStateChange(state string)

	// RecordFallbackHit records a read served from cache during a storage outage.
	RecordFallbackHit()
}

// NoopMetrics is a no-op implementation of the Metrics interface.
type NoopMetrics struct{}

func (n *NoopMetrics) RecordApply(path, source string, isPro bool)                                {}
func (n *NoopMetrics) RecordDuplicateEvent(provider string)                                       {}
func (n *NoopMetrics) RecordSyncRejected()                                                        {}
func (n *NoopMetrics) RecordCacheHit()                                                            {}
func (n *NoopMetrics) RecordCacheMiss()                                                           {}
func (n *NoopMetrics) RecordStorageOperation(operation string, duration time.Duration, err error) {}
func (n *NoopMetrics) RecordCircuitBreakerStateChange(state string)                               {}
func (n *NoopMetrics) RecordFallbackHit()                                                         {}
