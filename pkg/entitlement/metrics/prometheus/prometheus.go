// Package prommetrics implements entitlement.Metrics with Prometheus collectors.
package prommetrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics implements entitlement.Metrics using Prometheus.
type Metrics struct {
	appliedTotal               *prometheus.CounterVec
	duplicateEventsTotal       *prometheus.CounterVec
	syncRejectedTotal          prometheus.Counter
	cacheHitsTotal             prometheus.Counter
	cacheMissesTotal           prometheus.Counter
	storageOpsDuration         *prometheus.HistogramVec
	storageOpsErrors           *prometheus.CounterVec
	circuitBreakerStateChanges *prometheus.CounterVec
	fallbackHitsTotal          prometheus.Counter
}

// NewMetrics creates a new Prometheus metrics implementation.
func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		appliedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "entitlement_writes_total",
			Help:      "Total number of committed entitlement writes.",
		}, []string{"path", "source", "is_pro"}),

		duplicateEventsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_duplicate_events_total",
			Help:      "Total number of webhook events rejected by the idempotency ledger.",
		}, []string{"provider"}),

		syncRejectedTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "client_sync_rejected_total",
			Help:      "Total number of client syncs refused in server sync mode.",
		}),

		cacheHitsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "entitlement_cache_hits_total",
			Help:      "Total number of entitlement cache hits.",
		}),

		cacheMissesTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "entitlement_cache_misses_total",
			Help:      "Total number of entitlement cache misses.",
		}),

		storageOpsDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "storage_operation_duration_seconds",
			Help:      "Latency of storage operations.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),

		storageOpsErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "storage_operation_errors_total",
			Help:      "Total number of storage operation errors.",
		}, []string{"operation"}),

		circuitBreakerStateChanges: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "circuit_breaker_state_changes_total",
			Help:      "Total number of circuit breaker state changes.",
		}, []string{"state"}),

		fallbackHitsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fallback_hits_total",
			Help:      "Total number of reads served from cache during a storage outage.",
		}),
	}
}

func (m *Metrics) RecordApply(path, source string, isPro bool) {
	m.appliedTotal.WithLabelValues(path, source, strconv.FormatBool(isPro)).Inc()
}

func (m *Metrics) RecordDuplicateEvent(provider string) {
	m.duplicateEventsTotal.WithLabelValues(provider).Inc()
}

func (m *Metrics) RecordSyncRejected() {
	m.syncRejectedTotal.Inc()
}

func (m *Metrics) RecordCacheHit() {
	m.cacheHitsTotal.Inc()
}

func (m *Metrics) RecordCacheMiss() {
	m.cacheMissesTotal.Inc()
}

func (m *Metrics) RecordStorageOperation(operation string, duration time.Duration, err error) {
	m.storageOpsDuration.WithLabelValues(operation).Observe(duration.Seconds())
	if err != nil {
		m.storageOpsErrors.WithLabelValues(operation).Inc()
	}
}

func (m *Metrics) RecordCircuitBreakerStateChange(state string) {
	m.circuitBreakerStateChanges.WithLabelValues(state).Inc()
}

func (m *Metrics) RecordFallbackHit() {
	m.fallbackHitsTotal.Inc()
}
