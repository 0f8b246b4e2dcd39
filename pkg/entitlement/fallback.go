package entitlement

import (
	"context"
	"errors"
)

// CacheFallbackStrategy serves the last cached entitlement when storage fails.
type CacheFallbackStrategy struct {
	cache   Cache
	metrics Metrics
	logger  Logger
}

// NewCacheFallbackStrategy creates a new cache fallback strategy
func NewCacheFallbackStrategy(cache Cache, metrics Metrics, logger Logger) *CacheFallbackStrategy {
	return &CacheFallbackStrategy{
		cache:   cache,
		metrics: metrics,
		logger:  logger,
	}
}

// ShouldFallback reports whether err is an outage rather than a request error
func (s *CacheFallbackStrategy) ShouldFallback(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrCircuitOpen) ||
		errors.Is(err, ErrStorageUnavailable) ||
		isContextError(err)
}

// GetFallbackEntitlement returns the cached value regardless of its TTL
func (s *CacheFallbackStrategy) GetFallbackEntitlement(_ context.Context, userID string) (*Entitlement, error) {
	if s.cache == nil {
		return nil, ErrFallbackUnavailable
	}

	ent, found := s.cache.Peek(userID)
	if !found {
		return nil, ErrFallbackUnavailable
	}

	s.metrics.RecordFallbackHit()
	s.logger.Info("serving cached entitlement during storage outage",
		Field{"userId", userID},
		Field{"isPro", ent.IsPro},
	)
	return ent, nil
}

func isContextError(err error) bool {
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
}
