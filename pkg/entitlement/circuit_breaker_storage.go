package entitlement

import (
	"context"
	"time"
)

// CircuitBreakerStorage wraps a Storage implementation with circuit breaker protection.
type CircuitBreakerStorage struct {
	storage Storage
	cb      CircuitBreaker
}

// NewCircuitBreakerStorage creates a new storage wrapper with circuit breaker.
func NewCircuitBreakerStorage(storage Storage, cb CircuitBreaker) *CircuitBreakerStorage {
	return &CircuitBreakerStorage{
		storage: storage,
		cb:      cb,
	}
}

func (s *CircuitBreakerStorage) GetEntitlement(ctx context.Context, userID string) (*Entitlement, error) {
	var ent *Entitlement
	err := s.cb.Execute(ctx, func() error {
		var e error
		ent, e = s.storage.GetEntitlement(ctx, userID)
		return e
	})
	return ent, err
}

func (s *CircuitBreakerStorage) GetOrCreateEntitlement(ctx context.Context, userID string) (*Entitlement, error) {
	var ent *Entitlement
	err := s.cb.Execute(ctx, func() error {
		var e error
		ent, e = s.storage.GetOrCreateEntitlement(ctx, userID)
		return e
	})
	return ent, err
}

func (s *CircuitBreakerStorage) SetEntitlement(ctx context.Context, ent *Entitlement) (*Entitlement, error) {
	var stored *Entitlement
	err := s.cb.Execute(ctx, func() error {
		var e error
		stored, e = s.storage.SetEntitlement(ctx, ent)
		return e
	})
	return stored, err
}

func (s *CircuitBreakerStorage) RecordEvent(ctx context.Context, ev *ProcessedEvent) (bool, error) {
	var inserted bool
	err := s.cb.Execute(ctx, func() error {
		var e error
		inserted, e = s.storage.RecordEvent(ctx, ev)
		return e
	})
	return inserted, err
}

func (s *CircuitBreakerStorage) GetEvent(ctx context.Context, eventID string) (*ProcessedEvent, error) {
	var ev *ProcessedEvent
	err := s.cb.Execute(ctx, func() error {
		var e error
		ev, e = s.storage.GetEvent(ctx, eventID)
		return e
	})
	return ev, err
}

func (s *CircuitBreakerStorage) ApplyEvent(ctx context.Context, ev *ProcessedEvent,
	ent *Entitlement) (bool, *Entitlement, error) {
	var (
		applied bool
		stored  *Entitlement
	)
	err := s.cb.Execute(ctx, func() error {
		var e error
		applied, stored, e = s.storage.ApplyEvent(ctx, ev, ent)
		return e
	})
	return applied, stored, err
}

func (s *CircuitBreakerStorage) Ping(ctx context.Context) error {
	return s.cb.Execute(ctx, func() error {
		return s.storage.Ping(ctx)
	})
}

// PruneEvents forwards to the wrapped store when it supports pruning.
func (s *CircuitBreakerStorage) PruneEvents(ctx context.Context, olderThan time.Time) (int64, error) {
	pruner, ok := s.storage.(EventPruner)
	if !ok {
		return 0, nil
	}
	var n int64
	err := s.cb.Execute(ctx, func() error {
		var e error
		n, e = pruner.PruneEvents(ctx, olderThan)
		return e
	})
	return n, err
}
