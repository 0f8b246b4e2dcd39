// Package memory provides an in-memory implementation of the entitlement.Storage interface.
// This implementation is primarily intended for testing and development.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mihaimyh/goentitle/pkg/entitlement"
)

// Storage implements entitlement.Storage using in-memory maps.
// A single mutex makes ledger insert and entitlement upsert atomic together.
type Storage struct {
	mu           sync.RWMutex
	entitlements map[string]*entitlement.Entitlement
	events       map[string]*entitlement.ProcessedEvent
	now          func() time.Time
}

// New creates a new in-memory storage adapter
func New() *Storage {
	return &Storage{
		entitlements: make(map[string]*entitlement.Entitlement),
		events:       make(map[string]*entitlement.ProcessedEvent),
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// GetEntitlement implements entitlement.EntitlementStore
func (s *Storage) GetEntitlement(_ context.Context, userID string) (*entitlement.Entitlement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ent, ok := s.entitlements[userID]
	if !ok {
		return nil, entitlement.ErrEntitlementNotFound
	}

	entCopy := *ent
	return &entCopy, nil
}

// GetOrCreateEntitlement implements entitlement.EntitlementStore
func (s *Storage) GetOrCreateEntitlement(_ context.Context, userID string) (*entitlement.Entitlement, error) {
	if userID == "" {
		return nil, entitlement.ErrInvalidUserID
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ent, ok := s.entitlements[userID]
	if !ok {
		ent = entitlement.Default(userID)
		ent.UpdatedAt = s.now()
		s.entitlements[userID] = ent
	}

	entCopy := *ent
	return &entCopy, nil
}

// SetEntitlement implements entitlement.EntitlementStore
func (s *Storage) SetEntitlement(_ context.Context, ent *entitlement.Entitlement) (*entitlement.Entitlement, error) {
	if ent == nil || ent.UserID == "" {
		return nil, fmt.Errorf("invalid entitlement: %w", entitlement.ErrInvalidUserID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.setLocked(ent), nil
}

func (s *Storage) setLocked(ent *entitlement.Entitlement) *entitlement.Entitlement {
	stored := *ent
	stored.UpdatedAt = s.now()
	s.entitlements[ent.UserID] = &stored

	out := stored
	return &out
}

// Invalidate removes the user's entitlement so the next read reports it missing.
func (s *Storage) Invalidate(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.entitlements, userID)
	return nil
}

// RecordEvent implements entitlement.Ledger
func (s *Storage) RecordEvent(_ context.Context, ev *entitlement.ProcessedEvent) (bool, error) {
	if ev == nil || ev.EventID == "" {
		return false, entitlement.ErrInvalidEventID
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.recordLocked(ev), nil
}

func (s *Storage) recordLocked(ev *entitlement.ProcessedEvent) bool {
	if _, exists := s.events[ev.EventID]; exists {
		return false
	}
	stored := *ev
	if stored.ProcessedAt.IsZero() {
		stored.ProcessedAt = s.now()
	}
	s.events[ev.EventID] = &stored
	return true
}

// GetEvent implements entitlement.Ledger
func (s *Storage) GetEvent(_ context.Context, eventID string) (*entitlement.ProcessedEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ev, ok := s.events[eventID]
	if !ok {
		return nil, nil
	}
	evCopy := *ev
	return &evCopy, nil
}

// ApplyEvent implements entitlement.Storage
func (s *Storage) ApplyEvent(_ context.Context, ev *entitlement.ProcessedEvent,
	ent *entitlement.Entitlement) (bool, *entitlement.Entitlement, error) {
	if ev == nil || ev.EventID == "" {
		return false, nil, entitlement.ErrInvalidEventID
	}
	if ent == nil || ent.UserID == "" {
		return false, nil, entitlement.ErrInvalidUserID
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.recordLocked(ev) {
		return false, nil, nil
	}
	return true, s.setLocked(ent), nil
}

// PruneEvents implements entitlement.EventPruner
func (s *Storage) PruneEvents(_ context.Context, olderThan time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed int64
	for id, ev := range s.events {
		if ev.ProcessedAt.Before(olderThan) {
			delete(s.events, id)
			removed++
		}
	}
	return removed, nil
}

// Ping implements entitlement.Storage
func (s *Storage) Ping(_ context.Context) error {
	return nil
}

// Clear removes all data (useful for testing)
func (s *Storage) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entitlements = make(map[string]*entitlement.Entitlement)
	s.events = make(map[string]*entitlement.ProcessedEvent)
}
