// Package firestore provides a Firestore implementation of the entitlement.Storage interface.
// Webhook events are applied inside a Firestore transaction together with the
// entitlement write they carry.
package firestore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/mihaimyh/goentitle/pkg/entitlement"
)

// Storage implements entitlement.Storage using Google Cloud Firestore
type Storage struct {
	client                 *firestore.Client
	entitlementsCollection string
	eventsCollection       string
	now                    func() time.Time
}

// Config holds Firestore storage configuration
type Config struct {
	// EntitlementsCollection is the Firestore collection for user entitlements
	// Default: "entitlements"
	EntitlementsCollection string

	// EventsCollection is the Firestore collection for the webhook ledger
	// Default: "webhook_events"
	EventsCollection string
}

// New creates a new Firestore storage adapter
func New(client *firestore.Client, config Config) (*Storage, error) {
	if client == nil {
		return nil, fmt.Errorf("firestore client is required")
	}

	if config.EntitlementsCollection == "" {
		config.EntitlementsCollection = "entitlements"
	}
	if config.EventsCollection == "" {
		config.EventsCollection = "webhook_events"
	}

	return &Storage{
		client:                 client,
		entitlementsCollection: config.EntitlementsCollection,
		eventsCollection:       config.EventsCollection,
		now:                    func() time.Time { return time.Now().UTC() },
	}, nil
}

// GetEntitlement implements entitlement.EntitlementStore
func (s *Storage) GetEntitlement(ctx context.Context, userID string) (*entitlement.Entitlement, error) {
	snap, err := s.entitlementDoc(userID).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, entitlement.ErrEntitlementNotFound
		}
		return nil, fmt.Errorf("failed to get entitlement: %w", err)
	}
	if !snap.Exists() {
		return nil, entitlement.ErrEntitlementNotFound
	}
	return entitlementFromData(userID, snap.Data()), nil
}

// GetOrCreateEntitlement implements entitlement.EntitlementStore
func (s *Storage) GetOrCreateEntitlement(ctx context.Context, userID string) (*entitlement.Entitlement, error) {
	if userID == "" {
		return nil, entitlement.ErrInvalidUserID
	}

	doc := s.entitlementDoc(userID)
	var result *entitlement.Entitlement

	err := s.client.RunTransaction(ctx, func(_ context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(doc)
		if err == nil && snap.Exists() {
			result = entitlementFromData(userID, snap.Data())
			return nil
		}
		if err != nil && status.Code(err) != codes.NotFound {
			return err
		}

		def := entitlement.Default(userID)
		def.UpdatedAt = s.now()
		result = def
		return tx.Create(doc, entitlementData(def))
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get or create entitlement: %w", err)
	}
	return result, nil
}

// SetEntitlement implements entitlement.EntitlementStore
func (s *Storage) SetEntitlement(ctx context.Context, ent *entitlement.Entitlement) (*entitlement.Entitlement, error) {
	if ent == nil || ent.UserID == "" {
		return nil, fmt.Errorf("invalid entitlement: %w", entitlement.ErrInvalidUserID)
	}

	stored := *ent
	stored.UpdatedAt = s.now()

	if _, err := s.entitlementDoc(ent.UserID).Set(ctx, entitlementData(&stored)); err != nil {
		return nil, fmt.Errorf("failed to set entitlement: %w", err)
	}
	return &stored, nil
}

// RecordEvent implements entitlement.Ledger. Create fails with AlreadyExists
// for a known event id, which makes the insert atomic.
func (s *Storage) RecordEvent(ctx context.Context, ev *entitlement.ProcessedEvent) (bool, error) {
	if ev == nil || ev.EventID == "" {
		return false, entitlement.ErrInvalidEventID
	}

	_, err := s.eventDoc(ev.EventID).Create(ctx, s.eventData(ev))
	if err != nil {
		if status.Code(err) == codes.AlreadyExists {
			return false, nil
		}
		return false, fmt.Errorf("failed to record event: %w", err)
	}
	return true, nil
}

// GetEvent implements entitlement.Ledger
func (s *Storage) GetEvent(ctx context.Context, eventID string) (*entitlement.ProcessedEvent, error) {
	snap, err := s.eventDoc(eventID).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get event: %w", err)
	}
	if !snap.Exists() {
		return nil, nil
	}

	data := snap.Data()
	return &entitlement.ProcessedEvent{
		EventID:     eventID,
		Provider:    getString(data, "provider"),
		ProcessedAt: getTime(data, "processedAt"),
	}, nil
}

// ApplyEvent implements entitlement.Storage
func (s *Storage) ApplyEvent(ctx context.Context, ev *entitlement.ProcessedEvent,
	ent *entitlement.Entitlement) (bool, *entitlement.Entitlement, error) {
	if ev == nil || ev.EventID == "" {
		return false, nil, entitlement.ErrInvalidEventID
	}
	if ent == nil || ent.UserID == "" {
		return false, nil, entitlement.ErrInvalidUserID
	}

	eventDoc := s.eventDoc(ev.EventID)
	entDoc := s.entitlementDoc(ent.UserID)

	var applied bool
	var stored *entitlement.Entitlement

	err := s.client.RunTransaction(ctx, func(_ context.Context, tx *firestore.Transaction) error {
		// the closure may run more than once
		applied, stored = false, nil

		snap, err := tx.Get(eventDoc)
		if err == nil && snap.Exists() {
			return nil
		}
		if err != nil && status.Code(err) != codes.NotFound {
			return err
		}

		out := *ent
		out.UpdatedAt = s.now()
		if err := tx.Create(eventDoc, s.eventData(ev)); err != nil {
			return err
		}
		if err := tx.Set(entDoc, entitlementData(&out)); err != nil {
			return err
		}
		applied, stored = true, &out
		return nil
	})
	if err != nil {
		return false, nil, fmt.Errorf("failed to apply event: %w", err)
	}
	return applied, stored, nil
}

// PruneEvents implements entitlement.EventPruner
func (s *Storage) PruneEvents(ctx context.Context, olderThan time.Time) (int64, error) {
	iter := s.client.Collection(s.eventsCollection).
		Where("processedAt", "<", olderThan.UTC()).
		Documents(ctx)
	defer iter.Stop()

	bw := s.client.BulkWriter(ctx)
	var removed int64
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			bw.End()
			return removed, fmt.Errorf("failed to list events: %w", err)
		}
		if _, err := bw.Delete(snap.Ref); err != nil {
			bw.End()
			return removed, fmt.Errorf("failed to delete event: %w", err)
		}
		removed++
	}
	bw.End()
	return removed, nil
}

// Ping checks that Firestore answers a read
func (s *Storage) Ping(ctx context.Context) error {
	_, err := s.client.Collection(s.eventsCollection).Doc("_ping").Get(ctx)
	if err != nil && status.Code(err) != codes.NotFound {
		return err
	}
	return nil
}

func (s *Storage) entitlementDoc(userID string) *firestore.DocumentRef {
	return s.client.Collection(s.entitlementsCollection).Doc(userID)
}

func (s *Storage) eventDoc(eventID string) *firestore.DocumentRef {
	return s.client.Collection(s.eventsCollection).Doc(eventID)
}

func (s *Storage) eventData(ev *entitlement.ProcessedEvent) map[string]interface{} {
	processedAt := ev.ProcessedAt
	if processedAt.IsZero() {
		processedAt = s.now()
	}
	return map[string]interface{}{
		"provider":    ev.Provider,
		"processedAt": processedAt,
	}
}

func entitlementData(ent *entitlement.Entitlement) map[string]interface{} {
	var source interface{}
	if ent.Source != "" {
		source = ent.Source
	}
	return map[string]interface{}{
		"isPro":     ent.IsPro,
		"source":    source,
		"updatedAt": ent.UpdatedAt,
	}
}

func entitlementFromData(userID string, data map[string]interface{}) *entitlement.Entitlement {
	isPro, _ := data["isPro"].(bool)
	return &entitlement.Entitlement{
		UserID:    userID,
		IsPro:     isPro,
		Source:    getString(data, "source"),
		UpdatedAt: getTime(data, "updatedAt"),
	}
}

func getString(data map[string]interface{}, key string) string {
	if v, ok := data[key].(string); ok {
		return v
	}
	return ""
}

func getTime(data map[string]interface{}, key string) time.Time {
	if v, ok := data[key].(time.Time); ok {
		return v
	}
	return time.Time{}
}
