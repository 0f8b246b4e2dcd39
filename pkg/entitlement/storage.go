package entitlement

import (
	"context"
	"time"
)

// EntitlementStore persists one entitlement row per user.
type EntitlementStore interface {
	// GetEntitlement retrieves a user's entitlement
	// Returns ErrEntitlementNotFound if the user has no row
	GetEntitlement(ctx context.Context, userID string) (*Entitlement, error)

	// GetOrCreateEntitlement returns the stored row, atomically inserting
	// the default {isPro:false, source:null} row when absent
	GetOrCreateEntitlement(ctx context.Context, userID string) (*Entitlement, error)

	// SetEntitlement upserts the row for ent.UserID (last writer wins)
	// and returns the stored value, including the store-assigned UpdatedAt
	SetEntitlement(ctx context.Context, ent *Entitlement) (*Entitlement, error)
}

// Ledger is the idempotency record of processed webhook events.
type Ledger interface {
	// RecordEvent inserts the event if absent, as one atomic operation.
	// Returns true the first time an event id is seen, false for a duplicate.
	RecordEvent(ctx context.Context, ev *ProcessedEvent) (bool, error)

	// GetEvent retrieves a ledger entry
	// Returns nil if no entry exists (not an error)
	GetEvent(ctx context.Context, eventID string) (*ProcessedEvent, error)
}

// Storage is the full persistence contract used by the Reconciler.
type Storage interface {
	EntitlementStore
	Ledger

	// ApplyEvent records ev in the ledger and upserts ent in one atomic unit.
	// When the event id already exists nothing is written and applied is false.
	// The returned entitlement is the stored row when applied, nil otherwise.
	ApplyEvent(ctx context.Context, ev *ProcessedEvent, ent *Entitlement) (applied bool, stored *Entitlement, err error)

	// Ping checks that the backend is reachable
	Ping(ctx context.Context) error
}

// EventPruner is implemented by stores that can drop old ledger entries.
type EventPruner interface {
	// PruneEvents deletes ledger entries processed before olderThan
	// and returns how many were removed
	PruneEvents(ctx context.Context, olderThan time.Time) (int64, error)
}
