package entitlement

import "errors"

var (
	// ErrInvalidUserID is returned for an empty user id
	ErrInvalidUserID = errors.New("invalid user id")

	// ErrInvalidEventID is returned when a ledger entry has no event id
	ErrInvalidEventID = errors.New("invalid event id")

	// ErrEntitlementNotFound is returned by stores when a user has no row yet
	ErrEntitlementNotFound = errors.New("entitlement not found")

	// ErrStorageUnavailable is returned when storage is unavailable
	ErrStorageUnavailable = errors.New("storage unavailable")

	// ErrClientSyncDisabled is returned by Sync when the reconciler runs in server mode
	ErrClientSyncDisabled = errors.New("client sync disabled")

	// ErrInvalidSyncMode is returned for an unknown sync mode
	ErrInvalidSyncMode = errors.New("invalid sync mode")

	// ErrFallbackUnavailable is returned when no cached value can stand in for storage
	ErrFallbackUnavailable = errors.New("fallback unavailable")
)
