// Package tiered provides a Hot/Cold tiered storage adapter that puts a fast
// entitlement copy (Hot, typically Redis) in front of the durable store (Cold,
// typically Postgres).
//
// Strategies per operation:
//   - Read-Through: entitlement reads (Hot → Cold → populate Hot)
//   - Write-Through: entitlement writes (Cold → Hot)
//   - Cold-Only: the webhook ledger and ApplyEvent, so the atomic boundary
//     lives in one store; the Hot copy is refreshed after a new event applies
//
// A Hot copy that may be stale is dropped rather than kept: writes invalidate
// Hot before touching Cold, and a failed Hot refresh invalidates again. Cold
// access and the Hot refresh that follows it run under a per-user lock so
// Hot sees writes from this process in commit order.
package tiered

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/mihaimyh/goentitle/pkg/entitlement"
)

// Config configures the tiered storage behavior
type Config struct {
	// Hot holds the fast entitlement copy (e.g., Redis, Memory)
	Hot entitlement.EntitlementStore

	// Cold is the source of truth (e.g., Postgres, Firestore)
	Cold entitlement.Storage

	// AsyncHotWrites refreshes the Hot copy from a background worker instead
	// of inline with the write. Reads may see the previous Hot value briefly.
	AsyncHotWrites bool

	// SyncBufferSize is the size of the buffered channel for async operations.
	// Default: 1000
	SyncBufferSize int

	// HotErrorHandler is called when a Hot write or read fails.
	// Hot failures never fail the operation.
	HotErrorHandler func(error)
}

// Invalidator is implemented by Hot stores that can drop a user's copy.
// Without it a failed Hot refresh leaves the previous copy until it expires.
type Invalidator interface {
	Invalidate(ctx context.Context, userID string) error
}

const lockStripes = 64

// Storage implements entitlement.Storage over two backends
type Storage struct {
	hot  entitlement.EntitlementStore
	cold entitlement.Storage
	conf Config

	locks [lockStripes]sync.Mutex

	syncQueue chan func() error
	shutdown  chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// New creates a new tiered storage adapter.
func New(config Config) (*Storage, error) {
	if config.Hot == nil || config.Cold == nil {
		return nil, errors.New("tiered storage: both hot and cold storage are required")
	}

	if config.SyncBufferSize <= 0 {
		config.SyncBufferSize = 1000
	}

	s := &Storage{
		hot:       config.Hot,
		cold:      config.Cold,
		conf:      config,
		syncQueue: make(chan func() error, config.SyncBufferSize),
		shutdown:  make(chan struct{}),
	}

	if config.AsyncHotWrites {
		s.startWorker()
	}

	return s, nil
}

// Close stops the async worker after draining queued Hot writes.
func (s *Storage) Close() error {
	if s.conf.AsyncHotWrites {
		s.closeOnce.Do(func() {
			close(s.shutdown)
			s.wg.Wait()
		})
	}
	return nil
}

// startWorker processes Hot writes sequentially to keep per-user ordering.
func (s *Storage) startWorker() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			select {
			case job := <-s.syncQueue:
				s.reportHot(job())
			case <-s.shutdown:
				for {
					select {
					case job := <-s.syncQueue:
						s.reportHot(job())
					default:
						return
					}
				}
			}
		}
	}()
}

func (s *Storage) reportHot(err error) {
	if err != nil && s.conf.HotErrorHandler != nil {
		s.conf.HotErrorHandler(fmt.Errorf("tiered hot write failed: %w", err))
	}
}

func (s *Storage) userLock(userID string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(userID))
	return &s.locks[h.Sum32()%lockStripes]
}

// invalidateHot drops the user's Hot copy when Hot supports it.
func (s *Storage) invalidateHot(ctx context.Context, userID string) {
	inv, ok := s.hot.(Invalidator)
	if !ok {
		return
	}
	if err := inv.Invalidate(ctx, userID); err != nil {
		s.reportHot(fmt.Errorf("invalidate %s: %w", userID, err))
	}
}

func (s *Storage) writeHot(ctx context.Context, ent *entitlement.Entitlement) error {
	if _, err := s.hot.SetEntitlement(ctx, ent); err != nil {
		s.invalidateHot(ctx, ent.UserID)
		return err
	}
	return nil
}

// refreshHot copies a committed Cold row into Hot. Callers hold the user lock.
func (s *Storage) refreshHot(ctx context.Context, ent *entitlement.Entitlement) {
	if ent == nil {
		return
	}
	copied := *ent
	if !s.conf.AsyncHotWrites {
		s.reportHot(s.writeHot(ctx, &copied))
		return
	}

	// detach from the request so a finished request does not cancel the write
	job := func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.writeHot(ctx, &copied)
	}
	select {
	case s.syncQueue <- job:
	default:
		s.invalidateHot(ctx, copied.UserID)
		s.reportHot(errors.New("sync queue full, hot copy skipped"))
	}
}

// --- Strategy: Read-Through (Hot → Cold → Populate Hot) ---

// GetEntitlement implements entitlement.EntitlementStore with read-through strategy.
func (s *Storage) GetEntitlement(ctx context.Context, userID string) (*entitlement.Entitlement, error) {
	ent, err := s.hot.GetEntitlement(ctx, userID)
	if err == nil {
		return ent, nil
	}
	if !errors.Is(err, entitlement.ErrEntitlementNotFound) {
		s.reportHot(err)
	}

	mu := s.userLock(userID)
	mu.Lock()
	defer mu.Unlock()

	ent, err = s.cold.GetEntitlement(ctx, userID)
	if err != nil {
		return nil, err
	}
	s.refreshHot(ctx, ent)
	return ent, nil
}

// GetOrCreateEntitlement implements entitlement.EntitlementStore. Creation
// always happens in Cold.
func (s *Storage) GetOrCreateEntitlement(ctx context.Context, userID string) (*entitlement.Entitlement, error) {
	ent, err := s.hot.GetEntitlement(ctx, userID)
	if err == nil {
		return ent, nil
	}
	if !errors.Is(err, entitlement.ErrEntitlementNotFound) {
		s.reportHot(err)
	}

	mu := s.userLock(userID)
	mu.Lock()
	defer mu.Unlock()

	ent, err = s.cold.GetOrCreateEntitlement(ctx, userID)
	if err != nil {
		return nil, err
	}
	s.refreshHot(ctx, ent)
	return ent, nil
}

// --- Strategy: Write-Through (Cold → Hot) ---

// SetEntitlement implements entitlement.EntitlementStore with write-through strategy.
func (s *Storage) SetEntitlement(ctx context.Context, ent *entitlement.Entitlement) (*entitlement.Entitlement, error) {
	if ent == nil || ent.UserID == "" {
		return nil, fmt.Errorf("invalid entitlement: %w", entitlement.ErrInvalidUserID)
	}
	mu := s.userLock(ent.UserID)
	mu.Lock()
	defer mu.Unlock()

	s.invalidateHot(ctx, ent.UserID)
	stored, err := s.cold.SetEntitlement(ctx, ent)
	if err != nil {
		return nil, err
	}
	s.refreshHot(ctx, stored)
	return stored, nil
}

// --- Strategy: Cold-Only ---

// RecordEvent implements entitlement.Ledger
func (s *Storage) RecordEvent(ctx context.Context, ev *entitlement.ProcessedEvent) (bool, error) {
	return s.cold.RecordEvent(ctx, ev)
}

// GetEvent implements entitlement.Ledger
func (s *Storage) GetEvent(ctx context.Context, eventID string) (*entitlement.ProcessedEvent, error) {
	return s.cold.GetEvent(ctx, eventID)
}

// ApplyEvent implements entitlement.Storage
func (s *Storage) ApplyEvent(ctx context.Context, ev *entitlement.ProcessedEvent,
	ent *entitlement.Entitlement) (bool, *entitlement.Entitlement, error) {
	if ent == nil || ent.UserID == "" {
		return false, nil, entitlement.ErrInvalidUserID
	}
	mu := s.userLock(ent.UserID)
	mu.Lock()
	defer mu.Unlock()

	s.invalidateHot(ctx, ent.UserID)
	applied, stored, err := s.cold.ApplyEvent(ctx, ev, ent)
	if err != nil || !applied {
		return applied, stored, err
	}
	s.refreshHot(ctx, stored)
	return true, stored, nil
}

// PruneEvents implements entitlement.EventPruner when Cold supports it
func (s *Storage) PruneEvents(ctx context.Context, olderThan time.Time) (int64, error) {
	pruner, ok := s.cold.(entitlement.EventPruner)
	if !ok {
		return 0, nil
	}
	return pruner.PruneEvents(ctx, olderThan)
}

// Ping checks Cold. An unreachable Hot tier is reported to HotErrorHandler
// but does not fail the check, since reads fall through to Cold.
func (s *Storage) Ping(ctx context.Context) error {
	if err := s.cold.Ping(ctx); err != nil {
		return fmt.Errorf("cold storage: %w", err)
	}
	if p, ok := s.hot.(interface{ Ping(context.Context) error }); ok {
		s.reportHot(p.Ping(ctx))
	}
	return nil
}
