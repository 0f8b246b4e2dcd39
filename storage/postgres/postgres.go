// Package postgres provides a PostgreSQL implementation of the entitlement.Storage interface.
// The ledger insert and the entitlement upsert of a webhook event share one transaction.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mihaimyh/goentitle/pkg/entitlement"
)

// Storage implements entitlement.Storage using PostgreSQL
type Storage struct {
	pool   *pgxpool.Pool
	config Config
	logger entitlement.Logger

	// stopCleanup cancels the background pruning goroutine
	stopCleanup func()
}

// Config holds PostgreSQL storage configuration
type Config struct {
	// ConnectionString is the PostgreSQL connection string
	ConnectionString string

	// Pool configuration
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration

	// AutoMigrate applies the embedded schema on startup
	AutoMigrate bool

	// Ledger pruning. RetentionTTL <= 0 keeps events forever.
	CleanupInterval time.Duration
	RetentionTTL    time.Duration

	Logger entitlement.Logger
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() Config {
	return Config{
		MaxConns:        10,
		MinConns:        2,
		MaxConnLifetime: time.Hour,
		MaxConnIdleTime: 30 * time.Minute,
		AutoMigrate:     true,
		CleanupInterval: time.Hour,
	}
}

// New creates a new PostgreSQL storage adapter
func New(ctx context.Context, config Config) (*Storage, error) {
	if config.ConnectionString == "" {
		return nil, fmt.Errorf("connection string is required")
	}
	if config.Logger == nil {
		config.Logger = &entitlement.NoopLogger{}
	}

	poolConfig, err := pgxpool.ParseConfig(config.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}

	// Apply pool settings
	if config.MaxConns > 0 {
		poolConfig.MaxConns = config.MaxConns
	}
	if config.MinConns > 0 {
		poolConfig.MinConns = config.MinConns
	}
	if config.MaxConnLifetime > 0 {
		poolConfig.MaxConnLifetime = config.MaxConnLifetime
	}
	if config.MaxConnIdleTime > 0 {
		poolConfig.MaxConnIdleTime = config.MaxConnIdleTime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if config.AutoMigrate {
		if err := Migrate(config.ConnectionString); err != nil {
			pool.Close()
			return nil, err
		}
	}

	cleanupCtx, cancel := context.WithCancel(context.Background())
	s := &Storage{
		pool:        pool,
		config:      config,
		logger:      config.Logger,
		stopCleanup: cancel,
	}

	if config.RetentionTTL > 0 && config.CleanupInterval > 0 {
		go s.startCleanup(cleanupCtx)
	}

	return s, nil
}

// Close closes the PostgreSQL connection pool and stops background pruning
func (s *Storage) Close() {
	if s.stopCleanup != nil {
		s.stopCleanup()
	}
	if s.pool != nil {
		s.pool.Close()
	}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntitlement(row rowScanner) (*entitlement.Entitlement, error) {
	var ent entitlement.Entitlement
	var source *string
	if err := row.Scan(&ent.UserID, &ent.IsPro, &source, &ent.UpdatedAt); err != nil {
		return nil, err
	}
	if source != nil {
		ent.Source = *source
	}
	return &ent, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

const selectEntitlement = `SELECT user_id, is_pro, source, updated_at FROM entitlements WHERE user_id = $1`

const upsertEntitlement = `INSERT INTO entitlements (user_id, is_pro, source, updated_at)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (user_id) DO UPDATE SET
				is_pro = EXCLUDED.is_pro,
				source = EXCLUDED.source,
				updated_at = EXCLUDED.updated_at
			RETURNING user_id, is_pro, source, updated_at`

// GetEntitlement implements entitlement.EntitlementStore
func (s *Storage) GetEntitlement(ctx context.Context, userID string) (*entitlement.Entitlement, error) {
	ent, err := scanEntitlement(s.pool.QueryRow(ctx, selectEntitlement, userID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, entitlement.ErrEntitlementNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get entitlement: %w", err)
	}
	return ent, nil
}

// GetOrCreateEntitlement implements entitlement.EntitlementStore. The insert
// never overwrites a row written concurrently.
func (s *Storage) GetOrCreateEntitlement(ctx context.Context, userID string) (*entitlement.Entitlement, error) {
	if userID == "" {
		return nil, entitlement.ErrInvalidUserID
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO entitlements (user_id, is_pro, source, updated_at)
			VALUES ($1, FALSE, NULL, $2)
			ON CONFLICT (user_id) DO NOTHING`,
		userID, time.Now().UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create entitlement: %w", err)
	}
	return s.GetEntitlement(ctx, userID)
}

// SetEntitlement implements entitlement.EntitlementStore
func (s *Storage) SetEntitlement(ctx context.Context, ent *entitlement.Entitlement) (*entitlement.Entitlement, error) {
	if ent == nil || ent.UserID == "" {
		return nil, entitlement.ErrInvalidUserID
	}

	stored, err := scanEntitlement(s.pool.QueryRow(ctx, upsertEntitlement,
		ent.UserID, ent.IsPro, nullable(ent.Source), time.Now().UTC()))
	if err != nil {
		return nil, fmt.Errorf("failed to set entitlement: %w", err)
	}
	return stored, nil
}

// RecordEvent implements entitlement.Ledger with a single insert-if-absent
func (s *Storage) RecordEvent(ctx context.Context, ev *entitlement.ProcessedEvent) (bool, error) {
	if ev == nil || ev.EventID == "" {
		return false, entitlement.ErrInvalidEventID
	}
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO webhook_events (id, provider, processed_at) VALUES ($1, $2, $3)
			ON CONFLICT (id) DO NOTHING`,
		ev.EventID, ev.Provider, time.Now().UTC(),
	)
	if err != nil {
		return false, fmt.Errorf("failed to record event: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// GetEvent implements entitlement.Ledger
func (s *Storage) GetEvent(ctx context.Context, eventID string) (*entitlement.ProcessedEvent, error) {
	var ev entitlement.ProcessedEvent
	err := s.pool.QueryRow(ctx,
		`SELECT id, provider, processed_at FROM webhook_events WHERE id = $1`,
		eventID).Scan(&ev.EventID, &ev.Provider, &ev.ProcessedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get event: %w", err)
	}
	return &ev, nil
}

// ApplyEvent implements entitlement.Storage. The ledger row and the
// entitlement commit together or not at all.
func (s *Storage) ApplyEvent(ctx context.Context, ev *entitlement.ProcessedEvent,
	ent *entitlement.Entitlement) (bool, *entitlement.Entitlement, error) {
	if ev == nil || ev.EventID == "" {
		return false, nil, entitlement.ErrInvalidEventID
	}
	if ent == nil || ent.UserID == "" {
		return false, nil, entitlement.ErrInvalidUserID
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return false, nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx) // no-op after commit
	}()

	now := time.Now().UTC()
	tag, err := tx.Exec(ctx,
		`INSERT INTO webhook_events (id, provider, processed_at) VALUES ($1, $2, $3)
			ON CONFLICT (id) DO NOTHING`,
		ev.EventID, ev.Provider, now,
	)
	if err != nil {
		return false, nil, fmt.Errorf("failed to record event: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return false, nil, nil
	}

	stored, err := scanEntitlement(tx.QueryRow(ctx, upsertEntitlement,
		ent.UserID, ent.IsPro, nullable(ent.Source), now))
	if err != nil {
		return false, nil, fmt.Errorf("failed to set entitlement: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return false, nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return true, stored, nil
}

// PruneEvents implements entitlement.EventPruner
func (s *Storage) PruneEvents(ctx context.Context, olderThan time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM webhook_events WHERE processed_at < $1`, olderThan.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to prune events: %w", err)
	}
	return tag.RowsAffected(), nil
}

// startCleanup periodically prunes ledger rows older than RetentionTTL
func (s *Storage) startCleanup(ctx context.Context) {
	ticker := time.NewTicker(s.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.PruneEvents(ctx, time.Now().Add(-s.config.RetentionTTL))
			if err != nil {
				s.logger.Warn("ledger pruning failed", entitlement.Field{Key: "error", Value: err.Error()})
				continue
			}
			if n > 0 {
				s.logger.Info("pruned webhook ledger", entitlement.Field{Key: "removed", Value: n})
			}
		}
	}
}

// Ping checks the PostgreSQL connection
func (s *Storage) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}
