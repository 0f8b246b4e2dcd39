package server

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	goredis "github.com/redis/go-redis/v9"

	"github.com/mihaimyh/goentitle/internal/config"
	"github.com/mihaimyh/goentitle/pkg/entitlement"
	fsstore "github.com/mihaimyh/goentitle/storage/firestore"
	"github.com/mihaimyh/goentitle/storage/memory"
	"github.com/mihaimyh/goentitle/storage/postgres"
	"github.com/mihaimyh/goentitle/storage/redis"
	"github.com/mihaimyh/goentitle/storage/tiered"
)

// hotEntitlementTTL bounds how long the tiered Redis copy may lag a
// write that bypassed it.
const hotEntitlementTTL = time.Hour

// openedStorage is a backend plus the function that releases it.
type openedStorage struct {
	storage entitlement.Storage
	close   func()

	// prunes reports whether the backend expires ledger entries itself
	prunes bool
}

func openStorage(ctx context.Context, cfg *config.Config, logger entitlement.Logger) (*openedStorage, error) {
	switch cfg.StorageBackend {
	case config.BackendMemory:
		return &openedStorage{storage: memory.New(), close: func() {}}, nil

	case config.BackendPostgres:
		pg, err := openPostgres(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
		return &openedStorage{storage: pg, close: pg.Close, prunes: true}, nil

	case config.BackendRedis:
		rs, err := openRedis(cfg, redis.Config{EventTTL: cfg.LedgerRetention})
		if err != nil {
			return nil, err
		}
		return &openedStorage{storage: rs, close: func() { _ = rs.Close() }, prunes: true}, nil

	case config.BackendFirestore:
		client, err := firestore.NewClient(ctx, cfg.FirestoreProjectID)
		if err != nil {
			return nil, fmt.Errorf("failed to create firestore client: %w", err)
		}
		fs, err := fsstore.New(client, fsstore.Config{})
		if err != nil {
			_ = client.Close()
			return nil, err
		}
		return &openedStorage{storage: fs, close: func() { _ = client.Close() }}, nil

	case config.BackendTiered:
		pg, err := openPostgres(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
		hot, err := openRedis(cfg, redis.Config{EntitlementTTL: hotEntitlementTTL})
		if err != nil {
			pg.Close()
			return nil, err
		}
		ts, err := tiered.New(tiered.Config{
			Hot:  hot,
			Cold: pg,
			HotErrorHandler: func(err error) {
				logger.Warn("tiered hot storage error", entitlement.Field{Key: "error", Value: err.Error()})
			},
		})
		if err != nil {
			_ = hot.Close()
			pg.Close()
			return nil, err
		}
		return &openedStorage{
			storage: ts,
			close: func() {
				_ = ts.Close()
				_ = hot.Close()
				pg.Close()
			},
			prunes: true,
		}, nil
	}

	return nil, fmt.Errorf("unknown storage backend %q", cfg.StorageBackend)
}

func openPostgres(ctx context.Context, cfg *config.Config, logger entitlement.Logger) (*postgres.Storage, error) {
	pgCfg := postgres.DefaultConfig()
	pgCfg.ConnectionString = cfg.DatabaseURL
	pgCfg.MaxConns = int32(cfg.DatabasePoolMax)
	if pgCfg.MinConns > pgCfg.MaxConns {
		pgCfg.MinConns = pgCfg.MaxConns
	}
	pgCfg.AutoMigrate = cfg.DatabaseMigrate
	pgCfg.RetentionTTL = cfg.LedgerRetention
	pgCfg.Logger = logger

	return postgres.New(ctx, pgCfg)
}

func openRedis(cfg *config.Config, rc redis.Config) (*redis.Storage, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	return redis.New(client, rc)
}
