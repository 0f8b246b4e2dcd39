// Package redis provides a Redis implementation of the entitlement.Storage interface.
// Ledger inserts and entitlement writes run as Lua scripts so each call is atomic.
//
// On Redis Cluster the webhook apply script touches an event key and an
// entitlement key; use a KeyPrefix with a hash tag (for example "{goentitle}:")
// so both land in the same slot.
package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mihaimyh/goentitle/pkg/entitlement"
)

// Storage implements entitlement.Storage using Redis hashes
type Storage struct {
	client  redis.UniversalClient
	config  Config
	scripts map[string]*redis.Script
	now     func() time.Time
}

// Config holds Redis storage configuration
type Config struct {
	// KeyPrefix is prepended to all Redis keys (default: "goentitle:")
	KeyPrefix string

	// EntitlementTTL is the TTL for entitlement keys (0 = no expiration).
	// Only set this when Redis is a cache in front of a durable store.
	EntitlementTTL time.Duration

	// EventTTL bounds how long ledger entries are kept (0 = forever)
	EventTTL time.Duration
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() Config {
	return Config{
		KeyPrefix: "goentitle:",
	}
}

// New creates a new Redis storage adapter
// The client can be *redis.Client, *redis.ClusterClient, or *redis.Ring
func New(client redis.UniversalClient, config Config) (*Storage, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if config.KeyPrefix == "" {
		config.KeyPrefix = "goentitle:"
	}

	s := &Storage{
		client:  client,
		config:  config,
		scripts: make(map[string]*redis.Script),
		now:     func() time.Time { return time.Now().UTC() },
	}
	s.loadScripts()

	return s, nil
}

func (s *Storage) loadScripts() {
	// KEYS[1] entitlement; ARGV updated_at, ttl
	s.scripts["getOrCreate"] = redis.NewScript(`
		if redis.call('EXISTS', KEYS[1]) == 0 then
			redis.call('HSET', KEYS[1], 'is_pro', '0', 'updated_at', ARGV[1])
			local ttl = tonumber(ARGV[2])
			if ttl > 0 then
				redis.call('EXPIRE', KEYS[1], ttl)
			end
		end
		return redis.call('HGETALL', KEYS[1])
	`)

	// KEYS[1] entitlement; ARGV is_pro, source, updated_at, ttl
	s.scripts["set"] = redis.NewScript(`
		redis.call('HSET', KEYS[1], 'is_pro', ARGV[1], 'updated_at', ARGV[3])
		if ARGV[2] == '' then
			redis.call('HDEL', KEYS[1], 'source')
		else
			redis.call('HSET', KEYS[1], 'source', ARGV[2])
		end
		local ttl = tonumber(ARGV[4])
		if ttl > 0 then
			redis.call('EXPIRE', KEYS[1], ttl)
		else
			redis.call('PERSIST', KEYS[1])
		end
		return 1
	`)

	// KEYS[1] event; ARGV provider, processed_at, ttl
	s.scripts["record"] = redis.NewScript(`
		if redis.call('EXISTS', KEYS[1]) == 1 then
			return 0
		end
		redis.call('HSET', KEYS[1], 'provider', ARGV[1], 'processed_at', ARGV[2])
		local ttl = tonumber(ARGV[3])
		if ttl > 0 then
			redis.call('EXPIRE', KEYS[1], ttl)
		end
		return 1
	`)

	// KEYS[1] event, KEYS[2] entitlement
	// ARGV provider, processed_at, event ttl, is_pro, source, updated_at, entitlement ttl
	s.scripts["apply"] = redis.NewScript(`
		if redis.call('EXISTS', KEYS[1]) == 1 then
			return 0
		end
		redis.call('HSET', KEYS[1], 'provider', ARGV[1], 'processed_at', ARGV[2])
		local eventTTL = tonumber(ARGV[3])
		if eventTTL > 0 then
			redis.call('EXPIRE', KEYS[1], eventTTL)
		end

		redis.call('HSET', KEYS[2], 'is_pro', ARGV[4], 'updated_at', ARGV[6])
		if ARGV[5] == '' then
			redis.call('HDEL', KEYS[2], 'source')
		else
			redis.call('HSET', KEYS[2], 'source', ARGV[5])
		end
		local entTTL = tonumber(ARGV[7])
		if entTTL > 0 then
			redis.call('EXPIRE', KEYS[2], entTTL)
		else
			redis.call('PERSIST', KEYS[2])
		end
		return 1
	`)
}

// GetEntitlement implements entitlement.EntitlementStore
func (s *Storage) GetEntitlement(ctx context.Context, userID string) (*entitlement.Entitlement, error) {
	fields, err := s.client.HGetAll(ctx, s.entitlementKey(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get entitlement: %w", err)
	}
	if len(fields) == 0 {
		return nil, entitlement.ErrEntitlementNotFound
	}
	return parseEntitlement(userID, fields)
}

// GetOrCreateEntitlement implements entitlement.EntitlementStore
func (s *Storage) GetOrCreateEntitlement(ctx context.Context, userID string) (*entitlement.Entitlement, error) {
	if userID == "" {
		return nil, entitlement.ErrInvalidUserID
	}

	pairs, err := s.scripts["getOrCreate"].Run(ctx, s.client,
		[]string{s.entitlementKey(userID)},
		formatTime(s.now()), ttlSeconds(s.config.EntitlementTTL),
	).StringSlice()
	if err != nil {
		return nil, fmt.Errorf("failed to get or create entitlement: %w", err)
	}
	return parseEntitlement(userID, pairsToMap(pairs))
}

// SetEntitlement implements entitlement.EntitlementStore
func (s *Storage) SetEntitlement(ctx context.Context, ent *entitlement.Entitlement) (*entitlement.Entitlement, error) {
	if ent == nil || ent.UserID == "" {
		return nil, fmt.Errorf("invalid entitlement: %w", entitlement.ErrInvalidUserID)
	}

	stored := *ent
	stored.UpdatedAt = s.now()

	err := s.scripts["set"].Run(ctx, s.client,
		[]string{s.entitlementKey(ent.UserID)},
		formatBool(stored.IsPro), stored.Source, formatTime(stored.UpdatedAt),
		ttlSeconds(s.config.EntitlementTTL),
	).Err()
	if err != nil {
		return nil, fmt.Errorf("failed to set entitlement: %w", err)
	}
	return &stored, nil
}

// RecordEvent implements entitlement.Ledger
func (s *Storage) RecordEvent(ctx context.Context, ev *entitlement.ProcessedEvent) (bool, error) {
	if ev == nil || ev.EventID == "" {
		return false, entitlement.ErrInvalidEventID
	}

	processedAt := ev.ProcessedAt
	if processedAt.IsZero() {
		processedAt = s.now()
	}

	n, err := s.scripts["record"].Run(ctx, s.client,
		[]string{s.eventKey(ev.EventID)},
		ev.Provider, formatTime(processedAt), ttlSeconds(s.config.EventTTL),
	).Int()
	if err != nil {
		return false, fmt.Errorf("failed to record event: %w", err)
	}
	return n == 1, nil
}

// GetEvent implements entitlement.Ledger
func (s *Storage) GetEvent(ctx context.Context, eventID string) (*entitlement.ProcessedEvent, error) {
	fields, err := s.client.HGetAll(ctx, s.eventKey(eventID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get event: %w", err)
	}
	if len(fields) == 0 {
		return nil, nil
	}

	processedAt, err := parseTime(fields["processed_at"])
	if err != nil {
		return nil, fmt.Errorf("failed to parse event %s: %w", eventID, err)
	}
	return &entitlement.ProcessedEvent{
		EventID:     eventID,
		Provider:    fields["provider"],
		ProcessedAt: processedAt,
	}, nil
}

// ApplyEvent implements entitlement.Storage in a single script call
func (s *Storage) ApplyEvent(ctx context.Context, ev *entitlement.ProcessedEvent,
	ent *entitlement.Entitlement) (bool, *entitlement.Entitlement, error) {
	if ev == nil || ev.EventID == "" {
		return false, nil, entitlement.ErrInvalidEventID
	}
	if ent == nil || ent.UserID == "" {
		return false, nil, entitlement.ErrInvalidUserID
	}

	now := s.now()
	processedAt := ev.ProcessedAt
	if processedAt.IsZero() {
		processedAt = now
	}
	stored := *ent
	stored.UpdatedAt = now

	n, err := s.scripts["apply"].Run(ctx, s.client,
		[]string{s.eventKey(ev.EventID), s.entitlementKey(ent.UserID)},
		ev.Provider, formatTime(processedAt), ttlSeconds(s.config.EventTTL),
		formatBool(stored.IsPro), stored.Source, formatTime(stored.UpdatedAt),
		ttlSeconds(s.config.EntitlementTTL),
	).Int()
	if err != nil {
		return false, nil, fmt.Errorf("failed to apply event: %w", err)
	}
	if n == 0 {
		return false, nil, nil
	}
	return true, &stored, nil
}

// Invalidate drops the cached entitlement key for userID
func (s *Storage) Invalidate(ctx context.Context, userID string) error {
	return s.client.Del(ctx, s.entitlementKey(userID)).Err()
}

// Close closes the Redis client connection
func (s *Storage) Close() error {
	return s.client.Close()
}

// Ping checks the Redis connection
func (s *Storage) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *Storage) entitlementKey(userID string) string {
	return s.config.KeyPrefix + "entitlement:" + userID
}

func (s *Storage) eventKey(eventID string) string {
	return s.config.KeyPrefix + "event:" + eventID
}

func parseEntitlement(userID string, fields map[string]string) (*entitlement.Entitlement, error) {
	updatedAt, err := parseTime(fields["updated_at"])
	if err != nil {
		return nil, fmt.Errorf("failed to parse entitlement for %s: %w", userID, err)
	}
	return &entitlement.Entitlement{
		UserID:    userID,
		IsPro:     fields["is_pro"] == "1",
		Source:    fields["source"],
		UpdatedAt: updatedAt,
	}, nil
}

func pairsToMap(pairs []string) map[string]string {
	m := make(map[string]string, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		m[pairs[i]] = pairs[i+1]
	}
	return m
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, v)
}

func formatBool(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

func ttlSeconds(d time.Duration) string {
	if d <= 0 {
		return "0"
	}
	secs := int64(d / time.Second)
	if secs < 1 {
		secs = 1
	}
	return strconv.FormatInt(secs, 10)
}
