package redis

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mihaimyh/goentitle/pkg/entitlement"
)

// setupTestRedis creates a Redis client for testing
// Requires Redis running on localhost:6379
func setupTestRedis(t *testing.T) *redis.Client {
	t.Helper()

	client := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
		DB:   15, // Use DB 15 for testing
	})

	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		t.Skipf("Redis not available: %v", err)
	}

	if err := client.FlushDB(ctx).Err(); err != nil {
		t.Fatalf("Failed to flush test database: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })

	return client
}

func setupTestStorage(t *testing.T, config Config) *Storage {
	t.Helper()
	storage, err := New(setupTestRedis(t), config)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	return storage
}

func TestNew(t *testing.T) {
	if _, err := New(nil, DefaultConfig()); err == nil {
		t.Error("Expected error for nil client")
	}

	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	defer client.Close()

	storage, err := New(client, Config{})
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	if storage.config.KeyPrefix != "goentitle:" {
		t.Errorf("Expected default prefix, got %q", storage.config.KeyPrefix)
	}
	if got := storage.entitlementKey("u1"); got != "goentitle:entitlement:u1" {
		t.Errorf("entitlementKey = %q", got)
	}
	if got := storage.eventKey("evt_1"); got != "goentitle:event:evt_1" {
		t.Errorf("eventKey = %q", got)
	}
}

func TestTTLSeconds(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want string
	}{
		{0, "0"},
		{-time.Second, "0"},
		{500 * time.Millisecond, "1"},
		{90 * time.Second, "90"},
	}
	for _, tt := range tests {
		if got := ttlSeconds(tt.in); got != tt.want {
			t.Errorf("ttlSeconds(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestStorage_Entitlements(t *testing.T) {
	storage := setupTestStorage(t, DefaultConfig())
	ctx := context.Background()

	if _, err := storage.GetEntitlement(ctx, "user1"); !errors.Is(err, entitlement.ErrEntitlementNotFound) {
		t.Fatalf("Expected ErrEntitlementNotFound, got %v", err)
	}

	ent, err := storage.GetOrCreateEntitlement(ctx, "user1")
	if err != nil {
		t.Fatalf("GetOrCreateEntitlement failed: %v", err)
	}
	if ent.IsPro || ent.Source != "" || ent.UpdatedAt.IsZero() {
		t.Errorf("Expected default entitlement, got %+v", ent)
	}

	if _, err := storage.SetEntitlement(ctx, &entitlement.Entitlement{UserID: "user1", IsPro: true, Source: "client"}); err != nil {
		t.Fatalf("SetEntitlement failed: %v", err)
	}
	ent, err = storage.GetOrCreateEntitlement(ctx, "user1")
	if err != nil {
		t.Fatalf("GetOrCreateEntitlement failed: %v", err)
	}
	if !ent.IsPro || ent.Source != "client" {
		t.Errorf("Expected stored entitlement to survive, got %+v", ent)
	}

	// clearing the source removes the field
	if _, err := storage.SetEntitlement(ctx, &entitlement.Entitlement{UserID: "user1"}); err != nil {
		t.Fatalf("SetEntitlement failed: %v", err)
	}
	ent, _ = storage.GetEntitlement(ctx, "user1")
	if ent.IsPro || ent.Source != "" {
		t.Errorf("Expected cleared entitlement, got %+v", ent)
	}
}

func TestStorage_ApplyEvent(t *testing.T) {
	storage := setupTestStorage(t, DefaultConfig())
	ctx := context.Background()

	ev := &entitlement.ProcessedEvent{EventID: "evt_1", Provider: "revenuecat"}
	applied, stored, err := storage.ApplyEvent(ctx, ev,
		&entitlement.Entitlement{UserID: "u1", IsPro: true, Source: "revenuecat"})
	if err != nil || !applied || !stored.IsPro {
		t.Fatalf("First apply: applied=%v stored=%+v err=%v", applied, stored, err)
	}

	applied, stored, err = storage.ApplyEvent(ctx, ev,
		&entitlement.Entitlement{UserID: "u1", IsPro: false, Source: "revenuecat"})
	if err != nil || applied || stored != nil {
		t.Fatalf("Duplicate apply: applied=%v stored=%+v err=%v", applied, stored, err)
	}

	ent, _ := storage.GetEntitlement(ctx, "u1")
	if !ent.IsPro {
		t.Error("Duplicate event must not change state")
	}

	got, err := storage.GetEvent(ctx, "evt_1")
	if err != nil || got == nil || got.Provider != "revenuecat" || got.ProcessedAt.IsZero() {
		t.Errorf("GetEvent: %+v %v", got, err)
	}
	if got, _ := storage.GetEvent(ctx, "evt_missing"); got != nil {
		t.Errorf("Expected nil for unknown event, got %+v", got)
	}
}

func TestStorage_RecordEvent_Concurrent(t *testing.T) {
	storage := setupTestStorage(t, DefaultConfig())
	ctx := context.Background()

	var wg sync.WaitGroup
	var inserted atomic.Int32
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := storage.RecordEvent(ctx, &entitlement.ProcessedEvent{EventID: "evt_race", Provider: "p"})
			if err != nil {
				t.Errorf("RecordEvent failed: %v", err)
				return
			}
			if ok {
				inserted.Add(1)
			}
		}()
	}
	wg.Wait()

	if n := inserted.Load(); n != 1 {
		t.Errorf("Expected exactly one insert, got %d", n)
	}
}

func TestStorage_EventTTL(t *testing.T) {
	client := setupTestRedis(t)
	storage, err := New(client, Config{KeyPrefix: "ttl:", EventTTL: time.Hour})
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := storage.RecordEvent(ctx, &entitlement.ProcessedEvent{EventID: fmt.Sprintf("e%d", i), Provider: "p"}); err != nil {
			t.Fatal(err)
		}
	}

	ttl, err := client.TTL(ctx, "ttl:event:e0").Result()
	if err != nil {
		t.Fatal(err)
	}
	if ttl <= 0 || ttl > time.Hour {
		t.Errorf("Expected event TTL within an hour, got %v", ttl)
	}
}
