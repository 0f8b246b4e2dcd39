package memory

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mihaimyh/goentitle/pkg/entitlement"
)

func TestStorage_GetEntitlement_NotFound(t *testing.T) {
	storage := New()

	_, err := storage.GetEntitlement(context.Background(), "user1")
	if !errors.Is(err, entitlement.ErrEntitlementNotFound) {
		t.Errorf("Expected ErrEntitlementNotFound, got %v", err)
	}
}

func TestStorage_GetOrCreateEntitlement_Default(t *testing.T) {
	storage := New()
	ctx := context.Background()

	ent, err := storage.GetOrCreateEntitlement(ctx, "user1")
	if err != nil {
		t.Fatalf("GetOrCreateEntitlement failed: %v", err)
	}
	if ent.IsPro || ent.Source != "" {
		t.Errorf("Expected default row, got %+v", ent)
	}

	// the default row is now persisted
	if _, err := storage.GetEntitlement(ctx, "user1"); err != nil {
		t.Errorf("Expected materialized row, got %v", err)
	}
}

func TestStorage_GetOrCreateEntitlement_Existing(t *testing.T) {
	storage := New()
	ctx := context.Background()

	if _, err := storage.SetEntitlement(ctx, &entitlement.Entitlement{UserID: "user1", IsPro: true, Source: "revenuecat"}); err != nil {
		t.Fatalf("SetEntitlement failed: %v", err)
	}

	ent, err := storage.GetOrCreateEntitlement(ctx, "user1")
	if err != nil {
		t.Fatalf("GetOrCreateEntitlement failed: %v", err)
	}
	if !ent.IsPro || ent.Source != "revenuecat" {
		t.Errorf("Expected stored row, got %+v", ent)
	}
}

func TestStorage_SetEntitlement_LastWriterWins(t *testing.T) {
	storage := New()
	ctx := context.Background()

	if _, err := storage.SetEntitlement(ctx, &entitlement.Entitlement{UserID: "user1", IsPro: true, Source: "revenuecat"}); err != nil {
		t.Fatalf("SetEntitlement failed: %v", err)
	}
	stored, err := storage.SetEntitlement(ctx, &entitlement.Entitlement{UserID: "user1", IsPro: false, Source: "client"})
	if err != nil {
		t.Fatalf("SetEntitlement failed: %v", err)
	}
	if stored.IsPro || stored.Source != "client" || stored.UpdatedAt.IsZero() {
		t.Errorf("Unexpected stored value: %+v", stored)
	}
}

func TestStorage_SetEntitlement_Invalid(t *testing.T) {
	storage := New()

	if _, err := storage.SetEntitlement(context.Background(), &entitlement.Entitlement{}); err == nil {
		t.Error("Expected error for empty user id")
	}
}

func TestStorage_Invalidate(t *testing.T) {
	storage := New()
	ctx := context.Background()

	if _, err := storage.SetEntitlement(ctx, &entitlement.Entitlement{UserID: "user1", IsPro: true}); err != nil {
		t.Fatalf("SetEntitlement failed: %v", err)
	}
	if err := storage.Invalidate(ctx, "user1"); err != nil {
		t.Fatalf("Invalidate failed: %v", err)
	}
	if _, err := storage.GetEntitlement(ctx, "user1"); !errors.Is(err, entitlement.ErrEntitlementNotFound) {
		t.Errorf("Expected ErrEntitlementNotFound after Invalidate, got %v", err)
	}
}

func TestStorage_RecordEvent(t *testing.T) {
	storage := New()
	ctx := context.Background()

	first, err := storage.RecordEvent(ctx, &entitlement.ProcessedEvent{EventID: "evt_1", Provider: "revenuecat"})
	if err != nil {
		t.Fatalf("RecordEvent failed: %v", err)
	}
	if !first {
		t.Error("Expected first insert to report new")
	}

	again, err := storage.RecordEvent(ctx, &entitlement.ProcessedEvent{EventID: "evt_1", Provider: "revenuecat"})
	if err != nil {
		t.Fatalf("RecordEvent failed: %v", err)
	}
	if again {
		t.Error("Expected duplicate insert to report existing")
	}

	ev, err := storage.GetEvent(ctx, "evt_1")
	if err != nil || ev == nil {
		t.Fatalf("GetEvent = %v, %v", ev, err)
	}
	if ev.Provider != "revenuecat" || ev.ProcessedAt.IsZero() {
		t.Errorf("Unexpected ledger entry: %+v", ev)
	}

	missing, err := storage.GetEvent(ctx, "evt_2")
	if err != nil || missing != nil {
		t.Errorf("Expected nil, nil for unknown event, got %v, %v", missing, err)
	}
}

func TestStorage_RecordEvent_Concurrent(t *testing.T) {
	storage := New()
	ctx := context.Background()

	var inserted int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := storage.RecordEvent(ctx, &entitlement.ProcessedEvent{EventID: "evt_race", Provider: "p"})
			if err != nil {
				t.Errorf("RecordEvent failed: %v", err)
				return
			}
			if ok {
				atomic.AddInt32(&inserted, 1)
			}
		}()
	}
	wg.Wait()

	if inserted != 1 {
		t.Errorf("Expected exactly one insert, got %d", inserted)
	}
}

func TestStorage_ApplyEvent(t *testing.T) {
	storage := New()
	ctx := context.Background()

	ev := &entitlement.ProcessedEvent{EventID: "evt_1", Provider: "revenuecat"}
	applied, stored, err := storage.ApplyEvent(ctx, ev, &entitlement.Entitlement{UserID: "u1", IsPro: true, Source: "revenuecat"})
	if err != nil {
		t.Fatalf("ApplyEvent failed: %v", err)
	}
	if !applied || stored == nil || !stored.IsPro {
		t.Fatalf("Expected applied pro row, got %v %+v", applied, stored)
	}

	applied, stored, err = storage.ApplyEvent(ctx, ev, &entitlement.Entitlement{UserID: "u1", IsPro: false, Source: "revenuecat"})
	if err != nil {
		t.Fatalf("ApplyEvent failed: %v", err)
	}
	if applied || stored != nil {
		t.Errorf("Expected duplicate to be a no-op, got %v %+v", applied, stored)
	}

	ent, _ := storage.GetEntitlement(ctx, "u1")
	if !ent.IsPro {
		t.Error("Duplicate event must not change state")
	}
}

func TestStorage_PruneEvents(t *testing.T) {
	storage := New()
	ctx := context.Background()

	old := time.Now().Add(-48 * time.Hour)
	if _, err := storage.RecordEvent(ctx, &entitlement.ProcessedEvent{EventID: "old", ProcessedAt: old}); err != nil {
		t.Fatal(err)
	}
	if _, err := storage.RecordEvent(ctx, &entitlement.ProcessedEvent{EventID: "new"}); err != nil {
		t.Fatal(err)
	}

	removed, err := storage.PruneEvents(ctx, time.Now().Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("PruneEvents failed: %v", err)
	}
	if removed != 1 {
		t.Errorf("Expected 1 removed, got %d", removed)
	}
	if ev, _ := storage.GetEvent(ctx, "new"); ev == nil {
		t.Error("Recent event should survive pruning")
	}
}
