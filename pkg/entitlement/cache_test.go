package entitlement

import (
	"testing"
	"time"
)

func TestLRUCache_GetSetInvalidate(t *testing.T) {
	cache := NewLRUCache(10)

	if _, found := cache.Get("user1"); found {
		t.Error("Expected cache miss for non-existent entitlement")
	}

	cache.Set("user1", &Entitlement{UserID: "user1", IsPro: true, Source: "revenuecat"}, time.Minute)

	cached, found := cache.Get("user1")
	if !found {
		t.Fatal("Expected cache hit")
	}
	if !cached.IsPro || cached.Source != "revenuecat" {
		t.Errorf("Cached entitlement mismatch: got %+v", cached)
	}

	// callers get copies
	cached.IsPro = false
	again, _ := cache.Get("user1")
	if !again.IsPro {
		t.Error("Mutating a returned value must not change the cache")
	}

	cache.Invalidate("user1")
	if _, found := cache.Get("user1"); found {
		t.Error("Expected cache miss after invalidation")
	}

	stats := cache.Stats()
	if stats.Hits != 2 || stats.Misses != 2 {
		t.Errorf("Unexpected stats: %+v", stats)
	}
}

func TestLRUCache_Expiration(t *testing.T) {
	cache := NewLRUCache(10)
	cache.Set("user1", &Entitlement{UserID: "user1", IsPro: true}, 10*time.Millisecond)

	time.Sleep(20 * time.Millisecond)

	if _, found := cache.Get("user1"); found {
		t.Error("Expected expired entry to miss")
	}
	if _, found := cache.Peek("user1"); !found {
		t.Error("Peek should still return an expired entry")
	}
}

func TestLRUCache_NoTTL(t *testing.T) {
	cache := NewLRUCache(10)
	cache.Set("user1", &Entitlement{UserID: "user1"}, 0)

	time.Sleep(5 * time.Millisecond)
	if _, found := cache.Get("user1"); !found {
		t.Error("Entry without TTL should not expire")
	}
}

func TestLRUCache_Eviction(t *testing.T) {
	cache := NewLRUCache(2)

	cache.Set("a", &Entitlement{UserID: "a"}, time.Minute)
	cache.Set("b", &Entitlement{UserID: "b"}, time.Minute)
	time.Sleep(time.Millisecond)
	cache.Get("a") // b becomes least recently used
	cache.Set("c", &Entitlement{UserID: "c"}, time.Minute)

	if _, found := cache.Get("b"); found {
		t.Error("Expected b to be evicted")
	}
	if _, found := cache.Get("a"); !found {
		t.Error("Expected a to survive")
	}
	if cache.Stats().Evictions != 1 {
		t.Errorf("Expected 1 eviction, got %d", cache.Stats().Evictions)
	}
}

func TestLRUCache_Clear(t *testing.T) {
	cache := NewLRUCache(0)
	cache.Set("a", &Entitlement{UserID: "a"}, time.Minute)
	cache.Clear()

	if cache.Stats().Size != 0 {
		t.Error("Expected empty cache after Clear")
	}
}

func TestNoopCache(t *testing.T) {
	cache := NewNoopCache()
	cache.Set("a", &Entitlement{UserID: "a"}, time.Minute)

	if _, found := cache.Get("a"); found {
		t.Error("NoopCache should never hit")
	}
}
