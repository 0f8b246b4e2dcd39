package entitlement

import (
	"sync"
	"time"
)

// Cache holds entitlement snapshots keyed by user id. It is never
// authoritative: the server uses it to absorb reads, the client uses it
// as the last-known value to render.
type Cache interface {
	// Get retrieves a fresh cached entitlement
	// Returns the entitlement and true if found and not expired
	Get(userID string) (*Entitlement, bool)

	// Peek retrieves a cached entitlement even if its TTL has passed
	Peek(userID string) (*Entitlement, bool)

	// Set stores an entitlement; ttl <= 0 keeps it until evicted or invalidated
	Set(userID string, ent *Entitlement, ttl time.Duration)

	// Invalidate removes a user's entry
	Invalidate(userID string)

	// Clear removes all entries from the cache
	Clear()

	// Stats returns cache statistics
	Stats() CacheStats
}

// CacheStats holds cache performance statistics
type CacheStats struct {
	Hits      int64
	Misses    int64
	Evictions int64
	Size      int
}

type cacheEntry struct {
	value      *Entitlement
	expiration time.Time // zero = no expiry
	accessTime time.Time
	sequence   int64 // tiebreak when access times are equal
}

func (e *cacheEntry) isExpired(now time.Time) bool {
	return !e.expiration.IsZero() && now.After(e.expiration)
}

// NoopCache is used when caching is disabled
type NoopCache struct{}

// NewNoopCache creates a new no-op cache
func NewNoopCache() *NoopCache {
	return &NoopCache{}
}

func (c *NoopCache) Get(_ string) (*Entitlement, bool) {
	return nil, false
}

func (c *NoopCache) Peek(_ string) (*Entitlement, bool) {
	return nil, false
}

func (c *NoopCache) Set(_ string, _ *Entitlement, _ time.Duration) {}

func (c *NoopCache) Invalidate(_ string) {}

func (c *NoopCache) Clear() {}

func (c *NoopCache) Stats() CacheStats {
	return CacheStats{}
}

// LRUCache implements Cache using an in-memory LRU map with TTL support
type LRUCache struct {
	mu         sync.Mutex
	entries    map[string]*cacheEntry
	maxEntries int
	hits       int64
	misses     int64
	evictions  int64
	sequence   int64
}

// NewLRUCache creates a new LRU cache holding at most maxEntries users
func NewLRUCache(maxEntries int) *LRUCache {
	if maxEntries <= 0 {
		maxEntries = 1000
	}
	return &LRUCache{
		entries:    make(map[string]*cacheEntry, maxEntries),
		maxEntries: maxEntries,
	}
}

func (c *LRUCache) Get(userID string) (*Entitlement, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	entry, exists := c.entries[userID]
	if !exists || entry.isExpired(now) {
		c.misses++
		return nil, false
	}

	entry.accessTime = now
	c.hits++
	return entry.value.clone(), true
}

func (c *LRUCache) Peek(userID string) (*Entitlement, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, exists := c.entries[userID]
	if !exists {
		return nil, false
	}
	return entry.value.clone(), true
}

func (c *LRUCache) Set(userID string, ent *Entitlement, ttl time.Duration) {
	if ent == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	if _, exists := c.entries[userID]; !exists && len(c.entries) >= c.maxEntries {
		c.evictOldest()
	}

	var expiration time.Time
	if ttl > 0 {
		expiration = now.Add(ttl)
	}

	seq := c.sequence
	c.sequence++
	c.entries[userID] = &cacheEntry{
		value:      ent.clone(),
		expiration: expiration,
		accessTime: now,
		sequence:   seq,
	}
}

// evictOldest drops the least recently used entry (oldest accessTime, then oldest sequence).
func (c *LRUCache) evictOldest() {
	var oldestKey string
	var oldestTime time.Time
	var oldestSeq int64
	first := true
	for key, entry := range c.entries {
		if first || entry.accessTime.Before(oldestTime) ||
			(entry.accessTime.Equal(oldestTime) && entry.sequence < oldestSeq) {
			oldestKey = key
			oldestTime = entry.accessTime
			oldestSeq = entry.sequence
			first = false
		}
	}
	if !first {
		delete(c.entries, oldestKey)
		c.evictions++
	}
}

func (c *LRUCache) Invalidate(userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, userID)
}

func (c *LRUCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*cacheEntry, c.maxEntries)
}

func (c *LRUCache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	return CacheStats{
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
		Size:      len(c.entries),
	}
}
