package cache

import (
	"container/list"
	"sync"
	"time"
)

// Cache is a bounded key-value store with LRU eviction and per-entry TTLs.
// All methods are safe for concurrent use by worker tasks.
//
// Invariant: a value returned by Get was Set no longer ago than its TTL and
// has not been evicted by capacity pressure since.
type Cache[K comparable, V any] struct {
	mu         sync.Mutex
	capacity   int
	defaultTTL time.Duration

	entries map[K]*list.Element
	// lru orders entries front = most recently used, back = least.
	lru *list.List

	stats Stats

	sweepInterval time.Duration
	stopCh        chan struct{}
	doneCh        chan struct{}
	started       bool

	// now is injectable for tests
	now func() time.Time
}

// entry is the internal record for one cached value. It is never exposed to
// callers.
type entry[K comparable, V any] struct {
	key         K
	value       V
	createdAt   time.Time
	ttl         time.Duration // 0 means no expiry
	accessCount uint64
	lastAccess  time.Time
}

// Stats holds running cache counters and a derived hit rate.
type Stats struct {
	Hits        uint64
	Misses      uint64
	Sets        uint64
	Deletes     uint64
	Evictions   uint64
	Expirations uint64
}

// HitRate returns hits/(hits+misses), or 0 with no lookups yet.
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// Config holds cache configuration for one instance.
type Config struct {
	// Capacity is the maximum number of entries (default: 256)
	Capacity int
	// DefaultTTL applies to entries set without an explicit TTL (default: 10m)
	DefaultTTL time.Duration
	// SweepInterval is how often expired entries are purged in the
	// background (default: 1m)
	SweepInterval time.Duration
}

// DefaultConfig returns default cache configuration.
func DefaultConfig() Config {
	return Config{
		Capacity:      256,
		DefaultTTL:    10 * time.Minute,
		SweepInterval: time.Minute,
	}
}

// New creates a cache. Zero-value config fields fall back to defaults.
func New[K comparable, V any](cfg Config) *Cache[K, V] {
	def := DefaultConfig()
	if cfg.Capacity <= 0 {
		cfg.Capacity = def.Capacity
	}
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = def.DefaultTTL
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = def.SweepInterval
	}

	return &Cache[K, V]{
		capacity:      cfg.Capacity,
		defaultTTL:    cfg.DefaultTTL,
		entries:       make(map[K]*list.Element, cfg.Capacity),
		lru:           list.New(),
		sweepInterval: cfg.SweepInterval,
		now:           time.Now,
	}
}

// Get returns the value for key and refreshes its recency. Expired or absent
// keys count as misses; an expired entry is removed, never resurrected.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	elem, ok := c.entries[key]
	if !ok {
		c.stats.Misses++
		return zero, false
	}

	ent := elem.Value.(*entry[K, V])
	if c.expired(ent) {
		c.removeElement(elem)
		c.stats.Expirations++
		c.stats.Misses++
		return zero, false
	}

	ent.accessCount++
	ent.lastAccess = c.now()
	c.lru.MoveToFront(elem)
	c.stats.Hits++
	return ent.value, true
}

// Set stores value under key with the default TTL.
func (c *Cache[K, V]) Set(key K, value V) {
	c.SetTTL(key, value, c.defaultTTL)
}

// SetTTL stores value under key with an explicit TTL. A zero or negative ttl
// means the entry never expires. At capacity the least-recently-used entry is
// evicted first; the new entry is inserted at the most-recently-used position.
func (c *Cache[K, V]) SetTTL(key K, value V, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	c.stats.Sets++

	if elem, ok := c.entries[key]; ok {
		ent := elem.Value.(*entry[K, V])
		ent.value = value
		ent.createdAt = now
		ent.ttl = ttl
		ent.lastAccess = now
		c.lru.MoveToFront(elem)
		return
	}

	if c.lru.Len() >= c.capacity {
		c.evictOldest()
	}

	ent := &entry[K, V]{
		key:        key,
		value:      value,
		createdAt:  now,
		ttl:        ttl,
		lastAccess: now,
	}
	c.entries[key] = c.lru.PushFront(ent)
}

// Delete removes key from the cache. Returns true if the key was present.
func (c *Cache[K, V]) Delete(key K) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.entries[key]
	if !ok {
		return false
	}
	c.removeElement(elem)
	c.stats.Deletes++
	return true
}

// Purge removes every entry without touching hit/miss counters.
func (c *Cache[K, V]) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[K]*list.Element, c.capacity)
	c.lru.Init()
}

// Len returns the current number of entries, expired or not.
func (c *Cache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// Stats returns a copy of the running counters.
func (c *Cache[K, V]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// Start launches the background sweep goroutine. Calling Start more than
// once is a no-op; a stopped cache can be started again.
func (c *Cache[K, V]) Start() {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return
	}
	c.started = true
	// Fresh channels each start so the loop never reuses a closed stopCh.
	c.stopCh = make(chan struct{})
	c.doneCh = make(chan struct{})
	stopCh, doneCh := c.stopCh, c.doneCh
	c.mu.Unlock()

	go c.sweepLoop(stopCh, doneCh)
}

// Stop cancels the background sweep and waits for it to exit.
func (c *Cache[K, V]) Stop() {
	c.mu.Lock()
	if !c.started {
		c.mu.Unlock()
		return
	}
	c.started = false
	stopCh, doneCh := c.stopCh, c.doneCh
	c.mu.Unlock()

	close(stopCh)
	<-doneCh
}

func (c *Cache[K, V]) sweepLoop(stopCh, doneCh chan struct{}) {
	defer close(doneCh)

	ticker := time.NewTicker(c.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			c.purgeExpired()
		}
	}
}

// purgeExpired removes every entry past its TTL.
func (c *Cache[K, V]) purgeExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for elem := c.lru.Back(); elem != nil; {
		prev := elem.Prev()
		if c.expired(elem.Value.(*entry[K, V])) {
			c.removeElement(elem)
			c.stats.Expirations++
		}
		elem = prev
	}
}

func (c *Cache[K, V]) expired(ent *entry[K, V]) bool {
	if ent.ttl <= 0 {
		return false
	}
	return c.now().Sub(ent.createdAt) >= ent.ttl
}

func (c *Cache[K, V]) evictOldest() {
	elem := c.lru.Back()
	if elem == nil {
		return
	}
	c.removeElement(elem)
	c.stats.Evictions++
}

func (c *Cache[K, V]) removeElement(elem *list.Element) {
	ent := elem.Value.(*entry[K, V])
	delete(c.entries, ent.key)
	c.lru.Remove(elem)
}
