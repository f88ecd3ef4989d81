package cache

import (
	"fmt"
	"testing"
	"time"

	"github.com/codevet/codevet/internal/types"
)

func TestCacheSetGet(t *testing.T) {
	c := New[string, int](Config{Capacity: 4})

	c.Set("a", 1)
	c.Set("b", 2)

	if v, ok := c.Get("a"); !ok || v != 1 {
		t.Errorf("Get(a) = %d, %v; want 1, true", v, ok)
	}
	if v, ok := c.Get("b"); !ok || v != 2 {
		t.Errorf("Get(b) = %d, %v; want 2, true", v, ok)
	}
	if _, ok := c.Get("missing"); ok {
		t.Error("Get(missing) returned a value")
	}

	stats := c.Stats()
	if stats.Hits != 2 || stats.Misses != 1 || stats.Sets != 2 {
		t.Errorf("stats = %+v; want 2 hits, 1 miss, 2 sets", stats)
	}
}

func TestCacheEvictsLeastRecentlyUsed(t *testing.T) {
	c := New[string, int](Config{Capacity: 3})

	c.Set("a", 1)
	c.Set("b", 2)
	c.Set("c", 3)

	// Touch "a" so "b" becomes the least recently used.
	if _, ok := c.Get("a"); !ok {
		t.Fatal("Get(a) missed before eviction")
	}

	// Inserting capacity+1 distinct keys evicts exactly the LRU entry.
	c.Set("d", 4)

	if _, ok := c.Get("b"); ok {
		t.Error("expected b to be evicted")
	}
	for _, key := range []string{"a", "c", "d"} {
		if _, ok := c.Get(key); !ok {
			t.Errorf("expected %s to survive eviction", key)
		}
	}
	if stats := c.Stats(); stats.Evictions != 1 {
		t.Errorf("evictions = %d, want 1", stats.Evictions)
	}
}

func TestCacheTTLExpiry(t *testing.T) {
	c := New[string, int](Config{Capacity: 4, DefaultTTL: time.Minute})

	now := time.Now()
	c.now = func() time.Time { return now }

	c.SetTTL("a", 1, 30*time.Second)

	if _, ok := c.Get("a"); !ok {
		t.Fatal("Get(a) missed before expiry")
	}

	// Advance past the TTL; the entry must not be resurrected.
	now = now.Add(31 * time.Second)
	if _, ok := c.Get("a"); ok {
		t.Error("Get(a) returned a value past its TTL")
	}
	if _, ok := c.Get("a"); ok {
		t.Error("expired entry was resurrected")
	}

	stats := c.Stats()
	if stats.Expirations != 1 {
		t.Errorf("expirations = %d, want 1", stats.Expirations)
	}
}

func TestCacheZeroTTLNeverExpires(t *testing.T) {
	c := New[string, int](Config{Capacity: 4})

	now := time.Now()
	c.now = func() time.Time { return now }

	c.SetTTL("pinned", 42, 0)
	now = now.Add(24 * time.Hour)

	if v, ok := c.Get("pinned"); !ok || v != 42 {
		t.Errorf("Get(pinned) = %d, %v; want 42, true", v, ok)
	}
}

func TestCacheSetExistingRefreshes(t *testing.T) {
	c := New[string, int](Config{Capacity: 2})

	c.Set("a", 1)
	c.Set("b", 2)
	c.Set("a", 10) // refresh, not insert: no eviction

	if c.Len() != 2 {
		t.Errorf("len = %d, want 2", c.Len())
	}
	if v, _ := c.Get("a"); v != 10 {
		t.Errorf("Get(a) = %d, want 10", v)
	}
	if stats := c.Stats(); stats.Evictions != 0 {
		t.Errorf("evictions = %d, want 0", stats.Evictions)
	}
}

func TestCacheDelete(t *testing.T) {
	c := New[string, int](Config{Capacity: 4})

	c.Set("a", 1)
	if !c.Delete("a") {
		t.Error("Delete(a) = false, want true")
	}
	if c.Delete("a") {
		t.Error("second Delete(a) = true, want false")
	}
	if _, ok := c.Get("a"); ok {
		t.Error("Get(a) returned a value after delete")
	}
}

func TestCachePurgeExpired(t *testing.T) {
	c := New[string, int](Config{Capacity: 8, DefaultTTL: time.Minute})

	now := time.Now()
	c.now = func() time.Time { return now }

	c.Set("a", 1)
	c.Set("b", 2)
	c.SetTTL("c", 3, time.Hour)

	now = now.Add(2 * time.Minute)
	c.purgeExpired()

	if c.Len() != 1 {
		t.Errorf("len after purge = %d, want 1", c.Len())
	}
	if _, ok := c.Get("c"); !ok {
		t.Error("long-TTL entry was purged")
	}
}

func TestCacheHitRate(t *testing.T) {
	var s Stats
	if s.HitRate() != 0 {
		t.Errorf("empty hit rate = %f, want 0", s.HitRate())
	}

	s = Stats{Hits: 3, Misses: 1}
	if got := s.HitRate(); got != 0.75 {
		t.Errorf("hit rate = %f, want 0.75", got)
	}
}

func TestCacheSweepLifecycle(t *testing.T) {
	c := New[string, int](Config{Capacity: 4, SweepInterval: 10 * time.Millisecond})

	c.Start()
	c.Start() // second Start is a no-op
	c.Set("a", 1)
	c.Stop()

	// Stop after Stop must not panic or block.
	c.Stop()
}

func TestCacheRestartAfterStop(t *testing.T) {
	c := New[string, int](Config{Capacity: 4, SweepInterval: 10 * time.Millisecond})

	// Each Start gets a fresh sweep loop; a second cycle must not trip
	// over the first cycle's closed channels.
	for i := 0; i < 3; i++ {
		c.Start()
		c.Set("a", i)
		c.Stop()
	}

	if v, ok := c.Get("a"); !ok || v != 2 {
		t.Errorf("Get(a) = %d, %v, want 2 across restarts", v, ok)
	}
}

func TestManagerResultCache(t *testing.T) {
	m := NewManager(ManagerConfig{})

	inputs := []byte("src/main.go@abc123")
	result := &types.NormalizedResult{Tool: "golangci-lint", Status: types.StatusSuccess}

	if _, ok := m.GetResult("golangci-lint", inputs); ok {
		t.Fatal("unexpected hit on empty result cache")
	}

	m.SetResult("golangci-lint", inputs, result)

	got, ok := m.GetResult("golangci-lint", inputs)
	if !ok {
		t.Fatal("expected result cache hit")
	}
	if got.Tool != "golangci-lint" {
		t.Errorf("tool = %s, want golangci-lint", got.Tool)
	}

	// Same inputs under a different plugin name must miss.
	if _, ok := m.GetResult("eslint", inputs); ok {
		t.Error("result cache hit across plugin names")
	}

	m.InvalidateResults()
	if _, ok := m.GetResult("golangci-lint", inputs); ok {
		t.Error("result cache hit after invalidation")
	}
}

func TestManagerResultCapacityIsHalfGeneral(t *testing.T) {
	m := NewManager(ManagerConfig{General: Config{Capacity: 10, DefaultTTL: time.Minute}})

	// Insert 6 distinct results; capacity 5 forces one eviction.
	for i := 0; i < 6; i++ {
		m.SetResult("tool", []byte(fmt.Sprintf("input-%d", i)), &types.NormalizedResult{Tool: "tool"})
	}
	if stats := m.ResultStats(); stats.Evictions != 1 {
		t.Errorf("evictions = %d, want 1", stats.Evictions)
	}
}

func TestResultKeyDeterministic(t *testing.T) {
	k1 := ResultKey("eslint", []byte("inputs"))
	k2 := ResultKey("eslint", []byte("inputs"))
	k3 := ResultKey("eslint", []byte("other"))

	if k1 != k2 {
		t.Error("identical inputs produced different keys")
	}
	if k1 == k3 {
		t.Error("different inputs produced the same key")
	}
}
