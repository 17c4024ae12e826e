package cache

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

// countingCache wraps a MemoryCache and counts tier accesses so tests
// can assert which tiers an operation touched.
type countingCache struct {
	*MemoryCache
	gets   atomic.Int64
	sets   atomic.Int64
	exists atomic.Int64
}

func newCountingCache() *countingCache {
	return &countingCache{MemoryCache: NewMemoryCache()}
}

func (c *countingCache) Get(ctx context.Context, key string) ([]byte, error) {
	c.gets.Add(1)
	return c.MemoryCache.Get(ctx, key)
}

func (c *countingCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	c.sets.Add(1)
	return c.MemoryCache.Set(ctx, key, value, ttl)
}

func (c *countingCache) Exists(ctx context.Context, key string) (bool, error) {
	c.exists.Add(1)
	return c.MemoryCache.Exists(ctx, key)
}

// brokenCache fails every networked operation, simulating a tier that
// lost connectivity.
type brokenCache struct{}

var errConnRefused = errors.New("dial tcp: connection refused")

func (brokenCache) Get(context.Context, string) ([]byte, error) { return nil, errConnRefused }
func (brokenCache) Set(context.Context, string, []byte, time.Duration) error {
	return errConnRefused
}
func (brokenCache) Delete(context.Context, string) error         { return errConnRefused }
func (brokenCache) Exists(context.Context, string) (bool, error) { return false, errConnRefused }
func (brokenCache) Ping(context.Context) error                   { return errConnRefused }
func (brokenCache) Close() error                                 { return nil }

func newThreeTier(t *testing.T) (*TieredCache, *MemoryCache, *MemoryCache, *countingCache) {
	t.Helper()
	hot := NewMemoryCache()
	warm := NewMemoryCache()
	cold := newCountingCache()
	tc, err := NewTieredCache(TieredConfig{Hot: hot, Warm: warm, Cold: cold})
	if err != nil {
		t.Fatalf("NewTieredCache failed: %v", err)
	}
	t.Cleanup(func() { tc.Close() })
	return tc, hot, warm, cold
}

func TestTieredCache_RequiresHot(t *testing.T) {
	if _, err := NewTieredCache(TieredConfig{}); err == nil {
		t.Fatal("expected error when hot tier is missing")
	}
}

func TestTieredCache_RoundTrip(t *testing.T) {
	tc, _, _, _ := newThreeTier(t)
	ctx := context.Background()

	if err := tc.Set(ctx, "key1", []byte("value1"), 0); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	val, err := tc.Get(ctx, "key1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(val) != "value1" {
		t.Fatalf("expected 'value1', got '%s'", string(val))
	}
}

func TestTieredCache_WriteThroughReachesAllTiers(t *testing.T) {
	tc, hot, warm, cold := newThreeTier(t)
	ctx := context.Background()

	if err := tc.Set(ctx, "key", []byte("v"), 0); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	for name, tier := range map[string]Cache{"hot": hot, "warm": warm, "cold": cold} {
		if _, err := tier.Get(ctx, "key"); err != nil {
			t.Fatalf("%s tier missing value after Set: %v", name, err)
		}
	}
}

func TestTieredCache_FullMiss(t *testing.T) {
	tc, _, _, _ := newThreeTier(t)

	if _, err := tc.Get(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got: %v", err)
	}
}

func TestTieredCache_PromotionFromCold(t *testing.T) {
	tc, hot, warm, cold := newThreeTier(t)
	ctx := context.Background()

	// Seed only the cold tier, as if the key was written by another
	// process and has expired out of the faster tiers.
	if err := cold.Set(ctx, "deep", []byte("value"), 0); err != nil {
		t.Fatalf("seed cold failed: %v", err)
	}
	cold.gets.Store(0)

	val, err := tc.Get(ctx, "deep")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(val) != "value" {
		t.Fatalf("expected 'value', got '%s'", string(val))
	}
	if n := cold.gets.Load(); n != 1 {
		t.Fatalf("expected 1 cold read, got %d", n)
	}

	// Both faster tiers must now hold the value.
	if _, err := hot.Get(ctx, "deep"); err != nil {
		t.Fatalf("hot tier not populated after promotion: %v", err)
	}
	if _, err := warm.Get(ctx, "deep"); err != nil {
		t.Fatalf("warm tier not populated after promotion: %v", err)
	}

	// A second read is served from hot without touching cold.
	if _, err := tc.Get(ctx, "deep"); err != nil {
		t.Fatalf("second Get failed: %v", err)
	}
	if n := cold.gets.Load(); n != 1 {
		t.Fatalf("second Get hit cold tier: %d reads", n)
	}
}

func TestTieredCache_PromotionFromWarm(t *testing.T) {
	tc, hot, warm, cold := newThreeTier(t)
	ctx := context.Background()

	if err := warm.Set(ctx, "mid", []byte("v"), time.Minute); err != nil {
		t.Fatalf("seed warm failed: %v", err)
	}

	if _, err := tc.Get(ctx, "mid"); err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if _, err := hot.Get(ctx, "mid"); err != nil {
		t.Fatalf("hot tier not populated after warm hit: %v", err)
	}
	if n := cold.gets.Load(); n != 0 {
		t.Fatalf("warm hit should not touch cold, got %d reads", n)
	}
}

func TestTieredCache_ExistsDoesNotPromote(t *testing.T) {
	tc, hot, _, cold := newThreeTier(t)
	ctx := context.Background()

	if err := cold.Set(ctx, "deep", []byte("v"), 0); err != nil {
		t.Fatalf("seed cold failed: %v", err)
	}

	ok, err := tc.Exists(ctx, "deep")
	if err != nil {
		t.Fatalf("Exists failed: %v", err)
	}
	if !ok {
		t.Fatal("expected key to exist")
	}
	if _, err := hot.Get(ctx, "deep"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Exists must not promote into hot, got: %v", err)
	}
}

func TestTieredCache_ExistsAfterSetAndDelete(t *testing.T) {
	tc, _, _, _ := newThreeTier(t)
	ctx := context.Background()

	if err := tc.Set(ctx, "key", []byte("v"), 0); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	ok, err := tc.Exists(ctx, "key")
	if err != nil || !ok {
		t.Fatalf("expected key to exist after Set, ok=%v err=%v", ok, err)
	}

	if err := tc.Delete(ctx, "key"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	ok, err = tc.Exists(ctx, "key")
	if err != nil {
		t.Fatalf("Exists failed: %v", err)
	}
	if ok {
		t.Fatal("expected key to be gone from every tier after Delete")
	}
}

func TestTieredCache_DeleteIdempotent(t *testing.T) {
	tc, _, _, _ := newThreeTier(t)
	ctx := context.Background()

	tc.Set(ctx, "key", []byte("v"), 0)
	if err := tc.Delete(ctx, "key"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if err := tc.Delete(ctx, "key"); err != nil {
		t.Fatalf("second Delete must not fail: %v", err)
	}
}

func TestTieredCache_DegradedHotOnly(t *testing.T) {
	hot := NewMemoryCache()
	tc, err := NewTieredCache(TieredConfig{Hot: hot})
	if err != nil {
		t.Fatalf("NewTieredCache failed: %v", err)
	}
	defer tc.Close()

	ctx := context.Background()

	if err := tc.Set(ctx, "key", []byte("v"), 0); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if val, err := tc.Get(ctx, "key"); err != nil || string(val) != "v" {
		t.Fatalf("Get failed: val=%q err=%v", val, err)
	}
	if ok, err := tc.Exists(ctx, "key"); err != nil || !ok {
		t.Fatalf("Exists failed: ok=%v err=%v", ok, err)
	}
	if err := tc.Delete(ctx, "key"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := tc.Get(ctx, "key"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got: %v", err)
	}
}

func TestTieredCache_DurableWriteFailureFailsSet(t *testing.T) {
	hot := NewMemoryCache()
	warm := NewMemoryCache()
	tc, err := NewTieredCache(TieredConfig{Hot: hot, Warm: warm, Cold: brokenCache{}})
	if err != nil {
		t.Fatalf("NewTieredCache failed: %v", err)
	}
	defer tc.Close()

	ctx := context.Background()

	err = tc.Set(ctx, "key", []byte("v"), 0)
	if err == nil {
		t.Fatal("expected Set to fail when the durable tier is down")
	}
	var dwe *DurableWriteError
	if !errors.As(err, &dwe) {
		t.Fatalf("expected DurableWriteError, got: %v", err)
	}
	if dwe.Key != "key" {
		t.Fatalf("expected key 'key' in error, got %q", dwe.Key)
	}

	// The faster tiers must not have been populated: callers cannot be
	// allowed to read back a value that was never made durable.
	if _, err := hot.Get(ctx, "key"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("hot tier populated despite failed durable write: %v", err)
	}
	if _, err := warm.Get(ctx, "key"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("warm tier populated despite failed durable write: %v", err)
	}
}

func TestTieredCache_BrokenWarmFallsThroughToCold(t *testing.T) {
	hot := NewMemoryCache()
	cold := newCountingCache()
	tc, err := NewTieredCache(TieredConfig{Hot: hot, Warm: brokenCache{}, Cold: cold})
	if err != nil {
		t.Fatalf("NewTieredCache failed: %v", err)
	}
	defer tc.Close()

	ctx := context.Background()

	if err := cold.Set(ctx, "key", []byte("v"), 0); err != nil {
		t.Fatalf("seed cold failed: %v", err)
	}

	val, err := tc.Get(ctx, "key")
	if err != nil {
		t.Fatalf("Get should treat a broken warm tier as a miss: %v", err)
	}
	if string(val) != "v" {
		t.Fatalf("expected 'v', got '%s'", string(val))
	}
	// Promotion into hot still happens even though warm is down.
	if _, err := hot.Get(ctx, "key"); err != nil {
		t.Fatalf("hot tier not populated: %v", err)
	}
}

func TestTieredCache_HotTTLExpiry(t *testing.T) {
	hot := NewMemoryCache()
	tc, err := NewTieredCache(TieredConfig{Hot: hot, HotTTL: time.Minute})
	if err != nil {
		t.Fatalf("NewTieredCache failed: %v", err)
	}
	defer tc.Close()

	ctx := context.Background()

	if err := tc.Set(ctx, "brief", []byte("v"), 30*time.Millisecond); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	time.Sleep(60 * time.Millisecond)

	ok, err := tc.Exists(ctx, "brief")
	if err != nil {
		t.Fatalf("Exists failed: %v", err)
	}
	if ok {
		t.Fatal("hot tier must expire its own entries without colder tiers")
	}
}

func TestTieredCache_PromotionUsesTierDefaultTTL(t *testing.T) {
	hot := NewMemoryCache()
	cold := newCountingCache()
	tc, err := NewTieredCache(TieredConfig{Hot: hot, Cold: cold, HotTTL: 30 * time.Millisecond})
	if err != nil {
		t.Fatalf("NewTieredCache failed: %v", err)
	}
	defer tc.Close()

	ctx := context.Background()

	if err := cold.Set(ctx, "key", []byte("v"), 0); err != nil {
		t.Fatalf("seed cold failed: %v", err)
	}
	if _, err := tc.Get(ctx, "key"); err != nil {
		t.Fatalf("Get failed: %v", err)
	}

	// The promoted hot entry carries the hot tier's own TTL, not the
	// unbounded lifetime of the cold original.
	time.Sleep(60 * time.Millisecond)
	if _, err := hot.Get(ctx, "key"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("promoted entry should have expired from hot: %v", err)
	}
	// But the key is still reachable through the cold tier.
	if _, err := tc.Get(ctx, "key"); err != nil {
		t.Fatalf("key lost after hot expiry: %v", err)
	}
}

func TestTieredCache_OverwriteReplacesValue(t *testing.T) {
	tc, _, _, _ := newThreeTier(t)
	ctx := context.Background()

	if err := tc.Set(ctx, "ticket:42", []byte(`{"status":"open"}`), 0); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	val, err := tc.Get(ctx, "ticket:42")
	if err != nil || string(val) != `{"status":"open"}` {
		t.Fatalf("Get: val=%q err=%v", val, err)
	}

	if err := tc.Delete(ctx, "ticket:42"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := tc.Get(ctx, "ticket:42"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got: %v", err)
	}

	if err := tc.Set(ctx, "ticket:42", []byte(`{"status":"closed"}`), 0); err != nil {
		t.Fatalf("re-Set failed: %v", err)
	}
	val, err = tc.Get(ctx, "ticket:42")
	if err != nil || string(val) != `{"status":"closed"}` {
		t.Fatalf("expected new value with no stale leftover: val=%q err=%v", val, err)
	}
}
