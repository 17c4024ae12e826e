package cache

import (
	"context"
	"testing"
	"time"
)

func TestMemoryCache_RoundTrip(t *testing.T) {
	c := NewMemoryCache()
	defer c.Close()

	ctx := context.Background()

	if err := c.Set(ctx, "key1", []byte("value1"), time.Minute); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	val, err := c.Get(ctx, "key1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(val) != "value1" {
		t.Fatalf("expected 'value1', got '%s'", string(val))
	}
}

func TestMemoryCache_Miss(t *testing.T) {
	c := NewMemoryCache()
	defer c.Close()

	_, err := c.Get(context.Background(), "missing")
	if err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got: %v", err)
	}
}

func TestMemoryCache_TTLExpiry(t *testing.T) {
	c := NewMemoryCache()
	defer c.Close()

	ctx := context.Background()

	if err := c.Set(ctx, "short", []byte("v"), 30*time.Millisecond); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	time.Sleep(60 * time.Millisecond)

	if _, err := c.Get(ctx, "short"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound after expiry, got: %v", err)
	}
	exists, err := c.Exists(ctx, "short")
	if err != nil {
		t.Fatalf("Exists failed: %v", err)
	}
	if exists {
		t.Fatal("expected expired key to not exist")
	}
}

func TestMemoryCache_ZeroTTLNeverExpires(t *testing.T) {
	c := NewMemoryCache()
	defer c.Close()

	ctx := context.Background()

	if err := c.Set(ctx, "perm", []byte("v"), 0); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	time.Sleep(20 * time.Millisecond)

	if _, err := c.Get(ctx, "perm"); err != nil {
		t.Fatalf("zero-TTL entry should survive: %v", err)
	}
}

func TestMemoryCache_DeleteIdempotent(t *testing.T) {
	c := NewMemoryCache()
	defer c.Close()

	ctx := context.Background()

	c.Set(ctx, "key", []byte("v"), time.Minute)
	if err := c.Delete(ctx, "key"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if err := c.Delete(ctx, "key"); err != nil {
		t.Fatalf("second Delete failed: %v", err)
	}
	if _, err := c.Get(ctx, "key"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound after delete, got: %v", err)
	}
}

func TestMemoryCache_CopyOnRead(t *testing.T) {
	c := NewMemoryCache()
	defer c.Close()

	ctx := context.Background()

	c.Set(ctx, "key", []byte("abc"), time.Minute)
	val, _ := c.Get(ctx, "key")
	val[0] = 'x'

	again, _ := c.Get(ctx, "key")
	if string(again) != "abc" {
		t.Fatalf("mutation leaked into cache: %q", string(again))
	}
}

func TestMemoryCache_SetAfterClose(t *testing.T) {
	c := NewMemoryCache()
	c.Close()

	if err := c.Set(context.Background(), "key", []byte("v"), time.Minute); err != nil {
		t.Fatalf("Set after Close should be a no-op, got: %v", err)
	}
	if _, err := c.Get(context.Background(), "key"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound from closed cache, got: %v", err)
	}
}
