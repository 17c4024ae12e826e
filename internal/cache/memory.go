package cache

import (
	"context"
	"sync"
	"time"
)

// janitorInterval controls how often expired entries are swept.
const janitorInterval = time.Minute

// MemoryCache is the hot tier: a process-local map with per-entry
// expiry timestamps. Expired entries are rejected on read immediately
// and swept by a background janitor, so the hot tier is responsible
// for its own expiry without consulting colder tiers.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	stop    chan struct{}
	once    sync.Once
}

type memoryEntry struct {
	value     []byte
	expiresAt time.Time // zero means no expiry
}

func (e memoryEntry) live(now time.Time) bool {
	return e.expiresAt.IsZero() || now.Before(e.expiresAt)
}

// NewMemoryCache creates a hot-tier cache and starts its janitor.
func NewMemoryCache() *MemoryCache {
	c := &MemoryCache{
		entries: make(map[string]memoryEntry),
		stop:    make(chan struct{}),
	}
	go c.janitor()
	return c
}

func (c *MemoryCache) Get(_ context.Context, key string) ([]byte, error) {
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok || !entry.live(time.Now()) {
		return nil, ErrNotFound
	}
	cp := make([]byte, len(entry.value))
	copy(cp, entry.value)
	return cp, nil
}

func (c *MemoryCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = time.Now().Add(ttl)
	}
	cp := make([]byte, len(value))
	copy(cp, value)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.entries == nil {
		return nil // closed
	}
	c.entries[key] = memoryEntry{value: cp, expiresAt: expiresAt}
	return nil
}

func (c *MemoryCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
	return nil
}

func (c *MemoryCache) Exists(_ context.Context, key string) (bool, error) {
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()
	return ok && entry.live(time.Now()), nil
}

// Len reports the number of entries, including not-yet-swept expired ones.
func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func (c *MemoryCache) Ping(_ context.Context) error { return nil }

func (c *MemoryCache) Close() error {
	c.once.Do(func() { close(c.stop) })
	c.mu.Lock()
	c.entries = nil
	c.mu.Unlock()
	return nil
}

func (c *MemoryCache) janitor() {
	ticker := time.NewTicker(janitorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.stop:
			return
		case now := <-ticker.C:
			c.mu.Lock()
			for key, entry := range c.entries {
				if !entry.live(now) {
					delete(c.entries, key)
				}
			}
			c.mu.Unlock()
		}
	}
}
