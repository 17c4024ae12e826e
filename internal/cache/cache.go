// Package cache implements the tiered key-value storage layer shared by
// all bot processes. A Cache is a single tier; TieredCache composes up
// to three of them (in-memory, Redis, Postgres) behind one interface
// with cache-aside reads and write-through durable writes. Values are
// opaque byte slices; encoding is left to the caller.
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when a key does not exist or has expired.
// A simple miss is never any other error.
var ErrNotFound = errors.New("cache: key not found")

// DurableWriteError reports a failed write to the durable (cold) tier.
// When Set returns it, the value must not be assumed persisted even if
// the faster tiers would have accepted it.
type DurableWriteError struct {
	Key string
	Err error
}

func (e *DurableWriteError) Error() string {
	return fmt.Sprintf("cache: durable write for %q failed: %v", e.Key, e.Err)
}

func (e *DurableWriteError) Unwrap() error { return e.Err }

// Cache abstracts one storage tier with TTL support.
// All operations are safe for concurrent use.
type Cache interface {
	// Get retrieves the value associated with key.
	// Returns ErrNotFound if the key does not exist or has expired.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores a value with the given TTL. A zero TTL means the entry
	// does not expire.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes a key. It is not an error to delete a key that
	// does not exist.
	Delete(ctx context.Context, key string) error

	// Exists reports whether the key exists and has not expired.
	Exists(ctx context.Context, key string) (bool, error)

	// Ping verifies connectivity to the underlying backend.
	Ping(ctx context.Context) error

	// Close releases all resources held by the tier.
	Close() error
}
