package cache

import (
	"context"
	"errors"
	"time"

	"github.com/wgtechlabs/unthread-telegram-bot-sub005/internal/logging"
	"github.com/wgtechlabs/unthread-telegram-bot-sub005/internal/metrics"
	"github.com/wgtechlabs/unthread-telegram-bot-sub005/internal/observability"
)

// Default TTLs per tier. These are policy constants: the hot tier keeps
// entries for a day, the warm tier for three days, and the cold tier
// keeps them forever unless the caller passes an explicit TTL.
const (
	DefaultHotTTL  = 24 * time.Hour
	DefaultWarmTTL = 72 * time.Hour
)

// TieredCache presents one Cache over up to three tiers ordered
// hot → warm → cold by increasing latency and decreasing volatility.
//
// Reads are cache-aside: the first tier that has the key wins, and the
// value is promoted into every faster tier using that tier's own
// default TTL, so hot and warm always hold recently touched data
// bounded by their own expiry windows. Writes are write-through: the
// cold tier (when configured) is the durability commit and must
// succeed before the faster tiers are populated.
//
// Warm and cold are optional. Operations transparently skip missing
// tiers, degrading down to hot-only. Promotion and write-through are
// idempotent, so concurrent operations on the same key need no
// locking; last write wins on the faster tiers, which are caches, not
// sources of truth.
type TieredCache struct {
	hot  Cache
	warm Cache // may be nil
	cold Cache // may be nil; durable when present

	hotTTL  time.Duration
	warmTTL time.Duration
}

// TieredConfig configures a TieredCache. Hot is required; Warm and
// Cold may be nil. Zero TTLs fall back to the package defaults.
type TieredConfig struct {
	Hot  Cache
	Warm Cache
	Cold Cache

	HotTTL  time.Duration
	WarmTTL time.Duration
}

// NewTieredCache composes the configured tiers.
func NewTieredCache(cfg TieredConfig) (*TieredCache, error) {
	if cfg.Hot == nil {
		return nil, errors.New("cache: hot tier is required")
	}
	if cfg.HotTTL <= 0 {
		cfg.HotTTL = DefaultHotTTL
	}
	if cfg.WarmTTL <= 0 {
		cfg.WarmTTL = DefaultWarmTTL
	}
	return &TieredCache{
		hot:     cfg.Hot,
		warm:    cfg.Warm,
		cold:    cfg.Cold,
		hotTTL:  cfg.HotTTL,
		warmTTL: cfg.WarmTTL,
	}, nil
}

// Get checks hot, then warm, then cold, returning the first hit and
// promoting it into the faster tiers. Tier connectivity failures are
// treated as a miss for that tier and logged; a full miss returns
// ErrNotFound.
func (t *TieredCache) Get(ctx context.Context, key string) ([]byte, error) {
	ctx, span := observability.StartSpan(ctx, "cache.Get", observability.AttrKey.String(key))
	defer span.End()

	val, err := t.hot.Get(ctx, key)
	if err == nil {
		metrics.RecordCacheOp("hot", "get", "hit")
		return val, nil
	}
	metrics.RecordCacheOp("hot", "get", "miss")

	if t.warm != nil {
		val, err = t.warm.Get(ctx, key)
		if err == nil {
			metrics.RecordCacheOp("warm", "get", "hit")
			t.promote(ctx, key, val, "warm")
			return val, nil
		}
		t.recordMiss("warm", "get", key, err)
	}

	if t.cold != nil {
		val, err = t.cold.Get(ctx, key)
		if err == nil {
			metrics.RecordCacheOp("cold", "get", "hit")
			t.promote(ctx, key, val, "cold")
			return val, nil
		}
		t.recordMiss("cold", "get", key, err)
	}

	return nil, ErrNotFound
}

// Set commits the value to the cold tier first when one is configured.
// If that durable write fails the whole call fails with a
// DurableWriteError and the faster tiers are left untouched. Warm and
// hot writes after a successful commit are best-effort: the durable
// contract is already satisfied and read promotion self-heals the
// faster tiers.
//
// A positive ttl applies to every tier; ttl <= 0 means each tier uses
// its own default (unbounded for cold).
func (t *TieredCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	ctx, span := observability.StartSpan(ctx, "cache.Set", observability.AttrKey.String(key))
	defer span.End()

	if t.cold != nil {
		if err := t.cold.Set(ctx, key, value, ttl); err != nil {
			metrics.RecordDurableWriteFailure()
			observability.SetSpanError(span, err)
			return &DurableWriteError{Key: key, Err: err}
		}
		metrics.RecordCacheOp("cold", "set", "ok")
	}

	if t.warm != nil {
		warmTTL := ttl
		if warmTTL <= 0 {
			warmTTL = t.warmTTL
		}
		if err := t.warm.Set(ctx, key, value, warmTTL); err != nil {
			metrics.RecordCacheOp("warm", "set", "error")
			logging.Op().Warn("warm tier set failed", "key", key, "error", err)
		} else {
			metrics.RecordCacheOp("warm", "set", "ok")
		}
	}

	hotTTL := ttl
	if hotTTL <= 0 {
		hotTTL = t.hotTTL
	}
	if err := t.hot.Set(ctx, key, value, hotTTL); err != nil {
		metrics.RecordCacheOp("hot", "set", "error")
		logging.Op().Warn("hot tier set failed", "key", key, "error", err)
	} else {
		metrics.RecordCacheOp("hot", "set", "ok")
	}

	return nil
}

// Delete removes the key from every configured tier. Not-found is not
// an error; any unexpected tier error is collected and the joined
// result returned after all tiers were attempted.
func (t *TieredCache) Delete(ctx context.Context, key string) error {
	var errs []error
	if err := t.hot.Delete(ctx, key); err != nil {
		errs = append(errs, err)
	}
	if t.warm != nil {
		if err := t.warm.Delete(ctx, key); err != nil {
			errs = append(errs, err)
		}
	}
	if t.cold != nil {
		if err := t.cold.Delete(ctx, key); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Exists checks the tiers in the same hot → warm → cold order as Get,
// short-circuiting on the first hit. Unlike Get it has no promotion
// side effect.
func (t *TieredCache) Exists(ctx context.Context, key string) (bool, error) {
	if ok, err := t.hot.Exists(ctx, key); err == nil && ok {
		return true, nil
	}
	if t.warm != nil {
		ok, err := t.warm.Exists(ctx, key)
		if err != nil {
			logging.Op().Warn("warm tier exists failed", "key", key, "error", err)
		} else if ok {
			return true, nil
		}
	}
	if t.cold != nil {
		ok, err := t.cold.Exists(ctx, key)
		if err != nil {
			logging.Op().Warn("cold tier exists failed", "key", key, "error", err)
			return false, nil
		}
		return ok, nil
	}
	return false, nil
}

// Ping reports connectivity of every configured tier.
func (t *TieredCache) Ping(ctx context.Context) error {
	if err := t.hot.Ping(ctx); err != nil {
		return err
	}
	if t.warm != nil {
		if err := t.warm.Ping(ctx); err != nil {
			return err
		}
	}
	if t.cold != nil {
		return t.cold.Ping(ctx)
	}
	return nil
}

// Close releases every configured tier. The last error wins, matching
// the shutdown order hot → warm → cold.
func (t *TieredCache) Close() error {
	var err error
	if e := t.hot.Close(); e != nil {
		err = e
	}
	if t.warm != nil {
		if e := t.warm.Close(); e != nil {
			err = e
		}
	}
	if t.cold != nil {
		if e := t.cold.Close(); e != nil {
			err = e
		}
	}
	return err
}

// promote back-fills a value found in a colder tier into every faster
// tier, each with its own default TTL. Failures are harmless: the next
// read falls through again.
func (t *TieredCache) promote(ctx context.Context, key string, val []byte, from string) {
	if from == "cold" && t.warm != nil {
		if err := t.warm.Set(ctx, key, val, t.warmTTL); err != nil {
			logging.Op().Warn("warm tier promotion failed", "key", key, "error", err)
		}
	}
	if err := t.hot.Set(ctx, key, val, t.hotTTL); err != nil {
		logging.Op().Warn("hot tier promotion failed", "key", key, "error", err)
	}
	metrics.RecordCachePromotion(from)
}

// recordMiss classifies a tier read failure: ErrNotFound is a plain
// miss, anything else is a connectivity problem handled as a miss but
// logged and counted.
func (t *TieredCache) recordMiss(tier, op, key string, err error) {
	if errors.Is(err, ErrNotFound) {
		metrics.RecordCacheOp(tier, op, "miss")
		return
	}
	metrics.RecordCacheOp(tier, op, "error")
	logging.Op().Warn("tier unavailable, treating as miss",
		"tier", tier, "op", op, "key", key, "error", err)
}
