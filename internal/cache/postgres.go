package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresCache is the cold tier: a durable key-value table in the
// bot's Postgres database. Entries written without a TTL never expire,
// which makes this tier the source of truth for permanent records
// (tickets, customer mappings). Expired rows are filtered on read and
// removed by PurgeExpired, which the daemon runs on a ticker.
type PostgresCache struct {
	pool *pgxpool.Pool
}

// NewPostgresCache connects to Postgres and ensures the kv schema.
func NewPostgresCache(ctx context.Context, dsn string) (*PostgresCache, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres DSN is required")
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("create postgres pool: %w", err)
	}

	c := &PostgresCache{pool: pool}

	if err := c.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	if err := c.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return c, nil
}

func (c *PostgresCache) ensureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS kv_entries (
			key TEXT PRIMARY KEY,
			value BYTEA NOT NULL,
			expires_at TIMESTAMPTZ,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_kv_entries_expires
			ON kv_entries(expires_at) WHERE expires_at IS NOT NULL`,
	}
	for _, stmt := range stmts {
		if _, err := c.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

func (c *PostgresCache) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := c.pool.QueryRow(ctx,
		`SELECT value FROM kv_entries
		 WHERE key = $1 AND (expires_at IS NULL OR expires_at > NOW())`,
		key,
	).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return value, nil
}

func (c *PostgresCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	var expiresAt *time.Time
	if ttl > 0 {
		t := time.Now().Add(ttl)
		expiresAt = &t
	}
	_, err := c.pool.Exec(ctx,
		`INSERT INTO kv_entries (key, value, expires_at, updated_at)
		 VALUES ($1, $2, $3, NOW())
		 ON CONFLICT (key) DO UPDATE
		 SET value = EXCLUDED.value, expires_at = EXCLUDED.expires_at, updated_at = NOW()`,
		key, value, expiresAt,
	)
	return err
}

func (c *PostgresCache) Delete(ctx context.Context, key string) error {
	_, err := c.pool.Exec(ctx, `DELETE FROM kv_entries WHERE key = $1`, key)
	return err
}

func (c *PostgresCache) Exists(ctx context.Context, key string) (bool, error) {
	var exists bool
	err := c.pool.QueryRow(ctx,
		`SELECT EXISTS (
			SELECT 1 FROM kv_entries
			WHERE key = $1 AND (expires_at IS NULL OR expires_at > NOW())
		 )`,
		key,
	).Scan(&exists)
	if err != nil {
		return false, err
	}
	return exists, nil
}

// PurgeExpired deletes rows whose TTL has elapsed and reports how many
// were removed.
func (c *PostgresCache) PurgeExpired(ctx context.Context) (int64, error) {
	tag, err := c.pool.Exec(ctx,
		`DELETE FROM kv_entries WHERE expires_at IS NOT NULL AND expires_at <= NOW()`)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (c *PostgresCache) Ping(ctx context.Context) error {
	if c.pool == nil {
		return fmt.Errorf("postgres not initialized")
	}
	return c.pool.Ping(ctx)
}

func (c *PostgresCache) Close() error {
	if c.pool != nil {
		c.pool.Close()
	}
	return nil
}
