// Package sqlite implements the durable content cache over an embedded
// SQLite database so results survive process restarts.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/archivelab/linkmeta/internal/linkmeta"
)

const schema = `
CREATE TABLE IF NOT EXISTS content_cache (
    key         TEXT PRIMARY KEY,
    result      TEXT NOT NULL,
    stored_at   INTEGER NOT NULL,
    ttl_seconds INTEGER NOT NULL
);
`

// Cache is a disk-backed URL → AnalysisResult store with per-entry TTL.
// Expired entries are evicted lazily on read; every storage failure degrades
// to a miss so the pipeline re-fetches instead of crashing.
type Cache struct {
	db     *sql.DB
	clock  linkmeta.Clock
	logger *zap.Logger
}

// New opens (or creates) the cache database, initializing the schema.
func New(dbPath string, clock linkmeta.Clock, logger *zap.Logger) (*Cache, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o750); err != nil {
		return nil, fmt.Errorf("create cache directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open cache db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init cache schema: %w", err)
	}

	return &Cache{db: db, clock: clock, logger: logger}, nil
}

// Close closes the database connection.
func (c *Cache) Close() error {
	return c.db.Close()
}

// Get loads the entry for key. It reports a miss for absent keys, expired
// entries (which it deletes), and unreadable rows.
func (c *Cache) Get(ctx context.Context, key string) (linkmeta.CacheEntry, bool) {
	row := c.db.QueryRowContext(ctx,
		`SELECT result, stored_at, ttl_seconds FROM content_cache WHERE key = ?`, key)

	var (
		payload    string
		storedUnix int64
		ttlSeconds int64
	)
	if err := row.Scan(&payload, &storedUnix, &ttlSeconds); err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			c.logger.Warn("cache read failed; treating as miss", zap.String("key", key), zap.Error(err))
		}
		return linkmeta.CacheEntry{}, false
	}

	entry := linkmeta.CacheEntry{
		Key:      key,
		StoredAt: time.Unix(storedUnix, 0).UTC(),
		TTL:      time.Duration(ttlSeconds) * time.Second,
	}
	if !entry.ValidAt(c.clock.Now()) {
		c.evict(ctx, key)
		return linkmeta.CacheEntry{}, false
	}

	if err := json.Unmarshal([]byte(payload), &entry.Result); err != nil {
		c.logger.Warn("cache entry corrupt; treating as miss", zap.String("key", key), zap.Error(err))
		c.evict(ctx, key)
		return linkmeta.CacheEntry{}, false
	}
	return entry, true
}

// Put stores or replaces the entry for key.
func (c *Cache) Put(ctx context.Context, key string, result linkmeta.AnalysisResult, ttl time.Duration) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encode cache entry: %w", err)
	}
	_, err = c.db.ExecContext(ctx,
		`INSERT INTO content_cache (key, result, stored_at, ttl_seconds) VALUES (?, ?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET result = excluded.result,
		     stored_at = excluded.stored_at, ttl_seconds = excluded.ttl_seconds`,
		key, string(payload), c.clock.Now().Unix(), int64(ttl.Seconds()),
	)
	if err != nil {
		return fmt.Errorf("write cache entry: %w", err)
	}
	return nil
}

// Sweep deletes every expired entry. Not required for correctness; callers
// may run it periodically to reclaim space.
func (c *Cache) Sweep(ctx context.Context) (int64, error) {
	res, err := c.db.ExecContext(ctx,
		`DELETE FROM content_cache WHERE stored_at + ttl_seconds <= ?`, c.clock.Now().Unix())
	if err != nil {
		return 0, fmt.Errorf("sweep cache: %w", err)
	}
	return res.RowsAffected()
}

func (c *Cache) evict(ctx context.Context, key string) {
	if _, err := c.db.ExecContext(ctx, `DELETE FROM content_cache WHERE key = ?`, key); err != nil {
		c.logger.Warn("cache eviction failed", zap.String("key", key), zap.Error(err))
	}
}
