// Package cache stores normalized registry metadata with a per-entry TTL.
//
// The primary backend is a SQLite database. When it cannot be opened the
// cache falls back to an in-process map with the same semantics; the choice is
// made once, at construction.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/klauspost/compress/zstd"

	"github.com/git-pkgs/outdated/internal/core"
	"github.com/git-pkgs/outdated/metrics"
)

const (
	BackendSQLite = "sqlite"
	BackendMemory = "memory"
)

// Stats reports cache counters.
type Stats struct {
	Hits    int64
	Misses  int64
	Size    int
	Backend string
}

// entry is one stored payload. Payloads are zstd-compressed JSON.
type entry struct {
	payload   []byte
	expiresAt time.Time
}

type backend interface {
	get(ctx context.Context, key string) (entry, bool, error)
	set(ctx context.Context, key string, payload []byte, fetchedAt, expiresAt time.Time) error
	delete(ctx context.Context, key string) error
	clear(ctx context.Context) error
	size(ctx context.Context, now time.Time) (int, error)
	close() error
}

// Cache is safe for concurrent use.
type Cache struct {
	backend     backend
	backendName string

	enc *zstd.Encoder
	dec *zstd.Decoder

	hits   atomic.Int64
	misses atomic.Int64

	now     func() time.Time
	logger  *log.Logger
	metrics *metrics.Metrics
}

// Option configures a Cache.
type Option func(*Cache)

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(c *Cache) {
		c.logger = l
	}
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		c.now = now
	}
}

// WithMetrics records hits and misses.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Cache) {
		c.metrics = m
	}
}

// DefaultPath returns <user cache dir>/outdated/cache.db.
func DefaultPath() (string, error) {
	dir, err := os.UserCacheDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "outdated", "cache.db"), nil
}

// Open opens the SQLite cache at path, creating it if needed. An empty path
// uses DefaultPath. If the database cannot be initialized the returned cache
// uses the in-memory backend instead.
func Open(path string, opts ...Option) *Cache {
	c := newCache(opts...)

	if path == "" {
		p, err := DefaultPath()
		if err != nil {
			c.logger.Warn("no user cache directory, using memory cache", "err", err)
			c.backend, c.backendName = newMemoryBackend(), BackendMemory
			return c
		}
		path = p
	}

	b, err := openSQLite(context.Background(), path, c.now())
	if err != nil {
		c.logger.Warn("sqlite cache unavailable, using memory cache", "path", path, "err", err)
		c.backend, c.backendName = newMemoryBackend(), BackendMemory
		return c
	}

	c.logger.Debug("opened sqlite cache", "path", path)
	c.backend, c.backendName = b, BackendSQLite
	return c
}

// NewMemory returns a cache backed by an in-process map.
func NewMemory(opts ...Option) *Cache {
	c := newCache(opts...)
	c.backend, c.backendName = newMemoryBackend(), BackendMemory
	return c
}

func newCache(opts ...Option) *Cache {
	enc, _ := zstd.NewWriter(nil)
	dec, _ := zstd.NewReader(nil)

	c := &Cache{
		enc:    enc,
		dec:    dec,
		now:    time.Now,
		logger: log.New(io.Discard),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the metadata stored under key if it has not expired.
func (c *Cache) Get(ctx context.Context, key string) (*core.PackageMetadata, bool) {
	meta, ok := c.lookup(ctx, key)
	if ok {
		c.hits.Add(1)
	} else {
		c.misses.Add(1)
	}
	c.metrics.CacheLookup(ok)
	return meta, ok
}

func (c *Cache) lookup(ctx context.Context, key string) (*core.PackageMetadata, bool) {
	e, ok, err := c.backend.get(ctx, key)
	if err != nil {
		c.logger.Debug("cache read failed", "key", key, "err", err)
		return nil, false
	}
	if !ok {
		return nil, false
	}
	if !c.now().Before(e.expiresAt) {
		_ = c.backend.delete(ctx, key)
		return nil, false
	}

	meta, err := c.decode(e.payload)
	if err != nil {
		c.logger.Debug("dropping malformed cache entry", "key", key, "err", err)
		_ = c.backend.delete(ctx, key)
		return nil, false
	}
	return meta, true
}

// Has reports whether key holds an unexpired entry. It does not touch the
// hit and miss counters.
func (c *Cache) Has(ctx context.Context, key string) bool {
	e, ok, err := c.backend.get(ctx, key)
	return err == nil && ok && c.now().Before(e.expiresAt)
}

// Set stores meta under key until now+ttl. A non-positive ttl stores nothing.
func (c *Cache) Set(ctx context.Context, key string, meta *core.PackageMetadata, ttl time.Duration) error {
	if ttl <= 0 || meta == nil {
		return nil
	}
	data, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", key, err)
	}
	now := c.now()
	return c.backend.set(ctx, key, c.enc.EncodeAll(data, nil), now, now.Add(ttl))
}

// Clear removes every entry.
func (c *Cache) Clear(ctx context.Context) error {
	return c.backend.clear(ctx)
}

// Stats returns the hit and miss counters and the number of live entries.
func (c *Cache) Stats() Stats {
	size, err := c.backend.size(context.Background(), c.now())
	if err != nil {
		c.logger.Debug("cache size failed", "err", err)
	}
	return Stats{
		Hits:    c.hits.Load(),
		Misses:  c.misses.Load(),
		Size:    size,
		Backend: c.backendName,
	}
}

// Close releases the backend.
func (c *Cache) Close() error {
	err := c.backend.close()
	c.dec.Close()
	if encErr := c.enc.Close(); err == nil {
		err = encErr
	}
	return err
}

func (c *Cache) decode(payload []byte) (*core.PackageMetadata, error) {
	data, err := c.dec.DecodeAll(payload, nil)
	if err != nil {
		return nil, err
	}
	var meta core.PackageMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, err
	}
	return &meta, nil
}
