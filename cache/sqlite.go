package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS packages (
	name       TEXT PRIMARY KEY,
	payload    BLOB NOT NULL,
	fetched_at INTEGER NOT NULL,
	expires_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_packages_expires_at ON packages(expires_at);
`

// sqliteBackend stores entries in a single table keyed by package name.
// Times are unix milliseconds.
type sqliteBackend struct {
	db *sql.DB
}

func openSQLite(ctx context.Context, path string, now time.Time) (*sqliteBackend, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating cache dir: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// One connection keeps WAL writers from tripping over each other.
	db.SetMaxOpenConns(1)

	steps := []struct {
		name  string
		query string
		args  []any
	}{
		{"journal mode", "PRAGMA journal_mode=WAL", nil},
		{"busy timeout", "PRAGMA busy_timeout=5000", nil},
		{"schema", schema, nil},
		{"housekeeping", "DELETE FROM packages WHERE expires_at <= ?", []any{now.UnixMilli()}},
	}
	for _, step := range steps {
		if _, err := db.ExecContext(ctx, step.query, step.args...); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("%s: %w", step.name, err)
		}
	}

	return &sqliteBackend{db: db}, nil
}

func (b *sqliteBackend) get(ctx context.Context, key string) (entry, bool, error) {
	var (
		payload   []byte
		expiresAt int64
	)
	err := b.db.QueryRowContext(ctx,
		"SELECT payload, expires_at FROM packages WHERE name = ?", key,
	).Scan(&payload, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return entry{}, false, nil
	}
	if err != nil {
		return entry{}, false, err
	}
	return entry{payload: payload, expiresAt: time.UnixMilli(expiresAt)}, true, nil
}

func (b *sqliteBackend) set(ctx context.Context, key string, payload []byte, fetchedAt, expiresAt time.Time) error {
	_, err := b.db.ExecContext(ctx, `
		INSERT INTO packages (name, payload, fetched_at, expires_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (name) DO UPDATE SET
			payload = excluded.payload,
			fetched_at = excluded.fetched_at,
			expires_at = excluded.expires_at
	`, key, payload, fetchedAt.UnixMilli(), expiresAt.UnixMilli())
	return err
}

func (b *sqliteBackend) delete(ctx context.Context, key string) error {
	_, err := b.db.ExecContext(ctx, "DELETE FROM packages WHERE name = ?", key)
	return err
}

func (b *sqliteBackend) clear(ctx context.Context) error {
	_, err := b.db.ExecContext(ctx, "DELETE FROM packages")
	return err
}

func (b *sqliteBackend) size(ctx context.Context, now time.Time) (int, error) {
	var n int
	err := b.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM packages WHERE expires_at > ?", now.UnixMilli(),
	).Scan(&n)
	return n, err
}

func (b *sqliteBackend) close() error {
	return b.db.Close()
}
