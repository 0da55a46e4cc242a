package cache

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS cache(
    subject  TEXT NOT NULL,
    key      TEXT NOT NULL,
    value    TEXT NULL,
    duration FLOAT NOT NULL,
    UNIQUE(subject, key) ON CONFLICT REPLACE
)`

// maxKeyBytes bounds stored key length; longer keys are replaced by an
// xxhash64 digest on both read and write, so lookups stay symmetric.
const maxKeyBytes = 2048

// SQLiteCache is a file-backed (or :memory:) InnerCache. The
// connection opens lazily on first use.
type SQLiteCache struct {
	path   string
	logger *zap.Logger

	mu sync.Mutex
	db *sql.DB
}

// NewSQLiteCache builds a cache at path. Use ":memory:" for an
// in-process cache that does not survive the run.
func NewSQLiteCache(path string, logger *zap.Logger) *SQLiteCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SQLiteCache{path: path, logger: logger}
}

// NewMemoryCache is a SQLite cache that lives in memory.
func NewMemoryCache(logger *zap.Logger) *SQLiteCache {
	return NewSQLiteCache(":memory:", logger)
}

func (c *SQLiteCache) open() (*sql.DB, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.db != nil {
		return c.db, nil
	}

	db, err := sql.Open("sqlite", c.path)
	if err != nil {
		return nil, fmt.Errorf("failed to open cache %q: %w", c.path, err)
	}
	// modernc.org/sqlite connections are not safe for concurrent writes
	// over separate connections to :memory:; one connection also keeps
	// the in-memory database alive.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create cache schema: %w", err)
	}

	c.logger.Debug("Cache opened", zap.String("path", c.path))
	c.db = db
	return db, nil
}

func storedKey(key string) string {
	if len(key) <= maxKeyBytes {
		return key
	}
	return fmt.Sprintf("xxh64:%016x", xxhash.Sum64String(key))
}

func (c *SQLiteCache) Read(ctx context.Context, subject, key string) (*Entry, bool, error) {
	db, err := c.open()
	if err != nil {
		return nil, false, err
	}

	row := db.QueryRowContext(ctx,
		`SELECT value, duration FROM cache WHERE subject = ? AND key = ?`,
		subject, storedKey(key))

	var value sql.NullString
	var seconds float64
	if err := row.Scan(&value, &seconds); err != nil {
		if err == sql.ErrNoRows {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("cache read failed: %w", err)
	}

	entry := &Entry{
		Subject:  subject,
		Key:      key,
		Duration: time.Duration(seconds * float64(time.Second)),
	}
	if value.Valid {
		entry.Value = &value.String
	}
	return entry, true, nil
}

func (c *SQLiteCache) Write(ctx context.Context, entry Entry) error {
	db, err := c.open()
	if err != nil {
		return err
	}

	var value any
	if entry.Value != nil {
		value = *entry.Value
	}
	_, err = db.ExecContext(ctx,
		`INSERT INTO cache(subject, key, value, duration) VALUES (?, ?, ?, ?)`,
		entry.Subject, storedKey(entry.Key), value, entry.Duration.Seconds())
	if err != nil {
		return fmt.Errorf("cache write failed: %w", err)
	}
	return nil
}

func (c *SQLiteCache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.db == nil {
		return nil
	}
	err := c.db.Close()
	c.db = nil
	return err
}
