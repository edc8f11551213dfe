package chunk

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/tliron/commonlog"
	_ "modernc.org/sqlite"
)

var log = commonlog.GetLogger("luau.chunk")

// Store is a bytecode cache backed by SQLite. It is safe for concurrent
// use.
type Store struct {
	db   *sql.DB
	path string
}

// Open opens or creates the cache at path.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("creating cache dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if path == ":memory:" {
		// Every connection would otherwise get its own empty database.
		db.SetMaxOpenConns(1)
	}

	// Set busy timeout for concurrent access
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS chunks (
		hash TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		data BLOB NOT NULL
	)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating table: %w", err)
	}

	log.Debugf("opened chunk cache %s", path)
	return &Store{db: db, path: path}, nil
}

// Path returns the database path given to Open.
func (s *Store) Path() string { return s.path }

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Get returns the chunk stored under h, or ErrNotFound.
func (s *Store) Get(ctx context.Context, h Hash) (*Chunk, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, "SELECT data FROM chunks WHERE hash = ?", h.String()).Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("querying chunk: %w", err)
	}
	c, err := Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("chunk %s: %w", h, err)
	}
	if c.Hash != h {
		return nil, fmt.Errorf("chunk %s: stored under the wrong hash %s", h, c.Hash)
	}
	return c, nil
}

// Put stores c, replacing any chunk with the same hash.
func (s *Store) Put(ctx context.Context, c *Chunk) error {
	if err := c.Verify(); err != nil {
		return err
	}
	data, err := Marshal(c)
	if err != nil {
		return fmt.Errorf("encoding chunk: %w", err)
	}
	if _, err := s.db.ExecContext(ctx,
		"INSERT OR REPLACE INTO chunks (hash, name, data) VALUES (?, ?, ?)",
		c.Hash.String(), c.Name, data,
	); err != nil {
		return fmt.Errorf("saving chunk: %w", err)
	}
	return nil
}

// Delete removes the chunk stored under h. Deleting a missing chunk is not
// an error.
func (s *Store) Delete(ctx context.Context, h Hash) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM chunks WHERE hash = ?", h.String()); err != nil {
		return fmt.Errorf("deleting chunk: %w", err)
	}
	return nil
}

// Count returns the number of cached chunks.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM chunks").Scan(&n); err != nil {
		return 0, fmt.Errorf("counting chunks: %w", err)
	}
	return n, nil
}
