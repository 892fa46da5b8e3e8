// Package catalog keeps a SQLite registry of saved indexes and a bounded
// log of the searches run against them.
package catalog

import (
	"context"
	"database/sql"
	stderrors "errors"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)

	"github.com/Aman-CERP/docsearch/internal/errors"
)

// DefaultFile is the catalog database name under the user's docsearch directory.
const DefaultFile = "catalog.db"

// MaxSearchLog bounds the search log; older entries are trimmed.
const MaxSearchLog = 1000

const schema = `
CREATE TABLE IF NOT EXISTS indexes (
	index_id    TEXT PRIMARY KEY,
	mode        TEXT NOT NULL,
	directory   TEXT NOT NULL,
	version     TEXT NOT NULL,
	chunk_count INTEGER NOT NULL DEFAULT 0,
	created_at  TIMESTAMP NOT NULL,
	updated_at  TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_indexes_directory ON indexes(directory);

CREATE TABLE IF NOT EXISTS searches (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	index_id   TEXT NOT NULL,
	mode       TEXT NOT NULL,
	query      TEXT NOT NULL,
	results    INTEGER NOT NULL,
	latency_ms INTEGER NOT NULL,
	at         TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_searches_index ON searches(index_id);
`

// Entry describes one saved index.
type Entry struct {
	IndexID    string    `json:"index_id"`
	Mode       string    `json:"mode"`
	Directory  string    `json:"directory"`
	Version    string    `json:"version"`
	ChunkCount int       `json:"chunk_count"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Search is one logged query.
type Search struct {
	IndexID string
	Mode    string
	Query   string
	Results int
	Latency time.Duration
	At      time.Time
}

// Catalog is a SQLite-backed index registry.
type Catalog struct {
	db   *sql.DB
	path string
}

// DefaultPath returns ~/.docsearch/catalog.db.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".docsearch", DefaultFile)
	}
	return filepath.Join(home, ".docsearch", DefaultFile)
}

// Open opens or creates the catalog at path. An empty path opens an
// in-memory catalog.
func Open(path string) (*Catalog, error) {
	dsn := ":memory:"
	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, errors.New(errors.ErrCodeFilePermission, "failed to create catalog directory", err).
				WithDetail("path", filepath.Dir(path))
		}
		dsn = path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, errors.New(errors.ErrCodeFilePermission, "failed to open catalog", err).
			WithDetail("path", path)
	}
	// Single writer to prevent lock contention
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, errors.New(errors.ErrCodeCorruptIndex, "failed to initialise catalog schema", err).
			WithDetail("path", path)
	}
	return &Catalog{db: db, path: path}, nil
}

// Path is the database file, empty for in-memory catalogs.
func (c *Catalog) Path() string { return c.path }

// Record inserts or replaces the entry for e.IndexID.
func (c *Catalog) Record(ctx context.Context, e Entry) error {
	if e.IndexID == "" {
		return errors.ValidationError("catalog entry needs an index_id", nil)
	}
	now := time.Now().UTC()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	if e.UpdatedAt.IsZero() {
		e.UpdatedAt = now
	}
	abs, err := filepath.Abs(e.Directory)
	if err == nil {
		e.Directory = abs
	}

	_, err = c.db.ExecContext(ctx, `
		INSERT INTO indexes (index_id, mode, directory, version, chunk_count, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(index_id) DO UPDATE SET
			mode = excluded.mode,
			directory = excluded.directory,
			version = excluded.version,
			chunk_count = excluded.chunk_count,
			updated_at = excluded.updated_at
	`, e.IndexID, e.Mode, e.Directory, e.Version, e.ChunkCount, e.CreatedAt.UTC(), e.UpdatedAt.UTC())
	if err != nil {
		return errors.New(errors.ErrCodeIndexFailed, "failed to record index", err).
			WithDetail("index_id", e.IndexID)
	}
	return nil
}

// List returns all entries, most recently updated first.
func (c *Catalog) List(ctx context.Context) ([]Entry, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT index_id, mode, directory, version, chunk_count, created_at, updated_at
		FROM indexes
		ORDER BY updated_at DESC, index_id
	`)
	if err != nil {
		return nil, errors.New(errors.ErrCodeInternal, "failed to list indexes", err)
	}
	defer func() { _ = rows.Close() }()

	entries := []Entry{}
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.New(errors.ErrCodeInternal, "failed to list indexes", err)
	}
	return entries, nil
}

// Get returns the entry for id.
func (c *Catalog) Get(ctx context.Context, id string) (Entry, bool, error) {
	row := c.db.QueryRowContext(ctx, `
		SELECT index_id, mode, directory, version, chunk_count, created_at, updated_at
		FROM indexes WHERE index_id = ?
	`, id)
	e, err := scanEntry(row)
	if stderrors.Is(err, sql.ErrNoRows) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, err
	}
	return e, true, nil
}

// Remove deletes the entry for id and its search log. Removing an unknown
// id is not an error.
func (c *Catalog) Remove(ctx context.Context, id string) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.New(errors.ErrCodeInternal, "failed to begin transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM indexes WHERE index_id = ?`, id); err != nil {
		return errors.New(errors.ErrCodeInternal, "failed to remove index", err).WithDetail("index_id", id)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM searches WHERE index_id = ?`, id); err != nil {
		return errors.New(errors.ErrCodeInternal, "failed to remove search log", err).WithDetail("index_id", id)
	}
	if err := tx.Commit(); err != nil {
		return errors.New(errors.ErrCodeInternal, "failed to commit transaction", err)
	}
	return nil
}

// LogSearch appends s to the search log, keeping the newest MaxSearchLog rows.
func (c *Catalog) LogSearch(ctx context.Context, s Search) error {
	if s.At.IsZero() {
		s.At = time.Now().UTC()
	}
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO searches (index_id, mode, query, results, latency_ms, at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, s.IndexID, s.Mode, s.Query, s.Results, s.Latency.Milliseconds(), s.At.UTC())
	if err != nil {
		return errors.New(errors.ErrCodeInternal, "failed to log search", err)
	}

	_, err = c.db.ExecContext(ctx, `
		DELETE FROM searches
		WHERE id NOT IN (SELECT id FROM searches ORDER BY id DESC LIMIT ?)
	`, MaxSearchLog)
	if err != nil {
		return errors.New(errors.ErrCodeInternal, "failed to trim search log", err)
	}
	return nil
}

// Stats summarises the search log of one index.
type Stats struct {
	Searches    int    `json:"searches"`
	ZeroResults int    `json:"zero_results"`
	LastQuery   string `json:"last_query,omitempty"`
}

// SearchStats summarises logged searches for id.
func (c *Catalog) SearchStats(ctx context.Context, id string) (Stats, error) {
	var st Stats
	err := c.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(CASE WHEN results = 0 THEN 1 ELSE 0 END), 0)
		FROM searches WHERE index_id = ?
	`, id).Scan(&st.Searches, &st.ZeroResults)
	if err != nil {
		return Stats{}, errors.New(errors.ErrCodeInternal, "failed to query search log", err)
	}
	if st.Searches == 0 {
		return st, nil
	}
	err = c.db.QueryRowContext(ctx, `
		SELECT query FROM searches WHERE index_id = ? ORDER BY id DESC LIMIT 1
	`, id).Scan(&st.LastQuery)
	if err != nil {
		return Stats{}, errors.New(errors.ErrCodeInternal, "failed to query search log", err)
	}
	return st, nil
}

// Close closes the database.
func (c *Catalog) Close() error {
	return c.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(s scanner) (Entry, error) {
	var e Entry
	err := s.Scan(&e.IndexID, &e.Mode, &e.Directory, &e.Version, &e.ChunkCount, &e.CreatedAt, &e.UpdatedAt)
	if stderrors.Is(err, sql.ErrNoRows) {
		return Entry{}, err
	}
	if err != nil {
		return Entry{}, errors.New(errors.ErrCodeInternal, "failed to read catalog entry", err)
	}
	return e, nil
}
