// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package store owns the embedded SQLite database: the relational tables,
// their FTS5 external-content indexes, the single-connection writer used
// by ingestion and the pooled readers used by queries.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/pdiddy/dblp-coauthors/internal/apperr"
)

const driverName = "sqlite"

// Tables that must exist for the read path to work.
var requiredTables = []string{"publications", "authors", "pub_authors"}

var requiredColumns = []string{"id", "title", "year", "venue", "pub_type", "raw_xml"}

var writerPragmas = []string{
	"journal_mode(WAL)",
	"synchronous(NORMAL)",
	"temp_store(MEMORY)",
	"foreign_keys(1)",
	"busy_timeout(30000)",
}

// Store wraps a database handle opened either for writing or reading.
type Store struct {
	db   *sql.DB
	path string
}

func dsn(path string, pragmas []string) string {
	parts := make([]string, len(pragmas))
	for i, p := range pragmas {
		parts[i] = "_pragma=" + p
	}
	return path + "?" + strings.Join(parts, "&")
}

// OpenWriter opens or creates the database at path with the ingestion
// pragmas and a single connection, and creates the schema if missing.
func OpenWriter(ctx context.Context, path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open(driverName, dsn(path, writerPragmas))
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	db.SetMaxOpenConns(1)

	s := &Store{db: db, path: path}
	if err := s.createSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return s, nil
}

// OpenReader opens an existing database for queries. A missing file yields
// apperr.ErrStoreUnavailable and an unusable schema
// apperr.ErrSchemaIncompatible.
func OpenReader(ctx context.Context, path string, busyTimeout time.Duration) (*Store, error) {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return nil, fmt.Errorf("%w: %s not found; run the ingestion pipeline first", apperr.ErrStoreUnavailable, path)
	}
	if busyTimeout <= 0 {
		busyTimeout = 30 * time.Second
	}

	db, err := sql.Open(driverName, dsn(path, []string{
		fmt.Sprintf("busy_timeout(%d)", busyTimeout.Milliseconds()),
		"temp_store(MEMORY)",
	}))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.ErrStoreUnavailable, err)
	}

	s := &Store{db: db, path: path}
	if err := s.CheckSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// DB exposes the handle to the query packages.
func (s *Store) DB() *sql.DB { return s.db }

// Path returns the database file path.
func (s *Store) Path() string { return s.path }

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) createSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS publications (
			id INTEGER PRIMARY KEY,
			title TEXT NOT NULL,
			year INTEGER,
			venue TEXT,
			pub_type TEXT,
			raw_xml TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS authors (
			id INTEGER PRIMARY KEY,
			name TEXT NOT NULL UNIQUE
		)`,
		`CREATE TABLE IF NOT EXISTS pub_authors (
			pub_id INTEGER NOT NULL,
			author_id INTEGER NOT NULL,
			FOREIGN KEY(pub_id) REFERENCES publications(id),
			FOREIGN KEY(author_id) REFERENCES authors(id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_pub_authors_pub ON pub_authors(pub_id)`,
		`CREATE INDEX IF NOT EXISTS idx_pub_authors_author ON pub_authors(author_id)`,
		`CREATE VIRTUAL TABLE IF NOT EXISTS title_fts
			USING fts5(title, content='publications', content_rowid='id')`,
		`CREATE VIRTUAL TABLE IF NOT EXISTS author_fts
			USING fts5(name, content='authors', content_rowid='id')`,
	}

	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("executing schema statement: %w", err)
		}
	}
	return nil
}

// CheckSchema verifies the tables and publication columns the query
// engine reads.
func (s *Store) CheckSchema(ctx context.Context) error {
	for _, table := range requiredTables {
		var n int
		err := s.db.QueryRowContext(ctx,
			`SELECT count(*) FROM sqlite_master WHERE type='table' AND name=?`, table,
		).Scan(&n)
		if err != nil {
			return fmt.Errorf("%w: %v", apperr.ErrStoreUnavailable, err)
		}
		if n == 0 {
			return fmt.Errorf("%w: missing table %s", apperr.ErrSchemaIncompatible, table)
		}
	}

	rows, err := s.db.QueryContext(ctx, `SELECT name FROM pragma_table_info('publications')`)
	if err != nil {
		return fmt.Errorf("%w: %v", apperr.ErrStoreUnavailable, err)
	}
	defer rows.Close()

	var cols []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return fmt.Errorf("%w: %v", apperr.ErrStoreUnavailable, err)
		}
		cols = append(cols, name)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("%w: %v", apperr.ErrStoreUnavailable, err)
	}

	var missing []string
	for _, c := range requiredColumns {
		if !slices.Contains(cols, c) {
			missing = append(missing, c)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: publications lacks columns %s",
			apperr.ErrSchemaIncompatible, strings.Join(missing, ", "))
	}
	return nil
}

// Counts returns the number of publications and authors.
func (s *Store) Counts(ctx context.Context) (publications, authors int64, err error) {
	if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM publications`).Scan(&publications); err != nil {
		return 0, 0, fmt.Errorf("counting publications: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM authors`).Scan(&authors); err != nil {
		return 0, 0, fmt.Errorf("counting authors: %w", err)
	}
	return publications, authors, nil
}

// Suffixes of the files SQLite keeps next to a WAL database.
var fileSuffixes = []string{"", "-wal", "-shm"}

// RemoveFiles deletes the database and its WAL sidecars and returns the
// paths that were removed.
func RemoveFiles(path string) ([]string, error) {
	var removed []string
	for _, suffix := range fileSuffixes {
		p := path + suffix
		err := os.Remove(p)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return removed, fmt.Errorf("removing %s: %w", p, err)
		}
		removed = append(removed, p)
	}
	return removed, nil
}

// DataDate returns override when set, else the database file's modification
// date in UTC as YYYY-MM-DD, else "unknown".
func DataDate(path, override string) string {
	if override = strings.TrimSpace(override); override != "" {
		return override
	}
	info, err := os.Stat(path)
	if err != nil {
		return "unknown"
	}
	return info.ModTime().UTC().Format(time.DateOnly)
}
