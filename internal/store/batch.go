// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/pdiddy/dblp-coauthors/pkg/types"
)

type ftsRow struct {
	id   int64
	text string
}

type link struct {
	pubID    int64
	authorID int64
}

// BatchWriter writes publications inside one open transaction. Publication
// and author rows are inserted immediately so their ids are known; FTS rows
// and publication-author links are queued until Flush.
type BatchWriter struct {
	db *sql.DB
	tx *sql.Tx

	insertPub    *sql.Stmt
	insertAuthor *sql.Stmt
	selectAuthor *sql.Stmt

	titles  []ftsRow
	authors []ftsRow
	links   []link
}

// NewBatchWriter begins the first transaction.
func (s *Store) NewBatchWriter(ctx context.Context) (*BatchWriter, error) {
	w := &BatchWriter{db: s.db}
	if err := w.begin(ctx); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *BatchWriter) begin(ctx context.Context) error {
	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning batch: %w", err)
	}
	w.tx = tx

	prepare := func(q string) *sql.Stmt {
		if err != nil {
			return nil
		}
		var st *sql.Stmt
		st, err = tx.PrepareContext(ctx, q)
		return st
	}
	w.insertPub = prepare(`INSERT INTO publications(title, year, venue, pub_type, raw_xml) VALUES (?, ?, ?, ?, ?)`)
	w.insertAuthor = prepare(`INSERT OR IGNORE INTO authors(name) VALUES (?)`)
	w.selectAuthor = prepare(`SELECT id FROM authors WHERE name = ?`)
	if err != nil {
		tx.Rollback()
		w.tx = nil
		return fmt.Errorf("preparing batch statements: %w", err)
	}
	return nil
}

// InsertPublication stores p, queues its title for the full-text index and
// returns the new row id.
func (w *BatchWriter) InsertPublication(ctx context.Context, p *types.Publication) (int64, error) {
	res, err := w.insertPub.ExecContext(ctx, p.Title, p.Year, p.Venue, p.PubType, p.RawXML)
	if err != nil {
		return 0, fmt.Errorf("inserting publication: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("reading publication id: %w", err)
	}
	w.titles = append(w.titles, ftsRow{id: id, text: p.Title})
	return id, nil
}

// EnsureAuthor returns the id for name, creating the author when absent.
// Newly created authors are queued for the full-text index.
func (w *BatchWriter) EnsureAuthor(ctx context.Context, name string) (int64, error) {
	res, err := w.insertAuthor.ExecContext(ctx, name)
	if err != nil {
		return 0, fmt.Errorf("inserting author %q: %w", name, err)
	}
	var id int64
	if err := w.selectAuthor.QueryRowContext(ctx, name).Scan(&id); err != nil {
		return 0, fmt.Errorf("looking up author %q: %w", name, err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		w.authors = append(w.authors, ftsRow{id: id, text: name})
	}
	return id, nil
}

// QueueLink records that authorID wrote pubID.
func (w *BatchWriter) QueueLink(pubID, authorID int64) {
	w.links = append(w.links, link{pubID: pubID, authorID: authorID})
}

// Pending returns the number of queued rows not yet written.
func (w *BatchWriter) Pending() int {
	return len(w.titles) + len(w.authors) + len(w.links)
}

// Flush writes the queued rows, commits the transaction and begins the next
// one.
func (w *BatchWriter) Flush(ctx context.Context) error {
	if err := w.writeQueued(ctx); err != nil {
		return err
	}
	if err := w.tx.Commit(); err != nil {
		w.tx = nil
		return fmt.Errorf("committing batch: %w", err)
	}
	w.tx = nil
	return w.begin(ctx)
}

// Commit writes the queued rows and commits without starting a new
// transaction. The writer cannot be used afterwards.
func (w *BatchWriter) Commit(ctx context.Context) error {
	if err := w.writeQueued(ctx); err != nil {
		return err
	}
	tx := w.tx
	w.tx = nil
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing batch: %w", err)
	}
	return nil
}

func (w *BatchWriter) writeQueued(ctx context.Context) error {
	if len(w.links) > 0 {
		st, err := w.tx.PrepareContext(ctx, `INSERT INTO pub_authors(pub_id, author_id) VALUES (?, ?)`)
		if err != nil {
			return fmt.Errorf("preparing link insert: %w", err)
		}
		defer st.Close()
		for _, l := range w.links {
			if _, err := st.ExecContext(ctx, l.pubID, l.authorID); err != nil {
				return fmt.Errorf("inserting link: %w", err)
			}
		}
	}
	if err := w.writeFTS(ctx, `INSERT INTO title_fts(rowid, title) VALUES (?, ?)`, w.titles); err != nil {
		return err
	}
	if err := w.writeFTS(ctx, `INSERT INTO author_fts(rowid, name) VALUES (?, ?)`, w.authors); err != nil {
		return err
	}
	w.links = w.links[:0]
	w.titles = w.titles[:0]
	w.authors = w.authors[:0]
	return nil
}

func (w *BatchWriter) writeFTS(ctx context.Context, q string, rows []ftsRow) error {
	if len(rows) == 0 {
		return nil
	}
	st, err := w.tx.PrepareContext(ctx, q)
	if err != nil {
		return fmt.Errorf("preparing fts insert: %w", err)
	}
	defer st.Close()
	for _, r := range rows {
		if _, err := st.ExecContext(ctx, r.id, r.text); err != nil {
			return fmt.Errorf("inserting fts row %d: %w", r.id, err)
		}
	}
	return nil
}

// Close rolls back the open transaction, discarding the current batch.
// It is safe to call after Flush.
func (w *BatchWriter) Close() error {
	if w.tx == nil {
		return nil
	}
	err := w.tx.Rollback()
	w.tx = nil
	w.links, w.titles, w.authors = nil, nil, nil
	if err != nil && err != sql.ErrTxDone {
		return fmt.Errorf("rolling back batch: %w", err)
	}
	return nil
}
