// Package dictionary provides the local identifier dictionary: a read-only
// resolution oracle mapping document ids to content identifiers and content
// identifiers to their title/status metadata. The dictionary is refreshed by
// an external synchronization job; the pipeline only reads it.
package dictionary

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// Entry is one dictionary row. DocID may be empty for content identifiers
// that are not reachable through a docid= parameter.
type Entry struct {
	DocID     string
	ContentID string
	Title     string
	Status    string
}

// Store implements the dictionary on SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// NewStore opens (and if needed initializes) the dictionary database.
// Use ":memory:" for an in-memory database, or a file path for persistent storage.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	store := &Store{db: db}
	if err := store.initialize(); err != nil {
		_ = db.Close() // Best effort cleanup on initialization error
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *Store) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS identifiers (
		content_id TEXT PRIMARY KEY,
		doc_id TEXT,
		title TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT '',
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_doc_id ON identifiers(doc_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Upsert inserts or replaces dictionary entries. Used by the synchronization
// boundary and by tests; the pipeline itself never writes.
func (s *Store) Upsert(ctx context.Context, entries []Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	now := time.Now().Unix()
	for _, e := range entries {
		if e.ContentID == "" {
			_ = tx.Rollback()
			return fmt.Errorf("entry with doc id %q has empty content id", e.DocID)
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO identifiers (content_id, doc_id, title, status, updated_at)
			 VALUES (?, ?, ?, ?, ?)
			 ON CONFLICT(content_id) DO UPDATE SET doc_id=excluded.doc_id,
			   title=excluded.title, status=excluded.status, updated_at=excluded.updated_at`,
			e.ContentID, e.DocID, e.Title, e.Status, now,
		)
		if err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("upsert %s: %w", e.ContentID, err)
		}
	}
	return tx.Commit()
}

// MapDocumentIDs resolves document ids to content identifiers. Unknown ids
// are absent from the returned map.
func (s *Store) MapDocumentIDs(ctx context.Context, docIDs []string) (map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]string, len(docIDs))
	if len(docIDs) == 0 {
		return out, nil
	}

	query := fmt.Sprintf(
		"SELECT doc_id, content_id FROM identifiers WHERE doc_id IN (%s)",
		placeholders(len(docIDs)),
	)
	rows, err := s.db.QueryContext(ctx, query, toAnySlice(docIDs)...)
	if err != nil {
		return nil, fmt.Errorf("map document ids: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	for rows.Next() {
		var docID, contentID string
		if err := rows.Scan(&docID, &contentID); err != nil {
			return nil, fmt.Errorf("scan mapping row: %w", err)
		}
		out[docID] = contentID
	}
	return out, rows.Err()
}

// ContentMetadata fetches title/status metadata for content identifiers.
// Unknown identifiers are absent from the returned map.
func (s *Store) ContentMetadata(ctx context.Context, contentIDs []string) (map[string]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]Entry, len(contentIDs))
	if len(contentIDs) == 0 {
		return out, nil
	}

	query := fmt.Sprintf(
		"SELECT content_id, doc_id, title, status FROM identifiers WHERE content_id IN (%s)",
		placeholders(len(contentIDs)),
	)
	rows, err := s.db.QueryContext(ctx, query, toAnySlice(contentIDs)...)
	if err != nil {
		return nil, fmt.Errorf("content metadata: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ContentID, &e.DocID, &e.Title, &e.Status); err != nil {
			return nil, fmt.Errorf("scan metadata row: %w", err)
		}
		out[e.ContentID] = e
	}
	return out, rows.Err()
}

// Count returns the number of dictionary entries.
func (s *Store) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM identifiers").Scan(&n)
	return n, err
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func toAnySlice(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}
