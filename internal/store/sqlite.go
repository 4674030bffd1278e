// Package store persists masked key events in SQLite and maintains the
// full-text and embedding indexes used by search.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sync"

	_ "github.com/mattn/go-sqlite3"

	"keyrecall/internal/capture"
)

// Schema for the keyrecall event store. The text_search FTS5 table is
// an external-content index over key_events kept in sync by triggers.
const schema = `
CREATE TABLE IF NOT EXISTS key_events (
    id            INTEGER PRIMARY KEY AUTOINCREMENT,
    timestamp     INTEGER NOT NULL,
    symbol        TEXT NOT NULL,
    transition    TEXT NOT NULL,
    window_title  TEXT,
    application   TEXT,
    text_content  TEXT,
    created_at    DATETIME DEFAULT CURRENT_TIMESTAMP,
    UNIQUE(timestamp, symbol, transition)
);

CREATE VIRTUAL TABLE IF NOT EXISTS text_search USING fts5(
    text_content,
    timestamp,
    application,
    window_title,
    content='key_events',
    content_rowid='id'
);

CREATE TABLE IF NOT EXISTS embeddings (
    id          INTEGER PRIMARY KEY,
    event_id    INTEGER NOT NULL UNIQUE,
    embedding   BLOB NOT NULL,
    created_at  DATETIME DEFAULT CURRENT_TIMESTAMP,
    FOREIGN KEY (event_id) REFERENCES key_events (id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_key_events_timestamp ON key_events (timestamp);
CREATE INDEX IF NOT EXISTS idx_key_events_application ON key_events (application);
CREATE INDEX IF NOT EXISTS idx_embeddings_event_id ON embeddings (event_id);

CREATE TRIGGER IF NOT EXISTS key_events_ai AFTER INSERT ON key_events BEGIN
    INSERT INTO text_search(rowid, text_content, timestamp, application, window_title)
    VALUES (new.id, new.text_content, new.timestamp, new.application, new.window_title);
END;

CREATE TRIGGER IF NOT EXISTS key_events_ad AFTER DELETE ON key_events BEGIN
    INSERT INTO text_search(text_search, rowid, text_content, timestamp, application, window_title)
    VALUES ('delete', old.id, old.text_content, old.timestamp, old.application, old.window_title);
END;

CREATE TRIGGER IF NOT EXISTS key_events_au AFTER UPDATE ON key_events BEGIN
    INSERT INTO text_search(text_search, rowid, text_content, timestamp, application, window_title)
    VALUES ('delete', old.id, old.text_content, old.timestamp, old.application, old.window_title);
    INSERT INTO text_search(rowid, text_content, timestamp, application, window_title)
    VALUES (new.id, new.text_content, new.timestamp, new.application, new.window_title);
END;
`

// Options configure Open.
type Options struct {
	// BusyTimeoutMs is the SQLite busy timeout. Zero uses 5000.
	BusyTimeoutMs int

	// Passphrase enables at-rest encryption when the driver is built
	// with SQLCipher. Empty disables it.
	Passphrase string
}

// Store is the SQLite event store. A single connection is used;
// batched writes additionally serialize on a mutex so a flush is one
// atomic transaction.
type Store struct {
	db *sql.DB

	writeMu sync.Mutex
}

// Open opens or creates the database at path and applies the schema.
func Open(path string, opts Options) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	busyTimeout := opts.BusyTimeoutMs
	if busyTimeout <= 0 {
		busyTimeout = 5000
	}

	dsn := fmt.Sprintf("file:%s?_foreign_keys=on&_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=%d",
		url.PathEscape(path), busyTimeout)

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if opts.Passphrase != "" {
		keyHex, err := deriveKeyHex(path, opts.Passphrase)
		if err != nil {
			db.Close()
			return nil, err
		}
		if _, err := db.Exec(fmt.Sprintf(`PRAGMA key = "x'%s'"`, keyHex)); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply database key: %w", err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// StoreEvents writes a batch of events in one transaction and returns
// the number of rows actually inserted. Duplicate events (same
// timestamp, symbol, and transition) are ignored, so retrying a failed
// flush cannot double-store.
func (s *Store) StoreEvents(events []KeyEvent) (int, error) {
	if len(events) == 0 {
		return 0, nil
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT OR IGNORE INTO key_events
		(timestamp, symbol, transition, window_title, application, text_content)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, fmt.Errorf("prepare statement: %w", err)
	}
	defer stmt.Close()

	inserted := 0
	for _, e := range events {
		// Printable single-symbol presses contribute to typed text.
		var textContent any
		if e.Transition == "press" {
			if txt := capture.PrintableRune(e.Symbol); txt != "" {
				textContent = txt
			}
		}

		res, err := stmt.Exec(
			e.Timestamp, e.Symbol, e.Transition,
			nullable(e.WindowTitle), nullable(e.Application), textContent,
		)
		if err != nil {
			return 0, fmt.Errorf("insert event: %w", err)
		}
		if n, err := res.RowsAffected(); err == nil {
			inserted += int(n)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit transaction: %w", err)
	}

	return inserted, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// EventByID retrieves an event, or nil when it does not exist.
func (s *Store) EventByID(id int64) (*StoredEvent, error) {
	row := s.db.QueryRow(`
		SELECT id, timestamp, symbol, transition, window_title, application, text_content, created_at
		FROM key_events WHERE id = ?`, id)

	e, err := scanEvent(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get event: %w", err)
	}
	return e, nil
}

// EventsByTimeRange retrieves events with start <= timestamp <= end,
// newest first.
func (s *Store) EventsByTimeRange(start, end int64, limit int) ([]StoredEvent, error) {
	rows, err := s.db.Query(`
		SELECT id, timestamp, symbol, transition, window_title, application, text_content, created_at
		FROM key_events
		WHERE timestamp BETWEEN ? AND ?
		ORDER BY timestamp DESC
		LIMIT ?`, start, end, limit)
	if err != nil {
		return nil, fmt.Errorf("query events by range: %w", err)
	}
	defer rows.Close()

	var events []StoredEvent
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return events, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row rowScanner) (*StoredEvent, error) {
	var e StoredEvent
	var windowTitle, application, textContent sql.NullString
	var createdAt sql.NullTime

	if err := row.Scan(&e.ID, &e.Timestamp, &e.Symbol, &e.Transition,
		&windowTitle, &application, &textContent, &createdAt); err != nil {
		return nil, err
	}

	e.WindowTitle = windowTitle.String
	e.Application = application.String
	e.TextContent = textContent.String
	e.CreatedAt = createdAt.Time

	return &e, nil
}

// CountEvents returns the number of stored events.
func (s *Store) CountEvents() (int64, error) {
	var n int64
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM key_events`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count events: %w", err)
	}
	return n, nil
}

// GetStats returns store statistics.
func (s *Store) GetStats() (*Stats, error) {
	stats := &Stats{}

	if err := s.db.QueryRow(`SELECT COUNT(*) FROM key_events`).Scan(&stats.TotalEvents); err != nil {
		return nil, fmt.Errorf("count events: %w", err)
	}

	if err := s.db.QueryRow(
		`SELECT page_count * page_size FROM pragma_page_count(), pragma_page_size()`,
	).Scan(&stats.TotalSizeBytes); err != nil {
		stats.TotalSizeBytes = 0
	}

	var oldest, newest sql.NullInt64
	if err := s.db.QueryRow(
		`SELECT MIN(timestamp), MAX(timestamp) FROM key_events`,
	).Scan(&oldest, &newest); err != nil {
		return nil, fmt.Errorf("event time range: %w", err)
	}
	if oldest.Valid {
		stats.OldestEvent = &oldest.Int64
	}
	if newest.Valid {
		stats.NewestEvent = &newest.Int64
	}

	if err := s.db.QueryRow(`SELECT COUNT(*) FROM embeddings`).Scan(&stats.Embeddings); err != nil {
		return nil, fmt.Errorf("count embeddings: %w", err)
	}

	return stats, nil
}

// ClearAll deletes every event, index entry, and embedding, then
// reclaims the space.
func (s *Store) ClearAll() error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	// The delete trigger keeps text_search consistent row by row;
	// rebuilding afterwards is cheaper for a full wipe.
	for _, stmt := range []string{
		`DELETE FROM embeddings`,
		`DELETE FROM key_events`,
		`INSERT INTO text_search(text_search) VALUES ('rebuild')`,
	} {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("clear data: %w", err)
		}
	}

	if _, err := s.db.Exec(`VACUUM`); err != nil {
		return fmt.Errorf("vacuum: %w", err)
	}
	return nil
}

// Vacuum reclaims unused space.
func (s *Store) Vacuum() error {
	if _, err := s.db.Exec(`VACUUM`); err != nil {
		return fmt.Errorf("vacuum: %w", err)
	}
	return nil
}

// Optimize merges the FTS index and refreshes planner statistics.
func (s *Store) Optimize() error {
	if _, err := s.db.Exec(`INSERT INTO text_search(text_search) VALUES ('optimize')`); err != nil {
		return fmt.Errorf("optimize text index: %w", err)
	}
	if _, err := s.db.Exec(`PRAGMA optimize`); err != nil {
		return fmt.Errorf("optimize database: %w", err)
	}
	return nil
}

// SearchText queries the full-text index. Results are ordered by bm25
// rank, best first.
func (s *Store) SearchText(query string, limit int) ([]TextHit, error) {
	rows, err := s.db.Query(`
		SELECT e.id, COALESCE(e.text_content, ''), e.timestamp, rank,
		       COALESCE(e.application, ''), COALESCE(e.window_title, '')
		FROM text_search ts
		JOIN key_events e ON e.id = ts.rowid
		WHERE text_search MATCH ?
		ORDER BY rank
		LIMIT ?`, query, limit)
	if err != nil {
		return nil, fmt.Errorf("text search: %w", err)
	}
	defer rows.Close()

	var hits []TextHit
	for rows.Next() {
		var h TextHit
		if err := rows.Scan(&h.ID, &h.Content, &h.Timestamp, &h.Score,
			&h.Application, &h.WindowTitle); err != nil {
			return nil, fmt.Errorf("scan text hit: %w", err)
		}
		hits = append(hits, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate text hits: %w", err)
	}
	return hits, nil
}

// UnembeddedTexts returns indexed texts that have no cached embedding
// vector yet, oldest first.
func (s *Store) UnembeddedTexts(limit int) ([]IndexedText, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(`
		SELECT ke.id, ke.text_content, ke.timestamp
		FROM key_events ke
		LEFT JOIN embeddings em ON em.event_id = ke.id
		WHERE ke.text_content IS NOT NULL AND em.event_id IS NULL
		ORDER BY ke.timestamp ASC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query unembedded texts: %w", err)
	}
	defer rows.Close()

	var texts []IndexedText
	for rows.Next() {
		var t IndexedText
		if err := rows.Scan(&t.ID, &t.Text, &t.Timestamp); err != nil {
			return nil, fmt.Errorf("scan unembedded text: %w", err)
		}
		texts = append(texts, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate unembedded texts: %w", err)
	}
	return texts, nil
}
