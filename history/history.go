// Package history keeps a SQLite transcript of the sentences run in each
// session.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// Entry is one executed sentence.
type Entry struct {
	ID       int64
	Session  string
	Sentence string
	Status   int
	Output   string
	At       time.Time
}

// Store handles SQLite storage of entries.
type Store struct {
	db   *sql.DB
	path string
	mu   sync.Mutex
}

// Open opens or creates the transcript database at path.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("creating history directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// One connection, so an in-memory database is shared by every query.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS entries (
		id       INTEGER PRIMARY KEY AUTOINCREMENT,
		session  TEXT NOT NULL,
		sentence TEXT NOT NULL,
		status   INTEGER NOT NULL,
		output   TEXT NOT NULL,
		at       INTEGER NOT NULL
	)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating table: %w", err)
	}
	if _, err := db.Exec("CREATE INDEX IF NOT EXISTS entries_session ON entries (session, id)"); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating index: %w", err)
	}

	return &Store{db: db, path: path}, nil
}

// Path returns the database path.
func (s *Store) Path() string {
	return s.path
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Record appends an entry. A zero At is set to now. The stored ID is
// returned.
func (s *Store) Record(ctx context.Context, e Entry) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e.At.IsZero() {
		e.At = time.Now()
	}
	res, err := s.db.ExecContext(ctx,
		"INSERT INTO entries (session, sentence, status, output, at) VALUES (?, ?, ?, ?, ?)",
		e.Session, e.Sentence, e.Status, e.Output, e.At.UnixNano(),
	)
	if err != nil {
		return 0, fmt.Errorf("recording entry: %w", err)
	}
	return res.LastInsertId()
}

// Recent returns up to limit of the latest entries, oldest first. An empty
// session selects every session.
func (s *Store) Recent(ctx context.Context, session string, limit int) ([]Entry, error) {
	if limit <= 0 {
		return nil, nil
	}

	query := `SELECT id, session, sentence, status, output, at FROM entries
		WHERE (? = '' OR session = ?) ORDER BY id DESC LIMIT ?`
	rows, err := s.db.QueryContext(ctx, query, session, session, limit)
	if err != nil {
		return nil, fmt.Errorf("querying entries: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var at int64
		if err := rows.Scan(&e.ID, &e.Session, &e.Sentence, &e.Status, &e.Output, &at); err != nil {
			return nil, fmt.Errorf("scanning entry: %w", err)
		}
		e.At = time.Unix(0, at)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading entries: %w", err)
	}

	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	return entries, nil
}

// Forget deletes every entry of a session and returns how many there were.
func (s *Store) Forget(ctx context.Context, session string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, "DELETE FROM entries WHERE session = ?", session)
	if err != nil {
		return 0, fmt.Errorf("deleting entries: %w", err)
	}
	return res.RowsAffected()
}
