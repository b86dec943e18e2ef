// Package memory persists the agent's journal between restarts.
package memory

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	// Pure-Go sqlite driver.
	_ "modernc.org/sqlite"
)

// Entry is one journal record.
type Entry struct {
	ID        string
	Kind      string
	Content   string
	CreatedAt time.Time
}

// Config defines memory configuration.
type Config struct {
	// Path is the sqlite database file.
	Path string
	// MaxEntries bounds the journal; older entries are pruned on append.
	MaxEntries int
}

// DefaultConfig returns the default memory configuration.
func DefaultConfig() Config {
	return Config{
		Path:       "shelly.db",
		MaxEntries: 1000,
	}
}

// Store is the sqlite-backed journal.
type Store struct {
	db         *sql.DB
	maxEntries int
}

// Open opens or creates the journal database.
func Open(config Config) (*Store, error) {
	db, err := sql.Open("sqlite", config.Path)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS journal (
			id TEXT PRIMARY KEY,
			kind TEXT NOT NULL,
			content TEXT NOT NULL,
			created_at TEXT NOT NULL
		)
	`); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "creating journal table")
	}

	return &Store{db: db, maxEntries: config.MaxEntries}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return errors.WithStack(s.db.Close())
}

// Append adds a journal entry and prunes the journal back to its bound,
// oldest entries first.
func (s *Store) Append(ctx context.Context, kind, content string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO journal (id, kind, content, created_at) VALUES (?, ?, ?, ?)`,
		uuid.NewString(), kind, content, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return errors.Wrap(err, "appending journal entry")
	}

	_, err = s.db.ExecContext(ctx, `
		DELETE FROM journal WHERE rowid NOT IN (
			SELECT rowid FROM journal ORDER BY rowid DESC LIMIT ?
		)`, s.maxEntries)
	return errors.Wrap(err, "pruning journal")
}

// Recent returns up to n entries, newest first.
func (s *Store) Recent(ctx context.Context, n int) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, kind, content, created_at FROM journal
		ORDER BY rowid DESC LIMIT ?`, n)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var createdAt string
		if err := rows.Scan(&e.ID, &e.Kind, &e.Content, &createdAt); err != nil {
			return nil, errors.WithStack(err)
		}
		e.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt)
		if err != nil {
			return nil, errors.Wrapf(err, "corrupted timestamp in entry %s", e.ID)
		}
		entries = append(entries, e)
	}
	return entries, errors.WithStack(rows.Err())
}
