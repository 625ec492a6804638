// Package store persists users, meetings, OAuth2 credentials, sync cursors
// and created-event links in SQLite.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/mattn/go-sqlite3"
)

var (
	ErrNotFound        = errors.New("record not found")
	ErrUniqueViolation = errors.New("unique constraint violated")
)

// Store wraps the SQLite connection.
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) the database at path with WAL mode and
// foreign keys enabled, and initializes the schema.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite allows a single writer; one connection avoids "database is locked".
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.InitSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL,
	email TEXT,
	password_hash TEXT
);

CREATE TABLE IF NOT EXISTS meetings (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL,
	about TEXT NOT NULL DEFAULT '',
	timezone TEXT NOT NULL,
	min_start_hour REAL NOT NULL,
	max_end_hour REAL NOT NULL,
	tentative_dates TEXT NOT NULL,
	scheduled_start TEXT,
	scheduled_end TEXT
);

CREATE TABLE IF NOT EXISTS meeting_respondents (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	meeting_id INTEGER NOT NULL REFERENCES meetings(id) ON DELETE CASCADE,
	user_id INTEGER REFERENCES users(id) ON DELETE CASCADE,
	guest_name TEXT NOT NULL DEFAULT '',
	UNIQUE (meeting_id, user_id)
);

CREATE TABLE IF NOT EXISTS oauth2_credentials (
	user_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	provider TEXT NOT NULL,
	subject_id TEXT NOT NULL,
	access_token TEXT NOT NULL,
	access_token_expires_at INTEGER NOT NULL,
	refresh_token TEXT NOT NULL,
	linked_calendar INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (user_id, provider),
	UNIQUE (provider, subject_id)
);

CREATE TABLE IF NOT EXISTS calendar_sync_cursors (
	meeting_id INTEGER NOT NULL REFERENCES meetings(id) ON DELETE CASCADE,
	user_id INTEGER NOT NULL,
	provider TEXT NOT NULL,
	prev_range_start TEXT NOT NULL,
	prev_range_end TEXT NOT NULL,
	sync_token TEXT NOT NULL,
	events TEXT NOT NULL,
	PRIMARY KEY (meeting_id, user_id, provider),
	FOREIGN KEY (user_id, provider) REFERENCES oauth2_credentials(user_id, provider) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS calendar_created_events (
	respondent_id INTEGER NOT NULL REFERENCES meeting_respondents(id) ON DELETE CASCADE,
	provider TEXT NOT NULL,
	meeting_id INTEGER NOT NULL,
	user_id INTEGER NOT NULL,
	external_event_id TEXT NOT NULL,
	PRIMARY KEY (respondent_id, provider),
	FOREIGN KEY (user_id, provider) REFERENCES oauth2_credentials(user_id, provider) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_created_events_meeting ON calendar_created_events(meeting_id, user_id, provider);
`

// InitSchema creates all tables if they do not exist.
func (s *Store) InitSchema() error {
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

// translateError maps SQLite constraint errors onto the package sentinels.
func translateError(err error) error {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) &&
		(sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique || sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey) {
		return fmt.Errorf("%w: %v", ErrUniqueViolation, err)
	}
	return err
}
