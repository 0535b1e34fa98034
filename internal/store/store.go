// Package store provides the durable key-value storage shared by the license
// gate and the dispatcher: the raw license key, the user name, and session
// statistics. Writes are last-write-wins from a single user session.
package store

import (
	"database/sql"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"
)

const (
	KeyLicense  = "license_key"
	KeyUserName = "user_name"
)

// SessionStats mirrors the session_stats schema of the storage contract.
type SessionStats struct {
	CreditsSaved  float64 `json:"tokens_or_credits_saved"`
	RequestsCount int64   `json:"requests_count"`
}

type Store struct {
	db *sql.DB
}

// Open creates the store and runs migrations. A ":memory:" DSN is rewritten
// to shared-cache form so every pooled connection sees the same data.
func Open(dsn string) (*Store, error) {
	if dsn == ":memory:" {
		dsn = "file::memory:?cache=shared"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS kv (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS session_stats (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			credits_saved REAL NOT NULL DEFAULT 0,
			requests_count INTEGER NOT NULL DEFAULT 0
		)`,
		`INSERT OR IGNORE INTO session_stats (id) VALUES (1)`,
	}
	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Get returns the value for key, or "" when absent.
func (s *Store) Get(key string) (string, error) {
	var v string
	err := s.db.QueryRow(`SELECT value FROM kv WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get %s: %w", key, err)
	}
	return v, nil
}

func (s *Store) Set(key, value string) error {
	_, err := s.db.Exec(
		`INSERT INTO kv (key, value, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP`,
		key, value,
	)
	if err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

func (s *Store) Delete(key string) error {
	_, err := s.db.Exec(`DELETE FROM kv WHERE key = ?`, key)
	if err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

// LicenseKey is a convenience accessor for the one value nearly every
// component reads.
func (s *Store) LicenseKey() (string, error) {
	return s.Get(KeyLicense)
}

func (s *Store) Stats() (SessionStats, error) {
	var st SessionStats
	err := s.db.QueryRow(`SELECT credits_saved, requests_count FROM session_stats WHERE id = 1`).
		Scan(&st.CreditsSaved, &st.RequestsCount)
	if err != nil {
		return SessionStats{}, fmt.Errorf("stats: %w", err)
	}
	return st, nil
}

// RecordDispatch bumps the request counter and adds the credits saved by
// routing one instruction through the relay instead of the native path.
func (s *Store) RecordDispatch(creditsSaved float64) error {
	_, err := s.db.Exec(
		`UPDATE session_stats SET requests_count = requests_count + 1, credits_saved = credits_saved + ? WHERE id = 1`,
		creditsSaved,
	)
	if err != nil {
		return fmt.Errorf("record dispatch: %w", err)
	}
	return nil
}

// ClearSession removes the license key and user name on explicit logout.
// Stats survive — they describe the installation, not the license.
func (s *Store) ClearSession() error {
	if err := s.Delete(KeyLicense); err != nil {
		return err
	}
	return s.Delete(KeyUserName)
}
