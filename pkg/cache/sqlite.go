package cache

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS cache_entries (
	key             TEXT PRIMARY KEY,
	value           TEXT NOT NULL,
	created_at_unix INTEGER NOT NULL
);
`

// SQLiteStore is a durable store backed by one SQLite table. Every Put is its
// own committed statement.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens or creates the database at path.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, err
		}
	}
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Get(key string) (json.RawMessage, bool, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM cache_entries WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return json.RawMessage(value), true, nil
}

func (s *SQLiteStore) Put(key string, value json.RawMessage) error {
	_, err := s.db.Exec(`
		INSERT INTO cache_entries (key, value, created_at_unix) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, created_at_unix = excluded.created_at_unix`,
		key, string(value), time.Now().Unix())
	return err
}

func (s *SQLiteStore) Delete(key string) error {
	_, err := s.db.Exec(`DELETE FROM cache_entries WHERE key = ?`, key)
	return err
}

func (s *SQLiteStore) Clear() error {
	_, err := s.db.Exec(`DELETE FROM cache_entries`)
	return err
}

func (s *SQLiteStore) Len() (int, error) {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM cache_entries`).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
