package drive

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"golang.org/x/oauth2"
)

// SQLiteTokenStore keeps tokens in a SQLite table keyed by name, so several
// accounts or tools can share one cache file.
type SQLiteTokenStore struct {
	db  *sql.DB
	key string
}

// NewSQLiteTokenStore opens (or creates) the database at dbPath and stores
// the token under key.
func NewSQLiteTokenStore(dbPath, key string) (*SQLiteTokenStore, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}
	if err := createTokenTable(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("error creating tables: %w", err)
	}
	return &SQLiteTokenStore{db: db, key: key}, nil
}

func createTokenTable(db *sql.DB) error {
	createTokens := `
    CREATE TABLE IF NOT EXISTS oauth_tokens (
        key TEXT PRIMARY KEY,
        token TEXT NOT NULL,
        updated_at TIMESTAMP NOT NULL
    );
    `
	_, err := db.Exec(createTokens)
	return err
}

func (s *SQLiteTokenStore) Load() (*oauth2.Token, error) {
	var raw string
	err := s.db.QueryRow(`SELECT token FROM oauth_tokens WHERE key = ?`, s.key).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load token %q: %w", s.key, err)
	}

	var tok oauth2.Token
	if err := json.Unmarshal([]byte(raw), &tok); err != nil {
		return nil, fmt.Errorf("parse token %q: %w", s.key, err)
	}
	return &tok, nil
}

func (s *SQLiteTokenStore) Save(tok *oauth2.Token) error {
	raw, err := json.Marshal(tok)
	if err != nil {
		return fmt.Errorf("marshal token: %w", err)
	}
	_, err = s.db.Exec(`
        INSERT INTO oauth_tokens (key, token, updated_at) VALUES (?, ?, ?)
        ON CONFLICT(key) DO UPDATE SET token = excluded.token, updated_at = excluded.updated_at`,
		s.key, string(raw), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("save token %q: %w", s.key, err)
	}
	return nil
}

func (s *SQLiteTokenStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
