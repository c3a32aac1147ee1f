package entry

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	// busy_timeout(5000): wait up to 5s when the DB is locked instead of failing
	db, err := sql.Open("sqlite", dbPath+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.createTables(); err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

func (s *SQLiteStore) createTables() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS config_entries (
			entryId TEXT PRIMARY KEY,
			domain TEXT NOT NULL,
			title TEXT NOT NULL,
			uniqueId TEXT,
			version INTEGER NOT NULL,
			data TEXT NOT NULL,
			createdAt INTEGER NOT NULL
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_config_entries_unique ON config_entries(domain, uniqueId)`,
	}

	for _, query := range queries {
		if _, err := s.db.Exec(query); err != nil {
			return fmt.Errorf("failed to create tables: %w", err)
		}
	}

	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Add(e Entry) error {
	data, err := json.Marshal(e.Data)
	if err != nil {
		return fmt.Errorf("failed to encode entry data: %w", err)
	}

	var uniqueID *string
	if e.UniqueID != "" {
		uniqueID = &e.UniqueID
	}

	query := `
		INSERT INTO config_entries (entryId, domain, title, uniqueId, version, data, createdAt)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	_, err = s.db.Exec(query, e.EntryID, e.Domain, e.Title, uniqueID, e.Version, string(data), e.CreatedAt.UnixNano())
	if err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return ErrAlreadyExists
	}
	return err
}

const selectEntry = `SELECT entryId, domain, title, uniqueId, version, data, createdAt FROM config_entries`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (*Entry, error) {
	var e Entry
	var uniqueID sql.NullString
	var data string
	var createdAt int64

	if err := row.Scan(&e.EntryID, &e.Domain, &e.Title, &uniqueID, &e.Version, &data, &createdAt); err != nil {
		return nil, err
	}

	e.UniqueID = uniqueID.String
	if err := json.Unmarshal([]byte(data), &e.Data); err != nil {
		return nil, fmt.Errorf("failed to decode entry data: %w", err)
	}
	if e.Data == nil {
		e.Data = map[string]any{}
	}
	// createdAt is stored as unix nanoseconds so it sorts numerically
	e.CreatedAt = time.Unix(0, createdAt).UTC()

	return &e, nil
}

func (s *SQLiteStore) Get(entryID string) (*Entry, error) {
	e, err := scanEntry(s.db.QueryRow(selectEntry+` WHERE entryId = ?`, entryID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return e, err
}

func (s *SQLiteStore) FindByUniqueID(domain, uniqueID string) (*Entry, error) {
	e, err := scanEntry(s.db.QueryRow(selectEntry+` WHERE domain = ? AND uniqueId = ?`, domain, uniqueID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return e, err
}

func (s *SQLiteStore) List(domain string) ([]Entry, error) {
	query := selectEntry
	var args []any
	if domain != "" {
		query += ` WHERE domain = ?`
		args = append(args, domain)
	}
	query += ` ORDER BY createdAt, rowid`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *e)
	}

	return entries, rows.Err()
}

func (s *SQLiteStore) Remove(entryID string) error {
	res, err := s.db.Exec(`DELETE FROM config_entries WHERE entryId = ?`, entryID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
