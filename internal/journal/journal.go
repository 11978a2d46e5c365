// Package journal keeps an append-only audit trail of everything the copier
// did to the venue: submissions, rejections and corrective actions. It is a
// diagnostic record, not state; the reconciliation controller never reads it.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/glebarez/go-sqlite"
)

// Entry is one journaled venue interaction.
type Entry struct {
	ID      string    `json:"id"`
	At      time.Time `json:"at"`
	Kind    string    `json:"kind"` // submit|reject|close_partial|secure|cancel_pending|close_ghost
	Login   int64     `json:"login"`
	Ticket  int64     `json:"ticket,omitempty"`
	GroupID string    `json:"group_id,omitempty"`
	Symbol  string    `json:"symbol,omitempty"`
	Volume  float64   `json:"volume,omitempty"`
	Price   float64   `json:"price,omitempty"`
	Code    int       `json:"code,omitempty"`
	Comment string    `json:"comment,omitempty"`
}

// Store persists entries in a standalone SQLite file.
type Store struct {
	mu   sync.Mutex
	db   *sql.DB
	path string
}

func Open(path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("journal: path cannot be empty")
	}
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("journal: creating directory failed: %w", err)
		}
	}
	db, err := sql.Open("sqlite", fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path))
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS journal_entries (
		id TEXT PRIMARY KEY,
		at INTEGER NOT NULL,
		kind TEXT NOT NULL,
		login INTEGER NOT NULL,
		ticket INTEGER,
		group_id TEXT,
		symbol TEXT,
		volume REAL,
		price REAL,
		code INTEGER,
		comment TEXT
	)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("journal: creating table failed: %w", err)
	}
	db.SetMaxOpenConns(1)
	return &Store{db: db, path: path}, nil
}

// Append writes one entry. An empty ID gets a fresh uuid; a zero timestamp
// gets the current time.
func (s *Store) Append(ctx context.Context, e Entry) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("journal: store not initialized")
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `INSERT INTO journal_entries
		(id, at, kind, login, ticket, group_id, symbol, volume, price, code, comment)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.At.UnixMilli(), e.Kind, e.Login, e.Ticket, e.GroupID, e.Symbol,
		e.Volume, e.Price, e.Code, e.Comment)
	return err
}

// Recent returns the newest entries, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("journal: store not initialized")
	}
	if limit <= 0 {
		limit = 100
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, err := s.db.QueryContext(ctx, `SELECT id, at, kind, login, ticket, group_id,
		symbol, volume, price, code, comment
		FROM journal_entries ORDER BY at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Entry
	for rows.Next() {
		var e Entry
		var at int64
		if err := rows.Scan(&e.ID, &at, &e.Kind, &e.Login, &e.Ticket, &e.GroupID,
			&e.Symbol, &e.Volume, &e.Price, &e.Code, &e.Comment); err != nil {
			return nil, err
		}
		e.At = time.UnixMilli(at)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
