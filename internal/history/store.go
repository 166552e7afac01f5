// Package history keeps a local log of image generation attempts.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/huandu/go-sqlbuilder"
	_ "modernc.org/sqlite"
)

const table = "generations"

// Status of a finished generation.
type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Entry is one generation attempt. The prompt itself is not stored.
type Entry struct {
	RequestID    string        `json:"requestId"`
	Model        string        `json:"model"`
	PromptLength int           `json:"promptLength"`
	Width        int           `json:"width"`
	Height       int           `json:"height"`
	Status       Status        `json:"status"`
	Error        string        `json:"error,omitempty"`
	Duration     time.Duration `json:"-"`
	DurationMS   int64         `json:"durationMs"`
	CreatedAt    time.Time     `json:"createdAt"`
}

// Store is a sqlite-backed generation log
type Store struct {
	db     *sql.DB
	dbPath string
	mu     sync.RWMutex
}

// Open opens (or creates) the history database at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One writer keeps sqlite from returning SQLITE_BUSY under load.
	db.SetMaxOpenConns(1)

	store := &Store{db: db, dbPath: path}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

func (s *Store) initSchema() error {
	if _, err := s.db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		return fmt.Errorf("failed to set WAL mode: %w", err)
	}

	ctb := sqlbuilder.NewCreateTableBuilder()
	ctb.SetFlavor(sqlbuilder.SQLite)
	ctb.CreateTable(table).IfNotExists()
	ctb.Define("request_id", "TEXT", "PRIMARY KEY")
	ctb.Define("model", "TEXT", "NOT NULL")
	ctb.Define("prompt_length", "INTEGER")
	ctb.Define("width", "INTEGER")
	ctb.Define("height", "INTEGER")
	ctb.Define("status", "TEXT", "NOT NULL")
	ctb.Define("error", "TEXT")
	ctb.Define("duration_ms", "INTEGER")
	ctb.Define("created_at", "INTEGER", "NOT NULL")

	query, args := ctb.Build()
	if _, err := s.db.Exec(query, args...); err != nil {
		return fmt.Errorf("failed to create %s table: %w", table, err)
	}

	if _, err := s.db.Exec(`CREATE INDEX IF NOT EXISTS idx_generations_created ON generations(created_at);`); err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}
	return nil
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.dbPath
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// Record stores a finished generation. Entries with the same request id
// replace earlier ones.
func (s *Store) Record(ctx context.Context, e Entry) error {
	if e.RequestID == "" {
		return fmt.Errorf("history entry needs a request id")
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	if e.DurationMS == 0 && e.Duration > 0 {
		e.DurationMS = e.Duration.Milliseconds()
	}

	ib := sqlbuilder.SQLite.NewInsertBuilder()
	ib.ReplaceInto(table)
	ib.Cols("request_id", "model", "prompt_length", "width", "height", "status", "error", "duration_ms", "created_at")
	ib.Values(e.RequestID, e.Model, e.PromptLength, e.Width, e.Height, string(e.Status), e.Error, e.DurationMS, e.CreatedAt.UnixMilli())
	query, args := ib.Build()

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to record generation: %w", err)
	}
	return nil
}

// Recent returns up to limit entries, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}

	sb := sqlbuilder.SQLite.NewSelectBuilder()
	sb.Select("request_id", "model", "prompt_length", "width", "height", "status", "error", "duration_ms", "created_at")
	sb.From(table)
	sb.OrderBy("created_at").Desc()
	sb.Limit(limit)
	query, args := sb.Build()

	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		var e Entry
		var status string
		var errMsg sql.NullString
		var created int64
		if err := rows.Scan(&e.RequestID, &e.Model, &e.PromptLength, &e.Width, &e.Height, &status, &errMsg, &e.DurationMS, &created); err != nil {
			return nil, fmt.Errorf("failed to scan history row: %w", err)
		}
		e.Status = Status(status)
		e.Error = errMsg.String
		e.Duration = time.Duration(e.DurationMS) * time.Millisecond
		e.CreatedAt = time.UnixMilli(created)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Prune deletes entries created before cutoff and returns how many went.
func (s *Store) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	db := sqlbuilder.SQLite.NewDeleteBuilder()
	db.DeleteFrom(table)
	db.Where(db.LessThan("created_at", cutoff.UnixMilli()))
	query, args := db.Build()

	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to prune history: %w", err)
	}
	return res.RowsAffected()
}

// Count returns the number of stored entries.
func (s *Store) Count(ctx context.Context) (int, error) {
	sb := sqlbuilder.SQLite.NewSelectBuilder()
	sb.Select("COUNT(*)").From(table)
	query, args := sb.Build()

	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count history: %w", err)
	}
	return n, nil
}
