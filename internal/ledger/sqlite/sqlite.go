package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	// register sqlite driver
	_ "modernc.org/sqlite"

	"github.com/kyupark/freegpt/internal/ledger"
)

// Store implements ledger.Store backed by SQLite.
type Store struct {
	db *sql.DB
}

var _ ledger.Store = (*Store)(nil)

// New opens (or creates) a SQLite ledger at path.
func New(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create ledger directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}
	if _, err := db.Exec(`PRAGMA busy_timeout=5000`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema() error {
	const schema = `
CREATE TABLE IF NOT EXISTS completions (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	request_id TEXT NOT NULL,
	mode TEXT NOT NULL CHECK(mode IN ('stream','buffered')),
	prompt_tokens INTEGER NOT NULL,
	completion_tokens INTEGER NOT NULL,
	finish_reason TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_completions_created ON completions(created_at DESC);
`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Close releases underlying database resources.
func (s *Store) Close() error {
	return s.db.Close()
}

// Record inserts a completed request.
func (s *Store) Record(ctx context.Context, entry ledger.Entry) error {
	if entry.RequestID == "" {
		return errors.New("ledger record requires request id")
	}
	if entry.Mode != ledger.ModeStream && entry.Mode != ledger.ModeBuffered {
		return fmt.Errorf("invalid mode %q", entry.Mode)
	}
	created := entry.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO completions(request_id, mode, prompt_tokens, completion_tokens, finish_reason, created_at)
VALUES(?, ?, ?, ?, ?, ?)`,
		entry.RequestID,
		string(entry.Mode),
		entry.PromptTokens,
		entry.CompletionTokens,
		entry.FinishReason,
		created,
	)
	return err
}

// Summary totals every recorded request.
func (s *Store) Summary(ctx context.Context) (ledger.Summary, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT COUNT(*), COALESCE(SUM(prompt_tokens), 0), COALESCE(SUM(completion_tokens), 0)
FROM completions`)

	var sum ledger.Summary
	if err := row.Scan(&sum.Requests, &sum.PromptTokens, &sum.CompletionTokens); err != nil {
		return ledger.Summary{}, err
	}
	sum.TotalTokens = sum.PromptTokens + sum.CompletionTokens
	return sum, nil
}

// ListRecent returns the latest entries, newest first.
func (s *Store) ListRecent(ctx context.Context, limit int) ([]ledger.Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT id, request_id, mode, prompt_tokens, completion_tokens, finish_reason, created_at
FROM completions
ORDER BY created_at DESC, id DESC
LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []ledger.Entry
	for rows.Next() {
		var e ledger.Entry
		var mode string
		if err := rows.Scan(&e.ID, &e.RequestID, &mode, &e.PromptTokens, &e.CompletionTokens, &e.FinishReason, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Mode = ledger.Mode(mode)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
