// Package ledger keeps a local record of completed chat requests and the
// tokens they used.
package ledger

import (
	"context"
	"time"
)

// Mode says how a completion was delivered.
type Mode string

const (
	ModeStream   Mode = "stream"
	ModeBuffered Mode = "buffered"
)

// Entry is one completed request.
type Entry struct {
	ID               int64     `json:"id"`
	RequestID        string    `json:"request_id"`
	Mode             Mode      `json:"mode"`
	PromptTokens     int64     `json:"prompt_tokens"`
	CompletionTokens int64     `json:"completion_tokens"`
	FinishReason     string    `json:"finish_reason,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
}

// Summary aggregates every recorded entry.
type Summary struct {
	Requests         int64 `json:"requests"`
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
	TotalTokens      int64 `json:"total_tokens"`
}

// Store defines persistence behaviour for the ledger.
type Store interface {
	Record(ctx context.Context, entry Entry) error
	Summary(ctx context.Context) (Summary, error)
	ListRecent(ctx context.Context, limit int) ([]Entry, error)
	Close() error
}
