// Package tokenizer counts tokens for usage accounting.
package tokenizer

import (
	"fmt"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
)

// DefaultEncoding is the BPE used by the gpt-3.5 family.
const DefaultEncoding = "cl100k_base"

// Counter counts tokens in a piece of text.
type Counter interface {
	Count(text string) int
}

// BPE counts tokens with a tiktoken byte-pair encoding.
type BPE struct {
	mu  sync.Mutex
	enc *tiktoken.Tiktoken
}

// NewBPE loads the named encoding. The ranks file is fetched once and kept
// in TIKTOKEN_CACHE_DIR when that is set.
func NewBPE(encoding string) (*BPE, error) {
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, fmt.Errorf("load encoding %s: %w", encoding, err)
	}
	return &BPE{enc: enc}, nil
}

// Count implements Counter.
func (b *BPE) Count(text string) int {
	if text == "" {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.enc.Encode(text, nil, nil))
}

// Estimate approximates one token per four runes.
type Estimate struct{}

// Count implements Counter.
func (Estimate) Count(text string) int {
	text = strings.TrimSpace(text)
	if text == "" {
		return 0
	}
	return (utf8.RuneCountInString(text) + 3) / 4
}

// New returns a BPE counter for DefaultEncoding, or Estimate when the
// encoding cannot be loaded.
func New(logf func(string, ...any)) Counter {
	if logf == nil {
		logf = func(string, ...any) {}
	}
	bpe, err := NewBPE(DefaultEncoding)
	if err != nil {
		logf("[tokenizer] %v; falling back to estimates", err)
		return Estimate{}
	}
	return bpe
}

// CountAll sums the token counts of texts.
func CountAll(c Counter, texts ...string) int {
	total := 0
	for _, t := range texts {
		total += c.Count(t)
	}
	return total
}
