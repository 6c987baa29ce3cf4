// Package tokens counts model tokens for stored memory text.
package tokens

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
	"github.com/rs/zerolog"
)

// DefaultEncoding is the BPE used by current chat models.
const DefaultEncoding = "cl100k_base"

// Counter returns the token count of a text.
type Counter interface {
	Count(text string) int
}

// Tiktoken counts with a tiktoken encoding. The encoding is loaded on first
// use; when it cannot be loaded the counter falls back to Estimate.
type Tiktoken struct {
	encoding string
	log      zerolog.Logger

	once sync.Once
	enc  *tiktoken.Tiktoken
}

// NewTiktoken returns a lazily initialised counter for encoding.
func NewTiktoken(encoding string, log zerolog.Logger) *Tiktoken {
	if encoding == "" {
		encoding = DefaultEncoding
	}
	return &Tiktoken{encoding: encoding, log: log}
}

func (t *Tiktoken) load() {
	enc, err := tiktoken.GetEncoding(t.encoding)
	if err != nil {
		t.log.Warn().Err(err).Str("encoding", t.encoding).Msg("tiktoken unavailable, estimating token counts")
		return
	}
	t.enc = enc
}

func (t *Tiktoken) Count(text string) int {
	if text == "" {
		return 0
	}
	t.once.Do(t.load)
	if t.enc == nil {
		return Estimate(text)
	}
	return len(t.enc.Encode(text, nil, nil))
}

// Estimate approximates a token count as one token per four bytes.
func Estimate(text string) int {
	if text == "" {
		return 0
	}
	return (len(text) + 3) / 4
}

// EstimateCounter is a Counter backed by Estimate.
type EstimateCounter struct{}

func (EstimateCounter) Count(text string) int { return Estimate(text) }
