// Package extraction turns a capture into candidate memories by calling an
// external language model. The adapter makes exactly one network call per
// invocation and never retries; the job runner owns retry policy.
package extraction

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/Dannytownkins/Ember-sub000/internal/model"
)

// Payload is the raw input of one capture. Exactly one of Text or Images is set.
type Payload struct {
	Text   string
	Images []model.ImageRef
}

// Extractor produces candidate memories for a payload.
//
// Errors are classified with the failure package: timeouts, rate limits,
// network errors and 5xx responses are recoverable; other 4xx responses and
// *SchemaError are irrecoverable.
type Extractor interface {
	Extract(ctx context.Context, p Payload) ([]model.CandidateMemory, error)
}

// Bounds limits what is sent to the model.
type Bounds struct {
	MinChars  int
	MaxChars  int
	MaxImages int
}

// DefaultBounds mirrors the submission limits.
var DefaultBounds = Bounds{MinChars: 50, MaxChars: 100000, MaxImages: 10}

// Check validates p against b. Text is measured in runes after trimming.
func (b Bounds) Check(p Payload) error {
	text := strings.TrimSpace(p.Text)
	switch {
	case text == "" && len(p.Images) == 0:
		return fmt.Errorf("%w: capture is empty", model.ErrValidation)
	case text != "" && len(p.Images) > 0:
		return fmt.Errorf("%w: capture has both text and images", model.ErrValidation)
	case len(p.Images) > 0:
		if b.MaxImages > 0 && len(p.Images) > b.MaxImages {
			return fmt.Errorf("%w: %d images exceeds limit of %d", model.ErrValidation, len(p.Images), b.MaxImages)
		}
		return nil
	}
	n := utf8.RuneCountInString(text)
	if n < b.MinChars {
		return fmt.Errorf("%w: text has %d characters, minimum is %d", model.ErrValidation, n, b.MinChars)
	}
	if b.MaxChars > 0 && n > b.MaxChars {
		return fmt.Errorf("%w: text has %d characters, maximum is %d", model.ErrValidation, n, b.MaxChars)
	}
	return nil
}

// SchemaError reports a model response that does not match the expected shape.
type SchemaError struct {
	Reason string
	Err    error
}

func (e *SchemaError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("extraction response invalid: %s: %v", e.Reason, e.Err)
	}
	return "extraction response invalid: " + e.Reason
}

func (e *SchemaError) Unwrap() error { return e.Err }
