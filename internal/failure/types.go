// Package failure classifies pipeline errors for the retry policy.
// Recoverable errors are retried with exponential backoff by the job runner;
// irrecoverable errors fail the capture immediately.
package failure

import (
	"errors"
	"fmt"
)

// ErrorCategory determines how errors should be handled by retry logic.
type ErrorCategory int

const (
	// Recoverable errors should be retried with exponential backoff.
	// Examples: rate limits, timeouts, 5xx from the extraction service.
	Recoverable ErrorCategory = iota

	// Irrecoverable errors should fail immediately without retry.
	// Examples: schema-invalid responses, empty content, tenant violations.
	Irrecoverable
)

// String returns a human-readable representation of the error category.
func (c ErrorCategory) String() string {
	switch c {
	case Recoverable:
		return "Recoverable"
	case Irrecoverable:
		return "Irrecoverable"
	default:
		return fmt.Sprintf("Unknown(%d)", int(c))
	}
}

// ClassifiedError wraps an error with categorization metadata for retry policies.
type ClassifiedError struct {
	Category   ErrorCategory
	StatusCode int // HTTP status code (0 for non-HTTP errors)
	Underlying error
}

// Error implements the error interface.
func (e *ClassifiedError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("[%s] HTTP %d: %v", e.Category, e.StatusCode, e.Underlying)
	}
	return fmt.Sprintf("[%s] %v", e.Category, e.Underlying)
}

// Unwrap returns the underlying error for error chain compatibility.
func (e *ClassifiedError) Unwrap() error {
	return e.Underlying
}

// Transient marks err as recoverable.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &ClassifiedError{Category: Recoverable, Underlying: err}
}

// Permanent marks err as irrecoverable.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &ClassifiedError{Category: Irrecoverable, Underlying: err}
}

// IsIrrecoverable returns true if the error should not be retried.
// The whole chain is searched so wrapping with %w keeps the classification.
func IsIrrecoverable(err error) bool {
	var classified *ClassifiedError
	if errors.As(err, &classified) {
		return classified.Category == Irrecoverable
	}
	return false
}
