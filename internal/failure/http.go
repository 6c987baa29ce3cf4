package failure

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// ClassifyHTTPError determines whether an HTTP error from the extraction
// service should be retried.
//   - 408 and 429 are recoverable
//   - other 4xx client errors are irrecoverable
//   - 5xx server errors are recoverable
func ClassifyHTTPError(statusCode int, underlyingErr error) *ClassifiedError {
	return &ClassifiedError{
		Category:   httpErrorCategory(statusCode),
		StatusCode: statusCode,
		Underlying: underlyingErr,
	}
}

func httpErrorCategory(statusCode int) ErrorCategory {
	switch {
	case statusCode >= 400 && statusCode < 500:
		switch statusCode {
		case 408, 429:
			return Recoverable
		default:
			return Irrecoverable
		}
	case statusCode >= 500 && statusCode < 600:
		return Recoverable
	default:
		// Unexpected status codes - be conservative and retry
		return Recoverable
	}
}

// NewNetworkError creates a classified error for network-level failures.
// Network errors and timeouts are always recoverable.
func NewNetworkError(operation string, err error) *ClassifiedError {
	return &ClassifiedError{
		Category:   Recoverable,
		Underlying: fmt.Errorf("%s network error: %w", operation, err),
	}
}

// IsTimeout reports whether err is a deadline or network timeout.
func IsTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
