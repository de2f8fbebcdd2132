// Package errors provides error classification for delivery failures.
//
// The delivery client retries all failures uniformly by default; when a
// destination opts into classified retries, Categorize decides whether
// a failure is worth another attempt (transient) or a lost cause
// (permanent).
package errors

import (
	"context"
	"errors"
	"fmt"
)

// Category represents how a delivery error should be handled.
type Category int

const (
	// CategoryTransient indicates retry will likely help.
	// Examples: rate limits, timeouts, 5xx responses, network resets.
	CategoryTransient Category = iota

	// CategoryPermanent indicates retry won't help.
	// Examples: authentication failures, bad request payloads.
	CategoryPermanent
)

// String returns the category name.
func (c Category) String() string {
	switch c {
	case CategoryTransient:
		return "transient"
	case CategoryPermanent:
		return "permanent"
	default:
		return "unknown"
	}
}

// HTTPError represents a non-success HTTP response from a destination.
type HTTPError struct {
	StatusCode int
	URL        string
	Message    string
}

// Error implements the error interface.
func (e *HTTPError) Error() string {
	if e.URL != "" {
		return fmt.Sprintf("HTTP %d from %s: %s", e.StatusCode, e.URL, e.Message)
	}
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

// TimeoutError indicates a delivery attempt exceeded its deadline.
type TimeoutError struct {
	URL     string
	Timeout string
}

// Error implements the error interface.
func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timeout after %s delivering to %s", e.Timeout, e.URL)
}

// CategorizedError wraps an error with its category and attempt count.
type CategorizedError struct {
	Err      error
	Category Category
	Attempts int
}

// Error implements the error interface.
func (e *CategorizedError) Error() string {
	return fmt.Sprintf("%s (category: %s, attempts: %d)", e.Err, e.Category, e.Attempts)
}

// Unwrap returns the underlying error.
func (e *CategorizedError) Unwrap() error {
	return e.Err
}

// Categorize determines how a delivery error should be handled.
func Categorize(err error) Category {
	if err == nil {
		return CategoryPermanent // shouldn't happen, fail safe
	}

	var catErr *CategorizedError
	if errors.As(err, &catErr) {
		return catErr.Category
	}

	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		switch httpErr.StatusCode {
		case 408, 429, 502, 503, 504:
			return CategoryTransient
		case 400, 401, 403, 404, 405, 410, 422:
			return CategoryPermanent
		default:
			if httpErr.StatusCode >= 500 {
				return CategoryTransient
			}
			return CategoryPermanent
		}
	}

	var timeoutErr *TimeoutError
	if errors.As(err, &timeoutErr) {
		return CategoryTransient
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return CategoryPermanent
	}

	// Unknown errors (DNS failures, connection resets, serialization
	// surprises) default to transient: retry is cheap and bounded.
	return CategoryTransient
}

// IsRetryable reports whether the error should be retried.
func IsRetryable(err error) bool {
	return Categorize(err) == CategoryTransient
}
