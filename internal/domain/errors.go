package domain

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors for core operations
var (
	// ErrMissingCredentials indicates a refresh was attempted without a
	// refresh token or project ID
	ErrMissingCredentials = errors.New("missing refresh token or project id")

	// ErrAuthFailed indicates authentication failed and re-auth is required
	ErrAuthFailed = errors.New("authentication token is invalid")

	// ErrStreamFatal indicates the stream retry budget is exhausted and the
	// caller should advance to the next item
	ErrStreamFatal = errors.New("stream failed after exhausting retries")

	// ErrPlayAborted indicates a play request was interrupted by a state
	// transition; callers treat it as benign
	ErrPlayAborted = errors.New("play request aborted by a pending state change")

	// ErrQueueEmpty indicates a navigation operation on an empty queue
	ErrQueueEmpty = errors.New("queue is empty")
)

// APIError is a non-2xx response from the catalog API.
type APIError struct {
	Status     int
	StatusText string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: %d %s", e.Status, e.StatusText)
}

// IsTokenExpired reports whether err carries an HTTP 401/403 status,
// meaning the access token should be refreshed and the operation retried
// once. Detection is structural (errors.As), not message matching.
func IsTokenExpired(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status == http.StatusUnauthorized || apiErr.Status == http.StatusForbidden
	}
	var streamErr *StreamError
	if errors.As(err, &streamErr) {
		return streamErr.Status == http.StatusUnauthorized || streamErr.Status == http.StatusForbidden
	}
	return false
}

// ErrorClass partitions stream errors by the recovery strategy they admit.
type ErrorClass int

const (
	// ClassNetwork errors reload the manifest from scratch
	ClassNetwork ErrorClass = iota
	// ClassMedia errors attempt in-place recovery
	ClassMedia
	// ClassOther errors abort immediately
	ClassOther
)

// String returns the log name of the error class.
func (c ErrorClass) String() string {
	switch c {
	case ClassNetwork:
		return "network"
	case ClassMedia:
		return "media"
	default:
		return "other"
	}
}

// StreamError is an error raised by an active streaming session.
type StreamError struct {
	Class  ErrorClass
	Fatal  bool
	Status int // HTTP status when the error originated from a fetch, else 0
	Err    error
}

func (e *StreamError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("stream error (%s): %v", e.Class, e.Err)
	}
	return fmt.Sprintf("stream error (%s)", e.Class)
}

func (e *StreamError) Unwrap() error { return e.Err }

// CacheError wraps a storage failure. Cache errors are logged by the cache
// layer and degrade to miss behavior; they never cross into callers.
type CacheError struct {
	Op  string
	Err error
}

func (e *CacheError) Error() string {
	return fmt.Sprintf("cache %s: %v", e.Op, e.Err)
}

func (e *CacheError) Unwrap() error { return e.Err }
