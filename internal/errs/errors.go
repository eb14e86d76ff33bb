package errs

import "errors"

var (
	// ErrInvalidEvent marks a rejected event that must not be retried.
	ErrInvalidEvent = errors.New("invalid event")
	// ErrAppendFailed is returned when the log did not acknowledge an append.
	ErrAppendFailed = errors.New("append failed")
	ErrProcessing   = errors.New("event processing failed")
	ErrUnavailable  = errors.New("service unavailable")
	ErrNotFound     = errors.New("not found")
	ErrRateLimited  = errors.New("rate limited")
)
