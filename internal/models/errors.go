package models

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrTransport is a network or authentication failure reaching the remote
	ErrTransport = errors.New("transport error")
	// ErrNotFound means the entity was deleted remotely
	ErrNotFound = errors.New("not found")
	// ErrConflict means an edit was attempted against stale content
	ErrConflict = errors.New("conflict")
	// ErrRateLimited means the remote API quota is exhausted
	ErrRateLimited = errors.New("rate limit exceeded")
)

// RateLimitError is returned when the remote refuses a call until ResetTime
type RateLimitError struct {
	ResetTime time.Time
	Remaining int
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded, resets at %s", e.ResetTime.Format(time.RFC3339))
}

func (e *RateLimitError) Is(target error) bool {
	return target == ErrRateLimited
}
