package store

import (
	"errors"
	"fmt"
)

// StoreError carries the operation and key for a failed store access.
// It supports errors.Is() and errors.As() through Unwrap.
type StoreError struct {
	Op         string // "get", "put", "list", "batch"
	Collection string
	ID         string
	Err        error
}

// Error implements the error interface.
func (e *StoreError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("store %s %s/%s: %v", e.Op, e.Collection, e.ID, e.Err)
	}
	return fmt.Sprintf("store %s %s: %v", e.Op, e.Collection, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *StoreError) Unwrap() error { return e.Err }

// Sentinel errors for store operations.
var (
	// ErrNotFound indicates the record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrConflict indicates the conditional write lost a version race.
	// The error returned by Put wraps this and carries the current
	// version via ConflictError.
	ErrConflict = errors.New("version conflict")

	// ErrUnavailable indicates the backend is unreachable. Retryable
	// with backoff, see WithRetry.
	ErrUnavailable = errors.New("store unavailable")
)

// ConflictError reports the version currently stored when a conditional
// write fails, so callers can log the divergence without re-reading.
type ConflictError struct {
	Collection     string
	ID             string
	Expected       int64
	CurrentVersion int64
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("version conflict on %s/%s: expected %d, current %d",
		e.Collection, e.ID, e.Expected, e.CurrentVersion)
}

// Is makes ConflictError match ErrConflict.
func (e *ConflictError) Is(target error) bool { return target == ErrConflict }
