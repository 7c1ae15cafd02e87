package tuning

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when no record exists for the requested key.
	ErrNotFound = errors.New("not found")

	// ErrConflict is returned when an optimistic write observes a version
	// different from the one it read.
	ErrConflict = errors.New("write conflict")

	// ErrCorruptState is returned when a persisted record cannot be decoded
	// or violates a state invariant.
	ErrCorruptState = errors.New("corrupt state")

	// ErrInvalidPattern is returned for empty or malformed pattern names.
	ErrInvalidPattern = errors.New("invalid pattern name")
)

// StorageError represents a failure inside a storage backend.
type StorageError struct {
	Backend   string
	Operation string
	Cause     error
}

// Error implements the error interface.
func (e *StorageError) Error() string {
	return fmt.Sprintf("%s storage %s: %v", e.Backend, e.Operation, e.Cause)
}

// Unwrap returns the underlying cause.
func (e *StorageError) Unwrap() error {
	return e.Cause
}

// NewStorageError creates a new storage error.
func NewStorageError(backend, operation string, cause error) *StorageError {
	return &StorageError{
		Backend:   backend,
		Operation: operation,
		Cause:     cause,
	}
}

// ValidatePatternName checks that name can be used as a storage key.
func ValidatePatternName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty", ErrInvalidPattern)
	}
	if len(name) > 200 {
		return fmt.Errorf("%w: longer than 200 bytes", ErrInvalidPattern)
	}
	for _, r := range name {
		if r < 0x20 || r == 0x7f {
			return fmt.Errorf("%w: %q contains control characters", ErrInvalidPattern, name)
		}
	}
	return nil
}
