package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for the engine's failure taxonomy.
var (
	// ErrNotFound is returned when resolving a nonexistent or
	// already-resolved flag. Reading an unknown user is NOT an error; it
	// yields empty results.
	ErrNotFound = errors.New("not found")

	// ErrConcurrentWrite is surfaced when the storage layer detects a
	// write-write conflict on a user partition. The engine never resolves
	// the conflict itself; the caller retries the whole event.
	ErrConcurrentWrite = errors.New("concurrent write conflict")
)

// ValidationError represents a malformed input that cannot be recovered by
// the skip-and-report rule.
type ValidationError struct {
	Field   string      `json:"field"`
	Message string      `json:"message"`
	Value   interface{} `json:"value,omitempty"`
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

// NewValidationError creates a new ValidationError.
func NewValidationError(field, message string, value interface{}) *ValidationError {
	return &ValidationError{Field: field, Message: message, Value: value}
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// StorageError is an opaque passthrough from the persistence layer. The
// engine performs no retries; retry policy belongs to the caller.
type StorageError struct {
	Op  string
	Err error
}

// Error implements the error interface.
func (e *StorageError) Error() string {
	return fmt.Sprintf("storage error during %s: %v", e.Op, e.Err)
}

// Unwrap exposes the underlying driver error.
func (e *StorageError) Unwrap() error {
	return e.Err
}

// NewStorageError wraps a persistence failure with the operation name.
func NewStorageError(op string, err error) *StorageError {
	return &StorageError{Op: op, Err: err}
}
