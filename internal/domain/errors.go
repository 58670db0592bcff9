// Package domain defines the core business entities and errors.
package domain

import "errors"

// Common domain errors used across the application.
var (
	// ErrValidation is returned when a domain entity fails validation.
	// This is often wrapped with a more specific error message.
	ErrValidation = errors.New("validation failed")

	// ErrInvalidFormat is returned when data is not in the expected format.
	ErrInvalidFormat = errors.New("invalid format")

	// ErrInvalidID is returned when an ID is malformed or invalid.
	ErrInvalidID = errors.New("invalid ID")

	// ErrInvalidTransition is returned when a status change is not an edge
	// of the task transition table.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrInconsistentState is returned when the fields of a task contradict
	// each other (for example a topic phase without a topic step).
	ErrInconsistentState = errors.New("inconsistent task state")

	// ErrProgressRegression is returned when a write would move progress backwards.
	ErrProgressRegression = errors.New("progress cannot decrease")

	// ErrProgressOutOfRange is returned when progress falls outside 0..100.
	ErrProgressOutOfRange = errors.New("progress out of range")

	// ErrImmutableField is returned when an update touches a field that only
	// the store or the lock manager may write.
	ErrImmutableField = errors.New("field cannot be modified")
)

// ValidationError provides field-level detail for validation failures.
type ValidationError struct {
	Field   string
	Message string
	Err     error
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return e.Field + " " + e.Message + ": " + e.Err.Error()
}

// Unwrap returns the wrapped sentinel.
func (e *ValidationError) Unwrap() error {
	return e.Err
}

// NewValidationError creates a ValidationError wrapping err.
func NewValidationError(field, message string, err error) *ValidationError {
	return &ValidationError{Field: field, Message: message, Err: err}
}
