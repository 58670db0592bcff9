package service

import (
	"errors"
	"fmt"

	"github.com/phrazzld/resonance/internal/store"
)

// Common service errors - sentinel errors used across service implementations.
// Callers check for them with errors.Is; the API layer maps them to status codes.
var (
	// ErrTaskNotFound indicates that the analysis task does not exist.
	ErrTaskNotFound = errors.New("analysis task not found")

	// ErrTaskNotCompleted indicates a result was requested before the task completed.
	ErrTaskNotCompleted = errors.New("analysis task has not completed")

	// ErrTaskNotFailed indicates a requeue of a task that is not failed.
	ErrTaskNotFailed = errors.New("only failed tasks can be requeued")

	// ErrTaskBusy indicates the task is locked by a running pipeline unit.
	ErrTaskBusy = errors.New("analysis task is being processed")

	// ErrInvalidDataset indicates the submitted dataset was rejected.
	ErrInvalidDataset = errors.New("invalid dataset")
)

// TaskServiceError wraps errors from the task service with context.
type TaskServiceError struct {
	// Operation is the operation that failed (e.g., "create_task", "requeue_task")
	Operation string
	// Message is a human-readable description of the error
	Message string
	// Err is the underlying error that caused the failure
	Err error
}

// Error implements the error interface for TaskServiceError.
func (e *TaskServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("task service %s failed: %s: %v", e.Operation, e.Message, e.Err)
	}
	return fmt.Sprintf("task service %s failed: %s", e.Operation, e.Message)
}

// Unwrap returns the wrapped error to support errors.Is/errors.As.
func (e *TaskServiceError) Unwrap() error {
	return e.Err
}

// NewTaskServiceError creates a new TaskServiceError.
// Known sentinel errors are returned directly without wrapping.
func NewTaskServiceError(operation, message string, err error) error {
	if err == nil {
		return nil
	}

	for _, sentinel := range []error{ErrTaskNotFound, ErrTaskNotCompleted, ErrTaskNotFailed, ErrTaskBusy} {
		if errors.Is(err, sentinel) {
			return sentinel
		}
	}

	if store.IsNotFoundError(err) {
		return ErrTaskNotFound
	}

	return &TaskServiceError{
		Operation: operation,
		Message:   message,
		Err:       err,
	}
}
