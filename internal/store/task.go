package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/resonance/internal/domain"
)

// MutateFunc changes a task in place. It receives the latest persisted copy,
// read inside the write transaction. Returning an error aborts the update
// and nothing is written.
type MutateFunc func(task *domain.AnalysisTask) error

// LockAttempt is the outcome of a reclaiming lock attempt.
type LockAttempt struct {
	// Acquired is true when the caller now holds the lock.
	Acquired bool
	// Reclaimed is true when a stale lock was cleared before acquiring.
	Reclaimed bool
	// WasLocked is true when a fresh lock held by someone else blocked the attempt.
	WasLocked bool
	// PreviousLockedAt is the acquisition time of the lock that was cleared or
	// that blocked the attempt.
	PreviousLockedAt *time.Time
}

// TaskStore defines the interface for analysis task persistence.
// All mutation goes through Update or the lock primitives; there is no
// unconditional overwrite.
// Version: 1.0
type TaskStore interface {
	// Create saves a new task. Returns ErrTaskExists if the ID is taken and
	// validation errors if the task is invalid.
	Create(ctx context.Context, task *domain.AnalysisTask) error

	// GetByID retrieves a task by its unique ID.
	// Returns ErrTaskNotFound if the task does not exist.
	GetByID(ctx context.Context, id uuid.UUID) (*domain.AnalysisTask, error)

	// Update reads the task inside a transaction, applies mutate to a copy,
	// validates the change with domain.ValidateChange and persists every
	// field in the same transaction. The write only lands while the lock
	// acquired at lockedAt is still held. Lock fields are never written.
	// Returns ErrTaskNotFound, ErrTaskNotLocked when the caller no longer
	// holds the lock, the error returned by mutate, or a validation error
	// wrapping the domain sentinel.
	Update(ctx context.Context, id uuid.UUID, lockedAt time.Time, mutate MutateFunc) (*domain.AnalysisTask, error)

	// ListByStatus returns up to limit tasks in any of the given statuses,
	// oldest first. Returns an empty slice when none match.
	ListByStatus(ctx context.Context, statuses []domain.TaskStatus, limit int) ([]*domain.AnalysisTask, error)

	// TryLock sets the lock fields only if the task is not locked, as one
	// conditional write. Reports whether the lock was taken. now becomes the
	// holder token passed to Update and Unlock.
	// Returns ErrTaskNotFound if the task does not exist.
	TryLock(ctx context.Context, id uuid.UUID, now time.Time) (bool, error)

	// TryLockReclaiming runs in one transaction: a lock acquired before
	// staleBefore is cleared, then the conditional TryLock write runs.
	// A fresh lock is left untouched and reported with WasLocked.
	TryLockReclaiming(ctx context.Context, id uuid.UUID, now, staleBefore time.Time) (LockAttempt, error)

	// Unlock clears the lock fields only if the lock acquired at lockedAt is
	// still held. Reports whether anything was cleared; a holder whose lock
	// was reclaimed gets false and leaves the new holder's lock in place.
	Unlock(ctx context.Context, id uuid.UUID, lockedAt time.Time) (bool, error)
}
