package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/resonance/internal/platform/logger"
	"github.com/phrazzld/resonance/internal/store"
)

// DefaultLockTimeout is the lock age after which a holder is presumed to
// have crashed.
const DefaultLockTimeout = 5 * time.Minute

// ErrInvalidLockTimeout is returned for a non-positive lock timeout.
var ErrInvalidLockTimeout = errors.New("lock timeout must be positive")

// LockResult reports the outcome of a lock attempt.
type LockResult struct {
	// Success is true when the caller now holds the lock.
	Success bool
	// TimeoutExpired is true when an abandoned lock was cleared first.
	TimeoutExpired bool
	// WasLocked is true when a live holder prevented the acquisition.
	WasLocked bool
	// LockedAt is the acquisition stamp written to the task. It identifies
	// this holder to Update and Release. Zero unless Success.
	LockedAt time.Time
}

// LockManager provides single-holder mutual exclusion per task on top of
// the store's conditional writes. Invocations share no memory, so the
// persisted lock fields are the only coordination point between them.
type LockManager struct {
	store  store.TaskStore
	logger *slog.Logger
	now    func() time.Time
}

// LockOption configures a LockManager.
type LockOption func(*LockManager)

// WithClock replaces the clock used to stamp and age locks.
func WithClock(now func() time.Time) LockOption {
	return func(m *LockManager) {
		m.now = now
	}
}

// NewLockManager creates a LockManager backed by taskStore.
func NewLockManager(taskStore store.TaskStore, log *slog.Logger, opts ...LockOption) *LockManager {
	if log == nil {
		log = slog.Default()
	}
	m := &LockManager{
		store:  taskStore,
		logger: log.With(slog.String("component", "lock_manager")),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// stamp returns the acquisition time. Timestamps are stored with
// microsecond precision, so the token is cut to match.
func (m *LockManager) stamp() time.Time {
	return m.now().UTC().Truncate(time.Microsecond)
}

// Acquire takes the lock if no one holds it. It never waits.
func (m *LockManager) Acquire(ctx context.Context, id uuid.UUID) (LockResult, error) {
	now := m.stamp()
	acquired, err := m.store.TryLock(ctx, id, now)
	if err != nil {
		return LockResult{}, fmt.Errorf("failed to acquire lock for task %s: %w", id, err)
	}

	logger.FromContextOrDefault(ctx, m.logger).Debug("lock attempt",
		slog.String("task_id", id.String()),
		slog.Bool("acquired", acquired))
	if !acquired {
		return LockResult{WasLocked: true}, nil
	}
	return LockResult{Success: true, LockedAt: now}, nil
}

// AcquireWithTimeout takes the lock, first clearing it if its holder has
// kept it longer than timeout. A live lock is reported with WasLocked and
// left untouched.
func (m *LockManager) AcquireWithTimeout(
	ctx context.Context,
	id uuid.UUID,
	timeout time.Duration,
) (LockResult, error) {
	if timeout <= 0 {
		return LockResult{}, ErrInvalidLockTimeout
	}

	log := logger.FromContextOrDefault(ctx, m.logger).With(slog.String("task_id", id.String()))
	now := m.stamp()

	attempt, err := m.store.TryLockReclaiming(ctx, id, now, now.Add(-timeout))
	if err != nil {
		return LockResult{}, fmt.Errorf("failed to acquire lock for task %s: %w", id, err)
	}

	if attempt.Reclaimed {
		attrs := []any{slog.Duration("timeout", timeout)}
		if attempt.PreviousLockedAt != nil {
			attrs = append(attrs, slog.Duration("lock_age", now.Sub(*attempt.PreviousLockedAt)))
		}
		log.Warn("reclaimed stale task lock", attrs...)
	}

	if attempt.WasLocked {
		log.Debug("task lock held by another worker")
	}

	res := LockResult{
		Success:        attempt.Acquired,
		TimeoutExpired: attempt.Reclaimed,
		WasLocked:      attempt.WasLocked,
	}
	if res.Success {
		res.LockedAt = now
	}
	return res, nil
}

// Release clears the lock taken at lockedAt. It returns false, and logs,
// when that lock is no longer held: another worker reclaimed it, or it was
// never taken. A newer holder's lock is left in place.
func (m *LockManager) Release(ctx context.Context, id uuid.UUID, lockedAt time.Time) (bool, error) {
	released, err := m.store.Unlock(ctx, id, lockedAt)
	if err != nil {
		return false, fmt.Errorf("failed to release lock for task %s: %w", id, err)
	}

	if !released {
		logger.FromContextOrDefault(ctx, m.logger).Warn("release called without holding the lock",
			slog.String("task_id", id.String()),
			slog.Time("locked_at", lockedAt))
	}
	return released, nil
}
