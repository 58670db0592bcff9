package task

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/resonance/internal/domain"
	"github.com/phrazzld/resonance/internal/store"
)

// MockTaskStore is an in-memory store.TaskStore honouring the same
// conditional-update contract as the SQL stores: every operation runs under
// one mutex, Update validates with domain.ValidateChange and the lock
// primitives are compare-and-set. It records every committed snapshot so
// tests can inspect the sequence of writes.
type MockTaskStore struct {
	mutex   sync.Mutex
	tasks   map[uuid.UUID]*domain.AnalysisTask
	commits map[uuid.UUID][]*domain.AnalysisTask
	now     func() time.Time

	// UpdateErr, when set, is consulted before every Update and its error
	// returned without writing.
	UpdateErr func(id uuid.UUID) error
	// ListErr, when set, is returned by ListByStatus.
	ListErr error
}

var _ store.TaskStore = (*MockTaskStore)(nil)

// NewMockTaskStore creates an empty MockTaskStore.
func NewMockTaskStore() *MockTaskStore {
	return &MockTaskStore{
		tasks:   make(map[uuid.UUID]*domain.AnalysisTask),
		commits: make(map[uuid.UUID][]*domain.AnalysisTask),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Create stores a copy of task.
func (s *MockTaskStore) Create(ctx context.Context, task *domain.AnalysisTask) error {
	if err := task.Validate(); err != nil {
		return fmt.Errorf("%w: %w", store.ErrInvalidEntity, err)
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	if _, exists := s.tasks[task.ID]; exists {
		return store.ErrTaskExists
	}
	s.tasks[task.ID] = task.Clone()
	s.commits[task.ID] = append(s.commits[task.ID], task.Clone())
	return nil
}

// GetByID returns a copy of the stored task.
func (s *MockTaskStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.AnalysisTask, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	t, ok := s.tasks[id]
	if !ok {
		return nil, store.ErrTaskNotFound
	}
	return t.Clone(), nil
}

// Update applies mutate to a copy of the latest task and stores it if the
// caller still holds the lock and the change validates. Like a database
// call it fails once ctx is done.
func (s *MockTaskStore) Update(
	ctx context.Context,
	id uuid.UUID,
	lockedAt time.Time,
	mutate store.MutateFunc,
) (*domain.AnalysisTask, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.UpdateErr != nil {
		if err := s.UpdateErr(id); err != nil {
			return nil, err
		}
	}

	before, ok := s.tasks[id]
	if !ok {
		return nil, store.ErrTaskNotFound
	}
	if !before.HeldBy(lockedAt) {
		return nil, store.ErrTaskNotLocked
	}

	after := before.Clone()
	if err := mutate(after); err != nil {
		return nil, err
	}
	if err := domain.ValidateChange(before, after); err != nil {
		return nil, fmt.Errorf("%w: %w", store.ErrUpdateFailed, err)
	}

	after.UpdatedAt = s.now()
	s.tasks[id] = after
	s.commits[id] = append(s.commits[id], after.Clone())
	return after.Clone(), nil
}

// ListByStatus returns matching tasks ordered by creation time.
func (s *MockTaskStore) ListByStatus(
	ctx context.Context,
	statuses []domain.TaskStatus,
	limit int,
) ([]*domain.AnalysisTask, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.ListErr != nil {
		return nil, s.ListErr
	}

	wanted := make(map[domain.TaskStatus]bool, len(statuses))
	for _, st := range statuses {
		wanted[st] = true
	}

	out := make([]*domain.AnalysisTask, 0)
	for _, t := range s.tasks {
		if wanted[t.Status] {
			out = append(out, t.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID.String() < out[j].ID.String()
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// TryLock sets the lock when the task is unlocked.
func (s *MockTaskStore) TryLock(ctx context.Context, id uuid.UUID, now time.Time) (bool, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	t, ok := s.tasks[id]
	if !ok {
		return false, store.ErrTaskNotFound
	}
	return s.lockLocked(t, now), nil
}

// TryLockReclaiming clears a stale lock and then takes the lock, atomically.
func (s *MockTaskStore) TryLockReclaiming(
	ctx context.Context,
	id uuid.UUID,
	now, staleBefore time.Time,
) (store.LockAttempt, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	t, ok := s.tasks[id]
	if !ok {
		return store.LockAttempt{}, store.ErrTaskNotFound
	}

	var attempt store.LockAttempt
	if t.Processing {
		attempt.PreviousLockedAt = cloneTime(t.ProcessingLockedAt)
		if !t.IsLockStale(staleBefore) {
			attempt.WasLocked = true
			return attempt, nil
		}
		t.Processing = false
		t.ProcessingLockedAt = nil
		attempt.Reclaimed = true
	}

	attempt.Acquired = s.lockLocked(t, now)
	return attempt, nil
}

// Unlock clears the lock when it is held by the acquisition at lockedAt.
func (s *MockTaskStore) Unlock(ctx context.Context, id uuid.UUID, lockedAt time.Time) (bool, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	t, ok := s.tasks[id]
	if !ok {
		return false, store.ErrTaskNotFound
	}
	if !t.HeldBy(lockedAt) {
		return false, nil
	}
	t.Processing = false
	t.ProcessingLockedAt = nil
	return true, nil
}

// Commits returns every snapshot stored for id through Create and Update,
// oldest first.
func (s *MockTaskStore) Commits(id uuid.UUID) []*domain.AnalysisTask {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	out := make([]*domain.AnalysisTask, 0, len(s.commits[id]))
	for _, c := range s.commits[id] {
		out = append(out, c.Clone())
	}
	return out
}

// Put stores task as-is, bypassing validation. Tests use it to seed states
// such as a lock that was abandoned by a crashed holder.
func (s *MockTaskStore) Put(task *domain.AnalysisTask) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.tasks[task.ID] = task.Clone()
}

func (s *MockTaskStore) lockLocked(t *domain.AnalysisTask, now time.Time) bool {
	if t.Processing {
		return false
	}
	lockedAt := now
	t.Processing = true
	t.ProcessingLockedAt = &lockedAt
	return true
}

func cloneTime(tm *time.Time) *time.Time {
	if tm == nil {
		return nil
	}
	v := *tm
	return &v
}
