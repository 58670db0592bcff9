package sqlite

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/resonance/internal/domain"
	"github.com/phrazzld/resonance/internal/store"
	"github.com/phrazzld/resonance/internal/task"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var base = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestStore(t *testing.T) *TaskStore {
	t.Helper()
	db, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	s := NewTaskStore(db, discardLogger())
	s.now = func() time.Time { return base.Add(time.Hour) }
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func createTask(t *testing.T, s *TaskStore, name string, createdAt time.Time) *domain.AnalysisTask {
	t.Helper()
	tk, err := domain.NewAnalysisTask(name, []byte(`{"items":[{"id":"p1"}]}`), 10)
	require.NoError(t, err)
	tk.CreatedAt = createdAt
	tk.UpdatedAt = createdAt
	require.NoError(t, s.Create(context.Background(), tk))
	return tk
}

func TestTaskStore_CreateAndGet(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	created := createTask(t, s, "january posts", base)

	got, err := s.GetByID(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.ID, got.ID)
	assert.Equal(t, "january posts", got.Name)
	assert.Equal(t, domain.TaskStatusQueued, got.Status)
	assert.Equal(t, 10, got.TopicBatchSize)
	assert.False(t, got.Processing)
	assert.Nil(t, got.AnalysisStep)
	assert.Nil(t, got.TopicStep)
	assert.True(t, base.Equal(got.CreatedAt))
	assert.JSONEq(t, `{"items":[{"id":"p1"}]}`, string(got.SourceData))
}

func TestTaskStore_CreateDuplicate(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	created := createTask(t, s, "january posts", base)

	err := s.Create(context.Background(), created)
	assert.ErrorIs(t, err, store.ErrTaskExists)
}

func TestTaskStore_CreateInvalid(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	err := s.Create(context.Background(), &domain.AnalysisTask{ID: uuid.New()})
	assert.ErrorIs(t, err, store.ErrInvalidEntity)
}

func TestTaskStore_GetByIDNotFound(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	_, err := s.GetByID(context.Background(), uuid.New())
	assert.ErrorIs(t, err, store.ErrTaskNotFound)
}

func TestTaskStore_Update(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := newTestStore(t)
	tk := createTask(t, s, "january posts", base)

	lockedAt := base.Add(time.Minute)
	_, err := s.Update(ctx, tk.ID, lockedAt, func(t *domain.AnalysisTask) error { return nil })
	assert.ErrorIs(t, err, store.ErrTaskNotLocked, "update without the lock")

	ok, err := s.TryLock(ctx, tk.ID, lockedAt)
	require.NoError(t, err)
	require.True(t, ok)

	_, err = s.Update(ctx, tk.ID, base, func(t *domain.AnalysisTask) error { return nil })
	assert.ErrorIs(t, err, store.ErrTaskNotLocked, "update with another holder's token")

	updated, err := s.Update(ctx, tk.ID, lockedAt, func(t *domain.AnalysisTask) error {
		t.Status = domain.TaskStatusAnalyzing
		t.SetAnalysisStep(0)
		return t.StartPhase(domain.PhaseParseDataset)
	})
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusAnalyzing, updated.Status)
	assert.True(t, base.Add(time.Hour).Equal(updated.UpdatedAt))

	got, err := s.GetByID(ctx, tk.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusAnalyzing, got.Status)
	require.NotNil(t, got.AnalysisStep)
	assert.Equal(t, 0, *got.AnalysisStep)
	assert.Equal(t, domain.MilestoneFor(domain.PhaseParseDataset).Start, got.Progress)
	assert.True(t, got.Processing, "update leaves the lock alone")
	require.NotNil(t, got.ProcessingLockedAt)
	assert.True(t, base.Add(time.Minute).Equal(*got.ProcessingLockedAt))
}

func TestTaskStore_UpdateRejectsInvalidChange(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := newTestStore(t)
	tk := createTask(t, s, "january posts", base)
	_, err := s.TryLock(ctx, tk.ID, base)
	require.NoError(t, err)

	tests := []struct {
		name   string
		mutate store.MutateFunc
	}{
		{
			name:   "illegal transition",
			mutate: func(t *domain.AnalysisTask) error { t.Status = domain.TaskStatusCompleted; return nil },
		},
		{
			name:   "lock fields",
			mutate: func(t *domain.AnalysisTask) error { t.Processing = false; t.ProcessingLockedAt = nil; return nil },
		},
		{
			name:   "topic phase without step",
			mutate: func(t *domain.AnalysisTask) error { t.Status = domain.TaskStatusTopicGenerating; return nil },
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := s.Update(ctx, tk.ID, base, tc.mutate)
			assert.ErrorIs(t, err, store.ErrUpdateFailed)
		})
	}

	got, err := s.GetByID(ctx, tk.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusQueued, got.Status, "rejected writes leave the row untouched")
	assert.True(t, got.Processing)
}

func TestTaskStore_UpdateNotFound(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	_, err := s.Update(context.Background(), uuid.New(), base, func(t *domain.AnalysisTask) error { return nil })
	assert.ErrorIs(t, err, store.ErrTaskNotFound)
}

func TestTaskStore_ListByStatus(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := newTestStore(t)
	newest := createTask(t, s, "march", base.Add(2*time.Hour))
	oldest := createTask(t, s, "january", base)
	middle := createTask(t, s, "february", base.Add(time.Hour))

	failed := createTask(t, s, "broken", base.Add(-time.Hour))
	_, err := s.TryLock(ctx, failed.ID, base)
	require.NoError(t, err)
	_, err = s.Update(ctx, failed.ID, base, func(t *domain.AnalysisTask) error { return t.Fail("boom") })
	require.NoError(t, err)

	queued, err := s.ListByStatus(ctx, []domain.TaskStatus{domain.TaskStatusQueued}, 10)
	require.NoError(t, err)
	require.Len(t, queued, 3)
	assert.Equal(t, oldest.ID, queued[0].ID)
	assert.Equal(t, middle.ID, queued[1].ID)
	assert.Equal(t, newest.ID, queued[2].ID)

	limited, err := s.ListByStatus(ctx, []domain.TaskStatus{domain.TaskStatusQueued, domain.TaskStatusFailed}, 2)
	require.NoError(t, err)
	require.Len(t, limited, 2)
	assert.Equal(t, failed.ID, limited[0].ID)
	assert.Equal(t, oldest.ID, limited[1].ID)

	none, err := s.ListByStatus(ctx, nil, 10)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestTaskStore_LockLifecycle(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := newTestStore(t)
	tk := createTask(t, s, "january posts", base)

	ok, err := s.TryLock(ctx, tk.ID, base)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.TryLock(ctx, tk.ID, base.Add(time.Second))
	require.NoError(t, err)
	assert.False(t, ok, "second holder is refused")

	released, err := s.Unlock(ctx, tk.ID, base.Add(time.Second))
	require.NoError(t, err)
	assert.False(t, released, "a token that never held the lock clears nothing")

	released, err = s.Unlock(ctx, tk.ID, base)
	require.NoError(t, err)
	assert.True(t, released)

	released, err = s.Unlock(ctx, tk.ID, base)
	require.NoError(t, err)
	assert.False(t, released, "unlocking an unlocked task is a no-op")

	_, err = s.TryLock(ctx, uuid.New(), base)
	assert.ErrorIs(t, err, store.ErrTaskNotFound)
	_, err = s.Unlock(ctx, uuid.New(), base)
	assert.ErrorIs(t, err, store.ErrTaskNotFound)
}

func TestTaskStore_TryLockReclaiming(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := newTestStore(t)
	tk := createTask(t, s, "january posts", base)

	attempt, err := s.TryLockReclaiming(ctx, tk.ID, base, base.Add(-5*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, store.LockAttempt{Acquired: true}, attempt)

	attempt, err = s.TryLockReclaiming(ctx, tk.ID, base.Add(time.Minute), base.Add(-4*time.Minute))
	require.NoError(t, err)
	assert.False(t, attempt.Acquired)
	assert.True(t, attempt.WasLocked)
	assert.False(t, attempt.Reclaimed)

	later := base.Add(6 * time.Minute)
	attempt, err = s.TryLockReclaiming(ctx, tk.ID, later, later.Add(-5*time.Minute))
	require.NoError(t, err)
	assert.True(t, attempt.Acquired)
	assert.True(t, attempt.Reclaimed)
	require.NotNil(t, attempt.PreviousLockedAt)
	assert.True(t, base.Equal(*attempt.PreviousLockedAt))

	got, err := s.GetByID(ctx, tk.ID)
	require.NoError(t, err)
	require.NotNil(t, got.ProcessingLockedAt)
	assert.True(t, later.Equal(*got.ProcessingLockedAt))

	_, err = s.TryLockReclaiming(ctx, uuid.New(), base, base)
	assert.ErrorIs(t, err, store.ErrTaskNotFound)
}

func TestTaskStore_TryLockReclaimingCutoff(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		staleBefore time.Time
		reclaimed   bool
	}{
		{name: "lock taken at the cutoff is live", staleBefore: base},
		{name: "lock taken before the cutoff", staleBefore: base.Add(time.Microsecond), reclaimed: true},
		{name: "lock taken well before the cutoff", staleBefore: base.Add(time.Hour), reclaimed: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			s := newTestStore(t)
			tk := createTask(t, s, "january posts", base)

			ok, err := s.TryLock(ctx, tk.ID, base)
			require.NoError(t, err)
			require.True(t, ok)

			now := base.Add(2 * time.Hour)
			attempt, err := s.TryLockReclaiming(ctx, tk.ID, now, tt.staleBefore)
			require.NoError(t, err)
			assert.Equal(t, tt.reclaimed, attempt.Reclaimed)
			assert.Equal(t, tt.reclaimed, attempt.Acquired)
			assert.Equal(t, !tt.reclaimed, attempt.WasLocked)

			got, err := s.GetByID(ctx, tk.ID)
			require.NoError(t, err)
			if tt.reclaimed {
				assert.True(t, got.HeldBy(now))
			} else {
				assert.True(t, got.HeldBy(base))
			}
		})
	}
}

func TestTaskStore_ConcurrentTryLock(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := newTestStore(t)
	tk := createTask(t, s, "january posts", base)

	var winners atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := s.TryLock(ctx, tk.ID, base)
			if assert.NoError(t, err) && ok {
				winners.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, winners.Load())
}

func TestTaskStore_WithLockManager(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := newTestStore(t)
	tk := createTask(t, s, "january posts", base)

	now := base
	locks := task.NewLockManager(s, discardLogger(), task.WithClock(func() time.Time { return now }))

	res, err := locks.AcquireWithTimeout(ctx, tk.ID, 5*time.Minute)
	require.NoError(t, err)
	assert.True(t, res.Success)

	now = base.Add(time.Minute)
	res, err = locks.AcquireWithTimeout(ctx, tk.ID, 5*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, task.LockResult{WasLocked: true}, res)

	now = base.Add(10 * time.Minute)
	res, err = locks.AcquireWithTimeout(ctx, tk.ID, 5*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, task.LockResult{Success: true, TimeoutExpired: true, LockedAt: now}, res)

	released, err := locks.Release(ctx, tk.ID, res.LockedAt)
	require.NoError(t, err)
	assert.True(t, released)
}

func TestTaskStore_LateReleaseKeepsReclaimedLock(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := newTestStore(t)
	tk := createTask(t, s, "january posts", base)

	now := base
	locks := task.NewLockManager(s, discardLogger(), task.WithClock(func() time.Time { return now }))

	first, err := locks.AcquireWithTimeout(ctx, tk.ID, 5*time.Minute)
	require.NoError(t, err)
	require.True(t, first.Success)

	now = base.Add(6 * time.Minute)
	second, err := locks.AcquireWithTimeout(ctx, tk.ID, 5*time.Minute)
	require.NoError(t, err)
	require.True(t, second.Success)
	require.True(t, second.TimeoutExpired)

	_, err = s.Update(ctx, tk.ID, first.LockedAt, func(t *domain.AnalysisTask) error {
		t.CurrentStepLabel = "late write"
		return nil
	})
	assert.ErrorIs(t, err, store.ErrTaskNotLocked, "the reclaimed holder cannot write")

	released, err := locks.Release(ctx, tk.ID, first.LockedAt)
	require.NoError(t, err)
	assert.False(t, released, "the reclaimed holder cannot release")

	now = base.Add(7 * time.Minute)
	third, err := locks.AcquireWithTimeout(ctx, tk.ID, 5*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, task.LockResult{WasLocked: true}, third)

	_, err = s.Update(ctx, tk.ID, second.LockedAt, func(t *domain.AnalysisTask) error {
		t.CurrentStepLabel = "current holder"
		return nil
	})
	require.NoError(t, err)

	released, err = locks.Release(ctx, tk.ID, second.LockedAt)
	require.NoError(t, err)
	assert.True(t, released)
}
