package service

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/google/uuid"
	"github.com/phrazzld/resonance/internal/domain"
	"github.com/phrazzld/resonance/internal/platform/logger"
	"github.com/phrazzld/resonance/internal/store"
	"github.com/phrazzld/resonance/internal/task"
)

// DatasetValidator checks submitted source data before a task is stored.
type DatasetValidator func(data []byte) error

// TaskService provides analysis task operations for the API.
type TaskService interface {
	// CreateTask validates the dataset and stores a queued task.
	CreateTask(ctx context.Context, name string, source []byte) (*domain.AnalysisTask, error)

	// GetTask returns the current state of a task.
	GetTask(ctx context.Context, id uuid.UUID) (*domain.AnalysisTask, error)

	// GetResult returns the report of a completed task.
	GetResult(ctx context.Context, id uuid.UUID) (*domain.Report, error)

	// RequeueTask resets a failed task so the pipeline starts it again.
	RequeueTask(ctx context.Context, id uuid.UUID) (*domain.AnalysisTask, error)
}

// taskServiceImpl implements the TaskService interface
type taskServiceImpl struct {
	tasks     store.TaskStore
	locks     *task.LockManager
	validate  DatasetValidator
	batchSize int
	logger    *slog.Logger
}

// NewTaskService creates a new TaskService.
// It returns an error if any of the required dependencies are nil.
func NewTaskService(
	tasks store.TaskStore,
	locks *task.LockManager,
	validate DatasetValidator,
	batchSize int,
	log *slog.Logger,
) (TaskService, error) {
	if tasks == nil {
		return nil, &TaskServiceError{Operation: "create_service", Message: "task store cannot be nil"}
	}
	if locks == nil {
		return nil, &TaskServiceError{Operation: "create_service", Message: "lock manager cannot be nil"}
	}
	if validate == nil {
		return nil, &TaskServiceError{Operation: "create_service", Message: "dataset validator cannot be nil"}
	}
	if log == nil {
		log = slog.Default()
	}

	return &taskServiceImpl{
		tasks:     tasks,
		locks:     locks,
		validate:  validate,
		batchSize: batchSize,
		logger:    log.With(slog.String("component", "task_service")),
	}, nil
}

// CreateTask implements TaskService.
func (s *taskServiceImpl) CreateTask(ctx context.Context, name string, source []byte) (*domain.AnalysisTask, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	if err := s.validate(source); err != nil {
		log.Debug("rejected dataset", slog.String("error", err.Error()))
		return nil, fmt.Errorf("%w: %w", ErrInvalidDataset, err)
	}

	t, err := domain.NewAnalysisTask(name, source, s.batchSize)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrValidation, err)
	}

	if err := s.tasks.Create(ctx, t); err != nil {
		log.Error("failed to store task",
			slog.String("task_id", t.ID.String()),
			slog.String("error", err.Error()))
		return nil, NewTaskServiceError("create_task", "failed to store task", err)
	}

	log.Info("analysis task created",
		slog.String("task_id", t.ID.String()),
		slog.Int("topic_batch_size", t.TopicBatchSize))
	return t, nil
}

// GetTask implements TaskService.
func (s *taskServiceImpl) GetTask(ctx context.Context, id uuid.UUID) (*domain.AnalysisTask, error) {
	t, err := s.tasks.GetByID(ctx, id)
	if err != nil {
		return nil, NewTaskServiceError("get_task", "failed to load task", err)
	}
	return t, nil
}

// GetResult implements TaskService.
func (s *taskServiceImpl) GetResult(ctx context.Context, id uuid.UUID) (*domain.Report, error) {
	t, err := s.tasks.GetByID(ctx, id)
	if err != nil {
		return nil, NewTaskServiceError("get_result", "failed to load task", err)
	}
	if t.Status != domain.TaskStatusCompleted {
		return nil, ErrTaskNotCompleted
	}

	report, err := domain.DecodeReport(t.ResultData)
	if err != nil {
		return nil, NewTaskServiceError("get_result", "failed to decode result", err)
	}
	return report, nil
}

// RequeueTask implements TaskService. The task is locked for the write like
// any pipeline unit, so a requeue never races a running tick.
func (s *taskServiceImpl) RequeueTask(ctx context.Context, id uuid.UUID) (*domain.AnalysisTask, error) {
	log := logger.FromContextOrDefault(ctx, s.logger).With(slog.String("task_id", id.String()))

	current, err := s.tasks.GetByID(ctx, id)
	if err != nil {
		return nil, NewTaskServiceError("requeue_task", "failed to load task", err)
	}
	if !requeueable(current.Status) {
		return nil, fmt.Errorf("%w: task is %s", ErrTaskNotFailed, current.Status)
	}

	lock, err := s.locks.Acquire(ctx, id)
	if err != nil {
		return nil, NewTaskServiceError("requeue_task", "failed to lock task", err)
	}
	if !lock.Success {
		return nil, ErrTaskBusy
	}
	defer func() {
		if _, err := s.locks.Release(context.WithoutCancel(ctx), id, lock.LockedAt); err != nil {
			log.Error("failed to release task lock", slog.String("error", err.Error()))
		}
	}()

	updated, err := s.tasks.Update(ctx, id, lock.LockedAt, func(t *domain.AnalysisTask) error {
		if !requeueable(t.Status) {
			return ErrTaskNotFailed
		}
		return t.Requeue()
	})
	if err != nil {
		return nil, NewTaskServiceError("requeue_task", "failed to requeue task", err)
	}

	log.Info("analysis task requeued")
	updated.Processing = false
	updated.ProcessingLockedAt = nil
	return updated, nil
}

// requeueable reports whether the transition table lets status go back to
// queued.
func requeueable(status domain.TaskStatus) bool {
	return slices.Contains(domain.AllowedTransitions(status), domain.TaskStatusQueued)
}
