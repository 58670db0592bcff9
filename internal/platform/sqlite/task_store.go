// Package sqlite implements store.TaskStore with GORM on SQLite, for local
// runs and single-node deployments that do not need PostgreSQL.
package sqlite

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/resonance/internal/domain"
	"github.com/phrazzld/resonance/internal/platform/logger"
	"github.com/phrazzld/resonance/internal/store"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// taskRecord is the analysis_tasks row.
type taskRecord struct {
	ID                 string `gorm:"primaryKey"`
	Name               string `gorm:"not null"`
	Status             string `gorm:"not null;index:idx_analysis_tasks_status_created,priority:1"`
	Progress           int    `gorm:"not null;check:chk_analysis_tasks_progress,progress BETWEEN 0 AND 100"`
	CurrentStepLabel   string `gorm:"not null"`
	ErrorMessage       *string
	AnalysisStep       *int
	TopicStep          *string
	TopicOutlineData   []byte
	TopicDetailIndex   int    `gorm:"not null"`
	TopicBatchSize     int    `gorm:"not null;check:chk_analysis_tasks_batch_size,topic_batch_size > 0"`
	SourceData         []byte `gorm:"not null"`
	ResultData         []byte
	InterruptCount     int  `gorm:"not null;default:0;check:chk_analysis_tasks_interrupt_count,interrupt_count >= 0"`
	Processing         bool `gorm:"not null;check:chk_analysis_tasks_lock_pair,processing = (processing_locked_at IS NOT NULL)"`
	ProcessingLockedAt *time.Time
	CreatedAt          time.Time `gorm:"not null;autoCreateTime:false;index:idx_analysis_tasks_status_created,priority:2"`
	UpdatedAt          time.Time `gorm:"not null;autoUpdateTime:false"`
	CompletedAt        *time.Time
}

func (taskRecord) TableName() string { return "analysis_tasks" }

const entityName = "analysis_task"

// storeError attaches the failed operation to a driver error.
func storeError(op, message string, err error) error {
	return store.NewStoreError(entityName, op, message, err)
}

// Open opens a SQLite database through GORM. An in-memory DSN is limited to
// one connection so that every query sees the same database.
func Open(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)
	return db, nil
}

// TaskStore implements store.TaskStore with GORM.
type TaskStore struct {
	db     *gorm.DB
	logger *slog.Logger
	now    func() time.Time
}

// Ensure TaskStore implements store.TaskStore interface
var _ store.TaskStore = (*TaskStore)(nil)

// NewTaskStore creates a TaskStore on db.
func NewTaskStore(db *gorm.DB, log *slog.Logger) *TaskStore {
	if log == nil {
		log = slog.Default()
	}
	return &TaskStore{
		db:     db,
		logger: log.With(slog.String("component", "task_store")),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Migrate creates the analysis_tasks table.
func (s *TaskStore) Migrate(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(&taskRecord{})
}

// Create inserts a new task.
func (s *TaskStore) Create(ctx context.Context, task *domain.AnalysisTask) error {
	if err := task.Validate(); err != nil {
		return fmt.Errorf("%w: %w", store.ErrInvalidEntity, err)
	}

	rec := toRecord(task)
	if err := s.db.WithContext(ctx).Create(&rec).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return fmt.Errorf("%w: %s", store.ErrTaskExists, task.ID)
		}
		logger.FromContextOrDefault(ctx, s.logger).Error("failed to create task",
			slog.String("task_id", task.ID.String()),
			slog.String("error", err.Error()))
		return storeError("create", "insert failed", err)
	}
	return nil
}

// GetByID returns the task with id.
func (s *TaskStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.AnalysisTask, error) {
	return getTask(s.db.WithContext(ctx), id)
}

// Update reads, mutates, validates and writes the task in one transaction.
// The write is guarded on the lock token so it only lands while the caller
// still holds the task.
func (s *TaskStore) Update(
	ctx context.Context,
	id uuid.UUID,
	lockedAt time.Time,
	mutate store.MutateFunc,
) (*domain.AnalysisTask, error) {
	var updated *domain.AnalysisTask

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		before, err := getTask(tx, id)
		if err != nil {
			return err
		}
		if !before.HeldBy(lockedAt) {
			return store.ErrTaskNotLocked
		}

		after := before.Clone()
		if err := mutate(after); err != nil {
			return err
		}
		if err := domain.ValidateChange(before, after); err != nil {
			return fmt.Errorf("%w: %w", store.ErrUpdateFailed, err)
		}
		after.UpdatedAt = s.now()

		rec := toRecord(after)
		res := tx.Model(&taskRecord{}).
			Where("id = ? AND processing = ? AND processing_locked_at = ?", rec.ID, true, lockedAt.UTC()).
			Updates(map[string]any{
				"name":               rec.Name,
				"status":             rec.Status,
				"progress":           rec.Progress,
				"current_step_label": rec.CurrentStepLabel,
				"error_message":      rec.ErrorMessage,
				"analysis_step":      rec.AnalysisStep,
				"topic_step":         rec.TopicStep,
				"topic_outline_data": rec.TopicOutlineData,
				"topic_detail_index": rec.TopicDetailIndex,
				"result_data":        rec.ResultData,
				"interrupt_count":    rec.InterruptCount,
				"completed_at":       rec.CompletedAt,
				"updated_at":         rec.UpdatedAt,
			})
		if res.Error != nil {
			return storeError("update", "conditional write failed", res.Error)
		}
		if res.RowsAffected != 1 {
			return store.ErrTaskNotLocked
		}
		updated = after
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// ListByStatus returns up to limit tasks in statuses, oldest first.
func (s *TaskStore) ListByStatus(
	ctx context.Context,
	statuses []domain.TaskStatus,
	limit int,
) ([]*domain.AnalysisTask, error) {
	out := make([]*domain.AnalysisTask, 0)
	if len(statuses) == 0 {
		return out, nil
	}

	names := make([]string, len(statuses))
	for i, st := range statuses {
		names[i] = string(st)
	}

	query := s.db.WithContext(ctx).
		Where("status IN ?", names).
		Order("created_at ASC, id ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}

	var recs []taskRecord
	if err := query.Find(&recs).Error; err != nil {
		return nil, storeError("list", "select failed", err)
	}
	for i := range recs {
		t, err := recs[i].toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

// TryLock takes the lock with one conditional UPDATE.
func (s *TaskStore) TryLock(ctx context.Context, id uuid.UUID, now time.Time) (bool, error) {
	var acquired bool
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		acquired, err = tryLock(tx, id, now)
		if err != nil || acquired {
			return err
		}
		return ensureExists(tx, id)
	})
	return acquired, err
}

// TryLockReclaiming clears a stale lock and takes the lock in one
// transaction.
func (s *TaskStore) TryLockReclaiming(
	ctx context.Context,
	id uuid.UUID,
	now, staleBefore time.Time,
) (store.LockAttempt, error) {
	var attempt store.LockAttempt

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rec taskRecord
		err := tx.Select("id", "processing", "processing_locked_at").
			Where("id = ?", id.String()).
			Take(&rec).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return store.ErrTaskNotFound
			}
			return storeError("lock", "select failed", err)
		}

		if rec.Processing {
			attempt.PreviousLockedAt = rec.ProcessingLockedAt
			if rec.ProcessingLockedAt != nil && !rec.ProcessingLockedAt.Before(staleBefore) {
				attempt.WasLocked = true
				return nil
			}
			res := tx.Model(&taskRecord{}).
				Where("id = ? AND processing = ? AND processing_locked_at < ?", id.String(), true, staleBefore.UTC()).
				Updates(map[string]any{"processing": false, "processing_locked_at": nil})
			if res.Error != nil {
				return storeError("lock", "stale lock clear failed", res.Error)
			}
			attempt.Reclaimed = res.RowsAffected == 1
		}

		attempt.Acquired, err = tryLock(tx, id, now)
		return err
	})
	if err != nil {
		return store.LockAttempt{}, err
	}
	return attempt, nil
}

// Unlock clears the lock if it is still held by the acquisition stamped
// lockedAt.
func (s *TaskStore) Unlock(ctx context.Context, id uuid.UUID, lockedAt time.Time) (bool, error) {
	var released bool
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&taskRecord{}).
			Where("id = ? AND processing = ? AND processing_locked_at = ?", id.String(), true, lockedAt.UTC()).
			Updates(map[string]any{"processing": false, "processing_locked_at": nil})
		if res.Error != nil {
			return storeError("unlock", "conditional write failed", res.Error)
		}
		released = res.RowsAffected == 1
		if released {
			return nil
		}
		return ensureExists(tx, id)
	})
	return released, err
}

func tryLock(tx *gorm.DB, id uuid.UUID, now time.Time) (bool, error) {
	res := tx.Model(&taskRecord{}).
		Where("id = ? AND processing = ?", id.String(), false).
		Updates(map[string]any{"processing": true, "processing_locked_at": now.UTC()})
	if res.Error != nil {
		return false, storeError("lock", "conditional write failed", res.Error)
	}
	return res.RowsAffected == 1, nil
}

func ensureExists(tx *gorm.DB, id uuid.UUID) error {
	var count int64
	if err := tx.Model(&taskRecord{}).Where("id = ?", id.String()).Count(&count).Error; err != nil {
		return storeError("exists", "count failed", err)
	}
	if count == 0 {
		return store.ErrTaskNotFound
	}
	return nil
}

func getTask(db *gorm.DB, id uuid.UUID) (*domain.AnalysisTask, error) {
	var rec taskRecord
	if err := db.Where("id = ?", id.String()).Take(&rec).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, store.ErrTaskNotFound
		}
		return nil, storeError("get", "select failed", err)
	}
	return rec.toDomain()
}

func toRecord(t *domain.AnalysisTask) taskRecord {
	rec := taskRecord{
		ID:                 t.ID.String(),
		Name:               t.Name,
		Status:             string(t.Status),
		Progress:           t.Progress,
		CurrentStepLabel:   t.CurrentStepLabel,
		ErrorMessage:       t.Error,
		AnalysisStep:       t.AnalysisStep,
		TopicOutlineData:   t.TopicOutlineData,
		TopicDetailIndex:   t.TopicDetailIndex,
		TopicBatchSize:     t.TopicBatchSize,
		SourceData:         t.SourceData,
		ResultData:         t.ResultData,
		InterruptCount:     t.InterruptCount,
		Processing:         t.Processing,
		ProcessingLockedAt: utc(t.ProcessingLockedAt),
		CreatedAt:          t.CreatedAt,
		UpdatedAt:          t.UpdatedAt,
		CompletedAt:        t.CompletedAt,
	}
	if t.TopicStep != nil {
		step := string(*t.TopicStep)
		rec.TopicStep = &step
	}
	return rec
}

func (r *taskRecord) toDomain() (*domain.AnalysisTask, error) {
	id, err := uuid.Parse(r.ID)
	if err != nil {
		return nil, fmt.Errorf("%w: task id %q: %v", domain.ErrInvalidFormat, r.ID, err)
	}
	t := &domain.AnalysisTask{
		ID:                 id,
		Name:               r.Name,
		Status:             domain.TaskStatus(r.Status),
		Progress:           r.Progress,
		CurrentStepLabel:   r.CurrentStepLabel,
		Error:              r.ErrorMessage,
		AnalysisStep:       r.AnalysisStep,
		TopicOutlineData:   r.TopicOutlineData,
		TopicDetailIndex:   r.TopicDetailIndex,
		TopicBatchSize:     r.TopicBatchSize,
		SourceData:         r.SourceData,
		ResultData:         r.ResultData,
		InterruptCount:     r.InterruptCount,
		Processing:         r.Processing,
		ProcessingLockedAt: utc(r.ProcessingLockedAt),
		CreatedAt:          r.CreatedAt.UTC(),
		UpdatedAt:          r.UpdatedAt.UTC(),
		CompletedAt:        utc(r.CompletedAt),
	}
	if r.TopicStep != nil {
		t.SetTopicStep(domain.TopicStep(*r.TopicStep))
	}
	return t, nil
}

func utc(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}
