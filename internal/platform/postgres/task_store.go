package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/resonance/internal/domain"
	"github.com/phrazzld/resonance/internal/platform/logger"
	"github.com/phrazzld/resonance/internal/store"
)

const taskColumns = `id, name, status, progress, current_step_label, error_message,
	analysis_step, topic_step, topic_outline_data, topic_detail_index, topic_batch_size,
	source_data, result_data, interrupt_count, processing, processing_locked_at,
	created_at, updated_at, completed_at`

const entityName = "analysis_task"

// storeError maps err and attaches the failed operation.
func storeError(op, message string, err error) error {
	return store.NewStoreError(entityName, op, message, MapError(err))
}

// TaskStore implements store.TaskStore on PostgreSQL.
type TaskStore struct {
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time
}

// Ensure TaskStore implements store.TaskStore interface
var _ store.TaskStore = (*TaskStore)(nil)

// NewTaskStore creates a TaskStore. The caller owns db.
func NewTaskStore(db *sql.DB, log *slog.Logger) *TaskStore {
	if db == nil {
		panic("db cannot be nil")
	}
	if log == nil {
		log = slog.Default()
	}
	return &TaskStore{
		db:     db,
		logger: log.With(slog.String("component", "task_store")),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Create inserts a new task.
func (s *TaskStore) Create(ctx context.Context, task *domain.AnalysisTask) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	if err := task.Validate(); err != nil {
		log.Warn("task validation failed during create",
			slog.String("task_id", task.ID.String()),
			slog.String("error", err.Error()))
		return fmt.Errorf("%w: %w", store.ErrInvalidEntity, err)
	}

	query := `INSERT INTO analysis_tasks (` + taskColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)`

	_, err := s.db.ExecContext(ctx, query, taskArgs(task)...)
	if err != nil {
		if IsUniqueViolation(err) {
			return fmt.Errorf("%w: %s", store.ErrTaskExists, task.ID)
		}
		log.Error("failed to create task",
			slog.String("task_id", task.ID.String()),
			slog.String("error", err.Error()))
		return storeError("create", "insert failed", err)
	}

	log.Info("task created",
		slog.String("task_id", task.ID.String()),
		slog.Int("topic_batch_size", task.TopicBatchSize))
	return nil
}

// GetByID returns the task with id.
func (s *TaskStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.AnalysisTask, error) {
	query := `SELECT ` + taskColumns + ` FROM analysis_tasks WHERE id = $1`
	t, err := scanTask(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrTaskNotFound
		}
		return nil, storeError("get", "select failed", err)
	}
	return t, nil
}

// Update locks the row with SELECT ... FOR UPDATE, applies mutate to a copy,
// validates the change and writes every non-lock column back, all in one
// transaction. The row must still carry the caller's lock token.
func (s *TaskStore) Update(
	ctx context.Context,
	id uuid.UUID,
	lockedAt time.Time,
	mutate store.MutateFunc,
) (*domain.AnalysisTask, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)
	var updated *domain.AnalysisTask

	err := store.RunInTransaction(ctx, s.db, func(ctx context.Context, tx *sql.Tx) error {
		query := `SELECT ` + taskColumns + ` FROM analysis_tasks WHERE id = $1 FOR UPDATE`
		before, err := scanTask(tx.QueryRowContext(ctx, query, id))
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return store.ErrTaskNotFound
			}
			return storeError("update", "select for update failed", err)
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

		res, err := tx.ExecContext(ctx, `
			UPDATE analysis_tasks SET
				name = $2, status = $3, progress = $4, current_step_label = $5,
				error_message = $6, analysis_step = $7, topic_step = $8,
				topic_outline_data = $9, topic_detail_index = $10, result_data = $11,
				interrupt_count = $12, completed_at = $13, updated_at = $14
			WHERE id = $1 AND processing = TRUE AND processing_locked_at = $15`,
			after.ID,
			after.Name,
			string(after.Status),
			after.Progress,
			after.CurrentStepLabel,
			nullString(after.Error),
			nullInt(after.AnalysisStep),
			nullTopicStep(after.TopicStep),
			nullBytes(after.TopicOutlineData),
			after.TopicDetailIndex,
			nullBytes(after.ResultData),
			after.InterruptCount,
			nullTime(after.CompletedAt),
			after.UpdatedAt,
			lockedAt,
		)
		if err != nil {
			return storeError("update", "write failed", err)
		}
		n, err := rowsAffected(res)
		if err != nil {
			return err
		}
		if n != 1 {
			return store.ErrTaskNotLocked
		}
		updated = after
		return nil
	})
	if err != nil {
		log.Debug("task update rejected",
			slog.String("task_id", id.String()),
			slog.String("error", err.Error()))
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
	if len(statuses) == 0 {
		return []*domain.AnalysisTask{}, nil
	}

	args := make([]any, 0, len(statuses)+1)
	placeholders := make([]string, len(statuses))
	for i, st := range statuses {
		args = append(args, string(st))
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}
	query := `SELECT ` + taskColumns + ` FROM analysis_tasks
		WHERE status IN (` + strings.Join(placeholders, ", ") + `)
		ORDER BY created_at ASC, id ASC`
	if limit > 0 {
		args = append(args, limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storeError("list", "select failed", err)
	}
	defer func() { _ = rows.Close() }()

	tasks := make([]*domain.AnalysisTask, 0)
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, storeError("list", "scan failed", err)
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, storeError("list", "row iteration failed", err)
	}
	return tasks, nil
}

// TryLock takes the lock with a single conditional UPDATE.
func (s *TaskStore) TryLock(ctx context.Context, id uuid.UUID, now time.Time) (bool, error) {
	acquired, err := tryLock(ctx, s.db, id, now)
	if err != nil {
		return false, err
	}
	if !acquired {
		return false, s.ensureExists(ctx, s.db, id)
	}
	return true, nil
}

// TryLockReclaiming clears a stale lock and takes the lock in one
// transaction.
func (s *TaskStore) TryLockReclaiming(
	ctx context.Context,
	id uuid.UUID,
	now, staleBefore time.Time,
) (store.LockAttempt, error) {
	var attempt store.LockAttempt

	err := store.RunInTransaction(ctx, s.db, func(ctx context.Context, tx *sql.Tx) error {
		var processing bool
		var lockedAt sql.NullTime
		err := tx.QueryRowContext(ctx,
			`SELECT processing, processing_locked_at FROM analysis_tasks WHERE id = $1 FOR UPDATE`,
			id).Scan(&processing, &lockedAt)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return store.ErrTaskNotFound
			}
			return storeError("lock", "select for update failed", err)
		}

		if processing {
			attempt.PreviousLockedAt = timePtr(lockedAt)
			if lockedAt.Valid && !lockedAt.Time.Before(staleBefore) {
				attempt.WasLocked = true
				return nil
			}
			res, err := tx.ExecContext(ctx, `
				UPDATE analysis_tasks SET processing = FALSE, processing_locked_at = NULL
				WHERE id = $1 AND processing = TRUE AND processing_locked_at < $2`,
				id, staleBefore)
			if err != nil {
				return storeError("lock", "stale lock clear failed", err)
			}
			n, err := rowsAffected(res)
			if err != nil {
				return err
			}
			attempt.Reclaimed = n == 1
		}

		attempt.Acquired, err = tryLock(ctx, tx, id, now)
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
	res, err := s.db.ExecContext(ctx, `
		UPDATE analysis_tasks SET processing = FALSE, processing_locked_at = NULL
		WHERE id = $1 AND processing = TRUE AND processing_locked_at = $2`, id, lockedAt)
	if err != nil {
		return false, storeError("unlock", "conditional write failed", err)
	}
	n, err := rowsAffected(res)
	if err != nil {
		return false, err
	}
	if n == 0 {
		return false, s.ensureExists(ctx, s.db, id)
	}
	return true, nil
}

func tryLock(ctx context.Context, db store.DBTX, id uuid.UUID, now time.Time) (bool, error) {
	res, err := db.ExecContext(ctx, `
		UPDATE analysis_tasks SET processing = TRUE, processing_locked_at = $2
		WHERE id = $1 AND processing = FALSE`, id, now)
	if err != nil {
		return false, storeError("lock", "conditional write failed", err)
	}
	n, err := rowsAffected(res)
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// ensureExists distinguishes a lost conditional write from a missing row.
func (s *TaskStore) ensureExists(ctx context.Context, db store.DBTX, id uuid.UUID) error {
	var exists bool
	err := db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM analysis_tasks WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return storeError("exists", "select failed", err)
	}
	if !exists {
		return store.ErrTaskNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*domain.AnalysisTask, error) {
	var (
		t            domain.AnalysisTask
		status       string
		errorMessage sql.NullString
		analysisStep sql.NullInt64
		topicStep    sql.NullString
		lockedAt     sql.NullTime
		completedAt  sql.NullTime
	)

	err := row.Scan(
		&t.ID,
		&t.Name,
		&status,
		&t.Progress,
		&t.CurrentStepLabel,
		&errorMessage,
		&analysisStep,
		&topicStep,
		&t.TopicOutlineData,
		&t.TopicDetailIndex,
		&t.TopicBatchSize,
		&t.SourceData,
		&t.ResultData,
		&t.InterruptCount,
		&t.Processing,
		&lockedAt,
		&t.CreatedAt,
		&t.UpdatedAt,
		&completedAt,
	)
	if err != nil {
		return nil, err
	}

	t.Status = domain.TaskStatus(status)
	if errorMessage.Valid {
		msg := errorMessage.String
		t.Error = &msg
	}
	if analysisStep.Valid {
		t.SetAnalysisStep(int(analysisStep.Int64))
	}
	if topicStep.Valid {
		t.SetTopicStep(domain.TopicStep(topicStep.String))
	}
	t.ProcessingLockedAt = timePtr(lockedAt)
	t.CompletedAt = timePtr(completedAt)
	return &t, nil
}

func taskArgs(t *domain.AnalysisTask) []any {
	return []any{
		t.ID,
		t.Name,
		string(t.Status),
		t.Progress,
		t.CurrentStepLabel,
		nullString(t.Error),
		nullInt(t.AnalysisStep),
		nullTopicStep(t.TopicStep),
		nullBytes(t.TopicOutlineData),
		t.TopicDetailIndex,
		t.TopicBatchSize,
		t.SourceData,
		nullBytes(t.ResultData),
		t.InterruptCount,
		t.Processing,
		nullTime(t.ProcessingLockedAt),
		t.CreatedAt,
		t.UpdatedAt,
		nullTime(t.CompletedAt),
	}
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullInt(i *int) sql.NullInt64 {
	if i == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*i), Valid: true}
}

func nullTopicStep(ts *domain.TopicStep) sql.NullString {
	if ts == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: string(*ts), Valid: true}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

// nullBytes maps empty JSON documents to NULL.
func nullBytes(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return b
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}
