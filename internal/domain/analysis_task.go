package domain

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// TaskStatus represents the coarse pipeline phase of an analysis task.
type TaskStatus string

// Possible task status values
const (
	TaskStatusQueued           TaskStatus = "queued"
	TaskStatusParsing          TaskStatus = "parsing"
	TaskStatusCalculating      TaskStatus = "calculating"
	TaskStatusAnalyzing        TaskStatus = "analyzing"
	TaskStatusTopicGenerating  TaskStatus = "topic_generating"
	TaskStatusGeneratingCharts TaskStatus = "generating_charts"
	TaskStatusCompleted        TaskStatus = "completed"
	TaskStatusFailed           TaskStatus = "failed"
)

// IsTerminal reports whether no further pipeline work runs in this status.
func (s TaskStatus) IsTerminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusFailed
}

// Valid reports whether s is a known status.
func (s TaskStatus) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// TopicStep is the cursor through the topic generation phase.
type TopicStep string

// Possible topic step values
const (
	TopicStepOutline  TopicStep = "outline"
	TopicStepDetails  TopicStep = "details"
	TopicStepComplete TopicStep = "complete"
)

// Valid reports whether ts is a known topic step.
func (ts TopicStep) Valid() bool {
	switch ts {
	case TopicStepOutline, TopicStepDetails, TopicStepComplete:
		return true
	default:
		return false
	}
}

// AnalysisStepCount is the number of analysis sub-steps. An analysis step
// cursor equal to AnalysisStepCount means every sub-step has been persisted.
const AnalysisStepCount = 6

// DefaultTopicBatchSize is used when a task is created without an explicit
// batch size.
const DefaultTopicBatchSize = 10

// Common validation errors for AnalysisTask
var (
	ErrEmptyTaskID         = errors.New("task ID cannot be empty")
	ErrEmptyTaskName       = errors.New("task name cannot be empty")
	ErrEmptySourceData     = errors.New("task source data cannot be empty")
	ErrInvalidTaskStatus   = errors.New("invalid task status")
	ErrInvalidTopicBatch   = errors.New("topic batch size must be positive")
	ErrInvalidAnalysisStep = errors.New("analysis step out of range")
)

// AnalysisTask is the persisted state record of one engagement analysis job.
// Every field is written through the store's conditional update path; the
// lock fields are owned by the lock primitives and never by an update.
type AnalysisTask struct {
	ID               uuid.UUID  `json:"id"`
	Name             string     `json:"name"`
	Status           TaskStatus `json:"status"`
	Progress         int        `json:"progress"`
	CurrentStepLabel string     `json:"current_step_label"`
	Error            *string    `json:"error,omitempty"`

	// AnalysisStep is the sub-step cursor of the stepped analysis. Nil means
	// the task never entered stepped analysis.
	AnalysisStep *int `json:"analysis_step,omitempty"`

	TopicStep        *TopicStep `json:"topic_step,omitempty"`
	TopicOutlineData []byte     `json:"-"`
	TopicDetailIndex int        `json:"topic_detail_index"`
	TopicBatchSize   int        `json:"topic_batch_size"`

	SourceData []byte `json:"-"`
	ResultData []byte `json:"-"`

	// InterruptCount is the number of consecutive units cut off by the end
	// of their tick. Any unit that finishes resets it.
	InterruptCount int `json:"interrupt_count"`

	Processing         bool       `json:"processing"`
	ProcessingLockedAt *time.Time `json:"processing_locked_at,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// NewAnalysisTask creates a queued task for the given dataset.
// A non-positive batchSize falls back to DefaultTopicBatchSize.
func NewAnalysisTask(name string, sourceData []byte, batchSize int) (*AnalysisTask, error) {
	if batchSize <= 0 {
		batchSize = DefaultTopicBatchSize
	}

	now := time.Now().UTC()
	task := &AnalysisTask{
		ID:               uuid.New(),
		Name:             name,
		Status:           TaskStatusQueued,
		Progress:         0,
		CurrentStepLabel: "Queued",
		TopicBatchSize:   batchSize,
		SourceData:       sourceData,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	if err := task.Validate(); err != nil {
		return nil, err
	}

	return task, nil
}

// Validate checks the fields required of every persisted task, then the
// cross-field invariants.
func (t *AnalysisTask) Validate() error {
	if t.ID == uuid.Nil {
		return ErrEmptyTaskID
	}

	if t.Name == "" {
		return ErrEmptyTaskName
	}

	if len(t.SourceData) == 0 {
		return ErrEmptySourceData
	}

	if !t.Status.Valid() {
		return ErrInvalidTaskStatus
	}

	return ValidateConsistency(t)
}

// Clone returns a deep copy so that mutations can be validated against the
// original.
func (t *AnalysisTask) Clone() *AnalysisTask {
	if t == nil {
		return nil
	}

	c := *t
	c.Error = cloneString(t.Error)
	c.TopicStep = cloneTopicStep(t.TopicStep)
	c.ProcessingLockedAt = cloneTime(t.ProcessingLockedAt)
	c.CompletedAt = cloneTime(t.CompletedAt)
	if t.AnalysisStep != nil {
		step := *t.AnalysisStep
		c.AnalysisStep = &step
	}
	c.TopicOutlineData = cloneBytes(t.TopicOutlineData)
	c.SourceData = cloneBytes(t.SourceData)
	c.ResultData = cloneBytes(t.ResultData)
	return &c
}

// IsLockStale reports whether the task holds a lock acquired before cutoff.
func (t *AnalysisTask) IsLockStale(cutoff time.Time) bool {
	return t.Processing && t.ProcessingLockedAt != nil && t.ProcessingLockedAt.Before(cutoff)
}

// HeldBy reports whether the task is locked by the acquisition stamped
// lockedAt. The acquisition time is the holder's token.
func (t *AnalysisTask) HeldBy(lockedAt time.Time) bool {
	return t.Processing && t.ProcessingLockedAt != nil && t.ProcessingLockedAt.Equal(lockedAt)
}

// SetAnalysisStep points the analysis cursor at step.
func (t *AnalysisTask) SetAnalysisStep(step int) {
	t.AnalysisStep = &step
}

// SetTopicStep points the topic cursor at step.
func (t *AnalysisTask) SetTopicStep(step TopicStep) {
	t.TopicStep = &step
}

// Fail moves the task to failed with a human-readable message.
func (t *AnalysisTask) Fail(message string) error {
	if err := ValidateTransition(t.Status, TaskStatusFailed); err != nil {
		return err
	}
	if message == "" {
		message = "task failed"
	}
	t.Status = TaskStatusFailed
	t.Error = &message
	t.CurrentStepLabel = "Failed"
	return nil
}

// Requeue resets a failed task so that the next dispatch starts a new run.
func (t *AnalysisTask) Requeue() error {
	if err := ValidateTransition(t.Status, TaskStatusQueued); err != nil {
		return err
	}
	t.Status = TaskStatusQueued
	t.Progress = 0
	t.CurrentStepLabel = "Queued"
	t.Error = nil
	t.AnalysisStep = nil
	t.TopicStep = nil
	t.TopicOutlineData = nil
	t.TopicDetailIndex = 0
	t.ResultData = nil
	t.InterruptCount = 0
	t.CompletedAt = nil
	return nil
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func cloneTopicStep(ts *TopicStep) *TopicStep {
	if ts == nil {
		return nil
	}
	v := *ts
	return &v
}

func cloneTime(tm *time.Time) *time.Time {
	if tm == nil {
		return nil
	}
	v := *tm
	return &v
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	return append([]byte(nil), b...)
}
