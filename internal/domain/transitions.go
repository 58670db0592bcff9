package domain

import (
	"bytes"
	"fmt"
	"time"
)

// transitions is the complete table of legal status changes. The only edge
// leading backwards is the operator requeue from failed.
var transitions = map[TaskStatus][]TaskStatus{
	TaskStatusQueued:           {TaskStatusParsing, TaskStatusAnalyzing, TaskStatusFailed},
	TaskStatusParsing:          {TaskStatusCalculating, TaskStatusAnalyzing, TaskStatusFailed},
	TaskStatusCalculating:      {TaskStatusAnalyzing, TaskStatusFailed},
	TaskStatusAnalyzing:        {TaskStatusTopicGenerating, TaskStatusFailed},
	TaskStatusTopicGenerating:  {TaskStatusGeneratingCharts, TaskStatusCompleted, TaskStatusFailed},
	TaskStatusGeneratingCharts: {TaskStatusCompleted, TaskStatusFailed},
	TaskStatusCompleted:        {},
	TaskStatusFailed:           {TaskStatusQueued},
}

// AllowedTransitions returns the statuses reachable from from in one step.
func AllowedTransitions(from TaskStatus) []TaskStatus {
	next := transitions[from]
	out := make([]TaskStatus, len(next))
	copy(out, next)
	return out
}

// ValidateTransition returns an error wrapping ErrInvalidTransition unless
// from->to is an edge of the transition table. A status never transitions
// to itself.
func ValidateTransition(from, to TaskStatus) error {
	next, ok := transitions[from]
	if !ok {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, from)
	}
	if !to.Valid() {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, to)
	}

	for _, s := range next {
		if s == to {
			return nil
		}
	}

	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}

// ValidateConsistency checks the cross-field invariants of a task. It is run
// after every mutation, whichever call site produced it.
func ValidateConsistency(t *AnalysisTask) error {
	if t == nil {
		return fmt.Errorf("%w: nil task", ErrInconsistentState)
	}

	if !t.Status.Valid() {
		return fmt.Errorf("%w: unknown status %q", ErrInconsistentState, t.Status)
	}

	if t.Progress < 0 || t.Progress > 100 {
		return fmt.Errorf("%w: progress %d", ErrProgressOutOfRange, t.Progress)
	}

	if t.Processing != (t.ProcessingLockedAt != nil) {
		return fmt.Errorf("%w: processing=%t but locked_at set=%t",
			ErrInconsistentState, t.Processing, t.ProcessingLockedAt != nil)
	}

	if t.TopicBatchSize <= 0 {
		return fmt.Errorf("%w: %w", ErrInconsistentState, ErrInvalidTopicBatch)
	}

	if t.TopicDetailIndex < 0 {
		return fmt.Errorf("%w: topic detail index %d", ErrInconsistentState, t.TopicDetailIndex)
	}

	if t.InterruptCount < 0 {
		return fmt.Errorf("%w: interrupt count %d", ErrInconsistentState, t.InterruptCount)
	}

	if t.AnalysisStep != nil {
		step := *t.AnalysisStep
		if step < 0 || step > AnalysisStepCount {
			return fmt.Errorf("%w: %w: %d", ErrInconsistentState, ErrInvalidAnalysisStep, step)
		}
		switch t.Status {
		case TaskStatusQueued, TaskStatusParsing, TaskStatusCalculating:
			return fmt.Errorf("%w: analysis step set while %s", ErrInconsistentState, t.Status)
		}
	}

	if t.TopicStep != nil && !t.TopicStep.Valid() {
		return fmt.Errorf("%w: unknown topic step %q", ErrInconsistentState, *t.TopicStep)
	}

	if t.Status == TaskStatusTopicGenerating {
		if t.TopicStep == nil {
			return fmt.Errorf("%w: %s requires a topic step", ErrInconsistentState, t.Status)
		}
		if isEmptyDocument(t.ResultData) {
			return fmt.Errorf("%w: %s requires result data", ErrInconsistentState, t.Status)
		}
	}

	if t.TopicStep != nil {
		if *t.TopicStep == TopicStepOutline && isEmptyDocument(t.ResultData) {
			return fmt.Errorf("%w: outline step requires result data", ErrInconsistentState)
		}
		if *t.TopicStep == TopicStepDetails && isEmptyDocument(t.TopicOutlineData) {
			return fmt.Errorf("%w: details step requires outline data", ErrInconsistentState)
		}
	}

	if (t.Status == TaskStatusFailed) != (t.Error != nil) {
		return fmt.Errorf("%w: status %s with error set=%t", ErrInconsistentState, t.Status, t.Error != nil)
	}

	if t.Status == TaskStatusCompleted {
		if t.Progress != 100 {
			return fmt.Errorf("%w: completed task at progress %d", ErrInconsistentState, t.Progress)
		}
		if t.CompletedAt == nil {
			return fmt.Errorf("%w: completed task without completion time", ErrInconsistentState)
		}
	}

	return nil
}

// ValidateChange is the single check every store runs, inside its write
// transaction, before persisting after over before. It rejects writes to
// store-owned fields, illegal transitions, progress regressions and any
// resulting inconsistency.
func ValidateChange(before, after *AnalysisTask) error {
	if before == nil || after == nil {
		return fmt.Errorf("%w: nil task", ErrInconsistentState)
	}

	if after.ID != before.ID {
		return fmt.Errorf("%w: id", ErrImmutableField)
	}
	if !after.CreatedAt.Equal(before.CreatedAt) {
		return fmt.Errorf("%w: created_at", ErrImmutableField)
	}
	if after.TopicBatchSize != before.TopicBatchSize {
		return fmt.Errorf("%w: topic_batch_size", ErrImmutableField)
	}
	if !bytes.Equal(after.SourceData, before.SourceData) {
		return fmt.Errorf("%w: source_data", ErrImmutableField)
	}
	if after.Processing != before.Processing || !sameTime(after.ProcessingLockedAt, before.ProcessingLockedAt) {
		return fmt.Errorf("%w: lock fields", ErrImmutableField)
	}

	requeue := false
	if after.Status != before.Status {
		if err := ValidateTransition(before.Status, after.Status); err != nil {
			return err
		}
		requeue = before.Status == TaskStatusFailed && after.Status == TaskStatusQueued
	} else if before.Status == TaskStatusCompleted {
		return fmt.Errorf("%w: completed task is immutable", ErrInvalidTransition)
	}

	if requeue {
		if after.Progress != 0 {
			return fmt.Errorf("%w: requeued task must restart at 0", ErrInconsistentState)
		}
	} else if err := ValidateMonotonic(before.Progress, after.Progress); err != nil {
		return err
	}

	return ValidateConsistency(after)
}

func sameTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}

func isEmptyDocument(b []byte) bool {
	trimmed := bytes.TrimSpace(b)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}
