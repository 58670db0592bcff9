package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/resonance/internal/domain"
	"github.com/phrazzld/resonance/internal/platform/logger"
	"github.com/phrazzld/resonance/internal/redact"
	"github.com/phrazzld/resonance/internal/store"
)

var (
	// ErrBatchCursorMoved is returned when the detail cursor changed between
	// generating a batch and merging it.
	ErrBatchCursorMoved = errors.New("topic detail cursor moved during batch")

	// ErrNotGeneratingDetails is returned when a batch step runs on a task
	// that is not in the topic details step.
	ErrNotGeneratingDetails = errors.New("task is not generating topic details")
)

// PlaceholderBody is the detail body substituted for a failed batch.
const PlaceholderBody = "Detail content could not be generated for this topic."

// BatchResult reports one BatchOrchestrator step.
type BatchResult struct {
	// Completed is true when no batches remain after this step.
	Completed bool
	// BatchIndex is the batch this step processed, or the cursor when
	// nothing was left to process.
	BatchIndex   int
	TotalBatches int
	// Items is the number of outline items in the processed batch.
	Items int
	// Placeholder is true when generation failed and placeholder details
	// were merged instead.
	Placeholder bool
	// Progress is the task progress after the step.
	Progress int
}

// TotalBatches returns ceil(items/batchSize).
func TotalBatches(items, batchSize int) int {
	if items <= 0 || batchSize <= 0 {
		return 0
	}
	return (items + batchSize - 1) / batchSize
}

// BatchOrchestrator generates topic details one batch per call and merges
// each batch into the task's result through the store's conditional update.
type BatchOrchestrator struct {
	store   store.TaskStore
	details DetailGenerator
	logger  *slog.Logger
}

// NewBatchOrchestrator creates a BatchOrchestrator.
func NewBatchOrchestrator(taskStore store.TaskStore, details DetailGenerator, log *slog.Logger) *BatchOrchestrator {
	if log == nil {
		log = slog.Default()
	}
	return &BatchOrchestrator{
		store:   taskStore,
		details: details,
		logger:  log.With(slog.String("component", "batch_orchestrator")),
	}
}

// Step processes the batch at the task's detail cursor. The caller must
// hold the task lock acquired at lockedAt. When the cursor is already past
// the last batch, including after topics were finalized, Step returns
// Completed without writing.
//
// A batch whose generation fails, or runs out of time, is merged as
// placeholders so the cursor always advances. Only cancellation aborts it.
func (o *BatchOrchestrator) Step(ctx context.Context, id uuid.UUID, lockedAt time.Time) (BatchResult, error) {
	t, err := o.store.GetByID(ctx, id)
	if err != nil {
		return BatchResult{}, err
	}
	finalized := t.TopicStep != nil && *t.TopicStep == domain.TopicStepComplete
	if !inDetailsStep(t) && !finalized {
		return BatchResult{}, fmt.Errorf("%w: status %s", ErrNotGeneratingDetails, t.Status)
	}

	outline, err := domain.DecodeOutline(t.TopicOutlineData)
	if err != nil {
		return BatchResult{}, err
	}

	cursor := t.TopicDetailIndex
	total := TotalBatches(len(outline), t.TopicBatchSize)
	result := BatchResult{BatchIndex: cursor, TotalBatches: total, Progress: t.Progress}
	if cursor >= total {
		result.Completed = true
		return result, nil
	}
	if finalized {
		return BatchResult{}, fmt.Errorf("%w: topics finalized at batch %d of %d", ErrNotGeneratingDetails, cursor, total)
	}

	log := logger.FromContextOrDefault(ctx, o.logger).With(
		slog.String("task_id", id.String()),
		slog.Int("batch_index", cursor),
		slog.Int("total_batches", total))

	milestone := domain.MilestoneFor(domain.PhaseTopicDetails)
	if t.Progress < milestone.Start {
		t, err = o.store.Update(ctx, id, lockedAt, func(task *domain.AnalysisTask) error {
			return task.StartPhase(domain.PhaseTopicDetails)
		})
		if err != nil {
			return BatchResult{}, fmt.Errorf("failed to record topic details start: %w", err)
		}
	}

	report, err := domain.DecodeReport(t.ResultData)
	if err != nil {
		return BatchResult{}, err
	}

	start := cursor * t.TopicBatchSize
	end := start + t.TopicBatchSize
	if end > len(outline) {
		end = len(outline)
	}
	items := outline[start:end]
	result.Items = len(items)

	details, genErr := o.details.GenerateDetails(ctx, report, items)
	if genErr == nil && len(details) != len(items) {
		genErr = fmt.Errorf("generator returned %d details for %d topics", len(details), len(items))
	}
	writeCtx := ctx
	if genErr != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			return BatchResult{}, ctx.Err()
		}
		if ctx.Err() != nil {
			writeCtx = context.WithoutCancel(ctx)
		}
		log.Warn("topic detail batch failed, using placeholders",
			slog.Int("items", len(items)),
			slog.String("error", redact.Error(genErr)))
		details = PlaceholderDetails(items)
		result.Placeholder = true
	}

	progress := domain.BatchProgress(milestone.Start, milestone.Complete, cursor+1, total)
	label := fmt.Sprintf("Generating topic details (batch %d of %d)", cursor+1, total)

	updated, err := o.store.Update(writeCtx, id, lockedAt, func(task *domain.AnalysisTask) error {
		if !inDetailsStep(task) {
			return fmt.Errorf("%w: status %s", ErrNotGeneratingDetails, task.Status)
		}
		if task.TopicDetailIndex != cursor {
			return fmt.Errorf("%w: expected %d, found %d", ErrBatchCursorMoved, cursor, task.TopicDetailIndex)
		}

		latest, err := domain.DecodeReport(task.ResultData)
		if err != nil {
			return err
		}
		latest.MergeDetails(details)
		data, err := latest.Encode()
		if err != nil {
			return err
		}

		task.ResultData = data
		task.TopicDetailIndex = cursor + 1
		return task.Advance(progress, label)
	})
	if err != nil {
		return BatchResult{}, fmt.Errorf("failed to merge topic detail batch: %w", err)
	}

	result.Progress = updated.Progress
	result.Completed = cursor+1 >= total

	log.Info("topic detail batch merged",
		slog.Int("items", len(items)),
		slog.Bool("placeholder", result.Placeholder),
		slog.Int("progress", updated.Progress))

	return result, nil
}

// PlaceholderDetails returns stand-in details for items.
func PlaceholderDetails(items []domain.OutlineItem) []domain.TopicDetail {
	out := make([]domain.TopicDetail, len(items))
	for i, item := range items {
		out[i] = domain.TopicDetail{
			Index:       item.Index,
			Title:       item.Title,
			Body:        PlaceholderBody,
			Placeholder: true,
		}
	}
	return out
}

func inDetailsStep(t *domain.AnalysisTask) bool {
	return t.Status == domain.TaskStatusTopicGenerating &&
		t.TopicStep != nil && *t.TopicStep == domain.TopicStepDetails
}
