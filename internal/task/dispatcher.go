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

// Dispatch result messages.
const (
	MessageNoEligibleTasks = "no eligible tasks"
	MessageAlreadyLocked   = "task is already being processed"
)

// ErrStepCursorMoved is returned when the analysis cursor changed while a
// step was running.
var ErrStepCursorMoved = errors.New("analysis step cursor moved")

// ErrUnknownExecutionMode is returned by ParseExecutionMode.
var ErrUnknownExecutionMode = errors.New("unknown execution mode")

// ErrTickBudgetTooShort is returned by CheckTickBudget.
var ErrTickBudgetTooShort = errors.New("tick budget too short for a unit of work")

// DefaultMaxInterruptions is how many consecutive ticks may cut off a task's
// unit before the task is failed.
const DefaultMaxInterruptions = 3

// ExecutionMode selects how queued tasks run their analysis.
type ExecutionMode string

const (
	// ModeStepped runs one analysis sub-step per dispatch.
	ModeStepped ExecutionMode = "stepped"
	// ModeSingleShot runs the whole analysis in one dispatch.
	//
	// Deprecated: kept for deployments whose ticks have a long time budget.
	ModeSingleShot ExecutionMode = "single_shot"
)

// ParseExecutionMode converts a configuration value to an ExecutionMode.
func ParseExecutionMode(s string) (ExecutionMode, error) {
	switch ExecutionMode(s) {
	case ModeStepped:
		return ModeStepped, nil
	case ModeSingleShot:
		return ModeSingleShot, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownExecutionMode, s)
	}
}

// generatorCalls is the most generator calls a single unit makes in mode.
// A single-shot run calls it for content patterns and the executive summary.
func generatorCalls(mode ExecutionMode) int {
	if mode == ModeSingleShot {
		return 2
	}
	return 1
}

// CheckTickBudget rejects a tick budget that cannot fit the slowest unit of
// mode when each generator call may take up to requestTimeout.
func CheckTickBudget(budget, requestTimeout time.Duration, mode ExecutionMode) error {
	need := requestTimeout * time.Duration(generatorCalls(mode))
	if budget <= need {
		return fmt.Errorf("%w: %s units need more than %s, got %s", ErrTickBudgetTooShort, mode, need, budget)
	}
	return nil
}

// Unit is one bounded piece of pipeline work.
type Unit int

// Units of work, as chosen by NextUnit.
const (
	UnitNone Unit = iota
	UnitAnalysisStep
	UnitLegacyAnalysis
	UnitTopicOutline
	UnitTopicDetailBatch
	UnitFinalizeTopics
	UnitCharts
)

func (u Unit) String() string {
	switch u {
	case UnitAnalysisStep:
		return "analysis_step"
	case UnitLegacyAnalysis:
		return "legacy_analysis"
	case UnitTopicOutline:
		return "topic_outline"
	case UnitTopicDetailBatch:
		return "topic_detail_batch"
	case UnitFinalizeTopics:
		return "finalize_topics"
	case UnitCharts:
		return "charts"
	default:
		return "none"
	}
}

// NextUnit is the single place that decides what a task needs next. A task
// that entered stepped analysis always continues stepped; queued tasks
// start in mode.
func NextUnit(t *domain.AnalysisTask, mode ExecutionMode) Unit {
	switch t.Status {
	case domain.TaskStatusQueued:
		if mode == ModeSingleShot {
			return UnitLegacyAnalysis
		}
		return UnitAnalysisStep

	case domain.TaskStatusParsing, domain.TaskStatusCalculating:
		return UnitLegacyAnalysis

	case domain.TaskStatusAnalyzing:
		if t.AnalysisStep == nil {
			return UnitLegacyAnalysis
		}
		return UnitAnalysisStep

	case domain.TaskStatusTopicGenerating:
		if t.TopicStep == nil || *t.TopicStep == domain.TopicStepOutline {
			return UnitTopicOutline
		}
		if *t.TopicStep == domain.TopicStepComplete {
			return UnitFinalizeTopics
		}
		outline, err := domain.DecodeOutline(t.TopicOutlineData)
		if err != nil {
			// The batch step reports the decode error.
			return UnitTopicDetailBatch
		}
		if t.TopicDetailIndex < TotalBatches(len(outline), t.TopicBatchSize) {
			return UnitTopicDetailBatch
		}
		return UnitFinalizeTopics

	case domain.TaskStatusGeneratingCharts:
		return UnitCharts

	default:
		return UnitNone
	}
}

// selectionTiers lists the statuses of each priority tier, highest first:
// tasks closest to completion, then analysis in flight, then new work.
var selectionTiers = [][]domain.TaskStatus{
	{domain.TaskStatusTopicGenerating, domain.TaskStatusGeneratingCharts},
	{domain.TaskStatusAnalyzing, domain.TaskStatusParsing, domain.TaskStatusCalculating},
	{domain.TaskStatusQueued},
}

// DispatchResult is the outcome of one dispatch cycle.
type DispatchResult struct {
	Processing bool       `json:"processing"`
	TaskID     *uuid.UUID `json:"taskId"`
	Message    string     `json:"message"`
}

// Dispatcher runs one bounded unit of work per call to Dispatch. It holds no
// state between calls; the task store is the only memory.
type Dispatcher struct {
	store          store.TaskStore
	locks          *LockManager
	analyzer       Analyzer
	batches        *BatchOrchestrator
	logger         *slog.Logger
	mode           ExecutionMode
	lockTimeout    time.Duration
	candidateLimit int
	// maxInterruptions fails a task whose units keep outlasting the tick.
	maxInterruptions int
	now              func() time.Time
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithExecutionMode sets the mode queued tasks start in.
func WithExecutionMode(mode ExecutionMode) DispatcherOption {
	return func(d *Dispatcher) { d.mode = mode }
}

// WithLockTimeout sets the age after which a task lock is reclaimed.
func WithLockTimeout(timeout time.Duration) DispatcherOption {
	return func(d *Dispatcher) { d.lockTimeout = timeout }
}

// WithDispatchClock replaces the clock used for lock staleness and
// completion times.
func WithDispatchClock(now func() time.Time) DispatcherOption {
	return func(d *Dispatcher) { d.now = now }
}

// DefaultCandidateLimit is how many tasks per tier selection looks at.
const DefaultCandidateLimit = 25

// WithCandidateLimit bounds how many tasks per tier are considered. Values
// below one are ignored.
func WithCandidateLimit(n int) DispatcherOption {
	return func(d *Dispatcher) {
		if n > 0 {
			d.candidateLimit = n
		}
	}
}

// WithMaxInterruptions sets how many consecutive interrupted units fail a
// task. Values below one are ignored.
func WithMaxInterruptions(n int) DispatcherOption {
	return func(d *Dispatcher) {
		if n > 0 {
			d.maxInterruptions = n
		}
	}
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(
	taskStore store.TaskStore,
	locks *LockManager,
	analyzer Analyzer,
	log *slog.Logger,
	opts ...DispatcherOption,
) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	d := &Dispatcher{
		store:          taskStore,
		locks:          locks,
		analyzer:       analyzer,
		logger:         log.With(slog.String("component", "dispatcher")),
		mode:           ModeStepped,
		lockTimeout:    DefaultLockTimeout,
		candidateLimit:   DefaultCandidateLimit,
		maxInterruptions: DefaultMaxInterruptions,
		now:              func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(d)
	}
	d.batches = NewBatchOrchestrator(taskStore, analyzer, log)
	return d
}

// Dispatch selects at most one eligible task, locks it, runs its next unit
// of work and releases the lock. Contention and unit failures are reported
// in the result; only store failures and cancellation return an error.
func (d *Dispatcher) Dispatch(ctx context.Context) (DispatchResult, error) {
	candidate, err := d.selectTask(ctx)
	if err != nil {
		return DispatchResult{}, fmt.Errorf("failed to select task: %w", err)
	}
	if candidate == nil {
		return DispatchResult{Processing: false, Message: MessageNoEligibleTasks}, nil
	}

	id := candidate.ID
	log := d.logger.With(slog.String("task_id", id.String()))
	ctx = logger.WithLogger(ctx, log)

	lock, err := d.locks.AcquireWithTimeout(ctx, id, d.lockTimeout)
	if err != nil {
		return DispatchResult{}, err
	}
	if !lock.Success {
		log.Info("task is locked by another worker")
		return DispatchResult{Processing: true, TaskID: &id, Message: MessageAlreadyLocked}, nil
	}

	lockedAt := lock.LockedAt
	defer func() {
		// Release must happen even when ctx was cancelled mid-unit.
		if _, err := d.locks.Release(context.WithoutCancel(ctx), id, lockedAt); err != nil {
			log.Error("failed to release task lock", slog.String("error", err.Error()))
		}
	}()

	t, err := d.store.GetByID(ctx, id)
	if err != nil {
		return DispatchResult{}, fmt.Errorf("failed to load task %s: %w", id, err)
	}

	unit := NextUnit(t, d.mode)
	if unit == UnitNone {
		return DispatchResult{Processing: false, TaskID: &id, Message: MessageNoEligibleTasks}, nil
	}

	log = log.With(slog.String("unit", unit.String()), slog.String("status", string(t.Status)))
	ctx = logger.WithLogger(ctx, log)
	log.Info("running unit", slog.Int("progress", t.Progress))

	message, runErr := d.run(ctx, unit, t, lockedAt)
	if runErr == nil {
		if t.InterruptCount > 0 {
			if _, err := d.store.Update(context.WithoutCancel(ctx), id, lockedAt, func(task *domain.AnalysisTask) error {
				task.InterruptCount = 0
				return nil
			}); err != nil {
				return DispatchResult{}, fmt.Errorf("failed to clear interruptions of task %s: %w", id, err)
			}
		}
		log.Info("unit finished", slog.String("message", message))
		return DispatchResult{Processing: true, TaskID: &id, Message: message}, nil
	}

	if ctx.Err() != nil {
		return d.recordInterruption(ctx, id, lockedAt, runErr)
	}

	failure := redact.Message(runErr)
	log.Error("unit failed, marking task failed", slog.String("error", failure))
	if _, err := d.store.Update(ctx, id, lockedAt, func(task *domain.AnalysisTask) error {
		return task.Fail(failure)
	}); err != nil {
		return DispatchResult{}, fmt.Errorf("failed to persist failure of task %s: %w", id, err)
	}

	return DispatchResult{Processing: true, TaskID: &id, Message: "task failed: " + failure}, nil
}

// recordInterruption counts a unit cut off by the end of its tick. The next
// tick resumes the task until maxInterruptions units in a row were cut off;
// then the task is failed. The write outlives ctx, like the lock release.
func (d *Dispatcher) recordInterruption(ctx context.Context, id uuid.UUID, lockedAt time.Time, runErr error) (DispatchResult, error) {
	log := logger.FromContextOrDefault(ctx, d.logger)

	var failure string
	updated, err := d.store.Update(context.WithoutCancel(ctx), id, lockedAt, func(task *domain.AnalysisTask) error {
		task.InterruptCount++
		if task.InterruptCount < d.maxInterruptions {
			return nil
		}
		failure = fmt.Sprintf("unit interrupted %d times in a row; the tick budget is too short", task.InterruptCount)
		return task.Fail(failure)
	})
	if err != nil {
		return DispatchResult{}, fmt.Errorf("failed to record interruption of task %s: %w", id, err)
	}

	if updated.Status == domain.TaskStatusFailed {
		log.Error("unit interrupted too often, marking task failed",
			slog.String("error", redact.Error(runErr)),
			slog.Int("interruptions", updated.InterruptCount))
		return DispatchResult{Processing: true, TaskID: &id, Message: "task failed: " + failure}, ctx.Err()
	}

	log.Warn("unit interrupted",
		slog.String("error", redact.Error(runErr)),
		slog.Int("interruptions", updated.InterruptCount))
	return DispatchResult{Processing: true, TaskID: &id, Message: "unit interrupted"}, ctx.Err()
}

// selectTask returns the oldest task of the highest non-empty tier whose
// lock is free or stale and that has work left.
func (d *Dispatcher) selectTask(ctx context.Context) (*domain.AnalysisTask, error) {
	staleBefore := d.now().Add(-d.lockTimeout)

	for _, statuses := range selectionTiers {
		tasks, err := d.store.ListByStatus(ctx, statuses, d.candidateLimit)
		if err != nil {
			return nil, err
		}
		for _, t := range tasks {
			if t.Status.IsTerminal() {
				continue
			}
			if t.Processing && !t.IsLockStale(staleBefore) {
				continue
			}
			if NextUnit(t, d.mode) == UnitNone {
				continue
			}
			return t, nil
		}
	}
	return nil, nil
}

func (d *Dispatcher) run(ctx context.Context, unit Unit, t *domain.AnalysisTask, lockedAt time.Time) (string, error) {
	switch unit {
	case UnitAnalysisStep:
		return d.runAnalysisStep(ctx, t, lockedAt)
	case UnitLegacyAnalysis:
		return d.runLegacyAnalysis(ctx, t, lockedAt)
	case UnitTopicOutline:
		return d.runTopicOutline(ctx, t, lockedAt)
	case UnitTopicDetailBatch:
		return d.runDetailBatch(ctx, t, lockedAt)
	case UnitFinalizeTopics:
		return d.runFinalizeTopics(ctx, t, lockedAt)
	case UnitCharts:
		return d.runCharts(ctx, t, lockedAt)
	default:
		return "", fmt.Errorf("no runner for unit %s", unit)
	}
}

// runAnalysisStep runs the phase at the analysis cursor: it commits the
// phase start, does the work, then commits the result, the phase-complete
// milestone and the advanced cursor together. The last step also moves the
// task on to topic generation in the same commit.
func (d *Dispatcher) runAnalysisStep(ctx context.Context, t *domain.AnalysisTask, lockedAt time.Time) (string, error) {
	step := 0
	if t.AnalysisStep != nil {
		step = *t.AnalysisStep
	}

	if step >= domain.AnalysisStepCount {
		if _, err := d.store.Update(ctx, t.ID, lockedAt, enterTopicGeneration); err != nil {
			return "", err
		}
		return "analysis already complete, moved to topic generation", nil
	}

	phase, err := domain.AnalysisPhase(step)
	if err != nil {
		return "", err
	}

	t, err = d.store.Update(ctx, t.ID, lockedAt, func(task *domain.AnalysisTask) error {
		if task.Status == domain.TaskStatusQueued {
			task.Status = domain.TaskStatusAnalyzing
			task.SetAnalysisStep(0)
		}
		if err := checkCursor(task, step); err != nil {
			return err
		}
		return task.StartPhase(phase)
	})
	if err != nil {
		return "", fmt.Errorf("failed to record start of %s: %w", phase, err)
	}

	report, err := domain.DecodeReport(t.ResultData)
	if err != nil {
		return "", err
	}
	if err := d.analyzer.RunPhase(ctx, phase, t.SourceData, report); err != nil {
		return "", fmt.Errorf("%s: %w", phase, err)
	}
	data, err := report.Encode()
	if err != nil {
		return "", err
	}

	if _, err := d.store.Update(ctx, t.ID, lockedAt, func(task *domain.AnalysisTask) error {
		if err := checkCursor(task, step); err != nil {
			return err
		}
		task.ResultData = data
		if err := task.CompletePhase(phase); err != nil {
			return err
		}
		task.SetAnalysisStep(step + 1)
		if step+1 == domain.AnalysisStepCount {
			return enterTopicGeneration(task)
		}
		return nil
	}); err != nil {
		return "", fmt.Errorf("failed to record completion of %s: %w", phase, err)
	}

	return fmt.Sprintf("completed analysis step %d of %d (%s)", step+1, domain.AnalysisStepCount, phase), nil
}

func checkCursor(t *domain.AnalysisTask, step int) error {
	if t.Status != domain.TaskStatusAnalyzing || t.AnalysisStep == nil || *t.AnalysisStep != step {
		return fmt.Errorf("%w: expected step %d", ErrStepCursorMoved, step)
	}
	return nil
}

func enterTopicGeneration(t *domain.AnalysisTask) error {
	t.Status = domain.TaskStatusTopicGenerating
	t.SetTopicStep(domain.TopicStepOutline)
	t.CurrentStepLabel = domain.MilestoneFor(domain.PhaseTopicOutline).Label
	return nil
}

// legacyStatus is the status the deprecated single-shot run reports while
// each phase runs.
var legacyStatus = map[domain.Phase]domain.TaskStatus{
	domain.PhaseParseDataset:         domain.TaskStatusParsing,
	domain.PhaseComputeThreshold:     domain.TaskStatusCalculating,
	domain.PhaseSelectHighPerformers: domain.TaskStatusCalculating,
	domain.PhaseContentPatterns:      domain.TaskStatusAnalyzing,
	domain.PhaseTimingPatterns:       domain.TaskStatusAnalyzing,
	domain.PhaseExecutiveSummary:     domain.TaskStatusAnalyzing,
}

// runLegacyAnalysis runs every analysis phase in one tick. It also resumes
// a crashed single-shot run from scratch; progress and status only ever
// move forward, so milestones already passed are not written again.
func (d *Dispatcher) runLegacyAnalysis(ctx context.Context, t *domain.AnalysisTask, lockedAt time.Time) (string, error) {
	report, err := domain.DecodeReport(t.ResultData)
	if err != nil {
		return "", err
	}

	for _, phase := range domain.AnalysisPhases {
		milestone := domain.MilestoneFor(phase)
		if _, err := d.store.Update(ctx, t.ID, lockedAt, func(task *domain.AnalysisTask) error {
			moveForward(task, legacyStatus[phase])
			return raiseProgress(task, milestone.Start, milestone.Label)
		}); err != nil {
			return "", fmt.Errorf("failed to record start of %s: %w", phase, err)
		}

		if err := d.analyzer.RunPhase(ctx, phase, t.SourceData, report); err != nil {
			return "", fmt.Errorf("%s: %w", phase, err)
		}
		data, err := report.Encode()
		if err != nil {
			return "", err
		}

		if _, err := d.store.Update(ctx, t.ID, lockedAt, func(task *domain.AnalysisTask) error {
			task.ResultData = data
			if err := raiseProgress(task, milestone.Complete, milestone.Label); err != nil {
				return err
			}
			if phase == domain.PhaseExecutiveSummary {
				return enterTopicGeneration(task)
			}
			return nil
		}); err != nil {
			return "", fmt.Errorf("failed to record completion of %s: %w", phase, err)
		}
	}

	return "completed analysis", nil
}

// moveForward changes the status to target when the transition table
// allows it, and otherwise leaves it alone.
func moveForward(t *domain.AnalysisTask, target domain.TaskStatus) {
	if t.Status != target && domain.ValidateTransition(t.Status, target) == nil {
		t.Status = target
	}
}

// raiseProgress advances progress to next unless it is already there or
// beyond.
func raiseProgress(t *domain.AnalysisTask, next int, label string) error {
	if next <= t.Progress {
		return nil
	}
	return t.Advance(next, label)
}

func (d *Dispatcher) runTopicOutline(ctx context.Context, t *domain.AnalysisTask, lockedAt time.Time) (string, error) {
	t, err := d.store.Update(ctx, t.ID, lockedAt, func(task *domain.AnalysisTask) error {
		if task.TopicStep == nil {
			task.SetTopicStep(domain.TopicStepOutline)
		}
		m := domain.MilestoneFor(domain.PhaseTopicOutline)
		return raiseProgress(task, m.Start, m.Label)
	})
	if err != nil {
		return "", fmt.Errorf("failed to record start of topic outline: %w", err)
	}

	report, err := domain.DecodeReport(t.ResultData)
	if err != nil {
		return "", err
	}
	items, err := d.analyzer.GenerateOutline(ctx, report)
	if err != nil {
		return "", fmt.Errorf("%s: %w", domain.PhaseTopicOutline, err)
	}
	outline, err := domain.EncodeOutline(items)
	if err != nil {
		return "", err
	}
	report.Topics.Outline = items
	report.Topics.Details = nil
	data, err := report.Encode()
	if err != nil {
		return "", err
	}

	if _, err := d.store.Update(ctx, t.ID, lockedAt, func(task *domain.AnalysisTask) error {
		if task.TopicStep == nil || *task.TopicStep != domain.TopicStepOutline {
			return fmt.Errorf("%w: topic step moved", ErrStepCursorMoved)
		}
		task.TopicOutlineData = outline
		task.ResultData = data
		task.TopicDetailIndex = 0
		task.SetTopicStep(domain.TopicStepDetails)
		return task.CompletePhase(domain.PhaseTopicOutline)
	}); err != nil {
		return "", fmt.Errorf("failed to record topic outline: %w", err)
	}

	return fmt.Sprintf("generated topic outline with %d topics", len(items)), nil
}

func (d *Dispatcher) runDetailBatch(ctx context.Context, t *domain.AnalysisTask, lockedAt time.Time) (string, error) {
	res, err := d.batches.Step(ctx, t.ID, lockedAt)
	if err != nil {
		return "", err
	}
	if res.Items == 0 {
		return "all topic detail batches complete", nil
	}

	msg := fmt.Sprintf("generated topic detail batch %d of %d", res.BatchIndex+1, res.TotalBatches)
	if res.Placeholder {
		msg += " with placeholders"
	}
	return msg, nil
}

func (d *Dispatcher) runFinalizeTopics(ctx context.Context, t *domain.AnalysisTask, lockedAt time.Time) (string, error) {
	if _, err := d.store.Update(ctx, t.ID, lockedAt, func(task *domain.AnalysisTask) error {
		task.SetTopicStep(domain.TopicStepComplete)
		task.Status = domain.TaskStatusGeneratingCharts
		m := domain.MilestoneFor(domain.PhaseCharts)
		return raiseProgress(task, m.Start, m.Label)
	}); err != nil {
		return "", fmt.Errorf("failed to finalize topics: %w", err)
	}
	return "finalized topics", nil
}

func (d *Dispatcher) runCharts(ctx context.Context, t *domain.AnalysisTask, lockedAt time.Time) (string, error) {
	report, err := domain.DecodeReport(t.ResultData)
	if err != nil {
		return "", err
	}
	charts, err := d.analyzer.BuildCharts(t.SourceData, report)
	if err != nil {
		return "", fmt.Errorf("%s: %w", domain.PhaseCharts, err)
	}
	report.Charts = charts
	data, err := report.Encode()
	if err != nil {
		return "", err
	}

	completedAt := d.now()
	if _, err := d.store.Update(ctx, t.ID, lockedAt, func(task *domain.AnalysisTask) error {
		task.ResultData = data
		task.Status = domain.TaskStatusCompleted
		task.CompletedAt = &completedAt
		m := domain.MilestoneFor(domain.PhaseComplete)
		return task.Advance(m.Complete, m.Label)
	}); err != nil {
		return "", fmt.Errorf("failed to complete task: %w", err)
	}
	return "task completed", nil
}
