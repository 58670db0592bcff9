package domain

import "fmt"

// Phase names a unit of pipeline work that owns a pair of progress milestones.
type Phase string

// Pipeline phases in execution order.
const (
	PhaseParseDataset         Phase = "parse_dataset"
	PhaseComputeThreshold     Phase = "compute_threshold"
	PhaseSelectHighPerformers Phase = "select_high_performers"
	PhaseContentPatterns      Phase = "content_patterns"
	PhaseTimingPatterns       Phase = "timing_patterns"
	PhaseExecutiveSummary     Phase = "executive_summary"
	PhaseTopicOutline         Phase = "topic_outline"
	PhaseTopicDetails         Phase = "topic_details"
	PhaseCharts               Phase = "charts"
	PhaseComplete             Phase = "complete"
)

// Milestone is the progress reported when a phase starts and once its result
// has been persisted.
type Milestone struct {
	Start    int
	Complete int
	Label    string
}

// milestones is the only place progress percentages are defined. Each phase
// starts strictly after the previous one completed.
var milestones = map[Phase]Milestone{
	PhaseParseDataset:         {Start: 2, Complete: 8, Label: "Parsing dataset"},
	PhaseComputeThreshold:     {Start: 10, Complete: 16, Label: "Calculating engagement threshold"},
	PhaseSelectHighPerformers: {Start: 18, Complete: 22, Label: "Selecting high performers"},
	PhaseContentPatterns:      {Start: 24, Complete: 34, Label: "Analyzing content patterns"},
	PhaseTimingPatterns:       {Start: 36, Complete: 40, Label: "Analyzing posting times"},
	PhaseExecutiveSummary:     {Start: 42, Complete: 50, Label: "Writing executive summary"},
	PhaseTopicOutline:         {Start: 52, Complete: 58, Label: "Generating topic outline"},
	PhaseTopicDetails:         {Start: 60, Complete: 90, Label: "Generating topic details"},
	PhaseCharts:               {Start: 92, Complete: 98, Label: "Building charts"},
	PhaseComplete:             {Start: 100, Complete: 100, Label: "Completed"},
}

// AnalysisPhases maps the analysis step cursor to the phase it runs.
// Index i is executed when the cursor is i; afterwards the cursor is i+1.
var AnalysisPhases = [AnalysisStepCount]Phase{
	PhaseParseDataset,
	PhaseComputeThreshold,
	PhaseSelectHighPerformers,
	PhaseContentPatterns,
	PhaseTimingPatterns,
	PhaseExecutiveSummary,
}

// MilestoneFor returns the milestones of phase. It panics on an unknown
// phase since phases are compile-time constants.
func MilestoneFor(phase Phase) Milestone {
	m, ok := milestones[phase]
	if !ok {
		panic(fmt.Sprintf("domain: no milestone for phase %q", phase))
	}
	return m
}

// AnalysisPhase returns the phase executed at analysis cursor step.
func AnalysisPhase(step int) (Phase, error) {
	if step < 0 || step >= AnalysisStepCount {
		return "", fmt.Errorf("%w: %d", ErrInvalidAnalysisStep, step)
	}
	return AnalysisPhases[step], nil
}

// ValidateMonotonic rejects a progress write that moves backwards or leaves
// the 0..100 range.
func ValidateMonotonic(current, next int) error {
	if next < 0 || next > 100 {
		return fmt.Errorf("%w: %d", ErrProgressOutOfRange, next)
	}
	if next < current {
		return fmt.Errorf("%w: %d -> %d", ErrProgressRegression, current, next)
	}
	return nil
}

// BatchProgress returns the progress after completed of total equal batches
// spread over [start, end]. Flooring keeps every intermediate batch below
// end and lands the final batch exactly on it.
func BatchProgress(start, end, completed, total int) int {
	if total <= 0 || completed >= total {
		return end
	}
	if completed <= 0 {
		return start
	}
	return start + (completed*(end-start))/total
}

// Advance raises progress to next, refusing regressions. It is the only way
// pipeline code moves progress forward.
func (t *AnalysisTask) Advance(next int, label string) error {
	if err := ValidateMonotonic(t.Progress, next); err != nil {
		return err
	}
	t.Progress = next
	if label != "" {
		t.CurrentStepLabel = label
	}
	return nil
}

// StartPhase records the phase-start milestone.
func (t *AnalysisTask) StartPhase(phase Phase) error {
	m := MilestoneFor(phase)
	return t.Advance(m.Start, m.Label)
}

// CompletePhase records the phase-complete milestone.
func (t *AnalysisTask) CompletePhase(phase Phase) error {
	m := MilestoneFor(phase)
	return t.Advance(m.Complete, m.Label)
}
