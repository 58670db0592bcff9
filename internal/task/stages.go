package task

import (
	"context"

	"github.com/phrazzld/resonance/internal/domain"
)

// AnalysisRunner executes one analysis phase and records its output in
// report. Running the same phase twice on the same input must yield the
// same report.
type AnalysisRunner interface {
	RunPhase(ctx context.Context, phase domain.Phase, source []byte, report *domain.Report) error
}

// OutlineGenerator proposes the topic outline of a finished analysis.
type OutlineGenerator interface {
	GenerateOutline(ctx context.Context, report *domain.Report) ([]domain.OutlineItem, error)
}

// DetailGenerator writes detail content for a slice of outline items. On
// success it returns exactly one detail per item.
type DetailGenerator interface {
	GenerateDetails(ctx context.Context, report *domain.Report, items []domain.OutlineItem) ([]domain.TopicDetail, error)
}

// ChartBuilder derives chart specifications from the dataset and report.
type ChartBuilder interface {
	BuildCharts(source []byte, report *domain.Report) ([]domain.ChartSpec, error)
}

// Analyzer is everything the dispatcher needs to run a task's phases.
type Analyzer interface {
	AnalysisRunner
	OutlineGenerator
	DetailGenerator
	ChartBuilder
}
