package task

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/phrazzld/resonance/internal/domain"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeClock is a manually advanced clock.
type fakeClock struct {
	t time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time { return c.t }

func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

const testDataset = `{
  "items": [
    {"id": "p1", "title": "Behind the scenes", "platform": "instagram", "published_at": "2025-01-06T18:00:00Z", "views": 1000, "likes": 120, "comments": 30, "shares": 10},
    {"id": "p2", "title": "Product teaser", "platform": "instagram", "published_at": "2025-01-07T09:00:00Z", "views": 800, "likes": 20, "comments": 2, "shares": 1},
    {"id": "p3", "title": "Customer story", "platform": "tiktok", "published_at": "2025-01-08T18:30:00Z", "views": 5000, "likes": 900, "comments": 200, "shares": 150},
    {"id": "p4", "title": "Weekly tips", "platform": "tiktok", "published_at": "2025-01-09T12:00:00Z", "views": 2000, "likes": 60, "comments": 5, "shares": 4},
    {"id": "p5", "title": "Team intro", "platform": "instagram", "published_at": "2025-01-10T19:00:00Z", "views": 1500, "likes": 75, "comments": 10, "shares": 2}
  ]
}`

// seedTask stores a new queued task and returns it.
func seedTask(t *testing.T, s *MockTaskStore, batchSize int) *domain.AnalysisTask {
	t.Helper()
	task, err := domain.NewAnalysisTask("january posts", []byte(testDataset), batchSize)
	require.NoError(t, err)
	require.NoError(t, s.Create(context.Background(), task))
	return task
}

// fakeAnalyzer is a deterministic Analyzer. Each phase writes a small,
// recognisable fragment into the report.
type fakeAnalyzer struct {
	mu sync.Mutex

	outline    []domain.OutlineItem
	phaseErr   map[domain.Phase]error
	outlineErr error
	chartsErr  error
	// detailsFn, when set, replaces the default detail generation.
	detailsFn func(ctx context.Context, items []domain.OutlineItem) ([]domain.TopicDetail, error)
	// onPhase runs before every phase.
	onPhase func(ctx context.Context, phase domain.Phase)

	phases       []domain.Phase
	detailCalls  int
	outlineCalls int
}

var _ Analyzer = (*fakeAnalyzer)(nil)

func newFakeAnalyzer(topics int) *fakeAnalyzer {
	outline := make([]domain.OutlineItem, topics)
	for i := range outline {
		outline[i] = domain.OutlineItem{Index: i, Title: fmt.Sprintf("Topic %d", i), Angle: "angle"}
	}
	return &fakeAnalyzer{outline: outline, phaseErr: map[domain.Phase]error{}}
}

func (f *fakeAnalyzer) RunPhase(ctx context.Context, phase domain.Phase, source []byte, report *domain.Report) error {
	f.mu.Lock()
	f.phases = append(f.phases, phase)
	hook := f.onPhase
	err := f.phaseErr[phase]
	f.mu.Unlock()

	if hook != nil {
		hook(ctx, phase)
	}
	if err != nil {
		return err
	}

	switch phase {
	case domain.PhaseParseDataset:
		report.Dataset = &domain.DatasetSummary{ItemCount: 5}
	case domain.PhaseComputeThreshold:
		report.Statistics = &domain.EngagementStats{SampleSize: 5, Threshold: 0.1}
	case domain.PhaseSelectHighPerformers:
		report.HighPerformers = []domain.ScoredItem{{ID: "p3", EngagementRate: 0.25}}
	case domain.PhaseContentPatterns:
		report.Insights.Patterns = []string{"stories outperform teasers"}
	case domain.PhaseTimingPatterns:
		report.Insights.Timing = &domain.TimingInsights{BestHours: []int{18}, BestWeekdays: []string{"Wednesday"}}
	case domain.PhaseExecutiveSummary:
		report.Insights.Summary = "Customer stories drive engagement."
	}
	return ctx.Err()
}

func (f *fakeAnalyzer) GenerateOutline(ctx context.Context, report *domain.Report) ([]domain.OutlineItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.outlineCalls++
	if f.outlineErr != nil {
		return nil, f.outlineErr
	}
	out := make([]domain.OutlineItem, len(f.outline))
	copy(out, f.outline)
	return out, nil
}

func (f *fakeAnalyzer) GenerateDetails(
	ctx context.Context,
	report *domain.Report,
	items []domain.OutlineItem,
) ([]domain.TopicDetail, error) {
	f.mu.Lock()
	f.detailCalls++
	fn := f.detailsFn
	f.mu.Unlock()

	if fn != nil {
		return fn(ctx, items)
	}
	return fakeDetails(items), nil
}

func (f *fakeAnalyzer) BuildCharts(source []byte, report *domain.Report) ([]domain.ChartSpec, error) {
	if f.chartsErr != nil {
		return nil, f.chartsErr
	}
	return []domain.ChartSpec{{ID: "top_posts", Type: "bar", Title: "Top posts"}}, nil
}

func (f *fakeAnalyzer) Phases() []domain.Phase {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.Phase, len(f.phases))
	copy(out, f.phases)
	return out
}

func fakeDetails(items []domain.OutlineItem) []domain.TopicDetail {
	out := make([]domain.TopicDetail, len(items))
	for i, item := range items {
		out[i] = domain.TopicDetail{Index: item.Index, Title: item.Title, Body: "body for " + item.Title}
	}
	return out
}

// putTask seeds a task in an arbitrary state, bypassing the update path.
func putTask(t *testing.T, s *MockTaskStore, createdAt time.Time, mutate func(*domain.AnalysisTask)) *domain.AnalysisTask {
	t.Helper()
	task, err := domain.NewAnalysisTask("seeded", []byte(testDataset), 10)
	require.NoError(t, err)
	task.CreatedAt = createdAt
	task.UpdatedAt = createdAt
	if mutate != nil {
		mutate(task)
	}
	require.NoError(t, domain.ValidateConsistency(task))
	s.Put(task)
	return task
}

// detailsStepTask returns a mutation that places a task at the start of the
// topic details step with an outline of n items.
func detailsStepTask(t *testing.T, n, batchSize int) func(*domain.AnalysisTask) {
	t.Helper()
	outline := newFakeAnalyzer(n).outline
	outlineData, err := domain.EncodeOutline(outline)
	require.NoError(t, err)
	report := &domain.Report{}
	report.Insights.Summary = "summary"
	report.Topics.Outline = outline
	resultData, err := report.Encode()
	require.NoError(t, err)

	return func(task *domain.AnalysisTask) {
		task.Status = domain.TaskStatusTopicGenerating
		task.SetAnalysisStep(domain.AnalysisStepCount)
		task.SetTopicStep(domain.TopicStepDetails)
		task.TopicBatchSize = batchSize
		task.TopicOutlineData = outlineData
		task.ResultData = resultData
		task.Progress = domain.MilestoneFor(domain.PhaseTopicOutline).Complete
	}
}
