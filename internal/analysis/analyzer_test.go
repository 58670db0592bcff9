package analysis

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/phrazzld/resonance/internal/domain"
	"github.com/phrazzld/resonance/internal/generation"
	"github.com/phrazzld/resonance/internal/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func cannedGenerator() *mocks.MockGenerator {
	return &mocks.MockGenerator{
		Responses: map[string]string{
			OpContentPatterns:  "```json\n{\"patterns\": [\"customer voices\", \"behind the scenes\",]}\n```",
			OpExecutiveSummary: `{"summary": "Customer stories outperform everything else."}`,
			OpTopicOutline: `{"topics": [
				{"title": "Customer day in the life", "angle": "customer voices"},
				{"title": "customer day in the life", "angle": "duplicate"},
				{"title": "Studio tour", "angle": "behind the scenes"},
				{"title": "Founder Q&A", "angle": "authenticity"}
			]}`,
		},
	}
}

func newTestAnalyzer(t *testing.T, gen generation.Generator, opts Options) *Analyzer {
	t.Helper()
	a, err := NewAnalyzer(gen, opts, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	return a
}

func runAllPhases(t *testing.T, a *Analyzer) *domain.Report {
	t.Helper()
	report := &domain.Report{}
	for _, phase := range domain.AnalysisPhases {
		require.NoError(t, a.RunPhase(context.Background(), phase, []byte(sampleDataset), report), phase)
	}
	return report
}

func TestAnalyzer_RunPhases(t *testing.T) {
	t.Parallel()

	gen := cannedGenerator()
	a := newTestAnalyzer(t, gen, Options{})
	report := runAllPhases(t, a)

	require.NotNil(t, report.Dataset)
	assert.Equal(t, 5, report.Dataset.ItemCount)
	require.NotNil(t, report.Statistics)
	require.Len(t, report.HighPerformers, 1)
	assert.Equal(t, "p3", report.HighPerformers[0].ID)
	assert.Equal(t, []string{"customer voices", "behind the scenes"}, report.Insights.Patterns)
	require.NotNil(t, report.Insights.Timing)
	assert.Equal(t, []int{18}, report.Insights.Timing.BestHours)
	assert.Equal(t, "Customer stories outperform everything else.", report.Insights.Summary)

	assert.Equal(t, 1, gen.CallCount(OpContentPatterns))
	assert.Equal(t, 1, gen.CallCount(OpExecutiveSummary))
}

func TestAnalyzer_RunPhase_IsRepeatable(t *testing.T) {
	t.Parallel()

	a := newTestAnalyzer(t, cannedGenerator(), Options{})
	report := runAllPhases(t, a)
	before, err := report.Encode()
	require.NoError(t, err)

	require.NoError(t, a.RunPhase(context.Background(), domain.PhaseSelectHighPerformers, []byte(sampleDataset), report))
	after, err := report.Encode()
	require.NoError(t, err)
	assert.JSONEq(t, string(before), string(after))
}

func TestAnalyzer_RunPhase_Errors(t *testing.T) {
	t.Parallel()

	a := newTestAnalyzer(t, cannedGenerator(), Options{})
	ctx := context.Background()

	err := a.RunPhase(ctx, domain.PhaseSelectHighPerformers, []byte(sampleDataset), &domain.Report{})
	assert.ErrorIs(t, err, ErrMissingInput)

	err = a.RunPhase(ctx, domain.PhaseTopicOutline, []byte(sampleDataset), &domain.Report{})
	assert.ErrorIs(t, err, ErrUnknownPhase)

	err = a.RunPhase(ctx, domain.PhaseParseDataset, []byte(`{"items": []}`), &domain.Report{})
	assert.ErrorIs(t, err, ErrInvalidDataset)
}

func TestAnalyzer_RunPhase_GeneratorFailure(t *testing.T) {
	t.Parallel()

	boom := errors.New("provider down")
	gen := cannedGenerator()
	gen.Errs = map[string]error{OpContentPatterns: boom}
	a := newTestAnalyzer(t, gen, Options{})

	report := &domain.Report{}
	for _, phase := range domain.AnalysisPhases[:3] {
		require.NoError(t, a.RunPhase(context.Background(), phase, []byte(sampleDataset), report))
	}
	err := a.RunPhase(context.Background(), domain.PhaseContentPatterns, []byte(sampleDataset), report)
	assert.ErrorIs(t, err, boom)
	assert.Empty(t, report.Insights.Patterns)
}

func TestAnalyzer_RunPhase_RejectsInvalidOutput(t *testing.T) {
	t.Parallel()

	gen := cannedGenerator()
	gen.Responses[OpContentPatterns] = `{"patterns": []}`
	a := newTestAnalyzer(t, gen, Options{})

	report := &domain.Report{}
	for _, phase := range domain.AnalysisPhases[:3] {
		require.NoError(t, a.RunPhase(context.Background(), phase, []byte(sampleDataset), report))
	}
	err := a.RunPhase(context.Background(), domain.PhaseContentPatterns, []byte(sampleDataset), report)
	assert.ErrorIs(t, err, generation.ErrInvalidResponse)
}

func TestAnalyzer_GenerateOutline(t *testing.T) {
	t.Parallel()

	a := newTestAnalyzer(t, cannedGenerator(), Options{MaxOutlineItems: 2})
	report := runAllPhases(t, a)

	items, err := a.GenerateOutline(context.Background(), report)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, domain.OutlineItem{Index: 0, Title: "Customer day in the life", Angle: "customer voices"}, items[0])
	assert.Equal(t, domain.OutlineItem{Index: 1, Title: "Studio tour", Angle: "behind the scenes"}, items[1])

	_, err = a.GenerateOutline(context.Background(), &domain.Report{})
	assert.ErrorIs(t, err, ErrMissingInput)
}

func TestAnalyzer_GenerateOutline_Empty(t *testing.T) {
	t.Parallel()

	gen := cannedGenerator()
	gen.Responses[OpTopicOutline] = `{"topics": []}`
	a := newTestAnalyzer(t, gen, Options{})
	report := runAllPhases(t, a)

	items, err := a.GenerateOutline(context.Background(), report)
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestAnalyzer_GenerateDetails(t *testing.T) {
	t.Parallel()

	gen := cannedGenerator()
	gen.Responses[OpTopicDetails] = `{"details": [
		{"index": 4, "body": "Film one customer for a day.", "hooks": ["What does a day with us look like?"]},
		{"index": 3, "title": "Studio tour, annotated", "body": "Walk through the studio."}
	]}`
	a := newTestAnalyzer(t, gen, Options{})
	report := runAllPhases(t, a)

	items := []domain.OutlineItem{
		{Index: 3, Title: "Studio tour"},
		{Index: 4, Title: "Customer day"},
	}
	details, err := a.GenerateDetails(context.Background(), report, items)
	require.NoError(t, err)
	require.Len(t, details, 2)
	assert.Equal(t, 3, details[0].Index)
	assert.Equal(t, "Studio tour, annotated", details[0].Title)
	assert.Equal(t, 4, details[1].Index)
	assert.Equal(t, "Customer day", details[1].Title)
	assert.Equal(t, []string{"What does a day with us look like?"}, details[1].Hooks)
	assert.False(t, details[1].Placeholder)
}

func TestAnalyzer_GenerateDetails_Incomplete(t *testing.T) {
	t.Parallel()

	gen := cannedGenerator()
	gen.Responses[OpTopicDetails] = `{"details": [{"index": 0, "body": "only one"}]}`
	a := newTestAnalyzer(t, gen, Options{})

	_, err := a.GenerateDetails(context.Background(), &domain.Report{}, []domain.OutlineItem{
		{Index: 0, Title: "a"},
		{Index: 1, Title: "b"},
	})
	assert.ErrorIs(t, err, generation.ErrInvalidResponse)
	assert.ErrorIs(t, err, ErrIncompleteDetails)

	none, err := a.GenerateDetails(context.Background(), &domain.Report{}, nil)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestAnalyzer_BuildCharts(t *testing.T) {
	t.Parallel()

	a := newTestAnalyzer(t, cannedGenerator(), Options{})
	report := runAllPhases(t, a)

	charts, err := a.BuildCharts([]byte(sampleDataset), report)
	require.NoError(t, err)
	require.Len(t, charts, 3)

	hist := charts[0]
	assert.Equal(t, ChartEngagementHistogram, hist.ID)
	require.Len(t, hist.Values, histogramBins)
	total := 0.0
	for _, v := range hist.Values {
		total += v
	}
	assert.Equal(t, 5.0, total)
	assert.Equal(t, 1.0, hist.Values[histogramBins-1], "the best item lands in the last bin")

	top := charts[1]
	assert.Equal(t, ChartTopPosts, top.ID)
	assert.Equal(t, []string{"Customer story"}, top.Labels)

	hours := charts[2]
	assert.Equal(t, ChartPostingHours, hours.ID)
	require.Len(t, hours.Values, 24)
	assert.Equal(t, "18", hours.Labels[18])
	assert.Equal(t, 1.0, hours.Values[18])
}

func TestNewAnalyzer_RequiresGenerator(t *testing.T) {
	t.Parallel()

	_, err := NewAnalyzer(nil, Options{}, nil)
	assert.Error(t, err)
}
