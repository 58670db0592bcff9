package analysis

import (
	"fmt"
	"math"

	"github.com/phrazzld/resonance/internal/domain"
)

const (
	histogramBins = 10
	maxTopPosts   = 10
)

// Chart identifiers.
const (
	ChartEngagementHistogram = "engagement_histogram"
	ChartTopPosts            = "top_posts"
	ChartPostingHours        = "posting_hours"
)

// BuildCharts derives chart specifications from the dataset and the finished
// report. It makes no generator calls.
func (a *Analyzer) BuildCharts(source []byte, report *domain.Report) ([]domain.ChartSpec, error) {
	if report == nil {
		return nil, fmt.Errorf("%w: report", ErrMissingInput)
	}
	ds, err := ParseDataset(source)
	if err != nil {
		return nil, err
	}

	timing := report.Insights.Timing
	if timing == nil {
		timing = TimingPatterns(report.HighPerformers)
	}

	return []domain.ChartSpec{
		engagementHistogram(ds.Rates()),
		topPosts(report.HighPerformers),
		postingHours(timing),
	}, nil
}

func engagementHistogram(rates []float64) domain.ChartSpec {
	spec := domain.ChartSpec{
		ID:     ChartEngagementHistogram,
		Type:   "histogram",
		Title:  "Engagement rate distribution",
		Labels: []string{},
		Values: []float64{},
	}
	if len(rates) == 0 {
		return spec
	}

	maxRate := 0.0
	for _, r := range rates {
		maxRate = math.Max(maxRate, r)
	}
	if maxRate == 0 {
		spec.Labels = append(spec.Labels, "0.000")
		spec.Values = append(spec.Values, float64(len(rates)))
		return spec
	}

	width := maxRate / histogramBins
	counts := make([]float64, histogramBins)
	for _, r := range rates {
		bin := int(r / width)
		if bin >= histogramBins {
			bin = histogramBins - 1
		}
		counts[bin]++
	}
	for i := 0; i < histogramBins; i++ {
		spec.Labels = append(spec.Labels, fmt.Sprintf("%.3f-%.3f", float64(i)*width, float64(i+1)*width))
	}
	spec.Values = counts
	return spec
}

func topPosts(items []domain.ScoredItem) domain.ChartSpec {
	spec := domain.ChartSpec{
		ID:     ChartTopPosts,
		Type:   "bar",
		Title:  "Top performing posts",
		Labels: []string{},
		Values: []float64{},
	}
	for _, item := range topN(items, maxTopPosts) {
		label := item.Title
		if label == "" {
			label = item.ID
		}
		spec.Labels = append(spec.Labels, label)
		spec.Values = append(spec.Values, item.EngagementRate)
	}
	return spec
}

func postingHours(timing *domain.TimingInsights) domain.ChartSpec {
	spec := domain.ChartSpec{
		ID:     ChartPostingHours,
		Type:   "bar",
		Title:  "High performers by posting hour (UTC)",
		Labels: make([]string, 24),
		Values: make([]float64, 24),
	}
	for h := 0; h < 24; h++ {
		spec.Labels[h] = fmt.Sprintf("%02d", h)
		spec.Values[h] = float64(timing.HourCounts[h])
	}
	return spec
}
