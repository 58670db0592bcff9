package analysis

import (
	"sort"
	"time"

	"github.com/phrazzld/resonance/internal/domain"
)

const bestSlots = 3

// TimingPatterns counts when high performers were published (UTC) and
// returns the busiest hours and weekdays, most frequent first.
func TimingPatterns(items []domain.ScoredItem) *domain.TimingInsights {
	insights := &domain.TimingInsights{
		BestHours:    []int{},
		BestWeekdays: []string{},
	}

	var weekdayCounts [7]int
	for _, item := range items {
		published := item.PublishedAt.UTC()
		insights.HourCounts[published.Hour()]++
		weekdayCounts[published.Weekday()]++
	}

	insights.BestHours = append(insights.BestHours, topSlots(insights.HourCounts[:], bestSlots)...)
	for _, day := range topSlots(weekdayCounts[:], bestSlots) {
		insights.BestWeekdays = append(insights.BestWeekdays, time.Weekday(day).String())
	}
	return insights
}

// topSlots returns up to n indexes with a non-zero count, highest count
// first and lower index first on ties.
func topSlots(counts []int, n int) []int {
	idx := make([]int, 0, len(counts))
	for i, c := range counts {
		if c > 0 {
			idx = append(idx, i)
		}
	}
	sort.SliceStable(idx, func(a, b int) bool { return counts[idx[a]] > counts[idx[b]] })
	if len(idx) > n {
		idx = idx[:n]
	}
	return idx
}
