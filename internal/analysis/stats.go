package analysis

import (
	"errors"
	"fmt"
	"math"

	"github.com/montanaflynn/stats"
	"github.com/phrazzld/resonance/internal/domain"
)

// ErrEmptySample is returned when a statistic is requested over no values.
var ErrEmptySample = errors.New("empty sample")

// madScale makes the median absolute deviation consistent with the standard
// deviation of a normal distribution.
const madScale = 1.4826

// StatsCalculator computes the engagement threshold that separates high
// performers from the rest of a dataset.
type StatsCalculator struct {
	// Deviations is the number of scaled MADs above the median the
	// threshold sits at.
	Deviations float64
	// Percentile is the floor of the threshold, e.g. 90.
	Percentile float64
}

// NewStatsCalculator returns a calculator with threshold
// max(median + 2·MAD, p90).
func NewStatsCalculator() StatsCalculator {
	return StatsCalculator{Deviations: 2, Percentile: 90}
}

// Compute returns summary statistics of rates. The threshold is capped at
// the largest rate so at least one item always qualifies.
func (c StatsCalculator) Compute(rates []float64) (domain.EngagementStats, error) {
	if len(rates) == 0 {
		return domain.EngagementStats{}, ErrEmptySample
	}
	data := stats.Float64Data(rates)

	mean, err := stats.Mean(data)
	if err != nil {
		return domain.EngagementStats{}, fmt.Errorf("mean: %w", err)
	}
	median, err := stats.Median(data)
	if err != nil {
		return domain.EngagementStats{}, fmt.Errorf("median: %w", err)
	}
	mad, err := stats.MedianAbsoluteDeviation(data)
	if err != nil {
		return domain.EngagementStats{}, fmt.Errorf("median absolute deviation: %w", err)
	}
	maxRate, err := stats.Max(data)
	if err != nil {
		return domain.EngagementStats{}, fmt.Errorf("max: %w", err)
	}

	// Percentile is undefined for very small samples; fall back to the max.
	p, err := stats.Percentile(data, c.Percentile)
	if err != nil || math.IsNaN(p) {
		p = maxRate
	}

	threshold := math.Max(median+c.Deviations*madScale*mad, p)
	if threshold > maxRate {
		threshold = maxRate
	}

	return domain.EngagementStats{
		SampleSize: len(rates),
		Mean:       mean,
		Median:     median,
		P90:        p,
		MAD:        mad,
		Threshold:  threshold,
	}, nil
}

// SelectHighPerformers returns the items of scored (best first) at or above
// threshold, at most limit of them. A non-positive limit means no limit.
func SelectHighPerformers(scored []domain.ScoredItem, threshold float64, limit int) []domain.ScoredItem {
	out := make([]domain.ScoredItem, 0)
	for _, item := range scored {
		if item.EngagementRate < threshold {
			continue
		}
		out = append(out, item)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}
