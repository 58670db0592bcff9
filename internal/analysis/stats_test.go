package analysis

import (
	"testing"
	"time"

	"github.com/phrazzld/resonance/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatsCalculator_Compute(t *testing.T) {
	t.Parallel()

	ds, err := ParseDataset([]byte(sampleDataset))
	require.NoError(t, err)

	st, err := NewStatsCalculator().Compute(ds.Rates())
	require.NoError(t, err)

	assert.Equal(t, 5, st.SampleSize)
	assert.InDelta(t, 0.058, st.Median, 1e-9)
	assert.InDelta(t, 0.02925, st.MAD, 1e-9)
	assert.GreaterOrEqual(t, st.Threshold, st.P90)
	assert.Greater(t, st.Threshold, 0.16)
	assert.LessOrEqual(t, st.Threshold, 0.25)
}

func TestStatsCalculator_Edges(t *testing.T) {
	t.Parallel()

	calc := NewStatsCalculator()

	_, err := calc.Compute(nil)
	assert.ErrorIs(t, err, ErrEmptySample)

	single, err := calc.Compute([]float64{0.3})
	require.NoError(t, err)
	assert.InDelta(t, 0.3, single.Threshold, 1e-9)

	flat, err := calc.Compute([]float64{1, 1, 1, 1, 1, 1, 1, 1, 1, 10})
	require.NoError(t, err)
	assert.InDelta(t, 1, flat.Threshold, 1e-9, "zero MAD keeps the threshold at the percentile")

	capped, err := calc.Compute([]float64{0, 0, 0, 0.5})
	require.NoError(t, err)
	assert.LessOrEqual(t, capped.Threshold, 0.5)
}

func TestSelectHighPerformers(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	scored := []domain.ScoredItem{
		{ID: "a", EngagementRate: 0.9, PublishedAt: now},
		{ID: "b", EngagementRate: 0.5, PublishedAt: now},
		{ID: "c", EngagementRate: 0.5, PublishedAt: now},
		{ID: "d", EngagementRate: 0.1, PublishedAt: now},
	}

	got := SelectHighPerformers(scored, 0.5, 0)
	assert.Len(t, got, 3)

	limited := SelectHighPerformers(scored, 0.5, 2)
	require.Len(t, limited, 2)
	assert.Equal(t, "b", limited[1].ID)

	assert.Empty(t, SelectHighPerformers(scored, 1.0, 0))
}

func TestTimingPatterns(t *testing.T) {
	t.Parallel()

	at := func(s string) time.Time {
		ts, err := time.Parse(time.RFC3339, s)
		require.NoError(t, err)
		return ts
	}
	items := []domain.ScoredItem{
		{ID: "a", PublishedAt: at("2025-01-06T18:00:00Z")},
		{ID: "b", PublishedAt: at("2025-01-13T18:45:00Z")},
		{ID: "c", PublishedAt: at("2025-01-08T09:00:00Z")},
		{ID: "d", PublishedAt: at("2025-01-08T20:00:00+02:00")},
	}

	timing := TimingPatterns(items)
	assert.Equal(t, []int{18, 9}, timing.BestHours)
	assert.Equal(t, []string{"Monday", "Wednesday"}, timing.BestWeekdays)
	assert.Equal(t, 3, timing.HourCounts[18])

	empty := TimingPatterns(nil)
	assert.Empty(t, empty.BestHours)
	assert.Empty(t, empty.BestWeekdays)
}
