package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReportMergeDetails(t *testing.T) {
	t.Parallel()

	report := &Report{}
	report.MergeDetails([]TopicDetail{{Index: 2, Title: "c"}, {Index: 0, Title: "a"}})
	report.MergeDetails([]TopicDetail{{Index: 1, Title: "b"}})
	require.Len(t, report.Topics.Details, 3)
	assert.Equal(t, "a", report.Topics.Details[0].Title)
	assert.Equal(t, "b", report.Topics.Details[1].Title)
	assert.Equal(t, "c", report.Topics.Details[2].Title)

	// merging a batch again replaces instead of duplicating
	report.MergeDetails([]TopicDetail{{Index: 1, Title: "b2"}})
	require.Len(t, report.Topics.Details, 3)
	assert.Equal(t, "b2", report.Topics.Details[1].Title)
}

func TestDecodeReport(t *testing.T) {
	t.Parallel()

	empty, err := DecodeReport(nil)
	require.NoError(t, err)
	assert.Empty(t, empty.Topics.Details)

	report := &Report{Insights: Insights{Summary: "short videos win"}}
	data, err := report.Encode()
	require.NoError(t, err)

	decoded, err := DecodeReport(data)
	require.NoError(t, err)
	assert.Equal(t, "short videos win", decoded.Insights.Summary)

	_, err = DecodeReport([]byte(`{"insights":`))
	assert.ErrorIs(t, err, ErrInvalidFormat)
}

func TestOutlineRoundTrip(t *testing.T) {
	t.Parallel()

	data, err := EncodeOutline(nil)
	require.NoError(t, err)
	assert.JSONEq(t, `[]`, string(data))

	items, err := DecodeOutline([]byte(`[{"index":0,"title":"Hooks","angle":"first 3 seconds"}]`))
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "Hooks", items[0].Title)
}
