package domain

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// Report is the output document of an analysis task. It is persisted as the
// task's result data and filled in phase by phase.
type Report struct {
	Dataset        *DatasetSummary  `json:"dataset,omitempty"`
	Statistics     *EngagementStats `json:"statistics,omitempty"`
	HighPerformers []ScoredItem     `json:"high_performers,omitempty"`
	Insights       Insights         `json:"insights"`
	Topics         TopicSection     `json:"topics"`
	Charts         []ChartSpec      `json:"charts,omitempty"`
}

// DatasetSummary describes the parsed input dataset.
type DatasetSummary struct {
	ItemCount int        `json:"item_count"`
	Platforms []string   `json:"platforms,omitempty"`
	From      *time.Time `json:"from,omitempty"`
	To        *time.Time `json:"to,omitempty"`
}

// EngagementStats holds the scalar summaries used to pick the threshold.
type EngagementStats struct {
	SampleSize int     `json:"sample_size"`
	Mean       float64 `json:"mean"`
	Median     float64 `json:"median"`
	P90        float64 `json:"p90"`
	MAD        float64 `json:"mad"`
	Threshold  float64 `json:"threshold"`
}

// ScoredItem is a dataset item with its engagement rate.
type ScoredItem struct {
	ID             string    `json:"id"`
	Title          string    `json:"title"`
	Platform       string    `json:"platform,omitempty"`
	EngagementRate float64   `json:"engagement_rate"`
	PublishedAt    time.Time `json:"published_at"`
}

// Insights collects the generated and computed analysis findings.
type Insights struct {
	Patterns []string        `json:"patterns,omitempty"`
	Timing   *TimingInsights `json:"timing,omitempty"`
	Summary  string          `json:"summary,omitempty"`
}

// TimingInsights describes when high performers were published.
type TimingInsights struct {
	BestHours    []int    `json:"best_hours"`
	BestWeekdays []string `json:"best_weekdays"`
	HourCounts   [24]int  `json:"hour_counts"`
}

// TopicSection holds the topic outline and the detail content generated for it.
type TopicSection struct {
	Outline []OutlineItem `json:"outline,omitempty"`
	Details []TopicDetail `json:"details,omitempty"`
}

// OutlineItem is one topic proposed by the outline phase.
type OutlineItem struct {
	Index int    `json:"index"`
	Title string `json:"title"`
	Angle string `json:"angle"`
}

// TopicDetail is the detail content for one outline item. Placeholder marks
// content substituted after a failed generation batch.
type TopicDetail struct {
	Index       int      `json:"index"`
	Title       string   `json:"title"`
	Body        string   `json:"body"`
	Hooks       []string `json:"hooks,omitempty"`
	Placeholder bool     `json:"placeholder,omitempty"`
}

// ChartSpec is a renderer-agnostic chart description.
type ChartSpec struct {
	ID     string    `json:"id"`
	Type   string    `json:"type"`
	Title  string    `json:"title"`
	Labels []string  `json:"labels"`
	Values []float64 `json:"values"`
}

// DecodeReport parses persisted result data. Empty data yields an empty report.
func DecodeReport(data []byte) (*Report, error) {
	report := &Report{}
	if isEmptyDocument(data) {
		return report, nil
	}
	if err := json.Unmarshal(data, report); err != nil {
		return nil, fmt.Errorf("%w: result data: %v", ErrInvalidFormat, err)
	}
	return report, nil
}

// Encode serializes the report for persistence.
func (r *Report) Encode() ([]byte, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("failed to encode report: %w", err)
	}
	return data, nil
}

// MergeDetails adds details to the report, replacing any detail already
// present for the same outline index. Details stay ordered by index, so
// merging the same batch twice leaves the report unchanged.
func (r *Report) MergeDetails(details []TopicDetail) {
	byIndex := make(map[int]TopicDetail, len(r.Topics.Details)+len(details))
	for _, d := range r.Topics.Details {
		byIndex[d.Index] = d
	}
	for _, d := range details {
		byIndex[d.Index] = d
	}

	merged := make([]TopicDetail, 0, len(byIndex))
	for _, d := range byIndex {
		merged = append(merged, d)
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i].Index < merged[j].Index })
	r.Topics.Details = merged
}

// DecodeOutline parses persisted outline data.
func DecodeOutline(data []byte) ([]OutlineItem, error) {
	if isEmptyDocument(data) {
		return nil, nil
	}
	var items []OutlineItem
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("%w: outline data: %v", ErrInvalidFormat, err)
	}
	return items, nil
}

// EncodeOutline serializes outline items for persistence.
func EncodeOutline(items []OutlineItem) ([]byte, error) {
	if items == nil {
		items = []OutlineItem{}
	}
	data, err := json.Marshal(items)
	if err != nil {
		return nil, fmt.Errorf("failed to encode outline: %w", err)
	}
	return data, nil
}
