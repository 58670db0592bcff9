package analysis

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/phrazzld/resonance/internal/domain"
)

// ErrInvalidDataset is returned when source data does not match the dataset
// schema.
var ErrInvalidDataset = errors.New("invalid dataset")

// Item is one published content item of a dataset.
type Item struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Caption     string    `json:"caption,omitempty"`
	Platform    string    `json:"platform,omitempty"`
	PublishedAt time.Time `json:"published_at"`
	Views       float64   `json:"views"`
	Likes       float64   `json:"likes"`
	Comments    float64   `json:"comments"`
	Shares      float64   `json:"shares"`
}

// EngagementRate is interactions per view. Items without views score 0.
func (i Item) EngagementRate() float64 {
	if i.Views <= 0 {
		return 0
	}
	return (i.Likes + i.Comments + i.Shares) / i.Views
}

// Dataset is the parsed source data of a task.
type Dataset struct {
	Items []Item `json:"items"`
}

// ParseDataset validates data against the dataset schema and decodes it.
func ParseDataset(data []byte) (*Dataset, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty source data", ErrInvalidDataset)
	}
	if !json.Valid(data) {
		return nil, fmt.Errorf("%w: source data is not JSON", ErrInvalidDataset)
	}
	if err := validateDocument(schemaDataset, data); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDataset, err)
	}

	var ds Dataset
	if err := json.Unmarshal(data, &ds); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDataset, err)
	}
	return &ds, nil
}

// Summary describes the dataset for the report.
func (d *Dataset) Summary() *domain.DatasetSummary {
	summary := &domain.DatasetSummary{ItemCount: len(d.Items)}

	platforms := make(map[string]struct{})
	for i := range d.Items {
		item := d.Items[i]
		if item.Platform != "" {
			platforms[item.Platform] = struct{}{}
		}
		published := item.PublishedAt.UTC()
		if summary.From == nil || published.Before(*summary.From) {
			summary.From = &published
		}
		if summary.To == nil || published.After(*summary.To) {
			summary.To = &published
		}
	}

	for p := range platforms {
		summary.Platforms = append(summary.Platforms, p)
	}
	sort.Strings(summary.Platforms)
	return summary
}

// Rates returns the engagement rate of every item, in dataset order.
func (d *Dataset) Rates() []float64 {
	rates := make([]float64, len(d.Items))
	for i, item := range d.Items {
		rates[i] = item.EngagementRate()
	}
	return rates
}

// Scored returns every item with its engagement rate, best first. Ties keep
// the older item first.
func (d *Dataset) Scored() []domain.ScoredItem {
	scored := make([]domain.ScoredItem, 0, len(d.Items))
	for _, item := range d.Items {
		scored = append(scored, domain.ScoredItem{
			ID:             item.ID,
			Title:          item.Title,
			Platform:       item.Platform,
			EngagementRate: item.EngagementRate(),
			PublishedAt:    item.PublishedAt.UTC(),
		})
	}
	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].EngagementRate != scored[j].EngagementRate {
			return scored[i].EngagementRate > scored[j].EngagementRate
		}
		return scored[i].PublishedAt.Before(scored[j].PublishedAt)
	})
	return scored
}
