package analysis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/phrazzld/resonance/internal/domain"
	"github.com/phrazzld/resonance/internal/generation"
	"github.com/phrazzld/resonance/internal/platform/logger"
)

var (
	// ErrUnknownPhase is returned by RunPhase for a phase it does not run.
	ErrUnknownPhase = errors.New("unknown analysis phase")

	// ErrMissingInput is returned when a phase runs before the phase that
	// produces its input was persisted.
	ErrMissingInput = errors.New("missing phase input")

	// ErrIncompleteDetails is returned when generated details do not cover
	// every requested outline item.
	ErrIncompleteDetails = errors.New("generated details are incomplete")
)

// Options tunes the analysis output.
type Options struct {
	MaxOutlineItems    int
	HighPerformerLimit int
	MaxPatterns        int
	SummaryWords       int
}

// DefaultOptions returns the options used when none are configured.
func DefaultOptions() Options {
	return Options{
		MaxOutlineItems:    40,
		HighPerformerLimit: 50,
		MaxPatterns:        8,
		SummaryWords:       200,
	}
}

// Analyzer runs the analysis phases of a task against its dataset and the
// content generator. Every method is a pure function of its inputs and the
// generator, so re-running a phase after a crash is safe.
type Analyzer struct {
	generator generation.Generator
	stats     StatsCalculator
	opts      Options
	logger    *slog.Logger
}

// NewAnalyzer creates an Analyzer. Zero option fields take their defaults.
func NewAnalyzer(generator generation.Generator, opts Options, log *slog.Logger) (*Analyzer, error) {
	if generator == nil {
		return nil, errors.New("generator cannot be nil")
	}
	if log == nil {
		log = slog.Default()
	}

	defaults := DefaultOptions()
	if opts.MaxOutlineItems <= 0 {
		opts.MaxOutlineItems = defaults.MaxOutlineItems
	}
	if opts.HighPerformerLimit <= 0 {
		opts.HighPerformerLimit = defaults.HighPerformerLimit
	}
	if opts.MaxPatterns <= 0 {
		opts.MaxPatterns = defaults.MaxPatterns
	}
	if opts.SummaryWords <= 0 {
		opts.SummaryWords = defaults.SummaryWords
	}

	return &Analyzer{
		generator: generator,
		stats:     NewStatsCalculator(),
		opts:      opts,
		logger:    log.With(slog.String("component", "analyzer")),
	}, nil
}

// RunPhase executes one analysis sub-step and records its output in report.
func (a *Analyzer) RunPhase(ctx context.Context, phase domain.Phase, source []byte, report *domain.Report) error {
	if report == nil {
		return fmt.Errorf("%w: nil report", ErrMissingInput)
	}

	switch phase {
	case domain.PhaseParseDataset:
		ds, err := ParseDataset(source)
		if err != nil {
			return err
		}
		report.Dataset = ds.Summary()
		return nil

	case domain.PhaseComputeThreshold:
		ds, err := ParseDataset(source)
		if err != nil {
			return err
		}
		st, err := a.stats.Compute(ds.Rates())
		if err != nil {
			return fmt.Errorf("failed to compute threshold: %w", err)
		}
		report.Statistics = &st
		return nil

	case domain.PhaseSelectHighPerformers:
		if report.Statistics == nil {
			return fmt.Errorf("%w: statistics", ErrMissingInput)
		}
		ds, err := ParseDataset(source)
		if err != nil {
			return err
		}
		report.HighPerformers = SelectHighPerformers(ds.Scored(), report.Statistics.Threshold, a.opts.HighPerformerLimit)
		return nil

	case domain.PhaseContentPatterns:
		return a.contentPatterns(ctx, report)

	case domain.PhaseTimingPatterns:
		if report.HighPerformers == nil {
			return fmt.Errorf("%w: high performers", ErrMissingInput)
		}
		report.Insights.Timing = TimingPatterns(report.HighPerformers)
		return nil

	case domain.PhaseExecutiveSummary:
		return a.executiveSummary(ctx, report)

	default:
		return fmt.Errorf("%w: %s", ErrUnknownPhase, phase)
	}
}

func (a *Analyzer) contentPatterns(ctx context.Context, report *domain.Report) error {
	if report.Statistics == nil || len(report.HighPerformers) == 0 {
		return fmt.Errorf("%w: high performers", ErrMissingInput)
	}

	prompt, err := renderPrompt(OpContentPatterns, map[string]any{
		"Count":       len(report.HighPerformers),
		"Threshold":   report.Statistics.Threshold,
		"MaxPatterns": a.opts.MaxPatterns,
	})
	if err != nil {
		return err
	}

	var out struct {
		Patterns []string `json:"patterns"`
	}
	if err := a.generate(ctx, generation.Request{
		Operation: OpContentPatterns,
		Prompt:    prompt,
		Context:   map[string]any{"high_performers": report.HighPerformers},
	}, schemaPatterns, &out); err != nil {
		return err
	}

	patterns := make([]string, 0, len(out.Patterns))
	for _, p := range out.Patterns {
		if p = strings.TrimSpace(p); p != "" {
			patterns = append(patterns, p)
		}
		if len(patterns) == a.opts.MaxPatterns {
			break
		}
	}
	report.Insights.Patterns = patterns
	return nil
}

func (a *Analyzer) executiveSummary(ctx context.Context, report *domain.Report) error {
	if report.Dataset == nil || report.Statistics == nil {
		return fmt.Errorf("%w: dataset statistics", ErrMissingInput)
	}

	prompt, err := renderPrompt(OpExecutiveSummary, map[string]any{
		"ItemCount": report.Dataset.ItemCount,
		"Platforms": strings.Join(report.Dataset.Platforms, ", "),
		"MaxWords":  a.opts.SummaryWords,
	})
	if err != nil {
		return err
	}

	var out struct {
		Summary string `json:"summary"`
	}
	if err := a.generate(ctx, generation.Request{
		Operation: OpExecutiveSummary,
		Prompt:    prompt,
		Context: map[string]any{
			"statistics": report.Statistics,
			"patterns":   report.Insights.Patterns,
			"timing":     report.Insights.Timing,
		},
	}, schemaSummary, &out); err != nil {
		return err
	}

	report.Insights.Summary = strings.TrimSpace(out.Summary)
	return nil
}

// GenerateOutline proposes topics from the finished analysis. Items are
// indexed from 0 in the order returned, capped at MaxOutlineItems. An empty
// outline is valid.
func (a *Analyzer) GenerateOutline(ctx context.Context, report *domain.Report) ([]domain.OutlineItem, error) {
	if report == nil || report.Insights.Summary == "" {
		return nil, fmt.Errorf("%w: executive summary", ErrMissingInput)
	}

	prompt, err := renderPrompt(OpTopicOutline, map[string]any{"MaxTopics": a.opts.MaxOutlineItems})
	if err != nil {
		return nil, err
	}

	var out struct {
		Topics []struct {
			Title string `json:"title"`
			Angle string `json:"angle"`
		} `json:"topics"`
	}
	if err := a.generate(ctx, generation.Request{
		Operation: OpTopicOutline,
		Prompt:    prompt,
		Context: map[string]any{
			"summary":         report.Insights.Summary,
			"patterns":        report.Insights.Patterns,
			"timing":          report.Insights.Timing,
			"high_performers": topN(report.HighPerformers, 10),
		},
	}, schemaOutline, &out); err != nil {
		return nil, err
	}

	items := make([]domain.OutlineItem, 0, len(out.Topics))
	seen := make(map[string]struct{}, len(out.Topics))
	for _, topic := range out.Topics {
		title := strings.TrimSpace(topic.Title)
		key := strings.ToLower(title)
		if _, dup := seen[key]; dup || title == "" {
			continue
		}
		seen[key] = struct{}{}
		items = append(items, domain.OutlineItem{
			Index: len(items),
			Title: title,
			Angle: strings.TrimSpace(topic.Angle),
		})
		if len(items) == a.opts.MaxOutlineItems {
			break
		}
	}
	return items, nil
}

// GenerateDetails writes detail content for items. The result has one
// detail per item, in item order, or an error.
func (a *Analyzer) GenerateDetails(
	ctx context.Context,
	report *domain.Report,
	items []domain.OutlineItem,
) ([]domain.TopicDetail, error) {
	if len(items) == 0 {
		return nil, nil
	}
	if report == nil {
		return nil, fmt.Errorf("%w: report", ErrMissingInput)
	}

	prompt, err := renderPrompt(OpTopicDetails, map[string]any{"Count": len(items)})
	if err != nil {
		return nil, err
	}

	var out struct {
		Details []struct {
			Index int      `json:"index"`
			Title string   `json:"title"`
			Body  string   `json:"body"`
			Hooks []string `json:"hooks"`
		} `json:"details"`
	}
	if err := a.generate(ctx, generation.Request{
		Operation: OpTopicDetails,
		Prompt:    prompt,
		Context: map[string]any{
			"topics":   items,
			"summary":  report.Insights.Summary,
			"patterns": report.Insights.Patterns,
		},
	}, schemaDetails, &out); err != nil {
		return nil, err
	}

	byIndex := make(map[int]int, len(out.Details))
	for i, d := range out.Details {
		byIndex[d.Index] = i
	}

	details := make([]domain.TopicDetail, 0, len(items))
	for _, item := range items {
		i, ok := byIndex[item.Index]
		if !ok {
			return nil, fmt.Errorf("%w: %w: no detail for topic %d", generation.ErrInvalidResponse, ErrIncompleteDetails, item.Index)
		}
		d := out.Details[i]
		title := strings.TrimSpace(d.Title)
		if title == "" {
			title = item.Title
		}
		details = append(details, domain.TopicDetail{
			Index: item.Index,
			Title: title,
			Body:  strings.TrimSpace(d.Body),
			Hooks: d.Hooks,
		})
	}
	return details, nil
}

// generate calls the generator and decodes its output into v after repairing
// and validating it against the named schema.
func (a *Analyzer) generate(ctx context.Context, req generation.Request, schema string, v any) error {
	raw, err := a.generator.Generate(ctx, req)
	if err != nil {
		return err
	}

	err = generation.DecodeJSON(raw, v, func(data []byte) error {
		return validateDocument(schema, data)
	})
	if err != nil {
		logger.FromContextOrDefault(ctx, a.logger).Warn("generator output rejected",
			slog.String("operation", req.Operation),
			slog.Int("response_length", len(raw)),
			slog.String("error", err.Error()))
		return err
	}
	return nil
}

func topN(items []domain.ScoredItem, n int) []domain.ScoredItem {
	if len(items) > n {
		return items[:n]
	}
	return items
}
