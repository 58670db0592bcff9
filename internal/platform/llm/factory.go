// Package llm selects and assembles the configured content generation
// provider.
package llm

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/phrazzld/resonance/internal/config"
	"github.com/phrazzld/resonance/internal/generation"
	"github.com/phrazzld/resonance/internal/platform/anthropic"
	"github.com/phrazzld/resonance/internal/platform/gemini"
	"github.com/phrazzld/resonance/internal/platform/openai"
)

// NewCompleter returns the single-attempt client for cfg.Provider.
func NewCompleter(ctx context.Context, cfg config.LLMConfig, logger *slog.Logger) (generation.Completer, error) {
	switch cfg.Provider {
	case config.ProviderGemini:
		return gemini.NewCompleter(ctx, cfg, logger)
	case config.ProviderOpenAI:
		return openai.NewCompleter(cfg, logger)
	case config.ProviderAnthropic:
		return anthropic.NewCompleter(cfg, logger)
	default:
		return nil, fmt.Errorf("%w: unknown provider %q", generation.ErrInvalidConfig, cfg.Provider)
	}
}

// NewGenerator wraps the configured provider with the retry policy and
// request bounds from cfg.
func NewGenerator(ctx context.Context, cfg config.LLMConfig, logger *slog.Logger) (*generation.RetryingGenerator, error) {
	completer, err := NewCompleter(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	return generation.NewRetryingGenerator(
		completer,
		generation.PolicyFromConfig(cfg),
		logger,
		generation.WithDefaultTimeout(cfg.RequestTimeout),
		generation.WithMaxOutputTokens(cfg.MaxOutputTokens),
		generation.WithMaxPromptBytes(cfg.MaxPromptBytes),
	)
}
