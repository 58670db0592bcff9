// Package anthropic provides a generation.Completer backed by the Anthropic
// Messages API.
package anthropic

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/phrazzld/resonance/internal/config"
	"github.com/phrazzld/resonance/internal/generation"
)

// DefaultModel is used when no model is configured.
const DefaultModel = "claude-3-5-haiku-latest"

// defaultMaxTokens is sent when the caller passes no budget; the Messages
// API requires one.
const defaultMaxTokens = 4096

const systemPrompt = "You are a social media analyst. Respond with a single JSON document and nothing else."

// Completer implements generation.Completer using the Messages API.
type Completer struct {
	client *sdk.Client
	model  string
	logger *slog.Logger
}

var _ generation.Completer = (*Completer)(nil)

// NewCompleter creates an Anthropic completer. SDK retries are disabled
// since the generation layer owns retry policy.
func NewCompleter(cfg config.LLMConfig, logger *slog.Logger, opts ...option.RequestOption) (*Completer, error) {
	if cfg.AnthropicAPIKey == "" {
		return nil, fmt.Errorf("%w: anthropic API key cannot be empty", generation.ErrInvalidConfig)
	}
	if logger == nil {
		logger = slog.Default()
	}

	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}

	opts = append([]option.RequestOption{
		option.WithAPIKey(cfg.AnthropicAPIKey),
		option.WithMaxRetries(0),
	}, opts...)
	client := sdk.NewClient(opts...)

	return &Completer{
		client: &client,
		model:  model,
		logger: logger.With(slog.String("component", "anthropic_completer")),
	}, nil
}

// Name returns the provider name.
func (c *Completer) Name() string { return config.ProviderAnthropic }

// Complete sends prompt as a single user turn and returns the text blocks of
// the reply.
func (c *Completer) Complete(ctx context.Context, prompt string, maxOutputTokens int) (string, error) {
	if maxOutputTokens <= 0 {
		maxOutputTokens = defaultMaxTokens
	}

	resp, err := c.client.Messages.New(ctx, sdk.MessageNewParams{
		Model:     sdk.Model(c.model),
		MaxTokens: int64(maxOutputTokens),
		System:    []sdk.TextBlockParam{{Text: systemPrompt}},
		Messages: []sdk.MessageParam{
			sdk.NewUserMessage(sdk.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return "", classifyError(err)
	}

	if string(resp.StopReason) == "refusal" {
		return "", fmt.Errorf("%w: anthropic refused the request", generation.ErrContentBlocked)
	}

	var sb strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	if strings.TrimSpace(sb.String()) == "" {
		c.logger.WarnContext(ctx, "empty Anthropic response", slog.String("stop_reason", string(resp.StopReason)))
		return "", fmt.Errorf("%w: empty content", generation.ErrInvalidResponse)
	}

	return sb.String(), nil
}

func classifyError(err error) error {
	var apiErr *sdk.Error
	if errors.As(err, &apiErr) {
		// 529 is Anthropic's overloaded status.
		if apiErr.StatusCode == http.StatusTooManyRequests || apiErr.StatusCode >= http.StatusInternalServerError {
			return fmt.Errorf("%w: anthropic: %v", generation.ErrTransientFailure, err)
		}
		return fmt.Errorf("%w: anthropic: status %d: %v", generation.ErrRequestRejected, apiErr.StatusCode, err)
	}
	if generation.IsRetryable(err) {
		return fmt.Errorf("%w: anthropic: %v", generation.ErrTransientFailure, err)
	}
	return fmt.Errorf("anthropic: %w", err)
}
