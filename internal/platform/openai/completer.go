// Package openai provides a generation.Completer backed by the OpenAI chat
// completions API.
package openai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	sdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
	"github.com/phrazzld/resonance/internal/config"
	"github.com/phrazzld/resonance/internal/generation"
)

// DefaultModel is used when no model is configured.
const DefaultModel = "gpt-4o-mini"

const systemPrompt = "You are a social media analyst. Respond with a single JSON document and nothing else."

// Completer implements generation.Completer using OpenAI chat completions.
type Completer struct {
	client *sdk.Client
	model  string
	logger *slog.Logger
}

var _ generation.Completer = (*Completer)(nil)

// NewCompleter creates an OpenAI completer. SDK retries are disabled since
// the generation layer owns retry policy.
func NewCompleter(cfg config.LLMConfig, logger *slog.Logger, opts ...option.RequestOption) (*Completer, error) {
	if cfg.OpenAIAPIKey == "" {
		return nil, fmt.Errorf("%w: openai API key cannot be empty", generation.ErrInvalidConfig)
	}
	if logger == nil {
		logger = slog.Default()
	}

	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}

	opts = append([]option.RequestOption{
		option.WithAPIKey(cfg.OpenAIAPIKey),
		option.WithMaxRetries(0),
	}, opts...)
	client := sdk.NewClient(opts...)

	return &Completer{
		client: &client,
		model:  model,
		logger: logger.With(slog.String("component", "openai_completer")),
	}, nil
}

// Name returns the provider name.
func (c *Completer) Name() string { return config.ProviderOpenAI }

// Complete sends prompt as a single user message and returns the reply.
func (c *Completer) Complete(ctx context.Context, prompt string, maxOutputTokens int) (string, error) {
	params := sdk.ChatCompletionNewParams{
		Model: shared.ChatModel(c.model),
		Messages: []sdk.ChatCompletionMessageParamUnion{
			sdk.SystemMessage(systemPrompt),
			sdk.UserMessage(prompt),
		},
	}
	if maxOutputTokens > 0 {
		params.MaxCompletionTokens = sdk.Int(int64(maxOutputTokens))
	}

	resp, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", classifyError(err)
	}

	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: no choices", generation.ErrInvalidResponse)
	}
	choice := resp.Choices[0]
	if choice.FinishReason == "content_filter" || choice.Message.Refusal != "" {
		return "", fmt.Errorf("%w: openai refused the request", generation.ErrContentBlocked)
	}
	if strings.TrimSpace(choice.Message.Content) == "" {
		c.logger.WarnContext(ctx, "empty OpenAI completion", slog.String("finish_reason", choice.FinishReason))
		return "", fmt.Errorf("%w: empty content", generation.ErrInvalidResponse)
	}

	return choice.Message.Content, nil
}

func classifyError(err error) error {
	var apiErr *sdk.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == http.StatusTooManyRequests && !strings.Contains(strings.ToLower(apiErr.Error()), "quota"):
			return fmt.Errorf("%w: openai: %v", generation.ErrTransientFailure, err)
		case apiErr.StatusCode >= http.StatusInternalServerError:
			return fmt.Errorf("%w: openai: %v", generation.ErrTransientFailure, err)
		default:
			return fmt.Errorf("%w: openai: status %d: %v", generation.ErrRequestRejected, apiErr.StatusCode, err)
		}
	}
	if generation.IsRetryable(err) {
		return fmt.Errorf("%w: openai: %v", generation.ErrTransientFailure, err)
	}
	return fmt.Errorf("openai: %w", err)
}
