package llm

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/phrazzld/resonance/internal/config"
	"github.com/phrazzld/resonance/internal/generation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCompleter_SelectsProvider(t *testing.T) {
	t.Parallel()

	tests := []struct {
		cfg  config.LLMConfig
		name string
	}{
		{cfg: config.LLMConfig{Provider: config.ProviderOpenAI, OpenAIAPIKey: "sk-test"}, name: config.ProviderOpenAI},
		{cfg: config.LLMConfig{Provider: config.ProviderAnthropic, AnthropicAPIKey: "sk-ant"}, name: config.ProviderAnthropic},
		{cfg: config.LLMConfig{Provider: config.ProviderGemini, GeminiAPIKey: "AIza-test"}, name: config.ProviderGemini},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c, err := NewCompleter(context.Background(), tt.cfg, nil)
			require.NoError(t, err)
			assert.Equal(t, tt.name, c.Name())
		})
	}
}

func TestNewCompleter_UnknownProvider(t *testing.T) {
	t.Parallel()

	_, err := NewCompleter(context.Background(), config.LLMConfig{Provider: "mistral"}, nil)
	assert.ErrorIs(t, err, generation.ErrInvalidConfig)
}

func TestNewGenerator(t *testing.T) {
	t.Parallel()

	g, err := NewGenerator(context.Background(), config.LLMConfig{
		Provider:          config.ProviderOpenAI,
		OpenAIAPIKey:      "sk-test",
		MaxOutputTokens:   1024,
		MaxRetries:        2,
		RetryDelaySeconds: 1,
		MaxDelaySeconds:   5,
		RequestTimeout:    30 * time.Second,
		MaxPromptBytes:    64,
	}, nil)
	require.NoError(t, err)
	assert.NotNil(t, g)

	// The configured bound rejects the prompt before any provider call.
	_, err = g.Generate(context.Background(), generation.Request{Prompt: strings.Repeat("x", 65)})
	assert.ErrorIs(t, err, generation.ErrPromptTooLarge)

	_, err = NewGenerator(context.Background(), config.LLMConfig{Provider: config.ProviderOpenAI}, nil)
	assert.ErrorIs(t, err, generation.ErrInvalidConfig)
}
