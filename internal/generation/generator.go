package generation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// DefaultMaxPromptBytes bounds the assembled prompt.
const DefaultMaxPromptBytes = 48 * 1024

// Request is a bounded prompt plus the structured context it refers to.
type Request struct {
	// Operation names the request in logs, e.g. "topic_outline".
	Operation string
	// Prompt holds the instructions.
	Prompt string
	// Context is serialized as JSON and appended to the prompt. Optional.
	Context any
	// Timeout bounds the whole call including retries. Zero uses the
	// generator's default.
	Timeout time.Duration
	// MaxOutputTokens overrides the provider default when positive.
	MaxOutputTokens int
}

// Generator turns a Request into raw model text.
type Generator interface {
	Generate(ctx context.Context, req Request) (string, error)
}

// Completer makes a single attempt against one provider. Implementations
// wrap retryable failures with ErrTransientFailure and safety refusals with
// ErrContentBlocked.
type Completer interface {
	Complete(ctx context.Context, prompt string, maxOutputTokens int) (string, error)
	Name() string
}

// BuildPrompt assembles the provider prompt from a request.
func BuildPrompt(req Request, maxBytes int) (string, error) {
	if req.Prompt == "" {
		return "", fmt.Errorf("%w: empty prompt", ErrInvalidConfig)
	}

	var buf bytes.Buffer
	buf.WriteString(req.Prompt)

	if req.Context != nil {
		data, err := json.MarshalIndent(req.Context, "", "  ")
		if err != nil {
			return "", fmt.Errorf("failed to encode prompt context: %w", err)
		}
		buf.WriteString("\n\nContext (JSON):\n")
		buf.Write(data)
	}

	if maxBytes > 0 && buf.Len() > maxBytes {
		return "", fmt.Errorf("%w: %d > %d bytes", ErrPromptTooLarge, buf.Len(), maxBytes)
	}

	return buf.String(), nil
}
