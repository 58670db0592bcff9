package generation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/phrazzld/resonance/internal/config"
	"github.com/phrazzld/resonance/internal/platform/logger"
	"github.com/sethvargo/go-retry"
)

// RetryPolicy bounds how RetryingGenerator retries transient failures.
type RetryPolicy struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int
	// BaseDelay is the wait before the second attempt; it doubles per attempt.
	BaseDelay time.Duration
	// MaxDelay caps a single wait. Zero means no cap.
	MaxDelay time.Duration
	// JitterPercent spreads each wait by up to +/- this percentage.
	JitterPercent uint64
}

// DefaultRetryPolicy returns the policy used when none is configured.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:   4,
		BaseDelay:     2 * time.Second,
		MaxDelay:      30 * time.Second,
		JitterPercent: 20,
	}
}

// PolicyFromConfig derives a RetryPolicy from LLM settings.
func PolicyFromConfig(cfg config.LLMConfig) RetryPolicy {
	return RetryPolicy{
		MaxAttempts:   cfg.MaxRetries + 1,
		BaseDelay:     time.Duration(cfg.RetryDelaySeconds) * time.Second,
		MaxDelay:      time.Duration(cfg.MaxDelaySeconds) * time.Second,
		JitterPercent: 20,
	}
}

// Backoff returns a fresh backoff for one Generate call. It stops after
// MaxAttempts-1 retries.
func (p RetryPolicy) Backoff() retry.Backoff {
	var b retry.Backoff
	if p.BaseDelay > 0 {
		b = retry.NewExponential(p.BaseDelay)
		if p.JitterPercent > 0 {
			b = retry.WithJitterPercent(min(p.JitterPercent, 100), b)
		}
		if p.MaxDelay > 0 {
			b = retry.WithCappedDuration(p.MaxDelay, b)
		}
	} else {
		b = retry.BackoffFunc(func() (time.Duration, bool) { return 0, false })
	}

	retries := 0
	if p.MaxAttempts > 1 {
		retries = p.MaxAttempts - 1
	}
	return retry.WithMaxRetries(uint64(retries), b)
}

// RetryingGenerator implements Generator on top of a Completer.
type RetryingGenerator struct {
	completer      Completer
	policy         RetryPolicy
	logger         *slog.Logger
	defaultTimeout time.Duration
	maxPromptBytes int
	maxTokens      int
	newBackoff     func() retry.Backoff
}

// Option configures a RetryingGenerator.
type Option func(*RetryingGenerator)

// WithDefaultTimeout sets the timeout used by requests that carry none. It
// bounds all attempts of a call together.
func WithDefaultTimeout(d time.Duration) Option {
	return func(g *RetryingGenerator) { g.defaultTimeout = d }
}

// WithMaxPromptBytes sets the prompt size bound. Values below one keep the
// default.
func WithMaxPromptBytes(n int) Option {
	return func(g *RetryingGenerator) {
		if n > 0 {
			g.maxPromptBytes = n
		}
	}
}

// WithMaxOutputTokens sets the default output token budget.
func WithMaxOutputTokens(n int) Option {
	return func(g *RetryingGenerator) { g.maxTokens = n }
}

// WithBackoff replaces the policy's backoff, for tests.
func WithBackoff(newBackoff func() retry.Backoff) Option {
	return func(g *RetryingGenerator) { g.newBackoff = newBackoff }
}

// NewRetryingGenerator wraps completer with policy.
func NewRetryingGenerator(
	completer Completer,
	policy RetryPolicy,
	log *slog.Logger,
	opts ...Option,
) (*RetryingGenerator, error) {
	if completer == nil {
		return nil, fmt.Errorf("%w: completer cannot be nil", ErrInvalidConfig)
	}
	if policy.MaxAttempts < 1 {
		return nil, fmt.Errorf("%w: max attempts must be at least 1", ErrInvalidConfig)
	}
	if log == nil {
		log = slog.Default()
	}

	g := &RetryingGenerator{
		completer:      completer,
		policy:         policy,
		logger:         log.With(slog.String("component", "generator"), slog.String("provider", completer.Name())),
		defaultTimeout: 45 * time.Second,
		maxPromptBytes: DefaultMaxPromptBytes,
		maxTokens:      4096,
		newBackoff:     policy.Backoff,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

var _ Generator = (*RetryingGenerator)(nil)

// Generate assembles the prompt and calls the provider, retrying transient
// failures with exponential backoff until the policy or the timeout is
// exhausted.
func (g *RetryingGenerator) Generate(ctx context.Context, req Request) (string, error) {
	prompt, err := BuildPrompt(req, g.maxPromptBytes)
	if err != nil {
		return "", err
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = g.defaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	maxTokens := req.MaxOutputTokens
	if maxTokens <= 0 {
		maxTokens = g.maxTokens
	}

	log := logger.FromContextOrDefault(ctx, g.logger).With(slog.String("operation", req.Operation))

	var (
		attempts int
		lastErr  error
	)
	backoff := g.newBackoff()
	logged := retry.BackoffFunc(func() (time.Duration, bool) {
		delay, stop := backoff.Next()
		if !stop {
			log.Info("transient generation error, retrying",
				slog.Int("attempt", attempts),
				slog.Duration("delay", delay),
				slog.String("error", lastErr.Error()))
		}
		return delay, stop
	})

	text, err := retry.DoValue(ctx, logged, func(ctx context.Context) (string, error) {
		attempts++
		text, err := g.completer.Complete(ctx, prompt, maxTokens)
		if err == nil {
			return text, nil
		}
		lastErr = err
		if !IsRetryable(err) {
			return "", err
		}
		return "", retry.RetryableError(err)
	})
	if err == nil {
		log.Debug("generation succeeded",
			slog.Int("attempt", attempts),
			slog.Int("response_length", len(text)))
		return text, nil
	}

	switch {
	case lastErr == nil:
		return "", fmt.Errorf("%w: %s: %w", ErrGenerationFailed, req.Operation, err)
	case !IsRetryable(lastErr):
		log.Warn("permanent generation error, not retrying",
			slog.Int("attempt", attempts),
			slog.String("error", lastErr.Error()))
		return "", fmt.Errorf("%w: %s: %w", ErrGenerationFailed, req.Operation, lastErr)
	case ctx.Err() != nil:
		log.Warn("generation ran out of time",
			slog.Int("attempts", attempts),
			slog.String("error", lastErr.Error()))
		return "", fmt.Errorf("%w: %s: %w", ErrGenerationFailed, req.Operation, lastErr)
	default:
		log.Warn("generation retries exhausted", slog.Int("max_attempts", g.policy.MaxAttempts))
		return "", fmt.Errorf("%w: %s: exceeded %d attempts: %w",
			ErrGenerationFailed, req.Operation, attempts, lastErr)
	}
}

// IsRetryable reports whether err is worth another attempt: transient
// provider errors, rate limits, server errors and network timeouts.
// Cancellation of the caller's context is never retried.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, ErrContentBlocked) || errors.Is(err, ErrInvalidConfig) || errors.Is(err, ErrRequestRejected) {
		return false
	}
	if errors.Is(err, ErrTransientFailure) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, marker := range []string{"billing", "payment", "credits", "quota exceeded", "402"} {
		if strings.Contains(msg, marker) {
			return false
		}
	}
	for _, marker := range []string{
		"rate limit", "too many requests", "429", "overloaded",
		"500", "502", "503", "504",
		"internal server error", "bad gateway", "service unavailable",
		"gateway timeout", "temporarily unavailable", "connection reset",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
