// Package bootstrap assembles the pipeline from configuration. The HTTP server
// and the one-shot dispatch command both build on it.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/phrazzld/resonance/internal/analysis"
	"github.com/phrazzld/resonance/internal/config"
	"github.com/phrazzld/resonance/internal/generation"
	"github.com/phrazzld/resonance/internal/platform/llm"
	"github.com/phrazzld/resonance/internal/service"
	"github.com/phrazzld/resonance/internal/store"
	"github.com/phrazzld/resonance/internal/task"
)

// Components holds the assembled pipeline and the resources it owns.
type Components struct {
	Config     *config.Config
	Logger     *slog.Logger
	Store      store.TaskStore
	Locks      *task.LockManager
	Dispatcher *task.Dispatcher
	Tasks      service.TaskService

	closeStore func() error
}

type buildOptions struct {
	generator generation.Generator
	store     store.TaskStore
}

// Option customizes Build.
type Option func(*buildOptions)

// WithGenerator replaces the provider generator built from cfg.LLM.
func WithGenerator(g generation.Generator) Option {
	return func(o *buildOptions) { o.generator = g }
}

// WithStore replaces the store opened from cfg.Database. The caller keeps
// ownership of its connections.
func WithStore(s store.TaskStore) Option {
	return func(o *buildOptions) { o.store = s }
}

// Build opens the task store and wires the lock manager, analyzer,
// dispatcher and task service. Call Close when done.
func Build(ctx context.Context, cfg *config.Config, log *slog.Logger, opts ...Option) (*Components, error) {
	if cfg == nil {
		return nil, errors.New("config cannot be nil")
	}
	if log == nil {
		log = slog.Default()
	}
	var o buildOptions
	for _, opt := range opts {
		opt(&o)
	}

	mode, err := task.ParseExecutionMode(cfg.Pipeline.ExecutionMode)
	if err != nil {
		return nil, err
	}

	generator := o.generator
	if generator == nil {
		g, err := llm.NewGenerator(ctx, cfg.LLM, log)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize generator: %w", err)
		}
		generator = g
	}

	analysisOpts := analysis.DefaultOptions()
	analysisOpts.MaxOutlineItems = cfg.Pipeline.MaxOutlineItems
	analysisOpts.HighPerformerLimit = cfg.Pipeline.HighPerformerLimit
	analyzer, err := analysis.NewAnalyzer(generator, analysisOpts, log)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize analyzer: %w", err)
	}

	c := &Components{Config: cfg, Logger: log, Store: o.store}
	if c.Store == nil {
		s, closeStore, err := openTaskStore(ctx, cfg.Database, log)
		if err != nil {
			return nil, err
		}
		c.Store = s
		c.closeStore = closeStore
	}

	c.Locks = task.NewLockManager(c.Store, log)
	c.Dispatcher = task.NewDispatcher(c.Store, c.Locks, analyzer, log,
		task.WithExecutionMode(mode),
		task.WithLockTimeout(cfg.Pipeline.LockTimeout),
		task.WithCandidateLimit(cfg.Pipeline.CandidateLimit),
		task.WithMaxInterruptions(cfg.Pipeline.MaxInterruptions),
	)

	c.Tasks, err = service.NewTaskService(c.Store, c.Locks, validateDataset, cfg.Pipeline.TopicBatchSize, log)
	if err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("failed to initialize task service: %w", err)
	}

	log.Info("pipeline initialized",
		slog.String("execution_mode", string(mode)),
		slog.Duration("lock_timeout", cfg.Pipeline.LockTimeout),
		slog.Int("topic_batch_size", cfg.Pipeline.TopicBatchSize),
		slog.Int("candidate_limit", cfg.Pipeline.CandidateLimit))
	return c, nil
}

// Close releases the store connections opened by Build.
func (c *Components) Close() error {
	if c.closeStore == nil {
		return nil
	}
	closeStore := c.closeStore
	c.closeStore = nil
	if err := closeStore(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}

// CheckTickBudget fails when a tick of budget cannot fit one unit of the
// configured execution mode, given the LLM request timeout. Such a tick
// would cut off the same unit every time.
func CheckTickBudget(cfg *config.Config, budget time.Duration) error {
	mode, err := task.ParseExecutionMode(cfg.Pipeline.ExecutionMode)
	if err != nil {
		return err
	}
	return task.CheckTickBudget(budget, cfg.LLM.RequestTimeout, mode)
}

func validateDataset(data []byte) error {
	_, err := analysis.ParseDataset(data)
	return err
}
