package task

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultTickTimeout bounds a single in-process dispatch tick.
const DefaultTickTimeout = 2 * time.Minute

// Ticker runs one dispatch cycle. *Dispatcher implements it.
type Ticker interface {
	Dispatch(ctx context.Context) (DispatchResult, error)
}

// Scheduler triggers dispatch ticks on a cron schedule inside the server
// process. It is an alternative to an external trigger calling the dispatch
// endpoint; both may run at once since the task lock serializes the work.
type Scheduler struct {
	cron        *cron.Cron
	ticker      Ticker
	logger      *slog.Logger
	tickTimeout time.Duration

	ctx        context.Context
	cancelFunc context.CancelFunc
	mu         sync.Mutex
	running    bool
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithTickTimeout bounds each tick.
func WithTickTimeout(timeout time.Duration) SchedulerOption {
	return func(s *Scheduler) { s.tickTimeout = timeout }
}

// NewScheduler creates a Scheduler that calls ticker on spec, a standard
// five-field cron expression or a descriptor such as "@every 30s".
// Overlapping ticks are skipped rather than queued.
func NewScheduler(ticker Ticker, spec string, log *slog.Logger, opts ...SchedulerOption) (*Scheduler, error) {
	if log == nil {
		log = slog.Default()
	}
	log = log.With(slog.String("component", "scheduler"))

	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		ticker:      ticker,
		logger:      log,
		tickTimeout: DefaultTickTimeout,
		ctx:         ctx,
		cancelFunc:  cancel,
	}
	for _, opt := range opts {
		opt(s)
	}

	cronLog := cronLogger{log}
	s.cron = cron.New(
		cron.WithLogger(cronLog),
		cron.WithChain(cron.Recover(cronLog), cron.SkipIfStillRunning(cronLog)),
	)
	if _, err := s.cron.AddFunc(spec, func() { s.Tick() }); err != nil {
		cancel()
		return nil, fmt.Errorf("invalid tick schedule %q: %w", spec, err)
	}
	return s, nil
}

// Start begins scheduling ticks. It is a no-op when already running.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	s.cron.Start()
	s.logger.Info("dispatch scheduler started")
}

// Stop cancels an in-flight tick and waits for it to return or for ctx to
// expire.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.mu.Unlock()

	s.cancelFunc()
	done := s.cron.Stop().Done()
	select {
	case <-done:
		s.logger.Info("dispatch scheduler stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("scheduler did not stop in time: %w", ctx.Err())
	}
}

// Tick runs one dispatch cycle under the tick timeout and logs its outcome.
func (s *Scheduler) Tick() DispatchResult {
	ctx, cancel := context.WithTimeout(s.ctx, s.tickTimeout)
	defer cancel()

	start := time.Now()
	res, err := s.ticker.Dispatch(ctx)
	attrs := []any{
		slog.Bool("processing", res.Processing),
		slog.String("message", res.Message),
		slog.Duration("duration", time.Since(start)),
	}
	if res.TaskID != nil {
		attrs = append(attrs, slog.String("task_id", res.TaskID.String()))
	}

	if err != nil {
		s.logger.Error("dispatch tick failed", append(attrs, slog.String("error", err.Error()))...)
		return res
	}
	s.logger.Debug("dispatch tick finished", attrs...)
	return res
}

// cronLogger adapts slog to the cron.Logger interface.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error(msg, append(keysAndValues, "error", err)...)
}
