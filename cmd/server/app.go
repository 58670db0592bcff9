package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/phrazzld/resonance/internal/bootstrap"
	"github.com/phrazzld/resonance/internal/config"
	"github.com/phrazzld/resonance/internal/service"
	"github.com/phrazzld/resonance/internal/service/auth"
	"github.com/phrazzld/resonance/internal/task"
)

// application holds all the shared application dependencies to simplify management
// and ensure proper cleanup on shutdown.
type application struct {
	config *config.Config
	logger *slog.Logger

	// Pipeline components and the store connections they own
	components *bootstrap.Components

	// Service interfaces
	jwtService  auth.JWTService
	taskService service.TaskService
	dispatcher  task.Ticker

	// Optional in-process ticks; nil when only the external trigger is used
	scheduler *task.Scheduler
}

// newApplication creates a new application instance with all dependencies initialized.
func newApplication(
	ctx context.Context,
	cfg *config.Config,
	logger *slog.Logger,
	opts ...bootstrap.Option,
) (*application, error) {
	jwtService, err := auth.NewJWTService(cfg.Auth)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize JWT service: %w", err)
	}
	logger.Info("JWT authentication service initialized",
		slog.String("issuer", cfg.Auth.TokenIssuer),
		slog.Int("token_lifetime_minutes", cfg.Auth.TokenLifetimeMinutes))

	components, err := bootstrap.Build(ctx, cfg, logger, opts...)
	if err != nil {
		return nil, err
	}

	app := &application{
		config:      cfg,
		logger:      logger,
		components:  components,
		jwtService:  jwtService,
		taskService: components.Tasks,
		dispatcher:  components.Dispatcher,
	}

	if cfg.Pipeline.TickSchedule != "" {
		tickTimeout := cfg.Pipeline.TickTimeout
		if tickTimeout <= 0 {
			tickTimeout = task.DefaultTickTimeout
		}
		if err := bootstrap.CheckTickBudget(cfg, tickTimeout); err != nil {
			app.cleanup()
			return nil, fmt.Errorf("invalid tick_timeout: %w", err)
		}
		app.scheduler, err = task.NewScheduler(app.dispatcher, cfg.Pipeline.TickSchedule, logger,
			task.WithTickTimeout(tickTimeout))
		if err != nil {
			app.cleanup()
			return nil, err
		}
		logger.Info("in-process dispatch ticks enabled",
			slog.String("schedule", cfg.Pipeline.TickSchedule),
			slog.Duration("tick_timeout", tickTimeout))
	}

	logger.Info("application initialized successfully")
	return app, nil
}

// Run starts the application server, handling lifecycle and cleanup.
// It returns an error if the server fails to start or encounters problems.
func (app *application) Run(ctx context.Context) error {
	router := app.setupRouter()

	if err := app.startHTTPServer(ctx, router); err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// cleanup handles graceful shutdown of application resources.
func (app *application) cleanup() {
	if app.components != nil {
		if err := app.components.Close(); err != nil {
			app.logger.Error("error closing database connection", slog.String("error", err.Error()))
		}
	}

	app.logger.Info("application shutdown completed")
}
