// Package main runs a single pipeline dispatch tick and prints its result.
// It is meant for cron-style schedulers that prefer a process per tick over
// calling the HTTP trigger.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/phrazzld/resonance/internal/bootstrap"
	"github.com/phrazzld/resonance/internal/config"
	"github.com/phrazzld/resonance/internal/platform/logger"
	"github.com/phrazzld/resonance/internal/task"
)

func main() {
	timeout := flag.Duration("timeout", 55*time.Second, "Time budget for the tick")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *timeout, os.Stdout); err != nil {
		slog.Error("dispatch failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(ctx context.Context, timeout time.Duration, out io.Writer) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	log, err := logger.Setup(cfg.Server)
	if err != nil {
		return fmt.Errorf("failed to set up logger: %w", err)
	}
	if err := bootstrap.CheckTickBudget(cfg, timeout); err != nil {
		return fmt.Errorf("invalid -timeout: %w", err)
	}

	components, err := bootstrap.Build(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := components.Close(); err != nil {
			log.Error("error closing database connection", slog.String("error", err.Error()))
		}
	}()

	return tick(ctx, components.Dispatcher, timeout, out)
}

// tick runs one dispatch within timeout and writes the result as JSON. A
// unit that was cut short still prints its result; only a tick without a
// result is an error.
func tick(ctx context.Context, ticker task.Ticker, timeout time.Duration, out io.Writer) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	res, err := ticker.Dispatch(ctx)
	if err != nil && res.Message == "" {
		return err
	}

	enc := json.NewEncoder(out)
	if encErr := enc.Encode(res); encErr != nil {
		return fmt.Errorf("failed to write result: %w", encErr)
	}
	return nil
}
