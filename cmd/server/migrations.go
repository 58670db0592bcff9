package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/phrazzld/resonance/internal/bootstrap"
	"github.com/phrazzld/resonance/internal/config"
	"github.com/phrazzld/resonance/internal/platform/postgres"
)

// handleMigrations executes a goose command against the configured
// Postgres database. The sqlite store manages its own schema.
func handleMigrations(ctx context.Context, cfg *config.Config, command string, log *slog.Logger) error {
	if cfg.Database.Driver != config.DriverPostgres {
		return fmt.Errorf("migrations are only supported for the %s driver, got %q",
			config.DriverPostgres, cfg.Database.Driver)
	}

	db, err := bootstrap.OpenPostgres(ctx, cfg.Database, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Error("error closing database connection", slog.String("error", err.Error()))
		}
	}()

	return postgres.Migrate(ctx, db, command, log)
}
