package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	// Register the pgx driver with database/sql.
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/phrazzld/resonance/internal/config"
	"github.com/phrazzld/resonance/internal/platform/postgres"
	"github.com/phrazzld/resonance/internal/platform/sqlite"
	"github.com/phrazzld/resonance/internal/store"
)

const pingTimeout = 5 * time.Second

// OpenPostgres opens a pgx-backed pool, applies the pool settings from cfg
// and verifies the connection.
func OpenPostgres(ctx context.Context, cfg config.DatabaseConfig, log *slog.Logger) (*sql.DB, error) {
	db, err := sql.Open("pgx", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	log.Info("database connection established",
		slog.String("driver", cfg.Driver),
		slog.Int("max_open_conns", cfg.MaxOpenConns))
	return db, nil
}

// openTaskStore returns the task store for cfg.Driver and a function that
// releases its connections.
func openTaskStore(
	ctx context.Context,
	cfg config.DatabaseConfig,
	log *slog.Logger,
) (store.TaskStore, func() error, error) {
	switch cfg.Driver {
	case config.DriverPostgres:
		db, err := OpenPostgres(ctx, cfg, log)
		if err != nil {
			return nil, nil, err
		}
		if cfg.AutoMigrate {
			if err := postgres.Migrate(ctx, db, postgres.MigrateUp, log); err != nil {
				_ = db.Close()
				return nil, nil, err
			}
		}
		return postgres.NewTaskStore(db, log), db.Close, nil

	case config.DriverSQLite:
		gdb, err := sqlite.Open(cfg.URL)
		if err != nil {
			return nil, nil, err
		}
		sqlDB, err := gdb.DB()
		if err != nil {
			return nil, nil, fmt.Errorf("failed to access sqlite connection: %w", err)
		}
		s := sqlite.NewTaskStore(gdb, log)
		// The sqlite schema is derived from the record type, so it is
		// always brought up to date.
		if err := s.Migrate(ctx); err != nil {
			_ = sqlDB.Close()
			return nil, nil, err
		}
		log.Info("database connection established", slog.String("driver", cfg.Driver))
		return s, sqlDB.Close, nil

	default:
		return nil, nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}
