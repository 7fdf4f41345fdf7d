package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/phrazzld/casequeue/internal/config"
	"github.com/phrazzld/casequeue/internal/events"
	"github.com/phrazzld/casequeue/internal/lifecycle"
	"github.com/phrazzld/casequeue/internal/platform/logger"
	"github.com/phrazzld/casequeue/internal/platform/memory"
	"github.com/phrazzld/casequeue/internal/platform/postgres"
	"github.com/phrazzld/casequeue/internal/store"
	"github.com/phrazzld/casequeue/internal/sweeper"
)

// application holds the shared dependencies of every subcommand and
// releases them on cleanup.
type application struct {
	config *config.Config
	logger *slog.Logger

	// db is nil when the memory store is selected.
	db *sql.DB
	tx store.Transactor

	emitter *events.InMemoryEventEmitter
	engine  *lifecycle.Engine
	sweeper *sweeper.Sweeper
}

// setupAppLogger configures the process logger from the server settings.
func setupAppLogger(cfg *config.Config) (*slog.Logger, error) {
	l, err := logger.Setup(logger.LoggerConfig{Level: cfg.Server.LogLevel})
	if err != nil {
		return nil, fmt.Errorf("failed to set up logger: %w", err)
	}
	return l, nil
}

// newApplication opens the configured store and builds the engine and
// sweeper on top of it.
func newApplication(ctx context.Context, cfg *config.Config, log *slog.Logger) (*application, error) {
	app := &application{
		config: cfg,
		logger: log,
	}

	switch cfg.Store.Driver {
	case config.StoreDriverPostgres:
		db, err := postgres.Open(ctx, cfg.Database, log)
		if err != nil {
			return nil, err
		}
		app.db = db
		app.tx = postgres.NewTransactor(db, log)
	case config.StoreDriverMemory:
		log.Warn("using the in-memory store; tasks are lost on restart")
		app.tx = memory.NewStore(log)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}

	app.emitter = events.NewInMemoryEventEmitter(log)
	app.emitter.RegisterHandler(events.NewLoggingHandler(log))

	app.engine = lifecycle.NewEngine(app.tx, app.emitter, lifecycle.Config{
		ReserveNextMax: cfg.Engine.ReserveNextMax,
	}, log)

	targets, err := cfg.Sweeper.EscalationTargets()
	if err != nil {
		app.cleanup()
		return nil, fmt.Errorf("invalid sweeper escalations: %w", err)
	}
	app.sweeper = sweeper.New(app.engine, sweeper.Config{
		Interval:          cfg.Sweeper.Interval,
		BatchSize:         cfg.Sweeper.BatchSize,
		MaxRuns:           cfg.Sweeper.MaxRuns,
		EscalationTargets: targets,
		ReopenDeferred:    cfg.Sweeper.ReopenDeferred,
	}, log)

	log.Info("application initialized",
		slog.String("store", cfg.Store.Driver),
		slog.Bool("sweeper_enabled", cfg.Sweeper.Enabled))
	return app, nil
}

// cleanup releases the database connection, if any.
func (app *application) cleanup() {
	if app.db != nil {
		if err := app.db.Close(); err != nil {
			app.logger.Error("error closing database connection", slog.String("error", err.Error()))
		}
	}
}
