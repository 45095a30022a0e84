// Package app wires configuration, telemetry, the database handle and the
// schema manager for one queryengine invocation.
package app

import (
	"context"
	"fmt"
	"sync"

	"queryengine/internal/config"
	"queryengine/internal/logging"
	"queryengine/internal/observability"
	"queryengine/internal/planner"
	"queryengine/internal/schema"
	"queryengine/internal/schemarefresh"
)

// App owns the runtime resources of one command execution. Init acquires
// them and Shutdown releases them.
type App struct {
	cfg    *config.Config
	logger *logging.Logger
	limits planner.Limits
	target databaseTarget

	stateMu        sync.Mutex
	initialized    bool
	loggerProvider *observability.LoggerProvider
	engineMetrics  *observability.EngineMetrics
	manager        *schemarefresh.Manager
	cleanup        cleanupStack

	shutdownOnce sync.Once
	shutdownErr  error
}

// New validates that the database name can be settled when the schema comes
// from a database. Nothing is opened until Init.
func New(cfg *config.Config, logger *logging.Logger) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	a := &App{cfg: cfg, logger: logger, limits: cfg.Engine.Limits()}
	if cfg.Schema.Source == config.SourceDatabase {
		target, err := resolveDatabaseTarget(cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve effective database configuration: %w", err)
		}
		a.target = target
	}
	return a, nil
}

// AttachLoggerProvider hands the OTLP log provider from InitLogger to the
// App so Shutdown flushes it last.
func (a *App) AttachLoggerProvider(provider *observability.LoggerProvider) {
	a.stateMu.Lock()
	defer a.stateMu.Unlock()
	a.loggerProvider = provider
}

// Init starts telemetry, connects to the database when the schema comes
// from one, and loads the first schema snapshot. Calling it again is a
// no-op. On failure everything acquired so far is released.
func (a *App) Init(ctx context.Context) (err error) {
	a.stateMu.Lock()
	done, provider := a.initialized, a.loggerProvider
	a.stateMu.Unlock()
	if done {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}

	var cleanup cleanupStack
	defer func() {
		if err != nil {
			_ = cleanup.run(context.Background(), a.logger)
		}
	}()

	if provider != nil {
		cleanup.push("logger provider", func(ctx context.Context) error {
			return provider.Shutdown(ctx, a.logger.Logger)
		})
	}

	tel, err := startTelemetry(a.cfg, a.logger, &cleanup)
	if err != nil {
		return err
	}

	db, err := a.openDatabase(ctx, &cleanup)
	if err != nil {
		return err
	}

	manager, err := newSchemaManager(ctx, a.cfg, a.logger, db, tel.refresh, a.target.name)
	if err != nil {
		return fmt.Errorf("failed to load schema: %w", err)
	}

	a.stateMu.Lock()
	a.engineMetrics = tel.engine
	a.manager = manager
	a.cleanup = cleanup
	a.initialized = true
	a.stateMu.Unlock()
	return nil
}

// Logger returns the application logger.
func (a *App) Logger() *logging.Logger { return a.logger }

// Config returns the loaded configuration.
func (a *App) Config() *config.Config { return a.cfg }

// Limits returns the planner limits derived from engine configuration.
func (a *App) Limits() planner.Limits { return a.limits }

// Graph returns the active schema graph, or nil before Init.
func (a *App) Graph() *schema.Graph {
	if m := a.Schema(); m != nil {
		return m.Store().Load()
	}
	return nil
}

// Schema returns the schema manager, or nil before Init.
func (a *App) Schema() *schemarefresh.Manager {
	a.stateMu.Lock()
	defer a.stateMu.Unlock()
	return a.manager
}

// Context returns ctx carrying the logger and, when metrics are enabled,
// the engine metrics.
func (a *App) Context(ctx context.Context) context.Context {
	ctx = logging.WithLogger(ctx, a.logger)
	a.stateMu.Lock()
	metrics := a.engineMetrics
	a.stateMu.Unlock()
	if metrics != nil {
		ctx = observability.ContextWithEngineMetrics(ctx, metrics)
	}
	return ctx
}
