package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/XSAM/otelsql"
	_ "github.com/go-sql-driver/mysql"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"queryengine/internal/config"
	"queryengine/internal/logging"
	"queryengine/internal/observability"
	"queryengine/internal/schemarefresh"
)

// databaseTarget is the database a database-sourced schema is read from.
type databaseTarget struct {
	name       string
	source     string // setting that supplied name
	dsnPresent bool
}

func resolveDatabaseTarget(cfg config.DatabaseConfig) (databaseTarget, error) {
	name, source, err := cfg.EffectiveDatabaseName()
	if err != nil {
		return databaseTarget{}, err
	}
	return databaseTarget{
		name:       name,
		source:     source,
		dsnPresent: strings.TrimSpace(cfg.ConnectionString) != "",
	}, nil
}

// openDatabase connects when the schema source is a database and returns
// nil otherwise. The handle is wrapped by otelsql so introspection queries
// are traced and pool statistics exported when telemetry is enabled.
func (a *App) openDatabase(ctx context.Context, cleanup *cleanupStack) (*sql.DB, error) {
	if a.cfg.Schema.Source != config.SourceDatabase {
		return nil, nil
	}
	dbCfg, obs := a.cfg.Database, a.cfg.Observability
	a.logger.Info("connecting to database",
		slog.String("host", dbCfg.Host),
		slog.Int("port", dbCfg.Port),
		slog.String("database_effective", a.target.name),
		slog.String("database_source", a.target.source),
		slog.Bool("dsn_present", a.target.dsnPresent),
	)

	dsn, err := dbCfg.DSN()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	attrs := otelsql.WithAttributes(semconv.DBSystemMySQL)
	db, err := otelsql.Open("mysql", dsn, attrs, otelsql.WithSpanOptions(otelsql.SpanOptions{DisableErrSkip: true}))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	var stats interface{ Unregister() error }
	if obs.MetricsEnabled {
		if stats, err = otelsql.RegisterDBStatsMetrics(db, attrs); err != nil {
			a.logger.Warn("failed to register DB stats metrics", slog.String("error", err.Error()))
		}
	}
	cleanup.push("database", func(context.Context) error {
		if stats != nil {
			if err := stats.Unregister(); err != nil {
				a.logger.Warn("failed to unregister DB stats metrics", slog.String("error", err.Error()))
			}
		}
		return db.Close()
	})

	db.SetMaxOpenConns(dbCfg.Pool.MaxOpen)
	db.SetMaxIdleConns(dbCfg.Pool.MaxIdle)
	db.SetConnMaxLifetime(dbCfg.Pool.MaxLifetime)
	if err := ping(ctx, db, dbCfg.ConnectionTimeout); err != nil {
		return nil, fmt.Errorf("failed to verify database connection: %w", err)
	}

	a.logger.Info("connected to database",
		slog.String("database_effective", a.target.name),
		slog.String("database_source", a.target.source),
		slog.Int("pool_max_open", dbCfg.Pool.MaxOpen),
		slog.Bool("instrumented", obs.MetricsEnabled || obs.TracingEnabled),
	)
	return db, nil
}

func ping(ctx context.Context, db *sql.DB, timeout time.Duration) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return db.PingContext(ctx)
}

func newSchemaManager(ctx context.Context, cfg *config.Config, logger *logging.Logger, db *sql.DB, metrics *observability.SchemaRefreshMetrics, database string) (*schemarefresh.Manager, error) {
	started := time.Now()
	manager, err := schemarefresh.NewManager(ctx, schemarefresh.Config{
		Source:       schemarefresh.Source(cfg.Schema.Source),
		File:         cfg.Schema.File,
		DB:           db,
		DatabaseName: database,
		Filters:      cfg.SchemaFilters,
		Naming:       cfg.Naming,
		Singletons:   cfg.Schema.Singletons,
		Relations:    cfg.Schema.RelationDefs(),
		Logger:       logger,
		Metrics:      metrics,
		MinInterval:  cfg.Schema.RefreshMinInterval,
		MaxInterval:  cfg.Schema.RefreshMaxInterval,
	})
	if err != nil {
		return nil, err
	}

	snapshot := manager.CurrentSnapshot()
	logger.Debug("schema loaded",
		slog.String("source", cfg.Schema.Source),
		slog.Int("collections", len(snapshot.Graph.Collections())),
		slog.String("fingerprint", snapshot.Fingerprint),
		slog.Duration("duration", time.Since(started)),
	)
	return manager, nil
}
