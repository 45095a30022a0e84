// Package schemarefresh builds schema graphs from a snapshot file or a live
// database, and swaps them into a schema.Store when the source changes.
package schemarefresh

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"queryengine/internal/introspection"
	"queryengine/internal/logging"
	"queryengine/internal/naming"
	"queryengine/internal/observability"
	"queryengine/internal/schema"
	"queryengine/internal/schemafilter"
)

// Source selects where the schema comes from.
type Source string

const (
	SourceFile     Source = "file"
	SourceDatabase Source = "database"
)

// Snapshot is one built schema. It is never modified after install.
type Snapshot struct {
	Graph      *schema.Graph
	Definition schema.Definition
	// DBSchema is nil for file sources.
	DBSchema    *introspection.Schema
	BuiltAt     time.Time
	Fingerprint string
}

// Config controls schema refresh behavior.
type Config struct {
	Store        *schema.Store
	Source       Source
	File         string
	DB           *sql.DB
	DatabaseName string
	Filters      schemafilter.Config
	Naming       naming.Config
	Singletons   []string
	Relations    []schema.RelationDef
	Logger       *logging.Logger
	Metrics      *observability.SchemaRefreshMetrics
	MinInterval  time.Duration
	MaxInterval  time.Duration
}

// Manager owns the active snapshot and rebuilds it when the source's
// fingerprint changes.
type Manager struct {
	store  *schema.Store
	source Source
	file   string
	db     *sql.DB
	build  BuildSchemaConfig

	logger  *logging.Logger
	metrics *observability.SchemaRefreshMetrics

	minInterval, maxInterval time.Duration

	active atomic.Pointer[snapshotState]
	wg     sync.WaitGroup
}

type snapshotState struct {
	Snapshot    *Snapshot
	fingerprint fingerprint
}

// NewManager builds the first snapshot and installs it in the store. The
// refresh loop is not started; see Start.
func NewManager(ctx context.Context, cfg Config) (*Manager, error) {
	switch cfg.Source {
	case SourceFile:
		if cfg.File == "" {
			return nil, fmt.Errorf("schema source %q requires a file", cfg.Source)
		}
	case SourceDatabase:
		if cfg.DB == nil {
			return nil, fmt.Errorf("schema refresh manager requires a database handle")
		}
	default:
		return nil, fmt.Errorf("unknown schema source %q", cfg.Source)
	}
	if cfg.Logger == nil {
		cfg.Logger = &logging.Logger{Logger: slog.Default()}
	}
	if cfg.Store == nil {
		cfg.Store = schema.NewStore(nil)
	}

	logger := cfg.Logger.WithFields(
		slog.String("component", "schema_refresh"),
		slog.String("source", string(cfg.Source)),
	)
	m := &Manager{
		store:  cfg.Store,
		source: cfg.Source,
		file:   cfg.File,
		db:     cfg.DB,
		build: BuildSchemaConfig{
			DatabaseName: cfg.DatabaseName,
			Filters:      cfg.Filters,
			Naming:       cfg.Naming,
			Singletons:   cfg.Singletons,
			Relations:    cfg.Relations,
			Logger:       logger,
		},
		logger:      logger,
		metrics:     cfg.Metrics,
		minInterval: cfg.MinInterval,
		maxInterval: max(cfg.MaxInterval, cfg.MinInterval),
	}
	if cfg.DB != nil {
		m.build.Queryer = cfg.DB
	}

	if err := m.refresh(ctx, "startup"); err != nil {
		return nil, err
	}
	return m, nil
}

// Store returns the store the manager swaps graphs into.
func (m *Manager) Store() *schema.Store { return m.store }

// Start polls the source in the background until ctx is done. A zero
// interval disables polling.
func (m *Manager) Start(ctx context.Context) {
	if m.minInterval <= 0 {
		m.logger.Info("schema refresh disabled")
		return
	}
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.poll(ctx)
	}()
}

// CurrentSnapshot returns the active snapshot.
func (m *Manager) CurrentSnapshot() *Snapshot {
	if state := m.active.Load(); state != nil {
		return state.Snapshot
	}
	return nil
}

// RefreshNow rebuilds and swaps the graph whether or not the source changed.
func (m *Manager) RefreshNow(ctx context.Context) error {
	return m.refresh(ctx, "manual")
}

// Wait blocks until the poll loop exits or ctx is done.
func (m *Manager) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// refresh rebuilds unconditionally. A fingerprint failure is not fatal; the
// snapshot is installed with an empty fingerprint so the next poll rebuilds.
func (m *Manager) refresh(ctx context.Context, trigger string) error {
	started := time.Now()
	fp, err := m.fingerprint(ctx)
	if err != nil {
		m.logger.Warn("failed to compute schema fingerprint", slog.String("error", err.Error()))
	}
	_, err = m.rebuild(ctx, trigger, started, fp)
	return err
}

func (m *Manager) rebuild(ctx context.Context, trigger string, started time.Time, fp fingerprint) (*snapshotState, error) {
	state, err := m.buildState(ctx, fp)
	if err != nil {
		m.recordRefresh(time.Since(started), trigger, nil)
		return nil, err
	}
	m.active.Store(state)
	m.store.Swap(state.Snapshot.Graph)
	m.recordRefresh(time.Since(started), trigger, state)
	return state, nil
}

func (m *Manager) poll(ctx context.Context) {
	interval := m.minInterval
	timer := time.NewTimer(interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("schema refresh stopped")
			return
		case <-timer.C:
			m.refreshOnce(ctx, &interval)
			timer.Reset(interval)
		}
	}
}

// refreshOnce rebuilds when the fingerprint moved. The interval backs off
// while the source is unchanged and resets after a change or failure.
func (m *Manager) refreshOnce(ctx context.Context, interval *time.Duration) {
	started := time.Now()
	waited := *interval
	*interval = m.minInterval

	fp, err := m.fingerprint(ctx)
	if err != nil {
		m.logger.Warn("schema fingerprint check failed", slog.String("error", err.Error()))
		m.recordRefresh(time.Since(started), "poll", nil)
		return
	}

	var previous map[string]string
	if current := m.active.Load(); current != nil {
		if fp.Value == current.Snapshot.Fingerprint {
			m.metrics.RecordRefresh(ctx, observability.RefreshOutcome{
				Trigger:  "poll",
				Source:   string(m.source),
				Result:   observability.RefreshUnchanged,
				Duration: time.Since(started),
			})
			*interval = nextInterval(waited, m.minInterval, m.maxInterval)
			return
		}
		previous = current.fingerprint.Components
	}

	m.logger.Info("schema change detected, rebuilding",
		slog.String("fingerprint", fp.Value),
		slog.String("fingerprint_mode", fp.Mode),
		slog.Any("changed_components", changedComponents(previous, fp.Components)),
	)
	state, err := m.rebuild(ctx, "poll", started, fp)
	if err != nil {
		m.logger.Error("failed to rebuild schema", slog.String("error", err.Error()))
		return
	}
	m.logger.Info("schema refresh complete",
		slog.String("fingerprint", state.Snapshot.Fingerprint),
		slog.String("fingerprint_mode", state.fingerprint.Mode),
	)
}

func (m *Manager) buildState(ctx context.Context, fp fingerprint) (*snapshotState, error) {
	started := time.Now()
	snapshot := &Snapshot{Fingerprint: fp.Value}

	if m.source == SourceFile {
		def, err := readDefinition(m.file)
		if err != nil {
			return nil, err
		}
		graph, err := schema.Build(def)
		if err != nil {
			return nil, fmt.Errorf("invalid schema snapshot %s: %w", m.file, err)
		}
		snapshot.Graph, snapshot.Definition = graph, def
	} else {
		m.logger.Info("introspecting database schema")
		result, err := BuildSchema(ctx, m.build)
		if err != nil {
			return nil, err
		}
		m.logger.Info("discovered tables", slog.Int("count", len(result.DBSchema.Tables)))
		for _, table := range result.DBSchema.Tables {
			m.logger.Debug("table discovered",
				slog.String("table", table.Name),
				slog.Int("columns", len(table.Columns)),
				slog.Int("foreignKeys", len(table.ForeignKeys)),
				slog.Int("indexes", len(table.Indexes)),
			)
		}
		snapshot.Graph, snapshot.Definition, snapshot.DBSchema = result.Graph, result.Definition, result.DBSchema
	}

	snapshot.BuiltAt = time.Now()
	m.logger.Info("schema snapshot built",
		slog.Duration("duration", time.Since(started)),
		slog.Int("collections", len(snapshot.Definition.Collections)),
	)
	if fp.Mode == "" {
		fp.Mode = modeUnknown
	}
	return &snapshotState{Snapshot: snapshot, fingerprint: fp}, nil
}

func readDefinition(path string) (schema.Definition, error) {
	format, err := schema.FormatFromPath(path)
	if err != nil {
		return schema.Definition{}, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return schema.Definition{}, fmt.Errorf("failed to read schema snapshot: %w", err)
	}
	return schema.Decode(data, format)
}

// nextInterval grows current by half, clamped to [minInterval, maxInterval].
func nextInterval(current, minInterval, maxInterval time.Duration) time.Duration {
	if current < minInterval {
		return minInterval
	}
	return min(current+current/2, maxInterval)
}

// recordRefresh records a rebuild, or a failure when state is nil.
func (m *Manager) recordRefresh(duration time.Duration, trigger string, state *snapshotState) {
	out := observability.RefreshOutcome{
		Trigger:  trigger,
		Source:   string(m.source),
		Result:   observability.RefreshFailed,
		Duration: duration,
	}
	if state != nil && state.Snapshot.Graph != nil {
		out.Result = observability.RefreshRebuilt
		out.Collections = len(state.Snapshot.Graph.Collections())
		out.Relations = len(state.Snapshot.Graph.Relations())
	}
	m.metrics.RecordRefresh(context.Background(), out)
}
