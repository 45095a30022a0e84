package observability

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Refresh outcomes.
const (
	RefreshRebuilt   = "rebuilt"
	RefreshUnchanged = "unchanged"
	RefreshFailed    = "failed"
)

// RefreshOutcome describes one pass of the schema refresh loop.
// Collections and Relations are only meaningful for RefreshRebuilt.
type RefreshOutcome struct {
	Trigger     string // startup, manual, poll
	Source      string // file, database
	Result      string
	Duration    time.Duration
	Collections int
	Relations   int
}

// SchemaRefreshMetrics tracks how often the collection graph is rebuilt and
// the shape of the graph currently installed.
type SchemaRefreshMetrics struct {
	attempts    metric.Int64Counter
	duration    metric.Float64Histogram
	lastRebuilt atomic.Int64
	collections atomic.Int64
	relations   atomic.Int64
}

// InitSchemaRefreshMetrics registers the refresh instruments on the global meter.
func InitSchemaRefreshMetrics(logger *slog.Logger) (*SchemaRefreshMetrics, error) {
	meter := otel.Meter(meterName)
	m := &SchemaRefreshMetrics{}

	var err error
	m.attempts, err = meter.Int64Counter(
		"queryengine.schema.refresh.total",
		metric.WithDescription("Schema refresh passes by trigger, source and result"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create schema refresh counter: %w", err)
	}

	m.duration, err = meter.Float64Histogram(
		"queryengine.schema.refresh.duration",
		metric.WithDescription("Duration of schema refresh passes"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create schema refresh duration histogram: %w", err)
	}

	lastRebuilt, err := meter.Int64ObservableGauge(
		"queryengine.schema.refresh.last_rebuilt_unix",
		metric.WithDescription("Unix time the installed graph was built"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create schema rebuild gauge: %w", err)
	}
	collections, err := meter.Int64ObservableGauge(
		"queryengine.schema.collections",
		metric.WithDescription("Collections in the installed graph"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create schema collections gauge: %w", err)
	}
	relations, err := meter.Int64ObservableGauge(
		"queryengine.schema.relations",
		metric.WithDescription("Relations in the installed graph"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create schema relations gauge: %w", err)
	}

	_, err = meter.RegisterCallback(
		func(_ context.Context, o metric.Observer) error {
			built := m.lastRebuilt.Load()
			if built == 0 {
				return nil
			}
			o.ObserveInt64(lastRebuilt, built)
			o.ObserveInt64(collections, m.collections.Load())
			o.ObserveInt64(relations, m.relations.Load())
			return nil
		},
		lastRebuilt, collections, relations,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to register schema gauge callback: %w", err)
	}

	logger.Debug("schema refresh metrics initialized")
	return m, nil
}

// RecordRefresh records one refresh pass. A nil receiver is a no-op.
func (m *SchemaRefreshMetrics) RecordRefresh(ctx context.Context, out RefreshOutcome) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("trigger", out.Trigger),
		attribute.String("source", out.Source),
		attribute.String("result", out.Result),
	)
	m.attempts.Add(ctx, 1, attrs)
	m.duration.Record(ctx, float64(out.Duration)/float64(time.Millisecond), attrs)

	if out.Result == RefreshRebuilt {
		m.collections.Store(int64(out.Collections))
		m.relations.Store(int64(out.Relations))
		m.lastRebuilt.Store(time.Now().Unix())
	}
}
