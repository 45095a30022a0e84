package observability

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName scopes every instrument the engine registers.
const meterName = "queryengine"

// EngineMetrics holds custom metrics for query resolution.
type EngineMetrics struct {
	resolutionDuration metric.Float64Histogram
	resolutionCounter  metric.Int64Counter
	errorCounter       metric.Int64Counter
	resolutionDepth    metric.Int64Histogram
	projectedRows      metric.Int64Histogram
	verifyMismatches   metric.Int64Counter
}

// InitEngineMetrics initializes resolution metrics on the global meter provider.
func InitEngineMetrics() (*EngineMetrics, error) {
	meter := otel.Meter(meterName)

	resolutionDuration, err := meter.Float64Histogram(
		"queryengine.resolution.duration",
		metric.WithDescription("Duration of query resolutions in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resolution duration histogram: %w", err)
	}

	resolutionCounter, err := meter.Int64Counter(
		"queryengine.resolutions.total",
		metric.WithDescription("Total number of query resolutions"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resolution counter: %w", err)
	}

	errorCounter, err := meter.Int64Counter(
		"queryengine.errors.total",
		metric.WithDescription("Total number of failed resolutions by error kind"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create error counter: %w", err)
	}

	resolutionDepth, err := meter.Int64Histogram(
		"queryengine.resolution.depth",
		metric.WithDescription("Deepest relational path of resolved queries"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resolution depth histogram: %w", err)
	}

	projectedRows, err := meter.Int64Histogram(
		"queryengine.projection.rows",
		metric.WithDescription("Number of rows shaped per projection"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create projected rows histogram: %w", err)
	}

	verifyMismatches, err := meter.Int64Counter(
		"queryengine.verify.mismatches.total",
		metric.WithDescription("Total number of rows that failed filter verification"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create verify mismatch counter: %w", err)
	}

	return &EngineMetrics{
		resolutionDuration: resolutionDuration,
		resolutionCounter:  resolutionCounter,
		errorCounter:       errorCounter,
		resolutionDepth:    resolutionDepth,
		projectedRows:      projectedRows,
		verifyMismatches:   verifyMismatches,
	}, nil
}

// RecordResolution records one resolution. errorKind is empty on success.
func (m *EngineMetrics) RecordResolution(ctx context.Context, duration time.Duration, collection, errorKind string) {
	if m == nil {
		return
	}
	attrs := []attribute.KeyValue{
		attribute.String("collection", collection),
		attribute.Bool("has_errors", errorKind != ""),
	}

	m.resolutionDuration.Record(ctx, float64(duration.Microseconds())/1000, metric.WithAttributes(attrs...))
	m.resolutionCounter.Add(ctx, 1, metric.WithAttributes(attrs...))

	if errorKind != "" {
		m.errorCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("kind", errorKind),
		))
	}
}

// RecordDepth records the relational depth of a resolved plan.
func (m *EngineMetrics) RecordDepth(ctx context.Context, depth int64, collection string) {
	if m == nil {
		return
	}
	m.resolutionDepth.Record(ctx, depth, metric.WithAttributes(
		attribute.String("collection", collection),
	))
}

// RecordProjection records how many rows a projection shaped and how many of
// them failed verification.
func (m *EngineMetrics) RecordProjection(ctx context.Context, rows, mismatches int64, collection string) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("collection", collection))
	m.projectedRows.Record(ctx, rows, attrs)
	if mismatches > 0 {
		m.verifyMismatches.Add(ctx, mismatches, attrs)
	}
}

// InitMetrics initializes all custom metrics and returns the EngineMetrics instance
func InitMetrics(logger *slog.Logger) (*EngineMetrics, error) {
	metrics, err := InitEngineMetrics()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize engine metrics: %w", err)
	}

	logger.Info("engine metrics initialized")
	return metrics, nil
}

type engineMetricsContextKey struct{}

// ContextWithEngineMetrics stores engine metrics in the provided context.
func ContextWithEngineMetrics(ctx context.Context, metrics *EngineMetrics) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, engineMetricsContextKey{}, metrics)
}

// EngineMetricsFromContext retrieves engine metrics from the context. The
// result may be nil; every Record method accepts a nil receiver.
func EngineMetricsFromContext(ctx context.Context) *EngineMetrics {
	if ctx == nil {
		return nil
	}
	metrics, _ := ctx.Value(engineMetricsContextKey{}).(*EngineMetrics)
	return metrics
}
