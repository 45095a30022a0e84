package observability

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMeterProvider(t *testing.T) *MeterProvider {
	t.Helper()
	mp, err := InitMeterProvider(Config{ServiceName: "queryengine-test", Environment: "test"})
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mp.Shutdown(context.Background(), slog.New(slog.DiscardHandler)))
	})
	return mp
}

func TestMetricsTextfile(t *testing.T) {
	mp := newTestMeterProvider(t)
	logger := slog.New(slog.DiscardHandler)

	metrics, err := InitMetrics(logger)
	require.NoError(t, err)

	ctx := ContextWithEngineMetrics(context.Background(), metrics)
	from := EngineMetricsFromContext(ctx)
	require.Same(t, metrics, from)
	from.RecordResolution(ctx, 3*time.Millisecond, "foods", "")
	from.RecordResolution(ctx, time.Millisecond, "foods", "MAX_DEPTH_EXCEEDED")
	from.RecordDepth(ctx, 2, "foods")
	from.RecordProjection(ctx, 10, 1, "foods")

	refresh, err := InitSchemaRefreshMetrics(logger)
	require.NoError(t, err)
	refresh.RecordRefresh(ctx, RefreshOutcome{
		Trigger:     "startup",
		Source:      "file",
		Result:      RefreshRebuilt,
		Duration:    time.Millisecond,
		Collections: 4,
		Relations:   3,
	})

	path := filepath.Join(t.TempDir(), "queryengine.prom")
	require.NoError(t, mp.WriteTextfile(path))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	text := string(data)
	assert.Contains(t, text, "queryengine_resolutions")
	assert.Contains(t, text, `kind="MAX_DEPTH_EXCEEDED"`)
	assert.Contains(t, text, "queryengine_schema_refresh")
	assert.Contains(t, text, `result="rebuilt"`)
	assert.Contains(t, text, "queryengine_schema_collections")
}

func TestNilEngineMetrics(t *testing.T) {
	var metrics *EngineMetrics
	assert.Nil(t, EngineMetricsFromContext(context.Background()))
	assert.NotPanics(t, func() {
		metrics.RecordResolution(context.Background(), time.Millisecond, "foods", "")
		metrics.RecordDepth(context.Background(), 1, "foods")
		metrics.RecordProjection(context.Background(), 1, 0, "foods")
		var refresh *SchemaRefreshMetrics
		refresh.RecordRefresh(context.Background(), RefreshOutcome{Result: RefreshFailed})
	})
}

func TestWriteTextfile_Atomic(t *testing.T) {
	mp := newTestMeterProvider(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "queryengine.prom")
	require.NoError(t, os.WriteFile(path, []byte("stale"), 0o644))

	require.NoError(t, mp.WriteTextfile(path))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "stale")

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temporary files are left behind")

	assert.Error(t, mp.WriteTextfile(filepath.Join(dir, "missing", "out.prom")))
}
