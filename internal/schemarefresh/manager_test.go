package schemarefresh

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"queryengine/internal/logging"
	"queryengine/internal/schema"
	"queryengine/internal/testutil"
)

func testLogger() *logging.Logger {
	handler := slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelInfo})
	return &logging.Logger{Logger: slog.New(handler)}
}

func writeSnapshot(t *testing.T, path string, def schema.Definition) {
	t.Helper()
	require.NoError(t, schema.WriteFile(path, def))
}

func fileSum(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func TestNewManager_FileSource(t *testing.T) {
	for _, name := range []string{"schema.yaml", "schema.json", "schema.msgpack", "schema.msgpack.zst"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), name)
			writeSnapshot(t, path, testutil.FixtureDefinition(t))

			store := schema.NewStore(nil)
			manager, err := NewManager(t.Context(), Config{
				Store:  store,
				Source: SourceFile,
				File:   path,
				Logger: testLogger(),
			})
			require.NoError(t, err)

			snapshot := manager.CurrentSnapshot()
			require.NotNil(t, snapshot)
			assert.Same(t, snapshot.Graph, store.Load())
			assert.Same(t, store, manager.Store())
			assert.Equal(t, fileSum(t, path), snapshot.Fingerprint)
			assert.Nil(t, snapshot.DBSchema)

			_, err = store.Load().Collection("foods")
			assert.NoError(t, err)
		})
	}
}

func TestNewManager_ConfigErrors(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		want string
	}{
		{"unknown source", Config{Source: "s3"}, `unknown schema source "s3"`},
		{"file without path", Config{Source: SourceFile}, "requires a file"},
		{"database without handle", Config{Source: SourceDatabase}, "requires a database handle"},
		{"missing file", Config{Source: SourceFile, File: filepath.Join(os.TempDir(), "absent-queryengine.yaml")}, "failed to read schema snapshot"},
		{"bad extension", Config{Source: SourceFile, File: "schema.txt"}, "cannot infer snapshot format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.cfg.Logger = testLogger()
			_, err := NewManager(t.Context(), tt.cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestRefreshOnce_FileSource(t *testing.T) {
	path := filepath.Join(t.TempDir(), "schema.yaml")
	def := testutil.FixtureDefinition(t)
	writeSnapshot(t, path, def)

	manager, err := NewManager(t.Context(), Config{
		Source:      SourceFile,
		File:        path,
		Logger:      testLogger(),
		MinInterval: time.Second,
		MaxInterval: 4 * time.Second,
	})
	require.NoError(t, err)
	first := manager.CurrentSnapshot()

	interval := time.Second
	manager.refreshOnce(t.Context(), &interval)
	assert.Equal(t, 1500*time.Millisecond, interval, "unchanged source backs off")
	manager.refreshOnce(t.Context(), &interval)
	assert.Equal(t, 2250*time.Millisecond, interval)
	assert.Same(t, first, manager.CurrentSnapshot())

	def.Collections = append(def.Collections, schema.CollectionDef{Collection: "tags"})
	def.Fields = append(def.Fields, schema.FieldDef{Collection: "tags", Field: "id", Type: "integer", PrimaryKey: true})
	writeSnapshot(t, path, def)

	manager.refreshOnce(t.Context(), &interval)
	assert.Equal(t, time.Second, interval, "a change resets the interval")
	second := manager.CurrentSnapshot()
	assert.NotSame(t, first, second)
	assert.Contains(t, manager.Store().Load().Collections(), "tags")

	// A broken snapshot keeps the last good graph.
	require.NoError(t, os.WriteFile(path, []byte("collections: [{collection: x}]\n"), 0o644))
	manager.refreshOnce(t.Context(), &interval)
	assert.Same(t, second, manager.CurrentSnapshot())
	assert.Error(t, manager.RefreshNow(t.Context()))
}

func TestHashComponentQuery(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("FROM INFORMATION_SCHEMA.TABLES").
		WithArgs("kitchen").
		WillReturnRows(sqlmock.NewRows([]string{"TABLE_NAME", "CREATE_TIME", "UPDATE_TIME"}).
			AddRow("foods", "2025-01-15 10:30:45", "").
			AddRow("users", nil, nil))

	got, count, err := hashRows(t.Context(), db, "SELECT TABLE_NAME FROM INFORMATION_SCHEMA.TABLES WHERE TABLE_SCHEMA = ?", "kitchen")
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())

	hash := sha256.New()
	_, _ = io.WriteString(hash, "5:foods|19:2025-01-15 10:30:45|0:|\n")
	_, _ = io.WriteString(hash, "5:users|0:|0:|\n")
	assert.Equal(t, hex.EncodeToString(hash.Sum(nil)), got)
	assert.Equal(t, 2, count)
}

func TestComputeFingerprint_FallsBackToLightweight(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("TABLE_COMMENT").WillReturnError(sql.ErrConnDone)
	mock.ExpectQuery("CREATE_TIME").
		WithArgs("kitchen").
		WillReturnRows(sqlmock.NewRows([]string{"TABLE_NAME", "CREATE_TIME", "UPDATE_TIME"}).AddRow("foods", "", ""))

	manager := &Manager{
		source: SourceDatabase,
		db:     db,
		build:  BuildSchemaConfig{DatabaseName: "kitchen"},
		logger: testLogger(),
	}
	details, err := manager.fingerprint(t.Context())
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
	assert.Equal(t, modeLightweight, details.Mode)
	assert.Contains(t, details.Components, "table_timestamps")
	assert.Equal(t, combine(details.Components), details.Value)
}

func TestFingerprintHelpers(t *testing.T) {
	t.Run("next interval", func(t *testing.T) {
		tests := []struct {
			current, want time.Duration
		}{
			{0, time.Second},
			{time.Second, 1500 * time.Millisecond},
			{3 * time.Second, 4 * time.Second},
		}
		for _, tt := range tests {
			assert.Equal(t, tt.want, nextInterval(tt.current, time.Second, 4*time.Second))
		}
	})

	t.Run("changed components", func(t *testing.T) {
		got := changedComponents(
			map[string]string{"tables": "a", "columns": "b", "indexes": "c"},
			map[string]string{"tables": "a", "columns": "x", "foreign_keys": "d"},
		)
		assert.Equal(t, []string{"columns", "foreign_keys", "indexes"}, got)
	})

	t.Run("combine is order independent", func(t *testing.T) {
		assert.Equal(t,
			combine(map[string]string{"a": "1", "b": "2"}),
			combine(map[string]string{"b": "2", "a": "1"}),
		)
		assert.Empty(t, combine(nil))
	})

	t.Run("changed components from nothing", func(t *testing.T) {
		assert.Equal(t, []string{"file"}, changedComponents(nil, map[string]string{"file": "abc"}))
		assert.Empty(t, changedComponents(map[string]string{"file": "abc"}, map[string]string{"file": "abc"}))
	})
}
