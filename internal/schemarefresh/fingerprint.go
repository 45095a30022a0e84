package schemarefresh

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"log/slog"
	"maps"
	"os"
	"slices"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"queryengine/internal/introspection"
)

const (
	modeFile        = "file"
	modeStructural  = "tidb_structural"
	modeLightweight = "tidb_lightweight"
	modeUnknown     = "unknown"
)

// fingerprint identifies a schema source state. Components hash separately
// so a change can be reported by what moved.
type fingerprint struct {
	Value      string
	Mode       string
	Components map[string]string
}

type componentQuery struct {
	name  string
	query string
}

// structuralComponents cover everything the graph is built from. Comments
// are included because they carry the singleton marker and kind overrides.
var structuralComponents = []componentQuery{
	{"tables", `
		SELECT TABLE_NAME, TABLE_TYPE, TABLE_COMMENT
		FROM INFORMATION_SCHEMA.TABLES
		WHERE TABLE_SCHEMA = ? AND TABLE_TYPE IN ('BASE TABLE', 'VIEW')
		ORDER BY TABLE_NAME, TABLE_TYPE`},
	{"columns", `
		SELECT TABLE_NAME, COLUMN_NAME, CAST(ORDINAL_POSITION AS CHAR),
			DATA_TYPE, COLUMN_TYPE, IS_NULLABLE, COLUMN_COMMENT
		FROM INFORMATION_SCHEMA.COLUMNS
		WHERE TABLE_SCHEMA = ?
		ORDER BY TABLE_NAME, ORDINAL_POSITION, COLUMN_NAME`},
	{"primary_keys", `
		SELECT TABLE_NAME, COLUMN_NAME, CAST(ORDINAL_POSITION AS CHAR)
		FROM INFORMATION_SCHEMA.KEY_COLUMN_USAGE
		WHERE TABLE_SCHEMA = ? AND CONSTRAINT_NAME = 'PRIMARY'
		ORDER BY TABLE_NAME, ORDINAL_POSITION, COLUMN_NAME`},
	{"foreign_keys", `
		SELECT TABLE_NAME, CONSTRAINT_NAME, COLUMN_NAME,
			COALESCE(REFERENCED_TABLE_NAME, ''), COALESCE(REFERENCED_COLUMN_NAME, ''),
			CAST(ORDINAL_POSITION AS CHAR)
		FROM INFORMATION_SCHEMA.KEY_COLUMN_USAGE
		WHERE TABLE_SCHEMA = ? AND REFERENCED_TABLE_NAME IS NOT NULL
		ORDER BY TABLE_NAME, CONSTRAINT_NAME, ORDINAL_POSITION, COLUMN_NAME`},
	{"indexes", `
		SELECT TABLE_NAME, INDEX_NAME, CAST(NON_UNIQUE AS CHAR),
			CAST(SEQ_IN_INDEX AS CHAR), COALESCE(COLUMN_NAME, '')
		FROM INFORMATION_SCHEMA.STATISTICS
		WHERE TABLE_SCHEMA = ?
		ORDER BY TABLE_NAME, INDEX_NAME, SEQ_IN_INDEX, COLUMN_NAME`},
}

// lightweightComponents are used when the structural queries fail, for
// instance on servers that restrict INFORMATION_SCHEMA.STATISTICS.
var lightweightComponents = []componentQuery{
	{"table_timestamps", `
		SELECT TABLE_NAME,
			COALESCE(CAST(CREATE_TIME AS CHAR), ''), COALESCE(CAST(UPDATE_TIME AS CHAR), '')
		FROM INFORMATION_SCHEMA.TABLES
		WHERE TABLE_SCHEMA = ? AND TABLE_TYPE = 'BASE TABLE'
		ORDER BY TABLE_NAME`},
}

// fingerprint hashes the configured source. Database sources try the
// structural components first and fall back to table timestamps.
func (m *Manager) fingerprint(ctx context.Context) (fingerprint, error) {
	ctx, span := otel.Tracer("queryengine/schemarefresh").Start(ctx, "schemarefresh.compute_fingerprint")
	defer span.End()

	fp, err := m.computeFingerprint(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fingerprint{Mode: modeUnknown, Components: map[string]string{}}, err
	}
	span.SetAttributes(attribute.String("schema.fingerprint_mode", fp.Mode))
	return fp, nil
}

func (m *Manager) computeFingerprint(ctx context.Context) (fingerprint, error) {
	if m.source == SourceFile {
		return fileFingerprint(m.file)
	}

	database := m.build.DatabaseName
	fp, err := hashComponents(ctx, m.db, modeStructural, database, structuralComponents)
	if err == nil {
		return fp, nil
	}
	m.logger.Warn("structural fingerprint failed, falling back to lightweight fingerprint",
		slog.String("error", err.Error()),
	)

	fp, fallbackErr := hashComponents(ctx, m.db, modeLightweight, database, lightweightComponents)
	if fallbackErr != nil {
		return fingerprint{}, fmt.Errorf("failed to compute fingerprints (%s and %s): structural error: %w; fallback error: %v",
			modeStructural, modeLightweight, err, fallbackErr)
	}
	return fp, nil
}

func fileFingerprint(path string) (fingerprint, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return fingerprint{}, fmt.Errorf("failed to read schema snapshot: %w", err)
	}
	sum := sha256.Sum256(data)
	hash := hex.EncodeToString(sum[:])
	// Value is the file digest as sha256sum prints it.
	return fingerprint{Value: hash, Mode: modeFile, Components: map[string]string{"file": hash}}, nil
}

func hashComponents(ctx context.Context, q introspection.Queryer, mode, database string, components []componentQuery) (fingerprint, error) {
	hashes := make(map[string]string, len(components))
	for _, c := range components {
		hash, _, err := hashRows(ctx, q, c.query, database)
		if err != nil {
			return fingerprint{}, fmt.Errorf("failed to hash %s component: %w", c.name, err)
		}
		hashes[c.name] = hash
	}
	return fingerprint{Value: combine(hashes), Mode: mode, Components: hashes}, nil
}

// hashRows hashes every cell of the result set as text. Cells are length
// prefixed so "a|b" and "a", "b" hash differently; NULL hashes as "".
func hashRows(ctx context.Context, q introspection.Queryer, query string, args ...any) (string, int, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return "", 0, err
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return "", 0, err
	}
	cells := make([]sql.NullString, len(columns))
	targets := make([]any, len(columns))
	for i := range cells {
		targets[i] = &cells[i]
	}

	h := sha256.New()
	count := 0
	for rows.Next() {
		if err := rows.Scan(targets...); err != nil {
			return "", 0, err
		}
		count++
		for _, cell := range cells {
			fmt.Fprintf(h, "%d:%s|", len(cell.String), cell.String)
		}
		h.Write([]byte{'\n'})
	}
	if err := rows.Err(); err != nil {
		return "", 0, err
	}
	return hex.EncodeToString(h.Sum(nil)), count, nil
}

// combine folds component hashes into one value, independent of map order.
func combine(components map[string]string) string {
	if len(components) == 0 {
		return ""
	}
	h := sha256.New()
	for _, name := range slices.Sorted(maps.Keys(components)) {
		fmt.Fprintf(h, "%s=%s\n", name, components[name])
	}
	return hex.EncodeToString(h.Sum(nil))
}

// changedComponents lists, sorted, the components present in either map
// whose hashes differ.
func changedComponents(previous, current map[string]string) []string {
	names := slices.Sorted(maps.Keys(previous))
	for name := range current {
		if _, ok := previous[name]; !ok {
			names = append(names, name)
		}
	}
	slices.Sort(names)

	changed := []string{}
	for _, name := range names {
		if previous[name] != current[name] {
			changed = append(changed, name)
		}
	}
	return changed
}
