// Package introspection discovers tables, columns, keys and indexes from a
// MySQL or TiDB INFORMATION_SCHEMA.
package introspection

import (
	"context"
	"database/sql"
	"fmt"
	"slices"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"queryengine/internal/scalars"
	"queryengine/internal/sqltype"
)

// Column is one column as reported by INFORMATION_SCHEMA.COLUMNS.
type Column struct {
	Name         string
	DataType     string
	ColumnType   string
	Length       int64
	Comment      string
	IsNullable   bool
	IsPrimaryKey bool
}

// Kind is the field kind the column maps to.
func (c Column) Kind() scalars.Kind {
	return sqltype.KindOf(sqltype.Column{
		DataType:   c.DataType,
		ColumnType: c.ColumnType,
		Length:     c.Length,
		Comment:    c.Comment,
	})
}

// Index represents a database index with ordered columns.
type Index struct {
	Name    string
	Unique  bool
	Columns []string
}

// ForeignKey is one column of a foreign key constraint.
type ForeignKey struct {
	ColumnName       string
	ReferencedTable  string
	ReferencedColumn string
	ConstraintName   string
	OrdinalPosition  int
}

// Table is a base table or view with its columns. Keys and indexes are
// only read for base tables.
type Table struct {
	Name        string
	IsView      bool
	Comment     string
	Columns     []Column
	ForeignKeys []ForeignKey
	Indexes     []Index
}

// Column looks up a column by name.
func (t Table) Column(name string) (Column, bool) {
	i := slices.IndexFunc(t.Columns, func(c Column) bool { return c.Name == name })
	if i < 0 {
		return Column{}, false
	}
	return t.Columns[i], true
}

// Schema is every table and view of one database.
type Schema struct {
	Database string
	Tables   []Table
}

// Table looks up a table by name.
func (s *Schema) Table(name string) (*Table, bool) {
	i := slices.IndexFunc(s.Tables, func(t Table) bool { return t.Name == name })
	if i < 0 {
		return nil, false
	}
	return &s.Tables[i], true
}

// Queryer is the part of *sql.DB that introspection needs.
type Queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

const (
	tablesQuery = `
		SELECT TABLE_NAME, TABLE_TYPE, TABLE_COMMENT
		FROM INFORMATION_SCHEMA.TABLES
		WHERE TABLE_SCHEMA = ? AND TABLE_TYPE IN ('BASE TABLE', 'VIEW')
		ORDER BY TABLE_NAME`

	columnsQuery = `
		SELECT COLUMN_NAME, DATA_TYPE, COLUMN_TYPE, CHARACTER_MAXIMUM_LENGTH, COLUMN_COMMENT, IS_NULLABLE
		FROM INFORMATION_SCHEMA.COLUMNS
		WHERE TABLE_SCHEMA = ? AND TABLE_NAME = ?
		ORDER BY ORDINAL_POSITION`

	primaryKeyQuery = `
		SELECT COLUMN_NAME
		FROM INFORMATION_SCHEMA.KEY_COLUMN_USAGE
		WHERE TABLE_SCHEMA = ? AND TABLE_NAME = ? AND CONSTRAINT_NAME = 'PRIMARY'
		ORDER BY ORDINAL_POSITION`

	foreignKeysQuery = `
		SELECT COLUMN_NAME, REFERENCED_TABLE_NAME, REFERENCED_COLUMN_NAME, CONSTRAINT_NAME, ORDINAL_POSITION
		FROM INFORMATION_SCHEMA.KEY_COLUMN_USAGE
		WHERE TABLE_SCHEMA = ? AND TABLE_NAME = ? AND REFERENCED_TABLE_NAME IS NOT NULL
		ORDER BY CONSTRAINT_NAME, ORDINAL_POSITION`

	indexesQuery = `
		SELECT INDEX_NAME, NON_UNIQUE, COLUMN_NAME
		FROM INFORMATION_SCHEMA.STATISTICS
		WHERE TABLE_SCHEMA = ? AND TABLE_NAME = ?
		ORDER BY INDEX_NAME, SEQ_IN_INDEX`
)

var tracer = otel.Tracer("queryengine/introspection")

// IntrospectDatabase reads every base table and view of databaseName.
func IntrospectDatabase(ctx context.Context, db Queryer, databaseName string) (*Schema, error) {
	ctx, span := tracer.Start(ctx, "introspection.build_schema",
		trace.WithAttributes(attribute.String("db.name", databaseName)))
	defer span.End()

	schema, err := introspect(ctx, db, databaseName)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Int("introspection.tables", len(schema.Tables)))
	return schema, nil
}

func introspect(ctx context.Context, db Queryer, databaseName string) (*Schema, error) {
	tables, err := collect(ctx, db, "tables", tablesQuery, []any{databaseName}, scanTable)
	if err != nil {
		return nil, fmt.Errorf("failed to get tables: %w", err)
	}

	for i := range tables {
		t := &tables[i]
		args := []any{databaseName, t.Name}
		if t.Columns, err = collect(ctx, db, "columns", columnsQuery, args, scanColumn); err != nil {
			return nil, fmt.Errorf("failed to get columns for %s: %w", t.Name, err)
		}
		if t.IsView {
			continue
		}

		pk, err := collect(ctx, db, "primary_keys", primaryKeyQuery, args, scanString)
		if err != nil {
			return nil, fmt.Errorf("failed to get primary keys for table %s: %w", t.Name, err)
		}
		for j := range t.Columns {
			t.Columns[j].IsPrimaryKey = slices.Contains(pk, t.Columns[j].Name)
		}
		if t.ForeignKeys, err = collect(ctx, db, "foreign_keys", foreignKeysQuery, args, scanForeignKey); err != nil {
			return nil, fmt.Errorf("failed to get foreign keys for table %s: %w", t.Name, err)
		}
		indexColumns, err := collect(ctx, db, "indexes", indexesQuery, args, scanIndexColumn)
		if err != nil {
			return nil, fmt.Errorf("failed to get indexes for table %s: %w", t.Name, err)
		}
		t.Indexes = groupIndexes(indexColumns)
	}
	return &Schema{Database: databaseName, Tables: tables}, nil
}

// collect runs query in its own span and scans every row with scan.
func collect[T any](ctx context.Context, db Queryer, what, query string, args []any, scan func(*sql.Rows) (T, error)) ([]T, error) {
	ctx, span := tracer.Start(ctx, "introspection.get_"+what)
	defer span.End()
	if len(args) > 1 {
		span.SetAttributes(attribute.String("db.table", fmt.Sprint(args[1])))
	}

	out, err := func() ([]T, error) {
		rows, err := db.QueryContext(ctx, query, args...)
		if err != nil {
			return nil, err
		}
		defer func() { _ = rows.Close() }()

		var out []T
		for rows.Next() {
			v, err := scan(rows)
			if err != nil {
				return nil, err
			}
			out = append(out, v)
		}
		return out, rows.Err()
	}()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return out, err
}

func scanTable(rows *sql.Rows) (Table, error) {
	var t Table
	var tableType string
	var comment sql.NullString
	err := rows.Scan(&t.Name, &tableType, &comment)
	t.IsView = strings.EqualFold(tableType, "VIEW")
	t.Comment = strings.TrimSpace(comment.String)
	return t, err
}

func scanColumn(rows *sql.Rows) (Column, error) {
	var c Column
	var length sql.NullInt64
	var comment sql.NullString
	var nullable string
	err := rows.Scan(&c.Name, &c.DataType, &c.ColumnType, &length, &comment, &nullable)
	c.Length = length.Int64
	c.Comment = strings.TrimSpace(comment.String)
	c.IsNullable = strings.EqualFold(nullable, "YES")
	return c, err
}

func scanString(rows *sql.Rows) (string, error) {
	var s string
	err := rows.Scan(&s)
	return s, err
}

func scanForeignKey(rows *sql.Rows) (ForeignKey, error) {
	var fk ForeignKey
	err := rows.Scan(&fk.ColumnName, &fk.ReferencedTable, &fk.ReferencedColumn, &fk.ConstraintName, &fk.OrdinalPosition)
	return fk, err
}

type indexColumn struct {
	index     string
	nonUnique int
	column    string
}

func scanIndexColumn(rows *sql.Rows) (indexColumn, error) {
	var ic indexColumn
	err := rows.Scan(&ic.index, &ic.nonUnique, &ic.column)
	return ic, err
}

// groupIndexes folds rows ordered by index and sequence into indexes, in
// order of first appearance.
func groupIndexes(rows []indexColumn) []Index {
	var indexes []Index
	for _, r := range rows {
		if n := len(indexes); n > 0 && indexes[n-1].Name == r.index {
			indexes[n-1].Columns = append(indexes[n-1].Columns, r.column)
			continue
		}
		indexes = append(indexes, Index{Name: r.index, Unique: r.nonUnique == 0, Columns: []string{r.column}})
	}
	return indexes
}
