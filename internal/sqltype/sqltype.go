// Package sqltype maps MySQL/TiDB column types to field kinds.
package sqltype

import (
	"strings"

	"queryengine/internal/scalars"
)

// Column carries the INFORMATION_SCHEMA facts that decide a column's kind.
type Column struct {
	// DataType is COLUMNS.DATA_TYPE, e.g. "varchar".
	DataType string
	// ColumnType is COLUMNS.COLUMN_TYPE, e.g. "tinyint(1) unsigned".
	ColumnType string
	// Length is CHARACTER_MAXIMUM_LENGTH, or 0 when not applicable.
	Length int64
	// Comment is COLUMN_COMMENT. A comment of the form "kind:<name>" overrides
	// the inferred kind, so csv and hash columns can be declared.
	Comment string
}

// KindOf infers the field kind of a column.
func KindOf(col Column) scalars.Kind {
	if kind, ok := commentKind(col.Comment); ok {
		return kind
	}

	dataType := strings.ToLower(col.DataType)
	if dataType == "" {
		dataType = baseType(col.ColumnType)
	}
	columnType := strings.ToLower(col.ColumnType)

	switch dataType {
	case "tinyint":
		if strings.HasPrefix(columnType, "tinyint(1)") {
			return scalars.Boolean
		}
		return scalars.Integer
	case "smallint", "mediumint", "int", "integer", "year":
		return scalars.Integer
	case "bigint", "serial":
		return scalars.BigInteger
	case "bit":
		if columnType == "bit(1)" {
			return scalars.Boolean
		}
		return scalars.Integer
	case "bool", "boolean":
		return scalars.Boolean
	case "float", "double", "real":
		return scalars.Float
	case "decimal", "numeric":
		return scalars.Decimal
	case "json":
		return scalars.JSON
	case "date":
		return scalars.Date
	case "time":
		return scalars.Time
	case "datetime":
		return scalars.DateTime
	case "timestamp":
		return scalars.Timestamp
	case "char", "varchar", "binary", "varbinary":
		// CHAR(36) is the usual uuid column.
		if dataType == "char" && col.Length == 36 {
			return scalars.UUID
		}
		return scalars.String
	case "set":
		return scalars.CSV
	case "enum":
		return scalars.String
	case "tinytext", "text", "mediumtext", "longtext",
		"tinyblob", "blob", "mediumblob", "longblob":
		return scalars.Text
	default:
		return scalars.String
	}
}

func baseType(columnType string) string {
	t := strings.ToLower(strings.TrimSpace(columnType))
	if idx := strings.IndexAny(t, "( "); idx != -1 {
		t = t[:idx]
	}
	return t
}

func commentKind(comment string) (scalars.Kind, bool) {
	comment = strings.TrimSpace(comment)
	if !strings.HasPrefix(comment, "kind:") {
		return scalars.Unknown, false
	}
	name := strings.TrimSpace(strings.TrimPrefix(comment, "kind:"))
	if i := strings.IndexAny(name, " ;,"); i != -1 {
		name = name[:i]
	}
	kind, err := scalars.ParseKind(name)
	if err != nil || kind == scalars.Alias {
		return scalars.Unknown, false
	}
	return kind, true
}
