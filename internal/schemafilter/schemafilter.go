// Package schemafilter applies allow/deny globs to an introspected schema
// before it becomes collections.
package schemafilter

import (
	"path"
	"slices"
	"strings"

	"queryengine/internal/introspection"
)

// Config controls which tables become collections and which columns become
// fields. Column patterns are keyed by table name; "*" applies to every table.
type Config struct {
	AllowTables      []string            `mapstructure:"allow_tables"`
	DenyTables       []string            `mapstructure:"deny_tables"`
	ScanViewsEnabled bool                `mapstructure:"scan_views_enabled"`
	AllowColumns     map[string][]string `mapstructure:"allow_columns"`
	DenyColumns      map[string][]string `mapstructure:"deny_columns"`
}

// Report lists what Apply removed.
type Report struct {
	Tables  []string            // tables that produce no collection
	Columns map[string][]string // table -> columns removed from kept tables
}

// Empty reports whether nothing was removed.
func (r Report) Empty() bool {
	return len(r.Tables) == 0 && len(r.Columns) == 0
}

// Apply filters tables, columns, indexes and foreign keys in place. An empty
// allow list allows everything and deny always wins. A table that loses a
// primary key column is dropped, and so is every foreign key pointing at a
// dropped table or column.
func Apply(schema *introspection.Schema, cfg Config) Report {
	report := Report{Columns: map[string][]string{}}
	if schema == nil {
		return report
	}

	kept := make(map[string]map[string]bool, len(schema.Tables))
	tables := schema.Tables[:0:0]
	for _, table := range schema.Tables {
		if (table.IsView && !cfg.ScanViewsEnabled) || !allowed(table.Name, cfg.AllowTables, cfg.DenyTables) {
			report.Tables = append(report.Tables, table.Name)
			continue
		}

		allowCols := columnPatterns(cfg.AllowColumns, table.Name)
		denyCols := columnPatterns(cfg.DenyColumns, table.Name)
		columns := table.Columns[:0:0]
		var removed []string
		keyLost := false
		for _, column := range table.Columns {
			if allowed(column.Name, allowCols, denyCols) {
				columns = append(columns, column)
				continue
			}
			removed = append(removed, column.Name)
			keyLost = keyLost || column.IsPrimaryKey
		}
		if keyLost || len(columns) == 0 {
			report.Tables = append(report.Tables, table.Name)
			continue
		}
		if len(removed) > 0 {
			report.Columns[table.Name] = removed
		}

		table.Columns = columns
		names := make(map[string]bool, len(columns))
		for _, c := range columns {
			names[c.Name] = true
		}
		kept[table.Name] = names
		tables = append(tables, table)
	}

	for i := range tables {
		t := &tables[i]
		own := kept[t.Name]
		t.Indexes = slices.DeleteFunc(t.Indexes, func(idx introspection.Index) bool {
			return slices.ContainsFunc(idx.Columns, func(c string) bool { return !own[c] })
		})
		t.ForeignKeys = slices.DeleteFunc(t.ForeignKeys, func(fk introspection.ForeignKey) bool {
			return !own[fk.ColumnName] || !kept[fk.ReferencedTable][fk.ReferencedColumn]
		})
	}

	if len(tables) == 0 {
		tables = nil
	}
	schema.Tables = tables
	return report
}

func allowed(name string, allow, deny []string) bool {
	if matchesAny(name, deny) {
		return false
	}
	return len(allow) == 0 || matchesAny(name, allow)
}

func columnPatterns(patterns map[string][]string, table string) []string {
	if len(patterns) == 0 {
		return nil
	}
	return slices.Concat(patterns["*"], patterns[table])
}

// matchesAny matches value against path.Match globs, ignoring case. Malformed
// patterns never match.
func matchesAny(value string, patterns []string) bool {
	value = strings.ToLower(value)
	return slices.ContainsFunc(patterns, func(pattern string) bool {
		if pattern == "" {
			return false
		}
		ok, err := path.Match(strings.ToLower(pattern), value)
		return err == nil && ok
	})
}
