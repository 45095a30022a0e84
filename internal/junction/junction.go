// Package junction recognizes tables that link two collections many-to-many.
// A junction is classified as pure (only key columns) or as carrying
// attributes of its own; both become ManyToMany aliases on either side.
package junction

import (
	"queryengine/internal/introspection"
)

// Type classifies a junction table.
type Type int

const (
	// NotJunction indicates the table is not a junction table.
	NotJunction Type = iota
	// PureJunction holds nothing but its two foreign keys and a surrogate key.
	PureJunction
	// AttributeJunction holds extra columns such as a quantity or position.
	AttributeJunction
)

// String returns a human-readable representation of the junction type.
func (t Type) String() string {
	switch t {
	case NotJunction:
		return "NotJunction"
	case PureJunction:
		return "PureJunction"
	case AttributeJunction:
		return "AttributeJunction"
	default:
		return "Unknown"
	}
}

// FKInfo contains foreign key details for junction detection.
type FKInfo struct {
	ColumnName       string // FK column in the junction (e.g., "parent_id")
	ReferencedTable  string // Target table (e.g., "foods")
	ReferencedColumn string // Target column (e.g., "id")
}

// Info contains classification metadata for a junction table.
type Info struct {
	Table string
	Type  Type
	// LeftFK sorts first by referenced table, then by column name, so that
	// self-referencing junctions get a stable orientation.
	LeftFK  FKInfo
	RightFK FKInfo
	// AttributeColumns lists columns outside both foreign keys and the primary key.
	AttributeColumns []string
}

// IsSelfReferencing reports whether both sides point at the same table.
func (i Info) IsSelfReferencing() bool {
	return i.LeftFK.ReferencedTable == i.RightFK.ReferencedTable
}

// Other returns the foreign key opposite to the given column.
func (i Info) Other(column string) (FKInfo, bool) {
	switch column {
	case i.LeftFK.ColumnName:
		return i.RightFK, true
	case i.RightFK.ColumnName:
		return i.LeftFK, true
	}
	return FKInfo{}, false
}

// Map maps junction table names to their classification info.
type Map map[string]Info

// Classify analyzes schema tables and returns junction classifications.
// A table is classified as a junction when:
//   - It has exactly 2 single-column foreign keys
//   - All FK columns are NOT NULL
//   - The primary key or a unique index covers both FK columns
//   - Both referenced tables exist in the schema with a single-column primary key
func Classify(schema *introspection.Schema) Map {
	result := make(Map)
	for _, table := range schema.Tables {
		if table.IsView {
			continue
		}
		if info, ok := classifyTable(schema, table); ok {
			result[table.Name] = info
		}
	}
	return result
}

func classifyTable(schema *introspection.Schema, table introspection.Table) (Info, bool) {
	constraints := table.ForeignKeyConstraints()
	if len(constraints) != 2 || constraints[0].IsComposite() || constraints[1].IsComposite() {
		return Info{}, false
	}
	fk1, fk2 := fkInfo(constraints[0]), fkInfo(constraints[1])
	if fk1.ColumnName == fk2.ColumnName {
		return Info{}, false
	}

	for _, fk := range []FKInfo{fk1, fk2} {
		target, ok := schema.Table(fk.ReferencedTable)
		if !ok {
			return Info{}, false
		}
		if _, ok := target.PrimaryKey(); !ok {
			return Info{}, false
		}
		col, ok := table.Column(fk.ColumnName)
		if !ok || col.IsNullable {
			return Info{}, false
		}
	}

	if !table.HasUniqueCover(fk1.ColumnName, fk2.ColumnName) {
		return Info{}, false
	}

	attrs := attributeColumns(table, fk1.ColumnName, fk2.ColumnName)
	junctionType := PureJunction
	if len(attrs) > 0 {
		junctionType = AttributeJunction
	}

	left, right := orderFKs(fk1, fk2)
	return Info{
		Table:            table.Name,
		Type:             junctionType,
		LeftFK:           left,
		RightFK:          right,
		AttributeColumns: attrs,
	}, true
}

func fkInfo(c introspection.ForeignKeyConstraint) FKInfo {
	return FKInfo{
		ColumnName:       c.ColumnNames[0],
		ReferencedTable:  c.ReferencedTable,
		ReferencedColumn: c.ReferencedColumns[0],
	}
}

func attributeColumns(table introspection.Table, fkCols ...string) []string {
	skip := make(map[string]bool, len(fkCols))
	for _, c := range fkCols {
		skip[c] = true
	}
	var attrs []string
	for _, col := range table.Columns {
		if skip[col.Name] || col.IsPrimaryKey {
			continue
		}
		attrs = append(attrs, col.Name)
	}
	return attrs
}

func orderFKs(a, b FKInfo) (FKInfo, FKInfo) {
	if a.ReferencedTable > b.ReferencedTable ||
		(a.ReferencedTable == b.ReferencedTable && a.ColumnName > b.ColumnName) {
		return b, a
	}
	return a, b
}
