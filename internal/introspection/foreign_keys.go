package introspection

import (
	"fmt"
	"sort"
)

// ForeignKeyConstraint groups KEY_COLUMN_USAGE rows into one constraint.
type ForeignKeyConstraint struct {
	ConstraintName    string
	ReferencedTable   string
	ColumnNames       []string
	ReferencedColumns []string
}

// IsComposite reports whether the constraint spans more than one column.
func (fk ForeignKeyConstraint) IsComposite() bool {
	return len(fk.ColumnNames) != 1
}

// ForeignKeyConstraints returns the table's constraints ordered by name, with
// columns in ordinal order.
func (t Table) ForeignKeyConstraints() []ForeignKeyConstraint {
	if len(t.ForeignKeys) == 0 {
		return nil
	}

	keys := make([]string, len(t.ForeignKeys))
	order := make([]int, len(t.ForeignKeys))
	for i, fk := range t.ForeignKeys {
		keys[i] = fk.ConstraintName
		if keys[i] == "" {
			// Unnamed rows never merge.
			keys[i] = fmt.Sprintf("\x00%04d", i)
		}
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		i, j := order[a], order[b]
		if keys[i] != keys[j] {
			return keys[i] < keys[j]
		}
		return t.ForeignKeys[i].OrdinalPosition < t.ForeignKeys[j].OrdinalPosition
	})

	var out []ForeignKeyConstraint
	last := ""
	for n, i := range order {
		fk := t.ForeignKeys[i]
		if n == 0 || keys[i] != last {
			out = append(out, ForeignKeyConstraint{ConstraintName: fk.ConstraintName, ReferencedTable: fk.ReferencedTable})
			last = keys[i]
		}
		group := &out[len(out)-1]
		group.ColumnNames = append(group.ColumnNames, fk.ColumnName)
		group.ReferencedColumns = append(group.ReferencedColumns, fk.ReferencedColumn)
	}
	return out
}
