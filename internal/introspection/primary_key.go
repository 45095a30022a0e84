package introspection

// PrimaryKey returns the table's single primary key column. Tables without a
// primary key, or with a composite one, report false.
func (t Table) PrimaryKey() (Column, bool) {
	var pk Column
	found := 0
	for _, col := range t.Columns {
		if col.IsPrimaryKey {
			pk = col
			found++
		}
	}
	return pk, found == 1
}

// HasUniqueCover reports whether the primary key or a unique index covers
// every named column.
func (t Table) HasUniqueCover(columns ...string) bool {
	var pk []string
	for _, col := range t.Columns {
		if col.IsPrimaryKey {
			pk = append(pk, col.Name)
		}
	}
	if covers(pk, columns) {
		return true
	}
	for _, idx := range t.Indexes {
		if idx.Unique && covers(idx.Columns, columns) {
			return true
		}
	}
	return false
}

func covers(set, required []string) bool {
	if len(set) == 0 {
		return false
	}
	have := make(map[string]bool, len(set))
	for _, c := range set {
		have[c] = true
	}
	for _, c := range required {
		if !have[c] {
			return false
		}
	}
	return true
}
