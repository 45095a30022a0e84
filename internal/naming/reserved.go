package naming

import "strings"

// AggregatedSuffix marks aggregate root fields in GraphQL requests, so no
// collection may end with it.
const AggregatedSuffix = "_aggregated"

// pathSeparators have meaning inside field paths and function expressions.
const pathSeparators = ".:(),$ "

// ValidFieldName reports whether name can be addressed in a field path.
// Names starting with an underscore collide with filter operators and
// deep parameters.
func ValidFieldName(name string) bool {
	if name == "" || strings.HasPrefix(name, "_") || name == "*" {
		return false
	}
	return !strings.ContainsAny(name, pathSeparators)
}

// ValidCollectionName reports whether name can be used as a collection.
func ValidCollectionName(name string) bool {
	return ValidFieldName(name) && !strings.HasSuffix(strings.ToLower(name), AggregatedSuffix)
}

// sanitize rewrites a generated name so that it passes ValidFieldName.
func sanitize(name string) string {
	var b strings.Builder
	for _, r := range name {
		if strings.ContainsRune(pathSeparators, r) {
			b.WriteByte('_')
			continue
		}
		b.WriteRune(r)
	}
	out := strings.TrimLeft(b.String(), "_")
	if out == "" || out == "*" {
		return "field"
	}
	return out
}
