package catalog

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"queryengine/internal/scalars"
	"queryengine/internal/uuidutil"
)

// fold returns the case-folded form used by the case-insensitive operators.
// Casers are stateful, so one is created per call.
func fold(s string) string {
	return cases.Fold().String(s)
}

func toUpper(s string) string {
	return cases.Upper(language.Und).String(s)
}

// compareValues orders two non-null values of the given kind.
// ok is false when either side cannot be coerced to the kind.
func compareValues(kind scalars.Kind, a, b interface{}) (int, bool) {
	switch {
	case kind.IsNumeric():
		return scalars.CompareNumbers(kind, a, b)
	case kind.IsDateLike():
		ma, okA := scalars.ToEpochMillis(a)
		mb, okB := scalars.ToEpochMillis(b)
		if !okA || !okB {
			return 0, false
		}
		switch {
		case ma < mb:
			return -1, true
		case ma > mb:
			return 1, true
		}
		return 0, true
	case kind == scalars.Boolean:
		ba, okA := scalars.ToBool(a)
		bb, okB := scalars.ToBool(b)
		if !okA || !okB {
			return 0, false
		}
		if ba == bb {
			return 0, true
		}
		if !ba {
			return -1, true
		}
		return 1, true
	case kind == scalars.UUID:
		return uuidutil.Compare(a, b)
	default:
		sa, okA := scalars.ToString(a)
		sb, okB := scalars.ToString(b)
		if !okA || !okB {
			return 0, false
		}
		return strings.Compare(sa, sb), true
	}
}

func equalValues(kind scalars.Kind, a, b interface{}) bool {
	if a == nil || b == nil {
		return false
	}
	cmp, ok := compareValues(kind, a, b)
	return ok && cmp == 0
}

// textOf renders a value for the substring family of operators.
func textOf(value interface{}) (string, bool) {
	if value == nil {
		return "", false
	}
	return scalars.ToString(value)
}

// isEmptyValue implements the _empty notion: null or the empty string.
func isEmptyValue(value interface{}) bool {
	if value == nil {
		return true
	}
	s, ok := scalars.ToString(value)
	return ok && s == ""
}
