package catalog

import (
	"regexp"
	"sort"
	"strings"

	"queryengine/internal/scalars"
)

func newEntry(kind scalars.Kind, op Operator) Entry {
	e := Entry{EmptyAllowed: neverEmpty}

	switch op {
	case Eq:
		e.Validate = func(in, exp interface{}) bool { return equalValues(kind, in, exp) }
		e.Generate = eachValue
	case Neq:
		e.Validate = func(in, exp interface{}) bool {
			return in != nil && exp != nil && !equalValues(kind, in, exp)
		}
		e.Generate = eachValue
	case Lt, Lte, Gt, Gte:
		e.Validate = ordered(kind, op)
		e.Generate = eachValue
		if op == Lt || op == Gt {
			e.EmptyAllowed = outsideBound(kind, op)
		}
	case Between:
		e.Validate = between(kind)
		e.Generate = sortedRange(kind)
	case Nbetween:
		inRange := between(kind)
		e.Validate = func(in, exp interface{}) bool { return in != nil && !inRange(in, exp) }
		e.Generate = sortedRange(kind)
		e.EmptyAllowed = func(exp interface{}, population []interface{}) bool {
			for _, v := range population {
				if v != nil && !inRange(v, exp) {
					return false
				}
			}
			return true
		}
	case In:
		e.Validate = member(kind)
		e.Generate = firstHalf
	case Nin:
		isMember := member(kind)
		e.Validate = func(in, exp interface{}) bool { return in != nil && !isMember(in, exp) }
		e.Generate = firstHalf
	case Null, Nnull:
		e.Validate = flagged(op == Null, func(in interface{}) bool { return in == nil })
		e.Generate = flag
	case Empty, Nempty:
		e.Validate = flagged(op == Empty, isEmptyValue)
		e.Generate = flag
	case Contains, Icontains:
		e.Validate = textMatch(strings.Contains, op == Icontains)
		e.Generate = eachText(op == Icontains, wholeText)
	case Ncontains, Nicontains:
		e.Validate = negated(textMatch(strings.Contains, op == Nicontains))
		e.Generate = eachText(op == Nicontains, wholeText)
	case StartsWith, IstartsWith:
		e.Validate = textMatch(strings.HasPrefix, op == IstartsWith)
		e.Generate = eachText(op == IstartsWith, prefixHalf)
	case NstartsWith, NistartsWith:
		e.Validate = negated(textMatch(strings.HasPrefix, op == NistartsWith))
		e.Generate = eachText(op == NistartsWith, prefixHalf)
	case EndsWith, IendsWith:
		e.Validate = textMatch(strings.HasSuffix, op == IendsWith)
		e.Generate = eachText(op == IendsWith, suffixHalf)
	case NendsWith, NiendsWith:
		e.Validate = negated(textMatch(strings.HasSuffix, op == NiendsWith))
		e.Generate = eachText(op == NiendsWith, suffixHalf)
	case Ieq:
		e.Validate = textMatch(func(a, b string) bool { return a == b }, true)
		e.Generate = eachText(true, wholeText)
	case Nieq:
		e.Validate = negated(textMatch(func(a, b string) bool { return a == b }, true))
		e.Generate = eachText(true, wholeText)
	case Regex:
		e.Validate = matchesPattern
	}

	// Negated operators select nothing when every known value is excluded.
	switch op {
	case Neq, Nin, Null, Nnull, Empty, Nempty,
		Ncontains, Nicontains, NstartsWith, NistartsWith, NendsWith, NiendsWith, Nieq:
		e.EmptyAllowed = noneSatisfies(e.Validate)
	}
	return e
}

func neverEmpty(interface{}, []interface{}) bool { return false }

func noneSatisfies(validate ValidatorFunc) EmptyAllowedFunc {
	return func(exp interface{}, population []interface{}) bool {
		for _, v := range population {
			if validate(v, exp) {
				return false
			}
		}
		return true
	}
}

func ordered(kind scalars.Kind, op Operator) ValidatorFunc {
	return func(in, exp interface{}) bool {
		if in == nil || exp == nil {
			return false
		}
		cmp, ok := compareValues(kind, in, exp)
		if !ok {
			return false
		}
		switch op {
		case Lt:
			return cmp < 0
		case Lte:
			return cmp <= 0
		case Gt:
			return cmp > 0
		default:
			return cmp >= 0
		}
	}
}

// outsideBound allows an empty result for lt when the smallest known value is
// not below the bound, and for gt when the largest is not above it.
func outsideBound(kind scalars.Kind, op Operator) EmptyAllowedFunc {
	return func(exp interface{}, population []interface{}) bool {
		sorted := sortValues(kind, population)
		if len(sorted) == 0 {
			return true
		}
		extreme := sorted[0]
		if op == Gt {
			extreme = sorted[len(sorted)-1]
		}
		cmp, ok := compareValues(kind, extreme, exp)
		if !ok {
			return false
		}
		if op == Lt {
			return cmp >= 0
		}
		return cmp <= 0
	}
}

func between(kind scalars.Kind) ValidatorFunc {
	return func(in, exp interface{}) bool {
		bounds, ok := scalars.ToList(exp)
		if in == nil || !ok || len(bounds) != 2 {
			return false
		}
		lo, okLo := compareValues(kind, in, bounds[0])
		hi, okHi := compareValues(kind, in, bounds[1])
		return okLo && okHi && lo >= 0 && hi <= 0
	}
}

func member(kind scalars.Kind) ValidatorFunc {
	return func(in, exp interface{}) bool {
		set, ok := scalars.ToList(exp)
		if in == nil || !ok {
			return false
		}
		for _, candidate := range set {
			if equalValues(kind, in, candidate) {
				return true
			}
		}
		return false
	}
}

// flagged implements the null and empty families, whose operand is a boolean
// that inverts the check when false.
func flagged(positive bool, check func(interface{}) bool) ValidatorFunc {
	return func(in, exp interface{}) bool {
		want, ok := scalars.ToBool(exp)
		if !ok {
			want = true
		}
		if !positive {
			want = !want
		}
		return check(in) == want
	}
}

func textMatch(match func(s, sub string) bool, insensitive bool) ValidatorFunc {
	return func(in, exp interface{}) bool {
		s, okIn := textOf(in)
		sub, okExp := textOf(exp)
		if !okIn || !okExp {
			return false
		}
		if insensitive {
			s, sub = fold(s), fold(sub)
		}
		return match(s, sub)
	}
}

// negated excludes null inputs the way SQL NOT LIKE does.
func negated(validate ValidatorFunc) ValidatorFunc {
	return func(in, exp interface{}) bool {
		return in != nil && !validate(in, exp)
	}
}

func matchesPattern(in, exp interface{}) bool {
	s, okIn := textOf(in)
	pattern, okExp := textOf(exp)
	if !okIn || !okExp {
		return false
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return false
	}
	return re.MatchString(s)
}

func eachValue(population []interface{}) []interface{} {
	out := make([]interface{}, 0, len(population))
	for _, v := range population {
		if v != nil {
			out = append(out, v)
		}
	}
	return out
}

func flag([]interface{}) []interface{} {
	return []interface{}{true}
}

func firstHalf(population []interface{}) []interface{} {
	values := eachValue(population)
	if len(values) == 0 {
		return nil
	}
	half := (len(values) + 1) / 2
	set := make([]interface{}, half)
	copy(set, values[:half])
	return []interface{}{set}
}

func sortedRange(kind scalars.Kind) GenerateFunc {
	return func(population []interface{}) []interface{} {
		sorted := sortValues(kind, population)
		if len(sorted) == 0 {
			return nil
		}
		return []interface{}{[]interface{}{sorted[0], sorted[len(sorted)/2]}}
	}
}

// sortValues returns the non-null values ordered by the kind's comparison.
// Values that cannot be coerced are dropped.
func sortValues(kind scalars.Kind, population []interface{}) []interface{} {
	sorted := make([]interface{}, 0, len(population))
	for _, v := range population {
		if v == nil {
			continue
		}
		if _, ok := compareValues(kind, v, v); ok {
			sorted = append(sorted, v)
		}
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		cmp, _ := compareValues(kind, sorted[i], sorted[j])
		return cmp < 0
	})
	return sorted
}

func eachText(insensitive bool, cut func(string) string) GenerateFunc {
	return func(population []interface{}) []interface{} {
		out := make([]interface{}, 0, len(population))
		for _, v := range population {
			s, ok := textOf(v)
			if !ok {
				continue
			}
			s = cut(s)
			if insensitive {
				s = toUpper(s)
			}
			out = append(out, s)
		}
		return out
	}
}

func wholeText(s string) string { return s }

func prefixHalf(s string) string {
	r := []rune(s)
	if len(r) < 2 {
		return s
	}
	return string(r[:(len(r)+1)/2])
}

func suffixHalf(s string) string {
	r := []rune(s)
	if len(r) < 2 {
		return s
	}
	return string(r[len(r)/2:])
}
