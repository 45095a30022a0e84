package planner

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"queryengine/internal/catalog"
	"queryengine/internal/scalars"
	"queryengine/internal/uuidutil"
)

// normalizeOperand checks an operand's shape for op and converts it to the
// form the catalog compares with. Date-like values become epoch milliseconds.
func normalizeOperand(kind scalars.Kind, op catalog.Operator, raw interface{}, now time.Time) (interface{}, error) {
	switch op {
	case catalog.Null, catalog.Nnull, catalog.Empty, catalog.Nempty:
		b, ok := scalars.ToBool(raw)
		if !ok {
			return nil, invalidQuery("%q requires a boolean value", op.Key())
		}
		return b, nil

	case catalog.In, catalog.Nin:
		list, ok := scalars.ToList(raw)
		if !ok {
			return nil, invalidQuery("%q requires an array or a comma-separated list", op.Key())
		}
		return normalizeList(kind, op, list, now)

	case catalog.Between, catalog.Nbetween:
		list, ok := scalars.ToList(raw)
		if !ok || len(list) != 2 {
			return nil, invalidQuery("%q requires exactly two values", op.Key())
		}
		return normalizeList(kind, op, list, now)

	case catalog.Regex:
		pattern, ok := raw.(string)
		if !ok {
			return nil, invalidQuery("%q requires a string pattern", op.Key())
		}
		if _, err := regexp.Compile(pattern); err != nil {
			return nil, invalidQuery("%q pattern is invalid: %v", op.Key(), err)
		}
		return pattern, nil

	case catalog.Contains, catalog.Ncontains, catalog.Icontains, catalog.Nicontains,
		catalog.StartsWith, catalog.NstartsWith, catalog.IstartsWith, catalog.NistartsWith,
		catalog.EndsWith, catalog.NendsWith, catalog.IendsWith, catalog.NiendsWith,
		catalog.Ieq, catalog.Nieq:
		s, ok := scalars.ToString(raw)
		if !ok {
			return nil, invalidQuery("%q requires a text value", op.Key())
		}
		return s, nil
	}
	return normalizeScalar(kind, op, raw, now)
}

func normalizeList(kind scalars.Kind, op catalog.Operator, list []interface{}, now time.Time) ([]interface{}, error) {
	out := make([]interface{}, len(list))
	for i, v := range list {
		n, err := normalizeScalar(kind, op, v, now)
		if err != nil {
			return nil, err
		}
		out[i] = n
	}
	return out, nil
}

func normalizeScalar(kind scalars.Kind, op catalog.Operator, raw interface{}, now time.Time) (interface{}, error) {
	if raw == nil {
		return nil, invalidQuery("%q requires a value", op.Key())
	}
	switch {
	case kind.IsDateLike():
		if s, ok := raw.(string); ok && strings.HasPrefix(s, "$NOW") {
			t, err := resolveNow(s, now)
			if err != nil {
				return nil, err
			}
			raw = formatForKind(kind, t)
		}
		ms, ok := scalars.ToEpochMillis(raw)
		if !ok {
			return nil, invalidQuery("%v is not a valid %s value for %q", raw, kind.String(), op.Key())
		}
		return ms, nil
	case kind.IsNumeric():
		if kind == scalars.BigInteger || kind == scalars.Decimal {
			if _, ok := scalars.ToDecimal(raw); !ok {
				return nil, invalidQuery("%v is not a valid %s value for %q", raw, kind.String(), op.Key())
			}
			return raw, nil
		}
		if _, ok := scalars.ToFloat(raw); !ok {
			return nil, invalidQuery("%v is not a valid %s value for %q", raw, kind.String(), op.Key())
		}
		return raw, nil
	case kind == scalars.Boolean:
		b, ok := scalars.ToBool(raw)
		if !ok {
			return nil, invalidQuery("%v is not a valid boolean value for %q", raw, op.Key())
		}
		return b, nil
	case kind == scalars.UUID:
		s, ok := uuidutil.Canonical(raw)
		if !ok {
			return nil, invalidQuery("%v is not a valid uuid for %q", raw, op.Key())
		}
		return s, nil
	default:
		s, ok := scalars.ToString(raw)
		if !ok {
			return nil, invalidQuery("%v is not a valid %s value for %q", raw, kind.String(), op.Key())
		}
		return s, nil
	}
}

func formatForKind(kind scalars.Kind, t time.Time) string {
	switch kind {
	case scalars.Date:
		return t.Format("2006-01-02")
	case scalars.Time:
		return t.Format("15:04:05")
	default:
		return t.Format(time.RFC3339Nano)
	}
}

// resolveNow evaluates $NOW and $NOW(<adjustment>) such as $NOW(-1 day) or
// $NOW(+2 hours).
func resolveNow(expr string, now time.Time) (time.Time, error) {
	if expr == "$NOW" {
		return now, nil
	}
	if !strings.HasPrefix(expr, "$NOW(") || !strings.HasSuffix(expr, ")") {
		return time.Time{}, invalidQuery("invalid dynamic value %q", expr)
	}
	adjust := strings.TrimSpace(expr[len("$NOW(") : len(expr)-1])
	fields := strings.Fields(adjust)
	if len(fields) != 2 {
		return time.Time{}, invalidQuery("invalid $NOW adjustment %q", adjust)
	}
	n, err := strconv.Atoi(strings.TrimPrefix(fields[0], "+"))
	if err != nil {
		return time.Time{}, invalidQuery("invalid $NOW adjustment %q", adjust)
	}
	switch strings.TrimSuffix(strings.ToLower(fields[1]), "s") {
	case "year":
		return now.AddDate(n, 0, 0), nil
	case "month":
		return now.AddDate(0, n, 0), nil
	case "week":
		return now.AddDate(0, 0, 7*n), nil
	case "day":
		return now.AddDate(0, 0, n), nil
	case "hour":
		return now.Add(time.Duration(n) * time.Hour), nil
	case "minute":
		return now.Add(time.Duration(n) * time.Minute), nil
	case "second":
		return now.Add(time.Duration(n) * time.Second), nil
	}
	return time.Time{}, invalidQuery("invalid $NOW unit %q", fields[1])
}
