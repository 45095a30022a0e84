package planner

import (
	"fmt"
	"strings"

	"queryengine/internal/catalog"
	"queryengine/internal/scalars"
)

// FollowFunc returns the junction rows whose joinField references row.
type FollowFunc func(junction, joinField string, row map[string]interface{}) ([]map[string]interface{}, error)

type evaluator struct {
	catalog *catalog.Catalog
	follow  FollowFunc
}

// EvalOption configures Evaluate.
type EvalOption func(*evaluator)

// WithEvalCatalog evaluates predicates with c instead of the default catalog.
func WithEvalCatalog(c *catalog.Catalog) EvalOption {
	return func(e *evaluator) { e.catalog = c }
}

// WithFollow supplies the junction rows for $FOLLOW predicates. Without it the
// rows are read from the row itself, under the predicate's filter key.
func WithFollow(fn FollowFunc) EvalOption {
	return func(e *evaluator) { e.follow = fn }
}

// Evaluate reports whether row satisfies node. Relational predicates read the
// related rows nested in row: an object for to-one relations, an array for
// to-many relations.
func Evaluate(node FilterNode, row map[string]interface{}, opts ...EvalOption) (bool, error) {
	e := &evaluator{catalog: catalog.Default()}
	for _, opt := range opts {
		opt(e)
	}
	return e.eval(node, row)
}

func (e *evaluator) eval(node FilterNode, row map[string]interface{}) (bool, error) {
	switch n := node.(type) {
	case nil:
		return true, nil
	case *And:
		for _, child := range n.Children {
			ok, err := e.eval(child, row)
			if err != nil || !ok {
				return false, err
			}
		}
		return true, nil
	case *Or:
		for _, child := range n.Children {
			ok, err := e.eval(child, row)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil
	case *FieldPredicate:
		return e.catalog.Match(n.Kind, n.Operator, row[n.Field], n.Operand)
	case *FunctionPredicate:
		value, err := ApplyFunction(n.Function, n.ArgKind, row[n.Field])
		if err != nil {
			return false, err
		}
		return e.catalog.Match(scalars.Integer, n.Operator, value, n.Operand)
	case *RelationalPredicate:
		return e.evalRelational(n, row)
	case *FollowPredicate:
		return e.evalFollow(n, row)
	default:
		return false, fmt.Errorf("unsupported filter node %T", node)
	}
}

func (e *evaluator) evalRelational(n *RelationalPredicate, row map[string]interface{}) (bool, error) {
	value := row[n.Field]
	if !n.Kind.IsToMany() {
		if value == nil {
			return false, nil
		}
		if n.Scope != "" {
			if collection, _ := scalars.ToString(row[n.Discriminator]); collection != n.Scope {
				return false, nil
			}
		}
		related, ok := asRow(value)
		if !ok {
			return false, fmt.Errorf("relation %q is not expanded in the row", n.Field)
		}
		return e.eval(n.Filter, related)
	}

	rows, err := asRows(n.Field, value)
	if err != nil {
		return false, err
	}
	return e.quantify(n.Quantifier, n.Filter, rows)
}

func (e *evaluator) evalFollow(n *FollowPredicate, row map[string]interface{}) (bool, error) {
	var rows []map[string]interface{}
	if e.follow != nil {
		var err error
		if rows, err = e.follow(n.Junction, n.JoinField, row); err != nil {
			return false, fmt.Errorf("failed to follow %s: %w", n.Key(), err)
		}
	} else {
		var err error
		if rows, err = asRows(n.Key(), row[n.Key()]); err != nil {
			return false, err
		}
	}
	return e.quantify(n.Quantifier, n.Filter, rows)
}

func (e *evaluator) quantify(q Quantifier, filter FilterNode, rows []map[string]interface{}) (bool, error) {
	for _, related := range rows {
		ok, err := e.eval(filter, related)
		if err != nil {
			return false, err
		}
		switch {
		case ok && q == QuantifierSome:
			return true, nil
		case ok && q == QuantifierNone:
			return false, nil
		case !ok && q == QuantifierAll:
			return false, nil
		}
	}
	return q != QuantifierSome, nil
}

func asRow(value interface{}) (map[string]interface{}, bool) {
	m, ok := value.(map[string]interface{})
	return m, ok
}

func asRows(field string, value interface{}) ([]map[string]interface{}, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case []map[string]interface{}:
		return v, nil
	case []interface{}:
		out := make([]map[string]interface{}, 0, len(v))
		for _, item := range v {
			m, ok := item.(map[string]interface{})
			if !ok {
				return nil, fmt.Errorf("relation %q is not expanded in the row", field)
			}
			out = append(out, m)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("relation %q must hold a list of rows, got %T", field, value)
	}
}

// ApplyFunction computes a field function over a row value. Null inputs yield
// null, except count() over a relation, which yields 0.
func ApplyFunction(fn Function, argKind scalars.Kind, value interface{}) (interface{}, error) {
	if fn == FuncCount {
		return countOf(argKind, value)
	}
	if value == nil {
		return nil, nil
	}
	t, ok := scalars.ToTime(value)
	if !ok {
		return nil, fmt.Errorf("%s() cannot read %v as a date", fn, value)
	}
	switch fn {
	case FuncYear:
		return t.Year(), nil
	case FuncMonth:
		return int(t.Month()), nil
	case FuncWeek:
		_, week := t.ISOWeek()
		return week, nil
	case FuncDay:
		return t.Day(), nil
	case FuncWeekday:
		return int(t.Weekday()), nil
	case FuncHour:
		return t.Hour(), nil
	case FuncMinute:
		return t.Minute(), nil
	case FuncSecond:
		return t.Second(), nil
	}
	return nil, fmt.Errorf("unknown function %q", fn)
}

func countOf(argKind scalars.Kind, value interface{}) (interface{}, error) {
	switch argKind {
	case scalars.JSON:
		if value == nil {
			return nil, nil
		}
		doc, err := scalars.DecodeJSON(value)
		if err != nil {
			return nil, err
		}
		switch d := doc.(type) {
		case []interface{}:
			return len(d), nil
		case map[string]interface{}:
			return len(d), nil
		case nil:
			return nil, nil
		default:
			return 1, nil
		}
	case scalars.CSV:
		if value == nil {
			return nil, nil
		}
		s, _ := scalars.ToString(value)
		if strings.TrimSpace(s) == "" {
			return 0, nil
		}
		return len(strings.Split(s, ",")), nil
	default:
		switch v := value.(type) {
		case nil:
			return 0, nil
		case []interface{}:
			return len(v), nil
		case []map[string]interface{}:
			return len(v), nil
		default:
			// Executors may return the count itself.
			if n, ok := scalars.ToFloat(v); ok {
				return int(n), nil
			}
			return nil, fmt.Errorf("count() cannot read %T", value)
		}
	}
}
