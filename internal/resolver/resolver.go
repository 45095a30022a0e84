// Package resolver shapes rows returned by an execution layer into the result
// documents described by a resolved plan. Rows are keyed by field name with
// relations expanded in place: an object for to-one relations and an array for
// to-many relations.
package resolver

import (
	"context"
	"fmt"

	"queryengine/internal/planner"
	"queryengine/internal/scalars"
)

// TypenameKey marks a polymorphic item whose collection falls outside the
// scopes the query selected.
const TypenameKey = "__typename"

// Project shapes rows according to plan's field tree.
func Project(ctx context.Context, plan *planner.Plan, rows []map[string]interface{}) ([]map[string]interface{}, error) {
	if plan == nil {
		return nil, fmt.Errorf("plan is required")
	}
	span := startRowSpan(ctx, "resolver.project", plan, len(rows))
	var err error
	defer func() { endRowSpan(span, err) }()

	out := make([]map[string]interface{}, 0, len(rows))
	for i, row := range rows {
		var shaped map[string]interface{}
		shaped, err = projectRow(plan.Fields, row, plan.Collection)
		if err != nil {
			err = fmt.Errorf("row %d: %w", i, err)
			return nil, err
		}
		out = append(out, shaped)
	}
	return out, nil
}

// ProjectRow shapes a single row.
func ProjectRow(plan *planner.Plan, row map[string]interface{}) (map[string]interface{}, error) {
	return projectRow(plan.Fields, row, plan.Collection)
}

func projectRow(nodes []planner.FieldNode, row map[string]interface{}, collection string) (map[string]interface{}, error) {
	out := make(map[string]interface{}, len(nodes))
	for _, node := range nodes {
		switch n := node.(type) {
		case *planner.WildcardField:
			for _, name := range n.Fields {
				out[name] = convertValue(row[name])
			}
		case *planner.PlainField:
			out[n.Key] = convertValue(row[n.Field])
		case *planner.FunctionField:
			value, err := functionValue(n, row)
			if err != nil {
				return nil, err
			}
			out[n.Key] = value
		case *planner.JSONField:
			out[n.Key] = extractJSON(n, row[n.Field])
		case *planner.RelationalField:
			value, err := projectRelation(n, row)
			if err != nil {
				return nil, fmt.Errorf("%s.%s: %w", collection, n.Key, err)
			}
			out[n.Key] = value
		default:
			return nil, fmt.Errorf("unsupported field node %T", node)
		}
	}
	return out, nil
}

func functionValue(n *planner.FunctionField, row map[string]interface{}) (interface{}, error) {
	value, present := row[n.Field]
	if !present {
		// Executors that compute functions themselves return them under the key.
		return convertValue(row[n.Key]), nil
	}
	return planner.ApplyFunction(n.Function, n.ArgKind, value)
}

// extractJSON is null-safe: a missing document, an unparsable document or a
// missing path all yield nil.
func extractJSON(n *planner.JSONField, raw interface{}) interface{} {
	doc, err := scalars.DecodeJSON(raw)
	if err != nil || doc == nil {
		return nil
	}
	value, _ := n.Path.Extract(doc)
	return value
}

func projectRelation(n *planner.RelationalField, row map[string]interface{}) (interface{}, error) {
	value := row[n.Field]
	if value == nil {
		if n.Kind.IsToMany() {
			return []interface{}{}, nil
		}
		return nil, nil
	}

	if n.KeysOnly {
		return keysOf(value, n.PrimaryKey)
	}

	if n.IsPolymorphic() {
		return projectItem(n, value, row)
	}

	if !n.Kind.IsToMany() {
		related, ok := value.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("relation is not expanded")
		}
		return projectRow(n.Children, related, n.Collection)
	}

	list, err := rowsOf(value)
	if err != nil {
		return nil, err
	}
	out := make([]interface{}, 0, len(list))
	for _, related := range list {
		shaped, err := projectRow(n.Children, related, n.Collection)
		if err != nil {
			return nil, err
		}
		out = append(out, shaped)
	}
	return out, nil
}

// projectItem shapes the target of a polymorphic pointer. The collection is
// read from the discriminator field of the row holding the pointer.
func projectItem(n *planner.RelationalField, value interface{}, row map[string]interface{}) (interface{}, error) {
	collection, _ := scalars.ToString(row[n.Discriminator])
	related, ok := value.(map[string]interface{})
	if !ok {
		// Unexpanded pointers keep their key.
		return convertValue(value), nil
	}
	arm, ok := n.Arms[collection]
	if !ok {
		return map[string]interface{}{TypenameKey: collection}, nil
	}
	return projectRow(arm.Children, related, arm.Collection)
}

func keysOf(value interface{}, primaryKey string) ([]interface{}, error) {
	switch v := value.(type) {
	case []interface{}:
		out := make([]interface{}, 0, len(v))
		for _, item := range v {
			if m, ok := item.(map[string]interface{}); ok {
				out = append(out, convertValue(m[primaryKey]))
				continue
			}
			out = append(out, convertValue(item))
		}
		return out, nil
	case []map[string]interface{}:
		out := make([]interface{}, 0, len(v))
		for _, m := range v {
			out = append(out, convertValue(m[primaryKey]))
		}
		return out, nil
	}
	return nil, fmt.Errorf("expected a list of keys, got %T", value)
}

func rowsOf(value interface{}) ([]map[string]interface{}, error) {
	switch v := value.(type) {
	case []map[string]interface{}:
		return v, nil
	case []interface{}:
		out := make([]map[string]interface{}, 0, len(v))
		for _, item := range v {
			m, ok := item.(map[string]interface{})
			if !ok {
				return nil, fmt.Errorf("relation is not expanded")
			}
			out = append(out, m)
		}
		return out, nil
	}
	return nil, fmt.Errorf("expected a list of rows, got %T", value)
}

func convertValue(val interface{}) interface{} {
	if val == nil {
		return nil
	}

	// Drivers return text columns as []byte.
	if b, ok := val.([]byte); ok {
		return string(b)
	}

	return val
}
