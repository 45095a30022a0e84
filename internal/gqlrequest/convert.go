package gqlrequest

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/graphql-go/graphql/language/ast"

	"queryengine/internal/planner"
	"queryengine/internal/schema"
)

// AggregatedSuffix marks a root field that aggregates its collection, as in
// foods_aggregated { count { id } }.
const AggregatedSuffix = "_aggregated"

// CollectionQuery is one root field of a document, converted.
type CollectionQuery struct {
	// Key is the response key: the root field's alias or name.
	Key        string        `json:"key"`
	Collection string        `json:"collection"`
	Query      planner.Query `json:"query"`
}

// argument names accepted on root fields and on nested relational fields.
var queryArguments = map[string]bool{
	"filter": true,
	"sort":   true,
	"limit":  true,
	"offset": true,
	"page":   true,
	"search": true,
}

// ToQueries converts every root field of the selected operation into a
// collection query. graph tells relational fields apart from plain ones so
// type conditions can scope polymorphic relations.
func ToQueries(graph *schema.Graph, analysis *Analysis, variables map[string]interface{}) ([]CollectionQuery, error) {
	if graph == nil {
		return nil, fmt.Errorf("schema graph is required")
	}
	if err := analysis.Err(); err != nil {
		return nil, err
	}
	op := analysis.Operation

	c := &converter{
		graph:     graph,
		fragments: analysis.Fragments,
		vars:      withDefaults(op, variables),
	}

	var out []CollectionQuery
	err := c.eachField(op.SelectionSet, map[string]bool{}, func(field *ast.Field) error {
		if field.Name.Value == "__typename" {
			return nil
		}
		q, err := c.root(field)
		if err != nil {
			return fmt.Errorf("%s: %w", responseKey(field), err)
		}
		out = append(out, q)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func withDefaults(op *ast.OperationDefinition, variables map[string]interface{}) map[string]interface{} {
	vars := make(map[string]interface{}, len(variables))
	for k, v := range variables {
		vars[k] = v
	}
	for _, def := range op.VariableDefinitions {
		if def == nil || def.Variable == nil || def.Variable.Name == nil || def.DefaultValue == nil {
			continue
		}
		name := def.Variable.Name.Value
		if _, ok := vars[name]; ok {
			continue
		}
		if value, err := literal(def.DefaultValue, nil); err == nil {
			vars[name] = value
		}
	}
	return vars
}

type converter struct {
	graph     *schema.Graph
	fragments map[string]*ast.FragmentDefinition
	vars      map[string]interface{}
}

// level collects what one selection set contributes to the query.
type level struct {
	fields []string
	alias  map[string]interface{}
	deep   map[string]interface{}
}

func newLevel() *level {
	return &level{alias: map[string]interface{}{}, deep: map[string]interface{}{}}
}

func (c *converter) root(field *ast.Field) (CollectionQuery, error) {
	name := field.Name.Value
	out := CollectionQuery{Key: responseKey(field), Collection: name}

	aggregated := strings.HasSuffix(name, AggregatedSuffix)
	if aggregated {
		out.Collection = strings.TrimSuffix(name, AggregatedSuffix)
	}
	if field.SelectionSet == nil {
		return out, fmt.Errorf("a selection set is required")
	}

	doc := map[string]interface{}{}
	args, err := c.arguments(field, aggregated)
	if err != nil {
		return out, err
	}
	for k, v := range args {
		doc[k] = v
	}

	if aggregated {
		aggregate, err := c.aggregate(field.SelectionSet)
		if err != nil {
			return out, err
		}
		doc["aggregate"] = aggregate
	} else {
		lvl := newLevel()
		if err := c.walk(field.SelectionSet, out.Collection, "", lvl, map[string]bool{}); err != nil {
			return out, err
		}
		doc["fields"] = lvl.fields
		if len(lvl.alias) > 0 {
			doc["alias"] = lvl.alias
		}
		if len(lvl.deep) > 0 {
			doc["deep"] = lvl.deep
		}
	}

	// Round-trip through the loose JSON shape so arguments get the same
	// normalization as a JSON query.
	raw, err := json.Marshal(doc)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(raw, &out.Query); err != nil {
		return out, err
	}
	return out, nil
}

func (c *converter) arguments(field *ast.Field, aggregated bool) (map[string]interface{}, error) {
	out := make(map[string]interface{}, len(field.Arguments))
	for _, arg := range field.Arguments {
		name := arg.Name.Value
		if !queryArguments[name] && !(aggregated && name == "groupBy") {
			return nil, fmt.Errorf("unknown argument %q", name)
		}
		value, err := literal(arg.Value, c.vars)
		if err != nil {
			return nil, fmt.Errorf("argument %q: %w", name, err)
		}
		if value == nil {
			continue
		}
		out[name] = value
	}
	return out, nil
}

// walk records the selections of set, made on collection at prefix. An empty
// collection is one the graph could not name; the planner reports those paths.
func (c *converter) walk(set *ast.SelectionSet, collection, prefix string, lvl *level, inFlight map[string]bool) error {
	if set == nil {
		return nil
	}
	for _, selection := range set.Selections {
		switch sel := selection.(type) {
		case *ast.Field:
			if err := c.field(sel, collection, prefix, lvl, inFlight); err != nil {
				return err
			}
		case *ast.InlineFragment:
			if err := c.fragment(typeCondition(sel.TypeCondition), sel.SelectionSet, collection, prefix, lvl, inFlight); err != nil {
				return err
			}
		case *ast.FragmentSpread:
			name := spreadName(sel)
			if inFlight[name] {
				return fmt.Errorf("fragment %q spreads itself", name)
			}
			fragment, ok := c.fragments[name]
			if !ok {
				return fmt.Errorf("unknown fragment %q", name)
			}
			inFlight[name] = true
			err := c.fragment(typeCondition(fragment.TypeCondition), fragment.SelectionSet, collection, prefix, lvl, inFlight)
			delete(inFlight, name)
			if err != nil {
				return err
			}
		}
	}
	return nil
}

func (c *converter) field(field *ast.Field, collection, prefix string, lvl *level, inFlight map[string]bool) error {
	name := field.Name.Value
	if name == "__typename" {
		return nil
	}
	key := responseKey(field)
	if key != name {
		lvl.alias[key] = name
	}
	path := joinPath(prefix, key)

	if field.SelectionSet == nil {
		if len(field.Arguments) > 0 {
			return fmt.Errorf("%s: arguments are only allowed on relational fields", path)
		}
		lvl.fields = append(lvl.fields, path)
		return nil
	}

	args, err := c.arguments(field, false)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}

	related, polymorphic := c.related(collection, name)
	if polymorphic {
		return c.pointer(field, name, key, path, args, lvl, inFlight)
	}

	clause := clauseFor(lvl.deep, name)
	for k, v := range args {
		clause["_"+k] = v
	}
	child := newLevel()
	child.deep = clause
	if err := c.walk(field.SelectionSet, related, path, child, inFlight); err != nil {
		return err
	}
	if len(child.fields) == 0 {
		return fmt.Errorf("%s: selection set is empty", path)
	}
	lvl.fields = append(lvl.fields, child.fields...)
	return attachClause(lvl.deep, name, key != name, clause, child.alias, path)
}

// pointer records the selections made through a polymorphic relation. Type
// conditions scope them to one target collection each.
func (c *converter) pointer(field *ast.Field, name, key, path string, args map[string]interface{}, lvl *level, inFlight map[string]bool) error {
	clause := clauseFor(lvl.deep, name)
	for k, v := range args {
		clause["_"+k] = v
	}
	unscoped := newLevel()
	unscoped.deep = clause

	var visit func(set *ast.SelectionSet) error
	visit = func(set *ast.SelectionSet) error {
		for _, selection := range set.Selections {
			var (
				condition string
				inner     *ast.SelectionSet
			)
			switch sel := selection.(type) {
			case *ast.Field:
				if err := c.field(sel, "", path, unscoped, inFlight); err != nil {
					return err
				}
				continue
			case *ast.InlineFragment:
				condition, inner = typeCondition(sel.TypeCondition), sel.SelectionSet
			case *ast.FragmentSpread:
				fragName := spreadName(sel)
				fragment, ok := c.fragments[fragName]
				if !ok {
					return fmt.Errorf("unknown fragment %q", fragName)
				}
				if inFlight[fragName] {
					return fmt.Errorf("fragment %q spreads itself", fragName)
				}
				condition, inner = typeCondition(fragment.TypeCondition), fragment.SelectionSet
				inFlight[fragName] = true
				defer delete(inFlight, fragName)
			}
			if condition == "" {
				if err := visit(inner); err != nil {
					return err
				}
				continue
			}

			scopedKey := name + ":" + condition
			scopedPath := path + ":" + condition
			arm := clauseFor(lvl.deep, scopedKey)
			child := newLevel()
			child.deep = arm
			if err := c.walk(inner, condition, scopedPath, child, inFlight); err != nil {
				return err
			}
			if len(child.fields) == 0 {
				return fmt.Errorf("%s: selection set is empty", scopedPath)
			}
			lvl.fields = append(lvl.fields, child.fields...)
			if err := attachClause(lvl.deep, scopedKey, key != name, arm, child.alias, scopedPath); err != nil {
				return err
			}
		}
		return nil
	}
	if err := visit(field.SelectionSet); err != nil {
		return err
	}
	lvl.fields = append(lvl.fields, unscoped.fields...)
	return attachClause(lvl.deep, name, key != name, clause, unscoped.alias, path)
}

func clauseFor(deep map[string]interface{}, key string) map[string]interface{} {
	if clause, ok := deep[key].(map[string]interface{}); ok {
		return clause
	}
	return map[string]interface{}{}
}

// attachClause stores a non-empty deep clause under key, merging the aliases
// chosen inside the relation.
func attachClause(deep map[string]interface{}, key string, aliased bool, clause, alias map[string]interface{}, path string) error {
	if len(alias) > 0 {
		merged, _ := clause["_alias"].(map[string]interface{})
		if merged == nil {
			merged = map[string]interface{}{}
		}
		for k, v := range alias {
			merged[k] = v
		}
		clause["_alias"] = merged
	}
	if len(clause) == 0 {
		return nil
	}
	if aliased {
		return fmt.Errorf("%s: arguments and nested aliases are not supported below an aliased relation", path)
	}
	deep[key] = clause
	return nil
}

// fragment applies a type condition outside polymorphic relations, where it
// must name the collection the selections are made on.
func (c *converter) fragment(condition string, set *ast.SelectionSet, collection, prefix string, lvl *level, inFlight map[string]bool) error {
	if condition != "" && collection != "" && condition != collection {
		return fmt.Errorf("fragment on %q cannot apply to %q", condition, collection)
	}
	return c.walk(set, collection, prefix, lvl, inFlight)
}

// related returns the collection a relational field leads to. Polymorphic
// pointers report an empty collection and true.
func (c *converter) related(collection, name string) (string, bool) {
	if collection == "" {
		return "", false
	}
	coll, err := c.graph.Collection(collection)
	if err != nil {
		return "", false
	}
	field, ok := coll.Field(name)
	if !ok {
		return "", false
	}
	rel := field.Relation()
	if rel == nil {
		return "", false
	}
	if rel.Kind == schema.AnyToOne {
		return "", true
	}
	return rel.Related, false
}

func (c *converter) aggregate(set *ast.SelectionSet) (map[string]interface{}, error) {
	out := map[string]interface{}{}
	err := c.eachField(set, map[string]bool{}, func(field *ast.Field) error {
		fn := field.Name.Value
		switch fn {
		case "__typename", "group":
			return nil
		case "countAll":
			out[fn] = []string{"*"}
			return nil
		}
		if field.SelectionSet == nil {
			return fmt.Errorf("%s: select the fields to aggregate", fn)
		}
		var names []string
		err := c.eachField(field.SelectionSet, map[string]bool{}, func(f *ast.Field) error {
			if f.Name.Value != "__typename" {
				names = append(names, f.Name.Value)
			}
			return nil
		})
		if err != nil {
			return err
		}
		out[fn] = names
		return nil
	})
	return out, err
}

// eachField visits the fields of set, flattening fragments.
func (c *converter) eachField(set *ast.SelectionSet, inFlight map[string]bool, fn func(*ast.Field) error) error {
	if set == nil {
		return nil
	}
	for _, selection := range set.Selections {
		switch sel := selection.(type) {
		case *ast.Field:
			if err := fn(sel); err != nil {
				return err
			}
		case *ast.InlineFragment:
			if err := c.eachField(sel.SelectionSet, inFlight, fn); err != nil {
				return err
			}
		case *ast.FragmentSpread:
			name := spreadName(sel)
			fragment, ok := c.fragments[name]
			if !ok {
				return fmt.Errorf("unknown fragment %q", name)
			}
			if inFlight[name] {
				return fmt.Errorf("fragment %q spreads itself", name)
			}
			inFlight[name] = true
			err := c.eachField(fragment.SelectionSet, inFlight, fn)
			delete(inFlight, name)
			if err != nil {
				return err
			}
		}
	}
	return nil
}

// literal converts an argument value. Numbers become json.Number.
func literal(value ast.Value, vars map[string]interface{}) (interface{}, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case *ast.Variable:
		if v.Name == nil {
			return nil, fmt.Errorf("variable without a name")
		}
		return vars[v.Name.Value], nil
	case *ast.IntValue:
		return json.Number(v.Value), nil
	case *ast.FloatValue:
		return json.Number(v.Value), nil
	case *ast.StringValue:
		return v.Value, nil
	case *ast.BooleanValue:
		return v.Value, nil
	case *ast.EnumValue:
		return v.Value, nil
	case *ast.ListValue:
		out := make([]interface{}, 0, len(v.Values))
		for _, item := range v.Values {
			converted, err := literal(item, vars)
			if err != nil {
				return nil, err
			}
			out = append(out, converted)
		}
		return out, nil
	case *ast.ObjectValue:
		out := make(map[string]interface{}, len(v.Fields))
		for _, f := range v.Fields {
			converted, err := literal(f.Value, vars)
			if err != nil {
				return nil, err
			}
			out[f.Name.Value] = converted
		}
		return out, nil
	}
	return nil, fmt.Errorf("unsupported value %T", value)
}

func responseKey(field *ast.Field) string {
	if field.Alias != nil && field.Alias.Value != "" {
		return field.Alias.Value
	}
	return field.Name.Value
}

func typeCondition(named *ast.Named) string {
	if named == nil || named.Name == nil {
		return ""
	}
	return named.Name.Value
}

func joinPath(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + "." + key
}

// Collections lists the collections a converted request touches at its root.
func Collections(queries []CollectionQuery) []string {
	seen := map[string]bool{}
	var out []string
	for _, q := range queries {
		if !seen[q.Collection] {
			seen[q.Collection] = true
			out = append(out, q.Collection)
		}
	}
	sort.Strings(out)
	return out
}
