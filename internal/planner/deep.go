package planner

import (
	"encoding/json"
	"fmt"
	"strings"

	"queryengine/internal/schema"
)

// DeepClause holds the query parameters applied to one nested relation:
// {"ingredients": {"_filter": {...}, "_sort": [...], "_limit": 5}}.
// Keys without a leading underscore nest further clauses.
type DeepClause struct {
	Key        string
	Field      string
	Kind       schema.RelationKind
	Collection string
	Depth      int
	Filter     FilterNode
	Sort       []SortKey
	Limit      *int
	Offset     *int
	Page       *int
	Search     string
	Alias      map[string]string
	Children   map[string]*DeepClause
}

func (d *DeepClause) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Key        string                 `json:"key"`
		Collection string                 `json:"collection"`
		Depth      int                    `json:"depth"`
		Filter     FilterNode             `json:"filter,omitempty"`
		Sort       []SortKey              `json:"sort,omitempty"`
		Limit      *int                   `json:"limit,omitempty"`
		Offset     *int                   `json:"offset,omitempty"`
		Page       *int                   `json:"page,omitempty"`
		Search     string                 `json:"search,omitempty"`
		Alias      map[string]string      `json:"alias,omitempty"`
		Children   map[string]*DeepClause `json:"children,omitempty"`
	}{d.Key, d.Collection, d.Depth, d.Filter, d.Sort, d.Limit, d.Offset, d.Page, d.Search, d.Alias, d.Children})
}

type deepParser struct {
	graph   *schema.Graph
	guard   *DepthGuard
	filters *filterParser
	sorts   *sortParser
	limits  Limits
}

func (p *deepParser) parse(collection string, raw map[string]interface{}, depth int, prefix string) (map[string]*DeepClause, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	coll, err := p.graph.Collection(collection)
	if err != nil {
		return nil, unresolved(collection, prefix, err)
	}

	out := make(map[string]*DeepClause, len(raw))
	for _, key := range sortedKeys(raw) {
		if strings.HasPrefix(key, "_") {
			return nil, invalidQuery("deep parameter %q must be nested under a relational field", key)
		}
		path := joinPath(prefix, key)
		name, scope := splitScope(key)
		field, ok := coll.Field(name)
		if !ok {
			return nil, &SchemaResolutionError{
				Collection: coll.Name,
				Path:       path,
				Err:        &schema.NotFoundError{Collection: coll.Name, Field: name, What: "field"},
			}
		}
		rel := field.Relation()
		if rel == nil {
			return nil, &SchemaResolutionError{
				Collection: coll.Name,
				Path:       path,
				Err:        &schema.NotFoundError{Collection: coll.Name, Field: name, What: "relation"},
			}
		}
		obj, ok := raw[key].(map[string]interface{})
		if !ok {
			return nil, invalidQuery("deep value of %q must be an object", path)
		}

		target := rel.Related
		switch {
		case rel.Kind == schema.AnyToOne && scope == "":
			if len(rel.AllowedCollections) != 1 {
				return nil, &AmbiguousRelationError{Collection: coll.Name, Field: name, Allowed: rel.AllowedCollections}
			}
			target = rel.AllowedCollections[0]
		case rel.Kind == schema.AnyToOne:
			if !rel.Allows(scope) {
				return nil, &SchemaResolutionError{
					Collection: coll.Name,
					Path:       path,
					Message:    fmt.Sprintf("collection %q is not an allowed target of %q on %q", scope, name, coll.Name),
				}
			}
			target = scope
		case scope != "":
			return nil, invalidQuery("%q is not a polymorphic relation", name)
		}

		childDepth := depth + 1
		if err := p.guard.Enter(SurfaceDeep, path, childDepth); err != nil {
			return nil, err
		}

		clause := &DeepClause{Key: key, Field: field.Name, Kind: rel.Kind, Collection: target, Depth: childDepth}
		if err := p.fill(clause, obj, path); err != nil {
			return nil, err
		}
		out[key] = clause
	}
	return out, nil
}

func (p *deepParser) fill(clause *DeepClause, obj map[string]interface{}, path string) error {
	nested := make(map[string]interface{})
	for _, key := range sortedKeys(obj) {
		value := obj[key]
		var err error
		switch key {
		case "_filter":
			filter, ok := value.(map[string]interface{})
			if !ok {
				return invalidQuery("%s._filter must be an object", path)
			}
			clause.Filter, err = p.filters.parse(clause.Collection, filter, clause.Depth, path)
		case "_sort":
			var items []string
			if items, err = stringList(path+"._sort", value); err == nil {
				clause.Sort, err = p.sorts.parse(clause.Collection, items, clause.Depth, path)
			}
		case "_limit":
			if clause.Limit, err = intParam(path+"._limit", value); err == nil {
				err = checkLimit("limit", clause.Limit, p.limits)
			}
		case "_offset":
			if clause.Offset, err = intParam(path+"._offset", value); err == nil {
				err = checkLimit("offset", clause.Offset, p.limits)
			}
		case "_page":
			if clause.Page, err = intParam(path+"._page", value); err == nil && *clause.Page < 1 {
				err = invalidQuery("%s._page must be 1 or greater", path)
			}
		case "_search":
			s, ok := value.(string)
			if !ok {
				return invalidQuery("%s._search must be a string", path)
			}
			clause.Search = s
		case "_alias":
			clause.Alias, err = aliasParam(path+"._alias", value)
		default:
			if strings.HasPrefix(key, "_") {
				return invalidQuery("unknown deep parameter %q", path+"."+key)
			}
			nested[key] = value
		}
		if err != nil {
			return err
		}
	}

	children, err := p.parse(clause.Collection, nested, clause.Depth, path)
	if err != nil {
		return err
	}
	clause.Children = children
	return nil
}

func stringList(name string, value interface{}) ([]string, error) {
	switch v := value.(type) {
	case string:
		return SplitFields(v), nil
	case []string:
		return v, nil
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, invalidQuery("%s must contain only strings", name)
			}
			out = append(out, s)
		}
		return out, nil
	}
	return nil, invalidQuery("%s must be a string or an array of strings", name)
}

func intParam(name string, value interface{}) (*int, error) {
	switch v := value.(type) {
	case json.Number:
		return decodeInt(name, json.RawMessage(v.String()))
	case string:
		raw, _ := json.Marshal(v)
		return decodeInt(name, raw)
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, invalidQuery("%s must be an integer", name)
		}
		return decodeInt(name, raw)
	}
}

func aliasParam(name string, value interface{}) (map[string]string, error) {
	obj, ok := value.(map[string]interface{})
	if !ok {
		return nil, invalidQuery("%s must be an object", name)
	}
	out := make(map[string]string, len(obj))
	for k, v := range obj {
		s, ok := v.(string)
		if !ok {
			return nil, invalidQuery("%s.%s must be a string", name, k)
		}
		out[k] = s
	}
	if err := validateAliases(out); err != nil {
		return nil, err
	}
	return out, nil
}
