package planner

import (
	"encoding/json"
	"fmt"
	"strings"

	"queryengine/internal/scalars"
	"queryengine/internal/schema"
)

// Hop is one relation traversed by a sort or group path.
type Hop struct {
	Field      string              `json:"field"`
	Kind       schema.RelationKind `json:"-"`
	Collection string              `json:"collection"`
	Scope      string              `json:"scope,omitempty"`
}

// SortKey orders results by a field, possibly of a related collection, or by
// a function of a field.
type SortKey struct {
	Path       string
	Descending bool
	Hops       []Hop
	Field      string
	Kind       scalars.Kind
	Function   Function
}

func (k SortKey) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Path       string `json:"path"`
		Descending bool   `json:"descending,omitempty"`
		Hops       []Hop  `json:"hops,omitempty"`
		Field      string `json:"field"`
		Kind       string `json:"kind"`
		Function   string `json:"function,omitempty"`
	}{k.Path, k.Descending, k.Hops, k.Field, k.Kind.String(), string(k.Function)})
}

type sortParser struct {
	graph   *schema.Graph
	guard   *DepthGuard
	surface Surface
}

// ParseSort resolves sort keys such as "name", "-created_at",
// "category_id.name" or "-year(created_at)".
func ParseSort(graph *schema.Graph, collection string, sort []string, guard *DepthGuard) ([]SortKey, error) {
	p := &sortParser{graph: graph, guard: guard, surface: SurfaceSort}
	return p.parse(collection, sort, 0, "")
}

func (p *sortParser) parse(collection string, items []string, depth int, prefix string) ([]SortKey, error) {
	keys := make([]SortKey, 0, len(items))
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		key := SortKey{Path: item}
		if strings.HasPrefix(item, "-") {
			key.Descending = true
			key.Path = strings.TrimSpace(item[1:])
		}
		if err := p.resolve(collection, &key, depth, prefix); err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, nil
}

func (p *sortParser) resolve(collection string, key *SortKey, depth int, prefix string) error {
	segments, err := splitPath(key.Path)
	if err != nil {
		return &InvalidFieldExpressionError{Expression: key.Path, Reason: err.Error()}
	}

	current := collection
	for i, segment := range segments {
		path := joinPath(prefix, strings.Join(segments[:i+1], "."))
		coll, err := p.graph.Collection(current)
		if err != nil {
			return unresolved(current, path, err)
		}

		last := i == len(segments)-1
		if c, isCall, err := parseCall(segment); err != nil || isCall {
			if err != nil || !last {
				return &InvalidFieldExpressionError{Expression: key.Path, Reason: "a function call must be the last path segment"}
			}
			return p.resolveFunction(coll, c, key, depth+len(key.Hops), path)
		}

		name, scope := splitScope(segment)
		field, ok := coll.Field(name)
		if !ok {
			return &SchemaResolutionError{
				Collection: coll.Name,
				Path:       path,
				Err:        &schema.NotFoundError{Collection: coll.Name, Field: name, What: "field"},
			}
		}
		if last {
			if scope != "" {
				return &InvalidFieldExpressionError{Expression: key.Path, Reason: "cannot sort by a collection scope"}
			}
			if !field.IsStored() {
				return invalidQuery("cannot sort by alias field %q", path)
			}
			key.Field = field.Name
			key.Kind = field.Kind
			return nil
		}

		rel := field.Relation()
		if rel == nil {
			return &SchemaResolutionError{
				Collection: coll.Name,
				Path:       path,
				Err:        &schema.NotFoundError{Collection: coll.Name, Field: name, What: "relation"},
			}
		}
		hop := Hop{Field: field.Name, Kind: rel.Kind, Collection: rel.Related}
		switch {
		case rel.Kind == schema.AnyToOne && scope == "":
			return &AmbiguousRelationError{Collection: coll.Name, Field: name, Allowed: rel.AllowedCollections}
		case rel.Kind == schema.AnyToOne && !rel.Allows(scope):
			return &SchemaResolutionError{
				Collection: coll.Name,
				Path:       path,
				Message:    fmt.Sprintf("collection %q is not an allowed target of %q on %q", scope, name, coll.Name),
			}
		case rel.Kind == schema.AnyToOne:
			hop.Collection = scope
			hop.Scope = scope
		case scope != "":
			return invalidQuery("%q is not a polymorphic relation", name)
		}

		if err := p.guard.Enter(p.surface, path, depth+len(key.Hops)+1); err != nil {
			return err
		}
		key.Hops = append(key.Hops, hop)
		current = hop.Collection
	}
	return nil
}

func (p *sortParser) resolveFunction(coll *schema.Collection, c call, key *SortKey, depth int, path string) error {
	fn := Function(c.Name)
	accepts, known := functionAccepts[fn]
	if !known || len(c.Args) != 1 {
		return &InvalidFieldExpressionError{Expression: key.Path, Reason: fmt.Sprintf("unknown function %q", c.Name)}
	}
	field, ok := coll.Field(c.Args[0])
	if !ok {
		return &SchemaResolutionError{
			Collection: coll.Name,
			Path:       path,
			Err:        &schema.NotFoundError{Collection: coll.Name, Field: c.Args[0], What: "field"},
		}
	}
	if rel := field.Relation(); fn == FuncCount && rel != nil && rel.Kind.IsToMany() {
		if err := p.guard.Enter(p.surface, path, depth+1); err != nil {
			return err
		}
	} else if !accepts(field.Kind) {
		return &InvalidFieldExpressionError{
			Expression: key.Path,
			Reason:     fmt.Sprintf("%s() cannot be applied to %q of type %q", fn, field.Name, field.Kind.String()),
		}
	}
	key.Field = field.Name
	key.Kind = scalars.Integer
	key.Function = fn
	return nil
}
