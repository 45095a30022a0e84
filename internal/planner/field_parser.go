package planner

import (
	"fmt"
	"sort"
	"strings"

	"queryengine/internal/jsonpath"
	"queryengine/internal/scalars"
	"queryengine/internal/schema"
)

// fieldPath is one requested path at the level being parsed. key overrides the
// output key of the path's final function or json() segment.
type fieldPath struct {
	expr string
	key  string
}

type fieldEntry struct {
	scope string
	rest  string
	key   string
}

type fieldGroup struct {
	key     string
	name    string
	entries []fieldEntry
}

type fieldParser struct {
	graph *schema.Graph
	guard *DepthGuard
}

// ParseFields resolves a field selection against collection. alias renames
// root level fields; deep supplies the per-relation clauses attached to the
// relational nodes.
func ParseFields(graph *schema.Graph, collection string, fields []string, alias map[string]string, deep map[string]*DeepClause, guard *DepthGuard) ([]FieldNode, error) {
	if err := validateAliases(alias); err != nil {
		return nil, err
	}
	paths := make([]fieldPath, 0, len(fields))
	for _, f := range fields {
		paths = append(paths, fieldPath{expr: strings.TrimSpace(f)})
	}
	p := &fieldParser{graph: graph, guard: guard}
	return p.parse(collection, paths, alias, deep, 0, "")
}

func (p *fieldParser) parse(collection string, paths []fieldPath, alias map[string]string, deep map[string]*DeepClause, depth int, prefix string) ([]FieldNode, error) {
	coll, err := p.graph.Collection(collection)
	if err != nil {
		return nil, unresolved(collection, prefix, err)
	}

	paths = expandWildcards(coll, paths, alias)

	var (
		nodes    []FieldNode
		wildcard bool
		order    []string
		groups   = make(map[string]*fieldGroup)
		seen     = make(map[string]bool)
	)
	addEntry := func(key, name string, e fieldEntry) {
		g, ok := groups[key]
		if !ok {
			g = &fieldGroup{key: key, name: name}
			groups[key] = g
			order = append(order, key)
		}
		g.entries = append(g.entries, e)
	}

	for _, fp := range paths {
		if fp.expr == "" {
			continue
		}
		if fp.expr == "*" {
			wildcard = true
			continue
		}
		segments, err := splitPath(fp.expr)
		if err != nil {
			return nil, &InvalidFieldExpressionError{Expression: fp.expr, Reason: err.Error()}
		}
		head := segments[0]
		rest := strings.Join(segments[1:], ".")

		key := fp.key
		expr := head
		if target, ok := alias[head]; ok {
			if key == "" {
				key = head
			}
			expr = target
		}

		c, isCall, err := parseCall(expr)
		if err != nil {
			return nil, &InvalidFieldExpressionError{Expression: expr, Reason: err.Error()}
		}
		if isCall {
			if rest != "" {
				return nil, &InvalidFieldExpressionError{Expression: fp.expr, Reason: "a function call must be the last path segment"}
			}
			node, redirect, err := p.parseCallField(coll, c, expr, key, depth, prefix)
			if err != nil {
				return nil, err
			}
			if redirect != nil {
				field, scope := splitScope(redirect.head)
				addEntry(field, field, fieldEntry{scope: scope, rest: redirect.rest, key: redirect.key})
				continue
			}
			if !seen[node.OutputKey()] {
				seen[node.OutputKey()] = true
				nodes = append(nodes, node)
			}
			continue
		}

		field, scope := splitScope(expr)
		outKey := head
		if _, aliased := alias[head]; !aliased {
			outKey, _ = splitScope(head)
		}
		addEntry(outKey, field, fieldEntry{scope: scope, rest: rest, key: fp.key})
	}

	relationalKeys := make(map[string]bool)
	for _, key := range order {
		node, err := p.resolveGroup(coll, groups[key], deep, depth, prefix)
		if err != nil {
			return nil, err
		}
		if seen[node.OutputKey()] {
			continue
		}
		seen[node.OutputKey()] = true
		if _, ok := node.(*RelationalField); ok {
			relationalKeys[node.OutputKey()] = true
		}
		nodes = append(nodes, node)
	}

	if !wildcard {
		return nodes, nil
	}

	wc := &WildcardField{Collection: coll.Name, Depth: depth}
	stored := make(map[string]bool)
	for _, f := range coll.Fields() {
		if !f.IsStored() || relationalKeys[f.Name] {
			continue
		}
		stored[f.Name] = true
		wc.Fields = append(wc.Fields, f.Name)
	}
	out := []FieldNode{wc}
	for _, node := range nodes {
		if plain, ok := node.(*PlainField); ok && plain.Key == plain.Field && stored[plain.Field] {
			continue
		}
		out = append(out, node)
	}
	return out, nil
}

// expandWildcards rewrites a leading "*" segment into one path per relational
// field. A bare "*" also selects every alias key.
func expandWildcards(coll *schema.Collection, paths []fieldPath, alias map[string]string) []fieldPath {
	out := make([]fieldPath, 0, len(paths))
	for _, fp := range paths {
		head, rest, dotted := strings.Cut(fp.expr, ".")
		if head != "*" {
			out = append(out, fp)
			continue
		}
		if !dotted {
			out = append(out, fp)
			keys := make([]string, 0, len(alias))
			for k := range alias {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				out = append(out, fieldPath{expr: k})
			}
			continue
		}
		for _, f := range coll.Fields() {
			if f.IsRelational() {
				out = append(out, fieldPath{expr: f.Name + "." + rest})
			}
		}
	}
	return out
}

func (p *fieldParser) resolveGroup(coll *schema.Collection, g *fieldGroup, deep map[string]*DeepClause, depth int, prefix string) (FieldNode, error) {
	path := joinPath(prefix, g.key)
	field, ok := coll.Field(g.name)
	if !ok {
		return nil, &SchemaResolutionError{
			Collection: coll.Name,
			Path:       path,
			Err:        &schema.NotFoundError{Collection: coll.Name, Field: g.name, What: "field"},
		}
	}

	var scoped, withChildren bool
	for _, e := range g.entries {
		scoped = scoped || e.scope != ""
		withChildren = withChildren || e.rest != ""
	}

	rel := field.Relation()
	if rel == nil {
		if scoped {
			return nil, &InvalidFieldExpressionError{Expression: path, Reason: fmt.Sprintf("%q is not a polymorphic relation", g.name)}
		}
		if withChildren {
			return nil, &SchemaResolutionError{
				Collection: coll.Name,
				Path:       path,
				Err:        &schema.NotFoundError{Collection: coll.Name, Field: g.name, What: "relation"},
			}
		}
		return &PlainField{Key: g.key, Field: field.Name, Kind: field.Kind}, nil
	}
	if scoped && rel.Kind != schema.AnyToOne {
		return nil, &InvalidFieldExpressionError{Expression: path, Reason: fmt.Sprintf("%q is not a polymorphic relation", g.name)}
	}

	if !withChildren && !scoped {
		if rel.Kind.IsToMany() {
			related, err := p.graph.Collection(rel.Related)
			if err != nil {
				return nil, err
			}
			return &RelationalField{
				Key:        g.key,
				Field:      field.Name,
				Kind:       rel.Kind,
				Collection: related.Name,
				PrimaryKey: related.PrimaryKey,
				Depth:      depth + 1,
				KeysOnly:   true,
				Deep:       deep[g.key],
			}, nil
		}
		return &PlainField{Key: g.key, Field: field.Name, Kind: field.Kind}, nil
	}

	childDepth := depth + 1
	if err := p.guard.Enter(SurfaceFields, path, childDepth); err != nil {
		return nil, err
	}

	node := &RelationalField{Key: g.key, Field: field.Name, Kind: rel.Kind, Depth: childDepth}
	if rel.Kind == schema.AnyToOne {
		if err := p.resolveArms(node, rel, g, deep, childDepth, path); err != nil {
			return nil, err
		}
		return node, nil
	}

	related, err := p.graph.Collection(rel.Related)
	if err != nil {
		return nil, err
	}
	node.Collection = related.Name
	node.PrimaryKey = related.PrimaryKey
	node.Deep = deep[g.key]

	var childAlias map[string]string
	var childDeep map[string]*DeepClause
	if node.Deep != nil {
		childAlias = node.Deep.Alias
		childDeep = node.Deep.Children
	}
	node.Children, err = p.parse(related.Name, childPaths(g.entries), childAlias, childDeep, childDepth, path)
	if err != nil {
		return nil, err
	}
	return node, nil
}

func (p *fieldParser) resolveArms(node *RelationalField, rel *schema.Relation, g *fieldGroup, deep map[string]*DeepClause, depth int, path string) error {
	node.Discriminator = rel.DiscriminatorField
	node.Arms = make(map[string]*Arm)

	perScope := make(map[string][]fieldEntry)
	var unscoped []fieldEntry
	for _, e := range g.entries {
		if e.scope == "" {
			if e.rest != "" {
				unscoped = append(unscoped, e)
			}
			continue
		}
		if !rel.Allows(e.scope) {
			return &SchemaResolutionError{
				Collection: rel.Collection,
				Path:       path,
				Message:    fmt.Sprintf("collection %q is not an allowed target of %q on %q", e.scope, rel.Field, rel.Collection),
			}
		}
		perScope[e.scope] = append(perScope[e.scope], e)
	}

	node.Scoped = len(unscoped) == 0
	if len(unscoped) > 0 {
		if len(rel.AllowedCollections) > 1 && !allWildcards(unscoped) {
			return &AmbiguousRelationError{Collection: rel.Collection, Field: rel.Field, Allowed: rel.AllowedCollections}
		}
		for _, target := range rel.AllowedCollections {
			perScope[target] = append(perScope[target], unscoped...)
		}
	}

	for _, target := range rel.AllowedCollections {
		entries, ok := perScope[target]
		if !ok {
			continue
		}
		related, err := p.graph.Collection(target)
		if err != nil {
			return err
		}
		arm := &Arm{Collection: target, PrimaryKey: related.PrimaryKey, Deep: deep[g.key+":"+target]}
		if arm.Deep == nil && len(rel.AllowedCollections) == 1 {
			arm.Deep = deep[g.key]
		}
		var childAlias map[string]string
		var childDeep map[string]*DeepClause
		if arm.Deep != nil {
			childAlias = arm.Deep.Alias
			childDeep = arm.Deep.Children
		}
		paths := childPaths(entries)
		if len(paths) == 0 {
			paths = []fieldPath{{expr: related.PrimaryKey}}
		}
		arm.Children, err = p.parse(target, paths, childAlias, childDeep, depth, path+":"+target)
		if err != nil {
			return err
		}
		node.Arms[target] = arm
	}
	return nil
}

func childPaths(entries []fieldEntry) []fieldPath {
	var out []fieldPath
	for _, e := range entries {
		if e.rest != "" {
			out = append(out, fieldPath{expr: e.rest, key: e.key})
		}
	}
	return out
}

func allWildcards(entries []fieldEntry) bool {
	for _, e := range entries {
		for _, seg := range strings.Split(e.rest, ".") {
			if seg != "*" {
				return false
			}
		}
	}
	return true
}

// callRedirect hands a json() call whose base path crosses a relation to the
// level of that relation: json(a.b, p) becomes the child path json(b, p) of a.
type callRedirect struct {
	head string
	rest string
	key  string
}

func (p *fieldParser) parseCallField(coll *schema.Collection, c call, expr, key string, depth int, prefix string) (FieldNode, *callRedirect, error) {
	if c.Name == "json" {
		return p.parseJSONCall(coll, c, expr, key)
	}

	fn := Function(c.Name)
	accepts, known := functionAccepts[fn]
	if !known {
		return nil, nil, &InvalidFieldExpressionError{Expression: expr, Reason: fmt.Sprintf("unknown function %q", c.Name)}
	}
	if len(c.Args) != 1 || c.Args[0] == "" {
		return nil, nil, &InvalidFieldExpressionError{Expression: expr, Reason: fmt.Sprintf("%s() takes exactly one field", c.Name)}
	}
	arg := c.Args[0]
	if strings.ContainsAny(arg, ".:") {
		return nil, nil, &InvalidFieldExpressionError{Expression: expr, Reason: "function arguments must be fields of the current collection"}
	}
	if key == "" {
		key = fmt.Sprintf("%s(%s)", fn, arg)
	}
	field, ok := coll.Field(arg)
	if !ok {
		return nil, nil, &SchemaResolutionError{
			Collection: coll.Name,
			Path:       joinPath(prefix, expr),
			Err:        &schema.NotFoundError{Collection: coll.Name, Field: arg, What: "field"},
		}
	}

	node := &FunctionField{Key: key, Function: fn, Field: field.Name, ArgKind: field.Kind}
	if rel := field.Relation(); fn == FuncCount && rel != nil && rel.Kind.IsToMany() {
		if err := p.guard.Enter(SurfaceFields, joinPath(prefix, expr), depth+1); err != nil {
			return nil, nil, err
		}
		node.RelationKind = rel.Kind
		node.RelatedCollection = rel.Related
		return node, nil, nil
	}
	if !accepts(field.Kind) {
		return nil, nil, &InvalidFieldExpressionError{
			Expression: expr,
			Reason:     fmt.Sprintf("%s() cannot be applied to %q of type %q", fn, field.Name, field.Kind.String()),
		}
	}
	return node, nil, nil
}

// parseJSONCall resolves json(basePath, jsonPath). Structural problems are
// field expression errors; a path missing from a document is not an error.
func (p *fieldParser) parseJSONCall(coll *schema.Collection, c call, expr, key string) (FieldNode, *callRedirect, error) {
	if len(c.Args) != 2 || c.Args[0] == "" || c.Args[1] == "" {
		return nil, nil, &InvalidFieldExpressionError{Expression: expr, Reason: "json() requires a field and a path"}
	}
	path, err := jsonpath.Parse(c.Args[1])
	if err != nil {
		return nil, nil, &InvalidFieldExpressionError{Expression: expr, Reason: err.Error()}
	}
	base, err := splitPath(c.Args[0])
	if err != nil {
		return nil, nil, &InvalidFieldExpressionError{Expression: expr, Reason: err.Error()}
	}

	name, scope := splitScope(base[0])
	field, ok := coll.Field(name)
	if !ok {
		return nil, nil, &InvalidFieldExpressionError{
			Expression: expr,
			Reason:     fmt.Sprintf("field %q does not exist in collection %q", name, coll.Name),
		}
	}

	if len(base) > 1 {
		if !field.IsRelational() {
			return nil, nil, &InvalidFieldExpressionError{Expression: expr, Reason: fmt.Sprintf("%q is not a relational field", name)}
		}
		return nil, &callRedirect{
			head: base[0],
			rest: fmt.Sprintf("json(%s, %s)", strings.Join(base[1:], "."), c.Args[1]),
			key:  key,
		}, nil
	}

	if scope != "" {
		return nil, nil, &InvalidFieldExpressionError{Expression: expr, Reason: "a json field cannot carry a collection scope"}
	}
	if field.Kind != scalars.JSON {
		return nil, nil, &InvalidFieldExpressionError{
			Expression: expr,
			Reason:     fmt.Sprintf("%q is of type %q, not json", name, field.Kind.String()),
		}
	}
	if key == "" {
		key = fmt.Sprintf("%s_%s_json", name, path.OutputKey())
	}
	return &JSONField{Key: key, Field: field.Name, Path: path}, nil, nil
}
