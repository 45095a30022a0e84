package planner

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"queryengine/internal/catalog"
	"queryengine/internal/scalars"
	"queryengine/internal/schema"
)

// FilterNode is one node of a resolved filter. The concrete types are *And,
// *Or, *FieldPredicate, *RelationalPredicate, *FunctionPredicate and
// *FollowPredicate. A nil FilterNode matches every row.
type FilterNode interface {
	filterNode()
}

// And matches when every child matches.
type And struct {
	Children []FilterNode
}

// Or matches when any child matches.
type Or struct {
	Children []FilterNode
}

// FieldPredicate compares one field of the current row with an operand.
// Operand is normalized for the field's kind; Raw is the value as given.
type FieldPredicate struct {
	Field    string
	Kind     scalars.Kind
	Operator catalog.Operator
	Operand  interface{}
	Raw      interface{}
}

// Quantifier says how many related rows must satisfy a to-many sub-filter.
type Quantifier string

const (
	QuantifierSome Quantifier = "some"
	QuantifierNone Quantifier = "none"
	QuantifierAll  Quantifier = "all"
)

// RelationalPredicate applies Filter to the rows reached through Field.
// Quantifier is empty for to-one relations. For item pointers Scope names the
// only collection whose rows can match.
type RelationalPredicate struct {
	Field         string
	Kind          schema.RelationKind
	Collection    string
	Scope         string
	Discriminator string
	Quantifier    Quantifier
	Filter        FilterNode
}

// FunctionPredicate compares a derived value such as year(date) or
// count(relation) with an operand.
type FunctionPredicate struct {
	Function     Function
	Field        string
	ArgKind      scalars.Kind
	RelationKind schema.RelationKind
	Operator     catalog.Operator
	Operand      interface{}
	Raw          interface{}
}

// FollowPredicate matches rows referenced by junction rows through JoinField,
// without an alias field declaring the reverse relation.
type FollowPredicate struct {
	Junction   string
	JoinField  string
	Quantifier Quantifier
	Filter     FilterNode
}

// Key returns the filter key the predicate was written as.
func (f *FollowPredicate) Key() string {
	return fmt.Sprintf("$FOLLOW(%s,%s)", f.Junction, f.JoinField)
}

func (*And) filterNode()                 {}
func (*Or) filterNode()                  {}
func (*FieldPredicate) filterNode()      {}
func (*RelationalPredicate) filterNode() {}
func (*FunctionPredicate) filterNode()   {}
func (*FollowPredicate) filterNode()     {}

func (n *And) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type     string       `json:"type"`
		Children []FilterNode `json:"children"`
	}{"and", n.Children})
}

func (n *Or) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type     string       `json:"type"`
		Children []FilterNode `json:"children"`
	}{"or", n.Children})
}

func (n *FieldPredicate) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type     string      `json:"type"`
		Field    string      `json:"field"`
		Kind     string      `json:"kind"`
		Operator string      `json:"operator"`
		Operand  interface{} `json:"operand"`
	}{"field", n.Field, n.Kind.String(), n.Operator.Key(), n.Operand})
}

func (n *RelationalPredicate) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type       string     `json:"type"`
		Field      string     `json:"field"`
		Relation   string     `json:"relation"`
		Collection string     `json:"collection"`
		Scope      string     `json:"scope,omitempty"`
		Quantifier Quantifier `json:"quantifier,omitempty"`
		Filter     FilterNode `json:"filter"`
	}{"relation", n.Field, n.Kind.String(), n.Collection, n.Scope, n.Quantifier, n.Filter})
}

func (n *FunctionPredicate) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type     string      `json:"type"`
		Function string      `json:"function"`
		Field    string      `json:"field"`
		Operator string      `json:"operator"`
		Operand  interface{} `json:"operand"`
	}{"function", string(n.Function), n.Field, n.Operator.Key(), n.Operand})
}

func (n *FollowPredicate) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type       string     `json:"type"`
		Junction   string     `json:"junction"`
		JoinField  string     `json:"joinField"`
		Quantifier Quantifier `json:"quantifier"`
		Filter     FilterNode `json:"filter"`
	}{"follow", n.Junction, n.JoinField, n.Quantifier, n.Filter})
}

type filterParser struct {
	graph   *schema.Graph
	catalog *catalog.Catalog
	guard   *DepthGuard
	surface Surface
	now     time.Time
}

// ParseFilter resolves a filter object against collection.
func ParseFilter(graph *schema.Graph, collection string, filter map[string]interface{}, guard *DepthGuard) (FilterNode, error) {
	p := &filterParser{
		graph:   graph,
		catalog: catalog.Default(),
		guard:   guard,
		surface: SurfaceFilter,
		now:     time.Now().UTC(),
	}
	if filter == nil {
		return nil, nil
	}
	return p.parse(collection, filter, 0, "")
}

// parse handles one filter object. Keys are visited in sorted order and
// combined with And. Logical keys come first, then function calls, then
// field names; an underscore key that names no field is an operator out of
// place.
func (p *filterParser) parse(collection string, raw interface{}, depth int, prefix string) (FilterNode, error) {
	obj, ok := raw.(map[string]interface{})
	if !ok {
		return nil, invalidQuery("filter for %q must be an object", collection)
	}
	coll, err := p.graph.Collection(collection)
	if err != nil {
		return nil, unresolved(collection, prefix, err)
	}

	var children []FilterNode
	for _, key := range sortedKeys(obj) {
		value := obj[key]
		var node FilterNode
		switch {
		case key == "_and" || key == "_or":
			node, err = p.parseLogical(coll, key, value, depth, prefix)
		case strings.HasPrefix(key, "$FOLLOW"):
			node, err = p.parseFollow(coll, key, value, depth, prefix)
		case strings.Contains(key, "("):
			node, err = p.parseFunction(coll, key, value, depth, prefix)
		case strings.HasPrefix(key, "_") && !hasField(coll, key):
			err = unknownFilterKey(key, coll.Name)
		default:
			node, err = p.parseField(coll, key, value, depth, prefix)
		}
		if err != nil {
			return nil, err
		}
		if node != nil {
			children = append(children, node)
		}
	}
	return combine(children), nil
}

func hasField(coll *schema.Collection, key string) bool {
	name, _ := splitScope(key)
	_, ok := coll.Field(name)
	return ok
}

func combine(children []FilterNode) FilterNode {
	switch len(children) {
	case 0:
		return nil
	case 1:
		return children[0]
	default:
		return &And{Children: children}
	}
}

func (p *filterParser) parseLogical(coll *schema.Collection, key string, value interface{}, depth int, prefix string) (FilterNode, error) {
	list, ok := value.([]interface{})
	if !ok {
		return nil, invalidQuery("%q must be an array of filters", key)
	}
	children := make([]FilterNode, 0, len(list))
	for _, item := range list {
		child, err := p.parse(coll.Name, item, depth, prefix)
		if err != nil {
			return nil, err
		}
		if child != nil {
			children = append(children, child)
		}
	}
	if len(children) == 0 {
		return nil, nil
	}
	if key == "_and" {
		return &And{Children: children}, nil
	}
	return &Or{Children: children}, nil
}

func (p *filterParser) parseField(coll *schema.Collection, key string, value interface{}, depth int, prefix string) (FilterNode, error) {
	name, scope := splitScope(key)
	path := joinPath(prefix, key)
	field, ok := coll.Field(name)
	if !ok {
		return nil, unknownFilterKey(key, coll.Name)
	}
	obj, ok := value.(map[string]interface{})
	if !ok {
		return nil, invalidQuery("filter value of %q must be an object", path)
	}

	rel := field.Relation()
	if rel == nil || (scope == "" && isOperatorObject(obj) && !rel.Kind.IsToMany()) {
		if scope != "" {
			return nil, invalidQuery("%q is not a polymorphic relation", name)
		}
		return p.parseOperators(coll, field.Name, field.Kind, obj, path)
	}

	switch {
	case rel.Kind == schema.AnyToOne && scope == "":
		return nil, &AmbiguousRelationError{Collection: coll.Name, Field: name, Allowed: rel.AllowedCollections}
	case rel.Kind == schema.AnyToOne && !rel.Allows(scope):
		return nil, &SchemaResolutionError{
			Collection: coll.Name,
			Path:       path,
			Message:    fmt.Sprintf("collection %q is not an allowed target of %q on %q", scope, name, coll.Name),
		}
	case rel.Kind != schema.AnyToOne && scope != "":
		return nil, invalidQuery("%q is not a polymorphic relation", name)
	}

	childDepth := depth + 1
	if err := p.guard.Enter(p.surface, path, childDepth); err != nil {
		return nil, err
	}

	node := &RelationalPredicate{Field: field.Name, Kind: rel.Kind, Collection: rel.Related}
	if rel.Kind == schema.AnyToOne {
		node.Collection = scope
		node.Scope = scope
		node.Discriminator = rel.DiscriminatorField
	}

	sub := interface{}(obj)
	if rel.Kind.IsToMany() {
		node.Quantifier, sub = quantifierOf(obj, false)
	}
	filter, err := p.parse(node.Collection, sub, childDepth, path)
	if err != nil {
		return nil, err
	}
	node.Filter = filter
	return node, nil
}

// quantifierOf unwraps {_some: {...}}, {_none: {...}} and, when allowed,
// {_all: {...}}. Any other object is an implicit _some.
func quantifierOf(obj map[string]interface{}, allowAll bool) (Quantifier, interface{}) {
	if len(obj) == 1 {
		for k, v := range obj {
			switch {
			case k == "_some":
				return QuantifierSome, v
			case k == "_none":
				return QuantifierNone, v
			case k == "_all" && allowAll:
				return QuantifierAll, v
			}
		}
	}
	return QuantifierSome, obj
}

// isOperatorObject reports whether every key of obj is an operator key.
func isOperatorObject(obj map[string]interface{}) bool {
	if len(obj) == 0 {
		return false
	}
	for k := range obj {
		switch k {
		case "_and", "_or", "_some", "_none", "_all":
			return false
		}
		if !strings.HasPrefix(k, "_") {
			return false
		}
	}
	return true
}

func (p *filterParser) parseOperators(coll *schema.Collection, field string, kind scalars.Kind, obj map[string]interface{}, path string) (FilterNode, error) {
	var preds []FilterNode
	for _, key := range sortedKeys(obj) {
		op, operand, err := p.operator(kind, key, obj[key])
		if err != nil {
			return nil, err
		}
		preds = append(preds, &FieldPredicate{Field: field, Kind: kind, Operator: op, Operand: operand, Raw: obj[key]})
	}
	return combine(preds), nil
}

// operator validates one operator key against kind and normalizes its operand.
func (p *filterParser) operator(kind scalars.Kind, key string, raw interface{}) (catalog.Operator, interface{}, error) {
	op, ok := catalog.ParseOperator(key)
	if !ok {
		return "", nil, &catalog.InvalidOperatorError{Kind: kind, Operator: catalog.Operator(strings.TrimPrefix(key, "_"))}
	}
	if _, err := p.catalog.Lookup(kind, op); err != nil {
		return "", nil, err
	}
	// {_eq: null} and {_neq: null} are spelled-out null checks.
	if raw == nil {
		switch op {
		case catalog.Eq:
			return catalog.Null, true, nil
		case catalog.Neq:
			return catalog.Nnull, true, nil
		}
	}
	operand, err := normalizeOperand(kind, op, raw, p.now)
	if err != nil {
		return "", nil, err
	}
	return op, operand, nil
}

func (p *filterParser) parseFunction(coll *schema.Collection, key string, value interface{}, depth int, prefix string) (FilterNode, error) {
	path := joinPath(prefix, key)
	c, isCall, err := parseCall(key)
	if err != nil || !isCall {
		return nil, unknownFilterKey(key, coll.Name)
	}
	fn := Function(c.Name)
	accepts, known := functionAccepts[fn]
	if !known || len(c.Args) != 1 {
		return nil, unknownFilterKey(key, coll.Name)
	}
	field, ok := coll.Field(c.Args[0])
	if !ok {
		return nil, unknownFilterKey(key, coll.Name)
	}
	obj, ok := value.(map[string]interface{})
	if !ok || !isOperatorObject(obj) {
		return nil, invalidQuery("filter value of %q must be an operator object", path)
	}

	node := &FunctionPredicate{Function: fn, Field: field.Name, ArgKind: field.Kind}
	if rel := field.Relation(); fn == FuncCount && rel != nil && rel.Kind.IsToMany() {
		if err := p.guard.Enter(p.surface, path, depth+1); err != nil {
			return nil, err
		}
		node.RelationKind = rel.Kind
	} else if !accepts(field.Kind) {
		return nil, &InvalidFieldExpressionError{
			Expression: key,
			Reason:     fmt.Sprintf("%s() cannot be applied to %q of type %q", fn, field.Name, field.Kind.String()),
		}
	}

	var preds []FilterNode
	for _, opKey := range sortedKeys(obj) {
		op, operand, err := p.operator(scalars.Integer, opKey, obj[opKey])
		if err != nil {
			return nil, err
		}
		pred := *node
		pred.Operator, pred.Operand, pred.Raw = op, operand, obj[opKey]
		preds = append(preds, &pred)
	}
	return combine(preds), nil
}

func (p *filterParser) parseFollow(coll *schema.Collection, key string, value interface{}, depth int, prefix string) (FilterNode, error) {
	path := joinPath(prefix, key)
	c, isCall, err := parseCall(key)
	if err != nil || !isCall || c.Name != "$FOLLOW" || len(c.Args) != 2 || c.Args[0] == "" || c.Args[1] == "" {
		return nil, unknownFilterKey(key, coll.Name)
	}
	junction, joinField := c.Args[0], c.Args[1]

	rel, err := p.graph.Relation(junction, joinField)
	if err != nil {
		return nil, unresolved(junction, path, err)
	}
	if rel.Kind != schema.ManyToOne || rel.Related != coll.Name {
		return nil, &SchemaResolutionError{
			Collection: coll.Name,
			Path:       path,
			Message:    fmt.Sprintf("field %q of %q does not reference %q", joinField, junction, coll.Name),
		}
	}

	obj, ok := value.(map[string]interface{})
	if !ok {
		return nil, invalidQuery("filter value of %q must be an object", path)
	}
	childDepth := depth + 1
	if err := p.guard.Enter(p.surface, path, childDepth); err != nil {
		return nil, err
	}

	quantifier, sub := quantifierOf(obj, true)
	filter, err := p.parse(junction, sub, childDepth, path)
	if err != nil {
		return nil, err
	}
	return &FollowPredicate{Junction: junction, JoinField: joinField, Quantifier: quantifier, Filter: filter}, nil
}
