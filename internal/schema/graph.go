// Package schema holds the in-memory schema graph: collections, their fields
// and the relations between them. A Graph is built once from a Definition and
// is read-only afterwards, so any number of queries may resolve against it
// concurrently.
//
// Collections are addressed by name and relations by index into the graph's
// relation arena. Fields refer to relations by index, which keeps
// self-referential and mutually referential collections free of ownership
// cycles.
package schema

import (
	"fmt"
	"sort"

	"queryengine/internal/scalars"
)

// RelationKind classifies a relational field.
type RelationKind int

const (
	// ManyToOne is a stored foreign key to another collection's primary key.
	ManyToOne RelationKind = iota + 1
	// OneToMany is the virtual inverse of another collection's ManyToOne.
	OneToMany
	// ManyToMany is a virtual field reaching a target through a junction collection.
	ManyToMany
	// ManyToAny is a virtual field reaching several target collections through a
	// junction whose item pointer is polymorphic.
	ManyToAny
	// AnyToOne is the polymorphic item pointer stored on a ManyToAny junction.
	AnyToOne
)

// String returns a short name for the relation kind.
func (k RelationKind) String() string {
	switch k {
	case ManyToOne:
		return "m2o"
	case OneToMany:
		return "o2m"
	case ManyToMany:
		return "m2m"
	case ManyToAny:
		return "m2a"
	case AnyToOne:
		return "a2o"
	default:
		return "unknown"
	}
}

// IsToMany reports whether traversing the relation yields a list of rows.
func (k RelationKind) IsToMany() bool {
	return k == OneToMany || k == ManyToMany || k == ManyToAny
}

// Relation is a directed edge from a field to the collection reached by traversing it.
//
// For OneToMany, ManyToMany and ManyToAny fields, Related is the collection
// holding the foreign key (the junction for the latter two) and RelatedField is
// that foreign key. JunctionField names the junction field pointing onwards:
// the target foreign key for ManyToMany, the item pointer for ManyToAny.
type Relation struct {
	Kind          RelationKind
	Collection    string
	Field         string
	Related       string
	RelatedField  string
	JunctionField string
	// Target is the collection at the far side of a ManyToMany junction.
	Target string
	// AllowedCollections lists the targets of ManyToAny and AnyToOne relations.
	AllowedCollections []string
	// DiscriminatorField names the junction field holding the target collection
	// of each AnyToOne item.
	DiscriminatorField string
}

// IsPolymorphic reports whether the relation has more than one possible target.
func (r *Relation) IsPolymorphic() bool {
	return r.Kind == ManyToAny || r.Kind == AnyToOne
}

// Allows reports whether collection is one of the relation's allowed targets.
func (r *Relation) Allows(collection string) bool {
	for _, c := range r.AllowedCollections {
		if c == collection {
			return true
		}
	}
	return false
}

// Field is a stored or virtual field of a collection.
type Field struct {
	Collection string
	Name       string
	Kind       scalars.Kind
	PrimaryKey bool
	Nullable   bool

	graph    *Graph
	relation int
}

// Relation returns the relation of a relational field, or nil.
func (f *Field) Relation() *Relation {
	if f.relation < 0 {
		return nil
	}
	return &f.graph.relations[f.relation]
}

// IsRelational reports whether the field points at another collection.
func (f *Field) IsRelational() bool {
	return f.relation >= 0
}

// IsStored reports whether the field exists as a column, as opposed to an alias.
func (f *Field) IsStored() bool {
	return f.Kind != scalars.Alias
}

// Collection is a named set of fields with one primary key.
type Collection struct {
	Name       string
	PrimaryKey string
	Singleton  bool

	fields []*Field
	byName map[string]*Field
}

// Fields returns the collection's fields in definition order.
func (c *Collection) Fields() []*Field {
	out := make([]*Field, len(c.fields))
	copy(out, c.fields)
	return out
}

// Field looks up a field by name.
func (c *Collection) Field(name string) (*Field, bool) {
	f, ok := c.byName[name]
	return f, ok
}

// Graph is an immutable schema snapshot.
type Graph struct {
	collections map[string]*Collection
	names       []string
	relations   []Relation
	definition  Definition
}

// NotFoundError reports an unknown collection, field or relation.
type NotFoundError struct {
	Collection string
	Field      string
	What       string
}

func (e *NotFoundError) Error() string {
	switch e.What {
	case "collection":
		return fmt.Sprintf("collection %q does not exist", e.Collection)
	case "relation":
		return fmt.Sprintf("field %q of collection %q is not relational", e.Field, e.Collection)
	default:
		return fmt.Sprintf("field %q does not exist in collection %q", e.Field, e.Collection)
	}
}

// Collection returns the named collection.
func (g *Graph) Collection(name string) (*Collection, error) {
	c, ok := g.collections[name]
	if !ok {
		return nil, &NotFoundError{Collection: name, What: "collection"}
	}
	return c, nil
}

// Field returns a field of a collection.
func (g *Graph) Field(collection, name string) (*Field, error) {
	c, err := g.Collection(collection)
	if err != nil {
		return nil, err
	}
	f, ok := c.byName[name]
	if !ok {
		return nil, &NotFoundError{Collection: collection, Field: name, What: "field"}
	}
	return f, nil
}

// Relation returns the relation held by a field.
func (g *Graph) Relation(collection, field string) (*Relation, error) {
	f, err := g.Field(collection, field)
	if err != nil {
		return nil, err
	}
	rel := f.Relation()
	if rel == nil {
		return nil, &NotFoundError{Collection: collection, Field: field, What: "relation"}
	}
	return rel, nil
}

// Collections returns all collection names, sorted.
func (g *Graph) Collections() []string {
	out := make([]string, len(g.names))
	copy(out, g.names)
	return out
}

// Relations returns every relation in the graph.
func (g *Graph) Relations() []Relation {
	out := make([]Relation, len(g.relations))
	copy(out, g.relations)
	return out
}

// Definition returns the definition the graph was built from.
func (g *Graph) Definition() Definition {
	return g.definition
}

func (g *Graph) sortNames() {
	g.names = g.names[:0]
	for name := range g.collections {
		g.names = append(g.names, name)
	}
	sort.Strings(g.names)
}
