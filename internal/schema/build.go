package schema

import (
	"fmt"

	"queryengine/internal/scalars"
)

// Definition is the serializable form of a schema snapshot.
type Definition struct {
	Collections []CollectionDef `json:"collections" yaml:"collections" msgpack:"collections"`
	Fields      []FieldDef      `json:"fields" yaml:"fields" msgpack:"fields"`
	Relations   []RelationDef   `json:"relations" yaml:"relations" msgpack:"relations"`
}

// CollectionDef declares a collection.
type CollectionDef struct {
	Collection string `json:"collection" yaml:"collection" msgpack:"collection"`
	Singleton  bool   `json:"singleton,omitempty" yaml:"singleton,omitempty" msgpack:"singleton,omitempty"`
}

// FieldDef declares a field. Type is a scalar kind name such as "dateTime".
type FieldDef struct {
	Collection string `json:"collection" yaml:"collection" msgpack:"collection"`
	Field      string `json:"field" yaml:"field" msgpack:"field"`
	Type       string `json:"type" yaml:"type" msgpack:"type"`
	PrimaryKey bool   `json:"primary_key,omitempty" yaml:"primary_key,omitempty" msgpack:"primary_key,omitempty"`
	Nullable   bool   `json:"nullable,omitempty" yaml:"nullable,omitempty" msgpack:"nullable,omitempty"`
}

// RelationDef declares a stored foreign key and, optionally, its virtual inverse.
//
// A regular foreign key sets RelatedCollection. A polymorphic item pointer
// leaves it empty and sets OneAllowedCollections and OneCollectionField
// instead. OneField names the alias field created on the one side; when
// JunctionField is also set, that alias becomes a ManyToMany (or ManyToAny, if
// the junction field is polymorphic) instead of a OneToMany.
type RelationDef struct {
	Collection            string   `json:"collection" yaml:"collection" msgpack:"collection"`
	Field                 string   `json:"field" yaml:"field" msgpack:"field"`
	RelatedCollection     string   `json:"related_collection,omitempty" yaml:"related_collection,omitempty" msgpack:"related_collection,omitempty"`
	OneField              string   `json:"one_field,omitempty" yaml:"one_field,omitempty" msgpack:"one_field,omitempty"`
	JunctionField         string   `json:"junction_field,omitempty" yaml:"junction_field,omitempty" msgpack:"junction_field,omitempty"`
	OneCollectionField    string   `json:"one_collection_field,omitempty" yaml:"one_collection_field,omitempty" msgpack:"one_collection_field,omitempty"`
	OneAllowedCollections []string `json:"one_allowed_collections,omitempty" yaml:"one_allowed_collections,omitempty" msgpack:"one_allowed_collections,omitempty"`
}

// Build validates a definition and derives the relation graph from it.
func Build(def Definition) (*Graph, error) {
	g := &Graph{
		collections: make(map[string]*Collection, len(def.Collections)),
		definition:  def,
	}

	for _, cd := range def.Collections {
		if cd.Collection == "" {
			return nil, fmt.Errorf("collection with empty name")
		}
		if _, dup := g.collections[cd.Collection]; dup {
			return nil, fmt.Errorf("duplicate collection %q", cd.Collection)
		}
		g.collections[cd.Collection] = &Collection{
			Name:      cd.Collection,
			Singleton: cd.Singleton,
			byName:    make(map[string]*Field),
		}
	}

	for _, fd := range def.Fields {
		c, ok := g.collections[fd.Collection]
		if !ok {
			return nil, fmt.Errorf("field %q references unknown collection %q", fd.Field, fd.Collection)
		}
		kind, err := scalars.ParseKind(fd.Type)
		if err != nil {
			return nil, fmt.Errorf("field %s.%s: %w", fd.Collection, fd.Field, err)
		}
		if err := g.addField(c, fd.Field, kind, fd.PrimaryKey, fd.Nullable); err != nil {
			return nil, err
		}
	}

	for _, c := range g.collections {
		if c.PrimaryKey == "" {
			return nil, fmt.Errorf("collection %q has no primary key", c.Name)
		}
	}

	if err := g.buildRelations(def.Relations); err != nil {
		return nil, err
	}

	g.sortNames()
	return g, nil
}

func (g *Graph) addField(c *Collection, name string, kind scalars.Kind, pk, nullable bool) error {
	if name == "" {
		return fmt.Errorf("collection %q has a field with empty name", c.Name)
	}
	if _, dup := c.byName[name]; dup {
		return fmt.Errorf("duplicate field %s.%s", c.Name, name)
	}
	if pk {
		if c.PrimaryKey != "" {
			return fmt.Errorf("collection %q has more than one primary key", c.Name)
		}
		if kind == scalars.Alias {
			return fmt.Errorf("primary key %s.%s cannot be an alias field", c.Name, name)
		}
		c.PrimaryKey = name
	}
	f := &Field{
		Collection: c.Name,
		Name:       name,
		Kind:       kind,
		PrimaryKey: pk,
		Nullable:   nullable,
		graph:      g,
		relation:   -1,
	}
	c.fields = append(c.fields, f)
	c.byName[name] = f
	return nil
}

// buildRelations runs two passes: stored pointers first (M2O and A2O), then
// the virtual one-side aliases, which need to see the junction's other pointer.
func (g *Graph) buildRelations(defs []RelationDef) error {
	for _, rd := range defs {
		f, err := g.storedField(rd.Collection, rd.Field)
		if err != nil {
			return fmt.Errorf("relation %s.%s: %w", rd.Collection, rd.Field, err)
		}
		if f.IsRelational() {
			return fmt.Errorf("relation %s.%s is declared twice", rd.Collection, rd.Field)
		}

		rel := Relation{Collection: rd.Collection, Field: rd.Field}
		if rd.RelatedCollection != "" {
			related, err := g.Collection(rd.RelatedCollection)
			if err != nil {
				return fmt.Errorf("relation %s.%s: %w", rd.Collection, rd.Field, err)
			}
			rel.Kind = ManyToOne
			rel.Related = related.Name
			rel.RelatedField = related.PrimaryKey
		} else {
			if len(rd.OneAllowedCollections) == 0 || rd.OneCollectionField == "" {
				return fmt.Errorf("relation %s.%s has no related collection", rd.Collection, rd.Field)
			}
			for _, allowed := range rd.OneAllowedCollections {
				if _, err := g.Collection(allowed); err != nil {
					return fmt.Errorf("relation %s.%s: %w", rd.Collection, rd.Field, err)
				}
			}
			if _, err := g.storedField(rd.Collection, rd.OneCollectionField); err != nil {
				return fmt.Errorf("relation %s.%s: %w", rd.Collection, rd.Field, err)
			}
			rel.Kind = AnyToOne
			rel.AllowedCollections = append([]string(nil), rd.OneAllowedCollections...)
			rel.DiscriminatorField = rd.OneCollectionField
		}
		f.relation = g.addRelation(rel)
	}

	for _, rd := range defs {
		if rd.OneField == "" {
			continue
		}
		if rd.RelatedCollection == "" {
			return fmt.Errorf("relation %s.%s: polymorphic pointers cannot declare a one_field", rd.Collection, rd.Field)
		}
		one := g.collections[rd.RelatedCollection]

		rel := Relation{
			Kind:         OneToMany,
			Collection:   one.Name,
			Field:        rd.OneField,
			Related:      rd.Collection,
			RelatedField: rd.Field,
		}
		if rd.JunctionField != "" {
			other, err := g.Field(rd.Collection, rd.JunctionField)
			if err != nil || other.Relation() == nil {
				return fmt.Errorf("relation %s.%s: junction field %q is not a relation of %q", rd.Collection, rd.Field, rd.JunctionField, rd.Collection)
			}
			rel.JunctionField = rd.JunctionField
			switch target := other.Relation(); target.Kind {
			case AnyToOne:
				rel.Kind = ManyToAny
				rel.AllowedCollections = append([]string(nil), target.AllowedCollections...)
				rel.DiscriminatorField = target.DiscriminatorField
			default:
				rel.Kind = ManyToMany
				rel.Target = target.Related
			}
		}

		f, ok := one.byName[rd.OneField]
		if !ok {
			if err := g.addField(one, rd.OneField, scalars.Alias, false, true); err != nil {
				return err
			}
			f = one.byName[rd.OneField]
		} else if f.IsStored() {
			return fmt.Errorf("relation %s.%s: one_field %s.%s must be an alias field", rd.Collection, rd.Field, one.Name, rd.OneField)
		} else if f.IsRelational() {
			return fmt.Errorf("relation %s.%s: one_field %s.%s is already relational", rd.Collection, rd.Field, one.Name, rd.OneField)
		}
		f.relation = g.addRelation(rel)
	}
	return nil
}

func (g *Graph) storedField(collection, name string) (*Field, error) {
	f, err := g.Field(collection, name)
	if err != nil {
		return nil, err
	}
	if !f.IsStored() {
		return nil, fmt.Errorf("field %s.%s is an alias and cannot hold a foreign key", collection, name)
	}
	return f, nil
}

func (g *Graph) addRelation(rel Relation) int {
	g.relations = append(g.relations, rel)
	return len(g.relations) - 1
}
