package schemarefresh

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"queryengine/internal/introspection"
	"queryengine/internal/scalars"
	"queryengine/internal/schema"
)

func idColumn() introspection.Column {
	return introspection.Column{Name: "id", DataType: "int", ColumnType: "int(11)", IsPrimaryKey: true}
}

func fkColumn(name string, nullable bool) introspection.Column {
	return introspection.Column{Name: name, DataType: "int", ColumnType: "int(11)", IsNullable: nullable}
}

func kitchenSchema() *introspection.Schema {
	return &introspection.Schema{
		Database: "kitchen",
		Tables: []introspection.Table{
			{
				Name:    "categories",
				Columns: []introspection.Column{idColumn(), {Name: "name", DataType: "varchar", ColumnType: "varchar(64)", Length: 64}},
			},
			{
				Name: "foods",
				Columns: []introspection.Column{
					idColumn(),
					{Name: "name", DataType: "varchar", ColumnType: "varchar(255)", Length: 255},
					{Name: "rating", DataType: "decimal", ColumnType: "decimal(3,1)", IsNullable: true},
					{Name: "created_at", DataType: "datetime", ColumnType: "datetime"},
					fkColumn("category_id", true),
					fkColumn("author_id", true),
					fkColumn("editor_id", true),
				},
				ForeignKeys: []introspection.ForeignKey{
					{ConstraintName: "fk_category", ColumnName: "category_id", ReferencedTable: "categories", ReferencedColumn: "id", OrdinalPosition: 1},
					{ConstraintName: "fk_author", ColumnName: "author_id", ReferencedTable: "users", ReferencedColumn: "id", OrdinalPosition: 1},
					{ConstraintName: "fk_editor", ColumnName: "editor_id", ReferencedTable: "users", ReferencedColumn: "id", OrdinalPosition: 1},
				},
			},
			{
				Name: "food_ingredients",
				Columns: []introspection.Column{
					idColumn(),
					fkColumn("parent_id", false),
					fkColumn("food_id", false),
					{Name: "quantity", DataType: "decimal", ColumnType: "decimal(8,2)", IsNullable: true},
				},
				ForeignKeys: []introspection.ForeignKey{
					{ConstraintName: "fk_parent", ColumnName: "parent_id", ReferencedTable: "foods", ReferencedColumn: "id", OrdinalPosition: 1},
					{ConstraintName: "fk_food", ColumnName: "food_id", ReferencedTable: "foods", ReferencedColumn: "id", OrdinalPosition: 1},
				},
				Indexes: []introspection.Index{{Name: "uniq_pair", Unique: true, Columns: []string{"parent_id", "food_id"}}},
			},
			{
				Name: "users",
				Columns: []introspection.Column{
					idColumn(),
					{Name: "email", DataType: "varchar", ColumnType: "varchar(255)", Length: 255},
					{Name: "token", DataType: "char", ColumnType: "char(36)", Length: 36},
					{Name: "_internal", DataType: "int", ColumnType: "int"},
				},
			},
			{
				Name:    "settings",
				Comment: "Singleton",
				Columns: []introspection.Column{idColumn(), {Name: "theme", DataType: "varchar", ColumnType: "varchar(32)", Length: 32}},
			},
			{
				Name: "audit_log",
				Columns: []introspection.Column{
					{Name: "table_name", DataType: "varchar", ColumnType: "varchar(64)", IsPrimaryKey: true},
					{Name: "row_id", DataType: "int", ColumnType: "int", IsPrimaryKey: true},
				},
			},
		},
	}
}

func TestBuildFromIntrospection(t *testing.T) {
	result, err := BuildFromIntrospection(kitchenSchema(), BuildSchemaConfig{Logger: testLogger()})
	require.NoError(t, err)
	graph := result.Graph

	assert.Equal(t, []string{"categories", "food_ingredients", "foods", "settings", "users"}, graph.Collections())
	require.Contains(t, result.Junctions, "food_ingredients")

	settings, err := graph.Collection("settings")
	require.NoError(t, err)
	assert.True(t, settings.Singleton)

	token, err := graph.Field("users", "token")
	require.NoError(t, err)
	assert.Equal(t, scalars.UUID, token.Kind)
	_, err = graph.Field("users", "_internal")
	assert.Error(t, err)

	tests := []struct {
		collection string
		field      string
		kind       schema.RelationKind
		related    string
		junction   string
	}{
		{"foods", "category_id", schema.ManyToOne, "categories", ""},
		{"categories", "foods", schema.OneToMany, "foods", ""},
		{"users", "author_foods", schema.OneToMany, "foods", ""},
		{"users", "editor_foods", schema.OneToMany, "foods", ""},
		{"food_ingredients", "parent_id", schema.ManyToOne, "foods", ""},
		{"food_ingredients", "food_id", schema.ManyToOne, "foods", ""},
		{"foods", "ingredients", schema.ManyToMany, "food_ingredients", "food_id"},
	}
	for _, tt := range tests {
		t.Run(tt.collection+"."+tt.field, func(t *testing.T) {
			rel, err := graph.Relation(tt.collection, tt.field)
			require.NoError(t, err)
			assert.Equal(t, tt.kind, rel.Kind)
			assert.Equal(t, tt.related, rel.Related)
			assert.Equal(t, tt.junction, rel.JunctionField)
		})
	}

	ingredients, err := graph.Relation("foods", "ingredients")
	require.NoError(t, err)
	assert.Equal(t, "foods", ingredients.Target)
	assert.Equal(t, "parent_id", ingredients.RelatedField)
}

func TestBuildFromIntrospection_ExtraRelations(t *testing.T) {
	dbSchema := &introspection.Schema{
		Tables: []introspection.Table{
			{Name: "shapes", Columns: []introspection.Column{idColumn()}},
			{Name: "circles", Columns: []introspection.Column{idColumn(), {Name: "radius", DataType: "int", ColumnType: "int"}}},
			{Name: "squares", Columns: []introspection.Column{idColumn(), {Name: "side", DataType: "int", ColumnType: "int"}}},
			{
				Name: "shapes_children",
				Columns: []introspection.Column{
					idColumn(),
					fkColumn("shapes_id", true),
					{Name: "item", DataType: "varchar", ColumnType: "varchar(255)", Length: 255},
					{Name: "collection", DataType: "varchar", ColumnType: "varchar(64)", Length: 64},
				},
				ForeignKeys: []introspection.ForeignKey{
					{ConstraintName: "fk_shape", ColumnName: "shapes_id", ReferencedTable: "shapes", ReferencedColumn: "id", OrdinalPosition: 1},
				},
			},
		},
	}

	result, err := BuildFromIntrospection(dbSchema, BuildSchemaConfig{
		Logger:     testLogger(),
		Singletons: []string{"circles"},
		Relations: []schema.RelationDef{
			{Collection: "shapes_children", Field: "item", OneCollectionField: "collection", OneAllowedCollections: []string{"circles", "squares"}},
			{Collection: "shapes_children", Field: "shapes_id", RelatedCollection: "shapes", OneField: "children", JunctionField: "item"},
		},
	})
	require.NoError(t, err)

	children, err := result.Graph.Relation("shapes", "children")
	require.NoError(t, err)
	assert.Equal(t, schema.ManyToAny, children.Kind)
	assert.Equal(t, []string{"circles", "squares"}, children.AllowedCollections)

	circles, err := result.Graph.Collection("circles")
	require.NoError(t, err)
	assert.True(t, circles.Singleton)

	// The introspected inverse was replaced, not duplicated.
	shapes, err := result.Graph.Collection("shapes")
	require.NoError(t, err)
	var aliases []string
	for _, f := range shapes.Fields() {
		if !f.IsStored() {
			aliases = append(aliases, f.Name)
		}
	}
	assert.Equal(t, []string{"children"}, aliases)
}

func TestBuildFromIntrospection_InvalidExtraRelation(t *testing.T) {
	_, err := BuildFromIntrospection(kitchenSchema(), BuildSchemaConfig{
		Logger:    testLogger(),
		Relations: []schema.RelationDef{{Collection: "foods", Field: "missing", RelatedCollection: "users"}},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to build schema graph")
}
