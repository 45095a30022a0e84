package planner

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"queryengine/internal/schema"
	"queryengine/internal/testutil"
)

func parseFieldsForTest(t *testing.T, collection string, fields []string, alias map[string]string) ([]FieldNode, error) {
	t.Helper()
	return ParseFields(testutil.FixtureGraph(t), collection, fields, alias, nil, NewDepthGuard(DefaultMaxRelationalDepth))
}

func TestParseFieldsWildcard(t *testing.T) {
	nodes, err := parseFieldsForTest(t, "foods", []string{"*"}, nil)
	require.NoError(t, err)
	require.Len(t, nodes, 1)

	wc, ok := nodes[0].(*WildcardField)
	require.True(t, ok)
	assert.Equal(t, "foods", wc.Collection)
	assert.Equal(t, []string{"id", "name", "calories", "metadata", "created_at", "category_id"}, wc.Fields)
}

func TestParseFieldsWildcardWithRelation(t *testing.T) {
	nodes, err := parseFieldsForTest(t, "foods", []string{"*", "name", "category_id.name"}, nil)
	require.NoError(t, err)
	require.Len(t, nodes, 2)

	wc := nodes[0].(*WildcardField)
	assert.NotContains(t, wc.Fields, "category_id")
	assert.Contains(t, wc.Fields, "name")

	rel, ok := nodes[1].(*RelationalField)
	require.True(t, ok)
	assert.Equal(t, "category_id", rel.Key)
	assert.Equal(t, schema.ManyToOne, rel.Kind)
	assert.Equal(t, "categories", rel.Collection)
	assert.Equal(t, 1, rel.Depth)
	require.Len(t, rel.Children, 1)
	assert.Equal(t, "name", rel.Children[0].OutputKey())
}

func TestParseFieldsRelationalWildcard(t *testing.T) {
	nodes, err := parseFieldsForTest(t, "foods", []string{"*.id"}, nil)
	require.NoError(t, err)

	keys := make([]string, 0, len(nodes))
	for _, n := range nodes {
		keys = append(keys, n.OutputKey())
		rel, ok := n.(*RelationalField)
		require.True(t, ok, "%s should be relational", n.OutputKey())
		require.Len(t, rel.Children, 1)
	}
	assert.ElementsMatch(t, []string{"category_id", "ingredients"}, keys)
}

func TestParseFieldsKeysOnlyAlias(t *testing.T) {
	graph := testutil.FixtureGraph(t)
	guard := NewDepthGuard(DefaultMaxRelationalDepth)
	nodes, err := ParseFields(graph, "categories", []string{"foods"}, nil, nil, guard)
	require.NoError(t, err)
	require.Len(t, nodes, 1)

	rel := nodes[0].(*RelationalField)
	assert.True(t, rel.KeysOnly)
	assert.Equal(t, schema.OneToMany, rel.Kind)
	assert.Equal(t, 0, guard.Deepest())
}

func TestParseFieldsAlias(t *testing.T) {
	nodes, err := parseFieldsForTest(t, "foods", []string{"title", "cat.name"}, map[string]string{
		"title": "name",
		"cat":   "category_id",
	})
	require.NoError(t, err)
	require.Len(t, nodes, 2)

	plain := nodes[0].(*PlainField)
	assert.Equal(t, "title", plain.Key)
	assert.Equal(t, "name", plain.Field)

	rel := nodes[1].(*RelationalField)
	assert.Equal(t, "cat", rel.Key)
	assert.Equal(t, "category_id", rel.Field)
}

func TestParseFieldsWildcardKeepsAliases(t *testing.T) {
	nodes, err := parseFieldsForTest(t, "foods", []string{"*"}, map[string]string{"title": "name"})
	require.NoError(t, err)
	require.Len(t, nodes, 2)
	assert.Equal(t, "*", nodes[0].OutputKey())
	assert.Equal(t, "title", nodes[1].OutputKey())
}

func TestValidateAliases(t *testing.T) {
	tests := []struct {
		name  string
		alias map[string]string
		ok    bool
	}{
		{name: "plain", alias: map[string]string{"title": "name"}, ok: true},
		{name: "function", alias: map[string]string{"y": "year(created_at)"}, ok: true},
		{name: "json", alias: map[string]string{"c": "json(category_id.metadata, color)"}, ok: true},
		{name: "dotted key", alias: map[string]string{"a.b": "name"}},
		{name: "wildcard key", alias: map[string]string{"*": "name"}},
		{name: "dotted value", alias: map[string]string{"c": "category_id.name"}},
		{name: "wildcard value", alias: map[string]string{"c": "*"}},
		{name: "empty value", alias: map[string]string{"c": ""}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateAliases(tt.alias)
			if tt.ok {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
		})
	}
}

func TestParseFieldsFunctions(t *testing.T) {
	nodes, err := parseFieldsForTest(t, "foods", []string{"year(created_at)", "count(ingredients)", "count(metadata)"}, nil)
	require.NoError(t, err)
	require.Len(t, nodes, 3)

	year := nodes[0].(*FunctionField)
	assert.Equal(t, "year(created_at)", year.Key)
	assert.Equal(t, FuncYear, year.Function)

	count := nodes[1].(*FunctionField)
	assert.Equal(t, "count(ingredients)", count.Key)
	assert.Equal(t, schema.ManyToMany, count.RelationKind)
	assert.Equal(t, "food_ingredients", count.RelatedCollection)

	jsonCount := nodes[2].(*FunctionField)
	assert.Equal(t, FuncCount, jsonCount.Function)
	assert.Empty(t, jsonCount.RelatedCollection)
}

func TestParseFieldsFunctionErrors(t *testing.T) {
	tests := []struct {
		name  string
		field string
		kind  ErrorKind
	}{
		{name: "wrong type", field: "year(name)", kind: KindInvalidFieldExpression},
		{name: "unknown function", field: "shout(name)", kind: KindInvalidFieldExpression},
		{name: "two arguments", field: "year(created_at, name)", kind: KindInvalidFieldExpression},
		{name: "relational argument", field: "year(category_id.created_at)", kind: KindInvalidFieldExpression},
		{name: "missing field", field: "year(eaten_at)", kind: KindSchemaResolution},
		{name: "unbalanced", field: "year(created_at", kind: KindInvalidFieldExpression},
		{name: "call then path", field: "year(created_at).x", kind: KindInvalidFieldExpression},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseFieldsForTest(t, "foods", []string{tt.field}, nil)
			require.Error(t, err)
			assert.Equal(t, tt.kind, ClassifyError(err), "got %v", err)
		})
	}
}

func TestParseFieldsJSON(t *testing.T) {
	tests := []struct {
		name     string
		fields   []string
		alias    map[string]string
		wantKey  string
		wantPath string
		nested   string
	}{
		{
			name:     "default key",
			fields:   []string{"json(metadata, color)"},
			wantKey:  "metadata_color_json",
			wantPath: "color",
		},
		{
			name:     "nested path",
			fields:   []string{"json(metadata, dimensions.width)"},
			wantKey:  "metadata_dimensions_width_json",
			wantPath: "dimensions.width",
		},
		{
			name:     "aliased",
			fields:   []string{"shade"},
			alias:    map[string]string{"shade": "json(metadata, color)"},
			wantKey:  "shade",
			wantPath: "color",
		},
		{
			name:     "through a relation",
			fields:   []string{"json(category_id.metadata, color)"},
			wantKey:  "metadata_color_json",
			wantPath: "color",
			nested:   "category_id",
		},
		{
			name:     "aliased through a relation",
			fields:   []string{"shade"},
			alias:    map[string]string{"shade": "json(category_id.metadata, color)"},
			wantKey:  "shade",
			wantPath: "color",
			nested:   "category_id",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			nodes, err := parseFieldsForTest(t, "foods", tt.fields, tt.alias)
			require.NoError(t, err)
			require.Len(t, nodes, 1)

			node := nodes[0]
			if tt.nested != "" {
				rel, ok := node.(*RelationalField)
				require.True(t, ok)
				assert.Equal(t, tt.nested, rel.Key)
				require.Len(t, rel.Children, 1)
				node = rel.Children[0]
			}
			jf, ok := node.(*JSONField)
			require.True(t, ok)
			assert.Equal(t, tt.wantKey, jf.Key)
			assert.Equal(t, "metadata", jf.Field)
			assert.Equal(t, tt.wantPath, jf.Path.String())
		})
	}
}

func TestParseFieldsJSONErrors(t *testing.T) {
	tests := []struct {
		name  string
		field string
		kind  ErrorKind
	}{
		{name: "not json", field: "json(name, color)", kind: KindInvalidFieldExpression},
		{name: "missing path", field: "json(metadata)", kind: KindInvalidFieldExpression},
		{name: "missing field", field: "json(extras, color)", kind: KindInvalidFieldExpression},
		{name: "not a relation", field: "json(name.metadata, color)", kind: KindInvalidFieldExpression},
		{name: "bad path", field: "json(metadata, tags[x])", kind: KindInvalidFieldExpression},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseFieldsForTest(t, "foods", []string{tt.field}, nil)
			require.Error(t, err)
			assert.Equal(t, tt.kind, ClassifyError(err), "got %v", err)
		})
	}
}

func TestParseFieldsManyToAny(t *testing.T) {
	t.Run("unscoped wildcard", func(t *testing.T) {
		nodes, err := parseFieldsForTest(t, "shapes", []string{"children.item.*"}, nil)
		require.NoError(t, err)
		children := nodes[0].(*RelationalField)
		assert.Equal(t, schema.ManyToAny, children.Kind)
		assert.Equal(t, "shapes_children", children.Collection)

		item := children.Children[0].(*RelationalField)
		assert.True(t, item.IsPolymorphic())
		assert.False(t, item.Scoped)
		assert.Equal(t, "collection", item.Discriminator)
		require.Len(t, item.Arms, 2)
		assert.Contains(t, item.Arms, "circles_integer")
		assert.Contains(t, item.Arms, "squares_integer")
	})

	t.Run("scoped", func(t *testing.T) {
		nodes, err := parseFieldsForTest(t, "shapes", []string{
			"children.item:circles_integer.radius",
			"children.item:squares_integer.side",
		}, nil)
		require.NoError(t, err)
		item := nodes[0].(*RelationalField).Children[0].(*RelationalField)
		assert.True(t, item.Scoped)
		require.Len(t, item.Arms, 2)
		assert.Equal(t, "radius", item.Arms["circles_integer"].Children[0].OutputKey())
		assert.Equal(t, "side", item.Arms["squares_integer"].Children[0].OutputKey())
		assert.Equal(t, 2, item.Depth)
	})

	t.Run("unscoped field is ambiguous", func(t *testing.T) {
		_, err := parseFieldsForTest(t, "shapes", []string{"children.item.name"}, nil)
		var ambiguous *AmbiguousRelationError
		require.True(t, errors.As(err, &ambiguous), "got %v", err)
		assert.Equal(t, "item", ambiguous.Field)
		assert.Equal(t, []string{"circles_integer", "squares_integer"}, ambiguous.Allowed)
	})

	t.Run("scope outside allowed collections", func(t *testing.T) {
		_, err := parseFieldsForTest(t, "shapes", []string{"children.item:foods.name"}, nil)
		require.Error(t, err)
		assert.Equal(t, KindSchemaResolution, ClassifyError(err))
	})

	t.Run("scope on a non polymorphic relation", func(t *testing.T) {
		_, err := parseFieldsForTest(t, "foods", []string{"category_id:categories.name"}, nil)
		require.Error(t, err)
		assert.Equal(t, KindInvalidFieldExpression, ClassifyError(err))
	})

	t.Run("bare pointer", func(t *testing.T) {
		nodes, err := parseFieldsForTest(t, "shapes_children", []string{"item"}, nil)
		require.NoError(t, err)
		_, ok := nodes[0].(*PlainField)
		assert.True(t, ok)
	})
}

func TestParseFieldsUnknown(t *testing.T) {
	_, err := parseFieldsForTest(t, "foods", []string{"category_id.colour"}, nil)
	var resolution *SchemaResolutionError
	require.True(t, errors.As(err, &resolution))
	assert.Equal(t, "category_id.colour", resolution.Path)

	_, err = parseFieldsForTest(t, "foods", []string{"name.first"}, nil)
	assert.Equal(t, KindSchemaResolution, ClassifyError(err))

	_, err = parseFieldsForTest(t, "nothing", []string{"id"}, nil)
	assert.Equal(t, KindSchemaResolution, ClassifyError(err))
}

func TestParseFieldsDeepAttachment(t *testing.T) {
	plan, err := Resolve(testutil.FixtureGraph(t), "shapes", Query{
		Fields: []string{"children.item:circles_integer.name", "children.id"},
		Deep: map[string]interface{}{
			"children": map[string]interface{}{
				"_limit": 2,
				"item:circles_integer": map[string]interface{}{
					"_alias": map[string]interface{}{"label": "name"},
				},
			},
		},
	}, DefaultLimits())
	require.NoError(t, err)

	children := plan.Fields[0].(*RelationalField)
	require.NotNil(t, children.Deep)
	assert.Equal(t, 2, *children.Deep.Limit)

	item := children.Children[0].(*RelationalField)
	arm := item.Arms["circles_integer"]
	require.NotNil(t, arm.Deep)
	assert.Equal(t, "circles_integer", arm.Deep.Collection)
	assert.Equal(t, 2, arm.Deep.Depth)
}
