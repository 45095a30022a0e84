package planner

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"queryengine/internal/catalog"
	"queryengine/internal/schema"
	"queryengine/internal/testutil"
)

type obj = map[string]interface{}

func parseFilterForTest(t *testing.T, collection string, filter obj) (FilterNode, error) {
	t.Helper()
	return ParseFilter(testutil.FixtureGraph(t), collection, filter, NewDepthGuard(DefaultMaxRelationalDepth))
}

func TestParseFilterFieldPredicates(t *testing.T) {
	node, err := parseFilterForTest(t, "foods", obj{
		"name":     obj{"_eq": "Apple"},
		"calories": obj{"_gt": 10, "_lt": 100},
	})
	require.NoError(t, err)

	and, ok := node.(*And)
	require.True(t, ok)
	require.Len(t, and.Children, 2)

	// Keys are visited in sorted order.
	calories := and.Children[0].(*And)
	require.Len(t, calories.Children, 2)
	gt := calories.Children[0].(*FieldPredicate)
	assert.Equal(t, "calories", gt.Field)
	assert.Equal(t, catalog.Gt, gt.Operator)

	name := and.Children[1].(*FieldPredicate)
	assert.Equal(t, catalog.Eq, name.Operator)
	assert.Equal(t, "Apple", name.Operand)
}

func TestParseFilterLogical(t *testing.T) {
	node, err := parseFilterForTest(t, "foods", obj{
		"_or": []interface{}{
			obj{"name": obj{"_eq": "Apple"}},
			obj{"_and": []interface{}{
				obj{"calories": obj{"_gte": 5}},
				obj{"calories": obj{"_lte": 50}},
			}},
		},
	})
	require.NoError(t, err)

	or, ok := node.(*Or)
	require.True(t, ok)
	require.Len(t, or.Children, 2)
	inner, ok := or.Children[1].(*And)
	require.True(t, ok)
	assert.Len(t, inner.Children, 2)

	_, err = parseFilterForTest(t, "foods", obj{"_and": obj{"name": obj{"_eq": "x"}}})
	assert.Equal(t, KindInvalidQuery, ClassifyError(err))
}

func TestParseFilterNullRewrite(t *testing.T) {
	node, err := parseFilterForTest(t, "foods", obj{"calories": obj{"_eq": nil}})
	require.NoError(t, err)
	pred := node.(*FieldPredicate)
	assert.Equal(t, catalog.Null, pred.Operator)
	assert.Equal(t, true, pred.Operand)

	node, err = parseFilterForTest(t, "foods", obj{"calories": obj{"_neq": nil}})
	require.NoError(t, err)
	assert.Equal(t, catalog.Nnull, node.(*FieldPredicate).Operator)
}

func TestParseFilterOperands(t *testing.T) {
	tests := []struct {
		name       string
		collection string
		filter     obj
		want       interface{}
		wantKind   ErrorKind
	}{
		{
			name:       "in from comma list",
			collection: "foods",
			filter:     obj{"calories": obj{"_in": "1,2,3"}},
			want:       []interface{}{"1", "2", "3"},
		},
		{
			name:       "between needs two values",
			collection: "foods",
			filter:     obj{"calories": obj{"_between": []interface{}{1}}},
			wantKind:   KindInvalidQuery,
		},
		{
			name:       "null takes a boolean",
			collection: "foods",
			filter:     obj{"calories": obj{"_null": "yes please"}},
			wantKind:   KindInvalidQuery,
		},
		{
			name:       "date becomes epoch millis",
			collection: "foods",
			filter:     obj{"created_at": obj{"_gt": "2024-01-02"}},
			want:       time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC).UnixMilli(),
		},
		{
			name:       "invalid date",
			collection: "foods",
			filter:     obj{"created_at": obj{"_gt": "yesterday"}},
			wantKind:   KindInvalidQuery,
		},
		{
			name:       "uuid is canonical",
			collection: "users",
			filter:     obj{"id": obj{"_eq": "6BA7B810-9DAD-11D1-80B4-00C04FD430C8"}},
			want:       "6ba7b810-9dad-11d1-80b4-00c04fd430c8",
		},
		{
			name:       "invalid regex",
			collection: "foods",
			filter:     obj{"name": obj{"_regex": "(["}},
			wantKind:   KindInvalidQuery,
		},
		{
			name:       "number expected",
			collection: "foods",
			filter:     obj{"calories": obj{"_eq": "many"}},
			wantKind:   KindInvalidQuery,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			node, err := parseFilterForTest(t, tt.collection, tt.filter)
			if tt.wantKind != KindUnknown {
				require.Error(t, err)
				assert.Equal(t, tt.wantKind, ClassifyError(err), "got %v", err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, node.(*FieldPredicate).Operand)
		})
	}
}

func TestParseFilterNow(t *testing.T) {
	now := time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)
	plan, err := Resolve(testutil.FixtureGraph(t), "foods", Query{
		Filter: obj{"created_at": obj{"_gte": "$NOW(-1 day)"}},
	}, DefaultLimits(), WithClock(func() time.Time { return now }))
	require.NoError(t, err)
	assert.Equal(t, now.AddDate(0, 0, -1).UnixMilli(), plan.Filter.(*FieldPredicate).Operand)

	_, err = Resolve(testutil.FixtureGraph(t), "foods", Query{
		Filter: obj{"created_at": obj{"_gte": "$NOW(-1 fortnight)"}},
	}, DefaultLimits())
	assert.Equal(t, KindInvalidQuery, ClassifyError(err))
}

func TestParseFilterErrors(t *testing.T) {
	tests := []struct {
		name       string
		collection string
		filter     obj
		message    string
		kind       ErrorKind
	}{
		{
			name:       "unknown field",
			collection: "foods",
			filter:     obj{"colour": obj{"_eq": "red"}},
			message:    `Invalid filter key "colour" on "foods"`,
			kind:       KindSchemaResolution,
		},
		{
			name:       "operator at collection level",
			collection: "foods",
			filter:     obj{"_eq": 1},
			message:    `Invalid filter key "_eq" on "foods"`,
			kind:       KindSchemaResolution,
		},
		{
			name:       "unknown nested field",
			collection: "foods",
			filter:     obj{"category_id": obj{"colour": obj{"_eq": "red"}}},
			message:    `Invalid filter key "colour" on "categories"`,
			kind:       KindSchemaResolution,
		},
		{
			name:       "operator not valid for kind",
			collection: "users",
			filter:     obj{"active": obj{"_contains": "t"}},
			message:    `"boolean" field type does not contain the "_contains" filter operator`,
			kind:       KindInvalidOperator,
		},
		{
			name:       "unknown operator",
			collection: "foods",
			filter:     obj{"calories": obj{"_approximately": 3}},
			message:    `"integer" field type does not contain the "_approximately" filter operator`,
			kind:       KindInvalidOperator,
		},
		{
			name:       "operator on a to-many relation",
			collection: "foods",
			filter:     obj{"ingredients": obj{"_eq": 1}},
			message:    `Invalid filter key "_eq" on "food_ingredients"`,
			kind:       KindSchemaResolution,
		},
		{
			name:       "unknown function",
			collection: "foods",
			filter:     obj{"shout(name)": obj{"_eq": 1}},
			message:    `Invalid filter key "shout(name)" on "foods"`,
			kind:       KindSchemaResolution,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseFilterForTest(t, tt.collection, tt.filter)
			require.EqualError(t, err, tt.message)
			assert.Equal(t, tt.kind, ClassifyError(err))
		})
	}
}

func TestParseFilterUnderscoreFields(t *testing.T) {
	graph, err := schema.Build(schema.Definition{
		Collections: []schema.CollectionDef{{Collection: "posts"}},
		Fields: []schema.FieldDef{
			{Collection: "posts", Field: "id", Type: "integer", PrimaryKey: true},
			{Collection: "posts", Field: "_status", Type: "string"},
			{Collection: "posts", Field: "_in", Type: "string"},
		},
	})
	require.NoError(t, err)
	parse := func(filter obj) (FilterNode, error) {
		return ParseFilter(graph, "posts", filter, NewDepthGuard(DefaultMaxRelationalDepth))
	}

	node, err := parse(obj{"_status": obj{"_eq": "draft"}})
	require.NoError(t, err)
	pred := node.(*FieldPredicate)
	assert.Equal(t, "_status", pred.Field)
	assert.Equal(t, catalog.Eq, pred.Operator)
	assert.Equal(t, "draft", pred.Operand)

	// A field named after an operator is still a field at collection level.
	node, err = parse(obj{"_in": obj{"_in": []interface{}{"x", "y"}}})
	require.NoError(t, err)
	pred = node.(*FieldPredicate)
	assert.Equal(t, "_in", pred.Field)
	assert.Equal(t, catalog.In, pred.Operator)

	node, err = parse(obj{"_in": obj{"_eq": "x"}})
	require.NoError(t, err)
	assert.Equal(t, "_in", node.(*FieldPredicate).Field)

	_, err = parse(obj{"_eq": "x"})
	require.EqualError(t, err, `Invalid filter key "_eq" on "posts"`)
	assert.Equal(t, KindSchemaResolution, ClassifyError(err))

	_, err = ParseFields(graph, "posts", []string{"_status", "_in"}, nil, nil, NewDepthGuard(DefaultMaxRelationalDepth))
	require.NoError(t, err)
}

func TestParseFilterRelational(t *testing.T) {
	t.Run("many to one", func(t *testing.T) {
		node, err := parseFilterForTest(t, "foods", obj{"category_id": obj{"name": obj{"_eq": "Fruit"}}})
		require.NoError(t, err)
		rel := node.(*RelationalPredicate)
		assert.Equal(t, schema.ManyToOne, rel.Kind)
		assert.Equal(t, "categories", rel.Collection)
		assert.Equal(t, "name", rel.Filter.(*FieldPredicate).Field)
	})

	t.Run("many to one key", func(t *testing.T) {
		node, err := parseFilterForTest(t, "foods", obj{"category_id": obj{"_eq": 3}})
		require.NoError(t, err)
		pred := node.(*FieldPredicate)
		assert.Equal(t, "category_id", pred.Field)
	})

	t.Run("implicit some", func(t *testing.T) {
		node, err := parseFilterForTest(t, "categories", obj{"foods": obj{"calories": obj{"_gt": 100}}})
		require.NoError(t, err)
		rel := node.(*RelationalPredicate)
		assert.Equal(t, QuantifierSome, rel.Quantifier)
		assert.Equal(t, "foods", rel.Collection)
	})

	t.Run("none", func(t *testing.T) {
		node, err := parseFilterForTest(t, "foods", obj{"ingredients": obj{"_none": obj{"food_id": obj{"_eq": 1}}}})
		require.NoError(t, err)
		rel := node.(*RelationalPredicate)
		assert.Equal(t, QuantifierNone, rel.Quantifier)
		assert.Equal(t, "food_ingredients", rel.Collection)
		assert.Equal(t, "food_id", rel.Filter.(*FieldPredicate).Field)
	})

	t.Run("all is only for follow", func(t *testing.T) {
		_, err := parseFilterForTest(t, "categories", obj{"foods": obj{"_all": obj{"calories": obj{"_gt": 1}}}})
		require.EqualError(t, err, `Invalid filter key "_all" on "foods"`)
	})
}

func TestParseFilterManyToAny(t *testing.T) {
	node, err := parseFilterForTest(t, "shapes", obj{
		"children": obj{"item:circles_integer": obj{"radius": obj{"_gt": 5}}},
	})
	require.NoError(t, err)
	children := node.(*RelationalPredicate)
	assert.Equal(t, schema.ManyToAny, children.Kind)

	item := children.Filter.(*RelationalPredicate)
	assert.Equal(t, "circles_integer", item.Scope)
	assert.Equal(t, "circles_integer", item.Collection)
	assert.Equal(t, "collection", item.Discriminator)

	_, err = parseFilterForTest(t, "shapes", obj{"children": obj{"item": obj{"radius": obj{"_gt": 5}}}})
	var ambiguous *AmbiguousRelationError
	require.True(t, errors.As(err, &ambiguous))

	_, err = parseFilterForTest(t, "shapes", obj{"children": obj{"item:foods": obj{"name": obj{"_eq": "x"}}}})
	assert.Equal(t, KindSchemaResolution, ClassifyError(err))
}

func TestParseFilterFunctions(t *testing.T) {
	node, err := parseFilterForTest(t, "foods", obj{"year(created_at)": obj{"_eq": 2024}})
	require.NoError(t, err)
	fn := node.(*FunctionPredicate)
	assert.Equal(t, FuncYear, fn.Function)
	assert.Equal(t, "created_at", fn.Field)

	node, err = parseFilterForTest(t, "foods", obj{"count(ingredients)": obj{"_gte": 2}})
	require.NoError(t, err)
	count := node.(*FunctionPredicate)
	assert.Equal(t, FuncCount, count.Function)
	assert.Equal(t, schema.ManyToMany, count.RelationKind)

	_, err = parseFilterForTest(t, "foods", obj{"year(name)": obj{"_eq": 2024}})
	assert.Equal(t, KindInvalidFieldExpression, ClassifyError(err))

	_, err = parseFilterForTest(t, "foods", obj{"year(created_at)": obj{"_contains": "4"}})
	assert.Equal(t, KindInvalidOperator, ClassifyError(err))
}

func TestParseFilterFollow(t *testing.T) {
	node, err := parseFilterForTest(t, "foods", obj{
		"$FOLLOW(food_ingredients, food_id)": obj{"_all": obj{"quantity": obj{"_gt": 1}}},
	})
	require.NoError(t, err)
	follow := node.(*FollowPredicate)
	assert.Equal(t, "food_ingredients", follow.Junction)
	assert.Equal(t, "food_id", follow.JoinField)
	assert.Equal(t, QuantifierAll, follow.Quantifier)
	assert.Equal(t, "$FOLLOW(food_ingredients,food_id)", follow.Key())

	node, err = parseFilterForTest(t, "foods", obj{
		"$FOLLOW(food_ingredients,parent_id)": obj{"quantity": obj{"_gt": 1}},
	})
	require.NoError(t, err)
	assert.Equal(t, QuantifierSome, node.(*FollowPredicate).Quantifier)

	tests := map[string]obj{
		"not a relation":         {"$FOLLOW(food_ingredients,quantity)": obj{"quantity": obj{"_gt": 1}}},
		"does not reference":     {"$FOLLOW(foods,category_id)": obj{"name": obj{"_eq": "x"}}},
		"unknown junction":       {"$FOLLOW(pantry,food_id)": obj{"name": obj{"_eq": "x"}}},
		"missing join field arg": {"$FOLLOW(food_ingredients)": obj{"quantity": obj{"_gt": 1}}},
	}
	for name, filter := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := parseFilterForTest(t, "foods", filter)
			require.Error(t, err)
			assert.Equal(t, KindSchemaResolution, ClassifyError(err), "got %v", err)
		})
	}
}
