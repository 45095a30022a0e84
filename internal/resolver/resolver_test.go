package resolver

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"queryengine/internal/planner"
	"queryengine/internal/testutil"
)

type obj = map[string]interface{}

func resolveForTest(t *testing.T, collection string, q planner.Query) *planner.Plan {
	t.Helper()
	plan, err := planner.Resolve(testutil.FixtureGraph(t), collection, q, planner.DefaultLimits())
	require.NoError(t, err)
	return plan
}

func TestProjectPlainAndAlias(t *testing.T) {
	plan := resolveForTest(t, "foods", planner.Query{
		Fields: []string{"id", "title"},
		Alias:  map[string]string{"title": "name"},
	})

	rows, err := Project(context.Background(), plan, []map[string]interface{}{
		{"id": 1, "name": []byte("pie"), "calories": 300},
		{"id": 2, "name": nil},
	})
	require.NoError(t, err)
	assert.Equal(t, []map[string]interface{}{
		{"id": 1, "title": "pie"},
		{"id": 2, "title": nil},
	}, rows)
}

func TestProjectWildcard(t *testing.T) {
	plan := resolveForTest(t, "foods", planner.Query{})

	row, err := ProjectRow(plan, obj{"id": 1, "name": "pie", "extra": true})
	require.NoError(t, err)
	assert.Equal(t, obj{
		"id":          1,
		"name":        "pie",
		"calories":    nil,
		"metadata":    nil,
		"created_at":  nil,
		"category_id": nil,
	}, row)
}

func TestProjectManyToOne(t *testing.T) {
	plan := resolveForTest(t, "foods", planner.Query{Fields: []string{"name", "category_id.name"}})

	rows, err := Project(context.Background(), plan, []map[string]interface{}{
		{"name": "pie", "category_id": obj{"id": 4, "name": "baked"}},
		{"name": "water", "category_id": nil},
	})
	require.NoError(t, err)
	assert.Equal(t, obj{"name": "baked"}, rows[0]["category_id"])
	assert.Nil(t, rows[1]["category_id"])
}

func TestProjectToMany(t *testing.T) {
	plan := resolveForTest(t, "categories", planner.Query{Fields: []string{"name", "foods.name"}})

	row, err := ProjectRow(plan, obj{
		"name": "baked",
		"foods": []interface{}{
			obj{"id": 1, "name": "pie"},
			obj{"id": 2, "name": "bread"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, []interface{}{obj{"name": "pie"}, obj{"name": "bread"}}, row["foods"])

	row, err = ProjectRow(plan, obj{"name": "empty"})
	require.NoError(t, err)
	assert.Equal(t, []interface{}{}, row["foods"])
}

func TestProjectKeysOnly(t *testing.T) {
	plan := resolveForTest(t, "categories", planner.Query{Fields: []string{"foods"}})

	tests := []struct {
		name  string
		value interface{}
		want  []interface{}
	}{
		{name: "keys", value: []interface{}{1, 2}, want: []interface{}{1, 2}},
		{name: "rows", value: []interface{}{obj{"id": 1, "name": "pie"}}, want: []interface{}{1}},
		{name: "typed rows", value: []map[string]interface{}{{"id": 3}}, want: []interface{}{3}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			row, err := ProjectRow(plan, obj{"foods": tt.value})
			require.NoError(t, err)
			assert.Equal(t, tt.want, row["foods"])
		})
	}

	_, err := ProjectRow(plan, obj{"foods": "1,2"})
	assert.Error(t, err)
}

func TestProjectJSON(t *testing.T) {
	plan := resolveForTest(t, "foods", planner.Query{
		Fields: []string{"json(metadata, color)", "shade", "json(metadata, tags[1])"},
		Alias:  map[string]string{"shade": "json(category_id.metadata, color)"},
	})

	row, err := ProjectRow(plan, obj{
		"metadata":    `{"color":"red","tags":["a","b"]}`,
		"category_id": obj{"metadata": []byte(`{"size":1}`)},
	})
	require.NoError(t, err)
	assert.Equal(t, "red", row["metadata_color_json"])
	assert.Equal(t, "b", row["metadata_tags_1_json"])
	assert.Equal(t, obj{"shade": nil}, row["category_id"])

	row, err = ProjectRow(plan, obj{"metadata": nil, "category_id": nil})
	require.NoError(t, err)
	assert.Nil(t, row["metadata_color_json"])
	assert.Nil(t, row["category_id"])
}

func TestProjectFunctions(t *testing.T) {
	plan := resolveForTest(t, "foods", planner.Query{
		Fields: []string{"year(created_at)", "count(ingredients)"},
	})

	row, err := ProjectRow(plan, obj{
		"created_at":  "2024-03-17T10:00:00Z",
		"ingredients": []interface{}{obj{"id": 1}, obj{"id": 2}},
	})
	require.NoError(t, err)
	assert.Equal(t, 2024, row["year(created_at)"])
	assert.Equal(t, 2, row["count(ingredients)"])

	// Values an executor already computed are passed through.
	row, err = ProjectRow(plan, obj{"year(created_at)": 1999, "count(ingredients)": 7})
	require.NoError(t, err)
	assert.Equal(t, 1999, row["year(created_at)"])
	assert.Equal(t, 7, row["count(ingredients)"])

	_, err = ProjectRow(plan, obj{"created_at": "not a date"})
	assert.Error(t, err)
}

func TestProjectManyToAny(t *testing.T) {
	rows := []map[string]interface{}{{
		"name": "group",
		"children": []interface{}{
			obj{"collection": "circles_integer", "item": obj{"id": 1, "radius": 5, "name": "c"}},
			obj{"collection": "squares_integer", "item": obj{"id": 2, "side": 3, "name": "s"}},
		},
	}}

	t.Run("scoped", func(t *testing.T) {
		plan := resolveForTest(t, "shapes", planner.Query{
			Fields: []string{"name", "children.item:circles_integer.radius"},
		})
		out, err := Project(context.Background(), plan, rows)
		require.NoError(t, err)
		assert.Equal(t, []interface{}{
			obj{"item": obj{"radius": 5}},
			obj{"item": obj{TypenameKey: "squares_integer"}},
		}, out[0]["children"])
	})

	t.Run("both arms", func(t *testing.T) {
		plan := resolveForTest(t, "shapes", planner.Query{
			Fields: []string{"children.collection", "children.item:circles_integer.radius", "children.item:squares_integer.side"},
		})
		out, err := Project(context.Background(), plan, rows)
		require.NoError(t, err)
		assert.Equal(t, []interface{}{
			obj{"collection": "circles_integer", "item": obj{"radius": 5}},
			obj{"collection": "squares_integer", "item": obj{"side": 3}},
		}, out[0]["children"])
	})

	t.Run("unexpanded pointer", func(t *testing.T) {
		plan := resolveForTest(t, "shapes", planner.Query{
			Fields: []string{"children.item:circles_integer.radius"},
		})
		out, err := Project(context.Background(), plan, []map[string]interface{}{{
			"children": []interface{}{obj{"collection": "circles_integer", "item": "9"}},
		}})
		require.NoError(t, err)
		assert.Equal(t, []interface{}{obj{"item": "9"}}, out[0]["children"])
	})
}

func TestProjectErrors(t *testing.T) {
	plan := resolveForTest(t, "foods", planner.Query{Fields: []string{"category_id.name"}})

	_, err := Project(context.Background(), plan, []map[string]interface{}{{"category_id": 4}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "row 0")
	assert.Contains(t, err.Error(), "foods.category_id")

	_, err = Project(context.Background(), nil, nil)
	assert.Error(t, err)
}

func TestVerifyRows(t *testing.T) {
	plan := resolveForTest(t, "foods", planner.Query{
		Filter: obj{"calories": obj{"_gt": 100}},
	})

	err := VerifyRows(context.Background(), plan, []map[string]interface{}{
		{"id": 1, "calories": 300},
		{"id": 2, "calories": 50},
		{"id": 3, "calories": nil},
	})
	var mismatch *MismatchError
	require.True(t, errors.As(err, &mismatch), "got %v", err)
	assert.Equal(t, "foods", mismatch.Collection)
	require.Len(t, mismatch.Mismatches, 2)
	assert.Equal(t, 1, mismatch.Mismatches[0].Index)
	assert.Equal(t, 2, mismatch.Mismatches[0].Key)
	assert.Equal(t, 3, mismatch.Mismatches[1].Key)
	assert.Contains(t, err.Error(), "2 foods rows do not match")

	assert.NoError(t, VerifyRows(context.Background(), plan, []map[string]interface{}{{"id": 1, "calories": 101}}))
}

func TestVerifyRowsWithoutFilter(t *testing.T) {
	plan := resolveForTest(t, "foods", planner.Query{})
	assert.NoError(t, VerifyRows(context.Background(), plan, []map[string]interface{}{{"id": 1}}))
}
