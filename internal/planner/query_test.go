package planner

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"queryengine/internal/testutil"
)

func TestQueryUnmarshalLooseShapes(t *testing.T) {
	var q Query
	err := json.Unmarshal([]byte(`{
		"fields": "id, name, json(metadata, a.b), category_id.*",
		"filter": "{\"calories\":{\"_gt\":10}}",
		"sort": ["-name", " "],
		"limit": "25",
		"page": 2,
		"search": "pie",
		"alias": {"title": "name"},
		"deep": {"ingredients": {"_limit": 3}},
		"aggregate": {"count": "*", "sum": ["calories"]},
		"groupBy": "category_id,year(created_at)"
	}`), &q)
	require.NoError(t, err)

	assert.Equal(t, []string{"id", "name", "json(metadata, a.b)", "category_id.*"}, q.Fields)
	assert.Equal(t, []string{"-name"}, q.Sort)
	assert.Equal(t, 25, *q.Limit)
	assert.Equal(t, 2, *q.Page)
	assert.Nil(t, q.Offset)
	assert.Equal(t, "pie", q.Search)
	assert.Equal(t, map[string]string{"title": "name"}, q.Alias)
	assert.Equal(t, []string{"*"}, q.Aggregate["count"])
	assert.Equal(t, []string{"calories"}, q.Aggregate["sum"])
	assert.Equal(t, []string{"category_id", "year(created_at)"}, q.GroupBy)

	gt := q.Filter["calories"].(map[string]interface{})["_gt"]
	assert.Equal(t, json.Number("10"), gt)
	assert.Contains(t, q.Deep, "ingredients")
}

func TestQueryUnmarshalErrors(t *testing.T) {
	tests := map[string]string{
		"filter array":    `{"filter": [1, 2]}`,
		"filter garbage":  `{"filter": "{not json"}`,
		"limit text":      `{"limit": "ten"}`,
		"fields number":   `{"fields": 12}`,
		"alias to object": `{"alias": {"a": {"b": 1}}}`,
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			var q Query
			err := json.Unmarshal([]byte(doc), &q)
			require.Error(t, err)
			assert.Equal(t, KindInvalidQuery, ClassifyError(err))
		})
	}
}

func TestQueryDecodedResolves(t *testing.T) {
	var q Query
	require.NoError(t, json.Unmarshal([]byte(`{
		"fields": ["name", "ingredients.quantity"],
		"filter": {"calories": {"_between": [100, "200"]}},
		"deep": {"ingredients": {"_limit": "2", "_filter": {"quantity": {"_gte": 0.5}}}}
	}`), &q))

	plan, err := Resolve(testutil.FixtureGraph(t), "foods", q, DefaultLimits())
	require.NoError(t, err)
	rel := plan.Fields[1].(*RelationalField)
	assert.Equal(t, 2, *rel.Deep.Limit)

	ok, err := Evaluate(plan.Filter, map[string]interface{}{"calories": 150})
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestSplitFields(t *testing.T) {
	assert.Equal(t, []string{"a", "json(b, c.d)", "e.f"}, SplitFields(" a ,json(b, c.d), e.f,"))
	assert.Nil(t, SplitFields(""))
}

func TestSplitPath(t *testing.T) {
	segments, err := splitPath("category_id.json(metadata, a.b)")
	require.NoError(t, err)
	assert.Equal(t, []string{"category_id", "json(metadata, a.b)"}, segments)

	_, err = splitPath("a..b")
	assert.Error(t, err)
	_, err = splitPath("a.b)")
	assert.Error(t, err)
}
