package planner

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"queryengine/internal/catalog"
	"queryengine/internal/scalars"
	"queryengine/internal/testutil"
)

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{name: "nil", err: nil, want: KindUnknown},
		{name: "plain", err: errors.New("boom"), want: KindUnknown},
		{name: "depth", err: &MaxDepthExceededError{Surface: SurfaceFields, Depth: 6, Max: 5}, want: KindMaxDepthExceeded},
		{name: "wrapped depth", err: fmt.Errorf("resolve: %w", &MaxDepthExceededError{}), want: KindMaxDepthExceeded},
		{name: "invalid operator", err: &catalog.InvalidOperatorError{Kind: scalars.Boolean, Operator: catalog.Contains}, want: KindInvalidOperator},
		{name: "unimplemented", err: &catalog.UnimplementedOperatorError{Kind: scalars.String, Operator: catalog.Regex, Stage: "generator"}, want: KindUnimplementedOperator},
		{name: "ambiguous", err: &AmbiguousRelationError{Collection: "shapes_children", Field: "item"}, want: KindAmbiguousRelation},
		{name: "field expression", err: &InvalidFieldExpressionError{Expression: "json(x)"}, want: KindInvalidFieldExpression},
		{name: "schema", err: unknownFilterKey("x", "foods"), want: KindSchemaResolution},
		{name: "invalid query", err: invalidQuery("bad"), want: KindInvalidQuery},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifyError(tt.err))
		})
	}

	assert.True(t, KindInvalidOperator.IsUserError())
	assert.False(t, KindUnimplementedOperator.IsUserError())
	assert.Equal(t, "INTERNAL", KindUnimplementedOperator.Code())
	assert.Equal(t, "INVALID_QUERY", KindAmbiguousRelation.Code())
}

func TestErrorPayloadGolden(t *testing.T) {
	graph := testutil.FixtureGraph(t)
	limits := Limits{MaxRelationalDepth: 1}

	tests := []struct {
		name  string
		query Query
	}{
		{
			name:  "max_depth",
			query: Query{Sort: []string{"ingredients.food_id.name"}},
		},
		{
			name:  "invalid_filter_key",
			query: Query{Filter: map[string]interface{}{"colour": map[string]interface{}{"_eq": "red"}}},
		},
		{
			name:  "invalid_operator",
			query: Query{Filter: map[string]interface{}{"created_at": map[string]interface{}{"_contains": "2024"}}},
		},
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Resolve(graph, "foods", tt.query, limits)
			require.Error(t, err)

			out, err := json.MarshalIndent(ErrorPayload(err), "", "  ")
			require.NoError(t, err)
			g.Assert(t, tt.name, append(out, '\n'))
		})
	}
}

func TestErrorPayloadWrappedDepth(t *testing.T) {
	err := fmt.Errorf("planning foods: %w", &MaxDepthExceededError{Surface: SurfaceDeep, Path: "a.b", Depth: 3, Max: 2})
	payload := ErrorPayload(err)
	require.Len(t, payload.Errors, 1)
	assert.Equal(t, MaxDepthMessage, payload.Errors[0].Message)
	assert.Equal(t, "max_depth_exceeded", payload.Errors[0].Extensions.Kind)
}
