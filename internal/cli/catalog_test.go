package cli

import (
	"encoding/json"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newGoldie(t *testing.T) *goldie.Goldie {
	return goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
}

func TestCatalogGolden(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{name: "catalog_all", args: []string{"catalog"}},
		{name: "catalog_boolean", args: []string{"catalog", "boolean"}},
		{name: "catalog_generate_boolean_eq", args: []string{"catalog", "generate", "boolean", "_eq", "true", "false"}},
	}

	g := newGoldie(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, _, err := execute(t, tt.args...)
			require.NoError(t, err)
			g.Assert(t, tt.name, []byte(out))
		})
	}
}

func TestCatalogJSON(t *testing.T) {
	out, _, err := execute(t, "catalog", "uuid", "--format", "json")
	require.NoError(t, err)

	var resp struct {
		Status string          `json:"status"`
		Data   OperatorListing `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	require.Len(t, resp.Data, 1)
	assert.Equal(t, "uuid", resp.Data[0].Kind)
	assert.Equal(t, []string{"_eq", "_neq", "_null", "_nnull", "_in", "_nin"}, resp.Data[0].Operators)
}

func TestCatalogGenerateValues(t *testing.T) {
	out, _, err := execute(t, "catalog", "generate", "integer", "between", "5", "1", "9", "3", "--format", "json")
	require.NoError(t, err)

	var resp struct {
		Data []struct {
			Operator string                 `json:"operator"`
			Filter   map[string]interface{} `json:"filter"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.NotEmpty(t, resp.Data)
	assert.Equal(t, "between", resp.Data[0].Operator)
	assert.Contains(t, resp.Data[0].Filter, "_between")
}

func TestCatalogGenerateStringFallback(t *testing.T) {
	out, _, err := execute(t, "catalog", "generate", "string", "eq", "apple")
	require.NoError(t, err)
	assert.Equal(t, "{\"_eq\":\"apple\"}\n", out)
}

func TestCatalogErrors(t *testing.T) {
	_, _, err := execute(t, "catalog", "money")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	_, _, err = execute(t, "catalog", "generate", "boolean", "_frobnicate")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	out, _, err := execute(t, "catalog", "generate", "boolean", "_contains", "x")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "Error [INVALID_QUERY]")

	out, _, err = execute(t, "catalog", "generate", "string", "_regex", "^a")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "Error [INTERNAL]")
}

func TestParseValueArg(t *testing.T) {
	assert.Equal(t, float64(42), parseValueArg("42"))
	assert.Equal(t, true, parseValueArg("true"))
	assert.Nil(t, parseValueArg("null"))
	assert.Equal(t, "abc", parseValueArg("abc"))
	assert.Equal(t, "hello", parseValueArg(`"hello"`))
}
