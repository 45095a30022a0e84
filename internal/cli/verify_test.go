package cli

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type verifyResponse struct {
	Status string       `json:"status"`
	Data   VerifyReport `json:"data"`
}

func TestVerifyMismatch(t *testing.T) {
	cfg := writeFixtureConfig(t)
	query := writeFile(t, "query.json", `{"fields": ["id", "name"], "filter": {"calories": {"_gt": 100}}}`)
	rows := writeFile(t, "rows.json", `[
  {"id": 1, "name": "Bread", "calories": 250},
  {"id": 2, "name": "Cucumber", "calories": 15}
]`)

	out, _, err := execute(t, "verify", "foods", query, rows, "--config", cfg, "--format", "json")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, err.Error(), "1 of 2 rows")

	var resp verifyResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "foods", resp.Data.Collection)
	require.Len(t, resp.Data.Rows, 2)
	assert.Equal(t, "Bread", resp.Data.Rows[0]["name"])
	assert.NotContains(t, resp.Data.Rows[0], "calories")
	require.Len(t, resp.Data.Mismatches, 1)
	assert.Equal(t, 1, resp.Data.Mismatches[0].Index)
}

func TestVerifyAllMatch(t *testing.T) {
	cfg := writeFixtureConfig(t)
	query := writeFile(t, "query.json", `{"fields": ["id"], "filter": {"name": {"_icontains": "BR"}}}`)
	rows := writeFile(t, "rows.json", `[{"id": 1, "name": "Bread"}, {"id": 3, "name": "Brie"}]`)

	out, _, err := execute(t, "verify", "foods", query, rows, "--config", cfg, "--format", "json")
	require.NoError(t, err)

	var resp verifyResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Empty(t, resp.Data.Mismatches)
	require.Len(t, resp.Data.Rows, 2)
}

func TestVerifyRejectedQuery(t *testing.T) {
	cfg := writeFixtureConfig(t)
	query := writeFile(t, "query.json", `{"filter": {"created_at": {"_contains": "2024"}}}`)
	rows := writeFile(t, "rows.json", `[]`)

	out, _, err := execute(t, "verify", "foods", query, rows, "--config", cfg, "--format", "json")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "invalid_operator")
}

func TestVerifyBadRows(t *testing.T) {
	cfg := writeFixtureConfig(t)
	query := writeFile(t, "query.json", `{}`)
	rows := writeFile(t, "rows.json", `{"id": 1}`)

	_, _, err := execute(t, "verify", "foods", query, rows, "--config", cfg)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}
