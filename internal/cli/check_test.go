package cli

import (
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const checkBatchJSON = `[
  {"key": "list", "collection": "foods", "query": {"fields": ["id", "name"]}},
  {"key": "typo", "collection": "foods", "query": {"filter": {"colour": {"_eq": "red"}}}},
  {"collection": "categories", "query": {"limit": 3}}
]`

func TestCheckText(t *testing.T) {
	cfg := writeFixtureConfig(t)
	batch := writeFile(t, "batch.json", checkBatchJSON)

	out, _, err := execute(t, "check", batch, "--config", cfg, "--concurrency", "2")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, err.Error(), "1 of 3 queries rejected")

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 4)
	assert.True(t, strings.HasPrefix(lines[0], "ok   list foods "), lines[0])
	assert.Equal(t, `FAIL typo foods schema_resolution: Invalid filter key "colour" on "foods"`, lines[1])
	assert.Equal(t, "ok   #2 categories depth=0 limit=3", lines[2])
	assert.Equal(t, "3 checked, 1 failed", lines[3])
}

func TestCheckJSONAllPass(t *testing.T) {
	cfg := writeFixtureConfig(t)

	var entries []string
	for i := 0; i < 20; i++ {
		entries = append(entries, fmt.Sprintf(`{"key": "q%d", "collection": "foods", "query": {"limit": %d}}`, i, i+1))
	}
	batch := writeFile(t, "batch.json", "["+strings.Join(entries, ",")+"]")

	out, _, err := execute(t, "check", batch, "--config", cfg, "--format", "json")
	require.NoError(t, err)

	var resp struct {
		Status string      `json:"status"`
		Data   CheckReport `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Zero(t, resp.Data.Failed)
	require.Len(t, resp.Data.Results, 20)
	for i, res := range resp.Data.Results {
		assert.Equal(t, fmt.Sprintf("q%d", i), res.Key)
		assert.Equal(t, i+1, res.Limit)
	}
}

func TestCheckInvalidBatch(t *testing.T) {
	cfg := writeFixtureConfig(t)
	batch := writeFile(t, "batch.json", `{"not": "a list"}`)

	_, _, err := execute(t, "check", batch, "--config", cfg)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}
