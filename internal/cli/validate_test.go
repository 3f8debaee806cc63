package cli

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate_Valid(t *testing.T) {
	path := writeFile(t, t.TempDir(), "pt.yaml", `
name: pt
database: pt.db
inputs:
  - source: 1
    kind: ring
output:
  kind: log
`)

	out, err := execute(t, "validate", path)
	require.NoError(t, err)
	assert.Equal(t, "pt: valid (1 inputs, output log:pt)\n", out)
}

func TestValidate_JSON(t *testing.T) {
	path := writeFile(t, t.TempDir(), "pt.yaml", "name: pt\ndatabase: pt.db\n")

	out, err := execute(t, "validate", path, "--format", "json")
	require.NoError(t, err)

	var resp struct {
		Status string           `json:"status"`
		Data   ValidationResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, ValidationResult{Valid: true, Name: "pt"}, resp.Data)
}

func TestValidate_Invalid(t *testing.T) {
	path := writeFile(t, t.TempDir(), "bad.yaml", "name: pt\n")

	out, err := execute(t, "validate", path)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "Error [E_CONFIG]")
	assert.Contains(t, out, "database")
}

func TestValidate_InvalidFormat(t *testing.T) {
	path := writeFile(t, t.TempDir(), "pt.yaml", "name: pt\ndatabase: pt.db\n")

	_, err := execute(t, "validate", path, "--format", "xml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid format")
}
