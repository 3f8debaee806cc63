package harness

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimalScenario = `
name: minimal
description: "one pass-through command"
commands:
  - source: 1
    type: 7
    payload: a
assertions:
  - type: trace_count
    kind: applied
    count: 1
`

func TestParseScenario_Minimal(t *testing.T) {
	s, err := ParseScenario([]byte(minimalScenario))
	require.NoError(t, err)

	assert.Equal(t, "minimal", s.Name)
	require.Len(t, s.Commands, 1)
	assert.Equal(t, CommandStep{Source: 1, Type: 7, Payload: "a"}, s.Commands[0])
	assert.Nil(t, s.Commands[0].Script, "no script means pass-through")
	require.Len(t, s.Assertions, 1)
	assert.Equal(t, AssertTraceCount, s.Assertions[0].Type)
}

func TestParseScenario_Actions(t *testing.T) {
	s, err := ParseScenario([]byte(`
name: actions
description: "every action"
commands:
  - source: 2
    payload: x
    script:
      - route: { type: 3, payload: y }
      - skip: conflate
      - rollback: replay
      - fail: boom
    retry:
      - skip: skip
assertions:
  - type: exceptions
    codes: []
`))
	require.NoError(t, err)

	c := s.Commands[0]
	require.Len(t, c.Script, 4)
	assert.Equal(t, &RouteAction{Type: 3, Payload: "y"}, c.Script[0].Route)
	assert.Equal(t, "conflate", c.Script[1].Skip)
	assert.Equal(t, "replay", c.Script[2].Rollback)
	assert.Equal(t, "boom", c.Script[3].Fail)
	assert.Equal(t, []Action{{Skip: "skip"}}, c.Retry)
	assert.NotNil(t, s.Assertions[0].Codes)
	assert.Empty(t, s.Assertions[0].Codes)
}

func TestParseScenario_Rejects(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "unknown field",
			yaml: minimalScenario + "assertion: []\n",
			want: "field assertion not found",
		},
		{
			name: "missing name",
			yaml: "description: d\ncommands: [{source: 1}]\nassertions: [{type: exceptions, codes: []}]\n",
			want: "name is required",
		},
		{
			name: "missing description",
			yaml: "name: n\ncommands: [{source: 1}]\nassertions: [{type: exceptions, codes: []}]\n",
			want: "description is required",
		},
		{
			name: "no commands",
			yaml: "name: n\ndescription: d\nassertions: [{type: exceptions, codes: []}]\n",
			want: "commands list is required",
		},
		{
			name: "no assertions",
			yaml: "name: n\ndescription: d\ncommands: [{source: 1}]\n",
			want: "assertions list is required",
		},
		{
			name: "bad state",
			yaml: "name: n\ndescription: d\nstate: multi\ncommands: [{source: 1}]\nassertions: [{type: exceptions, codes: []}]\n",
			want: "state must be default or single",
		},
		{
			name: "zero source",
			yaml: "name: n\ndescription: d\ncommands: [{source: 0}]\nassertions: [{type: exceptions, codes: []}]\n",
			want: "commands[0]: source must be positive",
		},
		{
			name: "reserved type",
			yaml: "name: n\ndescription: d\ncommands: [{source: 1, type: -1}]\nassertions: [{type: exceptions, codes: []}]\n",
			want: "type must not be negative",
		},
		{
			name: "two actions in one",
			yaml: "name: n\ndescription: d\ncommands: [{source: 1, script: [{skip: skip, fail: x}]}]\nassertions: [{type: exceptions, codes: []}]\n",
			want: "commands[0].script[0]: exactly one of",
		},
		{
			name: "unknown skip",
			yaml: "name: n\ndescription: d\ncommands: [{source: 1, retry: [{skip: later}]}]\nassertions: [{type: exceptions, codes: []}]\n",
			want: "commands[0].retry[0]: skip must be skip or conflate",
		},
		{
			name: "unknown rollback",
			yaml: "name: n\ndescription: d\ncommands: [{source: 1, script: [{rollback: abort}]}]\nassertions: [{type: exceptions, codes: []}]\n",
			want: "rollback must be discard or replay",
		},
		{
			name: "unknown assertion",
			yaml: "name: n\ndescription: d\ncommands: [{source: 1}]\nassertions: [{type: eventually}]\n",
			want: `unknown assertion type "eventually"`,
		},
		{
			name: "unknown kind",
			yaml: "name: n\ndescription: d\ncommands: [{source: 1}]\nassertions: [{type: trace_count, kind: routed}]\n",
			want: `unknown kind "routed"`,
		},
		{
			name: "log_shape without shape",
			yaml: "name: n\ndescription: d\ncommands: [{source: 1}]\nassertions: [{type: log_shape}]\n",
			want: "shape is required",
		},
		{
			name: "final_state without source",
			yaml: "name: n\ndescription: d\ncommands: [{source: 1}]\nassertions: [{type: final_state, expect: {last_sequence: 1}}]\n",
			want: "source is required for final_state",
		},
		{
			name: "trace_contains without match",
			yaml: "name: n\ndescription: d\ncommands: [{source: 1}]\nassertions: [{type: trace_contains, kind: applied}]\n",
			want: "match is required",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScenario([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadScenario_MissingFile(t *testing.T) {
	_, err := LoadScenario(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read scenario file")
}

func TestLoadDir(t *testing.T) {
	scenarios, err := LoadDir(filepath.Join("testdata", "scenarios"))
	require.NoError(t, err)

	var names []string
	for _, s := range scenarios {
		names = append(names, s.Name)
	}
	assert.Equal(t, []string{"commit_and_rollback", "restart_replays_state", "skip_modes"}, names)
}

func TestLoadDir_Empty(t *testing.T) {
	dir := t.TempDir()
	_, err := LoadDir(dir)

	var nf *ScenarioNotFoundError
	require.True(t, errors.As(err, &nf))
	assert.Equal(t, dir, nf.Dir)
}

func TestLoadDir_DuplicateName(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.yaml"), []byte(minimalScenario), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.yaml"), []byte(minimalScenario), 0o644))

	_, err := LoadDir(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `scenario "minimal" already defined in a.yaml`)
}
