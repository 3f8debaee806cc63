package harness

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustParse(t *testing.T, doc string) *Scenario {
	t.Helper()
	s, err := ParseScenario([]byte(doc))
	require.NoError(t, err)
	return s
}

func TestRun_PassThrough(t *testing.T) {
	result, err := Run(mustParse(t, minimalScenario))
	require.NoError(t, err)

	assert.True(t, result.Pass, "errors: %v", result.Errors)
	assert.Equal(t, []string{"1/1/0:7*", "1/1/1:COMMIT"}, result.Log)
	assert.Equal(t, []TraceEvent{
		{Kind: KindApplied, Source: 1, Seq: 1, Index: 0, Type: 7, Payload: "a"},
		{Kind: KindPublished, Source: 1, Seq: 1, Index: 0, Type: 7, Payload: "a"},
	}, result.Trace)
	assert.Equal(t, SourceState{LastSequence: 1, LastIndex: 1, AllApplied: true}, result.State[1])
}

func TestRun_SequencesPerSource(t *testing.T) {
	result, err := Run(mustParse(t, `
name: sources
description: "each source numbers its own commands"
commands:
  - { source: 2, payload: a }
  - { source: 1, payload: b }
  - { source: 2, payload: c }
assertions:
  - type: log_shape
    shape: ["2/1/0:0*", "2/1/1:COMMIT", "1/1/0:0*", "1/1/1:COMMIT", "2/2/0:0*", "2/2/1:COMMIT"]
`))
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
}

func TestRun_FailedAssertionIsReported(t *testing.T) {
	result, err := Run(mustParse(t, `
name: wrong
description: "expects a publish that never happens"
commands:
  - source: 1
    payload: a
    script:
      - rollback: discard
assertions:
  - type: trace_count
    kind: published
    count: 1
  - type: log_shape
    shape: ["1/1/0:ROLLBACK"]
`))
	require.NoError(t, err)

	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "Assertion failed: trace_count")
	assert.Contains(t, result.Errors[0], "Expected: 1 published entries")
}

func TestRun_ReplayForeverDoesNotSettle(t *testing.T) {
	_, err := Run(mustParse(t, `
name: stuck
description: "asks for replay on every delivery"
commands:
  - source: 1
    payload: a
    script:
      - rollback: replay
assertions:
  - type: exceptions
    codes: []
`))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotSettled))
	assert.Contains(t, err.Error(), "commands[0]")
}

func TestRun_ReservedTypeIsRoutingError(t *testing.T) {
	result, err := Run(mustParse(t, `
name: reserved
description: "routing a marker type rolls the transaction back"
commands:
  - source: 1
    payload: a
    script:
      - route: { type: 4, payload: ok }
      - route: { type: -1, payload: bad }
  - source: 1
    payload: b
assertions:
  - type: log_shape
    shape: ["1/1/0:ROLLBACK", "1/2/0:0*", "1/2/1:COMMIT"]
  - type: trace_order
    kind: applied
    payloads: [b]
  - type: exceptions
    codes: [ROUTING]
`))
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
}

func TestRun_SingleStateRefusesSecondEvent(t *testing.T) {
	result, err := Run(mustParse(t, `
name: single
description: "the single-event state refuses to route a second event"
state: single
commands:
  - source: 1
    payload: a
    script:
      - route: { type: 1, payload: x }
      - route: { type: 1, payload: y }
    restart: true
  - source: 1
    payload: b
assertions:
  - type: log_shape
    shape: ["1/1/0:ROLLBACK", "1/2/0:0*", "1/2/1:COMMIT"]
  - type: trace_order
    kind: applied
    payloads: [b]
  - type: exceptions
    codes: [ROUTING]
  - type: final_state
    source: 1
    expect: { last_sequence: 2, all_applied: true }
`))
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
}

func TestRun_ConflatedCommandRunsAgainAfterRestart(t *testing.T) {
	result, err := Run(mustParse(t, `
name: conflated_restart
description: "a conflated command left no trace in the log, so a restart processes it again"
commands:
  - source: 1
    payload: a
    script:
      - skip: conflate
    retry:
      - route: { type: 5, payload: late }
    restart: true
assertions:
  - type: log_shape
    shape: ["1/1/0:5*", "1/1/1:COMMIT"]
  - type: trace_order
    kind: applied
    payloads: [late]
`))
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
}
