// Package harness runs YAML scenarios through a real engine instance.
//
// A scenario lists commands and, per command, the script the processor
// follows when it receives it. The harness feeds the commands one at a time
// through a ring input, runs the agent until it settles, and records what
// reached the event log, the applier and the output. Assertions are then
// evaluated against that record.
//
// # Scenario Format
//
//	name: rollback_then_commit
//	description: "A failed attempt leaves a ROLLBACK marker"
//	state: default
//	commands:
//	  - source: 1
//	    type: 7
//	    payload: a
//	    script:
//	      - route: { type: 7, payload: x }
//	      - fail: "boom"
//	  - source: 1
//	    payload: b
//	    restart: true
//	assertions:
//	  - type: log_shape
//	    shape: ["1/1/0:ROLLBACK", "1/2/0:0*", "1/2/1:COMMIT"]
//	  - type: trace_count
//	    kind: applied
//	    count: 1
//
// A command without a script is routed as one event with its own type and
// payload. Retry, when given, replaces the script on every delivery after
// the first, for commands rolled back with reason replay. Restart rebuilds
// the agent over the same logs after the command settled, so the event log
// is replayed into fresh state.
//
// # Script Actions
//
//   - route: appends an event of the given type and payload
//   - skip: "skip" (SkipFurtherCommandEvents) or "conflate" (SkipCommand(true))
//   - rollback: "discard" or "replay"
//   - fail: the processor returns an error with this message
//
// # Assertion Types
//
//   - log_shape: the event log, one "source/seq/index:TYPE[*]" per record
//   - trace_contains: a trace entry of kind with matching fields exists
//   - trace_order: payloads of kind appear in this order
//   - trace_count: kind appears exactly count times
//   - final_state: the base state's high-water mark for a source
//   - exceptions: the codes reported to the exception handler, in order
//
// # Deterministic Testing
//
// Runs use in-memory logs, a testutil.DeterministicClock and one ring per
// source, so a scenario produces the same trace on every run. Traces leave
// out command times for golden comparison.
package harness
