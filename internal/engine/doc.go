// Package engine implements the Elara duty-cycle engine.
//
// The engine turns an ordered command log into an ordered event log. Work is
// split into steps, each a non-blocking "try one unit of work" primitive:
//
//   - Sequencer: stamps input messages with a per-source sequence and a time,
//     appends them to the command log
//   - CommandStep: runs each new command through the router and the
//     application's CommandProcessor
//   - EventStep: replays the event log, then applies committed events
//   - OutputStep: hands committed events to an Output, at most once
//
// ARCHITECTURE:
//
// Single-Writer Duty Cycle:
// One goroutine drives one engine instance through a Runner. No step blocks.
// More throughput comes from running independent instances (sequencer,
// processor, publisher) against the same logs, never from parallel steps.
//
// Priority Law:
// Each tick evaluates events, then commands, then the sequencer, and stops at
// the first step that did work. Events are already decided facts and drain
// first. Commands drain before new input is accepted, so a processing
// backlog back-pressures the inputs instead of growing unseen. The order is
// a correctness property; it is declared once as PriorityPolicy.
//
// Replay Safety:
// The base state is the per-source high-water mark of applied events. The
// command step skips commands whose events are all applied; the event step
// skips applied events. Replaying the logs from the start is therefore a
// no-op for work already done.
//
// ERROR HANDLING: callback failures are reported to the ExceptionHandler as
// *ProcessingError and the step moves on ("log and continue"). Retrying
// would make replay non-deterministic.
package engine
