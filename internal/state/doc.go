// Package state tracks which commands and events have already been folded
// into application state.
//
// The event log is the only source of truth and may be replayed from the
// beginning at any time. Every step that applies something consults a
// BaseState first and skips work whose effect is already recorded; this is
// what keeps replay free of duplicated side effects.
//
// Two implementations are provided:
//   - DefaultBaseState tracks (sequence, index, terminal) per source and
//     supports any number of events per command.
//   - SingleEventBaseState tracks (sequence, terminal) per source and rejects
//     commands that produce more than one application event.
package state
