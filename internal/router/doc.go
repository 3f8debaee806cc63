// Package router implements the transactional event router: one command in,
// zero or more events out, always closed by exactly one terminal marker or,
// for conflation and replay rollbacks, by nothing at all.
//
// # Transaction lifecycle
//
//	IDLE --StartTransaction--> ROUTING --CompleteTransaction--> TERMINATED
//
// While ROUTING, events are opened one at a time with RouteEvent. Opening a
// new event commits the previous one, which the router holds until a later
// event is committed so that aborting the last context never strands the
// commit flag. On completion the router decides the Outcome:
//
//   - Commit: last event that was not aborted flagged, COMMIT marker appended
//   - Rollback(Discard): open event aborted, ROLLBACK marker appended
//   - Rollback(Replay): as Discard, but with no events nothing is appended
//     and the command is retried
//   - Skip(Skipped | Conflated | Consumed): see SkipMode
//
// Call-order violations are reported as *RoutingError and never retried.
package router
