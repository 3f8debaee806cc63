// Package store provides SQLite-backed durable storage for Elara logs.
//
// One database holds any number of named logs (typically "commands" and
// "events") plus the committed positions of output steps:
//   - log_entries: framed records keyed by (log, position)
//   - output_positions: last acknowledged event position per output
//   - meta: the store's log identity (a UUIDv7 minted on first open)
//
// # Ordering
//
// Positions are assigned inside the INSERT statement as MAX(position)+1 for
// the log, so they are contiguous and strictly increasing. Each log has one
// appending goroutine; pollers read by exact position and never see a gap.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - One open connection: SQLite has a single writer
package store
