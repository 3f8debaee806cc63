// Package log defines the append-only log collaborator shared by the command
// and event logs, and provides an in-memory implementation.
//
// A log is a sequence of opaque framed records addressed by position
// (1-based, strictly increasing). Appends go through a scoped AppendContext;
// reads go through a Poller whose cursor only advances when the handler
// answers PollNext.
package log

import "errors"

// ErrClosed is returned when committing on a closed append context or
// appending to a closed log.
var ErrClosed = errors.New("log: closed")

// PollResult tells a Poller whether to advance past the current record.
type PollResult int

const (
	// PollNext consumes the record; the cursor moves past it.
	PollNext PollResult = iota
	// Peek leaves the cursor on the record; it is delivered again on the
	// next Poll.
	Peek
)

func (r PollResult) String() string {
	switch r {
	case PollNext:
		return "POLL"
	case Peek:
		return "PEEK"
	default:
		return "UNKNOWN"
	}
}

// Handler receives one record. buf is borrowed and only valid during the call.
type Handler func(position int64, buf []byte) PollResult

// Log is an append-only record store.
type Log interface {
	Appender() Appender
	Poller() Poller

	// EndPosition returns the position of the last committed record, or 0
	// for an empty log.
	EndPosition() int64
}

// Appender starts appends. A log has one appending owner.
type Appender interface {
	Append() AppendContext
}

// AppendContext is a scoped append: acquire buffer, write, then Commit with
// the final length or Abort. The buffer is only valid until Commit/Abort.
type AppendContext interface {
	// Buffer returns a writable buffer of at least n bytes. Bytes written
	// earlier in this context are preserved when the buffer grows.
	Buffer(n int) []byte

	// Commit appends the first length bytes of the buffer as one record and
	// closes the context.
	Commit(length int) error

	// Abort discards the record and closes the context.
	Abort()

	// Closed reports whether Commit or Abort was called.
	Closed() bool
}

// Poller is a read cursor. Position is the position of the last consumed
// record (0 before the first).
type Poller interface {
	// Poll delivers at most one record to the handler and returns the number
	// of records delivered (0 or 1).
	Poll(h Handler) int

	Position() int64
	MoveToStart()
	MoveToEnd()

	// MoveToPosition positions the cursor so that the next record delivered
	// is the one after position.
	MoveToPosition(position int64)
}
