package router

import (
	"fmt"

	"github.com/roach88/elara/internal/frame"
	"github.com/roach88/elara/internal/log"
)

type ctxState int

const (
	ctxOpen ctxState = iota
	ctxCommitted
	ctxAborted
	ctxFlushed
)

// RoutingContext is the append scope of one routed event. The payload is
// written in place into the event log buffer. Buffers are only valid until
// the next RouteEvent or the end of the transaction.
//
// Commit fixes the payload length. When the next event is routed the record
// is copied into the router, and it reaches the log once a later event
// follows or the transaction completes, so the last event that was not
// aborted carries the commit flag.
type RoutingContext struct {
	router   *Router
	append   log.AppendContext
	index    int16
	length   int
	state    ctxState
	detached bool
	scratch  []byte
}

// Index returns the event index, or -1 for a detached context.
func (c *RoutingContext) Index() int16 {
	if c.detached {
		return -1
	}
	return c.index
}

// Detached reports whether routes are being dropped after a skip.
func (c *RoutingContext) Detached() bool { return c.detached }

// Buffer returns a writable payload region of n bytes starting at the
// payload offset and sets the payload length to n.
func (c *RoutingContext) Buffer(n int) []byte {
	if c.detached {
		if cap(c.scratch) < n {
			c.scratch = make([]byte, n)
		}
		return c.scratch[:n]
	}
	buf := c.append.Buffer(frame.EventHeaderLength + n)
	c.length = n
	return buf[frame.EventHeaderLength : frame.EventHeaderLength+n]
}

// Write appends p to the payload.
func (c *RoutingContext) Write(p []byte) (int, error) {
	if c.detached {
		return len(p), nil
	}
	if c.state != ctxOpen {
		return 0, c.router.stateError(fmt.Sprintf("write to closed event %d", c.index))
	}
	buf := c.append.Buffer(frame.EventHeaderLength + c.length + len(p))
	copy(buf[frame.EventHeaderLength+c.length:], p)
	c.length += len(p)
	return len(p), nil
}

// Commit finalizes the event with the first length payload bytes.
func (c *RoutingContext) Commit(length int) error {
	if c.detached {
		return nil
	}
	if c.state != ctxOpen {
		return c.router.stateError(fmt.Sprintf("commit of closed event %d", c.index))
	}
	if length < 0 || length > c.length {
		return c.router.newError(ErrCodeBounds, fmt.Sprintf("commit length %d outside payload of %d bytes", length, c.length), nil)
	}
	c.length = length
	c.state = ctxCommitted
	return nil
}

// Abort discards the event. Its index is reused by the next route. Aborting
// an event after the next one was routed has no effect.
func (c *RoutingContext) Abort() {
	if c.detached || c.state == ctxFlushed || c.state == ctxAborted {
		return
	}
	c.discard()
}

func (c *RoutingContext) discard() {
	c.append.Abort()
	c.state = ctxAborted
	if c.router.pending == c {
		c.router.pending = nil
		c.router.next--
	}
}
