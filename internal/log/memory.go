package log

import (
	"fmt"
	"sync"
)

// MemoryLog keeps records in process memory. Safe for one appending goroutine
// and any number of pollers.
type MemoryLog struct {
	mu      sync.RWMutex
	records [][]byte
	closed  bool

	// scratch is reused across appends; Commit copies out of it.
	scratch []byte
}

// NewMemoryLog returns an empty log.
func NewMemoryLog() *MemoryLog {
	return &MemoryLog{scratch: make([]byte, 0, 256)}
}

// Close rejects further commits.
func (l *MemoryLog) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
}

func (l *MemoryLog) Appender() Appender { return memoryAppender{l} }

func (l *MemoryLog) Poller() Poller { return &memoryPoller{log: l} }

func (l *MemoryLog) EndPosition() int64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return int64(len(l.records))
}

// Len returns the number of records.
func (l *MemoryLog) Len() int {
	return int(l.EndPosition())
}

// Record returns a copy of the record at position, or nil if out of range.
func (l *MemoryLog) Record(position int64) []byte {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if position < 1 || position > int64(len(l.records)) {
		return nil
	}
	return append([]byte(nil), l.records[position-1]...)
}

func (l *MemoryLog) get(position int64) ([]byte, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if position < 1 || position > int64(len(l.records)) {
		return nil, false
	}
	return l.records[position-1], true
}

type memoryAppender struct {
	log *MemoryLog
}

func (a memoryAppender) Append() AppendContext {
	return &memoryAppendContext{log: a.log, buf: a.log.scratch[:0]}
}

type memoryAppendContext struct {
	log    *MemoryLog
	buf    []byte
	closed bool
}

func (c *memoryAppendContext) Buffer(n int) []byte {
	if cap(c.buf) < n {
		grown := make([]byte, n, 2*n)
		copy(grown, c.buf)
		c.buf = grown
	}
	if len(c.buf) < n {
		c.buf = c.buf[:n]
	}
	return c.buf
}

func (c *memoryAppendContext) Commit(length int) error {
	if c.closed {
		return ErrClosed
	}
	c.closed = true
	if length < 0 || length > len(c.buf) {
		return fmt.Errorf("log: commit length %d exceeds buffer %d", length, len(c.buf))
	}
	record := append([]byte(nil), c.buf[:length]...)

	c.log.mu.Lock()
	defer c.log.mu.Unlock()
	c.log.scratch = c.buf[:0]
	if c.log.closed {
		return ErrClosed
	}
	c.log.records = append(c.log.records, record)
	return nil
}

func (c *memoryAppendContext) Abort() {
	if c.closed {
		return
	}
	c.closed = true
	c.log.mu.Lock()
	c.log.scratch = c.buf[:0]
	c.log.mu.Unlock()
}

func (c *memoryAppendContext) Closed() bool { return c.closed }

type memoryPoller struct {
	log      *MemoryLog
	position int64
}

func (p *memoryPoller) Poll(h Handler) int {
	record, ok := p.log.get(p.position + 1)
	if !ok {
		return 0
	}
	if h(p.position+1, record) == PollNext {
		p.position++
	}
	return 1
}

func (p *memoryPoller) Position() int64 { return p.position }

func (p *memoryPoller) MoveToStart() { p.position = 0 }

func (p *memoryPoller) MoveToEnd() { p.position = p.log.EndPosition() }

func (p *memoryPoller) MoveToPosition(position int64) {
	if position < 0 {
		position = 0
	}
	p.position = position
}
