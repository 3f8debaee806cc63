package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/elara/internal/log"
)

// SQLLog is a named log persisted in the store. It implements log.Log.
type SQLLog struct {
	store   *Store
	name    string
	scratch []byte
}

var _ log.Log = (*SQLLog)(nil)

// Log returns the named log. Logs are created implicitly on first append.
func (s *Store) Log(name string) *SQLLog {
	return &SQLLog{store: s, name: name, scratch: make([]byte, 0, 256)}
}

// Name returns the log name.
func (l *SQLLog) Name() string { return l.name }

func (l *SQLLog) Appender() log.Appender { return sqlAppender{l} }

func (l *SQLLog) Poller() log.Poller { return &sqlPoller{log: l} }

// EndPosition returns the last position, or 0 when the log is empty or the
// query fails. Failures are logged.
func (l *SQLLog) EndPosition() int64 {
	end, err := l.end(context.Background())
	if err != nil {
		l.store.logger.Error("log end position failed", "log", l.name, "error", err)
		return 0
	}
	return end
}

func (l *SQLLog) end(ctx context.Context) (int64, error) {
	var end int64
	err := l.store.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(position), 0) FROM log_entries WHERE log = ?`, l.name,
	).Scan(&end)
	if err != nil {
		return 0, fmt.Errorf("query end of %q: %w", l.name, err)
	}
	return end, nil
}

func (l *SQLLog) append(ctx context.Context, data []byte) error {
	_, err := l.store.db.ExecContext(ctx, `
		INSERT INTO log_entries (log, position, data)
		VALUES (?, (SELECT COALESCE(MAX(position), 0) + 1 FROM log_entries WHERE log = ?), ?)
	`, l.name, l.name, data)
	if err != nil {
		return fmt.Errorf("append to %q: %w", l.name, err)
	}
	return nil
}

// read returns the record at position. ok is false past the end.
func (l *SQLLog) read(ctx context.Context, position int64) (data []byte, ok bool, err error) {
	err = l.store.db.QueryRowContext(ctx,
		`SELECT data FROM log_entries WHERE log = ? AND position = ?`, l.name, position,
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read %q at %d: %w", l.name, position, err)
	}
	return data, true, nil
}

type sqlAppender struct {
	log *SQLLog
}

func (a sqlAppender) Append() log.AppendContext {
	return &sqlAppendContext{log: a.log, buf: a.log.scratch[:0]}
}

type sqlAppendContext struct {
	log    *SQLLog
	buf    []byte
	closed bool
}

func (c *sqlAppendContext) Buffer(n int) []byte {
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

func (c *sqlAppendContext) Commit(length int) error {
	if c.closed {
		return log.ErrClosed
	}
	c.closed = true
	c.log.scratch = c.buf[:0]
	if length < 0 || length > len(c.buf) {
		return fmt.Errorf("store: commit length %d exceeds buffer %d", length, len(c.buf))
	}
	return c.log.append(context.Background(), c.buf[:length])
}

func (c *sqlAppendContext) Abort() {
	if c.closed {
		return
	}
	c.closed = true
	c.log.scratch = c.buf[:0]
}

func (c *sqlAppendContext) Closed() bool { return c.closed }

type sqlPoller struct {
	log      *SQLLog
	position int64
}

// Poll reads the next record by exact position. A read failure is logged
// and reported as no work; the next Poll tries the same position again.
func (p *sqlPoller) Poll(h log.Handler) int {
	data, ok, err := p.log.read(context.Background(), p.position+1)
	if err != nil {
		p.log.store.logger.Error("log poll failed", "log", p.log.name, "position", p.position+1, "error", err)
		return 0
	}
	if !ok {
		return 0
	}
	if h(p.position+1, data) == log.PollNext {
		p.position++
	}
	return 1
}

func (p *sqlPoller) Position() int64 { return p.position }

func (p *sqlPoller) MoveToStart() { p.position = 0 }

func (p *sqlPoller) MoveToEnd() { p.position = p.log.EndPosition() }

func (p *sqlPoller) MoveToPosition(position int64) {
	if position < 0 {
		position = 0
	}
	p.position = position
}
