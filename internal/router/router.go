package router

import (
	"fmt"

	"github.com/roach88/elara/internal/frame"
	"github.com/roach88/elara/internal/log"
)

// Transaction is what a command processor sees while handling one command.
type Transaction interface {
	// Command returns the command being processed. The view is only valid
	// for the duration of the transaction.
	Command() frame.Command

	// RouteEvent opens an append context for the next event of this command.
	RouteEvent(typ int32) (*RoutingContext, error)

	// SkipCommand skips the command; see SkipMode for the outcomes.
	SkipCommand(allowConflation bool) SkipMode

	// SkipFurtherCommandEvents is SkipCommand without conflation.
	SkipFurtherCommandEvents() SkipMode

	// Rollback requests a rollback, decided at completion.
	Rollback(reason RollbackReason) error

	// NextEventIndex returns the index the next routed event will get.
	NextEventIndex() int

	// SkipMode returns the skip decision so far.
	SkipMode() SkipMode
}

// Router turns one command at a time into a transaction of events on the
// event log. It is owned by the command step's goroutine.
type Router struct {
	appender log.Appender

	state   State
	cmd     frame.Command
	next    int
	written int
	pending *RoutingContext

	// held is the last committed event, kept out of the log until the next
	// event is committed or the transaction completes so it can still take
	// the commit flag. spare is the buffer it swaps with.
	held      []byte
	heldIndex int16
	hasHeld   bool
	spare     []byte

	// maxEvents bounds the application events per command; 0 is unbounded.
	maxEvents int

	skip     SkipMode
	rollback bool
	reason   RollbackReason

	// err holds an append failure from SkipCommand, reported at completion.
	err error

	detached RoutingContext
}

var _ Transaction = (*Router)(nil)

// Option configures a Router.
type Option func(*Router)

// WithEventLimit refuses to route more than n application events for one
// command. n <= 0 means no limit.
func WithEventLimit(n int) Option {
	return func(r *Router) {
		if n > 0 {
			r.maxEvents = n
		}
	}
}

// New returns an idle router appending to the event log.
func New(appender log.Appender, opts ...Option) *Router {
	r := &Router{appender: appender}
	for _, opt := range opts {
		opt(r)
	}
	r.detached = RoutingContext{router: r, detached: true}
	return r
}

// State returns the transaction state.
func (r *Router) State() State { return r.state }

// StartTransaction binds the router to cmd. The next event index is 0.
func (r *Router) StartTransaction(cmd frame.Command) error {
	if r.state == StateRouting {
		return r.stateError("transaction already open")
	}
	r.state = StateRouting
	r.cmd = cmd
	r.next = 0
	r.written = 0
	r.pending = nil
	r.hasHeld = false
	r.skip = SkipNone
	r.rollback = false
	r.reason = Discard
	r.err = nil
	return nil
}

// Reset abandons any open transaction without appending anything and
// returns the router to IDLE.
func (r *Router) Reset() {
	if r.pending != nil {
		r.pending.discard()
	}
	r.hasHeld = false
	r.state = StateIdle
	r.cmd = frame.Command{}
}

func (r *Router) Command() frame.Command { return r.cmd }

func (r *Router) NextEventIndex() int { return r.next }

func (r *Router) SkipMode() SkipMode { return r.skip }

// RouteEvent opens an append context for a new event of type typ. A still
// open previous event is committed first. After a skip the returned
// context is detached and writes nowhere. Past the event limit it fails
// with a bounds error and the transaction is left as it was.
func (r *Router) RouteEvent(typ int32) (*RoutingContext, error) {
	if r.state != StateRouting {
		return nil, r.stateError(fmt.Sprintf("route event in state %s", r.state))
	}
	if r.skip != SkipNone {
		r.detached.length = 0
		return &r.detached, nil
	}
	if typ == frame.TypeCommit || typ == frame.TypeRollback {
		return nil, r.newError(ErrCodeReservedType, fmt.Sprintf("event type %s is reserved", frame.TypeName(typ)), nil)
	}
	if r.maxEvents > 0 && r.events() >= r.maxEvents {
		return nil, r.newError(ErrCodeBounds, fmt.Sprintf("command allows at most %d events", r.maxEvents), nil)
	}
	if err := r.holdPending(); err != nil {
		return nil, err
	}
	if r.next >= frame.MaxEventIndex {
		return nil, r.newError(ErrCodeBounds, fmt.Sprintf("event index %d leaves no room for the terminal marker", r.next), nil)
	}

	ac := r.appender.Append()
	buf := ac.Buffer(frame.EventHeaderLength)
	_, err := frame.EncodeEventHeader(buf, 0, r.cmd.SourceID(), r.cmd.SourceSequence(), int16(r.next), typ, r.cmd.Time(), 0, 0)
	if err != nil {
		ac.Abort()
		return nil, r.newError(ErrCodeAppend, "encode event header", err)
	}

	ctx := &RoutingContext{router: r, append: ac, index: int16(r.next)}
	r.next++
	r.pending = ctx
	return ctx, nil
}

// SkipCommand skips the command. With nothing routed yet it is SKIPPED (a
// COMMIT marker is appended now) or, if allowConflation, CONFLATED
// (nothing is appended). With events routed it is CONSUMED. Repeated calls
// return the first decision. A requested rollback takes precedence and
// SkipNone is returned.
func (r *Router) SkipCommand(allowConflation bool) SkipMode {
	if r.state != StateRouting || r.skip != SkipNone || r.rollback {
		return r.skip
	}
	switch {
	case r.events() > 0:
		r.skip = Consumed
	case allowConflation:
		r.skip = Conflated
	default:
		r.skip = Skipped
		if err := r.appendMarker(frame.TypeCommit, frame.FlagCommit); err != nil {
			r.err = err
		}
	}
	return r.skip
}

func (r *Router) SkipFurtherCommandEvents() SkipMode {
	return r.SkipCommand(false)
}

// Rollback requests a rollback. It fails once a skip was decided.
func (r *Router) Rollback(reason RollbackReason) error {
	if r.state != StateRouting {
		return r.stateError(fmt.Sprintf("rollback in state %s", r.state))
	}
	if r.skip != SkipNone {
		return r.stateError(fmt.Sprintf("rollback after skip %s", r.skip))
	}
	r.rollback = true
	r.reason = reason
	return nil
}

// CompleteTransaction closes the transaction and terminates it in the log.
//
// Commit: the last event that was not aborted is flagged as the commit
// boundary and written, then a COMMIT marker follows; with no such event the
// marker carries the flag. Rollback: the open event is aborted and a ROLLBACK
// marker follows, except for a Replay rollback with no events, which
// appends nothing.
//
// If the log refuses a record on the commit path, a ROLLBACK marker is
// attempted so the transaction stays terminated, and the error is returned.
func (r *Router) CompleteTransaction() (Outcome, error) {
	if r.state != StateRouting {
		return Outcome{}, r.stateError(fmt.Sprintf("complete in state %s", r.state))
	}
	r.state = StateTerminated

	switch {
	case r.skip == Skipped:
		return Outcome{Kind: KindSkip, Skip: Skipped, Marker: r.err == nil}, r.err
	case r.skip == Conflated:
		return Outcome{Kind: KindSkip, Skip: Conflated}, nil
	case r.rollback:
		if r.pending != nil {
			r.pending.discard()
		}
		out := Outcome{Kind: KindRollback, Reason: r.reason}
		if r.written == 0 && !r.hasHeld && r.reason == Replay {
			return out, nil
		}
		if err := r.writeHeld(0); err != nil {
			out.Events = r.written
			if r.appendMarker(frame.TypeRollback, 0) == nil {
				out.Marker = true
			}
			return out, err
		}
		out.Events = r.written
		if err := r.appendMarker(frame.TypeRollback, 0); err != nil {
			return out, err
		}
		out.Marker = true
		return out, nil
	}

	out := Outcome{Kind: KindCommit}
	if r.skip == Consumed {
		out = Outcome{Kind: KindSkip, Skip: Consumed}
	}
	if err := r.holdPending(); err != nil {
		return r.fail(err)
	}
	markerFlags := frame.FlagCommit
	if r.hasHeld {
		if err := r.writeHeld(frame.FlagCommit); err != nil {
			return r.fail(err)
		}
		markerFlags = 0
	}
	if err := r.appendMarker(frame.TypeCommit, markerFlags); err != nil {
		return r.fail(err)
	}
	out.Events = r.written
	out.Marker = true
	return out, nil
}

func (r *Router) fail(cause error) (Outcome, error) {
	if r.hasHeld {
		r.hasHeld = false
		r.next = int(r.heldIndex)
	}
	out := Outcome{Kind: KindRollback, Reason: Discard, Events: r.written}
	if err := r.appendMarker(frame.TypeRollback, 0); err == nil {
		out.Marker = true
	}
	return out, cause
}

// events counts the application events of the transaction that were not
// aborted: written, held or still open.
func (r *Router) events() int {
	n := r.written
	if r.hasHeld {
		n++
	}
	if r.pending != nil {
		n++
	}
	return n
}

// holdPending copies the open event out of its append context and releases
// the context. The event held before it, if any, goes to the log first
// without flags.
func (r *Router) holdPending() error {
	c := r.pending
	if c == nil {
		return nil
	}
	r.pending = nil
	c.state = ctxFlushed

	size := frame.EventHeaderLength + c.length
	buf := c.append.Buffer(size)
	if err := frame.SetPayloadSize(buf, 0, c.length); err != nil {
		c.append.Abort()
		r.next--
		return r.newError(ErrCodeBounds, "event payload", err)
	}
	r.spare = append(r.spare[:0], buf[:size]...)
	c.append.Abort()

	if err := r.writeHeld(0); err != nil {
		return err
	}
	r.held, r.spare = r.spare, r.held
	r.heldIndex = c.index
	r.hasHeld = true
	return nil
}

// writeHeld appends the held event with the given flags. On failure the
// held event and anything routed after it are dropped.
func (r *Router) writeHeld(flags frame.Flags) error {
	if !r.hasHeld {
		return nil
	}
	r.hasHeld = false
	frame.SetFlags(r.held, 0, flags)

	ac := r.appender.Append()
	copy(ac.Buffer(len(r.held)), r.held)
	if err := ac.Commit(len(r.held)); err != nil {
		r.next = int(r.heldIndex)
		return r.newError(ErrCodeAppend, fmt.Sprintf("commit event %d", r.heldIndex), err)
	}
	r.written++
	return nil
}

func (r *Router) appendMarker(typ int32, flags frame.Flags) error {
	ac := r.appender.Append()
	buf := ac.Buffer(frame.EventHeaderLength)
	_, err := frame.EncodeEventHeader(buf, 0, r.cmd.SourceID(), r.cmd.SourceSequence(), int16(r.next), typ, r.cmd.Time(), flags, 0)
	if err != nil {
		ac.Abort()
		return r.newError(ErrCodeAppend, "encode marker", err)
	}
	if err := ac.Commit(frame.EventHeaderLength); err != nil {
		return r.newError(ErrCodeAppend, fmt.Sprintf("commit %s marker", frame.TypeName(typ)), err)
	}
	r.next++
	return nil
}

func (r *Router) stateError(msg string) *RoutingError {
	return r.newError(ErrCodeState, msg, nil)
}

func (r *Router) newError(code ErrorCode, msg string, cause error) *RoutingError {
	e := &RoutingError{Code: code, Message: msg, Err: cause}
	if r.cmd.Valid() {
		e.SourceID = r.cmd.SourceID()
		e.Sequence = r.cmd.SourceSequence()
	}
	return e
}

// Route routes one event with the given payload and commits it.
func Route(tx Transaction, typ int32, payload []byte) error {
	ctx, err := tx.RouteEvent(typ)
	if err != nil {
		return err
	}
	copy(ctx.Buffer(len(payload)), payload)
	return ctx.Commit(len(payload))
}
