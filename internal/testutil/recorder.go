package testutil

import (
	"sync"
	"testing"

	"github.com/roach88/elara/internal/frame"
	"github.com/roach88/elara/internal/log"
)

// Recorded is a decoded event kept by an EventRecorder.
type Recorded struct {
	SourceID int32
	Sequence int64
	Index    int16
	Type     int32
	Payload  string
}

func record(ev frame.Event) Recorded {
	return Recorded{
		SourceID: ev.SourceID(),
		Sequence: ev.SourceSequence(),
		Index:    ev.Index(),
		Type:     ev.Type(),
		Payload:  string(ev.Payload()),
	}
}

// EventRecorder keeps every event it is handed. Its OnEvent satisfies
// engine.EventApplier.
type EventRecorder struct {
	mu     sync.Mutex
	events []Recorded
}

func (r *EventRecorder) OnEvent(ev frame.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, record(ev))
	return nil
}

// Events returns a copy of what was recorded.
func (r *EventRecorder) Events() []Recorded {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Recorded(nil), r.events...)
}

// Payloads returns the recorded payloads in order.
func (r *EventRecorder) Payloads() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, e := range r.events {
		out[i] = e.Payload
	}
	return out
}

// ErrorRecorder keeps reported errors. It satisfies engine.ExceptionHandler.
type ErrorRecorder struct {
	mu     sync.Mutex
	errors []error
}

func (r *ErrorRecorder) OnException(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errors = append(r.errors, err)
}

func (r *ErrorRecorder) Errors() []error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]error(nil), r.errors...)
}

// DuplicateRecorder counts skipped duplicates. It satisfies
// engine.DuplicateHandler.
type DuplicateRecorder struct {
	mu       sync.Mutex
	commands []int64
	events   []Recorded
}

func (r *DuplicateRecorder) OnDuplicateCommand(cmd frame.Command) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.commands = append(r.commands, cmd.SourceSequence())
}

func (r *DuplicateRecorder) OnDuplicateEvent(ev frame.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, record(ev))
}

// Commands returns the sequences of skipped commands.
func (r *DuplicateRecorder) Commands() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int64(nil), r.commands...)
}

func (r *DuplicateRecorder) Events() []Recorded {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Recorded(nil), r.events...)
}

// AppendCommand encodes a command and appends it to l, failing the test on
// error. It returns the new record's position.
func AppendCommand(t testing.TB, l log.Log, sourceID int32, seq int64, typ int32, payload string) int64 {
	t.Helper()
	buf := frame.EncodeCommand(sourceID, seq, typ, DefaultEpoch+seq, []byte(payload))
	ctx := l.Appender().Append()
	copy(ctx.Buffer(len(buf)), buf)
	if err := ctx.Commit(len(buf)); err != nil {
		t.Fatalf("append command %d/%d: %v", sourceID, seq, err)
	}
	return l.EndPosition()
}

// ReadEvents decodes every record of l as an event.
func ReadEvents(l log.Log) []frame.Event {
	var out []frame.Event
	p := l.Poller()
	for p.Poll(func(_ int64, buf []byte) log.PollResult {
		out = append(out, frame.WrapEvent(buf).Clone())
		return log.PollNext
	}) > 0 {
	}
	return out
}

// AppendEvent encodes an event and appends it to l.
func AppendEvent(t testing.TB, l log.Log, sourceID int32, seq int64, index int16, typ int32, flags frame.Flags, payload string) int64 {
	t.Helper()
	buf := frame.EncodeEvent(sourceID, seq, index, typ, DefaultEpoch+seq, flags, []byte(payload))
	ctx := l.Appender().Append()
	copy(ctx.Buffer(len(buf)), buf)
	if err := ctx.Commit(len(buf)); err != nil {
		t.Fatalf("append event %d/%d/%d: %v", sourceID, seq, index, err)
	}
	return l.EndPosition()
}
