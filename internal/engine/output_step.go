package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/roach88/elara/internal/frame"
	"github.com/roach88/elara/internal/log"
)

// PositionStore persists an output's committed position by name.
// store.Store implements it over SQLite.
type PositionStore interface {
	LoadPosition(ctx context.Context, name string) (position int64, ok bool, err error)
	SavePosition(ctx context.Context, name string, position int64) error
}

// MemoryPositionStore is a PositionStore for tests and single-process use.
type MemoryPositionStore struct {
	mu        sync.Mutex
	positions map[string]int64
}

func NewMemoryPositionStore() *MemoryPositionStore {
	return &MemoryPositionStore{positions: make(map[string]int64)}
}

func (m *MemoryPositionStore) LoadPosition(_ context.Context, name string) (int64, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.positions[name]
	return p, ok, nil
}

func (m *MemoryPositionStore) SavePosition(_ context.Context, name string, position int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.positions[name] = position
	return nil
}

type outputEvent struct {
	position int64
	event    frame.Event
}

// OutputStep delivers events of committed transactions to an Output.
//
// The committed position is saved before each Publish, so an event is
// delivered at most once across restarts. Events of rolled back
// transactions are never delivered.
type OutputStep struct {
	ctx       context.Context
	name      string
	poller    log.Poller
	output    Output
	positions PositionStore
	opts      options

	replayEnd  int64
	committed  int64
	lastMarker int64
	pending    []outputEvent
	ready      []outputEvent
}

// NewOutputStep resumes after the position last saved under name. The
// events already in the log at construction are published with replay set.
func NewOutputStep(ctx context.Context, name string, events log.Log, output Output, positions PositionStore, opts ...Option) (*OutputStep, error) {
	if positions == nil {
		positions = NewMemoryPositionStore()
	}
	s := &OutputStep{
		ctx:       ctx,
		name:      name,
		poller:    events.Poller(),
		output:    output,
		positions: positions,
		opts:      buildOptions(opts),
		replayEnd: events.EndPosition(),
	}

	committed, ok, err := positions.LoadPosition(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("load output position %q: %w", name, err)
	}
	if ok {
		s.committed = committed
		s.poller.MoveToPosition(committed)
		s.opts.logger.Info("output resumed", "output", name, "position", committed)
	}
	return s, nil
}

// Committed returns the position of the last event handed to the output,
// or of the last marker read with nothing left to publish.
func (s *OutputStep) Committed() int64 { return s.committed }

// Position returns the read position, which may be ahead of Committed.
func (s *OutputStep) Position() int64 { return s.poller.Position() }

func (s *OutputStep) DoWork() bool {
	if len(s.ready) > 0 {
		return s.publish()
	}
	return s.poller.Poll(s.onEvent) > 0
}

func (s *OutputStep) onEvent(position int64, buf []byte) log.PollResult {
	ev := frame.WrapEvent(buf)
	if !ev.Valid() {
		s.report(ErrCodeFraming, position, nil, frame.ErrBounds)
		return log.PollNext
	}

	if ev.IsApplication() {
		if n := len(s.pending); n > 0 {
			last := s.pending[n-1].event
			if last.SourceID() != ev.SourceID() || last.SourceSequence() != ev.SourceSequence() || last.Index() >= ev.Index() {
				s.pending = s.pending[:0]
			}
		}
		s.pending = append(s.pending, outputEvent{position: position, event: ev.Clone()})
		return log.PollNext
	}

	if ev.IsCommit() && len(s.pending) > 0 {
		s.ready = append(s.ready, s.pending...)
	}
	s.pending = s.pending[:0]
	if len(s.ready) > 0 {
		s.lastMarker = position
	} else if err := s.save(position); err != nil {
		return log.Peek
	}
	return log.PollNext
}

func (s *OutputStep) publish() bool {
	next := s.ready[0]
	prev := s.committed
	if err := s.save(next.position); err != nil {
		return false
	}

	res, err := s.call(next)
	if err != nil {
		s.report(ErrCodeCallback, next.position, &next.event, err)
		res = Ignored
	}
	s.opts.metrics.Output(res.String())

	if res == Retry {
		// Not delivered; a restart now must not skip it.
		_ = s.save(prev)
		return false
	}
	s.ready = s.ready[1:]
	if len(s.ready) == 0 && s.lastMarker > s.committed {
		// Resume after the marker, not inside the transaction.
		_ = s.save(s.lastMarker)
	}
	return true
}

func (s *OutputStep) call(e outputEvent) (res OutputResult, err error) {
	err = safeCall(func() error {
		var perr error
		res, perr = s.output.Publish(e.event, e.position <= s.replayEnd)
		return perr
	})
	return res, err
}

func (s *OutputStep) save(position int64) error {
	if position == s.committed {
		return nil
	}
	if err := s.positions.SavePosition(s.ctx, s.name, position); err != nil {
		s.report(ErrCodePosition, position, nil, err)
		return err
	}
	s.committed = position
	return nil
}

func (s *OutputStep) report(code ErrorCode, position int64, ev *frame.Event, err error) {
	pe := &ProcessingError{Code: code, Step: "output", Position: position, Index: -1, Err: err}
	if ev != nil {
		pe.SourceID = ev.SourceID()
		pe.Sequence = ev.SourceSequence()
		pe.Index = int(ev.Index())
	}
	s.opts.exceptions.OnException(pe)
	s.opts.metrics.Error("output")
}
