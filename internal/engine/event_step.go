package engine

import (
	"github.com/roach88/elara/internal/frame"
	"github.com/roach88/elara/internal/log"
	"github.com/roach88/elara/internal/state"
	"github.com/roach88/elara/internal/track"
)

// EventStep polls the event log and applies committed events.
//
// Application events are held until their transaction's terminal marker. On
// COMMIT each event not yet applied goes to the EventApplier, is recorded in
// the base state, and, once replay is over, is handed to the EventProcessor.
// On ROLLBACK the held events are dropped.
type EventStep struct {
	poller    log.Poller
	base      state.MutableBaseState
	applier   EventApplier
	processor EventProcessor
	tracker   *track.CommandTracker
	sender    *track.CommandSender
	opts      options

	replayEnd int64
	replaying bool
	held      []heldEvent
}

type heldEvent struct {
	position int64
	event    frame.Event
}

// EventStepConfig holds the collaborators of an EventStep. Applier,
// Processor, Tracker and Sender are optional.
type EventStepConfig struct {
	Events    log.Log
	State     state.MutableBaseState
	Applier   EventApplier
	Processor EventProcessor
	Tracker   *track.CommandTracker
	Sender    *track.CommandSender
}

// NewEventStep starts in the replay phase, reading from the start of the
// log up to the end position at construction, unless WithoutReplay is set.
func NewEventStep(cfg EventStepConfig, opts ...Option) *EventStep {
	s := &EventStep{
		poller:    cfg.Events.Poller(),
		base:      cfg.State,
		applier:   cfg.Applier,
		processor: cfg.Processor,
		tracker:   cfg.Tracker,
		sender:    cfg.Sender,
		opts:      buildOptions(opts),
	}
	if s.opts.noReplay {
		s.poller.MoveToEnd()
		return s
	}
	s.replayEnd = cfg.Events.EndPosition()
	s.replaying = s.replayEnd > 0
	return s
}

// Replaying reports whether the step is still reading events that were in
// the log at construction.
func (s *EventStep) Replaying() bool { return s.replaying }

// Position returns the position of the last consumed event.
func (s *EventStep) Position() int64 { return s.poller.Position() }

func (s *EventStep) DoWork() bool {
	n := s.poller.Poll(s.onEvent)
	if s.replaying && s.poller.Position() >= s.replayEnd {
		s.replaying = false
		s.opts.logger.Info("event replay complete", "position", s.poller.Position())
	}
	return n > 0
}

func (s *EventStep) onEvent(position int64, buf []byte) log.PollResult {
	ev := frame.WrapEvent(buf)
	if !ev.Valid() {
		s.report(ErrCodeFraming, position, nil, frame.ErrBounds)
		return log.PollNext
	}
	if s.tracker != nil {
		s.tracker.OnEvent(ev)
	}

	if len(s.held) > 0 && !s.sameTransaction(ev) {
		// An earlier attempt of this or another command stopped before its
		// marker. The command was processed again; drop the orphans.
		orphan := s.held[0].event
		s.opts.logger.Warn("dropping unterminated events",
			"source", orphan.SourceID(),
			"seq", orphan.SourceSequence(),
			"count", len(s.held),
		)
		s.held = s.held[:0]
	}

	if ev.IsApplication() {
		s.held = append(s.held, heldEvent{position: position, event: ev.Clone()})
		return log.PollNext
	}

	if ev.IsCommit() {
		for _, h := range s.held {
			s.apply(h.position, h.event)
		}
	}
	s.held = s.held[:0]
	s.record(position, ev)
	return log.PollNext
}

// sameTransaction reports whether ev continues the held transaction.
func (s *EventStep) sameTransaction(ev frame.Event) bool {
	last := s.held[len(s.held)-1].event
	return ev.SourceID() == last.SourceID() &&
		ev.SourceSequence() == last.SourceSequence() &&
		ev.Index() > last.Index()
}

func (s *EventStep) apply(position int64, ev frame.Event) {
	if s.base.EventApplied(ev.SourceID(), ev.SourceSequence(), ev.Index()) {
		s.opts.duplicates.OnDuplicateEvent(ev)
		s.opts.metrics.Duplicate("event")
		return
	}

	// The applier only sees events the state will record.
	if err := s.base.CheckEvent(ev); err != nil {
		s.report(ErrCodeState, position, &ev, err)
		return
	}
	if s.applier != nil {
		if err := safeCall(func() error { return s.applier.OnEvent(ev) }); err != nil {
			s.report(ErrCodeCallback, position, &ev, err)
		}
	}
	if err := s.base.ApplyEvent(ev); err != nil {
		s.report(ErrCodeState, position, &ev, err)
		return
	}
	phase := "live"
	if s.replaying {
		phase = "replay"
	}
	s.opts.metrics.Applied(phase)

	// Commands sent while replaying would repeat ones sent before restart.
	if s.processor != nil && !s.replaying {
		if err := safeCall(func() error { return s.processor.OnEvent(ev, s.tracker, s.sender) }); err != nil {
			s.report(ErrCodeCallback, position, &ev, err)
		}
	}
}

// record notes a terminal marker in the base state.
func (s *EventStep) record(position int64, marker frame.Event) {
	if s.base.EventApplied(marker.SourceID(), marker.SourceSequence(), marker.Index()) {
		s.opts.duplicates.OnDuplicateEvent(marker)
		s.opts.metrics.Duplicate("event")
		return
	}
	if err := s.base.ApplyEvent(marker); err != nil {
		s.report(ErrCodeState, position, &marker, err)
	}
}

func (s *EventStep) report(code ErrorCode, position int64, ev *frame.Event, err error) {
	pe := &ProcessingError{Code: code, Step: "event", Position: position, Index: -1, Err: err}
	if ev != nil {
		pe.SourceID = ev.SourceID()
		pe.Sequence = ev.SourceSequence()
		pe.Index = int(ev.Index())
	}
	s.opts.exceptions.OnException(pe)
	s.opts.metrics.Error("event")
}
