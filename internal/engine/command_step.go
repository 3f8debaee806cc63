package engine

import (
	"errors"

	"github.com/roach88/elara/internal/frame"
	"github.com/roach88/elara/internal/log"
	"github.com/roach88/elara/internal/router"
	"github.com/roach88/elara/internal/state"
)

// CommandStep polls the command log and runs each command not yet fully
// applied through the router and the CommandProcessor.
type CommandStep struct {
	poller    log.Poller
	router    *router.Router
	base      state.BaseState
	processor CommandProcessor
	opts      options

	lastOutcome router.Outcome
}

// NewCommandStep reads commands from the start of the command log and
// appends events to the event log. The base state is read, never written.
// A state implementing state.EventLimiter bounds the events routed per
// command.
func NewCommandStep(commands, events log.Log, base state.BaseState, processor CommandProcessor, opts ...Option) *CommandStep {
	var ropts []router.Option
	if l, ok := base.(state.EventLimiter); ok {
		ropts = append(ropts, router.WithEventLimit(l.MaxApplicationEvents()))
	}
	return &CommandStep{
		poller:    commands.Poller(),
		router:    router.New(events.Appender(), ropts...),
		base:      base,
		processor: processor,
		opts:      buildOptions(opts),
	}
}

// Position returns the position of the last consumed command.
func (s *CommandStep) Position() int64 { return s.poller.Position() }

// LastOutcome returns the outcome of the most recent transaction.
func (s *CommandStep) LastOutcome() router.Outcome { return s.lastOutcome }

func (s *CommandStep) DoWork() bool {
	return s.poller.Poll(s.onCommand) > 0
}

func (s *CommandStep) onCommand(position int64, buf []byte) log.PollResult {
	cmd := frame.WrapCommand(buf)
	if !cmd.Valid() {
		s.report(ErrCodeFraming, position, cmd, frame.ErrBounds, false)
		return log.PollNext
	}

	if s.base.AllEventsAppliedFor(cmd.SourceID(), cmd.SourceSequence()) {
		s.opts.duplicates.OnDuplicateCommand(cmd)
		s.opts.metrics.Duplicate("command")
		return log.PollNext
	}

	if s.router.State() == router.StateRouting {
		// Left open by an earlier failure; nothing of it reached a marker.
		s.router.Reset()
	}
	if err := s.router.StartTransaction(cmd); err != nil {
		s.report(ErrCodeRouting, position, cmd, err, true)
		return log.PollNext
	}

	s.opts.metrics.Command()
	perr := safeCall(func() error { return s.processor.OnCommand(cmd, s.router) })
	if perr != nil {
		if s.router.SkipMode() == router.SkipNone {
			_ = s.router.Rollback(router.Discard)
		}
		code := ErrCodeCallback
		var re *router.RoutingError
		if errors.As(perr, &re) {
			code = ErrCodeRouting
		}
		s.report(code, position, cmd, perr, true)
	}

	out, err := s.router.CompleteTransaction()
	s.lastOutcome = out
	s.opts.metrics.Transaction(outcomeLabel(out))
	if err != nil {
		s.report(ErrCodeRouting, position, cmd, err, true)
	}

	s.opts.logger.Debug("command processed",
		"position", position,
		"source", cmd.SourceID(),
		"seq", cmd.SourceSequence(),
		"outcome", out.String(),
	)

	if out.Retry() {
		return log.Peek
	}
	return log.PollNext
}

func (s *CommandStep) report(code ErrorCode, position int64, cmd frame.Command, err error, valid bool) {
	pe := &ProcessingError{Code: code, Step: "command", Position: position, Index: -1, Err: err}
	if valid {
		pe.SourceID = cmd.SourceID()
		pe.Sequence = cmd.SourceSequence()
	}
	s.opts.exceptions.OnException(pe)
	s.opts.metrics.Error("command")
}

func outcomeLabel(o router.Outcome) string {
	switch o.Kind {
	case router.KindRollback:
		return "ROLLBACK(" + o.Reason.String() + ")"
	case router.KindSkip:
		return "SKIP(" + o.Skip.String() + ")"
	default:
		return o.Kind.String()
	}
}
