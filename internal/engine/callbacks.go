package engine

import (
	"fmt"
	"log/slog"

	"github.com/roach88/elara/internal/frame"
	"github.com/roach88/elara/internal/router"
	"github.com/roach88/elara/internal/track"
)

// CommandProcessor is the application's command logic. It derives events
// from cmd through tx and must be deterministic: the same command and the
// same prior events always give the same transaction.
type CommandProcessor interface {
	OnCommand(cmd frame.Command, tx router.Transaction) error
}

// CommandProcessorFunc adapts a function to CommandProcessor.
type CommandProcessorFunc func(cmd frame.Command, tx router.Transaction) error

func (f CommandProcessorFunc) OnCommand(cmd frame.Command, tx router.Transaction) error {
	return f(cmd, tx)
}

// EventApplier folds a committed event into application state.
type EventApplier interface {
	OnEvent(ev frame.Event) error
}

// EventApplierFunc adapts a function to EventApplier.
type EventApplierFunc func(ev frame.Event) error

func (f EventApplierFunc) OnEvent(ev frame.Event) error { return f(ev) }

// EventProcessor reacts to live committed events and may send new commands.
// The tracker tells whether earlier commands have round-tripped.
type EventProcessor interface {
	OnEvent(ev frame.Event, tracker *track.CommandTracker, sender *track.CommandSender) error
}

// EventProcessorFunc adapts a function to EventProcessor.
type EventProcessorFunc func(ev frame.Event, tracker *track.CommandTracker, sender *track.CommandSender) error

func (f EventProcessorFunc) OnEvent(ev frame.Event, tracker *track.CommandTracker, sender *track.CommandSender) error {
	return f(ev, tracker, sender)
}

// OutputResult is what an Output did with an event.
type OutputResult int

const (
	// Ignored: the output had nothing to do for the event.
	Ignored OutputResult = iota
	// Published: the event was delivered.
	Published
	// Retry: delivery should be attempted again on a later tick.
	Retry
)

func (r OutputResult) String() string {
	switch r {
	case Ignored:
		return "IGNORED"
	case Published:
		return "PUBLISHED"
	case Retry:
		return "RETRY"
	default:
		return fmt.Sprintf("OutputResult(%d)", int(r))
	}
}

// Output publishes committed events. replay is true for events that were
// already in the log when the step started.
type Output interface {
	Publish(ev frame.Event, replay bool) (OutputResult, error)
}

// OutputFunc adapts a function to Output.
type OutputFunc func(ev frame.Event, replay bool) (OutputResult, error)

func (f OutputFunc) Publish(ev frame.Event, replay bool) (OutputResult, error) {
	return f(ev, replay)
}

// DuplicateHandler is told about commands and events skipped because the
// base state already reflects them. Duplicates are not errors.
type DuplicateHandler interface {
	OnDuplicateCommand(cmd frame.Command)
	OnDuplicateEvent(ev frame.Event)
}

// ExceptionHandler receives processing failures. err is a *ProcessingError.
type ExceptionHandler interface {
	OnException(err error)
}

// ExceptionHandlerFunc adapts a function to ExceptionHandler.
type ExceptionHandlerFunc func(err error)

func (f ExceptionHandlerFunc) OnException(err error) { f(err) }

type logDuplicates struct {
	logger *slog.Logger
}

func (h logDuplicates) OnDuplicateCommand(cmd frame.Command) {
	h.logger.Debug("duplicate command skipped",
		"source", cmd.SourceID(),
		"seq", cmd.SourceSequence(),
	)
}

func (h logDuplicates) OnDuplicateEvent(ev frame.Event) {
	h.logger.Debug("duplicate event skipped",
		"source", ev.SourceID(),
		"seq", ev.SourceSequence(),
		"index", ev.Index(),
	)
}

type logExceptions struct {
	logger *slog.Logger
}

func (h logExceptions) OnException(err error) {
	h.logger.Error("processing failed", "error", err)
}
