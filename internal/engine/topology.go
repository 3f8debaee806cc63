package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/roach88/elara/internal/frame"
	"github.com/roach88/elara/internal/log"
	"github.com/roach88/elara/internal/router"
	"github.com/roach88/elara/internal/state"
	"github.com/roach88/elara/internal/track"
	"github.com/roach88/elara/internal/transport"
)

// ErrInvalidConfig is returned when a topology is missing a collaborator.
var ErrInvalidConfig = errors.New("engine: invalid config")

// Config describes one engine instance. Which fields are required depends
// on the topology.
type Config struct {
	Name string

	Commands log.Log
	Events   log.Log

	// Inputs feed the sequencer. Without inputs the instance only processes
	// what is already in the command log.
	Inputs []Input

	State state.MutableBaseState
	Clock Clock

	Processor      CommandProcessor
	Applier        EventApplier
	EventProcessor EventProcessor

	// Feedback carries commands sent by the EventProcessor back to an input
	// of the sequencer, under FeedbackSource.
	Feedback       transport.Sender
	FeedbackSource int32

	// Output, when set, gets committed events under OutputName.
	Output     Output
	OutputName string
	Positions  PositionStore

	// Context is used for position store calls. Default: Background.
	Context context.Context
}

// Agent is a built topology. It owns its steps; two agents never share one.
type Agent struct {
	name string
	step Step

	Sequencer *Sequencer
	Commands  *CommandStep
	Events    *EventStep
	Output    *OutputStep
	Tracker   *track.CommandTracker
	Sender    *track.CommandSender
}

// Name returns the configured instance name.
func (a *Agent) Name() string { return a.name }

// DoWork runs one tick of the agent's schedule.
func (a *Agent) DoWork() bool { return a.step.DoWork() }

// Runner returns a Runner for the agent.
func (a *Agent) Runner(opts ...Option) *Runner {
	return NewRunner(a.name, a, opts...)
}

// NewProcessor builds a processing instance: sequencer (when inputs are
// configured), command step and event step under PriorityPolicy, plus an
// output step when Output is set.
func NewProcessor(cfg Config, opts ...Option) (*Agent, error) {
	if cfg.Processor == nil {
		return nil, fmt.Errorf("%w: processor required", ErrInvalidConfig)
	}
	cfg.EventProcessor, cfg.Feedback = nil, nil
	return build(cfg, opts)
}

// NewPassThrough builds a processor that routes every command to one event
// with the same type and payload.
func NewPassThrough(cfg Config, opts ...Option) (*Agent, error) {
	cfg.Processor = CommandProcessorFunc(passThrough)
	if cfg.State == nil {
		cfg.State = state.NewSingleEventBaseState()
	}
	cfg.EventProcessor, cfg.Feedback = nil, nil
	return build(cfg, opts)
}

func passThrough(cmd frame.Command, tx router.Transaction) error {
	return router.Route(tx, cmd.Type(), cmd.Payload())
}

// NewFeedback builds a processor whose EventProcessor reacts to live events
// by sending commands through Feedback. The tracker sees every event.
func NewFeedback(cfg Config, opts ...Option) (*Agent, error) {
	if cfg.Processor == nil {
		return nil, fmt.Errorf("%w: processor required", ErrInvalidConfig)
	}
	if cfg.EventProcessor == nil || cfg.Feedback == nil {
		return nil, fmt.Errorf("%w: feedback needs an event processor and a sender", ErrInvalidConfig)
	}
	return build(cfg, opts)
}

// NewPublisher builds an instance that only runs an output step, for
// publishing from a separate process.
func NewPublisher(cfg Config, opts ...Option) (*Agent, error) {
	if cfg.Events == nil || cfg.Output == nil {
		return nil, fmt.Errorf("%w: publisher needs events and an output", ErrInvalidConfig)
	}
	out, err := newOutput(cfg, opts)
	if err != nil {
		return nil, err
	}
	return &Agent{name: cfg.Name, step: out, Output: out}, nil
}

func build(cfg Config, opts []Option) (*Agent, error) {
	if cfg.Commands == nil || cfg.Events == nil {
		return nil, fmt.Errorf("%w: command and event logs required", ErrInvalidConfig)
	}
	if cfg.State == nil {
		cfg.State = state.NewDefaultBaseState()
	}
	if cfg.Clock == nil {
		cfg.Clock = SystemClock{}
	}

	a := &Agent{name: cfg.Name}
	if len(cfg.Inputs) > 0 {
		a.Sequencer = NewSequencer(cfg.Inputs, cfg.Commands, cfg.State, cfg.Clock, opts...)
	}

	if cfg.Feedback != nil {
		a.Tracker = track.NewCommandTracker()
		a.Tracker.Seed(cfg.FeedbackSource, cfg.State.LastAppliedCommandSequence(cfg.FeedbackSource))
		if a.Sequencer != nil {
			a.Tracker.Seed(cfg.FeedbackSource, a.Sequencer.LastSequence(cfg.FeedbackSource))
		}
		a.Sender = track.NewCommandSender(cfg.FeedbackSource, cfg.Feedback, a.Tracker, track.WithNow(cfg.Clock.Now))
	}

	a.Events = NewEventStep(EventStepConfig{
		Events:    cfg.Events,
		State:     cfg.State,
		Applier:   cfg.Applier,
		Processor: cfg.EventProcessor,
		Tracker:   a.Tracker,
		Sender:    a.Sender,
	}, opts...)
	a.Commands = NewCommandStep(cfg.Commands, cfg.Events, cfg.State, cfg.Processor, opts...)

	// Typed nil pointers would survive NewSchedule's nil check.
	var sequencer Step
	if a.Sequencer != nil {
		sequencer = a.Sequencer
	}
	schedule := Prioritized(cfg.Name, a.Events, a.Commands, sequencer)
	a.step = schedule

	if cfg.Output != nil {
		out, err := newOutput(cfg, opts)
		if err != nil {
			return nil, err
		}
		a.Output = out
		a.step = Composite{schedule, out}
	}
	return a, nil
}

func newOutput(cfg Config, opts []Option) (*OutputStep, error) {
	ctx := cfg.Context
	if ctx == nil {
		ctx = context.Background()
	}
	name := cfg.OutputName
	if name == "" {
		name = cfg.Name
	}
	return NewOutputStep(ctx, name, cfg.Events, cfg.Output, cfg.Positions, opts...)
}
