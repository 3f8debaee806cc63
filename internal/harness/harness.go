package harness

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strconv"

	"github.com/roach88/elara/internal/engine"
	"github.com/roach88/elara/internal/frame"
	"github.com/roach88/elara/internal/log"
	"github.com/roach88/elara/internal/router"
	"github.com/roach88/elara/internal/state"
	"github.com/roach88/elara/internal/testutil"
	"github.com/roach88/elara/internal/transport"
)

// maxTicks bounds the ticks one command may take to settle. A script that
// asks for replay forever hits it.
const maxTicks = 10000

// ErrNotSettled is returned when the agent still does work after maxTicks.
var ErrNotSettled = errors.New("harness: agent did not settle")

type cmdKey struct {
	source int32
	seq    int64
}

// Harness runs one scenario. It is the command processor, applier, output,
// duplicate handler and exception handler of the agent it builds.
type Harness struct {
	scenario  *Scenario
	commands  *log.MemoryLog
	events    *log.MemoryLog
	clock     *testutil.DeterministicClock
	positions *engine.MemoryPositionStore
	logger    *slog.Logger
	result    *Result

	sources    []int32
	next       map[int32]int64
	steps      map[cmdKey]*CommandStep
	deliveries map[cmdKey]int

	base  state.MutableBaseState
	agent *engine.Agent
	rings map[int32]*transport.Ring
}

// Run executes a scenario on fresh in-memory logs and evaluates its
// assertions. The error is non-nil only when the run itself broke; failed
// assertions are reported in the result.
func Run(scenario *Scenario) (*Result, error) {
	h := &Harness{
		scenario:   scenario,
		commands:   log.NewMemoryLog(),
		events:     log.NewMemoryLog(),
		clock:      testutil.NewDeterministicClock(),
		positions:  engine.NewMemoryPositionStore(),
		logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		result:     NewResult(),
		next:       make(map[int32]int64),
		steps:      make(map[cmdKey]*CommandStep),
		deliveries: make(map[cmdKey]int),
	}
	seen := make(map[int32]bool)
	for _, c := range scenario.Commands {
		if !seen[c.Source] {
			seen[c.Source] = true
			h.sources = append(h.sources, c.Source)
		}
	}
	sort.Slice(h.sources, func(i, j int) bool { return h.sources[i] < h.sources[j] })

	if err := h.start(); err != nil {
		return nil, err
	}
	for i := range scenario.Commands {
		step := &scenario.Commands[i]
		if err := h.send(step); err != nil {
			return nil, fmt.Errorf("commands[%d]: %w", i, err)
		}
		if err := h.settle(); err != nil {
			return nil, fmt.Errorf("commands[%d]: %w", i, err)
		}
		if step.Restart {
			if err := h.start(); err != nil {
				return nil, fmt.Errorf("commands[%d]: restart: %w", i, err)
			}
			if err := h.settle(); err != nil {
				return nil, fmt.Errorf("commands[%d]: restart: %w", i, err)
			}
		}
	}

	h.snapshot()
	for _, msg := range EvaluateAssertions(h.result, scenario.Assertions) {
		h.result.AddError(msg)
	}
	return h.result, nil
}

// start builds a new agent over the existing logs with empty base state,
// as a process restart would.
func (h *Harness) start() error {
	if h.scenario.State == "single" {
		h.base = state.NewSingleEventBaseState()
	} else {
		h.base = state.NewDefaultBaseState()
	}

	h.rings = make(map[int32]*transport.Ring, len(h.sources))
	inputs := make([]engine.Input, 0, len(h.sources))
	for _, src := range h.sources {
		ring := transport.NewRing(4)
		h.rings[src] = ring
		inputs = append(inputs, engine.Input{SourceID: src, Receiver: ring})
	}

	agent, err := engine.NewProcessor(engine.Config{
		Name:      h.scenario.Name,
		Commands:  h.commands,
		Events:    h.events,
		Inputs:    inputs,
		State:     h.base,
		Clock:     h.clock,
		Processor: h,
		Applier:   engine.EventApplierFunc(h.apply),
		Output:    engine.OutputFunc(h.publish),
		Positions: h.positions,
	},
		engine.WithLogger(h.logger),
		engine.WithDuplicateHandler(h),
		engine.WithExceptionHandler(h),
	)
	if err != nil {
		return err
	}
	h.agent = agent
	return nil
}

// send hands one command to the input of its source. The sequence the
// sequencer will assign is predicted so the script can be found again.
func (h *Harness) send(step *CommandStep) error {
	seq := h.next[step.Source] + 1
	h.next[step.Source] = seq
	h.steps[cmdKey{step.Source, seq}] = step

	msg := frame.EncodeCommand(step.Source, seq, step.Type, 0, []byte(step.Payload))
	if res := h.rings[step.Source].SendMessage(msg); res != transport.Sent {
		return fmt.Errorf("send to source %d: %s", step.Source, res)
	}
	return nil
}

func (h *Harness) settle() error {
	for i := 0; i < maxTicks; i++ {
		if !h.agent.DoWork() {
			return nil
		}
	}
	return ErrNotSettled
}

// OnCommand runs the script of the command.
func (h *Harness) OnCommand(cmd frame.Command, tx router.Transaction) error {
	key := cmdKey{cmd.SourceID(), cmd.SourceSequence()}
	step, ok := h.steps[key]
	if !ok {
		return fmt.Errorf("no script for command %d/%d", key.source, key.seq)
	}
	actions := step.Script
	if h.deliveries[key] > 0 && step.Retry != nil {
		actions = step.Retry
	}
	h.deliveries[key]++

	if actions == nil {
		return router.Route(tx, cmd.Type(), cmd.Payload())
	}
	for _, a := range actions {
		if err := perform(tx, a); err != nil {
			return err
		}
	}
	return nil
}

func perform(tx router.Transaction, a Action) error {
	switch {
	case a.Route != nil:
		return router.Route(tx, a.Route.Type, []byte(a.Route.Payload))
	case a.Skip == "skip":
		tx.SkipFurtherCommandEvents()
	case a.Skip == "conflate":
		tx.SkipCommand(true)
	case a.Rollback == "discard":
		return tx.Rollback(router.Discard)
	case a.Rollback == "replay":
		return tx.Rollback(router.Replay)
	case a.Fail != "":
		return errors.New(a.Fail)
	}
	return nil
}

func (h *Harness) apply(ev frame.Event) error {
	kind := KindApplied
	if h.agent.Events.Replaying() {
		kind = KindReplayed
	}
	h.result.addTrace(traceEvent(kind, ev))
	return nil
}

func (h *Harness) publish(ev frame.Event, _ bool) (engine.OutputResult, error) {
	h.result.addTrace(traceEvent(KindPublished, ev))
	return engine.Published, nil
}

func (h *Harness) OnDuplicateCommand(frame.Command) {}

func (h *Harness) OnDuplicateEvent(ev frame.Event) {
	h.result.addTrace(traceEvent(KindDuplicate, ev))
}

func (h *Harness) OnException(err error) {
	var pe *engine.ProcessingError
	if errors.As(err, &pe) {
		h.result.Exceptions = append(h.result.Exceptions, string(pe.Code))
		return
	}
	h.result.Exceptions = append(h.result.Exceptions, err.Error())
}

// snapshot copies the event log shape and the base state into the result.
func (h *Harness) snapshot() {
	for _, ev := range testutil.ReadEvents(h.events) {
		h.result.Log = append(h.result.Log, Shape(ev))
	}
	for _, src := range h.base.Sources() {
		seq := h.base.LastAppliedCommandSequence(src)
		h.result.State[src] = SourceState{
			LastSequence: seq,
			LastIndex:    h.base.LastAppliedEventIndex(src),
			AllApplied:   h.base.AllEventsAppliedFor(src, seq),
		}
	}
}

// Shape renders an event as "source/seq/index:TYPE", with a trailing "*"
// when it carries the commit flag.
func Shape(ev frame.Event) string {
	s := strconv.Itoa(int(ev.SourceID())) + "/" +
		strconv.FormatInt(ev.SourceSequence(), 10) + "/" +
		strconv.Itoa(int(ev.Index())) + ":" + frame.TypeName(ev.Type())
	if ev.Flags().Commit() {
		s += "*"
	}
	return s
}

func traceEvent(kind string, ev frame.Event) TraceEvent {
	return TraceEvent{
		Kind:    kind,
		Source:  ev.SourceID(),
		Seq:     ev.SourceSequence(),
		Index:   ev.Index(),
		Type:    ev.Type(),
		Payload: string(ev.Payload()),
	}
}
