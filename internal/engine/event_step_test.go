package engine_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/elara/internal/engine"
	"github.com/roach88/elara/internal/frame"
	"github.com/roach88/elara/internal/log"
	"github.com/roach88/elara/internal/state"
	"github.com/roach88/elara/internal/testutil"
	"github.com/roach88/elara/internal/track"
)

func TestEventStep_AppliesOnlyCommittedTransactions(t *testing.T) {
	events := log.NewMemoryLog()
	base := state.NewDefaultBaseState()
	var applied testutil.EventRecorder
	step := engine.NewEventStep(engine.EventStepConfig{Events: events, State: base, Applier: &applied})

	commitTx(t, events, 1, "a")
	testutil.AppendEvent(t, events, 1, 2, 0, appType, 0, "b")
	testutil.AppendEvent(t, events, 1, 2, 1, frame.TypeRollback, 0, "")
	testutil.AppendEvent(t, events, 1, 3, 0, appType, 0, "orphan")
	commitTx(t, events, 3, "c1", "c2")
	drain(t, step)

	assert.Equal(t, []string{"a", "c1", "c2"}, applied.Payloads())
	assert.Equal(t, int64(3), base.LastAppliedCommandSequence(1))
	assert.True(t, base.AllEventsAppliedFor(1, 3))
	assert.Equal(t, events.EndPosition(), step.Position())
}

func TestEventStep_SkipsAppliedEvents(t *testing.T) {
	events := log.NewMemoryLog()
	commitTx(t, events, 1, "a")
	commitTx(t, events, 2, "b")

	base := state.NewDefaultBaseState()
	marker := frame.EncodeEvent(1, 1, 1, frame.TypeCommit, 0, 0, nil)
	require.NoError(t, base.ApplyEvent(frame.WrapEvent(marker)))

	var applied testutil.EventRecorder
	var dups testutil.DuplicateRecorder
	step := engine.NewEventStep(engine.EventStepConfig{Events: events, State: base, Applier: &applied},
		engine.WithDuplicateHandler(&dups))
	drain(t, step)

	assert.Equal(t, []string{"b"}, applied.Payloads())
	assert.Len(t, dups.Events(), 2, "event and marker of seq 1")
}

func TestEventStep_ProcessorOnlySeesLiveEvents(t *testing.T) {
	events := log.NewMemoryLog()
	commitTx(t, events, 1, "history")

	var live []string
	step := engine.NewEventStep(engine.EventStepConfig{
		Events: events,
		State:  state.NewDefaultBaseState(),
		Processor: engine.EventProcessorFunc(func(ev frame.Event, _ *track.CommandTracker, _ *track.CommandSender) error {
			live = append(live, string(ev.Payload()))
			return nil
		}),
	})
	assert.True(t, step.Replaying())
	drain(t, step)
	assert.False(t, step.Replaying())
	assert.Empty(t, live)

	commitTx(t, events, 2, "now")
	drain(t, step)
	assert.Equal(t, []string{"now"}, live)
}

func TestEventStep_WithoutReplayStartsAtEnd(t *testing.T) {
	events := log.NewMemoryLog()
	commitTx(t, events, 1, "history")

	var applied testutil.EventRecorder
	step := engine.NewEventStep(engine.EventStepConfig{Events: events, State: state.NewDefaultBaseState(), Applier: &applied},
		engine.WithoutReplay())
	assert.False(t, step.Replaying())

	commitTx(t, events, 2, "now")
	drain(t, step)
	assert.Equal(t, []string{"now"}, applied.Payloads())
}

func TestEventStep_CallbackFailuresAreReported(t *testing.T) {
	events := log.NewMemoryLog()
	base := state.NewDefaultBaseState()
	var errs testutil.ErrorRecorder
	step := engine.NewEventStep(engine.EventStepConfig{
		Events: events,
		State:  base,
		Applier: engine.EventApplierFunc(func(ev frame.Event) error {
			if string(ev.Payload()) == "bad" {
				panic("corrupt")
			}
			return errors.New("ignored downstream")
		}),
	}, engine.WithExceptionHandler(&errs))

	commitTx(t, events, 1, "bad")
	commitTx(t, events, 2, "fine")
	drain(t, step)

	reported := errs.Errors()
	require.Len(t, reported, 2)
	var pe *engine.ProcessingError
	require.ErrorAs(t, reported[0], &pe)
	assert.Equal(t, engine.ErrCodeCallback, pe.Code)
	assert.Equal(t, "event", pe.Step)
	assert.Equal(t, int64(1), pe.Sequence)
	assert.Equal(t, 0, pe.Index)
	assert.Equal(t, int64(2), base.LastAppliedCommandSequence(1), "state advances past failed callbacks")
}

func TestEventStep_FramingError(t *testing.T) {
	events := log.NewMemoryLog()
	ctx := events.Appender().Append()
	copy(ctx.Buffer(3), "bad")
	require.NoError(t, ctx.Commit(3))

	var errs testutil.ErrorRecorder
	step := engine.NewEventStep(engine.EventStepConfig{Events: events, State: state.NewDefaultBaseState()},
		engine.WithExceptionHandler(&errs))
	drain(t, step)

	require.Len(t, errs.Errors(), 1)
	var pe *engine.ProcessingError
	require.ErrorAs(t, errs.Errors()[0], &pe)
	assert.Equal(t, engine.ErrCodeFraming, pe.Code)
	assert.ErrorIs(t, pe, frame.ErrBounds)
}

func TestEventStep_RejectedEventsSkipTheApplier(t *testing.T) {
	events := log.NewMemoryLog()
	var applied testutil.EventRecorder
	var errs testutil.ErrorRecorder
	step := engine.NewEventStep(engine.EventStepConfig{
		Events:  events,
		State:   state.NewSingleEventBaseState(),
		Applier: &applied,
	}, engine.WithExceptionHandler(&errs))

	// Written by a router without an event limit.
	commitTx(t, events, 1, "x", "y")
	drain(t, step)

	assert.Equal(t, []string{"x"}, applied.Payloads())
	require.NotEmpty(t, errs.Errors())
	var pe *engine.ProcessingError
	require.ErrorAs(t, errs.Errors()[0], &pe)
	assert.Equal(t, engine.ErrCodeState, pe.Code)
	assert.Equal(t, 1, pe.Index)
	assert.ErrorIs(t, pe, state.ErrMultipleEvents)
}
