package engine_test

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/elara/internal/engine"
	"github.com/roach88/elara/internal/frame"
	"github.com/roach88/elara/internal/log"
	"github.com/roach88/elara/internal/state"
	"github.com/roach88/elara/internal/testutil"
	"github.com/roach88/elara/internal/transport"
)

func readCommands(l log.Log) []frame.Command {
	var out []frame.Command
	p := l.Poller()
	for p.Poll(func(_ int64, buf []byte) log.PollResult {
		out = append(out, frame.WrapCommand(buf).Clone())
		return log.PollNext
	}) > 0 {
	}
	return out
}

func TestSequencer_RoundRobin(t *testing.T) {
	commands := log.NewMemoryLog()
	a, b := transport.NewRing(4), transport.NewRing(4)
	send(t, a, "a1", "a2")
	send(t, b, "b1")

	s := engine.NewSequencer([]engine.Input{
		{SourceID: 1, Receiver: a, Raw: true},
		{SourceID: 2, Receiver: b, Raw: true},
	}, commands, nil, testutil.NewStepClock(100, 1))
	drain(t, s)

	var got []string
	for _, c := range readCommands(commands) {
		got = append(got, string(c.Payload()))
	}
	assert.Equal(t, []string{"a1", "b1", "a2"}, got)
	assert.Equal(t, int64(2), s.LastSequence(1))
	assert.Equal(t, int64(1), s.LastSequence(2))
}

func TestSequencer_OneMessagePerTick(t *testing.T) {
	commands := log.NewMemoryLog()
	a, b := transport.NewRing(4), transport.NewRing(4)
	send(t, a, "a1")
	send(t, b, "b1")

	s := engine.NewSequencer([]engine.Input{
		{SourceID: 1, Receiver: a, Raw: true},
		{SourceID: 2, Receiver: b, Raw: true},
	}, commands, nil, nil)

	require.True(t, s.DoWork())
	assert.Equal(t, int64(1), commands.EndPosition())
	assert.Equal(t, 1, b.Len(), "the second input waits for the next tick")

	require.True(t, s.DoWork())
	assert.Equal(t, int64(2), commands.EndPosition())
	assert.False(t, s.DoWork())
}

func TestSequencer_StampsSequenceAndTime(t *testing.T) {
	commands := log.NewMemoryLog()
	in := transport.NewRing(4)
	// A framed message keeps its type and payload; the rest is replaced.
	require.Equal(t, transport.Sent, in.SendMessage(frame.EncodeCommand(99, 42, 5, 1, []byte("p"))))

	s := engine.NewSequencer([]engine.Input{{SourceID: 3, Receiver: in}}, commands, nil, testutil.NewStepClock(1000, 1))
	drain(t, s)

	cmds := readCommands(commands)
	require.Len(t, cmds, 1)
	assert.Equal(t, int32(3), cmds[0].SourceID())
	assert.Equal(t, int64(1), cmds[0].SourceSequence())
	assert.Equal(t, int32(5), cmds[0].Type())
	assert.Equal(t, int64(1000), cmds[0].Time())
	assert.Equal(t, "p", string(cmds[0].Payload()))
}

func TestSequencer_SeedsFromLogAndState(t *testing.T) {
	commands := log.NewMemoryLog()
	testutil.AppendCommand(t, commands, 1, 5, 0, "old")

	base := state.NewDefaultBaseState()
	require.NoError(t, base.ApplyEvent(frame.WrapEvent(frame.EncodeEvent(2, 9, 0, frame.TypeCommit, 0, frame.FlagCommit, nil))))

	one, two := transport.NewRing(4), transport.NewRing(4)
	send(t, one, "x")
	send(t, two, "y")
	s := engine.NewSequencer([]engine.Input{
		{SourceID: 1, Receiver: one, Raw: true},
		{SourceID: 2, Receiver: two, Raw: true},
	}, commands, base, nil)
	drain(t, s)

	assert.Equal(t, int64(6), s.LastSequence(1))
	assert.Equal(t, int64(10), s.LastSequence(2))
}

func TestSequencer_InvalidFrameIsDropped(t *testing.T) {
	commands := log.NewMemoryLog()
	in := transport.NewRing(4)
	send(t, in, "short")
	var errs testutil.ErrorRecorder

	s := engine.NewSequencer([]engine.Input{{SourceID: 1, Receiver: in}}, commands, nil, nil,
		engine.WithExceptionHandler(&errs))
	drain(t, s)

	assert.Equal(t, 0, in.Len())
	assert.Equal(t, int64(0), commands.EndPosition())
	require.Len(t, errs.Errors(), 1)
	var pe *engine.ProcessingError
	require.ErrorAs(t, errs.Errors()[0], &pe)
	assert.Equal(t, engine.ErrCodeFraming, pe.Code)
}

func TestSequencer_NegativePayloadSizeIsDropped(t *testing.T) {
	commands, events := newLogs()
	in := transport.NewRing(4)
	bad := frame.EncodeCommand(1, 1, 3, 0, []byte("abc"))
	binary.LittleEndian.PutUint32(bad[frame.PayloadSizeOffset:], uint32(0xfffffffb)) // -5
	require.Equal(t, transport.Sent, in.SendMessage(bad))
	require.Equal(t, transport.Sent, in.SendMessage(frame.EncodeCommand(1, 1, 3, 0, []byte("ok"))))
	var errs testutil.ErrorRecorder

	a, err := engine.NewPassThrough(engine.Config{
		Commands: commands,
		Events:   events,
		Inputs:   []engine.Input{{SourceID: 1, Receiver: in}},
	}, engine.WithExceptionHandler(&errs))
	require.NoError(t, err)
	drain(t, a)

	cmds := readCommands(commands)
	require.Len(t, cmds, 1)
	assert.Equal(t, "ok", string(cmds[0].Payload()))
	assert.Equal(t, []string{"1/0:3*", "1/1:COMMIT"}, shape(events))

	require.Len(t, errs.Errors(), 1)
	var pe *engine.ProcessingError
	require.ErrorAs(t, errs.Errors()[0], &pe)
	assert.Equal(t, engine.ErrCodeFraming, pe.Code)
	assert.Equal(t, "sequencer", pe.Step)
}

func TestSequencer_RefusedAppendLeavesMessage(t *testing.T) {
	commands := log.NewMemoryLog()
	in := transport.NewRing(4)
	send(t, in, "kept")
	commands.Close()

	s := engine.NewSequencer([]engine.Input{{SourceID: 1, Receiver: in, Raw: true}}, commands, nil, nil)
	assert.False(t, s.DoWork(), "a refused append is not progress")
	assert.Equal(t, 1, in.Len())
	assert.Equal(t, int64(0), s.LastSequence(1))
}
