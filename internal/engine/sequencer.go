package engine

import (
	"strconv"

	"github.com/roach88/elara/internal/frame"
	"github.com/roach88/elara/internal/log"
	"github.com/roach88/elara/internal/state"
	"github.com/roach88/elara/internal/transport"
)

// Input is one message source feeding the sequencer.
//
// By default a message is an encoded command frame (as written by
// track.CommandSender); its type and payload are kept and its source,
// sequence and time are replaced. With Raw set, the whole message is the
// payload and Type is the command type.
type Input struct {
	SourceID int32
	Receiver transport.Receiver
	Raw      bool
	Type     int32
}

// Sequencer appends input messages to the command log, numbering each
// source's commands last+1 and stamping the time once.
type Sequencer struct {
	inputs   []Input
	appender log.Appender
	clock    Clock
	last     map[int32]int64
	next     int
	labels   map[int32]string
	refused  bool
	opts     options
}

// NewSequencer returns a sequencer over inputs. Per-source sequences
// continue from the higher of the base state and the command log.
func NewSequencer(inputs []Input, commands log.Log, base state.BaseState, clock Clock, opts ...Option) *Sequencer {
	if clock == nil {
		clock = SystemClock{}
	}
	s := &Sequencer{
		inputs:   inputs,
		appender: commands.Appender(),
		clock:    clock,
		last:     make(map[int32]int64),
		labels:   make(map[int32]string),
		opts:     buildOptions(opts),
	}
	if base != nil {
		for _, src := range base.Sources() {
			s.last[src] = base.LastAppliedCommandSequence(src)
		}
	}
	s.seedFromLog(commands)
	for _, in := range inputs {
		s.labels[in.SourceID] = strconv.Itoa(int(in.SourceID))
	}
	return s
}

func (s *Sequencer) seedFromLog(commands log.Log) {
	p := commands.Poller()
	for p.Poll(func(_ int64, buf []byte) log.PollResult {
		cmd := frame.WrapCommand(buf)
		if cmd.Valid() && cmd.SourceSequence() > s.last[cmd.SourceID()] {
			s.last[cmd.SourceID()] = cmd.SourceSequence()
		}
		return log.PollNext
	}) > 0 {
	}
}

// LastSequence returns the last sequence appended for source.
func (s *Sequencer) LastSequence(sourceID int32) int64 {
	return s.last[sourceID]
}

// DoWork appends at most one message per tick. Inputs are tried in turn,
// starting with the one after the input that produced the last message, and
// the first input holding a message ends the tick. Fairness across ticks
// comes from that rotation.
func (s *Sequencer) DoWork() bool {
	n := len(s.inputs)
	for i := 0; i < n; i++ {
		idx := (s.next + i) % n
		in := s.inputs[idx]
		s.refused = false
		if in.Receiver.Poll(func(buf []byte) bool { return s.append(in, buf) }) > 0 {
			s.next = idx + 1
			// A refused append is no progress; let the runner back off.
			return !s.refused
		}
	}
	return false
}

// append returns false to leave the message in the transport when the
// command log refuses it.
func (s *Sequencer) append(in Input, msg []byte) bool {
	typ, payload := in.Type, msg
	if !in.Raw {
		cmd := frame.WrapCommand(msg)
		if !cmd.Valid() {
			s.opts.exceptions.OnException(&ProcessingError{
				Code:     ErrCodeFraming,
				Step:     "sequencer",
				SourceID: in.SourceID,
				Index:    -1,
				Err:      frame.ErrBounds,
			})
			s.opts.metrics.Error("sequencer")
			return true
		}
		typ, payload = cmd.Type(), cmd.Payload()
	}

	seq := s.last[in.SourceID] + 1
	size := frame.CommandHeaderLength + len(payload)
	ctx := s.appender.Append()
	buf := ctx.Buffer(size)
	if _, err := frame.EncodeCommandHeader(buf, 0, in.SourceID, seq, typ, s.clock.Now(), len(payload)); err != nil {
		ctx.Abort()
		s.opts.exceptions.OnException(&ProcessingError{Code: ErrCodeFraming, Step: "sequencer", SourceID: in.SourceID, Sequence: seq, Index: -1, Err: err})
		return true
	}
	copy(buf[frame.CommandHeaderLength:], payload)
	if err := ctx.Commit(size); err != nil {
		s.opts.logger.Warn("command log refused append, message left in input",
			"source", in.SourceID,
			"seq", seq,
			"error", err,
		)
		s.refused = true
		return false
	}

	s.last[in.SourceID] = seq
	s.opts.metrics.Sequenced(s.labels[in.SourceID])
	return true
}
