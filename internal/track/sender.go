package track

import (
	"time"

	"github.com/roach88/elara/internal/frame"
	"github.com/roach88/elara/internal/transport"
)

// CommandSender encodes commands for one source and sends them through a
// transport, recording what went out in the tracker.
//
// The sequence written into the frame is the tracker's expectation of what
// the sequencer will assign (last sent + 1). The sequencer stamps the
// authoritative sequence and time on arrival.
type CommandSender struct {
	sourceID int32
	sender   transport.Sender
	tracker  *CommandTracker
	now      func() int64
	buf      []byte
}

// SenderOption configures a CommandSender.
type SenderOption func(*CommandSender)

// WithNow sets the time source used for in-flight bookkeeping.
func WithNow(now func() int64) SenderOption {
	return func(s *CommandSender) {
		s.now = now
	}
}

// NewCommandSender returns a sender for sourceID.
func NewCommandSender(sourceID int32, sender transport.Sender, tracker *CommandTracker, opts ...SenderOption) *CommandSender {
	s := &CommandSender{
		sourceID: sourceID,
		sender:   sender,
		tracker:  tracker,
		now:      func() int64 { return time.Now().UnixNano() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SourceID returns the source this sender speaks for.
func (s *CommandSender) SourceID() int32 { return s.sourceID }

// Tracker returns the tracker updated by this sender.
func (s *CommandSender) Tracker() *CommandTracker { return s.tracker }

// SendCommand sends one command. Only SENT is recorded as in flight.
func (s *CommandSender) SendCommand(typ int32, payload []byte) transport.SendResult {
	seq := s.tracker.LastSentSequence(s.sourceID) + 1
	now := s.now()

	n := frame.CommandHeaderLength + len(payload)
	if cap(s.buf) < n {
		s.buf = make([]byte, n)
	}
	buf := s.buf[:n]
	if _, err := frame.EncodeCommandHeader(buf, 0, s.sourceID, seq, typ, now, len(payload)); err != nil {
		return transport.Failed
	}
	copy(buf[frame.CommandHeaderLength:], payload)

	res := s.sender.SendMessage(buf)
	if res == transport.Sent {
		s.tracker.OnCommandSent(s.sourceID, seq, now, len(payload))
	}
	return res
}
