// Package track keeps transient bookkeeping of commands sent but not yet
// reflected by a terminal event in the event log.
//
// This state is per process and never replayed. It may only influence
// timing decisions (whether to send now), never which events a command
// produces.
package track

import (
	"sort"

	"github.com/roach88/elara/internal/frame"
)

type inFlight struct {
	sequence int64
	time     int64
	size     int
}

type sourceFlight struct {
	commands []inFlight
	bytes    int
	lastSent int64
}

// CommandTracker is the in-flight state of sent commands, per source.
// Owned by the engine goroutine.
type CommandTracker struct {
	sources map[int32]*sourceFlight
	total   int
}

// NewCommandTracker returns an empty tracker.
func NewCommandTracker() *CommandTracker {
	return &CommandTracker{sources: make(map[int32]*sourceFlight)}
}

// OnCommandSent records a command that went out.
func (t *CommandTracker) OnCommandSent(sourceID int32, sourceSequence int64, time int64, payloadSize int) {
	s, ok := t.sources[sourceID]
	if !ok {
		s = &sourceFlight{}
		t.sources[sourceID] = s
	}
	s.commands = append(s.commands, inFlight{sequence: sourceSequence, time: time, size: payloadSize})
	s.bytes += payloadSize
	if sourceSequence > s.lastSent {
		s.lastSent = sourceSequence
	}
	t.total++
}

// Seed raises the last sent sequence of source, typically to the last
// applied command sequence at startup so new commands continue numbering.
func (t *CommandTracker) Seed(sourceID int32, sequence int64) {
	s, ok := t.sources[sourceID]
	if !ok {
		s = &sourceFlight{}
		t.sources[sourceID] = s
	}
	if sequence > s.lastSent {
		s.lastSent = sequence
	}
}

// OnEvent is called for every observed event. A terminal marker for
// (source, seq) retires every in-flight command of that source with a
// sequence up to seq, which also retires conflated commands.
func (t *CommandTracker) OnEvent(ev frame.Event) {
	if !ev.IsMarker() {
		return
	}
	s, ok := t.sources[ev.SourceID()]
	if !ok {
		return
	}
	seq := ev.SourceSequence()
	n := 0
	for n < len(s.commands) && s.commands[n].sequence <= seq {
		s.bytes -= s.commands[n].size
		n++
	}
	if n == 0 {
		return
	}
	s.commands = append(s.commands[:0], s.commands[n:]...)
	t.total -= n
}

// HasInFlightCommand reports whether source has commands awaiting their
// terminal event.
func (t *CommandTracker) HasInFlightCommand(sourceID int32) bool {
	return t.InFlightCount(sourceID) > 0
}

// HasAnyInFlightCommand reports whether any source has in-flight commands.
func (t *CommandTracker) HasAnyInFlightCommand() bool {
	return t.total > 0
}

func (t *CommandTracker) InFlightCount(sourceID int32) int {
	if s, ok := t.sources[sourceID]; ok {
		return len(s.commands)
	}
	return 0
}

// InFlightBytes returns the payload bytes of the source's in-flight
// commands.
func (t *CommandTracker) InFlightBytes(sourceID int32) int {
	if s, ok := t.sources[sourceID]; ok {
		return s.bytes
	}
	return 0
}

// LastSentSequence returns the highest sequence sent for source, or 0.
func (t *CommandTracker) LastSentSequence(sourceID int32) int64 {
	if s, ok := t.sources[sourceID]; ok {
		return s.lastSent
	}
	return 0
}

// OldestInFlightTime returns the send time of the source's oldest in-flight
// command. ok is false when none is in flight.
func (t *CommandTracker) OldestInFlightTime(sourceID int32) (time int64, ok bool) {
	s, found := t.sources[sourceID]
	if !found || len(s.commands) == 0 {
		return 0, false
	}
	return s.commands[0].time, true
}

// Sources returns the sources with in-flight commands, ascending.
func (t *CommandTracker) Sources() []int32 {
	var out []int32
	for id, s := range t.sources {
		if len(s.commands) > 0 {
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
