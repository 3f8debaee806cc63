package state

import (
	"errors"
	"fmt"
	"sort"

	"github.com/roach88/elara/internal/frame"
)

var (
	// ErrAlreadyApplied is returned when an event at or below the recorded
	// high-water mark is applied again.
	ErrAlreadyApplied = errors.New("state: event already applied")

	// ErrMultipleEvents is returned by SingleEventBaseState when a command
	// produces more than one application event.
	ErrMultipleEvents = errors.New("state: more than one event per command")
)

// BaseState answers "has this already been applied" for commands and events.
type BaseState interface {
	// AllEventsAppliedFor reports whether the command is strictly older than
	// the last recorded command of its source, or is that command and its
	// terminal event has been seen.
	AllEventsAppliedFor(sourceID int32, sourceSequence int64) bool

	// EventApplied reports whether the given event is already folded into
	// state.
	EventApplied(sourceID int32, sourceSequence int64, index int16) bool

	// LastAppliedCommandSequence returns the last sequence recorded for the
	// source, or 0 if none.
	LastAppliedCommandSequence(sourceID int32) int64

	// LastAppliedEventIndex returns the last event index recorded for the
	// source, or -1 if none.
	LastAppliedEventIndex(sourceID int32) int16

	// Sources returns all tracked source IDs in ascending order.
	Sources() []int32
}

// MutableBaseState is a BaseState that can record newly applied events.
// Only the command and event steps mutate it.
type MutableBaseState interface {
	BaseState

	// CheckEvent returns the error ApplyEvent would return for ev without
	// recording anything.
	CheckEvent(ev frame.Event) error

	// ApplyEvent records a newly applied event. It must be called exactly
	// once per event and never for a duplicate.
	ApplyEvent(ev frame.Event) error
}

// EventLimiter is implemented by states that hold a bounded number of
// application events per command. The router refuses to route more.
type EventLimiter interface {
	MaxApplicationEvents() int
}

type sourceState struct {
	sequence int64
	index    int16
	terminal bool
}

// DefaultBaseState keeps a per-source high-water mark of (sequence, index)
// plus whether the terminal marker of that sequence was seen.
//
// Not safe for concurrent mutation; one engine goroutine owns it.
type DefaultBaseState struct {
	sources map[int32]*sourceState
}

// NewDefaultBaseState returns an empty state.
func NewDefaultBaseState() *DefaultBaseState {
	return &DefaultBaseState{sources: make(map[int32]*sourceState)}
}

func (s *DefaultBaseState) AllEventsAppliedFor(sourceID int32, sourceSequence int64) bool {
	st, ok := s.sources[sourceID]
	if !ok {
		return false
	}
	if sourceSequence < st.sequence {
		return true
	}
	return sourceSequence == st.sequence && st.terminal
}

func (s *DefaultBaseState) EventApplied(sourceID int32, sourceSequence int64, index int16) bool {
	st, ok := s.sources[sourceID]
	if !ok {
		return false
	}
	if sourceSequence < st.sequence {
		return true
	}
	return sourceSequence == st.sequence && index <= st.index
}

func (s *DefaultBaseState) LastAppliedCommandSequence(sourceID int32) int64 {
	if st, ok := s.sources[sourceID]; ok {
		return st.sequence
	}
	return 0
}

func (s *DefaultBaseState) LastAppliedEventIndex(sourceID int32) int16 {
	if st, ok := s.sources[sourceID]; ok {
		return st.index
	}
	return -1
}

func (s *DefaultBaseState) Sources() []int32 {
	return sortedKeys(s.sources)
}

func (s *DefaultBaseState) CheckEvent(ev frame.Event) error {
	src, seq, idx := ev.SourceID(), ev.SourceSequence(), ev.Index()
	if s.EventApplied(src, seq, idx) {
		return fmt.Errorf("%w: source=%d seq=%d index=%d", ErrAlreadyApplied, src, seq, idx)
	}
	return nil
}

func (s *DefaultBaseState) ApplyEvent(ev frame.Event) error {
	if err := s.CheckEvent(ev); err != nil {
		return err
	}
	src, seq, idx := ev.SourceID(), ev.SourceSequence(), ev.Index()
	st, ok := s.sources[src]
	if !ok {
		st = &sourceState{}
		s.sources[src] = st
	}
	st.sequence = seq
	st.index = idx
	st.terminal = ev.IsMarker()
	return nil
}

type singleState struct {
	sequence int64
	terminal bool
}

// SingleEventBaseState is the restricted variant: each command produces at
// most one application event (index 0) followed by its terminal marker.
// The table holds only a sequence and a terminal bit per source.
type SingleEventBaseState struct {
	sources map[int32]*singleState
}

// NewSingleEventBaseState returns an empty state.
func NewSingleEventBaseState() *SingleEventBaseState {
	return &SingleEventBaseState{sources: make(map[int32]*singleState)}
}

func (s *SingleEventBaseState) AllEventsAppliedFor(sourceID int32, sourceSequence int64) bool {
	st, ok := s.sources[sourceID]
	if !ok {
		return false
	}
	if sourceSequence < st.sequence {
		return true
	}
	return sourceSequence == st.sequence && st.terminal
}

// EventApplied infers the index from the terminal bit: a non-terminal entry
// means only the application event at index 0 was applied.
func (s *SingleEventBaseState) EventApplied(sourceID int32, sourceSequence int64, index int16) bool {
	st, ok := s.sources[sourceID]
	if !ok {
		return false
	}
	if sourceSequence < st.sequence {
		return true
	}
	if sourceSequence != st.sequence {
		return false
	}
	return st.terminal || index == 0
}

func (s *SingleEventBaseState) LastAppliedCommandSequence(sourceID int32) int64 {
	if st, ok := s.sources[sourceID]; ok {
		return st.sequence
	}
	return 0
}

func (s *SingleEventBaseState) LastAppliedEventIndex(sourceID int32) int16 {
	st, ok := s.sources[sourceID]
	if !ok {
		return -1
	}
	if st.terminal {
		// The marker sits at 0 or 1; without the index we report the
		// lower bound, which is what EventApplied relies on.
		return 1
	}
	return 0
}

func (s *SingleEventBaseState) Sources() []int32 {
	return sortedKeys(s.sources)
}

// MaxApplicationEvents is 1: only index 0 carries an application event.
func (s *SingleEventBaseState) MaxApplicationEvents() int { return 1 }

func (s *SingleEventBaseState) CheckEvent(ev frame.Event) error {
	src, seq, idx := ev.SourceID(), ev.SourceSequence(), ev.Index()
	if !ev.IsMarker() && idx > 0 {
		return fmt.Errorf("%w: source=%d seq=%d index=%d", ErrMultipleEvents, src, seq, idx)
	}
	if ev.IsMarker() && idx > 1 {
		return fmt.Errorf("%w: source=%d seq=%d marker index=%d", ErrMultipleEvents, src, seq, idx)
	}
	st, ok := s.sources[src]
	if ok && (seq < st.sequence || (seq == st.sequence && (st.terminal || !ev.IsMarker()))) {
		return fmt.Errorf("%w: source=%d seq=%d index=%d", ErrAlreadyApplied, src, seq, idx)
	}
	return nil
}

func (s *SingleEventBaseState) ApplyEvent(ev frame.Event) error {
	if err := s.CheckEvent(ev); err != nil {
		return err
	}
	src, seq := ev.SourceID(), ev.SourceSequence()
	st, ok := s.sources[src]
	if !ok {
		st = &singleState{}
		s.sources[src] = st
	}
	st.sequence = seq
	st.terminal = ev.IsMarker()
	return nil
}

func sortedKeys[V any](m map[int32]V) []int32 {
	keys := make([]int32, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}
