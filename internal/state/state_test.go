package state

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/elara/internal/frame"
)

func appEvent(src int32, seq int64, idx int16) frame.Event {
	return frame.WrapEvent(frame.EncodeEvent(src, seq, idx, 7, 0, 0, nil))
}

func commitMarker(src int32, seq int64, idx int16) frame.Event {
	return frame.WrapEvent(frame.EncodeEvent(src, seq, idx, frame.TypeCommit, 0, 0, nil))
}

func TestDefaultBaseState_Empty(t *testing.T) {
	s := NewDefaultBaseState()

	assert.False(t, s.AllEventsAppliedFor(1, 1))
	assert.False(t, s.EventApplied(1, 1, 0))
	assert.Equal(t, int64(0), s.LastAppliedCommandSequence(1))
	assert.Equal(t, int16(-1), s.LastAppliedEventIndex(1))
	assert.Empty(t, s.Sources())
}

func TestDefaultBaseState_PartialThenTerminal(t *testing.T) {
	s := NewDefaultBaseState()

	require.NoError(t, s.ApplyEvent(appEvent(1, 1, 0)))
	assert.True(t, s.EventApplied(1, 1, 0))
	assert.False(t, s.EventApplied(1, 1, 1))
	assert.False(t, s.AllEventsAppliedFor(1, 1), "terminal not yet seen")

	require.NoError(t, s.ApplyEvent(commitMarker(1, 1, 1)))
	assert.True(t, s.AllEventsAppliedFor(1, 1))
	assert.True(t, s.EventApplied(1, 1, 1))
	assert.False(t, s.AllEventsAppliedFor(1, 2))
	assert.Equal(t, int16(1), s.LastAppliedEventIndex(1))
}

func TestDefaultBaseState_OlderSequencesAreApplied(t *testing.T) {
	s := NewDefaultBaseState()

	// A conflated gap: sequence 2 never produced an event.
	require.NoError(t, s.ApplyEvent(commitMarker(1, 1, 0)))
	require.NoError(t, s.ApplyEvent(appEvent(1, 3, 0)))

	assert.True(t, s.AllEventsAppliedFor(1, 2))
	assert.True(t, s.EventApplied(1, 2, 5))
	assert.False(t, s.AllEventsAppliedFor(1, 3))
	assert.Equal(t, int64(3), s.LastAppliedCommandSequence(1))
}

func TestDefaultBaseState_RejectsDuplicates(t *testing.T) {
	s := NewDefaultBaseState()
	require.NoError(t, s.ApplyEvent(appEvent(1, 5, 0)))

	assert.ErrorIs(t, s.ApplyEvent(appEvent(1, 5, 0)), ErrAlreadyApplied)
	assert.ErrorIs(t, s.ApplyEvent(appEvent(1, 4, 3)), ErrAlreadyApplied)
	assert.Equal(t, int64(5), s.LastAppliedCommandSequence(1), "rejected events must not move the mark")
}

func TestDefaultBaseState_SourcesAreIndependent(t *testing.T) {
	s := NewDefaultBaseState()
	require.NoError(t, s.ApplyEvent(commitMarker(2, 10, 0)))
	require.NoError(t, s.ApplyEvent(commitMarker(1, 3, 0)))

	assert.Equal(t, []int32{1, 2}, s.Sources())
	assert.True(t, s.AllEventsAppliedFor(2, 10))
	assert.False(t, s.AllEventsAppliedFor(1, 4))
}

func TestSingleEventBaseState(t *testing.T) {
	s := NewSingleEventBaseState()

	require.NoError(t, s.ApplyEvent(appEvent(1, 1, 0)))
	assert.True(t, s.EventApplied(1, 1, 0))
	assert.False(t, s.EventApplied(1, 1, 1))
	assert.False(t, s.AllEventsAppliedFor(1, 1))

	require.NoError(t, s.ApplyEvent(commitMarker(1, 1, 1)))
	assert.True(t, s.AllEventsAppliedFor(1, 1))
	assert.True(t, s.EventApplied(1, 1, 1))

	// Skipped command: marker at index 0.
	require.NoError(t, s.ApplyEvent(commitMarker(1, 2, 0)))
	assert.True(t, s.AllEventsAppliedFor(1, 2))
}

func TestSingleEventBaseState_RejectsSecondEvent(t *testing.T) {
	s := NewSingleEventBaseState()
	require.NoError(t, s.ApplyEvent(appEvent(1, 1, 0)))

	assert.ErrorIs(t, s.ApplyEvent(appEvent(1, 1, 1)), ErrMultipleEvents)
	assert.ErrorIs(t, s.ApplyEvent(appEvent(1, 1, 0)), ErrAlreadyApplied)
	assert.ErrorIs(t, s.ApplyEvent(commitMarker(1, 1, 2)), ErrMultipleEvents)
}

func TestCheckEvent_DoesNotRecord(t *testing.T) {
	for name, s := range map[string]MutableBaseState{
		"default": NewDefaultBaseState(),
		"single":  NewSingleEventBaseState(),
	} {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.CheckEvent(appEvent(1, 1, 0)))
			assert.False(t, s.EventApplied(1, 1, 0))
			assert.Empty(t, s.Sources())

			require.NoError(t, s.ApplyEvent(appEvent(1, 1, 0)))
			assert.ErrorIs(t, s.CheckEvent(appEvent(1, 1, 0)), ErrAlreadyApplied)
		})
	}

	single := NewSingleEventBaseState()
	require.NoError(t, single.ApplyEvent(appEvent(1, 1, 0)))
	assert.ErrorIs(t, single.CheckEvent(appEvent(1, 1, 1)), ErrMultipleEvents)
	assert.False(t, single.AllEventsAppliedFor(1, 1))
}

func TestEventLimiter(t *testing.T) {
	var base BaseState = NewSingleEventBaseState()
	limiter, ok := base.(EventLimiter)
	require.True(t, ok)
	assert.Equal(t, 1, limiter.MaxApplicationEvents())

	base = NewDefaultBaseState()
	_, ok = base.(EventLimiter)
	assert.False(t, ok, "the default state has no event limit")
}

// Both implementations must agree on every command sequence that stays within
// one application event per command.
func TestBaseStates_Agree_Property(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("default and single-event states agree", prop.ForAll(
		func(withEvent []bool) bool {
			def := NewDefaultBaseState()
			single := NewSingleEventBaseState()
			for i, hasEvent := range withEvent {
				seq := int64(i + 1)
				idx := int16(0)
				if hasEvent {
					ev := appEvent(1, seq, 0)
					if def.ApplyEvent(ev) != nil || single.ApplyEvent(ev) != nil {
						return false
					}
					idx = 1
				}
				m := commitMarker(1, seq, idx)
				if def.ApplyEvent(m) != nil || single.ApplyEvent(m) != nil {
					return false
				}
			}
			for seq := int64(1); seq <= int64(len(withEvent))+1; seq++ {
				if def.AllEventsAppliedFor(1, seq) != single.AllEventsAppliedFor(1, seq) {
					return false
				}
				// Only compare indices that exist for the command.
				last := int16(0)
				if int(seq) <= len(withEvent) && withEvent[seq-1] {
					last = 1
				}
				for idx := int16(0); idx <= last; idx++ {
					if def.EventApplied(1, seq, idx) != single.EventApplied(1, seq, idx) {
						return false
					}
				}
			}
			return true
		},
		gen.SliceOf(gen.Bool()),
	))

	properties.Property("re-applying any recorded event is rejected", prop.ForAll(
		func(n int) bool {
			s := NewDefaultBaseState()
			var applied []frame.Event
			for seq := int64(1); seq <= int64(n); seq++ {
				ev := appEvent(3, seq, 0)
				m := commitMarker(3, seq, 1)
				if s.ApplyEvent(ev) != nil || s.ApplyEvent(m) != nil {
					return false
				}
				applied = append(applied, ev, m)
			}
			for _, ev := range applied {
				if s.ApplyEvent(ev) == nil {
					return false
				}
			}
			return s.LastAppliedCommandSequence(3) == int64(n)
		},
		gen.IntRange(1, 50),
	))

	properties.TestingRun(t)
}
