package engine_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/roach88/elara/internal/engine"
)

func TestSchedule_PriorityLaw(t *testing.T) {
	var calls []string
	stage := func(name string, work *bool) engine.Step {
		return engine.StepFunc(func() bool {
			calls = append(calls, name)
			return *work
		})
	}
	var eventsWork, commandsWork, sequencerWork bool
	s := engine.Prioritized("p",
		stage("events", &eventsWork),
		stage("commands", &commandsWork),
		stage("sequencer", &sequencerWork),
	)
	assert.Equal(t, engine.PriorityPolicy, s.Stages())

	eventsWork, commandsWork, sequencerWork = true, true, true
	assert.True(t, s.DoWork())
	assert.Equal(t, []string{"events"}, calls, "pending events starve commands and input")

	calls = nil
	eventsWork = false
	assert.True(t, s.DoWork())
	assert.Equal(t, []string{"events", "commands"}, calls)

	calls = nil
	commandsWork = false
	assert.True(t, s.DoWork())
	assert.Equal(t, []string{"events", "commands", "sequencer"}, calls)

	calls = nil
	sequencerWork = false
	assert.False(t, s.DoWork())
	assert.Len(t, calls, 3)
}

func TestSchedule_NilStagesAreLeftOut(t *testing.T) {
	idle := engine.StepFunc(func() bool { return false })
	s := engine.Prioritized("proc", idle, idle, nil)

	assert.Equal(t, []string{"events", "commands"}, s.Stages())
	assert.Equal(t, "proc[events > commands]", s.String())
	assert.Equal(t, "proc", s.Name())
}

func TestComposite_RunsEveryStep(t *testing.T) {
	var ran []int
	c := engine.Composite{
		engine.StepFunc(func() bool { ran = append(ran, 1); return true }),
		nil,
		engine.StepFunc(func() bool { ran = append(ran, 2); return false }),
	}

	assert.True(t, c.DoWork())
	assert.Equal(t, []int{1, 2}, ran)
}
