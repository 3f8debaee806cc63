package engine

import "strings"

// Step does at most a bounded amount of work and reports whether it did any.
// It must never block.
type Step interface {
	DoWork() bool
}

// StepFunc adapts a function to Step.
type StepFunc func() bool

func (f StepFunc) DoWork() bool { return f() }

// Stage is a named step in a schedule.
type Stage struct {
	Name string
	Step Step
}

// Schedule evaluates its stages top to bottom and stops at the first one
// that did work. Earlier stages strictly dominate later ones.
type Schedule struct {
	name   string
	stages []Stage
}

// NewSchedule returns a priority schedule over stages. Nil steps are left
// out so topologies can pass optional stages.
func NewSchedule(name string, stages ...Stage) *Schedule {
	s := &Schedule{name: name}
	for _, st := range stages {
		if st.Step != nil {
			s.stages = append(s.stages, st)
		}
	}
	return s
}

// PriorityPolicy is the stage order every processing topology uses.
var PriorityPolicy = []string{"events", "commands", "sequencer"}

// Prioritized builds the named schedule following PriorityPolicy. Each
// argument is the step for the stage of the same position; nil skips it.
func Prioritized(name string, events, commands, sequencer Step) *Schedule {
	steps := []Step{events, commands, sequencer}
	stages := make([]Stage, len(PriorityPolicy))
	for i, stage := range PriorityPolicy {
		stages[i] = Stage{Name: stage, Step: steps[i]}
	}
	return NewSchedule(name, stages...)
}

func (s *Schedule) DoWork() bool {
	for _, st := range s.stages {
		if st.Step.DoWork() {
			return true
		}
	}
	return false
}

// Name returns the schedule name.
func (s *Schedule) Name() string { return s.name }

// Stages returns the stage names in evaluation order.
func (s *Schedule) Stages() []string {
	names := make([]string, len(s.stages))
	for i, st := range s.stages {
		names[i] = st.Name
	}
	return names
}

func (s *Schedule) String() string {
	return s.name + "[" + strings.Join(s.Stages(), " > ") + "]"
}

// Composite runs every step once per tick. Use it for roles that do not
// compete, such as a processing schedule and an output step.
type Composite []Step

func (c Composite) DoWork() bool {
	work := false
	for _, s := range c {
		if s != nil && s.DoWork() {
			work = true
		}
	}
	return work
}
