package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"
)

// Scenario is a sequence of commands with processor scripts, plus the
// assertions to check once they were all processed.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// State selects the base state: "default" (the default) or "single".
	State string `yaml:"state,omitempty"`

	// Commands are sent in order; each settles before the next is sent.
	Commands []CommandStep `yaml:"commands"`

	// Assertions validate the final log, trace and state.
	Assertions []Assertion `yaml:"assertions"`
}

// CommandStep is one command sent through the input of its source.
type CommandStep struct {
	Source  int32  `yaml:"source"`
	Type    int32  `yaml:"type"`
	Payload string `yaml:"payload"`

	// Script is what the processor does on the first delivery. Without a
	// script the command is routed as one event.
	Script []Action `yaml:"script,omitempty"`

	// Retry replaces Script on later deliveries.
	Retry []Action `yaml:"retry,omitempty"`

	// Restart rebuilds the agent after this command settled.
	Restart bool `yaml:"restart,omitempty"`
}

// Action is one call the processor makes on the transaction. Exactly one
// field is set.
type Action struct {
	Route    *RouteAction `yaml:"route,omitempty"`
	Skip     string       `yaml:"skip,omitempty"`
	Rollback string       `yaml:"rollback,omitempty"`
	Fail     string       `yaml:"fail,omitempty"`
}

// RouteAction appends one event.
type RouteAction struct {
	Type    int32  `yaml:"type"`
	Payload string `yaml:"payload"`
}

// Assertion validates the run.
type Assertion struct {
	// Type is one of the Assert* constants.
	Type string `yaml:"type"`

	// Shape is the expected event log (log_shape).
	Shape []string `yaml:"shape,omitempty"`

	// Kind selects trace entries (trace_contains, trace_order, trace_count).
	Kind string `yaml:"kind,omitempty"`

	// Match lists the fields a trace entry must have (trace_contains).
	// Keys: source, seq, index, type, payload.
	Match map[string]any `yaml:"match,omitempty"`

	// Payloads is the expected order (trace_order).
	Payloads []string `yaml:"payloads,omitempty"`

	// Count is the expected number of entries (trace_count).
	Count int `yaml:"count,omitempty"`

	// Source and Expect check the base state (final_state). Expect keys:
	// last_sequence, last_index, all_applied.
	Source int32          `yaml:"source,omitempty"`
	Expect map[string]any `yaml:"expect,omitempty"`

	// Codes are the expected exception codes (exceptions).
	Codes []string `yaml:"codes,omitempty"`
}

// Assertion type constants.
const (
	AssertLogShape      = "log_shape"
	AssertTraceContains = "trace_contains"
	AssertTraceOrder    = "trace_order"
	AssertTraceCount    = "trace_count"
	AssertFinalState    = "final_state"
	AssertExceptions    = "exceptions"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses and validates a scenario document.
func ParseScenario(data []byte) (*Scenario, error) {
	// Strict fields catch typos like "assertion:" vs "assertions:"
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// ScenarioNotFoundError is returned by LoadDir for an empty directory.
type ScenarioNotFoundError struct {
	Dir string
}

func (e *ScenarioNotFoundError) Error() string {
	return fmt.Sprintf("no scenarios in %s", e.Dir)
}

// LoadDir loads every *.yaml scenario in dir, ordered by file name.
func LoadDir(dir string) ([]*Scenario, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.yaml"))
	if err != nil {
		return nil, err
	}
	if len(paths) == 0 {
		return nil, &ScenarioNotFoundError{Dir: dir}
	}
	sort.Strings(paths)

	scenarios := make([]*Scenario, 0, len(paths))
	seen := make(map[string]string)
	for _, path := range paths {
		s, err := LoadScenario(path)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
		}
		if prev, ok := seen[s.Name]; ok {
			return nil, fmt.Errorf("%s: scenario %q already defined in %s", filepath.Base(path), s.Name, prev)
		}
		seen[s.Name] = filepath.Base(path)
		scenarios = append(scenarios, s)
	}
	return scenarios, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	switch s.State {
	case "", "default", "single":
	default:
		return fmt.Errorf("state must be default or single, got %q", s.State)
	}
	if len(s.Commands) == 0 {
		return fmt.Errorf("commands list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	for i, c := range s.Commands {
		if c.Source <= 0 {
			return fmt.Errorf("commands[%d]: source must be positive", i)
		}
		if c.Type < 0 {
			return fmt.Errorf("commands[%d]: type must not be negative", i)
		}
		for j, a := range c.Script {
			if err := validateAction(a); err != nil {
				return fmt.Errorf("commands[%d].script[%d]: %w", i, j, err)
			}
		}
		for j, a := range c.Retry {
			if err := validateAction(a); err != nil {
				return fmt.Errorf("commands[%d].retry[%d]: %w", i, j, err)
			}
		}
	}

	for i := range s.Assertions {
		if err := validateAssertion(i, &s.Assertions[i]); err != nil {
			return err
		}
	}
	return nil
}

func validateAction(a Action) error {
	set := 0
	if a.Route != nil {
		set++
	}
	if a.Skip != "" {
		if a.Skip != "skip" && a.Skip != "conflate" {
			return fmt.Errorf("skip must be skip or conflate, got %q", a.Skip)
		}
		set++
	}
	if a.Rollback != "" {
		if a.Rollback != "discard" && a.Rollback != "replay" {
			return fmt.Errorf("rollback must be discard or replay, got %q", a.Rollback)
		}
		set++
	}
	if a.Fail != "" {
		set++
	}
	if set != 1 {
		return fmt.Errorf("exactly one of route, skip, rollback, fail is required")
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertLogShape:
		if a.Shape == nil {
			return fmt.Errorf("assertions[%d]: shape is required for log_shape", index)
		}
	case AssertTraceContains:
		if !validKind(a.Kind) {
			return fmt.Errorf("assertions[%d]: unknown kind %q", index, a.Kind)
		}
		if len(a.Match) == 0 {
			return fmt.Errorf("assertions[%d]: match is required for trace_contains", index)
		}
	case AssertTraceOrder:
		if !validKind(a.Kind) {
			return fmt.Errorf("assertions[%d]: unknown kind %q", index, a.Kind)
		}
		if len(a.Payloads) == 0 {
			return fmt.Errorf("assertions[%d]: payloads list is required for trace_order", index)
		}
	case AssertTraceCount:
		if !validKind(a.Kind) {
			return fmt.Errorf("assertions[%d]: unknown kind %q", index, a.Kind)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for trace_count", index)
		}
	case AssertFinalState:
		if a.Source <= 0 {
			return fmt.Errorf("assertions[%d]: source is required for final_state", index)
		}
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for final_state", index)
		}
	case AssertExceptions:
		if a.Codes == nil {
			return fmt.Errorf("assertions[%d]: codes is required for exceptions", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}

func validKind(kind string) bool {
	switch kind {
	case KindApplied, KindReplayed, KindPublished, KindDuplicate:
		return true
	}
	return false
}
