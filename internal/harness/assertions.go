package harness

import (
	"fmt"
	"reflect"
	"sort"
	"strings"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Trace entries for context, may be empty
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nTrace:\n")
		for i, ev := range e.Trace {
			fmt.Fprintf(&buf, "  [%d] %s %d/%d/%d type=%d %q\n", i+1, ev.Kind, ev.Source, ev.Seq, ev.Index, ev.Type, ev.Payload)
		}
	}
	return buf.String()
}

// assertLogShape compares the whole event log.
func assertLogShape(result *Result, a Assertion) error {
	if reflect.DeepEqual(result.Log, a.Shape) || (len(result.Log) == 0 && len(a.Shape) == 0) {
		return nil
	}
	return &AssertionError{
		Type:     AssertLogShape,
		Expected: fmt.Sprintf("%v", a.Shape),
		Actual:   fmt.Sprintf("%v", result.Log),
	}
}

// assertTraceContains checks that an entry of the kind has every field in
// the match.
func assertTraceContains(result *Result, a Assertion) error {
	entries := result.Filter(a.Kind)
	for _, ev := range entries {
		if matchFields(ev, a.Match) {
			return nil
		}
	}
	return &AssertionError{
		Type:     AssertTraceContains,
		Expected: fmt.Sprintf("%s entry with %s", a.Kind, formatMap(a.Match)),
		Actual:   "not found in trace",
		Trace:    entries,
	}
}

// assertTraceOrder checks that the payloads of the kind's entries are
// exactly the expected ones, in order.
func assertTraceOrder(result *Result, a Assertion) error {
	entries := result.Filter(a.Kind)
	actual := make([]string, len(entries))
	for i, ev := range entries {
		actual[i] = ev.Payload
	}
	if reflect.DeepEqual(actual, a.Payloads) {
		return nil
	}
	return &AssertionError{
		Type:     AssertTraceOrder,
		Expected: fmt.Sprintf("%s payloads %v", a.Kind, a.Payloads),
		Actual:   fmt.Sprintf("%v", actual),
		Trace:    entries,
	}
}

// assertTraceCount checks the number of entries of the kind.
func assertTraceCount(result *Result, a Assertion) error {
	entries := result.Filter(a.Kind)
	if len(entries) == a.Count {
		return nil
	}
	return &AssertionError{
		Type:     AssertTraceCount,
		Expected: fmt.Sprintf("%d %s entries", a.Count, a.Kind),
		Actual:   fmt.Sprintf("%d", len(entries)),
		Trace:    entries,
	}
}

// assertFinalState checks the base state of one source.
func assertFinalState(result *Result, a Assertion) error {
	st, ok := result.State[a.Source]
	if !ok {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("source %d with %s", a.Source, formatMap(a.Expect)),
			Actual:   "source not in state",
		}
	}
	actual := map[string]any{
		"last_sequence": st.LastSequence,
		"last_index":    st.LastIndex,
		"all_applied":   st.AllApplied,
	}
	for _, key := range sortedKeys(a.Expect) {
		got, known := actual[key]
		if !known {
			return fmt.Errorf("final_state: unknown field %q", key)
		}
		if !valuesEqual(got, a.Expect[key]) {
			return &AssertionError{
				Type:     AssertFinalState,
				Expected: fmt.Sprintf("source %d %s=%v", a.Source, key, a.Expect[key]),
				Actual:   fmt.Sprintf("%v", got),
			}
		}
	}
	return nil
}

// assertExceptions compares the reported exception codes.
func assertExceptions(result *Result, a Assertion) error {
	if reflect.DeepEqual(result.Exceptions, a.Codes) || (len(result.Exceptions) == 0 && len(a.Codes) == 0) {
		return nil
	}
	return &AssertionError{
		Type:     AssertExceptions,
		Expected: fmt.Sprintf("%v", a.Codes),
		Actual:   fmt.Sprintf("%v", result.Exceptions),
	}
}

// matchFields checks that ev has every expected field (subset match).
func matchFields(ev TraceEvent, expected map[string]any) bool {
	fields := map[string]any{
		"source":  ev.Source,
		"seq":     ev.Seq,
		"index":   ev.Index,
		"type":    ev.Type,
		"payload": ev.Payload,
	}
	for key, want := range expected {
		got, ok := fields[key]
		if !ok || !valuesEqual(got, want) {
			return false
		}
	}
	return true
}

// valuesEqual compares a trace or state value with a value decoded from
// YAML, where every integer is an int.
func valuesEqual(actual, expected any) bool {
	switch a := actual.(type) {
	case int16:
		return intEqual(int64(a), expected)
	case int32:
		return intEqual(int64(a), expected)
	case int64:
		return intEqual(a, expected)
	}
	return reflect.DeepEqual(actual, expected)
}

func intEqual(actual int64, expected any) bool {
	switch e := expected.(type) {
	case int:
		return actual == int64(e)
	case int64:
		return actual == e
	case uint64:
		return actual >= 0 && uint64(actual) == e
	}
	return false
}

func formatMap(m map[string]any) string {
	parts := make([]string, 0, len(m))
	for _, k := range sortedKeys(m) {
		parts = append(parts, fmt.Sprintf("%s=%v", k, m[k]))
	}
	return strings.Join(parts, " ")
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// EvaluateAssertions evaluates all assertions against the result.
// Returns a slice of error messages for failed assertions.
func EvaluateAssertions(result *Result, assertions []Assertion) []string {
	var errors []string

	for i, assertion := range assertions {
		var err error

		switch assertion.Type {
		case AssertLogShape:
			err = assertLogShape(result, assertion)
		case AssertTraceContains:
			err = assertTraceContains(result, assertion)
		case AssertTraceOrder:
			err = assertTraceOrder(result, assertion)
		case AssertTraceCount:
			err = assertTraceCount(result, assertion)
		case AssertFinalState:
			err = assertFinalState(result, assertion)
		case AssertExceptions:
			err = assertExceptions(result, assertion)
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, assertion.Type)
		}

		if err != nil {
			errors = append(errors, err.Error())
		}
	}

	return errors
}
