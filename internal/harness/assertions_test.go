package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleResult() *Result {
	r := NewResult()
	r.Log = []string{"1/1/0:7*", "1/1/1:COMMIT"}
	r.Trace = []TraceEvent{
		{Kind: KindApplied, Source: 1, Seq: 1, Index: 0, Type: 7, Payload: "a"},
		{Kind: KindPublished, Source: 1, Seq: 1, Index: 0, Type: 7, Payload: "a"},
		{Kind: KindApplied, Source: 2, Seq: 1, Index: 0, Type: 3, Payload: "b"},
	}
	r.Exceptions = []string{"CALLBACK"}
	r.State[1] = SourceState{LastSequence: 1, LastIndex: 1, AllApplied: true}
	return r
}

func TestEvaluateAssertions_Pass(t *testing.T) {
	errs := EvaluateAssertions(sampleResult(), []Assertion{
		{Type: AssertLogShape, Shape: []string{"1/1/0:7*", "1/1/1:COMMIT"}},
		{Type: AssertTraceContains, Kind: KindApplied, Match: map[string]any{"source": 2, "payload": "b"}},
		{Type: AssertTraceOrder, Kind: KindApplied, Payloads: []string{"a", "b"}},
		{Type: AssertTraceCount, Kind: KindPublished, Count: 1},
		{Type: AssertFinalState, Source: 1, Expect: map[string]any{"last_sequence": 1, "all_applied": true}},
		{Type: AssertExceptions, Codes: []string{"CALLBACK"}},
	})
	assert.Empty(t, errs)
}

func TestEvaluateAssertions_Failures(t *testing.T) {
	tests := []struct {
		name      string
		assertion Assertion
		contains  string
	}{
		{
			name:      "log shape",
			assertion: Assertion{Type: AssertLogShape, Shape: []string{"1/1/0:7*"}},
			contains:  "Actual: [1/1/0:7* 1/1/1:COMMIT]",
		},
		{
			name:      "trace contains",
			assertion: Assertion{Type: AssertTraceContains, Kind: KindPublished, Match: map[string]any{"payload": "b"}},
			contains:  "Expected: published entry with payload=b",
		},
		{
			name:      "trace order",
			assertion: Assertion{Type: AssertTraceOrder, Kind: KindApplied, Payloads: []string{"b", "a"}},
			contains:  "Actual: [a b]",
		},
		{
			name:      "trace count",
			assertion: Assertion{Type: AssertTraceCount, Kind: KindReplayed, Count: 2},
			contains:  "Expected: 2 replayed entries",
		},
		{
			name:      "final state value",
			assertion: Assertion{Type: AssertFinalState, Source: 1, Expect: map[string]any{"last_index": 0}},
			contains:  "Expected: source 1 last_index=0",
		},
		{
			name:      "final state unknown source",
			assertion: Assertion{Type: AssertFinalState, Source: 9, Expect: map[string]any{"last_index": 0}},
			contains:  "source not in state",
		},
		{
			name:      "final state unknown field",
			assertion: Assertion{Type: AssertFinalState, Source: 1, Expect: map[string]any{"nope": 1}},
			contains:  `unknown field "nope"`,
		},
		{
			name:      "exceptions",
			assertion: Assertion{Type: AssertExceptions, Codes: []string{}},
			contains:  "Actual: [CALLBACK]",
		},
		{
			name:      "unknown type",
			assertion: Assertion{Type: "bogus"},
			contains:  `assertion[0]: unknown assertion type "bogus"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errs := EvaluateAssertions(sampleResult(), []Assertion{tt.assertion})
			require.Len(t, errs, 1)
			assert.Contains(t, errs[0], tt.contains)
		})
	}
}

func TestAssertionError_IncludesTrace(t *testing.T) {
	err := &AssertionError{
		Type:     AssertTraceCount,
		Expected: "1 applied entries",
		Actual:   "2",
		Trace:    []TraceEvent{{Kind: KindApplied, Source: 1, Seq: 2, Index: 0, Type: 7, Payload: "x"}},
	}
	assert.Contains(t, err.Error(), "[1] applied 1/2/0 type=7 \"x\"")
}

func TestValuesEqual(t *testing.T) {
	assert.True(t, valuesEqual(int16(3), 3))
	assert.True(t, valuesEqual(int32(3), int64(3)))
	assert.True(t, valuesEqual(int64(3), uint64(3)))
	assert.False(t, valuesEqual(int64(-1), uint64(1)))
	assert.False(t, valuesEqual(int64(3), "3"))
	assert.True(t, valuesEqual("a", "a"))
	assert.True(t, valuesEqual(true, true))
	assert.False(t, valuesEqual(true, false))
}

func TestMatchFields(t *testing.T) {
	ev := TraceEvent{Kind: KindApplied, Source: 1, Seq: 2, Index: 3, Type: 4, Payload: "p"}

	assert.True(t, matchFields(ev, nil))
	assert.True(t, matchFields(ev, map[string]any{"seq": 2, "index": 3, "type": 4}))
	assert.False(t, matchFields(ev, map[string]any{"seq": 1}))
	assert.False(t, matchFields(ev, map[string]any{"kind": "applied"}))
}
