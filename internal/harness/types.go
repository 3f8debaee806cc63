package harness

// Trace entry kinds.
const (
	KindApplied   = "applied"
	KindReplayed  = "replayed"
	KindPublished = "published"
	KindDuplicate = "duplicate"
)

// TraceEvent is one event seen by the applier, the output or the duplicate
// handler.
type TraceEvent struct {
	Kind    string `json:"kind"`
	Source  int32  `json:"source"`
	Seq     int64  `json:"seq"`
	Index   int16  `json:"index"`
	Type    int32  `json:"type"`
	Payload string `json:"payload,omitempty"`
}

// Result is the outcome of a scenario run.
type Result struct {
	// Pass is true when every assertion held.
	Pass bool `json:"pass"`

	// Log is the shape of the event log at the end of the run.
	Log []string `json:"log"`

	// Trace holds applier, output and duplicate handler calls in order.
	Trace []TraceEvent `json:"trace"`

	// Exceptions holds the codes reported to the exception handler.
	Exceptions []string `json:"exceptions,omitempty"`

	// Errors holds failed assertion messages.
	Errors []string `json:"errors,omitempty"`

	// State is the final high-water mark per source.
	State map[int32]SourceState `json:"state,omitempty"`
}

// SourceState is the base state's view of one source.
type SourceState struct {
	LastSequence int64 `json:"last_sequence"`
	LastIndex    int16 `json:"last_index"`
	AllApplied   bool  `json:"all_applied"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:  true,
		Log:   []string{},
		Trace: []TraceEvent{},
		State: make(map[int32]SourceState),
	}
}

// AddError adds a failed assertion and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

func (r *Result) addTrace(e TraceEvent) {
	r.Trace = append(r.Trace, e)
}

// Filter returns the trace entries of kind.
func (r *Result) Filter(kind string) []TraceEvent {
	var out []TraceEvent
	for _, e := range r.Trace {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}
