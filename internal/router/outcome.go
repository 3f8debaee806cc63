package router

import "fmt"

// State is the router's transaction state.
type State int

const (
	StateIdle State = iota
	StateRouting
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateRouting:
		return "ROUTING"
	case StateTerminated:
		return "TERMINATED"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Kind is how a transaction ended.
type Kind int

const (
	KindCommit Kind = iota
	KindRollback
	KindSkip
)

func (k Kind) String() string {
	switch k {
	case KindCommit:
		return "COMMIT"
	case KindRollback:
		return "ROLLBACK"
	case KindSkip:
		return "SKIP"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// RollbackReason distinguishes a rollback whose command should be retried
// from one whose command is dropped.
type RollbackReason int

const (
	// Discard closes the transaction with a ROLLBACK marker.
	Discard RollbackReason = iota
	// Replay asks for the command to be processed again. With no events
	// routed nothing is appended and the command is retried in place.
	Replay
)

func (r RollbackReason) String() string {
	switch r {
	case Discard:
		return "DISCARD"
	case Replay:
		return "REPLAY"
	default:
		return fmt.Sprintf("RollbackReason(%d)", int(r))
	}
}

// SkipMode is the result of a skip request.
type SkipMode int

const (
	// SkipNone means the command was not skipped.
	SkipNone SkipMode = iota
	// Skipped means no events were routed; a COMMIT marker was appended at
	// skip time.
	Skipped
	// Conflated means no events were routed and nothing is ever appended.
	// The next processed command of the source fills the sequence gap.
	Conflated
	// Consumed means events were already routed; they stand and a COMMIT
	// marker closes the transaction. Later routes are dropped.
	Consumed
)

func (m SkipMode) String() string {
	switch m {
	case SkipNone:
		return "NONE"
	case Skipped:
		return "SKIPPED"
	case Conflated:
		return "CONFLATED"
	case Consumed:
		return "CONSUMED"
	default:
		return fmt.Sprintf("SkipMode(%d)", int(m))
	}
}

// Outcome describes a completed transaction.
type Outcome struct {
	Kind Kind

	// Reason is set for KindRollback.
	Reason RollbackReason

	// Skip is set for KindSkip.
	Skip SkipMode

	// Events is the number of application events left in the log.
	Events int

	// Marker reports whether a terminal marker was appended.
	Marker bool
}

// Retry reports whether the command must be processed again from the same
// log position.
func (o Outcome) Retry() bool {
	return o.Kind == KindRollback && o.Reason == Replay && !o.Marker
}

func (o Outcome) String() string {
	switch o.Kind {
	case KindRollback:
		return fmt.Sprintf("ROLLBACK(%s) events=%d marker=%t", o.Reason, o.Events, o.Marker)
	case KindSkip:
		return fmt.Sprintf("SKIP(%s) events=%d marker=%t", o.Skip, o.Events, o.Marker)
	default:
		return fmt.Sprintf("COMMIT events=%d", o.Events)
	}
}
