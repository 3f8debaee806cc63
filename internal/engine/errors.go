package engine

import (
	"errors"
	"fmt"
)

// ProcessingError represents a failure while a step handled one record.
//
// Processing errors include:
//   - Framing: a log record is not a valid command or event
//   - Callback: an application callback returned an error or panicked
//   - Routing: the router rejected a call or the event log refused a record
//   - State: the base state rejected an event
//   - Position: an output position could not be loaded or saved
//
// ProcessingError carries the offending record's identity for diagnostics.
type ProcessingError struct {
	// Code identifies the error category.
	Code ErrorCode

	// Step names the step that failed ("sequencer", "command", "event",
	// "output").
	Step string

	// Position is the log position of the record, when known.
	Position int64

	// SourceID, Sequence and Index identify the record. Index is -1 for
	// commands.
	SourceID int32
	Sequence int64
	Index    int

	Err error
}

// ErrorCode categorizes processing errors.
type ErrorCode string

const (
	ErrCodeFraming  ErrorCode = "FRAMING"
	ErrCodeCallback ErrorCode = "CALLBACK"
	ErrCodeRouting  ErrorCode = "ROUTING"
	ErrCodeState    ErrorCode = "STATE"
	ErrCodePosition ErrorCode = "POSITION"
)

// Error implements the error interface.
func (e *ProcessingError) Error() string {
	where := fmt.Sprintf("step=%s position=%d", e.Step, e.Position)
	if e.Sequence != 0 {
		where = fmt.Sprintf("%s source=%d seq=%d", where, e.SourceID, e.Sequence)
		if e.Index >= 0 {
			where = fmt.Sprintf("%s index=%d", where, e.Index)
		}
	}
	return fmt.Sprintf("%s (%s): %v", e.Code, where, e.Err)
}

func (e *ProcessingError) Unwrap() error { return e.Err }

// IsCallbackError returns true if an application callback failed.
// Uses errors.As to handle wrapped errors.
func IsCallbackError(err error) bool {
	var pe *ProcessingError
	if errors.As(err, &pe) {
		return pe.Code == ErrCodeCallback
	}
	return false
}

// IsRoutingError returns true if the router or event log failed.
func IsRoutingError(err error) bool {
	var pe *ProcessingError
	if errors.As(err, &pe) {
		return pe.Code == ErrCodeRouting
	}
	return false
}

// errPanic wraps a recovered panic value.
type errPanic struct {
	value any
}

func (e errPanic) Error() string { return fmt.Sprintf("panic: %v", e.value) }

// safeCall runs an application callback, turning a panic into an error so
// one bad record cannot stop the duty cycle.
func safeCall(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errPanic{value: r}
		}
	}()
	return fn()
}
