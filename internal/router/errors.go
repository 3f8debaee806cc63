package router

import (
	"errors"
	"fmt"
)

// RoutingError represents a violation of the router's call contract.
//
// Routing errors include:
//   - State: call made in the wrong transaction state
//   - Bounds: event index would overflow
//   - Reserved type: routing a COMMIT or ROLLBACK type directly
//   - Append: the event log refused a record
//
// They are never retried by the router; the command step closes the
// transaction with a rollback and reports the error.
type RoutingError struct {
	// Code identifies the error category.
	Code ErrorCode

	// Message is a human-readable description.
	Message string

	// SourceID and Sequence identify the command being routed, when bound.
	SourceID int32
	Sequence int64

	// Err is the underlying cause, if any.
	Err error
}

// ErrorCode categorizes routing errors.
type ErrorCode string

const (
	ErrCodeState        ErrorCode = "STATE"
	ErrCodeBounds       ErrorCode = "BOUNDS"
	ErrCodeReservedType ErrorCode = "RESERVED_TYPE"
	ErrCodeAppend       ErrorCode = "APPEND"
)

// Error implements the error interface.
func (e *RoutingError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.Sequence != 0 {
		msg = fmt.Sprintf("%s (source=%d, seq=%d)", msg, e.SourceID, e.Sequence)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *RoutingError) Unwrap() error { return e.Err }

// IsStateError returns true if the error is a state error.
// Uses errors.As to handle wrapped errors.
func IsStateError(err error) bool {
	return hasCode(err, ErrCodeState)
}

// IsBoundsError returns true if the error is an event index bounds error.
func IsBoundsError(err error) bool {
	return hasCode(err, ErrCodeBounds)
}

// IsReservedTypeError returns true if the error rejects a marker type.
func IsReservedTypeError(err error) bool {
	return hasCode(err, ErrCodeReservedType)
}

func hasCode(err error, code ErrorCode) bool {
	var re *RoutingError
	if errors.As(err, &re) {
		return re.Code == code
	}
	return false
}
