package engine

import "time"

// Clock is the time source the sequencer stamps commands with. Time is
// taken exactly once per command and inherited by all of its events.
type Clock interface {
	Now() int64
}

// SystemClock returns wall-clock unix nanoseconds.
type SystemClock struct{}

func (SystemClock) Now() int64 { return time.Now().UnixNano() }

// ClockFunc adapts a function to Clock.
type ClockFunc func() int64

func (f ClockFunc) Now() int64 { return f() }
