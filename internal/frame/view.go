package frame

import (
	"fmt"
	"strconv"
	"unicode/utf8"
)

// Command is a read-only view over an encoded command record.
type Command struct {
	buf []byte
}

// WrapCommand creates a view over buf without copying. Accessors are
// undefined if buf is shorter than CommandHeaderLength.
func WrapCommand(buf []byte) Command {
	return Command{buf: buf}
}

// Valid reports whether the buffer holds a complete command record. A
// negative payload size is invalid.
func (c Command) Valid() bool {
	if len(c.buf) < CommandHeaderLength {
		return false
	}
	size := c.PayloadSize()
	return size >= 0 && len(c.buf)-CommandHeaderLength >= int(size)
}

func (c Command) SourceID() int32       { return int32(order.Uint32(c.buf[SourceIDOffset:])) }
func (c Command) SourceSequence() int64 { return int64(order.Uint64(c.buf[SourceSequenceOffset:])) }
func (c Command) Type() int32           { return int32(order.Uint32(c.buf[TypeOffset:])) }
func (c Command) Time() int64           { return int64(order.Uint64(c.buf[TimeOffset:])) }
func (c Command) PayloadSize() int32    { return int32(order.Uint32(c.buf[PayloadSizeOffset:])) }

// Payload returns exactly PayloadSize bytes following the header.
func (c Command) Payload() []byte {
	return c.buf[CommandHeaderLength : CommandHeaderLength+int(c.PayloadSize())]
}

// Bytes returns the encoded record, header and payload.
func (c Command) Bytes() []byte {
	return c.buf[:CommandHeaderLength+int(c.PayloadSize())]
}

// Clone returns a view over a private copy of the record.
func (c Command) Clone() Command {
	return Command{buf: append([]byte(nil), c.Bytes()...)}
}

func (c Command) String() string {
	return fmt.Sprintf("command{source=%d seq=%d type=%s time=%d payload=%s}",
		c.SourceID(), c.SourceSequence(), TypeName(c.Type()), c.Time(), formatPayload(c.Payload()))
}

// Event is a read-only view over an encoded event record.
type Event struct {
	buf []byte
}

// WrapEvent creates a view over buf without copying. Accessors are undefined
// if buf is shorter than EventHeaderLength.
func WrapEvent(buf []byte) Event {
	return Event{buf: buf}
}

// Valid reports whether the buffer holds a complete event record.
func (e Event) Valid() bool {
	if len(e.buf) < EventHeaderLength {
		return false
	}
	size := e.PayloadSize()
	return e.Index() >= 0 && size >= 0 && len(e.buf)-EventHeaderLength >= int(size)
}

func (e Event) SourceID() int32       { return int32(order.Uint32(e.buf[SourceIDOffset:])) }
func (e Event) SourceSequence() int64 { return int64(order.Uint64(e.buf[SourceSequenceOffset:])) }
func (e Event) Type() int32           { return int32(order.Uint32(e.buf[TypeOffset:])) }
func (e Event) Time() int64           { return int64(order.Uint64(e.buf[TimeOffset:])) }
func (e Event) PayloadSize() int32    { return int32(order.Uint32(e.buf[PayloadSizeOffset:])) }
func (e Event) Index() int16          { return int16(order.Uint16(e.buf[EventIndexOffset:])) }
func (e Event) Flags() Flags          { return Flags(e.buf[FlagsOffset]) }

// IsCommit reports whether the event is a COMMIT marker.
func (e Event) IsCommit() bool { return e.Type() == TypeCommit }

// IsRollback reports whether the event is a ROLLBACK marker.
func (e Event) IsRollback() bool { return e.Type() == TypeRollback }

// IsMarker reports whether the event terminates its command's transaction.
func (e Event) IsMarker() bool { return e.IsCommit() || e.IsRollback() }

// IsApplication reports whether the event carries an application type.
func (e Event) IsApplication() bool { return e.Type() >= 0 }

// Payload returns exactly PayloadSize bytes following the header.
func (e Event) Payload() []byte {
	return e.buf[EventHeaderLength : EventHeaderLength+int(e.PayloadSize())]
}

// Bytes returns the encoded record, header and payload.
func (e Event) Bytes() []byte {
	return e.buf[:EventHeaderLength+int(e.PayloadSize())]
}

// Clone returns a view over a private copy of the record.
func (e Event) Clone() Event {
	return Event{buf: append([]byte(nil), e.Bytes()...)}
}

func (e Event) String() string {
	flags := ""
	if e.Flags().Commit() {
		flags = " commit"
	}
	return fmt.Sprintf("event{source=%d seq=%d index=%d type=%s time=%d%s payload=%s}",
		e.SourceID(), e.SourceSequence(), e.Index(), TypeName(e.Type()), e.Time(), flags, formatPayload(e.Payload()))
}

// formatPayload prints printable UTF-8 payloads quoted and everything else as
// hex, so dumps stay on one line.
func formatPayload(p []byte) string {
	if len(p) == 0 {
		return `""`
	}
	if utf8.Valid(p) {
		s := string(p)
		printable := true
		for _, r := range s {
			if !strconv.IsPrint(r) {
				printable = false
				break
			}
		}
		if printable {
			return strconv.Quote(s)
		}
	}
	return fmt.Sprintf("0x%x", p)
}
