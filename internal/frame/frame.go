package frame

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// Field offsets shared by commands and events.
const (
	SourceIDOffset       = 0
	SourceSequenceOffset = 4
	TypeOffset           = 12
	TimeOffset           = 16
	PayloadSizeOffset    = 24

	// CommandHeaderLength is the fixed command header size; the payload
	// starts right after it.
	CommandHeaderLength = 28

	EventIndexOffset = 28
	FlagsOffset      = 30
	reservedOffset   = 31

	// EventHeaderLength is the fixed event header size.
	EventHeaderLength = 32

	// MaxPayloadSize is the largest payload the int32 size field can carry.
	MaxPayloadSize = math.MaxInt32 - EventHeaderLength
)

// Reserved event types. Negative types belong to the engine and its plugins;
// application types are non-negative.
const (
	TypeCommit   int32 = -1
	TypeRollback int32 = -2
)

// MaxEventIndex is the highest index an event can carry. A transaction holds
// at most MaxEventIndex+1 events including its terminal marker.
const MaxEventIndex = math.MaxInt16

// ErrBounds reports a header or payload that does not fit the buffer or the
// size field.
var ErrBounds = errors.New("frame: out of bounds")

var order = binary.LittleEndian

// Flags is the event flag byte.
type Flags uint8

const (
	// FlagCommit marks the event that closes a committed transaction.
	FlagCommit Flags = 1 << iota
)

// Commit reports whether the commit boundary flag is set.
func (f Flags) Commit() bool {
	return f&FlagCommit != 0
}

// EncodeCommandHeader writes a command header at offset and returns the
// header length.
func EncodeCommandHeader(buf []byte, offset int, sourceID int32, sourceSequence int64, typ int32, time int64, payloadSize int) (int, error) {
	if err := checkHeader(buf, offset, CommandHeaderLength, payloadSize); err != nil {
		return 0, err
	}
	b := buf[offset:]
	order.PutUint32(b[SourceIDOffset:], uint32(sourceID))
	order.PutUint64(b[SourceSequenceOffset:], uint64(sourceSequence))
	order.PutUint32(b[TypeOffset:], uint32(typ))
	order.PutUint64(b[TimeOffset:], uint64(time))
	order.PutUint32(b[PayloadSizeOffset:], uint32(payloadSize))
	return CommandHeaderLength, nil
}

// EncodeEventHeader writes an event header at offset and returns the header
// length.
func EncodeEventHeader(buf []byte, offset int, sourceID int32, sourceSequence int64, index int16, typ int32, time int64, flags Flags, payloadSize int) (int, error) {
	if index < 0 {
		return 0, fmt.Errorf("%w: negative event index %d", ErrBounds, index)
	}
	if err := checkHeader(buf, offset, EventHeaderLength, payloadSize); err != nil {
		return 0, err
	}
	b := buf[offset:]
	order.PutUint32(b[SourceIDOffset:], uint32(sourceID))
	order.PutUint64(b[SourceSequenceOffset:], uint64(sourceSequence))
	order.PutUint32(b[TypeOffset:], uint32(typ))
	order.PutUint64(b[TimeOffset:], uint64(time))
	order.PutUint32(b[PayloadSizeOffset:], uint32(payloadSize))
	order.PutUint16(b[EventIndexOffset:], uint16(index))
	b[FlagsOffset] = byte(flags)
	b[reservedOffset] = 0
	return EventHeaderLength, nil
}

// SetPayloadSize rewrites the size field of a header at offset. Used by
// append contexts once the final payload length is known.
func SetPayloadSize(buf []byte, offset int, payloadSize int) error {
	if payloadSize < 0 || payloadSize > MaxPayloadSize {
		return fmt.Errorf("%w: payload size %d", ErrBounds, payloadSize)
	}
	if len(buf) < offset+PayloadSizeOffset+4 {
		return fmt.Errorf("%w: buffer length %d", ErrBounds, len(buf))
	}
	order.PutUint32(buf[offset+PayloadSizeOffset:], uint32(payloadSize))
	return nil
}

// SetFlags rewrites the flag byte of an event header at offset.
func SetFlags(buf []byte, offset int, flags Flags) {
	buf[offset+FlagsOffset] = byte(flags)
}

func checkHeader(buf []byte, offset, headerLength, payloadSize int) error {
	if payloadSize < 0 || payloadSize > MaxPayloadSize {
		return fmt.Errorf("%w: payload size %d", ErrBounds, payloadSize)
	}
	if offset < 0 || len(buf)-offset < headerLength {
		return fmt.Errorf("%w: need %d header bytes at offset %d, buffer length %d", ErrBounds, headerLength, offset, len(buf))
	}
	return nil
}

// EncodeCommand returns a freshly allocated command record.
func EncodeCommand(sourceID int32, sourceSequence int64, typ int32, time int64, payload []byte) []byte {
	buf := make([]byte, CommandHeaderLength+len(payload))
	if _, err := EncodeCommandHeader(buf, 0, sourceID, sourceSequence, typ, time, len(payload)); err != nil {
		panic(err)
	}
	copy(buf[CommandHeaderLength:], payload)
	return buf
}

// EncodeEvent returns a freshly allocated event record.
func EncodeEvent(sourceID int32, sourceSequence int64, index int16, typ int32, time int64, flags Flags, payload []byte) []byte {
	buf := make([]byte, EventHeaderLength+len(payload))
	if _, err := EncodeEventHeader(buf, 0, sourceID, sourceSequence, index, typ, time, flags, len(payload)); err != nil {
		panic(err)
	}
	copy(buf[EventHeaderLength:], payload)
	return buf
}

// TypeName returns a readable name for reserved types and the decimal value
// for everything else.
func TypeName(typ int32) string {
	switch typ {
	case TypeCommit:
		return "COMMIT"
	case TypeRollback:
		return "ROLLBACK"
	default:
		return fmt.Sprintf("%d", typ)
	}
}
