// Package frame defines the binary record format shared by the command and
// event logs.
//
// Every record is a fixed-size little-endian header immediately followed by
// payloadSize opaque payload bytes. Field offsets never change and the format
// carries no version: a reader only needs the header length of the record kind.
//
// Command layout (28 byte header):
//
//	 0  sourceId        int32
//	 4  sourceSequence  int64
//	12  type            int32
//	16  time            int64
//	24  payloadSize     int32
//	28  payload
//
// Event layout (32 byte header) shares the command fields at the same offsets
// and adds:
//
//	28  eventIndex      int16
//	30  flags           uint8
//	31  reserved        uint8
//	32  payload
//
// Views returned by WrapCommand and WrapEvent do not copy. They are only valid
// while the underlying buffer is; callers that keep a record must Clone it.
package frame
