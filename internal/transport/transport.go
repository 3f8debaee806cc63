// Package transport defines the message send/receive contract the engine
// uses for inputs and feedback commands, and an in-process ring transport.
//
// Transports never block the engine: a send either goes out or reports why
// not, and a poll delivers at most one message.
package transport

import "fmt"

// SendResult is the outcome of SendMessage.
type SendResult int

const (
	Sent SendResult = iota
	BackPressured
	Disconnected
	Closed
	Failed
)

func (r SendResult) String() string {
	switch r {
	case Sent:
		return "SENT"
	case BackPressured:
		return "BACK_PRESSURED"
	case Disconnected:
		return "DISCONNECTED"
	case Closed:
		return "CLOSED"
	case Failed:
		return "FAILED"
	default:
		return fmt.Sprintf("SendResult(%d)", int(r))
	}
}

// Sender sends one message. The buffer may be reused by the caller as soon
// as SendMessage returns.
type Sender interface {
	SendMessage(buf []byte) SendResult
}

// Handler receives one message. buf is only valid during the call. Returning
// false leaves the message in the transport to be delivered again.
type Handler func(buf []byte) bool

// Receiver delivers messages.
type Receiver interface {
	// Poll delivers at most one message and returns the number delivered.
	Poll(h Handler) int
}
