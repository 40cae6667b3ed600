package message

import "fmt"

// Type identifies the kind of a Message.
type Type int

const (
	// TypeSocket is a readiness notification for a watched socket.
	TypeSocket Type = iota
	// TypeCloseConnection asks an Acceptor to remove and destroy a connection.
	TypeCloseConnection
	// TypeHTTP carries a complete HTTP message or one response fragment.
	TypeHTTP
)

// String returns a human-readable name for the message type
func (t Type) String() string {
	switch t {
	case TypeSocket:
		return "socket"
	case TypeCloseConnection:
		return "close_connection"
	case TypeHTTP:
		return "http"
	default:
		return fmt.Sprintf("Type(%d)", int(t))
	}
}

// Message is anything that can be enqueued on a Queue.
type Message interface {
	Type() Type
}

// Socket event bits carried by SocketMessage.
const (
	EventRead uint32 = 1 << iota
	EventWrite
)

// SocketMessage notifies a queue that its socket is ready.
type SocketMessage struct {
	Fd     int
	Events uint32
}

// Type implements Message
func (*SocketMessage) Type() Type { return TypeSocket }

// CloseConnectionMessage names the socket of a connection that the
// readiness table wants torn down by its owner.
type CloseConnectionMessage struct {
	Fd int
}

// Type implements Message
func (*CloseConnectionMessage) Type() Type { return TypeCloseConnection }

// Queue is a message destination addressed by a process-unique id.
type Queue interface {
	QueueID() uint32
	Enqueue(msg Message) error
}
