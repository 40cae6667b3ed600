package secure

import (
	"context"
	"time"
)

// HandshakeState is the outcome of a server-side accept step.
type HandshakeState int

const (
	// HandshakeFailed means the peer must be dropped.
	HandshakeFailed HandshakeState = iota
	// HandshakePending means the handshake needs more time.
	HandshakePending
	// HandshakeComplete means the socket is ready for application data.
	HandshakeComplete
)

// String returns a human-readable name for the handshake state
func (s HandshakeState) String() string {
	switch s {
	case HandshakeFailed:
		return "failed"
	case HandshakePending:
		return "pending"
	case HandshakeComplete:
		return "complete"
	default:
		return "unknown"
	}
}

// Socket is a connected socket that may or may not be encrypted. Reads
// never block: they return ErrWouldBlock when no data is available and
// io.EOF once the peer closed. Writes block until every byte is sent or
// the write timeout expires.
type Socket interface {
	// Fd returns the descriptor to watch for readiness.
	Fd() int
	Read(p []byte) (int, error)
	// Peek reads without consuming, at the transport level.
	Peek(p []byte) (int, error)
	Write(p []byte) (int, error)
	Close() error

	// Accept advances the server-side handshake.
	Accept() (HandshakeState, error)
	// Connect performs the client-side handshake.
	Connect(ctx context.Context) error

	IsSecure() bool
	// Incomplete reports whether the last Read stopped inside a secure
	// record. It is not an end-of-stream condition.
	Incomplete() bool

	RemoteAddr() string
	SetWriteTimeout(d time.Duration)
}
