package secure

import (
	"context"
	"time"
)

// PlainSocket is an unencrypted Socket over a raw descriptor.
type PlainSocket struct {
	conn         *fdConn
	writeTimeout time.Duration
}

// NewPlainSocket wraps a connected, non-blocking descriptor. The socket
// owns fd from now on.
func NewPlainSocket(fd int, remoteAddr string) *PlainSocket {
	conn := newFdConn(fd, remoteAddr)
	conn.nonblocking.Store(true)
	return &PlainSocket{conn: conn}
}

// Fd implements Socket
func (s *PlainSocket) Fd() int { return s.conn.fd }

// Read implements Socket
func (s *PlainSocket) Read(p []byte) (int, error) { return s.conn.Read(p) }

// Peek implements Socket
func (s *PlainSocket) Peek(p []byte) (int, error) { return peekFd(s.conn.fd, p) }

// Write implements Socket
func (s *PlainSocket) Write(p []byte) (int, error) {
	s.conn.writeDeadlineFrom(s.writeTimeout)
	return s.conn.Write(p)
}

// Close implements Socket
func (s *PlainSocket) Close() error { return s.conn.Close() }

// Accept implements Socket. Plain sockets have no handshake.
func (s *PlainSocket) Accept() (HandshakeState, error) { return HandshakeComplete, nil }

// Connect implements Socket
func (s *PlainSocket) Connect(ctx context.Context) error { return ctx.Err() }

// IsSecure implements Socket
func (s *PlainSocket) IsSecure() bool { return false }

// Incomplete implements Socket
func (s *PlainSocket) Incomplete() bool { return false }

// RemoteAddr implements Socket
func (s *PlainSocket) RemoteAddr() string { return string(s.conn.remote) }

// SetWriteTimeout implements Socket
func (s *PlainSocket) SetWriteTimeout(d time.Duration) { s.writeTimeout = d }
