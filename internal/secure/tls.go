package secure

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/muurk/wbemd/internal/logging"
	"go.uber.org/zap"
)

// DefaultHandshakeTimeout bounds a server-side handshake.
const DefaultHandshakeTimeout = 20 * time.Second

// TLSSocket is an encrypted Socket. The server-side handshake runs on its
// own goroutine; Accept reports its progress without blocking.
type TLSSocket struct {
	conn *fdConn
	tls  *tls.Conn

	handshakeTimeout time.Duration
	onHandshake      func(HandshakeState)

	started atomic.Bool
	state   atomic.Int32
	done    chan struct{}

	writeTimeout time.Duration
	incomplete   bool
}

// TLSOption configures a TLSSocket.
type TLSOption func(*TLSSocket)

// WithHandshakeTimeout bounds the handshake.
func WithHandshakeTimeout(d time.Duration) TLSOption {
	return func(s *TLSSocket) { s.handshakeTimeout = d }
}

// WithHandshakeCallback registers fn to run on the handshake goroutine once
// the handshake finished, successfully or not.
func WithHandshakeCallback(fn func(HandshakeState)) TLSOption {
	return func(s *TLSSocket) { s.onHandshake = fn }
}

// NewTLSServerSocket wraps an accepted descriptor for a server-side
// handshake. The socket owns fd from now on.
func NewTLSServerSocket(fd int, remoteAddr string, config *tls.Config, opts ...TLSOption) *TLSSocket {
	conn := newFdConn(fd, remoteAddr)
	s := newTLSSocket(conn, tls.Server(conn, config), opts)
	return s
}

// NewTLSClientSocket wraps a connected descriptor for a client-side
// handshake performed by Connect.
func NewTLSClientSocket(fd int, remoteAddr string, config *tls.Config, opts ...TLSOption) *TLSSocket {
	conn := newFdConn(fd, remoteAddr)
	return newTLSSocket(conn, tls.Client(conn, config), opts)
}

func newTLSSocket(conn *fdConn, tc *tls.Conn, opts []TLSOption) *TLSSocket {
	s := &TLSSocket{
		conn:             conn,
		tls:              tc,
		handshakeTimeout: DefaultHandshakeTimeout,
		done:             make(chan struct{}),
	}
	s.state.Store(int32(HandshakePending))
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Fd implements Socket
func (s *TLSSocket) Fd() int { return s.conn.fd }

// Accept implements Socket. The first call starts the handshake; later
// calls report its state.
func (s *TLSSocket) Accept() (HandshakeState, error) {
	if s.started.CompareAndSwap(false, true) {
		go s.serverHandshake()
		return HandshakePending, nil
	}
	state := HandshakeState(s.state.Load())
	if state == HandshakeFailed {
		return state, errors.New("TLS handshake failed")
	}
	return state, nil
}

func (s *TLSSocket) serverHandshake() {
	defer close(s.done)

	_ = s.conn.SetDeadline(time.Now().Add(s.handshakeTimeout))
	err := s.tls.Handshake()
	_ = s.conn.SetDeadline(time.Time{})

	state := HandshakeComplete
	if err != nil {
		state = HandshakeFailed
		logging.Warn("TLS handshake failed",
			zap.String("remote_addr", s.RemoteAddr()),
			zap.Error(err),
		)
	} else {
		s.conn.nonblocking.Store(true)
		cs := s.tls.ConnectionState()
		logging.LogTLSHandshake(s.RemoteAddr(), cs.Version, cs.CipherSuite, cs.ServerName)
	}
	s.state.Store(int32(state))

	if s.onHandshake != nil {
		s.onHandshake(state)
	}
}

// Connect implements Socket. It blocks until the handshake completed or ctx
// is done.
func (s *TLSSocket) Connect(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return errors.New("handshake already started")
	}
	defer close(s.done)

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(s.handshakeTimeout)
	}
	_ = s.conn.SetDeadline(deadline)
	stop := context.AfterFunc(ctx, s.conn.interrupt)
	err := s.tls.Handshake()
	stop()
	_ = s.conn.SetDeadline(time.Time{})

	if err != nil {
		s.state.Store(int32(HandshakeFailed))
		return fmt.Errorf("TLS handshake with %s failed: %w", s.RemoteAddr(), err)
	}
	s.conn.nonblocking.Store(true)
	s.state.Store(int32(HandshakeComplete))

	cs := s.tls.ConnectionState()
	logging.LogTLSHandshake(s.RemoteAddr(), cs.Version, cs.CipherSuite, cs.ServerName)
	return nil
}

// Read implements Socket
func (s *TLSSocket) Read(p []byte) (int, error) {
	s.conn.rawRead.Store(0)
	n, err := s.tls.Read(p)
	s.incomplete = false
	if errors.Is(err, ErrWouldBlock) {
		s.incomplete = s.conn.rawRead.Load() > 0
		if n > 0 {
			return n, nil
		}
	}
	return n, err
}

// Peek implements Socket. It inspects raw transport bytes, which is enough
// to tell whether the peer went away.
func (s *TLSSocket) Peek(p []byte) (int, error) { return peekFd(s.conn.fd, p) }

// Write implements Socket
func (s *TLSSocket) Write(p []byte) (int, error) {
	s.conn.writeDeadlineFrom(s.writeTimeout)
	return s.tls.Write(p)
}

// Close implements Socket. A running handshake is interrupted and waited
// for before the descriptor is released.
func (s *TLSSocket) Close() error {
	if s.started.Load() && HandshakeState(s.state.Load()) == HandshakePending {
		s.conn.interrupt()
		<-s.done
	}
	if HandshakeState(s.state.Load()) == HandshakeComplete {
		s.conn.writeDeadlineFrom(time.Second)
		return s.tls.Close()
	}
	return s.conn.Close()
}

// IsSecure implements Socket
func (s *TLSSocket) IsSecure() bool { return true }

// Incomplete implements Socket
func (s *TLSSocket) Incomplete() bool { return s.incomplete }

// RemoteAddr implements Socket
func (s *TLSSocket) RemoteAddr() string { return string(s.conn.remote) }

// SetWriteTimeout implements Socket
func (s *TLSSocket) SetWriteTimeout(d time.Duration) { s.writeTimeout = d }

// ConnectionState returns the negotiated TLS parameters.
func (s *TLSSocket) ConnectionState() tls.ConnectionState { return s.tls.ConnectionState() }
