package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/muurk/wbemd/internal/logging"
	"github.com/muurk/wbemd/internal/message"
	"github.com/muurk/wbemd/internal/monitor"
	"github.com/muurk/wbemd/internal/protocol"
	"github.com/muurk/wbemd/internal/secure"
	"go.uber.org/zap"
)

// owner removes and destroys connections on request. requestClose must not
// block; it reports false when the request could not be queued.
type owner interface {
	requestClose(c *Connection) bool
}

// Connection is one established socket. A server connection reads
// requests and writes response fragments handed to Enqueue; a client
// connection writes requests and delivers responses to its sink.
type Connection struct {
	id         uint32
	fd         int
	socket     secure.Socket
	remoteAddr string
	server     bool
	enableWeb  bool

	monitor  *monitor.Monitor
	handle   monitor.Handle
	owner    owner
	sink     message.Queue
	settings *SettingsStore

	// responses is set when the connection owns its sink.
	responses *message.MessageQueue

	responsePending  atomic.Bool
	awaitingResponse atomic.Bool
	closePending     atomic.Bool
	closeRequested   atomic.Bool
	acceptPending    atomic.Bool
	pendingInput     atomic.Bool
	handshakeReady   *atomic.Bool
	idleStart        atomic.Int64
	acceptStart      atomic.Int64
	requestCount     atomic.Uint64

	refs        *refCount
	destroyOnce sync.Once

	// mu serialises the read handler with response writes.
	mu      sync.Mutex
	readBuf []byte
	in      incoming
	out     outgoing
}

// incoming is the accumulation state of the message being read.
type incoming struct {
	buf           []byte
	header        protocol.HeaderBlock
	headerFound   bool
	decoder       protocol.ChunkDecoder
	methodChecked bool
}

// outgoing is the state of the response being written, plus the request
// parameters it depends on.
type outgoing struct {
	started       bool
	prevIndex     uint32
	chunked       bool
	mpostPrefix   string
	buf           []byte
	status        *protocol.CIMStatus
	errorResponse []byte
	languages     []string
	langConflict  bool
	written       int
	internalError bool

	acceptsChunked bool
	closeConnect   bool
}

type connConfig struct {
	socket         secure.Socket
	monitor        *monitor.Monitor
	owner          owner
	sink           message.Queue
	settings       *SettingsStore
	server         bool
	enableWeb      bool
	handshakeReady *atomic.Bool
}

func newConnection(cfg connConfig) *Connection {
	c := &Connection{
		id:             message.NextQueueID(),
		fd:             cfg.socket.Fd(),
		socket:         cfg.socket,
		remoteAddr:     cfg.socket.RemoteAddr(),
		server:         cfg.server,
		enableWeb:      cfg.enableWeb,
		monitor:        cfg.monitor,
		owner:          cfg.owner,
		sink:           cfg.sink,
		settings:       cfg.settings,
		handshakeReady: cfg.handshakeReady,
		refs:           newRefCount(),
		readBuf:        make([]byte, protocol.TCPBufferSize),
	}
	if c.handshakeReady == nil {
		c.handshakeReady = new(atomic.Bool)
	}
	if c.sink == nil {
		c.responses = message.NewMessageQueue(fmt.Sprintf("responses-%d", c.id))
		c.sink = c.responses
	}
	c.idleStart.Store(time.Now().UnixNano())
	return c
}

// activate publishes the connection to the monitor. Until then the
// monitor skips its entry.
func (c *Connection) activate(h monitor.Handle) {
	c.handle = h
	message.Register(c)
	c.monitor.Tickle()
}

// QueueID implements message.Queue
func (c *Connection) QueueID() uint32 { return c.id }

// Fd returns the socket descriptor.
func (c *Connection) Fd() int { return c.fd }

// RemoteAddr returns the peer address, "localhost" for local sockets.
func (c *Connection) RemoteAddr() string { return c.remoteAddr }

// RequestCount returns the number of messages read so far.
func (c *Connection) RequestCount() uint64 { return c.requestCount.Load() }

// IsSecure reports whether the connection runs over TLS.
func (c *Connection) IsSecure() bool { return c.socket.IsSecure() }

// Pollable implements monitor.Connection
func (c *Connection) Pollable() bool { return !c.acceptPending.Load() }

// TakeReady implements monitor.Connection
func (c *Connection) TakeReady() bool {
	return c.handshakeReady.Swap(false) || c.pendingInput.Swap(false)
}

// Touch implements monitor.Connection
func (c *Connection) Touch(now time.Time) { c.idleStart.Store(now.UnixNano()) }

// ResponsePending implements monitor.Connection
func (c *Connection) ResponsePending() bool { return c.responsePending.Load() }

// CloseOnTimeout implements monitor.Connection
func (c *Connection) CloseOnTimeout(now time.Time) bool {
	if c.closePending.Load() {
		return true
	}
	s := c.settings.Load()
	if c.acceptPending.Load() {
		started := time.Unix(0, c.acceptStart.Load())
		if now.Sub(started) <= s.HandshakeTimeout {
			return false
		}
		logging.Info("Closing connection after handshake timeout",
			zap.String("remote_addr", c.remoteAddr),
			zap.Duration("timeout", s.HandshakeTimeout),
		)
		c.closePending.Store(true)
		return true
	}
	if s.IdleTimeout <= 0 {
		return false
	}
	idle := now.Sub(time.Unix(0, c.idleStart.Load()))
	if idle <= s.IdleTimeout {
		return false
	}
	logging.Info("Closing idle connection",
		zap.String("remote_addr", c.remoteAddr),
		zap.Duration("idle", idle),
	)
	c.closePending.Store(true)
	return true
}

// RequestClose implements monitor.Connection
func (c *Connection) RequestClose() {
	if !c.closeRequested.CompareAndSwap(false, true) {
		return
	}
	if !c.owner.requestClose(c) {
		c.closeRequested.Store(false)
	}
}

// destroy unregisters the connection, waits for in-flight writers and
// closes the socket. It is safe to call more than once.
func (c *Connection) destroy() {
	c.destroyOnce.Do(func() {
		c.closePending.Store(true)
		c.monitor.Unsolicit(c.fd)
		message.Unregister(c.id)
		c.refs.drain()

		if err := c.socket.Close(); err != nil {
			logging.Debug("Socket close failed",
				zap.String("remote_addr", c.remoteAddr),
				zap.Error(err),
			)
		}
		if c.responses != nil {
			c.responses.Close()
		}
		logging.LogConnection(c.remoteAddr, "closed",
			zap.Int("fd", c.fd),
			zap.Uint64("requests", c.requestCount.Load()),
		)
	})
}

// IsActive reports whether the connection is still usable.
func (c *Connection) IsActive() bool {
	return !c.closePending.Load()
}

// NeedsReconnect reports whether a client connection must be replaced
// before the next request: it was closed by either side, or the peer sent
// data nobody asked for.
func (c *Connection) NeedsReconnect() bool {
	if c.closePending.Load() {
		return true
	}
	var b [1]byte
	_, err := c.socket.Peek(b[:])
	return !errors.Is(err, secure.ErrWouldBlock)
}

// RoundTrip sends a complete request and waits for the response. It is
// available on client connections created without an explicit sink.
func (c *Connection) RoundTrip(ctx context.Context, request []byte) (*protocol.Message, error) {
	if c.server || c.responses == nil {
		return nil, errors.New("round trip needs a client connection owning its responses")
	}
	msg := protocol.NewMessage(request)
	msg.QueueID = c.id
	if err := c.Enqueue(msg); err != nil {
		return nil, err
	}

	got, err := c.responses.Receive(ctx)
	if err != nil {
		if errors.Is(err, message.ErrQueueClosed) {
			return nil, ErrConnectionClosed
		}
		return nil, err
	}
	resp, ok := got.(*protocol.Message)
	if !ok {
		return nil, fmt.Errorf("unexpected %s message on response queue", got.Type())
	}
	if resp.IsEmpty() {
		return nil, &TransportError{
			Type:      ErrTypeClosed,
			Message:   "Server closed the connection",
			Addr:      c.remoteAddr,
			Retryable: true,
		}
	}
	return resp, nil
}
