package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/muurk/wbemd/internal/logging"
	"github.com/muurk/wbemd/internal/message"
	"github.com/muurk/wbemd/internal/monitor"
	"github.com/muurk/wbemd/internal/secure"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// AddressKind selects the socket family an Acceptor listens on.
type AddressKind int

const (
	AddressIPv4 AddressKind = iota
	AddressIPv6
	AddressLocal
)

// String returns a human-readable name for the address kind
func (k AddressKind) String() string {
	switch k {
	case AddressIPv4:
		return "ipv4"
	case AddressIPv6:
		return "ipv6"
	case AddressLocal:
		return "local"
	default:
		return fmt.Sprintf("AddressKind(%d)", int(k))
	}
}

// DefaultBacklog is the listen queue length used when none is configured.
const DefaultBacklog = 15

// closeRequestBuffer sizes the channel connections use to ask for removal.
const closeRequestBuffer = 64

// AcceptorConfig describes one listening endpoint.
type AcceptorConfig struct {
	Kind AddressKind
	// Host restricts an IP listener to one address; empty means any.
	Host string
	// Port 0 picks an ephemeral port, see Acceptor.PortNumber.
	Port int
	// LocalPath is the socket file of a local listener.
	LocalPath string
	Backlog   int

	// TLS switches accepted connections to HTTPS when set.
	TLS *tls.Config
	// EnableWeb accepts GET and HEAD requests.
	EnableWeb bool

	Settings *SettingsStore
}

// Address returns the endpoint in host:port or path form.
func (cfg AcceptorConfig) Address() string {
	if cfg.Kind == AddressLocal {
		return cfg.LocalPath
	}
	return net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
}

// Acceptor owns a listening socket and every connection accepted on it.
// The monitor delivers listen readiness to it through Enqueue.
type Acceptor struct {
	id      uint32
	cfg     AcceptorConfig
	monitor *monitor.Monitor
	sink    message.Queue

	mu       sync.Mutex
	listenFd int
	port     int

	connMu      sync.Mutex
	connections []*Connection

	closeRequests chan *Connection
	accepted      atomic.Uint64
	maxFd         int
}

// NewAcceptor creates an unbound acceptor. Complete requests read on its
// connections are delivered to sink.
func NewAcceptor(m *monitor.Monitor, sink message.Queue, cfg AcceptorConfig) *Acceptor {
	if cfg.Backlog <= 0 {
		cfg.Backlog = DefaultBacklog
	}
	if cfg.Settings == nil {
		cfg.Settings = NewSettingsStore(DefaultSettings())
	}
	a := &Acceptor{
		id:            message.NextQueueID(),
		cfg:           cfg,
		monitor:       m,
		sink:          sink,
		listenFd:      -1,
		port:          cfg.Port,
		closeRequests: make(chan *Connection, closeRequestBuffer),
		maxFd:         openFileLimit(),
	}
	message.Register(a)
	return a
}

func openFileLimit() int {
	var rl unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_NOFILE, &rl); err != nil || rl.Cur > 1<<30 {
		return 1 << 30
	}
	return int(rl.Cur)
}

// QueueID implements message.Queue
func (a *Acceptor) QueueID() uint32 { return a.id }

// Enqueue implements message.Queue. A socket message means the listening
// socket is readable; a close message names a connection to drop.
func (a *Acceptor) Enqueue(msg message.Message) error {
	switch m := msg.(type) {
	case *message.SocketMessage:
		a.acceptConnection()
		return nil
	case *message.CloseConnectionMessage:
		a.closeConnectionFd(m.Fd)
		return nil
	default:
		return fmt.Errorf("acceptor: unexpected %s message", msg.Type())
	}
}

// Config returns the endpoint configuration.
func (a *Acceptor) Config() AcceptorConfig { return a.cfg }

// Bind creates the listening socket and registers it with the monitor.
func (a *Acceptor) Bind() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.listenFd >= 0 {
		return nil
	}
	return a.bindLocked()
}

func (a *Acceptor) bindLocked() error {
	addr := a.cfg.Address()
	fail := func(step string, fd int, err error) error {
		if fd >= 0 {
			unix.Close(fd)
		}
		logging.Error("Failed to bind",
			zap.String("address", addr),
			zap.String("step", step),
			zap.Error(err),
		)
		return &BindError{Step: step, Addr: addr, Err: err}
	}

	domain, sa, err := a.sockaddr()
	if err != nil {
		return fail("resolve address", -1, err)
	}
	if a.cfg.Kind == AddressLocal {
		if err := os.Remove(a.cfg.LocalPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fail("remove stale socket file", -1, err)
		}
	}

	fd, err := unix.Socket(domain, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return fail("create socket", -1, err)
	}
	if a.cfg.Kind != AddressLocal {
		if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
			return fail("set SO_REUSEADDR", fd, err)
		}
	}
	if a.cfg.Kind == AddressIPv6 {
		if err := unix.SetsockoptInt(fd, unix.IPPROTO_IPV6, unix.IPV6_V6ONLY, 1); err != nil {
			return fail("set IPV6_V6ONLY", fd, err)
		}
	}
	if err := unix.Bind(fd, sa); err != nil {
		return fail("bind", fd, err)
	}

	port := a.cfg.Port
	if a.cfg.Kind != AddressLocal && port == 0 {
		bound, err := unix.Getsockname(fd)
		if err != nil {
			return fail("get socket name", fd, err)
		}
		switch s := bound.(type) {
		case *unix.SockaddrInet4:
			port = s.Port
		case *unix.SockaddrInet6:
			port = s.Port
		}
	}

	if a.cfg.Kind == AddressLocal {
		if err := os.Chmod(a.cfg.LocalPath, 0o777); err != nil {
			return fail("set socket file permissions", fd, err)
		}
	}
	if err := unix.Listen(fd, a.cfg.Backlog); err != nil {
		return fail("listen", fd, err)
	}
	if _, err := a.monitor.Solicit(fd, a.id, monitor.KindAcceptor); err != nil {
		return fail("solicit socket", fd, err)
	}

	a.listenFd = fd
	a.port = port
	logging.Info("Listening",
		zap.String("kind", a.cfg.Kind.String()),
		zap.String("address", addr),
		zap.Int("port", port),
		zap.Bool("tls", a.cfg.TLS != nil),
	)
	return nil
}

func (a *Acceptor) sockaddr() (int, unix.Sockaddr, error) {
	switch a.cfg.Kind {
	case AddressLocal:
		if a.cfg.LocalPath == "" {
			return 0, nil, errors.New("no local socket path configured")
		}
		return unix.AF_UNIX, &unix.SockaddrUnix{Name: a.cfg.LocalPath}, nil

	case AddressIPv4:
		sa := &unix.SockaddrInet4{Port: a.cfg.Port}
		if a.cfg.Host != "" {
			ip := net.ParseIP(a.cfg.Host).To4()
			if ip == nil {
				return 0, nil, fmt.Errorf("%q is not an IPv4 address", a.cfg.Host)
			}
			copy(sa.Addr[:], ip)
		}
		return unix.AF_INET, sa, nil

	case AddressIPv6:
		sa := &unix.SockaddrInet6{Port: a.cfg.Port}
		if a.cfg.Host != "" {
			ip := net.ParseIP(a.cfg.Host)
			if ip == nil || ip.To4() != nil {
				return 0, nil, fmt.Errorf("%q is not an IPv6 address", a.cfg.Host)
			}
			copy(sa.Addr[:], ip.To16())
		}
		return unix.AF_INET6, sa, nil
	}
	return 0, nil, fmt.Errorf("unknown address kind %d", a.cfg.Kind)
}

// PortNumber returns the bound port, which differs from the configured one
// when port 0 was requested.
func (a *Acceptor) PortNumber() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.port
}

// IsBound reports whether the listening socket is open.
func (a *Acceptor) IsBound() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.listenFd >= 0
}

// CloseListenSocket stops accepting without touching established
// connections.
func (a *Acceptor) CloseListenSocket() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closeListenLocked()
}

func (a *Acceptor) closeListenLocked() {
	if a.listenFd < 0 {
		return
	}
	a.monitor.Unsolicit(a.listenFd)
	unix.Close(a.listenFd)
	a.listenFd = -1
	if a.cfg.Kind == AddressLocal {
		os.Remove(a.cfg.LocalPath)
	}
	logging.Info("Listening socket closed", zap.String("address", a.cfg.Address()))
}

// ReopenListenSocket binds again after CloseListenSocket.
func (a *Acceptor) ReopenListenSocket() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.listenFd >= 0 {
		return nil
	}
	return a.bindLocked()
}

// Unbind closes the listening socket and forgets the bound port.
func (a *Acceptor) Unbind() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closeListenLocked()
	a.port = 0
}

// acceptConnection accepts one pending connection.
func (a *Acceptor) acceptConnection() {
	a.mu.Lock()
	lfd := a.listenFd
	a.mu.Unlock()
	if lfd < 0 {
		return
	}

	fd, sa, err := unix.Accept4(lfd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
	if err != nil {
		if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EINTR) || errors.Is(err, unix.ECONNABORTED) {
			return
		}
		logging.Error("accept() failed",
			zap.String("address", a.cfg.Address()),
			zap.Error(err),
		)
		return
	}
	if fd >= a.maxFd {
		logging.Error("Too many open sockets, dropping connection",
			zap.Int("fd", fd),
			zap.Int("limit", a.maxFd),
		)
		unix.Close(fd)
		return
	}

	remote := peerAddress(sa)
	settings := a.cfg.Settings.Load()
	ready := new(atomic.Bool)

	var sock secure.Socket
	if a.cfg.TLS != nil {
		sock = secure.NewTLSServerSocket(fd, remote, a.cfg.TLS,
			secure.WithHandshakeTimeout(settings.HandshakeTimeout),
			secure.WithHandshakeCallback(func(secure.HandshakeState) {
				ready.Store(true)
				a.monitor.Tickle()
			}),
		)
	} else {
		sock = secure.NewPlainSocket(fd, remote)
	}

	state, err := sock.Accept()
	if state == secure.HandshakeFailed {
		logging.Warn("Connection rejected during accept",
			zap.String("remote_addr", remote),
			zap.Error(err),
		)
		sock.Close()
		return
	}

	conn := newConnection(connConfig{
		socket:         sock,
		monitor:        a.monitor,
		owner:          a,
		sink:           a.sink,
		settings:       a.cfg.Settings,
		server:         true,
		enableWeb:      a.cfg.EnableWeb,
		handshakeReady: ready,
	})
	if state == secure.HandshakePending {
		conn.acceptStart.Store(time.Now().UnixNano())
		conn.acceptPending.Store(true)
	}

	h, err := a.monitor.Solicit(fd, conn.id, monitor.KindConnection)
	if err != nil {
		logging.Error("Failed to watch accepted connection",
			zap.String("remote_addr", remote),
			zap.Error(err),
		)
		sock.Close()
		return
	}

	a.connMu.Lock()
	a.connections = append(a.connections, conn)
	a.connMu.Unlock()
	conn.activate(h)
	a.accepted.Add(1)

	logging.LogConnection(remote, "accepted",
		zap.Int("fd", fd),
		zap.String("listener", a.cfg.Address()),
		zap.Bool("tls", sock.IsSecure()),
	)
}

func peerAddress(sa unix.Sockaddr) string {
	switch s := sa.(type) {
	case *unix.SockaddrInet4:
		return net.IP(s.Addr[:]).String()
	case *unix.SockaddrInet6:
		return net.IP(s.Addr[:]).String()
	default:
		return "localhost"
	}
}

// requestClose implements owner
func (a *Acceptor) requestClose(c *Connection) bool {
	select {
	case a.closeRequests <- c:
		return true
	default:
		return false
	}
}

// Run removes connections that asked to be closed until ctx is done.
func (a *Acceptor) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case c := <-a.closeRequests:
			a.removeConnection(c)
		}
	}
}

func (a *Acceptor) removeConnection(c *Connection) {
	a.connMu.Lock()
	for i, conn := range a.connections {
		if conn == c {
			a.connections = append(a.connections[:i], a.connections[i+1:]...)
			break
		}
	}
	a.connMu.Unlock()
	c.destroy()
}

func (a *Acceptor) closeConnectionFd(fd int) {
	a.connMu.Lock()
	var target *Connection
	for _, conn := range a.connections {
		if conn.fd == fd {
			target = conn
			break
		}
	}
	a.connMu.Unlock()
	if target != nil {
		a.removeConnection(target)
	}
}

// Connections returns a snapshot of the live connections.
func (a *Acceptor) Connections() []*Connection {
	a.connMu.Lock()
	defer a.connMu.Unlock()
	return append([]*Connection(nil), a.connections...)
}

// AcceptedCount returns the number of connections accepted so far.
func (a *Acceptor) AcceptedCount() uint64 { return a.accepted.Load() }

// OutstandingRequestCount returns the number of connections with a
// response in flight.
func (a *Acceptor) OutstandingRequestCount() int {
	a.connMu.Lock()
	defer a.connMu.Unlock()
	n := 0
	for _, c := range a.connections {
		if c.ResponsePending() {
			n++
		}
	}
	return n
}

// DestroyAllConnections removes every connection, waiting for writers that
// are still working on them.
func (a *Acceptor) DestroyAllConnections() {
	a.connMu.Lock()
	defer a.connMu.Unlock()
	for _, c := range a.connections {
		c.destroy()
	}
	a.connections = nil
}

// Close unbinds, destroys all connections and leaves the registry.
func (a *Acceptor) Close() {
	a.Unbind()
	a.DestroyAllConnections()
	message.Unregister(a.id)
}
