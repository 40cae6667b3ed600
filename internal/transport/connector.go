package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/muurk/wbemd/internal/logging"
	"github.com/muurk/wbemd/internal/message"
	"github.com/muurk/wbemd/internal/monitor"
	"github.com/muurk/wbemd/internal/secure"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// DefaultConnectTimeout applies when the caller's context has no deadline.
const DefaultConnectTimeout = 30 * time.Second

// Target names the server a Connector connects to.
type Target struct {
	// Host is a name or address. Empty selects the local socket.
	Host      string
	Port      int
	LocalPath string
	// TLS switches to HTTPS when set. ServerName defaults to Host.
	TLS *tls.Config
}

// Address returns the target in host:port or path form.
func (t Target) Address() string {
	if t.Host == "" {
		return t.LocalPath
	}
	return net.JoinHostPort(t.Host, strconv.Itoa(t.Port))
}

// Connector establishes outbound connections and owns them until they are
// disconnected.
type Connector struct {
	monitor  *monitor.Monitor
	settings *SettingsStore

	mu          sync.Mutex
	connections map[*Connection]struct{}

	closeRequests chan *Connection
}

// NewConnector creates a connector whose connections are watched by m.
func NewConnector(m *monitor.Monitor, settings *SettingsStore) *Connector {
	if settings == nil {
		settings = NewSettingsStore(DefaultSettings())
	}
	return &Connector{
		monitor:       m,
		settings:      settings,
		connections:   make(map[*Connection]struct{}),
		closeRequests: make(chan *Connection, closeRequestBuffer),
	}
}

// Connect opens a connection to t. Responses are delivered to sink; with a
// nil sink the connection keeps them for Connection.RoundTrip. The whole
// attempt, TLS handshake included, is bounded by ctx or by
// DefaultConnectTimeout.
func (cn *Connector) Connect(ctx context.Context, t Target, sink message.Queue) (*Connection, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultConnectTimeout)
		defer cancel()
	}

	fd, remote, err := cn.dial(ctx, t)
	if err != nil {
		logging.Debug("Connect failed",
			zap.String("address", t.Address()),
			zap.Error(err),
		)
		return nil, ClassifyConnectError(err, t.Address())
	}

	var sock secure.Socket
	if t.TLS != nil {
		cfg := t.TLS
		if cfg.ServerName == "" && !cfg.InsecureSkipVerify && t.Host != "" {
			cfg = cfg.Clone()
			cfg.ServerName = t.Host
		}
		ts := secure.NewTLSClientSocket(fd, remote, cfg)
		if err := ts.Connect(ctx); err != nil {
			ts.Close()
			return nil, NewHandshakeError(t.Address(), err)
		}
		sock = ts
	} else {
		sock = secure.NewPlainSocket(fd, remote)
	}

	conn := newConnection(connConfig{
		socket:   sock,
		monitor:  cn.monitor,
		owner:    cn,
		sink:     sink,
		settings: cn.settings,
	})
	h, err := cn.monitor.Solicit(fd, conn.id, monitor.KindConnection)
	if err != nil {
		sock.Close()
		if conn.responses != nil {
			conn.responses.Close()
		}
		return nil, &TransportError{
			Type:    ErrTypeConnect,
			Message: "Failed to watch connection",
			Addr:    t.Address(),
			Err:     err,
		}
	}

	cn.mu.Lock()
	cn.connections[conn] = struct{}{}
	cn.mu.Unlock()
	conn.activate(h)

	logging.LogConnection(remote, "connected",
		zap.Int("fd", fd),
		zap.Bool("tls", sock.IsSecure()),
	)
	return conn, nil
}

// dial returns a connected non-blocking socket.
func (cn *Connector) dial(ctx context.Context, t Target) (int, string, error) {
	if t.Host == "" {
		if t.LocalPath == "" {
			return -1, "", errors.New("no host and no local socket path given")
		}
		fd, err := connectFd(ctx, unix.AF_UNIX, &unix.SockaddrUnix{Name: t.LocalPath})
		return fd, "localhost", err
	}

	addrs, err := net.DefaultResolver.LookupIPAddr(ctx, t.Host)
	if err != nil {
		return -1, "", err
	}
	var lastErr error
	for _, addr := range addrs {
		var (
			domain int
			sa     unix.Sockaddr
		)
		if ip4 := addr.IP.To4(); ip4 != nil {
			s := &unix.SockaddrInet4{Port: t.Port}
			copy(s.Addr[:], ip4)
			domain, sa = unix.AF_INET, s
		} else {
			s := &unix.SockaddrInet6{Port: t.Port}
			copy(s.Addr[:], addr.IP.To16())
			domain, sa = unix.AF_INET6, s
		}
		fd, err := connectFd(ctx, domain, sa)
		if err == nil {
			return fd, addr.IP.String(), nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no addresses found for %s", t.Host)
	}
	return -1, "", lastErr
}

// connectFd performs a non-blocking connect and waits for it to finish
// within ctx.
func connectFd(ctx context.Context, domain int, sa unix.Sockaddr) (int, error) {
	fd, err := unix.Socket(domain, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return -1, fmt.Errorf("socket: %w", err)
	}

	err = unix.Connect(fd, sa)
	if err == nil {
		return fd, nil
	}
	if !errors.Is(err, unix.EINPROGRESS) && !errors.Is(err, unix.EINTR) && !errors.Is(err, unix.EAGAIN) {
		unix.Close(fd)
		return -1, fmt.Errorf("connect: %w", err)
	}

	deadline, _ := ctx.Deadline()
	for {
		wait := time.Until(deadline)
		if wait <= 0 || ctx.Err() != nil {
			unix.Close(fd)
			return -1, fmt.Errorf("connect: %w", unix.ETIMEDOUT)
		}
		fds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLOUT}}
		n, err := unix.Poll(fds, int(min(wait, 100*time.Millisecond)/time.Millisecond)+1)
		if err != nil && !errors.Is(err, unix.EINTR) {
			unix.Close(fd)
			return -1, fmt.Errorf("poll: %w", err)
		}
		if n > 0 {
			break
		}
	}

	soErr, err := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_ERROR)
	if err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("getsockopt: %w", err)
	}
	if soErr != 0 {
		unix.Close(fd)
		return -1, fmt.Errorf("connect: %w", unix.Errno(soErr))
	}
	return fd, nil
}

// requestClose implements owner
func (cn *Connector) requestClose(c *Connection) bool {
	select {
	case cn.closeRequests <- c:
		return true
	default:
		return false
	}
}

// Run closes connections the monitor gave up on until ctx is done. The
// Connection objects stay with the caller, who sees NeedsReconnect.
func (cn *Connector) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case c := <-cn.closeRequests:
			c.destroy()
		}
	}
}

// Disconnect closes c and forgets it.
func (cn *Connector) Disconnect(c *Connection) {
	cn.mu.Lock()
	delete(cn.connections, c)
	cn.mu.Unlock()
	c.destroy()
}

// Close disconnects every connection.
func (cn *Connector) Close() {
	cn.mu.Lock()
	conns := make([]*Connection, 0, len(cn.connections))
	for c := range cn.connections {
		conns = append(conns, c)
	}
	cn.connections = make(map[*Connection]struct{})
	cn.mu.Unlock()
	for _, c := range conns {
		c.destroy()
	}
}
