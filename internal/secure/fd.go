package secure

import (
	"errors"
	"io"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"
)

// ErrWouldBlock is returned by non-blocking reads when no data is available.
// It is a temporary net.Error, so crypto/tls keeps the connection usable
// after seeing it.
var ErrWouldBlock net.Error = &wouldBlockError{}

type wouldBlockError struct{}

func (*wouldBlockError) Error() string   { return "operation would block" }
func (*wouldBlockError) Timeout() bool   { return true }
func (*wouldBlockError) Temporary() bool { return true }

// waitSlice bounds a single poll while a blocking operation waits, so that
// an interrupt is noticed promptly.
const waitSlice = 100 * time.Millisecond

// waitFd polls fd for events for up to timeout. A negative timeout waits
// forever.
func waitFd(fd int, events int16, timeout time.Duration) (bool, error) {
	ms := -1
	if timeout >= 0 {
		ms = int(timeout / time.Millisecond)
		if ms == 0 && timeout > 0 {
			ms = 1
		}
	}
	fds := []unix.PollFd{{Fd: int32(fd), Events: events}}
	for {
		n, err := unix.Poll(fds, ms)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil {
			return false, err
		}
		return n > 0, nil
	}
}

// readFd performs one non-blocking read.
func readFd(fd int, p []byte) (int, error) {
	for {
		n, err := unix.Read(fd, p)
		switch {
		case errors.Is(err, unix.EINTR):
			continue
		case errors.Is(err, unix.EAGAIN):
			return 0, ErrWouldBlock
		case err != nil:
			return 0, err
		case n == 0 && len(p) > 0:
			return 0, io.EOF
		}
		return n, nil
	}
}

// peekFd reads without consuming and without blocking.
func peekFd(fd int, p []byte) (int, error) {
	for {
		n, _, err := unix.Recvfrom(fd, p, unix.MSG_PEEK|unix.MSG_DONTWAIT)
		switch {
		case errors.Is(err, unix.EINTR):
			continue
		case errors.Is(err, unix.EAGAIN):
			return 0, ErrWouldBlock
		case err != nil:
			return 0, err
		case n == 0 && len(p) > 0:
			return 0, io.EOF
		}
		return n, nil
	}
}

// fdAddr is the textual peer address of a raw socket.
type fdAddr string

func (a fdAddr) Network() string { return "tcp" }
func (a fdAddr) String() string  { return string(a) }

// fdConn adapts a raw non-blocking descriptor to net.Conn so crypto/tls can
// run on top of it. Reads block until their deadline unless nonblocking is
// set, in which case they return ErrWouldBlock.
type fdConn struct {
	fd     int
	remote fdAddr

	nonblocking atomic.Bool
	interrupted atomic.Bool
	rawRead     atomic.Int64

	mu            sync.Mutex
	readDeadline  time.Time
	writeDeadline time.Time

	closeOnce sync.Once
	closeErr  error
}

func newFdConn(fd int, remote string) *fdConn {
	return &fdConn{fd: fd, remote: fdAddr(remote)}
}

func (c *fdConn) deadlines() (time.Time, time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.readDeadline, c.writeDeadline
}

// remaining returns how long a blocking wait may last, bounded by
// waitSlice, and false once the deadline passed.
func remaining(deadline time.Time) (time.Duration, bool) {
	if deadline.IsZero() {
		return waitSlice, true
	}
	left := time.Until(deadline)
	if left <= 0 {
		return 0, false
	}
	return min(left, waitSlice), true
}

func (c *fdConn) Read(p []byte) (int, error) {
	for {
		if c.interrupted.Load() {
			return 0, net.ErrClosed
		}
		n, err := readFd(c.fd, p)
		if err == nil {
			c.rawRead.Add(int64(n))
			return n, nil
		}
		if !errors.Is(err, ErrWouldBlock) || c.nonblocking.Load() {
			return 0, err
		}
		deadline, _ := c.deadlines()
		wait, ok := remaining(deadline)
		if !ok {
			return 0, os.ErrDeadlineExceeded
		}
		if _, err := waitFd(c.fd, unix.POLLIN, wait); err != nil {
			return 0, err
		}
	}
}

func (c *fdConn) Write(p []byte) (int, error) {
	written := 0
	for written < len(p) {
		if c.interrupted.Load() {
			return written, net.ErrClosed
		}
		n, err := unix.SendmsgN(c.fd, p[written:], nil, nil, unix.MSG_NOSIGNAL)
		if n > 0 {
			written += n
		}
		switch {
		case err == nil, errors.Is(err, unix.EINTR):
			continue
		case errors.Is(err, unix.EAGAIN):
			_, deadline := c.deadlines()
			wait, ok := remaining(deadline)
			if !ok {
				return written, os.ErrDeadlineExceeded
			}
			if _, err := waitFd(c.fd, unix.POLLOUT, wait); err != nil {
				return written, err
			}
		default:
			return written, err
		}
	}
	return written, nil
}

// interrupt makes blocked and future reads and writes fail without closing
// the descriptor.
func (c *fdConn) interrupt() { c.interrupted.Store(true) }

func (c *fdConn) Close() error {
	c.closeOnce.Do(func() {
		c.interrupt()
		c.closeErr = unix.Close(c.fd)
	})
	return c.closeErr
}

func (c *fdConn) LocalAddr() net.Addr  { return fdAddr("") }
func (c *fdConn) RemoteAddr() net.Addr { return c.remote }

func (c *fdConn) SetDeadline(t time.Time) error {
	c.mu.Lock()
	c.readDeadline, c.writeDeadline = t, t
	c.mu.Unlock()
	return nil
}

func (c *fdConn) SetReadDeadline(t time.Time) error {
	c.mu.Lock()
	c.readDeadline = t
	c.mu.Unlock()
	return nil
}

func (c *fdConn) SetWriteDeadline(t time.Time) error {
	c.mu.Lock()
	c.writeDeadline = t
	c.mu.Unlock()
	return nil
}

// writeDeadlineFrom sets the write deadline to timeout from now, or clears
// it when timeout is zero.
func (c *fdConn) writeDeadlineFrom(timeout time.Duration) {
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	_ = c.SetWriteDeadline(deadline)
}
