package monitor

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

// Tickler is a loopback byte channel whose read end sits in every poll set,
// so a single byte written to it wakes the monitor.
type Tickler struct {
	readFd  int
	writeFd int
}

// NewTickler creates the socket pair.
func NewTickler() (*Tickler, error) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to create tickler socket pair: %w", err)
	}
	return &Tickler{readFd: fds[0], writeFd: fds[1]}, nil
}

// Fd returns the descriptor to poll.
func (t *Tickler) Fd() int { return t.readFd }

// Tickle wakes the monitor. A full channel already guarantees a wake-up, so
// EAGAIN is ignored.
func (t *Tickler) Tickle() {
	for {
		_, err := unix.Write(t.writeFd, []byte{0})
		if !errors.Is(err, unix.EINTR) {
			return
		}
	}
}

// Drain consumes all pending wake-up bytes.
func (t *Tickler) Drain() {
	var buf [64]byte
	for {
		n, err := unix.Read(t.readFd, buf[:])
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil || n < len(buf) {
			return
		}
	}
}

// Close releases both ends.
func (t *Tickler) Close() error {
	return errors.Join(unix.Close(t.readFd), unix.Close(t.writeFd))
}
