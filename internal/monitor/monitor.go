package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/muurk/wbemd/internal/logging"
	"github.com/muurk/wbemd/internal/message"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// initialEntries is the table size allocated at construction.
const initialEntries = 32

var (
	// ErrAlreadySolicited is returned when a socket is registered twice.
	ErrAlreadySolicited = errors.New("socket already solicited")
	// ErrStaleHandle is returned for a handle whose entry was removed.
	ErrStaleHandle = errors.New("stale monitor handle")
)

// Connection is the view of a transport connection the monitor needs. The
// monitor finds it by looking up the entry's queue id in the message
// registry. All methods except RequestClose are called with the monitor
// lock held, so they must not call back into the monitor.
type Connection interface {
	message.Queue

	// Pollable reports whether the socket may be put into the poll set.
	// It is false while a handshake runs outside the monitor loop.
	Pollable() bool
	// TakeReady reports, once, that the connection became readable
	// without the socket signalling it.
	TakeReady() bool
	// Touch records activity at now.
	Touch(now time.Time)
	// HandleReadable consumes available input.
	HandleReadable(now time.Time) Outcome
	// CloseOnTimeout closes the connection if its handshake or idle
	// deadline passed, and reports whether it did.
	CloseOnTimeout(now time.Time) bool
	// ResponsePending reports whether a response is still being written.
	ResponsePending() bool
	// RequestClose asks the connection's owner to remove and destroy it.
	// It must not block and may be called repeatedly.
	RequestClose()
}

// Monitor is the readiness table. One goroutine calls Run repeatedly;
// other goroutines register sockets and change entry states.
type Monitor struct {
	mu      sync.Mutex
	entries []Entry
	tickler *Tickler
	lookup  func(queueID uint32) message.Queue

	stopRequested bool
	stopDone      []chan struct{}

	// scratch buffers owned by the Run goroutine
	pollFds     []unix.PollFd
	pollHandles []Handle
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithLookup replaces the message registry used to resolve queue ids.
func WithLookup(fn func(queueID uint32) message.Queue) Option {
	return func(m *Monitor) { m.lookup = fn }
}

// New creates a monitor whose first entry is its tickler.
func New(opts ...Option) (*Monitor, error) {
	t, err := NewTickler()
	if err != nil {
		return nil, err
	}
	m := &Monitor{
		entries: make([]Entry, 1, initialEntries),
		tickler: t,
		lookup:  message.Lookup,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.entries[0] = Entry{Fd: t.Fd(), Status: StatusIdle, Kind: KindTickler, gen: 1}
	return m, nil
}

// Close releases the tickler. Run must not be called afterwards.
func (m *Monitor) Close() error {
	return m.tickler.Close()
}

// Tickle forces a pending or future Run pass to return promptly.
func (m *Monitor) Tickle() { m.tickler.Tickle() }

// Solicit registers interest in fd. Exactly one entry may exist per socket.
func (m *Monitor) Solicit(fd int, queueID uint32, kind Kind) (Handle, error) {
	m.mu.Lock()
	h, err := m.solicitLocked(fd, queueID, kind)
	m.mu.Unlock()
	if err != nil {
		return Handle{}, err
	}

	logging.Debug("Socket solicited",
		zap.Int("fd", fd),
		zap.Uint32("queue_id", queueID),
		zap.String("kind", kind.String()),
		zap.Int("index", h.Index),
	)
	m.Tickle()
	return h, nil
}

func (m *Monitor) solicitLocked(fd int, queueID uint32, kind Kind) (Handle, error) {
	if fd < 0 {
		return Handle{}, fmt.Errorf("invalid socket %d", fd)
	}
	slot := -1
	for i := range m.entries {
		e := &m.entries[i]
		if e.Status == StatusEmpty {
			if slot < 0 {
				slot = i
			}
			continue
		}
		if e.Fd == fd {
			return Handle{}, fmt.Errorf("%w: fd %d", ErrAlreadySolicited, fd)
		}
	}
	if slot < 0 {
		m.entries = append(m.entries, Entry{})
		slot = len(m.entries) - 1
	}

	e := &m.entries[slot]
	e.gen++
	e.Fd = fd
	e.QueueID = queueID
	e.Kind = kind
	e.Status = StatusIdle
	return Handle{Index: slot, Gen: e.gen}, nil
}

// Unsolicit removes the entry for fd. Afterwards no entry references fd.
func (m *Monitor) Unsolicit(fd int) {
	m.mu.Lock()
	found := false
	for i := 1; i < len(m.entries); i++ {
		e := &m.entries[i]
		if e.Status != StatusEmpty && e.Fd == fd {
			e.Status = StatusEmpty
			e.Fd = -1
			e.QueueID = 0
			found = true
			break
		}
	}
	m.compactLocked()
	m.mu.Unlock()

	if found {
		logging.Debug("Socket unsolicited", zap.Int("fd", fd))
		m.Tickle()
	}
}

// compactLocked drops empty entries from the tail of the table.
func (m *Monitor) compactLocked() {
	n := len(m.entries)
	for n > 1 && m.entries[n-1].Status == StatusEmpty {
		n--
	}
	m.entries = m.entries[:n]
}

// SetState changes the status of the entry behind h and wakes Run so the
// poll set is rebuilt.
func (m *Monitor) SetState(h Handle, status Status) error {
	m.mu.Lock()
	e, ok := m.entryLocked(h)
	if ok {
		e.Status = status
	}
	m.mu.Unlock()
	if !ok {
		return ErrStaleHandle
	}
	m.Tickle()
	return nil
}

func (m *Monitor) entryLocked(h Handle) (*Entry, bool) {
	if h.Index <= 0 || h.Index >= len(m.entries) {
		return nil, false
	}
	e := &m.entries[h.Index]
	if e.gen != h.Gen || e.Status == StatusEmpty {
		return nil, false
	}
	return e, true
}

// Entries returns a copy of the live entries.
func (m *Monitor) Entries() []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Entry, 0, len(m.entries))
	for _, e := range m.entries {
		if e.Status != StatusEmpty {
			out = append(out, e)
		}
	}
	return out
}

// State returns the status of the entry behind h.
func (m *Monitor) State(h Handle) (Status, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entryLocked(h)
	if !ok {
		return StatusEmpty, false
	}
	return e.Status, true
}

// RequestShutdown asks the next Run pass to retire every acceptor entry.
// With wait set it blocks until that pass ran.
func (m *Monitor) RequestShutdown(wait bool) {
	done := make(chan struct{})
	m.mu.Lock()
	m.stopRequested = true
	m.stopDone = append(m.stopDone, done)
	m.mu.Unlock()
	m.Tickle()
	if wait {
		<-done
	}
}

func (m *Monitor) connectionLocked(queueID uint32) Connection {
	q := m.lookup(queueID)
	if q == nil {
		return nil
	}
	c, _ := q.(Connection)
	return c
}

// Run performs one multiplexing pass, waiting up to timeout for readiness.
func (m *Monitor) Run(timeout time.Duration) error {
	m.mu.Lock()

	// Dying connections go back to their owner once no response is in
	// flight. A dying acceptor was busy when retired and is released now.
	for i := range m.entries {
		e := &m.entries[i]
		if e.Status != StatusDying {
			continue
		}
		if e.Kind == KindAcceptor {
			releaseLocked(e)
			continue
		}
		if e.Kind != KindConnection {
			continue
		}
		c := m.connectionLocked(e.QueueID)
		if c == nil {
			continue
		}
		if !c.ResponsePending() {
			c.RequestClose()
		}
	}

	// A busy acceptor retired here stays dying until the next sweep.
	if m.stopRequested {
		m.retireAcceptorsLocked()
	}

	m.pollFds = m.pollFds[:0]
	m.pollHandles = m.pollHandles[:0]
	var readyWithoutPoll []Handle
	for i := range m.entries {
		e := &m.entries[i]
		if e.Status != StatusIdle {
			continue
		}
		h := Handle{Index: i, Gen: e.gen}
		if e.Kind == KindConnection {
			c := m.connectionLocked(e.QueueID)
			if c == nil {
				continue
			}
			if c.TakeReady() {
				readyWithoutPoll = append(readyWithoutPoll, h)
			}
			if !c.Pollable() {
				continue
			}
		}
		m.pollFds = append(m.pollFds, unix.PollFd{Fd: int32(e.Fd), Events: unix.POLLIN})
		m.pollHandles = append(m.pollHandles, h)
	}
	if len(readyWithoutPoll) > 0 {
		timeout = 0
	}

	m.mu.Unlock()
	n, err := unix.Poll(m.pollFds, pollTimeout(timeout))
	m.mu.Lock()
	defer m.mu.Unlock()

	if err != nil {
		if !errors.Is(err, unix.EINTR) {
			logging.Error("Poll failed", zap.Error(err))
			return fmt.Errorf("poll failed: %w", err)
		}
		n = 0
	}

	now := time.Now()
	visited := make(map[int]bool, n+len(readyWithoutPoll))

	if n > 0 {
		for k := range m.pollFds {
			if m.pollFds[k].Revents == 0 {
				continue
			}
			h := m.pollHandles[k]
			visited[h.Index] = true
			m.dispatchLocked(h, now)
		}
	}
	for _, h := range readyWithoutPoll {
		if visited[h.Index] {
			continue
		}
		visited[h.Index] = true
		m.dispatchLocked(h, now)
	}

	// Timers run even without readiness.
	for i := range m.entries {
		e := &m.entries[i]
		if e.Status != StatusIdle || e.Kind != KindConnection || visited[i] {
			continue
		}
		c := m.connectionLocked(e.QueueID)
		if c != nil && c.CloseOnTimeout(now) {
			e.Status = StatusDying
		}
	}
	return nil
}

// dispatchLocked handles one ready entry. The table may be modified while
// the lock is released for a queue delivery, so h is revalidated.
func (m *Monitor) dispatchLocked(h Handle, now time.Time) {
	if h.Index == 0 {
		m.tickler.Drain()
		return
	}
	e, ok := m.entryLocked(h)
	if !ok || e.Status != StatusIdle {
		return
	}

	switch e.Kind {
	case KindConnection:
		c := m.connectionLocked(e.QueueID)
		if c == nil {
			return
		}
		c.Touch(now)
		if c.CloseOnTimeout(now) {
			e.Status = StatusDying
			return
		}
		switch c.HandleReadable(now) {
		case OutcomeBusy:
			e.Status = StatusBusy
		case OutcomeClose:
			e.Status = StatusDying
		}

	default:
		q := m.lookup(e.QueueID)
		if q == nil {
			return
		}
		fd := e.Fd
		e.Status = StatusBusy
		m.mu.Unlock()
		err := q.Enqueue(&message.SocketMessage{Fd: fd, Events: message.EventRead})
		m.mu.Lock()
		if err != nil {
			logging.Warn("Failed to deliver socket readiness",
				zap.Int("fd", fd),
				zap.Uint32("queue_id", q.QueueID()),
				zap.Error(err),
			)
		}
		if e, ok := m.entryLocked(h); ok {
			switch e.Status {
			case StatusBusy:
				e.Status = StatusIdle
			case StatusDying:
				releaseLocked(e)
			}
		}
	}
}

// retireAcceptorsLocked stops watching listening sockets: idle ones are
// released, busy ones are marked dying.
func (m *Monitor) retireAcceptorsLocked() {
	for i := range m.entries {
		e := &m.entries[i]
		if e.Kind != KindAcceptor {
			continue
		}
		switch e.Status {
		case StatusIdle, StatusDying:
			releaseLocked(e)
		case StatusBusy:
			e.Status = StatusDying
		}
	}
	m.stopRequested = false
	for _, done := range m.stopDone {
		close(done)
	}
	m.stopDone = nil
	logging.Info("Monitor stopped accepting connections")
}

// releaseLocked frees an acceptor entry for reuse.
func releaseLocked(e *Entry) {
	e.Status = StatusEmpty
	e.Fd = -1
}

// Serve runs passes until ctx is done.
func (m *Monitor) Serve(ctx context.Context, timeout time.Duration) error {
	stop := context.AfterFunc(ctx, m.Tickle)
	defer stop()
	for ctx.Err() == nil {
		if err := m.Run(timeout); err != nil {
			return err
		}
	}
	return nil
}

func pollTimeout(d time.Duration) int {
	if d < 0 {
		return -1
	}
	ms := int(d / time.Millisecond)
	if ms == 0 && d > 0 {
		ms = 1
	}
	return ms
}
