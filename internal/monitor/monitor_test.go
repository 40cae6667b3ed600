package monitor

import (
	"sync"
	"testing"
	"time"

	"github.com/muurk/wbemd/internal/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

type fakeConn struct {
	id uint32

	mu              sync.Mutex
	pollable        bool
	ready           bool
	outcome         Outcome
	deadline        time.Time
	responsePending bool
	readable        int
	closeRequests   int
	touched         time.Time
}

func (f *fakeConn) QueueID() uint32                   { return f.id }
func (f *fakeConn) Enqueue(msg message.Message) error { return nil }

func (f *fakeConn) Pollable() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pollable
}

func (f *fakeConn) TakeReady() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	r := f.ready
	f.ready = false
	return r
}

func (f *fakeConn) Touch(now time.Time) {
	f.mu.Lock()
	f.touched = now
	f.mu.Unlock()
}

func (f *fakeConn) HandleReadable(now time.Time) Outcome {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.readable++
	return f.outcome
}

func (f *fakeConn) CloseOnTimeout(now time.Time) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.deadline.IsZero() && now.After(f.deadline)
}

func (f *fakeConn) ResponsePending() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.responsePending
}

func (f *fakeConn) RequestClose() {
	f.mu.Lock()
	f.closeRequests++
	f.mu.Unlock()
}

func (f *fakeConn) counts() (readable, closeRequests int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.readable, f.closeRequests
}

type chanQueue struct {
	id  uint32
	got chan message.Message
}

func (q *chanQueue) QueueID() uint32 { return q.id }
func (q *chanQueue) Enqueue(msg message.Message) error {
	q.got <- msg
	return nil
}

// registry is a private queue lookup so tests do not share global state.
type registry struct {
	mu     sync.Mutex
	queues map[uint32]message.Queue
}

func (r *registry) add(q message.Queue) {
	r.mu.Lock()
	r.queues[q.QueueID()] = q
	r.mu.Unlock()
}

func (r *registry) lookup(id uint32) message.Queue {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.queues[id]
}

func newTestMonitor(t *testing.T) (*Monitor, *registry) {
	t.Helper()
	reg := &registry{queues: make(map[uint32]message.Queue)}
	m, err := New(WithLookup(reg.lookup))
	require.NoError(t, err)
	t.Cleanup(func() { m.Close() })
	return m, reg
}

func socketPair(t *testing.T) (int, int) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	require.NoError(t, err)
	t.Cleanup(func() {
		unix.Close(fds[0])
		unix.Close(fds[1])
	})
	return fds[0], fds[1]
}

func hasFd(entries []Entry, fd int) bool {
	for _, e := range entries {
		if e.Fd == fd {
			return true
		}
	}
	return false
}

func TestSolicitUnsolicit(t *testing.T) {
	m, _ := newTestMonitor(t)
	a, _ := socketPair(t)

	h, err := m.Solicit(a, 7, KindConnection)
	require.NoError(t, err)
	assert.True(t, hasFd(m.Entries(), a))

	status, ok := m.State(h)
	require.True(t, ok)
	assert.Equal(t, StatusIdle, status)

	_, err = m.Solicit(a, 8, KindConnection)
	assert.ErrorIs(t, err, ErrAlreadySolicited)

	m.Unsolicit(a)
	assert.False(t, hasFd(m.Entries(), a), "no entry may reference an unsolicited socket")
	assert.ErrorIs(t, m.SetState(h, StatusBusy), ErrStaleHandle)

	// The slot is reused, but the old handle stays stale.
	h2, err := m.Solicit(a, 9, KindConnection)
	require.NoError(t, err)
	assert.NotEqual(t, h, h2)
	_, ok = m.State(h)
	assert.False(t, ok)
}

func TestUnsolicitCompactsTail(t *testing.T) {
	m, _ := newTestMonitor(t)
	a, b := socketPair(t)

	_, err := m.Solicit(a, 1, KindConnection)
	require.NoError(t, err)
	_, err = m.Solicit(b, 2, KindConnection)
	require.NoError(t, err)

	m.Unsolicit(b)
	m.Unsolicit(a)

	m.mu.Lock()
	n := len(m.entries)
	m.mu.Unlock()
	assert.Equal(t, 1, n, "only the tickler remains")
}

func TestRun_DispatchesReadableConnection(t *testing.T) {
	m, reg := newTestMonitor(t)
	a, b := socketPair(t)

	conn := &fakeConn{id: 11, pollable: true, outcome: OutcomeBusy}
	reg.add(conn)
	h, err := m.Solicit(a, conn.id, KindConnection)
	require.NoError(t, err)

	_, err = unix.Write(b, []byte("x"))
	require.NoError(t, err)

	require.NoError(t, m.Run(time.Second))

	readable, _ := conn.counts()
	assert.Equal(t, 1, readable)
	status, _ := m.State(h)
	assert.Equal(t, StatusBusy, status)

	// Busy entries are not polled.
	require.NoError(t, m.Run(20*time.Millisecond))
	readable, _ = conn.counts()
	assert.Equal(t, 1, readable)

	require.NoError(t, m.SetState(h, StatusIdle))
	require.NoError(t, m.Run(time.Second))
	readable, _ = conn.counts()
	assert.Equal(t, 2, readable)
}

func TestRun_TickleWakesPoll(t *testing.T) {
	m, _ := newTestMonitor(t)

	done := make(chan time.Duration, 1)
	go func() {
		start := time.Now()
		_ = m.Run(10 * time.Second)
		done <- time.Since(start)
	}()

	time.Sleep(20 * time.Millisecond)
	m.Tickle()

	select {
	case d := <-done:
		assert.Less(t, d, 5*time.Second)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after Tickle")
	}
}

func TestRun_TimeoutWithoutReadiness(t *testing.T) {
	m, reg := newTestMonitor(t)
	a, _ := socketPair(t)

	// A connection in its handshake is not polled, but its deadline
	// still applies.
	conn := &fakeConn{id: 12, pollable: false, deadline: time.Now().Add(-time.Second)}
	reg.add(conn)
	h, err := m.Solicit(a, conn.id, KindConnection)
	require.NoError(t, err)

	require.NoError(t, m.Run(10*time.Millisecond))
	status, _ := m.State(h)
	assert.Equal(t, StatusDying, status)

	require.NoError(t, m.Run(10*time.Millisecond))
	_, closeRequests := conn.counts()
	assert.Equal(t, 1, closeRequests)
}

func TestRun_DyingWaitsForResponse(t *testing.T) {
	m, reg := newTestMonitor(t)
	a, _ := socketPair(t)

	conn := &fakeConn{id: 13, pollable: true, responsePending: true}
	reg.add(conn)
	h, err := m.Solicit(a, conn.id, KindConnection)
	require.NoError(t, err)
	require.NoError(t, m.SetState(h, StatusDying))

	require.NoError(t, m.Run(10*time.Millisecond))
	_, closeRequests := conn.counts()
	assert.Zero(t, closeRequests)

	conn.mu.Lock()
	conn.responsePending = false
	conn.mu.Unlock()

	require.NoError(t, m.Run(10*time.Millisecond))
	_, closeRequests = conn.counts()
	assert.Equal(t, 1, closeRequests)
}

func TestRun_TakeReady(t *testing.T) {
	m, reg := newTestMonitor(t)
	a, _ := socketPair(t)

	conn := &fakeConn{id: 14, pollable: true, ready: true}
	reg.add(conn)
	_, err := m.Solicit(a, conn.id, KindConnection)
	require.NoError(t, err)

	start := time.Now()
	require.NoError(t, m.Run(10*time.Second))
	assert.Less(t, time.Since(start), 5*time.Second, "pending readiness must not wait for poll")

	readable, _ := conn.counts()
	assert.Equal(t, 1, readable)
}

func TestRun_AcceptorReadiness(t *testing.T) {
	m, reg := newTestMonitor(t)
	a, b := socketPair(t)

	q := &chanQueue{id: 21, got: make(chan message.Message, 1)}
	reg.add(q)
	h, err := m.Solicit(a, q.id, KindAcceptor)
	require.NoError(t, err)

	_, err = unix.Write(b, []byte("x"))
	require.NoError(t, err)
	require.NoError(t, m.Run(time.Second))

	select {
	case msg := <-q.got:
		sm, ok := msg.(*message.SocketMessage)
		require.True(t, ok)
		assert.Equal(t, a, sm.Fd)
	default:
		t.Fatal("acceptor queue did not receive a socket message")
	}
	status, _ := m.State(h)
	assert.Equal(t, StatusIdle, status)
}

func TestRequestShutdown(t *testing.T) {
	m, reg := newTestMonitor(t)
	a, _ := socketPair(t)

	q := &chanQueue{id: 22, got: make(chan message.Message, 1)}
	reg.add(q)
	_, err := m.Solicit(a, q.id, KindAcceptor)
	require.NoError(t, err)

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
				_ = m.Run(50 * time.Millisecond)
			}
		}
	}()

	m.RequestShutdown(true)
	assert.False(t, hasFd(m.Entries(), a))

	close(stop)
	wg.Wait()
}

func TestRequestShutdown_BusyAcceptorReleasedLater(t *testing.T) {
	m, reg := newTestMonitor(t)
	a, _ := socketPair(t)

	q := &chanQueue{id: 23, got: make(chan message.Message, 1)}
	reg.add(q)
	h, err := m.Solicit(a, q.id, KindAcceptor)
	require.NoError(t, err)
	require.NoError(t, m.SetState(h, StatusBusy))

	m.RequestShutdown(false)
	require.NoError(t, m.Run(10*time.Millisecond))
	status, ok := m.State(h)
	require.True(t, ok)
	assert.Equal(t, StatusDying, status)

	require.NoError(t, m.Run(10*time.Millisecond))
	_, ok = m.State(h)
	assert.False(t, ok, "dying acceptor entry should be released")
	assert.False(t, hasFd(m.Entries(), a))
}

func TestStatusAndKindString(t *testing.T) {
	assert.Equal(t, "dying", StatusDying.String())
	assert.Equal(t, "Status(9)", Status(9).String())
	assert.Equal(t, "acceptor", KindAcceptor.String())
	assert.Equal(t, "tickler", KindTickler.String())
}
