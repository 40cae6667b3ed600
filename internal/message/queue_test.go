package message

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageQueue_FIFOOrder(t *testing.T) {
	q := NewMessageQueue("fifo")
	defer q.Close()

	for i := 0; i < 5; i++ {
		require.NoError(t, q.Enqueue(&SocketMessage{Fd: i}))
	}
	assert.Equal(t, 5, q.Len())

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		msg, err := q.Receive(ctx)
		require.NoError(t, err)
		sm, ok := msg.(*SocketMessage)
		require.True(t, ok)
		assert.Equal(t, i, sm.Fd)
	}
}

func TestMessageQueue_ReceiveBlocksUntilEnqueue(t *testing.T) {
	q := NewMessageQueue("blocking")
	defer q.Close()

	got := make(chan Message, 1)
	go func() {
		msg, err := q.Receive(context.Background())
		if err == nil {
			got <- msg
		}
	}()

	select {
	case <-got:
		t.Fatal("Receive returned before anything was enqueued")
	case <-time.After(20 * time.Millisecond):
	}

	require.NoError(t, q.Enqueue(&CloseConnectionMessage{Fd: 7}))

	select {
	case msg := <-got:
		assert.Equal(t, TypeCloseConnection, msg.Type())
	case <-time.After(time.Second):
		t.Fatal("Receive did not wake up")
	}
}

func TestMessageQueue_ReceiveHonoursContext(t *testing.T) {
	q := NewMessageQueue("ctx")
	defer q.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := q.Receive(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestMessageQueue_Close(t *testing.T) {
	q := NewMessageQueue("close")
	require.NoError(t, q.Enqueue(&SocketMessage{Fd: 1}))
	id := q.QueueID()
	require.NotNil(t, Lookup(id))

	q.Close()

	assert.Nil(t, Lookup(id), "closed queue must leave the registry")
	assert.ErrorIs(t, q.Enqueue(&SocketMessage{Fd: 2}), ErrQueueClosed)

	// Messages queued before Close are still delivered.
	msg, err := q.Receive(context.Background())
	require.NoError(t, err)
	assert.Equal(t, TypeSocket, msg.Type())

	_, err = q.Receive(context.Background())
	assert.ErrorIs(t, err, ErrQueueClosed)
}

func TestMessageQueue_RunWorkers(t *testing.T) {
	q := NewMessageQueue("workers")

	const total = 100
	var (
		mu   sync.Mutex
		seen = make(map[int]bool)
		wg   sync.WaitGroup
	)
	done := make(chan struct{})

	handler := func(msg Message) {
		mu.Lock()
		seen[msg.(*SocketMessage).Fd] = true
		if len(seen) == total {
			close(done)
		}
		mu.Unlock()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, q.Run(ctx, handler))
		}()
	}

	for i := 0; i < total; i++ {
		require.NoError(t, q.Enqueue(&SocketMessage{Fd: i}))
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("workers did not drain the queue")
	}

	q.Close()
	wg.Wait()
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	a := &stubQueue{id: r.NextID()}
	b := &stubQueue{id: r.NextID()}
	assert.NotEqual(t, a.id, b.id)
	assert.NotZero(t, a.id)

	r.Register(a)
	r.Register(b)
	assert.Equal(t, 2, r.Len())
	assert.Same(t, a, r.Lookup(a.id))

	r.Unregister(a.id)
	assert.Nil(t, r.Lookup(a.id))
	assert.Equal(t, 1, r.Len())
}

func TestTypeString(t *testing.T) {
	tests := []struct {
		typ  Type
		want string
	}{
		{TypeSocket, "socket"},
		{TypeCloseConnection, "close_connection"},
		{TypeHTTP, "http"},
		{Type(42), "Type(42)"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.typ.String())
		})
	}
}

type stubQueue struct {
	id uint32
}

func (s *stubQueue) QueueID() uint32           { return s.id }
func (s *stubQueue) Enqueue(msg Message) error { return nil }
