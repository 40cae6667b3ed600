package message

import (
	"context"
	"errors"
	"sync"

	"github.com/eapache/queue"
)

// ErrQueueClosed is returned by Enqueue and Receive once a queue is closed.
var ErrQueueClosed = errors.New("message queue closed")

// Handler processes one dequeued message.
type Handler func(msg Message)

// MessageQueue is an unbounded FIFO with blocking receive. Enqueue never
// blocks, so transport code holding the readiness table lock can hand
// messages to it safely.
type MessageQueue struct {
	id   uint32
	name string

	mu     sync.Mutex
	cond   *sync.Cond
	fifo   *queue.Queue
	closed bool
}

// NewMessageQueue creates a queue and registers it in the process-wide
// registry under a fresh id.
func NewMessageQueue(name string) *MessageQueue {
	q := &MessageQueue{
		id:   NextQueueID(),
		name: name,
		fifo: queue.New(),
	}
	q.cond = sync.NewCond(&q.mu)
	Register(q)
	return q
}

// QueueID implements Queue
func (q *MessageQueue) QueueID() uint32 { return q.id }

// Name returns the queue name given at construction.
func (q *MessageQueue) Name() string { return q.name }

// Enqueue implements Queue
func (q *MessageQueue) Enqueue(msg Message) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrQueueClosed
	}
	q.fifo.Add(msg)
	q.cond.Signal()
	return nil
}

// Len returns the number of queued messages.
func (q *MessageQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.fifo.Length()
}

// Receive blocks until a message is available, the queue is closed or ctx
// is done. Messages queued before Close are still delivered.
func (q *MessageQueue) Receive(ctx context.Context) (Message, error) {
	stop := context.AfterFunc(ctx, func() {
		q.mu.Lock()
		q.cond.Broadcast()
		q.mu.Unlock()
	})
	defer stop()

	q.mu.Lock()
	defer q.mu.Unlock()
	for q.fifo.Length() == 0 {
		if q.closed {
			return nil, ErrQueueClosed
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		q.cond.Wait()
	}
	return q.fifo.Remove().(Message), nil
}

// Run receives messages and passes them to handler until ctx is done or
// the queue is closed. Several workers may Run the same queue.
func (q *MessageQueue) Run(ctx context.Context, handler Handler) error {
	for {
		msg, err := q.Receive(ctx)
		if err != nil {
			if errors.Is(err, ErrQueueClosed) {
				return nil
			}
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return err
		}
		handler(msg)
	}
}

// Close stops the queue, wakes all receivers and removes it from the
// registry.
func (q *MessageQueue) Close() {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		q.cond.Broadcast()
	}
	q.mu.Unlock()
	Unregister(q.id)
}
