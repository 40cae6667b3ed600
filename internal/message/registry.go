package message

import (
	"sync"
	"sync/atomic"
)

// Registry maps queue ids to live queues. Lookups never confer ownership:
// a queue that has been unregistered simply stops resolving.
type Registry struct {
	next   atomic.Uint32
	mu     sync.RWMutex
	queues map[uint32]Queue
}

// NewRegistry creates an empty registry. Ids start at 1 so that 0 can mean
// "no queue".
func NewRegistry() *Registry {
	return &Registry{
		queues: make(map[uint32]Queue),
	}
}

// NextID allocates a fresh queue id.
func (r *Registry) NextID() uint32 {
	return r.next.Add(1)
}

// Register makes q resolvable by its id.
func (r *Registry) Register(q Queue) {
	r.mu.Lock()
	r.queues[q.QueueID()] = q
	r.mu.Unlock()
}

// Unregister removes the queue with the given id.
func (r *Registry) Unregister(id uint32) {
	r.mu.Lock()
	delete(r.queues, id)
	r.mu.Unlock()
}

// Lookup returns the queue registered under id, or nil.
func (r *Registry) Lookup(id uint32) Queue {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.queues[id]
}

// Len returns the number of registered queues.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.queues)
}

var defaultRegistry = NewRegistry()

// NextQueueID allocates an id from the process-wide registry.
func NextQueueID() uint32 { return defaultRegistry.NextID() }

// Register adds q to the process-wide registry.
func Register(q Queue) { defaultRegistry.Register(q) }

// Unregister removes id from the process-wide registry.
func Unregister(id uint32) { defaultRegistry.Unregister(id) }

// Lookup resolves id in the process-wide registry.
func Lookup(id uint32) Queue { return defaultRegistry.Lookup(id) }
