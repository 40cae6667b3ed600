package transport

import "sync"

// refCount counts the goroutines working on a connection outside the
// monitor. Destruction waits for the count to drop to zero.
type refCount struct {
	mu        sync.Mutex
	cond      *sync.Cond
	n         int
	destroyed bool
}

func newRefCount() *refCount {
	r := &refCount{}
	r.cond = sync.NewCond(&r.mu)
	return r
}

// acquire adds a reference. It fails once destruction started.
func (r *refCount) acquire() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.destroyed {
		return false
	}
	r.n++
	return true
}

func (r *refCount) release() {
	r.mu.Lock()
	r.n--
	if r.n == 0 {
		r.cond.Broadcast()
	}
	r.mu.Unlock()
}

// drain forbids new references and waits for the existing ones. It reports
// false if another caller already drained.
func (r *refCount) drain() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.destroyed {
		return false
	}
	r.destroyed = true
	for r.n > 0 {
		r.cond.Wait()
	}
	return true
}

func (r *refCount) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.n
}
