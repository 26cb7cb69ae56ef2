package lifecycle

import "sync"

// Barrier is a reusable rendezvous point: Wait blocks the calling goroutine
// until exactly `parties` goroutines have called Wait, then releases all of
// them together. The main task uses one barrier to learn that every worker
// has subscribed to the control bus before broadcasting the first
// Reconfigure, and a second to learn that every worker has finished its
// shutdown drain before the process exits.
type Barrier struct {
	mu      sync.Mutex
	cond    *sync.Cond
	parties int
	waiting int
	gen     uint64
}

// NewBarrier returns a Barrier that releases once `parties` goroutines have
// called Wait.
func NewBarrier(parties int) *Barrier {
	b := &Barrier{parties: parties}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// Wait blocks until `parties` calls to Wait (across all goroutines, for this
// generation) have been made, then returns in every caller at once. The
// barrier automatically arms itself for a second use.
func (b *Barrier) Wait() {
	b.mu.Lock()
	defer b.mu.Unlock()

	gen := b.gen
	b.waiting++
	if b.waiting == b.parties {
		b.waiting = 0
		b.gen++
		b.cond.Broadcast()
		return
	}
	for gen == b.gen {
		b.cond.Wait()
	}
}
