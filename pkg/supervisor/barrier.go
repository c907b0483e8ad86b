package supervisor

import "sync"

// Barrier is a single-use rendezvous point with a fixed arrival quota.
//
// Network-bound services that must not begin accepting external connections
// before their siblings are also listening each call Await after binding
// their socket; no caller proceeds until the quota'th arrival, at which point
// all are released simultaneously.
//
// The quota is fixed at construction and must match the number of registered
// waiters exactly. A mismatch is a programmer error that deadlocks every
// waiter permanently; it is not detected at runtime.
type Barrier struct {
	mu      sync.Mutex
	quota   int
	arrived int
	release chan struct{}
}

// NewBarrier creates a barrier that releases after quota arrivals.
// Quota must be at least 1.
func NewBarrier(quota int) *Barrier {
	if quota < 1 {
		panic("supervisor: barrier quota must be >= 1")
	}
	return &Barrier{
		quota:   quota,
		release: make(chan struct{}),
	}
}

// Quota returns the configured arrival quota.
func (b *Barrier) Quota() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.quota
}

// Await records an arrival and blocks until the quota is reached, then
// returns in every waiter at once.
func (b *Barrier) Await() {
	b.mu.Lock()
	b.arrived++
	if b.arrived == b.quota {
		close(b.release)
	}
	b.mu.Unlock()

	<-b.release
}
