package shutdown

import "sync"

// Tracker counts outstanding completion handles so the supervisor knows when
// every service has finished its own teardown.
//
// Every service obtains a handle via NewHandle before it is spawned and
// releases it only after all of its cleanup is done. The supervisor holds the
// consumer end: Wait returns precisely when every issued handle has been
// released, in any order. This gives a deterministic end-of-shutdown point
// without polling.
//
// Handles must all be issued before Wait is called; issuing a handle after
// Wait has returned is not a supported sequence.
type Tracker struct {
	wg sync.WaitGroup
}

// NewTracker creates an empty completion tracker.
func NewTracker() *Tracker {
	return &Tracker{}
}

// NewHandle issues a completion handle. The caller must hold it for the
// lifetime of its work and call Release exactly when its cleanup is finished.
func (t *Tracker) NewHandle() *Handle {
	t.wg.Add(1)
	return &Handle{tracker: t}
}

// Wait blocks until every issued handle has been released.
// Returns immediately if no handles are outstanding.
func (t *Tracker) Wait() {
	t.wg.Wait()
}

// Handle is a reference a service holds while running and releases on exit.
// Release is idempotent; only the first call decrements the tracker.
type Handle struct {
	tracker *Tracker
	once    sync.Once
}

// Release drops this handle. Safe to call multiple times.
func (h *Handle) Release() {
	h.once.Do(func() {
		h.tracker.wg.Done()
	})
}
