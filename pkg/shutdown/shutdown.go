// Package shutdown provides the cooperative cancellation primitives shared by
// every long-running service in the daemon: a monotonic shutdown token that can
// be triggered exactly once, and a completion tracker that lets the supervisor
// detect when every service has finished its own teardown.
package shutdown

import (
	"sync"
	"sync/atomic"
)

// Shutdown is a shareable, idempotent, monotonic cancellation signal.
//
// Services hold a *Shutdown and poll it cooperatively: either by selecting on
// Done() or by checking IsTriggered() in their inner loops. The first call to
// Trigger() flips the signal; all later calls are no-ops. Once triggered the
// signal stays triggered for the remainder of the process.
//
// Thread safety: all methods are safe for concurrent use.
type Shutdown struct {
	once      sync.Once
	done      chan struct{}
	triggered atomic.Bool
}

// New creates a new, untriggered shutdown token.
func New() *Shutdown {
	return &Shutdown{
		done: make(chan struct{}),
	}
}

// Trigger flips the shutdown signal. The first call is the only one with
// observable effect; subsequent and concurrent calls are no-ops.
func (s *Shutdown) Trigger() {
	s.once.Do(func() {
		s.triggered.Store(true)
		close(s.done)
	})
}

// IsTriggered reports whether shutdown has been triggered, without blocking.
func (s *Shutdown) IsTriggered() bool {
	return s.triggered.Load()
}

// Done returns a channel that is closed when shutdown is triggered.
// Suitable for use in select statements inside service loops.
func (s *Shutdown) Done() <-chan struct{} {
	return s.done
}
