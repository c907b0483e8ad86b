// Package dynconfig keeps dynamic cluster state fresh. It polls the manager
// for the scheduler list on an interval and publishes immutable snapshots to
// readers, notifying watchers on change.
//
// Dynconfig is both a resource (the scheduler client reads snapshots from
// it) and a service (the refresh loop runs under the supervisor; its exit
// triggers daemon shutdown).
package dynconfig

import (
	"context"
	"fmt"
	"reflect"
	"sync"
	"time"

	"github.com/peerdrift/peerd/internal/logger"
	"github.com/peerdrift/peerd/pkg/manager"
	"github.com/peerdrift/peerd/pkg/shutdown"
)

// SchedulerLister is the slice of the manager client dynconfig needs.
type SchedulerLister interface {
	ListSchedulers(ctx context.Context) ([]manager.Scheduler, error)
}

// Snapshot is one immutable view of dynamic cluster state.
type Snapshot struct {
	Schedulers []manager.Scheduler
	FetchedAt  time.Time
}

// ActiveSchedulers returns the schedulers eligible for client traffic.
func (s *Snapshot) ActiveSchedulers() []manager.Scheduler {
	var active []manager.Scheduler
	for _, sched := range s.Schedulers {
		if sched.State == manager.SchedulerStateActive {
			active = append(active, sched)
		}
	}
	return active
}

// Dynconfig polls the manager and publishes snapshots.
type Dynconfig struct {
	lister   SchedulerLister
	interval time.Duration
	token    *shutdown.Shutdown

	mu       sync.RWMutex
	snapshot *Snapshot
	watchers []chan struct{}
}

// New builds a Dynconfig and performs the initial fetch. A manager that
// cannot serve the scheduler list at startup is a fatal construction error;
// the daemon must not start with an empty view of the cluster.
func New(ctx context.Context, lister SchedulerLister, interval time.Duration, token *shutdown.Shutdown) (*Dynconfig, error) {
	d := &Dynconfig{
		lister:   lister,
		interval: interval,
		token:    token,
	}

	if err := d.Refresh(ctx); err != nil {
		return nil, fmt.Errorf("initial dynconfig fetch: %w", err)
	}
	return d, nil
}

// Get returns the current snapshot. Never nil after New succeeds.
func (d *Dynconfig) Get() *Snapshot {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.snapshot
}

// Watch returns a channel that receives a notification after each snapshot
// change. Notifications are coalesced; a slow watcher sees at least one.
func (d *Dynconfig) Watch() <-chan struct{} {
	ch := make(chan struct{}, 1)

	d.mu.Lock()
	d.watchers = append(d.watchers, ch)
	d.mu.Unlock()

	return ch
}

// Refresh fetches the scheduler list and swaps the snapshot if it changed.
func (d *Dynconfig) Refresh(ctx context.Context) error {
	schedulers, err := d.lister.ListSchedulers(ctx)
	if err != nil {
		return err
	}

	next := &Snapshot{
		Schedulers: schedulers,
		FetchedAt:  time.Now(),
	}

	d.mu.Lock()
	changed := d.snapshot == nil || !reflect.DeepEqual(d.snapshot.Schedulers, schedulers)
	d.snapshot = next
	watchers := d.watchers
	d.mu.Unlock()

	if changed {
		for _, ch := range watchers {
			select {
			case ch <- struct{}{}:
			default:
			}
		}
	}
	return nil
}

// Serve runs the refresh loop until shutdown is triggered or the context is
// cancelled. Refresh failures are logged and the previous snapshot is kept;
// a flaky manager must not take the daemon down.
func (d *Dynconfig) Serve(ctx context.Context) error {
	logger.Info("Dynconfig refresh loop started", "interval", d.interval)

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := d.Refresh(ctx); err != nil {
				logger.Warn("Dynconfig refresh failed, keeping previous snapshot", "error", err)
			}
		case <-d.token.Done():
			logger.Info("Dynconfig refresh loop stopping")
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
