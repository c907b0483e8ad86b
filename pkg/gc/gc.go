// Package gc evicts expired tasks from local storage on an interval.
// Persistent tasks are never evicted; every eviction is reported to the
// task's scheduler so it stops suggesting this host as a parent.
package gc

import (
	"context"
	"time"

	"github.com/peerdrift/peerd/internal/logger"
	"github.com/peerdrift/peerd/pkg/metrics"
	"github.com/peerdrift/peerd/pkg/shutdown"
	"github.com/peerdrift/peerd/pkg/storage"
)

// Store is the slice of storage the collector uses.
type Store interface {
	ListExpiredTasks(ctx context.Context, ttl time.Duration, now time.Time) ([]*storage.Task, error)
	DeleteTask(ctx context.Context, taskID string) error
}

// SchedulerNotifier reports evictions to the scheduler.
type SchedulerNotifier interface {
	DeleteTask(ctx context.Context, taskID, hostID string) error
}

// Collector runs the eviction loop.
type Collector struct {
	store    Store
	sched    SchedulerNotifier
	hostID   string
	interval time.Duration
	ttl      time.Duration
	metrics  *metrics.Metrics
	token    *shutdown.Shutdown
}

// New builds the collector in a stopped state.
func New(store Store, sched SchedulerNotifier, hostID string, interval, ttl time.Duration, m *metrics.Metrics, token *shutdown.Shutdown) *Collector {
	return &Collector{
		store:    store,
		sched:    sched,
		hostID:   hostID,
		interval: interval,
		ttl:      ttl,
		metrics:  m,
		token:    token,
	}
}

// Serve runs collection passes on the interval until shutdown is triggered
// or the context is cancelled.
func (c *Collector) Serve(ctx context.Context) error {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			evicted := c.collect(ctx)
			c.metrics.RecordGCRun(evicted)

		case <-c.token.Done():
			logger.Info("Garbage collector stopped")
			return nil
		case <-ctx.Done():
			logger.Info("Garbage collector stopped")
			return nil
		}
	}
}

// collect runs one pass. Failures on individual tasks are logged and the
// pass continues; the next tick retries them.
func (c *Collector) collect(ctx context.Context) int {
	expired, err := c.store.ListExpiredTasks(ctx, c.ttl, time.Now())
	if err != nil {
		logger.Warn("Expired task scan failed", "error", err)
		return 0
	}
	if len(expired) == 0 {
		return 0
	}

	evicted := 0
	for _, task := range expired {
		if err := c.store.DeleteTask(ctx, task.ID); err != nil {
			logger.Warn("Task eviction failed", "task", task.ID, "error", err)
			continue
		}
		evicted++

		if err := c.sched.DeleteTask(ctx, task.ID, c.hostID); err != nil {
			logger.Warn("Failed to notify scheduler of eviction", "task", task.ID, "error", err)
		}
	}

	logger.Info("Garbage collection pass complete", "expired", len(expired), "evicted", evicted)
	return evicted
}
