// Package announcer keeps this host registered with the manager and the
// schedulers. Each announcer is a supervised service: it heartbeats on an
// interval and deregisters the host when shutdown is triggered.
package announcer

import (
	"context"
	"time"

	"github.com/peerdrift/peerd/internal/logger"
	"github.com/peerdrift/peerd/pkg/manager"
	"github.com/peerdrift/peerd/pkg/metrics"
	"github.com/peerdrift/peerd/pkg/scheduler"
	"github.com/peerdrift/peerd/pkg/shutdown"
)

// deregisterTimeout bounds the deregistration calls made during shutdown,
// which cannot use the already-cancelled serve context.
const deregisterTimeout = 5 * time.Second

// ManagerAPI is the slice of the manager client the announcer uses.
type ManagerAPI interface {
	AnnounceHost(ctx context.Context, announcement *manager.HostAnnouncement) error
	DeleteHost(ctx context.Context, hostID string) error
}

// Manager heartbeats this host against the manager.
type Manager struct {
	client       ManagerAPI
	announcement *manager.HostAnnouncement
	interval     time.Duration
	metrics      *metrics.Metrics
	token        *shutdown.Shutdown
}

// NewManager builds the manager announcer and performs the initial
// registration. Registration failure is fatal: a host the manager does not
// know about cannot join the cluster.
func NewManager(ctx context.Context, client ManagerAPI, announcement *manager.HostAnnouncement, interval time.Duration, m *metrics.Metrics, token *shutdown.Shutdown) (*Manager, error) {
	if err := client.AnnounceHost(ctx, announcement); err != nil {
		m.RecordAnnouncement("manager", "failure")
		return nil, err
	}
	m.RecordAnnouncement("manager", "success")

	return &Manager{
		client:       client,
		announcement: announcement,
		interval:     interval,
		metrics:      m,
		token:        token,
	}, nil
}

// Serve re-announces on the interval until shutdown, then deregisters.
// Heartbeat failures are logged and retried at the next tick.
func (a *Manager) Serve(ctx context.Context) error {
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := a.client.AnnounceHost(ctx, a.announcement); err != nil {
				logger.Warn("Manager heartbeat failed", "error", err)
				a.metrics.RecordAnnouncement("manager", "failure")
				continue
			}
			a.metrics.RecordAnnouncement("manager", "success")

		case <-a.token.Done():
			return a.deregister()
		case <-ctx.Done():
			return a.deregister()
		}
	}
}

// deregister removes the host from the manager, best effort.
func (a *Manager) deregister() error {
	ctx, cancel := context.WithTimeout(context.Background(), deregisterTimeout)
	defer cancel()

	if err := a.client.DeleteHost(ctx, a.announcement.HostID); err != nil {
		logger.Warn("Manager deregistration failed", "error", err)
	} else {
		logger.Info("Deregistered from manager", "host", a.announcement.HostID)
	}
	return nil
}

// SchedulerAPI is the slice of the scheduler client the announcer uses.
type SchedulerAPI interface {
	AnnounceHost(ctx context.Context, announcement *scheduler.HostAnnouncement) error
	DeleteHost(ctx context.Context, hostID string) error
}

// Scheduler heartbeats this host against every active scheduler.
type Scheduler struct {
	client       SchedulerAPI
	announcement *scheduler.HostAnnouncement
	interval     time.Duration
	metrics      *metrics.Metrics
	token        *shutdown.Shutdown
}

// NewScheduler builds the scheduler announcer and performs the initial
// registration. A host no scheduler accepted cannot serve or receive
// pieces, so registration failure is fatal.
func NewScheduler(ctx context.Context, client SchedulerAPI, announcement *scheduler.HostAnnouncement, interval time.Duration, m *metrics.Metrics, token *shutdown.Shutdown) (*Scheduler, error) {
	if err := client.AnnounceHost(ctx, announcement); err != nil {
		m.RecordAnnouncement("scheduler", "failure")
		return nil, err
	}
	m.RecordAnnouncement("scheduler", "success")

	return &Scheduler{
		client:       client,
		announcement: announcement,
		interval:     interval,
		metrics:      m,
		token:        token,
	}, nil
}

// Serve re-announces on the interval until shutdown, then deregisters.
// Re-announcement also reaches schedulers that joined after startup through
// dynconfig refreshes.
func (a *Scheduler) Serve(ctx context.Context) error {
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := a.client.AnnounceHost(ctx, a.announcement); err != nil {
				logger.Warn("Scheduler heartbeat failed", "error", err)
				a.metrics.RecordAnnouncement("scheduler", "failure")
				continue
			}
			a.metrics.RecordAnnouncement("scheduler", "success")

		case <-a.token.Done():
			return a.deregister()
		case <-ctx.Done():
			return a.deregister()
		}
	}
}

// deregister removes the host from all schedulers, best effort.
func (a *Scheduler) deregister() error {
	ctx, cancel := context.WithTimeout(context.Background(), deregisterTimeout)
	defer cancel()

	if err := a.client.DeleteHost(ctx, a.announcement.HostID); err != nil {
		logger.Warn("Scheduler deregistration failed", "error", err)
	} else {
		logger.Info("Deregistered from schedulers", "host", a.announcement.HostID)
	}
	return nil
}
