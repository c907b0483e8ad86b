// Package scheduler provides the reference-counted client for scheduler RPC.
//
// The client is shared by the task managers and the scheduler announcer.
// Each owner holds one reference; the last Release closes the pooled
// connections. The daemon's resource graph holds the construction reference
// and releases it during teardown, after every service has stopped.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"net"
	"sync"
	"time"

	"github.com/peerdrift/peerd/internal/logger"
	"github.com/peerdrift/peerd/pkg/dynconfig"
	"github.com/peerdrift/peerd/pkg/manager"
	"github.com/peerdrift/peerd/pkg/rpc"
)

var (
	// ErrClosed is returned from calls after the last reference was released.
	ErrClosed = errors.New("scheduler client closed")

	// ErrNoSchedulers is returned when the cluster has no active schedulers.
	ErrNoSchedulers = errors.New("no active schedulers")
)

// SnapshotSource is the slice of dynconfig the client needs.
type SnapshotSource interface {
	Get() *dynconfig.Snapshot
}

// Config tunes the scheduler client.
type Config struct {
	RequestTimeout       time.Duration
	MaxConnsPerScheduler int
}

// HostAnnouncement is the host registration sent to every active scheduler.
type HostAnnouncement struct {
	HostID     string
	IP         string
	Hostname   string
	UploadPort uint32
	SeedPeer   bool
	Location   string
	IDC        string
}

// AnnouncePeerRequest reports one download attempt.
type AnnouncePeerRequest struct {
	TaskID      string
	PeerID      string
	HostID      string
	URL         string
	Tag         string
	Application string
}

// CandidateParent is one peer the scheduler suggests downloading from.
type CandidateParent struct {
	PeerID     string
	IP         string
	UploadPort uint32
}

// AnnouncePeerResponse carries the scheduler's parent candidates.
type AnnouncePeerResponse struct {
	Parents []CandidateParent
}

// deleteTaskRequest tells a scheduler a task was evicted locally.
type deleteTaskRequest struct {
	TaskID string
	HostID string
}

// deleteHostRequest removes a host registration.
type deleteHostRequest struct {
	HostID string
}

// Client is the reference-counted scheduler client.
type Client struct {
	source SnapshotSource
	cfg    Config

	// dial is swappable for tests.
	dial func(ctx context.Context, addr string) (net.Conn, error)

	mu     sync.Mutex
	refs   int
	closed bool
	pools  map[string][]*rpc.Conn
}

// New builds a client holding one reference, owned by the caller.
func New(source SnapshotSource, cfg Config) *Client {
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = 10 * time.Second
	}
	if cfg.MaxConnsPerScheduler == 0 {
		cfg.MaxConnsPerScheduler = 4
	}

	dialer := &net.Dialer{}
	return &Client{
		source: source,
		cfg:    cfg,
		dial: func(ctx context.Context, addr string) (net.Conn, error) {
			return dialer.DialContext(ctx, "tcp", addr)
		},
		refs:  1,
		pools: make(map[string][]*rpc.Conn),
	}
}

// Acquire takes one more reference. Returns ErrClosed if the last reference
// is already gone.
func (c *Client) Acquire() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}
	c.refs++
	return nil
}

// Release drops one reference. The last release closes all pooled
// connections; releasing below zero is a programmer error.
func (c *Client) Release() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.refs == 0 {
		return errors.New("scheduler client released below zero references")
	}

	c.refs--
	if c.refs > 0 {
		return nil
	}

	c.closed = true
	for addr, conns := range c.pools {
		for _, conn := range conns {
			if err := conn.Close(); err != nil {
				logger.Warn("Failed to close scheduler connection", "scheduler", addr, "error", err)
			}
		}
	}
	c.pools = nil
	logger.Debug("Scheduler client closed")
	return nil
}

// Closed reports whether the last reference has been released.
func (c *Client) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// AnnounceHost registers this host with every active scheduler. Failures
// against individual schedulers are collected; the announcement succeeds if
// at least one scheduler accepted it.
func (c *Client) AnnounceHost(ctx context.Context, announcement *HostAnnouncement) error {
	schedulers := c.activeSchedulers()
	if len(schedulers) == 0 {
		return ErrNoSchedulers
	}

	var lastErr error
	accepted := 0
	for _, sched := range schedulers {
		if err := c.call(ctx, sched.Addr, rpc.ProcAnnounceHost, announcement, nil); err != nil {
			logger.Warn("Host announcement failed", "scheduler", sched.Addr, "error", err)
			lastErr = err
			continue
		}
		accepted++
	}

	if accepted == 0 {
		return fmt.Errorf("all schedulers rejected host announcement: %w", lastErr)
	}
	return nil
}

// DeleteHost removes this host from every active scheduler, best effort.
func (c *Client) DeleteHost(ctx context.Context, hostID string) error {
	schedulers := c.activeSchedulers()

	var lastErr error
	for _, sched := range schedulers {
		req := deleteHostRequest{HostID: hostID}
		if err := c.call(ctx, sched.Addr, rpc.ProcDeleteHost, &req, nil); err != nil {
			logger.Warn("Host removal failed", "scheduler", sched.Addr, "error", err)
			lastErr = err
		}
	}
	return lastErr
}

// AnnouncePeer reports a download attempt to the scheduler owning the task
// and returns candidate parents.
func (c *Client) AnnouncePeer(ctx context.Context, req *AnnouncePeerRequest) (*AnnouncePeerResponse, error) {
	addr, err := c.pickScheduler(req.TaskID)
	if err != nil {
		return nil, err
	}

	var resp AnnouncePeerResponse
	if err := c.call(ctx, addr, rpc.ProcAnnouncePeer, req, &resp); err != nil {
		return nil, fmt.Errorf("announce peer to %s: %w", addr, err)
	}
	return &resp, nil
}

// DeleteTask tells the task's scheduler the content was evicted locally.
func (c *Client) DeleteTask(ctx context.Context, taskID, hostID string) error {
	addr, err := c.pickScheduler(taskID)
	if err != nil {
		return err
	}

	req := deleteTaskRequest{TaskID: taskID, HostID: hostID}
	if err := c.call(ctx, addr, rpc.ProcDeleteTaskFromScheduler, &req, nil); err != nil {
		return fmt.Errorf("delete task on %s: %w", addr, err)
	}
	return nil
}

// activeSchedulers reads the current scheduler set from dynconfig.
func (c *Client) activeSchedulers() []manager.Scheduler {
	snap := c.source.Get()
	if snap == nil {
		return nil
	}
	return snap.ActiveSchedulers()
}

// pickScheduler maps a task ID onto one active scheduler. The mapping is
// stable for a fixed scheduler set so all peers of a task agree on its
// scheduler.
func (c *Client) pickScheduler(taskID string) (string, error) {
	schedulers := c.activeSchedulers()
	if len(schedulers) == 0 {
		return "", ErrNoSchedulers
	}

	h := fnv.New32a()
	h.Write([]byte(taskID))
	return schedulers[h.Sum32()%uint32(len(schedulers))].Addr, nil
}

// call performs one RPC against addr using a pooled connection.
func (c *Client) call(ctx context.Context, addr string, proc uint32, req, resp interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	conn, err := c.getConn(ctx, addr)
	if err != nil {
		return err
	}

	if err := conn.Call(ctx, proc, req, resp); err != nil {
		// Remote errors leave the connection reusable; transport errors
		// do not.
		if errors.Is(err, rpc.ErrBadRequest) || errors.Is(err, rpc.ErrNotFound) ||
			errors.Is(err, rpc.ErrInternal) || errors.Is(err, rpc.ErrUnavailable) {
			c.putConn(addr, conn)
		} else {
			conn.Close()
		}
		return err
	}

	c.putConn(addr, conn)
	return nil
}

// getConn takes a pooled connection or dials a new one.
func (c *Client) getConn(ctx context.Context, addr string) (*rpc.Conn, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	pool := c.pools[addr]
	if n := len(pool); n > 0 {
		conn := pool[n-1]
		c.pools[addr] = pool[:n-1]
		c.mu.Unlock()
		return conn, nil
	}
	c.mu.Unlock()

	netConn, err := c.dial(ctx, addr)
	if err != nil {
		return nil, fmt.Errorf("dial scheduler %s: %w", addr, err)
	}
	return rpc.NewConn(netConn), nil
}

// putConn returns a connection to the pool, closing it if the pool is full
// or the client is closed.
func (c *Client) putConn(addr string, conn *rpc.Conn) {
	c.mu.Lock()
	if c.closed || len(c.pools[addr]) >= c.cfg.MaxConnsPerScheduler {
		c.mu.Unlock()
		conn.Close()
		return
	}
	c.pools[addr] = append(c.pools[addr], conn)
	c.mu.Unlock()
}
