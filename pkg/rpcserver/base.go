// Package rpcserver provides the shared listener lifecycle for the daemon's
// RPC servers: the TCP upload server peers fetch pieces from and the unix
// socket download server local clients submit tasks to.
//
// Both servers bind their sockets before arriving at the start barrier and
// begin accepting only after it releases, so all gated services start
// serving together. On shutdown both drain active connections before
// force-closing stragglers.
package rpcserver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/peerdrift/peerd/internal/logger"
	"github.com/peerdrift/peerd/pkg/resource"
	"github.com/peerdrift/peerd/pkg/rpc"
	"github.com/peerdrift/peerd/pkg/shutdown"
	"github.com/peerdrift/peerd/pkg/storage"
	"github.com/peerdrift/peerd/pkg/supervisor"
)

// defaultDrainTimeout bounds the wait for active connections during
// shutdown when the config does not set one.
const defaultDrainTimeout = 5 * time.Second

// Handler serves one procedure. The returned value is XDR-encoded as the
// reply body; a nil value encodes an empty reply.
type Handler func(ctx context.Context, body []byte) (interface{}, error)

// Config holds the shared listener configuration.
type Config struct {
	// Network is "tcp" or "unix".
	Network string

	// Addr is the listen address, a host:port for TCP or a socket path.
	Addr string

	// MaxConnections limits concurrent connections. 0 means unlimited.
	MaxConnections int

	// IdleTimeout closes connections with no traffic. 0 disables it.
	IdleTimeout time.Duration

	// DrainTimeout bounds the wait for active connections during shutdown
	// before they are force-closed. 0 means the default.
	DrainTimeout time.Duration
}

// Server runs the accept loop and dispatches procedures to handlers.
type Server struct {
	name     string
	config   Config
	handlers map[uint32]Handler

	barrier *supervisor.Barrier
	token   *shutdown.Shutdown

	listener    net.Listener
	listenerMu  sync.RWMutex
	activeConns sync.WaitGroup
	connCount   atomic.Int32
	conns       sync.Map
	semaphore   chan struct{}

	shutdownCh   chan struct{}
	shutdownOnce sync.Once

	requestCtx     context.Context
	cancelRequests context.CancelFunc

	// listenerReady is closed once the listener accepts, for tests.
	listenerReady chan struct{}
}

// NewServer creates a server in a stopped state.
func NewServer(name string, config Config, handlers map[uint32]Handler, barrier *supervisor.Barrier, token *shutdown.Shutdown) *Server {
	var semaphore chan struct{}
	if config.MaxConnections > 0 {
		semaphore = make(chan struct{}, config.MaxConnections)
	}

	requestCtx, cancelRequests := context.WithCancel(context.Background())

	return &Server{
		name:           name,
		config:         config,
		handlers:       handlers,
		barrier:        barrier,
		token:          token,
		semaphore:      semaphore,
		shutdownCh:     make(chan struct{}),
		requestCtx:     requestCtx,
		cancelRequests: cancelRequests,
		listenerReady:  make(chan struct{}),
	}
}

// Addr returns the bound listener address. Blocks until the listener is up.
func (s *Server) Addr() string {
	<-s.listenerReady

	s.listenerMu.RLock()
	defer s.listenerMu.RUnlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Serve binds the listener, arrives at the start barrier, and once every
// gated sibling has arrived accepts connections until shutdown is triggered
// or the context is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	listener, err := net.Listen(s.config.Network, s.config.Addr)
	if err != nil {
		// A failed bind still counts as an arrival, so the gated siblings
		// are not stranded at the barrier when this service's exit
		// triggers shutdown.
		close(s.listenerReady)
		s.barrier.Await()
		return fmt.Errorf("%s server listen on %s: %w", s.name, s.config.Addr, err)
	}

	s.listenerMu.Lock()
	s.listener = listener
	s.listenerMu.Unlock()
	close(s.listenerReady)

	s.barrier.Await()

	logger.Info(s.name+" server listening", "network", s.config.Network, "addr", s.config.Addr)

	go func() {
		select {
		case <-s.token.Done():
		case <-ctx.Done():
		}
		s.initiateShutdown()
	}()

	for {
		if s.semaphore != nil {
			select {
			case s.semaphore <- struct{}{}:
			case <-s.shutdownCh:
				return s.drain()
			}
		}

		conn, err := listener.Accept()
		if err != nil {
			if s.semaphore != nil {
				<-s.semaphore
			}
			select {
			case <-s.shutdownCh:
				return s.drain()
			default:
				logger.Debug("Error accepting "+s.name+" connection", "error", err)
				continue
			}
		}

		if tcp, ok := conn.(*net.TCPConn); ok {
			if err := tcp.SetNoDelay(true); err != nil {
				logger.Debug("Failed to set TCP_NODELAY", "error", err)
			}
		}

		s.activeConns.Add(1)
		s.connCount.Add(1)
		addr := conn.RemoteAddr().String()
		s.conns.Store(addr, conn)

		logger.Debug(s.name+" connection accepted", "address", addr, "active", s.connCount.Load())

		go func(addr string, conn net.Conn) {
			defer func() {
				_ = conn.Close()
				s.conns.Delete(addr)
				s.activeConns.Done()
				s.connCount.Add(-1)
				if s.semaphore != nil {
					<-s.semaphore
				}
				logger.Debug(s.name+" connection closed", "address", addr, "active", s.connCount.Load())
			}()

			s.serveConn(s.requestCtx, conn)
		}(addr, conn)
	}
}

// serveConn answers calls on one connection until the peer disconnects,
// a protocol error occurs, or shutdown cancels in-flight requests.
func (s *Server) serveConn(ctx context.Context, conn net.Conn) {
	for {
		if s.config.IdleTimeout > 0 {
			if err := conn.SetReadDeadline(time.Now().Add(s.config.IdleTimeout)); err != nil {
				return
			}
		}

		payload, err := rpc.ReadFrame(conn)
		if err != nil {
			if err != io.EOF {
				logger.Debug(s.name+" read failed", "error", err)
			}
			return
		}

		header, body, err := rpc.DecodeCall(payload)
		if err != nil {
			logger.Debug(s.name+" received malformed call", "error", err)
			return
		}

		reply := s.dispatch(ctx, header, body)
		if err := rpc.WriteFrame(conn, reply); err != nil {
			logger.Debug(s.name+" write failed", "error", err)
			return
		}
	}
}

// dispatch runs the handler for one call and encodes its reply.
func (s *Server) dispatch(ctx context.Context, header *rpc.CallHeader, body []byte) []byte {
	handler, ok := s.handlers[header.Proc]
	if !ok {
		return mustEncodeErrorReply(header.Xid, rpc.StatusBadRequest, fmt.Sprintf("unknown procedure %d", header.Proc))
	}

	result, err := handler(ctx, body)
	if err != nil {
		return mustEncodeErrorReply(header.Xid, statusOf(err), err.Error())
	}

	reply, err := rpc.EncodeReply(header.Xid, result)
	if err != nil {
		logger.Warn(s.name+" reply encoding failed", "proc", header.Proc, "error", err)
		return mustEncodeErrorReply(header.Xid, rpc.StatusInternal, "reply encoding failed")
	}
	return reply
}

// initiateShutdown stops the accept loop, closes the listener, interrupts
// blocking reads, and cancels in-flight requests. Idempotent.
func (s *Server) initiateShutdown() {
	s.shutdownOnce.Do(func() {
		close(s.shutdownCh)

		s.listenerMu.Lock()
		if s.listener != nil {
			if err := s.listener.Close(); err != nil {
				logger.Debug("Error closing "+s.name+" listener", "error", err)
			}
		}
		s.listenerMu.Unlock()

		deadline := time.Now().Add(100 * time.Millisecond)
		s.conns.Range(func(_, value any) bool {
			if conn, ok := value.(net.Conn); ok {
				_ = conn.SetReadDeadline(deadline)
			}
			return true
		})

		s.cancelRequests()
	})
}

// drain waits for active connections, force-closing them on timeout.
func (s *Server) drain() error {
	timeout := s.config.DrainTimeout
	if timeout <= 0 {
		timeout = defaultDrainTimeout
	}

	active := s.connCount.Load()
	logger.Info(s.name+" draining connections", "active", active, "timeout", timeout)

	done := make(chan struct{})
	go func() {
		s.activeConns.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Info(s.name + " server stopped gracefully")
		return nil
	case <-time.After(timeout):
		remaining := s.connCount.Load()
		s.conns.Range(func(_, value any) bool {
			if conn, ok := value.(net.Conn); ok {
				_ = conn.Close()
			}
			return true
		})
		return fmt.Errorf("%s shutdown timeout: %d connections force-closed", s.name, remaining)
	}
}

// statusOf maps domain errors onto wire status codes.
func statusOf(err error) uint32 {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return rpc.StatusNotFound
	case errors.Is(err, resource.ErrTaskRunning):
		return rpc.StatusBadRequest
	case errors.Is(err, resource.ErrNoParents):
		return rpc.StatusUnavailable
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return rpc.StatusUnavailable
	default:
		return rpc.StatusInternal
	}
}

// mustEncodeErrorReply never fails: the error reply is a header-only frame
// of scalar fields.
func mustEncodeErrorReply(xid, status uint32, msg string) []byte {
	reply, err := rpc.EncodeErrorReply(xid, status, msg)
	if err != nil {
		panic(fmt.Sprintf("rpcserver: encode error reply: %v", err))
	}
	return reply
}
