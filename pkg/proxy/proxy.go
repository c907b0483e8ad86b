// Package proxy turns plain HTTP GETs into peer-to-peer downloads. Clients
// point their HTTP proxy at the daemon; fetched content is cached locally
// and seeded back into the cluster.
package proxy

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/peerdrift/peerd/internal/logger"
	"github.com/peerdrift/peerd/pkg/metrics"
	"github.com/peerdrift/peerd/pkg/rpc"
	"github.com/peerdrift/peerd/pkg/shutdown"
	"github.com/peerdrift/peerd/pkg/supervisor"
)

// Downloader is the slice of the task manager the proxy uses.
type Downloader interface {
	Download(ctx context.Context, req *rpc.DownloadTaskRequest) (*rpc.DownloadTaskResponse, error)
	ReadPiece(ctx context.Context, taskID string, number uint32) (*rpc.DownloadPieceResponse, error)
}

// Config tunes the proxy server.
type Config struct {
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Server is the HTTP proxy. It binds its socket before arriving at the
// start barrier and serves only after release, in lockstep with the upload
// and download servers.
type Server struct {
	server       *http.Server
	port         int
	barrier      *supervisor.Barrier
	token        *shutdown.Shutdown
	shutdownOnce sync.Once
}

// NewServer creates the proxy server in a stopped state.
func NewServer(mgr Downloader, config Config, m *metrics.Metrics, barrier *supervisor.Barrier, token *shutdown.Shutdown) *Server {
	h := &handler{mgr: mgr, metrics: m}

	return &Server{
		server: &http.Server{
			Addr:         fmt.Sprintf(":%d", config.Port),
			Handler:      h,
			ReadTimeout:  config.ReadTimeout,
			WriteTimeout: config.WriteTimeout,
		},
		port:    config.Port,
		barrier: barrier,
		token:   token,
	}
}

// Serve binds the listener, arrives at the start barrier, and once released
// blocks until shutdown is triggered, the context is cancelled, or the
// server fails.
func (s *Server) Serve(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		// A failed bind still counts as an arrival, so the gated siblings
		// are not stranded at the barrier when this exit triggers shutdown.
		s.barrier.Await()
		return fmt.Errorf("proxy server listen on %s: %w", s.server.Addr, err)
	}

	s.barrier.Await()

	errChan := make(chan error, 1)
	go func() {
		logger.Info("Proxy server listening", "port", s.port)
		if err := s.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			select {
			case errChan <- err:
			default:
			}
		}
	}()

	select {
	case <-s.token.Done():
		return s.stop()
	case <-ctx.Done():
		return s.stop()
	case err := <-errChan:
		return fmt.Errorf("proxy server failed: %w", err)
	}
}

func (s *Server) stop() error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := s.server.Shutdown(shutdownCtx); err != nil {
			shutdownErr = fmt.Errorf("proxy server shutdown error: %w", err)
		} else {
			logger.Info("Proxy server stopped gracefully")
		}
	})
	return shutdownErr
}

// handler answers proxied GETs out of the cluster.
type handler struct {
	mgr     Downloader
	metrics *metrics.Metrics
}

func (h *handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodConnect {
		// TLS interception is not supported; clients must use plain HTTP
		// proxying for cacheable traffic.
		http.Error(w, "CONNECT not supported", http.StatusNotImplemented)
		return
	}
	if r.Method != http.MethodGet {
		http.Error(w, "only GET is proxied", http.StatusMethodNotAllowed)
		return
	}
	if !r.URL.IsAbs() {
		http.Error(w, "request URL must be absolute", http.StatusBadRequest)
		return
	}

	h.metrics.RecordProxyRequest()

	req := &rpc.DownloadTaskRequest{
		URL:         r.URL.String(),
		Tag:         r.Header.Get("X-Peerd-Tag"),
		Application: r.Header.Get("X-Peerd-Application"),
	}

	task, err := h.mgr.Download(r.Context(), req)
	if err != nil {
		logger.Warn("Proxied download failed", "url", req.URL, "error", err)
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}

	w.Header().Set("Content-Length", strconv.FormatUint(task.ContentLength, 10))
	w.Header().Set("X-Peerd-Task-ID", task.TaskID)
	w.WriteHeader(http.StatusOK)

	for number := uint32(0); number < task.PieceCount; number++ {
		piece, err := h.mgr.ReadPiece(r.Context(), task.TaskID, number)
		if err != nil {
			// Headers are gone; all we can do is drop the connection.
			logger.Warn("Failed to stream piece", "task", task.TaskID, "piece", number, "error", err)
			return
		}
		if _, err := w.Write(piece.Data); err != nil {
			return
		}
	}
}
