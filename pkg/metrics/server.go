package metrics

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/peerdrift/peerd/internal/logger"
	"github.com/peerdrift/peerd/pkg/shutdown"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server exposes the metrics registry over HTTP at /metrics.
type Server struct {
	server       *http.Server
	port         int
	token        *shutdown.Shutdown
	shutdownOnce sync.Once
}

// NewServer creates the metrics HTTP server in a stopped state.
func NewServer(m *Metrics, port int, token *shutdown.Shutdown) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.Registry(), promhttp.HandlerOpts{}))

	return &Server{
		server: &http.Server{
			Addr:         fmt.Sprintf(":%d", port),
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
		port:  port,
		token: token,
	}
}

// Serve blocks until shutdown is triggered, the context is cancelled, or the
// listener fails.
func (s *Server) Serve(ctx context.Context) error {
	errChan := make(chan error, 1)
	go func() {
		logger.Info("Metrics server listening", "port", s.port)
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
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
		return fmt.Errorf("metrics server failed: %w", err)
	}
}

func (s *Server) stop() error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := s.server.Shutdown(shutdownCtx); err != nil {
			shutdownErr = fmt.Errorf("metrics server shutdown error: %w", err)
		} else {
			logger.Info("Metrics server stopped gracefully")
		}
	})
	return shutdownErr
}
