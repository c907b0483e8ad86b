// Package health serves the liveness endpoint used by orchestrators and the
// peerd CLI to probe a running daemon.
package health

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/peerdrift/peerd/internal/logger"
	"github.com/peerdrift/peerd/pkg/shutdown"
)

// Server answers GET /healthy with 200 while the daemon runs.
type Server struct {
	server       *http.Server
	port         int
	token        *shutdown.Shutdown
	shutdownOnce sync.Once
}

// NewServer creates the health HTTP server in a stopped state.
func NewServer(port int, token *shutdown.Shutdown) *Server {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthy", func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	return &Server{
		server: &http.Server{
			Addr:         fmt.Sprintf(":%d", port),
			Handler:      r,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 5 * time.Second,
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
		logger.Info("Health server listening", "port", s.port)
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
		return fmt.Errorf("health server failed: %w", err)
	}
}

func (s *Server) stop() error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := s.server.Shutdown(shutdownCtx); err != nil {
			shutdownErr = fmt.Errorf("health server shutdown error: %w", err)
		} else {
			logger.Info("Health server stopped gracefully")
		}
	})
	return shutdownErr
}
