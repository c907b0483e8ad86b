// Package stats serves runtime statistics as JSON, consumed by the peerd
// status command.
package stats

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/peerdrift/peerd/internal/logger"
	"github.com/peerdrift/peerd/pkg/shutdown"
	"github.com/peerdrift/peerd/pkg/storage"
)

// UsageReader is the slice of storage the stats server needs.
type UsageReader interface {
	Usage(ctx context.Context) (*storage.UsageStats, error)
}

// Snapshot is the stats payload returned by GET /api/v1/stats.
type Snapshot struct {
	HostID        string `json:"host_id"`
	SeedPeer      bool   `json:"seed_peer"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	TaskCount     int    `json:"task_count"`
	FinishedTasks int    `json:"finished_tasks"`
	ContentBytes  uint64 `json:"content_bytes"`
}

// Server exposes runtime stats over HTTP.
type Server struct {
	server       *http.Server
	port         int
	token        *shutdown.Shutdown
	shutdownOnce sync.Once
}

// NewServer creates the stats HTTP server in a stopped state.
func NewServer(port int, hostID string, seedPeer bool, usage UsageReader, token *shutdown.Shutdown) *Server {
	startedAt := time.Now()

	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(10 * time.Second))

	r.Get("/api/v1/stats", func(w http.ResponseWriter, req *http.Request) {
		snap := Snapshot{
			HostID:        hostID,
			SeedPeer:      seedPeer,
			UptimeSeconds: int64(time.Since(startedAt).Seconds()),
		}

		if stats, err := usage.Usage(req.Context()); err != nil {
			logger.Warn("Stats usage scan failed", "error", err)
		} else {
			snap.TaskCount = stats.TaskCount
			snap.FinishedTasks = stats.FinishedTasks
			snap.ContentBytes = stats.ContentBytes
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(snap); err != nil {
			logger.Warn("Stats encoding failed", "error", err)
		}
	})

	return &Server{
		server: &http.Server{
			Addr:         fmt.Sprintf(":%d", port),
			Handler:      r,
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
		logger.Info("Stats server listening", "port", s.port)
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
		return fmt.Errorf("stats server failed: %w", err)
	}
}

func (s *Server) stop() error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := s.server.Shutdown(shutdownCtx); err != nil {
			shutdownErr = fmt.Errorf("stats server shutdown error: %w", err)
		} else {
			logger.Info("Stats server stopped gracefully")
		}
	})
	return shutdownErr
}
