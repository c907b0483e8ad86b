package rpcserver

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/peerdrift/peerd/pkg/resource"
	"github.com/peerdrift/peerd/pkg/rpc"
	"github.com/peerdrift/peerd/pkg/shutdown"
	"github.com/peerdrift/peerd/pkg/supervisor"
)

// NewDownloadServer builds the unix socket server local clients submit
// download tasks to.
func NewDownloadServer(mgr *resource.TaskManager, cache *resource.PersistentCacheTaskManager, config Config, barrier *supervisor.Barrier, token *shutdown.Shutdown) *Server {
	handlers := map[uint32]Handler{
		rpc.ProcDownloadTask: func(ctx context.Context, body []byte) (interface{}, error) {
			var req rpc.DownloadTaskRequest
			if err := rpc.DecodeBody(body, &req); err != nil {
				return nil, err
			}
			return mgr.Download(ctx, &req)
		},
		rpc.ProcStatTask: func(ctx context.Context, body []byte) (interface{}, error) {
			var req rpc.StatTaskRequest
			if err := rpc.DecodeBody(body, &req); err != nil {
				return nil, err
			}
			return mgr.StatTask(ctx, req.TaskID)
		},
		rpc.ProcDeleteTask: func(ctx context.Context, body []byte) (interface{}, error) {
			var req rpc.DeleteTaskRequest
			if err := rpc.DecodeBody(body, &req); err != nil {
				return nil, err
			}
			return nil, mgr.DeleteTask(ctx, req.TaskID)
		},
		rpc.ProcDownloadPersistentCacheTask: func(ctx context.Context, body []byte) (interface{}, error) {
			var req rpc.DownloadPersistentCacheTaskRequest
			if err := rpc.DecodeBody(body, &req); err != nil {
				return nil, err
			}
			return cache.Download(ctx, req.TaskID)
		},
		rpc.ProcImportPersistentCacheTask: func(ctx context.Context, body []byte) (interface{}, error) {
			var req rpc.ImportPersistentCacheTaskRequest
			if err := rpc.DecodeBody(body, &req); err != nil {
				return nil, err
			}
			return cache.Import(ctx, req.Path, req.Tag, req.Application)
		},
		rpc.ProcStatPersistentCacheTask: func(ctx context.Context, body []byte) (interface{}, error) {
			var req rpc.StatTaskRequest
			if err := rpc.DecodeBody(body, &req); err != nil {
				return nil, err
			}
			return cache.Stat(ctx, req.TaskID)
		},
	}

	return NewServer("download", config, handlers, barrier, token)
}

// DownloadConfig returns the listener config for the download socket,
// creating the socket directory and removing any stale socket file left by
// a previous run.
func DownloadConfig(socketPath string, maxConnections int) (Config, error) {
	if err := os.MkdirAll(filepath.Dir(socketPath), 0755); err != nil {
		return Config{}, fmt.Errorf("create socket dir: %w", err)
	}
	if err := os.Remove(socketPath); err != nil && !os.IsNotExist(err) {
		return Config{}, fmt.Errorf("remove stale socket: %w", err)
	}

	return Config{
		Network:        "unix",
		Addr:           socketPath,
		MaxConnections: maxConnections,
	}, nil
}
