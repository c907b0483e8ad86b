package rpcserver

import (
	"context"
	"fmt"
	"time"

	"github.com/peerdrift/peerd/pkg/resource"
	"github.com/peerdrift/peerd/pkg/rpc"
	"github.com/peerdrift/peerd/pkg/shutdown"
	"github.com/peerdrift/peerd/pkg/supervisor"
)

// NewUploadServer builds the TCP server other peers fetch pieces from.
func NewUploadServer(mgr *resource.TaskManager, config Config, barrier *supervisor.Barrier, token *shutdown.Shutdown) *Server {
	handlers := map[uint32]Handler{
		rpc.ProcDownloadPiece: func(ctx context.Context, body []byte) (interface{}, error) {
			var req rpc.DownloadPieceRequest
			if err := rpc.DecodeBody(body, &req); err != nil {
				return nil, err
			}
			return mgr.ReadPiece(ctx, req.TaskID, req.Number)
		},
		rpc.ProcSyncPieces: func(ctx context.Context, body []byte) (interface{}, error) {
			var req rpc.SyncPiecesRequest
			if err := rpc.DecodeBody(body, &req); err != nil {
				return nil, err
			}
			numbers, err := mgr.PieceNumbers(ctx, req.TaskID)
			if err != nil {
				return nil, err
			}
			return &rpc.SyncPiecesResponse{Numbers: numbers}, nil
		},
		rpc.ProcStatTask: func(ctx context.Context, body []byte) (interface{}, error) {
			var req rpc.StatTaskRequest
			if err := rpc.DecodeBody(body, &req); err != nil {
				return nil, err
			}
			return mgr.StatTask(ctx, req.TaskID)
		},
	}

	return NewServer("upload", config, handlers, barrier, token)
}

// UploadConfig returns the listener config for the upload server.
func UploadConfig(port, maxConnections int, idleTimeout time.Duration) Config {
	return Config{
		Network:        "tcp",
		Addr:           fmt.Sprintf(":%d", port),
		MaxConnections: maxConnections,
		IdleTimeout:    idleTimeout,
	}
}
