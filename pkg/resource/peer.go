package resource

import (
	"context"
	"fmt"
	"net"

	"github.com/peerdrift/peerd/pkg/rpc"
	"github.com/peerdrift/peerd/pkg/scheduler"
)

// PeerDownloader fetches pieces and task metadata from other peers' upload
// servers. Swappable so task manager tests run without a network.
type PeerDownloader interface {
	DownloadPiece(ctx context.Context, parent scheduler.CandidateParent, taskID string, number uint32) (*rpc.DownloadPieceResponse, error)
	StatTask(ctx context.Context, parent scheduler.CandidateParent, taskID string) (*rpc.StatTaskResponse, error)
}

// rpcPeerDownloader dials the parent's upload server per piece. Piece
// transfers are one-shot; connection reuse across pieces of the same parent
// is the transport's job, not worth a pool at this layer.
type rpcPeerDownloader struct{}

// NewPeerDownloader returns the RPC-backed peer downloader.
func NewPeerDownloader() PeerDownloader {
	return &rpcPeerDownloader{}
}

func (d *rpcPeerDownloader) DownloadPiece(ctx context.Context, parent scheduler.CandidateParent, taskID string, number uint32) (*rpc.DownloadPieceResponse, error) {
	addr := fmt.Sprintf("%s:%d", parent.IP, parent.UploadPort)

	dialer := &net.Dialer{}
	netConn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial parent %s: %w", addr, err)
	}

	conn := rpc.NewConn(netConn)
	defer conn.Close()

	req := rpc.DownloadPieceRequest{TaskID: taskID, Number: number}
	var resp rpc.DownloadPieceResponse
	if err := conn.Call(ctx, rpc.ProcDownloadPiece, &req, &resp); err != nil {
		return nil, fmt.Errorf("download piece %d from %s: %w", number, addr, err)
	}
	return &resp, nil
}

func (d *rpcPeerDownloader) StatTask(ctx context.Context, parent scheduler.CandidateParent, taskID string) (*rpc.StatTaskResponse, error) {
	addr := fmt.Sprintf("%s:%d", parent.IP, parent.UploadPort)

	dialer := &net.Dialer{}
	netConn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial parent %s: %w", addr, err)
	}

	conn := rpc.NewConn(netConn)
	defer conn.Close()

	req := rpc.StatTaskRequest{TaskID: taskID}
	var resp rpc.StatTaskResponse
	if err := conn.Call(ctx, rpc.ProcStatTask, &req, &resp); err != nil {
		return nil, fmt.Errorf("stat task on %s: %w", addr, err)
	}
	return &resp, nil
}
