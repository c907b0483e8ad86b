// Package resource orchestrates downloads: it derives task IDs, announces
// peers to the scheduler, fetches pieces from parents or the origin, and
// persists everything through storage.
//
// Task managers hold a reference on the scheduler client for their whole
// lifetime. The daemon releases that reference during teardown, after every
// service using the manager has stopped.
package resource

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/peerdrift/peerd/internal/logger"
	"github.com/peerdrift/peerd/pkg/backend"
	"github.com/peerdrift/peerd/pkg/bufpool"
	"github.com/peerdrift/peerd/pkg/idgen"
	"github.com/peerdrift/peerd/pkg/metrics"
	"github.com/peerdrift/peerd/pkg/rpc"
	"github.com/peerdrift/peerd/pkg/scheduler"
	"github.com/peerdrift/peerd/pkg/storage"
)

// defaultPieceLength is the piece size tasks are split into.
const defaultPieceLength = 4 << 20

// ErrTaskRunning is returned when an operation conflicts with an in-flight
// download of the same task.
var ErrTaskRunning = errors.New("task is running")

// SchedulerClient is the slice of the scheduler client task managers use.
type SchedulerClient interface {
	Acquire() error
	Release() error
	AnnouncePeer(ctx context.Context, req *scheduler.AnnouncePeerRequest) (*scheduler.AnnouncePeerResponse, error)
	DeleteTask(ctx context.Context, taskID, hostID string) error
}

// BackendFactory resolves origin backends by URL scheme.
type BackendFactory interface {
	Build(rawURL string) (backend.Backend, error)
}

// TaskManager coordinates download tasks end to end.
type TaskManager struct {
	idgen       *idgen.IDGenerator
	store       *storage.Storage
	sched       SchedulerClient
	backends    BackendFactory
	peers       PeerDownloader
	metrics     *metrics.Metrics
	pieceLength uint64
}

// NewTaskManager builds a task manager and takes a scheduler client
// reference. Fails if the scheduler client is already closed.
func NewTaskManager(gen *idgen.IDGenerator, store *storage.Storage, sched SchedulerClient, backends BackendFactory, peers PeerDownloader, m *metrics.Metrics) (*TaskManager, error) {
	if err := sched.Acquire(); err != nil {
		return nil, fmt.Errorf("acquire scheduler client: %w", err)
	}

	return &TaskManager{
		idgen:       gen,
		store:       store,
		sched:       sched,
		backends:    backends,
		peers:       peers,
		metrics:     m,
		pieceLength: defaultPieceLength,
	}, nil
}

// Close releases the scheduler client reference.
func (t *TaskManager) Close() error {
	return t.sched.Release()
}

// Download runs one download task to completion and returns its metadata.
// A finished task is served from local storage without touching the network.
func (t *TaskManager) Download(ctx context.Context, req *rpc.DownloadTaskRequest) (*rpc.DownloadTaskResponse, error) {
	taskID := t.idgen.TaskID(req.URL, req.Tag, req.Application, req.FilteredQueryParams)

	if existing, err := t.store.GetTask(ctx, taskID); err == nil {
		switch existing.State {
		case storage.TaskStateFinished:
			t.metrics.RecordDownload("cache_hit")
			return &rpc.DownloadTaskResponse{
				TaskID:        taskID,
				ContentLength: existing.ContentLength,
				PieceCount:    pieceCount(existing.ContentLength, existing.PieceLength),
			}, nil
		case storage.TaskStateRunning:
			return nil, fmt.Errorf("task %s: %w", taskID, ErrTaskRunning)
		}
		// Pending or failed tasks restart from scratch.
	} else if !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}

	origin, err := t.backends.Build(req.URL)
	if err != nil {
		return nil, err
	}

	meta, err := origin.Head(ctx, req.URL)
	if err != nil {
		return nil, fmt.Errorf("head origin: %w", err)
	}

	now := time.Now()
	task := &storage.Task{
		ID:            taskID,
		URL:           req.URL,
		Tag:           req.Tag,
		Application:   req.Application,
		ContentLength: meta.ContentLength,
		PieceLength:   t.pieceLength,
		State:         storage.TaskStateRunning,
		Persistent:    req.Persistent,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := t.store.PutTask(ctx, task); err != nil {
		return nil, err
	}

	parents := t.announcePeer(ctx, task)

	if err := t.fetchPieces(ctx, task, origin, parents, meta.SupportsRange); err != nil {
		task.State = storage.TaskStateFailed
		task.UpdatedAt = time.Now()
		if putErr := t.store.PutTask(ctx, task); putErr != nil {
			logger.Warn("Failed to mark task failed", "task", taskID, "error", putErr)
		}
		t.metrics.RecordDownload("failure")
		return nil, err
	}

	task.State = storage.TaskStateFinished
	task.UpdatedAt = time.Now()
	if err := t.store.PutTask(ctx, task); err != nil {
		return nil, err
	}

	t.metrics.RecordDownload("success")
	return &rpc.DownloadTaskResponse{
		TaskID:        taskID,
		ContentLength: task.ContentLength,
		PieceCount:    pieceCount(task.ContentLength, task.PieceLength),
	}, nil
}

// announcePeer reports the download to the scheduler and returns candidate
// parents. Scheduler failures degrade to an origin-only download.
func (t *TaskManager) announcePeer(ctx context.Context, task *storage.Task) []scheduler.CandidateParent {
	resp, err := t.sched.AnnouncePeer(ctx, &scheduler.AnnouncePeerRequest{
		TaskID:      task.ID,
		PeerID:      t.idgen.PeerID(),
		HostID:      t.idgen.HostID(),
		URL:         task.URL,
		Tag:         task.Tag,
		Application: task.Application,
	})
	if err != nil {
		logger.Warn("Peer announcement failed, falling back to origin", "task", task.ID, "error", err)
		return nil
	}
	return resp.Parents
}

// fetchPieces downloads every piece, preferring parents over the origin.
func (t *TaskManager) fetchPieces(ctx context.Context, task *storage.Task, origin backend.Backend, parents []scheduler.CandidateParent, supportsRange bool) error {
	count := pieceCount(task.ContentLength, task.PieceLength)

	// Without range support the whole object comes down in one origin read.
	if !supportsRange && count > 1 {
		return t.fetchWhole(ctx, task, origin, count)
	}

	for number := uint32(0); number < count; number++ {
		offset := uint64(number) * task.PieceLength
		length := task.PieceLength
		if offset+length > task.ContentLength {
			length = task.ContentLength - offset
		}

		data, source, err := t.fetchPiece(ctx, task, origin, parents, number, offset, length)
		if err != nil {
			return fmt.Errorf("piece %d: %w", number, err)
		}

		err = t.persistPiece(ctx, task.ID, number, offset, data)
		bufpool.Put(data)
		if err != nil {
			return fmt.Errorf("piece %d: %w", number, err)
		}
		t.metrics.RecordPiece(source)
	}
	return nil
}

// fetchPiece tries each parent in order, then the origin.
func (t *TaskManager) fetchPiece(ctx context.Context, task *storage.Task, origin backend.Backend, parents []scheduler.CandidateParent, number uint32, offset, length uint64) ([]byte, string, error) {
	for _, parent := range parents {
		resp, err := t.peers.DownloadPiece(ctx, parent, task.ID, number)
		if err != nil {
			logger.Debug("Parent piece fetch failed", "task", task.ID, "piece", number, "parent", parent.PeerID, "error", err)
			continue
		}
		if resp.Digest != "" && resp.Digest != pieceDigest(resp.Data) {
			logger.Warn("Parent piece digest mismatch", "task", task.ID, "piece", number, "parent", parent.PeerID)
			continue
		}
		return resp.Data, "peer", nil
	}

	rd, err := origin.Get(ctx, task.URL, offset, length)
	if err != nil {
		return nil, "", fmt.Errorf("origin get: %w", err)
	}
	defer rd.Close()

	data := bufpool.Get(int(length))
	if _, err := io.ReadFull(rd, data); err != nil {
		bufpool.Put(data)
		return nil, "", fmt.Errorf("origin read: %w", err)
	}
	return data, "origin", nil
}

// fetchWhole streams the entire object from the origin and slices it into
// pieces locally.
func (t *TaskManager) fetchWhole(ctx context.Context, task *storage.Task, origin backend.Backend, count uint32) error {
	rd, err := origin.Get(ctx, task.URL, 0, 0)
	if err != nil {
		return fmt.Errorf("origin get: %w", err)
	}
	defer rd.Close()

	for number := uint32(0); number < count; number++ {
		offset := uint64(number) * task.PieceLength
		length := task.PieceLength
		if offset+length > task.ContentLength {
			length = task.ContentLength - offset
		}

		data := bufpool.Get(int(length))
		if _, err := io.ReadFull(rd, data); err != nil {
			bufpool.Put(data)
			return fmt.Errorf("piece %d: origin read: %w", number, err)
		}
		err = t.persistPiece(ctx, task.ID, number, offset, data)
		bufpool.Put(data)
		if err != nil {
			return fmt.Errorf("piece %d: %w", number, err)
		}
		t.metrics.RecordPiece("origin")
	}
	return nil
}

// persistPiece writes piece bytes and the piece record.
func (t *TaskManager) persistPiece(ctx context.Context, taskID string, number uint32, offset uint64, data []byte) error {
	if err := t.store.WritePieceData(taskID, offset, data); err != nil {
		return err
	}
	return t.store.PutPiece(ctx, &storage.Piece{
		TaskID: taskID,
		Number: number,
		Offset: offset,
		Length: uint64(len(data)),
		Digest: pieceDigest(data),
	})
}

// StatTask returns metadata for a stored task.
func (t *TaskManager) StatTask(ctx context.Context, taskID string) (*rpc.StatTaskResponse, error) {
	task, err := t.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}

	return &rpc.StatTaskResponse{
		TaskID:        task.ID,
		URL:           task.URL,
		State:         task.State,
		ContentLength: task.ContentLength,
		PieceCount:    pieceCount(task.ContentLength, task.PieceLength),
		Persistent:    task.Persistent,
	}, nil
}

// DeleteTask evicts a task locally and tells its scheduler. A running task
// cannot be deleted.
func (t *TaskManager) DeleteTask(ctx context.Context, taskID string) error {
	task, err := t.store.GetTask(ctx, taskID)
	if err != nil {
		return err
	}
	if task.State == storage.TaskStateRunning {
		return fmt.Errorf("task %s: %w", taskID, ErrTaskRunning)
	}

	if err := t.store.DeleteTask(ctx, taskID); err != nil {
		return err
	}

	if err := t.sched.DeleteTask(ctx, taskID, t.idgen.HostID()); err != nil {
		logger.Warn("Failed to notify scheduler of eviction", "task", taskID, "error", err)
	}
	return nil
}

// ReadPiece serves one locally stored piece, for the upload server.
func (t *TaskManager) ReadPiece(ctx context.Context, taskID string, number uint32) (*rpc.DownloadPieceResponse, error) {
	piece, err := t.store.GetPiece(ctx, taskID, number)
	if err != nil {
		return nil, err
	}

	data, err := t.store.ReadPieceData(taskID, piece.Offset, piece.Length)
	if err != nil {
		return nil, err
	}

	return &rpc.DownloadPieceResponse{
		Number: piece.Number,
		Offset: piece.Offset,
		Digest: piece.Digest,
		Data:   data,
	}, nil
}

// PieceNumbers lists the locally held piece numbers of a task.
func (t *TaskManager) PieceNumbers(ctx context.Context, taskID string) ([]uint32, error) {
	pieces, err := t.store.ListPieces(ctx, taskID)
	if err != nil {
		return nil, err
	}

	numbers := make([]uint32, 0, len(pieces))
	for _, piece := range pieces {
		numbers = append(numbers, piece.Number)
	}
	return numbers, nil
}

// pieceCount returns how many pieces a task of contentLength splits into.
func pieceCount(contentLength, pieceLength uint64) uint32 {
	if contentLength == 0 || pieceLength == 0 {
		return 0
	}
	return uint32((contentLength + pieceLength - 1) / pieceLength)
}

// pieceDigest returns the sha256 digest of piece bytes in the wire format.
func pieceDigest(data []byte) string {
	sum := sha256.Sum256(data)
	return "sha256:" + hex.EncodeToString(sum[:])
}
