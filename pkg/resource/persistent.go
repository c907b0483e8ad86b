package resource

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/peerdrift/peerd/internal/logger"
	"github.com/peerdrift/peerd/pkg/bufpool"
	"github.com/peerdrift/peerd/pkg/idgen"
	"github.com/peerdrift/peerd/pkg/metrics"
	"github.com/peerdrift/peerd/pkg/rpc"
	"github.com/peerdrift/peerd/pkg/scheduler"
	"github.com/peerdrift/peerd/pkg/storage"
)

// ErrNoParents is returned when a persistent cache task has no peers to
// download from. Persistent cache content has no origin to fall back to.
var ErrNoParents = errors.New("no candidate parents")

// PersistentCacheTaskManager coordinates persistent cache tasks. Their
// content is seeded into the cluster with Import and replicated peer to
// peer; garbage collection never evicts it.
type PersistentCacheTaskManager struct {
	idgen   *idgen.IDGenerator
	store   *storage.Storage
	sched   SchedulerClient
	peers   PeerDownloader
	metrics *metrics.Metrics
}

// NewPersistentCacheTaskManager builds the manager and takes a scheduler
// client reference. Fails if the scheduler client is already closed.
func NewPersistentCacheTaskManager(gen *idgen.IDGenerator, store *storage.Storage, sched SchedulerClient, peers PeerDownloader, m *metrics.Metrics) (*PersistentCacheTaskManager, error) {
	if err := sched.Acquire(); err != nil {
		return nil, fmt.Errorf("acquire scheduler client: %w", err)
	}

	return &PersistentCacheTaskManager{
		idgen:   gen,
		store:   store,
		sched:   sched,
		peers:   peers,
		metrics: m,
	}, nil
}

// Close releases the scheduler client reference.
func (p *PersistentCacheTaskManager) Close() error {
	return p.sched.Release()
}

// Import seeds a local file into the cluster as a persistent cache task and
// announces it to the scheduler so other peers can find it.
func (p *PersistentCacheTaskManager) Import(ctx context.Context, path, tag, application string) (*rpc.DownloadTaskResponse, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open import file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat import file: %w", err)
	}
	contentLength := uint64(info.Size())

	digest, err := fileDigest(f)
	if err != nil {
		return nil, err
	}
	taskID := p.idgen.PersistentCacheTaskID(digest, tag, application)

	if existing, err := p.store.GetTask(ctx, taskID); err == nil && existing.State == storage.TaskStateFinished {
		return &rpc.DownloadTaskResponse{
			TaskID:        taskID,
			ContentLength: existing.ContentLength,
			PieceCount:    pieceCount(existing.ContentLength, existing.PieceLength),
		}, nil
	} else if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}

	now := time.Now()
	task := &storage.Task{
		ID:            taskID,
		Tag:           tag,
		Application:   application,
		ContentLength: contentLength,
		PieceLength:   defaultPieceLength,
		State:         storage.TaskStateRunning,
		Persistent:    true,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := p.store.PutTask(ctx, task); err != nil {
		return nil, err
	}

	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("rewind import file: %w", err)
	}

	count := pieceCount(contentLength, task.PieceLength)
	for number := uint32(0); number < count; number++ {
		offset := uint64(number) * task.PieceLength
		length := task.PieceLength
		if offset+length > contentLength {
			length = contentLength - offset
		}

		data := bufpool.Get(int(length))
		if _, err := io.ReadFull(f, data); err != nil {
			bufpool.Put(data)
			return nil, fmt.Errorf("read import piece %d: %w", number, err)
		}
		err := p.persistPiece(ctx, taskID, number, offset, data)
		bufpool.Put(data)
		if err != nil {
			return nil, fmt.Errorf("import piece %d: %w", number, err)
		}
	}

	task.State = storage.TaskStateFinished
	task.UpdatedAt = time.Now()
	if err := p.store.PutTask(ctx, task); err != nil {
		return nil, err
	}

	p.announce(ctx, task)

	return &rpc.DownloadTaskResponse{
		TaskID:        taskID,
		ContentLength: contentLength,
		PieceCount:    count,
	}, nil
}

// Download replicates a persistent cache task from peers. There is no
// origin fallback: with no reachable parents the download fails.
func (p *PersistentCacheTaskManager) Download(ctx context.Context, taskID string) (*rpc.DownloadTaskResponse, error) {
	if existing, err := p.store.GetTask(ctx, taskID); err == nil {
		switch existing.State {
		case storage.TaskStateFinished:
			p.metrics.RecordDownload("cache_hit")
			return &rpc.DownloadTaskResponse{
				TaskID:        taskID,
				ContentLength: existing.ContentLength,
				PieceCount:    pieceCount(existing.ContentLength, existing.PieceLength),
			}, nil
		case storage.TaskStateRunning:
			return nil, fmt.Errorf("task %s: %w", taskID, ErrTaskRunning)
		}
	} else if !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}

	resp, err := p.sched.AnnouncePeer(ctx, &scheduler.AnnouncePeerRequest{
		TaskID: taskID,
		PeerID: p.idgen.PeerID(),
		HostID: p.idgen.HostID(),
	})
	if err != nil {
		return nil, fmt.Errorf("announce peer: %w", err)
	}
	if len(resp.Parents) == 0 {
		return nil, fmt.Errorf("task %s: %w", taskID, ErrNoParents)
	}

	stat, parent, err := p.statFromParents(ctx, resp.Parents, taskID)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	task := &storage.Task{
		ID:            taskID,
		ContentLength: stat.ContentLength,
		PieceLength:   defaultPieceLength,
		State:         storage.TaskStateRunning,
		Persistent:    true,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := p.store.PutTask(ctx, task); err != nil {
		return nil, err
	}

	// Put the parent that answered the stat first in line.
	parents := append([]scheduler.CandidateParent{parent}, resp.Parents...)

	if err := p.fetchFromParents(ctx, task, parents); err != nil {
		task.State = storage.TaskStateFailed
		task.UpdatedAt = time.Now()
		if putErr := p.store.PutTask(ctx, task); putErr != nil {
			logger.Warn("Failed to mark task failed", "task", taskID, "error", putErr)
		}
		p.metrics.RecordDownload("failure")
		return nil, err
	}

	task.State = storage.TaskStateFinished
	task.UpdatedAt = time.Now()
	if err := p.store.PutTask(ctx, task); err != nil {
		return nil, err
	}

	p.metrics.RecordDownload("success")
	return &rpc.DownloadTaskResponse{
		TaskID:        taskID,
		ContentLength: task.ContentLength,
		PieceCount:    pieceCount(task.ContentLength, task.PieceLength),
	}, nil
}

// Stat returns metadata for a stored persistent cache task.
func (p *PersistentCacheTaskManager) Stat(ctx context.Context, taskID string) (*rpc.StatTaskResponse, error) {
	task, err := p.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}

	return &rpc.StatTaskResponse{
		TaskID:        task.ID,
		State:         task.State,
		ContentLength: task.ContentLength,
		PieceCount:    pieceCount(task.ContentLength, task.PieceLength),
		Persistent:    task.Persistent,
	}, nil
}

// statFromParents asks parents for task metadata until one answers.
func (p *PersistentCacheTaskManager) statFromParents(ctx context.Context, parents []scheduler.CandidateParent, taskID string) (*rpc.StatTaskResponse, scheduler.CandidateParent, error) {
	var lastErr error
	for _, parent := range parents {
		stat, err := p.peers.StatTask(ctx, parent, taskID)
		if err != nil {
			logger.Debug("Parent stat failed", "task", taskID, "parent", parent.PeerID, "error", err)
			lastErr = err
			continue
		}
		return stat, parent, nil
	}
	return nil, scheduler.CandidateParent{}, fmt.Errorf("stat task %s from parents: %w", taskID, lastErr)
}

// fetchFromParents downloads every piece from candidate parents.
func (p *PersistentCacheTaskManager) fetchFromParents(ctx context.Context, task *storage.Task, parents []scheduler.CandidateParent) error {
	count := pieceCount(task.ContentLength, task.PieceLength)

	for number := uint32(0); number < count; number++ {
		offset := uint64(number) * task.PieceLength

		var data []byte
		for _, parent := range parents {
			resp, err := p.peers.DownloadPiece(ctx, parent, task.ID, number)
			if err != nil {
				logger.Debug("Parent piece fetch failed", "task", task.ID, "piece", number, "parent", parent.PeerID, "error", err)
				continue
			}
			if resp.Digest != "" && resp.Digest != pieceDigest(resp.Data) {
				logger.Warn("Parent piece digest mismatch", "task", task.ID, "piece", number, "parent", parent.PeerID)
				continue
			}
			data = resp.Data
			break
		}
		if data == nil {
			return fmt.Errorf("piece %d: %w", number, ErrNoParents)
		}

		if err := p.persistPiece(ctx, task.ID, number, offset, data); err != nil {
			return fmt.Errorf("piece %d: %w", number, err)
		}
		p.metrics.RecordPiece("peer")
	}
	return nil
}

// persistPiece writes piece bytes and the piece record.
func (p *PersistentCacheTaskManager) persistPiece(ctx context.Context, taskID string, number uint32, offset uint64, data []byte) error {
	if err := p.store.WritePieceData(taskID, offset, data); err != nil {
		return err
	}
	return p.store.PutPiece(ctx, &storage.Piece{
		TaskID: taskID,
		Number: number,
		Offset: offset,
		Length: uint64(len(data)),
		Digest: pieceDigest(data),
	})
}

// announce registers the imported task with the scheduler; failure only
// delays discovery until the next host announcement.
func (p *PersistentCacheTaskManager) announce(ctx context.Context, task *storage.Task) {
	_, err := p.sched.AnnouncePeer(ctx, &scheduler.AnnouncePeerRequest{
		TaskID: task.ID,
		PeerID: p.idgen.PeerID(),
		HostID: p.idgen.HostID(),
	})
	if err != nil {
		logger.Warn("Failed to announce imported task", "task", task.ID, "error", err)
	}
}

// fileDigest hashes a whole file in the piece digest wire format.
func fileDigest(r io.Reader) (string, error) {
	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", fmt.Errorf("hash import file: %w", err)
	}
	return "sha256:" + hex.EncodeToString(h.Sum(nil)), nil
}
