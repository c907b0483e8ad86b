// Package storage persists task and piece metadata in BadgerDB and piece
// content in flat files under the configured directory.
//
// Layout under the storage dir:
//
//	metadata/   BadgerDB holding task and piece records
//	content/    one file per task, pieces written at their offsets
//
// New fails when the directory cannot be created or written, so the daemon
// refuses to start on an unusable volume instead of failing mid-download.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	badger "github.com/dgraph-io/badger/v4"
)

// ErrNotFound is returned when a task or piece does not exist.
var ErrNotFound = errors.New("not found")

// Task states.
const (
	TaskStatePending  = "pending"
	TaskStateRunning  = "running"
	TaskStateFinished = "finished"
	TaskStateFailed   = "failed"
)

// Task is the persisted metadata for one download task.
type Task struct {
	ID            string    `json:"id"`
	URL           string    `json:"url"`
	Tag           string    `json:"tag,omitempty"`
	Application   string    `json:"application,omitempty"`
	ContentLength uint64    `json:"content_length"`
	PieceLength   uint64    `json:"piece_length"`
	State         string    `json:"state"`
	Persistent    bool      `json:"persistent,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Piece is the persisted metadata for one piece of a task.
type Piece struct {
	TaskID string `json:"task_id"`
	Number uint32 `json:"number"`
	Offset uint64 `json:"offset"`
	Length uint64 `json:"length"`
	Digest string `json:"digest,omitempty"`
}

// Storage owns the metadata database and the content directory.
// All methods are safe for concurrent use.
type Storage struct {
	dir        string
	contentDir string
	db         *badger.DB
}

// New opens the storage under dir, creating the layout if needed.
//
// The directory is probed with a write before the database is opened: an
// unusable dir (missing parent on a read-only mount, a file where the dir
// should be) fails here, before any service starts.
func New(dir string) (*Storage, error) {
	if dir == "" {
		return nil, errors.New("storage dir must not be empty")
	}

	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}

	// Write probe: MkdirAll succeeds on an existing read-only dir.
	probe := filepath.Join(dir, ".probe")
	if err := os.WriteFile(probe, nil, 0600); err != nil {
		return nil, fmt.Errorf("storage dir not writable: %w", err)
	}
	_ = os.Remove(probe)

	contentDir := filepath.Join(dir, "content")
	if err := os.MkdirAll(contentDir, 0700); err != nil {
		return nil, fmt.Errorf("create content dir: %w", err)
	}

	opts := badger.DefaultOptions(filepath.Join(dir, "metadata")).
		WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open metadata database: %w", err)
	}

	return &Storage{
		dir:        dir,
		contentDir: contentDir,
		db:         db,
	}, nil
}

// Dir returns the storage root directory.
func (s *Storage) Dir() string {
	return s.dir
}

// Close flushes and closes the metadata database.
func (s *Storage) Close() error {
	return s.db.Close()
}

// PutTask stores or updates a task record.
func (s *Storage) PutTask(ctx context.Context, task *Task) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := encodeTask(task)
	if err != nil {
		return err
	}

	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(keyTask(task.ID), data)
	})
}

// GetTask retrieves a task by ID. Returns ErrNotFound if it does not exist.
func (s *Storage) GetTask(ctx context.Context, taskID string) (*Task, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var task *Task
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(keyTask(taskID))
		if err == badger.ErrKeyNotFound {
			return fmt.Errorf("task %s: %w", taskID, ErrNotFound)
		}
		if err != nil {
			return err
		}

		return item.Value(func(val []byte) error {
			var decErr error
			task, decErr = decodeTask(val)
			return decErr
		})
	})
	if err != nil {
		return nil, err
	}

	return task, nil
}

// DeleteTask removes a task, its piece records, and its content file.
// Returns ErrNotFound if the task does not exist.
func (s *Storage) DeleteTask(ctx context.Context, taskID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	err := s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(keyTask(taskID)); err == badger.ErrKeyNotFound {
			return fmt.Errorf("task %s: %w", taskID, ErrNotFound)
		} else if err != nil {
			return err
		}

		if err := txn.Delete(keyTask(taskID)); err != nil {
			return err
		}

		// Collect piece keys first; deleting while iterating invalidates
		// the iterator.
		var pieceKeys [][]byte
		opts := badger.DefaultIteratorOptions
		opts.Prefix = keyPiecePrefix(taskID)
		opts.PrefetchValues = false

		it := txn.NewIterator(opts)
		for it.Rewind(); it.Valid(); it.Next() {
			pieceKeys = append(pieceKeys, it.Item().KeyCopy(nil))
		}
		it.Close()

		for _, k := range pieceKeys {
			if err := txn.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	if rmErr := os.Remove(s.ContentPath(taskID)); rmErr != nil && !os.IsNotExist(rmErr) {
		return fmt.Errorf("remove content file: %w", rmErr)
	}
	return nil
}

// ListTasks returns all task records.
func (s *Storage) ListTasks(ctx context.Context) ([]*Task, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var tasks []*Task
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefixTask)
		opts.PrefetchValues = true

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				task, err := decodeTask(val)
				if err != nil {
					return err
				}
				tasks = append(tasks, task)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return tasks, nil
}

// ListExpiredTasks returns finished or failed tasks not updated within ttl.
// Persistent tasks are never reported as expired.
func (s *Storage) ListExpiredTasks(ctx context.Context, ttl time.Duration, now time.Time) ([]*Task, error) {
	tasks, err := s.ListTasks(ctx)
	if err != nil {
		return nil, err
	}

	var expired []*Task
	for _, task := range tasks {
		if task.Persistent {
			continue
		}
		if task.State != TaskStateFinished && task.State != TaskStateFailed {
			continue
		}
		if now.Sub(task.UpdatedAt) >= ttl {
			expired = append(expired, task)
		}
	}
	return expired, nil
}

// PutPiece stores a piece record.
func (s *Storage) PutPiece(ctx context.Context, piece *Piece) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := encodePiece(piece)
	if err != nil {
		return err
	}

	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(keyPiece(piece.TaskID, piece.Number), data)
	})
}

// GetPiece retrieves a piece record. Returns ErrNotFound if it does not exist.
func (s *Storage) GetPiece(ctx context.Context, taskID string, number uint32) (*Piece, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var piece *Piece
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(keyPiece(taskID, number))
		if err == badger.ErrKeyNotFound {
			return fmt.Errorf("piece %s/%d: %w", taskID, number, ErrNotFound)
		}
		if err != nil {
			return err
		}

		return item.Value(func(val []byte) error {
			var decErr error
			piece, decErr = decodePiece(val)
			return decErr
		})
	})
	if err != nil {
		return nil, err
	}

	return piece, nil
}

// ListPieces returns all piece records for a task, in key order.
func (s *Storage) ListPieces(ctx context.Context, taskID string) ([]*Piece, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var pieces []*Piece
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = keyPiecePrefix(taskID)
		opts.PrefetchValues = true

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				piece, err := decodePiece(val)
				if err != nil {
					return err
				}
				pieces = append(pieces, piece)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return pieces, nil
}

// WritePieceData writes piece bytes at the given offset in the task's
// content file, creating the file on first write.
func (s *Storage) WritePieceData(taskID string, offset uint64, data []byte) error {
	f, err := os.OpenFile(s.ContentPath(taskID), os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("open content file: %w", err)
	}
	defer f.Close()

	if _, err := f.WriteAt(data, int64(offset)); err != nil {
		return fmt.Errorf("write piece data: %w", err)
	}
	return nil
}

// ReadPieceData reads length bytes at the given offset from the task's
// content file.
func (s *Storage) ReadPieceData(taskID string, offset, length uint64) ([]byte, error) {
	f, err := os.Open(s.ContentPath(taskID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("content for task %s: %w", taskID, ErrNotFound)
		}
		return nil, fmt.Errorf("open content file: %w", err)
	}
	defer f.Close()

	buf := make([]byte, length)
	if _, err := f.ReadAt(buf, int64(offset)); err != nil && err != io.EOF {
		return nil, fmt.Errorf("read piece data: %w", err)
	}
	return buf, nil
}

// ContentPath returns the content file path for a task.
func (s *Storage) ContentPath(taskID string) string {
	return filepath.Join(s.contentDir, taskID)
}

// UsageStats summarizes stored tasks for the stats endpoint.
type UsageStats struct {
	TaskCount     int    `json:"task_count"`
	FinishedTasks int    `json:"finished_tasks"`
	ContentBytes  uint64 `json:"content_bytes"`
}

// Usage scans task records and returns aggregate usage.
func (s *Storage) Usage(ctx context.Context) (*UsageStats, error) {
	tasks, err := s.ListTasks(ctx)
	if err != nil {
		return nil, err
	}

	stats := &UsageStats{TaskCount: len(tasks)}
	for _, task := range tasks {
		if task.State == TaskStateFinished {
			stats.FinishedTasks++
		}
		stats.ContentBytes += task.ContentLength
	}
	return stats, nil
}
