package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func newTestStorage(t *testing.T) *Storage {
	t.Helper()

	s, err := New(filepath.Join(t.TempDir(), "storage"))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestNewRejectsUnusableDir(t *testing.T) {
	// A regular file where the directory should be.
	tmpDir := t.TempDir()
	blocked := filepath.Join(tmpDir, "blocked")
	if err := os.WriteFile(blocked, []byte("x"), 0644); err != nil {
		t.Fatalf("setup failed: %v", err)
	}

	if _, err := New(blocked); err == nil {
		t.Error("expected error for file in place of storage dir")
	}
}

func TestNewRejectsReadOnlyDir(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("root ignores directory permissions")
	}

	tmpDir := t.TempDir()
	readonly := filepath.Join(tmpDir, "readonly")
	if err := os.Mkdir(readonly, 0500); err != nil {
		t.Fatalf("setup failed: %v", err)
	}
	t.Cleanup(func() { os.Chmod(readonly, 0700) })

	if _, err := New(readonly); err == nil {
		t.Error("expected error for read-only storage dir")
	}
}

func TestTaskCRUD(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	task := &Task{
		ID:            "task-1",
		URL:           "https://example.com/blob",
		ContentLength: 1 << 20,
		PieceLength:   1 << 18,
		State:         TaskStateRunning,
		CreatedAt:     time.Now(),
		UpdatedAt:     time.Now(),
	}

	if err := s.PutTask(ctx, task); err != nil {
		t.Fatalf("PutTask failed: %v", err)
	}

	got, err := s.GetTask(ctx, "task-1")
	if err != nil {
		t.Fatalf("GetTask failed: %v", err)
	}
	if got.URL != task.URL || got.State != TaskStateRunning {
		t.Errorf("unexpected task: %+v", got)
	}

	got.State = TaskStateFinished
	if err := s.PutTask(ctx, got); err != nil {
		t.Fatalf("PutTask update failed: %v", err)
	}
	updated, err := s.GetTask(ctx, "task-1")
	if err != nil {
		t.Fatalf("GetTask after update failed: %v", err)
	}
	if updated.State != TaskStateFinished {
		t.Errorf("expected finished state, got %q", updated.State)
	}

	if err := s.DeleteTask(ctx, "task-1"); err != nil {
		t.Fatalf("DeleteTask failed: %v", err)
	}
	if _, err := s.GetTask(ctx, "task-1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestGetTaskNotFound(t *testing.T) {
	s := newTestStorage(t)

	_, err := s.GetTask(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestPieceRoundTrip(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	for i := uint32(0); i < 3; i++ {
		piece := &Piece{
			TaskID: "task-1",
			Number: i,
			Offset: uint64(i) * 256,
			Length: 256,
			Digest: "sha256:deadbeef",
		}
		if err := s.PutPiece(ctx, piece); err != nil {
			t.Fatalf("PutPiece failed: %v", err)
		}
	}

	got, err := s.GetPiece(ctx, "task-1", 1)
	if err != nil {
		t.Fatalf("GetPiece failed: %v", err)
	}
	if got.Offset != 256 {
		t.Errorf("expected offset 256, got %d", got.Offset)
	}

	pieces, err := s.ListPieces(ctx, "task-1")
	if err != nil {
		t.Fatalf("ListPieces failed: %v", err)
	}
	if len(pieces) != 3 {
		t.Fatalf("expected 3 pieces, got %d", len(pieces))
	}
	// Zero-padded keys keep pieces in numeric order.
	for i, piece := range pieces {
		if piece.Number != uint32(i) {
			t.Errorf("piece %d out of order: number %d", i, piece.Number)
		}
	}
}

func TestDeleteTaskRemovesPiecesAndContent(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	task := &Task{ID: "task-1", State: TaskStateFinished, CreatedAt: time.Now(), UpdatedAt: time.Now()}
	if err := s.PutTask(ctx, task); err != nil {
		t.Fatalf("PutTask failed: %v", err)
	}
	if err := s.PutPiece(ctx, &Piece{TaskID: "task-1", Number: 0, Length: 5}); err != nil {
		t.Fatalf("PutPiece failed: %v", err)
	}
	if err := s.WritePieceData("task-1", 0, []byte("hello")); err != nil {
		t.Fatalf("WritePieceData failed: %v", err)
	}

	if err := s.DeleteTask(ctx, "task-1"); err != nil {
		t.Fatalf("DeleteTask failed: %v", err)
	}

	if _, err := s.GetPiece(ctx, "task-1", 0); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected piece gone after task delete, got %v", err)
	}
	if _, err := os.Stat(s.ContentPath("task-1")); !os.IsNotExist(err) {
		t.Error("expected content file removed after task delete")
	}
}

func TestPieceDataRoundTrip(t *testing.T) {
	s := newTestStorage(t)

	if err := s.WritePieceData("task-1", 0, []byte("aaaa")); err != nil {
		t.Fatalf("WritePieceData failed: %v", err)
	}
	if err := s.WritePieceData("task-1", 4, []byte("bbbb")); err != nil {
		t.Fatalf("WritePieceData failed: %v", err)
	}

	data, err := s.ReadPieceData("task-1", 2, 4)
	if err != nil {
		t.Fatalf("ReadPieceData failed: %v", err)
	}
	if string(data) != "aabb" {
		t.Errorf("expected \"aabb\", got %q", data)
	}
}

func TestReadPieceDataMissingTask(t *testing.T) {
	s := newTestStorage(t)

	_, err := s.ReadPieceData("missing", 0, 16)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestListExpiredTasks(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()
	now := time.Now()

	put := func(id, state string, age time.Duration, persistent bool) {
		t.Helper()
		err := s.PutTask(ctx, &Task{
			ID:         id,
			State:      state,
			Persistent: persistent,
			CreatedAt:  now.Add(-age),
			UpdatedAt:  now.Add(-age),
		})
		if err != nil {
			t.Fatalf("PutTask failed: %v", err)
		}
	}

	put("old-finished", TaskStateFinished, 2*time.Hour, false)
	put("old-failed", TaskStateFailed, 2*time.Hour, false)
	put("fresh-finished", TaskStateFinished, time.Minute, false)
	put("old-running", TaskStateRunning, 2*time.Hour, false)
	put("old-persistent", TaskStateFinished, 2*time.Hour, true)

	expired, err := s.ListExpiredTasks(ctx, time.Hour, now)
	if err != nil {
		t.Fatalf("ListExpiredTasks failed: %v", err)
	}

	got := map[string]bool{}
	for _, task := range expired {
		got[task.ID] = true
	}
	if len(got) != 2 || !got["old-finished"] || !got["old-failed"] {
		t.Errorf("unexpected expired set: %v", got)
	}
}

func TestUsage(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	if err := s.PutTask(ctx, &Task{ID: "a", State: TaskStateFinished, ContentLength: 100}); err != nil {
		t.Fatalf("PutTask failed: %v", err)
	}
	if err := s.PutTask(ctx, &Task{ID: "b", State: TaskStateRunning, ContentLength: 50}); err != nil {
		t.Fatalf("PutTask failed: %v", err)
	}

	stats, err := s.Usage(ctx)
	if err != nil {
		t.Fatalf("Usage failed: %v", err)
	}
	if stats.TaskCount != 2 || stats.FinishedTasks != 1 || stats.ContentBytes != 150 {
		t.Errorf("unexpected stats: %+v", stats)
	}
}
