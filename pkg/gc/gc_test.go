package gc

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/peerdrift/peerd/pkg/shutdown"
	"github.com/peerdrift/peerd/pkg/storage"
)

type fakeStore struct {
	mu        sync.Mutex
	expired   []*storage.Task
	deleteErr map[string]error
	deleted   []string
}

func (f *fakeStore) ListExpiredTasks(ctx context.Context, ttl time.Duration, now time.Time) ([]*storage.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.expired, nil
}

func (f *fakeStore) DeleteTask(ctx context.Context, taskID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.deleteErr[taskID]; err != nil {
		return err
	}
	f.deleted = append(f.deleted, taskID)
	return nil
}

type fakeNotifier struct {
	mu       sync.Mutex
	notified []string
}

func (f *fakeNotifier) DeleteTask(ctx context.Context, taskID, hostID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notified = append(f.notified, taskID)
	return nil
}

func TestCollectEvictsAndNotifies(t *testing.T) {
	store := &fakeStore{expired: []*storage.Task{
		{ID: "t1", State: storage.TaskStateFinished},
		{ID: "t2", State: storage.TaskStateFailed},
	}}
	notifier := &fakeNotifier{}
	c := New(store, notifier, "h1", time.Minute, time.Hour, nil, shutdown.New())

	evicted := c.collect(context.Background())
	if evicted != 2 {
		t.Errorf("expected 2 evictions, got %d", evicted)
	}
	if len(store.deleted) != 2 {
		t.Errorf("expected 2 deletions, got %v", store.deleted)
	}
	if len(notifier.notified) != 2 {
		t.Errorf("expected 2 scheduler notices, got %v", notifier.notified)
	}
}

func TestCollectContinuesPastFailures(t *testing.T) {
	store := &fakeStore{
		expired: []*storage.Task{
			{ID: "t1", State: storage.TaskStateFinished},
			{ID: "t2", State: storage.TaskStateFinished},
		},
		deleteErr: map[string]error{"t1": errors.New("database closed")},
	}
	notifier := &fakeNotifier{}
	c := New(store, notifier, "h1", time.Minute, time.Hour, nil, shutdown.New())

	evicted := c.collect(context.Background())
	if evicted != 1 {
		t.Errorf("expected 1 eviction past the failure, got %d", evicted)
	}
	if len(notifier.notified) != 1 || notifier.notified[0] != "t2" {
		t.Errorf("expected notice for t2 only, got %v", notifier.notified)
	}
}

func TestServeStopsOnShutdown(t *testing.T) {
	token := shutdown.New()
	c := New(&fakeStore{}, &fakeNotifier{}, "h1", time.Minute, time.Hour, nil, token)

	serveErr := make(chan error, 1)
	go func() { serveErr <- c.Serve(context.Background()) }()

	token.Trigger()
	select {
	case err := <-serveErr:
		if err != nil {
			t.Errorf("serve returned error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("collector did not stop on shutdown")
	}
}

func TestServeRunsPassesOnInterval(t *testing.T) {
	store := &fakeStore{expired: []*storage.Task{{ID: "t1", State: storage.TaskStateFinished}}}
	notifier := &fakeNotifier{}
	token := shutdown.New()
	c := New(store, notifier, "h1", 10*time.Millisecond, time.Hour, nil, token)

	go func() { _ = c.Serve(context.Background()) }()
	defer token.Trigger()

	deadline := time.After(2 * time.Second)
	for {
		store.mu.Lock()
		n := len(store.deleted)
		store.mu.Unlock()
		if n >= 1 {
			return
		}
		select {
		case <-deadline:
			t.Fatal("collector never ran a pass")
		case <-time.After(5 * time.Millisecond):
		}
	}
}
