package dynconfig

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/peerdrift/peerd/pkg/manager"
	"github.com/peerdrift/peerd/pkg/shutdown"
)

type fakeLister struct {
	mu         sync.Mutex
	schedulers []manager.Scheduler
	err        error
	calls      int
}

func (f *fakeLister) ListSchedulers(ctx context.Context) ([]manager.Scheduler, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.schedulers, nil
}

func (f *fakeLister) set(schedulers []manager.Scheduler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.schedulers = schedulers
}

func TestNewFetchesInitialSnapshot(t *testing.T) {
	lister := &fakeLister{schedulers: []manager.Scheduler{
		{ID: "s1", Addr: "10.0.0.1:8002", State: manager.SchedulerStateActive},
	}}

	d, err := New(context.Background(), lister, time.Minute, shutdown.New())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	snap := d.Get()
	if snap == nil || len(snap.Schedulers) != 1 {
		t.Fatalf("expected initial snapshot with 1 scheduler, got %+v", snap)
	}
}

func TestNewFailsWhenManagerUnavailable(t *testing.T) {
	lister := &fakeLister{err: errors.New("connection refused")}

	if _, err := New(context.Background(), lister, time.Minute, shutdown.New()); err == nil {
		t.Error("expected construction to fail when initial fetch fails")
	}
}

func TestActiveSchedulersFiltersInactive(t *testing.T) {
	lister := &fakeLister{schedulers: []manager.Scheduler{
		{ID: "s1", Addr: "10.0.0.1:8002", State: manager.SchedulerStateActive},
		{ID: "s2", Addr: "10.0.0.2:8002", State: "inactive"},
	}}

	d, err := New(context.Background(), lister, time.Minute, shutdown.New())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	active := d.Get().ActiveSchedulers()
	if len(active) != 1 || active[0].ID != "s1" {
		t.Errorf("unexpected active set: %+v", active)
	}
}

func TestWatchNotifiedOnChange(t *testing.T) {
	lister := &fakeLister{schedulers: []manager.Scheduler{
		{ID: "s1", Addr: "10.0.0.1:8002", State: manager.SchedulerStateActive},
	}}

	d, err := New(context.Background(), lister, time.Minute, shutdown.New())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	ch := d.Watch()

	// Unchanged list: no notification.
	if err := d.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	select {
	case <-ch:
		t.Error("unexpected notification for unchanged snapshot")
	case <-time.After(50 * time.Millisecond):
	}

	lister.set([]manager.Scheduler{
		{ID: "s1", Addr: "10.0.0.1:8002", State: manager.SchedulerStateActive},
		{ID: "s3", Addr: "10.0.0.3:8002", State: manager.SchedulerStateActive},
	})
	if err := d.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}

	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Error("expected notification after scheduler list change")
	}
}

func TestRefreshFailureKeepsSnapshot(t *testing.T) {
	lister := &fakeLister{schedulers: []manager.Scheduler{
		{ID: "s1", Addr: "10.0.0.1:8002", State: manager.SchedulerStateActive},
	}}

	d, err := New(context.Background(), lister, time.Minute, shutdown.New())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	lister.mu.Lock()
	lister.err = errors.New("manager down")
	lister.mu.Unlock()

	if err := d.Refresh(context.Background()); err == nil {
		t.Error("expected refresh error")
	}

	if snap := d.Get(); snap == nil || len(snap.Schedulers) != 1 {
		t.Errorf("previous snapshot must survive a failed refresh, got %+v", snap)
	}
}

func TestServeStopsOnShutdown(t *testing.T) {
	lister := &fakeLister{schedulers: []manager.Scheduler{
		{ID: "s1", Addr: "10.0.0.1:8002", State: manager.SchedulerStateActive},
	}}
	token := shutdown.New()

	d, err := New(context.Background(), lister, 10*time.Millisecond, token)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- d.Serve(context.Background()) }()

	// Let at least one refresh tick pass.
	time.Sleep(30 * time.Millisecond)
	token.Trigger()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Serve returned error: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Serve did not stop after shutdown trigger")
	}

	lister.mu.Lock()
	calls := lister.calls
	lister.mu.Unlock()
	if calls < 2 {
		t.Errorf("expected refresh ticks while serving, got %d calls", calls)
	}
}
