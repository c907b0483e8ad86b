package stats

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/peerdrift/peerd/pkg/shutdown"
	"github.com/peerdrift/peerd/pkg/storage"
)

type fakeUsage struct {
	stats *storage.UsageStats
	err   error
}

func (f *fakeUsage) Usage(ctx context.Context) (*storage.UsageStats, error) {
	return f.stats, f.err
}

func TestStatsEndpoint(t *testing.T) {
	usage := &fakeUsage{stats: &storage.UsageStats{
		TaskCount:     3,
		FinishedTasks: 2,
		ContentBytes:  4096,
	}}

	s := NewServer(0, "ip-172.16.0.10-worker-1", false, usage, shutdown.New())
	ts := httptest.NewServer(s.server.Handler)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/v1/stats")
	if err != nil {
		t.Fatalf("GET /api/v1/stats failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("expected application/json, got %q", ct)
	}

	var snap Snapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		t.Fatalf("failed to decode snapshot: %v", err)
	}

	if snap.HostID != "ip-172.16.0.10-worker-1" {
		t.Errorf("expected host ID ip-172.16.0.10-worker-1, got %q", snap.HostID)
	}
	if snap.TaskCount != 3 {
		t.Errorf("expected 3 tasks, got %d", snap.TaskCount)
	}
	if snap.FinishedTasks != 2 {
		t.Errorf("expected 2 finished tasks, got %d", snap.FinishedTasks)
	}
	if snap.ContentBytes != 4096 {
		t.Errorf("expected 4096 content bytes, got %d", snap.ContentBytes)
	}
	if snap.UptimeSeconds < 0 {
		t.Errorf("uptime must not be negative, got %d", snap.UptimeSeconds)
	}
}

func TestStatsEndpointUsageFailure(t *testing.T) {
	usage := &fakeUsage{err: errors.New("database closed")}

	s := NewServer(0, "ip-172.16.0.10-worker-1", true, usage, shutdown.New())
	ts := httptest.NewServer(s.server.Handler)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/v1/stats")
	if err != nil {
		t.Fatalf("GET /api/v1/stats failed: %v", err)
	}
	defer resp.Body.Close()

	// Usage failure degrades to zeroed counters, the endpoint stays up.
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var snap Snapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		t.Fatalf("failed to decode snapshot: %v", err)
	}
	if !snap.SeedPeer {
		t.Error("expected seed_peer to be true")
	}
	if snap.TaskCount != 0 {
		t.Errorf("expected 0 tasks on usage failure, got %d", snap.TaskCount)
	}
}
