package manager

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestListSchedulers(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/schedulers" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		json.NewEncoder(w).Encode([]Scheduler{
			{ID: "sched-1", Addr: "10.0.0.1:8002", State: SchedulerStateActive},
			{ID: "sched-2", Addr: "10.0.0.2:8002", State: "inactive"},
		})
	}))
	defer srv.Close()

	c := New(srv.URL, 5*time.Second)
	defer c.Close()

	schedulers, err := c.ListSchedulers(context.Background())
	if err != nil {
		t.Fatalf("ListSchedulers failed: %v", err)
	}
	if len(schedulers) != 2 {
		t.Fatalf("expected 2 schedulers, got %d", len(schedulers))
	}
	if schedulers[0].Addr != "10.0.0.1:8002" {
		t.Errorf("unexpected scheduler addr %q", schedulers[0].Addr)
	}
}

func TestAnnounceHost(t *testing.T) {
	var received HostAnnouncement

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/v1/hosts" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		json.NewDecoder(r.Body).Decode(&received)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := New(srv.URL, 5*time.Second)
	defer c.Close()

	err := c.AnnounceHost(context.Background(), &HostAnnouncement{
		HostID:     "10.0.0.5-worker-1",
		IP:         "10.0.0.5",
		Hostname:   "worker-1",
		UploadPort: 4000,
	})
	if err != nil {
		t.Fatalf("AnnounceHost failed: %v", err)
	}
	if received.HostID != "10.0.0.5-worker-1" {
		t.Errorf("unexpected announcement: %+v", received)
	}
}

func TestAPIErrorDecoding(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(APIError{Code: "NOT_FOUND", Message: "host not found"})
	}))
	defer srv.Close()

	c := New(srv.URL, 5*time.Second)
	defer c.Close()

	err := c.DeleteHost(context.Background(), "missing")
	if err == nil {
		t.Fatal("expected error")
	}

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %T: %v", err, err)
	}
	if !apiErr.IsNotFound() {
		t.Errorf("expected not-found error, got %+v", apiErr)
	}
}

func TestClosedClientRejectsCalls(t *testing.T) {
	c := New("http://localhost:1", time.Second)
	if err := c.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	_, err := c.ListSchedulers(context.Background())
	if !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}

	// Close is idempotent.
	if err := c.Close(); err != nil {
		t.Errorf("second Close failed: %v", err)
	}
}
