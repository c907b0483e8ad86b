package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/peerdrift/peerd/pkg/config"
	"github.com/peerdrift/peerd/pkg/manager"
	"github.com/peerdrift/peerd/pkg/rpc"
	"github.com/peerdrift/peerd/pkg/scheduler"
	"github.com/peerdrift/peerd/pkg/shutdown"
	"github.com/peerdrift/peerd/pkg/supervisor"
)

// startFakeScheduler runs a minimal scheduler RPC endpoint that accepts
// every announcement.
func startFakeScheduler(t *testing.T) string {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(conn net.Conn) {
				defer conn.Close()
				for {
					payload, err := rpc.ReadFrame(conn)
					if err != nil {
						return
					}
					header, _, err := rpc.DecodeCall(payload)
					if err != nil {
						return
					}

					var reply []byte
					switch header.Proc {
					case rpc.ProcAnnouncePeer:
						reply, err = rpc.EncodeReply(header.Xid, &scheduler.AnnouncePeerResponse{})
					default:
						reply, err = rpc.EncodeReply(header.Xid, nil)
					}
					if err != nil {
						return
					}
					if err := rpc.WriteFrame(conn, reply); err != nil {
						return
					}
				}
			}(conn)
		}
	}()

	return ln.Addr().String()
}

// startFakeManager runs a manager API double listing one active scheduler.
func startFakeManager(t *testing.T, schedulerAddr string) string {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/schedulers", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode([]manager.Scheduler{
			{ID: "s1", Addr: schedulerAddr, State: manager.SchedulerStateActive},
		})
	})
	mux.HandleFunc("/api/v1/hosts", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/api/v1/hosts/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return ts.URL
}

func testConfig(t *testing.T, managerURL string) *config.Config {
	t.Helper()

	dir := t.TempDir()
	return &config.Config{
		Logging:         config.LoggingConfig{Level: "ERROR", Format: "text", Output: "stderr"},
		ShutdownTimeout: 10 * time.Second,
		Host:            config.HostConfig{IP: "127.0.0.1", Hostname: "test-host"},
		Manager: config.ManagerConfig{
			Addr:             managerURL,
			AnnounceInterval: time.Minute,
			RequestTimeout:   5 * time.Second,
		},
		Scheduler: config.SchedulerConfig{
			AnnounceInterval: time.Minute,
			RequestTimeout:   5 * time.Second,
		},
		Dynconfig: config.DynconfigConfig{RefreshInterval: time.Minute},
		Storage:   config.StorageConfig{Dir: filepath.Join(dir, "storage"), TaskTTL: time.Hour},
		Upload:    config.UploadConfig{Port: 0, MaxConnections: 8},
		Download:  config.DownloadConfig{SocketPath: filepath.Join(dir, "peerd.sock"), MaxConnections: 8},
		Proxy:     config.ProxyConfig{Port: 0},
		Health:    config.HealthConfig{Port: 0},
		Stats:     config.StatsConfig{Port: 0},
		GC:        config.GCConfig{Interval: time.Minute},
	}
}

func TestNewFailsOnUnusableStorage(t *testing.T) {
	cfg := testConfig(t, "http://127.0.0.1:1")

	// A regular file where the storage dir should be.
	blocked := filepath.Join(t.TempDir(), "blocked")
	if err := os.WriteFile(blocked, []byte("x"), 0600); err != nil {
		t.Fatalf("failed to create blocking file: %v", err)
	}
	cfg.Storage.Dir = blocked

	d, err := New(context.Background(), cfg, "test")
	if err == nil {
		t.Fatal("expected construction to fail on an unusable storage dir")
	}
	if !strings.Contains(err.Error(), "storage") {
		t.Errorf("expected a storage error, got: %v", err)
	}

	// Construction failed, so there is no daemon and nothing was spawned:
	// no service ever ran, and no listener left traces behind.
	if d != nil {
		t.Fatalf("expected no daemon after failed construction, got %+v", d)
	}
	if _, err := os.Stat(cfg.Download.SocketPath); !os.IsNotExist(err) {
		t.Errorf("expected no download socket after failed construction, got stat err %v", err)
	}
}

func TestNewFailsWhenManagerUnreachable(t *testing.T) {
	// Nothing listens on this address; the initial cluster state fetch
	// must fail construction before any service is spawned.
	cfg := testConfig(t, "http://127.0.0.1:1")

	_, err := New(context.Background(), cfg, "test")
	if err == nil {
		t.Fatal("expected construction to fail when the manager is unreachable")
	}
}

func TestDaemonServesAndShutsDown(t *testing.T) {
	schedulerAddr := startFakeScheduler(t)
	managerURL := startFakeManager(t, schedulerAddr)
	cfg := testConfig(t, managerURL)

	d, err := New(context.Background(), cfg, "test")
	if err != nil {
		t.Fatalf("failed to construct daemon: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	serveErr := make(chan error, 1)
	go func() { serveErr <- d.Serve(ctx) }()

	// The download socket only appears after the start barrier released.
	deadline := time.After(10 * time.Second)
	for {
		if _, err := os.Stat(cfg.Download.SocketPath); err == nil {
			break
		}
		select {
		case <-deadline:
			t.Fatal("download socket never appeared")
		case <-time.After(10 * time.Millisecond):
		}
	}

	netConn, err := net.Dial("unix", cfg.Download.SocketPath)
	if err != nil {
		t.Fatalf("failed to dial download socket: %v", err)
	}
	conn := rpc.NewConn(netConn)

	err = conn.Call(context.Background(), rpc.ProcStatTask, &rpc.StatTaskRequest{TaskID: "missing"}, nil)
	if !errors.Is(err, rpc.ErrNotFound) {
		t.Errorf("expected ErrNotFound for unknown task, got %v", err)
	}
	conn.Close()

	cancel()
	select {
	case err := <-serveErr:
		if err != nil {
			t.Errorf("serve returned error on graceful shutdown: %v", err)
		}
	case <-time.After(15 * time.Second):
		t.Fatal("daemon did not shut down")
	}
}

func TestServiceFailureShutsDownDaemon(t *testing.T) {
	schedulerAddr := startFakeScheduler(t)
	managerURL := startFakeManager(t, schedulerAddr)
	cfg := testConfig(t, managerURL)

	// Occupy a port so the upload server fails to listen.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to reserve port: %v", err)
	}
	defer ln.Close()
	cfg.Upload.Port = ln.Addr().(*net.TCPAddr).Port

	d, err := New(context.Background(), cfg, "test")
	if err != nil {
		t.Fatalf("failed to construct daemon: %v", err)
	}

	serveErr := make(chan error, 1)
	go func() { serveErr <- d.Serve(context.Background()) }()

	// The failure triggers a full shutdown; a service error is treated the
	// same as a clean exit, so Serve drains everything and returns nil.
	select {
	case err := <-serveErr:
		if err != nil {
			t.Errorf("expected nil after shutdown triggered by a failed service, got: %v", err)
		}
	case <-time.After(15 * time.Second):
		t.Fatal("daemon did not shut down after service failure")
	}
}

// TestServeWaitsForSlowDrain pins the teardown order: the reference-counted
// shares are dropped right after the trigger, the supervisor waits for every
// service without a deadline of its own, and the hard handles close last.
func TestServeWaitsForSlowDrain(t *testing.T) {
	refsReleased := make(chan struct{})
	var drained, hardAfterDrain atomic.Bool

	d := &Daemon{
		token:   shutdown.New(),
		tracker: shutdown.NewTracker(),
		refs:    supervisor.NewResourceGraph(),
		graph:   supervisor.NewResourceGraph(),
		group:   supervisor.NewGroup(),
	}
	d.refs.Add("client share", func() error {
		close(refsReleased)
		return nil
	})
	d.graph.Add("store", func() error {
		hardAfterDrain.Store(drained.Load())
		return nil
	})

	// Exits immediately and triggers shutdown.
	d.supervise("short-lived", serviceFunc(func(ctx context.Context) error {
		return nil
	}))

	// Drains only once the shared client refs have been dropped, and takes
	// its time doing so.
	d.supervise("slow-drain", serviceFunc(func(ctx context.Context) error {
		<-d.token.Done()
		select {
		case <-refsReleased:
		case <-time.After(5 * time.Second):
			return errors.New("client refs were not dropped before the drain wait")
		}
		time.Sleep(100 * time.Millisecond)
		drained.Store(true)
		return nil
	}))

	serveErr := make(chan error, 1)
	go func() { serveErr <- d.Serve(context.Background()) }()

	select {
	case err := <-serveErr:
		if err != nil {
			t.Errorf("serve returned error: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("serve did not return")
	}

	if !drained.Load() {
		t.Error("serve returned before the slow service finished draining")
	}
	if !hardAfterDrain.Load() {
		t.Error("hard handles were released before all services drained")
	}
}

// serviceFunc adapts a function to the service interface.
type serviceFunc func(ctx context.Context) error

func (f serviceFunc) Serve(ctx context.Context) error { return f(ctx) }
