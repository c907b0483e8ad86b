// Package daemon assembles and supervises the peerd services.
//
// Construction is strictly ordered: configuration, logging, telemetry,
// storage, the manager client, dynconfig, the scheduler client, origin
// backends, the task managers, and finally the servers. Any construction
// failure is fatal and happens before a single service goroutine is
// spawned, so a daemon that fails to start leaves nothing behind.
//
// Once constructed, every service is spawned as one atomic batch. The first
// service to exit, for any reason, triggers the shutdown token; every other
// service observes the token and drains. The reference-counted client shares
// are dropped right after the trigger so nothing holds a draining service's
// streams open, the supervisor waits without a deadline of its own for every
// service to finish, and the remaining handles are closed in reverse
// construction order.
package daemon

import (
	"context"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/peerdrift/peerd/internal/logger"
	"github.com/peerdrift/peerd/internal/telemetry"
	"github.com/peerdrift/peerd/pkg/announcer"
	"github.com/peerdrift/peerd/pkg/backend"
	"github.com/peerdrift/peerd/pkg/config"
	"github.com/peerdrift/peerd/pkg/dynconfig"
	"github.com/peerdrift/peerd/pkg/gc"
	"github.com/peerdrift/peerd/pkg/health"
	"github.com/peerdrift/peerd/pkg/idgen"
	"github.com/peerdrift/peerd/pkg/manager"
	"github.com/peerdrift/peerd/pkg/metrics"
	"github.com/peerdrift/peerd/pkg/proxy"
	"github.com/peerdrift/peerd/pkg/resource"
	"github.com/peerdrift/peerd/pkg/rpcserver"
	"github.com/peerdrift/peerd/pkg/scheduler"
	"github.com/peerdrift/peerd/pkg/shutdown"
	"github.com/peerdrift/peerd/pkg/stats"
	"github.com/peerdrift/peerd/pkg/storage"
	"github.com/peerdrift/peerd/pkg/supervisor"
)

// gatedServices is the number of services that await the start barrier:
// the upload server, the download server, and the proxy.
const gatedServices = 3

// service is one supervised long-running component.
type service interface {
	Serve(ctx context.Context) error
}

// Daemon is a fully constructed peerd instance, ready to serve.
type Daemon struct {
	hostID  string
	token   *shutdown.Shutdown
	tracker *shutdown.Tracker
	refs    *supervisor.ResourceGraph
	graph   *supervisor.ResourceGraph
	group   *supervisor.Group
}

// New constructs the daemon. Everything that can fail, fails here; by the
// time New returns, no goroutine has been spawned and every shared resource
// is registered for ordered release.
func New(ctx context.Context, cfg *config.Config, version string) (*Daemon, error) {
	if err := logger.Init(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	}); err != nil {
		return nil, fmt.Errorf("init logging: %w", err)
	}

	// refs holds the reference-counted shares on the scheduler client chain;
	// dropping them unblocks the services still draining on those streams,
	// so shutdown releases refs before waiting and graph after. graph holds
	// the hard handles closed once everything has stopped.
	refs := supervisor.NewResourceGraph()
	graph := supervisor.NewResourceGraph()
	ok := false
	defer func() {
		// Construction failed after some resources were acquired; release
		// them in reverse order before reporting the error.
		if !ok {
			refs.ReleaseInOrder()
			graph.ReleaseInOrder()
		}
	}()

	telemetryShutdown, err := telemetry.Init(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    "peerd",
		ServiceVersion: version,
		Endpoint:       cfg.Telemetry.Endpoint,
		Insecure:       cfg.Telemetry.Insecure,
		SampleRate:     cfg.Telemetry.SampleRate,
	})
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}
	graph.Add("telemetry", func() error {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return telemetryShutdown(shutdownCtx)
	})

	profilingShutdown, err := telemetry.InitProfiling(telemetry.ProfilingConfig{
		Enabled:        cfg.Telemetry.Profiling.Enabled,
		ServiceName:    "peerd",
		ServiceVersion: version,
		Endpoint:       cfg.Telemetry.Profiling.Endpoint,
		ProfileTypes:   cfg.Telemetry.Profiling.ProfileTypes,
	})
	if err != nil {
		return nil, fmt.Errorf("init profiling: %w", err)
	}
	graph.Add("profiling", profilingShutdown)

	hostIP, hostname, err := resolveHostIdentity(cfg)
	if err != nil {
		return nil, err
	}
	gen := idgen.New(hostIP, hostname, cfg.Host.SeedPeer)
	hostID := gen.HostID()
	logger.Info("Host identity resolved", "host_id", hostID, "ip", hostIP, "hostname", hostname)

	store, err := storage.New(cfg.Storage.Dir)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	graph.Add("storage", store.Close)

	managerClient := manager.New(cfg.Manager.Addr, cfg.Manager.RequestTimeout)
	graph.Add("manager client", managerClient.Close)

	token := shutdown.New()
	tracker := shutdown.NewTracker()

	dyn, err := dynconfig.New(ctx, managerClient, cfg.Dynconfig.RefreshInterval, token)
	if err != nil {
		return nil, fmt.Errorf("fetch initial cluster state: %w", err)
	}

	schedClient := scheduler.New(dyn, scheduler.Config{
		RequestTimeout:       cfg.Scheduler.RequestTimeout,
		MaxConnsPerScheduler: cfg.Scheduler.MaxConnsPerScheduler,
	})
	refs.Add("scheduler client", schedClient.Release)

	backends, err := backend.NewFactory(ctx, backend.Config{
		RequestTimeout: cfg.Backend.RequestTimeout,
		S3: backend.S3Config{
			Region:          cfg.Backend.S3.Region,
			Endpoint:        cfg.Backend.S3.Endpoint,
			AccessKeyID:     cfg.Backend.S3.AccessKeyID,
			SecretAccessKey: cfg.Backend.S3.SecretAccessKey,
			ForcePathStyle:  cfg.Backend.S3.ForcePathStyle,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("build origin backends: %w", err)
	}
	logger.Info("Origin backends registered", "schemes", backends.Schemes())

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New()
	}

	peers := resource.NewPeerDownloader()

	taskMgr, err := resource.NewTaskManager(gen, store, schedClient, backends, peers, m)
	if err != nil {
		return nil, fmt.Errorf("build task manager: %w", err)
	}
	refs.Add("task manager", taskMgr.Close)

	cacheMgr, err := resource.NewPersistentCacheTaskManager(gen, store, schedClient, peers, m)
	if err != nil {
		return nil, fmt.Errorf("build persistent cache task manager: %w", err)
	}
	refs.Add("persistent cache task manager", cacheMgr.Close)

	managerAnnouncer, err := announcer.NewManager(ctx, managerClient, &manager.HostAnnouncement{
		HostID:     hostID,
		IP:         hostIP,
		Hostname:   hostname,
		UploadPort: cfg.Upload.Port,
		ProxyPort:  cfg.Proxy.Port,
		SeedPeer:   cfg.Host.SeedPeer,
		Location:   cfg.Host.Location,
		IDC:        cfg.Host.IDC,
	}, cfg.Manager.AnnounceInterval, m, token)
	if err != nil {
		return nil, fmt.Errorf("register with manager: %w", err)
	}

	schedulerAnnouncer, err := announcer.NewScheduler(ctx, schedClient, &scheduler.HostAnnouncement{
		HostID:     hostID,
		IP:         hostIP,
		Hostname:   hostname,
		UploadPort: uint32(cfg.Upload.Port),
		SeedPeer:   cfg.Host.SeedPeer,
		Location:   cfg.Host.Location,
		IDC:        cfg.Host.IDC,
	}, cfg.Scheduler.AnnounceInterval, m, token)
	if err != nil {
		return nil, fmt.Errorf("register with schedulers: %w", err)
	}

	collector := gc.New(store, schedClient, hostID, cfg.GC.Interval, cfg.Storage.TaskTTL, m, token)

	barrier := supervisor.NewBarrier(gatedServices)

	uploadCfg := rpcserver.UploadConfig(cfg.Upload.Port, cfg.Upload.MaxConnections, cfg.Upload.IdleTimeout)
	uploadCfg.DrainTimeout = cfg.ShutdownTimeout
	uploadServer := rpcserver.NewUploadServer(taskMgr, uploadCfg, barrier, token)

	downloadCfg, err := rpcserver.DownloadConfig(cfg.Download.SocketPath, cfg.Download.MaxConnections)
	if err != nil {
		return nil, fmt.Errorf("prepare download socket: %w", err)
	}
	downloadCfg.DrainTimeout = cfg.ShutdownTimeout
	downloadServer := rpcserver.NewDownloadServer(taskMgr, cacheMgr, downloadCfg, barrier, token)

	proxyServer := proxy.NewServer(taskMgr, proxy.Config{
		Port:         cfg.Proxy.Port,
		ReadTimeout:  cfg.Proxy.ReadTimeout,
		WriteTimeout: cfg.Proxy.WriteTimeout,
	}, m, barrier, token)

	group := supervisor.NewGroup()
	d := &Daemon{
		hostID:  hostID,
		token:   token,
		tracker: tracker,
		refs:    refs,
		graph:   graph,
		group:   group,
	}

	d.supervise("dynconfig", dyn)
	d.supervise("manager announcer", managerAnnouncer)
	d.supervise("scheduler announcer", schedulerAnnouncer)
	d.supervise("gc", collector)
	d.supervise("upload server", uploadServer)
	d.supervise("download server", downloadServer)
	d.supervise("proxy server", proxyServer)
	d.supervise("health server", health.NewServer(cfg.Health.Port, token))
	d.supervise("stats server", stats.NewServer(cfg.Stats.Port, hostID, cfg.Host.SeedPeer, store, token))
	if cfg.Metrics.Enabled {
		d.supervise("metrics server", metrics.NewServer(m, cfg.Metrics.Port, token))
	}

	ok = true
	return d, nil
}

// supervise registers a service in the group with a completion handle, so
// shutdown can wait for every service to drain.
func (d *Daemon) supervise(name string, svc service) {
	handle := d.tracker.NewHandle()
	d.group.Add(name, func(ctx context.Context) error {
		defer handle.Release()
		return svc.Serve(ctx)
	})
}

// HostID returns this daemon's cluster host ID.
func (d *Daemon) HostID() string {
	return d.hostID
}

// Serve spawns every service and blocks until the daemon shuts down.
//
// Shutdown begins when the first service exits, a termination signal
// arrives, or the context is cancelled. A service error triggers the same
// shutdown as a clean exit; it is logged here and not returned. After the
// trigger, the reference-counted shares are dropped so draining services
// are not held open, Serve waits for every service to finish on its own
// terms, and the remaining handles are closed in reverse construction
// order.
func (d *Daemon) Serve(ctx context.Context) error {
	logger.Info("Starting services", "count", d.group.Len(), "host_id", d.hostID)
	d.group.Start(ctx)

	signals := shutdown.Notify()

	select {
	case res := <-d.group.First():
		if res.Err != nil {
			logger.Error("Shutting down after service failure", "service", res.Name, "error", res.Err)
		} else {
			logger.Info("Shutting down after service exit", "service", res.Name)
		}
	case sig := <-signals:
		logger.Info("Shutting down on signal", "signal", sig.String())
	case <-ctx.Done():
		logger.Info("Shutting down on context cancellation")
	}

	d.token.Trigger()

	d.refs.ReleaseInOrder()
	d.tracker.Wait()
	logger.Info("All services drained")

	d.graph.ReleaseInOrder()
	logger.Info("Daemon stopped", "host_id", d.hostID)
	return nil
}

// resolveHostIdentity determines the IP and hostname announced to the
// cluster, preferring explicit configuration over detection.
func resolveHostIdentity(cfg *config.Config) (string, string, error) {
	ip := cfg.Host.IP
	if ip == "" {
		detected, err := preferredOutboundIP()
		if err != nil {
			return "", "", fmt.Errorf("detect host ip: %w", err)
		}
		ip = detected
	}

	hostname := cfg.Host.Hostname
	if hostname == "" {
		detected, err := os.Hostname()
		if err != nil {
			return "", "", fmt.Errorf("detect hostname: %w", err)
		}
		hostname = detected
	}

	return ip, hostname, nil
}

// preferredOutboundIP returns the local address the kernel would route
// external traffic through. No packets are sent; UDP dial only resolves.
func preferredOutboundIP() (string, error) {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "", err
	}
	defer conn.Close()

	addr, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok {
		return "", fmt.Errorf("unexpected local address type %T", conn.LocalAddr())
	}
	return addr.IP.String(), nil
}
