package config

import (
	"strings"
	"time"
)

// ApplyDefaults sets default values for any unspecified configuration fields.
//
// This function is called after loading configuration from file and environment
// variables to fill in any missing values with sensible defaults.
//
// Default Strategy:
//   - Zero values (0, "", false, nil) are replaced with defaults
//   - Explicit values are preserved
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyTelemetryDefaults(&cfg.Telemetry)
	applyShutdownTimeoutDefaults(cfg)
	applyManagerDefaults(&cfg.Manager)
	applySchedulerDefaults(&cfg.Scheduler)
	applyDynconfigDefaults(&cfg.Dynconfig)
	applyStorageDefaults(&cfg.Storage)
	applyUploadDefaults(&cfg.Upload)
	applyDownloadDefaults(&cfg.Download)
	applyProxyDefaults(&cfg.Proxy)
	applyHealthDefaults(&cfg.Health)
	applyMetricsDefaults(&cfg.Metrics)
	applyStatsDefaults(&cfg.Stats)
	applyGCDefaults(&cfg.GC)
	applyBackendDefaults(&cfg.Backend)
}

// applyLoggingDefaults sets logging defaults and normalizes values.
func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	// Normalize log level to uppercase for consistent internal representation
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

// applyTelemetryDefaults sets OpenTelemetry defaults.
func applyTelemetryDefaults(cfg *TelemetryConfig) {
	// Enabled defaults to false (opt-in for telemetry)

	if cfg.Endpoint == "" {
		cfg.Endpoint = "localhost:4317"
	}

	if cfg.SampleRate == 0 {
		cfg.SampleRate = 1.0
	}

	applyProfilingDefaults(&cfg.Profiling)
}

// applyProfilingDefaults sets Pyroscope profiling defaults.
func applyProfilingDefaults(cfg *ProfilingConfig) {
	if cfg.Endpoint == "" {
		cfg.Endpoint = "http://localhost:4040"
	}

	if len(cfg.ProfileTypes) == 0 {
		cfg.ProfileTypes = []string{
			"cpu",
			"alloc_objects",
			"alloc_space",
			"inuse_objects",
			"inuse_space",
			"goroutines",
		}
	}
}

// applyShutdownTimeoutDefaults sets shutdown timeout defaults.
func applyShutdownTimeoutDefaults(cfg *Config) {
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
}

// applyManagerDefaults sets manager client defaults.
// Addr has no default - the manager address must be configured by the user.
func applyManagerDefaults(cfg *ManagerConfig) {
	if cfg.AnnounceInterval == 0 {
		cfg.AnnounceInterval = 5 * time.Minute
	}
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = 10 * time.Second
	}
}

// applySchedulerDefaults sets scheduler client defaults.
func applySchedulerDefaults(cfg *SchedulerConfig) {
	if cfg.AnnounceInterval == 0 {
		cfg.AnnounceInterval = 5 * time.Minute
	}
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = 10 * time.Second
	}
	if cfg.MaxConnsPerScheduler == 0 {
		cfg.MaxConnsPerScheduler = 4
	}
}

// applyDynconfigDefaults sets dynamic configuration refresh defaults.
func applyDynconfigDefaults(cfg *DynconfigConfig) {
	if cfg.RefreshInterval == 0 {
		cfg.RefreshInterval = 5 * time.Minute
	}
}

// applyStorageDefaults sets storage defaults.
// Dir has no default in Load-from-file paths; GetDefaultConfig seeds one.
func applyStorageDefaults(cfg *StorageConfig) {
	if cfg.TaskTTL == 0 {
		cfg.TaskTTL = 6 * time.Hour
	}
}

// applyUploadDefaults sets upload server defaults.
func applyUploadDefaults(cfg *UploadConfig) {
	if cfg.Port == 0 {
		cfg.Port = 4000
	}
	if cfg.MaxConnections == 0 {
		cfg.MaxConnections = 512
	}
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = 2 * time.Minute
	}
}

// applyDownloadDefaults sets download server defaults.
func applyDownloadDefaults(cfg *DownloadConfig) {
	if cfg.SocketPath == "" {
		cfg.SocketPath = "/var/run/peerd/peerd.sock"
	}
	if cfg.MaxConnections == 0 {
		cfg.MaxConnections = 128
	}
}

// applyProxyDefaults sets proxy server defaults.
func applyProxyDefaults(cfg *ProxyConfig) {
	if cfg.Port == 0 {
		cfg.Port = 4001
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 30 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 5 * time.Minute
	}
}

// applyHealthDefaults sets health server defaults.
func applyHealthDefaults(cfg *HealthConfig) {
	if cfg.Port == 0 {
		cfg.Port = 4003
	}
}

// applyMetricsDefaults sets metrics defaults.
// Port defaults to 4002 if metrics are enabled.
func applyMetricsDefaults(cfg *MetricsConfig) {
	if cfg.Enabled && cfg.Port == 0 {
		cfg.Port = 4002
	}
}

// applyStatsDefaults sets stats server defaults.
func applyStatsDefaults(cfg *StatsConfig) {
	if cfg.Port == 0 {
		cfg.Port = 4004
	}
}

// applyGCDefaults sets garbage collection defaults.
func applyGCDefaults(cfg *GCConfig) {
	if cfg.Interval == 0 {
		cfg.Interval = 15 * time.Minute
	}
}

// applyBackendDefaults sets origin backend defaults.
func applyBackendDefaults(cfg *BackendConfig) {
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
}

// GetDefaultConfig returns a Config struct with all default values applied.
//
// This is useful for:
//   - Generating sample configuration files
//   - Testing
//   - Documentation
func GetDefaultConfig() *Config {
	cfg := &Config{
		Manager: ManagerConfig{
			Addr: "http://localhost:65003",
		},
		Storage: StorageConfig{
			Dir: "/var/lib/peerd",
		},
	}

	ApplyDefaults(cfg)
	return cfg
}
