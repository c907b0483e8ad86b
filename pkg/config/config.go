package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config represents the peerd daemon configuration.
//
// This structure captures the static configuration of the daemon:
//   - Logging configuration
//   - Telemetry/tracing configuration
//   - Host identity (IP, hostname, seed peer flag)
//   - Manager and scheduler connectivity
//   - Storage layout for downloaded content
//   - Server settings for every listener the daemon runs
//
// Dynamic cluster state (the scheduler list, seed peer sets) is not
// configured here; it is fetched from the manager at runtime and refreshed
// on the dynconfig interval.
//
// Configuration sources (in order of precedence):
//  1. CLI flags (highest priority)
//  2. Environment variables (PEERD_*)
//  3. Configuration file (YAML)
//  4. Default values (lowest priority)
type Config struct {
	// Logging controls log output behavior
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// Telemetry controls OpenTelemetry distributed tracing and profiling
	Telemetry TelemetryConfig `mapstructure:"telemetry" yaml:"telemetry"`

	// ShutdownTimeout bounds each RPC server's connection drain during
	// shutdown; connections still active past it are force-closed
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"required,gt=0" yaml:"shutdown_timeout"`

	// Host describes this host's identity as announced to the cluster
	Host HostConfig `mapstructure:"host" yaml:"host"`

	// Manager configures connectivity to the manager service
	Manager ManagerConfig `mapstructure:"manager" yaml:"manager"`

	// Scheduler configures the scheduler client and announcements
	Scheduler SchedulerConfig `mapstructure:"scheduler" yaml:"scheduler"`

	// Dynconfig controls how often dynamic cluster state is refreshed
	Dynconfig DynconfigConfig `mapstructure:"dynconfig" yaml:"dynconfig"`

	// Storage specifies where downloaded content and metadata live
	Storage StorageConfig `mapstructure:"storage" yaml:"storage"`

	// Upload configures the piece upload RPC server (serves other peers)
	Upload UploadConfig `mapstructure:"upload" yaml:"upload"`

	// Download configures the local download RPC server (unix socket)
	Download DownloadConfig `mapstructure:"download" yaml:"download"`

	// Proxy configures the HTTP proxy that turns GETs into P2P downloads
	Proxy ProxyConfig `mapstructure:"proxy" yaml:"proxy"`

	// Health contains the liveness HTTP server configuration
	Health HealthConfig `mapstructure:"health" yaml:"health"`

	// Metrics contains Prometheus metrics server configuration
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`

	// Stats contains the runtime stats HTTP server configuration
	Stats StatsConfig `mapstructure:"stats" yaml:"stats"`

	// GC controls garbage collection of expired tasks
	GC GCConfig `mapstructure:"gc" yaml:"gc"`

	// Backend configures source-origin backends (HTTP, S3)
	Backend BackendConfig `mapstructure:"backend" yaml:"backend"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive, normalized to uppercase)
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error" yaml:"level"`

	// Format specifies the log output format
	// Valid values: text, json
	Format string `mapstructure:"format" validate:"required,oneof=text json" yaml:"format"`

	// Output specifies where logs are written
	// Valid values: stdout, stderr, or a file path
	Output string `mapstructure:"output" validate:"required" yaml:"output"`
}

// TelemetryConfig controls OpenTelemetry distributed tracing.
// When enabled, trace data is exported to an OTLP-compatible collector
// (e.g., Jaeger, Tempo, or any OTLP receiver).
type TelemetryConfig struct {
	// Enabled controls whether distributed tracing is enabled
	// Default: false (opt-in for telemetry)
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Endpoint is the OTLP collector endpoint (host:port)
	// Default: "localhost:4317" (standard OTLP gRPC port)
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint"`

	// Insecure controls whether to use insecure (non-TLS) connection
	// Default: true (for local development)
	Insecure bool `mapstructure:"insecure" yaml:"insecure"`

	// SampleRate controls the trace sampling rate (0.0 to 1.0)
	// Default: 1.0 (sample all)
	SampleRate float64 `mapstructure:"sample_rate" validate:"omitempty,gte=0,lte=1" yaml:"sample_rate"`

	// Profiling contains Pyroscope continuous profiling configuration
	Profiling ProfilingConfig `mapstructure:"profiling" yaml:"profiling"`
}

// ProfilingConfig controls Pyroscope continuous profiling.
type ProfilingConfig struct {
	// Enabled controls whether continuous profiling is enabled
	// Default: false (opt-in for profiling)
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Endpoint is the Pyroscope server endpoint (URL)
	// Default: "http://localhost:4040" (standard Pyroscope port)
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint"`

	// ProfileTypes specifies which profile types to collect
	// Valid values: cpu, alloc_objects, alloc_space, inuse_objects, inuse_space,
	//               goroutines, mutex_count, mutex_duration, block_count, block_duration
	ProfileTypes []string `mapstructure:"profile_types" yaml:"profile_types"`
}

// HostConfig describes this host's identity.
//
// IP and Hostname feed the ID generator; the derived host ID is what the
// manager and schedulers know this daemon by. Leaving them empty means
// auto-detection at startup.
type HostConfig struct {
	// IP is the address advertised to the cluster.
	// Empty means the preferred outbound address is detected at startup.
	IP string `mapstructure:"ip" validate:"omitempty,ip" yaml:"ip"`

	// Hostname is the name advertised to the cluster.
	// Empty means os.Hostname is used.
	Hostname string `mapstructure:"hostname" yaml:"hostname"`

	// SeedPeer marks this host as a seed peer. Seed peers carry a suffix in
	// their host ID so the scheduler can tell them apart.
	SeedPeer bool `mapstructure:"seed_peer" yaml:"seed_peer"`

	// Location and IDC are optional topology hints passed to the scheduler.
	Location string `mapstructure:"location" yaml:"location,omitempty"`
	IDC      string `mapstructure:"idc" yaml:"idc,omitempty"`
}

// ManagerConfig configures connectivity to the manager service.
type ManagerConfig struct {
	// Addr is the manager base URL (required)
	// Example: http://manager.peerd.svc:65003
	Addr string `mapstructure:"addr" validate:"required,url" yaml:"addr"`

	// AnnounceInterval is how often this host announces itself to the manager
	// Default: 5m
	AnnounceInterval time.Duration `mapstructure:"announce_interval" validate:"omitempty,gt=0" yaml:"announce_interval"`

	// RequestTimeout bounds individual manager API calls
	// Default: 10s
	RequestTimeout time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`
}

// SchedulerConfig configures the scheduler client and announcements.
type SchedulerConfig struct {
	// AnnounceInterval is how often this host announces itself to schedulers
	// Default: 5m
	AnnounceInterval time.Duration `mapstructure:"announce_interval" validate:"omitempty,gt=0" yaml:"announce_interval"`

	// RequestTimeout bounds individual scheduler RPC calls
	// Default: 10s
	RequestTimeout time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`

	// MaxConnsPerScheduler caps pooled connections per scheduler address
	// Default: 4
	MaxConnsPerScheduler int `mapstructure:"max_conns_per_scheduler" validate:"omitempty,min=1" yaml:"max_conns_per_scheduler"`
}

// DynconfigConfig controls refresh of dynamic cluster state.
type DynconfigConfig struct {
	// RefreshInterval is how often the scheduler list is refetched from the
	// manager. Default: 5m
	RefreshInterval time.Duration `mapstructure:"refresh_interval" validate:"omitempty,gt=0" yaml:"refresh_interval"`
}

// StorageConfig specifies where downloaded content and metadata live.
type StorageConfig struct {
	// Dir is the root directory for content files and the metadata store
	// (required). The daemon refuses to start if it cannot create and write
	// this directory.
	Dir string `mapstructure:"dir" validate:"required" yaml:"dir"`

	// TaskTTL is how long finished tasks are kept before GC evicts them
	// Default: 6h
	TaskTTL time.Duration `mapstructure:"task_ttl" validate:"omitempty,gt=0" yaml:"task_ttl"`
}

// UploadConfig configures the piece upload RPC server.
// This is the TCP listener other peers download pieces from.
type UploadConfig struct {
	// Port is the TCP port for the upload server
	// Default: 4000
	Port int `mapstructure:"port" validate:"omitempty,min=1,max=65535" yaml:"port"`

	// MaxConnections caps concurrent peer connections
	// Default: 512
	MaxConnections int `mapstructure:"max_connections" validate:"omitempty,min=1" yaml:"max_connections"`

	// IdleTimeout closes peer connections idle for this long
	// Default: 2m
	IdleTimeout time.Duration `mapstructure:"idle_timeout" yaml:"idle_timeout"`
}

// DownloadConfig configures the local download RPC server.
// Local clients (dfget-style tools) submit downloads over a unix socket.
type DownloadConfig struct {
	// SocketPath is the unix socket the download server listens on
	// Default: /var/run/peerd/peerd.sock
	SocketPath string `mapstructure:"socket_path" validate:"required" yaml:"socket_path"`

	// MaxConnections caps concurrent local client connections
	// Default: 128
	MaxConnections int `mapstructure:"max_connections" validate:"omitempty,min=1" yaml:"max_connections"`
}

// ProxyConfig configures the HTTP proxy listener.
type ProxyConfig struct {
	// Port is the TCP port for the proxy server
	// Default: 4001
	Port int `mapstructure:"port" validate:"omitempty,min=1,max=65535" yaml:"port"`

	// ReadTimeout and WriteTimeout bound proxied request handling
	ReadTimeout  time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
}

// HealthConfig configures the liveness HTTP server.
type HealthConfig struct {
	// Port is the HTTP port for the health endpoint
	// Default: 4003
	Port int `mapstructure:"port" validate:"omitempty,min=1,max=65535" yaml:"port"`
}

// MetricsConfig configures the Prometheus metrics HTTP server.
// When Enabled is false, no metrics server is started.
type MetricsConfig struct {
	// Enabled controls whether the metrics HTTP server is started
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Port is the HTTP port for the metrics endpoint
	// Default: 4002
	Port int `mapstructure:"port" validate:"omitempty,min=1,max=65535" yaml:"port"`
}

// StatsConfig configures the runtime stats HTTP server.
type StatsConfig struct {
	// Port is the HTTP port for the stats endpoint
	// Default: 4004
	Port int `mapstructure:"port" validate:"omitempty,min=1,max=65535" yaml:"port"`
}

// GCConfig controls garbage collection of expired tasks.
type GCConfig struct {
	// Interval is how often the collector scans for expired tasks
	// Default: 15m
	Interval time.Duration `mapstructure:"interval" validate:"omitempty,gt=0" yaml:"interval"`
}

// BackendConfig configures source-origin backends used when content must be
// fetched from the origin rather than from peers.
type BackendConfig struct {
	// RequestTimeout bounds individual origin requests
	// Default: 30s
	RequestTimeout time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`

	// S3 configures the S3 origin backend
	S3 S3BackendConfig `mapstructure:"s3" yaml:"s3"`
}

// S3BackendConfig configures the S3 origin backend.
// When AccessKeyID is empty the default AWS credential chain is used.
type S3BackendConfig struct {
	// Region is the default region for s3:// URLs
	Region string `mapstructure:"region" yaml:"region,omitempty"`

	// Endpoint overrides the S3 endpoint (for MinIO and compatible stores)
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint,omitempty"`

	// AccessKeyID and SecretAccessKey are static credentials (optional)
	AccessKeyID     string `mapstructure:"access_key_id" yaml:"access_key_id,omitempty"`
	SecretAccessKey string `mapstructure:"secret_access_key" yaml:"secret_access_key,omitempty"`

	// ForcePathStyle uses path-style addressing (required by MinIO)
	ForcePathStyle bool `mapstructure:"force_path_style" yaml:"force_path_style,omitempty"`
}

// Load loads configuration from file, environment, and defaults.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (PEERD_*)
//  2. Configuration file
//  3. Default values
//
// Parameters:
//   - configPath: Path to config file (empty string uses default location)
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: Configuration loading or validation error
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setupViper(v, configPath)

	configFileFound, err := readConfigFile(v)
	if err != nil {
		return nil, err
	}

	// If no config file was found, use defaults
	if !configFileFound {
		cfg := GetDefaultConfig()
		return cfg, nil
	}

	// Unmarshal into config struct with custom decode hooks
	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(configDecodeHooks())); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// MustLoad loads configuration with helpful error messages.
// It checks if the config file exists and provides user-friendly instructions if not.
func MustLoad(configPath string) (*Config, error) {
	if configPath == "" {
		if !DefaultConfigExists() {
			return nil, fmt.Errorf("no configuration file found at default location: %s\n\n"+
				"Please initialize a configuration file first:\n"+
				"  peerd init\n\n"+
				"Or specify a custom config file:\n"+
				"  peerd <command> --config /path/to/config.yaml",
				GetDefaultConfigPath())
		}
		configPath = GetDefaultConfigPath()
	} else {
		if _, err := os.Stat(configPath); os.IsNotExist(err) {
			return nil, fmt.Errorf("configuration file not found: %s\n\n"+
				"Please create the configuration file:\n"+
				"  peerd init --config %s",
				configPath, configPath)
		}
	}

	cfg, err := Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	return cfg, nil
}

// SaveConfig saves the configuration to the specified file path.
// The configuration is saved in YAML format using proper yaml tags.
func SaveConfig(cfg *Config, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	// Restricted permissions: config may carry S3 credentials.
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// setupViper configures viper with environment variables and config file settings.
func setupViper(v *viper.Viper, configPath string) {
	// Environment variables use PEERD_ prefix and underscores
	// Example: PEERD_LOGGING_LEVEL=DEBUG
	v.SetEnvPrefix("PEERD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		// Default location: $XDG_CONFIG_HOME/peerd/config.yaml
		configDir := getConfigDir()
		v.AddConfigPath(configDir)
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

// readConfigFile reads the configuration file if it exists.
// Returns (fileFound, error) where fileFound indicates if a config file was found.
func readConfigFile(v *viper.Viper) (bool, error) {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			// Config file not found is acceptable - use defaults
			return false, nil
		}
		// Also check for os.PathError when explicit config file doesn't exist
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read config file: %w", err)
	}

	return true, nil
}

// configDecodeHooks returns a combined decode hook for all custom types.
func configDecodeHooks() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		durationDecodeHook(),
	)
}

// durationDecodeHook returns a mapstructure decode hook that converts strings
// to time.Duration. This enables config files to use human-readable durations
// like "30s", "5m", "1h".
func durationDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			return time.ParseDuration(v)
		case int:
			// Assume nanoseconds for raw integers
			return time.Duration(v), nil
		case int64:
			return time.Duration(v), nil
		case float64:
			// YAML often deserializes numbers as float64
			return time.Duration(v), nil
		default:
			return data, nil
		}
	}
}

// getConfigDir returns the configuration directory path.
//
// Uses XDG_CONFIG_HOME if set, otherwise ~/.config, or falls back to current
// directory (.) if home directory cannot be determined.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "peerd")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}

	return filepath.Join(home, ".config", "peerd")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// DefaultConfigExists checks if a config file exists at the default location.
func DefaultConfigExists() bool {
	path := GetDefaultConfigPath()
	_, err := os.Stat(path)
	return err == nil
}

// GetConfigDir returns the configuration directory path (exposed for init command).
func GetConfigDir() string {
	return getConfigDir()
}
