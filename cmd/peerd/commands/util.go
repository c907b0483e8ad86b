package commands

import (
	"fmt"
	"net"
	"os"
	"path/filepath"

	"github.com/peerdrift/peerd/pkg/config"
	"github.com/peerdrift/peerd/pkg/rpc"
)

// GetDefaultStateDir returns the default state directory path.
func GetDefaultStateDir() string {
	stateDir := os.Getenv("XDG_STATE_HOME")
	if stateDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "/tmp"
		}
		stateDir = filepath.Join(homeDir, ".local", "state")
	}
	return filepath.Join(stateDir, "peerd")
}

// GetDefaultPidFile returns the default PID file path.
func GetDefaultPidFile() string {
	return filepath.Join(GetDefaultStateDir(), "peerd.pid")
}

// GetDefaultLogFile returns the default log file path for daemon mode.
func GetDefaultLogFile() string {
	return filepath.Join(GetDefaultStateDir(), "peerd.log")
}

// getConfigSource returns a description of where the config was loaded from.
func getConfigSource(configFile string) string {
	if configFile != "" {
		return configFile
	}
	if config.DefaultConfigExists() {
		return config.GetDefaultConfigPath()
	}
	return "defaults"
}

// dialDaemon connects to the running daemon's download socket.
func dialDaemon() (*rpc.Conn, error) {
	cfg, err := config.MustLoad(GetConfigFile())
	if err != nil {
		return nil, err
	}

	netConn, err := net.Dial("unix", cfg.Download.SocketPath)
	if err != nil {
		return nil, fmt.Errorf("daemon not reachable at %s (is peerd running?): %w", cfg.Download.SocketPath, err)
	}
	return rpc.NewConn(netConn), nil
}
