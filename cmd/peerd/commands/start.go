package commands

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"

	"github.com/peerdrift/peerd/pkg/config"
	"github.com/peerdrift/peerd/pkg/daemon"
	"github.com/spf13/cobra"
)

var (
	foreground bool
	pidFile    string
	logFile    string
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the peerd daemon",
	Long: `Start the peerd daemon with the specified configuration.

By default, the daemon runs in the background. Use --foreground to run in the
foreground for debugging or when managed by a process supervisor.

Use --config to specify a custom configuration file, or it will use the
default location at $XDG_CONFIG_HOME/peerd/config.yaml.

Examples:
  # Start in background (default)
  peerd start

  # Start in foreground
  peerd start --foreground

  # Start with custom config file
  peerd start --config /etc/peerd/config.yaml

  # Start with environment variable overrides
  PEERD_LOGGING_LEVEL=DEBUG peerd start --foreground`,
	RunE: runStart,
}

func init() {
	startCmd.Flags().BoolVarP(&foreground, "foreground", "f", false, "Run in foreground (default: background/daemon mode)")
	startCmd.Flags().StringVar(&pidFile, "pid-file", "", "Path to PID file (default: $XDG_STATE_HOME/peerd/peerd.pid)")
	startCmd.Flags().StringVar(&logFile, "log-file", "", "Path to log file for daemon mode (default: $XDG_STATE_HOME/peerd/peerd.log)")
}

func runStart(cmd *cobra.Command, args []string) error {
	if !foreground {
		return startDaemon()
	}

	cfg, err := config.MustLoad(GetConfigFile())
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fmt.Printf("Peerd %s - peer-to-peer download daemon\n", Version)
	fmt.Printf("Configuration loaded from %s\n", getConfigSource(GetConfigFile()))

	d, err := daemon.New(ctx, cfg, Version)
	if err != nil {
		return err
	}

	if pidFile != "" {
		if err := os.WriteFile(pidFile, []byte(fmt.Sprintf("%d", os.Getpid())), 0644); err != nil {
			return fmt.Errorf("failed to write PID file: %w", err)
		}
		defer func() { _ = os.Remove(pidFile) }()
	}

	// Serve blocks until a shutdown signal, a fatal service failure or
	// context cancellation.
	return d.Serve(ctx)
}

// startDaemon starts the daemon as a detached background process.
func startDaemon() error {
	stateDir := GetDefaultStateDir()
	if err := os.MkdirAll(stateDir, 0755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	pidPath := pidFile
	if pidPath == "" {
		pidPath = GetDefaultPidFile()
	}

	// Refuse to start a second instance.
	if pid, running := readPidFile(pidPath); running {
		return fmt.Errorf("peerd is already running (PID %d)\nUse 'peerd stop' to stop the running instance", pid)
	}
	_ = os.Remove(pidPath)

	logPath := logFile
	if logPath == "" {
		logPath = GetDefaultLogFile()
	}

	executable, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to get executable path: %w", err)
	}

	daemonArgs := []string{"start", "--foreground", "--pid-file", pidPath}
	if GetConfigFile() != "" {
		daemonArgs = append(daemonArgs, "--config", GetConfigFile())
	}

	daemonCmd := exec.Command(executable, daemonArgs...)

	logHandle, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	daemonCmd.Stdout = logHandle
	daemonCmd.Stderr = logHandle

	// Detach from the parent session so the daemon survives shell exit.
	daemonCmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := daemonCmd.Start(); err != nil {
		_ = logHandle.Close()
		return fmt.Errorf("failed to start daemon: %w", err)
	}
	_ = logHandle.Close()

	fmt.Printf("Peerd started in background (PID %d)\n", daemonCmd.Process.Pid)
	fmt.Printf("  PID file: %s\n", pidPath)
	fmt.Printf("  Log file: %s\n", filepath.Clean(logPath))
	fmt.Println("\nUse 'peerd stop' to stop the daemon")
	fmt.Println("Use 'peerd status' to check daemon status")

	return nil
}

// readPidFile reads a PID file and reports whether that process is alive.
func readPidFile(path string) (int, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, false
	}

	var pid int
	if _, err := fmt.Sscanf(string(data), "%d", &pid); err != nil || pid <= 0 {
		return 0, false
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return pid, false
	}
	if err := process.Signal(syscall.Signal(0)); err != nil {
		return pid, false
	}
	return pid, true
}
