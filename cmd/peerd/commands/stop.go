package commands

import (
	"fmt"
	"os"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

var stopTimeout time.Duration

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running peerd daemon",
	Long: `Stop the running peerd daemon gracefully.

Sends SIGTERM to the process recorded in the PID file and waits for it to
exit. In-flight downloads are drained up to the daemon's shutdown timeout.`,
	RunE: runStop,
}

func init() {
	stopCmd.Flags().StringVar(&pidFile, "pid-file", "", "Path to PID file (default: $XDG_STATE_HOME/peerd/peerd.pid)")
	stopCmd.Flags().DurationVar(&stopTimeout, "timeout", 60*time.Second, "How long to wait for the daemon to exit")
}

func runStop(cmd *cobra.Command, args []string) error {
	pidPath := pidFile
	if pidPath == "" {
		pidPath = GetDefaultPidFile()
	}

	pid, running := readPidFile(pidPath)
	if !running {
		if pid != 0 {
			_ = os.Remove(pidPath)
			fmt.Println("Peerd is not running (removed stale PID file)")
			return nil
		}
		fmt.Println("Peerd is not running")
		return nil
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("failed to find process %d: %w", pid, err)
	}
	if err := process.Signal(syscall.SIGTERM); err != nil {
		return fmt.Errorf("failed to signal process %d: %w", pid, err)
	}

	fmt.Printf("Stopping peerd (PID %d)...\n", pid)

	deadline := time.Now().Add(stopTimeout)
	for time.Now().Before(deadline) {
		if err := process.Signal(syscall.Signal(0)); err != nil {
			fmt.Println("Peerd stopped")
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}

	return fmt.Errorf("peerd did not exit within %s", stopTimeout)
}
