package commands

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/peerdrift/peerd/internal/cli/output"
	"github.com/peerdrift/peerd/pkg/config"
	"github.com/peerdrift/peerd/pkg/stats"
	"github.com/spf13/cobra"
)

var statusOutput string

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon status",
	Long: `Display the current status of the peerd daemon.

Checks the PID file and the health endpoint, then reads cached task counters
from the stats endpoint.

Examples:
  # Check status (uses default settings)
  peerd status

  # Output as JSON
  peerd status --output json`,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().StringVar(&pidFile, "pid-file", "", "Path to PID file (default: $XDG_STATE_HOME/peerd/peerd.pid)")
	statusCmd.Flags().StringVarP(&statusOutput, "output", "o", "table", "Output format (table|json|yaml)")
}

// DaemonStatus is the status report printed by the status command.
type DaemonStatus struct {
	Running bool            `json:"running" yaml:"running"`
	Healthy bool            `json:"healthy" yaml:"healthy"`
	PID     int             `json:"pid,omitempty" yaml:"pid,omitempty"`
	Message string          `json:"message" yaml:"message"`
	Stats   *stats.Snapshot `json:"stats,omitempty" yaml:"stats,omitempty"`
}

func runStatus(cmd *cobra.Command, args []string) error {
	format, err := output.ParseFormat(statusOutput)
	if err != nil {
		return err
	}

	cfg, err := config.MustLoad(GetConfigFile())
	if err != nil {
		return err
	}

	status := DaemonStatus{Message: "Peerd is not running"}

	pidPath := pidFile
	if pidPath == "" {
		pidPath = GetDefaultPidFile()
	}
	if pid, running := readPidFile(pidPath); running {
		status.Running = true
		status.PID = pid
	}

	client := &http.Client{Timeout: 2 * time.Second}

	// The health endpoint answers for both daemon and foreground mode.
	healthURL := fmt.Sprintf("http://localhost:%d/healthy", cfg.Health.Port)
	if resp, err := client.Get(healthURL); err == nil {
		_ = resp.Body.Close()
		status.Running = true
		status.Healthy = resp.StatusCode == http.StatusOK
		if status.Healthy {
			status.Message = "Peerd is running and healthy"
		} else {
			status.Message = "Peerd is running but unhealthy"
		}
	} else if status.Running {
		status.Message = "Peerd process exists but health check failed"
	}

	if status.Healthy {
		statsURL := fmt.Sprintf("http://localhost:%d/api/v1/stats", cfg.Stats.Port)
		if resp, err := client.Get(statsURL); err == nil {
			var snapshot stats.Snapshot
			if err := json.NewDecoder(resp.Body).Decode(&snapshot); err == nil {
				status.Stats = &snapshot
			}
			_ = resp.Body.Close()
		}
	}

	switch format {
	case output.FormatJSON:
		return output.PrintJSON(os.Stdout, status)
	case output.FormatYAML:
		return output.PrintYAML(os.Stdout, status)
	default:
		printStatusTable(status)
	}

	return nil
}

func printStatusTable(status DaemonStatus) {
	fmt.Println()
	fmt.Println("Peerd Status")
	fmt.Println("============")
	fmt.Println()

	if status.Running {
		if status.Healthy {
			fmt.Printf("  Status:   \033[32m● Running\033[0m\n")
		} else {
			fmt.Printf("  Status:   \033[33m● Running (unhealthy)\033[0m\n")
		}
		if status.PID != 0 {
			fmt.Printf("  PID:      %d\n", status.PID)
		}
	} else {
		fmt.Printf("  Status:   \033[31m○ Stopped\033[0m\n")
	}

	if status.Stats != nil {
		fmt.Println()
		pairs := [][2]string{
			{"Host ID", status.Stats.HostID},
			{"Seed peer", fmt.Sprintf("%t", status.Stats.SeedPeer)},
			{"Uptime", (time.Duration(status.Stats.UptimeSeconds) * time.Second).String()},
			{"Tasks", fmt.Sprintf("%d (%d finished)", status.Stats.TaskCount, status.Stats.FinishedTasks)},
			{"Content", formatBytes(status.Stats.ContentBytes)},
		}
		_ = output.PrintPairs(os.Stdout, pairs)
	}

	fmt.Println()
	fmt.Printf("  %s\n", status.Message)
	fmt.Println()
}

func formatBytes(n uint64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := uint64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
