package commands

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/peerdrift/peerd/internal/cli/output"
	"github.com/peerdrift/peerd/pkg/rpc"
	"github.com/spf13/cobra"
)

var (
	taskTag         string
	taskApplication string
	taskOutput      string
	taskTimeout     time.Duration
)

var taskCmd = &cobra.Command{
	Use:   "task",
	Short: "Manage download tasks on the running daemon",
	Long: `Manage download tasks on the running daemon.

These commands talk to the daemon over its unix socket, so the daemon must
be running.

Subcommands:
  download  Submit a download and wait for it to finish
  stat      Show task metadata
  delete    Evict a task from local storage`,
}

var taskDownloadCmd = &cobra.Command{
	Use:   "download <url>",
	Short: "Download content through the daemon",
	Args:  cobra.ExactArgs(1),
	RunE:  runTaskDownload,
}

var taskStatCmd = &cobra.Command{
	Use:   "stat <task-id>",
	Short: "Show task metadata",
	Args:  cobra.ExactArgs(1),
	RunE:  runTaskStat,
}

var taskDeleteCmd = &cobra.Command{
	Use:   "delete <task-id>",
	Short: "Evict a task from local storage",
	Args:  cobra.ExactArgs(1),
	RunE:  runTaskDelete,
}

func init() {
	taskDownloadCmd.Flags().StringVar(&taskTag, "tag", "", "Tag distinguishing tasks with the same URL")
	taskDownloadCmd.Flags().StringVar(&taskApplication, "application", "", "Application name reported to the scheduler")
	taskDownloadCmd.Flags().DurationVar(&taskTimeout, "timeout", 10*time.Minute, "How long to wait for the download")
	taskStatCmd.Flags().StringVarP(&taskOutput, "output", "o", "table", "Output format (table|json|yaml)")

	taskCmd.AddCommand(taskDownloadCmd)
	taskCmd.AddCommand(taskStatCmd)
	taskCmd.AddCommand(taskDeleteCmd)
}

func runTaskDownload(cmd *cobra.Command, args []string) error {
	conn, err := dialDaemon()
	if err != nil {
		return err
	}
	defer func() { _ = conn.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), taskTimeout)
	defer cancel()

	req := &rpc.DownloadTaskRequest{
		URL:         args[0],
		Tag:         taskTag,
		Application: taskApplication,
	}
	var resp rpc.DownloadTaskResponse
	if err := conn.Call(ctx, rpc.ProcDownloadTask, req, &resp); err != nil {
		return fmt.Errorf("download failed: %w", err)
	}

	fmt.Printf("Downloaded %s\n", args[0])
	fmt.Printf("  Task ID: %s\n", resp.TaskID)
	fmt.Printf("  Size:    %s (%d pieces)\n", formatBytes(resp.ContentLength), resp.PieceCount)
	return nil
}

func runTaskStat(cmd *cobra.Command, args []string) error {
	format, err := output.ParseFormat(taskOutput)
	if err != nil {
		return err
	}

	conn, err := dialDaemon()
	if err != nil {
		return err
	}
	defer func() { _ = conn.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var resp rpc.StatTaskResponse
	if err := conn.Call(ctx, rpc.ProcStatTask, &rpc.StatTaskRequest{TaskID: args[0]}, &resp); err != nil {
		return err
	}

	return printTaskStat(format, &resp)
}

// taskInfo is the structured form of a stat response for json/yaml output.
type taskInfo struct {
	TaskID        string `json:"task_id" yaml:"task_id"`
	URL           string `json:"url,omitempty" yaml:"url,omitempty"`
	State         string `json:"state" yaml:"state"`
	ContentLength uint64 `json:"content_length" yaml:"content_length"`
	PieceCount    uint32 `json:"piece_count" yaml:"piece_count"`
	Persistent    bool   `json:"persistent" yaml:"persistent"`
}

func printTaskStat(format output.Format, resp *rpc.StatTaskResponse) error {
	info := taskInfo{
		TaskID:        resp.TaskID,
		URL:           resp.URL,
		State:         resp.State,
		ContentLength: resp.ContentLength,
		PieceCount:    resp.PieceCount,
		Persistent:    resp.Persistent,
	}
	pairs := [][2]string{
		{"Task ID", resp.TaskID},
		{"URL", resp.URL},
		{"State", resp.State},
		{"Size", formatBytes(resp.ContentLength)},
		{"Pieces", fmt.Sprintf("%d", resp.PieceCount)},
		{"Persistent", fmt.Sprintf("%t", resp.Persistent)},
	}
	return output.Print(os.Stdout, format, info, pairs)
}

func runTaskDelete(cmd *cobra.Command, args []string) error {
	conn, err := dialDaemon()
	if err != nil {
		return err
	}
	defer func() { _ = conn.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := conn.Call(ctx, rpc.ProcDeleteTask, &rpc.DeleteTaskRequest{TaskID: args[0]}, nil); err != nil {
		return err
	}

	fmt.Printf("Deleted task %s\n", args[0])
	return nil
}
