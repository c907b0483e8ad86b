package commands

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/peerdrift/peerd/internal/cli/output"
	"github.com/peerdrift/peerd/pkg/rpc"
	"github.com/spf13/cobra"
)

var (
	cacheTag         string
	cacheApplication string
	cacheOutput      string
	cacheTimeout     time.Duration
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Manage persistent cache tasks on the running daemon",
	Long: `Manage persistent cache tasks on the running daemon.

Persistent cache tasks replicate between peers without an origin server and
are never garbage collected. Use 'import' to seed a local file into the
cluster, then 'download' the returned task ID on other hosts.

Subcommands:
  import    Seed a local file into the persistent cache
  download  Replicate a persistent cache task from peers
  stat      Show persistent cache task metadata`,
}

var cacheImportCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Seed a local file into the persistent cache",
	Args:  cobra.ExactArgs(1),
	RunE:  runCacheImport,
}

var cacheDownloadCmd = &cobra.Command{
	Use:   "download <task-id>",
	Short: "Replicate a persistent cache task from peers",
	Args:  cobra.ExactArgs(1),
	RunE:  runCacheDownload,
}

var cacheStatCmd = &cobra.Command{
	Use:   "stat <task-id>",
	Short: "Show persistent cache task metadata",
	Args:  cobra.ExactArgs(1),
	RunE:  runCacheStat,
}

func init() {
	cacheImportCmd.Flags().StringVar(&cacheTag, "tag", "", "Tag distinguishing tasks with the same content")
	cacheImportCmd.Flags().StringVar(&cacheApplication, "application", "", "Application name reported to the scheduler")
	cacheDownloadCmd.Flags().DurationVar(&cacheTimeout, "timeout", 10*time.Minute, "How long to wait for the replication")
	cacheStatCmd.Flags().StringVarP(&cacheOutput, "output", "o", "table", "Output format (table|json|yaml)")

	cacheCmd.AddCommand(cacheImportCmd)
	cacheCmd.AddCommand(cacheDownloadCmd)
	cacheCmd.AddCommand(cacheStatCmd)
}

func runCacheImport(cmd *cobra.Command, args []string) error {
	// The daemon reads the file itself, so hand it an absolute path.
	path, err := filepath.Abs(args[0])
	if err != nil {
		return err
	}

	conn, err := dialDaemon()
	if err != nil {
		return err
	}
	defer func() { _ = conn.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	req := &rpc.ImportPersistentCacheTaskRequest{
		Path:        path,
		Tag:         cacheTag,
		Application: cacheApplication,
	}
	var resp rpc.DownloadTaskResponse
	if err := conn.Call(ctx, rpc.ProcImportPersistentCacheTask, req, &resp); err != nil {
		return fmt.Errorf("import failed: %w", err)
	}

	fmt.Printf("Imported %s\n", args[0])
	fmt.Printf("  Task ID: %s\n", resp.TaskID)
	fmt.Printf("  Size:    %s (%d pieces)\n", formatBytes(resp.ContentLength), resp.PieceCount)
	return nil
}

func runCacheDownload(cmd *cobra.Command, args []string) error {
	conn, err := dialDaemon()
	if err != nil {
		return err
	}
	defer func() { _ = conn.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), cacheTimeout)
	defer cancel()

	req := &rpc.DownloadPersistentCacheTaskRequest{TaskID: args[0]}
	var resp rpc.DownloadTaskResponse
	if err := conn.Call(ctx, rpc.ProcDownloadPersistentCacheTask, req, &resp); err != nil {
		return fmt.Errorf("replication failed: %w", err)
	}

	fmt.Printf("Replicated task %s\n", resp.TaskID)
	fmt.Printf("  Size: %s (%d pieces)\n", formatBytes(resp.ContentLength), resp.PieceCount)
	return nil
}

func runCacheStat(cmd *cobra.Command, args []string) error {
	format, err := output.ParseFormat(cacheOutput)
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
	if err := conn.Call(ctx, rpc.ProcStatPersistentCacheTask, &rpc.StatTaskRequest{TaskID: args[0]}, &resp); err != nil {
		return err
	}

	return printTaskStat(format, &resp)
}
