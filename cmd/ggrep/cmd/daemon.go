package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ggrep/ggrep/internal/config"
	"github.com/ggrep/ggrep/internal/daemon"
	"github.com/ggrep/ggrep/internal/embed"
	"github.com/ggrep/ggrep/internal/identity"
	"github.com/ggrep/ggrep/internal/logging"
	"github.com/ggrep/ggrep/internal/output"
)

func newDaemonCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Manage the background query daemon for one store",
		Long: `The daemon keeps a store's snapshot pinned and the embedding model loaded
so CLI and agent queries avoid the cold-start cost of opening a snapshot
and initializing an embedder on every invocation.

Commands:
  start   Start the daemon (runs in background by default)
  stop    Stop the running daemon
  status  Show daemon status and health

A daemon serves exactly one (store_id, config_fingerprint) pair, derived
from the project root and its ggrep config; each store gets its own
socket.

Examples:
  ggrep daemon start      # Start daemon in background
  ggrep daemon start -f   # Run in foreground (for debugging)
  ggrep daemon status     # Check if the daemon for this store is running
  ggrep daemon stop       # Stop the daemon for this store`,
	}

	cmd.AddCommand(newDaemonStartCmd())
	cmd.AddCommand(newDaemonStopCmd())
	cmd.AddCommand(newDaemonStatusCmd())

	return cmd
}

func newDaemonStartCmd() *cobra.Command {
	var foreground bool

	cmd := &cobra.Command{
		Use:   "start [path]",
		Short: "Start the background daemon for a store",
		Long: `Start the query daemon for the store rooted at path (default: current
directory).

Use --foreground for debugging or to see logs in real-time.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "."
			if len(args) > 0 {
				path = args[0]
			}
			return runDaemonStart(cmd.Context(), cmd, path, foreground)
		},
	}

	cmd.Flags().BoolVarP(&foreground, "foreground", "f", false, "Run in foreground (don't daemonize)")
	return cmd
}

func newDaemonStopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop [path]",
		Short: "Stop the running daemon for a store",
		Long: `Stop the query daemon serving the store rooted at path (default: current
directory).

Sends a shutdown request over the store's socket; if the socket is
unreachable the daemon is reported as not running. If the recorded PID is
still alive after the request, it is sent SIGTERM, then SIGKILL after
5 seconds.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "."
			if len(args) > 0 {
				path = args[0]
			}
			return runDaemonStop(cmd, path)
		},
	}
}

func newDaemonStatusCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "status [path]",
		Short: "Show daemon status for a store",
		Long: `Show the current status of the query daemon for the store rooted at
path (default: current directory): whether it's running, its process
ID, uptime, embedder, snapshot, and admission counters.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "."
			if len(args) > 0 {
				path = args[0]
			}
			return runDaemonStatus(cmd.Context(), cmd, path, jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

// resolveDaemonTarget loads a store's config and identity and derives the
// socket path the daemon for it listens on, the same way `sync` and
// `maintain` resolve which store directory a command targets.
func resolveDaemonTarget(path string) (*config.Config, string, identity.Identity, daemon.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", identity.Identity{}, daemon.Config{}, fmt.Errorf("load config: %w", err)
	}
	root, err := identity.Resolve(path)
	if err != nil {
		return nil, "", identity.Identity{}, daemon.Config{}, fmt.Errorf("resolve project root: %w", err)
	}
	id := resolveIdentity(cfg, root)
	daemonCfg := daemon.DefaultConfig()
	return cfg, root, id, daemonCfg, nil
}

func runDaemonStart(ctx context.Context, cmd *cobra.Command, path string, foreground bool) error {
	out := output.New(cmd.OutOrStdout())

	cfg, root, id, daemonCfg, err := resolveDaemonTarget(path)
	if err != nil {
		return err
	}
	socketPath := daemonCfg.SocketPathForStore(id.StoreID, id.ConfigFingerprint)

	client := daemon.NewClient(daemonCfg, socketPath, id.StoreID, id.ConfigFingerprint, "ggrep-cli")
	if client.IsRunning() {
		out.Status("", "Daemon is already running for this store")
		return nil
	}

	if foreground {
		logCfg := logging.DefaultConfig()
		logCfg.Level = "debug"
		logCfg.WriteToStderr = true
		if logger, cleanup, err := logging.Setup(logCfg); err == nil {
			slog.SetDefault(logger)
			defer cleanup()
		}

		out.Status("", "Starting daemon in foreground...")
		out.Status("", fmt.Sprintf("Store:  %s", id.StoreID))
		out.Status("", fmt.Sprintf("Socket: %s", socketPath))
		out.Status("", fmt.Sprintf("Logs:   %s", logging.DefaultLogPath()))
		out.Status("", "Press Ctrl+C to stop")
		out.Newline()

		slog.Info("daemon starting in foreground mode",
			slog.String("store_id", id.StoreID),
			slog.String("socket", socketPath),
			slog.String("log_file", logging.DefaultLogPath()))

		embedCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
		embedder, err := embed.NewEmbedder(embedCtx, embed.ParseProvider(cfg.Embeddings.Provider), cfg.Embeddings.Model)
		cancel()
		if err != nil {
			slog.Error("embedder initialization failed", slog.String("error", err.Error()))
			return fmt.Errorf("embedder initialization failed: %w", err)
		}
		defer func() { _ = embedder.Close() }()

		d, err := daemon.NewDaemon(cfg, root, daemonCfg, daemon.WithEmbedder(embedder))
		if err != nil {
			slog.Error("failed to create daemon", slog.String("error", err.Error()))
			return fmt.Errorf("failed to create daemon: %w", err)
		}

		pidFile := daemon.NewPIDFile(daemonCfg.PIDPath)
		if err := pidFile.Write(); err != nil {
			slog.Warn("failed to write PID file", slog.String("error", err.Error()))
		}
		defer func() { _ = pidFile.Remove() }()

		return d.Start(ctx)
	}

	out.Status("", "Starting daemon in background...")

	execPath, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to get executable path: %w", err)
	}

	bgCmd := exec.Command(execPath, "daemon", "start", "--foreground", path)
	bgCmd.Stdout = nil
	bgCmd.Stderr = nil
	bgCmd.Stdin = nil
	bgCmd.SysProcAttr = &syscall.SysProcAttr{
		Setsid: true,
	}

	if err := bgCmd.Start(); err != nil {
		return fmt.Errorf("failed to start daemon: %w", err)
	}

	done := make(chan error, 1)
	go func() { done <- bgCmd.Wait() }()

	for i := 0; i < 100; i++ {
		select {
		case err := <-done:
			if err != nil {
				return fmt.Errorf("daemon process exited unexpectedly: %w", err)
			}
			return fmt.Errorf("daemon process exited unexpectedly with code 0")
		default:
		}

		time.Sleep(150 * time.Millisecond)
		if client.IsRunning() {
			out.Success(fmt.Sprintf("Daemon started (pid: %d)", bgCmd.Process.Pid))
			return nil
		}
	}

	return fmt.Errorf("daemon failed to start within timeout")
}

func runDaemonStop(cmd *cobra.Command, path string) error {
	out := output.New(cmd.OutOrStdout())

	_, _, id, daemonCfg, err := resolveDaemonTarget(path)
	if err != nil {
		return err
	}
	socketPath := daemonCfg.SocketPathForStore(id.StoreID, id.ConfigFingerprint)

	client := daemon.NewClient(daemonCfg, socketPath, id.StoreID, id.ConfigFingerprint, "ggrep-cli")
	if !client.IsRunning() {
		out.Status("", "Daemon is not running for this store")
		return nil
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
	defer cancel()
	if err := client.Shutdown(ctx); err != nil {
		out.Status("", fmt.Sprintf("shutdown request failed (%v), falling back to signal", err))
	}

	pidFile := daemon.NewPIDFile(daemonCfg.PIDPath)
	if !pidFile.IsRunning() {
		out.Success("Daemon stopped")
		return nil
	}

	pid, err := pidFile.Read()
	if err != nil {
		return fmt.Errorf("failed to read PID: %w", err)
	}
	if err := pidFile.Signal(syscall.SIGTERM); err != nil {
		return fmt.Errorf("failed to stop daemon: %w", err)
	}

	for i := 0; i < 50; i++ {
		time.Sleep(100 * time.Millisecond)
		if !pidFile.IsRunning() {
			out.Success(fmt.Sprintf("Daemon stopped (was pid: %d)", pid))
			return nil
		}
	}

	out.Status("", "Daemon not responding, sending SIGKILL...")
	if err := pidFile.Signal(syscall.SIGKILL); err != nil {
		return fmt.Errorf("failed to kill daemon: %w", err)
	}

	out.Success("Daemon killed")
	return nil
}

func runDaemonStatus(ctx context.Context, cmd *cobra.Command, path string, jsonOutput bool) error {
	out := output.New(cmd.OutOrStdout())

	_, _, id, daemonCfg, err := resolveDaemonTarget(path)
	if err != nil {
		return err
	}
	socketPath := daemonCfg.SocketPathForStore(id.StoreID, id.ConfigFingerprint)

	client := daemon.NewClient(daemonCfg, socketPath, id.StoreID, id.ConfigFingerprint, "ggrep-cli")

	if !client.IsRunning() {
		if jsonOutput {
			status := daemon.StatusResult{Running: false, StoreID: id.StoreID, ConfigFingerprint: id.ConfigFingerprint}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(status)
		}
		out.Status("", "Daemon is not running for this store")
		out.Status("", "Run 'ggrep daemon start' to start it")
		return nil
	}

	status, err := client.Status(ctx)
	if err != nil {
		return fmt.Errorf("failed to get status: %w", err)
	}

	if jsonOutput {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(status)
	}

	out.Status("", "Daemon is running")
	out.Status("", fmt.Sprintf("  PID:               %d", status.PID))
	out.Status("", fmt.Sprintf("  Uptime:            %s", status.Uptime))
	out.Status("", fmt.Sprintf("  Store:             %s", status.StoreID))
	out.Status("", fmt.Sprintf("  Config fingerprint: %s", status.ConfigFingerprint))
	out.Status("", fmt.Sprintf("  Snapshot:          %d", status.SnapshotID))
	out.Status("", fmt.Sprintf("  Lease held:        %t", status.LeaseHeld))
	out.Status("", fmt.Sprintf("  Stale config:      %t", status.StaleConfig))
	out.Status("", fmt.Sprintf("  Embedder:          %s", status.EmbedderType))
	out.Status("", fmt.Sprintf("  In flight:         %d", status.InFlight))
	out.Status("", fmt.Sprintf("  Queue depth:       %d", status.QueueDepth))
	out.Status("", fmt.Sprintf("  Admitted:          %d", status.Admitted))
	out.Status("", fmt.Sprintf("  Busy rejections:   %d", status.BusyTotal))
	out.Status("", fmt.Sprintf("  Timeouts:          %d", status.TimeoutTotal))
	out.Status("", fmt.Sprintf("  Slow queries:      %d", status.SlowTotal))
	out.Status("", fmt.Sprintf("  Socket:            %s", socketPath))

	return nil
}
