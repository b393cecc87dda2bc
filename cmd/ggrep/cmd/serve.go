package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/ggrep/ggrep/internal/config"
	"github.com/ggrep/ggrep/internal/embed"
	"github.com/ggrep/ggrep/internal/logging"
	"github.com/ggrep/ggrep/internal/mcp"
	"github.com/ggrep/ggrep/internal/query"
	"github.com/ggrep/ggrep/internal/snapshot"
	"github.com/ggrep/ggrep/internal/watcher"
)

func newServeCmd() *cobra.Command {
	var (
		transport   string
		port        int
		sessionName string
		debug       bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the MCP server for AI coding assistants",
		Long: `Start the Model Context Protocol server so AI assistants (Claude Code,
Cursor, etc.) can call ggrep's search tools over stdio.

MCP requires stdout to carry nothing but the JSON-RPC stream: all
human-readable status goes to the log file, never to stdout or stderr.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if debug {
				os.Setenv("GGREP_DEBUG", "1")
			}
			if sessionName != "" {
				return runServeWithSession(cmd.Context(), sessionName, "", transport, port)
			}
			return runServe(cmd.Context(), transport, port)
		},
	}

	cmd.Flags().StringVar(&transport, "transport", "stdio", "Transport type (stdio|sse)")
	cmd.Flags().IntVar(&port, "port", 8765, "Port for SSE transport")
	cmd.Flags().StringVar(&sessionName, "session", "", "Tag this server instance with a session name")
	cmd.Flags().BoolVar(&debug, "debug", false, "Enable verbose MCP diagnostics in the log file")

	return cmd
}

// runServe starts the MCP server rooted at the current directory (or the
// nearest enclosing project root). Used both by `ggrep serve` directly and
// by the zero-argument "it just works" flow in runSmartDefault.
func runServe(ctx context.Context, transport string, port int) error {
	root, err := config.FindProjectRoot(".")
	if err != nil {
		root, _ = os.Getwd()
	}
	return serveProject(ctx, "", root, transport, port)
}

// runServeWithSession is identical to runServe except the server instance is
// tagged with a session name, for log correlation across `ggrep resume`.
func runServeWithSession(ctx context.Context, sessionName, projectPath, transport string, port int) error {
	root := projectPath
	if root == "" {
		var err error
		root, err = config.FindProjectRoot(".")
		if err != nil {
			root, _ = os.Getwd()
		}
	}
	return serveProject(ctx, sessionName, root, transport, port)
}

// serveProject opens the store's snapshot manager and binds an MCP server
// to a query.Engine over it, then blocks until ctx is cancelled. Every
// search tool the server exposes is therefore pinned to the tombstone-
// filtered active snapshot, the same entry point `ggrep search` and the
// daemon use. No byte may reach stdout before
// the MCP transport owns it, and the file watcher starts in the
// background so a slow filesystem never delays the handshake.
func serveProject(ctx context.Context, sessionName, root, transport string, port int) error {
	cleanup, err := logging.SetupMCPMode()
	if err != nil {
		return fmt.Errorf("failed to initialize MCP-safe logging: %w", err)
	}
	defer cleanup()

	if sessionName != "" {
		slog.Info("serve_session", slog.String("session", sessionName), slog.String("root", root))
	}

	if transport == "stdio" {
		if err := verifyStdinForMCP(); err != nil {
			slog.Error("stdin_validation_failed", slog.String("error", err.Error()))
			return err
		}
	}

	cfg, err := config.Load(root)
	if err != nil {
		cfg = config.NewConfig()
	}

	id := resolveIdentity(cfg, root)
	layout := snapshot.NewLayout(cfg.Store.BaseDir, id.StoreID)

	if _, err := snapshot.ReadActiveSnapshotID(layout); err != nil {
		return fmt.Errorf("no snapshot found at %s\nRun 'ggrep sync %s' first", layout.StoreDir, root)
	}

	var embedder embed.Embedder
	if os.Getenv("GGREP_EMBEDDER") == "static" {
		embedder = embed.NewStaticEmbedder768()
	} else {
		provider := embed.ParseProvider(cfg.Embeddings.Provider)
		embedCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
		embedder, err = embed.NewEmbedder(embedCtx, provider, cfg.Embeddings.Model)
		cancel()
		if err != nil {
			slog.Warn("embedder_unavailable_falling_back_static", slog.String("error", err.Error()))
			embedder = embed.NewStaticEmbedder768()
		}
	}
	defer func() { _ = embedder.Close() }()

	segments := snapshot.NewFileSegmentStore(layout)
	manager := snapshot.NewManager(layout, segments)

	engine, err := query.NewEngine(manager, embedder, cfg)
	if err != nil {
		return fmt.Errorf("failed to build query engine: %w", err)
	}

	mcpServer, err := mcp.NewServer(engine, manager, embedder, cfg, root)
	if err != nil {
		return fmt.Errorf("failed to create MCP server: %w", err)
	}

	stopWatcher := startServeWatcher(ctx, root, layout.StoreDir)
	defer stopWatcher()

	addr := ""
	if transport != "stdio" {
		addr = fmt.Sprintf(":%d", port)
	}
	return mcpServer.Serve(ctx, transport, addr)
}

// startServeWatcher launches the filesystem watcher in the background and
// returns immediately: waiting on watcher startup
// (which can take seconds on a cold, large tree) must never delay the MCP
// handshake. GGREP_WATCHER_STARTUP_TIMEOUT overrides how long the watcher
// may spend doing its initial directory walk before we give up on it.
// The watcher only logs file-change batches here; turning them into a
// published snapshot generation is the daemon's reconcile loop, not this
// short-lived stdio process's job.
func startServeWatcher(ctx context.Context, root, storeDir string) func() {
	startupTimeout := 2 * time.Second
	if v := os.Getenv("GGREP_WATCHER_STARTUP_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			startupTimeout = d
		}
	}

	watcherCtx, cancel := context.WithCancel(ctx)

	go func() {
		startCtx, startCancel := context.WithTimeout(watcherCtx, startupTimeout)
		defer startCancel()

		w, err := watcher.NewHybridWatcher(watcher.Options{
			IgnorePatterns: []string{storeDir + "/**"},
		})
		if err != nil {
			slog.Warn("watcher_init_failed", slog.String("error", err.Error()))
			return
		}

		if err := w.Start(startCtx, root); err != nil {
			slog.Warn("watcher_start_failed", slog.String("error", err.Error()))
			return
		}
		defer func() { _ = w.Stop() }()

		slog.Debug("watcher_started", slog.String("root", root))

		for {
			select {
			case <-watcherCtx.Done():
				return
			case batch, ok := <-w.Events():
				if !ok {
					return
				}
				slog.Debug("watcher_events", slog.Int("count", len(batch)))
			case werr, ok := <-w.Errors():
				if !ok {
					return
				}
				slog.Warn("watcher_error", slog.String("error", werr.Error()))
			}
		}
	}()

	return cancel
}

// verifyStdinForMCP checks that stdin is a pipe rather than an interactive
// terminal: an AI client always connects via a pipe, so a terminal stdin
// means the user ran `ggrep serve` by hand and is about to be confused by
// a server that never prints anything.
func verifyStdinForMCP() error {
	info, err := os.Stdin.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat stdin: %w", err)
	}
	if (info.Mode() & os.ModeCharDevice) != 0 {
		return fmt.Errorf("stdin is a terminal, not a pipe: ggrep serve is meant to be launched by an MCP client, not run directly")
	}
	return nil
}
