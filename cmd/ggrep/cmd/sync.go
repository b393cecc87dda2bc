package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ggrep/ggrep/internal/change"
	"github.com/ggrep/ggrep/internal/chunk"
	"github.com/ggrep/ggrep/internal/config"
	"github.com/ggrep/ggrep/internal/embed"
	"github.com/ggrep/ggrep/internal/identity"
	"github.com/ggrep/ggrep/internal/lease"
	"github.com/ggrep/ggrep/internal/snapshot"
	"github.com/ggrep/ggrep/internal/sync"
	"github.com/ggrep/ggrep/internal/ui"
)

// newSyncCmd exposes the snapshot write path (internal/sync) directly:
// detect changes, chunk and embed them, and publish a new snapshot
// generation. `index` is the deprecated alias; both produce an
// immutable, crash-safe snapshot and require the store's writer lease.
func newSyncCmd() *cobra.Command {
	var (
		offline       bool
		force         bool
		allowDegraded bool
	)

	cmd := &cobra.Command{
		Use:   "sync [path]",
		Short: "Detect changes and publish a new snapshot generation",
		Long: `Detect added, modified, deleted, and renamed files since the store's
active snapshot, chunk and embed the changed content, and publish the
result as one new immutable snapshot generation.

This is the snapshot-oriented write path: every successful run is either
a fully published generation or a no-op, never a partially updated
store.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			path := "."
			if len(args) > 0 {
				path = args[0]
			}
			return runSync(ctx, path, offline, force, false, allowDegraded)
		},
	}

	cmd.Flags().BoolVar(&offline, "offline", false, "Use the deterministic static embedder instead of a live model")
	cmd.Flags().BoolVar(&force, "force", false, "Steal the writer lease if it is held but stale")
	cmd.Flags().BoolVar(&allowDegraded, "allow-degraded", false, "Publish past per-file indexing failures, recording them in the manifest")

	return cmd
}

// runSync drives one full sync. quiet suppresses all terminal output
// (progress UI and the summary line); the MCP entry point passes true
// because both standard streams belong to the protocol there.
// allowDegraded publishes past per-file failures with degraded=true
// instead of aborting on the first one.
func runSync(ctx context.Context, path string, offline, force, quiet, allowDegraded bool) error {
	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	root, err := identity.Resolve(path)
	if err != nil {
		return fmt.Errorf("resolve project root: %w", err)
	}

	var embedder embed.Embedder
	if offline {
		embedder = embed.NewStaticEmbedder768()
	} else {
		embedCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
		embedder, err = embed.NewEmbedder(embedCtx, embed.ParseProvider(cfg.Embeddings.Provider), cfg.Embeddings.Model)
		cancel()
		if err != nil {
			return fmt.Errorf("embedder initialization failed: %w", err)
		}
	}
	defer func() { _ = embedder.Close() }()

	id := resolveIdentity(cfg, root)

	layout := snapshot.NewLayout(cfg.Store.BaseDir, id.StoreID)

	leaseMgr, err := lease.New(layout.LocksDir())
	if err != nil {
		return fmt.Errorf("open lease manager: %w", err)
	}
	ttl := 5 * time.Minute
	if _, err := leaseMgr.AcquireWriter(ttl); err != nil {
		if !force {
			return fmt.Errorf("acquire writer lease: %w (use --force to steal a stale lease)", err)
		}
		if _, err := leaseMgr.StealIfStale(ttl); err != nil {
			return fmt.Errorf("steal writer lease: %w", err)
		}
	}
	defer func() { _ = leaseMgr.Release() }()

	detector, err := change.NewDetector()
	if err != nil {
		return fmt.Errorf("create change detector: %w", err)
	}

	codeChunker := chunk.NewCodeChunker()
	defer codeChunker.Close()

	// Progress rendering: full TUI on an interactive terminal, plain
	// stage lines under CI or a pipe. The renderer choice is ui's;
	// quiet forces plain output into the void.
	rendererOut := io.Writer(os.Stderr)
	if quiet {
		rendererOut = io.Discard
	}
	renderer := ui.NewRenderer(ui.NewConfig(rendererOut,
		ui.WithForcePlain(quiet),
		ui.WithNoColor(ui.DetectNoColor()),
		ui.WithProjectDir(root),
	))
	started := time.Now()
	if err := renderer.Start(ctx); err == nil {
		defer func() { _ = renderer.Stop() }()
	}
	renderer.UpdateProgress(ui.ProgressEvent{Stage: ui.StageScanning, Message: "detecting changes"})

	syncer := &sync.Syncer{
		Layout:   layout,
		Segments: snapshot.NewFileSegmentStore(layout),
		Lease:    leaseMgr,
		Detector: detector,
		Chunkers: sync.Chunkers{
			Code:     codeChunker,
			Markdown: chunk.NewMarkdownChunker(),
		},
		Embedder:      embedder,
		Config:        cfg,
		Identity:      id,
		DetectRenames: true,
		AllowDegraded: allowDegraded,
		Progress: func(done, total int, pathKey string) {
			renderer.UpdateProgress(ui.ProgressEvent{
				Stage:       ui.StageEmbedding,
				Current:     done,
				Total:       total,
				CurrentFile: pathKey,
			})
		},
	}

	result, err := syncer.Sync(ctx, root)
	if err != nil {
		return fmt.Errorf("sync: %w", err)
	}

	if result.Manifest == nil {
		renderer.Complete(ui.CompletionStats{Duration: time.Since(started)})
		if !quiet {
			fmt.Println("up to date, nothing to publish")
		}
		return nil
	}

	info := embed.GetInfo(ctx, embedder)
	renderer.UpdateProgress(ui.ProgressEvent{Stage: ui.StagePublish, Message: "publishing manifest"})
	renderer.Complete(ui.CompletionStats{
		Files:    result.Manifest.Counts.Files,
		Chunks:   result.Manifest.Counts.Chunks,
		Duration: time.Since(started),
		Embedder: ui.EmbedderInfo{
			Backend:    string(info.Provider),
			Model:      info.Model,
			Dimensions: info.Dimensions,
		},
	})

	if !quiet {
		fmt.Printf("published snapshot %d: %d files, %d chunks, %d rows embedded, %d tombstoned\n",
			result.Manifest.SnapshotID, result.Manifest.Counts.Files, result.Manifest.Counts.Chunks,
			result.RowsEmbedded, result.FilesTombstoned)
		if result.Manifest.Degraded {
			fmt.Printf("degraded snapshot: %d file(s) failed to index\n", len(result.Manifest.Errors))
			for _, e := range result.Manifest.Errors {
				fmt.Printf("  %s\n", e)
			}
		}
	}
	return nil
}
