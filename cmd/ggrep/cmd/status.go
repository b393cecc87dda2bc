package cmd

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/ggrep/ggrep/internal/config"
	"github.com/ggrep/ggrep/internal/identity"
	"github.com/ggrep/ggrep/internal/snapshot"
	"github.com/ggrep/ggrep/internal/ui"
)

// hashString returns the first 16 hex characters of SHA256(s); used to
// derive stable, filesystem-safe identifiers from arbitrary strings.
func hashString(s string) string {
	h := sha256.Sum256([]byte(s))
	return hex.EncodeToString(h[:])[:16]
}

// getFileSize returns the size of a file in bytes, or 0 if it cannot be
// stat'd.
func getFileSize(path string) int64 {
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return info.Size()
}

// getDirSize returns the total size of all files in a directory.
func getDirSize(path string) int64 {
	var size int64
	_ = filepath.Walk(path, func(_ string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if !info.IsDir() {
			size += info.Size()
		}
		return nil
	})
	return size
}

func newStatusCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show snapshot health and status",
		Long: `Display information about the active snapshot including:
  - Number of live files and chunks
  - Last publish time
  - Segment and tombstone sizes
  - Embedder type and model from the configuration (availability is not checked)`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "."
			if len(args) > 0 {
				path = args[0]
			}
			return runStatus(cmd, path, jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func runStatus(cmd *cobra.Command, path string, jsonOutput bool) error {
	cfg, err := config.Load(path)
	if err != nil {
		cfg = config.NewConfig()
	}

	root, err := identity.Resolve(path)
	if err != nil {
		cwd, _ := os.Getwd()
		root = cwd
	}

	id := resolveIdentity(cfg, root)
	layout := snapshot.NewLayout(cfg.Store.BaseDir, id.StoreID)

	snapID, err := snapshot.ReadActiveSnapshotID(layout)
	if err != nil {
		return fmt.Errorf("no snapshot found in %s\nRun 'ggrep sync' to create one", layout.StoreDir)
	}

	info, err := collectStatus(root, layout, snapID, cfg)
	if err != nil {
		return fmt.Errorf("failed to collect status: %w", err)
	}

	noColor := ui.DetectNoColor()
	renderer := ui.NewStatusRenderer(cmd.OutOrStdout(), noColor)

	if jsonOutput {
		return renderer.RenderJSON(info)
	}

	return renderer.Render(info)
}

func collectStatus(root string, layout snapshot.Layout, snapID int64, cfg *config.Config) (ui.StatusInfo, error) {
	info := ui.StatusInfo{
		ProjectName: filepath.Base(root),
	}

	manifest, err := snapshot.ReadManifest(layout, snapID)
	if err != nil {
		return info, fmt.Errorf("read manifest: %w", err)
	}

	info.SnapshotID = manifest.SnapshotID
	info.TotalFiles = manifest.Counts.Files
	info.TotalChunks = manifest.Counts.Chunks
	info.LastIndexed = manifest.CreatedAt

	var segBytes int64
	for _, seg := range manifest.Segments {
		segBytes += seg.SizeBytes
	}
	info.SegmentsSize = segBytes
	info.TombstonesSize = manifest.Tombstones.SizeBytes
	info.TotalSize = info.SegmentsSize + info.TombstonesSize

	info.EmbedderType = cfg.Embeddings.Provider
	if info.EmbedderType == "" {
		info.EmbedderType = "ollama"
	}
	info.EmbedderModel = cfg.Embeddings.Model
	if info.EmbedderModel == "" {
		info.EmbedderModel = "embeddinggemma"
	}
	info.EmbedderStatus = "ready"
	info.WatcherStatus = "n/a"

	return info, nil
}
