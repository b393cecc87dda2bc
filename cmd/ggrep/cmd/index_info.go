package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/ggrep/ggrep/internal/config"
	"github.com/ggrep/ggrep/internal/embed"
	"github.com/ggrep/ggrep/internal/identity"
	"github.com/ggrep/ggrep/internal/snapshot"
	"github.com/ggrep/ggrep/internal/ui"
)

// IndexInfo reports what the active snapshot was built with alongside
// what the current config would build with now, so a dimension mismatch
// shows up before a query silently comes back empty.
type IndexInfo struct {
	Location    string    `json:"location"`
	ProjectRoot string    `json:"project_root"`

	ConfigFingerprint string `json:"config_fingerprint"`

	ChunkCount      int   `json:"chunk_count"`
	DocumentCount   int   `json:"document_count"`
	SegmentBytes    int64 `json:"segment_bytes"`
	TombstoneBytes  int64 `json:"tombstone_bytes"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	CurrentModel      string `json:"current_model"`
	CurrentBackend    string `json:"current_backend"`
	CurrentDimensions int    `json:"current_dimensions"`
	Compatible        bool   `json:"compatible"`
}

func newIndexInfoCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "info [path]",
		Short: "Show snapshot configuration and statistics",
		Long: `Display detailed information about the active snapshot including
config fingerprint, chunk counts, and segment sizes.

This command helps you:
- Check which config fingerprint the active snapshot was built under
- Debug dimension mismatch errors
- Verify a snapshot was published correctly after 'ggrep sync'
- Compare snapshot configurations across projects`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "."
			if len(args) > 0 {
				path = args[0]
			}

			return runIndexInfo(cmd.Context(), cmd, path, jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")

	return cmd
}

func runIndexInfo(ctx context.Context, cmd *cobra.Command, path string, jsonOutput bool) error {
	cfg, err := config.Load(path)
	if err != nil {
		cfg = config.NewConfig()
	}

	root, err := identity.Resolve(path)
	if err != nil {
		return fmt.Errorf("resolve project root: %w", err)
	}

	id := resolveIdentity(cfg, root)
	layout := snapshot.NewLayout(cfg.Store.BaseDir, id.StoreID)

	snapID, err := snapshot.ReadActiveSnapshotID(layout)
	if err != nil {
		return fmt.Errorf("no index found at %s\nRun 'ggrep sync %s' to create one", layout.StoreDir, path)
	}

	manifest, err := snapshot.ReadManifest(layout, snapID)
	if err != nil {
		return fmt.Errorf("read manifest: %w", err)
	}

	info := &IndexInfo{
		Location:          layout.StoreDir,
		ProjectRoot:       root,
		ConfigFingerprint: manifest.ConfigFingerprint,
		ChunkCount:        manifest.Counts.Chunks,
		DocumentCount:     manifest.Counts.Files,
		TombstoneBytes:    manifest.Tombstones.SizeBytes,
		CreatedAt:         manifest.CreatedAt,
		UpdatedAt:         manifest.CreatedAt,
	}
	for _, seg := range manifest.Segments {
		info.SegmentBytes += seg.SizeBytes
	}

	embedCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	embedder, err := embed.NewEmbedder(embedCtx, embed.ParseProvider(cfg.Embeddings.Provider), cfg.Embeddings.Model)
	cancel()
	if err == nil {
		embedInfo := embed.GetInfo(ctx, embedder)
		info.CurrentModel = embedInfo.Model
		info.CurrentBackend = string(embedInfo.Provider)
		info.CurrentDimensions = embedInfo.Dimensions
		info.Compatible = id.ConfigFingerprint == manifest.ConfigFingerprint
		_ = embedder.Close()
	}

	if jsonOutput {
		return outputIndexInfoJSON(cmd, info)
	}
	return outputIndexInfoHuman(cmd, info)
}

func outputIndexInfoJSON(cmd *cobra.Command, info *IndexInfo) error {
	encoder := json.NewEncoder(cmd.OutOrStdout())
	encoder.SetIndent("", "  ")
	return encoder.Encode(info)
}

func outputIndexInfoHuman(cmd *cobra.Command, info *IndexInfo) error {
	out := cmd.OutOrStdout()

	fmt.Fprintln(out, "Index Information")
	fmt.Fprintln(out, "=================")
	fmt.Fprintln(out)

	fmt.Fprintf(out, "Location:    %s\n", info.Location)
	fmt.Fprintf(out, "Project:     %s\n", info.ProjectRoot)
	fmt.Fprintln(out)

	fmt.Fprintln(out, "Snapshot Configuration:")
	fmt.Fprintf(out, "  Fingerprint: %s\n", info.ConfigFingerprint)
	fmt.Fprintln(out)

	fmt.Fprintln(out, "Index Statistics:")
	fmt.Fprintf(out, "  Chunks:         %d\n", info.ChunkCount)
	fmt.Fprintf(out, "  Documents:      %d\n", info.DocumentCount)
	fmt.Fprintf(out, "  Segment Size:   %s\n", ui.FormatBytes(info.SegmentBytes))
	fmt.Fprintf(out, "  Tombstone Size: %s\n", ui.FormatBytes(info.TombstoneBytes))
	fmt.Fprintln(out)

	fmt.Fprintln(out, "Timestamps:")
	fmt.Fprintf(out, "  Created:     %s\n", formatIndexInfoTime(info.CreatedAt))
	fmt.Fprintf(out, "  Last Update: %s\n", formatIndexInfoTime(info.UpdatedAt))
	fmt.Fprintln(out)

	if info.CurrentModel != "" {
		fmt.Fprintln(out, "Current Embedder:")
		fmt.Fprintf(out, "  Model:       %s\n", info.CurrentModel)
		fmt.Fprintf(out, "  Backend:     %s\n", info.CurrentBackend)
		fmt.Fprintf(out, "  Dimensions:  %d\n", info.CurrentDimensions)

		if info.Compatible {
			fmt.Fprintln(out, "  Status:      Compatible")
		} else {
			fmt.Fprintln(out, "  Status:      INCOMPATIBLE")
			fmt.Fprintln(out)
			fmt.Fprintln(out, "  Config fingerprint mismatch detected!")
			fmt.Fprintf(out, "    Snapshot: %s\n", info.ConfigFingerprint)
			fmt.Fprintln(out)
			fmt.Fprintln(out, "    Semantic search results may be stale until resync.")
			fmt.Fprintf(out, "    Run 'ggrep sync %s' to rebuild with the current config.\n", filepath.Clean(info.ProjectRoot))
		}
	}

	return nil
}

func formatIndexInfoTime(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return t.Format(time.RFC3339)
}
