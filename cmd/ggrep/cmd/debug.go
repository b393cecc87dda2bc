package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ggrep/ggrep/internal/config"
	"github.com/ggrep/ggrep/internal/identity"
	"github.com/ggrep/ggrep/internal/snapshot"
)

// DebugInfo is the machine-readable form of `ggrep debug`'s human report:
// everything needed to tell whether the active snapshot actually matches
// what a developer expects to be indexed, without reaching for a debugger.
type DebugInfo struct {
	ProjectRoot      string             `json:"project_root"`
	IndexPath        string             `json:"index_path"`
	SnapshotID       int64              `json:"snapshot_id"`
	FileCount        int                `json:"file_count"`
	ChunkCount       int                `json:"chunk_count"`
	TombstoneCount   int                `json:"tombstone_count"`
	SegmentCount     int                `json:"segment_count"`
	SegmentBytes     int64              `json:"segment_bytes"`
	LastPublished    time.Time          `json:"last_published"`
	EmbedderProvider string             `json:"embedder_provider"`
	EmbedderModel    string             `json:"embedder_model"`
	Languages        map[string]float64 `json:"languages"`
}

func newDebugCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "debug",
		Short: "Print detailed internals of the active snapshot",
		Long: `Dump a detailed report of the active snapshot: file and chunk counts,
segment layout, embedder configuration, and a per-language breakdown of
the live view. Intended for diagnosing why search results look wrong,
not for routine status checks (use 'ggrep status' for that).`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			root, err := config.FindProjectRoot(".")
			if err != nil {
				root, _ = os.Getwd()
			}
			cfg, err := config.Load(root)
			if err != nil {
				cfg = config.NewConfig()
			}
			id := resolveIdentity(cfg, root)
			dataDir := filepath.Join(root, ".ggrep")

			info, err := collectDebugInfo(cmd.Context(), root, dataDir, cfg, id)
			if err != nil {
				return err
			}

			if jsonOutput {
				encoder := json.NewEncoder(cmd.OutOrStdout())
				encoder.SetIndent("", "  ")
				return encoder.Encode(info)
			}
			printDebugInfo(cmd, info)
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func collectDebugInfo(_ context.Context, root, dataDir string, cfg *config.Config, id identity.Identity) (DebugInfo, error) {
	layout := snapshot.NewLayout(dataDir, id.StoreID)

	info := DebugInfo{
		ProjectRoot: root,
		IndexPath:   dataDir,
	}

	snapID, err := snapshot.ReadActiveSnapshotID(layout)
	if err != nil {
		return info, fmt.Errorf("no index found in %s\nRun 'ggrep sync' to create one", dataDir)
	}
	info.SnapshotID = snapID

	manifest, err := snapshot.ReadManifest(layout, snapID)
	if err != nil {
		return info, fmt.Errorf("read manifest: %w", err)
	}

	info.FileCount = manifest.Counts.Files
	info.ChunkCount = manifest.Counts.Chunks
	info.TombstoneCount = manifest.Counts.Tombstones
	info.SegmentCount = len(manifest.Segments)
	info.LastPublished = manifest.CreatedAt
	for _, seg := range manifest.Segments {
		info.SegmentBytes += seg.SizeBytes
	}

	info.EmbedderProvider = cfg.Embeddings.Provider
	if info.EmbedderProvider == "" {
		info.EmbedderProvider = "ollama"
	}
	info.EmbedderModel = cfg.Embeddings.Model
	if info.EmbedderModel == "" {
		info.EmbedderModel = "embeddinggemma"
	}

	fileIndex, err := snapshot.ReadSegmentFileIndex(layout, snapID)
	if err == nil {
		info.Languages = languageBreakdown(fileIndex)
	}

	return info, nil
}

func languageBreakdown(entries []snapshot.SegmentIndexEntry) map[string]float64 {
	if len(entries) == 0 {
		return map[string]float64{}
	}
	counts := make(map[string]int)
	for _, e := range entries {
		ext := strings.TrimPrefix(filepath.Ext(e.PathKey), ".")
		counts[normalizeExtension(ext)]++
	}
	total := len(entries)
	result := make(map[string]float64, len(counts))
	for lang, n := range counts {
		result[lang] = float64(n) / float64(total)
	}
	return result
}

func printDebugInfo(cmd *cobra.Command, info DebugInfo) {
	out := cmd.OutOrStdout()

	fmt.Fprintln(out, "Ggrep Debug Info")
	fmt.Fprintln(out, "================")
	fmt.Fprintln(out)
	fmt.Fprintf(out, "Project:  %s\n", info.ProjectRoot)
	fmt.Fprintf(out, "Index:    %s (snapshot %d)\n", info.IndexPath, info.SnapshotID)
	fmt.Fprintf(out, "Age:      %s\n", formatAge(info.LastPublished))
	fmt.Fprintln(out)

	fmt.Fprintln(out, "FILES & CHUNKS")
	fmt.Fprintf(out, "  Files:      %s\n", formatNumber(info.FileCount))
	fmt.Fprintf(out, "  Chunks:     %s\n", formatNumber(info.ChunkCount))
	fmt.Fprintf(out, "  Tombstones: %s\n", formatNumber(info.TombstoneCount))
	fmt.Fprintf(out, "  Languages:  %s\n", formatLanguages(info.Languages))
	fmt.Fprintln(out)

	fmt.Fprintln(out, "EMBEDDER")
	fmt.Fprintf(out, "  Provider: %s\n", info.EmbedderProvider)
	fmt.Fprintf(out, "  Model:    %s\n", info.EmbedderModel)
	fmt.Fprintln(out)

	fmt.Fprintln(out, "BM25 INDEX")
	fmt.Fprintf(out, "  Segments: %s\n", formatNumber(info.SegmentCount))
	fmt.Fprintln(out)

	fmt.Fprintln(out, "VECTOR STORE")
	fmt.Fprintf(out, "  Embedded rows: %s\n", formatNumber(info.ChunkCount))
	fmt.Fprintln(out)

	fmt.Fprintln(out, "STORAGE")
	fmt.Fprintf(out, "  Segment bytes: %s\n", formatNumber(int(info.SegmentBytes)))
}

func formatAge(t time.Time) string {
	if t.IsZero() {
		return "unknown"
	}
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < 2*time.Minute:
		return "1 minute ago"
	case d < time.Hour:
		return fmt.Sprintf("%d minutes ago", int(d.Minutes()))
	case d < 2*time.Hour:
		return "1 hour ago"
	case d < 24*time.Hour:
		return fmt.Sprintf("%d hours ago", int(d.Hours()))
	case d < 48*time.Hour:
		return "1 day ago"
	default:
		return fmt.Sprintf("%d days ago", int(d.Hours()/24))
	}
}

func formatNumber(n int) string {
	s := strconv.Itoa(n)
	neg := strings.HasPrefix(s, "-")
	if neg {
		s = s[1:]
	}
	var parts []string
	for len(s) > 3 {
		parts = append([]string{s[len(s)-3:]}, parts...)
		s = s[:len(s)-3]
	}
	parts = append([]string{s}, parts...)
	out := strings.Join(parts, ",")
	if neg {
		out = "-" + out
	}
	return out
}

func formatLanguages(langs map[string]float64) string {
	if len(langs) == 0 {
		return "none"
	}
	type langPct struct {
		name string
		pct  float64
	}
	list := make([]langPct, 0, len(langs))
	for name, pct := range langs {
		list = append(list, langPct{name, pct})
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].pct != list[j].pct {
			return list[i].pct > list[j].pct
		}
		return list[i].name < list[j].name
	})
	parts := make([]string, len(list))
	for i, l := range list {
		parts[i] = fmt.Sprintf("%s (%d%%)", l.name, int(l.pct*100+0.5))
	}
	return strings.Join(parts, ", ")
}

func normalizeExtension(ext string) string {
	switch ext {
	case "tsx":
		return "ts"
	case "jsx", "mjs":
		return "js"
	case "yml":
		return "yaml"
	case "htm":
		return "html"
	default:
		return ext
	}
}
