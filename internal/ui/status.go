package ui

import (
	"encoding/json"
	"fmt"
	"io"
	"time"
)

// StatusInfo is the store-health summary `ggrep status` renders:
// counts and sizes from the active snapshot's manifest, plus component
// states probed live.
type StatusInfo struct {
	ProjectName string    `json:"project_name"`
	SnapshotID  int64     `json:"snapshot_id"`
	TotalFiles  int       `json:"total_files"`
	TotalChunks int       `json:"total_chunks"`
	LastIndexed time.Time `json:"last_indexed"`

	// Storage, in bytes, split the way the snapshot layout splits:
	// segment artifacts and tombstone/index sidecars.
	SegmentsSize   int64 `json:"segments_size"`
	TombstonesSize int64 `json:"tombstones_size"`
	TotalSize      int64 `json:"total_size"`

	// Component status.
	EmbedderType   string `json:"embedder_type"`
	EmbedderStatus string `json:"embedder_status"` // "ready", "offline", "error"
	EmbedderModel  string `json:"embedder_model,omitempty"`
	WatcherStatus  string `json:"watcher_status"` // "running", "stopped", "n/a"
}

// StatusRenderer prints StatusInfo as text or JSON.
type StatusRenderer struct {
	out     io.Writer
	styles  Styles
	noColor bool
}

// NewStatusRenderer builds a renderer onto out.
func NewStatusRenderer(out io.Writer, noColor bool) *StatusRenderer {
	return &StatusRenderer{
		out:     out,
		styles:  GetStyles(noColor),
		noColor: noColor,
	}
}

// Render prints the human-readable status block.
func (r *StatusRenderer) Render(info StatusInfo) error {
	_, _ = fmt.Fprintf(r.out, "%s\n\n", r.styles.Header.Render("Store Status: "+info.ProjectName))

	if info.SnapshotID > 0 {
		_, _ = fmt.Fprintf(r.out, "  Snapshot:     %d\n", info.SnapshotID)
	}
	_, _ = fmt.Fprintf(r.out, "  Files:        %d\n", info.TotalFiles)
	_, _ = fmt.Fprintf(r.out, "  Chunks:       %d\n", info.TotalChunks)
	if !info.LastIndexed.IsZero() {
		_, _ = fmt.Fprintf(r.out, "  Last indexed: %s\n", formatTime(info.LastIndexed))
	}
	_, _ = fmt.Fprintln(r.out)

	_, _ = fmt.Fprintln(r.out, "  Storage:")
	_, _ = fmt.Fprintf(r.out, "    Segments:   %s\n", FormatBytes(info.SegmentsSize))
	_, _ = fmt.Fprintf(r.out, "    Tombstones: %s\n", FormatBytes(info.TombstonesSize))
	_, _ = fmt.Fprintf(r.out, "    Total:      %s\n", FormatBytes(info.TotalSize))
	_, _ = fmt.Fprintln(r.out)

	_, _ = fmt.Fprintln(r.out, "  Embedder:")
	_, _ = fmt.Fprintf(r.out, "    Type:   %s\n", info.EmbedderType)
	_, _ = fmt.Fprintf(r.out, "    Status: %s\n", r.renderStatus(info.EmbedderStatus))
	if info.EmbedderModel != "" {
		_, _ = fmt.Fprintf(r.out, "    Model:  %s\n", info.EmbedderModel)
	}
	_, _ = fmt.Fprintln(r.out)

	if info.WatcherStatus != "" && info.WatcherStatus != "n/a" {
		_, _ = fmt.Fprintf(r.out, "  Watcher: %s\n", r.renderStatus(info.WatcherStatus))
	}

	return nil
}

// RenderJSON prints the status as indented JSON.
func (r *StatusRenderer) RenderJSON(info StatusInfo) error {
	encoder := json.NewEncoder(r.out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(info)
}

// renderStatus colors a component state: healthy green, degraded
// yellow, broken red.
func (r *StatusRenderer) renderStatus(status string) string {
	switch status {
	case "ready", "running":
		return r.styles.Success.Render(status)
	case "offline", "stopped":
		return r.styles.Warning.Render(status)
	case "error":
		return r.styles.Error.Render(status)
	default:
		return status
	}
}

// formatTime renders a timestamp relative for the recent past and
// absolute beyond a week.
func formatTime(t time.Time) string {
	diff := time.Since(t)

	switch {
	case diff < time.Minute:
		return "just now"
	case diff < time.Hour:
		mins := int(diff.Minutes())
		if mins == 1 {
			return "1 minute ago"
		}
		return fmt.Sprintf("%d minutes ago", mins)
	case diff < 24*time.Hour:
		hours := int(diff.Hours())
		if hours == 1 {
			return "1 hour ago"
		}
		return fmt.Sprintf("%d hours ago", hours)
	case diff < 7*24*time.Hour:
		days := int(diff.Hours() / 24)
		if days == 1 {
			return "1 day ago"
		}
		return fmt.Sprintf("%d days ago", days)
	default:
		return t.Format("2006-01-02 15:04")
	}
}

// FormatBytes renders a byte count with a binary-unit suffix.
func FormatBytes(bytes int64) string {
	const (
		KB = 1024
		MB = 1024 * KB
		GB = 1024 * MB
	)
	switch {
	case bytes >= GB:
		return fmt.Sprintf("%.1f GB", float64(bytes)/float64(GB))
	case bytes >= MB:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(MB))
	case bytes >= KB:
		return fmt.Sprintf("%.1f KB", float64(bytes)/float64(KB))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}
