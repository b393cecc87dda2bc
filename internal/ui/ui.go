// Package ui renders sync progress and store status to the terminal.
// Two renderers sit behind one interface: a bubbletea TUI for
// interactive terminals and a line-per-event plain renderer for CI and
// pipes; NewRenderer picks per environment so command code never
// branches on TTY-ness.
package ui

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/mattn/go-isatty"
)

// Stage names a phase of the sync pipeline for display grouping.
type Stage int

const (
	StageScanning Stage = iota
	StageChunking
	// StagePublish covers manifest assembly and the atomic pointer
	// swap.
	StagePublish
	StageEmbedding
	StageIndexing
	StageComplete
)

// String is the long display name.
func (s Stage) String() string {
	switch s {
	case StageScanning:
		return "Scanning"
	case StageChunking:
		return "Chunking"
	case StagePublish:
		return "Publish"
	case StageEmbedding:
		return "Embedding"
	case StageIndexing:
		return "Indexing"
	case StageComplete:
		return "Complete"
	default:
		return "Unknown"
	}
}

// Icon is the short bracket tag plain output uses.
func (s Stage) Icon() string {
	switch s {
	case StageScanning:
		return "SCAN"
	case StageChunking:
		return "CHUNK"
	case StagePublish:
		return "PUB"
	case StageEmbedding:
		return "EMBED"
	case StageIndexing:
		return "INDEX"
	case StageComplete:
		return "DONE"
	default:
		return "???"
	}
}

// ProgressEvent is one progress update. Total 0 means the stage has no
// known item count (a spinner, not a bar).
type ProgressEvent struct {
	Stage       Stage
	Current     int
	Total       int
	CurrentFile string
	Message     string
}

// ErrorEvent is one failure to surface without stopping the run.
type ErrorEvent struct {
	File   string
	Err    error
	IsWarn bool
}

// StageTimings is the per-stage duration breakdown for the summary.
type StageTimings struct {
	Scan    time.Duration
	Chunk   time.Duration
	Publish time.Duration
	Embed   time.Duration
	Index   time.Duration
}

// EmbedderInfo names the backend for the summary footer.
type EmbedderInfo struct {
	Backend    string
	Model      string
	Dimensions int
}

// CompletionStats is the final summary a renderer prints.
type CompletionStats struct {
	Files    int
	Chunks   int
	Duration time.Duration
	Errors   int
	Warnings int
	Stages   StageTimings
	Embedder EmbedderInfo
}

// Renderer is the progress-display contract both renderers satisfy.
type Renderer interface {
	Start(ctx context.Context) error
	UpdateProgress(event ProgressEvent)
	AddError(event ErrorEvent)
	Complete(stats CompletionStats)
	Stop() error
}

// Config selects output and styling for a renderer.
type Config struct {
	Output       io.Writer
	ForcePlain   bool
	NoColor      bool
	SpinnerStyle string
	// ProjectDir shows in the TUI header.
	ProjectDir string
}

// ConfigOption mutates a Config.
type ConfigOption func(*Config)

// WithForcePlain skips the TUI regardless of TTY detection.
func WithForcePlain(force bool) ConfigOption {
	return func(c *Config) { c.ForcePlain = force }
}

// WithNoColor disables color output.
func WithNoColor(noColor bool) ConfigOption {
	return func(c *Config) { c.NoColor = noColor }
}

// WithSpinnerStyle sets the spinner style.
func WithSpinnerStyle(style string) ConfigOption {
	return func(c *Config) { c.SpinnerStyle = style }
}

// WithProjectDir sets the header's project path.
func WithProjectDir(dir string) ConfigOption {
	return func(c *Config) { c.ProjectDir = dir }
}

// NewConfig builds a Config over output with options applied.
func NewConfig(output io.Writer, opts ...ConfigOption) Config {
	cfg := Config{
		Output:       output,
		SpinnerStyle: "dots",
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// NewRenderer picks the renderer: plain when forced, when output is
// not a terminal, or under CI; otherwise the TUI, falling back to
// plain if the TUI fails to construct.
func NewRenderer(cfg Config) Renderer {
	if cfg.ForcePlain || !IsTTY(cfg.Output) || DetectCI() {
		return NewPlainRenderer(cfg)
	}

	tui, err := NewTUIRenderer(cfg)
	if err != nil {
		return NewPlainRenderer(cfg)
	}
	return tui
}

// IsTTY reports whether w is an interactive terminal.
func IsTTY(w io.Writer) bool {
	if w == nil {
		return false
	}
	if f, ok := w.(*os.File); ok {
		return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}
	return false
}

// DetectNoColor honors the NO_COLOR convention.
func DetectNoColor() bool {
	_, exists := os.LookupEnv("NO_COLOR")
	return exists
}

// DetectCI recognizes the common CI environment markers.
func DetectCI() bool {
	for _, v := range []string{"CI", "GITHUB_ACTIONS", "GITLAB_CI", "JENKINS_URL", "TRAVIS"} {
		if _, exists := os.LookupEnv(v); exists {
			return true
		}
	}
	return false
}
