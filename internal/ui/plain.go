package ui

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"
)

// PlainRenderer prints one line per progress event; the renderer for
// CI logs, pipes, and anywhere a redrawn screen would turn into
// control-code soup.
type PlainRenderer struct {
	mu      sync.Mutex
	out     io.Writer
	noColor bool
	stage   Stage
	errors  []ErrorEvent
}

// NewPlainRenderer builds a renderer onto cfg.Output.
func NewPlainRenderer(cfg Config) *PlainRenderer {
	return &PlainRenderer{
		out:     cfg.Output,
		noColor: cfg.NoColor,
	}
}

// Start is a no-op; there is no screen to take over.
func (r *PlainRenderer) Start(ctx context.Context) error {
	return nil
}

// UpdateProgress prints `[STAGE] current/total - detail`.
func (r *PlainRenderer) UpdateProgress(event ProgressEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.stage = event.Stage

	msg := event.Message
	if msg == "" {
		msg = event.CurrentFile
	}

	if event.Total > 0 {
		_, _ = fmt.Fprintf(r.out, "[%s] %d/%d - %s\n", event.Stage.Icon(), event.Current, event.Total, msg)
	} else if msg != "" {
		_, _ = fmt.Fprintf(r.out, "[%s] %s\n", event.Stage.Icon(), msg)
	}
}

// AddError prints and retains the error for the final count.
func (r *PlainRenderer) AddError(event ErrorEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.errors = append(r.errors, event)

	prefix := "ERROR"
	if event.IsWarn {
		prefix = "WARN"
	}
	if event.File != "" {
		_, _ = fmt.Fprintf(r.out, "%s: %s: %v\n", prefix, event.File, event.Err)
	} else {
		_, _ = fmt.Fprintf(r.out, "%s: %v\n", prefix, event.Err)
	}
}

// Complete prints the summary, the per-stage breakdown when timings
// were collected, and the embedder line when known.
func (r *PlainRenderer) Complete(stats CompletionStats) {
	r.mu.Lock()
	defer r.mu.Unlock()

	round := func(d time.Duration) time.Duration { return d.Round(100 * time.Millisecond) }

	_, _ = fmt.Fprintf(r.out, "Complete: %d files, %d chunks indexed in %s",
		stats.Files, stats.Chunks, round(stats.Duration))
	if stats.Errors > 0 || stats.Warnings > 0 {
		_, _ = fmt.Fprintf(r.out, " (%d errors, %d warnings)", stats.Errors, stats.Warnings)
	}
	_, _ = fmt.Fprintln(r.out)

	if stats.Stages.Scan > 0 || stats.Stages.Embed > 0 {
		_, _ = fmt.Fprintln(r.out)
		_, _ = fmt.Fprintln(r.out, "Stage Breakdown:")
		_, _ = fmt.Fprintf(r.out, "  Scan:    %s (files discovered)\n", round(stats.Stages.Scan))
		_, _ = fmt.Fprintf(r.out, "  Chunk:   %s (code parsed)\n", round(stats.Stages.Chunk))
		if stats.Stages.Publish > 0 {
			_, _ = fmt.Fprintf(r.out, "  Publish: %s (manifest committed)\n", round(stats.Stages.Publish))
		}
		if stats.Stages.Embed > 0 && stats.Chunks > 0 {
			chunksPerSec := float64(stats.Chunks) / stats.Stages.Embed.Seconds()
			_, _ = fmt.Fprintf(r.out, "  Embed:   %s (%d chunks @ %.1f/sec)\n",
				round(stats.Stages.Embed), stats.Chunks, chunksPerSec)
		}
		_, _ = fmt.Fprintf(r.out, "  Index:   %s (lexical + vector)\n", round(stats.Stages.Index))
	}

	if stats.Embedder.Backend != "" {
		_, _ = fmt.Fprintln(r.out)
		_, _ = fmt.Fprintf(r.out, "Backend: %s (%s, %d dims)\n",
			stats.Embedder.Backend, stats.Embedder.Model, stats.Embedder.Dimensions)
	}
}

// Stop is a no-op.
func (r *PlainRenderer) Stop() error {
	return nil
}
