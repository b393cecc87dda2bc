package async

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// IndexFunc is the injected unit of indexing work; the daemon passes
// a closure over its syncer, tests pass fakes.
type IndexFunc func(ctx context.Context, progress *IndexProgress) error

// IndexerConfig locates the data directory that carries the
// in-progress marker.
type IndexerConfig struct {
	DataDir string
}

// BackgroundIndexer runs one indexing pass off the caller's
// goroutine, so the MCP server can answer index_status queries while
// the first sync is still running. The marker file it maintains lets
// a restarted process see that a previous run died mid-index.
type BackgroundIndexer struct {
	config   IndexerConfig
	progress *IndexProgress

	// IndexFunc is the actual indexing function to run.
	// This can be injected for testing.
	IndexFunc IndexFunc

	// Lifecycle management
	stopCh chan struct{}
	doneCh chan struct{}

	mu      sync.Mutex
	running bool
	err     error
}

// NewBackgroundIndexer builds an idle indexer; Start launches it.
func NewBackgroundIndexer(cfg IndexerConfig) *BackgroundIndexer {
	return &BackgroundIndexer{
		config:   cfg,
		progress: NewIndexProgress(),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Progress exposes the shared progress tracker.
func (b *BackgroundIndexer) Progress() *IndexProgress {
	return b.progress
}

// IsRunning reports whether a pass is in flight.
func (b *BackgroundIndexer) IsRunning() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.running
}

// Start launches the pass and returns immediately; Wait blocks for
// completion. A second Start while running is a no-op.
func (b *BackgroundIndexer) Start(ctx context.Context) {
	b.mu.Lock()
	if b.running {
		b.mu.Unlock()
		return
	}
	b.running = true
	b.mu.Unlock()

	go b.run(ctx)
}

// run owns the pass lifecycle: marker file down, work, marker file
// up.
func (b *BackgroundIndexer) run(ctx context.Context) {
	defer close(b.doneCh)
	defer func() {
		b.mu.Lock()
		b.running = false
		b.mu.Unlock()
	}()

	// Merge the parent context with the stop channel.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		select {
		case <-b.stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	lockPath := filepath.Join(b.config.DataDir, "indexing.lock")
	if err := os.MkdirAll(b.config.DataDir, 0755); err != nil {
		b.progress.SetError(err.Error())
		b.mu.Lock()
		b.err = err
		b.mu.Unlock()
		return
	}

	if err := os.WriteFile(lockPath, []byte(time.Now().Format(time.RFC3339)), 0644); err != nil {
		b.progress.SetError(err.Error())
		b.mu.Lock()
		b.err = err
		b.mu.Unlock()
		return
	}

	defer func() { _ = os.Remove(lockPath) }()

	if b.IndexFunc != nil {
		if err := b.IndexFunc(ctx, b.progress); err != nil {
			b.progress.SetError(err.Error())
			b.mu.Lock()
			b.err = err
			b.mu.Unlock()
			return
		}
	}

	b.progress.SetReady()
}

// Stop cancels the pass and waits for run to exit.
func (b *BackgroundIndexer) Stop() {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return
	}
	b.mu.Unlock()

	close(b.stopCh)
	<-b.doneCh
}

// Wait blocks until the pass finishes and returns its error.
func (b *BackgroundIndexer) Wait() error {
	<-b.doneCh
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.err
}

// HasIncompleteLock reports whether a previous pass died with its
// marker still down; the signal to offer a fresh reindex.
func HasIncompleteLock(dataDir string) bool {
	lockPath := filepath.Join(dataDir, "indexing.lock")
	_, err := os.Stat(lockPath)
	return err == nil
}
