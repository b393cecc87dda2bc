package watcher

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/ggrep/ggrep/internal/gitignore"
)

// HybridWatcher fronts fsnotify with a polling fallback behind one
// interface. The choice is made once at construction: if fsnotify
// cannot initialize at all, every watch runs on the poller. Events
// flow raw-event → ignore filter → special-file classification →
// debouncer → batched output.
type HybridWatcher struct {
	fsWatcher      *fsnotify.Watcher
	pollWatcher    *PollingWatcher
	useFsnotify    bool
	debouncer      *Debouncer
	gitignore      *gitignore.Matcher
	events         chan []FileEvent
	errors         chan error
	stopCh         chan struct{}
	rootPath       string
	opts           Options
	mu             sync.RWMutex
	stopped        bool
	droppedBatches atomic.Uint64
}

// The hybrid watcher batches (debounced) events, so its Events()
// signature differs from the single-event Watcher interface.
var _ interface {
	Start(ctx context.Context, path string) error
	Stop() error
	Events() <-chan []FileEvent
	Errors() <-chan error
} = (*HybridWatcher)(nil)

// NewHybridWatcher builds a watcher, preferring fsnotify and falling
// back to polling when fsnotify cannot initialize.
func NewHybridWatcher(opts Options) (*HybridWatcher, error) {
	opts = opts.WithDefaults()

	h := &HybridWatcher{
		debouncer: NewDebouncer(opts.DebounceWindow),
		gitignore: gitignore.New(),
		events:    make(chan []FileEvent, opts.EventBufferSize),
		errors:    make(chan error, 10),
		stopCh:    make(chan struct{}),
		opts:      opts,
	}

	for _, pattern := range opts.IgnorePatterns {
		h.gitignore.AddPattern(pattern)
	}
	// The store's own directory must never feed events back into the
	// syncer.
	h.gitignore.AddPattern(".ggrep/")
	h.gitignore.AddPattern(".ggrep/**")

	if fsw, err := fsnotify.NewWatcher(); err == nil {
		h.fsWatcher = fsw
		h.useFsnotify = true
	} else {
		h.pollWatcher = NewPollingWatcher(opts.PollInterval)
	}

	return h, nil
}

// Start watches path until the context ends or Stop is called.
func (h *HybridWatcher) Start(ctx context.Context, path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("watcher: resolve root: %w", err)
	}
	h.rootPath = absPath

	h.loadGitignore()
	go h.forwardDebouncedEvents(ctx)

	if h.useFsnotify {
		return h.startFsnotify(ctx)
	}
	return h.startPolling(ctx)
}

func (h *HybridWatcher) startFsnotify(ctx context.Context) error {
	if err := h.addRecursive(h.rootPath); err != nil {
		return fmt.Errorf("watcher: register directories: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			_ = h.Stop()
			return ctx.Err()
		case <-h.stopCh:
			return nil
		case event, ok := <-h.fsWatcher.Events:
			if !ok {
				return nil
			}
			h.handleFsnotifyEvent(event)
		case err, ok := <-h.fsWatcher.Errors:
			if !ok {
				return nil
			}
			h.emitError(err)
		}
	}
}

func (h *HybridWatcher) startPolling(ctx context.Context) error {
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-h.stopCh:
				return
			case event, ok := <-h.pollWatcher.Events():
				if !ok {
					return
				}
				if h.shouldIgnore(event.Path, event.IsDir) {
					continue
				}
				if special, handled := h.classifySpecial(event.Path); handled {
					h.debouncer.Add(special)
					continue
				}
				h.debouncer.Add(event)
			case err, ok := <-h.pollWatcher.Errors():
				if !ok {
					return
				}
				h.emitError(err)
			}
		}
	}()

	return h.pollWatcher.Start(ctx, h.rootPath)
}

// classifySpecial recognizes the two files whose edits change the
// eligible set rather than their own content: .gitignore (reload
// matchers, reconcile) and the repo config. These become their own
// operations and never surface as plain MODIFYs.
func (h *HybridWatcher) classifySpecial(relPath string) (FileEvent, bool) {
	switch filepath.Base(relPath) {
	case ".gitignore":
		h.loadGitignore()
		return FileEvent{
			Path:      relPath,
			Operation: OpGitignoreChange,
			Timestamp: time.Now(),
		}, true
	case ".ggrep.yaml", ".ggrep.yml":
		return FileEvent{
			Path:      relPath,
			Operation: OpConfigChange,
			Timestamp: time.Now(),
		}, true
	}
	return FileEvent{}, false
}

// handleFsnotifyEvent filters, classifies, and converts one raw
// fsnotify event into the debouncer.
func (h *HybridWatcher) handleFsnotifyEvent(event fsnotify.Event) {
	relPath, err := filepath.Rel(h.rootPath, event.Name)
	if err != nil {
		relPath = event.Name
	}

	isDir := false
	if info, err := os.Stat(event.Name); err == nil {
		isDir = info.IsDir()
	}

	if h.shouldIgnore(relPath, isDir) {
		return
	}
	if special, handled := h.classifySpecial(relPath); handled {
		h.debouncer.Add(special)
		return
	}

	var op Operation
	switch {
	case event.Op&fsnotify.Create != 0:
		op = OpCreate
		// New directories must be registered or their contents go
		// unwatched.
		if isDir {
			_ = h.fsWatcher.Add(event.Name)
		}
	case event.Op&fsnotify.Write != 0:
		op = OpModify
	case event.Op&fsnotify.Remove != 0:
		op = OpDelete
	case event.Op&fsnotify.Rename != 0:
		op = OpRename
	default:
		return // chmod and friends carry no content signal
	}

	h.debouncer.Add(FileEvent{
		Path:      relPath,
		Operation: op,
		IsDir:     isDir,
		Timestamp: time.Now(),
	})
}

func (h *HybridWatcher) forwardDebouncedEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-h.stopCh:
			return
		case events, ok := <-h.debouncer.Output():
			if !ok {
				return
			}
			if len(events) == 0 {
				continue
			}
			h.emitEvents(events)
		}
	}
}

// addRecursive registers every non-ignored directory with fsnotify,
// which only watches single directories.
func (h *HybridWatcher) addRecursive(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}

		relPath, _ := filepath.Rel(h.rootPath, path)
		if relPath == "." {
			return h.fsWatcher.Add(path)
		}
		if h.shouldIgnoreDir(relPath) {
			return filepath.SkipDir
		}
		return h.fsWatcher.Add(path)
	})
}

func (h *HybridWatcher) shouldIgnoreDir(relPath string) bool {
	if strings.HasPrefix(relPath, ".git") || relPath == ".git" {
		return true
	}
	if strings.HasPrefix(relPath, ".ggrep") || relPath == ".ggrep" {
		return true
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.gitignore.Match(relPath, true)
}

func (h *HybridWatcher) shouldIgnore(relPath string, isDir bool) bool {
	if relPath == "." || relPath == "" {
		return true
	}
	if strings.HasPrefix(relPath, ".git/") || relPath == ".git" {
		return true
	}
	if strings.HasPrefix(relPath, ".ggrep/") || relPath == ".ggrep" {
		return true
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.gitignore.Match(relPath, isDir)
}

// loadGitignore rebuilds the matcher from scratch: configured
// patterns, the store-directory exclusions, the root .gitignore, and
// every nested .gitignore. Runs at start and again whenever any
// .gitignore changes.
func (h *HybridWatcher) loadGitignore() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.gitignore = gitignore.New()
	for _, pattern := range h.opts.IgnorePatterns {
		h.gitignore.AddPattern(pattern)
	}
	h.gitignore.AddPattern(".ggrep/")
	h.gitignore.AddPattern(".ggrep/**")

	gitignorePath := filepath.Join(h.rootPath, ".gitignore")
	if err := h.gitignore.AddFromFile(gitignorePath, ""); err != nil && !os.IsNotExist(err) {
		slog.Warn("failed to load root .gitignore",
			slog.String("path", gitignorePath),
			slog.String("error", err.Error()))
	}

	_ = filepath.WalkDir(h.rootPath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			slog.Warn("skipping directory in gitignore scan",
				slog.String("path", path),
				slog.String("error", err.Error()))
			return nil
		}
		if d.IsDir() {
			return nil
		}
		if d.Name() == ".gitignore" && path != gitignorePath {
			base, _ := filepath.Rel(h.rootPath, filepath.Dir(path))
			if err := h.gitignore.AddFromFile(path, base); err != nil {
				slog.Warn("failed to read nested .gitignore",
					slog.String("path", path),
					slog.String("error", err.Error()))
			}
		}
		return nil
	})
}

// emitEvents forwards a batch without blocking; drops are counted and
// repaired later by reconciliation.
func (h *HybridWatcher) emitEvents(events []FileEvent) {
	h.mu.RLock()
	stopped := h.stopped
	h.mu.RUnlock()
	if stopped {
		return
	}

	select {
	case h.events <- events:
	default:
		count := h.droppedBatches.Add(1)
		slog.Warn("event buffer full, dropping batch",
			slog.Int("batch_size", len(events)),
			slog.Uint64("total_dropped_batches", count),
		)
	}
}

// DroppedBatches counts batches lost to a full buffer; status surfaces
// it.
func (h *HybridWatcher) DroppedBatches() uint64 {
	return h.droppedBatches.Load()
}

func (h *HybridWatcher) emitError(err error) {
	h.mu.RLock()
	stopped := h.stopped
	h.mu.RUnlock()
	if stopped {
		return
	}

	select {
	case h.errors <- err:
	default:
	}
}

// Stop shuts down the debouncer, the underlying watcher, and both
// output channels; safe to call repeatedly.
func (h *HybridWatcher) Stop() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.stopped {
		return nil
	}
	h.stopped = true
	close(h.stopCh)

	h.debouncer.Stop()
	if h.useFsnotify && h.fsWatcher != nil {
		_ = h.fsWatcher.Close()
	}
	if h.pollWatcher != nil {
		_ = h.pollWatcher.Stop()
	}

	close(h.events)
	close(h.errors)
	return nil
}

// Events delivers debounced batches.
func (h *HybridWatcher) Events() <-chan []FileEvent {
	return h.events
}

func (h *HybridWatcher) Errors() <-chan error {
	return h.errors
}

// IsHealthy reports whether the watcher is still running.
func (h *HybridWatcher) IsHealthy() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return !h.stopped
}

// WatcherType reports "fsnotify" or "polling" for status output.
func (h *HybridWatcher) WatcherType() string {
	if h.useFsnotify {
		return "fsnotify"
	}
	return "polling"
}

// RootPath is the watched root.
func (h *HybridWatcher) RootPath() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.rootPath
}
