package watcher

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"sync"
	"time"
)

// PollingWatcher derives events by diffing periodic walks of the tree
// against the previous walk's (mtime, size) snapshot. It is the
// fallback for filesystems where fsnotify cannot deliver; network
// mounts, container volume drivers, exhausted inotify budgets.
type PollingWatcher struct {
	interval  time.Duration
	fileState map[string]fileSnapshot
	events    chan FileEvent
	errors    chan error
	stopCh    chan struct{}
	mu        sync.RWMutex
	stopped   bool
	rootPath  string
}

type fileSnapshot struct {
	modTime time.Time
	size    int64
	isDir   bool
}

// NewPollingWatcher polls at the given interval.
func NewPollingWatcher(interval time.Duration) *PollingWatcher {
	return &PollingWatcher{
		interval:  interval,
		fileState: make(map[string]fileSnapshot),
		events:    make(chan FileEvent, 100),
		errors:    make(chan error, 10),
		stopCh:    make(chan struct{}),
	}
}

// Start blocks, walking once to establish the baseline and then
// diffing on each tick, until the context ends or Stop is called.
func (p *PollingWatcher) Start(ctx context.Context, path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("watcher: resolve root: %w", err)
	}
	p.rootPath = absPath

	if err := p.scan(); err != nil {
		return fmt.Errorf("watcher: baseline scan: %w", err)
	}

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = p.Stop()
			return ctx.Err()
		case <-p.stopCh:
			return nil
		case <-ticker.C:
			if err := p.detectChanges(); err != nil {
				select {
				case p.errors <- err:
				default:
				}
			}
		}
	}
}

// Stop closes both channels; safe to call repeatedly.
func (p *PollingWatcher) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopped {
		return nil
	}
	p.stopped = true
	close(p.stopCh)
	close(p.events)
	close(p.errors)
	return nil
}

func (p *PollingWatcher) Events() <-chan FileEvent {
	return p.events
}

func (p *PollingWatcher) Errors() <-chan error {
	return p.errors
}

// scan records the baseline without emitting anything.
func (p *PollingWatcher) scan() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	return filepath.WalkDir(p.rootPath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		relPath, err := filepath.Rel(p.rootPath, path)
		if err != nil || relPath == "." {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		p.fileState[relPath] = fileSnapshot{
			modTime: info.ModTime(),
			size:    info.Size(),
			isDir:   d.IsDir(),
		}
		return nil
	})
}

// detectChanges walks the tree, emitting CREATE for paths the previous
// snapshot lacked, MODIFY where mtime or size moved, and DELETE for
// previous paths the walk no longer found.
func (p *PollingWatcher) detectChanges() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	currentFiles := make(map[string]fileSnapshot)

	err := filepath.WalkDir(p.rootPath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		relPath, err := filepath.Rel(p.rootPath, path)
		if err != nil || relPath == "." {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}

		snapshot := fileSnapshot{
			modTime: info.ModTime(),
			size:    info.Size(),
			isDir:   d.IsDir(),
		}
		currentFiles[relPath] = snapshot

		if prev, exists := p.fileState[relPath]; !exists {
			p.emitEvent(FileEvent{
				Path:      relPath,
				Operation: OpCreate,
				IsDir:     d.IsDir(),
				Timestamp: time.Now(),
			})
		} else if prev.modTime != snapshot.modTime || prev.size != snapshot.size {
			p.emitEvent(FileEvent{
				Path:      relPath,
				Operation: OpModify,
				IsDir:     d.IsDir(),
				Timestamp: time.Now(),
			})
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("watcher: diff walk: %w", err)
	}

	for path, snapshot := range p.fileState {
		if _, exists := currentFiles[path]; !exists {
			p.emitEvent(FileEvent{
				Path:      path,
				Operation: OpDelete,
				IsDir:     snapshot.isDir,
				Timestamp: time.Now(),
			})
		}
	}

	p.fileState = currentFiles
	return nil
}

// emitEvent sends without blocking; a full buffer drops the event and
// reconciliation recovers it. Caller holds the lock.
func (p *PollingWatcher) emitEvent(event FileEvent) {
	if p.stopped {
		return
	}
	select {
	case p.events <- event:
	default:
		slog.Warn("polling watcher buffer full, dropping event",
			slog.String("path", event.Path),
			slog.String("op", event.Operation.String()),
		)
	}
}
