package watcher

import (
	"context"
	"time"
)

// Operation classifies a file event.
type Operation int

const (
	OpCreate Operation = iota
	OpModify
	OpDelete
	OpRename
	// OpGitignoreChange marks an edit to any .gitignore. The consumer
	// must invalidate its matcher cache and reconcile, because files
	// can enter or leave the eligible set without themselves changing.
	OpGitignoreChange
	// OpConfigChange marks an edit to the repo config file, which can
	// change exclude patterns the same way.
	OpConfigChange
)

// String names the operation for logs.
func (op Operation) String() string {
	switch op {
	case OpCreate:
		return "CREATE"
	case OpModify:
		return "MODIFY"
	case OpDelete:
		return "DELETE"
	case OpRename:
		return "RENAME"
	case OpGitignoreChange:
		return "GITIGNORE_CHANGE"
	case OpConfigChange:
		return "CONFIG_CHANGE"
	default:
		return "UNKNOWN"
	}
}

// FileEvent is one observed filesystem change, paths relative to the
// watched root.
type FileEvent struct {
	Path string

	// OldPath is set only for renames.
	OldPath string

	Operation Operation
	IsDir     bool
	Timestamp time.Time
}

// Watcher is the hint source contract the daemon consumes.
type Watcher interface {
	// Start watches path recursively until Stop or context
	// cancellation.
	Start(ctx context.Context, path string) error

	// Stop releases resources; safe to call repeatedly.
	Stop() error

	// Events delivers debounced events; closed on stop.
	Events() <-chan FileEvent

	// Errors delivers non-fatal errors while the watcher keeps
	// running; closed on stop.
	Errors() <-chan error
}

// Options tunes a watcher.
type Options struct {
	// DebounceWindow coalesces bursts before events are emitted.
	DebounceWindow time.Duration

	// PollInterval paces the fallback poller.
	PollInterval time.Duration

	// EventBufferSize is the event channel capacity; a full buffer
	// drops hints, which reconciliation later repairs.
	EventBufferSize int

	// IgnorePatterns extend .gitignore filtering, gitignore syntax.
	IgnorePatterns []string
}

// DefaultOptions: 200ms debounce, 5s polling, 1000-event buffer.
func DefaultOptions() Options {
	return Options{
		DebounceWindow:  200 * time.Millisecond,
		PollInterval:    5 * time.Second,
		EventBufferSize: 1000,
	}
}

// Validate reports option errors; every field currently has a safe
// interpretation, so there are none.
func (o Options) Validate() error {
	return nil
}

// WithDefaults fills zero values from DefaultOptions.
func (o Options) WithDefaults() Options {
	defaults := DefaultOptions()
	if o.DebounceWindow == 0 {
		o.DebounceWindow = defaults.DebounceWindow
	}
	if o.PollInterval == 0 {
		o.PollInterval = defaults.PollInterval
	}
	if o.EventBufferSize == 0 {
		o.EventBufferSize = defaults.EventBufferSize
	}
	return o
}
