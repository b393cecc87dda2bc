package watcher

import (
	"log/slog"
	"sync"
	"time"
)

// Debouncer folds per-path event bursts into one effective event. An
// editor save is typically CREATE+MODIFY on a temp file plus a rename;
// a git checkout is hundreds of MODIFYs in a few milliseconds. The
// merge rules keep only what the sequence amounts to:
//
//	CREATE then MODIFY  → CREATE
//	CREATE then DELETE  → nothing happened
//	MODIFY then DELETE  → DELETE
//	DELETE then CREATE  → MODIFY (the file was replaced)
type Debouncer struct {
	window  time.Duration
	pending map[string]*pendingEvent
	mu      sync.Mutex
	output  chan []FileEvent
	timer   *time.Timer
	stopCh  chan struct{}
	stopped bool
}

type pendingEvent struct {
	event FileEvent
	// firstOp anchors the merge rules; the sequence's meaning depends
	// on how it started.
	firstOp  Operation
	lastSeen time.Time
}

// NewDebouncer coalesces events within the given window.
func NewDebouncer(window time.Duration) *Debouncer {
	return &Debouncer{
		window:  window,
		pending: make(map[string]*pendingEvent),
		output:  make(chan []FileEvent, 10),
		stopCh:  make(chan struct{}),
	}
}

// Add feeds one raw event in. Each Add resets the flush timer, so a
// sustained burst flushes once, when it quiets.
func (d *Debouncer) Add(event FileEvent) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}

	now := time.Now()
	if existing, ok := d.pending[event.Path]; ok {
		merged := d.merge(existing, event)
		if merged == nil {
			delete(d.pending, event.Path)
		} else {
			existing.event = *merged
			existing.lastSeen = now
		}
	} else {
		d.pending[event.Path] = &pendingEvent{
			event:    event,
			firstOp:  event.Operation,
			lastSeen: now,
		}
	}

	d.scheduleFlush()
}

// merge applies the coalescing rules; nil means the pair cancelled.
func (d *Debouncer) merge(existing *pendingEvent, incoming FileEvent) *FileEvent {
	switch existing.firstOp {
	case OpCreate:
		switch incoming.Operation {
		case OpModify:
			return &existing.event // still just a new file
		case OpDelete:
			return nil // created and deleted inside the window
		default:
			return &incoming
		}

	case OpModify:
		return &incoming // latest wins; MODIFY+DELETE is DELETE

	case OpDelete:
		if incoming.Operation == OpCreate {
			replaced := incoming
			replaced.Operation = OpModify
			return &replaced
		}
		return &incoming

	default:
		return &incoming
	}
}

func (d *Debouncer) scheduleFlush() {
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.window, d.flush)
}

// flush emits the pending batch without blocking; if the consumer has
// fallen this far behind, dropping the batch is safe because the
// periodic reconciliation re-derives anything lost.
func (d *Debouncer) flush() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped || len(d.pending) == 0 {
		return
	}

	events := make([]FileEvent, 0, len(d.pending))
	for _, pe := range d.pending {
		events = append(events, pe.event)
	}
	d.pending = make(map[string]*pendingEvent)

	select {
	case d.output <- events:
	default:
		slog.Warn("debouncer output full, dropping batch",
			slog.Int("batch_size", len(events)),
		)
	}
}

// Output delivers coalesced batches.
func (d *Debouncer) Output() <-chan []FileEvent {
	return d.output
}

// Stop closes the output channel; safe to call repeatedly.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}
	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
	}
	close(d.stopCh)
	close(d.output)
}
