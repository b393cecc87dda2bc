package snapshot

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// segmentHandle is a reference-counted, lazily loaded copy of one segment's
// rows. Multiple SnapshotViews across overlapping snapshots can reference
// the same segment (an unchanged file's segment carries forward unchanged
// across a publish), so the registry is keyed by segment id rather than
// owned per-view. This is the cyclic-ownership resolution: the Manager owns
// segment memory, SnapshotView only borrows it.
type segmentHandle struct {
	rows     []ChunkRow
	refCount int
}

// Manager owns the segment handle registry for one store and opens
// SnapshotViews against its published snapshots.
type Manager struct {
	mu       sync.Mutex
	layout   Layout
	segments SegmentStore
	handles  map[string]*segmentHandle
}

// NewManager returns a Manager for the store rooted at layout.
func NewManager(layout Layout, segments SegmentStore) *Manager {
	return &Manager{
		layout:   layout,
		segments: segments,
		handles:  make(map[string]*segmentHandle),
	}
}

// Open resolves the active (or latest valid) snapshot and returns a pinned
// view over it. The caller must call Close when done; segments unreferenced
// by any open view are evicted from memory, not from disk.
func (m *Manager) Open() (*SnapshotView, error) {
	manifest, err := OpenLatestValid(m.layout, m.segments)
	if err != nil {
		return nil, err
	}
	return m.openManifest(manifest)
}

// OpenSnapshot pins a specific, already-published snapshot by id. Used by
// compaction to rebase against whatever is currently active without racing
// a concurrent publish.
func (m *Manager) OpenSnapshot(snapshotID int64) (*SnapshotView, error) {
	manifest, err := ReadManifest(m.layout, snapshotID)
	if err != nil {
		return nil, err
	}
	if err := validateManifest(m.layout, manifest, m.segments); err != nil {
		return nil, err
	}
	return m.openManifest(manifest)
}

func (m *Manager) openManifest(manifest *Manifest) (*SnapshotView, error) {
	tombstones, err := ReadTombstones(m.layout, manifest.SnapshotID)
	if err != nil {
		return nil, fmt.Errorf("snapshot: read tombstones: %w", err)
	}
	index, err := ReadSegmentFileIndex(m.layout, manifest.SnapshotID)
	if err != nil {
		return nil, fmt.Errorf("snapshot: read segment file index: %w", err)
	}

	tombSet := make(map[string]bool, len(tombstones))
	for _, t := range tombstones {
		tombSet[t.PathKey] = true
	}

	// Later entries win: the index is written in the order path_keys were
	// assigned to segments across the snapshot's lineage, so the last
	// occurrence of a path_key is its current segment.
	pathSegment := make(map[string]string, len(index))
	for _, e := range index {
		pathSegment[e.PathKey] = e.SegmentID
	}

	segmentIDs := make([]string, 0, len(manifest.Segments))
	for _, ref := range manifest.Segments {
		segmentIDs = append(segmentIDs, ref.SegmentID)
	}

	if err := m.pin(segmentIDs); err != nil {
		return nil, err
	}

	v := &SnapshotView{
		manager:     m,
		manifest:    manifest,
		segmentIDs:  segmentIDs,
		tombstones:  tombSet,
		pathSegment: pathSegment,
	}
	v.pinCount.Store(1)
	return v, nil
}

func (m *Manager) pin(segmentIDs []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	loaded := make([]string, 0, len(segmentIDs))
	for _, id := range segmentIDs {
		h, ok := m.handles[id]
		if !ok {
			rows, err := m.segments.Scan(id)
			if err != nil {
				for _, l := range loaded {
					m.handles[l].refCount--
				}
				return fmt.Errorf("snapshot: load segment %s: %w", id, err)
			}
			h = &segmentHandle{rows: rows}
			m.handles[id] = h
		}
		h.refCount++
		loaded = append(loaded, id)
	}
	return nil
}

func (m *Manager) unpin(segmentIDs []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range segmentIDs {
		h, ok := m.handles[id]
		if !ok {
			continue
		}
		h.refCount--
		if h.refCount <= 0 {
			delete(m.handles, id)
		}
	}
}

func (m *Manager) rowsOf(segmentID string) []ChunkRow {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.handles[segmentID]
	if !ok {
		return nil
	}
	return h.rows
}

// SnapshotView is a stable, read-only window onto one published snapshot's
// live data: every row belonging to a path_key not superseded by a tombstone
// or a newer segment assignment.
type SnapshotView struct {
	manager     *Manager
	manifest    *Manifest
	segmentIDs  []string
	tombstones  map[string]bool
	pathSegment map[string]string

	pinCount atomic.Int32
	closed   atomic.Bool
}

// Manifest returns the manifest this view was opened against.
func (v *SnapshotView) Manifest() *Manifest { return v.manifest }

// IsVisible reports whether (pathKey, segmentID) is the live assignment
// in this view. Visibility is structural on the pair, not the path
// alone: a carried-forward segment can still hold rows for a path_key
// that has since moved to a newer segment, and those older-segment rows
// are invisible regardless of tombstone ordering. Only the segment the
// segment-file index currently maps the path_key to passes.
func (v *SnapshotView) IsVisible(pathKey, segmentID string) bool {
	if v.tombstones[pathKey] {
		return false
	}
	return v.pathSegment[pathKey] == segmentID
}

// Rows returns every live chunk row visible in this snapshot, in no
// particular order. Callers needing deterministic order must sort.
// Each row is admitted only if its own segment is the one the path_key
// is currently assigned to, so a modified file never surfaces its
// superseded rows from an older shared segment.
func (v *SnapshotView) Rows() []ChunkRow {
	var out []ChunkRow
	for _, segID := range v.segmentIDs {
		for _, row := range v.manager.rowsOf(segID) {
			if v.IsVisible(row.PathKey, segID) {
				out = append(out, row)
			}
		}
	}
	return out
}

// Borrow increments the view's reader pin count, returning a release
// function the caller must invoke exactly once. Used when a daemon query
// worker hands the same already-open view to several concurrent requests.
func (v *SnapshotView) Borrow() func() {
	v.pinCount.Add(1)
	released := atomic.Bool{}
	return func() {
		if released.CompareAndSwap(false, true) {
			v.release()
		}
	}
}

// Close releases this view's initial pin. Equivalent to calling the
// release function returned by the implicit pin taken at Open.
func (v *SnapshotView) Close() error {
	v.release()
	return nil
}

func (v *SnapshotView) release() {
	if v.pinCount.Add(-1) > 0 {
		return
	}
	if v.closed.CompareAndSwap(false, true) {
		v.manager.unpin(v.segmentIDs)
	}
}
