package snapshot

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ggrep/ggrep/internal/lease"
)

func publishOneFile(t *testing.T, layout Layout, leaseMgr *lease.Manager, segments SegmentStore, parent *Manifest, pathKey, text string) *Manifest {
	t.Helper()
	w := NewWriter(layout, segments, leaseMgr)
	hash := ChunkHash(text)
	chunkID := ChunkID(hash, "v1", KindText)
	row := ChunkRow{RowID: RowID(pathKey, chunkID, 0), ChunkID: chunkID, PathKey: pathKey, ChunkHash: hash, ChunkerVersion: "v1", Kind: KindText, Text: text}
	id := Identity{CanonicalRoot: "/repo", StoreID: "test-store"}
	m, err := w.Publish(parent, id, []FileChange{{PathKey: pathKey, Rows: []ChunkRow{row}}}, GitInfo{})
	require.NoError(t, err)
	return m
}

func TestManager_Open_ReturnsLiveRows(t *testing.T) {
	base := t.TempDir()
	layout := NewLayout(base, "test-store")
	leaseMgr, err := lease.New(layout.LocksDir())
	require.NoError(t, err)
	_, err = leaseMgr.AcquireWriter(time.Minute)
	require.NoError(t, err)
	segments := NewFileSegmentStore(layout)

	m1 := publishOneFile(t, layout, leaseMgr, segments, nil, "a.go", "package a")

	mgr := NewManager(layout, segments)
	view, err := mgr.Open()
	require.NoError(t, err)
	require.Equal(t, m1.SnapshotID, view.Manifest().SnapshotID)
	rows := view.Rows()
	require.Len(t, rows, 1)
	require.Equal(t, "a.go", rows[0].PathKey)
	require.NoError(t, view.Close())
}

func TestSnapshotView_SegmentSurvivesConcurrentViews(t *testing.T) {
	base := t.TempDir()
	layout := NewLayout(base, "test-store")
	leaseMgr, err := lease.New(layout.LocksDir())
	require.NoError(t, err)
	_, err = leaseMgr.AcquireWriter(time.Minute)
	require.NoError(t, err)
	segments := NewFileSegmentStore(layout)

	m1 := publishOneFile(t, layout, leaseMgr, segments, nil, "a.go", "package a")
	m2 := publishOneFile(t, layout, leaseMgr, segments, m1, "b.go", "package b")

	mgr := NewManager(layout, segments)
	viewOld, err := mgr.OpenSnapshot(m1.SnapshotID)
	require.NoError(t, err)
	viewNew, err := mgr.OpenSnapshot(m2.SnapshotID)
	require.NoError(t, err)

	require.Len(t, viewOld.Rows(), 1)
	require.Len(t, viewNew.Rows(), 2)

	require.NoError(t, viewOld.Close())
	require.Len(t, viewNew.Rows(), 2)
	require.NoError(t, viewNew.Close())
}

func TestSnapshotView_Borrow_KeepsAliveUntilAllReleased(t *testing.T) {
	base := t.TempDir()
	layout := NewLayout(base, "test-store")
	leaseMgr, err := lease.New(layout.LocksDir())
	require.NoError(t, err)
	_, err = leaseMgr.AcquireWriter(time.Minute)
	require.NoError(t, err)
	segments := NewFileSegmentStore(layout)
	publishOneFile(t, layout, leaseMgr, segments, nil, "a.go", "package a")

	mgr := NewManager(layout, segments)
	view, err := mgr.Open()
	require.NoError(t, err)

	release := view.Borrow()
	require.NoError(t, view.Close())
	require.Len(t, view.Rows(), 1)
	release()
}

// publishFiles stages several files' rows into one publish, so they all
// land in the same segment.
func publishFiles(t *testing.T, layout Layout, leaseMgr *lease.Manager, segments SegmentStore, parent *Manifest, files map[string]string) *Manifest {
	t.Helper()
	w := NewWriter(layout, segments, leaseMgr)
	changes := make([]FileChange, 0, len(files))
	for pathKey, text := range files {
		hash := ChunkHash(text)
		chunkID := ChunkID(hash, "v1", KindText)
		changes = append(changes, FileChange{PathKey: pathKey, Rows: []ChunkRow{{
			RowID: RowID(pathKey, chunkID, 0), ChunkID: chunkID, PathKey: pathKey,
			ChunkHash: hash, ChunkerVersion: "v1", Kind: KindText, Text: text,
		}}})
	}
	id := Identity{CanonicalRoot: "/repo", StoreID: "test-store"}
	m, err := w.Publish(parent, id, changes, GitInfo{})
	require.NoError(t, err)
	return m
}

func TestSnapshotView_ModifiedFileHidesStaleRowsInSharedSegment(t *testing.T) {
	base := t.TempDir()
	layout := NewLayout(base, "test-store")
	leaseMgr, err := lease.New(layout.LocksDir())
	require.NoError(t, err)
	_, err = leaseMgr.AcquireWriter(time.Minute)
	require.NoError(t, err)
	segments := NewFileSegmentStore(layout)

	// a.go and b.go share seg_1_0; modifying only a.go moves it to
	// seg_2_0 while b.go keeps seg_1_0 alive, so both segments stay
	// referenced by the new manifest.
	m1 := publishFiles(t, layout, leaseMgr, segments, nil, map[string]string{
		"a.go": "package a // old",
		"b.go": "package b",
	})
	m2 := publishFiles(t, layout, leaseMgr, segments, m1, map[string]string{
		"a.go": "package a // new",
	})
	require.Len(t, m2.Segments, 2, "shared old segment must carry forward for b.go")

	mgr := NewManager(layout, segments)
	view, err := mgr.Open()
	require.NoError(t, err)
	defer view.Close()

	oldSeg := SegmentName(1, 0)
	newSeg := SegmentName(2, 0)
	require.False(t, view.IsVisible("a.go", oldSeg), "superseded segment rows must be invisible")
	require.True(t, view.IsVisible("a.go", newSeg))
	require.True(t, view.IsVisible("b.go", oldSeg))
	require.False(t, view.IsVisible("b.go", newSeg))

	// Exactly one row per live path, and a.go's content is the new one:
	// no stale duplicates from the shared segment.
	rows := view.Rows()
	byPath := map[string][]ChunkRow{}
	for _, r := range rows {
		byPath[r.PathKey] = append(byPath[r.PathKey], r)
	}
	require.Len(t, byPath["a.go"], 1)
	require.Len(t, byPath["b.go"], 1)
	require.Equal(t, "package a // new", byPath["a.go"][0].Text)

	// The manifest's live count agrees with the visible row set.
	require.Equal(t, len(rows), m2.Counts.Chunks)
}
