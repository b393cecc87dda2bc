package snapshot

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestGC_RetainsMinCountAndDeletesOlderUnreferenced(t *testing.T) {
	layout, leaseMgr := newTestStore(t)
	segments := NewFileSegmentStore(layout)

	var last *Manifest
	for i := 0; i < 4; i++ {
		last = publishOneFile(t, layout, leaseMgr, segments, last, "a.go", "package a")
	}

	policy := RetentionPolicy{MinCount: 2, MinAge: 0, SafetyMargin: 0}
	result, err := GC(layout, segments, leaseMgr, policy)
	require.NoError(t, err)

	// Snapshot 4 is active, snapshot 3 is within MinCount; 1 and 2 are
	// reclaimable (each republished "a.go" into a fresh per-publish
	// segment carrying the same content, so their segments are also
	// unreferenced by any retained manifest).
	require.Contains(t, result.SnapshotsKept, last.SnapshotID)
	require.NotContains(t, result.SnapshotsDeleted, last.SnapshotID)

	ids, err := ListSnapshotIDs(layout)
	require.NoError(t, err)
	require.Contains(t, ids, last.SnapshotID)
}

func TestGC_RespectsSafetyMargin(t *testing.T) {
	layout, leaseMgr := newTestStore(t)
	segments := NewFileSegmentStore(layout)

	var last *Manifest
	for i := 0; i < 3; i++ {
		last = publishOneFile(t, layout, leaseMgr, segments, last, "a.go", "package a")
	}
	_ = last

	policy := RetentionPolicy{MinCount: 1, MinAge: 0, SafetyMargin: time.Hour}
	result, err := GC(layout, segments, leaseMgr, policy)
	require.NoError(t, err)
	require.Empty(t, result.SnapshotsDeleted)
	require.Empty(t, result.SegmentsDeleted)
}
