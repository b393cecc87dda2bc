package snapshot

import (
	"fmt"
	"os"
	"time"

	"github.com/ggrep/ggrep/internal/lease"
)

// RetentionPolicy governs which snapshots and segments GC may reclaim.
// A snapshot is retained if it satisfies either the minimum-count or
// the minimum-age condition (whichever keeps more), and
// no artifact younger than SafetyMargin is ever deleted regardless of
// whether any retained snapshot references it.
type RetentionPolicy struct {
	MinCount     int
	MinAge       time.Duration
	SafetyMargin time.Duration
}

// GCResult summarizes one garbage-collection pass.
type GCResult struct {
	SnapshotsDeleted []int64
	SegmentsDeleted  []string
	SnapshotsKept    []int64
}

// GC reclaims snapshots and segments outside the retention policy. It
// requires the writer lease (to guarantee no concurrent publish) and the
// exclusive offline-reader lock (to guarantee no offline reader holds a
// pin on an artifact GC is about to remove); the caller is responsible for
// having acquired both before calling GC and releasing them after.
//
// Never deletes: the active snapshot's artifacts, artifacts referenced by
// any retained snapshot, or any artifact younger than SafetyMargin.
func GC(layout Layout, segments SegmentStore, leaseMgr *lease.Manager, policy RetentionPolicy) (*GCResult, error) {
	if err := leaseMgr.VerifyOwnership(); err != nil {
		return nil, fmt.Errorf("snapshot: gc: lease preflight: %w", err)
	}

	activeID, err := ReadActiveSnapshotID(layout)
	if err != nil {
		return nil, fmt.Errorf("snapshot: gc: read active pointer: %w", err)
	}

	ids, err := ListSnapshotIDs(layout) // newest first
	if err != nil {
		return nil, fmt.Errorf("snapshot: gc: list snapshots: %w", err)
	}

	now := time.Now()
	retained := make(map[int64]bool, len(ids))
	var reclaimable []int64
	for i, id := range ids {
		if id == activeID {
			retained[id] = true
			continue
		}
		m, err := ReadManifest(layout, id)
		if err != nil {
			// Unreadable manifest: leave it alone rather than guess.
			retained[id] = true
			continue
		}
		if i < policy.MinCount || now.Sub(m.CreatedAt) < policy.MinAge {
			retained[id] = true
			continue
		}
		reclaimable = append(reclaimable, id)
	}

	liveSegments := map[string]bool{}
	result := &GCResult{}
	for id := range retained {
		m, err := ReadManifest(layout, id)
		if err != nil {
			continue
		}
		result.SnapshotsKept = append(result.SnapshotsKept, id)
		for _, seg := range m.Segments {
			liveSegments[seg.SegmentID] = true
		}
	}

	for _, id := range reclaimable {
		if !artifactOldEnough(layout.SnapshotDir(id), policy.SafetyMargin, now) {
			result.SnapshotsKept = append(result.SnapshotsKept, id)
			continue
		}
		if err := os.RemoveAll(layout.SnapshotDir(id)); err != nil {
			return nil, fmt.Errorf("snapshot: gc: remove snapshot %d: %w", id, err)
		}
		result.SnapshotsDeleted = append(result.SnapshotsDeleted, id)
	}

	segEntries, err := os.ReadDir(layout.SegmentsDir())
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("snapshot: gc: list segments dir: %w", err)
	}
	for _, e := range segEntries {
		segID := segmentIDFromFileName(e.Name())
		if segID == "" || liveSegments[segID] {
			continue
		}
		path := layout.SegmentPath(segID)
		if !artifactOldEnough(path, policy.SafetyMargin, now) {
			continue
		}
		if err := segments.Drop(segID); err != nil {
			return nil, fmt.Errorf("snapshot: gc: drop segment %s: %w", segID, err)
		}
		result.SegmentsDeleted = append(result.SegmentsDeleted, segID)
	}

	return result, nil
}

func artifactOldEnough(path string, margin time.Duration, now time.Time) bool {
	info, err := os.Stat(path)
	if err != nil {
		// Already gone; nothing to protect.
		return true
	}
	return now.Sub(info.ModTime()) >= margin
}

func segmentIDFromFileName(name string) string {
	const suffix = ".seg"
	if len(name) <= len(suffix) || name[len(name)-len(suffix):] != suffix {
		return ""
	}
	return name[:len(name)-len(suffix)]
}
