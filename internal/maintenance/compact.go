package maintenance

import (
	"fmt"

	"github.com/ggrep/ggrep/internal/config"
	"github.com/ggrep/ggrep/internal/lease"
	"github.com/ggrep/ggrep/internal/snapshot"
)

// CompactionNeeded reports whether the active snapshot has crossed one of
// the hard segment/tombstone limits that force immediate compaction (spec
// §4.4). A store below every limit is left alone; Compact is still safe to
// call unconditionally (it is a no-op-ish coalesce), but callers on a
// schedule should gate on this to avoid needless rewrite churn.
func CompactionNeeded(layout snapshot.Layout, segments snapshot.SegmentStore, limits config.RetentionConfig) (bool, string, error) {
	manifest, err := snapshot.OpenLatestValid(layout, segments)
	if err != nil {
		return false, "", fmt.Errorf("maintenance: compaction check: %w", err)
	}
	if limits.MaxSegmentsPerSnapshot > 0 && len(manifest.Segments) > limits.MaxSegmentsPerSnapshot {
		return true, fmt.Sprintf("segments_per_snapshot %d exceeds limit %d", len(manifest.Segments), limits.MaxSegmentsPerSnapshot), nil
	}
	if limits.MaxTombstonesPerSnapshot > 0 && manifest.Counts.Tombstones > limits.MaxTombstonesPerSnapshot {
		return true, fmt.Sprintf("tombstones %d exceeds limit %d", manifest.Counts.Tombstones, limits.MaxTombstonesPerSnapshot), nil
	}

	total := 0
	ids, err := snapshot.ListSnapshotIDs(layout)
	if err != nil {
		return false, "", fmt.Errorf("maintenance: compaction check: list snapshots: %w", err)
	}
	seen := map[string]bool{}
	for _, id := range ids {
		m, err := snapshot.ReadManifest(layout, id)
		if err != nil {
			continue
		}
		for _, seg := range m.Segments {
			if !seen[seg.SegmentID] {
				seen[seg.SegmentID] = true
				total++
			}
		}
	}
	if limits.MaxTotalSegmentsReferenced > 0 && total > limits.MaxTotalSegmentsReferenced {
		return true, fmt.Sprintf("total_segments_referenced %d exceeds limit %d", total, limits.MaxTotalSegmentsReferenced), nil
	}
	return false, "", nil
}

// Compact runs segment coalescing against the store's active snapshot. It
// requires the writer lease; see snapshot.Compact for the rebase-on-move
// retry contract.
func Compact(layout snapshot.Layout, segments snapshot.SegmentStore, leaseMgr *lease.Manager) (*snapshot.CompactResult, error) {
	return snapshot.Compact(layout, segments, leaseMgr)
}
