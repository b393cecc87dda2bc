package snapshot

import (
	"fmt"
	"os"
	"time"

	"github.com/ggrep/ggrep/internal/lease"
)

// CompactResult summarizes one compaction run.
type CompactResult struct {
	PreviousSnapshotID int64
	NewSnapshotID      int64
	SegmentsBefore     int
	SegmentsAfter      int
	TombstonesPruned   int
	RowsCarried        int
}

// Compact rewrites a store's live view into a single fresh segment,
// dropping dead rows (superseded path_key generations and anything
// tombstoned) and pruning the tombstone artifact. Building the
// replacement segment does not require the writer lease;
// only the final publish does, and the publish aborts if the active
// snapshot moved underneath it (a concurrent writer published first),
// so the caller can retry against the new baseline.
func Compact(layout Layout, segments SegmentStore, leaseMgr *lease.Manager) (*CompactResult, error) {
	baseline, err := ReadActiveSnapshotID(layout)
	if err != nil {
		return nil, fmt.Errorf("snapshot: compact: read active pointer: %w", err)
	}
	manifest, err := ReadManifest(layout, baseline)
	if err != nil {
		return nil, fmt.Errorf("snapshot: compact: read manifest %d: %w", baseline, err)
	}
	if err := validateManifest(layout, manifest, segments); err != nil {
		return nil, fmt.Errorf("snapshot: compact: baseline invalid: %w", err)
	}

	index, err := ReadSegmentFileIndex(layout, baseline)
	if err != nil {
		return nil, fmt.Errorf("snapshot: compact: read segment file index: %w", err)
	}
	tombstones, err := ReadTombstones(layout, baseline)
	if err != nil {
		return nil, fmt.Errorf("snapshot: compact: read tombstones: %w", err)
	}

	pathSegment := make(map[string]string, len(index))
	for _, e := range index {
		pathSegment[e.PathKey] = e.SegmentID
	}

	// Load every distinct segment referenced by the live index once, then
	// keep only the row whose path_key is still assigned to that segment:
	// a carried-forward segment may hold rows for path_keys that have
	// since moved to a newer segment, and those stale rows must not
	// survive into the compacted segment.
	loaded := make(map[string][]ChunkRow, len(manifest.Segments))
	for _, ref := range manifest.Segments {
		rows, err := segments.Scan(ref.SegmentID)
		if err != nil {
			return nil, fmt.Errorf("snapshot: compact: scan segment %s: %w", ref.SegmentID, err)
		}
		loaded[ref.SegmentID] = rows
	}

	nextID := manifest.SnapshotID + 1
	newSegID := SegmentName(nextID, 0)

	var liveRows []ChunkRow
	newIndex := make([]SegmentIndexEntry, 0, len(pathSegment))
	for pathKey, segID := range pathSegment {
		for _, row := range loaded[segID] {
			if row.PathKey == pathKey {
				liveRows = append(liveRows, row)
			}
		}
		newIndex = append(newIndex, SegmentIndexEntry{PathKey: pathKey, SegmentID: newSegID})
	}

	if len(liveRows) > 0 {
		if err := segments.Append(newSegID, liveRows); err != nil {
			return nil, fmt.Errorf("snapshot: compact: write segment %s: %w", newSegID, err)
		}
	}

	if err := os.MkdirAll(layout.SnapshotDir(nextID), 0o700); err != nil {
		return nil, fmt.Errorf("snapshot: compact: create snapshot dir: %w", err)
	}
	if _, err := writeJSONLines(layout.SegmentFileIndexPath(nextID), newIndex); err != nil {
		return nil, fmt.Errorf("snapshot: compact: write segment file index: %w", err)
	}
	// Tombstones are pruned: a compacted snapshot's live view is already
	// exactly the segment-file-index mapping, so nothing further needs a
	// tombstone to be excluded.
	tombSize, err := writeJSONLines(layout.TombstonesPath(nextID), []TombstoneEntry{})
	if err != nil {
		return nil, fmt.Errorf("snapshot: compact: write tombstones: %w", err)
	}

	size, sum, err := segments.Checksum(newSegID)
	if err != nil && len(liveRows) > 0 {
		return nil, fmt.Errorf("snapshot: compact: checksum segment %s: %w", newSegID, err)
	}

	_, tombSum, err := fileChecksum(layout.TombstonesPath(nextID))
	if err != nil {
		return nil, fmt.Errorf("snapshot: compact: checksum tombstones: %w", err)
	}

	newManifest := &Manifest{
		SchemaVersion:     ManifestSchemaVersion,
		SnapshotID:        nextID,
		ParentSnapshotID:  manifest.SnapshotID,
		CreatedAt:         time.Now(),
		CanonicalRoot:     manifest.CanonicalRoot,
		StoreID:           manifest.StoreID,
		ConfigFingerprint: manifest.ConfigFingerprint,
		IgnoreFingerprint: manifest.IgnoreFingerprint,
		LeaseEpoch:        leaseMgr.Epoch(),
		Git:               manifest.Git,
		SegmentFileIndex:  layout.SegmentFileIndexPath(nextID),
		Tombstones:        TombstoneRef{SizeBytes: tombSize, SHA256: tombSum},
		Counts: Counts{
			Files:      len(newIndex),
			Chunks:     len(liveRows),
			Tombstones: 0,
		},
	}
	if len(liveRows) > 0 {
		newManifest.Segments = []SegmentRef{{SegmentID: newSegID, SizeBytes: size, SHA256: sum, RowCount: len(liveRows)}}
	}

	// Lease preflight, then abort+rebase if another writer published past
	// our baseline while we were building the replacement segment.
	if err := leaseMgr.VerifyOwnership(); err != nil {
		return nil, fmt.Errorf("snapshot: compact: lease preflight: %w", err)
	}
	current, err := ReadActiveSnapshotID(layout)
	if err != nil {
		return nil, fmt.Errorf("snapshot: compact: re-read active pointer: %w", err)
	}
	if current != baseline {
		return nil, fmt.Errorf("snapshot: compact: active snapshot moved from %d to %d, rebase and retry", baseline, current)
	}

	if err := PublishManifest(layout, newManifest); err != nil {
		return nil, fmt.Errorf("snapshot: compact: publish: %w", err)
	}

	return &CompactResult{
		PreviousSnapshotID: baseline,
		NewSnapshotID:      nextID,
		SegmentsBefore:     len(manifest.Segments),
		SegmentsAfter:      len(newManifest.Segments),
		TombstonesPruned:   len(tombstones),
		RowsCarried:        len(liveRows),
	}, nil
}
