package snapshot

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
)

// ErrStoreCorrupt is returned when no snapshot under a store passes
// validation: every manifest present is either unreadable or references a
// missing or checksum-mismatched artifact.
var ErrStoreCorrupt = errors.New("snapshot: store corrupt, no valid snapshot found")

// validateManifest confirms every artifact a manifest references is present
// on disk with a matching size and checksum. It does not attempt to parse
// segment or tombstone contents.
func validateManifest(layout Layout, m *Manifest, segments SegmentStore) error {
	for _, seg := range m.Segments {
		if !segments.Exists(seg.SegmentID) {
			return fmt.Errorf("snapshot: manifest %d references missing segment %s", m.SnapshotID, seg.SegmentID)
		}
		size, sum, err := segments.Checksum(seg.SegmentID)
		if err != nil {
			return fmt.Errorf("snapshot: checksum segment %s: %w", seg.SegmentID, err)
		}
		if size != seg.SizeBytes || sum != seg.SHA256 {
			return fmt.Errorf("snapshot: segment %s checksum mismatch", seg.SegmentID)
		}
	}

	tombPath := layout.TombstonesPath(m.SnapshotID)
	info, err := os.Stat(tombPath)
	if err != nil {
		return fmt.Errorf("snapshot: missing tombstones artifact for %d: %w", m.SnapshotID, err)
	}
	if info.Size() != m.Tombstones.SizeBytes {
		return fmt.Errorf("snapshot: tombstones size mismatch for %d", m.SnapshotID)
	}

	if _, err := os.Stat(layout.SegmentFileIndexPath(m.SnapshotID)); err != nil {
		return fmt.Errorf("snapshot: missing segment file index for %d: %w", m.SnapshotID, err)
	}
	return nil
}

// OpenLatestValid implements the corruption-fallback open path: read the
// active pointer; if it names a valid snapshot, use it. Otherwise scan every
// snapshot directory, newest created_at first, and use the first one that
// passes validateManifest. A store with no valid snapshot at all is
// reported as corrupt rather than served empty.
func OpenLatestValid(layout Layout, segments SegmentStore) (*Manifest, error) {
	if id, err := ReadActiveSnapshotID(layout); err == nil {
		if m, mErr := ReadManifest(layout, id); mErr == nil {
			if vErr := validateManifest(layout, m, segments); vErr == nil {
				return m, nil
			}
		}
	}

	ids, err := ListSnapshotIDs(layout)
	if err != nil {
		return nil, fmt.Errorf("snapshot: list snapshots: %w", err)
	}
	var candidates []*Manifest
	for _, id := range ids {
		m, err := ReadManifest(layout, id)
		if err != nil {
			continue
		}
		candidates = append(candidates, m)
	}
	for i := 0; i < len(candidates); i++ {
		for j := i + 1; j < len(candidates); j++ {
			if candidates[j].CreatedAt.After(candidates[i].CreatedAt) {
				candidates[i], candidates[j] = candidates[j], candidates[i]
			}
		}
	}
	for _, m := range candidates {
		if err := validateManifest(layout, m, segments); err == nil {
			return m, nil
		}
	}
	return nil, ErrStoreCorrupt
}

// ReadTombstones loads a snapshot's tombstone set.
func ReadTombstones(layout Layout, snapshotID int64) ([]TombstoneEntry, error) {
	f, err := os.Open(layout.TombstonesPath(snapshotID))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []TombstoneEntry
	dec := json.NewDecoder(bufio.NewReader(f))
	for dec.More() {
		var e TombstoneEntry
		if err := dec.Decode(&e); err != nil {
			return nil, fmt.Errorf("snapshot: decode tombstone: %w", err)
		}
		out = append(out, e)
	}
	return out, nil
}

// ReadSegmentFileIndex loads a snapshot's per-path segment index.
func ReadSegmentFileIndex(layout Layout, snapshotID int64) ([]SegmentIndexEntry, error) {
	f, err := os.Open(layout.SegmentFileIndexPath(snapshotID))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []SegmentIndexEntry
	dec := json.NewDecoder(bufio.NewReader(f))
	for dec.More() {
		var e SegmentIndexEntry
		if err := dec.Decode(&e); err != nil {
			return nil, fmt.Errorf("snapshot: decode segment file index entry: %w", err)
		}
		out = append(out, e)
	}
	return out, nil
}
