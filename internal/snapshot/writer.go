package snapshot

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/ggrep/ggrep/internal/lease"
)

// FileChange is one path_key's staged write: either a fresh set of chunk
// rows (the file was added or its content changed) or a tombstone (the
// file was deleted or renamed away). A path_key with both set is invalid.
type FileChange struct {
	PathKey   string
	Rows      []ChunkRow
	Tombstone *TombstoneReason
}

// Writer assembles and durably publishes a new snapshot. It must run with
// the writer lease held; every entry point re-verifies ownership before any
// step whose cost would be wasted by a lost lease, and again immediately
// before the durable swap.
type Writer struct {
	layout   Layout
	segments SegmentStore
	lease    *lease.Manager
}

// NewWriter returns a Writer for the store rooted at layout, using segments
// as the chunk-row artifact backend and leaseMgr as the currently held
// writer lease.
func NewWriter(layout Layout, segments SegmentStore, leaseMgr *lease.Manager) *Writer {
	return &Writer{layout: layout, segments: segments, lease: leaseMgr}
}

// Identity carries the store's fixed identifiers, stamped into every
// manifest this writer publishes.
type Identity struct {
	CanonicalRoot     string
	StoreID           string
	ConfigFingerprint string
	IgnoreFingerprint string
}

// Publish stages changes, assembles a manifest carrying forward everything
// unaffected from parent (nil for the first snapshot of a store), and
// durably publishes it. On success it returns the new manifest; the caller
// is responsible for pointing any open Manager at the new active snapshot
// (existing SnapshotViews remain valid against their pinned segments).
func (w *Writer) Publish(parent *Manifest, id Identity, changes []FileChange, git GitInfo) (*Manifest, error) {
	return w.publish(parent, id, changes, git, nil)
}

// PublishDegraded is Publish for an --allow-degraded sync: changes holds
// whatever indexed cleanly, degradedErrs enumerates the files that did
// not, and the manifest records degraded=true with that error list. An
// empty degradedErrs behaves exactly like Publish.
func (w *Writer) PublishDegraded(parent *Manifest, id Identity, changes []FileChange, git GitInfo, degradedErrs []string) (*Manifest, error) {
	return w.publish(parent, id, changes, git, degradedErrs)
}

func (w *Writer) publish(parent *Manifest, id Identity, changes []FileChange, git GitInfo, degradedErrs []string) (*Manifest, error) {
	if err := w.lease.VerifyOwnership(); err != nil {
		return nil, fmt.Errorf("snapshot: lease preflight: %w", err)
	}

	nextID := int64(1)
	var parentID int64
	pathSegment := map[string]string{}
	tombstoneSet := map[string]TombstoneReason{}

	if parent != nil {
		nextID = parent.SnapshotID + 1
		parentID = parent.SnapshotID
		idx, err := ReadSegmentFileIndex(w.layout, parent.SnapshotID)
		if err != nil {
			return nil, fmt.Errorf("snapshot: read parent segment file index: %w", err)
		}
		for _, e := range idx {
			pathSegment[e.PathKey] = e.SegmentID
		}
		toms, err := ReadTombstones(w.layout, parent.SnapshotID)
		if err != nil {
			return nil, fmt.Errorf("snapshot: read parent tombstones: %w", err)
		}
		for _, t := range toms {
			tombstoneSet[t.PathKey] = t.Reason
		}
	}

	newSegID := SegmentName(nextID, 0)
	var newRows []ChunkRow

	for _, c := range changes {
		if c.Tombstone != nil {
			tombstoneSet[c.PathKey] = *c.Tombstone
			delete(pathSegment, c.PathKey)
			continue
		}
		delete(tombstoneSet, c.PathKey)
		pathSegment[c.PathKey] = newSegID
		newRows = append(newRows, c.Rows...)
	}

	// path_key_ci uniqueness is a publish invariant: two live paths that
	// collide under case folding would silently shadow each other on
	// case-insensitive filesystems. Checked before any artifact is
	// written, so a collision aborts with the last-good snapshot still
	// active and nothing on disk to clean up.
	if a, b, ok := casefoldCollision(pathSegment); ok {
		return nil, fmt.Errorf("snapshot: casefold collision: %q and %q map to the same path_key_ci", a, b)
	}

	if len(newRows) > 0 {
		if err := w.segments.Append(newSegID, newRows); err != nil {
			return nil, fmt.Errorf("snapshot: append segment %s: %w", newSegID, err)
		}
	}

	// Count live chunk rows per segment: a carried-forward segment may hold
	// rows for path_keys that have since moved to a newer segment or been
	// tombstoned, so its row count must be recomputed against the final
	// pathSegment assignment rather than trusted from its own length.
	livePaths := map[string][]string{}
	for pk, segID := range pathSegment {
		livePaths[segID] = append(livePaths[segID], pk)
	}
	segChunkCounts := map[string]int{}
	totalChunks := 0
	for segID, paths := range livePaths {
		want := make(map[string]bool, len(paths))
		for _, pk := range paths {
			want[pk] = true
		}
		var rows []ChunkRow
		if segID == newSegID {
			rows = newRows
		} else {
			var err error
			rows, err = w.segments.Scan(segID)
			if err != nil {
				return nil, fmt.Errorf("snapshot: scan segment %s for counts: %w", segID, err)
			}
		}
		n := 0
		for _, r := range rows {
			if want[r.PathKey] {
				n++
			}
		}
		segChunkCounts[segID] = n
		totalChunks += n
	}

	snapDir := w.layout.SnapshotDir(nextID)
	if err := os.MkdirAll(snapDir, 0o700); err != nil {
		return nil, fmt.Errorf("snapshot: create snapshot dir: %w", err)
	}

	indexEntries := make([]SegmentIndexEntry, 0, len(pathSegment))
	for pk, segID := range pathSegment {
		indexEntries = append(indexEntries, SegmentIndexEntry{PathKey: pk, SegmentID: segID})
	}
	_, err := writeJSONLines(w.layout.SegmentFileIndexPath(nextID), indexEntries)
	if err != nil {
		return nil, fmt.Errorf("snapshot: write segment file index: %w", err)
	}

	tombEntries := make([]TombstoneEntry, 0, len(tombstoneSet))
	for pk, reason := range tombstoneSet {
		tombEntries = append(tombEntries, TombstoneEntry{PathKey: pk, Reason: reason})
	}
	tombSize, err := writeJSONLines(w.layout.TombstonesPath(nextID), tombEntries)
	if err != nil {
		return nil, fmt.Errorf("snapshot: write tombstones: %w", err)
	}

	segRefs := make([]SegmentRef, 0, len(livePaths))
	for segID := range livePaths {
		size, sum, err := w.segments.Checksum(segID)
		if err != nil {
			return nil, fmt.Errorf("snapshot: checksum segment %s: %w", segID, err)
		}
		segRefs = append(segRefs, SegmentRef{
			SegmentID: segID,
			SizeBytes: size,
			SHA256:    sum,
			RowCount:  segChunkCounts[segID],
		})
	}

	_, tombSum, err := fileChecksum(w.layout.TombstonesPath(nextID))
	if err != nil {
		return nil, fmt.Errorf("snapshot: checksum tombstones: %w", err)
	}

	m := &Manifest{
		SchemaVersion:     ManifestSchemaVersion,
		SnapshotID:        nextID,
		ParentSnapshotID:  parentID,
		CreatedAt:         time.Now(),
		CanonicalRoot:     id.CanonicalRoot,
		StoreID:           id.StoreID,
		ConfigFingerprint: id.ConfigFingerprint,
		IgnoreFingerprint: id.IgnoreFingerprint,
		LeaseEpoch:        w.lease.Epoch(),
		Git:               git,
		Segments:          segRefs,
		SegmentFileIndex:  w.layout.SegmentFileIndexPath(nextID),
		Tombstones:        TombstoneRef{SizeBytes: tombSize, SHA256: tombSum},
		Counts: Counts{
			Files:      len(pathSegment),
			Chunks:     totalChunks,
			Tombstones: len(tombEntries),
		},
		Degraded: len(degradedErrs) > 0,
		Errors:   degradedErrs,
	}

	if err := w.lease.VerifyOwnership(); err != nil {
		return nil, fmt.Errorf("snapshot: lease preflight before publish: %w", err)
	}

	if err := PublishManifest(w.layout, m); err != nil {
		return nil, err
	}
	return m, nil
}

// casefoldCollision scans the final live path set for two path_keys
// sharing a path_key_ci. Keys are checked in sorted order so the same
// collision always reports the same pair.
func casefoldCollision(pathSegment map[string]string) (string, string, bool) {
	keys := make([]string, 0, len(pathSegment))
	for pk := range pathSegment {
		keys = append(keys, pk)
	}
	sort.Strings(keys)

	seen := make(map[string]string, len(keys))
	for _, pk := range keys {
		ci := strings.ToLower(pk)
		if other, ok := seen[ci]; ok {
			return other, pk, true
		}
		seen[ci] = pk
	}
	return "", "", false
}

func writeJSONLines[T any](path string, items []T) (int64, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)
	for _, item := range items {
		if err := enc.Encode(item); err != nil {
			return 0, err
		}
	}
	if err := w.Flush(); err != nil {
		return 0, err
	}
	if err := f.Sync(); err != nil {
		return 0, err
	}
	info, err := f.Stat()
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

func fileChecksum(path string) (int64, string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, "", err
	}
	sum := hashHex(string(data))
	return int64(len(data)), sum, nil
}

