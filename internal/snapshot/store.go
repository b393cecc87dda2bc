package snapshot

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
)

// SegmentStore is the capability the snapshot manager consumes to persist
// and retrieve chunk rows: open/append/scan/fts/rename/drop, per the
// polymorphism-over-collaborators design note. The concrete implementation
// here is an append-only JSONL artifact per segment; lexical and vector
// indexing over the rows it yields are built separately by the query
// engine's SnapshotView (internal/store.BleveBM25Index, internal/store.HNSWStore).
type SegmentStore interface {
	// Append writes rows to the named segment artifact, creating it if
	// absent. Segments are immutable once referenced by a published
	// manifest; Append must only be called during staging.
	Append(segmentID string, rows []ChunkRow) error

	// Scan streams every row in a segment in append order.
	Scan(segmentID string) ([]ChunkRow, error)

	// Checksum returns the size and sha256 of a segment's on-disk artifact.
	Checksum(segmentID string) (size int64, sha256Hex string, err error)

	// Exists reports whether a segment artifact is present on disk.
	Exists(segmentID string) bool

	// Drop removes a segment artifact. Only used by GC, never during a
	// publish.
	Drop(segmentID string) error
}

// fileSegmentStore is a SegmentStore backed by one JSONL file per segment
// under <store>/segments/seg_<id>.seg.
type fileSegmentStore struct {
	layout Layout
}

// NewFileSegmentStore returns a SegmentStore rooted at the store's segments
// directory.
func NewFileSegmentStore(layout Layout) SegmentStore {
	return &fileSegmentStore{layout: layout}
}

func (s *fileSegmentStore) Append(segmentID string, rows []ChunkRow) error {
	if err := os.MkdirAll(s.layout.SegmentsDir(), 0o700); err != nil {
		return fmt.Errorf("snapshot: create segments dir: %w", err)
	}
	path := s.layout.SegmentPath(segmentID)
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("snapshot: open segment %s: %w", segmentID, err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)
	for _, row := range rows {
		if err := enc.Encode(row); err != nil {
			return fmt.Errorf("snapshot: encode row in segment %s: %w", segmentID, err)
		}
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("snapshot: flush segment %s: %w", segmentID, err)
	}
	return f.Sync()
}

func (s *fileSegmentStore) Scan(segmentID string) ([]ChunkRow, error) {
	path := s.layout.SegmentPath(segmentID)
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("snapshot: open segment %s: %w", segmentID, err)
	}
	defer f.Close()

	var rows []ChunkRow
	dec := json.NewDecoder(bufio.NewReader(f))
	for dec.More() {
		var row ChunkRow
		if err := dec.Decode(&row); err != nil {
			return nil, fmt.Errorf("snapshot: decode row in segment %s: %w", segmentID, err)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func (s *fileSegmentStore) Checksum(segmentID string) (int64, string, error) {
	path := s.layout.SegmentPath(segmentID)
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, "", fmt.Errorf("snapshot: read segment %s: %w", segmentID, err)
	}
	sum := sha256.Sum256(data)
	return int64(len(data)), hex.EncodeToString(sum[:]), nil
}

func (s *fileSegmentStore) Exists(segmentID string) bool {
	_, err := os.Stat(s.layout.SegmentPath(segmentID))
	return err == nil
}

func (s *fileSegmentStore) Drop(segmentID string) error {
	err := os.Remove(s.layout.SegmentPath(segmentID))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("snapshot: drop segment %s: %w", segmentID, err)
	}
	return nil
}
