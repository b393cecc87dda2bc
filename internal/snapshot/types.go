// Package snapshot implements the segment-oriented write path and the
// crash-safe atomic publication of immutable snapshots: the segment
// writer, manifest assembly, durable publish, corruption fallback,
// compaction, and garbage collection.
package snapshot

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// RowKind distinguishes retrievable text rows from structural anchors
// (e.g. a symbol definition with no independent text body).
type RowKind string

const (
	KindText   RowKind = "text"
	KindAnchor RowKind = "anchor"
)

// TombstoneReason enumerates why a path_key was removed from the live view.
type TombstoneReason string

const (
	ReasonDelete     TombstoneReason = "delete"
	ReasonReplace    TombstoneReason = "replace"
	ReasonRenameFrom TombstoneReason = "rename_from"
)

// ChunkRow is the atomic unit of retrieval.
type ChunkRow struct {
	RowID          string  `json:"row_id"`
	ChunkID        string  `json:"chunk_id"`
	PathKey        string  `json:"path_key"`
	PathKeyCI      string  `json:"path_key_ci"`
	Ordinal        int     `json:"ordinal"`
	FileHash       string  `json:"file_hash"`
	ChunkHash      string  `json:"chunk_hash"`
	ChunkerVersion string  `json:"chunker_version"`
	Kind           RowKind `json:"kind"`
	Text           string  `json:"text"`
	Embedding      []float32 `json:"embedding"`

	// Optional but recommended.
	ByteStart       int64    `json:"byte_start,omitempty"`
	ByteEnd         int64    `json:"byte_end,omitempty"`
	StartLine       int      `json:"start_line,omitempty"`
	EndLine         int      `json:"end_line,omitempty"`
	Language        string   `json:"language,omitempty"`
	IsAnchor        bool     `json:"is_anchor,omitempty"`
	AnchorName      string   `json:"anchor_name,omitempty"`
	NeighborBefore  string   `json:"neighbor_before,omitempty"`
	NeighborAfter   string   `json:"neighbor_after,omitempty"`
	RerankTokens    [][]float32 `json:"rerank_tokens,omitempty"`
	RerankScale     float32     `json:"rerank_scale,omitempty"`
}

// ChunkHash computes H(prepared_embedding_text).
func ChunkHash(preparedText string) string {
	return hashHex(preparedText)
}

// ChunkID computes H(chunk_hash ∥ chunker_version ∥ kind).
func ChunkID(chunkHash, chunkerVersion string, kind RowKind) string {
	return hashHex(chunkHash + "\x00" + chunkerVersion + "\x00" + string(kind))
}

// RowID computes H(path_key ∥ chunk_id ∥ ordinal).
func RowID(pathKey, chunkID string, ordinal int) string {
	return hashHex(pathKey + "\x00" + chunkID + "\x00" + itoa(ordinal))
}

// EmbedCacheKey returns the embedding-cache lookup key.
func EmbedCacheKey(embedConfigFingerprint, chunkHash string) string {
	return embedConfigFingerprint + "/" + chunkHash
}

func hashHex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// SegmentRef is a manifest's reference to one segment artifact.
type SegmentRef struct {
	SegmentID string `json:"segment_id"`
	SizeBytes int64  `json:"size_bytes"`
	SHA256    string `json:"sha256"`
	RowCount  int    `json:"row_count"`
}

// TombstoneRef is a manifest's reference to the tombstone artifact.
type TombstoneRef struct {
	SizeBytes int64  `json:"size_bytes"`
	SHA256    string `json:"sha256"`
}

// GitInfo records the source-control state observed at publish time.
type GitInfo struct {
	Head             string `json:"head"`
	Dirty            bool   `json:"dirty"`
	UntrackedIncluded bool  `json:"untracked_included"`
}

// Counts summarizes a manifest's live view.
type Counts struct {
	Files      int `json:"files"`
	Chunks     int `json:"chunks"`
	Tombstones int `json:"tombstones"`
}

// Manifest fully defines a snapshot's live view without walking any parent
// chain.
type Manifest struct {
	SchemaVersion     int            `json:"schema_version"`
	SnapshotID        int64          `json:"snapshot_id"`
	ParentSnapshotID  int64          `json:"parent_snapshot_id,omitempty"`
	CreatedAt         time.Time      `json:"created_at"`
	CanonicalRoot     string         `json:"canonical_root"`
	StoreID           string         `json:"store_id"`
	ConfigFingerprint string         `json:"config_fingerprint"`
	IgnoreFingerprint string         `json:"ignore_fingerprint"`
	LeaseEpoch        int64          `json:"lease_epoch"`
	Git               GitInfo        `json:"git"`
	Segments          []SegmentRef   `json:"segments"`
	SegmentFileIndex   string        `json:"segment_file_index"`
	Tombstones        TombstoneRef   `json:"tombstones"`
	Counts            Counts         `json:"counts"`
	Degraded          bool           `json:"degraded"`
	Errors            []string       `json:"errors,omitempty"`
}

// ManifestSchemaVersion is the current on-disk manifest schema.
const ManifestSchemaVersion = 1

// TombstoneEntry is a line in the per-snapshot tombstone artifact.
type TombstoneEntry struct {
	PathKey string          `json:"path_key"`
	Reason  TombstoneReason `json:"reason"`
}

// SegmentIndexEntry is a line in the per-path segment index
// (path_key -> segment_id).
type SegmentIndexEntry struct {
	PathKey   string `json:"path_key"`
	SegmentID string `json:"segment_id"`
}
