// Package change implements the change detector: turning a working tree plus
// the previously indexed file metadata into an ordered, deduplicated set of
// path-level changes ready for chunking and publish.
package change

import "time"

// Kind classifies one path's change relative to the previously indexed state.
type Kind string

const (
	KindAdd    Kind = "add"
	KindModify Kind = "modify"
	KindDelete Kind = "delete"
	KindRename Kind = "rename"
)

// Record is one path_key's detected change.
type Record struct {
	Kind Kind

	// PathKey is the new/current path_key. For a delete, it is the
	// removed path; for a rename, it is the destination path.
	PathKey string
	// OldPathKey is set only for KindRename: the source path_key, which
	// the writer must tombstone with ReasonRenameFrom.
	OldPathKey string

	AbsPath     string
	Size        int64
	ModTime     time.Time
	ContentHash string
	Language    string

	// Truncated reports the file exceeded MaxChunksPerFile and the
	// chunker is expected to cap its output and flag the manifest.
	Truncated bool
}

// FileMeta is the previously indexed state for one path_key, used to decide
// whether a file needs rescanning without hashing its full content.
type FileMeta struct {
	Size        int64
	ModTime     time.Time
	ContentHash string
}

// ChangeSet is the deterministically ordered output of one detection pass:
// deletes first, then modifications, then renames, then additions, each
// lexicographically sorted by path_key within its group. Renames are
// reported as a single KindRename record carrying both path_keys rather
// than a delete/add pair, and are ordered by their destination path_key.
type ChangeSet struct {
	Records []Record

	// ScanErrors carries non-fatal per-path errors encountered while
	// scanning (permission denied, transient I/O) that did not abort
	// the overall detection pass.
	ScanErrors []error
}

// IsEmpty reports whether the change set has no work.
func (cs *ChangeSet) IsEmpty() bool {
	return cs == nil || len(cs.Records) == 0
}
