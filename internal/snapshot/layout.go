package snapshot

import "path/filepath"

// Layout resolves the on-disk paths for one store, per the directory
// structure fixed by the external interface contract:
//
//	<base>/data/<store_id>/
//	  ACTIVE_SNAPSHOT
//	  index_state.json
//	  snapshots/<snapshot_id>/{manifest.json,tombstones.jsonl,segment_file_index.jsonl}
//	  staging/<txn_id>/...
//	  locks/{writer_lease.json,lease_guard.lock,readers.lock}
type Layout struct {
	StoreDir string
}

func NewLayout(baseDir, storeID string) Layout {
	return Layout{StoreDir: filepath.Join(baseDir, "data", storeID)}
}

func (l Layout) ActivePointer() string { return filepath.Join(l.StoreDir, "ACTIVE_SNAPSHOT") }
func (l Layout) IndexState() string    { return filepath.Join(l.StoreDir, "index_state.json") }
func (l Layout) SnapshotsDir() string  { return filepath.Join(l.StoreDir, "snapshots") }
func (l Layout) StagingDir() string    { return filepath.Join(l.StoreDir, "staging") }
func (l Layout) LocksDir() string      { return filepath.Join(l.StoreDir, "locks") }

func (l Layout) SnapshotDir(snapshotID int64) string {
	return filepath.Join(l.SnapshotsDir(), formatSnapshotID(snapshotID))
}

func (l Layout) ManifestPath(snapshotID int64) string {
	return filepath.Join(l.SnapshotDir(snapshotID), "manifest.json")
}

func (l Layout) TombstonesPath(snapshotID int64) string {
	return filepath.Join(l.SnapshotDir(snapshotID), "tombstones.jsonl")
}

func (l Layout) SegmentFileIndexPath(snapshotID int64) string {
	return filepath.Join(l.SnapshotDir(snapshotID), "segment_file_index.jsonl")
}

func (l Layout) SegmentsDir() string {
	return filepath.Join(l.StoreDir, "segments")
}

func (l Layout) SegmentPath(segmentID string) string {
	return filepath.Join(l.SegmentsDir(), segmentID+".seg")
}

func (l Layout) StagingTxnDir(txnID string) string {
	return filepath.Join(l.StagingDir(), txnID)
}

func formatSnapshotID(id int64) string {
	const digits = "0123456789"
	if id == 0 {
		return "0"
	}
	neg := id < 0
	if neg {
		id = -id
	}
	var buf [20]byte
	i := len(buf)
	for id > 0 {
		i--
		buf[i] = digits[id%10]
		id /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// SegmentName formats the deterministic segment name seg_<snapshot_id>_<seq>.
func SegmentName(snapshotID int64, seq int) string {
	return "seg_" + formatSnapshotID(snapshotID) + "_" + formatSnapshotID(int64(seq))
}
