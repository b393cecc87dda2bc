// Package maintenance implements the store's integrity audit, targeted
// repair, compaction trigger, and retention-driven garbage collection
// (spec component C7). Every operation here runs under the writer lease
// (audit is read-only and safe without it, but repair, compaction, and GC
// all mutate the store) and never weakens the active-snapshot contract:
// a failed or partial maintenance pass leaves the previously active
// snapshot queryable.
package maintenance

import (
	"fmt"
	"sort"

	"github.com/ggrep/ggrep/internal/snapshot"
)

// Inconsistency describes one integrity defect found by Audit.
type Inconsistency struct {
	Kind    string // missing_artifact | checksum_mismatch | row_count_mismatch | casefold_collision | missing_index_entry
	Detail  string
	PathKey string
}

// AuditReport summarizes one audit pass over a store's active snapshot.
type AuditReport struct {
	SnapshotID      int64
	FilesChecked    int
	ChunksChecked   int
	Inconsistencies []Inconsistency
	Degraded        bool
}

// Clean reports whether the audited snapshot had no detected drift.
func (r *AuditReport) Clean() bool {
	return len(r.Inconsistencies) == 0
}

// Audit verifies, for the store's active snapshot: that every referenced
// segment artifact exists with a matching size and checksum (invariant 1),
// that sum(segment.row_count) over segments actually live in the view
// equals manifest.counts.chunks (testable property §8), and that
// path_key_ci is unique across all live rows (invariant 6). It is
// read-only and does not require the writer lease.
func Audit(layout snapshot.Layout, segments snapshot.SegmentStore) (*AuditReport, error) {
	manifest, err := snapshot.OpenLatestValid(layout, segments)
	if err != nil {
		return nil, fmt.Errorf("maintenance: audit: %w", err)
	}

	report := &AuditReport{SnapshotID: manifest.SnapshotID, Degraded: manifest.Degraded}

	for _, seg := range manifest.Segments {
		if !segments.Exists(seg.SegmentID) {
			report.Inconsistencies = append(report.Inconsistencies, Inconsistency{
				Kind:   "missing_artifact",
				Detail: fmt.Sprintf("segment %s referenced by manifest %d is missing on disk", seg.SegmentID, manifest.SnapshotID),
			})
			continue
		}
		size, sum, err := segments.Checksum(seg.SegmentID)
		if err != nil {
			report.Inconsistencies = append(report.Inconsistencies, Inconsistency{
				Kind:   "checksum_mismatch",
				Detail: fmt.Sprintf("segment %s: %v", seg.SegmentID, err),
			})
			continue
		}
		if size != seg.SizeBytes || sum != seg.SHA256 {
			report.Inconsistencies = append(report.Inconsistencies, Inconsistency{
				Kind:   "checksum_mismatch",
				Detail: fmt.Sprintf("segment %s: manifest records size=%d sha256=%s, on-disk size=%d sha256=%s", seg.SegmentID, seg.SizeBytes, seg.SHA256, size, sum),
			})
		}
	}

	index, err := snapshot.ReadSegmentFileIndex(layout, manifest.SnapshotID)
	if err != nil {
		return nil, fmt.Errorf("maintenance: audit: read segment file index: %w", err)
	}
	tombstones, err := snapshot.ReadTombstones(layout, manifest.SnapshotID)
	if err != nil {
		return nil, fmt.Errorf("maintenance: audit: read tombstones: %w", err)
	}
	tombSet := make(map[string]bool, len(tombstones))
	for _, t := range tombstones {
		tombSet[t.PathKey] = true
	}

	pathSegment := make(map[string]string, len(index))
	for _, e := range index {
		pathSegment[e.PathKey] = e.SegmentID
	}

	ciSeen := make(map[string]string, len(pathSegment))
	for pathKey := range pathSegment {
		if tombSet[pathKey] {
			continue
		}
		ci := caseFold(pathKey)
		if other, ok := ciSeen[ci]; ok && other != pathKey {
			report.Inconsistencies = append(report.Inconsistencies, Inconsistency{
				Kind:    "casefold_collision",
				Detail:  fmt.Sprintf("%q and %q collide under case folding", other, pathKey),
				PathKey: pathKey,
			})
			continue
		}
		ciSeen[ci] = pathKey
	}
	report.FilesChecked = len(pathSegment)

	liveCounts := map[string]int{}
	for pathKey, segID := range pathSegment {
		if tombSet[pathKey] {
			continue
		}
		liveCounts[segID]++
	}

	totalLive := 0
	for _, seg := range manifest.Segments {
		rows, err := segments.Scan(seg.SegmentID)
		if err != nil {
			continue
		}
		live := 0
		for _, row := range rows {
			if pathSegment[row.PathKey] == seg.SegmentID && !tombSet[row.PathKey] {
				live++
			}
		}
		totalLive += live
	}
	report.ChunksChecked = totalLive
	if totalLive != manifest.Counts.Chunks {
		report.Inconsistencies = append(report.Inconsistencies, Inconsistency{
			Kind:   "row_count_mismatch",
			Detail: fmt.Sprintf("manifest %d declares %d live chunks, actual live row count is %d", manifest.SnapshotID, manifest.Counts.Chunks, totalLive),
		})
	}

	sort.Slice(report.Inconsistencies, func(i, j int) bool {
		return report.Inconsistencies[i].Detail < report.Inconsistencies[j].Detail
	})

	return report, nil
}

func caseFold(s string) string {
	out := make([]rune, 0, len(s))
	for _, r := range s {
		if r >= 'A' && r <= 'Z' {
			r = r - 'A' + 'a'
		}
		out = append(out, r)
	}
	return string(out)
}
