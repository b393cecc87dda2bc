package maintenance

import (
	"fmt"

	"github.com/ggrep/ggrep/internal/lease"
	"github.com/ggrep/ggrep/internal/snapshot"
)

// ReindexPath rebuilds one path_key's chunk rows from scratch (re-reading,
// re-chunking, and re-embedding the file). The maintenance package does not
// depend on the Chunker/Embedder capabilities directly; the caller supplies
// this callback wired to its own pipeline, keeping repair's orchestration
// logic independent of which chunker or embedder a store was built with.
type ReindexPath func(pathKey string) ([]snapshot.ChunkRow, error)

// RepairReport summarizes one targeted-repair run.
type RepairReport struct {
	Rebuilt           []string
	RequiresFullReindex []string
	Manifest          *snapshot.Manifest
	PostAudit         *AuditReport
}

// Repair rebuilds the named paths using the per-path segment index to
// locate their current assignment; a path with no entry in the index
// cannot be targeted-repaired (its history is gone) and is reported in
// RequiresFullReindex for the caller to handle via a full reindex instead.
// Repair publishes a new snapshot replacing the rebuilt paths' rows and
// then re-audits the store to confirm the repair actually closed the
// drift: content identity is carried by chunk_hash/chunk_id, recomputed
// fresh by the reindex callback and checked again by Audit's row-count
// pass.
func Repair(layout snapshot.Layout, segments snapshot.SegmentStore, leaseMgr *lease.Manager, id snapshot.Identity, git snapshot.GitInfo, paths []string, reindex ReindexPath) (*RepairReport, error) {
	if err := leaseMgr.VerifyOwnership(); err != nil {
		return nil, fmt.Errorf("maintenance: repair: lease preflight: %w", err)
	}

	activeID, err := snapshot.ReadActiveSnapshotID(layout)
	if err != nil {
		return nil, fmt.Errorf("maintenance: repair: read active pointer: %w", err)
	}
	parent, err := snapshot.ReadManifest(layout, activeID)
	if err != nil {
		return nil, fmt.Errorf("maintenance: repair: read active manifest: %w", err)
	}

	index, err := snapshot.ReadSegmentFileIndex(layout, activeID)
	if err != nil {
		return nil, fmt.Errorf("maintenance: repair: read segment file index: %w", err)
	}
	known := make(map[string]bool, len(index))
	for _, e := range index {
		known[e.PathKey] = true
	}

	report := &RepairReport{}
	var changes []snapshot.FileChange
	for _, pathKey := range paths {
		if !known[pathKey] {
			report.RequiresFullReindex = append(report.RequiresFullReindex, pathKey)
			continue
		}
		rows, err := reindex(pathKey)
		if err != nil {
			return nil, fmt.Errorf("maintenance: repair: reindex %s: %w", pathKey, err)
		}
		if len(rows) == 0 {
			reason := snapshot.ReasonDelete
			changes = append(changes, snapshot.FileChange{PathKey: pathKey, Tombstone: &reason})
		} else {
			changes = append(changes, snapshot.FileChange{PathKey: pathKey, Rows: rows})
		}
		report.Rebuilt = append(report.Rebuilt, pathKey)
	}

	if len(changes) > 0 {
		w := snapshot.NewWriter(layout, segments, leaseMgr)
		m, err := w.Publish(parent, id, changes, git)
		if err != nil {
			return nil, fmt.Errorf("maintenance: repair: publish: %w", err)
		}
		report.Manifest = m
	}

	audit, err := Audit(layout, segments)
	if err != nil {
		return nil, fmt.Errorf("maintenance: repair: post-audit: %w", err)
	}
	report.PostAudit = audit

	return report, nil
}
