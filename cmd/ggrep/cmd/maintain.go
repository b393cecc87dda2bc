package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/ggrep/ggrep/internal/config"
	"github.com/ggrep/ggrep/internal/identity"
	"github.com/ggrep/ggrep/internal/lease"
	"github.com/ggrep/ggrep/internal/maintenance"
	"github.com/ggrep/ggrep/internal/snapshot"
	"github.com/ggrep/ggrep/internal/sync"
)

// newMaintainCmd groups the store-level maintenance operations
// (internal/maintenance): integrity audit, segment compaction, and the
// retention-driven garbage collector.
func newMaintainCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "maintain",
		Short: "Run store integrity audit or garbage collection",
	}
	cmd.AddCommand(newMaintainAuditCmd())
	cmd.AddCommand(newMaintainGCCmd())
	cmd.AddCommand(newMaintainCompactCmd())
	return cmd
}

// resolveIdentity derives the same (config_fingerprint, store_id) pair the
// `sync` command uses to pick a store directory, from the declared config
// alone rather than from a live embedder: a provider's auto-detected model
// can vary run to run, and two syncs of the same config must always agree
// on which store directory they are writing to.
func resolveIdentity(cfg *config.Config, root string) identity.Identity {
	id := identity.Identity{
		CanonicalRoot: root,
		ConfigFingerprint: identity.ConfigFingerprint(identity.ConfigInputs{
			ChunkerVersion:   sync.ChunkerVersion,
			EmbedModelID:     cfg.Embeddings.Model,
			EmbedDimensions:  cfg.Embeddings.Dimensions,
			MaxFileSizeBytes: cfg.Store.MaxFileSizeBytes,
			SchemaVersion:    snapshot.ManifestSchemaVersion,
		}),
	}
	id.StoreID = identity.StoreID(id.CanonicalRoot, id.ConfigFingerprint)
	return id
}

func resolveStoreForMaintenance(path string) (snapshot.Layout, *config.Config, identity.Identity, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return snapshot.Layout{}, nil, identity.Identity{}, fmt.Errorf("load config: %w", err)
	}
	root, err := identity.Resolve(path)
	if err != nil {
		return snapshot.Layout{}, nil, identity.Identity{}, fmt.Errorf("resolve project root: %w", err)
	}
	id := resolveIdentity(cfg, root)
	layout := snapshot.NewLayout(cfg.Store.BaseDir, id.StoreID)
	return layout, cfg, id, nil
}

func newMaintainAuditCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit [path]",
		Short: "Check the active snapshot for integrity problems",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "."
			if len(args) > 0 {
				path = args[0]
			}
			layout, _, _, err := resolveStoreForMaintenance(path)
			if err != nil {
				return err
			}
			segments := snapshot.NewFileSegmentStore(layout)
			report, err := maintenance.Audit(layout, segments)
			if err != nil {
				return fmt.Errorf("audit: %w", err)
			}
			fmt.Printf("snapshot %d: %d files, %d chunks checked\n", report.SnapshotID, report.FilesChecked, report.ChunksChecked)
			if report.Clean() {
				fmt.Println("no inconsistencies found")
				return nil
			}
			for _, inc := range report.Inconsistencies {
				fmt.Printf("  %s: %s (%s)\n", inc.Kind, inc.Detail, inc.PathKey)
			}
			return fmt.Errorf("%d inconsistencies found", len(report.Inconsistencies))
		},
	}
	return cmd
}

func newMaintainGCCmd() *cobra.Command {
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "gc [path]",
		Short: "Delete snapshots and segments past the configured retention window",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "."
			if len(args) > 0 {
				path = args[0]
			}
			layout, cfg, _, err := resolveStoreForMaintenance(path)
			if err != nil {
				return err
			}
			if dryRun {
				fmt.Println("dry-run not supported yet; re-run without --dry-run to actually collect")
				return nil
			}

			leaseMgr, err := lease.New(layout.LocksDir())
			if err != nil {
				return fmt.Errorf("open lease manager: %w", err)
			}
			if _, err := leaseMgr.AcquireWriter(5 * time.Minute); err != nil {
				return fmt.Errorf("acquire writer lease: %w", err)
			}
			defer func() { _ = leaseMgr.Release() }()

			segments := snapshot.NewFileSegmentStore(layout)
			policy := snapshot.RetentionPolicy{
				MinCount:     cfg.Retention.SnapshotHistoryLimit,
				MinAge:       cfg.Retention.SnapshotMinAge,
				SafetyMargin: cfg.Retention.GCSafetyMargin,
			}
			result, err := snapshot.GC(layout, segments, leaseMgr, policy)
			if err != nil {
				return fmt.Errorf("gc: %w", err)
			}
			fmt.Printf("deleted %d snapshots, %d segments; kept %d snapshots\n",
				len(result.SnapshotsDeleted), len(result.SegmentsDeleted), len(result.SnapshotsKept))
			return nil
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Exit without deleting anything (no report of what would be deleted is produced)")
	return cmd
}

// newMaintainCompactCmd exposes the snapshot segment compactor
// (internal/snapshot.Compact via internal/maintenance.Compact): it rewrites
// the live view into a single fresh segment and prunes dead tombstones,
// publishing the result as a new snapshot generation under the writer
// lease.
func newMaintainCompactCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "compact [path]",
		Short: "Coalesce segments and prune tombstones into a new snapshot",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "."
			if len(args) > 0 {
				path = args[0]
			}
			layout, cfg, _, err := resolveStoreForMaintenance(path)
			if err != nil {
				return err
			}

			segments := snapshot.NewFileSegmentStore(layout)
			needed, reason, err := maintenance.CompactionNeeded(layout, segments, cfg.Retention)
			if err != nil {
				return fmt.Errorf("check compaction thresholds: %w", err)
			}
			if needed {
				fmt.Printf("compaction threshold crossed: %s\n", reason)
			}

			leaseMgr, err := lease.New(layout.LocksDir())
			if err != nil {
				return fmt.Errorf("open lease manager: %w", err)
			}
			if _, err := leaseMgr.AcquireWriter(5 * time.Minute); err != nil {
				return fmt.Errorf("acquire writer lease: %w", err)
			}
			defer func() { _ = leaseMgr.Release() }()

			result, err := maintenance.Compact(layout, segments, leaseMgr)
			if err != nil {
				return fmt.Errorf("compact: %w", err)
			}
			fmt.Printf("published snapshot %d (from %d): %d->%d segments, %d tombstones pruned, %d rows carried\n",
				result.NewSnapshotID, result.PreviousSnapshotID, result.SegmentsBefore, result.SegmentsAfter,
				result.TombstonesPruned, result.RowsCarried)
			return nil
		},
	}
	return cmd
}
