package maintenance

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ggrep/ggrep/internal/snapshot"
)

func TestRepair_RebuildsKnownPathViaSegmentIndex(t *testing.T) {
	layout, leaseMgr := newTestStore(t)
	segments := snapshot.NewFileSegmentStore(layout)
	publishOneFile(t, layout, leaseMgr, segments, nil, "a.go", "package a")

	id := snapshot.Identity{CanonicalRoot: "/repo", StoreID: "test-store"}
	calls := 0
	reindex := func(pathKey string) ([]snapshot.ChunkRow, error) {
		calls++
		hash := snapshot.ChunkHash("package a v2")
		chunkID := snapshot.ChunkID(hash, "v1", snapshot.KindText)
		return []snapshot.ChunkRow{{
			RowID: snapshot.RowID(pathKey, chunkID, 0), ChunkID: chunkID, PathKey: pathKey,
			ChunkHash: hash, ChunkerVersion: "v1", Kind: snapshot.KindText, Text: "package a v2",
		}}, nil
	}

	report, err := Repair(layout, segments, leaseMgr, id, snapshot.GitInfo{}, []string{"a.go"}, reindex)
	require.NoError(t, err)
	require.Equal(t, 1, calls)
	require.Equal(t, []string{"a.go"}, report.Rebuilt)
	require.Empty(t, report.RequiresFullReindex)
	require.NotNil(t, report.Manifest)
	require.True(t, report.PostAudit.Clean())
}

func TestRepair_UnknownPathFallsBackToFullReindex(t *testing.T) {
	layout, leaseMgr := newTestStore(t)
	segments := snapshot.NewFileSegmentStore(layout)
	publishOneFile(t, layout, leaseMgr, segments, nil, "a.go", "package a")

	id := snapshot.Identity{CanonicalRoot: "/repo", StoreID: "test-store"}
	reindex := func(pathKey string) ([]snapshot.ChunkRow, error) {
		t.Fatal("reindex should not be called for an unmapped path")
		return nil, nil
	}

	report, err := Repair(layout, segments, leaseMgr, id, snapshot.GitInfo{}, []string{"never-indexed.go"}, reindex)
	require.NoError(t, err)
	require.Empty(t, report.Rebuilt)
	require.Equal(t, []string{"never-indexed.go"}, report.RequiresFullReindex)
	require.Nil(t, report.Manifest)
}
