package maintenance

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ggrep/ggrep/internal/lease"
	"github.com/ggrep/ggrep/internal/snapshot"
)

func newTestStore(t *testing.T) (snapshot.Layout, *lease.Manager) {
	t.Helper()
	base := t.TempDir()
	layout := snapshot.NewLayout(base, "test-store")
	leaseMgr, err := lease.New(layout.LocksDir())
	require.NoError(t, err)
	_, err = leaseMgr.AcquireWriter(time.Minute)
	require.NoError(t, err)
	return layout, leaseMgr
}

func publishOneFile(t *testing.T, layout snapshot.Layout, leaseMgr *lease.Manager, segments snapshot.SegmentStore, parent *snapshot.Manifest, pathKey, text string) *snapshot.Manifest {
	t.Helper()
	w := snapshot.NewWriter(layout, segments, leaseMgr)
	hash := snapshot.ChunkHash(text)
	chunkID := snapshot.ChunkID(hash, "v1", snapshot.KindText)
	row := snapshot.ChunkRow{
		RowID: snapshot.RowID(pathKey, chunkID, 0), ChunkID: chunkID, PathKey: pathKey,
		ChunkHash: hash, ChunkerVersion: "v1", Kind: snapshot.KindText, Text: text,
	}
	id := snapshot.Identity{CanonicalRoot: "/repo", StoreID: "test-store"}
	m, err := w.Publish(parent, id, []snapshot.FileChange{{PathKey: pathKey, Rows: []snapshot.ChunkRow{row}}}, snapshot.GitInfo{})
	require.NoError(t, err)
	return m
}

func TestAudit_CleanStoreReportsNoInconsistencies(t *testing.T) {
	layout, leaseMgr := newTestStore(t)
	segments := snapshot.NewFileSegmentStore(layout)
	publishOneFile(t, layout, leaseMgr, segments, nil, "a.go", "package a")

	report, err := Audit(layout, segments)
	require.NoError(t, err)
	require.True(t, report.Clean())
	require.Equal(t, 1, report.FilesChecked)
	require.Equal(t, 1, report.ChunksChecked)
}

func TestAudit_DetectsMissingSegmentArtifact(t *testing.T) {
	layout, leaseMgr := newTestStore(t)
	segments := snapshot.NewFileSegmentStore(layout)
	m := publishOneFile(t, layout, leaseMgr, segments, nil, "a.go", "package a")

	require.NoError(t, os.Remove(layout.SegmentPath(m.Segments[0].SegmentID)))

	_, err := Audit(layout, segments)
	require.Error(t, err) // OpenLatestValid itself fails validation with no fallback snapshot
}

func TestAudit_DetectsCasefoldCollision(t *testing.T) {
	layout, leaseMgr := newTestStore(t)
	segments := snapshot.NewFileSegmentStore(layout)

	w := snapshot.NewWriter(layout, segments, leaseMgr)
	id := snapshot.Identity{CanonicalRoot: "/repo", StoreID: "test-store"}
	hash := snapshot.ChunkHash("x")
	chunkID := snapshot.ChunkID(hash, "v1", snapshot.KindText)
	rowA := snapshot.ChunkRow{RowID: snapshot.RowID("README.md", chunkID, 0), ChunkID: chunkID, PathKey: "README.md", PathKeyCI: "readme.md", ChunkHash: hash, ChunkerVersion: "v1", Kind: snapshot.KindText, Text: "x"}
	rowB := snapshot.ChunkRow{RowID: snapshot.RowID("readme.md", chunkID, 0), ChunkID: chunkID, PathKey: "readme.md", PathKeyCI: "readme.md", ChunkHash: hash, ChunkerVersion: "v1", Kind: snapshot.KindText, Text: "x"}
	_, err := w.Publish(nil, id, []snapshot.FileChange{
		{PathKey: "README.md", Rows: []snapshot.ChunkRow{rowA}},
		{PathKey: "readme.md", Rows: []snapshot.ChunkRow{rowB}},
	}, snapshot.GitInfo{})
	require.NoError(t, err)

	report, err := Audit(layout, segments)
	require.NoError(t, err)
	require.False(t, report.Clean())
	found := false
	for _, inc := range report.Inconsistencies {
		if inc.Kind == "casefold_collision" {
			found = true
		}
	}
	require.True(t, found)
}
