package sync

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ggrep/ggrep/internal/chunk"
	"github.com/ggrep/ggrep/internal/change"
	"github.com/ggrep/ggrep/internal/config"
	ggreperrors "github.com/ggrep/ggrep/internal/errors"
	"github.com/ggrep/ggrep/internal/identity"
	"github.com/ggrep/ggrep/internal/lease"
	"github.com/ggrep/ggrep/internal/snapshot"
)

// wholeFileChunker returns the entire file as one chunk; enough to
// exercise the write path without pulling in tree-sitter grammars.
type wholeFileChunker struct{}

func (wholeFileChunker) Chunk(_ context.Context, f *chunk.FileInput) ([]*chunk.Chunk, error) {
	if len(f.Content) == 0 {
		return nil, nil
	}
	return []*chunk.Chunk{{
		FilePath:  f.Path,
		Content:   string(f.Content),
		Language:  f.Language,
		StartLine: 1,
		EndLine:   1,
	}}, nil
}

func (wholeFileChunker) SupportedExtensions() []string { return []string{"go", "md"} }

type fakeEmbedder struct{}

func (fakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	return []float32{float32(len(text))}, nil
}

func (fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := fakeEmbedder{}.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (fakeEmbedder) Dimensions() int                { return 1 }
func (fakeEmbedder) ModelName() string              { return "fake" }
func (fakeEmbedder) Available(context.Context) bool { return true }
func (fakeEmbedder) Close() error                   { return nil }
func (fakeEmbedder) SetBatchIndex(int)  {}
func (fakeEmbedder) SetFinalBatch(bool) {}

func newTestSyncer(t *testing.T, storeDir string) (*Syncer, *lease.Manager) {
	t.Helper()
	layout := snapshot.NewLayout(storeDir, "test-store")
	leaseMgr, err := lease.New(layout.LocksDir())
	require.NoError(t, err)
	_, err = leaseMgr.AcquireWriter(time.Minute)
	require.NoError(t, err)

	detector, err := change.NewDetector()
	require.NoError(t, err)

	return &Syncer{
		Layout:   layout,
		Segments: snapshot.NewFileSegmentStore(layout),
		Lease:    leaseMgr,
		Detector: detector,
		Chunkers: Chunkers{Code: wholeFileChunker{}, Markdown: wholeFileChunker{}},
		Embedder: fakeEmbedder{},
		Config:   config.NewConfig(),
		Identity: identity.Identity{CanonicalRoot: "/repo", StoreID: "test-store"},
		// A millisecond-scale retry schedule so failure-path tests do
		// not sit out the production backoff.
		EmbedRetry: ggreperrors.RetryConfig{
			MaxRetries:   1,
			InitialDelay: time.Millisecond,
			MaxDelay:     time.Millisecond,
			Multiplier:   1.0,
		},
	}, leaseMgr
}

func TestSync_FirstRunIndexesAllFiles(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.go"), []byte("package a"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(root, "b.go"), []byte("package b"), 0o600))

	syncer, _ := newTestSyncer(t, t.TempDir())
	result, err := syncer.Sync(context.Background(), root)
	require.NoError(t, err)
	require.NotNil(t, result.Manifest)
	require.Equal(t, 2, result.RowsEmbedded)
	require.Equal(t, 2, result.Manifest.Counts.Files)
}

func TestSync_SecondRunOnlyTouchesChangedFiles(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.go"), []byte("package a"), 0o600))

	syncer, _ := newTestSyncer(t, t.TempDir())
	_, err := syncer.Sync(context.Background(), root)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(root, "b.go"), []byte("package b"), 0o600))
	result, err := syncer.Sync(context.Background(), root)
	require.NoError(t, err)
	require.NotNil(t, result.Manifest)
	require.Equal(t, 1, result.RowsEmbedded)
	require.Equal(t, 2, result.Manifest.Counts.Files)
}

func TestSync_NoChangesPublishesNothing(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.go"), []byte("package a"), 0o600))

	syncer, _ := newTestSyncer(t, t.TempDir())
	_, err := syncer.Sync(context.Background(), root)
	require.NoError(t, err)

	result, err := syncer.Sync(context.Background(), root)
	require.NoError(t, err)
	require.Nil(t, result.Manifest)
	require.True(t, result.ChangeSet.IsEmpty())
}

func TestSync_DeletedFileIsTombstoned(t *testing.T) {
	root := t.TempDir()
	aPath := filepath.Join(root, "a.go")
	require.NoError(t, os.WriteFile(aPath, []byte("package a"), 0o600))

	syncer, _ := newTestSyncer(t, t.TempDir())
	_, err := syncer.Sync(context.Background(), root)
	require.NoError(t, err)

	require.NoError(t, os.Remove(aPath))
	result, err := syncer.Sync(context.Background(), root)
	require.NoError(t, err)
	require.NotNil(t, result.Manifest)
	require.Equal(t, 1, result.FilesTombstoned)
	require.Equal(t, 0, result.Manifest.Counts.Files)
}

// poisonEmbedder fails any batch containing the marker text, so tests
// can break exactly one file's indexing.
type poisonEmbedder struct {
	fakeEmbedder
	marker string
}

func (p poisonEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	for _, t := range texts {
		if strings.Contains(t, p.marker) {
			return nil, fmt.Errorf("backend rejected %q", p.marker)
		}
	}
	return p.fakeEmbedder.EmbedBatch(ctx, texts)
}

func TestSync_StrictPublishAbortsOnFileFailure(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "good.go"), []byte("package good"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(root, "bad.go"), []byte("package POISON"), 0o600))

	syncer, _ := newTestSyncer(t, t.TempDir())
	syncer.Embedder = poisonEmbedder{marker: "POISON"}

	_, err := syncer.Sync(context.Background(), root)
	require.Error(t, err)

	// Nothing published: the store has no active snapshot at all.
	_, err = snapshot.ReadActiveSnapshotID(syncer.Layout)
	require.Error(t, err)
}

func TestSync_AllowDegradedPublishesPastFailures(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "good.go"), []byte("package good"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(root, "bad.go"), []byte("package POISON"), 0o600))

	syncer, _ := newTestSyncer(t, t.TempDir())
	syncer.Embedder = poisonEmbedder{marker: "POISON"}
	syncer.AllowDegraded = true

	result, err := syncer.Sync(context.Background(), root)
	require.NoError(t, err)
	require.NotNil(t, result.Manifest)

	// The failure is enumerated, not fatal: degraded=true, the failed
	// path named in the error list, the healthy file fully indexed.
	require.True(t, result.Manifest.Degraded)
	require.Len(t, result.Manifest.Errors, 1)
	require.Contains(t, result.Manifest.Errors[0], "bad.go")
	require.Equal(t, []string{"bad.go"}, result.FilesFailed)
	require.Equal(t, 1, result.RowsEmbedded)
	require.Equal(t, 1, result.Manifest.Counts.Files)

	// The manifest round-trips its degraded state.
	m, err := snapshot.ReadManifest(syncer.Layout, result.Manifest.SnapshotID)
	require.NoError(t, err)
	require.True(t, m.Degraded)
	require.Len(t, m.Errors, 1)
}

func TestSync_DegradedModifyKeepsPreviousRows(t *testing.T) {
	root := t.TempDir()
	badPath := filepath.Join(root, "bad.go")
	require.NoError(t, os.WriteFile(badPath, []byte("package fine"), 0o600))

	storeDir := t.TempDir()
	syncer, _ := newTestSyncer(t, storeDir)
	first, err := syncer.Sync(context.Background(), root)
	require.NoError(t, err)
	require.NotNil(t, first.Manifest)

	// The modify fails under a degraded sync: the file is skipped, so
	// its previous rows carry forward instead of vanishing.
	require.NoError(t, os.WriteFile(badPath, []byte("package POISON"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(root, "new.go"), []byte("package new"), 0o600))
	syncer.Embedder = poisonEmbedder{marker: "POISON"}
	syncer.AllowDegraded = true

	result, err := syncer.Sync(context.Background(), root)
	require.NoError(t, err)
	require.NotNil(t, result.Manifest)
	require.True(t, result.Manifest.Degraded)
	require.Equal(t, 2, result.Manifest.Counts.Files, "failed modify keeps its old rows live")

	mgr := snapshot.NewManager(syncer.Layout, syncer.Segments)
	view, err := mgr.Open()
	require.NoError(t, err)
	defer view.Close()

	texts := map[string]string{}
	for _, row := range view.Rows() {
		texts[row.PathKey] = row.Text
	}
	require.Equal(t, "package fine", texts["bad.go"], "previous content still served")
	require.Equal(t, "package new", texts["new.go"])
}
