package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ggrep/ggrep/internal/config"
	"github.com/ggrep/ggrep/internal/snapshot"
	"github.com/ggrep/ggrep/internal/ui"
)

func TestStatusCmd_NoSnapshot(t *testing.T) {
	tmpDir := t.TempDir()

	cmd := newStatusCmd()
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{tmpDir})

	err := cmd.Execute()

	require.Error(t, err)
	assert.Contains(t, err.Error(), "no snapshot found")
}

func publishTestManifest(t *testing.T, layout snapshot.Layout) {
	t.Helper()
	manifest := &snapshot.Manifest{
		SchemaVersion: snapshot.ManifestSchemaVersion,
		SnapshotID:    1,
		CreatedAt:     time.Now(),
		Counts:        snapshot.Counts{Files: 10, Chunks: 50},
		Segments:      []snapshot.SegmentRef{{SegmentID: "seg-1", SizeBytes: 1024, RowCount: 50}},
	}
	require.NoError(t, snapshot.PublishManifest(layout, manifest))
}

func TestCollectStatus_WithSnapshot(t *testing.T) {
	tmpDir := t.TempDir()
	storeDir := filepath.Join(tmpDir, ".ggrep", "store")
	layout := snapshot.NewLayout(storeDir, "test-store")
	publishTestManifest(t, layout)

	snapID, err := snapshot.ReadActiveSnapshotID(layout)
	require.NoError(t, err)

	info, err := collectStatus(tmpDir, layout, snapID, config.NewConfig())
	require.NoError(t, err)
	assert.Equal(t, 10, info.TotalFiles)
	assert.Equal(t, 50, info.TotalChunks)
	assert.Equal(t, int64(1024), info.SegmentsSize)
}

func TestStatusRenderer_Output(t *testing.T) {
	info := ui.StatusInfo{
		ProjectName:    "my-project",
		TotalFiles:     10,
		TotalChunks:    50,
		LastIndexed:    time.Now(),
		TombstonesSize: 1024 * 1024,
		EmbedderType:   "ollama",
		EmbedderStatus: "ready",
		EmbedderModel:  "minilm",
	}

	buf := &bytes.Buffer{}
	renderer := ui.NewStatusRenderer(buf, true)
	err := renderer.Render(info)

	require.NoError(t, err)
	output := buf.String()
	assert.Contains(t, output, "my-project")
	assert.Contains(t, output, "10")
	assert.Contains(t, output, "50")
	assert.Contains(t, output, "ollama")
	assert.Contains(t, output, "ready")
}

func TestStatusRenderer_JSON(t *testing.T) {
	info := ui.StatusInfo{
		ProjectName: "json-project",
		TotalFiles:  5,
		TotalChunks: 25,
	}

	buf := &bytes.Buffer{}
	renderer := ui.NewStatusRenderer(buf, false)
	err := renderer.RenderJSON(info)

	require.NoError(t, err)
	output := buf.String()
	assert.Contains(t, output, `"project_name"`)
	assert.Contains(t, output, `"json-project"`)
	assert.Contains(t, output, `"total_files"`)
}

func TestHashString_Deterministic(t *testing.T) {
	a := hashString("/some/path")
	b := hashString("/some/path")
	assert.Equal(t, a, b)
	assert.Len(t, a, 16)
}

func TestGetFileSize_NonExistent(t *testing.T) {
	size := getFileSize("/nonexistent/file.txt")
	assert.Equal(t, int64(0), size)
}

func TestGetFileSize_Exists(t *testing.T) {
	tmpDir := t.TempDir()
	filePath := filepath.Join(tmpDir, "test.txt")
	content := []byte("hello world")
	require.NoError(t, os.WriteFile(filePath, content, 0644))

	size := getFileSize(filePath)
	assert.Equal(t, int64(len(content)), size)
}

func TestGetDirSize(t *testing.T) {
	tmpDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "a.txt"), []byte("aaaa"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "b.txt"), []byte("bb"), 0644))

	size := getDirSize(tmpDir)
	assert.Equal(t, int64(6), size)
}

func TestGetDirSize_NonExistent(t *testing.T) {
	size := getDirSize("/nonexistent/dir")
	assert.Equal(t, int64(0), size)
}
