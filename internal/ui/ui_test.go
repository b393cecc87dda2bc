package ui

import (
	"bytes"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStageStringsAndIcons(t *testing.T) {
	cases := []struct {
		stage Stage
		name  string
		icon  string
	}{
		{StageScanning, "Scanning", "SCAN"},
		{StageChunking, "Chunking", "CHUNK"},
		{StagePublish, "Publish", "PUB"},
		{StageEmbedding, "Embedding", "EMBED"},
		{StageIndexing, "Indexing", "INDEX"},
		{StageComplete, "Complete", "DONE"},
		{Stage(42), "Unknown", "???"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.name, tc.stage.String())
		assert.Equal(t, tc.icon, tc.stage.Icon())
	}
}

func TestNewConfigOptions(t *testing.T) {
	var buf bytes.Buffer
	cfg := NewConfig(&buf,
		WithForcePlain(true),
		WithNoColor(true),
		WithSpinnerStyle("line"),
		WithProjectDir("/repo"),
	)

	assert.Equal(t, &buf, cfg.Output)
	assert.True(t, cfg.ForcePlain)
	assert.True(t, cfg.NoColor)
	assert.Equal(t, "line", cfg.SpinnerStyle)
	assert.Equal(t, "/repo", cfg.ProjectDir)

	defaults := NewConfig(&buf)
	assert.False(t, defaults.ForcePlain)
	assert.Equal(t, "dots", defaults.SpinnerStyle)
}

func TestNewRenderer_PicksPlainOffTTY(t *testing.T) {
	// A bytes.Buffer is never a TTY, so the factory must choose the
	// plain renderer regardless of ForcePlain.
	var buf bytes.Buffer

	r := NewRenderer(NewConfig(&buf))
	_, isPlain := r.(*PlainRenderer)
	assert.True(t, isPlain)

	r = NewRenderer(NewConfig(&buf, WithForcePlain(true)))
	_, isPlain = r.(*PlainRenderer)
	assert.True(t, isPlain)
}

func TestIsTTY(t *testing.T) {
	assert.False(t, IsTTY(nil))
	assert.False(t, IsTTY(&bytes.Buffer{}))

	// A regular file is not a terminal.
	f, err := os.CreateTemp(t.TempDir(), "out")
	require.NoError(t, err)
	defer f.Close()
	assert.False(t, IsTTY(f))
}

func TestDetectNoColor(t *testing.T) {
	orig, had := os.LookupEnv("NO_COLOR")
	t.Cleanup(func() {
		if had {
			os.Setenv("NO_COLOR", orig)
		} else {
			os.Unsetenv("NO_COLOR")
		}
	})

	os.Unsetenv("NO_COLOR")
	assert.False(t, DetectNoColor())

	// Any value counts, including empty.
	os.Setenv("NO_COLOR", "")
	assert.True(t, DetectNoColor())
}

func TestDetectCI(t *testing.T) {
	orig, had := os.LookupEnv("CI")
	t.Cleanup(func() {
		if had {
			os.Setenv("CI", orig)
		} else {
			os.Unsetenv("CI")
		}
	})

	os.Setenv("CI", "true")
	assert.True(t, DetectCI())
}
