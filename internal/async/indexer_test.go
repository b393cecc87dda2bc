package async

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackgroundIndexer_RunsOffCaller(t *testing.T) {
	b := NewBackgroundIndexer(IndexerConfig{DataDir: t.TempDir()})
	assert.False(t, b.IsRunning())
	assert.NotNil(t, b.Progress())

	started := make(chan struct{})
	release := make(chan struct{})
	b.IndexFunc = func(ctx context.Context, p *IndexProgress) error {
		close(started)
		<-release
		return nil
	}

	b.Start(context.Background())
	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("index func never ran")
	}
	assert.True(t, b.IsRunning(), "Start returns while the pass is in flight")

	// A second Start while running does nothing (and must not panic on
	// the closed-channel machinery).
	b.Start(context.Background())

	close(release)
	require.NoError(t, b.Wait())
	assert.False(t, b.IsRunning())
	assert.False(t, b.Progress().IsIndexing(), "completion flips status to ready")
}

func TestBackgroundIndexer_MarkerFileLifecycle(t *testing.T) {
	dir := t.TempDir()
	b := NewBackgroundIndexer(IndexerConfig{DataDir: dir})

	markerSeen := make(chan bool, 1)
	b.IndexFunc = func(ctx context.Context, p *IndexProgress) error {
		markerSeen <- HasIncompleteLock(dir)
		return nil
	}

	b.Start(context.Background())
	require.NoError(t, b.Wait())

	assert.True(t, <-markerSeen, "marker exists while the pass runs")
	assert.False(t, HasIncompleteLock(dir), "marker removed on completion")
	assert.NoFileExists(t, filepath.Join(dir, "indexing.lock"))
}

func TestBackgroundIndexer_ErrorSurfacesEverywhere(t *testing.T) {
	b := NewBackgroundIndexer(IndexerConfig{DataDir: t.TempDir()})
	boom := errors.New("chunker exploded")
	b.IndexFunc = func(ctx context.Context, p *IndexProgress) error { return boom }

	b.Start(context.Background())
	err := b.Wait()
	assert.Equal(t, boom, err)

	snap := b.Progress().Snapshot()
	assert.Equal(t, string(StatusError), snap.Status)
	assert.Contains(t, snap.ErrorMessage, "chunker exploded")
}

func TestBackgroundIndexer_StopCancelsWork(t *testing.T) {
	b := NewBackgroundIndexer(IndexerConfig{DataDir: t.TempDir()})
	b.IndexFunc = func(ctx context.Context, p *IndexProgress) error {
		<-ctx.Done()
		return ctx.Err()
	}

	b.Start(context.Background())
	time.Sleep(20 * time.Millisecond)

	done := make(chan struct{})
	go func() { b.Stop(); close(done) }()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return")
	}
	assert.ErrorIs(t, b.Wait(), context.Canceled)
}

func TestBackgroundIndexer_ParentContextCancels(t *testing.T) {
	b := NewBackgroundIndexer(IndexerConfig{DataDir: t.TempDir()})
	b.IndexFunc = func(ctx context.Context, p *IndexProgress) error {
		<-ctx.Done()
		return ctx.Err()
	}

	ctx, cancel := context.WithCancel(context.Background())
	b.Start(ctx)
	cancel()

	assert.ErrorIs(t, b.Wait(), context.Canceled)
}

func TestHasIncompleteLock(t *testing.T) {
	dir := t.TempDir()
	assert.False(t, HasIncompleteLock(dir))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "indexing.lock"), []byte("t"), 0o644))
	assert.True(t, HasIncompleteLock(dir))
}
