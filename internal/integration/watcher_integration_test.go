package integration

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ggrep/ggrep/internal/watcher"
)

// startWatcher runs a HybridWatcher over dir with short windows and
// returns it; Stop and cancellation are tied to the test.
func startWatcher(t *testing.T, dir string) *watcher.HybridWatcher {
	t.Helper()
	w, err := watcher.NewHybridWatcher(watcher.Options{
		DebounceWindow: 50 * time.Millisecond,
		PollInterval:   50 * time.Millisecond,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Stop() })

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = w.Start(ctx, dir) }()

	time.Sleep(150 * time.Millisecond)
	return w
}

// awaitChange waits for any batch containing an event for path with
// one of the accepted operations.
func awaitChange(t *testing.T, w *watcher.HybridWatcher, path string, ops ...watcher.Operation) watcher.FileEvent {
	t.Helper()
	accepted := map[watcher.Operation]bool{}
	for _, op := range ops {
		accepted[op] = true
	}
	deadline := time.After(5 * time.Second)
	for {
		select {
		case batch, ok := <-w.Events():
			if !ok {
				t.Fatal("watcher closed before the expected event")
			}
			for _, ev := range batch {
				if ev.Path == path && accepted[ev.Operation] {
					return ev
				}
			}
		case <-deadline:
			t.Fatalf("no %v event for %s", ops, path)
		}
	}
}

func TestWatcherIntegration_CreateModifyDeleteCycle(t *testing.T) {
	dir := t.TempDir()
	w := startWatcher(t, dir)

	// The full life of one file, end to end through debouncing.
	path := filepath.Join(dir, "tracked.go")
	require.NoError(t, os.WriteFile(path, []byte("package tracked\n"), 0o644))
	ev := awaitChange(t, w, "tracked.go", watcher.OpCreate)
	assert.False(t, ev.Timestamp.IsZero())

	require.NoError(t, os.WriteFile(path, []byte("package tracked\n\nfunc F() {}\n"), 0o644))
	awaitChange(t, w, "tracked.go", watcher.OpModify, watcher.OpCreate)

	require.NoError(t, os.Remove(path))
	awaitChange(t, w, "tracked.go", watcher.OpDelete)
}

func TestWatcherIntegration_GitignoredChurnStaysSilent(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".gitignore"), []byte("*.log\nbuild/\n"), 0o644))
	w := startWatcher(t, dir)

	// Churn that must never wake the reconciler, followed by a real
	// change that must.
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "build"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "build", "out.js"), []byte("x\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "noise.log"), []byte("line\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "signal.go"), []byte("package s\n"), 0o644))

	ev := awaitChange(t, w, "signal.go", watcher.OpCreate)
	assert.Equal(t, "signal.go", ev.Path)
}

func TestWatcherIntegration_HealthSurface(t *testing.T) {
	dir := t.TempDir()
	w := startWatcher(t, dir)

	assert.True(t, w.IsHealthy())
	assert.Contains(t, []string{"fsnotify", "polling"}, w.WatcherType())
	assert.Equal(t, dir, w.RootPath())

	require.NoError(t, w.Stop())
	assert.False(t, w.IsHealthy())
}
