// Package watcher turns filesystem activity into change hints for the
// daemon's reconcile loop. A hint is exactly that: the watcher is
// never the source of truth; every event path ends in the same
// scanner-backed reconciliation a timer would also trigger, so lost
// or reordered events cost latency, not correctness.
//
// The hybrid strategy pairs fsnotify (primary) with a polling walker
// (fallback for network mounts, container volumes, and platforms
// where inotify descriptors run out). Events are debounced to fold
// the bursts IDEs and git checkouts produce, and gitignore-filtered
// so ignored churn (build output, caches) never wakes the syncer.
//
//	opts := watcher.DefaultOptions()
//	w, err := watcher.NewHybridWatcher(opts)
//	if err != nil {
//	    return err
//	}
//	defer w.Stop()
//
//	if err := w.Start(ctx, "/path/to/repo"); err != nil {
//	    return err
//	}
//	for event := range w.Events() {
//	    // feed the reconcile loop
//	}
package watcher
