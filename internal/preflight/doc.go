// Package preflight gates the first run: before a store is created or
// a daemon starts serving, it verifies the host can actually sustain
// indexing; free disk, memory headroom, a writable project directory,
// a sane file-descriptor limit, and a reachable embedding backend. A
// marker file under the data directory caches a pass so later startups
// skip straight to work.
//
//	checker := preflight.New()
//	results := checker.RunAll(ctx, "/path/to/project")
//	if checker.HasCriticalFailures(results) {
//	    // refuse to start; point the user at `ggrep doctor`
//	}
package preflight
