// Package profiling backs the --profile-cpu/--profile-mem/
// --profile-trace flags: thin wrappers over runtime/pprof and
// runtime/trace that own the output files' lifecycles.
package profiling

import (
	"fmt"
	"os"
	"runtime"
	"runtime/pprof"
	"runtime/trace"
)

// Profiler holds the open profile files so their cleanups can close
// them.
type Profiler struct {
	cpuFile   *os.File
	traceFile *os.File
}

// NewProfiler returns an idle Profiler.
func NewProfiler() *Profiler {
	return &Profiler{}
}

// StartCPU begins CPU profiling into path; call the cleanup to stop
// and flush.
func (p *Profiler) StartCPU(path string) (cleanup func(), err error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create CPU profile file: %w", err)
	}

	if err := pprof.StartCPUProfile(f); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("failed to start CPU profile: %w", err)
	}

	p.cpuFile = f

	return func() {
		pprof.StopCPUProfile()
		_ = p.cpuFile.Close()
		p.cpuFile = nil
	}, nil
}

// WriteHeap snapshots live heap allocations into path.
func (p *Profiler) WriteHeap(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create heap profile file: %w", err)
	}
	defer func() { _ = f.Close() }()

	// Collect first so the profile reflects live objects, not garbage.
	runtime.GC()

	if err := pprof.WriteHeapProfile(f); err != nil {
		return fmt.Errorf("failed to write heap profile: %w", err)
	}

	return nil
}

// StartTrace begins execution tracing into path; call the cleanup to
// stop.
func (p *Profiler) StartTrace(path string) (cleanup func(), err error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create trace file: %w", err)
	}

	if err := trace.Start(f); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("failed to start trace: %w", err)
	}

	p.traceFile = f

	return func() {
		trace.Stop()
		_ = p.traceFile.Close()
		p.traceFile = nil
	}, nil
}

// WriteAllocs snapshots cumulative allocations (not just live ones)
// into path.
func (p *Profiler) WriteAllocs(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create allocs profile file: %w", err)
	}
	defer func() { _ = f.Close() }()

	runtime.GC()

	if err := pprof.Lookup("allocs").WriteTo(f, 0); err != nil {
		return fmt.Errorf("failed to write allocs profile: %w", err)
	}

	return nil
}

// WriteGoroutine dumps all goroutine stacks into path.
func (p *Profiler) WriteGoroutine(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create goroutine profile file: %w", err)
	}
	defer func() { _ = f.Close() }()

	if err := pprof.Lookup("goroutine").WriteTo(f, 1); err != nil {
		return fmt.Errorf("failed to write goroutine profile: %w", err)
	}

	return nil
}

// WriteBlock snapshots synchronization blocking into path.
func (p *Profiler) WriteBlock(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create block profile file: %w", err)
	}
	defer func() { _ = f.Close() }()

	if err := pprof.Lookup("block").WriteTo(f, 0); err != nil {
		return fmt.Errorf("failed to write block profile: %w", err)
	}

	return nil
}

// MemStats reads the runtime's current memory statistics.
func MemStats() runtime.MemStats {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return m
}

// FormatBytes renders a byte count with a binary-unit suffix.
func FormatBytes(bytes uint64) string {
	const (
		KB = 1024
		MB = KB * 1024
		GB = MB * 1024
	)

	switch {
	case bytes >= GB:
		return fmt.Sprintf("%.2f GB", float64(bytes)/float64(GB))
	case bytes >= MB:
		return fmt.Sprintf("%.2f MB", float64(bytes)/float64(MB))
	case bytes >= KB:
		return fmt.Sprintf("%.2f KB", float64(bytes)/float64(KB))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}
