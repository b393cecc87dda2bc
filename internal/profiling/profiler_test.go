package profiling

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func nonEmptyFile(t *testing.T, path string) {
	t.Helper()
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(0))
}

func TestProfiler_CPUAndTrace(t *testing.T) {
	dir := t.TempDir()
	p := NewProfiler()

	cpuPath := filepath.Join(dir, "cpu.prof")
	stopCPU, err := p.StartCPU(cpuPath)
	require.NoError(t, err)

	// Burn a little CPU so the profile has samples to flush.
	x := 0
	for i := 0; i < 1_000_000; i++ {
		x += i % 7
	}
	_ = x
	stopCPU()
	nonEmptyFile(t, cpuPath)

	tracePath := filepath.Join(dir, "exec.trace")
	stopTrace, err := p.StartTrace(tracePath)
	require.NoError(t, err)
	stopTrace()
	nonEmptyFile(t, tracePath)
}

func TestProfiler_SnapshotsWrite(t *testing.T) {
	dir := t.TempDir()
	p := NewProfiler()

	heap := filepath.Join(dir, "heap.prof")
	require.NoError(t, p.WriteHeap(heap))
	nonEmptyFile(t, heap)

	allocs := filepath.Join(dir, "allocs.prof")
	require.NoError(t, p.WriteAllocs(allocs))
	nonEmptyFile(t, allocs)

	goroutines := filepath.Join(dir, "goroutine.prof")
	require.NoError(t, p.WriteGoroutine(goroutines))
	nonEmptyFile(t, goroutines)
}

func TestProfiler_BadPathErrors(t *testing.T) {
	p := NewProfiler()
	bad := filepath.Join(t.TempDir(), "missing", "deep", "cpu.prof")

	_, err := p.StartCPU(bad)
	assert.Error(t, err)
	assert.Error(t, p.WriteHeap(bad))
}

func TestMemStatsAndFormatBytes(t *testing.T) {
	m := MemStats()
	assert.Greater(t, m.Sys, uint64(0))

	assert.Equal(t, "512 B", FormatBytes(512))
	assert.Equal(t, "1.00 KB", FormatBytes(1024))
	assert.Equal(t, "2.50 MB", FormatBytes(5*1024*1024/2))
	assert.Equal(t, "1.00 GB", FormatBytes(1024*1024*1024))
}
