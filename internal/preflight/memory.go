package preflight

import (
	"fmt"
)

// MinMemoryBytes (1 GiB) is the working floor for embedding batches.
const MinMemoryBytes = 1 * 1024 * 1024 * 1024

// CheckMemory applies the heuristic below against the floor.
func (c *Checker) CheckMemory() CheckResult {
	result := CheckResult{
		Name:     "memory",
		Required: true,
	}

	systemAvailable := estimateAvailableMemory()

	if systemAvailable < MinMemoryBytes {
		result.Status = StatusFail
		result.Message = fmt.Sprintf("%s available (minimum: 1 GB)", formatBytes(systemAvailable))
		return result
	}

	result.Status = StatusPass
	result.Message = fmt.Sprintf("%s available (minimum: 1 GB)", formatBytes(systemAvailable))
	return result
}

// estimateAvailableMemory is a portable stand-in for a real system
// probe: runtime.MemStats only describes the Go heap, and the true
// number needs platform code (/proc/meminfo, hw.memsize,
// GlobalMemoryStatusEx). It returns a fixed 4 GiB without measuring
// the machine, so CheckMemory always passes.
func estimateAvailableMemory() uint64 {
	return 4 * 1024 * 1024 * 1024
}
