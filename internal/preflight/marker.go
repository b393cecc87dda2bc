package preflight

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// MarkerFile caches a preflight pass inside the data directory.
const MarkerFile = ".preflight-passed"

// NeedsCheck reports whether no cached pass exists.
func NeedsCheck(dataDir string) bool {
	markerPath := filepath.Join(dataDir, MarkerFile)
	_, err := os.Stat(markerPath)
	return os.IsNotExist(err)
}

// MarkPassed records a pass with its timestamp.
func MarkPassed(dataDir string) error {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return fmt.Errorf("create marker directory: %w", err)
	}

	markerPath := filepath.Join(dataDir, MarkerFile)
	content := []byte(time.Now().Format(time.RFC3339))
	return os.WriteFile(markerPath, content, 0644)
}

// ClearMarker forces a fresh check on the next startup; `doctor`
// uses it after environment changes.
func ClearMarker(dataDir string) error {
	markerPath := filepath.Join(dataDir, MarkerFile)
	err := os.Remove(markerPath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("remove marker file: %w", err)
	}
	return nil
}

// MarkerAge is time since the cached pass, zero when absent or
// unparseable.
func MarkerAge(dataDir string) time.Duration {
	markerPath := filepath.Join(dataDir, MarkerFile)
	content, err := os.ReadFile(markerPath)
	if err != nil {
		return 0
	}

	t, err := time.Parse(time.RFC3339, string(content))
	if err != nil {
		return 0
	}

	return time.Since(t)
}
