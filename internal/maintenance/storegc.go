package maintenance

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// StoreGCResult summarizes one store-retention pass.
type StoreGCResult struct {
	Deleted []string
	Kept    []string
}

// StoreGC enumerates stores from a single-level scan of <base>/data and
// deletes any store directory unused past maxAge, skipping any store id
// present in activeStoreIDs (the set of stores backing a canonical root
// the caller currently considers live, e.g. one with a running daemon or a
// recent CLI invocation) unless force is set. "Unused" is judged by the
// modification time of ACTIVE_SNAPSHOT, which every publish touches.
func StoreGC(baseDir string, maxAge time.Duration, activeStoreIDs map[string]bool, force bool) (*StoreGCResult, error) {
	dataDir := filepath.Join(baseDir, "data")
	entries, err := os.ReadDir(dataDir)
	if err != nil {
		if os.IsNotExist(err) {
			return &StoreGCResult{}, nil
		}
		return nil, fmt.Errorf("maintenance: store gc: list %s: %w", dataDir, err)
	}

	result := &StoreGCResult{}
	now := time.Now()
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		storeID := e.Name()
		if !force && activeStoreIDs[storeID] {
			result.Kept = append(result.Kept, storeID)
			continue
		}

		storeDir := filepath.Join(dataDir, storeID)
		lastUsed, err := lastUsedAt(storeDir)
		if err != nil {
			result.Kept = append(result.Kept, storeID)
			continue
		}

		if !force && now.Sub(lastUsed) < maxAge {
			result.Kept = append(result.Kept, storeID)
			continue
		}

		if err := os.RemoveAll(storeDir); err != nil {
			return nil, fmt.Errorf("maintenance: store gc: remove %s: %w", storeDir, err)
		}
		result.Deleted = append(result.Deleted, storeID)
	}

	return result, nil
}

// lastUsedAt returns the modification time of a store's ACTIVE_SNAPSHOT
// pointer, falling back to the store directory's own mtime for a store
// that was created but never successfully published.
func lastUsedAt(storeDir string) (time.Time, error) {
	pointer := filepath.Join(storeDir, "ACTIVE_SNAPSHOT")
	if info, err := os.Stat(pointer); err == nil {
		return info.ModTime(), nil
	}
	info, err := os.Stat(storeDir)
	if err != nil {
		return time.Time{}, err
	}
	return info.ModTime(), nil
}
