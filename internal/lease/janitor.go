package lease

import (
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// DefaultStagingTTL is the age at which an unreferenced staging transaction
// directory is considered abandoned.
const DefaultStagingTTL = 30 * time.Minute

// SweepStaging removes staging transaction directories older than ttl that
// are not present in referencedTxnIDs. No code in the module calls it:
// lease acquisition and service startup do not sweep staging.
func SweepStaging(stagingDir string, ttl time.Duration, referencedTxnIDs map[string]bool) error {
	entries, err := os.ReadDir(stagingDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	cutoff := time.Now().Add(-ttl)
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if referencedTxnIDs[e.Name()] {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		path := filepath.Join(stagingDir, e.Name())
		if err := os.RemoveAll(path); err != nil {
			slog.Warn("staging janitor failed to remove transaction directory",
				slog.String("path", path), slog.String("error", err.Error()))
			continue
		}
		slog.Info("staging janitor removed abandoned transaction", slog.String("txn_id", e.Name()))
	}
	return nil
}
