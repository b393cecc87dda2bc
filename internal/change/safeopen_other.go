//go:build !unix

package change

import (
	"fmt"
	"os"
	"path/filepath"
)

// rootHandle is the non-unix fallback: there is no openat(2), so it just
// remembers the root path. openBeneathRoot narrows, but does not eliminate,
// the TOCTOU window between Lstat and Open - a documented platform
// limitation rather than a claimed guarantee.
type rootHandle struct {
	root string
}

func openRootDir(root string) (rootHandle, error) {
	return rootHandle{root: root}, nil
}

func (h rootHandle) Close() {}

func (h rootHandle) openBeneathRoot(relPath string) (*os.File, error) {
	full := filepath.Join(h.root, relPath)
	info, err := os.Lstat(full)
	if err != nil {
		return nil, fmt.Errorf("change: lstat %s: %w", relPath, err)
	}
	if info.Mode()&os.ModeSymlink != 0 {
		return nil, fmt.Errorf("change: refusing to open symlink %s", relPath)
	}
	f, err := os.Open(full)
	if err != nil {
		return nil, fmt.Errorf("change: open %s: %w", relPath, err)
	}
	return f, nil
}
