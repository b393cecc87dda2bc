package change

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/ggrep/ggrep/internal/identity"
)

// DefaultMaxSymlinkHops bounds how many symlink hops resolveUnderRoot will
// follow before giving up, guarding against a symlink cycle or an
// adversarially deep chain used to exhaust file descriptors or stack depth.
const DefaultMaxSymlinkHops = 32

// resolveUnderRoot resolves abs (a path already known to be a symlink, or
// containing one in a parent component) to its final target, following at
// most maxHops hops, and confirms the result still resolves under root. It
// returns the resolved path or an error if the chain is too long, cyclic, or
// escapes root.
func resolveUnderRoot(root, abs string, maxHops int) (string, error) {
	if maxHops <= 0 {
		maxHops = DefaultMaxSymlinkHops
	}
	current := abs
	for hop := 0; hop < maxHops; hop++ {
		info, err := os.Lstat(current)
		if err != nil {
			return "", fmt.Errorf("change: lstat %s: %w", current, err)
		}
		if info.Mode()&os.ModeSymlink == 0 {
			if !identity.UnderRoot(root, current) {
				return "", fmt.Errorf("change: resolved path escapes root: %s", current)
			}
			return current, nil
		}
		target, err := os.Readlink(current)
		if err != nil {
			return "", fmt.Errorf("change: readlink %s: %w", current, err)
		}
		if !filepath.IsAbs(target) {
			target = filepath.Join(filepath.Dir(current), target)
		}
		current = filepath.Clean(target)
	}
	return "", fmt.Errorf("change: symlink chain exceeds %d hops at %s", maxHops, abs)
}
