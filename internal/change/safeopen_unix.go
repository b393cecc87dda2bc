//go:build unix

package change

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// rootHandle pins the scan root as a directory file descriptor so every
// subsequent open is relative to it (openat semantics), closing the window
// between resolving the canonical root and opening a file beneath it.
type rootHandle struct {
	fd int
}

func openRootDir(root string) (rootHandle, error) {
	fd, err := unix.Open(root, unix.O_RDONLY|unix.O_DIRECTORY|unix.O_CLOEXEC, 0)
	if err != nil {
		return rootHandle{}, fmt.Errorf("change: open root dir %s: %w", root, err)
	}
	return rootHandle{fd: fd}, nil
}

func (h rootHandle) Close() {
	if h.fd >= 0 {
		_ = unix.Close(h.fd)
	}
}

// openBeneathRoot opens relPath (slash-joined, already validated to resolve
// under root) for reading without ever following a symlink at the final
// path component. It uses openat(2) with O_NOFOLLOW so a TOCTOU swap of the
// final component into a symlink between stat and open is rejected by the
// kernel rather than raced.
func (h rootHandle) openBeneathRoot(relPath string) (*os.File, error) {
	fd, err := unix.Openat(h.fd, relPath, unix.O_RDONLY|unix.O_NOFOLLOW|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("change: openat %s: %w", relPath, err)
	}
	return os.NewFile(uintptr(fd), relPath), nil
}
