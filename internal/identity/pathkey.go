package identity

import (
	"path/filepath"
	"strings"
	"unicode/utf8"
)

// PathKey normalizes an absolute path under root into the canonical
// repository-relative key: slash-normalized, no "./", no "..", UTF-8.
// Callers are expected to have already verified abs is under root.
func PathKey(root, abs string) (string, error) {
	rel, err := filepath.Rel(root, abs)
	if err != nil {
		return "", err
	}
	rel = filepath.ToSlash(rel)
	rel = strings.TrimPrefix(rel, "./")
	if !utf8.ValidString(rel) {
		rel = strings.ToValidUTF8(rel, "�")
	}
	return rel, nil
}

// PathKeyCI returns the case-folded form of a path_key, used only for
// collision detection, never for identity or lookup.
func PathKeyCI(pathKey string) string {
	return strings.ToLower(pathKey)
}

// UnderRoot reports whether the resolved absolute path stays under root
// after symlink resolution, guarding against out-of-root escapes.
func UnderRoot(root, resolved string) bool {
	root = filepath.Clean(root)
	resolved = filepath.Clean(resolved)
	if resolved == root {
		return true
	}
	return strings.HasPrefix(resolved, root+string(filepath.Separator))
}
