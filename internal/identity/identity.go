// Package identity resolves the canonical root of a repository and derives
// the deterministic identifiers that anchor a store: store_id,
// config_fingerprint, and ignore_fingerprint.
package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Identity is the resolved identity of a tracked repository.
type Identity struct {
	CanonicalRoot    string
	StoreID          string
	ConfigFingerprint string
	IgnoreFingerprint string
}

// ConfigInputs carries every input that shapes the semantic form of indexed
// rows. Any change here must change ConfigFingerprint.
type ConfigInputs struct {
	ChunkerVersion    string
	EmbedModelID      string
	EmbedDimensions   int
	EmbedPrefixQuery  string
	EmbedPrefixDoc    string
	EmbedMaxTokens    int
	MaxFileSizeBytes  int64
	MaxChunksPerFile  int
	SchemaVersion     int
	GrammarURLHash    string
	RepoConfigHash    string
}

// Resolve walks up from requestedPath looking for a source-control root
// (.git), falling back to the user-provided path, and resolves the result
// through symlinks so the canonical root is stable for the life of a
// service instance.
func Resolve(requestedPath string) (string, error) {
	abs, err := filepath.Abs(requestedPath)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path: %w", err)
	}

	real, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return "", fmt.Errorf("resolve symlinks: %w", err)
	}

	info, err := os.Stat(real)
	if err != nil {
		return "", fmt.Errorf("stat canonical root: %w", err)
	}
	if !info.IsDir() {
		real = filepath.Dir(real)
	}

	dir := real
	for {
		if dirExists(filepath.Join(dir, ".git")) {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return real, nil
}

// StoreID derives the on-disk directory name for a (canonical_root,
// config_fingerprint) identity: <slug>__<hash(root)>__<hash(config)>,
// truncated for filesystem safety.
func StoreID(canonicalRoot, configFingerprint string) string {
	slug := slugify(filepath.Base(canonicalRoot))
	rootHash := shortHash(canonicalRoot)
	cfgHash := shortHash(configFingerprint)
	id := fmt.Sprintf("%s__%s__%s", slug, rootHash, cfgHash)
	const maxLen = 120
	if len(id) > maxLen {
		id = id[:maxLen]
	}
	return id
}

// ConfigFingerprint hashes every input that would change the semantic shape
// of indexed rows. It must be stable across runs for identical logical
// inputs.
func ConfigFingerprint(in ConfigInputs) string {
	h := sha256.New()
	fmt.Fprintf(h, "chunker=%s\n", in.ChunkerVersion)
	fmt.Fprintf(h, "model=%s\n", in.EmbedModelID)
	fmt.Fprintf(h, "dims=%d\n", in.EmbedDimensions)
	fmt.Fprintf(h, "prefix_query=%s\n", in.EmbedPrefixQuery)
	fmt.Fprintf(h, "prefix_doc=%s\n", in.EmbedPrefixDoc)
	fmt.Fprintf(h, "max_tokens=%d\n", in.EmbedMaxTokens)
	fmt.Fprintf(h, "max_file_size=%d\n", in.MaxFileSizeBytes)
	fmt.Fprintf(h, "max_chunks_per_file=%d\n", in.MaxChunksPerFile)
	fmt.Fprintf(h, "schema=%d\n", in.SchemaVersion)
	fmt.Fprintf(h, "grammar=%s\n", in.GrammarURLHash)
	fmt.Fprintf(h, "repo_config=%s\n", in.RepoConfigHash)
	return hex.EncodeToString(h.Sum(nil))
}

// IgnoreFingerprint sorts ignore files by path_key byte order, then hashes
// (path_key \0 file_bytes) in order, so the result is independent of
// map iteration order. The path_key is part of the hash: moving an
// ignore file to another directory changes the fingerprint.
func IgnoreFingerprint(files map[string][]byte) string {
	keys := make([]string, 0, len(files))
	for k := range files {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	h := sha256.New()
	for _, k := range keys {
		h.Write([]byte(k))
		h.Write([]byte{0})
		h.Write(files[k])
	}
	return hex.EncodeToString(h.Sum(nil))
}

func shortHash(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])[:16]
}

func slugify(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteByte('-')
		}
	}
	out := strings.Trim(b.String(), "-")
	if out == "" {
		return "root"
	}
	return out
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
