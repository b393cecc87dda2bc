package scanner

import (
	"bytes"
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/ggrep/ggrep/internal/gitignore"
)

// matcherCacheSize bounds the per-directory gitignore matcher cache so a
// long-lived daemon scanning a monorepo does not grow without limit.
const matcherCacheSize = 1000

// Scanner enumerates the eligible file set of a repository tree: every
// file that is under the root, not ignored, not excluded by pattern, not
// sensitive, within the size cap, and not binary. The change detector
// runs entirely off this enumeration; a file the Scanner skips can never
// produce a chunk row.
type Scanner struct {
	// matchers caches parsed gitignore matchers keyed by the directory
	// holding the .gitignore file.
	matchers *lru.Cache[string, *gitignore.Matcher]
	cacheMu  sync.RWMutex
}

// New returns a Scanner with an empty matcher cache.
func New() (*Scanner, error) {
	cache, err := lru.New[string, *gitignore.Matcher](matcherCacheSize)
	if err != nil {
		return nil, fmt.Errorf("scanner: matcher cache: %w", err)
	}
	return &Scanner{matchers: cache}, nil
}

// Scan streams the eligible files under opts.RootDir. The returned
// channel is closed when the walk (including any initialized submodules)
// finishes or ctx is cancelled. Walk errors are delivered in-band as
// ScanResult.Error so a partial enumeration is still usable.
func (s *Scanner) Scan(ctx context.Context, opts *ScanOptions) (<-chan ScanResult, error) {
	if opts == nil {
		opts = &ScanOptions{}
	}

	absRoot, err := resolveRoot(opts.RootDir)
	if err != nil {
		return nil, err
	}

	results := make(chan ScanResult, workerCount(opts)*10)

	// Submodule discovery happens up front so a failure there degrades
	// the scan to the superproject alone instead of failing it.
	var submodulePaths []string
	if opts.Submodules != nil && opts.Submodules.Enabled {
		submodules, derr := DiscoverSubmodules(absRoot, *opts.Submodules)
		if derr != nil {
			slog.Warn("submodule discovery failed", slog.String("error", derr.Error()))
		} else {
			for _, sm := range submodules {
				if !sm.Initialized {
					slog.Warn("skipping uninitialized submodule",
						slog.String("name", sm.Name), slog.String("path", sm.Path))
					continue
				}
				submodulePaths = append(submodulePaths, sm.Path)
			}
		}
	}

	go func() {
		defer close(results)
		s.walk(ctx, walkSpec{absRoot: absRoot, treeRoot: absRoot}, opts, results)
		for _, smPath := range submodulePaths {
			s.walk(ctx, walkSpec{
				absRoot:   absRoot,
				treeRoot:  filepath.Join(absRoot, smPath),
				keyPrefix: smPath,
			}, opts, results)
		}
	}()

	return results, nil
}

// ScanSubtree enumerates only the files under one subdirectory of the
// root. The watcher's reconcile path uses this to re-check a directory
// whose ignore rules changed without paying for a full-tree walk. Paths
// in the results remain relative to the repository root.
func (s *Scanner) ScanSubtree(ctx context.Context, opts *ScanOptions, subtreePath string) (<-chan ScanResult, error) {
	if opts == nil {
		opts = &ScanOptions{}
	}

	absRoot, err := resolveRoot(opts.RootDir)
	if err != nil {
		return nil, err
	}

	subtreePath = strings.Trim(subtreePath, "/")
	if subtreePath == "" {
		return s.Scan(ctx, opts)
	}

	absSubtree := filepath.Join(absRoot, subtreePath)
	if !strings.HasPrefix(absSubtree, absRoot) {
		return nil, fmt.Errorf("scanner: subtree escapes root: %s", subtreePath)
	}

	info, err := os.Stat(absSubtree)
	if err != nil {
		if os.IsNotExist(err) {
			// A deleted subtree enumerates to nothing; the change
			// detector turns the absence into deletes.
			results := make(chan ScanResult)
			close(results)
			return results, nil
		}
		return nil, fmt.Errorf("scanner: stat subtree: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("scanner: subtree is not a directory: %s", absSubtree)
	}

	results := make(chan ScanResult, workerCount(opts)*10)
	go func() {
		defer close(results)
		s.walk(ctx, walkSpec{absRoot: absRoot, treeRoot: absSubtree, relToRoot: true}, opts, results)
	}()
	return results, nil
}

// walkSpec describes one tree traversal.
//
// treeRoot is where the walk starts. keyPrefix, when set, is prepended
// to paths emitted from a submodule walk so result paths stay
// root-relative. relToRoot marks a subtree walk, where match patterns
// still apply against the root-relative path.
type walkSpec struct {
	absRoot   string
	treeRoot  string
	keyPrefix string
	relToRoot bool
}

// walk is the single traversal routine behind Scan and ScanSubtree.
// Ordering of the checks matters: directory pruning first (so an
// excluded tree is never descended), then per-file exclusion, size cap,
// binary sniff, and include-pattern filtering.
func (s *Scanner) walk(ctx context.Context, spec walkSpec, opts *ScanOptions, results chan<- ScanResult) {
	maxFileSize := opts.MaxFileSize
	if maxFileSize <= 0 {
		maxFileSize = DefaultMaxFileSize
	}

	err := filepath.WalkDir(spec.treeRoot, func(path string, d fs.DirEntry, walkErr error) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if walkErr != nil {
			return nil // unreadable entries are skipped, not fatal
		}

		// matchPath drives pattern evaluation; emitPath is what the
		// caller sees. For a submodule walk they differ: patterns are
		// evaluated against the submodule-relative path, results carry
		// the root-relative one.
		matchRoot := spec.treeRoot
		if spec.relToRoot {
			matchRoot = spec.absRoot
		}
		matchPath, err := filepath.Rel(matchRoot, path)
		if err != nil || matchPath == "." {
			return nil
		}
		emitPath := matchPath
		if spec.keyPrefix != "" {
			emitPath = filepath.Join(spec.keyPrefix, matchPath)
		}

		if d.IsDir() {
			if spec.keyPrefix != "" && d.Name() == ".git" {
				return filepath.SkipDir // nested repo metadata
			}
			if s.excludedDir(matchPath, opts) {
				return filepath.SkipDir
			}
			return nil
		}

		if d.Type()&fs.ModeSymlink != 0 && !opts.FollowSymlinks {
			return nil
		}
		if s.excludedFile(matchPath, matchRoot, opts) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return nil
		}
		if info.Size() > maxFileSize {
			return nil
		}
		if isBinaryFile(path) {
			return nil
		}

		language := DetectLanguage(matchPath)
		if len(opts.IncludePatterns) > 0 && !matchesAny(matchPath, opts.IncludePatterns) {
			return nil
		}

		fi := &FileInfo{
			Path:        emitPath,
			AbsPath:     path,
			Size:        info.Size(),
			ModTime:     info.ModTime(),
			ContentType: DetectContentType(language),
			Language:    language,
			IsGenerated: isGeneratedFile(path),
		}
		select {
		case results <- ScanResult{File: fi}:
		case <-ctx.Done():
			return ctx.Err()
		}
		return nil
	})

	if err != nil && err != context.Canceled {
		select {
		case results <- ScanResult{Error: err}:
		case <-ctx.Done():
		}
	}
}

func resolveRoot(rootDir string) (string, error) {
	if rootDir == "" {
		rootDir = "."
	}
	absRoot, err := filepath.Abs(rootDir)
	if err != nil {
		return "", fmt.Errorf("scanner: absolute root: %w", err)
	}
	info, err := os.Stat(absRoot)
	if err != nil {
		return "", fmt.Errorf("scanner: stat root: %w", err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("scanner: root is not a directory: %s", absRoot)
	}
	return absRoot, nil
}

func workerCount(opts *ScanOptions) int {
	if opts.Workers > 0 {
		return opts.Workers
	}
	return runtime.NumCPU()
}

// excludedDir reports whether a directory is pruned from the walk.
func (s *Scanner) excludedDir(relPath string, opts *ScanOptions) bool {
	for _, pattern := range defaultExcludeDirs {
		if matchDirPattern(relPath, pattern) {
			return true
		}
	}
	for _, pattern := range opts.ExcludePatterns {
		if matchDirPattern(relPath, pattern) {
			return true
		}
	}
	return false
}

// excludedFile reports whether a file fails the eligibility filters:
// sensitive-name patterns, default exclusions, configured exclusions,
// and (when enabled) the repository's gitignore hierarchy.
func (s *Scanner) excludedFile(relPath, absRoot string, opts *ScanOptions) bool {
	baseName := filepath.Base(relPath)
	for _, pattern := range sensitiveFilePatterns {
		if matchFilePattern(baseName, relPath, pattern) {
			return true
		}
	}
	for _, pattern := range defaultExcludeFiles {
		if matchFilePattern(baseName, relPath, pattern) {
			return true
		}
	}
	for _, pattern := range opts.ExcludePatterns {
		if matchFilePattern(baseName, relPath, pattern) {
			return true
		}
	}
	if opts.RespectGitignore && s.isGitignored(relPath, absRoot) {
		return true
	}
	return false
}

// matchDirPattern matches a directory path against one exclusion
// pattern. Three forms are understood: "**/name/**" (name anywhere in
// the path), "dir/**" (the directory and everything below it), and a
// bare prefix.
func matchDirPattern(relPath, pattern string) bool {
	if strings.HasPrefix(pattern, "**/") {
		suffix := strings.TrimPrefix(pattern, "**/")
		suffix = strings.TrimSuffix(suffix, "/**")
		for _, part := range strings.Split(relPath, string(filepath.Separator)) {
			if part == suffix {
				return true
			}
		}
		return false
	}

	if strings.HasSuffix(pattern, "/**") {
		prefix := strings.TrimSuffix(pattern, "/**")
		return relPath == prefix || strings.HasPrefix(relPath, prefix+string(filepath.Separator))
	}

	return relPath == pattern || strings.HasPrefix(relPath, pattern+string(filepath.Separator))
}

// matchFilePattern matches one file against one pattern. The pattern
// grammar is the subset the config file documents: "dir/**",
// "dir/name*.ext", "**/*.ext", "**/name", "*contains*", and prefix or
// suffix globs.
func matchFilePattern(baseName, relPath, pattern string) bool {
	sep := string(filepath.Separator)

	// dir/**; anything below dir.
	if strings.HasSuffix(pattern, "/**") && !strings.HasPrefix(pattern, "**/") {
		prefix := strings.TrimSuffix(pattern, "/**")
		return strings.HasPrefix(relPath, prefix+sep)
	}

	// dir/name*.ext; glob filename inside one exact directory.
	if strings.Contains(pattern, sep) && strings.Contains(pattern, "*") && !strings.HasPrefix(pattern, "**/") {
		if filepath.Dir(relPath) != filepath.Dir(pattern) {
			return false
		}
		matched, err := filepath.Match(filepath.Base(pattern), baseName)
		return err == nil && matched
	}

	// **/suffix; extension or name anywhere in the tree.
	if strings.HasPrefix(pattern, "**/") {
		suffix := strings.TrimPrefix(pattern, "**/")
		if strings.HasPrefix(suffix, "*.") {
			return strings.HasSuffix(baseName, strings.TrimPrefix(suffix, "*"))
		}
		parts := strings.Split(relPath, sep)
		for i, part := range parts {
			if part == suffix || (i < len(parts)-1 && matchDirPattern(strings.Join(parts[:i+1], sep), pattern)) {
				return true
			}
		}
		return false
	}

	// *contains*; case-insensitive substring of the basename.
	if strings.HasPrefix(pattern, "*") && strings.HasSuffix(pattern, "*") {
		middle := strings.TrimSuffix(strings.TrimPrefix(pattern, "*"), "*")
		return strings.Contains(strings.ToLower(baseName), strings.ToLower(middle))
	}

	// .env* and friends; dotfile prefix.
	if strings.HasSuffix(pattern, "*") && strings.HasPrefix(pattern, ".") {
		return strings.HasPrefix(baseName, strings.TrimSuffix(pattern, "*"))
	}

	// *suffix / prefix*.
	if strings.HasPrefix(pattern, "*") {
		return strings.HasSuffix(baseName, strings.TrimPrefix(pattern, "*"))
	}
	if strings.HasSuffix(pattern, "*") {
		return strings.HasPrefix(baseName, strings.TrimSuffix(pattern, "*"))
	}

	return baseName == pattern
}

func matchesAny(relPath string, patterns []string) bool {
	baseName := filepath.Base(relPath)
	for _, pattern := range patterns {
		if matchFilePattern(baseName, relPath, pattern) {
			return true
		}
	}
	return false
}

// isBinaryFile sniffs the first 512 bytes for a NUL, the same heuristic
// git uses. Unreadable files report false; the change detector will
// surface the read error itself.
func isBinaryFile(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer func() { _ = f.Close() }()

	buf := make([]byte, 512)
	n, err := f.Read(buf)
	if err != nil {
		return false
	}
	return bytes.Contains(buf[:n], []byte{0})
}

var generatedMarkers = []string{
	"// Code generated",
	"// DO NOT EDIT",
	"/* DO NOT EDIT",
	"# Generated by",
	"<!-- AUTO-GENERATED -->",
	"// Generated by",
	"/* Generated by",
}

// isGeneratedFile checks the first KiB for conventional generated-file
// markers. Generated files stay in the eligible set but carry the flag
// so ranking can de-emphasize them.
func isGeneratedFile(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer func() { _ = f.Close() }()

	buf := make([]byte, 1024)
	n, err := f.Read(buf)
	if err != nil {
		return false
	}
	content := string(buf[:n])
	for _, marker := range generatedMarkers {
		if strings.Contains(content, marker) {
			return true
		}
	}
	return false
}

// isGitignored walks the directory chain from the root down to the
// file, consulting the .gitignore at each level. Per-user global
// ignores are deliberately not consulted: two developers on the same
// repository must compute the same eligible set.
func (s *Scanner) isGitignored(relPath, absRoot string) bool {
	rootMatcher := s.matcherFor(absRoot, "")
	if rootMatcher != nil && rootMatcher.Match(relPath, false) {
		return true
	}

	currentDir := absRoot
	currentBase := ""
	for _, part := range strings.Split(filepath.Dir(relPath), string(filepath.Separator)) {
		if part == "." {
			continue
		}
		currentDir = filepath.Join(currentDir, part)
		currentBase = filepath.Join(currentBase, part)

		matcher := s.matcherFor(currentDir, currentBase)
		if matcher != nil && matcher.Match(relPath, false) {
			return true
		}
	}
	return false
}

// matcherFor returns the cached matcher for dir's .gitignore, parsing
// and caching it on first use. A directory without a .gitignore caches
// nothing and returns nil.
func (s *Scanner) matcherFor(dir, base string) *gitignore.Matcher {
	s.cacheMu.RLock()
	matcher, ok := s.matchers.Get(dir)
	s.cacheMu.RUnlock()
	if ok {
		return matcher
	}

	path := filepath.Join(dir, ".gitignore")
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	matcher = gitignore.New()
	if err := matcher.AddFromFile(path, base); err != nil {
		return nil
	}

	s.cacheMu.Lock()
	s.matchers.Add(dir, matcher)
	s.cacheMu.Unlock()
	return matcher
}

// InvalidateGitignoreCache drops all cached matchers. The watcher calls
// this when any .gitignore changes, before triggering reconciliation,
// so the next scan re-reads patterns from disk.
func (s *Scanner) InvalidateGitignoreCache() {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	s.matchers.Purge()
}

// defaultExcludeDirs are pruned unconditionally. Dependency trees and
// build output dominate file counts without contributing searchable
// source; the credential directories are excluded for the same reason
// sensitiveFilePatterns exists.
var defaultExcludeDirs = []string{
	"**/node_modules/**",
	"**/.git/**",
	"**/vendor/**",
	"**/__pycache__/**",
	"**/dist/**",
	"**/build/**",
	"**/.aws/**",
	"**/.gcp/**",
	"**/.azure/**",
	"**/.ssh/**",
}

// defaultExcludeFiles are machine-written artifacts that add index bulk
// with no retrieval value.
var defaultExcludeFiles = []string{
	"**/*.min.js",
	"**/*.min.css",
	"**/package-lock.json",
	"**/yarn.lock",
	"**/pnpm-lock.yaml",
	"**/go.sum",
}

// sensitiveFilePatterns are never indexed regardless of configuration.
// Chunk text is stored verbatim in segment artifacts and returned in
// query snippets, so a credential file that slipped through would be
// readable by every client of the store.
var sensitiveFilePatterns = []string{
	".env",
	".env.*",
	"*.pem",
	"*.key",
	"*.p12",
	"*.pfx",
	"*credentials*",
	"*secrets*",
	"*password*",
	".netrc",
	".npmrc",
	".pypirc",
	"id_rsa",
	"id_dsa",
	"id_ecdsa",
	"id_ed25519",
}
