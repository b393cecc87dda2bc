package gitignore

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// matcherWith builds a Matcher over a pattern list.
func matcherWith(patterns ...string) *Matcher {
	m := New()
	for _, p := range patterns {
		m.AddPattern(p)
	}
	return m
}

func TestMatch_PatternForms(t *testing.T) {
	cases := []struct {
		name     string
		patterns []string
		path     string
		isDir    bool
		want     bool
	}{
		// Simple and wildcard forms.
		{"exact name", []string{"secret.txt"}, "secret.txt", false, true},
		{"name anywhere", []string{"secret.txt"}, "deep/secret.txt", false, true},
		{"extension glob", []string{"*.log"}, "error.log", false, true},
		{"extension glob nested", []string{"*.log"}, "logs/error.log", false, true},
		{"glob misses other ext", []string{"*.log"}, "error.txt", false, false},
		{"question mark", []string{"file?.go"}, "file1.go", false, true},
		{"question mark two chars", []string{"file?.go"}, "file10.go", false, false},

		// Double star.
		{"doublestar middle", []string{"a/**/b"}, "a/x/y/b", false, true},
		{"doublestar prefix", []string{"**/node_modules"}, "x/node_modules", true, true},
		{"doublestar suffix", []string{"build/**"}, "build/out/app.js", false, true},

		// Rooted.
		{"rooted matches at root", []string{"/build"}, "build", true, true},
		{"rooted misses nested", []string{"/build"}, "src/build", true, false},

		// Directory-only.
		{"dir pattern matches dir", []string{"temp/"}, "temp", true, true},
		{"dir pattern misses file", []string{"temp/"}, "temp", false, false},
		{"dir pattern matches contents", []string{"temp/"}, "temp/x.go", false, true},

		// Paths with separators.
		{"path pattern", []string{"docs/build"}, "docs/build", true, true},
		{"path pattern misses sibling", []string{"docs/build"}, "src/build", true, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			m := matcherWith(tc.patterns...)
			assert.Equal(t, tc.want, m.Match(tc.path, tc.isDir))
		})
	}
}

func TestMatch_NegationOrder(t *testing.T) {
	// Last matching rule wins, per gitignore semantics.
	m := matcherWith("*.log", "!important.log")
	assert.True(t, m.Match("noise.log", false))
	assert.False(t, m.Match("important.log", false))

	// Re-ignoring after a negation flips it back.
	m = matcherWith("*.log", "!keep.log", "keep.log")
	assert.True(t, m.Match("keep.log", false))
}

func TestMatch_EscapedCharacters(t *testing.T) {
	m := matcherWith(`\#notcomment`)
	assert.True(t, m.Match("#notcomment", false))

	m = matcherWith(`\!literal`)
	assert.True(t, m.Match("!literal", false))
}

func TestAddFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".gitignore")
	require.NoError(t, os.WriteFile(path, []byte("*.tmp\n# comment\n\nbuild/\n"), 0o644))

	m := New()
	require.NoError(t, m.AddFromFile(path, ""))
	assert.True(t, m.Match("scratch.tmp", false))
	assert.True(t, m.Match("build", true))
	assert.False(t, m.Match("main.go", false))

	// A missing file is an error the caller decides about.
	assert.Error(t, m.AddFromFile(filepath.Join(dir, "absent"), ""))
}

func TestAddFromFile_BaseScopesPatterns(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".gitignore")
	require.NoError(t, os.WriteFile(path, []byte("*.gen\n"), 0o644))

	m := New()
	require.NoError(t, m.AddFromFile(path, "src"))

	// The nested file's rules apply under its own directory only.
	assert.True(t, m.Match("src/api.gen", false))
	assert.True(t, m.Match("src/deep/api.gen", false))
	assert.False(t, m.Match("api.gen", false))
	assert.False(t, m.Match("other/api.gen", false))
}

func TestMatch_RepositoryShape(t *testing.T) {
	// One matcher, the rule set a real repo would carry.
	m := matcherWith(
		"node_modules/",
		"*.log",
		"/dist",
		".env*",
		"!.env.example",
		"coverage/",
		"**/__pycache__/",
	)

	ignored := []struct {
		path  string
		isDir bool
	}{
		{"node_modules", true},
		{"node_modules/lodash/index.js", false},
		{"debug.log", false},
		{"logs/old/trace.log", false},
		{"dist", true},
		{".env", false},
		{".env.production", false},
		{"coverage", true},
		{"pkg/__pycache__", true},
	}
	for _, tc := range ignored {
		assert.True(t, m.Match(tc.path, tc.isDir), "should ignore %s", tc.path)
	}

	kept := []struct {
		path  string
		isDir bool
	}{
		{"src/main.go", false},
		{"src/dist", true}, // /dist is rooted
		{".env.example", false},
		{"README.md", false},
	}
	for _, tc := range kept {
		assert.False(t, m.Match(tc.path, tc.isDir), "should keep %s", tc.path)
	}
}

func TestMatch_ThreadSafety(t *testing.T) {
	m := matcherWith("*.log")

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(add bool) {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				if add && j%50 == 0 {
					m.AddPattern("*.tmp")
				}
				m.Match("x.log", false)
				m.Match("dir/y.tmp", false)
			}
		}(i%2 == 0)
	}
	wg.Wait()
}

func TestParsePatterns(t *testing.T) {
	got := ParsePatterns("*.log\n# comment\n\n  \nbuild/\n!keep.log\n")
	assert.Equal(t, []string{"*.log", "build/", "!keep.log"}, got)
	assert.Empty(t, ParsePatterns("# only comments\n\n"))
}

// Pattern Diff Utilities

func TestDiffPatterns(t *testing.T) {
	added, removed := DiffPatterns("*.log\nbuild/\n", "*.log\ndist/\n")
	assert.Equal(t, []string{"dist/"}, added)
	assert.Equal(t, []string{"build/"}, removed)

	added, removed = DiffPatterns("*.log\n", "*.log\n# new comment\n")
	assert.Empty(t, added, "comment-only edits are no diff")
	assert.Empty(t, removed)

	added, removed = DiffPatterns("", "*.tmp\n")
	assert.Equal(t, []string{"*.tmp"}, added)
	assert.Empty(t, removed)

	added, removed = DiffPatterns("*.tmp\n", "")
	assert.Empty(t, added)
	assert.Equal(t, []string{"*.tmp"}, removed)
}

func TestMatchesAnyPattern(t *testing.T) {
	patterns := []string{"*.log", "build/"}
	assert.True(t, MatchesAnyPattern("x.log", patterns))
	assert.True(t, MatchesAnyPattern("build/out.js", patterns))
	assert.False(t, MatchesAnyPattern("main.go", patterns))
	assert.False(t, MatchesAnyPattern("main.go", nil))
}
