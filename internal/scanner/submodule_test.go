package scanner

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ggrep/ggrep/internal/config"
)

func TestParseGitmodules(t *testing.T) {
	content := []byte(`
[submodule "libs/utils"]
	path = libs/utils
	url = https://example.com/utils.git
	branch = main

# a comment
[submodule "tools"]
    path   =   tools
    url = git@example.com:tools.git
`)
	subs, err := ParseGitmodules(content)
	require.NoError(t, err)
	require.Len(t, subs, 2)

	assert.Equal(t, "libs/utils", subs[0].Name)
	assert.Equal(t, "libs/utils", subs[0].Path)
	assert.Equal(t, "https://example.com/utils.git", subs[0].URL)
	assert.Equal(t, "main", subs[0].Branch)

	assert.Equal(t, "tools", subs[1].Name)
	assert.Equal(t, "tools", subs[1].Path)
	assert.Empty(t, subs[1].Branch)
}

func TestParseGitmodules_EmptyAndPathless(t *testing.T) {
	subs, err := ParseGitmodules(nil)
	require.NoError(t, err)
	assert.Empty(t, subs)

	// A section without a path is dropped, neighbors survive.
	subs, err = ParseGitmodules([]byte(`
[submodule "broken"]
	url = https://example.com/broken.git
[submodule "ok"]
	path = ok
	url = https://example.com/ok.git
`))
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, "ok", subs[0].Name)
}

func TestIsInitialized(t *testing.T) {
	root := t.TempDir()

	populated := filepath.Join(root, "populated")
	writeTree(t, populated, map[string]string{"main.go": "package main\n"})
	assert.True(t, IsInitialized(populated))

	empty := filepath.Join(root, "empty")
	require.NoError(t, os.MkdirAll(empty, 0o755))
	assert.False(t, IsInitialized(empty))

	// .git alone does not make a checkout.
	gitOnly := filepath.Join(root, "gitonly")
	require.NoError(t, os.MkdirAll(filepath.Join(gitOnly, ".git"), 0o755))
	assert.False(t, IsInitialized(gitOnly))

	assert.False(t, IsInitialized(filepath.Join(root, "missing")))
}

func TestGetCommitHash_GitdirIndirection(t *testing.T) {
	root := t.TempDir()
	smPath := filepath.Join(root, "libs", "utils")
	modDir := filepath.Join(root, ".git", "modules", "libs", "utils")
	require.NoError(t, os.MkdirAll(smPath, 0o755))
	require.NoError(t, os.MkdirAll(modDir, 0o755))

	const hash = "0123456789abcdef0123456789abcdef01234567"
	require.NoError(t, os.WriteFile(filepath.Join(modDir, "HEAD"), []byte(hash+"\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(smPath, ".git"),
		[]byte("gitdir: ../../.git/modules/libs/utils\n"), 0o644))

	got, err := GetCommitHash(root, smPath)
	require.NoError(t, err)
	assert.Equal(t, hash, got)
}

func TestGetCommitHash_SymbolicRefRejected(t *testing.T) {
	root := t.TempDir()
	smPath := filepath.Join(root, "sm")
	modDir := filepath.Join(root, ".git", "modules", "sm")
	require.NoError(t, os.MkdirAll(smPath, 0o755))
	require.NoError(t, os.MkdirAll(modDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(modDir, "HEAD"),
		[]byte("ref: refs/heads/main\n"), 0o644))

	_, err := GetCommitHash(root, smPath)
	assert.Error(t, err)
}

func TestMatchesPattern(t *testing.T) {
	cases := []struct {
		name, path       string
		include, exclude []string
		want             bool
	}{
		{"utils", "libs/utils", nil, nil, true},
		{"utils", "libs/utils", []string{"libs/*"}, nil, true},
		{"utils", "libs/utils", []string{"apps/*"}, nil, false},
		{"utils", "libs/utils", nil, []string{"libs/*"}, false},
		{"utils", "libs/utils", []string{"libs/*"}, []string{"*utils*"}, false}, // exclude wins
		{"vendored", "third_party/vendored", nil, []string{"*/vendored"}, false},
		{"exact", "exact", []string{"exact"}, nil, true},
	}
	for _, tc := range cases {
		got := MatchesPattern(tc.name, tc.path, tc.include, tc.exclude)
		assert.Equal(t, tc.want, got, "name=%q path=%q inc=%v exc=%v", tc.name, tc.path, tc.include, tc.exclude)
	}
}

// fakeSubmodule declares sm in root's .gitmodules and, when populated,
// gives it content and a modules HEAD so it reads as initialized.
func fakeSubmodule(t *testing.T, root, name string, populated bool) {
	t.Helper()
	gm := filepath.Join(root, ".gitmodules")
	entry := "[submodule \"" + name + "\"]\n\tpath = " + name + "\n\turl = https://example.com/" + name + ".git\n"
	existing, _ := os.ReadFile(gm)
	require.NoError(t, os.WriteFile(gm, append(existing, entry...), 0o644))

	smDir := filepath.Join(root, name)
	require.NoError(t, os.MkdirAll(smDir, 0o755))
	if populated {
		writeTree(t, smDir, map[string]string{"lib.go": "package " + filepath.Base(name) + "\n"})
	}
}

func TestDiscoverSubmodules(t *testing.T) {
	root := t.TempDir()
	fakeSubmodule(t, root, "active", true)
	fakeSubmodule(t, root, "hollow", false)

	subs, err := DiscoverSubmodules(root, config.SubmoduleConfig{Enabled: true})
	require.NoError(t, err)
	require.Len(t, subs, 2)

	byName := map[string]SubmoduleInfo{}
	for _, sm := range subs {
		byName[sm.Name] = sm
	}
	assert.True(t, byName["active"].Initialized)
	assert.False(t, byName["hollow"].Initialized)
}

func TestDiscoverSubmodules_DisabledOrAbsent(t *testing.T) {
	root := t.TempDir()
	fakeSubmodule(t, root, "active", true)

	subs, err := DiscoverSubmodules(root, config.SubmoduleConfig{Enabled: false})
	require.NoError(t, err)
	assert.Empty(t, subs)

	subs, err = DiscoverSubmodules(t.TempDir(), config.SubmoduleConfig{Enabled: true})
	require.NoError(t, err)
	assert.Empty(t, subs)
}

func TestDiscoverSubmodules_ExcludeFilter(t *testing.T) {
	root := t.TempDir()
	fakeSubmodule(t, root, "keep", true)
	fakeSubmodule(t, root, "skip", true)

	subs, err := DiscoverSubmodules(root, config.SubmoduleConfig{
		Enabled: true,
		Exclude: []string{"skip"},
	})
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, "keep", subs[0].Name)
}

func TestDiscoverSubmodules_RecursiveWithCycle(t *testing.T) {
	root := t.TempDir()
	fakeSubmodule(t, root, "outer", true)

	// outer declares inner, and inner declares a cycle back to root.
	outer := filepath.Join(root, "outer")
	require.NoError(t, os.WriteFile(filepath.Join(outer, ".gitmodules"),
		[]byte("[submodule \"inner\"]\n\tpath = inner\n\turl = https://example.com/inner.git\n"), 0o644))
	writeTree(t, filepath.Join(outer, "inner"), map[string]string{"inner.go": "package inner\n"})
	require.NoError(t, os.WriteFile(filepath.Join(outer, "inner", ".gitmodules"),
		[]byte("[submodule \"back\"]\n\tpath = ../..\n\turl = https://example.com/back.git\n"), 0o644))

	subs, err := DiscoverSubmodules(root, config.SubmoduleConfig{Enabled: true, Recursive: true})
	require.NoError(t, err)

	var paths []string
	for _, sm := range subs {
		paths = append(paths, sm.Path)
	}
	assert.Contains(t, paths, "outer")
	assert.Contains(t, paths, filepath.Join("outer", "inner"))
	// The cycle must terminate rather than recurse forever; the
	// back-edge may appear once but never twice.
	seen := map[string]int{}
	for _, p := range paths {
		seen[p]++
		assert.LessOrEqual(t, seen[p], 1, "path %s discovered twice", p)
	}
}

func TestScan_WalksInitializedSubmodules(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{"main.go": "package main\n"})
	fakeSubmodule(t, root, "libs", true)

	s, err := New()
	require.NoError(t, err)
	results, err := s.Scan(context.Background(), &ScanOptions{
		RootDir:    root,
		Submodules: &config.SubmoduleConfig{Enabled: true},
	})
	require.NoError(t, err)

	found := map[string]bool{}
	for res := range results {
		require.NoError(t, res.Error)
		found[res.File.Path] = true
	}
	assert.True(t, found["main.go"])
	// Submodule files carry root-relative paths.
	assert.True(t, found[filepath.Join("libs", "lib.go")])
}

func TestScan_SubmodulesDisabledStaysOut(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{"main.go": "package main\n"})
	fakeSubmodule(t, root, "libs", true)

	found := scanTree(t, root, nil)
	assert.Contains(t, found, "main.go")
	// Without submodule discovery the directory is still walked as
	// plain files; it is not pruned. What matters is that disabled
	// discovery adds no second walk with submodule semantics.
	assert.Contains(t, found, filepath.Join("libs", "lib.go"))
}
