package cmd

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// initProject runs `ggrep init --config-only` (plus extra args) inside
// a fresh project directory and returns its path. PATH is emptied so
// the `claude` CLI is never found and init falls back to writing
// .mcp.json directly.
func initProject(t *testing.T, extra ...string) string {
	t.Helper()
	dir := t.TempDir()

	origWd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(origWd) })
	t.Setenv("PATH", "")
	t.Setenv("HOME", t.TempDir())

	cmd := newInitCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(append([]string{"--config-only", "--offline"}, extra...))
	_ = cmd.Execute()
	return dir
}

func TestInitCmd_WritesProjectArtifacts(t *testing.T) {
	dir := initProject(t)

	assert.FileExists(t, filepath.Join(dir, ".mcp.json"))
	assert.FileExists(t, filepath.Join(dir, ".ggrep.yaml"))
	assert.FileExists(t, filepath.Join(dir, "CLAUDE.md"))
	assert.FileExists(t, filepath.Join(dir, ".gitignore"))
}

func TestInitCmd_MCPJSONShape(t *testing.T) {
	dir := initProject(t)

	data, err := os.ReadFile(filepath.Join(dir, ".mcp.json"))
	require.NoError(t, err)

	var cfg MCPConfig
	require.NoError(t, json.Unmarshal(data, &cfg))
	server, ok := cfg.MCPServers["ggrep"]
	require.True(t, ok, "server entry must be named ggrep")

	// Clients need all three of: stdio type, an absolute command, and
	// cwd (the server must resolve the project, not the client's wd).
	assert.Equal(t, "stdio", server.Type)
	assert.NotEmpty(t, server.Command)
	assert.Equal(t, dir, server.Cwd)
}

func TestValidateExistingMCPConfig(t *testing.T) {
	dir := t.TempDir()
	mcpPath := filepath.Join(dir, ".mcp.json")

	write := func(cfg MCPConfig) {
		data, err := json.MarshalIndent(cfg, "", "  ")
		require.NoError(t, err)
		require.NoError(t, os.WriteFile(mcpPath, data, 0o644))
	}

	// A config missing cwd must be flagged.
	write(MCPConfig{MCPServers: map[string]MCPServerConfig{
		"ggrep": {Type: "stdio", Command: "/usr/local/bin/ggrep"},
	}})
	valid, problems := validateExistingMCPConfig(mcpPath)
	assert.False(t, valid)
	assert.NotEmpty(t, problems)

	// A complete config passes untouched.
	write(MCPConfig{MCPServers: map[string]MCPServerConfig{
		"ggrep": {Type: "stdio", Command: "/usr/local/bin/ggrep", Cwd: dir},
	}})
	valid, problems = validateExistingMCPConfig(mcpPath)
	assert.True(t, valid)
	assert.Empty(t, problems)
}

func TestInitCmd_PreservesExistingGgrepYAML(t *testing.T) {
	dir := t.TempDir()
	custom := "version: 1\npaths:\n  exclude:\n    - \"mine/**\"\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".ggrep.yaml"), []byte(custom), 0o644))

	origWd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(origWd) })
	t.Setenv("PATH", "")
	t.Setenv("HOME", t.TempDir())

	cmd := newInitCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--config-only", "--offline"})
	_ = cmd.Execute()

	data, err := os.ReadFile(filepath.Join(dir, ".ggrep.yaml"))
	require.NoError(t, err)
	assert.Equal(t, custom, string(data), "user config must survive a re-init without --force")
}

func TestEnsureGgrepGuide_Idempotent(t *testing.T) {
	dir := t.TempDir()
	claudePath := filepath.Join(dir, "CLAUDE.md")

	// First call creates the file with the guide.
	changed, err := ensureGgrepGuide(claudePath)
	require.NoError(t, err)
	assert.True(t, changed)
	data, err := os.ReadFile(claudePath)
	require.NoError(t, err)
	assert.Contains(t, string(data), ggrepStartMarker)

	// Second call leaves it alone.
	changed, err = ensureGgrepGuide(claudePath)
	require.NoError(t, err)
	assert.False(t, changed)

	// Existing user content is appended to, never replaced.
	userDoc := "# My Project\n\nHand-written notes.\n"
	require.NoError(t, os.WriteFile(claudePath, []byte(userDoc), 0o644))
	changed, err = ensureGgrepGuide(claudePath)
	require.NoError(t, err)
	assert.True(t, changed)
	data, err = os.ReadFile(claudePath)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), userDoc))
	assert.Contains(t, string(data), ggrepStartMarker)
}

func TestHasGgrepIgnore(t *testing.T) {
	cases := []struct {
		content string
		want    bool
	}{
		{".ggrep/\n", true},
		{"node_modules/\n.ggrep/\n", true},
		{".ggrep\n", true},
		{"# .ggrep/\n", false}, // commented out does not count
		{"other/\n", false},
		{"", false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, hasGgrepIgnore(tc.content), "content %q", tc.content)
	}
}

func TestEnsureGitignore(t *testing.T) {
	// Creates the file when absent.
	dir := t.TempDir()
	changed, err := ensureGitignore(dir)
	require.NoError(t, err)
	assert.True(t, changed)
	data, err := os.ReadFile(filepath.Join(dir, ".gitignore"))
	require.NoError(t, err)
	assert.Contains(t, string(data), ".ggrep/")

	// Appends without clobbering existing rules.
	dir = t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".gitignore"), []byte("node_modules/\n"), 0o644))
	changed, err = ensureGitignore(dir)
	require.NoError(t, err)
	assert.True(t, changed)
	data, err = os.ReadFile(filepath.Join(dir, ".gitignore"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "node_modules/")
	assert.Contains(t, string(data), ".ggrep/")

	// Idempotent once present.
	changed, err = ensureGitignore(dir)
	require.NoError(t, err)
	assert.False(t, changed)

	// A file with no trailing newline still gains a clean entry.
	dir = t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".gitignore"), []byte("dist/"), 0o644))
	_, err = ensureGitignore(dir)
	require.NoError(t, err)
	data, err = os.ReadFile(filepath.Join(dir, ".gitignore"))
	require.NoError(t, err)
	assert.NotContains(t, string(data), "dist/.ggrep")
}

func TestFindGgrepBinary(t *testing.T) {
	path, err := findGgrepBinary()
	// Running under `go test`, the executable exists even if it is the
	// test binary; the contract is an absolute path or an error.
	if err == nil {
		assert.True(t, filepath.IsAbs(path))
	}
}
