package cmd

// Test coverage for config commands

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// isolatedConfigHome routes both HOME and XDG_CONFIG_HOME into a temp
// tree and returns the expected user-config path.
func isolatedConfigHome(t *testing.T) string {
	t.Helper()
	tmpDir := t.TempDir()
	t.Setenv("HOME", tmpDir)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(tmpDir, ".config"))
	return filepath.Join(tmpDir, ".config", "ggrep", "config.yaml")
}

func execConfig(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs(append([]string{"config"}, args...))
	err := cmd.Execute()
	return buf.String(), err
}

func TestConfigCmd_Tree(t *testing.T) {
	root := NewRootCmd()
	configCmd, _, err := root.Find([]string{"config"})
	require.NoError(t, err)

	names := map[string]bool{}
	for _, sc := range configCmd.Commands() {
		names[sc.Name()] = true
	}
	assert.True(t, names["init"])
	assert.True(t, names["show"])
	assert.True(t, names["path"])

	initCmd, _, err := root.Find([]string{"config", "init"})
	require.NoError(t, err)
	assert.NotNil(t, initCmd.Flags().Lookup("force"))

	showCmd, _, err := root.Find([]string{"config", "show"})
	require.NoError(t, err)
	assert.NotNil(t, showCmd.Flags().Lookup("json"))
	assert.NotNil(t, showCmd.Flags().Lookup("source"))
}

func TestConfigInit(t *testing.T) {
	configPath := isolatedConfigHome(t)

	out, err := execConfig(t, "init")
	require.NoError(t, err)
	assert.Contains(t, out, "Created")
	assert.FileExists(t, configPath)

	// Without --force, an existing file is left alone.
	require.NoError(t, os.WriteFile(configPath, []byte("mine: true"), 0o644))
	out, err = execConfig(t, "init")
	require.NoError(t, err)
	assert.Contains(t, out, "already exists")
	assert.Contains(t, out, "--force")

	data, err := os.ReadFile(configPath)
	require.NoError(t, err)
	assert.Equal(t, "mine: true", string(data))
}

func TestConfigPath(t *testing.T) {
	configPath := isolatedConfigHome(t)

	out, err := execConfig(t, "path")
	require.NoError(t, err)
	assert.Contains(t, out, configPath)
}

func TestConfigShow(t *testing.T) {
	isolatedConfigHome(t)

	// Defaults render even with no config files anywhere.
	out, err := execConfig(t, "show")
	require.NoError(t, err)
	assert.Contains(t, out, "embeddings")

	// JSON mode produces parseable output.
	out, err = execConfig(t, "show", "--json")
	require.NoError(t, err)
	var parsed map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &parsed))
	assert.Contains(t, parsed, "embeddings")

	// Unknown source is rejected.
	_, err = execConfig(t, "show", "--source=bogus")
	assert.Error(t, err)
}
