package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// useTempConfigHome points the user-config path machinery at a temp
// directory for the duration of the test.
func useTempConfigHome(t *testing.T) string {
	t.Helper()
	tmpDir := t.TempDir()
	orig, had := os.LookupEnv("XDG_CONFIG_HOME")
	t.Cleanup(func() {
		if had {
			os.Setenv("XDG_CONFIG_HOME", orig)
		} else {
			os.Unsetenv("XDG_CONFIG_HOME")
		}
	})
	os.Setenv("XDG_CONFIG_HOME", tmpDir)
	return tmpDir
}

func writeUserConfig(t *testing.T, content string) string {
	t.Helper()
	path := GetUserConfigPath()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestBackupUserConfig(t *testing.T) {
	useTempConfigHome(t)

	// No config: clean no-op, not an error.
	backupPath, err := BackupUserConfig()
	require.NoError(t, err)
	assert.Empty(t, backupPath)

	content := "version: 1\nembeddings:\n  provider: ollama\n"
	writeUserConfig(t, content)

	backupPath, err = BackupUserConfig()
	require.NoError(t, err)
	require.NotEmpty(t, backupPath)
	assert.True(t, strings.Contains(backupPath, BackupSuffix))

	data, err := os.ReadFile(backupPath)
	require.NoError(t, err)
	assert.Equal(t, content, string(data))
}

func TestBackupUserConfig_PrunesOldGenerations(t *testing.T) {
	useTempConfigHome(t)
	configPath := writeUserConfig(t, "version: 1\n")

	// Seed more generations than the limit with distinct timestamps.
	for i := 0; i < MaxBackups+3; i++ {
		stamp := time.Now().Add(time.Duration(-i) * time.Minute).Format("20060102-150405")
		aged := configPath + BackupSuffix + "." + stamp
		require.NoError(t, os.WriteFile(aged, []byte("old"), 0o644))
	}

	_, err := BackupUserConfig()
	require.NoError(t, err)

	backups, err := ListUserConfigBackups()
	require.NoError(t, err)
	assert.LessOrEqual(t, len(backups), MaxBackups+1,
		"pruning keeps the retention bound (the fresh backup may land beside MaxBackups old ones)")
}

func TestListUserConfigBackups(t *testing.T) {
	useTempConfigHome(t)

	// No config dir yet: empty, not an error.
	backups, err := ListUserConfigBackups()
	require.NoError(t, err)
	assert.Empty(t, backups)

	configPath := writeUserConfig(t, "version: 1\n")
	older := configPath + BackupSuffix + ".20200101-000000"
	newer := configPath + BackupSuffix + ".20250101-000000"
	require.NoError(t, os.WriteFile(older, []byte("a"), 0o644))
	require.NoError(t, os.Chtimes(older, time.Now().Add(-time.Hour), time.Now().Add(-time.Hour)))
	require.NoError(t, os.WriteFile(newer, []byte("b"), 0o644))

	backups, err = ListUserConfigBackups()
	require.NoError(t, err)
	require.Len(t, backups, 2)
	assert.Equal(t, newer, backups[0], "newest first")

	// The live config itself is not a backup.
	for _, b := range backups {
		assert.NotEqual(t, configPath, b)
	}
}

func TestRestoreUserConfig(t *testing.T) {
	useTempConfigHome(t)
	configPath := writeUserConfig(t, "version: 1\ncurrent: true\n")

	backup := configPath + BackupSuffix + ".20240101-120000"
	require.NoError(t, os.WriteFile(backup, []byte("version: 1\nrestored: true\n"), 0o644))

	require.NoError(t, RestoreUserConfig(backup))

	data, err := os.ReadFile(configPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "restored: true")

	// The pre-restore config was itself backed up.
	backups, err := ListUserConfigBackups()
	require.NoError(t, err)
	var foundCurrent bool
	for _, b := range backups {
		content, _ := os.ReadFile(b)
		if strings.Contains(string(content), "current: true") {
			foundCurrent = true
		}
	}
	assert.True(t, foundCurrent)

	assert.Error(t, RestoreUserConfig(configPath+".nonexistent"))
}

func TestMergeNewDefaults(t *testing.T) {
	// An older config missing the newer fields picks up defaults and
	// reports what it gained.
	cfg := &Config{
		Version: 1,
		Search: SearchConfig{
			ChunkSize:  1500,
			MaxResults: 20,
		},
	}

	added := cfg.MergeNewDefaults()

	assert.Equal(t, 0.65, cfg.Search.BM25Weight)
	assert.Equal(t, 0.35, cfg.Search.SemanticWeight)
	assert.Equal(t, 60, cfg.Search.RRFConstant)
	assert.NotZero(t, cfg.Embeddings.TimeoutProgression)
	assert.NotZero(t, cfg.Performance.SQLiteCacheMB)
	assert.NotZero(t, cfg.Sessions.MaxSessions)

	for _, field := range []string{
		"search.bm25_weight", "search.semantic_weight", "search.rrf_constant",
		"embeddings.timeout_progression", "performance.sqlite_cache_mb",
	} {
		assert.Contains(t, added, field)
	}

	// A fully populated config gains nothing.
	full := NewConfig()
	assert.Empty(t, full.MergeNewDefaults())
}

func TestWriteYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	cfg := &Config{
		Version: 1,
		Embeddings: EmbeddingsConfig{
			Provider: "ollama",
			Model:    "test-model",
		},
	}
	require.NoError(t, cfg.WriteYAML(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "provider: ollama")
	assert.Contains(t, string(data), "model: test-model")
}
