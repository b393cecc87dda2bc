package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// silenceUserConfig keeps the developer's real user config out of Load.
func silenceUserConfig(t *testing.T) string {
	t.Helper()
	tmp := t.TempDir()
	t.Setenv("HOME", tmp)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(tmp, ".config"))
	return tmp
}

func writeProjectConfig(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func TestNewConfig_Defaults(t *testing.T) {
	cfg := NewConfig()

	assert.Equal(t, 1, cfg.Version)

	// Search defaults: BM25 carries more weight than the vector leg.
	assert.Equal(t, 0.65, cfg.Search.BM25Weight)
	assert.Equal(t, 0.35, cfg.Search.SemanticWeight)
	assert.InDelta(t, 1.0, cfg.Search.BM25Weight+cfg.Search.SemanticWeight, 1e-9,
		"weights must sum to one")
	assert.Equal(t, 60, cfg.Search.RRFConstant)
	assert.Equal(t, "sqlite", cfg.Search.BM25Backend)

	assert.Equal(t, "qwen3-embedding:8b", cfg.Embeddings.Model)
	assert.Equal(t, 32, cfg.Embeddings.BatchSize)

	assert.Equal(t, "stdio", cfg.Server.Transport)
	assert.True(t, cfg.Sessions.AutoSave)
	assert.Contains(t, cfg.Sessions.StoragePath, ".ggrep")

	// Admission and retention carry the documented daemon defaults.
	assert.Equal(t, 8, cfg.Admission.MaxConcurrentQueries)
	assert.Equal(t, 32, cfg.Admission.MaxQueryQueueDepth)
	assert.GreaterOrEqual(t, cfg.Retention.SnapshotHistoryLimit, 5)
}

func TestLoad_NoFilesYieldsDefaults(t *testing.T) {
	silenceUserConfig(t)
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, NewConfig().Search.BM25Weight, cfg.Search.BM25Weight)
}

func TestLoad_ProjectFileOverrides(t *testing.T) {
	silenceUserConfig(t)
	dir := t.TempDir()
	writeProjectConfig(t, dir, ".ggrep.yaml", `
version: 1
search:
  max_results: 7
embeddings:
  provider: ollama
  model: custom-model
`)

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Search.MaxResults)
	assert.Equal(t, "ollama", cfg.Embeddings.Provider)
	assert.Equal(t, "custom-model", cfg.Embeddings.Model)
	// Untouched fields keep defaults.
	assert.Equal(t, 0.65, cfg.Search.BM25Weight)
}

func TestLoad_YamlBeatsYml(t *testing.T) {
	silenceUserConfig(t)
	dir := t.TempDir()
	writeProjectConfig(t, dir, ".ggrep.yml", "search:\n  max_results: 3\n")

	// .yml alone is honored.
	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Search.MaxResults)

	// When both exist, .yaml wins.
	writeProjectConfig(t, dir, ".ggrep.yaml", "search:\n  max_results: 9\n")
	cfg, err = Load(dir)
	require.NoError(t, err)
	assert.Equal(t, 9, cfg.Search.MaxResults)
}

func TestLoad_MalformedFilesError(t *testing.T) {
	silenceUserConfig(t)

	dir := t.TempDir()
	writeProjectConfig(t, dir, ".ggrep.yaml", "search: [not: a: map\n")
	_, err := Load(dir)
	assert.Error(t, err, "broken yaml")

	dir = t.TempDir()
	writeProjectConfig(t, dir, ".ggrep.yaml", "search:\n  max_results: \"many\"\n")
	_, err = Load(dir)
	assert.Error(t, err, "wrong field type")
}

func TestLoad_LayeringUserProjectEnv(t *testing.T) {
	tmp := silenceUserConfig(t)

	// User config (lowest of the three).
	userDir := filepath.Join(tmp, ".config", "ggrep")
	require.NoError(t, os.MkdirAll(userDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(userDir, "config.yaml"),
		[]byte("embeddings:\n  provider: mlx\n  model: user-model\n"), 0o644))

	project := t.TempDir()

	// User layer alone applies.
	cfg, err := Load(project)
	require.NoError(t, err)
	assert.Equal(t, "mlx", cfg.Embeddings.Provider)
	assert.Equal(t, "user-model", cfg.Embeddings.Model)

	// Project layer overrides user.
	writeProjectConfig(t, project, ".ggrep.yaml", "embeddings:\n  model: project-model\n")
	cfg, err = Load(project)
	require.NoError(t, err)
	assert.Equal(t, "project-model", cfg.Embeddings.Model)
	assert.Equal(t, "mlx", cfg.Embeddings.Provider, "unset project fields fall through to user")

	// Environment overrides both.
	t.Setenv("GGREP_EMBEDDINGS_MODEL", "env-model")
	t.Setenv("GGREP_EMBEDDINGS_PROVIDER", "static")
	cfg, err = Load(project)
	require.NoError(t, err)
	assert.Equal(t, "env-model", cfg.Embeddings.Model)
	assert.Equal(t, "static", cfg.Embeddings.Provider)
}

func TestLoad_EnvOverrides(t *testing.T) {
	silenceUserConfig(t)
	dir := t.TempDir()

	t.Setenv("GGREP_LOG_LEVEL", "warn")
	t.Setenv("GGREP_TRANSPORT", "sse")
	t.Setenv("GGREP_RRF_CONSTANT", "42")
	t.Setenv("GGREP_BM25_WEIGHT", "0.7")
	t.Setenv("GGREP_SEMANTIC_WEIGHT", "0.3")

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.Server.LogLevel)
	assert.Equal(t, "sse", cfg.Server.Transport)
	assert.Equal(t, 42, cfg.Search.RRFConstant)
	assert.Equal(t, 0.7, cfg.Search.BM25Weight)
	assert.Equal(t, 0.3, cfg.Search.SemanticWeight)
}

func TestLoad_EmptyEnvDoesNotOverride(t *testing.T) {
	silenceUserConfig(t)
	t.Setenv("GGREP_EMBEDDINGS_MODEL", "")

	cfg, err := Load(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, NewConfig().Embeddings.Model, cfg.Embeddings.Model)
}

func TestUserConfigPaths(t *testing.T) {
	tmp := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", tmp)

	path := GetUserConfigPath()
	assert.Equal(t, filepath.Join(tmp, "ggrep", "config.yaml"), path)
	assert.Equal(t, filepath.Dir(path), GetUserConfigDir())

	assert.False(t, UserConfigExists())
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("version: 1\n"), 0o644))
	assert.True(t, UserConfigExists())
}

func TestDetectProjectType(t *testing.T) {
	mk := func(files ...string) string {
		dir := t.TempDir()
		for _, f := range files {
			require.NoError(t, os.WriteFile(filepath.Join(dir, f), []byte("x"), 0o644))
		}
		return dir
	}

	assert.Equal(t, ProjectTypeGo, DetectProjectType(mk("go.mod")))
	assert.Equal(t, ProjectTypeNode, DetectProjectType(mk("package.json")))
	assert.Equal(t, ProjectTypePython, DetectProjectType(mk("pyproject.toml")))
	assert.Equal(t, ProjectTypePython, DetectProjectType(mk("requirements.txt")))
	assert.Equal(t, ProjectTypeUnknown, DetectProjectType(mk()))
	// go.mod outranks package.json in a mixed repo.
	assert.Equal(t, ProjectTypeGo, DetectProjectType(mk("go.mod", "package.json")))
}

func TestFindProjectRoot(t *testing.T) {
	// A .git directory anywhere up the chain marks the root.
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, ".git"), 0o755))
	nested := filepath.Join(root, "a", "b", "c")
	require.NoError(t, os.MkdirAll(nested, 0o755))

	got, err := FindProjectRoot(nested)
	require.NoError(t, err)
	assert.Equal(t, root, got)

	// A config file also marks the root.
	cfgRoot := t.TempDir()
	writeProjectConfig(t, cfgRoot, ".ggrep.yaml", "version: 1\n")
	inner := filepath.Join(cfgRoot, "src")
	require.NoError(t, os.MkdirAll(inner, 0o755))
	got, err = FindProjectRoot(inner)
	require.NoError(t, err)
	assert.Equal(t, cfgRoot, got)

	// No markers: the starting directory is its own root.
	bare := t.TempDir()
	got, err = FindProjectRoot(bare)
	require.NoError(t, err)
	assert.Equal(t, bare, got)
}

func TestDiscoverDirs(t *testing.T) {
	dir := t.TempDir()
	for _, d := range []string{"src", "internal", "app", "pages", "docs", "unrelated"} {
		require.NoError(t, os.MkdirAll(filepath.Join(dir, d), 0o755))
	}

	source := DiscoverSourceDirs(dir)
	assert.Contains(t, source, "src")
	assert.Contains(t, source, "internal")
	// app/pages only count for Next.js projects (package.json with a
	// next dependency), which this fixture is not.
	assert.NotContains(t, source, "app")
	assert.NotContains(t, source, "unrelated")

	docs := DiscoverDocsDirs(dir)
	assert.Contains(t, docs, "docs")

	// Empty or missing directories discover nothing and do not error.
	assert.Empty(t, DiscoverSourceDirs(t.TempDir()))
	assert.Empty(t, DiscoverDocsDirs(filepath.Join(dir, "nope")))
}
