package embed

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setEnv sets an environment variable for the duration of the test.
func setEnv(t *testing.T, key, value string) {
	t.Helper()
	orig, had := os.LookupEnv(key)
	t.Cleanup(func() {
		if had {
			os.Setenv(key, orig)
		} else {
			os.Unsetenv(key)
		}
	})
	if value == "" {
		os.Unsetenv(key)
	} else {
		os.Setenv(key, value)
	}
}

func TestParseProvider(t *testing.T) {
	assert.Equal(t, ProviderMLX, ParseProvider("mlx"))
	assert.Equal(t, ProviderOllama, ParseProvider("ollama"))
	assert.Equal(t, ProviderOllama, ParseProvider("llama"), "legacy spelling maps to ollama")
	assert.Equal(t, ProviderStatic, ParseProvider("static"))
	assert.Equal(t, ProviderOllama, ParseProvider(""), "unknown defaults to ollama")
	assert.Equal(t, ProviderOllama, ParseProvider("whatever"))
}

func TestValidProviders(t *testing.T) {
	assert.ElementsMatch(t, []string{"mlx", "ollama", "static"}, ValidProviders())
	assert.True(t, IsValidProvider("Ollama"))
	assert.True(t, IsValidProvider("STATIC"))
	assert.False(t, IsValidProvider("gguf"))
}

func TestIsOllamaModelName(t *testing.T) {
	cases := map[string]bool{
		"qwen3-embedding:8b":      true,
		"embeddinggemma:latest":   true,
		"nomic-embed-text-v1.5":   false, // GGUF version pattern
		"bge-small-en-v1.5":       false,
		"model.Q8_0.gguf":         false,
		"plain-name":              false, // untagged names are not trusted
	}
	for model, want := range cases {
		assert.Equal(t, want, isOllamaModelName(model), "model %q", model)
	}
}

func TestNewEmbedder_StaticProvider(t *testing.T) {
	setEnv(t, "GGREP_EMBEDDER", "")

	embedder, err := NewEmbedder(context.Background(), ProviderStatic, "")
	require.NoError(t, err)
	defer embedder.Close()

	assert.Equal(t, "static768", embedder.ModelName())
	assert.Equal(t, DefaultDimensions, embedder.Dimensions())
	assert.True(t, embedder.Available(context.Background()))

	// The factory wraps in the query cache by default.
	_, isCached := embedder.(*CachedEmbedder)
	assert.True(t, isCached)
}

func TestNewEmbedder_EnvOverrideWinsOverArgument(t *testing.T) {
	setEnv(t, "GGREP_EMBEDDER", "static")

	// Provider argument says Ollama; the environment says static.
	embedder, err := NewEmbedder(context.Background(), ProviderOllama, "")
	require.NoError(t, err)
	defer embedder.Close()
	assert.Equal(t, "static768", embedder.ModelName())
}

func TestNewEmbedder_CacheDisableSwitch(t *testing.T) {
	setEnv(t, "GGREP_EMBEDDER", "static")
	setEnv(t, "GGREP_EMBED_CACHE", "false")

	embedder, err := NewEmbedder(context.Background(), ProviderStatic, "")
	require.NoError(t, err)
	defer embedder.Close()

	_, isCached := embedder.(*CachedEmbedder)
	assert.False(t, isCached)
}

func TestNewEmbedder_OllamaUnavailableIsAnError(t *testing.T) {
	// No silent fallback: an unreachable backend must surface, not
	// quietly hand back a different embedder whose vectors belong to
	// a different store identity.
	setEnv(t, "GGREP_EMBEDDER", "")
	setEnv(t, "GGREP_OLLAMA_HOST", "http://localhost:59999")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	embedder, err := NewEmbedder(ctx, ProviderOllama, "")
	require.Error(t, err)
	assert.Nil(t, embedder)
	assert.Contains(t, err.Error(), "ollama unavailable")
	assert.Contains(t, err.Error(), "ollama serve", "error should tell the user the fix")
}

func TestNewEmbedder_MLXUnavailableIsAnError(t *testing.T) {
	setEnv(t, "GGREP_EMBEDDER", "mlx")
	setEnv(t, "GGREP_MLX_ENDPOINT", "http://localhost:59998")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	embedder, err := NewEmbedder(ctx, ProviderMLX, "")
	require.Error(t, err)
	assert.Nil(t, embedder)
	assert.Contains(t, err.Error(), "mlx unavailable")
}

func TestSetThermalConfig_FlowsIntoOllamaConfig(t *testing.T) {
	orig := globalThermalConfig
	t.Cleanup(func() { globalThermalConfig = orig })
	setEnv(t, "GGREP_INTER_BATCH_DELAY", "")
	setEnv(t, "GGREP_TIMEOUT_PROGRESSION", "")
	setEnv(t, "GGREP_RETRY_TIMEOUT_MULTIPLIER", "")

	SetThermalConfig(ThermalConfig{
		InterBatchDelay:        500 * time.Millisecond,
		TimeoutProgression:     2.0,
		RetryTimeoutMultiplier: 1.5,
	})

	cfg := DefaultOllamaConfig()
	applyThermalSettings(&cfg)

	assert.Equal(t, 500*time.Millisecond, cfg.InterBatchDelay)
	assert.Equal(t, 2.0, cfg.TimeoutProgression)
	assert.Equal(t, 1.5, cfg.RetryTimeoutMultiplier)
}

func TestApplyThermalSettings_EnvWinsAndClamps(t *testing.T) {
	orig := globalThermalConfig
	t.Cleanup(func() { globalThermalConfig = orig })

	SetThermalConfig(ThermalConfig{
		InterBatchDelay:        200 * time.Millisecond,
		TimeoutProgression:     1.5,
		RetryTimeoutMultiplier: 1.2,
	})
	setEnv(t, "GGREP_INTER_BATCH_DELAY", "10s") // above MaxInterBatchDelay
	setEnv(t, "GGREP_TIMEOUT_PROGRESSION", "2.5")
	setEnv(t, "GGREP_RETRY_TIMEOUT_MULTIPLIER", "5.0") // above max

	cfg := DefaultOllamaConfig()
	applyThermalSettings(&cfg)

	assert.Equal(t, MaxInterBatchDelay, cfg.InterBatchDelay, "clamped to max")
	assert.Equal(t, 2.5, cfg.TimeoutProgression)
	assert.Equal(t, MaxRetryTimeoutMultiplier, cfg.RetryTimeoutMultiplier, "clamped to max")
}

func TestSetMLXConfig_Stored(t *testing.T) {
	orig := globalMLXConfig
	t.Cleanup(func() { globalMLXConfig = orig })

	SetMLXConfig(MLXServerConfig{Endpoint: "http://localhost:7000", Model: "medium"})
	assert.Equal(t, "http://localhost:7000", globalMLXConfig.Endpoint)
	assert.Equal(t, "medium", globalMLXConfig.Model)
}

func TestGetInfo_UnwrapsCache(t *testing.T) {
	static := NewStaticEmbedder768()
	cached := NewCachedEmbedderWithDefaults(static)
	defer cached.Close()

	info := GetInfo(context.Background(), cached)
	assert.Equal(t, ProviderStatic, info.Provider)
	assert.Equal(t, "static768", info.Model)
	assert.Equal(t, DefaultDimensions, info.Dimensions)
	assert.True(t, info.Available)
}

func TestOllamaTimeoutEnvParsing(t *testing.T) {
	cases := []struct {
		envValue string
		want     time.Duration
	}{
		{"120s", 120 * time.Second},
		{"5m", 5 * time.Minute},
		{"invalid", DefaultTimeout},
		{"", DefaultTimeout},
	}
	for _, tc := range cases {
		setEnv(t, "GGREP_OLLAMA_TIMEOUT", tc.envValue)

		cfg := DefaultOllamaConfig()
		if timeoutStr := os.Getenv("GGREP_OLLAMA_TIMEOUT"); timeoutStr != "" {
			if timeout, err := time.ParseDuration(timeoutStr); err == nil {
				cfg.Timeout = timeout
			}
		}
		assert.Equal(t, tc.want, cfg.Timeout, "env %q", tc.envValue)
	}
}
