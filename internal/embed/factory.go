package embed

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// ProviderType names an embedding backend.
type ProviderType string

const (
	// ProviderOllama is the default everywhere: cross-platform and
	// modest on RAM.
	ProviderOllama ProviderType = "ollama"

	// ProviderMLX is opt-in on Apple Silicon; faster, hungrier.
	ProviderMLX ProviderType = "mlx"

	// ProviderStatic is the offline hash embedder.
	ProviderStatic ProviderType = "static"
)

// NewEmbedder builds the embedder for a provider choice. A truthy
// GGREP_FORCE_OFFLINE selects the static 768-dim embedder; otherwise
// the GGREP_EMBEDDER environment variable overrides the argument
// ("ollama", "mlx", "static"). There is no silent backend fallback: an
// unreachable backend is an error telling the user what to start or
// how to select another embedder, because silently swapping backends
// would change the config fingerprint out from under the store.
//
// The result is wrapped in the process-local query cache unless
// GGREP_EMBED_CACHE disables it.
func NewEmbedder(ctx context.Context, provider ProviderType, model string) (Embedder, error) {
	var embedder Embedder
	var err error

	if v := strings.ToLower(os.Getenv("GGREP_FORCE_OFFLINE")); v == "1" || v == "true" || v == "yes" || v == "on" {
		embedder = NewStaticEmbedder768()
	}

	if envProvider := os.Getenv("GGREP_EMBEDDER"); embedder == nil && envProvider != "" {
		switch strings.ToLower(envProvider) {
		case "mlx":
			embedder, err = newMLXEmbedder(ctx)
		case "ollama":
			embedder, err = newOllamaEmbedder(ctx, model)
		case "static":
			embedder = NewStaticEmbedder768()
		}
	}

	if embedder == nil && err == nil {
		switch provider {
		case ProviderMLX:
			embedder, err = newMLXEmbedder(ctx)
		case ProviderOllama:
			embedder, err = newOllamaEmbedder(ctx, model)
		case ProviderStatic:
			embedder = NewStaticEmbedder768()
		default:
			embedder, err = newOllamaEmbedder(ctx, model)
		}
	}

	if err != nil {
		return nil, err
	}
	if !isCacheDisabled() {
		embedder = NewCachedEmbedderWithDefaults(embedder)
	}
	return embedder, nil
}

func isCacheDisabled() bool {
	v := strings.ToLower(os.Getenv("GGREP_EMBED_CACHE"))
	return v == "false" || v == "0" || v == "off" || v == "disabled"
}

// newMLXEmbedder builds the MLX backend, layering config-file
// settings under environment overrides.
func newMLXEmbedder(ctx context.Context) (Embedder, error) {
	cfg := DefaultMLXConfig()

	if globalMLXConfig.Endpoint != "" {
		cfg.Endpoint = globalMLXConfig.Endpoint
	}
	if globalMLXConfig.Model != "" {
		cfg.Model = globalMLXConfig.Model
	}
	if endpoint := os.Getenv("GGREP_MLX_ENDPOINT"); endpoint != "" {
		cfg.Endpoint = endpoint
	}
	if model := os.Getenv("GGREP_MLX_MODEL"); model != "" {
		cfg.Model = model
	}

	embedder, err := NewMLXEmbedder(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("mlx unavailable: %w\n\nTo fix:\n  1. Start MLX server: mlx-embedding-server\n  2. Or use Ollama: GGREP_EMBEDDER=ollama ggrep index\n  3. Or use the offline static embedder: ggrep index --offline", err)
	}
	return embedder, nil
}

// newOllamaEmbedder builds the Ollama backend. Precedence per
// setting: environment, then config file, then defaults. A model name
// from config is honored only when it parses as an Ollama name; a
// GGUF filename in that slot belongs to a different backend and is
// ignored rather than sent to the server.
func newOllamaEmbedder(ctx context.Context, model string) (Embedder, error) {
	cfg := DefaultOllamaConfig()
	if model != "" && isOllamaModelName(model) {
		cfg.Model = model
	}

	if host := os.Getenv("GGREP_OLLAMA_HOST"); host != "" {
		cfg.Host = host
	}
	if modelOverride := os.Getenv("GGREP_OLLAMA_MODEL"); modelOverride != "" {
		cfg.Model = modelOverride
	}
	if timeoutStr := os.Getenv("GGREP_OLLAMA_TIMEOUT"); timeoutStr != "" {
		if timeout, err := time.ParseDuration(timeoutStr); err == nil {
			cfg.Timeout = timeout
		}
	}

	applyThermalSettings(&cfg)

	embedder, err := NewOllamaEmbedder(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("ollama unavailable: %w\n\nTo fix:\n  1. Start Ollama: ollama serve\n  2. Or use the offline static embedder: ggrep index --offline", err)
	}
	return embedder, nil
}

// applyThermalSettings layers thermal pacing from the config file,
// then environment, clamping each knob to its package maximum.
func applyThermalSettings(cfg *OllamaConfig) {
	if globalThermalConfig.InterBatchDelay > 0 {
		cfg.InterBatchDelay = minDuration(globalThermalConfig.InterBatchDelay, MaxInterBatchDelay)
	}
	if globalThermalConfig.TimeoutProgression >= 1.0 {
		cfg.TimeoutProgression = minFloat(globalThermalConfig.TimeoutProgression, MaxTimeoutProgression)
	}
	if globalThermalConfig.RetryTimeoutMultiplier >= 1.0 {
		cfg.RetryTimeoutMultiplier = minFloat(globalThermalConfig.RetryTimeoutMultiplier, MaxRetryTimeoutMultiplier)
	}

	if delayStr := os.Getenv("GGREP_INTER_BATCH_DELAY"); delayStr != "" {
		if delay, err := time.ParseDuration(delayStr); err == nil && delay >= 0 {
			cfg.InterBatchDelay = minDuration(delay, MaxInterBatchDelay)
		}
	}
	if progressionStr := os.Getenv("GGREP_TIMEOUT_PROGRESSION"); progressionStr != "" {
		if progression, err := parseFloat64(progressionStr); err == nil && progression >= 1.0 {
			cfg.TimeoutProgression = minFloat(progression, MaxTimeoutProgression)
		}
	}
	if retryMultStr := os.Getenv("GGREP_RETRY_TIMEOUT_MULTIPLIER"); retryMultStr != "" {
		if mult, err := parseFloat64(retryMultStr); err == nil && mult >= 1.0 {
			cfg.RetryTimeoutMultiplier = minFloat(mult, MaxRetryTimeoutMultiplier)
		}
	}
}

func minDuration(a, b time.Duration) time.Duration {
	if a > b {
		return b
	}
	return a
}

func minFloat(a, b float64) float64 {
	if a > b {
		return b
	}
	return a
}

// ThermalConfig carries the thermal pacing settings from config.yaml.
type ThermalConfig struct {
	InterBatchDelay        time.Duration
	TimeoutProgression     float64
	RetryTimeoutMultiplier float64
}

// globalThermalConfig holds config-file settings installed by
// SetThermalConfig; environment variables still win over it.
var globalThermalConfig ThermalConfig

// SetThermalConfig installs config-file thermal settings. Call before
// NewEmbedder.
func SetThermalConfig(cfg ThermalConfig) {
	globalThermalConfig = cfg
	if cfg.InterBatchDelay > 0 || cfg.TimeoutProgression != 0 || cfg.RetryTimeoutMultiplier != 0 {
		slog.Debug("thermal_config_set",
			slog.Duration("inter_batch_delay", cfg.InterBatchDelay),
			slog.Float64("timeout_progression", cfg.TimeoutProgression),
			slog.Float64("retry_timeout_multiplier", cfg.RetryTimeoutMultiplier))
	}
}

// MLXServerConfig carries MLX server settings from config.yaml.
type MLXServerConfig struct {
	Endpoint string
	Model    string
}

var globalMLXConfig MLXServerConfig

// SetMLXConfig installs config-file MLX settings. Call before
// NewEmbedder; environment variables still win.
func SetMLXConfig(cfg MLXServerConfig) {
	globalMLXConfig = cfg
	if cfg.Endpoint != "" || cfg.Model != "" {
		slog.Debug("mlx_config_set",
			slog.String("endpoint", cfg.Endpoint),
			slog.String("model", cfg.Model))
	}
}

// NewDefaultEmbedder returns the static 768 embedder.
//
// Deprecated: ignores the user's configured provider and can mismatch
// an index built at another dimension. Use NewEmbedder with the
// configured provider instead.
func NewDefaultEmbedder(ctx context.Context) (Embedder, error) {
	return NewEmbedder(ctx, ProviderStatic, "")
}

// ParseProvider maps a config string to a ProviderType, defaulting to
// Ollama for anything unrecognized.
func ParseProvider(s string) ProviderType {
	switch strings.ToLower(s) {
	case "mlx":
		return ProviderMLX
	case "ollama", "llama": // "llama" accepted as a legacy spelling
		return ProviderOllama
	case "static":
		return ProviderStatic
	default:
		return ProviderOllama
	}
}

func (p ProviderType) String() string {
	return string(p)
}

// isOllamaModelName distinguishes Ollama model names
// ("qwen3-embedding:8b") from GGUF file-style names
// ("nomic-embed-text-v1.5"): only a tagged name is accepted.
func isOllamaModelName(model string) bool {
	if strings.Contains(model, ":") {
		return true
	}
	if strings.Contains(model, "-v") && (strings.Contains(model, ".") || strings.HasSuffix(model, "-v1") || strings.HasSuffix(model, "-v2")) {
		return false
	}
	if strings.HasSuffix(strings.ToLower(model), ".gguf") {
		return false
	}
	return false
}

// ValidProviders lists the accepted provider names.
func ValidProviders() []string {
	return []string{
		string(ProviderMLX),
		string(ProviderOllama),
		string(ProviderStatic),
	}
}

// IsValidProvider reports whether s names a known provider.
func IsValidProvider(s string) bool {
	lower := strings.ToLower(s)
	for _, p := range ValidProviders() {
		if lower == p {
			return true
		}
	}
	return false
}

// EmbedderInfo summarizes an embedder for status output.
type EmbedderInfo struct {
	Provider   ProviderType
	Model      string
	Dimensions int
	Available  bool
}

// GetInfo inspects an embedder (unwrapping the cache layer) and
// reports its provider, model, dimensions, and availability.
func GetInfo(ctx context.Context, embedder Embedder) EmbedderInfo {
	info := EmbedderInfo{
		Model:      embedder.ModelName(),
		Dimensions: embedder.Dimensions(),
		Available:  embedder.Available(ctx),
	}

	inner := embedder
	if cached, ok := embedder.(*CachedEmbedder); ok {
		inner = cached.inner
	}

	switch inner.(type) {
	case *MLXEmbedder:
		info.Provider = ProviderMLX
	case *OllamaEmbedder:
		info.Provider = ProviderOllama
	default:
		info.Provider = ProviderStatic
	}
	return info
}

// MustNewEmbedder is NewEmbedder for initialization paths where
// failure is fatal.
func MustNewEmbedder(ctx context.Context, provider ProviderType, model string) Embedder {
	embedder, err := NewEmbedder(ctx, provider, model)
	if err != nil {
		panic(fmt.Sprintf("failed to create embedder: %v", err))
	}
	return embedder
}

func parseFloat64(s string) (float64, error) {
	return strconv.ParseFloat(strings.TrimSpace(s), 64)
}
