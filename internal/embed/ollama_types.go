package embed

import "time"

const (
	// DefaultOllamaHost is the local server's conventional address.
	DefaultOllamaHost = "http://localhost:11434"

	// DefaultOllamaModel is the primary code-capable embedding model.
	// The 0.6B variant keeps memory within a laptop's budget; larger
	// variants of the same family would pressure the whole machine.
	DefaultOllamaModel = "qwen3-embedding:0.6b"

	// OllamaConnectTimeout fills OllamaConfig.ConnectTimeout, which
	// NewOllamaEmbedder does not read; its startup probe runs under
	// DefaultColdTimeout.
	OllamaConnectTimeout = 5 * time.Second

	OllamaPoolSize = 4
)

// FallbackOllamaModels are tried in order when the primary model is
// not installed. Only code-capable embedding models belong here; a
// general prose model would silently degrade code retrieval.
var FallbackOllamaModels = []string{
	"embeddinggemma",
	"mxbai-embed-large",
}

// OllamaConfig configures the Ollama backend.
type OllamaConfig struct {
	// Host is the API endpoint.
	Host string

	// Model is the primary model; FallbackModels are tried in order
	// when it is absent.
	Model          string
	FallbackModels []string

	// Dimensions overrides auto-detection when non-zero.
	Dimensions int

	BatchSize      int
	Timeout        time.Duration
	ConnectTimeout time.Duration
	MaxRetries     int
	PoolSize       int

	// SkipHealthCheck bypasses the startup probe; tests use this to
	// construct an embedder with no server running.
	SkipHealthCheck bool

	// ProgressFunc receives (completed, total) after each batch.
	ProgressFunc func(completed, total int)

	// Thermal pacing: see the progressive-timeout computation in
	// ollama.go for how these combine.
	InterBatchDelay        time.Duration
	TimeoutProgression     float64
	RetryTimeoutMultiplier float64
}

// DefaultOllamaConfig fills every field with its package default.
func DefaultOllamaConfig() OllamaConfig {
	return OllamaConfig{
		Host:           DefaultOllamaHost,
		Model:          DefaultOllamaModel,
		FallbackModels: FallbackOllamaModels,
		Dimensions:     0, // auto-detect
		BatchSize:      DefaultBatchSize,
		Timeout:        DefaultTimeout,
		ConnectTimeout: OllamaConnectTimeout,
		MaxRetries:     DefaultMaxRetries,
		PoolSize:       OllamaPoolSize,

		InterBatchDelay:        DefaultInterBatchDelay,
		TimeoutProgression:     DefaultTimeoutProgression,
		RetryTimeoutMultiplier: DefaultRetryTimeoutMultiplier,
	}
}

// OllamaEmbedRequest is the /api/embed request body. Input is a
// string for one text or []string for a batch.
type OllamaEmbedRequest struct {
	Model string `json:"model"`
	Input any    `json:"input"`
}

// OllamaEmbedResponse is the /api/embed response body.
type OllamaEmbedResponse struct {
	Model      string      `json:"model"`
	Embeddings [][]float64 `json:"embeddings"`
}

// OllamaModelListResponse is the /api/tags response body.
type OllamaModelListResponse struct {
	Models []OllamaModelInfo `json:"models"`
}

// OllamaModelInfo is one installed model as /api/tags reports it.
type OllamaModelInfo struct {
	Name       string    `json:"name"`
	ModifiedAt time.Time `json:"modified_at"`
	Size       int64     `json:"size"`
}
