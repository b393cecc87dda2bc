package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// Per-model output widths for the MLX server's model sizes.
const (
	MLXSmallDimensions  = 1024 // 0.6B
	MLXMediumDimensions = 2560 // 4B
	MLXLargeDimensions  = 4096 // 8B
)

const (
	// DefaultMLXEndpoint avoids the crowded :8000 neighborhood.
	DefaultMLXEndpoint = "http://localhost:9659"

	// DefaultMLXModel is the small variant: nearly the retrieval
	// quality of the large one at a fraction of the memory.
	DefaultMLXModel = "small"

	DefaultMLXBaseTimeout = 60 * time.Second
	DefaultMLXMaxRetries  = 2
	// DefaultMLXBatchSize is what the timeout progression assumes per
	// batch.
	DefaultMLXBatchSize = 32
)

// MLXConfig configures the MLX backend.
type MLXConfig struct {
	// Endpoint is the server URL.
	Endpoint string

	// Model is "small", "medium", or "large".
	Model string

	// SkipHealthCheck bypasses the startup probe (tests).
	SkipHealthCheck bool
}

// DefaultMLXConfig returns the package defaults.
func DefaultMLXConfig() MLXConfig {
	return MLXConfig{
		Endpoint: DefaultMLXEndpoint,
		Model:    DefaultMLXModel,
	}
}

// MLXEmbedder talks to a local MLX embedding server; the fast path
// on Apple Silicon, an order of magnitude quicker than the Ollama
// backend for the same model family.
type MLXEmbedder struct {
	client       *http.Client
	config       MLXConfig
	dims         int
	model        string
	mu           sync.RWMutex
	closed       bool
	batchIndex   int
	isFinalBatch bool
}

var _ Embedder = (*MLXEmbedder)(nil)

// NewMLXEmbedder connects to the server, verifies health, and asks the
// server for the model's true dimensions (falling back to the static
// table if that endpoint fails).
func NewMLXEmbedder(ctx context.Context, cfg MLXConfig) (*MLXEmbedder, error) {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultMLXEndpoint
	}
	if cfg.Model == "" {
		cfg.Model = DefaultMLXModel
	}

	// No client-level timeout: per-request contexts carry the
	// progressive deadline and must not be overridden.
	client := &http.Client{
		Transport: &http.Transport{
			MaxIdleConns:        10,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     30 * time.Second,
		},
	}

	e := &MLXEmbedder{
		client: client,
		config: cfg,
		model:  cfg.Model,
	}

	switch cfg.Model {
	case "small":
		e.dims = MLXSmallDimensions
	case "medium":
		e.dims = MLXMediumDimensions
	default:
		e.dims = MLXLargeDimensions
	}

	if !cfg.SkipHealthCheck {
		checkCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()

		if err := e.healthCheck(checkCtx); err != nil {
			return nil, fmt.Errorf("embed: mlx health check: %w", err)
		}
		if dims, err := e.getDimensionsFromServer(checkCtx); err == nil {
			e.dims = dims
		}
	}

	slog.Debug("mlx_embedder_created",
		slog.String("endpoint", cfg.Endpoint),
		slog.String("model", cfg.Model),
		slog.Int("dimensions", e.dims))

	return e, nil
}

func (e *MLXEmbedder) healthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.config.Endpoint+"/health", nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("unhealthy (status %d): %s", resp.StatusCode, string(body))
	}

	var health mlxHealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return fmt.Errorf("decode health: %w", err)
	}
	if health.Status != "healthy" {
		return fmt.Errorf("server status: %s", health.Status)
	}
	return nil
}

func (e *MLXEmbedder) getDimensionsFromServer(ctx context.Context) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.config.Endpoint+"/models", nil)
	if err != nil {
		return 0, err
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("list models: status %d", resp.StatusCode)
	}

	var result mlxModelsResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return 0, err
	}
	if model, ok := result.Models[e.config.Model]; ok {
		return model.Dimensions, nil
	}
	return 0, fmt.Errorf("model %s not found", e.config.Model)
}

// Embed embeds one text through /embed.
func (e *MLXEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	e.mu.RLock()
	if e.closed {
		e.mu.RUnlock()
		return nil, fmt.Errorf("embed: embedder is closed")
	}
	e.mu.RUnlock()

	jsonData, err := json.Marshal(mlxEmbedRequest{Text: text, Model: e.config.Model})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.config.Endpoint+"/embed", bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embed request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("embed failed (status %d): %s", resp.StatusCode, string(body))
	}

	var result mlxEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	embedding := make([]float32, len(result.Embedding))
	for i, v := range result.Embedding {
		embedding[i] = float32(v)
	}
	return embedding, nil
}

// EmbedBatch embeds through /embed_batch with retries and the
// progressive timeout.
func (e *MLXEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	e.mu.RLock()
	if e.closed {
		e.mu.RUnlock()
		return nil, fmt.Errorf("embed: embedder is closed")
	}
	e.mu.RUnlock()

	var lastErr error
	for attempt := 0; attempt < DefaultMLXMaxRetries; attempt++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		if attempt > 0 {
			backoff := time.Duration(500<<attempt) * time.Millisecond
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}

		timeout := e.getProgressiveTimeout()
		timeoutCtx, cancel := context.WithTimeout(ctx, timeout)

		slog.Debug("mlx_embedding_attempt",
			slog.Int("attempt", attempt+1),
			slog.Int("batch_index", e.batchIndex),
			slog.Duration("timeout", timeout),
			slog.Bool("final_batch", e.isFinalBatch),
			slog.Int("texts_count", len(texts)))

		embeddings, err := e.doEmbedBatch(timeoutCtx, texts)
		cancel()

		if err == nil {
			return embeddings, nil
		}
		lastErr = err

		slog.Debug("mlx_embedding_attempt_failed",
			slog.Int("attempt", attempt+1),
			slog.Duration("timeout_used", timeout),
			slog.String("error", err.Error()))
	}

	return nil, fmt.Errorf("failed after %d attempts: %w", DefaultMLXMaxRetries, lastErr)
}

func (e *MLXEmbedder) doEmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	jsonData, err := json.Marshal(mlxEmbedBatchRequest{Texts: texts, Model: e.config.Model})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.config.Endpoint+"/embed_batch", bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("batch request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("batch failed (status %d): %s", resp.StatusCode, string(body))
	}

	var result mlxEmbedBatchResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	embeddings := make([][]float32, len(result.Embeddings))
	for i, emb := range result.Embeddings {
		embeddings[i] = make([]float32, len(emb))
		for j, v := range emb {
			embeddings[i][j] = float32(v)
		}
	}
	return embeddings, nil
}

func (e *MLXEmbedder) Dimensions() int { return e.dims }

func (e *MLXEmbedder) ModelName() string {
	return fmt.Sprintf("mlx-qwen3-embedding-%s", e.model)
}

// Available probes /health with a short budget.
func (e *MLXEmbedder) Available(ctx context.Context) bool {
	e.mu.RLock()
	if e.closed {
		e.mu.RUnlock()
		return false
	}
	e.mu.RUnlock()

	checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return e.healthCheck(checkCtx) == nil
}

func (e *MLXEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil
	}
	e.closed = true
	if transport, ok := e.client.Transport.(*http.Transport); ok {
		transport.CloseIdleConnections()
	}
	return nil
}

// SetBatchIndex positions the thermal timeout progression.
func (e *MLXEmbedder) SetBatchIndex(idx int) {
	e.mu.Lock()
	e.batchIndex = idx
	e.mu.Unlock()
}

// SetFinalBatch widens the last batch's timeout.
func (e *MLXEmbedder) SetFinalBatch(isFinal bool) {
	e.mu.Lock()
	e.isFinalBatch = isFinal
	e.mu.Unlock()
}

// getProgressiveTimeout scales the 60s base up to 2x with chunks
// processed (doubling pace: every 2000 chunks), plus a 1.5x boost on
// the final batch where throttling peaks.
func (e *MLXEmbedder) getProgressiveTimeout() time.Duration {
	e.mu.RLock()
	batchIdx := e.batchIndex
	isFinal := e.isFinalBatch
	e.mu.RUnlock()

	progression := 1.0 + float64(batchIdx*DefaultMLXBatchSize)/2000.0
	if progression > 2.0 {
		progression = 2.0
	}
	finalBoost := 1.0
	if isFinal {
		finalBoost = 1.5
	}
	return time.Duration(float64(DefaultMLXBaseTimeout) * progression * finalBoost)
}

// Wire types for the MLX server endpoints.

type mlxHealthResponse struct {
	Status      string `json:"status"`
	ModelStatus string `json:"model_status"`
	LoadedModel string `json:"loaded_model"`
}

type mlxModelsResponse struct {
	Models map[string]mlxModelInfo `json:"models"`
}

type mlxModelInfo struct {
	Dimensions int `json:"dimensions"`
}

type mlxEmbedRequest struct {
	Text  string `json:"text"`
	Model string `json:"model"`
}

type mlxEmbedResponse struct {
	Embedding []float64 `json:"embedding"`
}

type mlxEmbedBatchRequest struct {
	Texts []string `json:"texts"`
	Model string   `json:"model"`
}

type mlxEmbedBatchResponse struct {
	Embeddings [][]float64 `json:"embeddings"`
}
