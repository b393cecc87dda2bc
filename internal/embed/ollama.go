package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strings"
	"sync"
	"time"
)

// OllamaEmbedder speaks the Ollama HTTP embedding API. It is the
// default online backend: a local model server with cold-load latency,
// thermal throttling under sustained indexing, and the occasional
// stall; all of which the timeout machinery below exists to absorb.
type OllamaEmbedder struct {
	client    *http.Client
	transport *http.Transport
	config    OllamaConfig
	modelName string
	dims      int

	mu     sync.RWMutex
	closed bool
	// lastCall distinguishes warm from cold requests; the server
	// unloads idle models after ~5 minutes.
	lastCall time.Time
	// batchIndex and isFinalBatch drive the progressive timeout.
	batchIndex   int
	isFinalBatch bool
}

var _ Embedder = (*OllamaEmbedder)(nil)

// NewOllamaEmbedder connects to the configured server, resolves which
// model to use (primary, then fallbacks), and probes the embedding
// dimension unless the config pins one.
func NewOllamaEmbedder(ctx context.Context, cfg OllamaConfig) (*OllamaEmbedder, error) {
	if cfg.Host == "" {
		cfg.Host = DefaultOllamaHost
	}
	if cfg.Model == "" {
		cfg.Model = DefaultOllamaModel
	}
	if cfg.FallbackModels == nil {
		cfg.FallbackModels = FallbackOllamaModels
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = OllamaConnectTimeout
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = OllamaPoolSize
	}

	// Short idle timeout: a CLI sync is short-lived and interrupted
	// connections should drain promptly after a Ctrl+C.
	transport := &http.Transport{
		MaxIdleConns:        cfg.PoolSize,
		MaxIdleConnsPerHost: cfg.PoolSize,
		MaxConnsPerHost:     cfg.PoolSize * 2,
		IdleConnTimeout:     10 * time.Second,
		DisableKeepAlives:   false,
	}

	// No client-level timeout: a static one would override the
	// per-request context deadlines the progressive timeout computes.
	client := &http.Client{Transport: transport}

	e := &OllamaEmbedder{
		client:    client,
		transport: transport,
		config:    cfg,
		modelName: cfg.Model,
		dims:      cfg.Dimensions,
	}

	if !cfg.SkipHealthCheck {
		// The health check can trigger a cold model load, so it gets
		// the cold budget, not the connect budget.
		checkCtx, cancel := context.WithTimeout(ctx, DefaultColdTimeout)
		defer cancel()

		modelName, err := e.findAvailableModel(checkCtx)
		if err != nil {
			transport.CloseIdleConnections()
			return nil, fmt.Errorf("embed: connect to ollama: %w", err)
		}
		e.modelName = modelName

		if cfg.Dimensions == 0 {
			dims, err := e.detectDimensions(checkCtx)
			if err != nil {
				transport.CloseIdleConnections()
				return nil, fmt.Errorf("embed: detect dimensions: %w", err)
			}
			e.dims = dims
		}
	}

	if e.dims == 0 {
		e.dims = DefaultDimensions
	}
	return e, nil
}

func (e *OllamaEmbedder) listModels(ctx context.Context) ([]OllamaModelInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.config.Host+"/api/tags", nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("connect to ollama: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body))
	}

	var result OllamaModelListResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return result.Models, nil
}

// findAvailableModel matches the configured model, then each fallback,
// against the server's model list. Matching is case-insensitive and
// tag-tolerant: "model" matches "model:0.6b".
func (e *OllamaEmbedder) findAvailableModel(ctx context.Context) (string, error) {
	models, err := e.listModels(ctx)
	if err != nil {
		return "", err
	}

	available := make(map[string]string) // normalized → actual
	for _, m := range models {
		name := strings.ToLower(m.Name)
		available[name] = m.Name
		base := strings.Split(name, ":")[0]
		if _, exists := available[base]; !exists {
			available[base] = m.Name
		}
	}

	lookup := func(candidate string) (string, bool) {
		name := strings.ToLower(candidate)
		if actual, ok := available[name]; ok {
			return actual, true
		}
		actual, ok := available[strings.Split(name, ":")[0]]
		return actual, ok
	}

	if actual, ok := lookup(e.config.Model); ok {
		return actual, nil
	}
	for _, fallback := range e.config.FallbackModels {
		if actual, ok := lookup(fallback); ok {
			return actual, nil
		}
	}
	return "", fmt.Errorf("no embedding model available (tried %s and %v)", e.config.Model, e.config.FallbackModels)
}

// detectDimensions embeds a probe string and measures the vector.
func (e *OllamaEmbedder) detectDimensions(ctx context.Context) (int, error) {
	body, err := json.Marshal(OllamaEmbedRequest{
		Model: e.modelName,
		Input: "dimension detection",
	})
	if err != nil {
		return 0, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.config.Host+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return 0, fmt.Errorf("embedding failed with status %d: %s", resp.StatusCode, string(respBody))
	}

	var result OllamaEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return 0, fmt.Errorf("decode response: %w", err)
	}
	if len(result.Embeddings) == 0 || len(result.Embeddings[0]) == 0 {
		return 0, fmt.Errorf("empty embedding returned")
	}
	return len(result.Embeddings[0]), nil
}

// Embed embeds one text; whitespace-only input short-circuits to the
// zero vector without a network round trip.
func (e *OllamaEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	e.mu.RLock()
	if e.closed {
		e.mu.RUnlock()
		return nil, fmt.Errorf("embed: embedder is closed")
	}
	e.mu.RUnlock()

	if strings.TrimSpace(text) == "" {
		return make([]float32, e.dims), nil
	}

	embeddings, err := e.doEmbedWithRetry(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(embeddings) == 0 {
		return nil, fmt.Errorf("embed: no embedding returned")
	}
	return embeddings[0], nil
}

// EmbedBatch embeds texts through the server's batch endpoint,
// chunking to the configured batch size. Empty texts get zero vectors
// locally; only real content travels.
func (e *OllamaEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	e.mu.RLock()
	if e.closed {
		e.mu.RUnlock()
		return nil, fmt.Errorf("embed: embedder is closed")
	}
	e.mu.RUnlock()

	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	type indexedText struct {
		idx  int
		text string
	}
	var nonEmpty []indexedText
	results := make([][]float32, len(texts))

	for i, text := range texts {
		if strings.TrimSpace(text) == "" {
			results[i] = make([]float32, e.dims)
		} else {
			nonEmpty = append(nonEmpty, indexedText{i, text})
		}
	}
	if len(nonEmpty) == 0 {
		return results, nil
	}

	for start := 0; start < len(nonEmpty); start += e.config.BatchSize {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		end := start + e.config.BatchSize
		if end > len(nonEmpty) {
			end = len(nonEmpty)
		}

		batch := nonEmpty[start:end]
		batchTexts := make([]string, len(batch))
		for i, it := range batch {
			batchTexts[i] = it.text
		}

		embeddings, err := e.doEmbedWithRetry(ctx, batchTexts)
		if err != nil {
			return nil, fmt.Errorf("embed: batch: %w", err)
		}
		for i, emb := range embeddings {
			results[batch[i].idx] = emb
		}

		e.IncrementBatchIndex()
		if e.config.ProgressFunc != nil {
			e.config.ProgressFunc(end, len(nonEmpty))
		}
	}
	return results, nil
}

// getTimeout picks warm or cold based on how long the model has sat
// idle.
func (e *OllamaEmbedder) getTimeout() time.Duration {
	e.mu.RLock()
	lastCall := e.lastCall
	e.mu.RUnlock()

	if lastCall.IsZero() || time.Since(lastCall) > ModelUnloadThreshold {
		return DefaultColdTimeout
	}
	return DefaultWarmTimeout
}

func (e *OllamaEmbedder) updateLastCall() {
	e.mu.Lock()
	e.lastCall = time.Now()
	e.mu.Unlock()
}

// getProgressiveTimeout scales the base timeout by three factors:
// position in the sync (later batches run on a hotter GPU), retry
// attempt, and a final-batch boost for the peak-throttle tail. All
// factors are capped so a pathological config cannot wait forever.
func (e *OllamaEmbedder) getProgressiveTimeout(attempt int) time.Duration {
	baseTimeout := e.getTimeout()

	progressionFactor := 1.0
	if e.config.TimeoutProgression > 1.0 {
		e.mu.RLock()
		batchIdx := e.batchIndex
		e.mu.RUnlock()

		// Grows with chunks processed: at 1000 chunks and
		// progression 1.5, the factor is 1.5x.
		batchProgress := float64(batchIdx*e.config.BatchSize) / 1000.0
		progressionFactor = 1.0 + batchProgress*(e.config.TimeoutProgression-1.0)
		if progressionFactor > 3.0 {
			progressionFactor = 3.0
		}
	}

	retryFactor := 1.0
	if e.config.RetryTimeoutMultiplier > 1.0 && attempt > 0 {
		retryFactor = math.Pow(e.config.RetryTimeoutMultiplier, float64(attempt))
		if retryFactor > MaxRetryTimeoutMultiplier {
			retryFactor = MaxRetryTimeoutMultiplier
		}
	}

	e.mu.RLock()
	isFinal := e.isFinalBatch
	e.mu.RUnlock()

	finalBoost := 1.0
	if isFinal {
		finalBoost = 1.5
	}

	return time.Duration(float64(baseTimeout) * progressionFactor * retryFactor * finalBoost)
}

// IncrementBatchIndex advances the thermal progression by one batch.
func (e *OllamaEmbedder) IncrementBatchIndex() {
	e.mu.Lock()
	e.batchIndex++
	e.mu.Unlock()
}

// ResetBatchIndex restarts the progression for a new sync.
func (e *OllamaEmbedder) ResetBatchIndex() {
	e.mu.Lock()
	e.batchIndex = 0
	e.mu.Unlock()
}

// SetBatchIndex positions the progression when resuming mid-sync; a
// resumed batch 50 must not get batch-0 timeouts.
func (e *OllamaEmbedder) SetBatchIndex(idx int) {
	e.mu.Lock()
	e.batchIndex = idx
	e.mu.Unlock()
}

// SetFinalBatch toggles the final-batch timeout boost.
func (e *OllamaEmbedder) SetFinalBatch(isFinal bool) {
	e.mu.Lock()
	e.isFinalBatch = isFinal
	e.mu.Unlock()
}

// GetInterBatchDelay is the configured cooling pause between batches.
func (e *OllamaEmbedder) GetInterBatchDelay() time.Duration {
	return e.config.InterBatchDelay
}

// doEmbedWithRetry wraps doEmbed in the retry/backoff schedule, with
// the progressive timeout recomputed per attempt. The parent context
// is checked before attempting and between attempts so cancellation
// never waits out a backoff sleep.
func (e *OllamaEmbedder) doEmbedWithRetry(ctx context.Context, texts []string) ([][]float32, error) {
	var lastErr error

	for attempt := 0; attempt < e.config.MaxRetries; attempt++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		if attempt > 0 {
			backoff := time.Duration(100<<attempt) * time.Millisecond
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}

		timeout := e.getProgressiveTimeout(attempt)
		timeoutCtx, cancel := context.WithTimeout(ctx, timeout)

		slog.Debug("embedding_attempt",
			slog.Int("attempt", attempt+1),
			slog.Int("max_retries", e.config.MaxRetries),
			slog.Int("batch_index", e.batchIndex),
			slog.Duration("timeout", timeout),
			slog.Bool("final_batch", e.isFinalBatch),
			slog.Int("texts_count", len(texts)))

		embeddings, err := e.doEmbed(timeoutCtx, texts)
		cancel()

		if err == nil {
			e.updateLastCall()
			return embeddings, nil
		}
		lastErr = err

		slog.Debug("embedding_attempt_failed",
			slog.Int("attempt", attempt+1),
			slog.Int("batch_index", e.batchIndex),
			slog.Duration("timeout_used", timeout),
			slog.String("error", err.Error()))

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}

	return nil, fmt.Errorf("failed after %d attempts: %w", e.config.MaxRetries, lastErr)
}

// doEmbed issues one embedding request. The HTTP round trip runs in a
// goroutine so context cancellation returns immediately rather than
// waiting for the server; on cancel, connections are force-closed to
// unblock the reader.
func (e *OllamaEmbedder) doEmbed(ctx context.Context, texts []string) ([][]float32, error) {
	var input any
	if len(texts) == 1 {
		input = texts[0]
	} else {
		input = texts
	}

	body, err := json.Marshal(OllamaEmbedRequest{Model: e.modelName, Input: input})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.config.Host+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	type result struct {
		embeddings [][]float32
		err        error
	}
	resultCh := make(chan result, 1)

	go func() {
		resp, err := e.client.Do(req)
		if err != nil {
			resultCh <- result{nil, err}
			return
		}
		defer func() { _ = resp.Body.Close() }()

		if resp.StatusCode != http.StatusOK {
			respBody, _ := io.ReadAll(resp.Body)
			resultCh <- result{nil, fmt.Errorf("embedding failed with status %d: %s", resp.StatusCode, string(respBody))}
			return
		}

		var apiResult OllamaEmbedResponse
		if err := json.NewDecoder(resp.Body).Decode(&apiResult); err != nil {
			resultCh <- result{nil, fmt.Errorf("decode response: %w", err)}
			return
		}

		embeddings := make([][]float32, len(apiResult.Embeddings))
		for i, emb := range apiResult.Embeddings {
			embedding := make([]float32, len(emb))
			for j, v := range emb {
				embedding[j] = float32(v)
			}
			embeddings[i] = normalizeVector(embedding)
		}
		resultCh <- result{embeddings, nil}
	}()

	select {
	case <-ctx.Done():
		e.ForceCloseConnections()
		select {
		case <-resultCh:
		case <-time.After(100 * time.Millisecond):
		}
		return nil, ctx.Err()
	case r := <-resultCh:
		return r.embeddings, r.err
	}
}

func (e *OllamaEmbedder) Dimensions() int { return e.dims }

func (e *OllamaEmbedder) ModelName() string { return e.modelName }

// Available reports whether the server answers and still lists the
// resolved model.
func (e *OllamaEmbedder) Available(ctx context.Context) bool {
	e.mu.RLock()
	if e.closed {
		e.mu.RUnlock()
		return false
	}
	e.mu.RUnlock()

	models, err := e.listModels(ctx)
	if err != nil {
		return false
	}
	modelLower := strings.ToLower(e.modelName)
	for _, m := range models {
		if strings.Contains(strings.ToLower(m.Name), modelLower) ||
			strings.Contains(modelLower, strings.ToLower(m.Name)) {
			return true
		}
	}
	return false
}

// SetProgressFunc installs the (completed, total) batch callback.
func (e *OllamaEmbedder) SetProgressFunc(fn func(completed, total int)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.config.ProgressFunc = fn
}

func (e *OllamaEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil
	}
	e.closed = true
	if e.transport != nil {
		e.transport.CloseIdleConnections()
	}
	return nil
}

// ForceCloseConnections tears down active connections, not just idle
// ones, by swapping the transport. In-flight readers on the old
// transport get an error and unblock.
func (e *OllamaEmbedder) ForceCloseConnections() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.transport == nil {
		return
	}
	e.transport.CloseIdleConnections()
	e.transport = &http.Transport{
		MaxIdleConns:        e.config.PoolSize,
		MaxIdleConnsPerHost: e.config.PoolSize,
		MaxConnsPerHost:     e.config.PoolSize * 2,
		IdleConnTimeout:     10 * time.Second,
		DisableKeepAlives:   true,
	}
	e.client.Transport = e.transport
}
