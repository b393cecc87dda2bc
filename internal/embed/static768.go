package embed

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// Static768Dimensions matches the default model's output width, so a
// store indexed against the real model can be queried (degraded)
// through this fallback without a dimension mismatch.
const Static768Dimensions = 768

// StaticEmbedder768 is StaticEmbedder widened to 768 dimensions: the
// same token+n-gram hashing, sized to stand in for the default model.
// It exists so "offline" and "backend down" degrade the quality of
// retrieval, not the shape of the store.
type StaticEmbedder768 struct {
	mu     sync.RWMutex
	closed bool
}

// NewStaticEmbedder768 returns a ready StaticEmbedder768.
func NewStaticEmbedder768() *StaticEmbedder768 {
	return &StaticEmbedder768{}
}

// Embed hashes text into a 768-dim unit vector.
func (e *StaticEmbedder768) Embed(ctx context.Context, text string) ([]float32, error) {
	e.mu.RLock()
	if e.closed {
		e.mu.RUnlock()
		return nil, fmt.Errorf("embed: embedder is closed")
	}
	e.mu.RUnlock()

	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return make([]float32, Static768Dimensions), nil
	}
	return normalizeVector(e.generateVector(trimmed)), nil
}

// generateVector shares the 256-dim embedder's pipeline, differing
// only in the modulus the hashes land in.
func (e *StaticEmbedder768) generateVector(text string) []float32 {
	vector := make([]float32, Static768Dimensions)

	for _, token := range filterStopWords(tokenize(text)) {
		vector[hashToIndex(token, Static768Dimensions)] += tokenWeight
	}
	normalized := normalizeForNgrams(text)
	for _, ngram := range extractNgrams(normalized, ngramSize) {
		vector[hashToIndex(ngram, Static768Dimensions)] += ngramWeight
	}
	return vector
}

// EmbedBatch embeds each text independently.
func (e *StaticEmbedder768) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	e.mu.RLock()
	if e.closed {
		e.mu.RUnlock()
		return nil, fmt.Errorf("embed: embedder is closed")
	}
	e.mu.RUnlock()

	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	results := make([][]float32, len(texts))
	for i, text := range texts {
		emb, err := e.Embed(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("embed: text %d: %w", i, err)
		}
		results[i] = emb
	}
	return results, nil
}

func (e *StaticEmbedder768) Dimensions() int { return Static768Dimensions }

func (e *StaticEmbedder768) ModelName() string { return "static768" }

func (e *StaticEmbedder768) Available(_ context.Context) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return !e.closed
}

func (e *StaticEmbedder768) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}

// SetBatchIndex is a no-op.
func (e *StaticEmbedder768) SetBatchIndex(_ int) {}

// SetFinalBatch is a no-op.
func (e *StaticEmbedder768) SetFinalBatch(_ bool) {}
