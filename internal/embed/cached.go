package embed

import (
	"context"
	"crypto/sha256"
	"encoding/hex"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultEmbeddingCacheSize bounds the process-local embedding cache.
// At 768 dims × 4 bytes × 1000 entries the cache costs about 3 MiB.
const DefaultEmbeddingCacheSize = 1000

// CachedEmbedder is the process-local LRU in front of a real backend.
// The key binds (model, text); the in-memory analogue of the on-disk
// cache's (embed config fingerprint, chunk hash) key; so swapping
// models can never serve a stale vector.
type CachedEmbedder struct {
	inner Embedder
	cache *lru.Cache[string, []float32]
}

// NewCachedEmbedder wraps inner with an LRU of cacheSize entries;
// non-positive sizes take the default.
func NewCachedEmbedder(inner Embedder, cacheSize int) *CachedEmbedder {
	if cacheSize <= 0 {
		cacheSize = DefaultEmbeddingCacheSize
	}
	cache, _ := lru.New[string, []float32](cacheSize)
	return &CachedEmbedder{inner: inner, cache: cache}
}

// NewCachedEmbedderWithDefaults wraps inner with the default size.
func NewCachedEmbedderWithDefaults(inner Embedder) *CachedEmbedder {
	return NewCachedEmbedder(inner, DefaultEmbeddingCacheSize)
}

func (c *CachedEmbedder) cacheKey(text string) string {
	combined := text + "\x00" + c.inner.ModelName()
	hash := sha256.Sum256([]byte(combined))
	return hex.EncodeToString(hash[:])
}

// Embed serves from cache when possible, otherwise computes through
// the backend and caches the result.
func (c *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	key := c.cacheKey(text)
	if vec, ok := c.cache.Get(key); ok {
		return vec, nil
	}

	vec, err := c.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	c.cache.Add(key, vec)
	return vec, nil
}

// EmbedBatch checks each text individually, then sends only the misses
// to the backend in one batch, so a mostly-unchanged file pays for its
// changed chunks only.
func (c *CachedEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	results := make([][]float32, len(texts))
	missIndices := make([]int, 0, len(texts))
	missTexts := make([]string, 0, len(texts))

	for i, text := range texts {
		if vec, ok := c.cache.Get(c.cacheKey(text)); ok {
			results[i] = vec
		} else {
			missIndices = append(missIndices, i)
			missTexts = append(missTexts, text)
		}
	}
	if len(missTexts) == 0 {
		return results, nil
	}

	fresh, err := c.inner.EmbedBatch(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	for j, idx := range missIndices {
		results[idx] = fresh[j]
		c.cache.Add(c.cacheKey(texts[idx]), fresh[j])
	}
	return results, nil
}

func (c *CachedEmbedder) Dimensions() int { return c.inner.Dimensions() }

func (c *CachedEmbedder) ModelName() string { return c.inner.ModelName() }

func (c *CachedEmbedder) Available(ctx context.Context) bool { return c.inner.Available(ctx) }

func (c *CachedEmbedder) Close() error { return c.inner.Close() }

// Inner exposes the wrapped embedder for callers needing
// backend-specific features (progress callbacks) outside the Embedder
// interface.
func (c *CachedEmbedder) Inner() Embedder { return c.inner }

func (c *CachedEmbedder) SetBatchIndex(idx int) { c.inner.SetBatchIndex(idx) }

func (c *CachedEmbedder) SetFinalBatch(isFinal bool) { c.inner.SetFinalBatch(isFinal) }
