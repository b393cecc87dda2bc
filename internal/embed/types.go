// Package embed supplies the Embedder collaborator: text in, a
// fixed-length unit vector out. The snapshot pipeline treats an
// Embedder as opaque; everything identity-relevant about it (model
// name, dimensions) is folded into the store's config fingerprint by
// the identity package, and its outputs are cached keyed by
// (embed config fingerprint, chunk hash).
package embed

import (
	"context"
	"math"
	"time"
)

const (
	MinBatchSize     = 1
	MaxBatchSize     = 256 // bounds request memory
	DefaultBatchSize = 32

	// DefaultTimeout is kept for callers that cannot distinguish warm
	// from cold; prefer the specific pair below.
	DefaultTimeout = 60 * time.Second

	// Warm/cold request timeouts. Cold covers the backend loading the
	// model into memory; warm is sized generously because sustained
	// indexing can thermally throttle a laptop GPU to a fraction of
	// its initial throughput.
	DefaultWarmTimeout = 120 * time.Second
	DefaultColdTimeout = 180 * time.Second

	// ModelUnloadThreshold is how long a backend keeps an idle model
	// loaded; after this, assume the next request pays the cold cost.
	ModelUnloadThreshold = 5 * time.Minute

	DefaultMaxRetries = 3
)

// Thermal pacing knobs. Long sync runs heat the machine; timeouts can
// grow with batch position, and an optional inter-batch delay lets the
// GPU cool.
const (
	DefaultInterBatchDelay = 0 * time.Millisecond
	MaxInterBatchDelay     = 5 * time.Second

	// Timeout multiplier applied per 1000 chunks processed. 1.0
	// disables progression.
	DefaultTimeoutProgression = 1.5
	MaxTimeoutProgression     = 3.0

	// Timeout multiplier applied per retry attempt. 1.0 disables.
	DefaultRetryTimeoutMultiplier = 1.0
	MaxRetryTimeoutMultiplier     = 2.0
)

// Defaults for the standard model.
const (
	DefaultDimensions = 768
	DefaultContext    = 2048
)

// StaticDimensions is the dimension of the hash-based offline embedder.
const StaticDimensions = 256

// Embedder is the capability the sync pipeline and query engine
// consume. Implementations must be deterministic per (model, text):
// re-embedding an unchanged chunk must reproduce the cached vector
// bit-for-bit, or the idempotent-reindex law breaks.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions is the fixed output vector length.
	Dimensions() int

	// ModelName identifies the model; it participates in the config
	// fingerprint.
	ModelName() string

	// Available reports whether the backend can serve requests now.
	Available(ctx context.Context) bool

	Close() error

	// SetBatchIndex positions the thermal timeout progression, so a
	// resumed sync continues with the timeout its batch position has
	// earned rather than restarting cold.
	SetBatchIndex(idx int)

	// SetFinalBatch widens the timeout for the last batch, which runs
	// at peak thermal load.
	SetFinalBatch(isFinal bool)
}

// normalizeVector scales v to unit length; zero vectors pass through.
func normalizeVector(v []float32) []float32 {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}
	magnitude := math.Sqrt(sumSquares)
	if magnitude == 0 {
		return v
	}
	normalized := make([]float32, len(v))
	for i, val := range v {
		normalized[i] = float32(float64(val) / magnitude)
	}
	return normalized
}
