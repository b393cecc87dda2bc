package embed

import (
	"context"
	"fmt"
	"hash/fnv"
	"regexp"
	"strings"
	"sync"
	"unicode"
)

// StaticEmbedder is a deterministic 256-dim offline embedder: vectors
// are pure functions of the input text, built from hashed tokens and
// character n-grams. No network, no model files. The factory's static
// provider and --offline use StaticEmbedder768, which shares this
// pipeline at 768 dimensions.
type StaticEmbedder struct {
	mu     sync.RWMutex
	closed bool
}

// programmingStopWords drop the keywords that appear in nearly every
// chunk and would otherwise dominate the hashed dimensions.
var programmingStopWords = map[string]bool{
	"func": true, "function": true, "def": true, "class": true,
	"return": true, "import": true, "const": true, "var": true,
	"let": true, "int": true, "string": true, "bool": true,
	"void": true, "true": true, "false": true, "nil": true,
	"null": true, "this": true, "self": true, "new": true,
}

// Token hits weigh more than n-gram hits; n-grams exist to give
// near-miss identifiers some overlap.
const (
	tokenWeight = 0.7
	ngramWeight = 0.3
	ngramSize   = 3
)

var tokenRegex = regexp.MustCompile(`[a-zA-Z0-9]+`)

// NewStaticEmbedder returns a ready StaticEmbedder.
func NewStaticEmbedder() *StaticEmbedder {
	return &StaticEmbedder{}
}

// Embed hashes text into a unit vector. Whitespace-only input embeds
// to the zero vector.
func (e *StaticEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	e.mu.RLock()
	if e.closed {
		e.mu.RUnlock()
		return nil, fmt.Errorf("embed: embedder is closed")
	}
	e.mu.RUnlock()

	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return make([]float32, StaticDimensions), nil
	}
	return normalizeVector(e.generateVector(trimmed)), nil
}

func (e *StaticEmbedder) generateVector(text string) []float32 {
	vector := make([]float32, StaticDimensions)

	for _, token := range filterStopWords(tokenize(text)) {
		vector[hashToIndex(token, StaticDimensions)] += tokenWeight
	}

	normalized := normalizeForNgrams(text)
	for _, ngram := range extractNgrams(normalized, ngramSize) {
		vector[hashToIndex(ngram, StaticDimensions)] += ngramWeight
	}
	return vector
}

// tokenize lowercases and splits identifiers the way a reader would:
// on word boundaries, then snake_case underscores, then camelCase
// humps.
func tokenize(text string) []string {
	var tokens []string
	for _, word := range tokenRegex.FindAllString(text, -1) {
		for _, t := range splitCodeToken(word) {
			if lower := strings.ToLower(t); lower != "" {
				tokens = append(tokens, lower)
			}
		}
	}
	return tokens
}

func splitCodeToken(token string) []string {
	if strings.Contains(token, "_") {
		var result []string
		for _, part := range strings.Split(token, "_") {
			if part != "" {
				result = append(result, splitCamelCase(part)...)
			}
		}
		return result
	}
	return splitCamelCase(token)
}

// splitCamelCase breaks at lower→Upper transitions and at the end of
// acronym runs ("HTTPServer" → "HTTP", "Server"). Always returns a
// non-nil slice.
func splitCamelCase(s string) []string {
	if s == "" {
		return []string{}
	}

	var result []string
	var current strings.Builder

	runes := []rune(s)
	for i, r := range runes {
		if i > 0 && unicode.IsUpper(r) {
			prevIsLower := unicode.IsLower(runes[i-1])
			nextIsLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
			if prevIsLower || nextIsLower {
				if current.Len() > 0 {
					result = append(result, current.String())
					current.Reset()
				}
			}
		}
		current.WriteRune(r)
	}
	if current.Len() > 0 {
		result = append(result, current.String())
	}
	return result
}

func filterStopWords(tokens []string) []string {
	var filtered []string
	for _, t := range tokens {
		if !programmingStopWords[t] {
			filtered = append(filtered, t)
		}
	}
	return filtered
}

// normalizeForNgrams strips everything but letters and digits so
// n-grams span punctuation.
func normalizeForNgrams(text string) string {
	var result strings.Builder
	for _, r := range strings.ToLower(text) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			result.WriteRune(r)
		}
	}
	return result.String()
}

// extractNgrams slides an n-byte window over text. Always returns a
// non-nil slice.
func extractNgrams(text string, n int) []string {
	if len(text) < n {
		return []string{}
	}
	ngrams := make([]string, 0, len(text)-n+1)
	for i := 0; i <= len(text)-n; i++ {
		ngrams = append(ngrams, text[i:i+n])
	}
	return ngrams
}

func hashToIndex(s string, size int) int {
	h := fnv.New64()
	_, _ = h.Write([]byte(s))
	return int(h.Sum64() % uint64(size))
}

// EmbedBatch embeds each text independently; there is no per-batch
// state to amortize.
func (e *StaticEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
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

func (e *StaticEmbedder) Dimensions() int { return StaticDimensions }

func (e *StaticEmbedder) ModelName() string { return "static" }

// Available is true until Close; there is no backend to probe.
func (e *StaticEmbedder) Available(_ context.Context) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return !e.closed
}

func (e *StaticEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}

// SetBatchIndex is a no-op; hashing has no thermal profile.
func (e *StaticEmbedder) SetBatchIndex(_ int) {}

// SetFinalBatch is a no-op.
func (e *StaticEmbedder) SetFinalBatch(_ bool) {}
