package query

import "context"

// Reranker rescores a top-K candidate set with a model more expensive
// than per-row RRF fusion, e.g. a cross-encoder that jointly encodes
// the query and each candidate's text.
type Reranker interface {
	Rerank(ctx context.Context, query string, texts []string) ([]float64, error)
}

// noopReranker leaves fused order untouched. It is the default: a
// cross-encoder model is an optional dependency most installs will not
// have, and the profile contract (spec step 4) treats reranking as
// something the profile "allows", not something it requires.
type noopReranker struct{}

func (noopReranker) Rerank(_ context.Context, _ string, texts []string) ([]float64, error) {
	scores := make([]float64, len(texts))
	for i := range scores {
		scores[i] = 1.0 - float64(i)*0.001
	}
	return scores, nil
}
