package query

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/ggrep/ggrep/internal/config"
	"github.com/ggrep/ggrep/internal/embed"
	"github.com/ggrep/ggrep/internal/snapshot"
)

// Engine executes queries against a store's published snapshots. One
// Engine is shared across every connection the daemon serves for a
// given store; it holds no per-request state.
type Engine struct {
	manager  *snapshot.Manager
	embedder embed.Embedder
	rerank   Reranker
	indexes  *indexCache
	cfg      *config.Config
}

// Option configures an Engine at construction.
type Option func(*Engine)

// WithReranker overrides the default no-op reranker.
func WithReranker(r Reranker) Option {
	return func(e *Engine) {
		if r != nil {
			e.rerank = r
		}
	}
}

// NewEngine builds an Engine bound to manager's store and cfg's
// determinism/admission caps. embedder may be nil; a nil embedder
// disables the vector retrieval leg and the engine serves
// lexical-only results, the same degraded path a dimension mismatch
// takes.
func NewEngine(manager *snapshot.Manager, embedder embed.Embedder, cfg *config.Config, opts ...Option) (*Engine, error) {
	cache, err := newIndexCache(4)
	if err != nil {
		return nil, err
	}
	e := &Engine{
		manager:  manager,
		embedder: embedder,
		rerank:   noopReranker{},
		indexes:  cache,
		cfg:      cfg,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Execute runs one query end to end: pin, retrieve, score, quota,
// order, cap, and shape. Admission (queue/semaphore) is the daemon's
// responsibility and must have already granted this call a permit;
// Execute's own job starts at snapshot pinning.
func (e *Engine) Execute(ctx context.Context, req Request) (*Response, error) {
	retrieveStart := time.Now()

	q := strings.TrimSpace(req.Query)
	if q == "" {
		return nil, &Error{Code: ErrInvalidRequest, Message: "query must not be empty"}
	}
	if strings.Contains(req.PathScope, "..") || strings.HasPrefix(req.PathScope, "/") {
		return nil, &Error{Code: ErrInvalidRequest, Message: "path scope must be a relative, in-root path"}
	}

	view, err := e.manager.Open()
	if err != nil {
		return nil, &Error{Code: ErrInternal, Message: "open snapshot", Cause: err}
	}
	release := view.Borrow()
	defer release()
	defer view.Close()

	caps := resolveCaps(req.Caps, e.cfg)
	mode := req.Mode
	if mode == "" {
		mode = ModeBalanced
	}

	vi, err := e.indexes.get(view)
	if err != nil {
		return nil, &Error{Code: ErrInternal, Message: "build retrieval index", Cause: err}
	}

	select {
	case <-ctx.Done():
		return nil, ctxErr(ctx)
	default:
	}

	limit := req.MaxResults
	if limit <= 0 || limit > caps.MaxCandidates {
		limit = caps.MaxCandidates
	}
	fetchLimit := limit * 4
	if fetchLimit < 50 {
		fetchLimit = 50
	}

	lexResults, err := vi.searchLexical(ctx, q, fetchLimit)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctxErr(ctx)
		}
		return nil, &Error{Code: ErrInternal, Message: "lexical search", Cause: err}
	}

	var vecResults []vectorResult
	if e.embedder != nil {
		if err := ctx.Err(); err != nil {
			return nil, ctxErr(ctx)
		}
		embedQuery := formatQueryForEmbedding(q)
		vec, err := e.embedder.Embed(ctx, embedQuery)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctxErr(ctx)
			}
			// Embedding failure degrades to lexical-only rather than
			// failing the whole query.
			vecResults = nil
		} else {
			vecResults = vi.searchVector(vec, fetchLimit)
		}
	}

	weights := classify(q)
	rrfK := DefaultRRFConstant
	if e.cfg != nil && e.cfg.Search.RRFConstant > 0 {
		rrfK = e.cfg.Search.RRFConstant
	}
	fusedRows := rrfFuse(rrfK, lexResults, vecResults, weights)

	retrieveMs := time.Since(retrieveStart).Milliseconds()
	rankStart := time.Now()

	cands := make([]*candidate, 0, len(fusedRows))
	for _, f := range fusedRows {
		row, ok := vi.row(f.RowID)
		if !ok {
			continue
		}
		if req.PathScope != "" && !strings.HasPrefix(row.PathKey, req.PathScope) {
			continue
		}
		if row.IsAnchor && !req.IncludeAnchor {
			continue
		}
		cands = append(cands, &candidate{
			fused:     *f,
			pathKey:   row.PathKey,
			pathKeyCI: row.PathKeyCI,
			startLine: row.StartLine,
			endLine:   row.EndLine,
			byteStart: row.ByteStart,
			ordinal:   row.Ordinal,
			isAnchor:  row.IsAnchor,
			kind:      string(row.Kind),
			language:  row.Language,
			text:      row.Text,
		})
	}

	cands = dedupeByPathAndLine(cands)
	applyStructuralBoosts(cands)

	if req.Rerank && len(cands) > 0 {
		topK := cands
		if len(topK) > 50 {
			topK = topK[:50]
		}
		texts := make([]string, len(topK))
		for i, c := range topK {
			texts[i] = c.text
		}
		if scores, err := e.rerank.Rerank(ctx, q, texts); err == nil && len(scores) == len(topK) {
			for i, c := range topK {
				c.RRFScore = scores[i]
			}
		}
	}

	orderCandidates(cands)

	quota := quotaFor(mode, limit)
	cands = applyPerFileQuota(cands, quota.PerFile)

	confidence := confidenceFrom(cands)

	var limitsHit []string
	if len(cands) > caps.MaxCandidates {
		cands = cands[:caps.MaxCandidates]
		limitsHit = append(limitsHit, "max_candidates")
	}

	rankMs := time.Since(rankStart).Milliseconds()
	formatStart := time.Now()

	results := make([]Result, 0, len(cands))
	var totalSnippetBytes int
	for _, c := range cands {
		text := c.text
		if req.Snippet == SnippetNone {
			text = ""
		}
		if !req.Raw {
			text = sanitize(text)
		}
		if caps.MaxSnippetBytesPerResult > 0 && len(text) > caps.MaxSnippetBytesPerResult {
			text = text[:caps.MaxSnippetBytesPerResult]
			if !hasLimit(limitsHit, "max_snippet_bytes_per_result") {
				limitsHit = append(limitsHit, "max_snippet_bytes_per_result")
			}
		}
		if caps.MaxTotalSnippetBytes > 0 && totalSnippetBytes+len(text) > caps.MaxTotalSnippetBytes {
			remaining := caps.MaxTotalSnippetBytes - totalSnippetBytes
			if remaining < 0 {
				remaining = 0
			}
			text = text[:remaining]
			if !hasLimit(limitsHit, "max_total_snippet_bytes") {
				limitsHit = append(limitsHit, "max_total_snippet_bytes")
			}
		}
		totalSnippetBytes += len(text)

		path := c.pathKey
		if !req.Raw {
			path = sanitizePath(path)
		}

		reason, matchReason := reasonFor(c)
		var explain *ResultExplain
		if req.Explain {
			explain = &ResultExplain{
				BM25Score:    c.BM25Score,
				BM25Rank:     c.BM25Rank,
				VectorScore:  c.VecScore,
				VectorRank:   c.VecRank,
				FusedScore:   c.RRFScore,
				InBothLists:  c.InBothLists,
				MatchedTerms: c.MatchedTerms,
			}
		}
		results = append(results, Result{
			Path:        path,
			StartLine:   c.startLine,
			NumLines:    lineCount(c.startLine, c.endLine),
			ChunkType:   snapshot.RowKind(c.kind),
			IsAnchor:    c.isAnchor,
			Score:       c.RRFScore,
			Content:     text,
			Reason:      reason,
			MatchReason: matchReason,
			Explain:     explain,
			rowID:       c.RowID,
			pathKey:     c.pathKey,
			byteStart:   c.byteStart,
			ordinal:     c.ordinal,
		})
	}

	formatMs := time.Since(formatStart).Milliseconds()

	sort.Strings(limitsHit)

	// Recoverable conditions ride along as warnings on a successful
	// response; a degraded active snapshot is the blessed one here.
	var warnings []string
	if view.Manifest().Degraded {
		warnings = append(warnings, "degraded_snapshot")
	}
	sort.Strings(warnings)

	return &Response{
		SnapshotID: view.Manifest().SnapshotID,
		Git:        view.Manifest().Git,
		Mode:       mode,
		Limits:     caps,
		LimitsHit:  limitsHit,
		Warnings:   warnings,
		Timings:    Timings{Retrieve: retrieveMs, Rank: rankMs, Format: formatMs},
		Confidence: confidence,
		Results:    results,
	}, nil
}

func resolveCaps(req Caps, cfg *config.Config) Caps {
	caps := req
	if cfg == nil {
		if caps.MaxCandidates <= 0 {
			caps.MaxCandidates = 50
		}
		return caps
	}
	hardCap := cfg.Determinism.MaxResultsHardCap
	if caps.MaxCandidates <= 0 || caps.MaxCandidates > hardCap {
		caps.MaxCandidates = hardCap
	}
	if caps.MaxSnippetBytesPerResult <= 0 {
		caps.MaxSnippetBytesPerResult = cfg.Determinism.MaxBytesPerResult
	}
	if caps.MaxTotalSnippetBytes <= 0 {
		caps.MaxTotalSnippetBytes = cfg.Determinism.MaxBytesPerResult * hardCap
	}
	if caps.MaxOpenSegmentsPerQuery <= 0 {
		caps.MaxOpenSegmentsPerQuery = 64
	}
	return caps
}

func hasLimit(limits []string, name string) bool {
	for _, l := range limits {
		if l == name {
			return true
		}
	}
	return false
}

func lineCount(start, end int) int {
	if end < start {
		return 1
	}
	return end - start + 1
}

func reasonFor(c *candidate) (reason, matchReason string) {
	switch {
	case c.BM25Rank > 0 && c.VecRank > 0:
		return "hybrid match", "lexical+semantic"
	case c.BM25Rank > 0:
		return "keyword match", "lexical"
	case c.VecRank > 0:
		return "semantic match", "vector"
	default:
		return "", ""
	}
}

func ctxErr(ctx context.Context) *Error {
	if ctx.Err() == context.DeadlineExceeded {
		return &Error{Code: ErrTimeout, Message: "query deadline exceeded", Cause: ctx.Err()}
	}
	return &Error{Code: ErrCancelled, Message: "query cancelled", Cause: ctx.Err()}
}

const qwen3QueryInstruction = "Instruct: Given a code search query, retrieve relevant code snippets that answer the query\nQuery:"

func formatQueryForEmbedding(q string) string {
	return qwen3QueryInstruction + q
}
