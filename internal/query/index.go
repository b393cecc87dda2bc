package query

import (
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/search"
	"github.com/coder/hnsw"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/ggrep/ggrep/internal/snapshot"
)

// bm25Result is one lexical hit. The query engine builds its lexical
// index ephemerally from a SnapshotView rather than maintaining a
// persistent one, so segment artifacts stay the single source of rows.
type bm25Result struct {
	RowID        string
	Score        float64
	MatchedTerms []string
}

// vectorResult is one ANN hit.
type vectorResult struct {
	RowID    string
	Distance float32
	Score    float32
}

// viewIndex is the pair of ephemeral lexical and vector indexes built
// from one SnapshotView's live rows. Built lazily on first use and
// cached by snapshot id, since rebuilding per request would make every
// query pay full index-construction cost.
type viewIndex struct {
	bleve bleve.Index
	hnsw  *hnsw.Graph[uint64]

	mu      sync.RWMutex
	rowByID map[string]uint64 // row_id -> hnsw key
	idByKey map[uint64]string // hnsw key -> row_id
	rows    map[string]snapshot.ChunkRow

	// dims is the stored embedding width; a query vector of any other
	// width is a config mismatch and the vector leg declines to run.
	dims int
}

// indexCache holds one viewIndex per recently-queried snapshot. Sized
// small: a daemon typically serves one or two distinct snapshot
// generations at a time (the previous one draining in-flight readers
// while a new one is current).
type indexCache struct {
	cache *lru.Cache[int64, *viewIndex]
}

func newIndexCache(size int) (*indexCache, error) {
	if size <= 0 {
		size = 4
	}
	c, err := lru.New[int64, *viewIndex](size)
	if err != nil {
		return nil, fmt.Errorf("query: new index cache: %w", err)
	}
	return &indexCache{cache: c}, nil
}

// get returns the viewIndex for view's snapshot, building it on first
// reference.
func (c *indexCache) get(view *snapshot.SnapshotView) (*viewIndex, error) {
	id := view.Manifest().SnapshotID
	if vi, ok := c.cache.Get(id); ok {
		return vi, nil
	}
	vi, err := buildViewIndex(view)
	if err != nil {
		return nil, err
	}
	c.cache.Add(id, vi)
	return vi, nil
}

func buildViewIndex(view *snapshot.SnapshotView) (*viewIndex, error) {
	mapping := bleve.NewIndexMapping()
	idx, err := bleve.NewMemOnly(mapping)
	if err != nil {
		return nil, fmt.Errorf("query: new lexical index: %w", err)
	}

	graph := hnsw.NewGraph[uint64]()
	graph.Distance = hnsw.CosineDistance

	vi := &viewIndex{
		bleve:   idx,
		hnsw:    graph,
		rowByID: make(map[string]uint64),
		idByKey: make(map[uint64]string),
		rows:    make(map[string]snapshot.ChunkRow),
	}

	rows := view.Rows()
	batch := idx.NewBatch()
	var key uint64
	for _, row := range rows {
		vi.rows[row.RowID] = row
		if err := batch.Index(row.RowID, struct {
			Content string `json:"content"`
		}{Content: row.Text}); err != nil {
			return nil, fmt.Errorf("query: index row %s: %w", row.RowID, err)
		}
		if len(row.Embedding) > 0 {
			if vi.dims == 0 {
				vi.dims = len(row.Embedding)
			}
			vec := make([]float32, len(row.Embedding))
			copy(vec, row.Embedding)
			normalizeVectorInPlace(vec)
			graph.Add(hnsw.MakeNode(key, vec))
			vi.rowByID[row.RowID] = key
			vi.idByKey[key] = row.RowID
			key++
		}
	}
	if err := idx.Batch(batch); err != nil {
		return nil, fmt.Errorf("query: batch index: %w", err)
	}

	return vi, nil
}

func (vi *viewIndex) row(rowID string) (snapshot.ChunkRow, bool) {
	vi.mu.RLock()
	defer vi.mu.RUnlock()
	r, ok := vi.rows[rowID]
	return r, ok
}

func (vi *viewIndex) searchLexical(ctx context.Context, query string, limit int) ([]bm25Result, error) {
	if query == "" || limit <= 0 {
		return nil, nil
	}
	q := bleve.NewMatchQuery(query)
	q.SetField("content")
	req := bleve.NewSearchRequestOptions(q, limit, 0, false)
	req.Fields = []string{"content"}
	res, err := vi.bleve.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("query: lexical search: %w", err)
	}
	out := make([]bm25Result, 0, len(res.Hits))
	for _, hit := range res.Hits {
		out = append(out, bm25Result{
			RowID:        hit.ID,
			Score:        hit.Score,
			MatchedTerms: matchedTerms(hit),
		})
	}
	return out, nil
}

func matchedTerms(hit *search.DocumentMatch) []string {
	seen := map[string]bool{}
	var terms []string
	for _, locs := range hit.Locations {
		for term := range locs {
			if !seen[term] {
				seen[term] = true
				terms = append(terms, term)
			}
		}
	}
	return terms
}

func (vi *viewIndex) searchVector(query []float32, k int) []vectorResult {
	if len(query) == 0 || k <= 0 || vi.hnsw.Len() == 0 {
		return nil
	}
	// A width mismatch means the querying embedder is not the one the
	// store was built with; serve lexical-only rather than comparing
	// vectors from different spaces.
	if vi.dims != 0 && len(query) != vi.dims {
		return nil
	}
	q := make([]float32, len(query))
	copy(q, query)
	normalizeVectorInPlace(q)

	nodes := vi.hnsw.Search(q, k)
	out := make([]vectorResult, 0, len(nodes))
	vi.mu.RLock()
	defer vi.mu.RUnlock()
	for _, node := range nodes {
		rowID, ok := vi.idByKey[node.Key]
		if !ok {
			continue
		}
		dist := vi.hnsw.Distance(q, node.Value)
		out = append(out, vectorResult{RowID: rowID, Distance: dist, Score: distanceToScore(dist)})
	}
	return out
}

// normalizeVectorInPlace scales v to unit length for cosine search.
func normalizeVectorInPlace(v []float32) {
	var sumSq float64
	for _, x := range v {
		sumSq += float64(x) * float64(x)
	}
	if sumSq == 0 {
		return
	}
	norm := float32(1.0 / math.Sqrt(sumSq))
	for i := range v {
		v[i] *= norm
	}
}

// distanceToScore converts a cosine distance (0-2) into a 0-1
// similarity score, higher is better.
func distanceToScore(distance float32) float32 {
	score := 1 - distance/2
	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}
	return score
}
