package query

import "sort"

// DefaultRRFConstant is the standard RRF smoothing parameter (k=60,
// the value used by Azure AI Search and OpenSearch).
const DefaultRRFConstant = 60

// fused is one row's state after reciprocal rank fusion.
type fused struct {
	RowID        string
	RRFScore     float64
	BM25Score    float64
	BM25Rank     int
	VecScore     float64
	VecRank      int
	InBothLists  bool
	MatchedTerms []string
}

// rrfFuse combines lexical and vector result lists with Reciprocal Rank
// Fusion: RRF_score(d) = sum(weight_i / (k + rank_i)). A row missing
// from one list is charged that list's contribution at
// max(len(bm25),len(vec))+1, the standard RRF treatment of an absent
// candidate rather than a zero score.
func rrfFuse(k int, bm25 []bm25Result, vec []vectorResult, w Weights) []*fused {
	if k <= 0 {
		k = DefaultRRFConstant
	}
	if len(bm25) == 0 && len(vec) == 0 {
		return nil
	}

	byID := make(map[string]*fused, len(bm25)+len(vec))
	get := func(id string) *fused {
		if f, ok := byID[id]; ok {
			return f
		}
		f := &fused{RowID: id}
		byID[id] = f
		return f
	}

	for rank, r := range bm25 {
		f := get(r.RowID)
		f.BM25Score = r.Score
		f.BM25Rank = rank + 1
		f.MatchedTerms = r.MatchedTerms
		f.RRFScore += w.BM25 / float64(k+rank+1)
	}
	for rank, r := range vec {
		f := get(r.RowID)
		f.VecScore = float64(r.Score)
		f.VecRank = rank + 1
		f.RRFScore += w.Semantic / float64(k+rank+1)
		if f.BM25Rank > 0 {
			f.InBothLists = true
		}
	}

	missingRank := len(bm25) + 1
	if len(vec) > len(bm25) {
		missingRank = len(vec) + 1
	}
	for _, f := range byID {
		if f.BM25Rank == 0 && f.VecRank > 0 {
			f.RRFScore += w.BM25 / float64(k+missingRank)
		}
		if f.VecRank == 0 && f.BM25Rank > 0 {
			f.RRFScore += w.Semantic / float64(k+missingRank)
		}
	}

	out := make([]*fused, 0, len(byID))
	for _, f := range byID {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return rrfLess(out[i], out[j]) })

	if len(out) > 0 && out[0].RRFScore > 0 {
		max := out[0].RRFScore
		for _, f := range out {
			f.RRFScore /= max
		}
	}
	return out
}

// rrfLess orders by RRF score desc, then in-both-lists, then BM25
// score desc, then RowID asc - the last tie-break is what makes this
// stage deterministic on an exact score tie. Final result ordering
// additionally applies the path_key/offset/row_id tie-break chain in
// rank.go after structural boosts are applied.
func rrfLess(a, b *fused) bool {
	if a.RRFScore != b.RRFScore {
		return a.RRFScore > b.RRFScore
	}
	if a.InBothLists != b.InBothLists {
		return a.InBothLists
	}
	if a.BM25Score != b.BM25Score {
		return a.BM25Score > b.BM25Score
	}
	return a.RowID < b.RowID
}
