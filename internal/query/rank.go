package query

import (
	"sort"
	"strings"
)

// Structural boost constants: a test file's score is halved so its
// duplicated method signatures don't outrank the real implementation,
// and internal/ implementation code is favored over cmd/ wrapper code.
const (
	testFilePenalty   = 0.5
	internalPathBoost = 1.3
	cmdPathPenalty    = 0.6
)

// candidate is a fused row carrying enough metadata to rank, boost,
// quota, and cap it without a second snapshot lookup.
type candidate struct {
	fused
	pathKey   string
	pathKeyCI string
	startLine int
	endLine   int
	byteStart int64
	ordinal   int
	isAnchor  bool
	kind      string
	language  string
	text      string
}

// applyStructuralBoosts adjusts RRFScore in place. Must run before the
// deterministic sort in orderCandidates, since it changes the primary
// sort key.
func applyStructuralBoosts(cands []*candidate) {
	for _, c := range cands {
		if isTestFile(c.pathKey) {
			c.RRFScore *= testFilePenalty
		}
		if isImplementationPath(c.pathKey) {
			c.RRFScore *= internalPathBoost
		}
		if isWrapperPath(c.pathKey) {
			c.RRFScore *= cmdPathPenalty
		}
	}
}

func isTestFile(path string) bool {
	if strings.HasSuffix(path, "_test.go") {
		return true
	}
	if strings.Contains(path, ".test.") || strings.Contains(path, ".spec.") {
		return true
	}
	name := path
	if idx := strings.LastIndex(path, "/"); idx >= 0 {
		name = path[idx+1:]
	}
	if strings.HasPrefix(name, "test_") && strings.HasSuffix(name, ".py") {
		return true
	}
	if strings.HasSuffix(name, "_test.py") {
		return true
	}
	if strings.Contains(path, "/test/") || strings.Contains(path, "/tests/") ||
		strings.HasPrefix(path, "test/") || strings.HasPrefix(path, "tests/") {
		return true
	}
	return false
}

func isImplementationPath(path string) bool {
	return strings.HasPrefix(path, "internal/") || strings.Contains(path, "/internal/")
}

func isWrapperPath(path string) bool {
	return strings.HasPrefix(path, "cmd/") || strings.Contains(path, "/cmd/")
}

// orderCandidates applies the deterministic tie-break chain: primary
// score desc, secondary score (the list a row was NOT primarily driven
// by) desc, path_key asc, start offset asc (ordinal when byte offsets
// are absent), row_id asc. Two queries against the same snapshot must
// always produce the same order.
func orderCandidates(cands []*candidate) {
	sort.SliceStable(cands, func(i, j int) bool {
		a, b := cands[i], cands[j]
		if a.RRFScore != b.RRFScore {
			return a.RRFScore > b.RRFScore
		}
		as, bs := secondaryScore(a), secondaryScore(b)
		if as != bs {
			return as > bs
		}
		if a.pathKey != b.pathKey {
			return a.pathKey < b.pathKey
		}
		if a.byteStart != b.byteStart {
			return a.byteStart < b.byteStart
		}
		if a.ordinal != b.ordinal {
			return a.ordinal < b.ordinal
		}
		return a.RowID < b.RowID
	})
}

func secondaryScore(c *candidate) float64 {
	if c.BM25Score > 0 {
		return c.BM25Score
	}
	return c.VecScore
}

// confidenceFrom computes a relative-separation signal from the
// ordered score list rather than an absolute cutoff: a query whose top
// result dominates the runner-up is "strong" regardless of what the
// raw RRF magnitude happens to be, and a flat distribution is "weak"
// or "none" even if every score is numerically high.
func confidenceFrom(cands []*candidate) Confidence {
	if len(cands) == 0 {
		return ConfidenceNone
	}
	if len(cands) == 1 {
		if cands[0].RRFScore > 0 {
			return ConfidenceWeak
		}
		return ConfidenceNone
	}
	top, second := cands[0].RRFScore, cands[1].RRFScore
	if top <= 0 {
		return ConfidenceNone
	}
	ratio := second / top
	switch {
	case ratio <= 0.5:
		return ConfidenceStrong
	case ratio <= 0.85:
		return ConfidenceWeak
	default:
		return ConfidenceNone
	}
}

// quota describes how many results a mode profile allows, per bucket
// and in total, and the per-file cap applied across the merged output.
type quota struct {
	MaxResults int
	PerFile    int
}

// quotaFor selects the per-mode result quota. Discovery favors breadth
// (more files, fewer per file); implementation favors depth on fewer,
// more certain files; debug widens both since the caller is trying to
// find a needle.
func quotaFor(mode Mode, requested int) quota {
	q := quota{MaxResults: requested, PerFile: 3}
	switch mode {
	case ModeDiscovery:
		q.PerFile = 1
	case ModeImplementation:
		q.PerFile = 5
	case ModePlanning:
		q.PerFile = 2
	case ModeDebug:
		q.PerFile = 8
	case ModeBalanced, "":
		q.PerFile = 3
	}
	return q
}

// applyPerFileQuota drops rows beyond perFile per path_key, preserving
// the incoming (already score-ordered) relative order within and
// across files.
func applyPerFileQuota(cands []*candidate, perFile int) []*candidate {
	if perFile <= 0 {
		return cands
	}
	counts := make(map[string]int, len(cands))
	out := make([]*candidate, 0, len(cands))
	for _, c := range cands {
		if counts[c.pathKey] >= perFile {
			continue
		}
		counts[c.pathKey]++
		out = append(out, c)
	}
	return out
}

// dedupeByPathAndLine collapses candidates that share (path_key,
// start_line): the vector and lexical retrieval passes can surface the
// same row twice as dense and sparse hits of the same underlying
// chunk, which must count once against quotas and caps.
func dedupeByPathAndLine(cands []*candidate) []*candidate {
	type key struct {
		path string
		line int
	}
	seen := make(map[key]bool, len(cands))
	out := make([]*candidate, 0, len(cands))
	for _, c := range cands {
		k := key{c.pathKey, c.startLine}
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, c)
	}
	return out
}
